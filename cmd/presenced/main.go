package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"github.com/openrp/presence/internal/auth"
	"github.com/openrp/presence/internal/broadcaster"
	"github.com/openrp/presence/internal/config"
	"github.com/openrp/presence/internal/database"
	"github.com/openrp/presence/internal/dispatcher"
	"github.com/openrp/presence/internal/history"
	"github.com/openrp/presence/internal/hub"
	"github.com/openrp/presence/internal/influx"
	"github.com/openrp/presence/internal/logging"
	"github.com/openrp/presence/internal/monitor"
	"github.com/openrp/presence/internal/normalizer"
	intOtel "github.com/openrp/presence/internal/otel"
	"github.com/openrp/presence/internal/registry"
	"github.com/openrp/presence/internal/sessioncache"
)

// Version and BuildDate can be set at build time via ldflags.
var (
	Version   string = "0.1.0"
	BuildDate string = "unknown"

	processName string = "presenced"
)

func main() {
	startedAt := time.Now()

	configDir := "."
	if len(os.Args) > 1 {
		configDir = os.Args[1]
	}

	// stdout logging until the config is read
	slogManager := logging.NewSlogManager()
	slogManager.Setup(nil, "info", nil)
	logger := slogManager.Logger()

	if err := config.Load(configDir); err != nil {
		logger.Warn("Failed to load config, using defaults!", "error", err)
	} else {
		logger.Info("Loaded config", "dir", configDir)
	}

	logsDir := viper.GetString("logsDir")
	if _, err := os.Stat(logsDir); os.IsNotExist(err) {
		os.MkdirAll(logsDir, 0755)
	}

	logPath := logging.LogFilePath(logsDir, processName, startedAt)
	logFile, err := os.OpenFile(logPath, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		logger.Error("Failed to create/open log file, logging to stdout", "error", err, "path", logPath)
		logFile = nil
	}

	// OTel provider (optional)
	var otelProvider *intOtel.Provider
	otelCfg := config.GetOTelConfig()
	if otelCfg.Enabled {
		otelProvider, err = intOtel.New(intOtel.Config{
			Enabled:      otelCfg.Enabled,
			ServiceName:  otelCfg.ServiceName,
			BatchTimeout: otelCfg.BatchTimeout,
			LogWriter:    logFile,
			Endpoint:     otelCfg.Endpoint,
			Insecure:     otelCfg.Insecure,
		})
		if err != nil {
			logger.Error("Failed to initialize OTel provider", "error", err)
		}
	}

	// re-setup logging with the file and optional OTel bridge
	var logProvider *sdklog.LoggerProvider
	if otelProvider != nil {
		logProvider = otelProvider.LoggerProvider()
	}
	slogManager.Setup(logFile, viper.GetString("logLevel"), logProvider)
	logger = slogManager.Logger()
	slogManager.Context = func() []slog.Attr {
		return []slog.Attr{slog.Duration("uptime", time.Since(startedAt).Round(time.Second))}
	}
	logger.Info("presenced starting", "version", Version, "buildDate", BuildDate, "log", logPath)

	// zerolog for the storage managers
	zlWriter := os.Stdout
	if logFile != nil {
		zlWriter = logFile
	}
	zl := zerolog.New(zlWriter).With().Timestamp().Logger()

	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// session registry
	reg := registry.New(
		registry.WithMaxPlayers(config.GetInt("registry.maxPlayers")),
		registry.WithRetention(time.Duration(config.GetInt("registry.retentionSeconds"))*time.Second),
	)

	// redis session cache
	cacheManager := sessioncache.NewManager(zl.With().Str("component", "redis").Logger())
	var cacheSink broadcaster.CacheSink
	if err := cacheManager.Connect(rootCtx); err != nil {
		logger.Warn("Session cache disabled", "error", err)
	} else {
		cacheSink = cacheManager
	}

	// database and history writer
	dbManager := database.NewManager(zl.With().Str("component", "db").Logger())
	var hist *history.Writer
	var histSink broadcaster.HistorySink
	if err := dbManager.Connect(); err != nil {
		logger.Warn("Database unavailable, session history disabled", "error", err)
	} else {
		if err := dbManager.Setup(); err != nil {
			logger.Error("Database migration failed", "error", err)
		} else {
			flushInterval := time.Duration(config.GetInt("history.flushIntervalSeconds")) * time.Second
			hist = history.NewWriter(dbManager.DB, zl.With().Str("component", "history").Logger(), flushInterval)
			histSink = hist
			go hist.Run(rootCtx)
		}
	}

	// token verifier
	verifier, err := auth.NewHMACVerifier(auth.Config{
		Secret: []byte(config.GetString("auth.jwtSecret")),
		Issuer: config.GetString("auth.issuer"),
	})
	if err != nil {
		logger.Error("Cannot start without auth.jwtSecret", "error", err)
		os.Exit(1)
	}

	// hub and broadcaster; the hub's callbacks close over the
	// broadcaster assigned below, before the listener starts
	var bcast *broadcaster.Broadcaster
	socketHub := hub.New(logger, hub.Callbacks{
		OnConnect:    func(connID string) { bcast.HandleConnect(connID) },
		OnMessage:    func(connID string, data []byte) { bcast.HandleMessage(connID, data) },
		OnDisconnect: func(connID string) { bcast.HandleDisconnect(connID) },
	})

	bcast, err = broadcaster.New(socketHub, verifier, cacheSink, histSink, broadcaster.Config{
		CacheTTL: time.Duration(config.GetInt("cache.ttlSeconds")) * time.Second,
	}, logger)
	if err != nil {
		logger.Error("Failed to create broadcaster", "error", err)
		os.Exit(1)
	}

	// dispatcher and normalizer
	disp, err := dispatcher.New(logging.NewDispatcherLogger(zl.With().Str("component", "dispatch").Logger()))
	if err != nil {
		logger.Error("Failed to create dispatcher", "error", err)
		os.Exit(1)
	}
	norm := normalizer.New(reg, bcast, logger)
	norm.Register(disp)

	// metrics monitor
	influxManager := influx.NewManager(
		zl.With().Str("component", "influx").Logger(),
		filepath.Join(logsDir, "influx_backup.gz"),
	)
	if config.GetBool("influx.enabled") {
		if err := influxManager.Connect(); err != nil {
			logger.Warn("InfluxDB unavailable", "error", err)
		}
	}
	monitorService := monitor.NewService(monitor.Dependencies{
		Sessions:    reg,
		Connections: bcast,
		Events:      disp,
		Metrics:     influxManager,
		Logger:      logger,
		Interval:    time.Duration(config.GetInt("monitor.intervalSeconds")) * time.Second,
	})
	if err := monitorService.Start(); err != nil {
		logger.Error("Failed to start monitor", "error", err)
	}

	// HTTP server: dashboard sockets, host ingest, health
	ing := newIngest(disp, config.GetString("hub.hostSecret"), logger)
	api := newAPI(reg, bcast, hist, config.GetString("hub.hostSecret"), startedAt)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", socketHub.ServeWS)
	mux.HandleFunc("/host", ing.serveHost)
	mux.HandleFunc("/healthz", api.serveHealth)
	mux.HandleFunc("/statz", api.serveStats)
	mux.HandleFunc("/admin/kick", api.serveKick)

	listenAddr := config.GetString("hub.listenAddr")
	srv := &http.Server{
		Addr:              listenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Listening", "addr", listenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server failed", "error", err)
			cancel()
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Info("Shutting down", "signal", sig.String())
	case <-rootCtx.Done():
		logger.Info("Shutting down")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown failed", "error", err)
	}
	monitorService.Stop()
	socketHub.Close()
	cancel()

	if hist != nil {
		hist.Close()
	}
	if err := dbManager.Close(); err != nil {
		logger.Error("Database close failed", "error", err)
	}
	if err := cacheManager.Close(); err != nil {
		logger.Error("Redis close failed", "error", err)
	}
	influxManager.Close()

	if err := slogManager.Flush(shutdownCtx); err != nil {
		logger.Error("Log flush failed", "error", err)
	}
	if otelProvider != nil {
		if err := otelProvider.Shutdown(shutdownCtx); err != nil {
			logger.Error("OTel shutdown failed", "error", err)
		}
	}
	if logFile != nil {
		logFile.Close()
	}
}
