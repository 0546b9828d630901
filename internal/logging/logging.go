package logging

import (
	"fmt"
	"path/filepath"
	"time"
)

// LogFilePath builds a log file path using OS-appropriate path separators.
func LogFilePath(logsDir, processName string, startedAt time.Time) string {
	return filepath.Join(
		logsDir,
		fmt.Sprintf("%s.%s.log", processName, startedAt.Format("20060102_150405")),
	)
}
