package broadcaster

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/openrp/presence/internal/broadcaster"

// meter returns the global meter for this package. No-op until an OTel
// meter provider is configured.
func meter() metric.Meter {
	return otel.Meter(instrumentationName)
}
