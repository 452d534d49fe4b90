package relay

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/echochamber/arena/internal/relay"

func meter() metric.Meter {
	return otel.Meter(instrumentationName)
}
