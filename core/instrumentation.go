package orchestration

import (
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const scopeName = "github.com/koscakluka/duet/core"

var (
	tracer = otel.Tracer(scopeName)
	meter  = otel.Meter(scopeName)
	logger = otelslog.NewLogger(scopeName)

	turnsAppended       = counter("duet.turns.appended", "Turns made visible, by origin.")
	generationFailures  = counter("duet.generation.failures", "Generator calls that returned an error.")
	persistenceFailures = counter("duet.persistence.failures", "Visible turns the store did not accept.")
	echoesSuppressed    = counter("duet.broadcast.suppressed", "Broadcast turns dropped as echoes or duplicates.")
	subscriptionsLost   = counter("duet.broadcast.lost", "Broadcast streams that ended and had to be reopened.")
)

func counter(name, description string) metric.Int64Counter {
	c, err := meter.Int64Counter(name, metric.WithDescription(description))
	if err != nil {
		otel.Handle(err)
		return noop.Int64Counter{}
	}
	return c
}
