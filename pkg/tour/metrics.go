package tour

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/teslashibe/go-navtest/pkg/tour"

type tourMetrics struct {
	goals    metric.Int64Counter
	distance metric.Float64Counter
}

// newTourMetrics creates the tour counters from mp, or from the otel
// global provider when mp is nil.
func newTourMetrics(mp metric.MeterProvider, logger *slog.Logger) tourMetrics {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	m := mp.Meter(instrumentationName)

	var tm tourMetrics
	var err error
	tm.goals, err = m.Int64Counter(
		"navtest.tour.goals",
		metric.WithDescription("Dispatched goals by outcome"),
	)
	if err != nil {
		logger.Warn("failed to create goals counter", "error", err)
	}
	tm.distance, err = m.Float64Counter(
		"navtest.tour.distance",
		metric.WithDescription("Distance credited to succeeded goals"),
		metric.WithUnit("m"),
	)
	if err != nil {
		logger.Warn("failed to create distance counter", "error", err)
	}
	return tm
}

func (tm tourMetrics) record(ctx context.Context, leg Leg, o Outcome) {
	if tm.goals != nil {
		tm.goals.Add(ctx, 1, metric.WithAttributes(
			attribute.String("outcome", o.Kind.String()),
			attribute.String("waypoint", leg.Waypoint.ID),
		))
	}
	if tm.distance != nil && o.Kind == Succeeded {
		tm.distance.Add(ctx, leg.Distance)
	}
}
