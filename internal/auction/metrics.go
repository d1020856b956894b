package auction

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type metrics struct {
	bidsPlaced    metric.Int64Counter
	bidsRejected  metric.Int64Counter
	cascadeSteps  metric.Int64Histogram
	itemsArchived metric.Int64Counter
}

func newMetrics(mp metric.MeterProvider) (*metrics, error) {
	meter := mp.Meter(instrumentationName)
	var (
		m    metrics
		errs []error
		err  error
	)
	m.bidsPlaced, err = meter.Int64Counter("auction.bids.placed",
		metric.WithDescription("Bids committed to the ledger."))
	errs = append(errs, err)
	m.bidsRejected, err = meter.Int64Counter("auction.bids.rejected",
		metric.WithDescription("Bid and auto-bid requests rejected by validation."))
	errs = append(errs, err)
	m.cascadeSteps, err = meter.Int64Histogram("auction.cascade.steps",
		metric.WithDescription("Synthetic bids placed by one cascade."))
	errs = append(errs, err)
	m.itemsArchived, err = meter.Int64Counter("auction.items.archived",
		metric.WithDescription("Items moved to the archived state."))
	errs = append(errs, err)
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("creating auction instruments: %w", err)
	}
	return &m, nil
}

func (m *metrics) bidPlaced(ctx context.Context, synthetic bool) {
	m.bidsPlaced.Add(ctx, 1, metric.WithAttributes(attribute.Bool("synthetic", synthetic)))
}

func (m *metrics) rejected(ctx context.Context, err error) {
	var v *ValidationError
	if errors.As(err, &v) {
		m.bidsRejected.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", v.Reason)))
	}
}

func (m *metrics) cascaded(ctx context.Context, steps int) {
	m.cascadeSteps.Record(ctx, int64(steps))
}

func (m *metrics) archived(ctx context.Context, reason string) {
	m.itemsArchived.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}
