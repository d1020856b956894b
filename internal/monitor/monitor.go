// Package monitor runs the expired-auction sweep on a fixed interval.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Sweeper archives every expired item and reports how many it archived.
type Sweeper interface {
	SweepExpired(ctx context.Context) (int, error)
}

// Monitor owns the sweep loop. It has no running state of its own: the
// loop lives exactly as long as the context passed to Run.
type Monitor struct {
	sweeper  Sweeper
	interval time.Duration
	logger   *slog.Logger
	tracer   trace.Tracer
}

// New creates a Monitor that sweeps every interval.
func New(s Sweeper, interval time.Duration, logger *slog.Logger, tp trace.TracerProvider) *Monitor {
	return &Monitor{
		sweeper:  s,
		interval: interval,
		logger:   logger,
		tracer:   tp.Tracer("github.com/jensholdgaard/auctiond/internal/monitor"),
	}
}

// Run sweeps once immediately and then on every tick until ctx is
// cancelled. A failing or panicking sweep is logged and the loop goes on.
func (m *Monitor) Run(ctx context.Context) error {
	m.logger.InfoContext(ctx, "auction monitor started", slog.Duration("interval", m.interval))

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		m.sweep(ctx)
		select {
		case <-ctx.Done():
			m.logger.InfoContext(ctx, "auction monitor stopped")
			return nil
		case <-ticker.C:
		}
	}
}

func (m *Monitor) sweep(ctx context.Context) {
	ctx, span := m.tracer.Start(ctx, "Monitor.sweep")
	defer span.End()
	defer m.recoverAndLog(ctx)

	archived, err := m.sweeper.SweepExpired(ctx)
	span.SetAttributes(attribute.Int("archived", archived))
	if err != nil && ctx.Err() == nil {
		m.logger.ErrorContext(ctx, "expired auction sweep failed",
			slog.Int("archived", archived),
			slog.Any("error", err),
		)
		return
	}
	if archived > 0 {
		m.logger.InfoContext(ctx, "archived expired auctions", slog.Int("count", archived))
	}
}

func (m *Monitor) recoverAndLog(ctx context.Context) {
	if r := recover(); r != nil {
		m.logger.ErrorContext(ctx, "expired auction sweep panicked",
			slog.Any("error", fmt.Errorf("panic: %v", r)),
		)
	}
}
