package auction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jensholdgaard/auctiond/internal/store"
)

// runCascade runs the cascade after a committed bid and logs any failure.
// Bids committed before the failure stay valid.
func (e *Engine) runCascade(ctx context.Context, item store.Item, lastBidder string, lastPrice decimal.Decimal) {
	steps, err := e.cascade(ctx, item, lastBidder, lastPrice)
	e.metrics.cascaded(ctx, steps)
	if err != nil {
		e.logger.ErrorContext(ctx, "auto-bid cascade aborted",
			slog.String("item_id", item.ID),
			slog.String("seed_bidder_id", lastBidder),
			slog.String("seed_price", lastPrice.String()),
			slog.Int("steps", steps),
			slog.Any("error", err),
		)
	}
}

// cascade answers the bid (lastBidder, lastPrice) with synthetic bids until
// no active order other than the leader's exceeds the price. Each step
// re-reads the registry because the previous step changed the leader.
// It returns the number of synthetic bids committed.
func (e *Engine) cascade(ctx context.Context, item store.Item, lastBidder string, lastPrice decimal.Decimal) (int, error) {
	ctx, span := e.tracer.Start(ctx, "Engine.cascade",
		trace.WithAttributes(
			attribute.String("item_id", item.ID),
			attribute.String("seed_bidder_id", lastBidder),
			attribute.String("seed_price", lastPrice.String()),
		),
	)
	defer span.End()

	steps := 0
	for iter := 0; ; iter++ {
		if iter >= e.cfg.MaxCascadeSteps {
			e.logger.ErrorContext(ctx, "auto-bid cascade did not settle",
				slog.String("item_id", item.ID),
				slog.String("last_bidder_id", lastBidder),
				slog.String("last_price", lastPrice.String()),
				slog.Int("steps", steps),
				slog.Int("limit", e.cfg.MaxCascadeSteps),
			)
			return steps, fmt.Errorf("item %s at %s: %w", item.ID, lastPrice, ErrCascadeLimit)
		}

		orders, err := e.autoBids.ListCompeting(ctx, item.ID, lastBidder)
		if err != nil {
			return steps, fmt.Errorf("listing competing auto-bids: %w", err)
		}
		if len(orders) == 0 || !orders[0].MaxAmount.GreaterThan(lastPrice) {
			span.SetAttributes(attribute.Int("steps", steps))
			return steps, nil
		}

		next := orders[0]
		bid := &store.Bid{
			ItemID:    item.ID,
			BidderID:  next.BidderID,
			Amount:    decimal.Min(MinNextBid(lastPrice), next.MaxAmount),
			Synthetic: true,
		}
		err = e.bids.Append(ctx, bid)
		switch {
		case errors.Is(err, store.ErrStaleBid):
			// Another writer moved the price; continue from the real leader.
			top, err := e.bids.Highest(ctx, item.ID)
			if err != nil {
				return steps, fmt.Errorf("re-reading highest bid: %w", err)
			}
			if top == nil {
				return steps, fmt.Errorf("ledger refused bid on item %s without a highest bid", item.ID)
			}
			lastBidder, lastPrice = top.BidderID, top.Amount
			continue
		case errors.Is(err, store.ErrItemArchived), errors.Is(err, store.ErrItemEnded):
			e.logger.InfoContext(ctx, "item closed during cascade",
				slog.String("item_id", item.ID),
				slog.Int("steps", steps),
			)
			return steps, nil
		case err != nil:
			return steps, fmt.Errorf("committing synthetic bid: %w", err)
		}

		steps++
		e.bidCommitted(ctx, item, bid)
		e.notifyOutbid(ctx, item, bid.BidderID, lastBidder, bid.Amount)
		lastBidder, lastPrice = bid.BidderID, bid.Amount
	}
}
