package auction

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/jensholdgaard/auctiond/internal/store"
)

func (e *Engine) notifyOutbid(ctx context.Context, item store.Item, newBidderID, previousBidderID string, amount decimal.Decimal) {
	e.deliver(ctx, "outbid", item.ID, func() error {
		return e.notifier.NotifyOutbid(ctx, item, newBidderID, previousBidderID, amount)
	})
}

func (e *Engine) notifyWon(ctx context.Context, item store.Item, winnerID string, top *store.Bid) {
	e.deliver(ctx, "won", item.ID, func() error {
		return e.notifier.NotifyAuctionWon(ctx, item, winnerID, top.Amount)
	})
}

func (e *Engine) notifyEnded(ctx context.Context, item store.Item) {
	e.deliver(ctx, "ended", item.ID, func() error {
		return e.notifier.NotifyAuctionEnded(ctx, item, item.SellerID)
	})
}

// deliver runs one notification. Errors and panics are logged, never
// returned.
func (e *Engine) deliver(ctx context.Context, kind, itemID string, send func() error) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.ErrorContext(ctx, "notifier panicked",
				slog.String("notification", kind),
				slog.String("item_id", itemID),
				slog.Any("error", fmt.Errorf("panic: %v", r)),
			)
		}
	}()
	if err := send(); err != nil {
		e.logger.ErrorContext(ctx, "failed to send notification",
			slog.String("notification", kind),
			slog.String("item_id", itemID),
			slog.Any("error", err),
		)
	}
}
