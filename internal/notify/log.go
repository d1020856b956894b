package notify

import (
	"context"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/jensholdgaard/auctiond/internal/store"
)

// Log writes notifications to a structured logger. It is always enabled so
// every trigger leaves a trace even without an outbound channel.
type Log struct {
	logger *slog.Logger
}

// NewLog returns a Log notifier.
func NewLog(logger *slog.Logger) *Log {
	return &Log{logger: logger}
}

func (l *Log) NotifyOutbid(ctx context.Context, item store.Item, newBidderID, previousBidderID string, amount decimal.Decimal) error {
	l.logger.InfoContext(ctx, "bidder outbid",
		slog.String("item_id", item.ID),
		slog.String("bidder_id", previousBidderID),
		slog.String("new_bidder_id", newBidderID),
		slog.String("amount", amount.String()),
	)
	return nil
}

func (l *Log) NotifyAuctionWon(ctx context.Context, item store.Item, winnerID string, amount decimal.Decimal) error {
	l.logger.InfoContext(ctx, "auction won",
		slog.String("item_id", item.ID),
		slog.String("winner_id", winnerID),
		slog.String("amount", amount.String()),
	)
	return nil
}

func (l *Log) NotifyAuctionEnded(ctx context.Context, item store.Item, sellerID string) error {
	l.logger.InfoContext(ctx, "auction ended",
		slog.String("item_id", item.ID),
		slog.String("seller_id", sellerID),
		slog.Bool("sold", item.SoldOut),
	)
	return nil
}
