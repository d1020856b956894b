// Package notify delivers auction notifications. The bidding engine treats
// every channel as fire-and-forget: errors are logged by the caller and
// never undo a committed bid.
package notify

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/jensholdgaard/auctiond/internal/store"
)

// Notifier receives the three auction triggers.
type Notifier interface {
	// NotifyOutbid tells previousBidderID that newBidderID now leads at amount.
	NotifyOutbid(ctx context.Context, item store.Item, newBidderID, previousBidderID string, amount decimal.Decimal) error
	// NotifyAuctionWon tells the winner they bought the item.
	NotifyAuctionWon(ctx context.Context, item store.Item, winnerID string, amount decimal.Decimal) error
	// NotifyAuctionEnded tells the seller the auction closed.
	NotifyAuctionEnded(ctx context.Context, item store.Item, sellerID string) error
}

// Multi fans a notification out to every channel. All channels are tried;
// their errors are joined.
type Multi []Notifier

func (m Multi) NotifyOutbid(ctx context.Context, item store.Item, newBidderID, previousBidderID string, amount decimal.Decimal) error {
	var errs []error
	for _, n := range m {
		errs = append(errs, n.NotifyOutbid(ctx, item, newBidderID, previousBidderID, amount))
	}
	return errors.Join(errs...)
}

func (m Multi) NotifyAuctionWon(ctx context.Context, item store.Item, winnerID string, amount decimal.Decimal) error {
	var errs []error
	for _, n := range m {
		errs = append(errs, n.NotifyAuctionWon(ctx, item, winnerID, amount))
	}
	return errors.Join(errs...)
}

func (m Multi) NotifyAuctionEnded(ctx context.Context, item store.Item, sellerID string) error {
	var errs []error
	for _, n := range m {
		errs = append(errs, n.NotifyAuctionEnded(ctx, item, sellerID))
	}
	return errors.Join(errs...)
}

// Nop discards every notification.
type Nop struct{}

func (Nop) NotifyOutbid(context.Context, store.Item, string, string, decimal.Decimal) error {
	return nil
}

func (Nop) NotifyAuctionWon(context.Context, store.Item, string, decimal.Decimal) error { return nil }

func (Nop) NotifyAuctionEnded(context.Context, store.Item, string) error { return nil }
