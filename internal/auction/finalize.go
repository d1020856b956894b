package auction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jensholdgaard/auctiond/internal/event"
	"github.com/jensholdgaard/auctiond/internal/store"
)

const (
	reasonExpired = "expired"
	reasonSold    = "sold"
)

// FinalizeIfExpired archives the item if its end time has passed and
// returns its current state. Calling it again is a no-op.
func (e *Engine) FinalizeIfExpired(ctx context.Context, itemID string) (*store.Item, error) {
	ctx, span := e.tracer.Start(ctx, "Engine.FinalizeIfExpired",
		trace.WithAttributes(attribute.String("item_id", itemID)),
	)
	defer span.End()

	unlock := e.locks.lock(itemID)
	defer unlock()

	item, err := e.items.GetByID(ctx, itemID)
	if err != nil {
		return nil, fmt.Errorf("loading item: %w", err)
	}
	if item.Archived || !item.Expired(e.clock.Now()) {
		return item, nil
	}
	item, _, err = e.finalizeLocked(ctx, item)
	return item, err
}

// SweepExpired archives every item whose end time has passed and returns
// how many this call archived. A failure on one item does not stop the
// sweep; the failures are returned joined.
func (e *Engine) SweepExpired(ctx context.Context) (int, error) {
	ctx, span := e.tracer.Start(ctx, "Engine.SweepExpired")
	defer span.End()

	expired, err := e.items.ListExpired(ctx, e.clock.Now())
	if err != nil {
		return 0, fmt.Errorf("listing expired items: %w", err)
	}

	var (
		archived int
		errs     []error
	)
	for _, it := range expired {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		applied, err := e.sweepOne(ctx, it.ID)
		if err != nil {
			errs = append(errs, fmt.Errorf("item %s: %w", it.ID, err))
			continue
		}
		if applied {
			archived++
		}
	}
	span.SetAttributes(
		attribute.Int("expired", len(expired)),
		attribute.Int("archived", archived),
	)
	return archived, errors.Join(errs...)
}

func (e *Engine) sweepOne(ctx context.Context, itemID string) (bool, error) {
	unlock := e.locks.lock(itemID)
	defer unlock()

	// Re-read under the lock; a bidder may have finalized it meanwhile.
	item, err := e.items.GetByID(ctx, itemID)
	if err != nil {
		return false, err
	}
	if item.Archived || !item.Expired(e.clock.Now()) {
		return false, nil
	}
	_, applied, err := e.finalizeLocked(ctx, item)
	return applied, err
}

// Sell lets the seller close the auction early on the current highest bid.
func (e *Engine) Sell(ctx context.Context, itemID, sellerID string) (*store.Item, error) {
	ctx, span := e.tracer.Start(ctx, "Engine.Sell",
		trace.WithAttributes(
			attribute.String("item_id", itemID),
			attribute.String("seller_id", sellerID),
		),
	)
	defer span.End()

	unlock := e.locks.lock(itemID)
	defer unlock()

	item, err := e.items.GetByID(ctx, itemID)
	if err != nil {
		return nil, fmt.Errorf("loading item: %w", err)
	}
	if item.SellerID != sellerID {
		return nil, e.reject(ctx, invalid(ErrNotSeller, "only the seller can sell item %s", itemID))
	}
	if !item.Archived && item.Expired(e.clock.Now()) {
		if _, _, err := e.finalizeLocked(ctx, item); err != nil {
			return nil, err
		}
		return nil, e.reject(ctx, invalid(ErrItemUnavailable, "auction for item %s has ended", itemID))
	}
	if item.Archived {
		return nil, e.reject(ctx, invalid(ErrItemUnavailable, "auction for item %s is closed", itemID))
	}

	top, err := e.bids.Highest(ctx, itemID)
	if err != nil {
		return nil, fmt.Errorf("reading highest bid: %w", err)
	}
	if top == nil {
		return nil, e.reject(ctx, invalid(ErrNoBids, "item %s has no bids to accept", itemID))
	}

	// The store picks the winner again under its own lock; a bid that
	// committed on another replica since the read above wins instead.
	item, applied, err := e.archive(ctx, item, reasonSold)
	if err != nil {
		return nil, err
	}
	if !applied {
		return nil, e.reject(ctx, invalid(ErrItemUnavailable, "auction for item %s is closed", itemID))
	}
	return item, nil
}

// finalizeLocked archives an expired item on its highest bid. The caller
// must hold the item lock.
func (e *Engine) finalizeLocked(ctx context.Context, item *store.Item) (*store.Item, bool, error) {
	return e.archive(ctx, item, reasonExpired)
}

// archive performs the conditional archive transition. Only the caller that
// wins the transition notifies, so each item notifies exactly once across
// replicas, the sweep and lazy finalization.
func (e *Engine) archive(ctx context.Context, item *store.Item, reason string) (*store.Item, bool, error) {
	at := e.clock.Now().UTC()
	top, applied, err := e.items.Archive(ctx, item.ID, at)
	if err != nil {
		return nil, false, fmt.Errorf("archiving item: %w", err)
	}
	if !applied {
		current, err := e.items.GetByID(ctx, item.ID)
		if err != nil {
			return nil, false, fmt.Errorf("reloading item: %w", err)
		}
		return current, false, nil
	}

	done := *item
	done.Archived = true
	done.ArchivedAt = &at
	data := event.ItemArchivedData{Reason: reason}
	if top != nil {
		winner, price := top.BidderID, top.Amount
		done.SoldOut = true
		done.SoldTo, done.SoldPrice = &winner, &price
		data.SoldTo, data.SoldPrice = winner, &price
	}

	e.metrics.archived(ctx, reason)
	e.appendEvent(ctx, item.ID, event.ItemArchived, data)

	if top != nil {
		e.notifyWon(ctx, done, top.BidderID, top)
	}
	e.notifyEnded(ctx, done)

	e.logger.InfoContext(ctx, "item archived",
		slog.String("item_id", item.ID),
		slog.String("reason", reason),
		slog.Bool("sold", top != nil),
	)
	return &done, true, nil
}
