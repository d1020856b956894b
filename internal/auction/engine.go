// Package auction resolves bids on auction items. The Engine validates and
// commits manual bids, keeps auto-bid orders, runs the auto-bid cascade to
// equilibrium, and closes items when they expire or are sold.
package auction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/jensholdgaard/auctiond/internal/clock"
	"github.com/jensholdgaard/auctiond/internal/config"
	"github.com/jensholdgaard/auctiond/internal/event"
	"github.com/jensholdgaard/auctiond/internal/notify"
	"github.com/jensholdgaard/auctiond/internal/store"
)

const instrumentationName = "github.com/jensholdgaard/auctiond/internal/auction"

// Engine is the bid resolution engine. All writes for one item are
// serialised through a per-item lock held for the whole operation,
// cascade included. Different items proceed independently.
type Engine struct {
	items     store.ItemRepository
	bids      store.BidLedger
	autoBids  store.AutoBidRegistry
	watchlist store.Watchlist
	events    event.Store
	notifier  notify.Notifier

	logger  *slog.Logger
	tracer  trace.Tracer
	metrics *metrics
	clock   clock.Clock
	cfg     config.BiddingConfig
	locks   *itemLocks
}

// NewEngine creates an Engine over the given repositories.
func NewEngine(
	repos *store.Repositories,
	notifier notify.Notifier,
	logger *slog.Logger,
	tp trace.TracerProvider,
	mp metric.MeterProvider,
	clk clock.Clock,
	cfg config.BiddingConfig,
) (*Engine, error) {
	m, err := newMetrics(mp)
	if err != nil {
		return nil, err
	}
	return &Engine{
		items:     repos.Items,
		bids:      repos.Bids,
		autoBids:  repos.AutoBids,
		watchlist: repos.Watchlist,
		events:    repos.Events,
		notifier:  notifier,
		logger:    logger,
		tracer:    tp.Tracer(instrumentationName),
		metrics:   m,
		clock:     clk,
		cfg:       cfg,
		locks:     newItemLocks(),
	}, nil
}

// CreateItem registers a new auction item.
func (e *Engine) CreateItem(ctx context.Context, sellerID, title string, startingPrice decimal.Decimal, endTime time.Time) (*store.Item, error) {
	ctx, span := e.tracer.Start(ctx, "Engine.CreateItem",
		trace.WithAttributes(
			attribute.String("seller_id", sellerID),
			attribute.String("starting_price", startingPrice.String()),
		),
	)
	defer span.End()

	if err := checkScale("starting price", startingPrice); err != nil {
		return nil, err
	}
	switch {
	case strings.TrimSpace(sellerID) == "":
		return nil, invalid(ErrInvalidItem, "seller is required")
	case startingPrice.IsNegative():
		return nil, invalid(ErrInvalidItem, "starting price must not be negative")
	case !endTime.After(e.clock.Now()):
		return nil, invalid(ErrInvalidItem, "end time must be in the future")
	}

	it := &store.Item{
		SellerID:      sellerID,
		Title:         title,
		StartingPrice: startingPrice,
		EndTime:       endTime.UTC(),
	}
	if err := e.items.Create(ctx, it); err != nil {
		return nil, fmt.Errorf("creating item: %w", err)
	}

	e.logger.InfoContext(ctx, "item created",
		slog.String("item_id", it.ID),
		slog.String("seller_id", sellerID),
		slog.Time("end_time", it.EndTime),
	)
	return it, nil
}

// GetItem returns an item, archiving it first if its end time has passed.
func (e *Engine) GetItem(ctx context.Context, itemID string) (*store.Item, error) {
	return e.FinalizeIfExpired(ctx, itemID)
}

// PlaceBid validates and commits a manual bid, then runs the auto-bid
// cascade to equilibrium. A cascade failure after the commit is logged and
// does not fail the call; the committed bid stands.
func (e *Engine) PlaceBid(ctx context.Context, itemID, bidderID string, amount decimal.Decimal) (*store.Bid, error) {
	ctx, span := e.tracer.Start(ctx, "Engine.PlaceBid",
		trace.WithAttributes(
			attribute.String("item_id", itemID),
			attribute.String("bidder_id", bidderID),
			attribute.String("amount", amount.String()),
		),
	)
	defer span.End()

	if err := checkScale("bid", amount); err != nil {
		return nil, e.reject(ctx, err)
	}

	unlock := e.locks.lock(itemID)
	defer unlock()

	item, err := e.openItem(ctx, itemID)
	if err != nil {
		return nil, e.reject(ctx, err)
	}
	if item.SellerID == bidderID {
		return nil, e.reject(ctx, invalid(ErrSelfBidForbidden, "you cannot bid on your own item"))
	}

	var (
		bid      *store.Bid
		previous *store.Bid
	)
	for attempt := 0; bid == nil; attempt++ {
		if attempt >= e.cfg.CommitRetries {
			return nil, fmt.Errorf("placing bid on item %s: %w", itemID, ErrConflict)
		}

		previous, err = e.bids.Highest(ctx, itemID)
		if err != nil {
			return nil, fmt.Errorf("reading highest bid: %w", err)
		}
		current := item.StartingPrice
		if previous != nil {
			if previous.BidderID == bidderID {
				return nil, e.reject(ctx, invalid(ErrAlreadyHighestBidder, "you already hold the highest bid"))
			}
			current = previous.Amount
		}
		if required := MinNextBid(current); amount.LessThan(required) {
			return nil, e.reject(ctx, invalidAmount(ErrBidTooLow, required,
				"bid must be at least %s", required.StringFixed(2)))
		}

		candidate := &store.Bid{ItemID: itemID, BidderID: bidderID, Amount: amount}
		err = e.bids.Append(ctx, candidate)
		switch {
		case err == nil:
			bid = candidate
		case errors.Is(err, store.ErrStaleBid):
			e.logger.DebugContext(ctx, "bid lost a commit race, retrying",
				slog.String("item_id", itemID),
				slog.Int("attempt", attempt+1),
			)
		case errors.Is(err, store.ErrItemArchived):
			return nil, e.reject(ctx, invalid(ErrItemUnavailable, "item is no longer open for bidding"))
		case errors.Is(err, store.ErrItemEnded):
			if _, _, err := e.finalizeLocked(ctx, item); err != nil {
				return nil, err
			}
			return nil, e.reject(ctx, invalid(ErrItemUnavailable, "auction for item %s has ended", itemID))
		default:
			return nil, fmt.Errorf("committing bid: %w", err)
		}
	}

	e.bidCommitted(ctx, *item, bid)
	e.addToWatchlist(ctx, bidderID, itemID)
	if previous != nil {
		e.notifyOutbid(ctx, *item, bidderID, previous.BidderID, bid.Amount)
	}

	e.runCascade(ctx, *item, bidderID, bid.Amount)

	e.logger.InfoContext(ctx, "bid placed",
		slog.String("item_id", itemID),
		slog.String("bidder_id", bidderID),
		slog.String("amount", bid.Amount.String()),
	)
	return bid, nil
}

// SetAutoBid creates or reactivates the bidder's standing order on an item.
// When another bidder currently leads, the cascade runs immediately so the
// new order answers the standing high bid.
func (e *Engine) SetAutoBid(ctx context.Context, itemID, bidderID string, maxAmount decimal.Decimal) (*store.AutoBid, error) {
	ctx, span := e.tracer.Start(ctx, "Engine.SetAutoBid",
		trace.WithAttributes(
			attribute.String("item_id", itemID),
			attribute.String("bidder_id", bidderID),
			attribute.String("max_amount", maxAmount.String()),
		),
	)
	defer span.End()

	if err := checkScale("maximum", maxAmount); err != nil {
		return nil, e.reject(ctx, err)
	}

	unlock := e.locks.lock(itemID)
	defer unlock()

	item, err := e.openItem(ctx, itemID)
	if err != nil {
		return nil, e.reject(ctx, err)
	}
	if item.SellerID == bidderID {
		return nil, e.reject(ctx, invalid(ErrSelfBidForbidden, "you cannot bid on your own item"))
	}

	top, err := e.bids.Highest(ctx, itemID)
	if err != nil {
		return nil, fmt.Errorf("reading highest bid: %w", err)
	}
	current := item.StartingPrice
	if top != nil {
		current = top.Amount
	}
	if !maxAmount.GreaterThan(current) {
		return nil, e.reject(ctx, invalidAmount(ErrMaxBidTooLow, current,
			"maximum must be greater than the current price of %s", current.StringFixed(2)))
	}

	order := &store.AutoBid{BidderID: bidderID, ItemID: itemID, MaxAmount: maxAmount}
	if err := e.autoBids.Upsert(ctx, order); err != nil {
		return nil, fmt.Errorf("saving auto-bid: %w", err)
	}

	e.appendEvent(ctx, itemID, event.AutoBidSet, event.AutoBidData{
		AutoBidID: order.ID,
		BidderID:  bidderID,
		MaxAmount: maxAmount,
	})
	e.addToWatchlist(ctx, bidderID, itemID)

	if top != nil && top.BidderID != bidderID {
		e.runCascade(ctx, *item, top.BidderID, top.Amount)
	}

	e.logger.InfoContext(ctx, "auto-bid set",
		slog.String("item_id", itemID),
		slog.String("bidder_id", bidderID),
		slog.String("max_amount", maxAmount.String()),
	)
	return order, nil
}

// CancelAutoBid deactivates the bidder's order on an item. Bids already
// placed for the order stay in the ledger.
func (e *Engine) CancelAutoBid(ctx context.Context, itemID, bidderID string) error {
	ctx, span := e.tracer.Start(ctx, "Engine.CancelAutoBid",
		trace.WithAttributes(
			attribute.String("item_id", itemID),
			attribute.String("bidder_id", bidderID),
		),
	)
	defer span.End()

	unlock := e.locks.lock(itemID)
	defer unlock()

	order, err := e.autoBids.Get(ctx, bidderID, itemID)
	if err != nil {
		return fmt.Errorf("cancelling auto-bid: %w", err)
	}
	if !order.Active {
		return fmt.Errorf("cancelling auto-bid: no active order for %s on %s: %w", bidderID, itemID, ErrNotFound)
	}
	if err := e.autoBids.Deactivate(ctx, bidderID, itemID); err != nil {
		return fmt.Errorf("cancelling auto-bid: %w", err)
	}

	e.appendEvent(ctx, itemID, event.AutoBidCancelled, event.AutoBidData{
		AutoBidID: order.ID,
		BidderID:  bidderID,
		MaxAmount: order.MaxAmount,
	})
	e.logger.InfoContext(ctx, "auto-bid cancelled",
		slog.String("item_id", itemID),
		slog.String("bidder_id", bidderID),
	)
	return nil
}

// GetAutoBid returns the bidder's order on an item, active or not.
func (e *Engine) GetAutoBid(ctx context.Context, itemID, bidderID string) (*store.AutoBid, error) {
	ctx, span := e.tracer.Start(ctx, "Engine.GetAutoBid",
		trace.WithAttributes(
			attribute.String("item_id", itemID),
			attribute.String("bidder_id", bidderID),
		),
	)
	defer span.End()

	order, err := e.autoBids.Get(ctx, bidderID, itemID)
	if err != nil {
		return nil, fmt.Errorf("getting auto-bid: %w", err)
	}
	return order, nil
}

// ListAutoBids returns the bidder's active orders.
func (e *Engine) ListAutoBids(ctx context.Context, bidderID string) ([]store.AutoBid, error) {
	ctx, span := e.tracer.Start(ctx, "Engine.ListAutoBids",
		trace.WithAttributes(attribute.String("bidder_id", bidderID)),
	)
	defer span.End()

	orders, err := e.autoBids.ListActiveByBidder(ctx, bidderID)
	if err != nil {
		return nil, fmt.Errorf("listing auto-bids: %w", err)
	}
	return orders, nil
}

// History returns the bids on an item, newest first.
func (e *Engine) History(ctx context.Context, itemID string) ([]store.Bid, error) {
	ctx, span := e.tracer.Start(ctx, "Engine.History",
		trace.WithAttributes(attribute.String("item_id", itemID)),
	)
	defer span.End()

	if _, err := e.items.GetByID(ctx, itemID); err != nil {
		return nil, fmt.Errorf("reading bid history: %w", err)
	}
	bids, err := e.bids.ListByItem(ctx, itemID)
	if err != nil {
		return nil, fmt.Errorf("reading bid history: %w", err)
	}
	return bids, nil
}

// Events returns an item's audit trail in append order, optionally limited
// to the given types.
func (e *Engine) Events(ctx context.Context, itemID string, types ...event.Type) ([]event.Event, error) {
	ctx, span := e.tracer.Start(ctx, "Engine.Events",
		trace.WithAttributes(attribute.String("item_id", itemID)),
	)
	defer span.End()

	if _, err := e.items.GetByID(ctx, itemID); err != nil {
		return nil, fmt.Errorf("reading audit trail: %w", err)
	}
	events, err := e.events.Load(ctx, itemID, types...)
	if err != nil {
		return nil, fmt.Errorf("reading audit trail: %w", err)
	}
	return events, nil
}

// Watchlist returns the items a bidder follows.
func (e *Engine) Watchlist(ctx context.Context, bidderID string) ([]string, error) {
	ctx, span := e.tracer.Start(ctx, "Engine.Watchlist",
		trace.WithAttributes(attribute.String("bidder_id", bidderID)),
	)
	defer span.End()

	ids, err := e.watchlist.List(ctx, bidderID)
	if err != nil {
		return nil, fmt.Errorf("reading watchlist: %w", err)
	}
	return ids, nil
}

// openItem loads an item that can still take bids. An item found past its
// end time is archived on the spot and reported unavailable. The caller
// must hold the item lock.
func (e *Engine) openItem(ctx context.Context, itemID string) (*store.Item, error) {
	item, err := e.items.GetByID(ctx, itemID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, invalid(ErrItemUnavailable, "item %s does not exist", itemID)
	}
	if err != nil {
		return nil, fmt.Errorf("loading item: %w", err)
	}
	if !item.Archived && item.Expired(e.clock.Now()) {
		if _, _, err := e.finalizeLocked(ctx, item); err != nil {
			return nil, err
		}
		return nil, invalid(ErrItemUnavailable, "auction for item %s has ended", itemID)
	}
	if item.Archived || item.SoldOut {
		return nil, invalid(ErrItemUnavailable, "auction for item %s is closed", itemID)
	}
	return item, nil
}

func (e *Engine) reject(ctx context.Context, err error) error {
	e.metrics.rejected(ctx, err)
	return err
}

// bidCommitted records a bid that reached the ledger.
func (e *Engine) bidCommitted(ctx context.Context, item store.Item, bid *store.Bid) {
	e.metrics.bidPlaced(ctx, bid.Synthetic)
	e.appendEvent(ctx, item.ID, event.BidPlaced, event.BidPlacedData{
		BidID:     bid.ID,
		BidderID:  bid.BidderID,
		Amount:    bid.Amount,
		Synthetic: bid.Synthetic,
	})
}

func (e *Engine) appendEvent(ctx context.Context, itemID string, t event.Type, payload any) {
	ev, err := event.New(itemID, t, payload)
	if err == nil {
		err = e.events.Append(ctx, ev)
	}
	if err != nil {
		e.logger.ErrorContext(ctx, "failed to persist event",
			slog.String("item_id", itemID),
			slog.String("type", string(t)),
			slog.Any("error", err),
		)
	}
}

func (e *Engine) addToWatchlist(ctx context.Context, bidderID, itemID string) {
	if err := e.watchlist.Add(ctx, bidderID, itemID); err != nil {
		e.logger.ErrorContext(ctx, "failed to add item to watchlist",
			slog.String("item_id", itemID),
			slog.String("bidder_id", bidderID),
			slog.Any("error", err),
		)
	}
}
