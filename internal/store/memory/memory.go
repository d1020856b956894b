// Package memory provides an in-process store.Driver. It keeps everything in
// maps guarded by one RWMutex and is meant for local runs and tests.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/jensholdgaard/auctiond/internal/clock"
	"github.com/jensholdgaard/auctiond/internal/config"
	"github.com/jensholdgaard/auctiond/internal/event"
	"github.com/jensholdgaard/auctiond/internal/store"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func init() {
	store.Register("memory", func(_ context.Context, _ config.DatabaseConfig, clk clock.Clock) (*store.Repositories, error) {
		return New(clk).Repositories(), nil
	})
}

// Store holds all in-memory state.
type Store struct {
	mu    sync.RWMutex
	clock clock.Clock

	items    map[string]store.Item
	bids     map[string][]store.Bid // item id -> bids in append order
	autoBids map[string]*store.AutoBid
	autoSeq  int64
	watch    map[string][]string // bidder id -> item ids
	events   []event.Event
}

// New returns an empty Store.
func New(clk clock.Clock) *Store {
	return &Store{
		clock:    clk,
		items:    make(map[string]store.Item),
		bids:     make(map[string][]store.Bid),
		autoBids: make(map[string]*store.AutoBid),
		watch:    make(map[string][]string),
	}
}

// Repositories exposes the Store through the store interfaces.
func (s *Store) Repositories() *store.Repositories {
	return &store.Repositories{
		Items:     (*itemRepo)(s),
		Bids:      (*bidLedger)(s),
		AutoBids:  (*autoBidRegistry)(s),
		Watchlist: (*watchlist)(s),
		Events:    (*eventStore)(s),
		Closer:    nopCloser{},
		Ping:      func(context.Context) error { return nil },
	}
}

func autoBidKey(bidderID, itemID string) string { return bidderID + "\x00" + itemID }

// --- items ---

type itemRepo Store

func (r *itemRepo) Create(_ context.Context, it *store.Item) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if it.ID == "" {
		it.ID = uuid.NewString()
	}
	if _, exists := r.items[it.ID]; exists {
		return fmt.Errorf("creating item %s: already exists", it.ID)
	}
	it.CreatedAt = r.clock.Now().UTC()
	r.items[it.ID] = *it
	return nil
}

func (r *itemRepo) GetByID(_ context.Context, id string) (*store.Item, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	it, ok := r.items[id]
	if !ok {
		return nil, fmt.Errorf("getting item %s: %w", id, store.ErrNotFound)
	}
	return &it, nil
}

func (r *itemRepo) ListExpired(_ context.Context, now time.Time) ([]store.Item, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []store.Item
	for _, it := range r.items {
		if !it.Archived && it.Expired(now) {
			out = append(out, it)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EndTime.Before(out[j].EndTime) })
	return out, nil
}

func (r *itemRepo) Archive(_ context.Context, id string, at time.Time) (*store.Bid, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	it, ok := r.items[id]
	if !ok {
		return nil, false, fmt.Errorf("archiving item %s: %w", id, store.ErrNotFound)
	}
	if it.Archived {
		return nil, false, nil
	}
	at = at.UTC()
	it.Archived = true
	it.ArchivedAt = &at

	var winner *store.Bid
	if top := highest(r.bids[id]); top != nil {
		b := *top
		winner = &b
		soldTo, soldPrice := b.BidderID, b.Amount
		it.SoldOut = true
		it.SoldTo = &soldTo
		it.SoldPrice = &soldPrice
	}
	r.items[id] = it
	return winner, true, nil
}

// --- bids ---

type bidLedger Store

func (l *bidLedger) Append(_ context.Context, b *store.Bid) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	it, ok := l.items[b.ItemID]
	if !ok {
		return fmt.Errorf("appending bid on item %s: %w", b.ItemID, store.ErrNotFound)
	}
	if it.Archived {
		return fmt.Errorf("appending bid on item %s: %w", b.ItemID, store.ErrItemArchived)
	}
	now := l.clock.Now().UTC()
	if it.Expired(now) {
		return fmt.Errorf("appending bid on item %s: %w", b.ItemID, store.ErrItemEnded)
	}
	amount := b.Amount.Round(store.AmountScale)
	existing := l.bids[b.ItemID]
	if top := highest(existing); top != nil && !amount.GreaterThan(top.Amount) {
		return fmt.Errorf("appending bid %s on item %s: %w", b.Amount, b.ItemID, store.ErrStaleBid)
	}

	if n := len(existing); n > 0 && !now.After(existing[n-1].CreatedAt) {
		now = existing[n-1].CreatedAt.Add(time.Microsecond)
	}
	b.ID = uuid.NewString()
	b.Amount = amount
	b.CreatedAt = now
	l.bids[b.ItemID] = append(existing, *b)
	return nil
}

func (l *bidLedger) Highest(_ context.Context, itemID string) (*store.Bid, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	top := highest(l.bids[itemID])
	if top == nil {
		return nil, nil
	}
	b := *top
	return &b, nil
}

func (l *bidLedger) ListByItem(_ context.Context, itemID string) ([]store.Bid, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	bids := l.bids[itemID]
	out := make([]store.Bid, len(bids))
	for i, b := range bids {
		out[len(bids)-1-i] = b
	}
	return out, nil
}

// highest picks the max amount, earliest on ties.
func highest(bids []store.Bid) *store.Bid {
	var top *store.Bid
	for i := range bids {
		b := &bids[i]
		if top == nil || b.Amount.GreaterThan(top.Amount) ||
			(b.Amount.Equal(top.Amount) && b.CreatedAt.Before(top.CreatedAt)) {
			top = b
		}
	}
	return top
}

// --- auto-bids ---

type autoBidRegistry Store

func (r *autoBidRegistry) Upsert(_ context.Context, a *store.AutoBid) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.clock.Now().UTC()
	key := autoBidKey(a.BidderID, a.ItemID)
	if cur, ok := r.autoBids[key]; ok {
		cur.MaxAmount = a.MaxAmount
		cur.Active = true
		cur.UpdatedAt = now
		*a = *cur
		return nil
	}
	r.autoSeq++
	a.ID = uuid.NewString()
	a.Active = true
	a.Seq = r.autoSeq
	a.CreatedAt = now
	a.UpdatedAt = now
	stored := *a
	r.autoBids[key] = &stored
	return nil
}

func (r *autoBidRegistry) Get(_ context.Context, bidderID, itemID string) (*store.AutoBid, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cur, ok := r.autoBids[autoBidKey(bidderID, itemID)]
	if !ok {
		return nil, fmt.Errorf("getting auto-bid for %s on %s: %w", bidderID, itemID, store.ErrNotFound)
	}
	a := *cur
	return &a, nil
}

func (r *autoBidRegistry) Deactivate(_ context.Context, bidderID, itemID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.autoBids[autoBidKey(bidderID, itemID)]
	if !ok {
		return fmt.Errorf("deactivating auto-bid for %s on %s: %w", bidderID, itemID, store.ErrNotFound)
	}
	if cur.Active {
		cur.Active = false
		cur.UpdatedAt = r.clock.Now().UTC()
	}
	return nil
}

func (r *autoBidRegistry) ListCompeting(_ context.Context, itemID, excludingBidderID string) ([]store.AutoBid, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []store.AutoBid
	for _, a := range r.autoBids {
		if a.ItemID == itemID && a.Active && a.BidderID != excludingBidderID {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return competingLess(out[i], out[j]) })
	return out, nil
}

func (r *autoBidRegistry) ListActiveByBidder(_ context.Context, bidderID string) ([]store.AutoBid, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []store.AutoBid
	for _, a := range r.autoBids {
		if a.BidderID == bidderID && a.Active {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

func competingLess(a, b store.AutoBid) bool {
	if c := a.MaxAmount.Cmp(b.MaxAmount); c != 0 {
		return c > 0
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.Seq < b.Seq
}

// --- watchlist ---

type watchlist Store

func (w *watchlist) Add(_ context.Context, bidderID, itemID string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, id := range w.watch[bidderID] {
		if id == itemID {
			return nil
		}
	}
	w.watch[bidderID] = append(w.watch[bidderID], itemID)
	return nil
}

func (w *watchlist) List(_ context.Context, bidderID string) ([]string, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return append([]string(nil), w.watch[bidderID]...), nil
}

// --- events ---

type eventStore Store

func (s *eventStore) Append(_ context.Context, events ...event.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now().UTC()
	for _, e := range events {
		if e.ID == "" {
			e.ID = uuid.NewString()
		}
		if e.CreatedAt.IsZero() {
			e.CreatedAt = now
		}
		s.events = append(s.events, e)
	}
	return nil
}

func (s *eventStore) Load(_ context.Context, itemID string, types ...event.Type) ([]event.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []event.Event
	for _, e := range s.events {
		if e.AggregateID == itemID && (len(types) == 0 || slices.Contains(types, e.Type)) {
			out = append(out, e)
		}
	}
	return out, nil
}

// SeedBid appends a bid bypassing the ledger checks, for tests that need a
// specific history.
func (s *Store) SeedBid(itemID, bidderID string, amount decimal.Decimal, at time.Time) store.Bid {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := store.Bid{
		ID:        uuid.NewString(),
		ItemID:    itemID,
		BidderID:  bidderID,
		Amount:    amount,
		CreatedAt: at.UTC(),
	}
	s.bids[itemID] = append(s.bids[itemID], b)
	return b
}
