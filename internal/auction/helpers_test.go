package auction_test

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/jensholdgaard/auctiond/internal/auction"
	"github.com/jensholdgaard/auctiond/internal/clock"
	"github.com/jensholdgaard/auctiond/internal/config"
	"github.com/jensholdgaard/auctiond/internal/store"
	"github.com/jensholdgaard/auctiond/internal/store/memory"
)

var epoch = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// --- mock notifier ---

type outbid struct {
	itemID, newBidder, previousBidder string
	amount                            decimal.Decimal
}

type won struct {
	itemID, winner string
	amount         decimal.Decimal
}

type recordingNotifier struct {
	mu     sync.Mutex
	outbid []outbid
	won    []won
	ended  []string // item ids
	err    error
	panics bool
}

func (r *recordingNotifier) NotifyOutbid(_ context.Context, item store.Item, newBidderID, previousBidderID string, amount decimal.Decimal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outbid = append(r.outbid, outbid{item.ID, newBidderID, previousBidderID, amount})
	return r.fail()
}

func (r *recordingNotifier) NotifyAuctionWon(_ context.Context, item store.Item, winnerID string, amount decimal.Decimal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.won = append(r.won, won{item.ID, winnerID, amount})
	return r.fail()
}

func (r *recordingNotifier) NotifyAuctionEnded(_ context.Context, item store.Item, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ended = append(r.ended, item.ID)
	return r.fail()
}

func (r *recordingNotifier) fail() error {
	if r.panics {
		panic("notifier exploded")
	}
	return r.err
}

func (r *recordingNotifier) counts() (int, int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.outbid), len(r.won), len(r.ended)
}

// --- engine fixture ---

type fixture struct {
	engine   *auction.Engine
	repos    *store.Repositories
	notifier *recordingNotifier
	clock    *clock.Manual
}

type fixtureOption func(*config.BiddingConfig, *store.Repositories)

func withCascadeLimit(n int) fixtureOption {
	return func(c *config.BiddingConfig, _ *store.Repositories) { c.MaxCascadeSteps = n }
}

func withLedger(wrap func(store.BidLedger) store.BidLedger) fixtureOption {
	return func(_ *config.BiddingConfig, r *store.Repositories) { r.Bids = wrap(r.Bids) }
}

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()
	clk := clock.NewManual(epoch)
	repos := memory.New(clk).Repositories()
	rec := &recordingNotifier{}
	cfg := config.Defaults().Bidding
	for _, o := range opts {
		o(&cfg, repos)
	}
	e, err := auction.NewEngine(repos, rec, slog.Default(), noop.NewTracerProvider(), metricnoop.NewMeterProvider(), clk, cfg)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return &fixture{engine: e, repos: repos, notifier: rec, clock: clk}
}

func (f *fixture) item(t *testing.T, startingPrice string) *store.Item {
	t.Helper()
	it, err := f.engine.CreateItem(context.Background(), "seller", "Brass lamp", dec(startingPrice), epoch.Add(time.Hour))
	if err != nil {
		t.Fatalf("CreateItem: %v", err)
	}
	return it
}

func (f *fixture) mustBid(t *testing.T, itemID, bidderID, amount string) *store.Bid {
	t.Helper()
	b, err := f.engine.PlaceBid(context.Background(), itemID, bidderID, dec(amount))
	if err != nil {
		t.Fatalf("PlaceBid(%s, %s): %v", bidderID, amount, err)
	}
	return b
}

func (f *fixture) mustAutoBid(t *testing.T, itemID, bidderID, maxAmount string) *store.AutoBid {
	t.Helper()
	a, err := f.engine.SetAutoBid(context.Background(), itemID, bidderID, dec(maxAmount))
	if err != nil {
		t.Fatalf("SetAutoBid(%s, %s): %v", bidderID, maxAmount, err)
	}
	return a
}

func (f *fixture) highest(t *testing.T, itemID string) *store.Bid {
	t.Helper()
	top, err := f.repos.Bids.Highest(context.Background(), itemID)
	if err != nil {
		t.Fatalf("Highest: %v", err)
	}
	return top
}

func (f *fixture) history(t *testing.T, itemID string) []store.Bid {
	t.Helper()
	bids, err := f.engine.History(context.Background(), itemID)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	return bids
}

func assertLeader(t *testing.T, f *fixture, itemID, bidder, amount string) {
	t.Helper()
	top := f.highest(t, itemID)
	if top == nil {
		t.Fatalf("no highest bid, want %s at %s", bidder, amount)
	}
	if top.BidderID != bidder || !top.Amount.Equal(dec(amount)) {
		t.Errorf("highest = %s at %s, want %s at %s", top.BidderID, top.Amount, bidder, amount)
	}
}

// assertEquilibrium checks that no active order other than the leader's
// exceeds the current price.
func assertEquilibrium(t *testing.T, f *fixture, itemID string) {
	t.Helper()
	top := f.highest(t, itemID)
	if top == nil {
		return
	}
	orders, err := f.repos.AutoBids.ListCompeting(context.Background(), itemID, top.BidderID)
	if err != nil {
		t.Fatalf("ListCompeting: %v", err)
	}
	for _, o := range orders {
		if o.MaxAmount.GreaterThan(top.Amount) {
			t.Errorf("order of %s (max %s) exceeds price %s held by %s", o.BidderID, o.MaxAmount, top.Amount, top.BidderID)
		}
	}
}
