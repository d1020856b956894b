package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Errors returned by repositories. Drivers wrap them with context.
var (
	ErrNotFound = errors.New("not found")
	// ErrStaleBid means the ledger refused an append because the amount no
	// longer strictly exceeds the item's highest bid. Callers re-read and retry.
	ErrStaleBid = errors.New("bid does not exceed current highest bid")
	// ErrItemArchived means the ledger refused an append against an archived item.
	ErrItemArchived = errors.New("item is archived")
	// ErrItemEnded means the ledger refused an append because the item's end
	// time has passed, even though nobody has archived it yet.
	ErrItemEnded = errors.New("item auction has ended")
)

// AmountScale is the number of decimal places every stored amount keeps.
const AmountScale = 2

// Item is the auction state the bidding core cares about.
type Item struct {
	ID            string           `db:"id"`
	SellerID      string           `db:"seller_id"`
	Title         string           `db:"title"`
	StartingPrice decimal.Decimal  `db:"starting_price"`
	EndTime       time.Time        `db:"end_time"`
	Archived      bool             `db:"archived"`
	SoldOut       bool             `db:"sold_out"`
	SoldTo        *string          `db:"sold_to"`
	SoldPrice     *decimal.Decimal `db:"sold_price"`
	CreatedAt     time.Time        `db:"created_at"`
	ArchivedAt    *time.Time       `db:"archived_at"`
}

// Expired reports whether the auction end time has passed at now.
func (i *Item) Expired(now time.Time) bool {
	return i.EndTime.Before(now)
}

// Bid is an immutable ledger entry.
type Bid struct {
	ID        string          `db:"id"`
	ItemID    string          `db:"item_id"`
	BidderID  string          `db:"bidder_id"`
	Amount    decimal.Decimal `db:"amount"`
	Synthetic bool            `db:"is_synthetic"`
	CreatedAt time.Time       `db:"created_at"`
}

// AutoBid is a standing maximum-price order for one bidder on one item.
type AutoBid struct {
	ID        string          `db:"id"`
	BidderID  string          `db:"bidder_id"`
	ItemID    string          `db:"item_id"`
	MaxAmount decimal.Decimal `db:"max_amount"`
	Active    bool            `db:"active"`
	// Seq is a store-assigned insertion counter. It breaks createdAt ties.
	Seq       int64     `db:"seq"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// ItemRepository defines item persistence operations.
type ItemRepository interface {
	Create(ctx context.Context, it *Item) error
	GetByID(ctx context.Context, id string) (*Item, error)
	// ListExpired returns unarchived items whose end time is before now.
	ListExpired(ctx context.Context, now time.Time) ([]Item, error)
	// Archive closes the item at the given time on its highest bid, only if
	// it is not archived yet. The winner is read in the same atomic step as
	// the transition, so no bid can commit in between. It returns the
	// winning bid (nil when there were none) and whether this call performed
	// the transition.
	Archive(ctx context.Context, id string, at time.Time) (*Bid, bool, error)
}

// BidLedger is the append-only bid store.
type BidLedger interface {
	// Append assigns ID and CreatedAt and persists the bid. The amount is
	// rounded to AmountScale before it is compared and stored. It fails with
	// ErrStaleBid when the amount does not exceed the highest bid. A closed
	// item fails with ErrItemArchived, or ErrItemEnded when it is past its
	// end time but not archived yet. CreatedAt is strictly increasing per item.
	Append(ctx context.Context, b *Bid) error
	// Highest returns the highest bid for an item, or nil when there is none.
	Highest(ctx context.Context, itemID string) (*Bid, error)
	// ListByItem returns an item's bids newest first.
	ListByItem(ctx context.Context, itemID string) ([]Bid, error)
}

// AutoBidRegistry stores auto-bid orders, unique per (bidder, item).
type AutoBidRegistry interface {
	// Upsert creates the order or, if one exists for (bidder, item), updates
	// its max amount and reactivates it. ID, Seq and CreatedAt are filled in.
	Upsert(ctx context.Context, a *AutoBid) error
	// Get returns the order for (bidder, item) whether active or not.
	Get(ctx context.Context, bidderID, itemID string) (*AutoBid, error)
	// Deactivate sets active = false. It is idempotent; it returns
	// ErrNotFound only when no order exists.
	Deactivate(ctx context.Context, bidderID, itemID string) error
	// ListCompeting returns active orders on itemID excluding one bidder,
	// ordered by max amount descending, then created_at and seq ascending.
	ListCompeting(ctx context.Context, itemID, excludingBidderID string) ([]AutoBid, error)
	// ListActiveByBidder returns a bidder's active orders, oldest first.
	ListActiveByBidder(ctx context.Context, bidderID string) ([]AutoBid, error)
}

// Watchlist records items a bidder follows.
type Watchlist interface {
	// Add is idempotent.
	Add(ctx context.Context, bidderID, itemID string) error
	List(ctx context.Context, bidderID string) ([]string, error)
}
