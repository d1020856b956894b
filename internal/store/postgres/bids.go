package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/jensholdgaard/auctiond/internal/clock"
	"github.com/jensholdgaard/auctiond/internal/store"
)

const bidColumns = `id, item_id, bidder_id, amount, is_synthetic, created_at`

// BidLedger implements store.BidLedger with sqlx. Appends lock the item row,
// so concurrent writers on one item are serialised by Postgres.
type BidLedger struct {
	db    *sqlx.DB
	clock clock.Clock
}

// NewBidLedger returns a new BidLedger.
func NewBidLedger(db *sqlx.DB, clk clock.Clock) *BidLedger {
	return &BidLedger{db: db, clock: clk}
}

func (l *BidLedger) Append(ctx context.Context, b *store.Bid) error {
	tx, err := l.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var state struct {
		Archived bool      `db:"archived"`
		EndTime  time.Time `db:"end_time"`
	}
	err = tx.GetContext(ctx, &state, `SELECT archived, end_time FROM items WHERE id = $1 FOR UPDATE`, b.ItemID)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("appending bid on item %s: %w", b.ItemID, store.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("locking item %s: %w", b.ItemID, err)
	}
	if state.Archived {
		return fmt.Errorf("appending bid on item %s: %w", b.ItemID, store.ErrItemArchived)
	}
	now := l.clock.Now().UTC().Truncate(time.Microsecond)
	if state.EndTime.Before(now) {
		return fmt.Errorf("appending bid on item %s: %w", b.ItemID, store.ErrItemEnded)
	}

	// Compared and stored at the column's scale.
	amount := b.Amount.Round(store.AmountScale)

	var top struct {
		Amount decimal.NullDecimal `db:"max_amount"`
		Last   sql.NullTime        `db:"last_at"`
	}
	err = tx.GetContext(ctx, &top,
		`SELECT MAX(amount) AS max_amount, MAX(created_at) AS last_at FROM bids WHERE item_id = $1`, b.ItemID)
	if err != nil {
		return fmt.Errorf("reading highest bid on item %s: %w", b.ItemID, err)
	}
	if top.Amount.Valid && !amount.GreaterThan(top.Amount.Decimal) {
		return fmt.Errorf("appending bid %s on item %s: %w", b.Amount, b.ItemID, store.ErrStaleBid)
	}

	if top.Last.Valid && !now.After(top.Last.Time) {
		now = top.Last.Time.UTC().Add(time.Microsecond)
	}

	id := uuid.NewString()
	_, err = tx.ExecContext(ctx,
		`INSERT INTO bids (id, item_id, bidder_id, amount, is_synthetic, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		id, b.ItemID, b.BidderID, amount, b.Synthetic, now,
	)
	if err != nil {
		return fmt.Errorf("inserting bid on item %s: %w", b.ItemID, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing bid on item %s: %w", b.ItemID, err)
	}

	b.ID = id
	b.Amount = amount
	b.CreatedAt = now
	return nil
}

func (l *BidLedger) Highest(ctx context.Context, itemID string) (*store.Bid, error) {
	var b store.Bid
	err := l.db.GetContext(ctx, &b,
		`SELECT `+bidColumns+` FROM bids WHERE item_id = $1
		 ORDER BY amount DESC, created_at ASC LIMIT 1`, itemID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting highest bid on item %s: %w", itemID, err)
	}
	return &b, nil
}

func (l *BidLedger) ListByItem(ctx context.Context, itemID string) ([]store.Bid, error) {
	var bids []store.Bid
	err := l.db.SelectContext(ctx, &bids,
		`SELECT `+bidColumns+` FROM bids WHERE item_id = $1 ORDER BY created_at DESC`, itemID)
	if err != nil {
		return nil, fmt.Errorf("listing bids on item %s: %w", itemID, err)
	}
	return bids, nil
}
