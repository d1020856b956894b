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

const itemColumns = `id, seller_id, title, starting_price, end_time, archived, sold_out,
	sold_to, sold_price, created_at, archived_at`

// ItemRepo implements store.ItemRepository with sqlx.
type ItemRepo struct {
	db    *sqlx.DB
	clock clock.Clock
}

// NewItemRepo returns a new ItemRepo.
func NewItemRepo(db *sqlx.DB, clk clock.Clock) *ItemRepo {
	return &ItemRepo{db: db, clock: clk}
}

func (r *ItemRepo) Create(ctx context.Context, it *store.Item) error {
	if it.ID == "" {
		it.ID = uuid.NewString()
	}
	it.CreatedAt = r.clock.Now().UTC().Truncate(time.Microsecond)
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO items (id, seller_id, title, starting_price, end_time, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		it.ID, it.SellerID, it.Title, it.StartingPrice, it.EndTime.UTC(), it.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("creating item: %w", err)
	}
	return nil
}

func (r *ItemRepo) GetByID(ctx context.Context, id string) (*store.Item, error) {
	if !isUUID(id) {
		return nil, fmt.Errorf("getting item %s: %w", id, store.ErrNotFound)
	}
	var it store.Item
	err := r.db.GetContext(ctx, &it, `SELECT `+itemColumns+` FROM items WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("getting item %s: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting item %s: %w", id, err)
	}
	return &it, nil
}

func (r *ItemRepo) ListExpired(ctx context.Context, now time.Time) ([]store.Item, error) {
	var items []store.Item
	err := r.db.SelectContext(ctx, &items,
		`SELECT `+itemColumns+` FROM items
		 WHERE archived = FALSE AND end_time < $1 ORDER BY end_time ASC`, now.UTC())
	if err != nil {
		return nil, fmt.Errorf("listing expired items: %w", err)
	}
	return items, nil
}

// Archive locks the item row, the same lock BidLedger.Append takes, so the
// winner read and the update see every committed bid and no new one.
func (r *ItemRepo) Archive(ctx context.Context, id string, at time.Time) (*store.Bid, bool, error) {
	if !isUUID(id) {
		return nil, false, fmt.Errorf("archiving item %s: %w", id, store.ErrNotFound)
	}
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var archived bool
	err = tx.GetContext(ctx, &archived, `SELECT archived FROM items WHERE id = $1 FOR UPDATE`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, fmt.Errorf("archiving item %s: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return nil, false, fmt.Errorf("locking item %s: %w", id, err)
	}
	if archived {
		return nil, false, nil
	}

	var (
		top       store.Bid
		winner    *store.Bid
		soldTo    *string
		soldPrice *decimal.Decimal
	)
	err = tx.GetContext(ctx, &top,
		`SELECT `+bidColumns+` FROM bids WHERE item_id = $1
		 ORDER BY amount DESC, created_at ASC LIMIT 1`, id)
	switch {
	case err == nil:
		winner = &top
		soldTo, soldPrice = &top.BidderID, &top.Amount
	case !errors.Is(err, sql.ErrNoRows):
		return nil, false, fmt.Errorf("reading winner of item %s: %w", id, err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE items SET archived = TRUE, archived_at = $1, sold_out = $2, sold_to = $3, sold_price = $4
		 WHERE id = $5`,
		at.UTC(), winner != nil, soldTo, soldPrice, id,
	)
	if err != nil {
		return nil, false, fmt.Errorf("archiving item %s: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("committing archive of item %s: %w", id, err)
	}
	return winner, true, nil
}
