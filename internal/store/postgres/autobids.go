package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jensholdgaard/auctiond/internal/clock"
	"github.com/jensholdgaard/auctiond/internal/store"
)

const autoBidColumns = `id, bidder_id, item_id, max_amount, active, seq, created_at, updated_at`

// AutoBidRegistry implements store.AutoBidRegistry with sqlx.
type AutoBidRegistry struct {
	db    *sqlx.DB
	clock clock.Clock
}

// NewAutoBidRegistry returns a new AutoBidRegistry.
func NewAutoBidRegistry(db *sqlx.DB, clk clock.Clock) *AutoBidRegistry {
	return &AutoBidRegistry{db: db, clock: clk}
}

func (r *AutoBidRegistry) Upsert(ctx context.Context, a *store.AutoBid) error {
	now := r.clock.Now().UTC().Truncate(time.Microsecond)
	err := r.db.GetContext(ctx, a,
		`INSERT INTO auto_bids (id, bidder_id, item_id, max_amount, active, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, TRUE, $5, $5)
		 ON CONFLICT (bidder_id, item_id)
		 DO UPDATE SET max_amount = EXCLUDED.max_amount, active = TRUE, updated_at = EXCLUDED.updated_at
		 RETURNING `+autoBidColumns,
		uuid.NewString(), a.BidderID, a.ItemID, a.MaxAmount, now,
	)
	if err != nil {
		return fmt.Errorf("upserting auto-bid for %s on %s: %w", a.BidderID, a.ItemID, err)
	}
	return nil
}

func (r *AutoBidRegistry) Get(ctx context.Context, bidderID, itemID string) (*store.AutoBid, error) {
	if !isUUID(itemID) {
		return nil, fmt.Errorf("getting auto-bid for %s on %s: %w", bidderID, itemID, store.ErrNotFound)
	}
	var a store.AutoBid
	err := r.db.GetContext(ctx, &a,
		`SELECT `+autoBidColumns+` FROM auto_bids WHERE bidder_id = $1 AND item_id = $2`, bidderID, itemID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("getting auto-bid for %s on %s: %w", bidderID, itemID, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting auto-bid for %s on %s: %w", bidderID, itemID, err)
	}
	return &a, nil
}

func (r *AutoBidRegistry) Deactivate(ctx context.Context, bidderID, itemID string) error {
	if !isUUID(itemID) {
		return fmt.Errorf("deactivating auto-bid for %s on %s: %w", bidderID, itemID, store.ErrNotFound)
	}
	now := r.clock.Now().UTC()
	result, err := r.db.ExecContext(ctx,
		`UPDATE auto_bids
		 SET updated_at = CASE WHEN active THEN $1 ELSE updated_at END, active = FALSE
		 WHERE bidder_id = $2 AND item_id = $3`,
		now, bidderID, itemID,
	)
	if err != nil {
		return fmt.Errorf("deactivating auto-bid for %s on %s: %w", bidderID, itemID, err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("deactivating auto-bid for %s on %s: %w", bidderID, itemID, store.ErrNotFound)
	}
	return nil
}

func (r *AutoBidRegistry) ListCompeting(ctx context.Context, itemID, excludingBidderID string) ([]store.AutoBid, error) {
	var out []store.AutoBid
	err := r.db.SelectContext(ctx, &out,
		`SELECT `+autoBidColumns+` FROM auto_bids
		 WHERE item_id = $1 AND active AND bidder_id <> $2
		 ORDER BY max_amount DESC, created_at ASC, seq ASC`, itemID, excludingBidderID)
	if err != nil {
		return nil, fmt.Errorf("listing competing auto-bids on %s: %w", itemID, err)
	}
	return out, nil
}

func (r *AutoBidRegistry) ListActiveByBidder(ctx context.Context, bidderID string) ([]store.AutoBid, error) {
	var out []store.AutoBid
	err := r.db.SelectContext(ctx, &out,
		`SELECT `+autoBidColumns+` FROM auto_bids WHERE bidder_id = $1 AND active ORDER BY seq ASC`, bidderID)
	if err != nil {
		return nil, fmt.Errorf("listing auto-bids of %s: %w", bidderID, err)
	}
	return out, nil
}
