package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/jensholdgaard/auctiond/internal/clock"
)

// Watchlist implements store.Watchlist with sqlx.
type Watchlist struct {
	db    *sqlx.DB
	clock clock.Clock
}

// NewWatchlist returns a new Watchlist.
func NewWatchlist(db *sqlx.DB, clk clock.Clock) *Watchlist {
	return &Watchlist{db: db, clock: clk}
}

func (w *Watchlist) Add(ctx context.Context, bidderID, itemID string) error {
	_, err := w.db.ExecContext(ctx,
		`INSERT INTO watchlist (bidder_id, item_id, added_at) VALUES ($1, $2, $3)
		 ON CONFLICT (bidder_id, item_id) DO NOTHING`,
		bidderID, itemID, w.clock.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("adding %s to watchlist of %s: %w", itemID, bidderID, err)
	}
	return nil
}

func (w *Watchlist) List(ctx context.Context, bidderID string) ([]string, error) {
	var ids []string
	err := w.db.SelectContext(ctx, &ids,
		`SELECT item_id FROM watchlist WHERE bidder_id = $1 ORDER BY added_at ASC, item_id ASC`, bidderID)
	if err != nil {
		return nil, fmt.Errorf("listing watchlist of %s: %w", bidderID, err)
	}
	return ids, nil
}
