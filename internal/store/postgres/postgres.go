// Package postgres implements the store interfaces on Postgres through sqlx.
// The driver registers itself as "sqlx".
package postgres

import (
	"context"
	"fmt"

	"github.com/XSAM/otelsql"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/jensholdgaard/auctiond/internal/clock"
	"github.com/jensholdgaard/auctiond/internal/config"
	"github.com/jensholdgaard/auctiond/internal/store"
)

func init() {
	store.Register("sqlx", Open)
}

// Open connects to Postgres, brings the schema up to date and returns the
// sqlx-backed repositories.
func Open(ctx context.Context, cfg config.DatabaseConfig, clk clock.Clock) (*store.Repositories, error) {
	db, err := Connect(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return NewRepositories(db, clk), nil
}

// NewRepositories wires every repository onto an existing connection.
func NewRepositories(db *sqlx.DB, clk clock.Clock) *store.Repositories {
	return &store.Repositories{
		Items:     NewItemRepo(db, clk),
		Bids:      NewBidLedger(db, clk),
		AutoBids:  NewAutoBidRegistry(db, clk),
		Watchlist: NewWatchlist(db, clk),
		Events:    NewEventStore(db, clk),
		Closer:    db,
		Ping:      db.PingContext,
	}
}

// isUUID reports whether id fits a UUID column. Anything else cannot match
// a row and is reported as not found instead of a query error.
func isUUID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// Connect opens and verifies a Postgres connection with OTEL instrumentation.
func Connect(ctx context.Context, cfg config.DatabaseConfig) (*sqlx.DB, error) {
	dsn := cfg.DSN()

	// Register the OTel-instrumented driver wrapping lib/pq.
	driverName, err := otelsql.Register("postgres",
		otelsql.WithAttributes(semconv.DBSystemPostgreSQL),
	)
	if err != nil {
		return nil, fmt.Errorf("registering otel driver: %w", err)
	}

	db, err := sqlx.ConnectContext(ctx, driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return db, nil
}
