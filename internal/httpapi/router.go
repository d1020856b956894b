// Package httpapi exposes the bidding engine over HTTP.
package httpapi

import (
	"context"
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/trace"

	"github.com/jensholdgaard/auctiond/internal/event"
	"github.com/jensholdgaard/auctiond/internal/health"
	"github.com/jensholdgaard/auctiond/internal/store"
)

const instrumentationName = "github.com/jensholdgaard/auctiond/internal/httpapi"

// Service is the set of engine operations served over HTTP.
type Service interface {
	CreateItem(ctx context.Context, sellerID, title string, startingPrice decimal.Decimal, endTime time.Time) (*store.Item, error)
	GetItem(ctx context.Context, itemID string) (*store.Item, error)
	History(ctx context.Context, itemID string) ([]store.Bid, error)
	PlaceBid(ctx context.Context, itemID, bidderID string, amount decimal.Decimal) (*store.Bid, error)
	SetAutoBid(ctx context.Context, itemID, bidderID string, maxAmount decimal.Decimal) (*store.AutoBid, error)
	GetAutoBid(ctx context.Context, itemID, bidderID string) (*store.AutoBid, error)
	CancelAutoBid(ctx context.Context, itemID, bidderID string) error
	Sell(ctx context.Context, itemID, sellerID string) (*store.Item, error)
	ListAutoBids(ctx context.Context, bidderID string) ([]store.AutoBid, error)
	Watchlist(ctx context.Context, bidderID string) ([]string, error)
	Events(ctx context.Context, itemID string, types ...event.Type) ([]event.Event, error)
}

// NewRouter builds the gin engine with every route mounted.
func NewRouter(svc Service, probes *health.Handler, logger *slog.Logger, tp trace.TracerProvider) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	probes.Register(r)

	h := &handler{svc: svc, logger: logger}

	api := r.Group("")
	api.Use(tracing(tp), requestLog(logger))
	{
		items := api.Group("/items")
		items.POST("", h.createItem)
		items.GET("/:id", h.getItem)
		items.GET("/:id/bids", h.history)
		items.POST("/:id/bids", h.placeBid)
		items.PUT("/:id/autobid", h.setAutoBid)
		items.GET("/:id/autobid", h.getAutoBid)
		items.DELETE("/:id/autobid", h.cancelAutoBid)
		items.POST("/:id/sell", h.sell)
		items.GET("/:id/events", h.events)

		bidders := api.Group("/bidders")
		bidders.GET("/:id/autobids", h.listAutoBids)
		bidders.GET("/:id/watchlist", h.watchlist)
	}
	return r
}
