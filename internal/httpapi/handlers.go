package httpapi

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/jensholdgaard/auctiond/internal/event"
)

type handler struct {
	svc    Service
	logger *slog.Logger
}

// POST /items
// Body: {"seller_id":"s1","title":"Lamp","starting_price":"10.00","end_time":"2025-06-16T12:00:00Z"}
func (h *handler) createItem(c *gin.Context) {
	var body struct {
		SellerID      string           `json:"seller_id" binding:"required"`
		Title         string           `json:"title"`
		StartingPrice *decimal.Decimal `json:"starting_price"`
		EndTime       time.Time        `json:"end_time"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, err.Error())
		return
	}
	if body.StartingPrice == nil {
		badRequest(c, "starting_price is required")
		return
	}

	it, err := h.svc.CreateItem(c.Request.Context(), body.SellerID, body.Title, *body.StartingPrice, body.EndTime)
	if err != nil {
		h.respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusCreated, newItemResponse(it))
}

// GET /items/:id
func (h *handler) getItem(c *gin.Context) {
	it, err := h.svc.GetItem(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, newItemResponse(it))
}

// GET /items/:id/bids
func (h *handler) history(c *gin.Context) {
	bids, err := h.svc.History(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondEngineError(c, err)
		return
	}
	out := make([]bidResponse, 0, len(bids))
	for _, b := range bids {
		out = append(out, newBidResponse(b))
	}
	c.JSON(http.StatusOK, out)
}

// POST /items/:id/bids
// Body: {"bidder_id":"b1","amount":"55.00"}
func (h *handler) placeBid(c *gin.Context) {
	var body struct {
		BidderID string           `json:"bidder_id" binding:"required"`
		Amount   *decimal.Decimal `json:"amount"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, err.Error())
		return
	}
	if body.Amount == nil {
		badRequest(c, "amount is required")
		return
	}

	bid, err := h.svc.PlaceBid(c.Request.Context(), c.Param("id"), body.BidderID, *body.Amount)
	if err != nil {
		h.respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusCreated, newBidResponse(*bid))
}

// PUT /items/:id/autobid
// Body: {"bidder_id":"b1","max_amount":"120.00"}
func (h *handler) setAutoBid(c *gin.Context) {
	var body struct {
		BidderID  string           `json:"bidder_id" binding:"required"`
		MaxAmount *decimal.Decimal `json:"max_amount"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, err.Error())
		return
	}
	if body.MaxAmount == nil {
		badRequest(c, "max_amount is required")
		return
	}

	order, err := h.svc.SetAutoBid(c.Request.Context(), c.Param("id"), body.BidderID, *body.MaxAmount)
	if err != nil {
		h.respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, newAutoBidResponse(*order))
}

// GET /items/:id/autobid?bidder_id=b1
func (h *handler) getAutoBid(c *gin.Context) {
	bidderID := c.Query("bidder_id")
	if bidderID == "" {
		badRequest(c, "bidder_id is required")
		return
	}

	order, err := h.svc.GetAutoBid(c.Request.Context(), c.Param("id"), bidderID)
	if err != nil {
		h.respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, newAutoBidResponse(*order))
}

// DELETE /items/:id/autobid?bidder_id=b1
func (h *handler) cancelAutoBid(c *gin.Context) {
	bidderID := c.Query("bidder_id")
	if bidderID == "" {
		badRequest(c, "bidder_id is required")
		return
	}

	if err := h.svc.CancelAutoBid(c.Request.Context(), c.Param("id"), bidderID); err != nil {
		h.respondEngineError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// POST /items/:id/sell
// Body: {"seller_id":"s1"}
func (h *handler) sell(c *gin.Context) {
	var body struct {
		SellerID string `json:"seller_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, err.Error())
		return
	}

	it, err := h.svc.Sell(c.Request.Context(), c.Param("id"), body.SellerID)
	if err != nil {
		h.respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, newItemResponse(it))
}

// GET /items/:id/events?type=bid.placed&type=item.archived
func (h *handler) events(c *gin.Context) {
	var types []event.Type
	for _, t := range c.QueryArray("type") {
		types = append(types, event.Type(t))
	}

	events, err := h.svc.Events(c.Request.Context(), c.Param("id"), types...)
	if err != nil {
		h.respondEngineError(c, err)
		return
	}
	if events == nil {
		events = []event.Event{}
	}
	c.JSON(http.StatusOK, events)
}

// GET /bidders/:id/autobids
func (h *handler) listAutoBids(c *gin.Context) {
	orders, err := h.svc.ListAutoBids(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondEngineError(c, err)
		return
	}
	out := make([]autoBidResponse, 0, len(orders))
	for _, a := range orders {
		out = append(out, newAutoBidResponse(a))
	}
	c.JSON(http.StatusOK, out)
}

// GET /bidders/:id/watchlist
func (h *handler) watchlist(c *gin.Context) {
	ids, err := h.svc.Watchlist(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondEngineError(c, err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"item_ids": ids})
}
