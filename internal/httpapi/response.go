package httpapi

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/jensholdgaard/auctiond/internal/auction"
	"github.com/jensholdgaard/auctiond/internal/store"
)

type errorBody struct {
	Reason   string           `json:"reason"`
	Message  string           `json:"message"`
	Required *decimal.Decimal `json:"required,omitempty"`
}

// respondError writes {"error": {...}} with the given status.
func respondError(c *gin.Context, status int, body errorBody) {
	c.AbortWithStatusJSON(status, gin.H{"error": body})
}

// respondEngineError maps an engine error onto a status code and body.
func (h *handler) respondEngineError(c *gin.Context, err error) {
	var v *auction.ValidationError
	switch {
	case errors.As(err, &v):
		respondError(c, validationStatus(err), errorBody{
			Reason:   v.Reason,
			Message:  v.Message,
			Required: v.Required,
		})
	case auction.IsNotFound(err):
		respondError(c, http.StatusNotFound, errorBody{Reason: "not_found", Message: err.Error()})
	case errors.Is(err, auction.ErrConflict):
		respondError(c, http.StatusConflict, errorBody{Reason: "conflict", Message: err.Error()})
	default:
		h.logger.ErrorContext(c.Request.Context(), "request failed",
			slog.String("route", c.FullPath()),
			slog.Any("error", err),
		)
		respondError(c, http.StatusInternalServerError, errorBody{Reason: "internal", Message: "internal error"})
	}
}

func validationStatus(err error) int {
	switch {
	case errors.Is(err, auction.ErrSelfBidForbidden), errors.Is(err, auction.ErrNotSeller):
		return http.StatusForbidden
	case errors.Is(err, auction.ErrAlreadyHighestBidder):
		return http.StatusConflict
	default:
		return http.StatusBadRequest
	}
}

func badRequest(c *gin.Context, msg string) {
	respondError(c, http.StatusBadRequest, errorBody{Reason: "invalid_request", Message: msg})
}

type itemResponse struct {
	ID            string           `json:"id"`
	SellerID      string           `json:"seller_id"`
	Title         string           `json:"title"`
	StartingPrice decimal.Decimal  `json:"starting_price"`
	EndTime       time.Time        `json:"end_time"`
	Archived      bool             `json:"archived"`
	SoldOut       bool             `json:"sold_out"`
	SoldTo        *string          `json:"sold_to,omitempty"`
	SoldPrice     *decimal.Decimal `json:"sold_price,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
	ArchivedAt    *time.Time       `json:"archived_at,omitempty"`
}

func newItemResponse(it *store.Item) itemResponse {
	return itemResponse{
		ID:            it.ID,
		SellerID:      it.SellerID,
		Title:         it.Title,
		StartingPrice: it.StartingPrice,
		EndTime:       it.EndTime,
		Archived:      it.Archived,
		SoldOut:       it.SoldOut,
		SoldTo:        it.SoldTo,
		SoldPrice:     it.SoldPrice,
		CreatedAt:     it.CreatedAt,
		ArchivedAt:    it.ArchivedAt,
	}
}

type bidResponse struct {
	ID        string          `json:"id"`
	ItemID    string          `json:"item_id"`
	BidderID  string          `json:"bidder_id"`
	Amount    decimal.Decimal `json:"amount"`
	Synthetic bool            `json:"synthetic"`
	CreatedAt time.Time       `json:"created_at"`
}

func newBidResponse(b store.Bid) bidResponse {
	return bidResponse{
		ID:        b.ID,
		ItemID:    b.ItemID,
		BidderID:  b.BidderID,
		Amount:    b.Amount,
		Synthetic: b.Synthetic,
		CreatedAt: b.CreatedAt,
	}
}

type autoBidResponse struct {
	ID        string          `json:"id"`
	BidderID  string          `json:"bidder_id"`
	ItemID    string          `json:"item_id"`
	MaxAmount decimal.Decimal `json:"max_amount"`
	Active    bool            `json:"active"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func newAutoBidResponse(a store.AutoBid) autoBidResponse {
	return autoBidResponse{
		ID:        a.ID,
		BidderID:  a.BidderID,
		ItemID:    a.ItemID,
		MaxAmount: a.MaxAmount,
		Active:    a.Active,
		CreatedAt: a.CreatedAt,
		UpdatedAt: a.UpdatedAt,
	}
}
