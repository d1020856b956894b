// Package event defines the audit trail written alongside the bid ledger.
// Events are informational: the ledger and the auto-bid registry remain the
// source of truth, and a failed append never fails a bid.
package event

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Type identifies an event kind.
type Type string

const (
	BidPlaced        Type = "bid.placed"
	AutoBidSet       Type = "autobid.set"
	AutoBidCancelled Type = "autobid.cancelled"
	ItemArchived     Type = "item.archived"
)

// Event represents a single audit event.
type Event struct {
	ID          string          `json:"id" db:"id"`
	AggregateID string          `json:"aggregate_id" db:"aggregate_id"`
	Type        Type            `json:"type" db:"type"`
	Data        json.RawMessage `json:"data" db:"data"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
}

// BidPlacedData is the payload for BidPlaced events.
type BidPlacedData struct {
	BidID     string          `json:"bid_id"`
	BidderID  string          `json:"bidder_id"`
	Amount    decimal.Decimal `json:"amount"`
	Synthetic bool            `json:"synthetic"`
}

// AutoBidData is the payload for AutoBidSet and AutoBidCancelled events.
type AutoBidData struct {
	AutoBidID string          `json:"autobid_id"`
	BidderID  string          `json:"bidder_id"`
	MaxAmount decimal.Decimal `json:"max_amount"`
}

// ItemArchivedData is the payload for ItemArchived events.
type ItemArchivedData struct {
	Reason    string           `json:"reason"` // "expired" or "sold"
	SoldTo    string           `json:"sold_to,omitempty"`
	SoldPrice *decimal.Decimal `json:"sold_price,omitempty"`
}

// New builds an event for aggregateID with payload marshalled to JSON.
func New(aggregateID string, t Type, payload any) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	return Event{AggregateID: aggregateID, Type: t, Data: data}, nil
}
