package auction

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/jensholdgaard/auctiond/internal/store"
)

// Validation failures. They are returned wrapped in a *ValidationError and
// match with errors.Is.
var (
	ErrItemUnavailable      = errors.New("item is not available for bidding")
	ErrSelfBidForbidden     = errors.New("sellers cannot bid on their own item")
	ErrAlreadyHighestBidder = errors.New("bidder already holds the highest bid")
	ErrBidTooLow            = errors.New("bid is below the minimum")
	ErrMaxBidTooLow         = errors.New("auto-bid maximum does not exceed the current price")
	ErrNotSeller            = errors.New("only the seller can sell the item")
	ErrNoBids               = errors.New("item has no bids")
	ErrInvalidItem          = errors.New("invalid item")
	ErrInvalidAmount        = errors.New("amount has more decimal places than money allows")
)

var (
	// ErrNotFound aliases the store sentinel so callers need only this package.
	ErrNotFound = store.ErrNotFound
	// ErrConflict is returned when a commit keeps losing to concurrent writers.
	ErrConflict = errors.New("too much contention on item, try again")
	// ErrCascadeLimit means a cascade ran past its step cap. It is a bug.
	ErrCascadeLimit = errors.New("auto-bid cascade exceeded step limit")
)

var reasons = map[error]string{
	ErrItemUnavailable:      "item_unavailable",
	ErrSelfBidForbidden:     "self_bid_forbidden",
	ErrAlreadyHighestBidder: "already_highest_bidder",
	ErrBidTooLow:            "bid_too_low",
	ErrMaxBidTooLow:         "max_bid_too_low",
	ErrNotSeller:            "not_seller",
	ErrNoBids:               "no_bids",
	ErrInvalidItem:          "invalid_item",
	ErrInvalidAmount:        "invalid_amount",
}

// ValidationError is an expected, user-facing rejection. It is never retried.
type ValidationError struct {
	Reason  string
	Message string
	// Required is the computed threshold for bid_too_low and max_bid_too_low.
	Required *decimal.Decimal

	err error
}

func (e *ValidationError) Error() string { return e.Message }

func (e *ValidationError) Unwrap() error { return e.err }

func invalid(sentinel error, format string, args ...any) *ValidationError {
	return &ValidationError{
		Reason:  reasons[sentinel],
		Message: fmt.Sprintf(format, args...),
		err:     sentinel,
	}
}

func invalidAmount(sentinel error, required decimal.Decimal, format string, args ...any) *ValidationError {
	v := invalid(sentinel, format, args...)
	v.Required = &required
	return v
}

// checkScale rejects amounts with sub-cent digits. Trailing zeros are fine.
func checkScale(field string, amount decimal.Decimal) error {
	if !amount.Equal(amount.Truncate(store.AmountScale)) {
		return invalid(ErrInvalidAmount, "%s %s has more than %d decimal places", field, amount, store.AmountScale)
	}
	return nil
}

// IsValidation reports whether err is a user-facing validation failure.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// IsNotFound reports whether err means a referenced record does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}
