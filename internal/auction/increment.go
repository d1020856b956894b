package auction

import "github.com/shopspring/decimal"

// incrementTiers maps the upper bound of each price band (exclusive) to the
// minimum raise inside that band. Prices at or above the last bound use
// topIncrement.
var incrementTiers = []struct {
	below decimal.Decimal
	step  decimal.Decimal
}{
	{decimal.NewFromInt(100), decimal.NewFromInt(1)},
	{decimal.NewFromInt(500), decimal.NewFromInt(5)},
	{decimal.NewFromInt(1000), decimal.NewFromInt(10)},
	{decimal.NewFromInt(5000), decimal.NewFromInt(25)},
	{decimal.NewFromInt(10000), decimal.NewFromInt(50)},
	{decimal.NewFromInt(20000), decimal.NewFromInt(100)},
	{decimal.NewFromInt(50000), decimal.NewFromInt(250)},
}

var topIncrement = decimal.NewFromInt(500)

// MinIncrement returns the smallest legal raise over price.
func MinIncrement(price decimal.Decimal) decimal.Decimal {
	for _, t := range incrementTiers {
		if price.LessThan(t.below) {
			return t.step
		}
	}
	return topIncrement
}

// MinNextBid returns the lowest amount that may outbid price.
func MinNextBid(price decimal.Decimal) decimal.Decimal {
	return price.Add(MinIncrement(price))
}
