// Package chains fetches option chains from the external provider. Stage 2
// of the evaluation engine is its only consumer: every fetch carries a
// per-call timeout, requests are rate limited, and repeated upstream
// failures open a circuit breaker so a dead provider cannot stall a cycle.
package chains

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Right is the option side of a contract.
type Right string

const (
	RightPut  Right = "P"
	RightCall Right = "C"
)

// Contract is one option contract as returned by the provider.
type Contract struct {
	Symbol       string  `json:"symbol"`
	OptionSymbol string  `json:"option_symbol,omitempty"`
	Expiry       string  `json:"expiry"` // ISO date
	Strike       float64 `json:"strike"`
	Right        Right   `json:"right"`
	Bid          float64 `json:"bid"`
	Ask          float64 `json:"ask"`
	Delta        float64 `json:"delta"`
	OpenInterest int     `json:"open_interest"`
	Volume       int64   `json:"volume"`
	IV           float64 `json:"iv,omitempty"`
}

// Chain is the provider response for one underlying.
type Chain struct {
	Symbol       string     `json:"symbol"`
	Underlying   float64    `json:"underlying_price"`
	Contracts    []Contract `json:"contracts"`
	NextEarnings *string    `json:"next_earnings,omitempty"` // ISO date, when known
	FetchedAt    time.Time  `json:"fetched_at"`
}

// DTE returns the contract's days to expiry relative to now, or -1 when the
// expiry does not parse.
func (c Contract) DTE(now time.Time) int {
	expiry, err := time.Parse("2006-01-02", c.Expiry)
	if err != nil {
		return -1
	}
	return int(expiry.Sub(now.Truncate(24*time.Hour)).Hours() / 24)
}

// Mid returns the bid/ask midpoint.
func (c Contract) Mid() float64 {
	return (c.Bid + c.Ask) / 2
}

// SpreadPct returns the bid/ask spread as a percentage of the midpoint.
// A zero midpoint reports as fully spread.
func (c Contract) SpreadPct() float64 {
	mid := c.Mid()
	if mid <= 0 {
		return 100
	}
	return (c.Ask - c.Bid) / mid * 100
}

// Key returns the canonical contract key, "<strike>-<expiry>-<right>".
// Strikes print without trailing zeros so 100.00 and 100 key identically.
func (c Contract) Key() string {
	strike := decimal.NewFromFloat(c.Strike)
	return fmt.Sprintf("%s-%s-%s", strike.String(), c.Expiry, c.Right)
}
