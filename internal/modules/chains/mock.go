package chains

import (
	"context"
	"hash/fnv"
	"math"
	"time"
)

// PriceFunc resolves the current underlying price for a symbol. The mock
// provider uses it so mock chains stay anchored to real snapshot prices.
type PriceFunc func(symbol string) (float64, bool)

// MockProvider generates deterministic synthetic chains for MOCK and DRY_RUN
// modes. Given the same symbol, underlying price, and calendar day, the
// output is identical.
type MockProvider struct {
	priceFor PriceFunc
	now      func() time.Time
}

// NewMockProvider creates a mock chain provider. priceFor may be nil, in
// which case a stable pseudo-price is derived from the symbol.
func NewMockProvider(priceFor PriceFunc) *MockProvider {
	return &MockProvider{
		priceFor: priceFor,
		now:      time.Now,
	}
}

// WithClock overrides the provider's clock. Tests use it to pin expiries.
func (m *MockProvider) WithClock(now func() time.Time) *MockProvider {
	m.now = now
	return m
}

// FetchChain generates the synthetic chain for one underlying.
func (m *MockProvider) FetchChain(ctx context.Context, symbol string) (*Chain, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	price := m.underlyingPrice(symbol)
	now := m.now().UTC()

	chain := &Chain{
		Symbol:     symbol,
		Underlying: price,
		FetchedAt:  now,
	}

	// Two monthly-style expiries inside the usual 21-45 DTE window.
	expiries := []time.Time{
		nextFriday(now.AddDate(0, 0, 28)),
		nextFriday(now.AddDate(0, 0, 35)),
	}

	// Put ladder below spot: deltas shrink as strikes move away.
	offsets := []struct {
		pct   float64
		delta float64
		oi    int
	}{
		{0.98, -0.42, 850},
		{0.95, -0.30, 1400},
		{0.92, -0.22, 1100},
		{0.88, -0.15, 600},
		{0.84, -0.09, 250},
	}

	for _, expiry := range expiries {
		dte := int(expiry.Sub(now).Hours() / 24)
		for _, o := range offsets {
			strike := roundStrike(price * o.pct)
			// Credit grows with time and proximity to the money.
			mid := price * math.Abs(o.delta) * 0.045 * math.Sqrt(float64(dte)/30.0)
			spread := mid * 0.06
			chain.Contracts = append(chain.Contracts, Contract{
				Symbol:       symbol,
				OptionSymbol: occSymbol(symbol, expiry, RightPut, strike),
				Expiry:       expiry.Format("2006-01-02"),
				Strike:       strike,
				Right:        RightPut,
				Bid:          round2(mid - spread/2),
				Ask:          round2(mid + spread/2),
				Delta:        o.delta,
				OpenInterest: o.oi,
				Volume:       int64(o.oi) * 3,
				IV:           0.22 + math.Abs(o.delta)/2,
			})
		}
	}
	return chain, nil
}

func (m *MockProvider) underlyingPrice(symbol string) float64 {
	if m.priceFor != nil {
		if price, ok := m.priceFor(symbol); ok && price > 0 {
			return price
		}
	}
	// Stable pseudo-price in the 20-420 range derived from the symbol.
	h := fnv.New32a()
	_, _ = h.Write([]byte(symbol))
	return 20 + float64(h.Sum32()%4000)/10
}

// nextFriday returns the first Friday on or after t, at midnight UTC.
func nextFriday(t time.Time) time.Time {
	t = t.Truncate(24 * time.Hour)
	offset := (int(time.Friday) - int(t.Weekday()) + 7) % 7
	return t.AddDate(0, 0, offset)
}

// roundStrike snaps to exchange-style increments: 0.5 below 25, 1 below 200,
// 5 above.
func roundStrike(v float64) float64 {
	switch {
	case v < 25:
		return math.Round(v*2) / 2
	case v < 200:
		return math.Round(v)
	default:
		return math.Round(v/5) * 5
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// occSymbol renders the exchange-native option symbol,
// e.g. AAPL260417P00165000.
func occSymbol(symbol string, expiry time.Time, right Right, strike float64) string {
	return symbol + expiry.Format("060102") + string(right) + padStrike(strike)
}

func padStrike(strike float64) string {
	milli := int64(math.Round(strike * 1000))
	digits := []byte("00000000")
	for i := 7; i >= 0 && milli > 0; i-- {
		digits[i] = byte('0' + milli%10)
		milli /= 10
	}
	return string(digits)
}
