package chains

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swap2you/chakraops-sub000/internal/domain"
)

func chainFixture() *Chain {
	return &Chain{
		Symbol:     "AAPL",
		Underlying: 172.5,
		Contracts: []Contract{
			{
				Symbol: "AAPL", Expiry: "2026-04-17", Strike: 165, Right: RightPut,
				Bid: 1.40, Ask: 1.52, Delta: -0.25, OpenInterest: 1200,
			},
		},
	}
}

func TestFetchChainSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chain", r.URL.Path)
		assert.Equal(t, "AAPL", r.URL.Query().Get("symbol"))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(chainFixture())
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL, 5*time.Second, zerolog.Nop())
	chain, err := client.FetchChain(context.Background(), "aapl ")
	require.NoError(t, err)

	assert.Equal(t, "AAPL", chain.Symbol)
	require.Len(t, chain.Contracts, 1)
	assert.Equal(t, 165.0, chain.Contracts[0].Strike)
	assert.False(t, chain.FetchedAt.IsZero())
}

func TestFetchChainNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL, 5*time.Second, zerolog.Nop())
	_, err := client.FetchChain(context.Background(), "ZZZZ")
	require.Error(t, err)

	var perr *domain.ProviderError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, "UPSTREAM", perr.Reason)
	assert.Equal(t, "ZZZZ", perr.Symbol)
}

func TestFetchChainTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL, 50*time.Millisecond, zerolog.Nop())
	_, err := client.FetchChain(context.Background(), "AAPL")
	require.Error(t, err)

	var perr *domain.ProviderError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, "TIMEOUT", perr.Reason)
	assert.True(t, perr.Timeout)
}

func TestFetchChainCircuitOpens(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL, time.Second, zerolog.Nop())

	// Drive consecutive failures until the breaker trips.
	var last error
	for i := 0; i < breakerFailures+1; i++ {
		_, last = client.FetchChain(context.Background(), "AAPL")
		require.Error(t, last)
	}

	var perr *domain.ProviderError
	require.True(t, errors.As(last, &perr))
	assert.Equal(t, "CIRCUIT_OPEN", perr.Reason)
}

func TestContractHelpers(t *testing.T) {
	c := Contract{Expiry: "2026-04-17", Strike: 165, Right: RightPut, Bid: 1.40, Ask: 1.60}

	assert.Equal(t, 1.50, c.Mid())
	assert.InDelta(t, 13.33, c.SpreadPct(), 0.01)
	assert.Equal(t, "165-2026-04-17-P", c.Key())

	half := Contract{Expiry: "2026-04-17", Strike: 22.5, Right: RightPut}
	assert.Equal(t, "22.5-2026-04-17-P", half.Key())

	now := time.Date(2026, 3, 20, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, 28, c.DTE(now))
}

func TestMockProviderDeterministic(t *testing.T) {
	clock := func() time.Time { return time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC) }
	prices := func(symbol string) (float64, bool) { return 100, true }

	a := NewMockProvider(prices).WithClock(clock)
	b := NewMockProvider(prices).WithClock(clock)

	chainA, err := a.FetchChain(context.Background(), "AAPL")
	require.NoError(t, err)
	chainB, err := b.FetchChain(context.Background(), "AAPL")
	require.NoError(t, err)

	assert.Equal(t, chainA.Contracts, chainB.Contracts)
	assert.NotEmpty(t, chainA.Contracts)

	// Strikes sit below spot for a put ladder.
	for _, c := range chainA.Contracts {
		assert.Less(t, c.Strike, 100.0)
		assert.Equal(t, RightPut, c.Right)
		assert.Greater(t, c.Ask, c.Bid)
	}
}

func TestMockProviderPseudoPriceStable(t *testing.T) {
	m := NewMockProvider(nil)
	assert.Equal(t, m.underlyingPrice("NVDA"), m.underlyingPrice("NVDA"))
	assert.GreaterOrEqual(t, m.underlyingPrice("NVDA"), 20.0)
}

func TestOCCSymbol(t *testing.T) {
	expiry := time.Date(2026, 4, 17, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, "AAPL260417P00165000", occSymbol("AAPL", expiry, RightPut, 165))
}
