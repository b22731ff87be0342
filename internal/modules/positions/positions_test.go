package positions

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swap2you/chakraops-sub000/internal/domain"
	chtesting "github.com/swap2you/chakraops-sub000/internal/testing"
)

func newService(t *testing.T) *Service {
	t.Helper()
	db, cleanup := chtesting.NewTestDB(t, "chakraops")
	t.Cleanup(cleanup)
	repo := NewRepository(db.Conn(), zerolog.Nop())
	return NewService(repo, zerolog.Nop()).
		WithClock(func() time.Time { return time.Date(2026, 3, 20, 15, 0, 0, 0, time.UTC) })
}

func TestOpenAppliesDefaults(t *testing.T) {
	svc := newService(t)

	p, err := svc.Open(Position{Symbol: " aapl ", Credit: 246, ContractKey: "AAPL-165.00-2026-04-17-P"})
	require.NoError(t, err)
	assert.NotEmpty(t, p.ID)
	assert.Equal(t, "AAPL", p.Symbol)
	assert.Equal(t, domain.StrategyCSP, p.Strategy)
	assert.Equal(t, 1, p.Quantity)
	assert.Equal(t, StatusOpen, p.Status)
	assert.False(t, p.OpenedAt.IsZero())
	assert.Nil(t, p.ClosedAt)

	got, err := svc.Get(p.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, p.ID, got.ID)
	assert.Equal(t, 246.0, got.Credit)
}

func TestOpenValidation(t *testing.T) {
	svc := newService(t)

	var cfgErr *domain.ConfigError

	_, err := svc.Open(Position{Symbol: "  "})
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "symbol", cfgErr.Key)

	_, err = svc.Open(Position{Symbol: "AAPL", Strategy: "IRON_CONDOR"})
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "strategy", cfgErr.Key)

	_, err = svc.Open(Position{Symbol: "AAPL", Credit: -1})
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "credit", cfgErr.Key)
}

func TestCloseLifecycle(t *testing.T) {
	svc := newService(t)

	p, err := svc.Open(Position{Symbol: "AAPL", Credit: 246})
	require.NoError(t, err)

	closed, err := svc.Close(p.ID)
	require.NoError(t, err)
	require.NotNil(t, closed)
	assert.Equal(t, StatusClosed, closed.Status)
	require.NotNil(t, closed.ClosedAt)

	// Closing again is an invalid transition.
	_, err = svc.Close(p.ID)
	var lcErr *domain.LifecycleError
	require.ErrorAs(t, err, &lcErr)
	assert.Equal(t, "position", lcErr.Entity)

	// Unknown id is not an error, just absent.
	missing, err := svc.Close("no-such-id")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestListFiltersByStatus(t *testing.T) {
	svc := newService(t)

	a, err := svc.Open(Position{Symbol: "AAPL", Credit: 246})
	require.NoError(t, err)
	_, err = svc.Open(Position{Symbol: "NVDA", Credit: 510})
	require.NoError(t, err)
	_, err = svc.Close(a.ID)
	require.NoError(t, err)

	open, err := svc.List(StatusOpen)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "NVDA", open[0].Symbol)

	all, err := svc.List("")
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestOpenSymbols(t *testing.T) {
	svc := newService(t)

	a, err := svc.Open(Position{Symbol: "AAPL", Credit: 246})
	require.NoError(t, err)
	_, err = svc.Open(Position{Symbol: "AAPL", Credit: 120})
	require.NoError(t, err)
	_, err = svc.Open(Position{Symbol: "NVDA", Credit: 510})
	require.NoError(t, err)

	symbols, err := svc.OpenSymbols()
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"AAPL": true, "NVDA": true}, symbols)

	_, err = svc.Close(a.ID)
	require.NoError(t, err)
	symbols, err = svc.OpenSymbols()
	require.NoError(t, err)
	assert.True(t, symbols["AAPL"], "one AAPL lot is still open")

	deleted, err := svc.Delete(a.ID)
	require.NoError(t, err)
	assert.True(t, deleted)
	deleted, err = svc.Delete(a.ID)
	require.NoError(t, err)
	assert.False(t, deleted)
}
