package market_regime

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swap2you/chakraops-sub000/internal/domain"
	"github.com/swap2you/chakraops-sub000/internal/modules/snapshots"
	chtesting "github.com/swap2you/chakraops-sub000/internal/testing"
)

// fakeSource serves canned snapshot prices keyed by snapshot id.
type fakeSource struct {
	ids    []string // newest first
	prices map[string]map[string]snapshots.PriceView
}

func (f *fakeSource) GetLatestID() (string, error) {
	if len(f.ids) == 0 {
		return "", nil
	}
	return f.ids[0], nil
}

func (f *fakeSource) GetPreviousID(id string) (string, error) {
	for i, candidate := range f.ids {
		if candidate == id && i+1 < len(f.ids) {
			return f.ids[i+1], nil
		}
	}
	return "", nil
}

func (f *fakeSource) GetPrices(id string) (map[string]snapshots.PriceView, error) {
	return f.prices[id], nil
}

func newTestDetector(t *testing.T, source *fakeSource) (*Detector, *Repository, func()) {
	t.Helper()
	db, cleanup := chtesting.NewTestDB(t, "chakraops")
	repo := NewRepository(db.Conn(), zerolog.Nop())
	det := NewDetector(source, repo, []string{"SPY", "QQQ"}, zerolog.Nop())
	return det, repo, cleanup
}

func TestComputeTwoSnapshots(t *testing.T) {
	source := &fakeSource{
		ids: []string{"snap-2", "snap-1"},
		prices: map[string]map[string]snapshots.PriceView{
			"snap-2": {
				"SPY": {Price: 460.0},
				"QQQ": {Price: 392.0},
			},
			"snap-1": {
				"SPY": {Price: 450.0},
				"QQQ": {Price: 385.0},
			},
		},
	}
	det, repo, cleanup := newTestDetector(t, source)
	defer cleanup()

	rec, err := det.Compute(time.Now())
	require.NoError(t, err)

	assert.Equal(t, MethodTwoSnapshot, rec.Method)
	assert.Equal(t, "SPY", rec.BenchmarkSymbol)
	assert.InDelta(t, 10.0/450.0, rec.BenchmarkReturn, 1e-9)
	// First computation: smoothed equals raw, ~2.2% return is BULL.
	assert.Equal(t, domain.RegimeBull, rec.Regime)
	assert.Greater(t, rec.Confidence, 0.0)

	stored, err := repo.GetLatest()
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, rec.Regime, stored.Regime)
}

func TestComputeBootstrapSingleSnapshot(t *testing.T) {
	source := &fakeSource{
		ids: []string{"snap-1"},
		prices: map[string]map[string]snapshots.PriceView{
			"snap-1": {"SPY": {Price: 452.1}},
		},
	}
	det, _, cleanup := newTestDetector(t, source)
	defer cleanup()

	rec, err := det.Compute(time.Now())
	require.NoError(t, err)

	assert.Equal(t, MethodBootstrap, rec.Method)
	assert.Equal(t, domain.RegimeNeutral, rec.Regime)
	assert.Zero(t, rec.BenchmarkReturn)
	assert.Zero(t, rec.SmoothedReturn)
}

func TestComputeNoSnapshots(t *testing.T) {
	det, repo, cleanup := newTestDetector(t, &fakeSource{})
	defer cleanup()

	rec, err := det.Compute(time.Now())
	require.NoError(t, err)
	assert.Equal(t, domain.RegimeUnknown, rec.Regime)

	// Nothing persisted without data.
	stored, err := repo.GetLatest()
	require.NoError(t, err)
	assert.Nil(t, stored)
}

func TestComputeSmoothsAgainstHistory(t *testing.T) {
	source := &fakeSource{
		ids: []string{"snap-2", "snap-1"},
		prices: map[string]map[string]snapshots.PriceView{
			"snap-2": {"SPY": {Price: 463.5}}, // +3%
			"snap-1": {"SPY": {Price: 450.0}},
		},
	}
	det, repo, cleanup := newTestDetector(t, source)
	defer cleanup()

	// Seed a prior two-snapshot record with a flat smoothed return.
	require.NoError(t, repo.Insert(&Record{
		RecordedAt:      time.Now().Add(-time.Hour),
		Regime:          domain.RegimeNeutral,
		BenchmarkSymbol: "SPY",
		Method:          MethodTwoSnapshot,
	}))

	rec, err := det.Compute(time.Now())
	require.NoError(t, err)

	// EMA with alpha 0.1 over prior 0: 0.1 * 3% = 0.3%.
	assert.InDelta(t, 0.003, rec.SmoothedReturn, 1e-9)
	assert.Equal(t, domain.RegimeRiskOn, rec.Regime)
}

func TestClassifyThresholds(t *testing.T) {
	tests := []struct {
		ret  float64
		want domain.Regime
	}{
		{0.02, domain.RegimeBull},
		{0.005, domain.RegimeRiskOn},
		{0.0, domain.RegimeNeutral},
		{-0.005, domain.RegimeRiskOff},
		{-0.02, domain.RegimeBear},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, classify(tt.ret), "return %v", tt.ret)
	}
}

func TestConfidence(t *testing.T) {
	// Perfect agreement across benchmarks.
	assert.Equal(t, 100.0, confidence([]float64{0.01, 0.01}))
	// One benchmark: midpoint.
	assert.Equal(t, 50.0, confidence([]float64{0.01}))
	// No benchmarks: zero.
	assert.Equal(t, 0.0, confidence(nil))
	// Wild disagreement drives confidence down.
	assert.Less(t, confidence([]float64{0.03, -0.03}), 20.0)
}
