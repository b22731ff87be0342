package evaluation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swap2you/chakraops-sub000/internal/domain"
)

func TestComputeScoreBounds(t *testing.T) {
	cfg := testStrategy(t)

	// Best case: target-band price, bull regime, top priority, fresh data,
	// high IV, deep liquidity.
	in := passingInput()
	in.Price = 80
	in.Regime = domain.RegimeBull
	in.Priority = 1
	in.DataAgeMinutes = 10
	iv := 75.0
	in.IVRank = &iv
	in.Volume = 10_000_000

	final, raw, breakdown := computeScore(cfg.Scoring, cfg.Gates, in)
	assert.Equal(t, 100, final)
	assert.InDelta(t, 100, raw, 0.001)
	assert.Len(t, breakdown, 6)

	var sum float64
	for _, points := range breakdown {
		sum += points
	}
	assert.InDelta(t, raw, sum, 0.001)
}

func TestPriceScoreTriangular(t *testing.T) {
	cfg := testStrategy(t)
	// Defaults: gates [15, 400], target [30, 120].
	cases := []struct {
		price float64
		want  float64
	}{
		{30, 1},
		{120, 1},
		{75, 1},
		{15, 0},                  // at the hard floor
		{22.5, 0.5},              // halfway up the left slope
		{400, 0},                 // at the hard ceiling
		{260, 0.5},               // halfway down the right slope
		{5, 0},                   // below the floor
		{500, 0},                 // above the ceiling
		{27, (27 - 15) / 15.0},   // left slope interpolation
		{190, (400 - 190) / 280.0}, // right slope interpolation
	}
	for _, tc := range cases {
		assert.InDelta(t, tc.want, priceScore(cfg.Scoring, cfg.Gates, tc.price), 0.0001, "price %.1f", tc.price)
	}
}

func TestFreshnessTiers(t *testing.T) {
	assert.Equal(t, 1.0, freshnessScore(0))
	assert.Equal(t, 1.0, freshnessScore(60))
	assert.Equal(t, 0.5, freshnessScore(61))
	assert.Equal(t, 0.5, freshnessScore(360))
	assert.Equal(t, 0.0, freshnessScore(361))
}

func TestIVRankTiers(t *testing.T) {
	assert.Equal(t, 0.0, ivRankScore(nil))
	for _, tc := range []struct {
		rank float64
		want float64
	}{{75, 1.0}, {70, 1.0}, {55, 0.75}, {35, 0.5}, {10, 0.25}} {
		rank := tc.rank
		assert.Equal(t, tc.want, ivRankScore(&rank), "rank %.0f", tc.rank)
	}
}

func TestLiquidityTiers(t *testing.T) {
	assert.Equal(t, 1.0, liquidityScore(5_000_000, 1_000_000))
	assert.Equal(t, 0.7, liquidityScore(2_500_000, 1_000_000))
	assert.Equal(t, 0.4, liquidityScore(1_200_000, 1_000_000))
	assert.Equal(t, 0.0, liquidityScore(500_000, 1_000_000))
	assert.Equal(t, 1.0, liquidityScore(1, 0))
}

func TestPriorityScoreClamps(t *testing.T) {
	assert.Equal(t, 1.0, priorityScore(0))
	assert.Equal(t, 1.0, priorityScore(1))
	assert.InDelta(t, 0.6, priorityScore(3), 0.0001)
	assert.InDelta(t, 0.2, priorityScore(5), 0.0001)
	assert.InDelta(t, 0.2, priorityScore(9), 0.0001)
}

func TestRegimeScoreOrdering(t *testing.T) {
	// Better regimes must never score below worse ones.
	order := []domain.Regime{
		domain.RegimeBull, domain.RegimeRiskOn, domain.RegimeNeutral,
		domain.RegimeRiskOff, domain.RegimeBear,
	}
	for i := 1; i < len(order); i++ {
		require.Greater(t, regimeScore(order[i-1]), regimeScore(order[i]))
	}
	assert.Less(t, regimeScore(domain.RegimeUnknown), regimeScore(domain.RegimeNeutral))
}

func TestScoreDeterministic(t *testing.T) {
	cfg := testStrategy(t)
	in := passingInput()

	a, rawA, _ := computeScore(cfg.Scoring, cfg.Gates, in)
	b, rawB, _ := computeScore(cfg.Scoring, cfg.Gates, in)
	assert.Equal(t, a, b)
	assert.Equal(t, rawA, rawB)
}
