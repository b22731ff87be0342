package evaluation

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swap2you/chakraops-sub000/internal/config"
	"github.com/swap2you/chakraops-sub000/internal/domain"
)

// testStrategy loads the default strategy config (no file present).
func testStrategy(t *testing.T) *config.StrategyConfig {
	t.Helper()
	cfg, err := config.LoadStrategy(filepath.Join(t.TempDir(), "evaluation.yaml"))
	require.NoError(t, err)
	return cfg
}

// passingInput is a symbol that clears every default gate.
func passingInput() stage1Input {
	iv := 45.0
	return stage1Input{
		Symbol:         "AAPL",
		HasData:        true,
		Price:          172.50,
		Volume:         61_000_000,
		IVRank:         &iv,
		DataAgeMinutes: 30,
		Regime:         domain.RegimeRiskOn,
		Priority:       3,
	}
}

func TestGatesAllPass(t *testing.T) {
	cfg := testStrategy(t).Gates

	gates, passed, reason := runGates(cfg, passingInput())
	require.True(t, passed)
	assert.Empty(t, reason)
	require.Len(t, gates, 6)

	names := make([]string, len(gates))
	for i, g := range gates {
		names[i] = g.Name
		assert.Equal(t, domain.GatePass, g.Status, g.Name)
	}
	assert.Equal(t, []string{GatePresence, GatePriceValid, GatePriceRange, GateRegime, GateLiquidity, GateIVFloor}, names)
}

func TestGatesShortCircuitOnFirstFailure(t *testing.T) {
	cfg := testStrategy(t).Gates

	in := passingInput()
	in.HasData = false
	in.Price = 0

	gates, passed, reason := runGates(cfg, in)
	require.False(t, passed)
	require.Len(t, gates, 1, "gates after the failing one must not run")
	assert.Equal(t, GatePresence, gates[0].Name)
	assert.Equal(t, domain.GateFail, gates[0].Status)
	assert.Contains(t, reason, GatePresence)
}

func TestGateFailures(t *testing.T) {
	cfg := testStrategy(t).Gates

	cases := []struct {
		name     string
		mutate   func(*stage1Input)
		failGate string
	}{
		{"zero price", func(in *stage1Input) { in.Price = 0 }, GatePriceValid},
		{"below min price", func(in *stage1Input) { in.Price = 5 }, GatePriceRange},
		{"above max price", func(in *stage1Input) { in.Price = 900 }, GatePriceRange},
		{"bear regime", func(in *stage1Input) { in.Regime = domain.RegimeBear }, GateRegime},
		{"unknown regime", func(in *stage1Input) { in.Regime = domain.RegimeUnknown }, GateRegime},
		{"thin volume", func(in *stage1Input) { in.Volume = 50_000 }, GateLiquidity},
		{"low iv rank", func(in *stage1Input) { iv := 10.0; in.IVRank = &iv }, GateIVFloor},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := passingInput()
			tc.mutate(&in)

			gates, passed, _ := runGates(cfg, in)
			require.False(t, passed)
			last := gates[len(gates)-1]
			assert.Equal(t, tc.failGate, last.Name)
			assert.Equal(t, domain.GateFail, last.Status)
			assert.NotEmpty(t, last.Reason)
		})
	}
}

func TestIVFloorSkipsWhenMissingAndAllowed(t *testing.T) {
	cfg := testStrategy(t).Gates
	require.True(t, cfg.AllowMissingIVRank)

	in := passingInput()
	in.IVRank = nil

	gates, passed, _ := runGates(cfg, in)
	require.True(t, passed)
	last := gates[len(gates)-1]
	assert.Equal(t, GateIVFloor, last.Name)
	assert.Equal(t, domain.GateSkip, last.Status)
}

func TestIVFloorFailsWhenMissingAndStrict(t *testing.T) {
	cfg := testStrategy(t).Gates
	cfg.AllowMissingIVRank = false

	in := passingInput()
	in.IVRank = nil

	_, passed, reason := runGates(cfg, in)
	require.False(t, passed)
	assert.Contains(t, reason, GateIVFloor)
}

func TestLiquidityGateHonorsOverrides(t *testing.T) {
	cfg := testStrategy(t).Gates
	cfg.MinVolumeOverrides = map[string]int64{"AAPL": 100_000_000}

	in := passingInput()
	_, passed, reason := runGates(cfg, in)
	require.False(t, passed)
	assert.Contains(t, reason, GateLiquidity)
}
