package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaultStrategy(t *testing.T) *StrategyConfig {
	t.Helper()
	cfg, err := LoadStrategy(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	return cfg
}

func TestHashCriticalConfigStable(t *testing.T) {
	cfg := defaultStrategy(t)

	h1, err := HashCriticalConfig(cfg.CriticalConfig())
	require.NoError(t, err)
	h2, err := HashCriticalConfig(cfg.CriticalConfig())
	require.NoError(t, err)

	assert.Equal(t, h1, h2, "hash must be deterministic across invocations")
	assert.Len(t, h1, 64)
}

func TestHashCriticalConfigDetectsChange(t *testing.T) {
	cfg := defaultStrategy(t)
	before, err := HashCriticalConfig(cfg.CriticalConfig())
	require.NoError(t, err)

	cfg.Gates.MinPrice = 22.5
	after, err := HashCriticalConfig(cfg.CriticalConfig())
	require.NoError(t, err)

	assert.NotEqual(t, before, after)
}

func TestDiffConfigKeys(t *testing.T) {
	cfg := defaultStrategy(t)
	prev := cfg.CriticalConfig()

	cfg.Gates.MinPrice = 22.5
	cfg.Chain.MaxDTE = 50
	curr := cfg.CriticalConfig()

	changed := DiffConfigKeys(prev, curr)
	assert.Equal(t, []string{"chain.max_dte", "gates.min_price"}, changed)
}

func TestDiffConfigKeysHandlesAddedAndRemoved(t *testing.T) {
	prev := map[string]string{"a": "1", "b": "2"}
	curr := map[string]string{"b": "2", "c": "3"}
	assert.Equal(t, []string{"a", "c"}, DiffConfigKeys(prev, curr))
	assert.Empty(t, DiffConfigKeys(curr, curr))
}
