package config

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

// CriticalConfig is the flattened view of every evaluation parameter whose
// drift between LIVE runs must be auditable. Keys are stable; values are
// rendered as strings so the snapshot survives schema evolution.
func (c *StrategyConfig) CriticalConfig() map[string]string {
	m := map[string]string{
		"gates.min_price":             fmt.Sprintf("%g", c.Gates.MinPrice),
		"gates.max_price":             fmt.Sprintf("%g", c.Gates.MaxPrice),
		"gates.min_volume":            fmt.Sprintf("%d", c.Gates.MinVolume),
		"gates.min_iv_rank":           fmt.Sprintf("%g", c.Gates.MinIVRank),
		"gates.allow_missing_iv_rank": fmt.Sprintf("%t", c.Gates.AllowMissingIVRank),
		"gates.allowed_regimes":       joinSorted(c.Gates.AllowedRegimes),
		"scoring.target_price_low":    fmt.Sprintf("%g", c.Scoring.TargetPriceLow),
		"scoring.target_price_high":   fmt.Sprintf("%g", c.Scoring.TargetPriceHigh),
		"scoring.default_priority":    fmt.Sprintf("%d", c.Scoring.DefaultPriority),
		"scoring.weights.price":       fmt.Sprintf("%g", c.Scoring.Weights.Price),
		"scoring.weights.regime":      fmt.Sprintf("%g", c.Scoring.Weights.Regime),
		"scoring.weights.priority":    fmt.Sprintf("%g", c.Scoring.Weights.Priority),
		"scoring.weights.freshness":   fmt.Sprintf("%g", c.Scoring.Weights.Freshness),
		"scoring.weights.iv_rank":     fmt.Sprintf("%g", c.Scoring.Weights.IVRank),
		"scoring.weights.liquidity":   fmt.Sprintf("%g", c.Scoring.Weights.Liquidity),
		"chain.min_dte":               fmt.Sprintf("%d", c.Chain.MinDTE),
		"chain.max_dte":               fmt.Sprintf("%d", c.Chain.MaxDTE),
		"chain.delta_min":             fmt.Sprintf("%g", c.Chain.DeltaMin),
		"chain.delta_max":             fmt.Sprintf("%g", c.Chain.DeltaMax),
		"chain.min_open_interest":     fmt.Sprintf("%d", c.Chain.MinOpenInterest),
		"chain.min_bid":               fmt.Sprintf("%g", c.Chain.MinBid),
		"chain.max_spread_pct":        fmt.Sprintf("%g", c.Chain.MaxSpreadPct),
		"chain.earnings_block_days":   fmt.Sprintf("%d", c.Chain.EarningsBlockDays),
	}
	for sym, vol := range c.Gates.MinVolumeOverrides {
		m["gates.min_volume_overrides."+sym] = fmt.Sprintf("%d", vol)
	}
	return m
}

// HashCriticalConfig computes the canonical SHA-256 of a critical-config
// snapshot. encoding/json sorts map keys, so the serialization is stable.
func HashCriticalConfig(snapshot map[string]string) (string, error) {
	raw, err := json.Marshal(snapshot)
	if err != nil {
		return "", fmt.Errorf("marshal critical config: %w", err)
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}

// DiffConfigKeys lists the keys whose values differ between two snapshots,
// including keys present on only one side. The result is sorted.
func DiffConfigKeys(prev, curr map[string]string) []string {
	changed := make(map[string]struct{})
	for k, v := range prev {
		if cv, ok := curr[k]; !ok || cv != v {
			changed[k] = struct{}{}
		}
	}
	for k := range curr {
		if _, ok := prev[k]; !ok {
			changed[k] = struct{}{}
		}
	}
	out := make([]string, 0, len(changed))
	for k := range changed {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func joinSorted(values []string) string {
	sorted := append([]string(nil), values...)
	sort.Strings(sorted)
	raw, _ := json.Marshal(sorted)
	return string(raw)
}
