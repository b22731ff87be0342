package evaluation

import (
	"math"

	"github.com/swap2you/chakraops-sub000/internal/config"
	"github.com/swap2you/chakraops-sub000/internal/domain"
)

// Freshness tiers in minutes. Within an hour the data counts as live; within
// six hours it is worth half; older snapshot data contributes nothing.
const (
	freshnessFullMinutes = 60
	freshnessHalfMinutes = 360
)

// computeScore produces the Stage 1 composite: each sub-score is bounded to
// [0, 1], multiplied by its configured weight, and summed. The total is
// clamped to [0, 100] and rounded to an integer for banding.
func computeScore(cfg config.ScoringConfig, gates config.GatesConfig, in stage1Input) (final int, raw float64, breakdown map[string]float64) {
	w := cfg.Weights
	breakdown = map[string]float64{
		"price":     w.Price * priceScore(cfg, gates, in.Price),
		"regime":    w.Regime * regimeScore(in.Regime),
		"priority":  w.Priority * priorityScore(in.Priority),
		"freshness": w.Freshness * freshnessScore(in.DataAgeMinutes),
		"iv_rank":   w.IVRank * ivRankScore(in.IVRank),
		"liquidity": w.Liquidity * liquidityScore(in.Volume, gates.MinVolumeFor(in.Symbol)),
	}

	for _, points := range breakdown {
		raw += points
	}
	raw = math.Min(100, math.Max(0, raw))
	return int(math.Round(raw)), raw, breakdown
}

// priceScore is triangular: 1.0 across the target band, falling linearly to
// zero at the hard price gate boundaries. Prices outside the gate range score
// zero, though the gate has already rejected them.
func priceScore(cfg config.ScoringConfig, gates config.GatesConfig, price float64) float64 {
	switch {
	case price >= cfg.TargetPriceLow && price <= cfg.TargetPriceHigh:
		return 1
	case price >= gates.MinPrice && price < cfg.TargetPriceLow:
		return (price - gates.MinPrice) / (cfg.TargetPriceLow - gates.MinPrice)
	case price > cfg.TargetPriceHigh && price <= gates.MaxPrice:
		return (gates.MaxPrice - price) / (gates.MaxPrice - cfg.TargetPriceHigh)
	default:
		return 0
	}
}

// regimeScore favors entries sold into strength. UNKNOWN sits below NEUTRAL:
// missing regime data should not read as a calm market.
func regimeScore(r domain.Regime) float64 {
	switch r {
	case domain.RegimeBull:
		return 1.0
	case domain.RegimeRiskOn:
		return 0.9
	case domain.RegimeNeutral:
		return 0.6
	case domain.RegimeRiskOff:
		return 0.3
	case domain.RegimeBear:
		return 0.1
	default:
		return 0.4
	}
}

// priorityScore maps universe priority 1 (highest) through 5 to a linear
// scale. Out-of-range priorities clamp.
func priorityScore(priority int) float64 {
	if priority < 1 {
		priority = 1
	}
	if priority > 5 {
		priority = 5
	}
	return float64(6-priority) / 5
}

func freshnessScore(ageMinutes float64) float64 {
	switch {
	case ageMinutes <= freshnessFullMinutes:
		return 1
	case ageMinutes <= freshnessHalfMinutes:
		return 0.5
	default:
		return 0
	}
}

// ivRankScore rewards elevated implied volatility in tiers. A missing rank
// contributes nothing rather than guessing.
func ivRankScore(rank *float64) float64 {
	if rank == nil {
		return 0
	}
	switch {
	case *rank >= 70:
		return 1.0
	case *rank >= 50:
		return 0.75
	case *rank >= 30:
		return 0.5
	default:
		return 0.25
	}
}

// liquidityScore tiers on the ratio of volume to the symbol's liquidity
// floor. The hard gate has already enforced ratio >= 1.
func liquidityScore(volume, minVolume int64) float64 {
	if minVolume <= 0 {
		return 1
	}
	ratio := float64(volume) / float64(minVolume)
	switch {
	case ratio >= 5:
		return 1.0
	case ratio >= 2:
		return 0.7
	case ratio >= 1:
		return 0.4
	default:
		return 0
	}
}
