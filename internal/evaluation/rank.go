package evaluation

import (
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/swap2you/chakraops-sub000/internal/domain"
)

// applyRanks assigns each ELIGIBLE row its premium-yield percentile across
// all eligible symbols, as a rank_score in [0, 100]. Rows without a yield
// keep a nil rank.
func applyRanks(rows []domain.SymbolEvalSummary) {
	var yields []float64
	for _, row := range rows {
		if row.Verdict == domain.VerdictEligible && row.PremiumYieldPct != nil {
			yields = append(yields, *row.PremiumYieldPct)
		}
	}
	if len(yields) == 0 {
		return
	}
	sort.Float64s(yields)

	for i := range rows {
		if rows[i].Verdict != domain.VerdictEligible || rows[i].PremiumYieldPct == nil {
			continue
		}
		pct := stat.CDF(*rows[i].PremiumYieldPct, stat.Empirical, yields, nil) * 100
		rows[i].RankScore = floatPtr(pct)
	}
}

// percentileOf returns the empirical percentile of one yield within a yield
// set, or nil when the set is empty.
func percentileOf(yield float64, yields []float64) *float64 {
	if len(yields) == 0 {
		return nil
	}
	sorted := append([]float64(nil), yields...)
	sort.Float64s(sorted)
	return floatPtr(stat.CDF(yield, stat.Empirical, sorted, nil) * 100)
}

// sortRows orders summary rows by the canonical ranking tuple: band A
// through D, then score descending, then premium yield descending, then
// symbol ascending. The tuple is total, so the order is deterministic.
func sortRows(rows []domain.SymbolEvalSummary) {
	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if a.Band != b.Band {
			return bandOrder(a.Band) < bandOrder(b.Band)
		}
		as, bs := scoreOrZero(a.FinalScore), scoreOrZero(b.FinalScore)
		if as != bs {
			return as > bs
		}
		ay, by := yieldOrZero(a.PremiumYieldPct), yieldOrZero(b.PremiumYieldPct)
		if ay != by {
			return ay > by
		}
		return a.Symbol < b.Symbol
	})
}

func bandOrder(b domain.Band) int {
	switch b {
	case domain.BandA:
		return 0
	case domain.BandB:
		return 1
	case domain.BandC:
		return 2
	default:
		return 3
	}
}

func scoreOrZero(s *int) int {
	if s == nil {
		return -1
	}
	return *s
}

func yieldOrZero(y *float64) float64 {
	if y == nil {
		return -1
	}
	return *y
}
