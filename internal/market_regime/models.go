// Package market_regime classifies the broad market environment from
// benchmark returns between consecutive snapshots. Every computation is
// persisted to regime_history for audit; the scheduler consults only the
// latest record.
package market_regime

import (
	"time"

	"github.com/swap2you/chakraops-sub000/internal/domain"
)

// Computation methods recorded on history rows.
const (
	// MethodTwoSnapshot compares benchmark prices across the two most
	// recent snapshots.
	MethodTwoSnapshot = "two_snapshot"
	// MethodBootstrap is recorded when only one snapshot exists: the prior
	// price is taken equal to the current one so the return is zero and
	// the regime resolves to NEUTRAL instead of failing.
	MethodBootstrap = "bootstrap"
)

// Record is one computed regime, as stored in regime_history.
type Record struct {
	ID              int64         `json:"id"`
	RecordedAt      time.Time     `json:"computed_at"`
	Regime          domain.Regime `json:"regime"`
	BenchmarkSymbol string        `json:"benchmark_symbol"`
	BenchmarkReturn float64       `json:"benchmark_return"`
	SmoothedReturn  float64       `json:"smoothed_return"`
	Confidence      float64       `json:"confidence"` // 0-100
	Method          string        `json:"method"`
}

// Age returns how old the record is relative to now.
func (r *Record) Age(now time.Time) time.Duration {
	return now.Sub(r.RecordedAt)
}
