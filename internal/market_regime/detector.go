package market_regime

import (
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"

	"github.com/swap2you/chakraops-sub000/internal/domain"
	"github.com/swap2you/chakraops-sub000/internal/modules/snapshots"
)

// Return-to-regime thresholds, applied to the smoothed benchmark return.
const (
	bullThreshold    = 0.010
	riskOnThreshold  = 0.002
	riskOffThreshold = -0.002
	bearThreshold    = -0.010
)

// smoothingAlpha is the EMA weight of the newest raw return. Slow adaptation:
// one strong print does not flip the regime.
const smoothingAlpha = 0.1

// PriceSource is the snapshot access the detector needs.
type PriceSource interface {
	GetLatestID() (string, error)
	GetPreviousID(id string) (string, error)
	GetPrices(id string) (map[string]snapshots.PriceView, error)
}

// Detector computes the market regime from benchmark returns between the two
// most recent snapshots.
type Detector struct {
	source     PriceSource
	repo       *Repository
	benchmarks []string
	log        zerolog.Logger
}

// NewDetector creates a regime detector. benchmarks is the ordered preference
// list; the first one with data in both snapshots becomes the primary.
func NewDetector(source PriceSource, repo *Repository, benchmarks []string, log zerolog.Logger) *Detector {
	return &Detector{
		source:     source,
		repo:       repo,
		benchmarks: domain.NormalizeSymbols(benchmarks),
		log:        log.With().Str("component", "regime_detector").Logger(),
	}
}

// Latest returns the most recent stored computation, or nil.
func (d *Detector) Latest() (*Record, error) {
	return d.repo.GetLatest()
}

// IsStale reports whether the latest record is older than the threshold.
// A missing record counts as stale.
func (d *Detector) IsStale(now time.Time, threshold time.Duration) (bool, error) {
	latest, err := d.repo.GetLatest()
	if err != nil {
		return false, err
	}
	if latest == nil {
		return true, nil
	}
	return latest.Age(now) > threshold, nil
}

// Compute derives the regime from the two most recent snapshots, persists a
// history row, and returns it. With a single snapshot the bootstrap rule
// applies: the return is zero and the regime is NEUTRAL. With no snapshots
// the result is UNKNOWN and nothing is persisted.
func (d *Detector) Compute(now time.Time) (*Record, error) {
	latestID, err := d.source.GetLatestID()
	if err != nil {
		return nil, err
	}
	if latestID == "" {
		d.log.Warn().Msg("No snapshots exist, regime unknown")
		return &Record{
			RecordedAt: now.UTC(),
			Regime:     domain.RegimeUnknown,
			Method:     MethodBootstrap,
		}, nil
	}

	current, err := d.source.GetPrices(latestID)
	if err != nil {
		return nil, err
	}

	previousID, err := d.source.GetPreviousID(latestID)
	if err != nil {
		return nil, err
	}

	var previous map[string]snapshots.PriceView
	method := MethodBootstrap
	if previousID != "" {
		if previous, err = d.source.GetPrices(previousID); err != nil {
			return nil, err
		}
		method = MethodTwoSnapshot
	}

	symbol, ret, returns := d.benchmarkReturns(current, previous)
	if symbol == "" {
		d.log.Warn().Strs("benchmarks", d.benchmarks).Msg("No benchmark has data, regime unknown")
		rec := &Record{
			RecordedAt: now.UTC(),
			Regime:     domain.RegimeUnknown,
			Method:     method,
		}
		return rec, d.repo.Insert(rec)
	}

	smoothed := ret
	if prev, err := d.repo.GetLatest(); err == nil && prev != nil && prev.Method != MethodBootstrap {
		smoothed = smoothingAlpha*ret + (1-smoothingAlpha)*prev.SmoothedReturn
	}

	rec := &Record{
		RecordedAt:      now.UTC(),
		Regime:          classify(smoothed),
		BenchmarkSymbol: symbol,
		BenchmarkReturn: ret,
		SmoothedReturn:  smoothed,
		Confidence:      confidence(returns),
		Method:          method,
	}
	if err := d.repo.Insert(rec); err != nil {
		return nil, err
	}

	d.log.Info().
		Str("regime", string(rec.Regime)).
		Str("benchmark", symbol).
		Float64("return", ret).
		Float64("smoothed", smoothed).
		Float64("confidence", rec.Confidence).
		Str("method", method).
		Msg("Regime computed")
	return rec, nil
}

// benchmarkReturns computes the per-benchmark return, picking the first
// configured benchmark with data as the primary. previous may be nil
// (bootstrap): every prior price is then taken equal to the current one.
func (d *Detector) benchmarkReturns(current, previous map[string]snapshots.PriceView) (string, float64, []float64) {
	var (
		primary    string
		primaryRet float64
		returns    []float64
	)
	for _, symbol := range d.benchmarks {
		curr, ok := current[symbol]
		if !ok || curr.Price <= 0 {
			continue
		}

		prevPrice := curr.Price
		if previous != nil {
			prev, ok := previous[symbol]
			if !ok || prev.Price <= 0 {
				continue
			}
			prevPrice = prev.Price
		}

		ret := (curr.Price - prevPrice) / prevPrice
		returns = append(returns, ret)
		if primary == "" {
			primary = symbol
			primaryRet = ret
		}
	}
	return primary, primaryRet, returns
}

// classify maps a smoothed return to the regime enum.
func classify(smoothed float64) domain.Regime {
	switch {
	case smoothed >= bullThreshold:
		return domain.RegimeBull
	case smoothed >= riskOnThreshold:
		return domain.RegimeRiskOn
	case smoothed <= bearThreshold:
		return domain.RegimeBear
	case smoothed <= riskOffThreshold:
		return domain.RegimeRiskOff
	default:
		return domain.RegimeNeutral
	}
}

// confidence scores 0-100 from cross-benchmark agreement: tight dispersion
// across benchmark returns means the read is trustworthy. A single benchmark
// gives the midpoint.
func confidence(returns []float64) float64 {
	if len(returns) == 0 {
		return 0
	}
	if len(returns) == 1 {
		return 50
	}

	sorted := append([]float64(nil), returns...)
	sort.Float64s(sorted)
	sd := stat.StdDev(sorted, nil)

	// A dispersion of 1% across benchmarks means no agreement at all.
	const maxDispersion = 0.01
	c := 100 * (1 - math.Min(sd/maxDispersion, 1))
	return math.Round(c*10) / 10
}
