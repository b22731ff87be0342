package evaluation

import (
	talib "github.com/markcheno/go-talib"

	"github.com/swap2you/chakraops-sub000/internal/domain"
	"github.com/swap2you/chakraops-sub000/internal/modules/snapshots"
)

// Indicator lookbacks. Snapshots often carry a single row; any indicator
// whose lookback exceeds the available history stays nil.
const (
	rsiPeriod = 14
	smaPeriod = 20
	atrPeriod = 14
)

// computeTechnicals derives indicator diagnostics from a symbol's snapshot
// rows. Rows are assumed oldest-first, as the snapshot serializer stores them.
func computeTechnicals(rows []snapshots.Row) *domain.TechnicalsDiag {
	if len(rows) == 0 {
		return nil
	}

	closes := make([]float64, len(rows))
	highs := make([]float64, len(rows))
	lows := make([]float64, len(rows))
	for i, r := range rows {
		closes[i] = r.Close
		highs[i] = r.High
		lows[i] = r.Low
	}

	diag := &domain.TechnicalsDiag{Window: len(rows)}
	if len(closes) > rsiPeriod {
		out := talib.Rsi(closes, rsiPeriod)
		diag.RSI14 = floatPtr(out[len(out)-1])
	}
	if len(closes) >= smaPeriod {
		out := talib.Sma(closes, smaPeriod)
		diag.SMA20 = floatPtr(out[len(out)-1])
	}
	if len(closes) > atrPeriod {
		out := talib.Atr(highs, lows, closes, atrPeriod)
		diag.ATR14 = floatPtr(out[len(out)-1])
	}

	if diag.SMA20 != nil {
		if closes[len(closes)-1] >= *diag.SMA20 {
			diag.Trend = "UP"
		} else {
			diag.Trend = "DOWN"
		}
	}
	return diag
}
