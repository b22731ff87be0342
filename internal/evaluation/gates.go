package evaluation

import (
	"fmt"

	"github.com/swap2you/chakraops-sub000/internal/config"
	"github.com/swap2you/chakraops-sub000/internal/domain"
)

// Stage 1 gate names, in execution order. EARNINGS_WINDOW belongs to Stage 2
// but shares the namespace so the artifact's gate list reads as one sequence.
const (
	GatePresence       = "PRESENCE"
	GatePriceValid     = "PRICE_VALID"
	GatePriceRange     = "PRICE_RANGE"
	GateRegime         = "REGIME"
	GateLiquidity      = "LIQUIDITY_UNDERLYING"
	GateIVFloor        = "IV_FLOOR"
	GateEarningsWindow = "EARNINGS_WINDOW"
)

// stage1Input is the per-symbol view Stage 1 runs on: the last snapshot row
// plus universe and regime context. Price and Volume are zero when HasData
// is false.
type stage1Input struct {
	Symbol         string
	HasData        bool
	Price          float64
	Volume         int64
	IVRank         *float64
	DataAgeMinutes float64
	Regime         domain.Regime
	Priority       int
}

// runGates executes the hard gates in order, short-circuiting on the first
// FAIL. Every executed gate is recorded; gates after a failure never run.
func runGates(cfg config.GatesConfig, in stage1Input) (gates []domain.GateEvaluation, passed bool, primaryReason string) {
	checks := []struct {
		name  string
		check func() (domain.GateStatus, string)
	}{
		{GatePresence, func() (domain.GateStatus, string) {
			if !in.HasData {
				return domain.GateFail, "no snapshot data for symbol"
			}
			return domain.GatePass, ""
		}},
		{GatePriceValid, func() (domain.GateStatus, string) {
			if in.Price <= 0 {
				return domain.GateFail, fmt.Sprintf("price %.2f is not positive", in.Price)
			}
			return domain.GatePass, ""
		}},
		{GatePriceRange, func() (domain.GateStatus, string) {
			if in.Price < cfg.MinPrice || in.Price > cfg.MaxPrice {
				return domain.GateFail, fmt.Sprintf("price %.2f outside [%.2f, %.2f]", in.Price, cfg.MinPrice, cfg.MaxPrice)
			}
			return domain.GatePass, ""
		}},
		{GateRegime, func() (domain.GateStatus, string) {
			if !cfg.RegimeAllowed(in.Regime) {
				return domain.GateFail, fmt.Sprintf("regime %s does not permit new entries", in.Regime)
			}
			return domain.GatePass, ""
		}},
		{GateLiquidity, func() (domain.GateStatus, string) {
			min := cfg.MinVolumeFor(in.Symbol)
			if in.Volume < min {
				return domain.GateFail, fmt.Sprintf("volume %d below floor %d", in.Volume, min)
			}
			return domain.GatePass, ""
		}},
		{GateIVFloor, func() (domain.GateStatus, string) {
			if in.IVRank == nil {
				if cfg.AllowMissingIVRank {
					return domain.GateSkip, "iv_rank not provided"
				}
				return domain.GateFail, "iv_rank required but not provided"
			}
			if *in.IVRank < cfg.MinIVRank {
				return domain.GateFail, fmt.Sprintf("iv_rank %.1f below floor %.1f", *in.IVRank, cfg.MinIVRank)
			}
			return domain.GatePass, ""
		}},
	}

	for _, c := range checks {
		status, reason := c.check()
		gates = append(gates, domain.GateEvaluation{Name: c.name, Status: status, Reason: reason})
		if status == domain.GateFail {
			return gates, false, fmt.Sprintf("%s: %s", c.name, reason)
		}
	}
	return gates, true, ""
}

// failedGateNames extracts the names of FAIL gates, for diagnostics.
func failedGateNames(gates []domain.GateEvaluation) []string {
	var out []string
	for _, g := range gates {
		if g.Status == domain.GateFail {
			out = append(out, g.Name)
		}
	}
	return out
}

// skippedGateNames extracts the names of SKIP gates, for diagnostics.
func skippedGateNames(gates []domain.GateEvaluation) []string {
	var out []string
	for _, g := range gates {
		if g.Status == domain.GateSkip {
			out = append(out, g.Name)
		}
	}
	return out
}
