package evaluation

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/swap2you/chakraops-sub000/internal/config"
	"github.com/swap2you/chakraops-sub000/internal/domain"
	"github.com/swap2you/chakraops-sub000/internal/modules/chains"
)

// maxRecordedCandidates caps the considered-contract list on the artifact.
// The full chain still counts toward ContractsConsidered.
const maxRecordedCandidates = 5

// Contract score weights. Premium yield dominates; the rest break ties
// toward liquid, tight, band-centered contracts.
const (
	candidateYieldWeight  = 0.50
	candidateOIWeight     = 0.20
	candidateSpreadWeight = 0.15
	candidateDeltaWeight  = 0.15

	yieldFullScorePct = 3.0  // monthly yield treated as a full score
	oiFullScore       = 2000 // open interest treated as fully liquid
)

// stage2Result carries everything Stage 2 contributes to a symbol's row.
type stage2Result struct {
	Status         domain.StageStatus
	Reason         string
	ProviderStatus string
	EarningsGate   domain.GateEvaluation
	Earnings       domain.EarningsInfo
	Candidates     []domain.CandidateRow
	Selected       *domain.CandidateRow
	Options        domain.OptionsDiag

	// Selected-contract economics, nil when nothing was selected.
	CapitalRequired *float64
	ExpectedCredit  *float64
	PremiumYieldPct *float64
	Expiration      string
}

// scoredCandidate pairs a candidate row with its selection score and the raw
// fields the tie-break ordering needs.
type scoredCandidate struct {
	row      domain.CandidateRow
	score    float64
	yieldPct float64
}

// runStage2 fetches the chain for one symbol and selects the best contract.
// Provider failures fail Stage 2 for this symbol only; the caller preserves
// the Stage 1 pass.
func runStage2(ctx context.Context, provider chains.Provider, cfg config.ChainConfig, symbol string, now time.Time) stage2Result {
	chain, err := provider.FetchChain(ctx, symbol)
	if err != nil {
		reason := "PROVIDER_ERROR"
		var perr *domain.ProviderError
		if errors.As(err, &perr) {
			reason = perr.Reason
		} else if errors.Is(err, context.DeadlineExceeded) {
			reason = "TIMEOUT"
		} else if errors.Is(err, context.Canceled) {
			reason = "CANCELED"
		}
		return stage2Result{
			Status:         domain.StageFail,
			Reason:         reason,
			ProviderStatus: reason,
			EarningsGate:   domain.GateEvaluation{Name: GateEarningsWindow, Status: domain.GateSkip, Reason: "no chain data"},
			Earnings:       domain.EarningsInfo{Note: "no chain data"},
			Options:        domain.OptionsDiag{ProviderStatus: reason},
		}
	}

	res := stage2Result{
		Status:         domain.StagePass,
		ProviderStatus: "OK",
		Options:        domain.OptionsDiag{ProviderStatus: "OK", ContractsConsidered: len(chain.Contracts)},
	}
	res.EarningsGate, res.Earnings = checkEarnings(chain.NextEarnings, cfg.EarningsBlockDays, now)

	scored := filterContracts(chain, cfg, now)
	res.Options.ContractsPassing = len(scored)
	for i, sc := range scored {
		if i >= maxRecordedCandidates {
			break
		}
		res.Candidates = append(res.Candidates, sc.row)
	}

	if res.Earnings.EarningsBlock {
		res.Status = domain.StageFail
		res.Reason = GateEarningsWindow
		res.Options.SelectionNote = "earnings inside block window"
		return res
	}
	if len(scored) == 0 {
		res.Status = domain.StageFail
		res.Reason = "NO_CONTRACTS"
		res.Options.SelectionNote = "no contract survived the filters"
		return res
	}

	best := scored[0]
	res.Selected = &best.row
	res.Expiration = best.row.Expiry
	res.CapitalRequired = floatPtr(best.row.Strike * 100)
	res.ExpectedCredit = floatPtr(best.row.CreditEstimate)
	res.PremiumYieldPct = floatPtr(best.yieldPct)
	res.Options.SelectionNote = fmt.Sprintf("selected %s of %d passing", best.row.ContractKey, len(scored))
	return res
}

// checkEarnings evaluates the earnings-window precondition. Absent data skips
// the gate rather than guessing a date.
func checkEarnings(nextEarnings *string, blockDays int, now time.Time) (domain.GateEvaluation, domain.EarningsInfo) {
	if nextEarnings == nil || *nextEarnings == "" {
		return domain.GateEvaluation{Name: GateEarningsWindow, Status: domain.GateSkip, Reason: "no earnings data"},
			domain.EarningsInfo{Note: "no earnings data"}
	}
	date, err := time.Parse("2006-01-02", *nextEarnings)
	if err != nil {
		return domain.GateEvaluation{Name: GateEarningsWindow, Status: domain.GateSkip, Reason: "unparseable earnings date"},
			domain.EarningsInfo{Note: fmt.Sprintf("unparseable earnings date %q", *nextEarnings)}
	}

	days := int(date.Sub(now.UTC().Truncate(24*time.Hour)).Hours() / 24)
	info := domain.EarningsInfo{EarningsDays: &days}
	if days >= 0 && days <= blockDays {
		info.EarningsBlock = true
		return domain.GateEvaluation{
			Name: GateEarningsWindow, Status: domain.GateFail,
			Reason: fmt.Sprintf("earnings in %d days (block window %d)", days, blockDays),
		}, info
	}
	return domain.GateEvaluation{Name: GateEarningsWindow, Status: domain.GatePass}, info
}

// filterContracts applies the chain filters and returns surviving puts scored
// and sorted best-first with a deterministic tie-break.
func filterContracts(chain *chains.Chain, cfg config.ChainConfig, now time.Time) []scoredCandidate {
	var out []scoredCandidate
	for _, c := range chain.Contracts {
		if c.Right != chains.RightPut || c.Strike <= 0 {
			continue
		}
		dte := c.DTE(now)
		if dte < cfg.MinDTE || dte > cfg.MaxDTE {
			continue
		}
		absDelta := math.Abs(c.Delta)
		if absDelta < cfg.DeltaMin || absDelta > cfg.DeltaMax {
			continue
		}
		if c.OpenInterest < cfg.MinOpenInterest || c.Bid < cfg.MinBid {
			continue
		}
		if c.SpreadPct() > cfg.MaxSpreadPct || c.Mid() <= 0 {
			continue
		}

		credit := c.Mid() * 100
		maxLoss := c.Strike*100 - credit
		yieldPct := credit / (c.Strike * 100) * 100

		out = append(out, scoredCandidate{
			row: domain.CandidateRow{
				Symbol:         chain.Symbol,
				Strategy:       domain.StrategyCSP,
				Expiry:         c.Expiry,
				Strike:         c.Strike,
				Delta:          c.Delta,
				CreditEstimate: credit,
				MaxLoss:        maxLoss,
				ContractKey:    c.Key(),
				OptionSymbol:   c.OptionSymbol,
				WhyThisTrade:   fmt.Sprintf("%dDTE %.2fΔ put, %.2f%% yield on capital", dte, c.Delta, yieldPct),
			},
			score:    contractScore(c, cfg, yieldPct),
			yieldPct: yieldPct,
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].score != out[j].score {
			return out[i].score > out[j].score
		}
		if out[i].row.Expiry != out[j].row.Expiry {
			return out[i].row.Expiry < out[j].row.Expiry
		}
		if out[i].row.Strike != out[j].row.Strike {
			return out[i].row.Strike > out[j].row.Strike
		}
		return out[i].row.ContractKey < out[j].row.ContractKey
	})
	return out
}

// contractScore ranks a surviving contract. All components are bounded to
// [0, 1] before weighting so no single outlier dominates.
func contractScore(c chains.Contract, cfg config.ChainConfig, yieldPct float64) float64 {
	yield := math.Min(yieldPct/yieldFullScorePct, 1)
	oi := math.Min(float64(c.OpenInterest)/oiFullScore, 1)

	spread := 0.0
	if cfg.MaxSpreadPct > 0 {
		spread = 1 - c.SpreadPct()/cfg.MaxSpreadPct
	}

	center := (cfg.DeltaMin + cfg.DeltaMax) / 2
	halfWidth := (cfg.DeltaMax - cfg.DeltaMin) / 2
	deltaFit := 0.0
	if halfWidth > 0 {
		deltaFit = 1 - math.Abs(math.Abs(c.Delta)-center)/halfWidth
	}

	return candidateYieldWeight*yield +
		candidateOIWeight*oi +
		candidateSpreadWeight*math.Max(0, spread) +
		candidateDeltaWeight*math.Max(0, deltaFit)
}

func floatPtr(v float64) *float64 { return &v }
