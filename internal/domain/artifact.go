package domain

import "time"

// ArtifactVersion is the wire version of the decision artifact schema.
const ArtifactVersion = "v2"

// ArtifactMetadata describes one evaluation run.
type ArtifactMetadata struct {
	ArtifactVersion      string    `json:"artifact_version"`
	Mode                 string    `json:"mode"` // LIVE or MOCK
	PipelineTimestamp    time.Time `json:"pipeline_timestamp"`
	RunID                string    `json:"run_id"`
	MarketPhase          Phase     `json:"market_phase"`
	UniverseSize         int       `json:"universe_size"`
	EvaluatedCountStage1 int       `json:"evaluated_count_stage1"`
	EvaluatedCountStage2 int       `json:"evaluated_count_stage2"`
	EligibleCount        int       `json:"eligible_count"`
	ConfigFrozen         bool      `json:"config_frozen"`
	Warnings             []string  `json:"warnings"`
}

// SymbolEvalSummary is the per-symbol outcome row of an artifact. Exactly one
// exists per universe symbol; symbols the engine never reached appear as
// NOT_EVALUATED placeholders.
type SymbolEvalSummary struct {
	Symbol          string      `json:"symbol"`
	Verdict         Verdict     `json:"verdict"`
	Score           *float64    `json:"score"`
	RawScore        *float64    `json:"raw_score"`
	FinalScore      *int        `json:"final_score"`
	Band            Band        `json:"band"`
	BandReason      string      `json:"band_reason"`
	Stage1Status    StageStatus `json:"stage1_status"`
	Stage2Status    StageStatus `json:"stage2_status"`
	PrimaryReason   string      `json:"primary_reason,omitempty"`
	ProviderStatus  string      `json:"provider_status,omitempty"`
	Strategy        Strategy    `json:"strategy,omitempty"`
	Price           *float64    `json:"price"`
	Expiration      string      `json:"expiration,omitempty"`
	CapitalRequired *float64    `json:"capital_required,omitempty"`
	ExpectedCredit  *float64    `json:"expected_credit,omitempty"`
	PremiumYieldPct *float64    `json:"premium_yield_pct,omitempty"`
	RankScore       *float64    `json:"rank_score,omitempty"`
}

// CandidateRow is one considered contract for a symbol.
type CandidateRow struct {
	Symbol         string   `json:"symbol"`
	Strategy       Strategy `json:"strategy"`
	Expiry         string   `json:"expiry"` // ISO date
	Strike         float64  `json:"strike"`
	Delta          float64  `json:"delta"`
	CreditEstimate float64  `json:"credit_estimate"`
	MaxLoss        float64  `json:"max_loss"`
	ContractKey    string   `json:"contract_key"`
	OptionSymbol   string   `json:"option_symbol,omitempty"`
	WhyThisTrade   string   `json:"why_this_trade,omitempty"`
}

// GateEvaluation records the outcome of one named gate for one symbol.
type GateEvaluation struct {
	Name   string     `json:"name"`
	Status GateStatus `json:"status"`
	Reason string     `json:"reason,omitempty"`
}

// EarningsInfo summarizes the earnings proximity check for a symbol.
type EarningsInfo struct {
	EarningsDays  *int   `json:"earnings_days"`
	EarningsBlock bool   `json:"earnings_block"`
	Note          string `json:"note,omitempty"`
}

// TechnicalsDiag carries indicator values computed from snapshot rows.
// Indicators needing more history than the snapshot holds stay nil.
type TechnicalsDiag struct {
	RSI14  *float64 `json:"rsi_14"`
	SMA20  *float64 `json:"sma_20"`
	ATR14  *float64 `json:"atr_14"`
	Trend  string   `json:"trend,omitempty"`
	Window int      `json:"window"`
}

// ExitPlanDiag is the standing exit guidance attached to a recommendation.
type ExitPlanDiag struct {
	ProfitTargetPct float64 `json:"profit_target_pct"`
	MaxLossMultiple float64 `json:"max_loss_multiple"`
	Note            string  `json:"note,omitempty"`
}

// StockDiag is the raw underlying view the engine evaluated.
type StockDiag struct {
	Price          *float64 `json:"price"`
	Volume         int64    `json:"volume"`
	IVRank         *float64 `json:"iv_rank"`
	DataAgeMinutes float64  `json:"data_age_minutes"`
}

// EligibilityDiag explains the Stage 1 outcome.
type EligibilityDiag struct {
	Stage1Status StageStatus `json:"stage1_status"`
	FailedGates  []string    `json:"failed_gates,omitempty"`
	SkippedGates []string    `json:"skipped_gates,omitempty"`
}

// LiquidityDiag explains the underlying-liquidity check.
type LiquidityDiag struct {
	Volume      int64   `json:"volume"`
	MinRequired int64   `json:"min_required"`
	Ratio       float64 `json:"ratio"`
}

// OptionsDiag summarizes Stage 2 chain processing.
type OptionsDiag struct {
	ProviderStatus      string `json:"provider_status"`
	ContractsConsidered int    `json:"contracts_considered"`
	ContractsPassing    int    `json:"contracts_passing"`
	SelectionNote       string `json:"selection_note,omitempty"`
}

// SymbolDiagnostics is the full per-symbol diagnostic block on an artifact.
type SymbolDiagnostics struct {
	Technicals     *TechnicalsDiag    `json:"technicals,omitempty"`
	ExitPlan       *ExitPlanDiag      `json:"exit_plan,omitempty"`
	RiskFlags      []string           `json:"risk_flags,omitempty"`
	Explanation    string             `json:"explanation,omitempty"`
	Stock          *StockDiag         `json:"stock,omitempty"`
	Eligibility    *EligibilityDiag   `json:"symbol_eligibility,omitempty"`
	Liquidity      *LiquidityDiag     `json:"liquidity,omitempty"`
	ScoreBreakdown map[string]float64 `json:"score_breakdown,omitempty"`
	Options        *OptionsDiag       `json:"options,omitempty"`
}

// DecisionArtifact is the versioned, self-contained output of one evaluation
// run. It is immutable after write; later runs replace the canonical copy.
type DecisionArtifact struct {
	Metadata            ArtifactMetadata             `json:"metadata"`
	Symbols             []SymbolEvalSummary          `json:"symbols"`
	SelectedCandidates  []CandidateRow               `json:"selected_candidates"`
	CandidatesBySymbol  map[string][]CandidateRow    `json:"candidates_by_symbol"`
	GatesBySymbol       map[string][]GateEvaluation  `json:"gates_by_symbol"`
	EarningsBySymbol    map[string]EarningsInfo      `json:"earnings_by_symbol"`
	DiagnosticsBySymbol map[string]SymbolDiagnostics `json:"diagnostics_by_symbol"`
	Warnings            []string                     `json:"warnings"`
}

// NewNotEvaluatedSummary builds the placeholder row for a symbol the engine
// did not reach. Placeholders always land in band D with a nil score.
func NewNotEvaluatedSummary(symbol, reason string) SymbolEvalSummary {
	band, bandReason := BandForScore(nil)
	return SymbolEvalSummary{
		Symbol:        symbol,
		Verdict:       VerdictNotEvaluated,
		Band:          band,
		BandReason:    bandReason,
		Stage1Status:  StageNotRun,
		Stage2Status:  StageNotRun,
		PrimaryReason: reason,
	}
}

// SummaryFor returns the summary row for a symbol, if present.
func (a *DecisionArtifact) SummaryFor(symbol string) (SymbolEvalSummary, bool) {
	for _, s := range a.Symbols {
		if s.Symbol == symbol {
			return s, true
		}
	}
	return SymbolEvalSummary{}, false
}

// EligibleSymbols returns the symbols with an ELIGIBLE verdict, in artifact order.
func (a *DecisionArtifact) EligibleSymbols() []string {
	var out []string
	for _, s := range a.Symbols {
		if s.Verdict == VerdictEligible {
			out = append(out, s.Symbol)
		}
	}
	return out
}

// RecountEligible recomputes the metadata eligible counter from the symbol rows.
func (a *DecisionArtifact) RecountEligible() {
	n := 0
	for _, s := range a.Symbols {
		if s.Verdict == VerdictEligible {
			n++
		}
	}
	a.Metadata.EligibleCount = n
}
