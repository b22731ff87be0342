// Package evaluation implements the two-stage decision pipeline: per-symbol
// hard gates and scoring against the frozen snapshot (Stage 1), then contract
// selection over the options-chain provider for the survivors (Stage 2). The
// output of a run is a complete, versioned decision artifact with exactly one
// row per universe symbol.
package evaluation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/swap2you/chakraops-sub000/internal/config"
	"github.com/swap2you/chakraops-sub000/internal/domain"
	"github.com/swap2you/chakraops-sub000/internal/market_regime"
	"github.com/swap2you/chakraops-sub000/internal/modules/chains"
	"github.com/swap2you/chakraops-sub000/internal/modules/market_hours"
	"github.com/swap2you/chakraops-sub000/internal/modules/snapshots"
	"github.com/swap2you/chakraops-sub000/internal/modules/universe"
)

// ErrNoSnapshot means no frozen snapshot exists to evaluate against. The
// scheduler maps it to NO_SNAPSHOT health rather than raising an alert.
var ErrNoSnapshot = errors.New("no frozen snapshot available")

// PositionSource reports the symbols with open paper positions. Optional:
// nil disables the open-position risk flag.
type PositionSource interface {
	OpenSymbols() (map[string]bool, error)
}

// riskFlagOpenPosition marks symbols the operator already holds.
const riskFlagOpenPosition = "OPEN_POSITION"

// Deps are the collaborators an Engine needs. Provider is swapped per run
// mode (HTTP client for LIVE, deterministic mock otherwise).
type Deps struct {
	Snapshots *snapshots.Repository
	Universe  *universe.Service
	Regimes   *market_regime.Detector
	Provider  chains.Provider
	Strategy  *config.StrategyConfig
	Calendar  *market_hours.Calendar
	Positions PositionSource
}

// Engine runs evaluations. It is stateless between runs; all inputs come
// from the frozen snapshot, the universe table, and the latest regime record.
type Engine struct {
	deps Deps
	mode domain.RunMode
	log  zerolog.Logger
	now  func() time.Time
}

// NewEngine creates an evaluation engine for one run mode.
func NewEngine(deps Deps, mode domain.RunMode, log zerolog.Logger) *Engine {
	return &Engine{
		deps: deps,
		mode: mode,
		log:  log.With().Str("component", "evaluation").Logger(),
		now:  time.Now,
	}
}

// WithClock overrides the engine clock for tests.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// Mode returns the engine's run mode.
func (e *Engine) Mode() domain.RunMode { return e.mode }

// symbolResult is one symbol's full evaluation outcome before it is folded
// into the artifact.
type symbolResult struct {
	Summary     domain.SymbolEvalSummary
	Gates       []domain.GateEvaluation
	Candidates  []domain.CandidateRow
	Selected    *domain.CandidateRow
	Earnings    domain.EarningsInfo
	Diagnostics domain.SymbolDiagnostics
	Warning     string
}

// EvaluateUniverse evaluates the given symbols against the frozen snapshot
// and returns a complete artifact. An empty symbol list means the effective
// universe (enabled symbols plus benchmarks). Per-symbol failures never abort
// the run; they downgrade the affected symbol and attach a warning.
func (e *Engine) EvaluateUniverse(ctx context.Context, symbols []string) (*domain.DecisionArtifact, error) {
	start := e.now()

	if len(symbols) == 0 {
		var err error
		if symbols, err = e.deps.Universe.EffectiveSymbols(); err != nil {
			return nil, err
		}
	} else {
		symbols = domain.NormalizeSymbols(symbols)
	}

	snap, data, err := e.loadSnapshot()
	if err != nil {
		return nil, err
	}
	regime := e.currentRegime()
	held := e.heldSymbols()
	now := start.UTC()

	artifact := e.newArtifact(now, len(symbols))
	canceled := false
	for _, symbol := range symbols {
		if !canceled && ctx.Err() != nil {
			canceled = true
			artifact.Warnings = append(artifact.Warnings, "run canceled before completing the universe")
		}

		var res symbolResult
		if canceled {
			res = symbolResult{Summary: domain.NewNotEvaluatedSummary(symbol, "run canceled")}
		} else {
			res = e.safeEvaluate(ctx, symbol, data[symbol], snap, regime, held[symbol], now)
		}
		e.fold(artifact, res)
	}

	e.finalize(artifact, regime)
	e.log.Info().
		Str("run_id", artifact.Metadata.RunID).
		Int("universe", len(symbols)).
		Int("eligible", artifact.Metadata.EligibleCount).
		Dur("elapsed", e.now().Sub(start)).
		Msg("Universe evaluated")
	return artifact, nil
}

// EvaluateSymbolAndMerge re-evaluates one symbol and merges the result into
// the current artifact: its row, candidates, gates, earnings, and diagnostics
// are replaced, the run gets a fresh run_id and timestamp, and eligible_count
// is recomputed. Every other symbol's data is carried over untouched.
func (e *Engine) EvaluateSymbolAndMerge(ctx context.Context, symbol string, current *domain.DecisionArtifact) (*domain.DecisionArtifact, error) {
	norm, ok := domain.NormalizeSymbol(symbol)
	if !ok {
		return nil, &domain.EvaluationError{Symbol: symbol, Stage: 1, Err: errors.New("invalid symbol")}
	}
	if current == nil {
		return nil, &domain.EvaluationError{Symbol: norm, Stage: 1, Err: errors.New("no current artifact to merge into")}
	}

	snap, data, err := e.loadSnapshot()
	if err != nil {
		return nil, err
	}
	regime := e.currentRegime()
	held := e.heldSymbols()
	now := e.now().UTC()

	res := e.safeEvaluate(ctx, norm, data[norm], snap, regime, held[norm], now)

	merged := cloneArtifact(current)
	merged.Metadata.RunID = uuid.NewString()
	merged.Metadata.PipelineTimestamp = now
	merged.Metadata.MarketPhase = e.deps.Calendar.GetPhase(now)

	replaced := false
	for i := range merged.Symbols {
		if merged.Symbols[i].Symbol == norm {
			merged.Symbols[i] = res.Summary
			replaced = true
			break
		}
	}
	if !replaced {
		merged.Symbols = append(merged.Symbols, res.Summary)
		merged.Metadata.UniverseSize++
	}

	merged.GatesBySymbol[norm] = res.Gates
	merged.EarningsBySymbol[norm] = res.Earnings
	merged.DiagnosticsBySymbol[norm] = res.Diagnostics
	if len(res.Candidates) > 0 {
		merged.CandidatesBySymbol[norm] = res.Candidates
	} else {
		delete(merged.CandidatesBySymbol, norm)
	}

	selected := merged.SelectedCandidates[:0:0]
	for _, c := range merged.SelectedCandidates {
		if c.Symbol != norm {
			selected = append(selected, c)
		}
	}
	if res.Selected != nil {
		selected = append(selected, *res.Selected)
	}
	merged.SelectedCandidates = selected

	if res.Warning != "" {
		merged.Warnings = append(merged.Warnings, res.Warning)
		merged.Metadata.Warnings = append(merged.Metadata.Warnings, res.Warning)
	}

	e.rerankSymbol(merged, norm)
	e.recount(merged)
	e.log.Info().Str("symbol", norm).Str("run_id", merged.Metadata.RunID).Msg("Symbol re-evaluated and merged")
	return merged, nil
}

// loadSnapshot resolves the frozen snapshot and its per-symbol data.
func (e *Engine) loadSnapshot() (*snapshots.Snapshot, map[string]snapshots.SymbolData, error) {
	snap, err := e.deps.Snapshots.GetActive()
	if err != nil {
		return nil, nil, err
	}
	if snap == nil {
		return nil, nil, ErrNoSnapshot
	}

	rows, err := e.deps.Snapshots.LoadSymbolData(snap.ID)
	if err != nil {
		return nil, nil, err
	}
	data := make(map[string]snapshots.SymbolData, len(rows))
	for _, sd := range rows {
		data[sd.Symbol] = sd
	}
	return snap, data, nil
}

// currentRegime reads the latest regime record, degrading to UNKNOWN when
// none exists. The REGIME gate then decides what UNKNOWN means.
func (e *Engine) currentRegime() domain.Regime {
	rec, err := e.deps.Regimes.Latest()
	if err != nil {
		e.log.Warn().Err(err).Msg("Cannot read latest regime; evaluating as UNKNOWN")
		return domain.RegimeUnknown
	}
	if rec == nil {
		return domain.RegimeUnknown
	}
	return rec.Regime
}

// heldSymbols reads the open-position set. Failures degrade to no flags.
func (e *Engine) heldSymbols() map[string]bool {
	if e.deps.Positions == nil {
		return nil
	}
	held, err := e.deps.Positions.OpenSymbols()
	if err != nil {
		e.log.Warn().Err(err).Msg("Cannot read open positions; risk flags omitted")
		return nil
	}
	return held
}

// safeEvaluate runs one symbol with panic isolation. A panic downgrades the
// symbol to NOT_EVALUATED with a warning; the rest of the run is unaffected.
func (e *Engine) safeEvaluate(ctx context.Context, symbol string, sd snapshots.SymbolData, snap *snapshots.Snapshot, regime domain.Regime, held bool, now time.Time) (res symbolResult) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error().Str("symbol", symbol).Interface("panic", r).Msg("Evaluation panicked; symbol downgraded")
			res = symbolResult{
				Summary: domain.NewNotEvaluatedSummary(symbol, "internal evaluation error"),
				Warning: fmt.Sprintf("%s: evaluation panicked: %v", symbol, r),
			}
		}
	}()
	return e.evaluateSymbol(ctx, symbol, sd, snap, regime, held, now)
}

func (e *Engine) evaluateSymbol(ctx context.Context, symbol string, sd snapshots.SymbolData, snap *snapshots.Snapshot, regime domain.Regime, held bool, now time.Time) symbolResult {
	in := e.stage1Input(symbol, sd, snap, regime, now)

	gates, passed, primaryReason := runGates(e.deps.Strategy.Gates, in)

	diag := domain.SymbolDiagnostics{
		Stock: &domain.StockDiag{
			Volume:         in.Volume,
			IVRank:         in.IVRank,
			DataAgeMinutes: in.DataAgeMinutes,
		},
		Eligibility: &domain.EligibilityDiag{
			FailedGates:  failedGateNames(gates),
			SkippedGates: skippedGateNames(gates),
		},
		Technicals: computeTechnicals(sd.Rows),
	}
	if held {
		diag.RiskFlags = append(diag.RiskFlags, riskFlagOpenPosition)
	}
	if in.HasData {
		diag.Stock.Price = floatPtr(in.Price)
		min := e.deps.Strategy.Gates.MinVolumeFor(symbol)
		liq := &domain.LiquidityDiag{Volume: in.Volume, MinRequired: min}
		if min > 0 {
			liq.Ratio = float64(in.Volume) / float64(min)
		}
		diag.Liquidity = liq
	}

	summary := domain.SymbolEvalSummary{
		Symbol:   symbol,
		Strategy: domain.StrategyCSP,
	}
	if in.HasData {
		summary.Price = floatPtr(in.Price)
	}

	if !passed {
		summary.Verdict = domain.VerdictBlocked
		summary.Stage1Status = domain.StageFail
		summary.Stage2Status = domain.StageNotRun
		summary.PrimaryReason = primaryReason
		summary.Band, summary.BandReason = domain.BandForScore(nil)
		diag.Eligibility.Stage1Status = domain.StageFail
		diag.Explanation = primaryReason
		return symbolResult{Summary: summary, Gates: gates, Diagnostics: diag}
	}

	final, raw, breakdown := computeScore(e.deps.Strategy.Scoring, e.deps.Strategy.Gates, in)
	summary.Stage1Status = domain.StagePass
	summary.FinalScore = &final
	summary.RawScore = floatPtr(raw)
	summary.Score = floatPtr(float64(final))
	summary.Band, summary.BandReason = domain.BandForScore(&final)
	diag.Eligibility.Stage1Status = domain.StagePass
	diag.ScoreBreakdown = breakdown

	s2 := runStage2(ctx, e.deps.Provider, e.deps.Strategy.Chain, symbol, now)
	gates = append(gates, s2.EarningsGate)
	summary.Stage2Status = s2.Status
	summary.ProviderStatus = s2.ProviderStatus
	diag.Options = &s2.Options

	if s2.Status == domain.StagePass && s2.Selected != nil {
		summary.Verdict = domain.VerdictEligible
		summary.Expiration = s2.Expiration
		summary.CapitalRequired = s2.CapitalRequired
		summary.ExpectedCredit = s2.ExpectedCredit
		summary.PremiumYieldPct = s2.PremiumYieldPct
		diag.ExitPlan = &domain.ExitPlanDiag{
			ProfitTargetPct: 50,
			MaxLossMultiple: 2,
			Note:            "close at half credit or twice credit against",
		}
		diag.Explanation = s2.Selected.WhyThisTrade
	} else {
		summary.Verdict = domain.VerdictHold
		summary.PrimaryReason = s2.Reason
		diag.Explanation = fmt.Sprintf("stage 2: %s", s2.Reason)
	}

	return symbolResult{
		Summary:     summary,
		Gates:       gates,
		Candidates:  s2.Candidates,
		Selected:    s2.Selected,
		Earnings:    s2.Earnings,
		Diagnostics: diag,
	}
}

// stage1Input reduces a symbol's snapshot rows to the view Stage 1 needs.
// Data age prefers the symbol's own last row date over the snapshot-level
// aggregate.
func (e *Engine) stage1Input(symbol string, sd snapshots.SymbolData, snap *snapshots.Snapshot, regime domain.Regime, now time.Time) stage1Input {
	in := stage1Input{
		Symbol:         symbol,
		Regime:         regime,
		Priority:       e.deps.Universe.PriorityFor(symbol),
		DataAgeMinutes: snap.DataAgeMinutes,
	}
	if !sd.HasData {
		return in
	}
	last, ok := snapshots.LatestRow(sd.Rows)
	if !ok {
		return in
	}

	in.HasData = true
	in.Price = last.Close
	in.Volume = last.Volume
	in.IVRank = last.IVRank
	if last.Date != nil {
		if age := now.Sub(*last.Date).Minutes(); age >= 0 {
			in.DataAgeMinutes = age
		}
	}
	return in
}

func (e *Engine) newArtifact(now time.Time, universeSize int) *domain.DecisionArtifact {
	return &domain.DecisionArtifact{
		Metadata: domain.ArtifactMetadata{
			ArtifactVersion:   domain.ArtifactVersion,
			Mode:              e.mode.ArtifactMode(),
			PipelineTimestamp: now,
			RunID:             uuid.NewString(),
			MarketPhase:       e.deps.Calendar.GetPhase(now),
			UniverseSize:      universeSize,
			ConfigFrozen:      true,
		},
		CandidatesBySymbol:  make(map[string][]domain.CandidateRow),
		GatesBySymbol:       make(map[string][]domain.GateEvaluation),
		EarningsBySymbol:    make(map[string]domain.EarningsInfo),
		DiagnosticsBySymbol: make(map[string]domain.SymbolDiagnostics),
	}
}

// fold adds one symbol's result to the artifact under construction.
func (e *Engine) fold(artifact *domain.DecisionArtifact, res symbolResult) {
	artifact.Symbols = append(artifact.Symbols, res.Summary)
	if len(res.Gates) > 0 {
		artifact.GatesBySymbol[res.Summary.Symbol] = res.Gates
	}
	if len(res.Candidates) > 0 {
		artifact.CandidatesBySymbol[res.Summary.Symbol] = res.Candidates
	}
	if res.Selected != nil {
		artifact.SelectedCandidates = append(artifact.SelectedCandidates, *res.Selected)
	}
	artifact.EarningsBySymbol[res.Summary.Symbol] = res.Earnings
	artifact.DiagnosticsBySymbol[res.Summary.Symbol] = res.Diagnostics
	if res.Warning != "" {
		artifact.Warnings = append(artifact.Warnings, res.Warning)
	}
}

// finalize ranks, orders, and counts the artifact after all symbols folded.
func (e *Engine) finalize(artifact *domain.DecisionArtifact, regime domain.Regime) {
	applyRanks(artifact.Symbols)
	sortRows(artifact.Symbols)
	e.recount(artifact)
	artifact.Metadata.Warnings = artifact.Warnings
	if regime == domain.RegimeUnknown {
		artifact.Metadata.Warnings = append(artifact.Metadata.Warnings, "market regime unknown for this run")
	}
}

// recount refreshes the stage counters and eligible count from the rows.
func (e *Engine) recount(artifact *domain.DecisionArtifact) {
	stage1, stage2 := 0, 0
	for _, row := range artifact.Symbols {
		if row.Stage1Status != domain.StageNotRun {
			stage1++
		}
		if row.Stage2Status != domain.StageNotRun {
			stage2++
		}
	}
	artifact.Metadata.EvaluatedCountStage1 = stage1
	artifact.Metadata.EvaluatedCountStage2 = stage2
	artifact.RecountEligible()
}

// rerankSymbol recomputes the merged symbol's rank_score against the eligible
// yields already on the artifact. Other rows keep their stored ranks so a
// single-symbol merge leaves them byte-identical.
func (e *Engine) rerankSymbol(artifact *domain.DecisionArtifact, symbol string) {
	var target *domain.SymbolEvalSummary
	var yields []float64
	for i := range artifact.Symbols {
		row := &artifact.Symbols[i]
		if row.Verdict == domain.VerdictEligible && row.PremiumYieldPct != nil {
			yields = append(yields, *row.PremiumYieldPct)
		}
		if row.Symbol == symbol {
			target = row
		}
	}
	if target == nil {
		return
	}
	if target.Verdict != domain.VerdictEligible || target.PremiumYieldPct == nil {
		target.RankScore = nil
		return
	}
	target.RankScore = percentileOf(*target.PremiumYieldPct, yields)
}

// cloneArtifact deep-copies an artifact so a merge never mutates the caller's
// copy in place.
func cloneArtifact(a *domain.DecisionArtifact) *domain.DecisionArtifact {
	out := &domain.DecisionArtifact{
		Metadata:            a.Metadata,
		Symbols:             append([]domain.SymbolEvalSummary(nil), a.Symbols...),
		SelectedCandidates:  append([]domain.CandidateRow(nil), a.SelectedCandidates...),
		CandidatesBySymbol:  make(map[string][]domain.CandidateRow, len(a.CandidatesBySymbol)),
		GatesBySymbol:       make(map[string][]domain.GateEvaluation, len(a.GatesBySymbol)),
		EarningsBySymbol:    make(map[string]domain.EarningsInfo, len(a.EarningsBySymbol)),
		DiagnosticsBySymbol: make(map[string]domain.SymbolDiagnostics, len(a.DiagnosticsBySymbol)),
		Warnings:            append([]string(nil), a.Warnings...),
	}
	out.Metadata.Warnings = append([]string(nil), a.Metadata.Warnings...)
	for k, v := range a.CandidatesBySymbol {
		out.CandidatesBySymbol[k] = append([]domain.CandidateRow(nil), v...)
	}
	for k, v := range a.GatesBySymbol {
		out.GatesBySymbol[k] = append([]domain.GateEvaluation(nil), v...)
	}
	for k, v := range a.EarningsBySymbol {
		out.EarningsBySymbol[k] = v
	}
	for k, v := range a.DiagnosticsBySymbol {
		out.DiagnosticsBySymbol[k] = v
	}
	return out
}
