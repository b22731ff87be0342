// Package domain provides core domain models and types.
package domain

// Verdict is the per-symbol outcome of a full evaluation.
type Verdict string

const (
	// VerdictEligible means Stage 1 and Stage 2 both passed and a candidate was selected.
	VerdictEligible Verdict = "ELIGIBLE"
	// VerdictHold means Stage 1 passed, Stage 2 ran, but no contract survived the filters.
	VerdictHold Verdict = "HOLD"
	// VerdictBlocked means a hard gate failed in Stage 1.
	VerdictBlocked Verdict = "BLOCKED"
	// VerdictNotEvaluated means the engine did not run for this symbol.
	VerdictNotEvaluated Verdict = "NOT_EVALUATED"
)

// Band is the categorical quality grade derived purely from the numeric score.
type Band string

const (
	BandA Band = "A"
	BandB Band = "B"
	BandC Band = "C"
	BandD Band = "D"
)

// Band thresholds. A band must never depend on the verdict, only on the score.
const (
	bandAThreshold = 80
	bandBThreshold = 65
	bandCThreshold = 50
)

// BandForScore derives the band and its reason from a final score.
// A nil score always yields band D. The derivation is pure: it reads
// nothing but the score value.
func BandForScore(score *int) (Band, string) {
	if score == nil {
		return BandD, "no score"
	}
	s := *score
	switch {
	case s >= bandAThreshold:
		return BandA, "score >= 80"
	case s >= bandBThreshold:
		return BandB, "score >= 65"
	case s >= bandCThreshold:
		return BandC, "score >= 50"
	default:
		return BandD, "score < 50"
	}
}

// StageStatus reports whether a pipeline stage ran and how it ended.
type StageStatus string

const (
	StagePass   StageStatus = "PASS"
	StageFail   StageStatus = "FAIL"
	StageNotRun StageStatus = "NOT_RUN"
)

// GateStatus is the outcome of a single named gate check.
type GateStatus string

const (
	GatePass   GateStatus = "PASS"
	GateFail   GateStatus = "FAIL"
	GateSkip   GateStatus = "SKIP"
	GateWaived GateStatus = "WAIVED"
)

// Phase is the market session phase for the primary exchange.
type Phase string

const (
	PhasePre     Phase = "PRE"
	PhaseOpen    Phase = "OPEN"
	PhasePost    Phase = "POST"
	PhaseClosed  Phase = "CLOSED"
	PhaseUnknown Phase = "UNKNOWN"
)

// Regime classifies the broad market environment from benchmark returns.
type Regime string

const (
	RegimeBull    Regime = "BULL"
	RegimeBear    Regime = "BEAR"
	RegimeNeutral Regime = "NEUTRAL"
	RegimeRiskOn  Regime = "RISK_ON"
	RegimeRiskOff Regime = "RISK_OFF"
	RegimeUnknown Regime = "UNKNOWN"
)

// RunMode selects how much of the outside world an evaluation touches.
type RunMode string

const (
	// RunModeLive uses the real chain provider and enforces the config-hash guard.
	RunModeLive RunMode = "LIVE"
	// RunModeMock substitutes the deterministic mock chain provider.
	RunModeMock RunMode = "MOCK"
	// RunModeDryRun behaves like MOCK and additionally relaxes the
	// market-hours persistence gate for development.
	RunModeDryRun RunMode = "DRY_RUN"
)

// ParseRunMode maps a raw string to a RunMode, defaulting to DRY_RUN.
func ParseRunMode(s string) RunMode {
	switch RunMode(s) {
	case RunModeLive:
		return RunModeLive
	case RunModeMock:
		return RunModeMock
	case RunModeDryRun:
		return RunModeDryRun
	default:
		return RunModeDryRun
	}
}

// ArtifactMode returns the mode recorded on artifacts. Only LIVE runs are
// labeled LIVE; both MOCK and DRY_RUN produce MOCK artifacts.
func (m RunMode) ArtifactMode() string {
	if m == RunModeLive {
		return "LIVE"
	}
	return "MOCK"
}

// SnapshotSource identifies where a snapshot's rows came from.
type SnapshotSource string

const (
	SourceCSV   SnapshotSource = "CSV"
	SourceCache SnapshotSource = "CACHE"
)

// Strategy is an option strategy type the system recommends.
type Strategy string

const (
	// StrategyCSP is a cash-secured put.
	StrategyCSP Strategy = "CSP"
	// StrategyCC is a covered call.
	StrategyCC Strategy = "CC"
)

// AlertLevel is an operator-facing alert severity. Internal errors are never
// persisted as alerts; they surface through scheduler health instead.
type AlertLevel string

const (
	AlertInfo   AlertLevel = "INFO"
	AlertWatch  AlertLevel = "WATCH"
	AlertAction AlertLevel = "ACTION"
	AlertHalt   AlertLevel = "HALT"
)

// HealthStatus summarizes the outcome of the most recent heartbeat cycle.
type HealthStatus string

const (
	HealthSuccess     HealthStatus = "SUCCESS"
	HealthError       HealthStatus = "ERROR"
	HealthNoRegime    HealthStatus = "NO_REGIME"
	HealthNoData      HealthStatus = "NO_DATA"
	HealthNoSnapshot  HealthStatus = "NO_SNAPSHOT"
	HealthRegimeStale HealthStatus = "REGIME_STALE"
)
