// Package heartbeat runs the pipeline on a fixed cadence: refresh the market
// regime, evaluate the universe against the frozen snapshot, persist the
// decision, detect deltas against the previous cycle, and raise deduplicated
// operator alerts. Exactly one worker runs per process.
package heartbeat

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/swap2you/chakraops-sub000/internal/config"
	"github.com/swap2you/chakraops-sub000/internal/domain"
	"github.com/swap2you/chakraops-sub000/internal/evaluation"
	"github.com/swap2you/chakraops-sub000/internal/events"
	"github.com/swap2you/chakraops-sub000/internal/market_regime"
	"github.com/swap2you/chakraops-sub000/internal/modules/decisions"
	"github.com/swap2you/chakraops-sub000/internal/modules/freeze"
	"github.com/swap2you/chakraops-sub000/internal/modules/market_hours"
	"github.com/swap2you/chakraops-sub000/internal/modules/snapshots"
	"github.com/swap2you/chakraops-sub000/internal/modules/universe"
)

// Deps are the worker's collaborators. Bus, Audit, and Cache may be nil in
// tests; the worker degrades to logging.
type Deps struct {
	Engine    *evaluation.Engine
	Store     *decisions.Store
	Snapshots *snapshots.Repository
	Universe  *universe.Service
	Regimes   *market_regime.Detector
	Calendar  *market_hours.Calendar
	HashGuard *freeze.HashGuard
	Strategy  *config.StrategyConfig
	Audit     *evaluation.AuditRepository
	Alerts    *AlertRepository
	Cache     *StateCache
	Bus       *events.Bus
}

// Options tune the cadence and dedup windows.
type Options struct {
	Interval        time.Duration
	RegimeStale     time.Duration
	RemovalCooldown time.Duration
	Mode            domain.RunMode
	Benchmarks      []string
}

// Worker is the singleton background scheduler.
type Worker struct {
	deps Deps
	opts Options
	log  zerolog.Logger
	now  func() time.Time

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	stopped chan struct{}

	cycleMu sync.Mutex // at most one cycle in flight

	health healthState

	// Cycle-to-cycle memory. prev is nil on the first cycle after a cold
	// start unless the cache restored it.
	prev             *cycleState
	benchWarned      bool
	lastRemovalAlert time.Time
}

// NewWorker creates the scheduler worker.
func NewWorker(deps Deps, opts Options, log zerolog.Logger) *Worker {
	return &Worker{
		deps: deps,
		opts: opts,
		log:  log.With().Str("component", "heartbeat").Logger(),
		now:  time.Now,
	}
}

// WithClock overrides the worker clock for tests.
func (w *Worker) WithClock(now func() time.Time) *Worker {
	w.now = now
	return w
}

// Health returns a copy of the current scheduler health.
func (w *Worker) Health() Health {
	return w.health.Snapshot()
}

// Start launches the background loop. Idempotent: a second call while
// running is a no-op.
func (w *Worker) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		w.log.Warn().Msg("Start called on a running worker; ignored")
		return
	}

	if w.deps.Cache != nil {
		if state, err := w.deps.Cache.Load(); err == nil && state != nil {
			w.prev = state
			w.log.Info().Str("run_id", state.RunID).Msg("Restored cycle state from cache")
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	w.stopped = make(chan struct{})
	w.started = true
	w.health.update(func(h *Health) { h.IsRunning = true })

	go w.run(ctx)
	w.log.Info().Dur("interval", w.opts.Interval).Str("mode", string(w.opts.Mode)).Msg("Heartbeat started")
}

// Stop signals the worker and joins with a bounded timeout. On expiry it
// warns and proceeds; the goroutine exits at its next cancellation check.
func (w *Worker) Stop(timeout time.Duration) {
	w.mu.Lock()
	if !w.started {
		w.mu.Unlock()
		return
	}
	w.started = false
	cancel := w.cancel
	stopped := w.stopped
	w.mu.Unlock()

	cancel()
	select {
	case <-stopped:
		w.log.Info().Msg("Heartbeat stopped")
	case <-time.After(timeout):
		w.log.Warn().Dur("timeout", timeout).Msg("Heartbeat did not stop in time; proceeding")
	}
	w.health.update(func(h *Health) { h.IsRunning = false })
}

// RunOnceResult reports whether a manual trigger ran.
type RunOnceResult struct {
	Started bool   `json:"started"`
	Reason  string `json:"reason,omitempty"`
}

// RunOnce triggers one synchronous cycle. It refuses when the market is
// closed and force is not set, or when a cycle is already in flight.
func (w *Worker) RunOnce(ctx context.Context, force bool) RunOnceResult {
	phase := w.deps.Calendar.GetPhase(w.now())
	if phase != domain.PhaseOpen && !force {
		return RunOnceResult{Started: false, Reason: fmt.Sprintf("market phase is %s; use force", phase)}
	}
	if !w.cycleMu.TryLock() {
		return RunOnceResult{Started: false, Reason: "cycle already in progress"}
	}
	defer w.cycleMu.Unlock()

	w.cycle(ctx, force)
	return RunOnceResult{Started: true}
}

func (w *Worker) run(ctx context.Context) {
	defer close(w.stopped)

	for {
		start := w.now()
		w.cycleMu.Lock()
		w.cycle(ctx, false)
		w.cycleMu.Unlock()

		// Cancellation-aware sleep of interval minus cycle duration.
		sleep := w.opts.Interval - w.now().Sub(start)
		if sleep < 0 {
			sleep = 0
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(sleep):
		}
	}
}

// cycle executes the ordered steps of one heartbeat.
func (w *Worker) cycle(ctx context.Context, force bool) {
	start := w.now()
	outcome := cycleOutcome{status: domain.HealthSuccess}

	defer func() {
		w.publishHealth(start, outcome)
		if w.deps.Bus != nil {
			w.deps.Bus.Publish(&events.CycleCompletedData{
				RunID:         outcome.runID,
				SnapshotID:    outcome.snapshotID,
				Status:        outcome.status,
				EligibleCount: outcome.eligibleCount,
				DurationMsec:  w.now().Sub(start).Milliseconds(),
				Persisted:     outcome.persisted,
			})
		}
	}()

	// Step 1: regime freshness.
	regime := w.refreshRegime(&outcome)
	if outcome.failed() {
		return
	}
	if ctx.Err() != nil {
		outcome.fail(domain.HealthError, "cycle canceled")
		return
	}

	// Step 2: enabled universe.
	symbols, err := w.deps.Universe.EffectiveSymbols()
	if err != nil {
		outcome.fail(domain.HealthError, err.Error())
		return
	}

	// Step 3: snapshot intersection.
	snap, intersection := w.resolveIntersection(symbols, &outcome)
	if outcome.failed() || snap == nil {
		return
	}
	outcome.snapshotID = snap.ID
	outcome.dataTimestamp = snap.Timestamp
	if ctx.Err() != nil {
		outcome.fail(domain.HealthError, "cycle canceled")
		return
	}

	// Step 4: evaluate.
	artifact, err := w.deps.Engine.EvaluateUniverse(ctx, intersection)
	if err != nil {
		outcome.fail(domain.HealthError, err.Error())
		return
	}
	outcome.runID = artifact.Metadata.RunID
	outcome.eligibleCount = artifact.Metadata.EligibleCount

	// Config-hash guard: drift marks the artifact, never blocks the run.
	if w.deps.HashGuard != nil && w.deps.Strategy != nil {
		if drift, err := w.deps.HashGuard.Check(w.deps.Strategy, w.opts.Mode); err != nil {
			w.log.Error().Err(err).Msg("Config-hash guard failed")
		} else if drift != nil {
			artifact.Metadata.ConfigFrozen = false
			artifact.Metadata.Warnings = append(artifact.Metadata.Warnings, drift.String())
		}
	}

	// Step 5: persist, subject to the LIVE write gate.
	w.persist(snap, artifact, force, &outcome)
	w.logTotals(artifact)

	// Step 6: deltas vs the previous cycle.
	eligible := artifact.EligibleSymbols()
	sort.Strings(eligible)
	added, removed := diffSymbols(w.prevEligible(), eligible)
	regimeChanged := w.prev != nil && w.prev.Regime != regime

	// Step 7: deduplicated alerts. First cycle raises none.
	if w.prev != nil {
		w.raiseAlerts(added, removed, regimeChanged, regime)
	}

	// Step 9's sleep happens in run(); step 8 (health) in the deferred
	// publish. Record the state the next cycle diffs against.
	state := &cycleState{
		RunID:       artifact.Metadata.RunID,
		SnapshotID:  snap.ID,
		Eligible:    eligible,
		Regime:      regime,
		CompletedAt: w.now().UTC(),
	}
	w.prev = state
	if w.deps.Cache != nil {
		if err := w.deps.Cache.Save(state); err != nil {
			w.log.Warn().Err(err).Msg("Cannot cache cycle state")
		}
	}
}

// cycleOutcome accumulates what the deferred health publication needs.
type cycleOutcome struct {
	status        domain.HealthStatus
	lastError     string
	runID         string
	snapshotID    string
	eligibleCount int
	dataTimestamp time.Time
	persisted     bool
}

func (o *cycleOutcome) fail(status domain.HealthStatus, msg string) {
	o.status = status
	o.lastError = msg
}

func (o *cycleOutcome) failed() bool { return o.status != domain.HealthSuccess }

// refreshRegime recomputes the regime when stale or missing and returns the
// effective regime for this cycle.
func (w *Worker) refreshRegime(outcome *cycleOutcome) domain.Regime {
	now := w.now()
	stale, err := w.deps.Regimes.IsStale(now, w.opts.RegimeStale)
	if err != nil {
		outcome.fail(domain.HealthError, err.Error())
		return domain.RegimeUnknown
	}

	if stale {
		rec, err := w.deps.Regimes.Compute(now)
		if err != nil {
			outcome.fail(domain.HealthRegimeStale, fmt.Sprintf("regime recompute: %v", err))
			return domain.RegimeUnknown
		}
		if rec == nil || rec.Regime == domain.RegimeUnknown {
			outcome.fail(domain.HealthNoRegime, "no snapshots to derive a regime from")
			return domain.RegimeUnknown
		}
		return rec.Regime
	}

	rec, err := w.deps.Regimes.Latest()
	if err != nil {
		outcome.fail(domain.HealthError, err.Error())
		return domain.RegimeUnknown
	}
	if rec == nil {
		outcome.fail(domain.HealthNoRegime, "regime history is empty")
		return domain.RegimeUnknown
	}
	return rec.Regime
}

// resolveIntersection loads the active snapshot and intersects its symbols
// with the enabled universe. It also fires the once-per-process warning for
// benchmarks absent from the snapshot.
func (w *Worker) resolveIntersection(universeSymbols []string, outcome *cycleOutcome) (*snapshots.Snapshot, []string) {
	snap, err := w.deps.Snapshots.GetActive()
	if err != nil {
		outcome.fail(domain.HealthError, err.Error())
		return nil, nil
	}
	if snap == nil {
		outcome.fail(domain.HealthNoSnapshot, "no frozen snapshot")
		return nil, nil
	}

	data, err := w.deps.Snapshots.LoadSymbolData(snap.ID)
	if err != nil {
		outcome.fail(domain.HealthError, err.Error())
		return nil, nil
	}
	inSnapshot := make(map[string]bool, len(data))
	for _, sd := range data {
		inSnapshot[sd.Symbol] = true
	}

	if !w.benchWarned {
		for _, bench := range w.opts.Benchmarks {
			if !inSnapshot[bench] {
				w.log.Warn().Str("benchmark", bench).Msg("Benchmark symbol missing from snapshot")
				w.benchWarned = true
			}
		}
	}

	var intersection []string
	for _, sym := range universeSymbols {
		if inSnapshot[sym] {
			intersection = append(intersection, sym)
		}
	}
	if len(intersection) == 0 {
		outcome.fail(domain.HealthNoData, "snapshot and universe share no symbols")
		return nil, nil
	}
	return snap, intersection
}

// persist commits the artifact, honoring the LIVE market-hours write gate.
func (w *Worker) persist(snap *snapshots.Snapshot, artifact *domain.DecisionArtifact, force bool, outcome *cycleOutcome) {
	phase := w.deps.Calendar.GetPhase(w.now())
	if w.opts.Mode == domain.RunModeLive && phase != domain.PhaseOpen && !force {
		w.log.Info().Str("phase", string(phase)).Msg("Market not open; decision not persisted")
		return
	}

	if err := w.deps.Store.SetLatest(artifact); err != nil {
		outcome.fail(domain.HealthError, err.Error())
		return
	}
	outcome.persisted = true

	if w.deps.Audit != nil {
		if err := w.deps.Audit.RecordRun(snap.ID, artifact); err != nil {
			w.log.Error().Err(err).Msg("Cannot persist evaluation audit")
		}
	}
	if w.deps.Bus != nil {
		w.deps.Bus.Publish(&events.DecisionUpdatedData{
			RunID:         artifact.Metadata.RunID,
			UniverseSize:  artifact.Metadata.UniverseSize,
			EligibleCount: artifact.Metadata.EligibleCount,
			Mode:          artifact.Metadata.Mode,
		})
	}
}

// logTotals summarizes the run: eligible count and top rejection reasons.
func (w *Worker) logTotals(artifact *domain.DecisionArtifact) {
	reasons := map[string]int{}
	rejected := 0
	for _, row := range artifact.Symbols {
		if row.Verdict == domain.VerdictEligible {
			continue
		}
		rejected++
		if row.PrimaryReason != "" {
			reasons[row.PrimaryReason]++
		}
	}

	top := make([]string, 0, len(reasons))
	for reason, n := range reasons {
		top = append(top, fmt.Sprintf("%s(%d)", reason, n))
	}
	sort.Slice(top, func(i, j int) bool { return reasons[trimCount(top[i])] > reasons[trimCount(top[j])] })
	if len(top) > 3 {
		top = top[:3]
	}

	w.log.Info().
		Str("run_id", artifact.Metadata.RunID).
		Int("eligible", artifact.Metadata.EligibleCount).
		Int("rejected", rejected).
		Str("top_reasons", strings.Join(top, ", ")).
		Msg("Cycle evaluated")
}

func trimCount(s string) string {
	if i := strings.IndexByte(s, '('); i >= 0 {
		return s[:i]
	}
	return s
}

// raiseAlerts applies the dedup policy: one INFO per new symbol, one
// aggregated removal alert under a process-local cooldown, one WATCH per
// regime change.
func (w *Worker) raiseAlerts(added, removed []string, regimeChanged bool, regime domain.Regime) {
	for _, sym := range added {
		w.raise(Alert{
			Level:   domain.AlertInfo,
			Kind:    AlertKindNewCandidate,
			Symbol:  sym,
			Message: fmt.Sprintf("%s entered the eligible set", sym),
		})
	}

	if len(removed) > 0 {
		now := w.now()
		if w.lastRemovalAlert.IsZero() || now.Sub(w.lastRemovalAlert) >= w.opts.RemovalCooldown {
			w.lastRemovalAlert = now
			w.raise(Alert{
				Level:   domain.AlertInfo,
				Kind:    AlertKindCandidatesRemoved,
				Message: fmt.Sprintf("%d symbols left the eligible set: %s", len(removed), strings.Join(removed, ", ")),
				Details: map[string]any{"symbols": removed},
			})
		} else {
			w.log.Debug().Strs("symbols", removed).Msg("Removal alert suppressed by cooldown")
		}
	}

	if regimeChanged {
		w.raise(Alert{
			Level:   domain.AlertWatch,
			Kind:    AlertKindRegimeChange,
			Message: fmt.Sprintf("market regime changed from %s to %s", w.prev.Regime, regime),
			Details: map[string]any{"previous": string(w.prev.Regime), "current": string(regime)},
		})
		if w.deps.Bus != nil {
			w.deps.Bus.Publish(&events.RegimeChangedData{Previous: w.prev.Regime, Current: regime})
		}
	}
}

func (w *Worker) raise(alert Alert) {
	if w.deps.Alerts != nil {
		if err := w.deps.Alerts.Insert(&alert); err != nil {
			w.log.Error().Err(err).Str("kind", alert.Kind).Msg("Cannot persist alert")
			return
		}
	}
	if w.deps.Bus != nil {
		w.deps.Bus.Publish(&events.AlertRaisedData{
			AlertID: alert.ID,
			Level:   alert.Level,
			Kind:    alert.Kind,
			Symbol:  alert.Symbol,
			Message: alert.Message,
		})
	}
	w.log.Info().Str("level", string(alert.Level)).Str("kind", alert.Kind).Str("symbol", alert.Symbol).Msg(alert.Message)
}

func (w *Worker) prevEligible() []string {
	if w.prev == nil {
		return nil
	}
	return w.prev.Eligible
}

func (w *Worker) publishHealth(start time.Time, outcome cycleOutcome) {
	w.health.update(func(h *Health) {
		h.LastCycleTime = start.UTC()
		h.Status = outcome.status
		h.LastError = outcome.lastError
		if !outcome.dataTimestamp.IsZero() {
			h.DataTimestamp = outcome.dataTimestamp
		}
		if outcome.runID != "" {
			h.LastRunID = outcome.runID
		}
		h.CycleCount++
	})
}

// diffSymbols returns the additions and removals between two sorted sets.
func diffSymbols(prev, curr []string) (added, removed []string) {
	inPrev := make(map[string]bool, len(prev))
	for _, s := range prev {
		inPrev[s] = true
	}
	inCurr := make(map[string]bool, len(curr))
	for _, s := range curr {
		inCurr[s] = true
	}

	for _, s := range curr {
		if !inPrev[s] {
			added = append(added, s)
		}
	}
	for _, s := range prev {
		if !inCurr[s] {
			removed = append(removed, s)
		}
	}
	return added, removed
}
