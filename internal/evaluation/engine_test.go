package evaluation

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swap2you/chakraops-sub000/internal/domain"
	"github.com/swap2you/chakraops-sub000/internal/market_regime"
	"github.com/swap2you/chakraops-sub000/internal/modules/chains"
	"github.com/swap2you/chakraops-sub000/internal/modules/market_hours"
	"github.com/swap2you/chakraops-sub000/internal/modules/snapshots"
	"github.com/swap2you/chakraops-sub000/internal/modules/universe"
	chtesting "github.com/swap2you/chakraops-sub000/internal/testing"
)

// mapProvider serves a fixed chain per symbol; unknown symbols fail upstream.
type mapProvider struct {
	chains map[string]*chains.Chain
	errs   map[string]error
	panics map[string]bool
}

func (m *mapProvider) FetchChain(ctx context.Context, symbol string) (*chains.Chain, error) {
	if m.panics[symbol] {
		panic("provider exploded")
	}
	if err, ok := m.errs[symbol]; ok {
		return nil, err
	}
	if chain, ok := m.chains[symbol]; ok {
		return chain, nil
	}
	return nil, &domain.ProviderError{Symbol: symbol, Reason: "UPSTREAM"}
}

type engineFixture struct {
	engine   *Engine
	snaps    *snapshots.Repository
	provider *mapProvider
	now      time.Time
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()
	db, cleanup := chtesting.NewTestDB(t, "chakraops")
	t.Cleanup(cleanup)
	log := zerolog.Nop()

	snapRepo := snapshots.NewRepository(db.Conn(), log)
	universeRepo := universe.NewRepository(db.Conn(), log)
	universeSvc := universe.NewService(universeRepo, []string{"SPY", "QQQ"}, log)
	require.NoError(t, universeSvc.Bootstrap())
	require.NoError(t, universeSvc.Add(universe.Entry{Symbol: "AAPL", Enabled: true, Priority: 1}))

	regimeRepo := market_regime.NewRepository(db.Conn(), log)
	detector := market_regime.NewDetector(snapRepo, regimeRepo, []string{"SPY"}, log)
	require.NoError(t, regimeRepo.Insert(&market_regime.Record{
		RecordedAt:      stage2Now.Add(-10 * time.Minute),
		Regime:          domain.RegimeRiskOn,
		BenchmarkSymbol: "SPY",
		BenchmarkReturn: 0.004,
		SmoothedReturn:  0.004,
		Confidence:      80,
		Method:          market_regime.MethodTwoSnapshot,
	}))

	calendar, err := market_hours.NewCalendar()
	require.NoError(t, err)

	provider := &mapProvider{
		chains: map[string]*chains.Chain{"AAPL": testChain()},
		errs:   map[string]error{"QQQ": &domain.ProviderError{Symbol: "QQQ", Reason: "TIMEOUT", Timeout: true}},
		panics: map[string]bool{},
	}

	engine := NewEngine(Deps{
		Snapshots: snapRepo,
		Universe:  universeSvc,
		Regimes:   detector,
		Provider:  provider,
		Strategy:  testStrategy(t),
		Calendar:  calendar,
	}, domain.RunModeMock, log).WithClock(func() time.Time { return stage2Now })

	return &engineFixture{engine: engine, snaps: snapRepo, provider: provider, now: stage2Now}
}

// insertSnapshot freezes a three-symbol snapshot 30 minutes old.
func (f *engineFixture) insertSnapshot(t *testing.T) string {
	t.Helper()
	rowAt := f.now.Add(-30 * time.Minute)
	mk := func(close float64, vol int64, iv float64) []snapshots.Row {
		return []snapshots.Row{{
			Date: &rowAt, Open: close, High: close * 1.01, Low: close * 0.99,
			Close: close, Volume: vol, IVRank: &iv,
		}}
	}

	snap := snapshots.Snapshot{
		ID:              "snap-eval-1",
		Timestamp:       rowAt,
		Source:          string(domain.SourceCSV),
		SymbolCount:     3,
		SymbolsWithData: 3,
		DataAgeMinutes:  30,
		CreatedAt:       f.now,
	}
	data := []snapshots.SymbolData{
		{Symbol: "AAPL", HasData: true, Rows: mk(172.50, 61_000_000, 41.2)},
		{Symbol: "QQQ", HasData: true, Rows: mk(385.40, 52_000_000, 28.0)},
		{Symbol: "SPY", HasData: true, Rows: mk(452.10, 75_000_000, 32.5)},
	}
	require.NoError(t, f.snaps.Insert(snap, data, false))
	return snap.ID
}

func TestEvaluateUniverse(t *testing.T) {
	f := newEngineFixture(t)
	f.insertSnapshot(t)

	symbols := []string{"AAPL", "MSFT", "QQQ", "SPY"}
	artifact, err := f.engine.EvaluateUniverse(context.Background(), symbols)
	require.NoError(t, err)

	// Artifact completeness: exactly one row per universe symbol.
	require.Len(t, artifact.Symbols, 4)
	assert.Equal(t, 4, artifact.Metadata.UniverseSize)
	assert.Equal(t, domain.ArtifactVersion, artifact.Metadata.ArtifactVersion)
	assert.Equal(t, "MOCK", artifact.Metadata.Mode)
	assert.NotEmpty(t, artifact.Metadata.RunID)
	assert.True(t, artifact.Metadata.ConfigFrozen)

	byName := map[string]domain.SymbolEvalSummary{}
	for _, row := range artifact.Symbols {
		byName[row.Symbol] = row
	}

	// AAPL: both stages pass, contract selected.
	aapl := byName["AAPL"]
	assert.Equal(t, domain.VerdictEligible, aapl.Verdict)
	assert.Equal(t, domain.StagePass, aapl.Stage1Status)
	assert.Equal(t, domain.StagePass, aapl.Stage2Status)
	require.NotNil(t, aapl.FinalScore)
	assert.Equal(t, domain.BandA, aapl.Band)
	assert.Equal(t, "2026-04-17", aapl.Expiration)
	require.NotNil(t, aapl.RankScore)
	assert.Equal(t, 100.0, *aapl.RankScore)

	// QQQ: provider timeout fails Stage 2 only; Stage 1 pass preserved.
	qqq := byName["QQQ"]
	assert.Equal(t, domain.VerdictHold, qqq.Verdict)
	assert.Equal(t, domain.StagePass, qqq.Stage1Status)
	assert.Equal(t, domain.StageFail, qqq.Stage2Status)
	assert.Equal(t, "TIMEOUT", qqq.PrimaryReason)
	assert.Equal(t, "TIMEOUT", qqq.ProviderStatus)
	require.NotNil(t, qqq.FinalScore)

	// SPY: price above the hard ceiling blocks in Stage 1, Stage 2 never runs.
	spy := byName["SPY"]
	assert.Equal(t, domain.VerdictBlocked, spy.Verdict)
	assert.Equal(t, domain.StageFail, spy.Stage1Status)
	assert.Equal(t, domain.StageNotRun, spy.Stage2Status)
	assert.Contains(t, spy.PrimaryReason, GatePriceRange)
	assert.Nil(t, spy.FinalScore)
	assert.Equal(t, domain.BandD, spy.Band)

	// MSFT: not in the snapshot, PRESENCE fails.
	msft := byName["MSFT"]
	assert.Equal(t, domain.VerdictBlocked, msft.Verdict)
	assert.Contains(t, msft.PrimaryReason, GatePresence)

	// Counters.
	assert.Equal(t, 4, artifact.Metadata.EvaluatedCountStage1)
	assert.Equal(t, 2, artifact.Metadata.EvaluatedCountStage2)
	assert.Equal(t, 1, artifact.Metadata.EligibleCount)

	// Deterministic ordering: band, then score, then symbol.
	order := make([]string, len(artifact.Symbols))
	for i, row := range artifact.Symbols {
		order[i] = row.Symbol
	}
	assert.Equal(t, []string{"AAPL", "QQQ", "MSFT", "SPY"}, order)

	// Per-symbol maps are complete.
	for _, sym := range symbols {
		assert.Contains(t, artifact.GatesBySymbol, sym)
		assert.Contains(t, artifact.EarningsBySymbol, sym)
		assert.Contains(t, artifact.DiagnosticsBySymbol, sym)
	}
	require.Len(t, artifact.SelectedCandidates, 1)
	assert.Equal(t, "AAPL", artifact.SelectedCandidates[0].Symbol)
}

func TestEvaluateUniverseNoSnapshot(t *testing.T) {
	f := newEngineFixture(t)

	_, err := f.engine.EvaluateUniverse(context.Background(), []string{"AAPL"})
	require.ErrorIs(t, err, ErrNoSnapshot)
}

func TestEvaluateUniversePanicIsolation(t *testing.T) {
	f := newEngineFixture(t)
	f.insertSnapshot(t)
	f.provider.panics["AAPL"] = true

	artifact, err := f.engine.EvaluateUniverse(context.Background(), []string{"AAPL", "QQQ"})
	require.NoError(t, err)

	aapl, ok := artifact.SummaryFor("AAPL")
	require.True(t, ok)
	assert.Equal(t, domain.VerdictNotEvaluated, aapl.Verdict)
	assert.NotEmpty(t, artifact.Warnings)

	// The other symbol still evaluated normally.
	qqq, ok := artifact.SummaryFor("QQQ")
	require.True(t, ok)
	assert.Equal(t, domain.VerdictHold, qqq.Verdict)
}

func TestEvaluateUniverseCancellation(t *testing.T) {
	f := newEngineFixture(t)
	f.insertSnapshot(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	artifact, err := f.engine.EvaluateUniverse(ctx, []string{"AAPL", "QQQ"})
	require.NoError(t, err)
	require.Len(t, artifact.Symbols, 2)
	for _, row := range artifact.Symbols {
		assert.Equal(t, domain.VerdictNotEvaluated, row.Verdict)
	}
	assert.NotEmpty(t, artifact.Warnings)
}

func TestEvaluateSymbolAndMerge(t *testing.T) {
	f := newEngineFixture(t)
	f.insertSnapshot(t)

	artifact, err := f.engine.EvaluateUniverse(context.Background(), []string{"AAPL", "QQQ", "SPY"})
	require.NoError(t, err)
	assert.Equal(t, 1, artifact.Metadata.EligibleCount)

	// The provider recovers for QQQ; re-evaluate just that symbol.
	qqqChain := testChain()
	qqqChain.Symbol = "QQQ"
	for i := range qqqChain.Contracts {
		qqqChain.Contracts[i].Symbol = "QQQ"
	}
	delete(f.provider.errs, "QQQ")
	f.provider.chains["QQQ"] = qqqChain

	merged, err := f.engine.EvaluateSymbolAndMerge(context.Background(), "qqq ", artifact)
	require.NoError(t, err)

	assert.NotEqual(t, artifact.Metadata.RunID, merged.Metadata.RunID)
	assert.Equal(t, 2, merged.Metadata.EligibleCount)

	qqq, ok := merged.SummaryFor("QQQ")
	require.True(t, ok)
	assert.Equal(t, domain.VerdictEligible, qqq.Verdict)
	assert.Equal(t, domain.StagePass, qqq.Stage2Status)

	// Every other symbol's row is carried over untouched.
	for _, sym := range []string{"AAPL", "SPY"} {
		before, ok := artifact.SummaryFor(sym)
		require.True(t, ok)
		after, ok := merged.SummaryFor(sym)
		require.True(t, ok)
		assert.Equal(t, before, after, sym)
		assert.Equal(t, artifact.GatesBySymbol[sym], merged.GatesBySymbol[sym], sym)
		assert.Equal(t, artifact.DiagnosticsBySymbol[sym], merged.DiagnosticsBySymbol[sym], sym)
	}

	// Selected candidates now include QQQ exactly once.
	count := 0
	for _, c := range merged.SelectedCandidates {
		if c.Symbol == "QQQ" {
			count++
		}
	}
	assert.Equal(t, 1, count)

	// The source artifact was not mutated.
	orig, _ := artifact.SummaryFor("QQQ")
	assert.Equal(t, domain.VerdictHold, orig.Verdict)
}

func TestEvaluateSymbolAndMergeRequiresArtifact(t *testing.T) {
	f := newEngineFixture(t)
	f.insertSnapshot(t)

	_, err := f.engine.EvaluateSymbolAndMerge(context.Background(), "AAPL", nil)
	var everr *domain.EvaluationError
	require.ErrorAs(t, err, &everr)
}

func TestEvaluateUniverseUnknownRegimeBlocks(t *testing.T) {
	db, cleanup := chtesting.NewTestDB(t, "chakraops")
	t.Cleanup(cleanup)
	log := zerolog.Nop()

	snapRepo := snapshots.NewRepository(db.Conn(), log)
	universeRepo := universe.NewRepository(db.Conn(), log)
	universeSvc := universe.NewService(universeRepo, []string{"SPY"}, log)
	require.NoError(t, universeSvc.Bootstrap())

	regimeRepo := market_regime.NewRepository(db.Conn(), log)
	detector := market_regime.NewDetector(snapRepo, regimeRepo, []string{"SPY"}, log)
	calendar, err := market_hours.NewCalendar()
	require.NoError(t, err)

	engine := NewEngine(Deps{
		Snapshots: snapRepo,
		Universe:  universeSvc,
		Regimes:   detector,
		Provider:  &mapProvider{},
		Strategy:  testStrategy(t),
		Calendar:  calendar,
	}, domain.RunModeMock, log).WithClock(func() time.Time { return stage2Now })

	f := &engineFixture{engine: engine, snaps: snapRepo, now: stage2Now}
	f.insertSnapshot(t)

	// No regime history: everything fails the REGIME gate.
	artifact, err := engine.EvaluateUniverse(context.Background(), []string{"AAPL"})
	require.NoError(t, err)

	aapl, ok := artifact.SummaryFor("AAPL")
	require.True(t, ok)
	assert.Equal(t, domain.VerdictBlocked, aapl.Verdict)
	assert.Contains(t, aapl.PrimaryReason, GateRegime)
	assert.Contains(t, artifact.Metadata.Warnings, "market regime unknown for this run")
}

type fixedPositions map[string]bool

func (f fixedPositions) OpenSymbols() (map[string]bool, error) { return f, nil }

func TestEvaluateUniverseFlagsHeldSymbols(t *testing.T) {
	f := newEngineFixture(t)
	f.insertSnapshot(t)
	f.engine.deps.Positions = fixedPositions{"AAPL": true}

	artifact, err := f.engine.EvaluateUniverse(context.Background(), []string{"AAPL", "QQQ"})
	require.NoError(t, err)

	assert.Contains(t, artifact.DiagnosticsBySymbol["AAPL"].RiskFlags, "OPEN_POSITION")
	assert.Empty(t, artifact.DiagnosticsBySymbol["QQQ"].RiskFlags)
}
