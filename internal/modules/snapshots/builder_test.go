package snapshots

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swap2you/chakraops-sub000/internal/domain"
	"github.com/swap2you/chakraops-sub000/internal/events"
	"github.com/swap2you/chakraops-sub000/internal/modules/universe"
	chtesting "github.com/swap2you/chakraops-sub000/internal/testing"
)

type builderFixture struct {
	builder *Builder
	repo    *Repository
	uni     *universe.Service
	bus     *events.Bus
	csvPath string
	now     time.Time
}

// newBuilderFixture wires a builder over a real database with SPY as the
// benchmark and AAPL enabled. The CSV path starts out absent; tests write it
// with writeCSV.
func newBuilderFixture(t *testing.T) *builderFixture {
	t.Helper()
	db, cleanup := chtesting.NewTestDB(t, "chakraops")
	t.Cleanup(cleanup)

	f := &builderFixture{
		csvPath: filepath.Join(t.TempDir(), "snapshot_input.csv"),
		now:     time.Date(2026, 3, 20, 15, 0, 0, 0, time.UTC),
	}

	uniRepo := universe.NewRepository(db.Conn(), zerolog.Nop())
	f.uni = universe.NewService(uniRepo, []string{"SPY"}, zerolog.Nop())
	require.NoError(t, f.uni.Bootstrap())
	require.NoError(t, f.uni.Add(universe.Entry{Symbol: "AAPL", Enabled: true, Priority: 1}))

	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	f.repo = NewRepository(db.Conn(), zerolog.Nop())
	f.bus = events.NewBus(zerolog.Nop())
	f.builder = NewBuilder(f.repo, NewCSVSource(f.csvPath, zerolog.Nop()), f.uni, loc, f.bus, false, zerolog.Nop()).
		WithClock(func() time.Time { return f.now })
	return f
}

func (f *builderFixture) writeCSV(t *testing.T, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(f.csvPath, []byte(content), 0o644))
}

// csvHeader plus rows timestamped 30 minutes before the fixture clock.
func (f *builderFixture) defaultCSV(t *testing.T) {
	t.Helper()
	ts := f.now.Add(-30 * time.Minute).Format(time.RFC3339)
	f.writeCSV(t, fmt.Sprintf(
		"symbol,timestamp,open,high,low,close,volume,iv_rank\n"+
			"AAPL,%s,171.00,173.10,170.80,172.50,61000000,41.2\n"+
			"SPY,%s,450.00,453.00,449.50,452.10,75000000,32.5\n", ts, ts))
}

func TestBuildCSV(t *testing.T) {
	f := newBuilderFixture(t)
	f.defaultCSV(t)

	sub, cancel := f.bus.Subscribe(4)
	defer cancel()

	result, err := f.builder.Build(ModeCSV)
	require.NoError(t, err)

	assert.Equal(t, string(ModeCSV), result.Snapshot.Source)
	assert.Equal(t, 2, result.Snapshot.SymbolCount)
	assert.Equal(t, 2, result.Snapshot.SymbolsWithData)
	assert.InDelta(t, 30.0, result.Snapshot.DataAgeMinutes, 0.01)
	assert.Equal(t, 2, result.RowCount)
	assert.Zero(t, result.SelfHealed)
	assert.Equal(t, f.csvPath, result.SourceHint)

	active, err := f.repo.GetActive()
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, result.Snapshot.ID, active.ID)
	assert.True(t, active.IsFrozen)

	prices, err := f.repo.GetPrices(active.ID)
	require.NoError(t, err)
	assert.Equal(t, 172.50, prices["AAPL"].Price)
	assert.Equal(t, int64(75000000), prices["SPY"].Volume)

	select {
	case ev := <-sub:
		data, ok := ev.Data.(*events.SnapshotBuiltData)
		require.True(t, ok)
		assert.Equal(t, result.Snapshot.ID, data.SnapshotID)
		assert.Equal(t, "CSV", data.Source)
	default:
		t.Fatal("expected a snapshot_built event")
	}
}

func TestBuildDemotesPreviousSnapshot(t *testing.T) {
	f := newBuilderFixture(t)
	f.defaultCSV(t)

	first, err := f.builder.Build(ModeCSV)
	require.NoError(t, err)
	second, err := f.builder.Build(ModeCSV)
	require.NoError(t, err)

	active, err := f.repo.GetActive()
	require.NoError(t, err)
	assert.Equal(t, second.Snapshot.ID, active.ID)

	old, err := f.repo.GetByID(first.Snapshot.ID)
	require.NoError(t, err)
	require.NotNil(t, old)
	assert.False(t, old.IsFrozen)

	count, err := f.repo.Count()
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestBuildExplicitCSVMissingFile(t *testing.T) {
	f := newBuilderFixture(t)

	_, err := f.builder.Build(ModeCSV)
	var serr *domain.SnapshotSourceError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "CSV", serr.Source)
}

func TestBuildAutoFallsThroughToCache(t *testing.T) {
	f := newBuilderFixture(t)
	f.defaultCSV(t)
	_, err := f.builder.Build(ModeCSV)
	require.NoError(t, err)

	// File gone: AUTO must copy the latest snapshot forward.
	require.NoError(t, os.Remove(f.csvPath))
	f.now = f.now.Add(time.Hour)

	result, err := f.builder.Build(ModeAuto)
	require.NoError(t, err)
	assert.Equal(t, string(ModeCache), result.Snapshot.Source)
	assert.Equal(t, 2, result.Snapshot.SymbolsWithData)
	assert.InDelta(t, 90.0, result.Snapshot.DataAgeMinutes, 0.01)

	prices, err := f.repo.GetPrices(result.Snapshot.ID)
	require.NoError(t, err)
	assert.Equal(t, 172.50, prices["AAPL"].Price)
}

func TestBuildCacheWithoutPriorSnapshot(t *testing.T) {
	f := newBuilderFixture(t)

	_, err := f.builder.Build(ModeCache)
	var serr *domain.SnapshotSourceError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "CACHE", serr.Source)
}

func TestBuildSelfHealsEmptyIntersection(t *testing.T) {
	f := newBuilderFixture(t)
	removed, err := f.uni.Remove("AAPL")
	require.NoError(t, err)
	require.True(t, removed)

	ts := f.now.Add(-10 * time.Minute).Format(time.RFC3339)
	f.writeCSV(t, fmt.Sprintf(
		"symbol,close,volume,timestamp\nNVDA,880.20,40000000,%s\nTSLA,245.10,90000000,%s\n", ts, ts))

	result, err := f.builder.Build(ModeCSV)
	require.NoError(t, err)
	assert.Equal(t, 2, result.SelfHealed)
	// NVDA + TSLA adopted, SPY benchmark appended as a placeholder.
	assert.Equal(t, 3, result.Snapshot.SymbolCount)
	assert.Equal(t, 2, result.Snapshot.SymbolsWithData)

	entry, err := f.uni.Get("NVDA")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.True(t, entry.Enabled)

	data, err := f.repo.LoadSymbolData(result.Snapshot.ID)
	require.NoError(t, err)
	bySymbol := map[string]SymbolData{}
	for _, sd := range data {
		bySymbol[sd.Symbol] = sd
	}
	assert.False(t, bySymbol["SPY"].HasData)
	assert.True(t, bySymbol["NVDA"].HasData)
}

func TestBuildPlaceholdersForMissingSymbols(t *testing.T) {
	f := newBuilderFixture(t)
	ts := f.now.Add(-5 * time.Minute).Format(time.RFC3339)
	// Only AAPL carries data; SPY stays in the snapshot as a placeholder.
	f.writeCSV(t, fmt.Sprintf("symbol,price,timestamp\nAAPL,172.50,%s\n", ts))

	result, err := f.builder.Build(ModeCSV)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Snapshot.SymbolCount)
	assert.Equal(t, 1, result.Snapshot.SymbolsWithData)

	rows, err := f.repo.LoadData(result.Snapshot.ID)
	require.NoError(t, err)
	assert.Len(t, rows["AAPL"], 1)
	assert.Empty(t, rows["SPY"])
	// Absent open/high/low default to the resolved close.
	assert.Equal(t, 172.50, rows["AAPL"][0].Open)
	assert.Nil(t, rows["AAPL"][0].IVRank)
}

func TestBuildKeepsRowWithUnparseableTimestamp(t *testing.T) {
	f := newBuilderFixture(t)
	f.writeCSV(t, "symbol,close,timestamp\nAAPL,172.50,not-a-date\n")

	result, err := f.builder.Build(ModeCSV)
	require.NoError(t, err)
	require.Len(t, result.Warnings, 1)
	assert.Contains(t, result.Warnings[0], "unparseable timestamp")
	// No dated rows means zero data age, not a failure.
	assert.Zero(t, result.Snapshot.DataAgeMinutes)

	rows, err := f.repo.LoadData(result.Snapshot.ID)
	require.NoError(t, err)
	require.Len(t, rows["AAPL"], 1)
	assert.Nil(t, rows["AAPL"][0].Date)
}

func TestBuildEmptyCSVFails(t *testing.T) {
	f := newBuilderFixture(t)
	f.writeCSV(t, "symbol,close\n")

	before, err := f.repo.Count()
	require.NoError(t, err)

	_, err = f.builder.Build(ModeCSV)
	var serr *domain.SnapshotSourceError
	require.ErrorAs(t, err, &serr)

	after, err := f.repo.Count()
	require.NoError(t, err)
	assert.Equal(t, before, after)
}
