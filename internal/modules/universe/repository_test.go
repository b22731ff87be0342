package universe

import (
	"database/sql"
	"testing"

	_ "modernc.org/sqlite"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRepo(t *testing.T) *Repository {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`
		CREATE TABLE universe (
			symbol       TEXT PRIMARY KEY,
			enabled      INTEGER NOT NULL DEFAULT 1,
			is_benchmark INTEGER NOT NULL DEFAULT 0,
			priority     INTEGER NOT NULL DEFAULT 3,
			notes        TEXT NOT NULL DEFAULT '',
			created_at   TEXT NOT NULL,
			updated_at   TEXT NOT NULL
		)`)
	require.NoError(t, err)

	return NewRepository(db, zerolog.Nop())
}

func TestUpsertAndGet(t *testing.T) {
	repo := newTestRepo(t)

	err := repo.Upsert(Entry{Symbol: "aapl", Enabled: true, Priority: 2, Notes: "core holding"})
	require.NoError(t, err)

	entry, err := repo.GetBySymbol("AAPL")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, "AAPL", entry.Symbol, "symbol should be normalized on write")
	assert.True(t, entry.Enabled)
	assert.Equal(t, 2, entry.Priority)
	assert.Equal(t, "core holding", entry.Notes)
	assert.False(t, entry.CreatedAt.IsZero())
}

func TestGetBySymbolMissing(t *testing.T) {
	repo := newTestRepo(t)

	entry, err := repo.GetBySymbol("MSFT")
	require.NoError(t, err)
	assert.Nil(t, entry, "missing symbol should return nil, not an error")

	entry, err = repo.GetBySymbol("   ")
	require.NoError(t, err)
	assert.Nil(t, entry, "blank symbol should return nil")
}

func TestUpsertDefaultsPriority(t *testing.T) {
	repo := newTestRepo(t)

	require.NoError(t, repo.Upsert(Entry{Symbol: "NVDA", Enabled: true}))

	entry, err := repo.GetBySymbol("NVDA")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, DefaultPriority, entry.Priority)
}

func TestUpsertSymbolsReenablesAndPreserves(t *testing.T) {
	repo := newTestRepo(t)

	// Existing entry, disabled, with custom priority and notes.
	require.NoError(t, repo.Upsert(Entry{Symbol: "AAPL", Enabled: false, Priority: 1, Notes: "keep me"}))

	count, err := repo.UpsertSymbols([]string{"aapl", "MSFT", "msft", ""}, "healed")
	require.NoError(t, err)
	assert.Equal(t, 2, count, "duplicates and blanks should not be counted")

	aapl, err := repo.GetBySymbol("AAPL")
	require.NoError(t, err)
	require.NotNil(t, aapl)
	assert.True(t, aapl.Enabled, "existing entry should be re-enabled")
	assert.Equal(t, 1, aapl.Priority, "existing priority should be preserved")
	assert.Equal(t, "keep me", aapl.Notes, "existing notes should be preserved")

	msft, err := repo.GetBySymbol("MSFT")
	require.NoError(t, err)
	require.NotNil(t, msft)
	assert.True(t, msft.Enabled)
	assert.Equal(t, DefaultPriority, msft.Priority)
	assert.Equal(t, "healed", msft.Notes)
}

func TestEnsureBenchmarksIdempotent(t *testing.T) {
	repo := newTestRepo(t)

	require.NoError(t, repo.EnsureBenchmarks([]string{"SPY", "QQQ"}))
	require.NoError(t, repo.EnsureBenchmarks([]string{"SPY", "QQQ"}))

	benchmarks, err := repo.ListBenchmarks()
	require.NoError(t, err)
	require.Len(t, benchmarks, 2)
	assert.Equal(t, "QQQ", benchmarks[0].Symbol)
	assert.Equal(t, "SPY", benchmarks[1].Symbol)
}

func TestEnsureBenchmarksKeepsDisabledState(t *testing.T) {
	repo := newTestRepo(t)

	require.NoError(t, repo.EnsureBenchmarks([]string{"SPY"}))
	ok, err := repo.SetEnabled("SPY", false)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, repo.EnsureBenchmarks([]string{"SPY"}))

	spy, err := repo.GetBySymbol("SPY")
	require.NoError(t, err)
	require.NotNil(t, spy)
	assert.False(t, spy.Enabled, "re-ensuring must not flip an operator disable")
	assert.True(t, spy.IsBenchmark)
}

func TestListEnabledOrdersByPriority(t *testing.T) {
	repo := newTestRepo(t)

	require.NoError(t, repo.Upsert(Entry{Symbol: "ZZZ", Enabled: true, Priority: 1}))
	require.NoError(t, repo.Upsert(Entry{Symbol: "AAA", Enabled: true, Priority: 3}))
	require.NoError(t, repo.Upsert(Entry{Symbol: "MMM", Enabled: true, Priority: 1}))
	require.NoError(t, repo.Upsert(Entry{Symbol: "OFF", Enabled: false, Priority: 1}))

	entries, err := repo.ListEnabled()
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "MMM", entries[0].Symbol)
	assert.Equal(t, "ZZZ", entries[1].Symbol)
	assert.Equal(t, "AAA", entries[2].Symbol)
}

func TestSetEnabledUnknownSymbol(t *testing.T) {
	repo := newTestRepo(t)

	ok, err := repo.SetEnabled("NOPE", true)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRemoveProtectsBenchmarks(t *testing.T) {
	repo := newTestRepo(t)

	require.NoError(t, repo.EnsureBenchmarks([]string{"SPY"}))
	require.NoError(t, repo.Upsert(Entry{Symbol: "AAPL", Enabled: true}))

	removed, err := repo.Remove("SPY")
	require.NoError(t, err)
	assert.False(t, removed, "benchmarks must not be removable")

	removed, err = repo.Remove("AAPL")
	require.NoError(t, err)
	assert.True(t, removed)

	entry, err := repo.GetBySymbol("AAPL")
	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestCount(t *testing.T) {
	repo := newTestRepo(t)

	require.NoError(t, repo.Upsert(Entry{Symbol: "A", Enabled: true}))
	require.NoError(t, repo.Upsert(Entry{Symbol: "B", Enabled: false}))

	count, err := repo.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
