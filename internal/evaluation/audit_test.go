package evaluation

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swap2you/chakraops-sub000/internal/domain"
	chtesting "github.com/swap2you/chakraops-sub000/internal/testing"
)

func TestAuditRecordRunAndList(t *testing.T) {
	db, cleanup := chtesting.NewTestDB(t, "chakraops")
	t.Cleanup(cleanup)
	repo := NewAuditRepository(db.Conn(), zerolog.Nop())

	artifact := chtesting.NewArtifact("run-1", map[string]domain.Verdict{
		"AAPL": domain.VerdictEligible,
		"QQQ":  domain.VerdictHold,
		"SPY":  domain.VerdictBlocked,
	})
	require.NoError(t, repo.RecordRun("snap-1", artifact))

	rows, err := repo.ListBySnapshot("snap-1")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "AAPL", rows[0].Symbol)
	assert.Equal(t, domain.VerdictEligible, rows[0].Verdict)
	require.NotNil(t, rows[0].Score)
	assert.Equal(t, 82, *rows[0].Score)
	assert.Equal(t, "run-1", rows[0].RunID)
	assert.False(t, rows[0].CreatedAt.IsZero())

	// Blocked row carries no score.
	assert.Nil(t, rows[2].Score)

	byRun, err := repo.ListByRun("run-1")
	require.NoError(t, err)
	assert.Len(t, byRun, 3)
}

func TestAuditRecordRunUpserts(t *testing.T) {
	db, cleanup := chtesting.NewTestDB(t, "chakraops")
	t.Cleanup(cleanup)
	repo := NewAuditRepository(db.Conn(), zerolog.Nop())

	first := chtesting.NewArtifact("run-1", map[string]domain.Verdict{"AAPL": domain.VerdictHold})
	require.NoError(t, repo.RecordRun("snap-1", first))

	second := chtesting.NewArtifact("run-2", map[string]domain.Verdict{"AAPL": domain.VerdictEligible})
	require.NoError(t, repo.RecordRun("snap-1", second))

	rows, err := repo.ListBySnapshot("snap-1")
	require.NoError(t, err)
	require.Len(t, rows, 1, "same (snapshot, symbol) must replace, not duplicate")
	assert.Equal(t, "run-2", rows[0].RunID)
	assert.Equal(t, domain.VerdictEligible, rows[0].Verdict)
}

func TestAuditTopRejectionReasons(t *testing.T) {
	db, cleanup := chtesting.NewTestDB(t, "chakraops")
	t.Cleanup(cleanup)
	repo := NewAuditRepository(db.Conn(), zerolog.Nop())

	artifact := chtesting.NewArtifact("run-1", map[string]domain.Verdict{
		"AAPL": domain.VerdictBlocked,
		"MSFT": domain.VerdictBlocked,
		"QQQ":  domain.VerdictHold,
		"SPY":  domain.VerdictEligible,
	})
	for i := range artifact.Symbols {
		switch artifact.Symbols[i].Verdict {
		case domain.VerdictBlocked:
			artifact.Symbols[i].PrimaryReason = "PRICE_RANGE: price outside bounds"
		case domain.VerdictHold:
			artifact.Symbols[i].PrimaryReason = "NO_CONTRACTS"
		}
	}
	require.NoError(t, repo.RecordRun("snap-1", artifact))

	reasons, err := repo.TopRejectionReasons("snap-1", 5)
	require.NoError(t, err)
	assert.Equal(t, 2, reasons["PRICE_RANGE: price outside bounds"])
	assert.Equal(t, 1, reasons["NO_CONTRACTS"])
}
