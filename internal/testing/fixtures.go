package testing

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/swap2you/chakraops-sub000/internal/domain"
)

// SnapshotCSV is a small, valid snapshot source covering the default
// benchmarks plus one equity. Timestamps are filled in by WriteSnapshotCSV.
const snapshotCSVTemplate = `symbol,close,open,high,low,volume,iv_rank,timestamp
SPY,452.10,450.00,453.20,449.80,75000000,32.5,%[1]s
QQQ,385.40,383.10,386.00,382.55,52000000,28.0,%[1]s
AAPL,172.50,171.00,173.10,170.80,61000000,41.2,%[1]s
`

// WriteSnapshotCSV writes the standard CSV fixture into dir, stamping every
// row with ts, and returns the file path.
func WriteSnapshotCSV(t *testing.T, dir string, ts time.Time) string {
	t.Helper()
	path := filepath.Join(dir, "market_snapshot.csv")
	content := fmt.Sprintf(snapshotCSVTemplate, ts.UTC().Format(time.RFC3339))
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write CSV fixture: %v", err)
	}
	return path
}

// NewArtifact builds a minimal, internally consistent artifact for tests.
func NewArtifact(runID string, symbols map[string]domain.Verdict) *domain.DecisionArtifact {
	a := &domain.DecisionArtifact{
		Metadata: domain.ArtifactMetadata{
			ArtifactVersion:   domain.ArtifactVersion,
			Mode:              "MOCK",
			PipelineTimestamp: time.Date(2026, 3, 2, 15, 4, 5, 0, time.UTC),
			RunID:             runID,
			MarketPhase:       domain.PhaseOpen,
			UniverseSize:      len(symbols),
			ConfigFrozen:      true,
			Warnings:          []string{},
		},
		SelectedCandidates:  []domain.CandidateRow{},
		CandidatesBySymbol:  map[string][]domain.CandidateRow{},
		GatesBySymbol:       map[string][]domain.GateEvaluation{},
		EarningsBySymbol:    map[string]domain.EarningsInfo{},
		DiagnosticsBySymbol: map[string]domain.SymbolDiagnostics{},
		Warnings:            []string{},
	}
	for sym, verdict := range symbols {
		row := domain.SymbolEvalSummary{
			Symbol:       sym,
			Verdict:      verdict,
			Band:         domain.BandD,
			BandReason:   "no score",
			Stage1Status: domain.StageNotRun,
			Stage2Status: domain.StageNotRun,
		}
		if verdict == domain.VerdictEligible {
			score := 82
			f := 82.0
			row.FinalScore = &score
			row.Score = &f
			row.Band, row.BandReason = domain.BandForScore(&score)
			row.Stage1Status = domain.StagePass
			row.Stage2Status = domain.StagePass
			cand := domain.CandidateRow{
				Symbol:         sym,
				Strategy:       domain.StrategyCSP,
				Expiry:         "2026-04-17",
				Strike:         100,
				Delta:          -0.25,
				CreditEstimate: 145,
				MaxLoss:        9855,
				ContractKey:    "100-2026-04-17-P",
			}
			a.SelectedCandidates = append(a.SelectedCandidates, cand)
			a.CandidatesBySymbol[sym] = []domain.CandidateRow{cand}
		}
		a.Symbols = append(a.Symbols, row)
	}
	a.RecountEligible()
	return a
}
