// Package decisions persists and serves decision artifacts. The canonical
// latest artifact lives at a fixed path and is only ever replaced by an
// atomic rename; every run also lands in history under its run_id. Reads go
// through the active-path rule so a frozen end-of-day copy shadows the live
// file outside market hours.
package decisions

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/swap2you/chakraops-sub000/internal/domain"
)

// Artifact file names under the output directory.
const (
	LatestFile  = "decision_latest.json"
	FrozenFile  = "decision_frozen.json"
	HistoryDir  = "history"
	historyTmpl = "decision_%s.json"
)

// PhaseFunc reports the current market phase. The store consults it for the
// active-path rule only.
type PhaseFunc func() domain.Phase

// Store reads and writes decision artifacts under one output directory. It
// keeps no in-memory cache; every read re-parses from disk, so concurrent
// readers always see a complete artifact (rename is the commit point).
type Store struct {
	outDir string
	phase  PhaseFunc
	log    zerolog.Logger
}

// NewStore creates a decision store rooted at outDir, creating the directory
// tree as needed.
func NewStore(outDir string, phase PhaseFunc, log zerolog.Logger) (*Store, error) {
	if err := os.MkdirAll(filepath.Join(outDir, HistoryDir), 0o755); err != nil {
		return nil, &domain.StoreError{Op: "decisions.init", Path: outDir, Err: err}
	}
	return &Store{
		outDir: outDir,
		phase:  phase,
		log:    log.With().Str("component", "decisions").Logger(),
	}, nil
}

// LatestPath returns the canonical artifact path.
func (s *Store) LatestPath() string { return filepath.Join(s.outDir, LatestFile) }

// FrozenPath returns the frozen-copy path.
func (s *Store) FrozenPath() string { return filepath.Join(s.outDir, FrozenFile) }

// HistoryPath returns the history path for one run.
func (s *Store) HistoryPath(runID string) string {
	return filepath.Join(s.outDir, HistoryDir, fmt.Sprintf(historyTmpl, runID))
}

// ActivePath resolves the path reads should consult: the frozen copy when it
// exists and the market is not open, the canonical latest otherwise.
func (s *Store) ActivePath() string {
	frozen := s.FrozenPath()
	if _, err := os.Stat(frozen); err == nil && s.phase() != domain.PhaseOpen {
		return frozen
	}
	return s.LatestPath()
}

// SetLatest commits an artifact as the canonical latest. The artifact is
// marshaled once, written to a temp file in the same directory, fsynced, and
// renamed over the canonical path; the history copy follows. On any failure
// the canonical file is unchanged.
func (s *Store) SetLatest(artifact *domain.DecisionArtifact) error {
	if artifact == nil {
		return &domain.StoreError{Op: "decisions.set_latest", Err: errors.New("nil artifact")}
	}
	if artifact.Metadata.RunID == "" {
		return &domain.StoreError{Op: "decisions.set_latest", Err: errors.New("artifact has no run_id")}
	}

	data, err := json.MarshalIndent(artifact, "", "  ")
	if err != nil {
		return &domain.StoreError{Op: "decisions.set_latest", Err: fmt.Errorf("marshal: %w", err)}
	}

	if err := atomicWrite(s.outDir, s.LatestPath(), data); err != nil {
		return &domain.StoreError{Op: "decisions.set_latest", Path: s.LatestPath(), Err: err}
	}

	historyPath := s.HistoryPath(artifact.Metadata.RunID)
	if err := atomicWrite(filepath.Dir(historyPath), historyPath, data); err != nil {
		// The canonical write already committed; history failure is reported
		// but does not undo it.
		return &domain.StoreError{Op: "decisions.set_history", Path: historyPath, Err: err}
	}

	s.log.Info().
		Str("run_id", artifact.Metadata.RunID).
		Int("symbols", len(artifact.Symbols)).
		Int("eligible", artifact.Metadata.EligibleCount).
		Msg("Decision artifact committed")
	return nil
}

// GetLatest reads the active artifact. A missing file returns (nil, nil).
func (s *Store) GetLatest() (*domain.DecisionArtifact, error) {
	return s.readArtifact(s.ActivePath())
}

// ReloadFromDisk re-parses the canonical latest file, bypassing the
// active-path rule. A missing file returns (nil, nil).
func (s *Store) ReloadFromDisk() (*domain.DecisionArtifact, error) {
	return s.readArtifact(s.LatestPath())
}

// GetFrozen reads the frozen copy if one exists.
func (s *Store) GetFrozen() (*domain.DecisionArtifact, error) {
	return s.readArtifact(s.FrozenPath())
}

// GetByRun looks up one run in history and returns it when the symbol is
// present in that run. Missing run or absent symbol returns (nil, nil).
func (s *Store) GetByRun(symbol, runID string) (*domain.DecisionArtifact, error) {
	artifact, err := s.readArtifact(s.HistoryPath(runID))
	if err != nil || artifact == nil {
		return nil, err
	}
	norm, ok := domain.NormalizeSymbol(symbol)
	if !ok {
		return nil, nil
	}
	if _, ok := artifact.SummaryFor(norm); !ok {
		return nil, nil
	}
	return artifact, nil
}

// GetRun reads one run's full artifact from history. Missing run returns
// (nil, nil).
func (s *Store) GetRun(runID string) (*domain.DecisionArtifact, error) {
	return s.readArtifact(s.HistoryPath(runID))
}

// SymbolView is the per-symbol slice of the active artifact.
type SymbolView struct {
	RunID       string                    `json:"run_id"`
	Summary     domain.SymbolEvalSummary  `json:"summary"`
	Candidates  []domain.CandidateRow     `json:"candidates,omitempty"`
	Gates       []domain.GateEvaluation   `json:"gates,omitempty"`
	Earnings    *domain.EarningsInfo      `json:"earnings,omitempty"`
	Diagnostics *domain.SymbolDiagnostics `json:"diagnostics,omitempty"`
}

// GetSymbol slices the active artifact down to one symbol. Returns (nil, nil)
// when no artifact exists or the symbol is not in it.
func (s *Store) GetSymbol(symbol string) (*SymbolView, error) {
	artifact, err := s.GetLatest()
	if err != nil || artifact == nil {
		return nil, err
	}
	norm, ok := domain.NormalizeSymbol(symbol)
	if !ok {
		return nil, nil
	}
	summary, ok := artifact.SummaryFor(norm)
	if !ok {
		return nil, nil
	}

	view := &SymbolView{
		RunID:      artifact.Metadata.RunID,
		Summary:    summary,
		Candidates: artifact.CandidatesBySymbol[norm],
		Gates:      artifact.GatesBySymbol[norm],
	}
	if earnings, ok := artifact.EarningsBySymbol[norm]; ok {
		view.Earnings = &earnings
	}
	if diag, ok := artifact.DiagnosticsBySymbol[norm]; ok {
		view.Diagnostics = &diag
	}
	return view, nil
}

// ListHistory returns the run ids present in history, newest first by file
// modification time.
func (s *Store) ListHistory(limit int) ([]string, error) {
	dir := filepath.Join(s.outDir, HistoryDir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, &domain.StoreError{Op: "decisions.list_history", Path: dir, Err: err}
	}

	type rec struct {
		runID string
		mod   time.Time
	}
	var recs []rec
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, "decision_") || !strings.HasSuffix(name, ".json") {
			continue
		}
		runID := strings.TrimSuffix(strings.TrimPrefix(name, "decision_"), ".json")
		if runID == "" {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		recs = append(recs, rec{runID: runID, mod: info.ModTime()})
	}
	sort.Slice(recs, func(i, j int) bool {
		if !recs[i].mod.Equal(recs[j].mod) {
			return recs[i].mod.After(recs[j].mod)
		}
		return recs[i].runID < recs[j].runID
	})

	var out []string
	for i, r := range recs {
		if limit > 0 && i >= limit {
			break
		}
		out = append(out, r.runID)
	}
	return out, nil
}

// PruneHistory removes history files older than the retention window and
// returns how many were deleted.
func (s *Store) PruneHistory(olderThan time.Duration) (int, error) {
	dir := filepath.Join(s.outDir, HistoryDir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, &domain.StoreError{Op: "decisions.prune_history", Path: dir, Err: err}
	}

	cutoff := time.Now().Add(-olderThan)
	removed := 0
	for _, e := range entries {
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(dir, e.Name())); err != nil {
			return removed, &domain.StoreError{Op: "decisions.prune_history", Path: e.Name(), Err: err}
		}
		removed++
	}
	if removed > 0 {
		s.log.Info().Int("removed", removed).Msg("Pruned decision history")
	}
	return removed, nil
}

func (s *Store) readArtifact(path string) (*domain.DecisionArtifact, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, &domain.StoreError{Op: "decisions.read", Path: path, Err: err}
	}

	var artifact domain.DecisionArtifact
	if err := json.Unmarshal(data, &artifact); err != nil {
		return nil, &domain.StoreError{Op: "decisions.parse", Path: path, Err: err}
	}
	return &artifact, nil
}

// atomicWrite lands data at path via a same-directory temp file, fsync, and
// rename.
func atomicWrite(dir, path string, data []byte) error {
	tmp, err := os.CreateTemp(dir, ".decision-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp: %w", err)
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		return fmt.Errorf("chmod temp: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}
