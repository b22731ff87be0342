package freeze

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/swap2you/chakraops-sub000/internal/domain"
	"github.com/swap2you/chakraops-sub000/internal/events"
	"github.com/swap2you/chakraops-sub000/internal/modules/decisions"
	"github.com/swap2you/chakraops-sub000/internal/modules/market_hours"
)

// ArchiveDirName is the dated-archive root under the output directory.
const ArchiveDirName = "archive"

// EvalFunc runs a fresh universe evaluation and commits it as the canonical
// latest. Wired from the scheduler; nil when no engine is available.
type EvalFunc func(ctx context.Context) error

// Options controls one EOD freeze. EvalFirst and SkipEval are mutually
// exclusive: the default (both false) freezes whatever is canonical, running
// a fresh evaluation only when the canonical file is missing.
type Options struct {
	EvalFirst bool `json:"eval_first"`
	SkipEval  bool `json:"skip_eval"`
	Forced    bool `json:"forced"`
}

// Result describes a completed freeze.
type Result struct {
	RunID      string    `json:"run_id"`
	FrozenPath string    `json:"frozen_path"`
	ArchiveDir string    `json:"archive_dir"`
	SHA256     string    `json:"sha256"`
	SizeBytes  int64     `json:"size_bytes"`
	FrozenAt   time.Time `json:"frozen_at"`
}

// manifest is the audit record written next to each archived artifact.
type manifest struct {
	RunID     string    `json:"run_id"`
	FrozenAt  time.Time `json:"frozen_at"`
	SHA256    string    `json:"sha256"`
	SizeBytes int64     `json:"size_bytes"`
	Forced    bool      `json:"forced"`
	Source    string    `json:"source"`
}

// Service performs EOD freezes.
type Service struct {
	store    *decisions.Store
	calendar *market_hours.Calendar
	bus      *events.Bus
	evaluate EvalFunc
	outDir   string
	log      zerolog.Logger
	now      func() time.Time
}

// NewService creates a freeze service. evaluate may be nil; EvalFirst then
// fails with a config error.
func NewService(store *decisions.Store, calendar *market_hours.Calendar, bus *events.Bus, evaluate EvalFunc, outDir string, log zerolog.Logger) *Service {
	return &Service{
		store:    store,
		calendar: calendar,
		bus:      bus,
		evaluate: evaluate,
		outDir:   outDir,
		log:      log.With().Str("component", "freeze").Logger(),
		now:      time.Now,
	}
}

// WithClock overrides the service clock for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// FreezeEOD stamps the canonical decision as frozen: the artifact is copied
// to decision_frozen.json and to a dated archive directory with a manifest.
// With EvalFirst a fresh evaluation runs before the copy; with SkipEval a
// missing canonical file is an error instead of triggering one.
func (s *Service) FreezeEOD(ctx context.Context, opts Options) (*Result, error) {
	if opts.EvalFirst && opts.SkipEval {
		return nil, &domain.ConfigError{Key: "freeze options", Reason: "eval_first and skip_eval are mutually exclusive"}
	}

	if opts.EvalFirst {
		if err := s.runEvaluation(ctx); err != nil {
			return nil, err
		}
	}

	artifact, err := s.store.ReloadFromDisk()
	if err != nil {
		return nil, err
	}
	if artifact == nil {
		if opts.SkipEval {
			return nil, &domain.StoreError{Op: "freeze", Path: s.store.LatestPath(), Err: errors.New("no canonical decision to freeze")}
		}
		if err := s.runEvaluation(ctx); err != nil {
			return nil, err
		}
		if artifact, err = s.store.ReloadFromDisk(); err != nil {
			return nil, err
		}
		if artifact == nil {
			return nil, &domain.StoreError{Op: "freeze", Path: s.store.LatestPath(), Err: errors.New("evaluation produced no canonical decision")}
		}
	}

	data, err := os.ReadFile(s.store.LatestPath())
	if err != nil {
		return nil, &domain.StoreError{Op: "freeze.read_latest", Path: s.store.LatestPath(), Err: err}
	}

	now := s.now()
	sum := sha256.Sum256(data)
	result := &Result{
		RunID:      artifact.Metadata.RunID,
		FrozenPath: s.store.FrozenPath(),
		SHA256:     hex.EncodeToString(sum[:]),
		SizeBytes:  int64(len(data)),
		FrozenAt:   now.UTC(),
	}

	if err := os.WriteFile(s.store.FrozenPath(), data, 0o644); err != nil {
		return nil, &domain.StoreError{Op: "freeze.write_frozen", Path: s.store.FrozenPath(), Err: err}
	}

	// Dated archive, keyed to the exchange's local date.
	day := now.In(s.calendar.Location()).Format("2006-01-02")
	archiveDir := filepath.Join(s.outDir, ArchiveDirName, day)
	if err := os.MkdirAll(archiveDir, 0o755); err != nil {
		return nil, &domain.StoreError{Op: "freeze.archive", Path: archiveDir, Err: err}
	}
	if err := os.WriteFile(filepath.Join(archiveDir, decisions.FrozenFile), data, 0o644); err != nil {
		return nil, &domain.StoreError{Op: "freeze.archive", Path: archiveDir, Err: err}
	}

	m := manifest{
		RunID:     result.RunID,
		FrozenAt:  result.FrozenAt,
		SHA256:    result.SHA256,
		SizeBytes: result.SizeBytes,
		Forced:    opts.Forced,
		Source:    "eod_freeze",
	}
	encoded, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, &domain.StoreError{Op: "freeze.manifest", Err: err}
	}
	if err := os.WriteFile(filepath.Join(archiveDir, "manifest.json"), encoded, 0o644); err != nil {
		return nil, &domain.StoreError{Op: "freeze.manifest", Path: archiveDir, Err: err}
	}
	result.ArchiveDir = archiveDir

	if s.bus != nil {
		s.bus.Publish(&events.FreezeExecutedData{
			RunID:      result.RunID,
			ArchiveDir: archiveDir,
			SHA256:     result.SHA256,
			Forced:     opts.Forced,
		})
	}
	s.log.Info().
		Str("run_id", result.RunID).
		Str("archive", archiveDir).
		Str("sha256", result.SHA256[:12]).
		Msg("EOD freeze complete")
	return result, nil
}

// ClearFrozen removes the frozen shadow so the live file serves again.
// Returns false when no frozen copy existed.
func (s *Service) ClearFrozen() (bool, error) {
	err := os.Remove(s.store.FrozenPath())
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, &domain.StoreError{Op: "freeze.clear", Path: s.store.FrozenPath(), Err: err}
	}
	s.log.Info().Msg("Frozen decision cleared")
	return true, nil
}

// VerifyArchive recomputes the artifact hash for one archived day and checks
// it against the manifest.
func (s *Service) VerifyArchive(day string) error {
	dir := filepath.Join(s.outDir, ArchiveDirName, day)

	raw, err := os.ReadFile(filepath.Join(dir, "manifest.json"))
	if err != nil {
		return &domain.StoreError{Op: "freeze.verify", Path: dir, Err: err}
	}
	var m manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return &domain.StoreError{Op: "freeze.verify", Path: dir, Err: err}
	}

	data, err := os.ReadFile(filepath.Join(dir, decisions.FrozenFile))
	if err != nil {
		return &domain.StoreError{Op: "freeze.verify", Path: dir, Err: err}
	}
	sum := sha256.Sum256(data)
	if got := hex.EncodeToString(sum[:]); got != m.SHA256 {
		return &domain.StoreError{Op: "freeze.verify", Path: dir,
			Err: fmt.Errorf("sha256 mismatch: manifest %s, file %s", m.SHA256, got)}
	}
	return nil
}

func (s *Service) runEvaluation(ctx context.Context) error {
	if s.evaluate == nil {
		return &domain.ConfigError{Key: "freeze", Reason: "no evaluator wired for eval-first freeze"}
	}
	return s.evaluate(ctx)
}
