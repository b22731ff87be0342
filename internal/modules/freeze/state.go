package freeze

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/swap2you/chakraops-sub000/internal/config"
	"github.com/swap2you/chakraops-sub000/internal/domain"
)

// State is the persisted config-hash baseline: the critical config of the
// last evaluation run, its hash, and the mode it ran under. Exactly one row
// exists.
type State struct {
	ConfigHash     string            `json:"config_hash"`
	ConfigSnapshot map[string]string `json:"config_snapshot"`
	RunMode        domain.RunMode    `json:"run_mode"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// StateRepository persists the single freeze_state row.
type StateRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewStateRepository creates the freeze-state repository.
func NewStateRepository(db *sql.DB, log zerolog.Logger) *StateRepository {
	return &StateRepository{
		db:  db,
		log: log.With().Str("repo", "freeze_state").Logger(),
	}
}

// Get returns the stored state, or nil before the first run.
func (r *StateRepository) Get() (*State, error) {
	var (
		state    State
		snapshot string
		mode     string
		updated  string
	)
	err := r.db.QueryRow(
		"SELECT config_hash, config_snapshot, run_mode, updated_at FROM freeze_state WHERE id = 1").
		Scan(&state.ConfigHash, &snapshot, &mode, &updated)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, &domain.StoreError{Op: "freeze_state.get", Err: err}
	}

	if err := json.Unmarshal([]byte(snapshot), &state.ConfigSnapshot); err != nil {
		return nil, &domain.StoreError{Op: "freeze_state.get", Err: fmt.Errorf("config_snapshot: %w", err)}
	}
	state.RunMode = domain.ParseRunMode(mode)
	if state.UpdatedAt, err = time.Parse(time.RFC3339, updated); err != nil {
		return nil, &domain.StoreError{Op: "freeze_state.get", Err: fmt.Errorf("updated_at %q: %w", updated, err)}
	}
	return &state, nil
}

// Upsert replaces the stored state.
func (r *StateRepository) Upsert(state State) error {
	snapshot, err := json.Marshal(state.ConfigSnapshot)
	if err != nil {
		return &domain.StoreError{Op: "freeze_state.upsert", Err: fmt.Errorf("config_snapshot: %w", err)}
	}

	_, err = r.db.Exec(`
		INSERT INTO freeze_state (id, config_hash, config_snapshot, run_mode, updated_at)
		VALUES (1, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			config_hash = excluded.config_hash,
			config_snapshot = excluded.config_snapshot,
			run_mode = excluded.run_mode,
			updated_at = excluded.updated_at`,
		state.ConfigHash, string(snapshot), string(state.RunMode),
		state.UpdatedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return &domain.StoreError{Op: "freeze_state.upsert", Err: err}
	}
	return nil
}

// HashGuard detects critical-config drift between evaluation runs. Drift is
// an audit signal, never a blocker: the caller marks the artifact instead of
// refusing the run.
type HashGuard struct {
	repo *StateRepository
	log  zerolog.Logger
}

// NewHashGuard creates a config-hash guard.
func NewHashGuard(repo *StateRepository, log zerolog.Logger) *HashGuard {
	return &HashGuard{
		repo: repo,
		log:  log.With().Str("component", "config_hash_guard").Logger(),
	}
}

// Check compares the current critical config against the stored baseline and
// advances the baseline. It returns a non-nil drift only when the hash
// changed between two LIVE runs.
func (g *HashGuard) Check(strategy *config.StrategyConfig, mode domain.RunMode) (*domain.ConfigDrift, error) {
	snapshot := strategy.CriticalConfig()
	hash, err := config.HashCriticalConfig(snapshot)
	if err != nil {
		return nil, &domain.ConfigError{Key: "critical_config", Reason: err.Error()}
	}

	stored, err := g.repo.Get()
	if err != nil {
		return nil, err
	}

	var drift *domain.ConfigDrift
	if stored != nil && stored.ConfigHash != hash &&
		mode == domain.RunModeLive && stored.RunMode == domain.RunModeLive {
		drift = &domain.ConfigDrift{
			PreviousHash: stored.ConfigHash,
			CurrentHash:  hash,
			ChangedKeys:  config.DiffConfigKeys(stored.ConfigSnapshot, snapshot),
		}
		g.log.Warn().
			Str("previous", drift.PreviousHash).
			Str("current", drift.CurrentHash).
			Strs("changed_keys", drift.ChangedKeys).
			Msg("Critical config drifted between LIVE runs")
	}

	err = g.repo.Upsert(State{
		ConfigHash:     hash,
		ConfigSnapshot: snapshot,
		RunMode:        mode,
		UpdatedAt:      time.Now().UTC(),
	})
	if err != nil {
		return nil, err
	}
	return drift, nil
}
