package heartbeat

import (
	"database/sql"
	"time"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/swap2you/chakraops-sub000/internal/domain"
)

const cycleStateKey = "heartbeat_cycle"

// cycleState is what one cycle leaves behind for the next: the eligible set
// and regime for delta detection. It lives in the ephemeral cache database;
// losing it only suppresses one round of state-change alerts.
type cycleState struct {
	RunID       string        `msgpack:"run_id"`
	SnapshotID  string        `msgpack:"snapshot_id"`
	Eligible    []string      `msgpack:"eligible"`
	Regime      domain.Regime `msgpack:"regime"`
	CompletedAt time.Time     `msgpack:"completed_at"`
}

// StateCache persists cycle state between cycles and across restarts.
type StateCache struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewStateCache creates a cycle-state cache over the cache database.
func NewStateCache(db *sql.DB, log zerolog.Logger) *StateCache {
	return &StateCache{
		db:  db,
		log: log.With().Str("component", "cycle_cache").Logger(),
	}
}

// Save stores the cycle state, replacing any previous one.
func (c *StateCache) Save(state *cycleState) error {
	payload, err := msgpack.Marshal(state)
	if err != nil {
		return &domain.StoreError{Op: "cycle_cache.save", Err: err}
	}

	_, err = c.db.Exec(`
		INSERT INTO cycle_state (key, payload, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at`,
		cycleStateKey, payload, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return &domain.StoreError{Op: "cycle_cache.save", Err: err}
	}
	return nil
}

// Load returns the stored cycle state, or nil when none exists. A corrupt
// payload is treated as missing; the cache is disposable.
func (c *StateCache) Load() (*cycleState, error) {
	var payload []byte
	err := c.db.QueryRow("SELECT payload FROM cycle_state WHERE key = ?", cycleStateKey).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, &domain.StoreError{Op: "cycle_cache.load", Err: err}
	}

	var state cycleState
	if err := msgpack.Unmarshal(payload, &state); err != nil {
		c.log.Warn().Err(err).Msg("Discarding corrupt cycle state")
		return nil, nil
	}
	return &state, nil
}
