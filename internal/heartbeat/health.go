package heartbeat

import (
	"sync"
	"time"

	"github.com/swap2you/chakraops-sub000/internal/domain"
)

// Health is the scheduler's published state, read by the API layer. All
// fields describe the most recent cycle.
type Health struct {
	LastCycleTime time.Time           `json:"last_cycle_time"`
	Status        domain.HealthStatus `json:"status"`
	DataTimestamp time.Time           `json:"data_timestamp"`
	LastError     string              `json:"last_error,omitempty"`
	IsRunning     bool                `json:"is_running"`
	LastRunID     string              `json:"last_run_id,omitempty"`
	CycleCount    int                 `json:"cycle_count"`
}

// healthState holds Health under a lock. The worker writes; API readers copy.
type healthState struct {
	mu sync.RWMutex
	h  Health
}

// Snapshot returns a copy of the current health.
func (s *healthState) Snapshot() Health {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.h
}

func (s *healthState) update(fn func(*Health)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.h)
}
