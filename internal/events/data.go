package events

import (
	"time"

	"github.com/swap2you/chakraops-sub000/internal/domain"
)

// CycleCompletedData is published after every heartbeat cycle, successful or
// not.
type CycleCompletedData struct {
	RunID         string              `json:"run_id,omitempty"`
	SnapshotID    string              `json:"snapshot_id,omitempty"`
	Status        domain.HealthStatus `json:"status"`
	EligibleCount int                 `json:"eligible_count"`
	DurationMsec  int64               `json:"duration_ms"`
	Persisted     bool                `json:"persisted"`
}

func (d *CycleCompletedData) EventType() EventType { return CycleCompleted }

// AlertRaisedData carries one operator alert.
type AlertRaisedData struct {
	AlertID string            `json:"alert_id"`
	Level   domain.AlertLevel `json:"level"`
	Kind    string            `json:"kind"`
	Symbol  string            `json:"symbol,omitempty"`
	Message string            `json:"message"`
}

func (d *AlertRaisedData) EventType() EventType { return AlertRaised }

// DecisionUpdatedData is published when a new artifact becomes canonical.
type DecisionUpdatedData struct {
	RunID         string `json:"run_id"`
	UniverseSize  int    `json:"universe_size"`
	EligibleCount int    `json:"eligible_count"`
	Mode          string `json:"mode"`
}

func (d *DecisionUpdatedData) EventType() EventType { return DecisionUpdated }

// FreezeExecutedData is published after an EOD freeze completes.
type FreezeExecutedData struct {
	RunID      string `json:"run_id"`
	ArchiveDir string `json:"archive_dir"`
	SHA256     string `json:"sha256"`
	Forced     bool   `json:"forced"`
}

func (d *FreezeExecutedData) EventType() EventType { return FreezeExecuted }

// RegimeChangedData is published when the detected market regime flips.
type RegimeChangedData struct {
	Previous domain.Regime `json:"previous"`
	Current  domain.Regime `json:"current"`
	Method   string        `json:"method"`
}

func (d *RegimeChangedData) EventType() EventType { return RegimeChanged }

// SnapshotBuiltData is published when a snapshot build freezes.
type SnapshotBuiltData struct {
	SnapshotID      string    `json:"snapshot_id"`
	Source          string    `json:"source"`
	SymbolCount     int       `json:"symbol_count"`
	SymbolsWithData int       `json:"symbols_with_data"`
	Timestamp       time.Time `json:"timestamp"`
}

func (d *SnapshotBuiltData) EventType() EventType { return SnapshotBuilt }
