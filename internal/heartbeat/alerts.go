package heartbeat

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/swap2you/chakraops-sub000/internal/domain"
)

// Alert kinds the scheduler raises. Internal errors are never alerts; they
// surface through health.
const (
	AlertKindNewCandidate      = "new_candidate"
	AlertKindCandidatesRemoved = "candidates_removed"
	AlertKindRegimeChange      = "regime_change"
)

const alertColumns = "id, level, kind, symbol, message, details, created_at"

// Alert is one operator-facing notification.
type Alert struct {
	ID        string            `json:"id"`
	Level     domain.AlertLevel `json:"level"`
	Kind      string            `json:"kind"`
	Symbol    string            `json:"symbol,omitempty"`
	Message   string            `json:"message"`
	Details   map[string]any    `json:"details,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// AlertRepository persists alerts.
type AlertRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewAlertRepository creates the alert repository.
func NewAlertRepository(db *sql.DB, log zerolog.Logger) *AlertRepository {
	return &AlertRepository{
		db:  db,
		log: log.With().Str("repo", "alerts").Logger(),
	}
}

// Insert persists one alert, assigning id and timestamp when absent.
func (r *AlertRepository) Insert(alert *Alert) error {
	if alert.ID == "" {
		alert.ID = uuid.NewString()
	}
	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = time.Now().UTC()
	}
	details := "{}"
	if len(alert.Details) > 0 {
		encoded, err := json.Marshal(alert.Details)
		if err != nil {
			return &domain.StoreError{Op: "alerts.insert", Err: fmt.Errorf("details: %w", err)}
		}
		details = string(encoded)
	}

	_, err := r.db.Exec(`
		INSERT INTO alerts (id, level, kind, symbol, message, details, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		alert.ID, string(alert.Level), alert.Kind, alert.Symbol, alert.Message,
		details, alert.CreatedAt.Format(time.RFC3339))
	if err != nil {
		return &domain.StoreError{Op: "alerts.insert", Err: err}
	}
	return nil
}

// List returns alerts newest-first, capped at limit (0 means all).
func (r *AlertRepository) List(limit int) ([]Alert, error) {
	query := fmt.Sprintf("SELECT %s FROM alerts ORDER BY created_at DESC, id DESC", alertColumns)
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	return r.list(query, args...)
}

// ListSince returns alerts created at or after the given instant,
// newest-first.
func (r *AlertRepository) ListSince(since time.Time) ([]Alert, error) {
	query := fmt.Sprintf(
		"SELECT %s FROM alerts WHERE created_at >= ? ORDER BY created_at DESC, id DESC", alertColumns)
	return r.list(query, since.UTC().Format(time.RFC3339))
}

func (r *AlertRepository) list(query string, args ...any) ([]Alert, error) {
	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, &domain.StoreError{Op: "alerts.list", Err: err}
	}
	defer rows.Close()

	var out []Alert
	for rows.Next() {
		var (
			alert     Alert
			level     string
			details   string
			createdAt string
		)
		if err := rows.Scan(&alert.ID, &level, &alert.Kind, &alert.Symbol, &alert.Message, &details, &createdAt); err != nil {
			return nil, &domain.StoreError{Op: "alerts.list", Err: err}
		}
		alert.Level = domain.AlertLevel(level)
		if details != "" && details != "{}" {
			if err := json.Unmarshal([]byte(details), &alert.Details); err != nil {
				return nil, &domain.StoreError{Op: "alerts.list", Err: fmt.Errorf("details: %w", err)}
			}
		}
		if alert.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
			return nil, &domain.StoreError{Op: "alerts.list", Err: fmt.Errorf("created_at %q: %w", createdAt, err)}
		}
		out = append(out, alert)
	}
	if err := rows.Err(); err != nil {
		return nil, &domain.StoreError{Op: "alerts.list", Err: err}
	}
	return out, nil
}
