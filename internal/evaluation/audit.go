package evaluation

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/swap2you/chakraops-sub000/internal/database"
	"github.com/swap2you/chakraops-sub000/internal/domain"
)

const auditColumns = "snapshot_id, symbol, run_id, verdict, score, band, stage1_status, stage2_status, primary_reason, details, created_at"

// AuditRow is one persisted per-symbol evaluation outcome. One row exists per
// (snapshot, symbol); later cycles against the same snapshot overwrite it.
type AuditRow struct {
	SnapshotID    string             `json:"snapshot_id"`
	Symbol        string             `json:"symbol"`
	RunID         string             `json:"run_id"`
	Verdict       domain.Verdict     `json:"verdict"`
	Score         *int               `json:"score"`
	Band          domain.Band        `json:"band"`
	Stage1Status  domain.StageStatus `json:"stage1_status"`
	Stage2Status  domain.StageStatus `json:"stage2_status"`
	PrimaryReason string             `json:"primary_reason"`
	Details       string             `json:"details"`
	CreatedAt     time.Time          `json:"created_at"`
}

// auditDetails is the compact JSON blob stored per row. Full diagnostics live
// on the artifact; this is just enough for dashboard queries.
type auditDetails struct {
	ProviderStatus string   `json:"provider_status,omitempty"`
	BandReason     string   `json:"band_reason,omitempty"`
	FailedGates    []string `json:"failed_gates,omitempty"`
	PremiumYield   *float64 `json:"premium_yield_pct,omitempty"`
}

// AuditRepository persists evaluation outcomes to csp_evaluations.
type AuditRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewAuditRepository creates the evaluation audit repository.
func NewAuditRepository(db *sql.DB, log zerolog.Logger) *AuditRepository {
	return &AuditRepository{
		db:  db,
		log: log.With().Str("repo", "csp_evaluations").Logger(),
	}
}

// RecordRun writes one audit row per artifact symbol for the given snapshot,
// in a single transaction. Existing rows for the same (snapshot, symbol) are
// replaced.
func (r *AuditRepository) RecordRun(snapshotID string, artifact *domain.DecisionArtifact) error {
	now := time.Now().UTC().Format(time.RFC3339)

	err := database.WithTransaction(r.db, func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(`
			INSERT INTO csp_evaluations (snapshot_id, symbol, run_id, verdict, score, band,
				stage1_status, stage2_status, primary_reason, details, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(snapshot_id, symbol) DO UPDATE SET
				run_id = excluded.run_id,
				verdict = excluded.verdict,
				score = excluded.score,
				band = excluded.band,
				stage1_status = excluded.stage1_status,
				stage2_status = excluded.stage2_status,
				primary_reason = excluded.primary_reason,
				details = excluded.details,
				created_at = excluded.created_at`)
		if err != nil {
			return fmt.Errorf("prepare: %w", err)
		}
		defer stmt.Close()

		for _, row := range artifact.Symbols {
			details := auditDetails{
				ProviderStatus: row.ProviderStatus,
				BandReason:     row.BandReason,
				PremiumYield:   row.PremiumYieldPct,
			}
			if diag, ok := artifact.DiagnosticsBySymbol[row.Symbol]; ok && diag.Eligibility != nil {
				details.FailedGates = diag.Eligibility.FailedGates
			}
			encoded, err := json.Marshal(details)
			if err != nil {
				return fmt.Errorf("encode details for %s: %w", row.Symbol, err)
			}

			var score any
			if row.FinalScore != nil {
				score = *row.FinalScore
			}
			_, err = stmt.Exec(snapshotID, row.Symbol, artifact.Metadata.RunID, string(row.Verdict),
				score, string(row.Band), string(row.Stage1Status), string(row.Stage2Status),
				row.PrimaryReason, string(encoded), now)
			if err != nil {
				return fmt.Errorf("upsert %s: %w", row.Symbol, err)
			}
		}
		return nil
	})
	if err != nil {
		return &domain.StoreError{Op: "csp_evaluations.record_run", Err: err}
	}

	r.log.Debug().Str("snapshot_id", snapshotID).Str("run_id", artifact.Metadata.RunID).
		Int("rows", len(artifact.Symbols)).Msg("Evaluation audit recorded")
	return nil
}

// ListBySnapshot returns the audit rows for one snapshot, ordered by symbol.
func (r *AuditRepository) ListBySnapshot(snapshotID string) ([]AuditRow, error) {
	query := fmt.Sprintf("SELECT %s FROM csp_evaluations WHERE snapshot_id = ? ORDER BY symbol", auditColumns)
	return r.list(query, snapshotID)
}

// ListByRun returns the audit rows for one run, ordered by symbol.
func (r *AuditRepository) ListByRun(runID string) ([]AuditRow, error) {
	query := fmt.Sprintf("SELECT %s FROM csp_evaluations WHERE run_id = ? ORDER BY symbol", auditColumns)
	return r.list(query, runID)
}

// TopRejectionReasons aggregates the most frequent primary reasons among
// non-eligible rows for one snapshot.
func (r *AuditRepository) TopRejectionReasons(snapshotID string, limit int) (map[string]int, error) {
	if limit <= 0 {
		limit = 5
	}
	rows, err := r.db.Query(`
		SELECT primary_reason, COUNT(*) AS n FROM csp_evaluations
		WHERE snapshot_id = ? AND verdict != 'ELIGIBLE' AND primary_reason != ''
		GROUP BY primary_reason
		ORDER BY n DESC, primary_reason
		LIMIT ?`, snapshotID, limit)
	if err != nil {
		return nil, &domain.StoreError{Op: "csp_evaluations.top_reasons", Err: err}
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var reason string
		var n int
		if err := rows.Scan(&reason, &n); err != nil {
			return nil, &domain.StoreError{Op: "csp_evaluations.top_reasons", Err: err}
		}
		out[reason] = n
	}
	if err := rows.Err(); err != nil {
		return nil, &domain.StoreError{Op: "csp_evaluations.top_reasons", Err: err}
	}
	return out, nil
}

func (r *AuditRepository) list(query string, arg any) ([]AuditRow, error) {
	rows, err := r.db.Query(query, arg)
	if err != nil {
		return nil, &domain.StoreError{Op: "csp_evaluations.list", Err: err}
	}
	defer rows.Close()

	var out []AuditRow
	for rows.Next() {
		var (
			row       AuditRow
			score     sql.NullInt64
			createdAt string
		)
		err := rows.Scan(&row.SnapshotID, &row.Symbol, &row.RunID, &row.Verdict, &score,
			&row.Band, &row.Stage1Status, &row.Stage2Status, &row.PrimaryReason, &row.Details, &createdAt)
		if err != nil {
			return nil, &domain.StoreError{Op: "csp_evaluations.list", Err: err}
		}
		if score.Valid {
			v := int(score.Int64)
			row.Score = &v
		}
		if row.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
			return nil, &domain.StoreError{Op: "csp_evaluations.list", Err: fmt.Errorf("created_at %q: %w", createdAt, err)}
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, &domain.StoreError{Op: "csp_evaluations.list", Err: err}
	}
	return out, nil
}
