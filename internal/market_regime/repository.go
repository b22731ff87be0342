package market_regime

import (
	"database/sql"
	"time"

	"github.com/rs/zerolog"

	"github.com/swap2you/chakraops-sub000/internal/domain"
)

const recordColumns = "id, recorded_at, regime, benchmark_symbol, benchmark_return, smoothed_return, confidence, method"

// Repository persists regime computations. History rows are append-only and
// retained indefinitely.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a regime history repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "market_regime").Logger(),
	}
}

// Insert appends one computation to the history.
func (r *Repository) Insert(rec *Record) error {
	result, err := r.db.Exec(`
		INSERT INTO regime_history (recorded_at, regime, benchmark_symbol,
			benchmark_return, smoothed_return, confidence, method)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.RecordedAt.Unix(),
		string(rec.Regime),
		rec.BenchmarkSymbol,
		rec.BenchmarkReturn,
		rec.SmoothedReturn,
		rec.Confidence,
		rec.Method,
	)
	if err != nil {
		return &domain.StoreError{Op: "regime.insert", Err: err}
	}
	if id, err := result.LastInsertId(); err == nil {
		rec.ID = id
	}
	return nil
}

// GetLatest returns the most recent computation, or nil when the history is
// empty.
func (r *Repository) GetLatest() (*Record, error) {
	row := r.db.QueryRow(
		"SELECT " + recordColumns + " FROM regime_history ORDER BY recorded_at DESC, id DESC LIMIT 1")
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, &domain.StoreError{Op: "regime.get_latest", Err: err}
	}
	return rec, nil
}

// List returns history entries newest-first, capped at limit (0 means all).
func (r *Repository) List(limit int) ([]Record, error) {
	query := "SELECT " + recordColumns + " FROM regime_history ORDER BY recorded_at DESC, id DESC"
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, &domain.StoreError{Op: "regime.list", Err: err}
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, &domain.StoreError{Op: "regime.list", Err: err}
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, &domain.StoreError{Op: "regime.list", Err: err}
	}
	return records, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*Record, error) {
	var (
		rec      Record
		regime   string
		recorded int64
	)
	err := row.Scan(&rec.ID, &recorded, &regime, &rec.BenchmarkSymbol,
		&rec.BenchmarkReturn, &rec.SmoothedReturn, &rec.Confidence, &rec.Method)
	if err != nil {
		return nil, err
	}
	rec.RecordedAt = time.Unix(recorded, 0).UTC()
	rec.Regime = domain.Regime(regime)
	return &rec, nil
}
