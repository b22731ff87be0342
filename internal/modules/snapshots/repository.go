package snapshots

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/swap2you/chakraops-sub000/internal/database"
	"github.com/swap2you/chakraops-sub000/internal/domain"
)

const snapshotColumns = "snapshot_id, snapshot_timestamp, source, symbol_count, symbols_with_data, data_age_minutes, is_frozen, created_at"

// Repository persists snapshot metadata and per-symbol row blobs.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a snapshot repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "snapshots").Logger(),
	}
}

// Insert writes a snapshot and its rows in one transaction: every currently
// frozen snapshot is demoted, then the new metadata row goes in frozen,
// then the data rows. Any error rolls the whole build back and the previous
// snapshot stays authoritative. truncate wipes snapshot history first and
// is only reachable through the dev flag.
func (r *Repository) Insert(snap Snapshot, data []SymbolData, truncate bool) error {
	err := database.WithTransaction(r.db, func(tx *sql.Tx) error {
		if truncate {
			if _, err := tx.Exec("DELETE FROM snapshot_rows"); err != nil {
				return fmt.Errorf("truncate rows: %w", err)
			}
			if _, err := tx.Exec("DELETE FROM snapshots"); err != nil {
				return fmt.Errorf("truncate snapshots: %w", err)
			}
		}

		if _, err := tx.Exec("UPDATE snapshots SET is_frozen = 0 WHERE is_frozen = 1"); err != nil {
			return fmt.Errorf("demote frozen: %w", err)
		}

		_, err := tx.Exec(`
			INSERT INTO snapshots (snapshot_id, snapshot_timestamp, source, symbol_count,
				symbols_with_data, data_age_minutes, is_frozen, created_at)
			VALUES (?, ?, ?, ?, ?, ?, 1, ?)`,
			snap.ID,
			snap.Timestamp.Format(time.RFC3339),
			snap.Source,
			snap.SymbolCount,
			snap.SymbolsWithData,
			snap.DataAgeMinutes,
			snap.CreatedAt.UTC().Format(time.RFC3339),
		)
		if err != nil {
			return fmt.Errorf("insert metadata: %w", err)
		}

		stmt, err := tx.Prepare(`
			INSERT INTO snapshot_rows (snapshot_id, symbol, has_data, rows)
			VALUES (?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("prepare rows insert: %w", err)
		}
		defer stmt.Close()

		for _, sd := range data {
			encoded, err := EncodeRows(sd.Rows)
			if err != nil {
				return fmt.Errorf("encode %s: %w", sd.Symbol, err)
			}
			hasData := 0
			if sd.HasData {
				hasData = 1
			}
			if _, err := stmt.Exec(snap.ID, sd.Symbol, hasData, encoded); err != nil {
				return fmt.Errorf("insert rows for %s: %w", sd.Symbol, err)
			}
		}
		return nil
	})
	if err != nil {
		return &domain.SnapshotBuildError{Op: "persist", Err: err}
	}
	return nil
}

// GetActive returns the single frozen snapshot, or nil when none exists.
func (r *Repository) GetActive() (*Snapshot, error) {
	query := fmt.Sprintf("SELECT %s FROM snapshots WHERE is_frozen = 1", snapshotColumns)
	snap, err := scanSnapshot(r.db.QueryRow(query))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, &domain.StoreError{Op: "snapshots.get_active", Err: err}
	}
	return snap, nil
}

// GetByID returns one snapshot by id, or nil.
func (r *Repository) GetByID(id string) (*Snapshot, error) {
	query := fmt.Sprintf("SELECT %s FROM snapshots WHERE snapshot_id = ?", snapshotColumns)
	snap, err := scanSnapshot(r.db.QueryRow(query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, &domain.StoreError{Op: "snapshots.get_by_id", Err: err}
	}
	return snap, nil
}

// GetLatestID returns the newest snapshot id by build instant, or "" when
// the table is empty.
func (r *Repository) GetLatestID() (string, error) {
	var id string
	err := r.db.QueryRow(
		"SELECT snapshot_id FROM snapshots ORDER BY created_at DESC, snapshot_id DESC LIMIT 1").Scan(&id)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", &domain.StoreError{Op: "snapshots.get_latest", Err: err}
	}
	return id, nil
}

// GetPreviousID returns the snapshot immediately older than the given one,
// or "" when the given snapshot is the oldest (or unknown).
func (r *Repository) GetPreviousID(id string) (string, error) {
	var prev string
	err := r.db.QueryRow(`
		SELECT snapshot_id FROM snapshots
		WHERE (created_at, snapshot_id) < (
			SELECT created_at, snapshot_id FROM snapshots WHERE snapshot_id = ?
		)
		ORDER BY created_at DESC, snapshot_id DESC
		LIMIT 1`, id).Scan(&prev)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", &domain.StoreError{Op: "snapshots.get_previous", Err: err}
	}
	return prev, nil
}

// List returns snapshots newest-first, capped at limit (0 means all).
func (r *Repository) List(limit int) ([]Snapshot, error) {
	query := fmt.Sprintf("SELECT %s FROM snapshots ORDER BY created_at DESC, snapshot_id DESC", snapshotColumns)
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, &domain.StoreError{Op: "snapshots.list", Err: err}
	}
	defer rows.Close()

	var snaps []Snapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, &domain.StoreError{Op: "snapshots.list", Err: err}
		}
		snaps = append(snaps, *snap)
	}
	if err := rows.Err(); err != nil {
		return nil, &domain.StoreError{Op: "snapshots.list", Err: err}
	}
	return snaps, nil
}

// LoadData returns every symbol's rows for a snapshot, including symbols
// stored with has_data=false (their slice is empty). Dates come back as
// zoned instants.
func (r *Repository) LoadData(id string) (map[string][]Row, error) {
	data, err := r.LoadSymbolData(id)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]Row, len(data))
	for _, sd := range data {
		out[sd.Symbol] = sd.Rows
	}
	return out, nil
}

// LoadSymbolData returns the stored per-symbol records for a snapshot,
// ordered by symbol.
func (r *Repository) LoadSymbolData(id string) ([]SymbolData, error) {
	rows, err := r.db.Query(
		"SELECT symbol, has_data, rows FROM snapshot_rows WHERE snapshot_id = ? ORDER BY symbol", id)
	if err != nil {
		return nil, &domain.StoreError{Op: "snapshots.load_data", Err: err}
	}
	defer rows.Close()

	var out []SymbolData
	for rows.Next() {
		var (
			sd      SymbolData
			hasData int
			encoded string
		)
		if err := rows.Scan(&sd.Symbol, &hasData, &encoded); err != nil {
			return nil, &domain.StoreError{Op: "snapshots.load_data", Err: err}
		}
		sd.HasData = hasData != 0
		sd.Rows, err = DecodeRows(encoded)
		if err != nil {
			return nil, &domain.StoreError{Op: "snapshots.load_data", Err: fmt.Errorf("%s: %w", sd.Symbol, err)}
		}
		out = append(out, sd)
	}
	if err := rows.Err(); err != nil {
		return nil, &domain.StoreError{Op: "snapshots.load_data", Err: err}
	}
	return out, nil
}

// GetPrices reduces a snapshot to the last row per symbol. Symbols without
// data are omitted.
func (r *Repository) GetPrices(id string) (map[string]PriceView, error) {
	data, err := r.LoadSymbolData(id)
	if err != nil {
		return nil, err
	}

	prices := make(map[string]PriceView)
	for _, sd := range data {
		if !sd.HasData {
			continue
		}
		last, ok := LatestRow(sd.Rows)
		if !ok {
			continue
		}
		prices[sd.Symbol] = PriceView{
			Price:  last.Close,
			Volume: last.Volume,
			IVRank: last.IVRank,
		}
	}
	return prices, nil
}

// Count returns the number of stored snapshots.
func (r *Repository) Count() (int, error) {
	var count int
	if err := r.db.QueryRow("SELECT COUNT(*) FROM snapshots").Scan(&count); err != nil {
		return 0, &domain.StoreError{Op: "snapshots.count", Err: err}
	}
	return count, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSnapshot(row rowScanner) (*Snapshot, error) {
	var (
		snap      Snapshot
		ts        string
		createdAt string
		frozen    int
	)
	err := row.Scan(&snap.ID, &ts, &snap.Source, &snap.SymbolCount,
		&snap.SymbolsWithData, &snap.DataAgeMinutes, &frozen, &createdAt)
	if err != nil {
		return nil, err
	}

	snap.IsFrozen = frozen != 0
	if snap.Timestamp, err = time.Parse(time.RFC3339, ts); err != nil {
		return nil, fmt.Errorf("snapshot_timestamp %q: %w", ts, err)
	}
	if snap.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("created_at %q: %w", createdAt, err)
	}
	return &snap, nil
}
