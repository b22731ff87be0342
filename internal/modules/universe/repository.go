package universe

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/swap2you/chakraops-sub000/internal/database"
	"github.com/swap2you/chakraops-sub000/internal/domain"
)

// universeColumns is the canonical column list so scans stay aligned with
// the schema instead of depending on SELECT * ordering.
const universeColumns = "symbol, enabled, is_benchmark, priority, notes, created_at, updated_at"

// Repository provides access to the universe table.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a universe repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "universe").Logger(),
	}
}

// GetBySymbol returns the entry for a symbol, or nil if it does not exist.
func (r *Repository) GetBySymbol(symbol string) (*Entry, error) {
	norm, ok := domain.NormalizeSymbol(symbol)
	if !ok {
		return nil, nil
	}

	query := fmt.Sprintf("SELECT %s FROM universe WHERE symbol = ?", universeColumns)
	row := r.db.QueryRow(query, norm)

	entry, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, &domain.StoreError{Op: "universe.get", Err: err}
	}
	return entry, nil
}

// ListAll returns every entry ordered by symbol.
func (r *Repository) ListAll() ([]Entry, error) {
	return r.list(fmt.Sprintf("SELECT %s FROM universe ORDER BY symbol", universeColumns))
}

// ListEnabled returns the enabled entries ordered by priority then symbol.
func (r *Repository) ListEnabled() ([]Entry, error) {
	return r.list(fmt.Sprintf(
		"SELECT %s FROM universe WHERE enabled = 1 ORDER BY priority, symbol", universeColumns))
}

// ListBenchmarks returns the benchmark entries ordered by symbol. Benchmarks
// participate in regime computation regardless of their enabled flag.
func (r *Repository) ListBenchmarks() ([]Entry, error) {
	return r.list(fmt.Sprintf(
		"SELECT %s FROM universe WHERE is_benchmark = 1 ORDER BY symbol", universeColumns))
}

func (r *Repository) list(query string, args ...any) ([]Entry, error) {
	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, &domain.StoreError{Op: "universe.list", Err: err}
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, &domain.StoreError{Op: "universe.list", Err: err}
		}
		entries = append(entries, *entry)
	}
	if err := rows.Err(); err != nil {
		return nil, &domain.StoreError{Op: "universe.list", Err: err}
	}
	return entries, nil
}

// Upsert inserts or fully updates a single entry. The symbol is normalized
// before writing; invalid symbols are rejected.
func (r *Repository) Upsert(entry Entry) error {
	norm, ok := domain.NormalizeSymbol(entry.Symbol)
	if !ok {
		return &domain.StoreError{Op: "universe.upsert", Err: fmt.Errorf("invalid symbol %q", entry.Symbol)}
	}
	if entry.Priority == 0 {
		entry.Priority = DefaultPriority
	}

	now := time.Now().UTC().Format(time.RFC3339)
	_, err := r.db.Exec(`
		INSERT INTO universe (symbol, enabled, is_benchmark, priority, notes, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(symbol) DO UPDATE SET
			enabled      = excluded.enabled,
			is_benchmark = excluded.is_benchmark,
			priority     = excluded.priority,
			notes        = excluded.notes,
			updated_at   = excluded.updated_at`,
		norm, boolToInt(entry.Enabled), boolToInt(entry.IsBenchmark), entry.Priority, entry.Notes, now, now)
	if err != nil {
		return &domain.StoreError{Op: "universe.upsert", Err: err}
	}
	return nil
}

// UpsertSymbols inserts the given symbols as enabled entries, re-enabling
// any that already exist. Existing priority, benchmark flag, and notes are
// preserved. Used by the snapshot builder to self-heal an empty universe
// from a data source. Returns the number of symbols written.
func (r *Repository) UpsertSymbols(symbols []string, note string) (int, error) {
	normalized := domain.NormalizeSymbols(symbols)
	if len(normalized) == 0 {
		return 0, nil
	}

	now := time.Now().UTC().Format(time.RFC3339)
	count := 0
	err := database.WithTransaction(r.db, func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(`
			INSERT INTO universe (symbol, enabled, is_benchmark, priority, notes, created_at, updated_at)
			VALUES (?, 1, 0, ?, ?, ?, ?)
			ON CONFLICT(symbol) DO UPDATE SET
				enabled    = 1,
				updated_at = excluded.updated_at`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, symbol := range normalized {
			if _, err := stmt.Exec(symbol, DefaultPriority, note, now, now); err != nil {
				return fmt.Errorf("upsert %s: %w", symbol, err)
			}
			count++
		}
		return nil
	})
	if err != nil {
		return 0, &domain.StoreError{Op: "universe.upsert_symbols", Err: err}
	}

	r.log.Info().Int("count", count).Msg("Upserted universe symbols")
	return count, nil
}

// EnsureBenchmarks guarantees the benchmark symbols exist and are flagged.
// Existing entries keep their enabled state and priority.
func (r *Repository) EnsureBenchmarks(symbols []string) error {
	normalized := domain.NormalizeSymbols(symbols)
	if len(normalized) == 0 {
		return nil
	}

	now := time.Now().UTC().Format(time.RFC3339)
	err := database.WithTransaction(r.db, func(tx *sql.Tx) error {
		for _, symbol := range normalized {
			_, err := tx.Exec(`
				INSERT INTO universe (symbol, enabled, is_benchmark, priority, notes, created_at, updated_at)
				VALUES (?, 1, 1, ?, 'benchmark', ?, ?)
				ON CONFLICT(symbol) DO UPDATE SET
					is_benchmark = 1,
					updated_at   = excluded.updated_at`,
				symbol, DefaultPriority, now, now)
			if err != nil {
				return fmt.Errorf("ensure benchmark %s: %w", symbol, err)
			}
		}
		return nil
	})
	if err != nil {
		return &domain.StoreError{Op: "universe.ensure_benchmarks", Err: err}
	}
	return nil
}

// SetEnabled toggles a single symbol. Returns false if the symbol is not in
// the universe.
func (r *Repository) SetEnabled(symbol string, enabled bool) (bool, error) {
	norm, ok := domain.NormalizeSymbol(symbol)
	if !ok {
		return false, nil
	}

	now := time.Now().UTC().Format(time.RFC3339)
	result, err := r.db.Exec(
		"UPDATE universe SET enabled = ?, updated_at = ? WHERE symbol = ?",
		boolToInt(enabled), now, norm)
	if err != nil {
		return false, &domain.StoreError{Op: "universe.set_enabled", Err: err}
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, &domain.StoreError{Op: "universe.set_enabled", Err: err}
	}
	return affected > 0, nil
}

// Remove deletes a symbol from the universe. Benchmarks cannot be removed;
// disable them instead.
func (r *Repository) Remove(symbol string) (bool, error) {
	norm, ok := domain.NormalizeSymbol(symbol)
	if !ok {
		return false, nil
	}

	result, err := r.db.Exec("DELETE FROM universe WHERE symbol = ? AND is_benchmark = 0", norm)
	if err != nil {
		return false, &domain.StoreError{Op: "universe.remove", Err: err}
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, &domain.StoreError{Op: "universe.remove", Err: err}
	}
	return affected > 0, nil
}

// Count returns the number of enabled entries.
func (r *Repository) Count() (int, error) {
	var count int
	err := r.db.QueryRow("SELECT COUNT(*) FROM universe WHERE enabled = 1").Scan(&count)
	if err != nil {
		return 0, &domain.StoreError{Op: "universe.count", Err: err}
	}
	return count, nil
}

// scanner abstracts *sql.Row and *sql.Rows for scanEntry.
type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (*Entry, error) {
	var (
		entry                Entry
		enabled, isBenchmark int
		createdAt, updatedAt string
	)
	if err := row.Scan(&entry.Symbol, &enabled, &isBenchmark, &entry.Priority, &entry.Notes, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	entry.Enabled = enabled != 0
	entry.IsBenchmark = isBenchmark != 0
	entry.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	entry.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &entry, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
