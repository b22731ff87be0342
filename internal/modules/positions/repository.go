// Package positions tracks manually entered paper positions. There is no
// broker integration and no P&L accounting; the open-symbol set exists so the
// evaluation diagnostics can flag symbols the operator already holds.
package positions

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/swap2you/chakraops-sub000/internal/domain"
)

// Position lifecycle states.
const (
	StatusOpen   = "OPEN"
	StatusClosed = "CLOSED"
)

const positionColumns = "id, symbol, strategy, contract_key, quantity, credit, status, opened_at, closed_at"

// Position is one paper trade.
type Position struct {
	ID          string          `json:"id"`
	Symbol      string          `json:"symbol"`
	Strategy    domain.Strategy `json:"strategy"`
	ContractKey string          `json:"contract_key,omitempty"`
	Quantity    int             `json:"quantity"`
	Credit      float64         `json:"credit"`
	Status      string          `json:"status"`
	OpenedAt    time.Time       `json:"opened_at"`
	ClosedAt    *time.Time      `json:"closed_at,omitempty"`
}

// Repository persists positions.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates the positions repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "positions").Logger(),
	}
}

// Insert persists one position as stored on the struct.
func (r *Repository) Insert(p *Position) error {
	var closedAt any
	if p.ClosedAt != nil {
		closedAt = p.ClosedAt.UTC().Format(time.RFC3339)
	}
	_, err := r.db.Exec(`
		INSERT INTO positions (id, symbol, strategy, contract_key, quantity, credit, status, opened_at, closed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Symbol, string(p.Strategy), p.ContractKey, p.Quantity, p.Credit,
		p.Status, p.OpenedAt.UTC().Format(time.RFC3339), closedAt)
	if err != nil {
		return &domain.StoreError{Op: "positions.insert", Err: err}
	}
	return nil
}

// Get returns a position by id, or nil when it does not exist.
func (r *Repository) Get(id string) (*Position, error) {
	row := r.db.QueryRow(
		fmt.Sprintf("SELECT %s FROM positions WHERE id = ?", positionColumns), id)
	p, err := scanPosition(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, &domain.StoreError{Op: "positions.get", Err: err}
	}
	return p, nil
}

// List returns positions newest-first, optionally filtered by status
// (empty means all).
func (r *Repository) List(status string) ([]Position, error) {
	query := fmt.Sprintf("SELECT %s FROM positions", positionColumns)
	args := []any{}
	if status != "" {
		query += " WHERE status = ?"
		args = append(args, status)
	}
	query += " ORDER BY opened_at DESC, id"

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, &domain.StoreError{Op: "positions.list", Err: err}
	}
	defer rows.Close()

	var out []Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, &domain.StoreError{Op: "positions.list", Err: err}
		}
		out = append(out, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, &domain.StoreError{Op: "positions.list", Err: err}
	}
	return out, nil
}

// MarkClosed transitions a position to CLOSED. Returns false when the id is
// unknown.
func (r *Repository) MarkClosed(id string, at time.Time) (bool, error) {
	res, err := r.db.Exec(
		"UPDATE positions SET status = ?, closed_at = ? WHERE id = ?",
		StatusClosed, at.UTC().Format(time.RFC3339), id)
	if err != nil {
		return false, &domain.StoreError{Op: "positions.close", Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, &domain.StoreError{Op: "positions.close", Err: err}
	}
	return n > 0, nil
}

// Delete removes a position. Returns false when the id is unknown.
func (r *Repository) Delete(id string) (bool, error) {
	res, err := r.db.Exec("DELETE FROM positions WHERE id = ?", id)
	if err != nil {
		return false, &domain.StoreError{Op: "positions.delete", Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, &domain.StoreError{Op: "positions.delete", Err: err}
	}
	return n > 0, nil
}

// OpenSymbols returns the set of symbols with at least one open position.
func (r *Repository) OpenSymbols() (map[string]bool, error) {
	rows, err := r.db.Query("SELECT DISTINCT symbol FROM positions WHERE status = ?", StatusOpen)
	if err != nil {
		return nil, &domain.StoreError{Op: "positions.open_symbols", Err: err}
	}
	defer rows.Close()

	out := make(map[string]bool)
	for rows.Next() {
		var symbol string
		if err := rows.Scan(&symbol); err != nil {
			return nil, &domain.StoreError{Op: "positions.open_symbols", Err: err}
		}
		out[symbol] = true
	}
	if err := rows.Err(); err != nil {
		return nil, &domain.StoreError{Op: "positions.open_symbols", Err: err}
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPosition(s scanner) (*Position, error) {
	var (
		p        Position
		strategy string
		openedAt string
		closedAt sql.NullString
	)
	if err := s.Scan(&p.ID, &p.Symbol, &strategy, &p.ContractKey, &p.Quantity,
		&p.Credit, &p.Status, &openedAt, &closedAt); err != nil {
		return nil, err
	}
	p.Strategy = domain.Strategy(strategy)

	t, err := time.Parse(time.RFC3339, openedAt)
	if err != nil {
		return nil, fmt.Errorf("opened_at %q: %w", openedAt, err)
	}
	p.OpenedAt = t

	if closedAt.Valid && closedAt.String != "" {
		t, err := time.Parse(time.RFC3339, closedAt.String)
		if err != nil {
			return nil, fmt.Errorf("closed_at %q: %w", closedAt.String, err)
		}
		p.ClosedAt = &t
	}
	return &p, nil
}
