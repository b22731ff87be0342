package positions

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/swap2you/chakraops-sub000/internal/domain"
)

// Service validates lifecycle transitions over the repository.
type Service struct {
	repo *Repository
	log  zerolog.Logger
	now  func() time.Time
}

// NewService creates the positions service.
func NewService(repo *Repository, log zerolog.Logger) *Service {
	return &Service{
		repo: repo,
		log:  log.With().Str("component", "positions").Logger(),
		now:  time.Now,
	}
}

// WithClock overrides the service clock for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Open records a new paper position. Symbol is normalized; strategy defaults
// to CSP and quantity to one contract.
func (s *Service) Open(p Position) (*Position, error) {
	norm, ok := domain.NormalizeSymbol(p.Symbol)
	if !ok {
		return nil, &domain.ConfigError{Key: "symbol", Reason: "symbol is required"}
	}
	p.Symbol = norm

	if p.Strategy == "" {
		p.Strategy = domain.StrategyCSP
	}
	if p.Strategy != domain.StrategyCSP && p.Strategy != domain.StrategyCC {
		return nil, &domain.ConfigError{Key: "strategy", Reason: fmt.Sprintf("unknown strategy %q", p.Strategy)}
	}
	if p.Quantity <= 0 {
		p.Quantity = 1
	}
	if p.Credit < 0 {
		return nil, &domain.ConfigError{Key: "credit", Reason: "credit cannot be negative"}
	}

	p.ID = uuid.NewString()
	p.Status = StatusOpen
	p.ClosedAt = nil
	if p.OpenedAt.IsZero() {
		p.OpenedAt = s.now().UTC()
	}

	if err := s.repo.Insert(&p); err != nil {
		return nil, err
	}
	s.log.Info().Str("id", p.ID).Str("symbol", p.Symbol).Str("strategy", string(p.Strategy)).Msg("Position opened")
	return &p, nil
}

// Close transitions a position to CLOSED. Returns nil when the id is unknown;
// closing an already-closed position is a LifecycleError.
func (s *Service) Close(id string) (*Position, error) {
	p, err := s.repo.Get(id)
	if err != nil || p == nil {
		return nil, err
	}
	if p.Status == StatusClosed {
		return nil, &domain.LifecycleError{Entity: "position", From: StatusClosed, To: StatusClosed}
	}

	at := s.now().UTC()
	if _, err := s.repo.MarkClosed(id, at); err != nil {
		return nil, err
	}
	p.Status = StatusClosed
	p.ClosedAt = &at
	s.log.Info().Str("id", id).Str("symbol", p.Symbol).Msg("Position closed")
	return p, nil
}

// Get returns one position, or nil when the id is unknown.
func (s *Service) Get(id string) (*Position, error) { return s.repo.Get(id) }

// List returns positions filtered by status (empty means all).
func (s *Service) List(status string) ([]Position, error) { return s.repo.List(status) }

// Delete removes a position entirely. Returns false when the id is unknown.
func (s *Service) Delete(id string) (bool, error) { return s.repo.Delete(id) }

// OpenSymbols returns the symbols the operator currently holds. The
// evaluation engine flags these in its per-symbol diagnostics.
func (s *Service) OpenSymbols() (map[string]bool, error) { return s.repo.OpenSymbols() }
