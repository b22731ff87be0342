package universe

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/swap2you/chakraops-sub000/internal/domain"
)

// Service wraps the repository with the symbol-list policy: the effective
// universe is every enabled symbol plus the configured benchmarks, appended
// and deduplicated, so regime computation always has its inputs even when an
// operator disables the benchmark rows.
type Service struct {
	repo       *Repository
	benchmarks []string
	log        zerolog.Logger
}

// NewService creates a universe service. benchmarks is taken from config
// (BENCHMARK_SYMBOLS) and normalized once here.
func NewService(repo *Repository, benchmarks []string, log zerolog.Logger) *Service {
	return &Service{
		repo:       repo,
		benchmarks: domain.NormalizeSymbols(benchmarks),
		log:        log.With().Str("component", "universe").Logger(),
	}
}

// Bootstrap makes sure the configured benchmark symbols exist in the table.
// Called once at startup; idempotent.
func (s *Service) Bootstrap() error {
	return s.repo.EnsureBenchmarks(s.benchmarks)
}

// Benchmarks returns the configured benchmark symbols.
func (s *Service) Benchmarks() []string {
	out := make([]string, len(s.benchmarks))
	copy(out, s.benchmarks)
	return out
}

// EnabledSymbols returns the enabled universe symbols in priority order,
// without the benchmark append.
func (s *Service) EnabledSymbols() ([]string, error) {
	entries, err := s.repo.ListEnabled()
	if err != nil {
		return nil, err
	}
	symbols := make([]string, 0, len(entries))
	for _, e := range entries {
		symbols = append(symbols, e.Symbol)
	}
	return symbols, nil
}

// EffectiveSymbols returns the enabled universe with the benchmarks appended
// and deduplicated. This is the list snapshot builds and evaluations run on.
func (s *Service) EffectiveSymbols() ([]string, error) {
	enabled, err := s.EnabledSymbols()
	if err != nil {
		return nil, err
	}
	return domain.NormalizeSymbols(append(enabled, s.benchmarks...)), nil
}

// PriorityFor returns the stored priority for a symbol, falling back to the
// default when the symbol is unknown.
func (s *Service) PriorityFor(symbol string) int {
	entry, err := s.repo.GetBySymbol(symbol)
	if err != nil || entry == nil {
		return DefaultPriority
	}
	return entry.Priority
}

// List returns all entries.
func (s *Service) List() ([]Entry, error) {
	return s.repo.ListAll()
}

// Get returns one entry or nil.
func (s *Service) Get(symbol string) (*Entry, error) {
	return s.repo.GetBySymbol(symbol)
}

// Add upserts an operator-provided entry.
func (s *Service) Add(entry Entry) error {
	if err := s.repo.Upsert(entry); err != nil {
		return err
	}
	s.log.Info().Str("symbol", entry.Symbol).Bool("enabled", entry.Enabled).Msg("Universe entry upserted")
	return nil
}

// SetEnabled toggles a symbol; returns false when the symbol is unknown.
func (s *Service) SetEnabled(symbol string, enabled bool) (bool, error) {
	return s.repo.SetEnabled(symbol, enabled)
}

// Remove deletes a non-benchmark symbol; returns false when nothing matched.
func (s *Service) Remove(symbol string) (bool, error) {
	return s.repo.Remove(symbol)
}

// SelfHeal upserts source symbols as enabled entries. The snapshot builder
// calls this when the universe-source intersection comes up empty on a CSV
// build, so a fresh deployment heals itself from its own data file.
func (s *Service) SelfHeal(symbols []string) (int, error) {
	count, err := s.repo.UpsertSymbols(symbols, "self-healed from snapshot source")
	if err != nil {
		return 0, err
	}
	if count > 0 {
		s.log.Warn().Int("count", count).Msg("Universe self-healed from snapshot source")
	}
	return count, nil
}

// LoadFixture reads a YAML fixture file and upserts its entries. Only wired
// when dev mode is on; config validation rejects the combination otherwise.
func (s *Service) LoadFixture(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, &domain.ConfigError{Key: "FIXTURE_UNIVERSE", Reason: fmt.Sprintf("read %s: %v", path, err)}
	}

	var fixtures []FixtureEntry
	if err := yaml.Unmarshal(data, &fixtures); err != nil {
		return 0, &domain.ConfigError{Key: "FIXTURE_UNIVERSE", Reason: fmt.Sprintf("parse %s: %v", path, err)}
	}

	count := 0
	for _, f := range fixtures {
		norm, ok := domain.NormalizeSymbol(f.Symbol)
		if !ok {
			s.log.Warn().Str("symbol", f.Symbol).Msg("Skipping fixture entry with invalid symbol")
			continue
		}
		enabled := true
		if f.Enabled != nil {
			enabled = *f.Enabled
		}
		priority := f.Priority
		if priority == 0 {
			priority = DefaultPriority
		}
		err := s.repo.Upsert(Entry{
			Symbol:   norm,
			Enabled:  enabled,
			Priority: priority,
			Notes:    f.Notes,
		})
		if err != nil {
			return count, err
		}
		count++
	}

	s.log.Info().Int("count", count).Str("path", path).Msg("Loaded fixture universe")
	return count, nil
}
