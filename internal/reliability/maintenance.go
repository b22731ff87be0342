package reliability

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/swap2you/chakraops-sub000/internal/database"
)

// Maintenance runs the periodic hygiene tasks over the process databases:
// WAL checkpoints to keep the log bounded, VACUUM to reclaim space, and an
// integrity check that surfaces corruption early.
type Maintenance struct {
	databases map[string]*database.DB
	log       zerolog.Logger
}

// NewMaintenance creates the maintenance runner over named databases.
func NewMaintenance(databases map[string]*database.DB, log zerolog.Logger) *Maintenance {
	return &Maintenance{
		databases: databases,
		log:       log.With().Str("component", "maintenance").Logger(),
	}
}

// CheckpointAll truncates the WAL on every database. Failures are collected,
// not short-circuited; one bad database must not starve the others.
func (m *Maintenance) CheckpointAll() error {
	var errs []error
	for name, db := range m.databases {
		if err := db.WALCheckpoint("TRUNCATE"); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}
		m.log.Debug().Str("db", name).Msg("WAL checkpoint complete")
	}
	return errors.Join(errs...)
}

// VacuumAll reclaims space on every database. Expensive; callers schedule it
// off-hours.
func (m *Maintenance) VacuumAll() error {
	var errs []error
	for name, db := range m.databases {
		if err := db.Vacuum(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}
		m.log.Info().Str("db", name).Msg("Vacuum complete")
	}
	return errors.Join(errs...)
}

// IntegrityCheck runs the full health check on every database.
func (m *Maintenance) IntegrityCheck(ctx context.Context) error {
	var errs []error
	for name, db := range m.databases {
		if err := db.HealthCheck(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// LogStats emits size and page statistics per database.
func (m *Maintenance) LogStats() {
	for name, db := range m.databases {
		stats, err := db.GetStats()
		if err != nil {
			m.log.Warn().Err(err).Str("db", name).Msg("Cannot read database stats")
			continue
		}
		m.log.Info().
			Str("db", name).
			Int64("size_bytes", stats.SizeBytes).
			Int64("wal_bytes", stats.WALSizeBytes).
			Int64("free_pages", stats.FreelistCount).
			Msg("Database stats")
	}
}
