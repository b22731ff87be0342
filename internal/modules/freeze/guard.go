// Package freeze implements the write gate around the canonical decision and
// the end-of-day freeze ritual: outside market hours the decision file is
// locked against overwrites, an EOD run stamps a frozen copy plus a dated
// archive with a manifest, and a config-hash guard makes parameter drift
// between LIVE runs auditable.
package freeze

import (
	"github.com/rs/zerolog"

	"github.com/swap2you/chakraops-sub000/internal/domain"
)

// Guard enforces the decision write gate.
type Guard struct {
	log zerolog.Logger
}

// NewGuard creates a write guard.
func NewGuard(log zerolog.Logger) *Guard {
	return &Guard{log: log.With().Str("component", "freeze_guard").Logger()}
}

// CheckWrite permits or refuses an overwrite of the canonical decision.
// Writes outside the OPEN phase require force; a forced bypass is logged for
// audit and allowed.
func (g *Guard) CheckWrite(phase domain.Phase, force bool, operation string) error {
	if phase == domain.PhaseOpen {
		return nil
	}
	if force {
		g.log.Warn().
			Str("operation", operation).
			Str("phase", string(phase)).
			Msg("Forced decision write outside market hours")
		return nil
	}
	return &domain.FreezeViolation{Phase: phase, Operation: operation}
}
