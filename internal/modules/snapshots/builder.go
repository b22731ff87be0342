package snapshots

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/swap2you/chakraops-sub000/internal/domain"
	"github.com/swap2you/chakraops-sub000/internal/events"
	"github.com/swap2you/chakraops-sub000/internal/modules/universe"
)

// Builder materializes a new frozen snapshot from the configured source. The
// build is atomic: either a complete snapshot becomes the frozen one or the
// previous snapshot stays authoritative.
type Builder struct {
	repo     *Repository
	source   *CSVSource
	universe *universe.Service
	loc      *time.Location
	bus      *events.Bus
	truncate bool
	log      zerolog.Logger
	now      func() time.Time
}

// NewBuilder creates a snapshot builder. loc is the exchange timezone the
// snapshot timestamp is zoned to; truncate enables the development-only
// delete-before-rebuild and must stay false in production.
func NewBuilder(repo *Repository, source *CSVSource, uni *universe.Service, loc *time.Location, bus *events.Bus, truncate bool, log zerolog.Logger) *Builder {
	return &Builder{
		repo:     repo,
		source:   source,
		universe: uni,
		loc:      loc,
		bus:      bus,
		truncate: truncate,
		log:      log.With().Str("component", "snapshot_builder").Logger(),
		now:      time.Now,
	}
}

// WithClock overrides the builder clock for tests.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// Build runs one snapshot build in the given mode. AUTO prefers the CSV file
// and falls through to CACHE when it is absent; an explicit CSV request with
// no file present is an error.
func (b *Builder) Build(mode BuildMode) (*BuildResult, error) {
	start := b.now()

	symbols, err := b.universe.EffectiveSymbols()
	if err != nil {
		return nil, &domain.SnapshotBuildError{Op: "resolve universe", Err: err}
	}

	source, rowsBySymbol, warnings, err := b.loadSource(mode)
	if err != nil {
		return nil, err
	}

	// Self-heal: a CSV whose symbols share nothing with the universe would
	// produce a snapshot of placeholders. Adopt the source symbols instead.
	healed := 0
	if source == string(ModeCSV) && countIntersection(symbols, rowsBySymbol) == 0 {
		sourceSymbols := make([]string, 0, len(rowsBySymbol))
		for sym := range rowsBySymbol {
			sourceSymbols = append(sourceSymbols, sym)
		}
		sort.Strings(sourceSymbols)

		if healed, err = b.universe.SelfHeal(sourceSymbols); err != nil {
			return nil, &domain.SnapshotBuildError{Op: "self-heal universe", Err: err}
		}
		if symbols, err = b.universe.EffectiveSymbols(); err != nil {
			return nil, &domain.SnapshotBuildError{Op: "resolve universe", Err: err}
		}
	}

	data := make([]SymbolData, 0, len(symbols))
	withData := 0
	rowCount := 0
	var newest *time.Time
	for _, sym := range symbols {
		rows := rowsBySymbol[sym]
		sortRowsByDate(rows)
		sd := SymbolData{Symbol: sym, HasData: len(rows) > 0, Rows: rows}
		if sd.HasData {
			withData++
			rowCount += len(rows)
			for _, row := range rows {
				if row.Date != nil && (newest == nil || row.Date.After(*newest)) {
					newest = row.Date
				}
			}
		}
		data = append(data, sd)
	}

	now := b.now()
	age := 0.0
	if newest != nil {
		age = now.Sub(*newest).Minutes()
		if age < 0 {
			age = 0
		}
	}

	snap := Snapshot{
		ID:              uuid.New().String(),
		Timestamp:       now.In(b.loc),
		Source:          source,
		SymbolCount:     len(symbols),
		SymbolsWithData: withData,
		DataAgeMinutes:  age,
		IsFrozen:        true,
		CreatedAt:       now,
	}

	if err := b.repo.Insert(snap, data, b.truncate); err != nil {
		return nil, err
	}

	b.log.Info().
		Str("snapshot_id", snap.ID).
		Str("source", source).
		Int("symbols", snap.SymbolCount).
		Int("with_data", snap.SymbolsWithData).
		Float64("data_age_min", snap.DataAgeMinutes).
		Int("self_healed", healed).
		Msg("Snapshot built and frozen")

	if b.bus != nil {
		b.bus.Publish(&events.SnapshotBuiltData{
			SnapshotID:      snap.ID,
			Source:          source,
			SymbolCount:     snap.SymbolCount,
			SymbolsWithData: snap.SymbolsWithData,
			Timestamp:       snap.Timestamp,
		})
	}

	return &BuildResult{
		Snapshot:    snap,
		RowCount:    rowCount,
		SelfHealed:  healed,
		SourceHint:  b.sourceHint(source),
		Warnings:    warnings,
		Truncated:   b.truncate,
		ElapsedMsec: b.now().Sub(start).Milliseconds(),
	}, nil
}

// loadSource resolves the build mode to a concrete source and loads its rows
// grouped by symbol.
func (b *Builder) loadSource(mode BuildMode) (string, map[string][]Row, []string, error) {
	switch mode {
	case ModeCSV:
		if !b.source.Exists() {
			return "", nil, nil, &domain.SnapshotSourceError{
				Source: "CSV", Path: b.source.Path(), Reason: "input file not found",
			}
		}
		return b.loadCSV()
	case ModeAuto:
		if b.source.Exists() {
			return b.loadCSV()
		}
		b.log.Info().Str("path", b.source.Path()).Msg("CSV file absent; falling through to CACHE")
		return b.loadCache()
	case ModeCache:
		return b.loadCache()
	default:
		return "", nil, nil, &domain.SnapshotSourceError{
			Source: string(mode), Reason: "unknown build mode",
		}
	}
}

func (b *Builder) loadCSV() (string, map[string][]Row, []string, error) {
	sourceRows, warnings, err := b.source.Load()
	if err != nil {
		return "", nil, nil, err
	}
	grouped := make(map[string][]Row, len(sourceRows))
	for _, sr := range sourceRows {
		grouped[sr.Symbol] = append(grouped[sr.Symbol], sr.Row)
	}
	return string(ModeCSV), grouped, warnings, nil
}

// loadCache copies the latest snapshot's rows forward. Placeholder symbols
// are dropped here; symbols absent from the copied data simply come back as
// placeholders against the current universe.
func (b *Builder) loadCache() (string, map[string][]Row, []string, error) {
	latestID, err := b.repo.GetLatestID()
	if err != nil {
		return "", nil, nil, err
	}
	if latestID == "" {
		return "", nil, nil, &domain.SnapshotSourceError{
			Source: "CACHE", Reason: "no existing snapshot to copy forward",
		}
	}

	prior, err := b.repo.LoadSymbolData(latestID)
	if err != nil {
		return "", nil, nil, err
	}
	grouped := make(map[string][]Row, len(prior))
	for _, sd := range prior {
		if sd.HasData {
			grouped[sd.Symbol] = sd.Rows
		}
	}
	return string(ModeCache), grouped, nil, nil
}

func (b *Builder) sourceHint(source string) string {
	if source == string(ModeCSV) {
		return b.source.Path()
	}
	return ""
}

// sortRowsByDate orders rows oldest first so downstream indicator windows
// read them in series order. Undated rows sort before dated ones.
func sortRowsByDate(rows []Row) {
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].Date == nil {
			return rows[j].Date != nil
		}
		if rows[j].Date == nil {
			return false
		}
		return rows[i].Date.Before(*rows[j].Date)
	})
}

func countIntersection(symbols []string, rowsBySymbol map[string][]Row) int {
	n := 0
	for _, sym := range symbols {
		if _, ok := rowsBySymbol[sym]; ok {
			n++
		}
	}
	return n
}
