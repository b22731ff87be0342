// Package snapshots materializes frozen, per-symbol views of the market
// from external inputs. Exactly one snapshot is frozen at any time; builds
// are atomic and never leave a partial snapshot visible.
package snapshots

import "time"

// BuildMode selects the data source for a snapshot build.
type BuildMode string

const (
	// ModeCSV reads the configured input file. Missing file is a config error.
	ModeCSV BuildMode = "CSV"
	// ModeCache copies the latest existing snapshot forward.
	ModeCache BuildMode = "CACHE"
	// ModeAuto prefers CSV and falls through to CACHE when the file is absent.
	ModeAuto BuildMode = "AUTO"
)

// Snapshot is the metadata row for one build.
type Snapshot struct {
	ID              string    `json:"snapshot_id"`
	Timestamp       time.Time `json:"snapshot_timestamp"` // zoned to the exchange's local timezone
	Source          string    `json:"source"`             // CSV or CACHE
	SymbolCount     int       `json:"symbol_count"`
	SymbolsWithData int       `json:"symbols_with_data"`
	DataAgeMinutes  float64   `json:"data_age_minutes"`
	IsFrozen        bool      `json:"is_frozen"`
	CreatedAt       time.Time `json:"created_at"`
}

// Row is one dated record for a symbol. Date is nil when the source carried
// an unparseable timestamp; the row itself is still kept.
type Row struct {
	Date   *time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume int64
	IVRank *float64
}

// SymbolData pairs a symbol with its rows and the has-data flag. Symbols
// without source data are present with HasData=false, never dropped.
type SymbolData struct {
	Symbol  string `json:"symbol"`
	HasData bool   `json:"has_data"`
	Rows    []Row  `json:"rows"`
}

// PriceView is the last-row reduction served by GetPrices.
type PriceView struct {
	Price  float64  `json:"price"`
	Volume int64    `json:"volume"`
	IVRank *float64 `json:"iv_rank,omitempty"`
}

// SourceRow is one parsed input record before it is grouped by symbol.
type SourceRow struct {
	Symbol string
	Row    Row
}

// BuildResult is what Build returns: the new metadata plus counters the
// caller logs and surfaces through the API.
type BuildResult struct {
	Snapshot    Snapshot `json:"snapshot"`
	RowCount    int      `json:"row_count"`
	SelfHealed  int      `json:"self_healed,omitempty"`
	SourceHint  string   `json:"source_hint,omitempty"` // e.g. resolved path for CSV builds
	Warnings    []string `json:"warnings,omitempty"`
	Truncated   bool     `json:"truncated,omitempty"`
	ElapsedMsec int64    `json:"elapsed_ms"`
}
