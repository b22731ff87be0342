// Package universe manages the curated set of symbols the system evaluates.
package universe

import "time"

// Entry is one row of the universe table. Symbols are stored in canonical
// form (normalized on write); reads trust the stored form.
type Entry struct {
	Symbol      string    `json:"symbol"`
	Enabled     bool      `json:"enabled"`
	IsBenchmark bool      `json:"is_benchmark"`
	Priority    int       `json:"priority"` // 1 (highest) .. 5 (lowest), default 3
	Notes       string    `json:"notes,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// DefaultPriority is assigned when an entry is created without an explicit
// priority (self-healing upserts, fixture rows that omit the field).
const DefaultPriority = 3

// FixtureEntry is one row of the development fixture universe file.
// Enabled is a pointer so an omitted field defaults to true.
type FixtureEntry struct {
	Symbol   string `yaml:"symbol"`
	Enabled  *bool  `yaml:"enabled"`
	Priority int    `yaml:"priority"`
	Notes    string `yaml:"notes"`
}
