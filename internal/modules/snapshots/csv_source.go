package snapshots

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/swap2you/chakraops-sub000/internal/domain"
)

// CSVSource parses the snapshot input file. Header matching is
// case-insensitive; `symbol` plus at least one of `price`/`close` are
// required. Optional columns: timestamp/date, open, high, low, volume,
// iv_rank.
type CSVSource struct {
	path string
	log  zerolog.Logger
}

// NewCSVSource creates a CSV source for the given path.
func NewCSVSource(path string, log zerolog.Logger) *CSVSource {
	return &CSVSource{
		path: path,
		log:  log.With().Str("component", "csv_source").Logger(),
	}
}

// Path returns the configured input path.
func (s *CSVSource) Path() string { return s.path }

// Exists reports whether the input file is present.
func (s *CSVSource) Exists() bool {
	info, err := os.Stat(s.path)
	return err == nil && !info.IsDir()
}

// Load reads and parses the file. Returned warnings describe rows that were
// accepted with degraded data (null date, skipped blank symbol).
func (s *CSVSource) Load() ([]SourceRow, []string, error) {
	file, err := os.Open(s.path)
	if err != nil {
		return nil, nil, &domain.SnapshotSourceError{
			Source: "CSV", Path: s.path, Reason: "open failed", Err: err,
		}
	}
	defer file.Close()

	return s.parse(file)
}

func (s *CSVSource) parse(r io.Reader) ([]SourceRow, []string, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, nil, &domain.SnapshotSourceError{
			Source: "CSV", Path: s.path, Reason: "file is empty",
		}
	}
	if err != nil {
		return nil, nil, &domain.SnapshotSourceError{
			Source: "CSV", Path: s.path, Reason: "header read failed", Err: err,
		}
	}

	cols := mapColumns(header)
	symbolIdx, hasSymbol := cols["symbol"]
	priceIdx, hasPrice := cols["price"]
	closeIdx, hasClose := cols["close"]
	if !hasSymbol {
		return nil, nil, &domain.SnapshotSourceError{
			Source: "CSV", Path: s.path, Reason: "missing required column: symbol",
		}
	}
	if !hasPrice && !hasClose {
		return nil, nil, &domain.SnapshotSourceError{
			Source: "CSV", Path: s.path, Reason: "missing required column: price or close",
		}
	}

	var (
		rows     []SourceRow
		warnings []string
	)
	line := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, nil, &domain.SnapshotSourceError{
				Source: "CSV", Path: s.path,
				Reason: fmt.Sprintf("row %d: malformed record", line), Err: err,
			}
		}

		symbol, ok := domain.NormalizeSymbol(field(record, symbolIdx))
		if !ok {
			warning := fmt.Sprintf("row %d: blank symbol, row skipped", line)
			s.log.Warn().Str("path", s.path).Msg(warning)
			warnings = append(warnings, warning)
			continue
		}

		// Resolve close: prefer the close column, fall back to price.
		closeVal, closeSet, err := parseOptionalFloat(record, closeIdx, hasClose)
		if err != nil {
			return nil, nil, s.rowError(line, "close", err)
		}
		if !closeSet {
			closeVal, closeSet, err = parseOptionalFloat(record, priceIdx, hasPrice)
			if err != nil {
				return nil, nil, s.rowError(line, "price", err)
			}
		}
		if !closeSet {
			return nil, nil, &domain.SnapshotSourceError{
				Source: "CSV", Path: s.path,
				Reason: fmt.Sprintf("row %d (%s): no price or close value", line, symbol),
			}
		}

		row := Row{Close: closeVal}

		if row.Open, err = floatOrDefault(record, cols, "open", closeVal); err != nil {
			return nil, nil, s.rowError(line, "open", err)
		}
		if row.High, err = floatOrDefault(record, cols, "high", closeVal); err != nil {
			return nil, nil, s.rowError(line, "high", err)
		}
		if row.Low, err = floatOrDefault(record, cols, "low", closeVal); err != nil {
			return nil, nil, s.rowError(line, "low", err)
		}

		if idx, ok := cols["volume"]; ok {
			vol, set, err := parseOptionalFloat(record, idx, true)
			if err != nil {
				return nil, nil, s.rowError(line, "volume", err)
			}
			if set {
				row.Volume = int64(vol)
			}
		}

		if idx, ok := cols["iv_rank"]; ok {
			iv, set, err := parseOptionalFloat(record, idx, true)
			if err != nil {
				return nil, nil, s.rowError(line, "iv_rank", err)
			}
			if set {
				row.IVRank = &iv
			}
		}

		if idx, ok := cols["timestamp"]; ok {
			raw := field(record, idx)
			if raw != "" {
				parsed, perr := ParseTimestamp(raw)
				if perr != nil {
					warning := fmt.Sprintf("row %d (%s): unparseable timestamp %q, date set to null", line, symbol, raw)
					s.log.Warn().Str("path", s.path).Msg(warning)
					warnings = append(warnings, warning)
				} else {
					row.Date = &parsed
				}
			}
		}

		rows = append(rows, SourceRow{Symbol: symbol, Row: row})
	}

	if len(rows) == 0 {
		return nil, nil, &domain.SnapshotSourceError{
			Source: "CSV", Path: s.path, Reason: "no data rows",
		}
	}
	return rows, warnings, nil
}

func (s *CSVSource) rowError(line int, column string, err error) error {
	return &domain.SnapshotSourceError{
		Source: "CSV", Path: s.path,
		Reason: fmt.Sprintf("row %d, column %s: invalid value", line, column), Err: err,
	}
}

// mapColumns builds a normalized header → index map. Later duplicates of a
// header are ignored.
func mapColumns(header []string) map[string]int {
	cols := make(map[string]int, len(header))
	for i, name := range header {
		norm := normalizeColumnName(name)
		if _, exists := cols[norm]; !exists {
			cols[norm] = i
		}
	}
	return cols
}

func normalizeColumnName(name string) string {
	norm := strings.ToLower(strings.TrimSpace(name))
	switch norm {
	case "date", "datetime", "time", "ts":
		return "timestamp"
	case "ticker":
		return "symbol"
	case "ivrank", "iv rank":
		return "iv_rank"
	default:
		return norm
	}
}

func field(record []string, idx int) string {
	if idx < 0 || idx >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[idx])
}

// parseOptionalFloat returns (value, true, nil) when the cell holds a valid
// number, (0, false, nil) when the column is absent or the cell is empty.
func parseOptionalFloat(record []string, idx int, present bool) (float64, bool, error) {
	if !present {
		return 0, false, nil
	}
	raw := field(record, idx)
	if raw == "" {
		return 0, false, nil
	}
	val, err := strconv.ParseFloat(strings.ReplaceAll(raw, ",", ""), 64)
	if err != nil {
		return 0, false, err
	}
	return val, true, nil
}

func floatOrDefault(record []string, cols map[string]int, name string, fallback float64) (float64, error) {
	idx, ok := cols[name]
	if !ok {
		return fallback, nil
	}
	val, set, err := parseOptionalFloat(record, idx, true)
	if err != nil {
		return 0, err
	}
	if !set {
		return fallback, nil
	}
	return val, nil
}

// ParseTimestamp accepts ISO-8601 with or without timezone offset (naive
// values are read as UTC) and integer epoch timestamps. Epoch magnitude
// selects the unit: seconds, milliseconds, microseconds, or nanoseconds.
func ParseTimestamp(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}

	if epoch, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return epochToTime(epoch), nil
	}

	layouts := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
		"2006-01-02",
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", raw)
}

func epochToTime(epoch int64) time.Time {
	abs := epoch
	if abs < 0 {
		abs = -abs
	}
	switch {
	case abs < 1e11: // seconds
		return time.Unix(epoch, 0).UTC()
	case abs < 1e14: // milliseconds
		return time.UnixMilli(epoch).UTC()
	case abs < 1e17: // microseconds
		return time.UnixMicro(epoch).UTC()
	default: // nanoseconds
		return time.Unix(0, epoch).UTC()
	}
}
