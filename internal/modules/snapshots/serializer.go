package snapshots

import (
	"encoding/json"
	"fmt"
	"time"
)

// Rows are stored as a JSON sequence of records, one per date. Dates are
// written as ISO-8601 strings (null for rows whose source timestamp could
// not be parsed) so the stored form is stable across driver and platform
// differences. EncodeRows and DecodeRows are exact inverses.

type rowRecord struct {
	Date   *string  `json:"date"`
	Open   float64  `json:"open"`
	High   float64  `json:"high"`
	Low    float64  `json:"low"`
	Close  float64  `json:"close"`
	Volume int64    `json:"volume"`
	IVRank *float64 `json:"iv_rank,omitempty"`
}

// MarshalJSON writes the row with its date as an ISO-8601 string.
func (r Row) MarshalJSON() ([]byte, error) {
	rec := rowRecord{
		Open:   r.Open,
		High:   r.High,
		Low:    r.Low,
		Close:  r.Close,
		Volume: r.Volume,
		IVRank: r.IVRank,
	}
	if r.Date != nil {
		s := r.Date.UTC().Format(time.RFC3339)
		rec.Date = &s
	}
	return json.Marshal(rec)
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (r *Row) UnmarshalJSON(data []byte) error {
	var rec rowRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return err
	}
	*r = Row{
		Open:   rec.Open,
		High:   rec.High,
		Low:    rec.Low,
		Close:  rec.Close,
		Volume: rec.Volume,
		IVRank: rec.IVRank,
	}
	if rec.Date != nil {
		parsed, err := time.Parse(time.RFC3339, *rec.Date)
		if err != nil {
			return fmt.Errorf("row date %q: %w", *rec.Date, err)
		}
		utc := parsed.UTC()
		r.Date = &utc
	}
	return nil
}

// EncodeRows serializes a symbol's rows for storage.
func EncodeRows(rows []Row) (string, error) {
	if len(rows) == 0 {
		return "[]", nil
	}
	data, err := json.Marshal(rows)
	if err != nil {
		return "", fmt.Errorf("encode rows: %w", err)
	}
	return string(data), nil
}

// DecodeRows deserializes a stored row sequence.
func DecodeRows(data string) ([]Row, error) {
	if data == "" || data == "[]" {
		return nil, nil
	}
	var rows []Row
	if err := json.Unmarshal([]byte(data), &rows); err != nil {
		return nil, fmt.Errorf("decode rows: %w", err)
	}
	return rows, nil
}

// LatestRow returns the newest dated row. A dated row always beats an
// undated one; among undated rows the last in input order wins.
func LatestRow(rows []Row) (Row, bool) {
	if len(rows) == 0 {
		return Row{}, false
	}
	best := rows[0]
	for _, row := range rows[1:] {
		if best.Date == nil {
			best = row
			continue
		}
		if row.Date != nil && row.Date.After(*best.Date) {
			best = row
		}
	}
	return best, true
}
