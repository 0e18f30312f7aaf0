package storage

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// UsageRecord tracks the requests a client made in its current window.
type UsageRecord struct {
	Count     int       `json:"count"`
	ResetTime time.Time `json:"reset_time"`
}

// Expired reports whether the record's window has closed at now.
func (r UsageRecord) Expired(now time.Time) bool {
	return now.After(r.ResetTime)
}

type usageRecordJSON struct {
	Count     int     `json:"count"`
	ResetTime float64 `json:"reset_time"`
}

// MarshalJSON encodes reset_time as fractional Unix seconds so the file
// format stays readable by existing usage_db.json consumers.
func (r UsageRecord) MarshalJSON() ([]byte, error) {
	return json.Marshal(usageRecordJSON{
		Count:     r.Count,
		ResetTime: float64(r.ResetTime.UnixMicro()) / 1e6,
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (r *UsageRecord) UnmarshalJSON(data []byte) error {
	var raw usageRecordJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.Count < 0 {
		return fmt.Errorf("invalid usage count: %d", raw.Count)
	}
	if math.IsNaN(raw.ResetTime) || math.IsInf(raw.ResetTime, 0) {
		return fmt.Errorf("invalid reset_time: %v", raw.ResetTime)
	}

	r.Count = raw.Count
	r.ResetTime = time.UnixMicro(int64(math.Round(raw.ResetTime * 1e6)))
	return nil
}

// CloneRecords returns a shallow copy of a record mapping.
func CloneRecords(records map[string]UsageRecord) map[string]UsageRecord {
	out := make(map[string]UsageRecord, len(records))
	for id, rec := range records {
		out[id] = rec
	}
	return out
}
