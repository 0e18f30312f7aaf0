package storage

import (
	"encoding/json"
	"testing"
	"time"
)

func TestUsageRecordJSON(t *testing.T) {
	reset := time.Date(2024, 3, 1, 12, 30, 15, 123456000, time.UTC)
	rec := UsageRecord{Count: 2, ResetTime: reset}

	data, err := json.Marshal(rec)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded UsageRecord
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if decoded.Count != 2 {
		t.Errorf("expected count 2, got %d", decoded.Count)
	}
	if !decoded.ResetTime.Equal(reset) {
		t.Errorf("expected reset %v, got %v", reset, decoded.ResetTime)
	}
}

func TestUsageRecordReadsEpochSeconds(t *testing.T) {
	var rec UsageRecord
	if err := json.Unmarshal([]byte(`{"count": 3, "reset_time": 1700000000.5}`), &rec); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	want := time.Unix(1700000000, 500000000)
	if rec.Count != 3 {
		t.Errorf("expected count 3, got %d", rec.Count)
	}
	if !rec.ResetTime.Equal(want) {
		t.Errorf("expected reset %v, got %v", want, rec.ResetTime)
	}
}

func TestUsageRecordRejectsNegativeCount(t *testing.T) {
	var rec UsageRecord
	if err := json.Unmarshal([]byte(`{"count": -1, "reset_time": 1}`), &rec); err == nil {
		t.Fatal("expected error for negative count")
	}
}

func TestUsageRecordExpired(t *testing.T) {
	reset := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	rec := UsageRecord{Count: 1, ResetTime: reset}

	if rec.Expired(reset) {
		t.Error("record should still be open at exactly reset_time")
	}
	if !rec.Expired(reset.Add(time.Nanosecond)) {
		t.Error("record should be expired after reset_time")
	}
}
