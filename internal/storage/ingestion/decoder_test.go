package ingestion

import (
	"testing"
	"time"
)

func TestDecoder_Decode(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	d := NewDecoder(time.UTC, func() time.Time { return now })

	tests := []struct {
		name     string
		line     string
		wantID   string
		wantVal  float64
		wantUnit string
		wantTS   time.Time
	}{
		{
			name:     "storage timestamp",
			line:     `{"sensor_id":"T1","timestamp":"2024-03-01 10:00:00","value":21.5,"unit":"°C"}`,
			wantID:   "T1",
			wantVal:  21.5,
			wantUnit: "°C",
			wantTS:   time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
		},
		{
			name:    "storage timestamp with fraction",
			line:    `{"sensor_id":"T1","timestamp":"2024-03-01 10:00:00.25","value":1}`,
			wantID:  "T1",
			wantVal: 1,
			wantTS:  time.Date(2024, 3, 1, 10, 0, 0, 250000000, time.UTC),
		},
		{
			name:    "iso without zone",
			line:    `{"sensor_id":"T1","timestamp":"2024-03-01T10:00:00.123456","value":1}`,
			wantID:  "T1",
			wantVal: 1,
			wantTS:  time.Date(2024, 3, 1, 10, 0, 0, 123456000, time.UTC),
		},
		{
			name:    "rfc3339 with offset",
			line:    `{"sensor_id":"T1","timestamp":"2024-03-01T11:00:00+01:00","value":1}`,
			wantID:  "T1",
			wantVal: 1,
			wantTS:  time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
		},
		{
			name:    "unix seconds",
			line:    `{"sensor_id":"T1","timestamp":1709287200.5,"value":1}`,
			wantID:  "T1",
			wantVal: 1,
			wantTS:  time.Date(2024, 3, 1, 10, 0, 0, 500000000, time.UTC),
		},
		{
			name:    "missing timestamp uses now",
			line:    `{"source_id":"P1","value":"1013.25"}`,
			wantID:  "P1",
			wantVal: 1013.25,
			wantTS:  now,
		},
		{
			name:    "null timestamp uses now",
			line:    `{"sensor_id":"P1","timestamp":null,"value":-3}`,
			wantID:  "P1",
			wantVal: -3,
			wantTS:  now,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := d.Decode([]byte(tt.line))
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if r.SourceID != tt.wantID {
				t.Errorf("expected source %q, got %q", tt.wantID, r.SourceID)
			}
			if r.Value != tt.wantVal {
				t.Errorf("expected value %v, got %v", tt.wantVal, r.Value)
			}
			if r.Unit != tt.wantUnit {
				t.Errorf("expected unit %q, got %q", tt.wantUnit, r.Unit)
			}
			if !r.Timestamp.Equal(tt.wantTS) {
				t.Errorf("expected timestamp %v, got %v", tt.wantTS, r.Timestamp)
			}
		})
	}
}

func TestDecoder_Invalid(t *testing.T) {
	d := NewDecoder(time.UTC, nil)

	tests := []struct {
		name string
		line string
	}{
		{"not json", `temperature=21`},
		{"not an object", `42`},
		{"missing id", `{"value":1}`},
		{"empty id", `{"sensor_id":"","value":1}`},
		{"id with newline", `{"sensor_id":"T1\nT2","value":1}`},
		{"unit too long", `{"sensor_id":"T1","value":1,"unit":"aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"}`},
		{"missing value", `{"sensor_id":"T1"}`},
		{"bool value", `{"sensor_id":"T1","value":true}`},
		{"non numeric value", `{"sensor_id":"T1","value":"warm"}`},
		{"nan value", `{"sensor_id":"T1","value":"NaN"}`},
		{"bad timestamp", `{"sensor_id":"T1","value":1,"timestamp":"yesterday"}`},
		{"object timestamp", `{"sensor_id":"T1","value":1,"timestamp":{}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := d.Decode([]byte(tt.line)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestDecoder_DecodeAll(t *testing.T) {
	d := NewDecoder(time.UTC, nil)

	records, err := d.DecodeAll([]byte(`[{"sensor_id":"A","value":1},{"sensor_id":"B","value":2}]`))
	if err != nil {
		t.Fatalf("DecodeAll: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].SourceID != "A" || records[1].SourceID != "B" {
		t.Errorf("unexpected order: %s, %s", records[0].SourceID, records[1].SourceID)
	}

	records, err = d.DecodeAll([]byte(`{"sensor_id":"A","value":1}`))
	if err != nil {
		t.Fatalf("DecodeAll single: %v", err)
	}
	if len(records) != 1 {
		t.Errorf("expected 1 record, got %d", len(records))
	}

	if _, err := d.DecodeAll([]byte(`[{"sensor_id":"A","value":1},{"value":2}]`)); err == nil {
		t.Error("expected error for invalid element")
	}
}
