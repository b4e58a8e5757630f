package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"enermon/internal/domain"
)

func sampleReadings() []domain.Reading {
	return []domain.Reading{
		{
			ClientName: "Acme", DeviceID: "1001", DeviceName: "Main Meter",
			ParamKey: "EACTIVE", Timestamp: "2024-01-01T00:00:00Z",
			Value: 42.5, ExtractionDate: "2024-01-16T09:00:00Z",
		},
		{
			ClientName: "Acme", DeviceID: "1001", DeviceName: "Main Meter",
			ParamKey: "EACTIVE", Timestamp: "2024-01-01T01:00:00Z",
			Value: 0, ExtractionDate: "2024-01-16T09:00:00Z",
		},
		{
			ClientName: "Acme", DeviceID: "1002", DeviceName: "Gas Meter",
			ParamKey: "GASVOLUME", Timestamp: "2024-01-01T00:00:00Z",
			Value: -3.25, ExtractionDate: "2024-01-16T09:00:00Z",
		},
	}
}

// ---------------------------------------------------------------------------
// CSV store
// ---------------------------------------------------------------------------

func TestCSVRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "readings.csv")
	s := NewCSVStore(path)

	want := sampleReadings()
	if err := s.WriteReadings(context.Background(), want); err != nil {
		t.Fatalf("WriteReadings returned error: %v", err)
	}

	got, err := s.ReadReadings(context.Background())
	if err != nil {
		t.Fatalf("ReadReadings returned error: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("got %d readings, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("reading %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestCSVEmptyWritesNothing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.csv")
	s := NewCSVStore(path)

	if err := s.WriteReadings(context.Background(), nil); err != nil {
		t.Fatalf("WriteReadings returned error: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("empty extraction should not produce a CSV file")
	}
}

func TestCSVMissingColumn(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.csv")
	if err := os.WriteFile(path, []byte("device_id,value\n1001,1.5\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := NewCSVStore(path).ReadReadings(context.Background()); err == nil {
		t.Error("ReadReadings accepted a CSV missing required columns")
	}
}

// ---------------------------------------------------------------------------
// SQLite store
// ---------------------------------------------------------------------------

func TestSQLiteRoundTrip(t *testing.T) {
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "readings.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore returned error: %v", err)
	}
	defer s.Close()

	ctx := context.Background()
	if err := s.WriteReadings(ctx, sampleReadings()); err != nil {
		t.Fatalf("WriteReadings returned error: %v", err)
	}

	got, err := s.ReadReadings(ctx, "1001", "EACTIVE")
	if err != nil {
		t.Fatalf("ReadReadings returned error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d readings, want 2", len(got))
	}
	if got[0].Timestamp != "2024-01-01T00:00:00Z" || got[1].Timestamp != "2024-01-01T01:00:00Z" {
		t.Errorf("readings not ordered by timestamp: %s, %s", got[0].Timestamp, got[1].Timestamp)
	}
}

func TestSQLiteUpsert(t *testing.T) {
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "readings.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore returned error: %v", err)
	}
	defer s.Close()

	ctx := context.Background()
	readings := sampleReadings()[:1]
	if err := s.WriteReadings(ctx, readings); err != nil {
		t.Fatal(err)
	}

	// Re-extracting the same window replaces, not duplicates.
	readings[0].Value = 99.9
	if err := s.WriteReadings(ctx, readings); err != nil {
		t.Fatal(err)
	}

	got, err := s.ReadReadings(ctx, "1001", "EACTIVE")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d readings after upsert, want 1", len(got))
	}
	if got[0].Value != 99.9 {
		t.Errorf("value = %v, want 99.9 (new row should win)", got[0].Value)
	}
}

// ---------------------------------------------------------------------------
// Parquet store
// ---------------------------------------------------------------------------

func TestParquetRoundTrip(t *testing.T) {
	s := NewParquetStore(t.TempDir())
	ctx := context.Background()

	if err := s.WriteReadings(ctx, sampleReadings()); err != nil {
		t.Fatalf("WriteReadings returned error: %v", err)
	}

	got, err := s.ReadReadings(ctx, "Acme", "2024-01")
	if err != nil {
		t.Fatalf("ReadReadings returned error: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d readings, want 3", len(got))
	}
}

func TestParquetMergeDeduplicates(t *testing.T) {
	s := NewParquetStore(t.TempDir())
	ctx := context.Background()

	if err := s.WriteReadings(ctx, sampleReadings()); err != nil {
		t.Fatal(err)
	}

	// Overlapping re-write: same key, new value.
	update := []domain.Reading{{
		ClientName: "Acme", DeviceID: "1001", DeviceName: "Main Meter",
		ParamKey: "EACTIVE", Timestamp: "2024-01-01T00:00:00Z",
		Value: 77.7, ExtractionDate: "2024-01-17T09:00:00Z",
	}}
	if err := s.WriteReadings(ctx, update); err != nil {
		t.Fatal(err)
	}

	got, err := s.ReadReadings(ctx, "Acme", "2024-01")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d readings after merge, want 3 (no duplicates)", len(got))
	}
	found := false
	for _, r := range got {
		if r.DeviceID == "1001" && r.Timestamp == "2024-01-01T00:00:00Z" {
			found = true
			if r.Value != 77.7 {
				t.Errorf("merged value = %v, want 77.7 (incoming record wins)", r.Value)
			}
		}
	}
	if !found {
		t.Error("merged record missing")
	}
}

func TestParquetMissingMonth(t *testing.T) {
	s := NewParquetStore(t.TempDir())

	got, err := s.ReadReadings(context.Background(), "Acme", "2020-01")
	if err != nil {
		t.Fatalf("ReadReadings for absent month returned error: %v", err)
	}
	if got != nil {
		t.Errorf("got %d readings for absent month, want none", len(got))
	}
}

func TestSanitizeClient(t *testing.T) {
	if got := sanitizeClient("  Acme Energy "); got != "acme_energy" {
		t.Errorf("sanitizeClient = %q, want acme_energy", got)
	}
}

func TestReadingMonth(t *testing.T) {
	cases := map[string]string{
		"2024-03-15T10:00:00Z": "2024-03",
		"2024-03-15 10:00:00":  "2024-03",
		"bad":                  "unknown",
	}
	for in, want := range cases {
		if got := readingMonth(in); got != want {
			t.Errorf("readingMonth(%q) = %q, want %q", in, got, want)
		}
	}
}
