package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"

	"enermon/internal/domain"
)

// Compile-time interface check.
var _ ReadingStore = (*ParquetStore)(nil)

// ParquetStore archives extracted readings as Parquet files on disk,
// partitioned by client and month.
type ParquetStore struct {
	DataDir string
}

// NewParquetStore creates a ParquetStore rooted at the given data directory.
func NewParquetStore(dataDir string) *ParquetStore {
	return &ParquetStore{DataDir: dataDir}
}

// ReadingRecord is the Parquet schema for archived readings.
type ReadingRecord struct {
	ClientName     string  `parquet:"client_name"`
	DeviceID       string  `parquet:"device_id"`
	DeviceName     string  `parquet:"device_name"`
	ParamKey       string  `parquet:"param_key"`
	Timestamp      string  `parquet:"timestamp"`
	Value          float64 `parquet:"value"`
	ExtractionDate string  `parquet:"extraction_date"`
}

// WriteReadings archives readings to Parquet files grouped by client and
// month. Each client+month combination produces a separate file at:
//
//	<DataDir>/<client>/<YYYY-MM>.parquet
//
// Existing files are merged and deduplicated by (device, param, timestamp),
// preferring new records.
func (s *ParquetStore) WriteReadings(_ context.Context, readings []domain.Reading) error {
	if len(readings) == 0 {
		return nil
	}

	type key struct {
		client string
		month  string // YYYY-MM
	}
	groups := make(map[key][]ReadingRecord)
	for _, r := range readings {
		k := key{client: r.ClientName, month: readingMonth(r.Timestamp)}
		groups[k] = append(groups[k], ReadingRecord{
			ClientName:     r.ClientName,
			DeviceID:       string(r.DeviceID),
			DeviceName:     r.DeviceName,
			ParamKey:       r.ParamKey,
			Timestamp:      r.Timestamp,
			Value:          r.Value,
			ExtractionDate: r.ExtractionDate,
		})
	}

	for k, records := range groups {
		path := s.readingPath(k.client, k.month)

		// Read existing records to merge.
		existing, _ := readParquetFile[ReadingRecord](path)
		merged := mergeReadingRecords(existing, records)

		if err := writeParquetFile(path, merged); err != nil {
			return fmt.Errorf("writing readings for %s/%s: %w", k.client, k.month, err)
		}
	}
	return nil
}

// ReadReadings loads all archived readings for a client month.
func (s *ParquetStore) ReadReadings(_ context.Context, client, month string) ([]domain.Reading, error) {
	records, err := readParquetFile[ReadingRecord](s.readingPath(client, month))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	readings := make([]domain.Reading, 0, len(records))
	for _, r := range records {
		readings = append(readings, domain.Reading{
			ClientName:     r.ClientName,
			DeviceID:       domain.DeviceID(r.DeviceID),
			DeviceName:     r.DeviceName,
			ParamKey:       r.ParamKey,
			Timestamp:      r.Timestamp,
			Value:          r.Value,
			ExtractionDate: r.ExtractionDate,
		})
	}
	return readings, nil
}

// readingPath returns the archive path for one client month.
// Layout: <dataDir>/<client>/<YYYY-MM>.parquet
func (s *ParquetStore) readingPath(client, month string) string {
	return filepath.Join(s.DataDir, sanitizeClient(client), month+".parquet")
}

// sanitizeClient makes a client name filesystem-safe.
func sanitizeClient(client string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(client), " ", "_"))
}

// readingMonth extracts the YYYY-MM partition from a raw timestamp string.
// Unparseable timestamps fall into an "unknown" partition rather than being
// dropped.
func readingMonth(ts string) string {
	if t, err := time.Parse(time.RFC3339, ts); err == nil {
		return t.Format("2006-01")
	}
	if len(ts) >= 7 {
		return ts[:7]
	}
	return "unknown"
}

// ---------------------------------------------------------------------------
// Parquet file helpers
// ---------------------------------------------------------------------------

func writeParquetFile[T any](path string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return parquet.WriteFile(path, records)
}

func readParquetFile[T any](path string) ([]T, error) {
	rows, err := parquet.ReadFile[T](path)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// mergeReadingRecords deduplicates records by (device, param, timestamp),
// preferring new records over existing ones. Results are sorted by device
// then timestamp.
func mergeReadingRecords(existing, incoming []ReadingRecord) []ReadingRecord {
	type key struct {
		device string
		param  string
		ts     string
	}
	seen := make(map[key]ReadingRecord, len(existing)+len(incoming))
	for _, r := range existing {
		seen[key{r.DeviceID, r.ParamKey, r.Timestamp}] = r
	}
	for _, r := range incoming {
		seen[key{r.DeviceID, r.ParamKey, r.Timestamp}] = r
	}

	merged := make([]ReadingRecord, 0, len(seen))
	for _, r := range seen {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool {
		if merged[i].DeviceID != merged[j].DeviceID {
			return merged[i].DeviceID < merged[j].DeviceID
		}
		return merged[i].Timestamp < merged[j].Timestamp
	})
	return merged
}
