package store

import (
	"context"
	"encoding/csv"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"enermon/internal/domain"
)

// Compile-time interface check.
var _ ReadingStore = (*CSVStore)(nil)

// CSVStore writes extracted readings to a single CSV file with the fixed
// ReadingColumns order.
type CSVStore struct {
	Path string
	log  *slog.Logger
}

// NewCSVStore creates a CSVStore targeting the given file path.
func NewCSVStore(path string) *CSVStore {
	return &CSVStore{
		Path: path,
		log:  slog.Default().With("component", "csvstore"),
	}
}

// WriteReadings writes the readings to the CSV file. With no readings it
// logs a warning and writes nothing, so a missing file is distinguishable
// from an extract that genuinely produced zero-value rows.
func (s *CSVStore) WriteReadings(_ context.Context, readings []domain.Reading) error {
	if len(readings) == 0 {
		s.log.Warn("no readings to save, skipping CSV write", "path", s.Path)
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(s.Path), 0o755); err != nil {
		return fmt.Errorf("creating output dir: %w", err)
	}

	f, err := os.Create(s.Path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", s.Path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(ReadingColumns); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}
	for _, r := range readings {
		row := []string{
			r.ClientName,
			string(r.DeviceID),
			r.DeviceName,
			r.ParamKey,
			r.Timestamp,
			strconv.FormatFloat(r.Value, 'g', -1, 64),
			r.ExtractionDate,
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("writing row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flushing %s: %w", s.Path, err)
	}

	if info, err := os.Stat(s.Path); err == nil {
		s.log.Info("readings saved", "path", s.Path, "rows", len(readings), "bytes", info.Size())
	}
	return nil
}

// ReadReadings reloads an extract CSV. Header order may differ from
// ReadingColumns; columns are matched by name and all seven are required.
func (s *CSVStore) ReadReadings(_ context.Context) ([]domain.Reading, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", s.Path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", s.Path, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	idx := make(map[string]int, len(rows[0]))
	for i, name := range rows[0] {
		idx[name] = i
	}
	for _, col := range ReadingColumns {
		if _, ok := idx[col]; !ok {
			return nil, fmt.Errorf("missing required column %q in %s", col, s.Path)
		}
	}

	readings := make([]domain.Reading, 0, len(rows)-1)
	for _, row := range rows[1:] {
		value, err := strconv.ParseFloat(row[idx["value"]], 64)
		if err != nil {
			return nil, fmt.Errorf("invalid value %q in %s: %w", row[idx["value"]], s.Path, err)
		}
		readings = append(readings, domain.Reading{
			ClientName:     row[idx["client_name"]],
			DeviceID:       domain.DeviceID(row[idx["device_id"]]),
			DeviceName:     row[idx["device_name"]],
			ParamKey:       row[idx["param_key"]],
			Timestamp:      row[idx["timestamp"]],
			Value:          value,
			ExtractionDate: row[idx["extraction_date"]],
		})
	}
	return readings, nil
}
