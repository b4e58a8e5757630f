// Package analysis implements the three descriptive analyses run over an
// extract CSV: data quality/completeness, period-over-period trend, and
// working-hours versus out-of-hours consumption. All three share the same
// pipeline shape: load the client config and the CSV, normalize timestamps,
// filter to the config's date window, group, compute a per-group metric, and
// emit a CSV plus a text report.
package analysis

import (
	"encoding/csv"
	"fmt"
	"log/slog"
	"math"
	"os"
	"sort"
	"strconv"
	"time"

	"enermon/internal/config"
	"enermon/internal/domain"
)

// Analyzer is one analysis module. Analyze computes the per-group results;
// the save methods emit the CSV and text reports for whatever Analyze
// produced.
type Analyzer interface {
	// Name returns the analyzer identifier.
	Name() string
	// Analyze computes results over the loaded dataset.
	Analyze() error
	// SaveReport writes the per-group CSV report.
	SaveReport(path string) error
	// SaveTextReport writes the human-readable text report.
	SaveTextReport(path string) error
}

// Row is one normalized reading row from an extract CSV.
type Row struct {
	ClientName string
	DeviceID   domain.DeviceID
	DeviceName string
	ParamKey   string
	Timestamp  time.Time // normalized, naive local represented in UTC
	Value      float64
}

// Dataset is the loaded and window-filtered input shared by the analyzers.
type Dataset struct {
	Config *config.ClientConfig
	Rows   []Row
	Start  time.Time
	End    time.Time
}

// requiredColumns are the extract CSV columns every analyzer needs.
// client_name and extraction_date are optional in the input.
var requiredColumns = []string{"device_id", "device_name", "param_key", "timestamp", "value"}

// LoadDataset loads the client config and extract CSV, normalizes
// timestamps, and filters rows to the config's [start, end] window. The
// window always comes from the configuration, never from the data's own
// timestamp range. Missing required columns or unusable config are fatal;
// the dataset is unusable without them.
func LoadDataset(configPath, csvPath string) (*Dataset, error) {
	cfg, err := config.LoadClient(configPath)
	if err != nil {
		return nil, err
	}

	start, end, err := cfg.Window()
	if err != nil {
		return nil, fmt.Errorf("analysis window: %w", err)
	}

	log := slog.Default().With("component", "analysis")

	f, err := os.Open(csvPath)
	if err != nil {
		return nil, fmt.Errorf("opening extract CSV: %w", err)
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parsing extract CSV %s: %w", csvPath, err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("extract CSV %s is empty", csvPath)
	}

	idx := make(map[string]int, len(records[0]))
	for i, name := range records[0] {
		idx[name] = i
	}
	var missing []string
	for _, col := range requiredColumns {
		if _, ok := idx[col]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required columns in %s: %v", csvPath, missing)
	}
	clientIdx, hasClient := idx["client_name"]

	rows := make([]Row, 0, len(records)-1)
	for _, rec := range records[1:] {
		ts, err := NormalizeTimestamp(rec[idx["timestamp"]])
		if err != nil {
			return nil, fmt.Errorf("invalid timestamp %q in %s: %w", rec[idx["timestamp"]], csvPath, err)
		}
		value, err := strconv.ParseFloat(rec[idx["value"]], 64)
		if err != nil {
			return nil, fmt.Errorf("invalid value %q in %s: %w", rec[idx["value"]], csvPath, err)
		}

		clientName := "Unknown"
		if hasClient {
			clientName = rec[clientIdx]
		}
		rows = append(rows, Row{
			ClientName: clientName,
			DeviceID:   domain.DeviceID(rec[idx["device_id"]]),
			DeviceName: rec[idx["device_name"]],
			ParamKey:   rec[idx["param_key"]],
			Timestamp:  ts,
			Value:      value,
		})
	}

	before := len(rows)
	filtered := rows[:0]
	for _, r := range rows {
		if !r.Timestamp.Before(start) && !r.Timestamp.After(end) {
			filtered = append(filtered, r)
		}
	}
	rows = filtered

	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].DeviceID != rows[j].DeviceID {
			return rows[i].DeviceID < rows[j].DeviceID
		}
		if rows[i].ParamKey != rows[j].ParamKey {
			return rows[i].ParamKey < rows[j].ParamKey
		}
		return rows[i].Timestamp.Before(rows[j].Timestamp)
	})

	log.Info("dataset loaded",
		"csv", csvPath,
		"rowsBeforeFilter", before,
		"rowsAfterFilter", len(rows),
		"windowStart", start,
		"windowEnd", end,
	)

	return &Dataset{Config: cfg, Rows: rows, Start: start, End: end}, nil
}

// NormalizeTimestamp parses an extract timestamp as an absolute instant,
// converts it to UTC, adds one hour, and drops the zone. The one-hour shift
// is inherited from the upstream data source and applied identically by all
// analyzers; it is preserved behaviour, not a correction this code owns.
func NormalizeTimestamp(s string) (time.Time, error) {
	layouts := []string{
		time.RFC3339,
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
		"2006-01-02",
	}
	var t time.Time
	var err error
	for _, layout := range layouts {
		t, err = time.Parse(layout, s)
		if err == nil {
			return t.UTC().Add(time.Hour), nil
		}
	}
	return time.Time{}, err
}

// GroupKey identifies one device/parameter group.
type GroupKey struct {
	DeviceID   domain.DeviceID
	DeviceName string
	ParamKey   string
}

// GroupByDevice buckets rows by device/parameter. Keys returns the groups in
// deterministic (device, param) order.
func (d *Dataset) GroupByDevice() (map[GroupKey][]Row, []GroupKey) {
	groups := make(map[GroupKey][]Row)
	for _, r := range d.Rows {
		k := GroupKey{DeviceID: r.DeviceID, DeviceName: r.DeviceName, ParamKey: r.ParamKey}
		groups[k] = append(groups[k], r)
	}

	keys := make([]GroupKey, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].DeviceID != keys[j].DeviceID {
			return keys[i].DeviceID < keys[j].DeviceID
		}
		return keys[i].ParamKey < keys[j].ParamKey
	})
	return groups, keys
}

// DeviceLookup maps (device_id, param) to its config entry, the set used to
// drop readings for unconfigured pairs.
func (d *Dataset) DeviceLookup() map[[2]string]domain.Device {
	lookup := make(map[[2]string]domain.Device, len(d.Config.Devices))
	for _, dev := range d.Config.Devices {
		lookup[[2]string{string(dev.DeviceID), dev.Param}] = dev
	}
	return lookup
}

// round2 rounds to two decimal places for report output.
func round2(x float64) float64 {
	return math.Round(x*100) / 100
}

// pct returns part/total*100, or 0 when total is zero.
func pct(part, total float64) float64 {
	if total == 0 {
		return 0
	}
	return part / total * 100
}

// writeCSV writes a header plus rows to path.
func writeCSV(path string, header []string, rows [][]string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		return err
	}
	for _, row := range rows {
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

func formatBool(b bool) string {
	if b {
		return "True"
	}
	return "False"
}
