package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"enermon/internal/domain"
)

// Request types accepted in client configs. Hourly maps to the API's "H"
// resolution, monthly to "M".
const (
	RequestHourly  = "hourly"
	RequestMonthly = "monthly"
)

// ClientConfig is the JSON device/parameter/date-range configuration shared
// by the extractor and all three analysis modules. Its start_date/end_date
// window is the single source of truth for analysis period boundaries, not
// the data's own timestamp range.
type ClientConfig struct {
	APIKeys     []domain.APIKey `json:"api_keys"`
	Params      []string        `json:"params"`
	RequestType string          `json:"request_type"`
	StartDate   string          `json:"start_date"`
	EndDate     string          `json:"end_date"`
	Devices     []domain.Device `json:"devices"`
}

// LoadClient reads and validates the client config at path. Structural errors
// (missing required fields, invalid JSON, unknown request type) are fatal and
// returned before any network activity begins. Soft issues — duplicate device
// IDs, devices whose param is absent from the declared params list — are
// logged, not rejected.
func LoadClient(path string) (*ClientConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading client config: %w", err)
	}

	cfg := &ClientConfig{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid JSON in client config %s: %w", path, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("client config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *ClientConfig) validate() error {
	if len(c.APIKeys) == 0 {
		return fmt.Errorf("missing required field: api_keys")
	}
	if len(c.Params) == 0 {
		return fmt.Errorf("missing required field: params")
	}
	if c.RequestType == "" {
		return fmt.Errorf("missing required field: request_type")
	}
	if len(c.Devices) == 0 {
		return fmt.Errorf("missing required field: devices")
	}

	if c.RequestType != RequestHourly && c.RequestType != RequestMonthly {
		return fmt.Errorf("request_type must be %q or %q, got %q", RequestHourly, RequestMonthly, c.RequestType)
	}

	log := slog.Default()
	allowed := c.ParamSet()
	seen := make(map[domain.DeviceID]struct{}, len(c.Devices))
	for i, d := range c.Devices {
		if d.DeviceID == "" {
			return fmt.Errorf("device %d: missing required field: device_id", i)
		}
		if d.Name == "" {
			return fmt.Errorf("device %d (%s): missing required field: name", i, d.DeviceID)
		}
		if d.Param == "" {
			return fmt.Errorf("device %d (%s): missing required field: param", i, d.DeviceID)
		}

		if _, dup := seen[d.DeviceID]; dup {
			log.Warn("duplicate device ID in client config", "deviceID", d.DeviceID)
		}
		seen[d.DeviceID] = struct{}{}

		if _, ok := allowed[d.Param]; !ok {
			log.Debug("device uses param outside the declared params list",
				"device", d.Name, "param", d.Param)
		}
	}

	return nil
}

// ParamSet returns the declared parameter whitelist as a set.
func (c *ClientConfig) ParamSet() map[string]struct{} {
	set := make(map[string]struct{}, len(c.Params))
	for _, p := range c.Params {
		set[p] = struct{}{}
	}
	return set
}

// Resolution returns the API resolution code for the configured request type.
func (c *ClientConfig) Resolution() string {
	if c.RequestType == RequestMonthly {
		return "M"
	}
	return "H"
}

// Window parses the configured start/end dates. Both are required for
// extraction and analysis; discovery-generated configs leave them blank for
// the operator to fill in, so absence is reported here rather than in
// validate.
func (c *ClientConfig) Window() (start, end time.Time, err error) {
	if c.StartDate == "" || c.EndDate == "" {
		return time.Time{}, time.Time{}, fmt.Errorf("client config has empty start_date or end_date")
	}
	start, err = ParseStamp(c.StartDate)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid start_date %q: %w", c.StartDate, err)
	}
	end, err = ParseStamp(c.EndDate)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid end_date %q: %w", c.EndDate, err)
	}
	if end.Before(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("end_date %q precedes start_date %q", c.EndDate, c.StartDate)
	}
	return start, end, nil
}

// stampLayouts are the timestamp shapes accepted from configs and extracts,
// tried in order.
var stampLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseStamp parses a config or extract timestamp and strips any zone offset
// without converting: the literal clock reading is kept and re-anchored in
// UTC so that all comparisons happen on the same naive timeline.
func ParseStamp(s string) (time.Time, error) {
	var t time.Time
	var err error
	for _, layout := range stampLayouts {
		t, err = time.Parse(layout, s)
		if err == nil {
			return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), 0, time.UTC), nil
		}
	}
	return time.Time{}, err
}
