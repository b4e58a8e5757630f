// Package domain defines the core data types shared across extraction,
// storage, and analysis: devices, extraction tasks, and meter readings.
package domain

import (
	"encoding/json"
	"fmt"
)

// DeviceID is a Dexcell device identifier. Client configs carry it either as
// a JSON number or a string depending on which tool generated them, so it
// unmarshals from both and is handled as a string everywhere else.
type DeviceID string

// UnmarshalJSON accepts both numeric and string device identifiers.
func (d *DeviceID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*d = DeviceID(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err == nil {
		*d = DeviceID(n.String())
		return nil
	}

	return fmt.Errorf("device_id must be a string or number, got %s", string(data))
}

// MarshalJSON emits the identifier as a plain string.
func (d DeviceID) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(d))
}

// Device is one configured device/parameter pair, the unit of extraction and
// analysis.
type Device struct {
	DeviceID DeviceID `json:"device_id"`
	Name     string   `json:"name"`
	Param    string   `json:"param"`
}

// APIKey pairs a Dexcell API token with the client it belongs to.
type APIKey struct {
	Token      string `json:"token"`
	ClientName string `json:"client_name"`
}

// ExtractionTask is one unit of work for the extraction engine: fetch one
// device/parameter pair's readings using one client's token. Tasks are
// generated deterministically from the client config and consumed exactly
// once.
type ExtractionTask struct {
	Token      string
	ClientName string
	DeviceID   DeviceID
	DeviceName string
	ParamKey   string
}

// Reading is one (device, parameter, timestamp) → value measurement as
// extracted from the API. Timestamp and ExtractionDate are RFC 3339 strings;
// the raw API timestamp is preserved verbatim so the CSV matches what the
// API returned. Value may legitimately be zero or negative depending on the
// sensor type.
type Reading struct {
	ClientName     string
	DeviceID       DeviceID
	DeviceName     string
	ParamKey       string
	Timestamp      string
	Value          float64
	ExtractionDate string
}
