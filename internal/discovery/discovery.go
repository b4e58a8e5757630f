// Package discovery builds client configuration files from the live device
// inventory: it lists every device visible to each API token per parameter
// key, filters out group and historical/archive devices, and writes one
// config JSON per client plus a text report of what was found and what was
// filtered. The generated configs leave request_type and the date window
// blank for the operator to fill in.
package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"enermon/internal/config"
	"enermon/internal/dexcell"
	"enermon/internal/domain"
	"enermon/internal/util"
)

const (
	listLimit        = 1000
	listRetries      = 3
	listRetryBackoff = 1 * time.Second
)

// DefaultParams is the parameter key set queried when the operator does not
// supply one: the electricity, gas, water, and thermal keys that carry
// consumption data worth monitoring.
var DefaultParams = []string{
	"POWER", "EACTIVE", "IRPOWER", "IRENERGY", "VOLTAGE", "CURRENT",
	"APPOWER", "APENERGY", "COSPHY", "PF", "FREQ", "MAXDEMAND",
	"EACTIVEABS", "PAPOWER", "PAENERGY",
	"GASVOLUME", "GASENERGY", "GASVOLN",
	"WATERVOL", "WATERFLOW", "HOTWATERVOL",
	"FUELVOLUME", "FUELENERGY",
	"STEAMENERGY", "STEAMMASS", "THERMPOWER", "THERMENERGY",
	"TEMP", "HUMID", "CARBONDIOX",
}

// DeviceInfo is one discovered device for one parameter key.
type DeviceInfo struct {
	ClientName string
	DeviceID   string
	Name       string
	ParamKey   string
	Status     string
	LocalID    string
}

// IsGroup reports whether the device is a virtual group. Groups carry a
// local_id with a "G_" prefix and aggregate other devices, so extracting
// them double-counts consumption.
func (d DeviceInfo) IsGroup() bool {
	return strings.HasPrefix(d.LocalID, "G_")
}

// IsHistorical reports whether the device is a historical or archive copy
// that no longer produces live readings.
func (d DeviceInfo) IsHistorical() bool {
	name := strings.ToLower(d.Name)
	return strings.Contains(name, "historical") || strings.Contains(name, "archive")
}

// Inventory is the outcome of a discovery run: everything found, split into
// the devices worth extracting and the ones filtered out.
type Inventory struct {
	All      []DeviceInfo
	Active   []DeviceInfo
	Filtered []DeviceInfo
}

// Generator runs device discovery and writes the resulting config files.
type Generator struct {
	client *dexcell.Client
	log    *slog.Logger
}

// NewGenerator creates a Generator over the given API client.
func NewGenerator(client *dexcell.Client) *Generator {
	return &Generator{
		client: client,
		log:    slog.Default().With("component", "discovery"),
	}
}

// Discover lists devices for every (token, param) combination and splits the
// result into active and filtered sets. A failed listing for one parameter
// is logged and skipped; only context cancellation aborts the whole run.
func (g *Generator) Discover(ctx context.Context, keys []domain.APIKey, params []string) (*Inventory, error) {
	inv := &Inventory{}

	total := len(keys) * len(params)
	done := 0
	for _, key := range keys {
		g.log.Info("discovering devices", "client", key.ClientName, "params", len(params))

		for _, param := range params {
			done++
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}

			var devices []dexcell.DeviceDescriptor
			err := util.Retry(ctx, listRetries, listRetryBackoff, func() error {
				var listErr error
				devices, listErr = g.client.ListDevices(ctx, key.Token, param, listLimit)
				return listErr
			})
			if err != nil {
				g.log.Warn("device listing failed",
					"client", key.ClientName, "param", param, "err", err,
					"progress", fmt.Sprintf("%d/%d", done, total))
				continue
			}

			for _, d := range devices {
				info := DeviceInfo{
					ClientName: key.ClientName,
					DeviceID:   d.ID.String(),
					Name:       d.Name,
					ParamKey:   param,
					Status:     d.Status,
					LocalID:    d.LocalID,
				}
				inv.All = append(inv.All, info)
				if info.IsGroup() || info.IsHistorical() {
					inv.Filtered = append(inv.Filtered, info)
				} else {
					inv.Active = append(inv.Active, info)
				}
			}
		}
	}

	g.log.Info("discovery completed",
		"total", len(inv.All), "active", len(inv.Active), "filtered", len(inv.Filtered))
	return inv, nil
}

// WriteConfigs writes one client config JSON per discovered client into dir
// and returns the written paths. request_type and the date window are left
// blank; Window() will reject the config until the operator fills them in.
func (g *Generator) WriteConfigs(inv *Inventory, keys []domain.APIKey, dir string) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating config dir: %w", err)
	}

	tokens := make(map[string]string, len(keys))
	for _, key := range keys {
		tokens[key.ClientName] = key.Token
	}

	type clientBucket struct {
		devices []domain.Device
		params  map[string]struct{}
	}
	clients := make(map[string]*clientBucket)
	var order []string
	for _, d := range inv.Active {
		b, ok := clients[d.ClientName]
		if !ok {
			b = &clientBucket{params: make(map[string]struct{})}
			clients[d.ClientName] = b
			order = append(order, d.ClientName)
		}
		b.devices = append(b.devices, domain.Device{
			DeviceID: domain.DeviceID(d.DeviceID),
			Name:     d.Name,
			Param:    d.ParamKey,
		})
		b.params[d.ParamKey] = struct{}{}
	}
	sort.Strings(order)

	var paths []string
	for _, client := range order {
		b := clients[client]

		params := make([]string, 0, len(b.params))
		for p := range b.params {
			params = append(params, p)
		}
		sort.Strings(params)

		cfg := config.ClientConfig{
			APIKeys: []domain.APIKey{{Token: tokens[client], ClientName: client}},
			Params:  params,
			Devices: b.devices,
		}

		data, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("encoding config for %s: %w", client, err)
		}

		name := strings.ToLower(strings.ReplaceAll(client, " ", "_")) + "_config.json"
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return nil, fmt.Errorf("writing config for %s: %w", client, err)
		}

		g.log.Info("client config written", "client", client, "devices", len(b.devices), "path", path)
		paths = append(paths, path)
	}
	return paths, nil
}

// WriteReport writes the discovery text report: client, parameter, and
// status breakdowns of the active devices plus a listing of everything that
// was filtered out and why.
func (g *Generator) WriteReport(inv *Inventory, path string) error {
	var b strings.Builder
	rule := func(ch string, n int) { b.WriteString(strings.Repeat(ch, n) + "\n") }

	rule("=", 80)
	b.WriteString("DEXCELL DEVICE ANALYSIS REPORT\n")
	rule("=", 80)
	b.WriteString("\n")

	fmt.Fprintf(&b, "Report Generated: %s\n", time.Now().Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "Total Devices Found: %d\n", len(inv.All))
	fmt.Fprintf(&b, "Active Devices: %d\n", len(inv.Active))
	fmt.Fprintf(&b, "Filtered Devices: %d\n\n", len(inv.Filtered))

	b.WriteString("CLIENT BREAKDOWN:\n")
	rule("-", 30)
	for _, kv := range countBy(inv.Active, func(d DeviceInfo) string { return d.ClientName }) {
		fmt.Fprintf(&b, "%s: %d devices\n", kv.key, kv.count)
	}

	b.WriteString("\nPARAMETER BREAKDOWN:\n")
	rule("-", 30)
	for _, kv := range countBy(inv.Active, func(d DeviceInfo) string { return d.ParamKey }) {
		fmt.Fprintf(&b, "%s: %d devices\n", kv.key, kv.count)
	}

	b.WriteString("\nSTATUS BREAKDOWN:\n")
	rule("-", 30)
	for _, kv := range countBy(inv.Active, func(d DeviceInfo) string {
		if d.Status == "" {
			return "Unknown"
		}
		return d.Status
	}) {
		fmt.Fprintf(&b, "%s: %d devices\n", kv.key, kv.count)
	}

	if len(inv.Filtered) > 0 {
		historical, groups := 0, 0
		for _, d := range inv.Filtered {
			if d.IsHistorical() {
				historical++
			}
			if d.IsGroup() {
				groups++
			}
		}

		b.WriteString("\nFILTERED DEVICES (Historical/Archive/Groups):\n")
		rule("-", 50)
		fmt.Fprintf(&b, "Historical/Archive devices: %d\n", historical)
		fmt.Fprintf(&b, "Group devices: %d\n\n", groups)

		b.WriteString("Historical/Archive devices:\n")
		for _, d := range inv.Filtered {
			if d.IsHistorical() {
				fmt.Fprintf(&b, "  %s: %s (%s)\n", d.DeviceID, d.Name, d.ParamKey)
			}
		}
		b.WriteString("\nGroup devices:\n")
		for _, d := range inv.Filtered {
			if d.IsGroup() {
				fmt.Fprintf(&b, "  %s: %s (%s)\n", d.DeviceID, d.Name, d.ParamKey)
			}
		}
	}

	b.WriteString("\nACTIVE DEVICES LIST:\n")
	rule("-", 30)
	active := make([]DeviceInfo, len(inv.Active))
	copy(active, inv.Active)
	sort.Slice(active, func(i, j int) bool {
		if active[i].ClientName != active[j].ClientName {
			return active[i].ClientName < active[j].ClientName
		}
		if active[i].ParamKey != active[j].ParamKey {
			return active[i].ParamKey < active[j].ParamKey
		}
		return active[i].Name < active[j].Name
	})
	for _, d := range active {
		fmt.Fprintf(&b, "%-10s | %-12s | %s\n", d.DeviceID, d.ParamKey, d.Name)
	}

	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("saving device report to %s: %w", path, err)
	}
	return nil
}

type keyCount struct {
	key   string
	count int
}

// countBy tallies devices by the given key, sorted by key.
func countBy(devices []DeviceInfo, keyFn func(DeviceInfo) string) []keyCount {
	counts := make(map[string]int)
	for _, d := range devices {
		counts[keyFn(d)]++
	}
	out := make([]keyCount, 0, len(counts))
	for k, c := range counts {
		out = append(out, keyCount{k, c})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].key < out[j].key })
	return out
}
