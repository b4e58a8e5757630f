package analysis

import (
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Quality flag thresholds.
const (
	completenessFloor = 90.0 // percent, below this the device is flagged
	zeroValueCeiling  = 10.0 // percent of zero readings above which the device is flagged
)

// QualityResult is the completeness/quality record for one configured
// device/parameter pair.
type QualityResult struct {
	ClientName           string
	DeviceID             string
	DeviceName           string
	ParamKey             string
	ExpectedPoints       int
	ActualPoints         int
	Completeness         float64
	ZeroCount            int
	ZeroPercentage       float64
	NegativeCount        int
	NegativePercentage   float64
	QualityFlags         []string
	IsFlagged            bool
}

// QualityAnalyzer evaluates hourly data completeness per configured device.
// Unlike the trend and out-of-hours analyzers it iterates the configured
// device list rather than the observed groups, so a device with no readings
// at all still appears with zero completeness instead of silently vanishing.
type QualityAnalyzer struct {
	ds      *Dataset
	results []QualityResult
	log     *slog.Logger
}

// NewQualityAnalyzer creates a quality analyzer over the dataset.
func NewQualityAnalyzer(ds *Dataset) *QualityAnalyzer {
	return &QualityAnalyzer{
		ds:  ds,
		log: slog.Default().With("analyzer", "quality"),
	}
}

// Name returns the analyzer identifier.
func (a *QualityAnalyzer) Name() string { return "quality" }

// Results returns the computed per-device records.
func (a *QualityAnalyzer) Results() []QualityResult { return a.results }

// expectedPoints is the number of hourly points the config window should
// contain: whole hours between start and end, plus one to include both
// boundary hours.
func (a *QualityAnalyzer) expectedPoints() int {
	return int(a.ds.End.Sub(a.ds.Start).Hours()) + 1
}

// Analyze computes quality metrics for every configured device/parameter
// pair. Readings for pairs absent from the config are dropped with a
// warning, never silently aggregated.
func (a *QualityAnalyzer) Analyze() error {
	groups, keys := a.ds.GroupByDevice()
	lookup := a.ds.DeviceLookup()

	// Warn on observed groups that no config entry covers, and re-key the
	// rest by (device_id, param) so a name mismatch between config and
	// extract cannot orphan a device's readings.
	pairGroups := make(map[[2]string][]Row, len(groups))
	for _, k := range keys {
		pair := [2]string{string(k.DeviceID), k.ParamKey}
		if _, ok := lookup[pair]; !ok {
			a.log.Warn("dropping readings for unconfigured device/parameter pair",
				"deviceID", k.DeviceID, "param", k.ParamKey)
			continue
		}
		pairGroups[pair] = append(pairGroups[pair], groups[k]...)
	}

	expected := a.expectedPoints()

	defaultClient := "Unknown"
	if len(a.ds.Config.APIKeys) > 0 && a.ds.Config.APIKeys[0].ClientName != "" {
		defaultClient = a.ds.Config.APIKeys[0].ClientName
	}

	seen := make(map[[2]string]struct{}, len(a.ds.Config.Devices))
	a.results = a.results[:0]
	for _, dev := range a.ds.Config.Devices {
		pairKey := [2]string{string(dev.DeviceID), dev.Param}
		if _, dup := seen[pairKey]; dup {
			continue
		}
		seen[pairKey] = struct{}{}

		rows := pairGroups[pairKey]

		actual := len(rows)
		zeroCount := 0
		negativeCount := 0
		clientName := defaultClient
		for _, r := range rows {
			if r.Value == 0 {
				zeroCount++
			}
			if r.Value < 0 {
				negativeCount++
			}
		}
		if len(rows) > 0 {
			clientName = rows[0].ClientName
		}

		completeness := pct(float64(actual), float64(expected))
		zeroPct := pct(float64(zeroCount), float64(actual))
		negativePct := pct(float64(negativeCount), float64(actual))

		var flags []string
		if completeness < completenessFloor {
			flags = append(flags, "Poor Completeness")
		}
		if zeroPct > zeroValueCeiling {
			flags = append(flags, "High Zero Values")
		}
		if negativeCount > 0 {
			flags = append(flags, "Negative Values")
		}

		a.results = append(a.results, QualityResult{
			ClientName:         clientName,
			DeviceID:           string(dev.DeviceID),
			DeviceName:         dev.Name,
			ParamKey:           dev.Param,
			ExpectedPoints:     expected,
			ActualPoints:       actual,
			Completeness:       round2(completeness),
			ZeroCount:          zeroCount,
			ZeroPercentage:     round2(zeroPct),
			NegativeCount:      negativeCount,
			NegativePercentage: round2(negativePct),
			QualityFlags:       flags,
			IsFlagged:          len(flags) > 0,
		})
	}

	a.log.Info("quality analysis completed", "devices", len(a.results))
	return nil
}

// SaveReport writes the per-device quality records as CSV.
func (a *QualityAnalyzer) SaveReport(path string) error {
	header := []string{
		"client_name", "device_id", "device_name", "param_key",
		"analysis_period_start", "analysis_period_end",
		"expected_points", "actual_points", "completeness_percentage",
		"zero_count", "zero_percentage", "negative_count", "negative_percentage",
		"quality_flags", "is_flagged", "analysis_date",
	}

	now := time.Now().Format(time.RFC3339)
	rows := make([][]string, 0, len(a.results))
	for _, r := range a.results {
		rows = append(rows, []string{
			r.ClientName, r.DeviceID, r.DeviceName, r.ParamKey,
			a.ds.Start.Format("2006-01-02T15:04:05"),
			a.ds.End.Format("2006-01-02T15:04:05"),
			strconv.Itoa(r.ExpectedPoints),
			strconv.Itoa(r.ActualPoints),
			formatFloat(r.Completeness),
			strconv.Itoa(r.ZeroCount),
			formatFloat(r.ZeroPercentage),
			strconv.Itoa(r.NegativeCount),
			formatFloat(r.NegativePercentage),
			strings.Join(r.QualityFlags, "; "),
			formatBool(r.IsFlagged),
			now,
		})
	}
	return writeCSV(path, header, rows)
}

// SaveTextReport writes the human-readable quality report.
func (a *QualityAnalyzer) SaveTextReport(path string) error {
	rep := newReport()
	rep.Banner("HOURLY DATA QUALITY ANALYSIS REPORT")

	rep.Linef("Analysis Date: %s", time.Now().Format("2006-01-02 15:04:05"))
	rep.Linef("Analysis Period: %s to %s", a.ds.Start.Format("2006-01-02 15:04:05"), a.ds.End.Format("2006-01-02 15:04:05"))
	rep.Linef("Data Frequency: Hourly")
	rep.Linef("Total Devices Analyzed: %d", len(a.results))
	rep.Line()

	a.writeExecutiveSummary(rep)
	a.writeFlaggedDevices(rep)
	a.writeDetailedFindings(rep)

	rep.Section("METHODOLOGY", 20)
	rep.Linef("This analysis evaluates hourly data completeness by comparing actual vs expected data points.")
	rep.Linef("Devices with <%.0f%% completeness or >%.0f%% zero values are flagged for review.", completenessFloor, zeroValueCeiling)
	rep.Linef("Quality issues may indicate sensor problems, connectivity issues, or data collection failures.")
	rep.Line()

	rep.Section("RECOMMENDATIONS", 20)
	rep.Linef("• Review flagged devices for hardware or connectivity issues")
	rep.Linef("• Investigate devices with high zero value percentages")
	rep.Linef("• Monitor devices with negative values for sensor calibration issues")
	rep.Linef("• Consider implementing automated alerts for poor data quality")
	rep.Linef("• Schedule regular maintenance for devices with recurring quality issues")
	rep.Line()

	rep.Footer()
	return rep.WriteFile(path)
}

func (a *QualityAnalyzer) writeExecutiveSummary(rep *reportBuilder) {
	if len(a.results) == 0 {
		rep.Section("EXECUTIVE SUMMARY", 40)
		rep.Linef("No devices were analyzed; the extract contained no in-window data.")
		rep.Line()
		return
	}

	total := len(a.results)
	flagged := 0
	var sumCompleteness, sumZeroPct float64
	for _, r := range a.results {
		if r.IsFlagged {
			flagged++
		}
		sumCompleteness += r.Completeness
		sumZeroPct += r.ZeroPercentage
	}

	rep.Section("EXECUTIVE SUMMARY", 40)
	rep.Linef("Total Devices Analyzed: %d", total)
	rep.Linef("Devices with Quality Issues: %d", flagged)
	rep.Linef("Average Data Completeness: %.1f%%", sumCompleteness/float64(total))
	rep.Linef("Average Zero Values: %.1f%%", sumZeroPct/float64(total))
	rep.Line()
}

func (a *QualityAnalyzer) writeFlaggedDevices(rep *reportBuilder) {
	var flagged []QualityResult
	for _, r := range a.results {
		if r.IsFlagged {
			flagged = append(flagged, r)
		}
	}

	if len(flagged) == 0 {
		rep.Linef("FLAGGED DEVICES: None")
		rep.Linef("All devices show acceptable hourly data quality.")
		rep.Line()
		return
	}

	rep.Section(
		"FLAGGED DEVICES ("+strconv.Itoa(len(flagged))+" devices require attention)", 60)
	rep.Line()

	// Worst completeness first.
	sort.SliceStable(flagged, func(i, j int) bool {
		return flagged[i].Completeness < flagged[j].Completeness
	})

	for _, r := range flagged {
		rep.Linef("Device: %s", r.DeviceName)
		rep.Linef("  Parameter: %s", r.ParamKey)
		rep.Linef("  Completeness: %.1f%%", r.Completeness)
		rep.Linef("  Expected Points: %d", r.ExpectedPoints)
		rep.Linef("  Actual Points: %d", r.ActualPoints)
		rep.Linef("  Zero Values: %.1f%%", r.ZeroPercentage)
		rep.Linef("  Quality Issues: %s", strings.Join(r.QualityFlags, ", "))
		rep.Line()
	}
}

func (a *QualityAnalyzer) writeDetailedFindings(rep *reportBuilder) {
	rep.Section("DETAILED ANALYSIS FINDINGS", 40)

	if len(a.results) == 0 {
		rep.Linef("No analysis results available.")
		rep.Line()
		return
	}

	total := len(a.results)
	excellent, good, poor := 0, 0, 0
	totalExpected, totalActual, totalZero := 0, 0, 0
	for _, r := range a.results {
		switch {
		case r.Completeness >= 95:
			excellent++
		case r.Completeness >= 90:
			good++
		default:
			poor++
		}
		totalExpected += r.ExpectedPoints
		totalActual += r.ActualPoints
		totalZero += r.ZeroCount
	}

	rep.Linef("Hourly Data Quality Distribution:")
	rep.Linef("  Excellent Quality (≥95%%): %d devices (%.1f%%)", excellent, pct(float64(excellent), float64(total)))
	rep.Linef("  Good Quality (90-95%%): %d devices (%.1f%%)", good, pct(float64(good), float64(total)))
	rep.Linef("  Poor Quality (<90%%): %d devices (%.1f%%)", poor, pct(float64(poor), float64(total)))
	rep.Line()

	rep.Linef("Data Collection Statistics:")
	rep.Linef("  Total Expected Hourly Data Points: %d", totalExpected)
	rep.Linef("  Total Actual Hourly Data Points: %d", totalActual)
	rep.Linef("  Total Zero Value Points: %d", totalZero)
	if totalExpected > 0 {
		rep.Linef("  Overall Data Completeness: %.1f%%", pct(float64(totalActual), float64(totalExpected)))
	}
	rep.Line()
}
