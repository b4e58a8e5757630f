package analysis

import (
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strconv"
	"time"

	"enermon/internal/config"
)

// Trend directions reported per device.
const (
	TrendStable              = "stable"
	TrendIncreasing          = "increasing"
	TrendDecreasing          = "decreasing"
	TrendSignificantIncrease = "significant_increase"
	TrendError               = "error"
)

// SentinelChange stands in for the undefined percentage change when the
// first period's total is zero and the second is not.
const SentinelChange = 999.99

// periodStats summarizes one half of a device's data span.
type periodStats struct {
	Total   float64
	Average float64
	Count   int
	Min     float64
	Max     float64
}

// TrendResult is the period-over-period comparison for one device/parameter
// pair. A per-group computation failure is recorded as an error
// pseudo-result (Direction "error", flagged) rather than aborting the batch.
type TrendResult struct {
	ClientName         string
	DeviceID           string
	DeviceName         string
	ParamKey           string
	Period1            periodStats
	Period2            periodStats
	PercentageChange   float64
	AbsoluteDifference float64
	Direction          string
	IsFlagged          bool
	TotalDataPoints    int
	Err                string
}

// TrendAnalyzer compares each device's first and second half totals, split
// at the temporal midpoint of the device's own data span (not the config
// window).
type TrendAnalyzer struct {
	ds        *Dataset
	threshold float64
	results   []TrendResult
	log       *slog.Logger
}

// NewTrendAnalyzer creates a trend analyzer with the given flagging
// threshold (percent, 0-100).
func NewTrendAnalyzer(ds *Dataset, threshold float64) (*TrendAnalyzer, error) {
	if threshold < 0 || threshold > 100 {
		return nil, fmt.Errorf("trend threshold must be between 0 and 100 percent, got %v", threshold)
	}

	a := &TrendAnalyzer{
		ds:        ds,
		threshold: threshold,
		log:       slog.Default().With("analyzer", "trend"),
	}

	// The comparison wants two full weeks of hourly data; shorter or
	// coarser inputs still run but are warned about.
	days := int(ds.End.Sub(ds.Start).Hours() / 24)
	if days < 7 {
		return nil, fmt.Errorf("data period must be at least 7 days for trend analysis, got %d days", days)
	}
	if days < 13 || days > 15 {
		a.log.Warn("data period is not the optimal 14 days for two-week comparison", "days", days)
	}
	if ds.Config.RequestType != config.RequestHourly {
		a.log.Warn("trend analysis works best with hourly data", "requestType", ds.Config.RequestType)
	}

	return a, nil
}

// Name returns the analyzer identifier.
func (a *TrendAnalyzer) Name() string { return "trend" }

// Results returns the computed per-device records.
func (a *TrendAnalyzer) Results() []TrendResult { return a.results }

// Threshold returns the configured flagging threshold.
func (a *TrendAnalyzer) Threshold() float64 { return a.threshold }

// Analyze computes the trend comparison for every observed device/parameter
// group present in the config.
func (a *TrendAnalyzer) Analyze() error {
	groups, keys := a.ds.GroupByDevice()
	lookup := a.ds.DeviceLookup()

	a.results = a.results[:0]
	for _, k := range keys {
		if _, ok := lookup[[2]string{string(k.DeviceID), k.ParamKey}]; !ok {
			a.log.Warn("dropping readings for unconfigured device/parameter pair",
				"deviceID", k.DeviceID, "param", k.ParamKey)
			continue
		}
		a.results = append(a.results, a.analyzeGroup(k, groups[k]))
	}

	a.log.Info("trend analysis completed", "devices", len(a.results))
	return nil
}

// analyzeGroup computes one device's trend record. Failures produce an error
// pseudo-result so the batch continues.
func (a *TrendAnalyzer) analyzeGroup(k GroupKey, rows []Row) TrendResult {
	res := TrendResult{
		DeviceID:        string(k.DeviceID),
		DeviceName:      k.DeviceName,
		ParamKey:        k.ParamKey,
		ClientName:      "Unknown",
		TotalDataPoints: len(rows),
	}
	if len(rows) > 0 {
		res.ClientName = rows[0].ClientName
	}

	first, second, err := splitAtMidpoint(rows)
	if err != nil {
		a.log.Warn("trend computation failed", "device", k.DeviceName, "err", err)
		res.Direction = TrendError
		res.IsFlagged = true
		res.Err = err.Error()
		return res
	}

	res.Period1 = summarizePeriod(first)
	res.Period2 = summarizePeriod(second)

	p1, p2 := res.Period1.Total, res.Period2.Total
	switch {
	case p1 == 0 && p2 == 0:
		res.PercentageChange = 0
		res.Direction = TrendStable
	case p1 == 0:
		// Percentage change from a zero baseline is undefined; report the
		// sentinel instead.
		res.PercentageChange = SentinelChange
		res.Direction = TrendSignificantIncrease
		res.IsFlagged = true
	default:
		change := (p2 - p1) / p1 * 100
		res.PercentageChange = round2(change)
		switch {
		case math.Abs(change) <= a.threshold:
			res.Direction = TrendStable
		case change > a.threshold:
			res.Direction = TrendIncreasing
			res.IsFlagged = true
		default:
			res.Direction = TrendDecreasing
			res.IsFlagged = true
		}
	}
	res.AbsoluteDifference = round2(p2 - p1)
	return res
}

// splitAtMidpoint divides a device's rows at the temporal midpoint of its
// own data span: first half inclusive of the midpoint, second half after it.
func splitAtMidpoint(rows []Row) (first, second []Row, err error) {
	if len(rows) == 0 {
		return nil, nil, fmt.Errorf("cannot split empty device data into periods")
	}

	sorted := make([]Row, len(rows))
	copy(sorted, rows)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	minTS := sorted[0].Timestamp
	maxTS := sorted[len(sorted)-1].Timestamp
	midpoint := minTS.Add(maxTS.Sub(minTS) / 2)

	for _, r := range sorted {
		if !r.Timestamp.After(midpoint) {
			first = append(first, r)
		} else {
			second = append(second, r)
		}
	}
	return first, second, nil
}

// summarizePeriod computes totals for one half of the span.
func summarizePeriod(rows []Row) periodStats {
	if len(rows) == 0 {
		return periodStats{}
	}

	stats := periodStats{Count: len(rows), Min: rows[0].Value, Max: rows[0].Value}
	for _, r := range rows {
		stats.Total += r.Value
		if r.Value < stats.Min {
			stats.Min = r.Value
		}
		if r.Value > stats.Max {
			stats.Max = r.Value
		}
	}
	stats.Average = stats.Total / float64(len(rows))

	stats.Total = round2(stats.Total)
	stats.Average = round2(stats.Average)
	stats.Min = round2(stats.Min)
	stats.Max = round2(stats.Max)
	return stats
}

// SaveReport writes the per-device trend records as CSV.
func (a *TrendAnalyzer) SaveReport(path string) error {
	header := []string{
		"client_name", "device_id", "device_name", "param_key",
		"analysis_period_start", "analysis_period_end",
		"period1_total", "period1_average", "period1_count", "period1_min", "period1_max",
		"period2_total", "period2_average", "period2_count", "period2_min", "period2_max",
		"percentage_change", "absolute_difference", "trend_direction",
		"is_flagged", "threshold_used", "total_data_points", "analysis_date", "error",
	}

	now := time.Now().Format(time.RFC3339)
	rows := make([][]string, 0, len(a.results))
	for _, r := range a.results {
		rows = append(rows, []string{
			r.ClientName, r.DeviceID, r.DeviceName, r.ParamKey,
			a.ds.Start.Format("2006-01-02T15:04:05"),
			a.ds.End.Format("2006-01-02T15:04:05"),
			formatFloat(r.Period1.Total), formatFloat(r.Period1.Average), strconv.Itoa(r.Period1.Count),
			formatFloat(r.Period1.Min), formatFloat(r.Period1.Max),
			formatFloat(r.Period2.Total), formatFloat(r.Period2.Average), strconv.Itoa(r.Period2.Count),
			formatFloat(r.Period2.Min), formatFloat(r.Period2.Max),
			formatFloat(r.PercentageChange),
			formatFloat(r.AbsoluteDifference),
			r.Direction,
			formatBool(r.IsFlagged),
			formatFloat(a.threshold),
			strconv.Itoa(r.TotalDataPoints),
			now,
			r.Err,
		})
	}
	return writeCSV(path, header, rows)
}

// SaveTextReport writes the human-readable trend report.
func (a *TrendAnalyzer) SaveTextReport(path string) error {
	rep := newReport()
	rep.Banner("DATA TREND ANALYSIS REPORT")

	rep.Linef("Analysis Date: %s", time.Now().Format("2006-01-02 15:04:05"))
	rep.Linef("Analysis Period: %s to %s", a.ds.Start.Format("2006-01-02 15:04:05"), a.ds.End.Format("2006-01-02 15:04:05"))
	rep.Linef("Trend Threshold: %.1f%%", a.threshold)
	rep.Linef("Total Devices Analyzed: %d", len(a.results))
	rep.Line()

	a.writeExecutiveSummary(rep)
	a.writeFlaggedDevices(rep)
	a.writeDetailedFindings(rep)

	rep.Section("METHODOLOGY", 20)
	rep.Linef("This analysis compares total consumption between two consecutive time periods.")
	rep.Linef("Devices showing changes greater than %.1f%% are flagged for review.", a.threshold)
	rep.Linef("Trends may indicate equipment issues, usage pattern changes, or data quality problems.")
	rep.Line()

	rep.Section("RECOMMENDATIONS", 20)
	rep.Linef("• Investigate devices with significant increases for potential equipment issues")
	rep.Linef("• Review devices with significant decreases for operational changes")
	rep.Linef("• Monitor flagged devices for continued trend patterns")
	rep.Linef("• Consider seasonal factors when interpreting trend changes")
	rep.Linef("• Implement automated trend monitoring for early detection")
	rep.Line()

	rep.Footer()
	return rep.WriteFile(path)
}

func (a *TrendAnalyzer) writeExecutiveSummary(rep *reportBuilder) {
	if len(a.results) == 0 {
		rep.Section("EXECUTIVE SUMMARY", 40)
		rep.Linef("No devices were analyzed; the extract contained no in-window data.")
		rep.Line()
		return
	}

	flagged, stable := 0, 0
	var flaggedChangeSum float64
	for _, r := range a.results {
		if r.IsFlagged {
			flagged++
			flaggedChangeSum += math.Abs(r.PercentageChange)
		}
		if r.Direction == TrendStable {
			stable++
		}
	}

	rep.Section("EXECUTIVE SUMMARY", 40)
	rep.Linef("Total Devices Analyzed: %d", len(a.results))
	rep.Linef("Devices with Significant Trends: %d", flagged)
	rep.Linef("Devices with Stable Consumption: %d", stable)
	if flagged > 0 {
		rep.Linef("Average Change in Flagged Devices: %.1f%%", flaggedChangeSum/float64(flagged))
	}
	rep.Line()
}

func (a *TrendAnalyzer) writeFlaggedDevices(rep *reportBuilder) {
	var flagged []TrendResult
	for _, r := range a.results {
		if r.IsFlagged {
			flagged = append(flagged, r)
		}
	}

	if len(flagged) == 0 {
		rep.Linef("FLAGGED DEVICES: None")
		rep.Linef("All devices show stable consumption patterns within the configured threshold.")
		rep.Line()
		return
	}

	rep.Section(fmt.Sprintf("FLAGGED DEVICES (%d devices exceed %.1f%% threshold)", len(flagged), a.threshold), 60)
	rep.Line()

	// Largest change magnitude first.
	sort.SliceStable(flagged, func(i, j int) bool {
		return math.Abs(flagged[i].PercentageChange) > math.Abs(flagged[j].PercentageChange)
	})

	midpoint := a.ds.Start.Add(a.ds.End.Sub(a.ds.Start) / 2)
	p1Start := a.ds.Start.Format("02_01_06")
	p1End := midpoint.Format("02_01_06")
	p2End := a.ds.End.Format("02_01_06")

	for _, r := range flagged {
		rep.Linef("Device: %s", r.DeviceName)
		rep.Linef("  Parameter: %s", r.ParamKey)
		rep.Linef("  Period 1 Total (%s to %s): %.2f", p1Start, p1End, r.Period1.Total)
		rep.Linef("  Period 2 Total (%s to %s): %.2f", p1End, p2End, r.Period2.Total)
		rep.Linef("  Change: %+.1f%% (%s)", r.PercentageChange, r.Direction)
		rep.Linef("  Absolute Difference: %+.2f", r.AbsoluteDifference)
		rep.Line()
	}
}

func (a *TrendAnalyzer) writeDetailedFindings(rep *reportBuilder) {
	rep.Section("DETAILED ANALYSIS FINDINGS", 40)

	if len(a.results) == 0 {
		rep.Linef("No analysis results available.")
		rep.Line()
		return
	}

	directions := map[string]int{}
	for _, r := range a.results {
		directions[r.Direction]++
	}

	rep.Linef("Trend Direction Distribution:")
	total := len(a.results)
	for _, dir := range []string{TrendStable, TrendIncreasing, TrendDecreasing, TrendSignificantIncrease, TrendError} {
		if count := directions[dir]; count > 0 {
			rep.Linef("  %s: %d devices (%.1f%%)", titleCase(dir), count, pct(float64(count), float64(total)))
		}
	}

	// Sentinel values would distort the averages.
	var changes []float64
	for _, r := range a.results {
		if r.PercentageChange != SentinelChange && r.Direction != TrendError {
			changes = append(changes, r.PercentageChange)
		}
	}
	if len(changes) > 0 {
		sum, maxUp, maxDown := 0.0, changes[0], changes[0]
		for _, c := range changes {
			sum += c
			if c > maxUp {
				maxUp = c
			}
			if c < maxDown {
				maxDown = c
			}
		}
		rep.Line()
		rep.Linef("Average Period-over-Period Change: %.1f%%", sum/float64(len(changes)))
		rep.Linef("Largest Increase: %.1f%%", maxUp)
		rep.Linef("Largest Decrease: %.1f%%", maxDown)
	}
	rep.Line()
}

// titleCase renders a direction label for the report ("significant_increase"
// → "Significant Increase").
func titleCase(s string) string {
	out := []rune(s)
	upper := true
	for i, r := range out {
		switch {
		case r == '_':
			out[i] = ' '
			upper = true
		case upper && r >= 'a' && r <= 'z':
			out[i] = r - ('a' - 'A')
			upper = false
		default:
			upper = false
		}
	}
	return string(out)
}
