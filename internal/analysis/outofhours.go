package analysis

import (
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Working hours boundaries, half-open: a reading at 07:00 is working hours,
// one at 19:00 is not.
const (
	workingHoursStart = 7  // 07:00
	workingHoursEnd   = 19 // 19:00
)

// OutOfHoursResult is one flagged device-day: a day on which a device's
// consumption outside working hours exceeded the flagging criteria. Days
// that are not flagged produce no result at all.
type OutOfHoursResult struct {
	ClientName           string
	Date                 string // YYYY-MM-DD
	DeviceID             string
	DeviceName           string
	ParamKey             string
	TotalConsumption     float64
	WorkingHours         float64
	OutOfHours           float64
	OutOfHoursPercentage float64
	PointsWorking        int
	PointsOutOfHours     int
	Issues               []string
}

// OutOfHoursAnalyzer compares each device's daily consumption during working
// hours (07:00-19:00) against the rest of the day, and records the
// device-days whose out-of-hours share breaks the flagging criteria.
type OutOfHoursAnalyzer struct {
	ds        *Dataset
	threshold float64
	results   []OutOfHoursResult
	log       *slog.Logger
}

// NewOutOfHoursAnalyzer creates an analyzer with the given flagging
// threshold (percent of daily total, 0-100).
func NewOutOfHoursAnalyzer(ds *Dataset, threshold float64) (*OutOfHoursAnalyzer, error) {
	if threshold < 0 || threshold > 100 {
		return nil, fmt.Errorf("out-of-hours threshold must be between 0 and 100 percent, got %v", threshold)
	}
	return &OutOfHoursAnalyzer{
		ds:        ds,
		threshold: threshold,
		log:       slog.Default().With("analyzer", "out_of_hours"),
	}, nil
}

// Name returns the analyzer identifier.
func (a *OutOfHoursAnalyzer) Name() string { return "out_of_hours" }

// Results returns the flagged device-days.
func (a *OutOfHoursAnalyzer) Results() []OutOfHoursResult { return a.results }

// Threshold returns the configured flagging threshold.
func (a *OutOfHoursAnalyzer) Threshold() float64 { return a.threshold }

// isWorkingHours reports whether a timestamp falls inside working hours.
func isWorkingHours(t time.Time) bool {
	h := t.Hour()
	return h >= workingHoursStart && h < workingHoursEnd
}

// dayKey identifies one device/parameter/date bucket.
type dayKey struct {
	Date       string
	DeviceID   string
	DeviceName string
	ParamKey   string
}

// Analyze buckets every configured device's readings by calendar day and
// records each day whose out-of-hours consumption either exceeds the working
// hours consumption or exceeds the percentage threshold. Days with zero total
// consumption are skipped, not flagged.
func (a *OutOfHoursAnalyzer) Analyze() error {
	lookup := a.ds.DeviceLookup()

	days := make(map[dayKey][]Row)
	dropped := make(map[[2]string]struct{})
	for _, r := range a.ds.Rows {
		pair := [2]string{string(r.DeviceID), r.ParamKey}
		if _, ok := lookup[pair]; !ok {
			if _, warned := dropped[pair]; !warned {
				a.log.Warn("dropping readings for unconfigured device/parameter pair",
					"deviceID", r.DeviceID, "param", r.ParamKey)
				dropped[pair] = struct{}{}
			}
			continue
		}
		k := dayKey{
			Date:       r.Timestamp.Format("2006-01-02"),
			DeviceID:   string(r.DeviceID),
			DeviceName: r.DeviceName,
			ParamKey:   r.ParamKey,
		}
		days[k] = append(days[k], r)
	}

	keys := make([]dayKey, 0, len(days))
	for k := range days {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Date != keys[j].Date {
			return keys[i].Date < keys[j].Date
		}
		if keys[i].DeviceID != keys[j].DeviceID {
			return keys[i].DeviceID < keys[j].DeviceID
		}
		return keys[i].ParamKey < keys[j].ParamKey
	})

	a.results = a.results[:0]
	for _, k := range keys {
		if res, flagged := a.analyzeDay(k, days[k]); flagged {
			a.results = append(a.results, res)
		}
	}

	a.log.Info("out-of-hours analysis completed",
		"deviceDays", len(keys), "flagged", len(a.results))
	return nil
}

// analyzeDay computes one device-day and reports whether it is flagged.
func (a *OutOfHoursAnalyzer) analyzeDay(k dayKey, rows []Row) (OutOfHoursResult, bool) {
	var working, outOfHours float64
	var pointsWorking, pointsOut int
	for _, r := range rows {
		if isWorkingHours(r.Timestamp) {
			working += r.Value
			pointsWorking++
		} else {
			outOfHours += r.Value
			pointsOut++
		}
	}

	total := working + outOfHours
	if total == 0 {
		return OutOfHoursResult{}, false
	}
	oohPct := outOfHours / total * 100

	var issues []string
	if outOfHours > working {
		issues = append(issues, "Out-of-hours consumption exceeds working hours consumption")
	}
	if oohPct > a.threshold {
		issues = append(issues, fmt.Sprintf("Out-of-hours consumption exceeds %g%% threshold", a.threshold))
	}
	if len(issues) == 0 {
		return OutOfHoursResult{}, false
	}

	clientName := "Unknown"
	if len(rows) > 0 {
		clientName = rows[0].ClientName
	}
	return OutOfHoursResult{
		ClientName:           clientName,
		Date:                 k.Date,
		DeviceID:             k.DeviceID,
		DeviceName:           k.DeviceName,
		ParamKey:             k.ParamKey,
		TotalConsumption:     round2(total),
		WorkingHours:         round2(working),
		OutOfHours:           round2(outOfHours),
		OutOfHoursPercentage: round2(oohPct),
		PointsWorking:        pointsWorking,
		PointsOutOfHours:     pointsOut,
		Issues:               issues,
	}, true
}

// SaveReport writes the flagged device-days as CSV.
func (a *OutOfHoursAnalyzer) SaveReport(path string) error {
	header := []string{
		"client_name", "analysis_date", "device_id", "device_name", "param_key",
		"analysis_period_start", "analysis_period_end",
		"total_consumption", "working_hours_consumption", "out_of_hours_consumption",
		"out_of_hours_percentage", "data_points_working", "data_points_out_of_hours",
		"issues_identified", "is_flagged", "threshold_used", "analysis_timestamp",
	}

	now := time.Now().Format(time.RFC3339)
	rows := make([][]string, 0, len(a.results))
	for _, r := range a.results {
		rows = append(rows, []string{
			r.ClientName, r.Date, r.DeviceID, r.DeviceName, r.ParamKey,
			a.ds.Start.Format("2006-01-02T15:04:05"),
			a.ds.End.Format("2006-01-02T15:04:05"),
			formatFloat(r.TotalConsumption),
			formatFloat(r.WorkingHours),
			formatFloat(r.OutOfHours),
			formatFloat(r.OutOfHoursPercentage),
			strconv.Itoa(r.PointsWorking),
			strconv.Itoa(r.PointsOutOfHours),
			strings.Join(r.Issues, "; "),
			formatBool(true),
			formatFloat(a.threshold),
			now,
		})
	}
	return writeCSV(path, header, rows)
}

// SaveTextReport writes the human-readable out-of-hours report. When nothing
// is flagged it still produces a report stating that.
func (a *OutOfHoursAnalyzer) SaveTextReport(path string) error {
	rep := newReport()
	rep.Banner("OUT-OF-HOURS CONSUMPTION ANALYSIS REPORT")

	rep.Linef("Analysis Date: %s", time.Now().Format("2006-01-02 15:04:05"))
	rep.Linef("Analysis Period: %s to %s", a.ds.Start.Format("2006-01-02 15:04:05"), a.ds.End.Format("2006-01-02 15:04:05"))
	rep.Linef("Working Hours: %02d:00 - %02d:00", workingHoursStart, workingHoursEnd)
	rep.Linef("Out-of-Hours Threshold: %.1f%%", a.threshold)
	rep.Linef("Total Flagged Device-Days: %d", len(a.results))
	rep.Line()

	a.writeExecutiveSummary(rep)
	if len(a.results) > 0 {
		a.writeFlaggedDevices(rep)
		a.writeDetailedFindings(rep)
	}

	rep.Section("METHODOLOGY", 20)
	rep.Linef("This analysis compares energy consumption during working hours (%02d:00 - %02d:00)", workingHoursStart, workingHoursEnd)
	rep.Linef("against out-of-hours consumption for each device on each day.")
	rep.Line()
	rep.Linef("Flagging Criteria:")
	rep.Linef("• Out-of-hours consumption exceeds working hours consumption, OR")
	rep.Linef("• Out-of-hours consumption exceeds %.1f%% of total daily consumption", a.threshold)
	rep.Line()

	rep.Section("RECOMMENDATIONS", 20)
	rep.Linef("• Review flagged devices for unnecessary after-hours operation")
	rep.Linef("• Investigate high out-of-hours consumption for security or efficiency issues")
	rep.Linef("• Consider implementing automated shutdown procedures for non-essential equipment")
	rep.Linef("• Establish baseline consumption patterns for operational comparison")
	rep.Linef("• Monitor trends to identify equipment degradation or operational changes")
	rep.Line()

	rep.Footer()
	return rep.WriteFile(path)
}

func (a *OutOfHoursAnalyzer) writeExecutiveSummary(rep *reportBuilder) {
	rep.Section("EXECUTIVE SUMMARY", 40)

	if len(a.results) == 0 {
		rep.Linef("No devices found with problematic out-of-hours consumption patterns.")
		rep.Linef("All monitored devices show acceptable consumption during working hours.")
		rep.Line()
		return
	}

	unique := make(map[[2]string]struct{})
	var pctSum float64
	issueCounts := map[string]int{}
	var issueOrder []string
	for _, r := range a.results {
		unique[[2]string{r.DeviceID, r.ParamKey}] = struct{}{}
		pctSum += r.OutOfHoursPercentage
		for _, issue := range r.Issues {
			if _, seen := issueCounts[issue]; !seen {
				issueOrder = append(issueOrder, issue)
			}
			issueCounts[issue]++
		}
	}

	rep.Linef("Total Flagged Device-Days: %d", len(a.results))
	rep.Linef("Unique Devices with Issues: %d", len(unique))
	rep.Linef("Average Out-of-Hours Consumption: %.1f%%", pctSum/float64(len(a.results)))
	rep.Line()

	rep.Linef("Issue Type Breakdown:")
	for _, issue := range issueOrder {
		rep.Linef("  • %s: %d occurrences", issue, issueCounts[issue])
	}
	rep.Line()
}

func (a *OutOfHoursAnalyzer) writeFlaggedDevices(rep *reportBuilder) {
	rep.Section(fmt.Sprintf("FLAGGED DEVICES (%d device-days require attention)", len(a.results)), 60)
	rep.Line()

	// Highest out-of-hours share first for priority review.
	sorted := make([]OutOfHoursResult, len(a.results))
	copy(sorted, a.results)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].OutOfHoursPercentage > sorted[j].OutOfHoursPercentage
	})

	for _, r := range sorted {
		rep.Linef("Date: %s", r.Date)
		rep.Linef("Device: %s", r.DeviceName)
		rep.Linef("Parameter: %s", r.ParamKey)
		rep.Linef("Total Daily Consumption: %.2f", r.TotalConsumption)
		rep.Linef("Working Hours (%02d:00 - %02d:00): %.2f", workingHoursStart, workingHoursEnd, r.WorkingHours)
		rep.Linef("Out-of-Hours: %.2f (%.1f%%)", r.OutOfHours, r.OutOfHoursPercentage)
		rep.Linef("Issues Identified:")
		for _, issue := range r.Issues {
			rep.Linef("  • %s", issue)
		}
		rep.Line()
	}
}

func (a *OutOfHoursAnalyzer) writeDetailedFindings(rep *reportBuilder) {
	rep.Section("DETAILED ANALYSIS FINDINGS", 40)

	var total, working, outOfHours float64
	for _, r := range a.results {
		total += r.TotalConsumption
		working += r.WorkingHours
		outOfHours += r.OutOfHours
	}

	rep.Linef("Consumption Pattern Summary:")
	rep.Linef("  Total Consumption (Flagged Devices): %.2f", total)
	rep.Linef("  Working Hours Consumption: %.2f", working)
	rep.Linef("  Out-of-Hours Consumption: %.2f (%.1f%%)", outOfHours, pct(outOfHours, total))
	rep.Line()

	high, medium, low := 0, 0, 0
	for _, r := range a.results {
		switch {
		case r.OutOfHoursPercentage > 50:
			high++
		case r.OutOfHoursPercentage > 30:
			medium++
		default:
			low++
		}
	}

	rep.Linef("Severity Distribution:")
	rep.Linef("  High Concern (>50%% out-of-hours): %d device-days", high)
	rep.Linef("  Medium Concern (30-50%% out-of-hours): %d device-days", medium)
	rep.Linef("  Low Concern (threshold violations): %d device-days", low)
	rep.Line()
}
