package analysis

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"enermon/internal/domain"
)

func trendDataset(t *testing.T, rows []Row) *Dataset {
	t.Helper()
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(14 * 24 * time.Hour)
	devices := []domain.Device{
		{DeviceID: "1001", Name: "Main Meter", Param: "EACTIVE"},
		{DeviceID: "2002", Name: "Idle Meter", Param: "EACTIVE"},
	}
	return hourlyDataset(devices, rows, start, end)
}

func TestTrendIncreaseFlagged(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rows := []Row{
		// First half totals 100, second half 150: +50% change.
		deviceRow("1001", "Main Meter", start, 50),
		deviceRow("1001", "Main Meter", start.Add(24*time.Hour), 50),
		deviceRow("1001", "Main Meter", start.Add(10*24*time.Hour), 75),
		deviceRow("1001", "Main Meter", start.Add(13*24*time.Hour), 75),
	}

	a, err := NewTrendAnalyzer(trendDataset(t, rows), 10)
	if err != nil {
		t.Fatalf("NewTrendAnalyzer returned error: %v", err)
	}
	if err := a.Analyze(); err != nil {
		t.Fatalf("Analyze returned error: %v", err)
	}

	results := a.Results()
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	r := results[0]
	if r.PercentageChange != 50.0 {
		t.Errorf("PercentageChange = %v, want 50.0", r.PercentageChange)
	}
	if r.Direction != TrendIncreasing {
		t.Errorf("Direction = %q, want %q", r.Direction, TrendIncreasing)
	}
	if !r.IsFlagged {
		t.Error("50% increase above a 10% threshold not flagged")
	}
	if r.Period1.Total != 100 || r.Period2.Total != 150 {
		t.Errorf("period totals = %v/%v, want 100/150", r.Period1.Total, r.Period2.Total)
	}
	if r.AbsoluteDifference != 50 {
		t.Errorf("AbsoluteDifference = %v, want 50", r.AbsoluteDifference)
	}
}

func TestTrendDecreaseFlagged(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rows := []Row{
		deviceRow("1001", "Main Meter", start, 100),
		deviceRow("1001", "Main Meter", start.Add(13*24*time.Hour), 60),
	}

	a, err := NewTrendAnalyzer(trendDataset(t, rows), 10)
	if err != nil {
		t.Fatal(err)
	}
	if err := a.Analyze(); err != nil {
		t.Fatal(err)
	}

	r := a.Results()[0]
	if r.Direction != TrendDecreasing {
		t.Errorf("Direction = %q, want %q", r.Direction, TrendDecreasing)
	}
	if r.PercentageChange != -40.0 {
		t.Errorf("PercentageChange = %v, want -40.0", r.PercentageChange)
	}
	if !r.IsFlagged {
		t.Error("-40% change not flagged")
	}
}

func TestTrendWithinThresholdStable(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rows := []Row{
		deviceRow("1001", "Main Meter", start, 100),
		deviceRow("1001", "Main Meter", start.Add(13*24*time.Hour), 105),
	}

	a, err := NewTrendAnalyzer(trendDataset(t, rows), 10)
	if err != nil {
		t.Fatal(err)
	}
	if err := a.Analyze(); err != nil {
		t.Fatal(err)
	}

	r := a.Results()[0]
	if r.Direction != TrendStable {
		t.Errorf("Direction = %q, want %q", r.Direction, TrendStable)
	}
	if r.IsFlagged {
		t.Error("+5% change below a 10% threshold flagged")
	}
}

func TestTrendZeroBaselineSentinel(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rows := []Row{
		deviceRow("1001", "Main Meter", start, 0),
		deviceRow("1001", "Main Meter", start.Add(13*24*time.Hour), 5),
	}

	a, err := NewTrendAnalyzer(trendDataset(t, rows), 10)
	if err != nil {
		t.Fatal(err)
	}
	if err := a.Analyze(); err != nil {
		t.Fatal(err)
	}

	r := a.Results()[0]
	if r.PercentageChange != SentinelChange {
		t.Errorf("PercentageChange = %v, want sentinel %v", r.PercentageChange, SentinelChange)
	}
	if r.Direction != TrendSignificantIncrease {
		t.Errorf("Direction = %q, want %q", r.Direction, TrendSignificantIncrease)
	}
	if !r.IsFlagged {
		t.Error("appearance from zero baseline not flagged")
	}
}

func TestTrendBothPeriodsZeroStable(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rows := []Row{
		deviceRow("1001", "Main Meter", start, 0),
		deviceRow("1001", "Main Meter", start.Add(13*24*time.Hour), 0),
	}

	a, err := NewTrendAnalyzer(trendDataset(t, rows), 10)
	if err != nil {
		t.Fatal(err)
	}
	if err := a.Analyze(); err != nil {
		t.Fatal(err)
	}

	r := a.Results()[0]
	if r.Direction != TrendStable || r.PercentageChange != 0 || r.IsFlagged {
		t.Errorf("all-zero device: direction %q, change %v, flagged %v; want stable/0/false",
			r.Direction, r.PercentageChange, r.IsFlagged)
	}
}

func TestTrendRejectsShortWindow(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	ds := hourlyDataset(
		[]domain.Device{{DeviceID: "1001", Name: "Main Meter", Param: "EACTIVE"}},
		nil, start, start.Add(3*24*time.Hour))

	if _, err := NewTrendAnalyzer(ds, 10); err == nil {
		t.Error("NewTrendAnalyzer accepted a 3-day window")
	}
}

func TestTrendRejectsBadThreshold(t *testing.T) {
	ds := trendDataset(t, nil)
	if _, err := NewTrendAnalyzer(ds, 120); err == nil {
		t.Error("NewTrendAnalyzer accepted a threshold above 100")
	}
	if _, err := NewTrendAnalyzer(ds, -5); err == nil {
		t.Error("NewTrendAnalyzer accepted a negative threshold")
	}
}

func TestTrendSplitAtMidpoint(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var rows []Row
	for i := 0; i < 4; i++ {
		rows = append(rows, deviceRow("1001", "Main Meter", start.Add(time.Duration(i)*24*time.Hour), 1))
	}

	first, second, err := splitAtMidpoint(rows)
	if err != nil {
		t.Fatalf("splitAtMidpoint returned error: %v", err)
	}
	// Span is 3 days; midpoint at day 1.5. Days 0 and 1 fall in the first
	// half, days 2 and 3 in the second.
	if len(first) != 2 || len(second) != 2 {
		t.Errorf("split = %d/%d, want 2/2", len(first), len(second))
	}

	if _, _, err := splitAtMidpoint(nil); err == nil {
		t.Error("splitAtMidpoint accepted empty input")
	}
}

func TestTrendReports(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rows := []Row{
		deviceRow("1001", "Main Meter", start, 100),
		deviceRow("1001", "Main Meter", start.Add(13*24*time.Hour), 200),
	}

	a, err := NewTrendAnalyzer(trendDataset(t, rows), 10)
	if err != nil {
		t.Fatal(err)
	}
	if err := a.Analyze(); err != nil {
		t.Fatal(err)
	}

	dir := t.TempDir()
	if err := a.SaveReport(filepath.Join(dir, "trend.csv")); err != nil {
		t.Fatalf("SaveReport returned error: %v", err)
	}
	txtPath := filepath.Join(dir, "trend.txt")
	if err := a.SaveTextReport(txtPath); err != nil {
		t.Fatalf("SaveTextReport returned error: %v", err)
	}

	txt, err := os.ReadFile(txtPath)
	if err != nil {
		t.Fatal(err)
	}
	report := string(txt)
	for _, want := range []string{
		"DATA TREND ANALYSIS REPORT",
		"FLAGGED DEVICES",
		"Main Meter",
		"increasing",
		"End of Report",
	} {
		if !strings.Contains(report, want) {
			t.Errorf("text report missing %q", want)
		}
	}
}

func TestTitleCase(t *testing.T) {
	if got := titleCase("significant_increase"); got != "Significant Increase" {
		t.Errorf("titleCase = %q, want Significant Increase", got)
	}
	if got := titleCase("stable"); got != "Stable" {
		t.Errorf("titleCase = %q, want Stable", got)
	}
}
