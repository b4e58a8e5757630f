package extract

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"enermon/internal/config"
	"enermon/internal/dexcell"
	"enermon/internal/domain"
)

// testServer serves one reading per device, failing permanently for any
// device ID listed in failing.
func testServer(t *testing.T, failing map[string]bool) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.URL.Query().Get("device_id")
		if failing[id] {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		fmt.Fprintf(w, `{"values":[{"ts":"2024-01-01T00:00:00Z","v":%s.5}]}`, id)
	}))
}

func testClientConfig(deviceCount int) *config.ClientConfig {
	cfg := &config.ClientConfig{
		APIKeys:     []domain.APIKey{{Token: "tok", ClientName: "Acme"}},
		Params:      []string{"EACTIVE"},
		RequestType: config.RequestHourly,
		StartDate:   "2024-01-01T00:00:00",
		EndDate:     "2024-01-15T00:00:00",
	}
	for i := 1; i <= deviceCount; i++ {
		cfg.Devices = append(cfg.Devices, domain.Device{
			DeviceID: domain.DeviceID(fmt.Sprintf("%d", i)),
			Name:     fmt.Sprintf("Meter %d", i),
			Param:    "EACTIVE",
		})
	}
	return cfg
}

func newTestEngine(srvURL string, cfg *config.ClientConfig, workers int) *Engine {
	client := dexcell.NewClient(dexcell.ClientOpts{
		BaseURL:  srvURL,
		BaseWait: time.Millisecond,
		MaxWait:  5 * time.Millisecond,
	})
	return NewEngine(client, cfg, workers, 0)
}

func TestBuildTasksSkipsNonWhitelistedParams(t *testing.T) {
	cfg := testClientConfig(2)
	cfg.Devices = append(cfg.Devices, domain.Device{
		DeviceID: "99", Name: "Water Meter", Param: "WATERVOL",
	})

	e := newTestEngine("http://unused", cfg, 1)
	tasks := e.BuildTasks()

	if len(tasks) != 2 {
		t.Fatalf("got %d tasks, want 2 (WATERVOL device skipped)", len(tasks))
	}
	for _, task := range tasks {
		if task.ParamKey != "EACTIVE" {
			t.Errorf("task for non-whitelisted param %q", task.ParamKey)
		}
	}
}

func TestBuildTasksKeyDeviceCross(t *testing.T) {
	cfg := testClientConfig(3)
	cfg.APIKeys = append(cfg.APIKeys, domain.APIKey{Token: "tok2", ClientName: "Beta"})

	e := newTestEngine("http://unused", cfg, 1)
	tasks := e.BuildTasks()

	if len(tasks) != 6 {
		t.Fatalf("got %d tasks, want 6 (2 keys x 3 devices)", len(tasks))
	}
	// api_keys outer, devices inner, both in config order.
	if tasks[0].ClientName != "Acme" || tasks[3].ClientName != "Beta" {
		t.Errorf("task order wrong: %q then %q", tasks[0].ClientName, tasks[3].ClientName)
	}
	if tasks[0].DeviceID != "1" || tasks[2].DeviceID != "3" {
		t.Errorf("device order wrong: %q then %q", tasks[0].DeviceID, tasks[2].DeviceID)
	}
}

func TestBuildTasksEmptyClientName(t *testing.T) {
	cfg := testClientConfig(1)
	cfg.APIKeys[0].ClientName = ""

	e := newTestEngine("http://unused", cfg, 1)
	tasks := e.BuildTasks()
	if len(tasks) != 1 || tasks[0].ClientName != "Unknown Client" {
		t.Fatalf("tasks = %+v, want one task with client \"Unknown Client\"", tasks)
	}
}

func TestRunSequentialPreservesOrder(t *testing.T) {
	srv := testServer(t, nil)
	defer srv.Close()

	e := newTestEngine(srv.URL, testClientConfig(5), 1)
	readings, summary, err := e.Run(context.Background())
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if summary.Succeeded != 5 || summary.Failed != 0 {
		t.Fatalf("summary = %+v, want 5 succeeded", summary)
	}
	// With a single worker, merged results follow submission order.
	for i, r := range readings {
		want := domain.DeviceID(fmt.Sprintf("%d", i+1))
		if r.DeviceID != want {
			t.Errorf("reading %d from device %s, want %s", i, r.DeviceID, want)
		}
	}
}

func TestRunConcurrentCollectsAll(t *testing.T) {
	srv := testServer(t, nil)
	defer srv.Close()

	e := newTestEngine(srv.URL, testClientConfig(20), 8)
	readings, summary, err := e.Run(context.Background())
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if summary.TotalTasks != 20 || summary.Succeeded != 20 {
		t.Fatalf("summary = %+v, want 20/20", summary)
	}
	// Order is not guaranteed; the set of devices must be complete.
	seen := make(map[domain.DeviceID]bool)
	for _, r := range readings {
		seen[r.DeviceID] = true
	}
	if len(seen) != 20 {
		t.Errorf("got readings from %d devices, want 20", len(seen))
	}
}

func TestRunToleratesFailures(t *testing.T) {
	srv := testServer(t, map[string]bool{"2": true, "4": true})
	defer srv.Close()

	e := newTestEngine(srv.URL, testClientConfig(5), 3)
	readings, summary, err := e.Run(context.Background())
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if summary.Succeeded != 3 || summary.Failed != 2 {
		t.Fatalf("summary = %+v, want 3 succeeded / 2 failed", summary)
	}
	if summary.SuccessRate != 60 {
		t.Errorf("SuccessRate = %v, want 60", summary.SuccessRate)
	}
	if len(summary.FailedTasks) != 2 {
		t.Errorf("got %d failed tasks, want 2", len(summary.FailedTasks))
	}
	for _, r := range readings {
		if r.DeviceID == "2" || r.DeviceID == "4" {
			t.Errorf("reading from failed device %s", r.DeviceID)
		}
	}
}

func TestRunSkipsInvalidDataPoints(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// One good point, one missing ts, one non-numeric value.
		w.Write([]byte(`{"values":[
			{"ts":"2024-01-01T00:00:00Z","v":1.5},
			{"ts":"","v":2},
			{"ts":"2024-01-01T02:00:00Z","v":"n/a"}
		]}`))
	}))
	defer srv.Close()

	e := newTestEngine(srv.URL, testClientConfig(1), 1)
	readings, summary, err := e.Run(context.Background())
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if len(readings) != 1 {
		t.Fatalf("got %d readings, want 1 (invalid points skipped)", len(readings))
	}
	if readings[0].Value != 1.5 {
		t.Errorf("reading value = %v, want 1.5", readings[0].Value)
	}
	if summary.TotalReadings != 1 {
		t.Errorf("TotalReadings = %d, want 1", summary.TotalReadings)
	}
}

func TestDescribeResults(t *testing.T) {
	readings := []domain.Reading{
		{ClientName: "A", DeviceID: "1", ParamKey: "EACTIVE"},
		{ClientName: "A", DeviceID: "2", ParamKey: "EACTIVE"},
		{ClientName: "B", DeviceID: "2", ParamKey: "GASVOLUME"},
	}
	clients, devices, params := DescribeResults(readings)
	if clients != 2 || devices != 2 || params != 2 {
		t.Errorf("DescribeResults = %d/%d/%d, want 2/2/2", clients, devices, params)
	}
}
