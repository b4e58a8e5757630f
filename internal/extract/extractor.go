// Package extract implements the concurrent extraction engine: it fans one
// fetch task per (API key, device) pair out across a bounded worker pool,
// merges the readings each task produces, and reports a completion summary.
// Partial failure is expected and tolerated; a device that exhausts its
// retries contributes zero readings and the run continues.
package extract

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"enermon/internal/config"
	"enermon/internal/dexcell"
	"enermon/internal/domain"
	"enermon/internal/util"
)

// Summary is the completion report for one extraction run.
type Summary struct {
	TotalTasks    int
	Succeeded     int
	Failed        int
	SuccessRate   float64
	TotalReadings int
	FailedTasks   []domain.ExtractionTask
}

// Engine executes extraction tasks against a bounded worker pool. MaxWorkers
// of 1 means strictly sequential execution, which also guarantees results in
// task-submission order for deterministic debugging.
type Engine struct {
	client     *dexcell.Client
	cfg        *config.ClientConfig
	maxWorkers int
	limiter    *util.RateLimiter // nil disables rate limiting
	log        *slog.Logger
}

// NewEngine creates an Engine for the given client config. maxWorkers below 1
// is treated as the default of 5. ratePerMin of 0 disables rate limiting.
func NewEngine(client *dexcell.Client, cfg *config.ClientConfig, maxWorkers, ratePerMin int) *Engine {
	if maxWorkers < 1 {
		maxWorkers = 5
	}
	var limiter *util.RateLimiter
	if ratePerMin > 0 {
		limiter = util.NewRateLimiter(ratePerMin)
	}
	return &Engine{
		client:     client,
		cfg:        cfg,
		maxWorkers: maxWorkers,
		limiter:    limiter,
		log:        slog.Default().With("component", "extract"),
	}
}

// BuildTasks generates one ExtractionTask per (API key, device) pair whose
// param appears in the config's declared params list. Devices with
// non-whitelisted params are skipped, not attempted. Task order is
// deterministic: api_keys outer, devices inner, both in config order.
func (e *Engine) BuildTasks() []domain.ExtractionTask {
	allowed := e.cfg.ParamSet()

	var tasks []domain.ExtractionTask
	for _, key := range e.cfg.APIKeys {
		clientName := key.ClientName
		if clientName == "" {
			clientName = "Unknown Client"
		}
		for _, d := range e.cfg.Devices {
			if _, ok := allowed[d.Param]; !ok {
				e.log.Debug("skipping device, param not allowed",
					"device", d.Name, "param", d.Param)
				continue
			}
			tasks = append(tasks, domain.ExtractionTask{
				Token:      key.Token,
				ClientName: clientName,
				DeviceID:   d.DeviceID,
				DeviceName: d.Name,
				ParamKey:   d.Param,
			})
		}
	}
	return tasks
}

// taskResult carries one task's readings back to the coordinator. Merging
// happens over this channel rather than a shared locked slice, so workers
// never touch the aggregate collection.
type taskResult struct {
	task     domain.ExtractionTask
	readings []domain.Reading
}

// Run executes all tasks and returns the merged readings plus a completion
// summary. The run always drains the full task set; only context
// cancellation stops it early. Completion order is not guaranteed to match
// submission order unless MaxWorkers is 1.
func (e *Engine) Run(ctx context.Context) ([]domain.Reading, Summary, error) {
	tasks := e.BuildTasks()
	total := len(tasks)

	e.log.Info("starting extraction", "tasks", total, "workers", e.maxWorkers)

	taskCh := make(chan domain.ExtractionTask, total)
	for _, t := range tasks {
		taskCh <- t
	}
	close(taskCh)

	resCh := make(chan taskResult, total)

	var wg sync.WaitGroup
	workers := e.maxWorkers
	if workers > total {
		workers = total
	}
	runStart := time.Now()

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for task := range taskCh {
				if ctx.Err() != nil {
					return
				}
				resCh <- taskResult{task: task, readings: e.fetchTask(ctx, task)}
			}
		}()
	}

	wg.Wait()
	close(resCh)

	var all []domain.Reading
	var failed []domain.ExtractionTask
	completed := 0
	for res := range resCh {
		completed++
		if completed%10 == 0 {
			e.log.Debug("progress", "completed", completed, "total", total)
		}
		if len(res.readings) == 0 {
			failed = append(failed, res.task)
			continue
		}
		all = append(all, res.readings...)
	}

	summary := Summary{
		TotalTasks:    total,
		Succeeded:     total - len(failed),
		Failed:        len(failed),
		TotalReadings: len(all),
		FailedTasks:   failed,
	}
	if total > 0 {
		summary.SuccessRate = float64(total-len(failed)) / float64(total) * 100
	}

	e.log.Info("extraction completed",
		"tasks", summary.TotalTasks,
		"succeeded", summary.Succeeded,
		"failed", summary.Failed,
		"successRate", summary.SuccessRate,
		"readings", summary.TotalReadings,
		"elapsed", time.Since(runStart).Round(time.Millisecond),
	)
	for i, t := range failed {
		if i >= 5 {
			break
		}
		e.log.Warn("failed device", "device", t.DeviceName, "client", t.ClientName)
	}

	if ctx.Err() != nil {
		return all, summary, ctx.Err()
	}
	return all, summary, nil
}

// fetchTask fetches readings for a single task. Any client error degrades to
// an empty slice; records missing a timestamp or value are skipped, not
// fatal to the task.
func (e *Engine) fetchTask(ctx context.Context, task domain.ExtractionTask) []domain.Reading {
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return nil
		}
	}

	values, err := e.client.GetReadings(ctx, task.Token, dexcell.ReadingsRequest{
		DeviceID:   string(task.DeviceID),
		ParamKey:   task.ParamKey,
		Resolution: e.cfg.Resolution(),
		From:       e.cfg.StartDate,
		To:         e.cfg.EndDate,
	})
	if err != nil {
		e.log.Error("failed to fetch data", "device", task.DeviceName, "err", err)
		return nil
	}

	extractedAt := time.Now().Format(time.RFC3339)
	readings := make([]domain.Reading, 0, len(values))
	for _, v := range values {
		val, ok := numericValue(v.V)
		if v.TS == "" || !ok {
			e.log.Warn("skipping invalid data point", "device", task.DeviceName)
			continue
		}
		readings = append(readings, domain.Reading{
			ClientName:     task.ClientName,
			DeviceID:       task.DeviceID,
			DeviceName:     task.DeviceName,
			ParamKey:       task.ParamKey,
			Timestamp:      v.TS,
			Value:          val,
			ExtractionDate: extractedAt,
		})
	}

	if len(readings) > 0 {
		e.log.Info("extracted readings", "device", task.DeviceName, "count", len(readings))
	}
	return readings
}

// numericValue decodes a raw API value field. Records whose v is absent or
// non-numeric fail minimal structural validation and are skipped upstream.
func numericValue(raw json.RawMessage) (float64, bool) {
	if len(raw) == 0 {
		return 0, false
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return 0, false
	}
	return f, true
}

// DescribeResults returns the distinct clients, devices, and params present
// in an extraction result set, for the end-of-run summary log.
func DescribeResults(readings []domain.Reading) (clients, devices, params int) {
	cs := make(map[string]struct{})
	ds := make(map[domain.DeviceID]struct{})
	ps := make(map[string]struct{})
	for _, r := range readings {
		cs[r.ClientName] = struct{}{}
		ds[r.DeviceID] = struct{}{}
		ps[r.ParamKey] = struct{}{}
	}
	return len(cs), len(ds), len(ps)
}
