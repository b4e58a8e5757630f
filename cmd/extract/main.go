// Command extract runs one extraction batch: it reads a client config, fans
// the device fetches out across the worker pool, and persists the merged
// readings as CSV, with optional SQLite and Parquet mirrors.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"enermon/internal/config"
	"enermon/internal/dexcell"
	"enermon/internal/extract"
	"enermon/internal/store"
	"enermon/internal/util"
)

func main() {
	// A .env file can carry DEXCELL_BASE_URL, LOG_LEVEL, and the ENERMON_*
	// directory overrides; absence is fine.
	_ = godotenv.Load()

	cfgPath := flag.String("config", defaultConfigPath(), "path to the YAML runtime config")
	clientFile := flag.String("client", "", "client config JSON filename inside the config dir")
	outFile := flag.String("out", "", "output CSV filename inside the output dir (default derived from the client config)")
	flag.Parse()

	if *clientFile == "" {
		log.Fatal("missing required flag: -client")
	}

	cfg, err := config.LoadOrDefault(*cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	if err := os.MkdirAll(cfg.Storage.OutputDir, 0o755); err != nil {
		log.Fatalf("failed to create output dir: %v", err)
	}

	logW := io.Writer(os.Stdout)
	logPath := filepath.Join(cfg.Storage.OutputDir,
		fmt.Sprintf("extract_%s.log", time.Now().Format("20060102_150405")))
	if f, err := os.Create(logPath); err == nil {
		defer f.Close()
		logW = io.MultiWriter(os.Stdout, f)
	}
	util.SetDefault(util.NewLogger(cfg.Logging.Level, cfg.Logging.Format, logW))

	ccfg, err := config.LoadClient(filepath.Join(cfg.Storage.ConfigDir, *clientFile))
	if err != nil {
		log.Fatalf("failed to load client config: %v", err)
	}
	// Fail before any network activity if the date window is unusable.
	if _, _, err := ccfg.Window(); err != nil {
		log.Fatalf("client config: %v", err)
	}

	client := dexcell.NewClient(dexcell.ClientOpts{BaseURL: cfg.Dexcell.BaseURL})
	engine := extract.NewEngine(client, ccfg, cfg.Extract.MaxWorkers, cfg.Extract.RateLimitPerMin)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	readings, summary, err := engine.Run(ctx)
	if err != nil {
		log.Fatalf("extraction aborted: %v", err)
	}

	out := *outFile
	if out == "" {
		stem := strings.TrimSuffix(*clientFile, filepath.Ext(*clientFile))
		out = fmt.Sprintf("%s_readings_%s.csv", stem, time.Now().Format("20060102_150405"))
	}
	csvPath := filepath.Join(cfg.Storage.OutputDir, out)
	if err := store.NewCSVStore(csvPath).WriteReadings(ctx, readings); err != nil {
		log.Fatalf("failed to save readings: %v", err)
	}

	// The mirrors are best-effort: a failed mirror write never invalidates
	// the canonical CSV output.
	if cfg.Storage.SQLitePath != "" {
		if sq, err := store.NewSQLiteStore(cfg.Storage.SQLitePath); err != nil {
			log.Printf("sqlite mirror unavailable: %v", err)
		} else {
			if err := sq.WriteReadings(ctx, readings); err != nil {
				log.Printf("sqlite mirror write failed: %v", err)
			}
			sq.Close()
		}
	}
	if cfg.Storage.DataDir != "" {
		if err := store.NewParquetStore(cfg.Storage.DataDir).WriteReadings(ctx, readings); err != nil {
			log.Printf("parquet archive write failed: %v", err)
		}
	}

	clients, devices, params := extract.DescribeResults(readings)
	fmt.Printf("extraction finished: %d/%d tasks succeeded (%.1f%%), %d readings\n",
		summary.Succeeded, summary.TotalTasks, summary.SuccessRate, summary.TotalReadings)
	fmt.Printf("coverage: %d clients, %d devices, %d parameters\n", clients, devices, params)
	fmt.Printf("output: %s\n", csvPath)
}

func defaultConfigPath() string {
	if p := os.Getenv("ENERMON_CONFIG"); p != "" {
		return p
	}
	return "config/enermon.yaml"
}
