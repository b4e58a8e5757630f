// Command analyze runs the three batch analyses over one extract CSV: data
// quality/completeness, period-over-period trend, and out-of-hours
// consumption. Each analysis emits a CSV plus a text report into the output
// directory. A failed analysis is reported and skipped; the others still run.
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"

	"enermon/internal/analysis"
	"enermon/internal/config"
	"enermon/internal/util"
)

func main() {
	_ = godotenv.Load()

	cfgPath := flag.String("config", defaultConfigPath(), "path to the YAML runtime config")
	clientFile := flag.String("client", "", "client config JSON filename inside the config dir")
	csvFile := flag.String("csv", "", "extract CSV filename inside the output dir")
	flag.Parse()

	if *clientFile == "" || *csvFile == "" {
		log.Fatal("missing required flags: -client and -csv")
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
		fmt.Sprintf("analyze_%s.log", time.Now().Format("20060102_150405")))
	if f, err := os.Create(logPath); err == nil {
		defer f.Close()
		logW = io.MultiWriter(os.Stdout, f)
	}
	util.SetDefault(util.NewLogger(cfg.Logging.Level, cfg.Logging.Format, logW))

	ds, err := analysis.LoadDataset(
		filepath.Join(cfg.Storage.ConfigDir, *clientFile),
		filepath.Join(cfg.Storage.OutputDir, *csvFile),
	)
	if err != nil {
		log.Fatalf("failed to load dataset: %v", err)
	}

	stamp := time.Now().Format("20060102_150405")
	failures := 0

	runOne := func(name string, a analysis.Analyzer, err error) {
		if err != nil {
			log.Printf("%s analysis skipped: %v", name, err)
			failures++
			return
		}
		if err := a.Analyze(); err != nil {
			log.Printf("%s analysis failed: %v", name, err)
			failures++
			return
		}
		csvOut := filepath.Join(cfg.Storage.OutputDir, fmt.Sprintf("%s_analysis_%s.csv", name, stamp))
		txtOut := filepath.Join(cfg.Storage.OutputDir, fmt.Sprintf("%s_analysis_%s.txt", name, stamp))
		if err := a.SaveReport(csvOut); err != nil {
			log.Printf("%s analysis: saving CSV report: %v", name, err)
			failures++
			return
		}
		if err := a.SaveTextReport(txtOut); err != nil {
			log.Printf("%s analysis: saving text report: %v", name, err)
			failures++
			return
		}
		fmt.Printf("%s analysis complete: %s\n", name, csvOut)
	}

	quality := analysis.NewQualityAnalyzer(ds)
	runOne("quality", quality, nil)

	trend, err := analysis.NewTrendAnalyzer(ds, cfg.Analysis.TrendThreshold)
	runOne("trend", trend, err)

	ooh, err := analysis.NewOutOfHoursAnalyzer(ds, cfg.Analysis.OutOfHoursThreshold)
	runOne("out_of_hours", ooh, err)

	if failures > 0 {
		log.Fatalf("%d of 3 analyses did not complete", failures)
	}
}

func defaultConfigPath() string {
	if p := os.Getenv("ENERMON_CONFIG"); p != "" {
		return p
	}
	return "config/enermon.yaml"
}
