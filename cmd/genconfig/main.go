// Command genconfig discovers the devices visible to one or more API tokens
// and writes a client config JSON per client plus a device report. Generated
// configs have their request_type and date window left blank for the
// operator to fill in before extraction.
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
	"enermon/internal/discovery"
	"enermon/internal/domain"
	"enermon/internal/util"
)

func main() {
	_ = godotenv.Load()

	cfgPath := flag.String("config", defaultConfigPath(), "path to the YAML runtime config")
	tokensFlag := flag.String("tokens", os.Getenv("DEXCELL_TOKENS"),
		"API tokens as token=ClientName pairs, comma separated")
	paramsFlag := flag.String("params", "", "parameter keys to query, comma separated (default: built-in consumption set)")
	flag.Parse()

	keys, err := parseTokens(*tokensFlag)
	if err != nil {
		log.Fatalf("invalid -tokens: %v", err)
	}
	if len(keys) == 0 {
		log.Fatal("no API tokens given: set -tokens or DEXCELL_TOKENS")
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
		fmt.Sprintf("genconfig_%s.log", time.Now().Format("20060102_150405")))
	if f, err := os.Create(logPath); err == nil {
		defer f.Close()
		logW = io.MultiWriter(os.Stdout, f)
	}
	util.SetDefault(util.NewLogger(cfg.Logging.Level, cfg.Logging.Format, logW))

	params := discovery.DefaultParams
	if *paramsFlag != "" {
		params = splitList(*paramsFlag)
	}

	client := dexcell.NewClient(dexcell.ClientOpts{BaseURL: cfg.Dexcell.BaseURL})
	gen := discovery.NewGenerator(client)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	inv, err := gen.Discover(ctx, keys, params)
	if err != nil {
		log.Fatalf("device discovery failed: %v", err)
	}

	paths, err := gen.WriteConfigs(inv, keys, cfg.Storage.ConfigDir)
	if err != nil {
		log.Fatalf("failed to write client configs: %v", err)
	}

	reportPath := filepath.Join(cfg.Storage.OutputDir,
		fmt.Sprintf("device_report_%s.txt", time.Now().Format("20060102_150405")))
	if err := gen.WriteReport(inv, reportPath); err != nil {
		log.Fatalf("failed to write device report: %v", err)
	}

	fmt.Printf("discovered %d devices (%d active, %d filtered)\n",
		len(inv.All), len(inv.Active), len(inv.Filtered))
	fmt.Printf("wrote %d client configs and %s\n", len(paths), reportPath)
	fmt.Println("fill in request_type, start_date, and end_date before extracting")
}

// parseTokens parses "token=ClientName,token2=Other Client" into API keys.
func parseTokens(s string) ([]domain.APIKey, error) {
	var keys []domain.APIKey
	for _, pair := range splitList(s) {
		token, name, ok := strings.Cut(pair, "=")
		if !ok || token == "" || name == "" {
			return nil, fmt.Errorf("expected token=ClientName, got %q", pair)
		}
		keys = append(keys, domain.APIKey{Token: token, ClientName: name})
	}
	return keys, nil
}

// splitList splits a comma separated flag value, trimming blanks.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func defaultConfigPath() string {
	if p := os.Getenv("ENERMON_CONFIG"); p != "" {
		return p
	}
	return "config/enermon.yaml"
}
