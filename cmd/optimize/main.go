// cmd/optimize grid-searches strategy parameters over historical prices and
// prints the best parameter sets by total realized P&L.
//
// Usage:
//
//	go run ./cmd/optimize -config config.yaml -workers 8 -top 5
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"kdtrader/config"
	"kdtrader/internal/backtest"
	"kdtrader/internal/report"
	sqlitestore "kdtrader/internal/store/sqlite"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)

	cfgPath := flag.String("config", "config.yaml", "Path to YAML config (empty = defaults)")
	symStr := flag.String("symbols", "", "Comma-separated symbols (default: universe)")
	workers := flag.Int("workers", 0, "Parallel trials (0 = GOMAXPROCS)")
	topN := flag.Int("top", 0, "Results to keep (0 = optimize.top_n)")
	asJSON := flag.Bool("json", false, "Print trials as JSON instead of a table")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("[optimize] config: %v", err)
	}

	symbols := cfg.Universe
	if *symStr != "" {
		symbols = nil
		for _, p := range strings.Split(*symStr, ",") {
			if p = strings.ToUpper(strings.TrimSpace(p)); p != "" {
				symbols = append(symbols, p)
			}
		}
	}
	if *topN <= 0 {
		*topN = cfg.Optimize.TopN
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	var bars backtest.BarReader
	if cfg.Bars.Type == "sqlite" {
		s, err := sqlitestore.Open(cfg.Storage.SQLitePath)
		if err != nil {
			log.Fatalf("[optimize] bars: %v", err)
		}
		defer s.Close()
		bars = s
	}
	open, err := backtest.NewSourceFactory(cfg.Bars, bars, time.Time{}, time.Time{})
	if err != nil {
		log.Fatalf("[optimize] source: %v", err)
	}

	points := backtest.Grid(cfg.Optimize, *cfg)
	log.Printf("[optimize] %d parameter sets x %d symbols", len(points), len(symbols))

	start := time.Now()
	trials, err := backtest.Optimize(ctx, cfg, symbols, open, points, *topN, *workers)
	if err != nil {
		log.Fatalf("[optimize] %v", err)
	}
	log.Printf("[optimize] done in %s", time.Since(start).Round(time.Millisecond))

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(trials); err != nil {
			log.Fatalf("[optimize] encode: %v", err)
		}
		return
	}
	fmt.Print(report.Trials(trials))
}
