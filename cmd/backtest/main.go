// cmd/backtest replays historical prices through the per-symbol traders and
// prints realized/unrealized P&L per symbol. The run is journaled to bt_runs.
//
// Usage:
//
//	go run ./cmd/backtest -config config.yaml -from 2024-01-01 -to 2024-06-30
//	go run ./cmd/backtest -config config.yaml -import   # CSV -> sqlite bars
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
	"kdtrader/internal/logger"
	"kdtrader/internal/marketdata/replay"
	"kdtrader/internal/report"
	"kdtrader/internal/store"
	sqlitestore "kdtrader/internal/store/sqlite"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)

	cfgPath := flag.String("config", "config.yaml", "Path to YAML config (empty = defaults)")
	fromStr := flag.String("from", "", "Start date, YYYY-MM-DD or RFC3339 (inclusive)")
	toStr := flag.String("to", "", "End date, YYYY-MM-DD or RFC3339 (inclusive)")
	symStr := flag.String("symbols", "", "Comma-separated symbols (default: universe)")
	importCSV := flag.Bool("import", false, "Import {data_dir}/{SYMBOL}.csv into sqlite bars and exit")
	asJSON := flag.Bool("json", false, "Print the result as JSON instead of a table")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("[backtest] config: %v", err)
	}
	slogger := logger.Init("backtest", cfg.Log.Index, logger.ParseLevel(cfg.Log.Level), os.Stderr)

	from, err := parseDate(*fromStr, false)
	if err != nil {
		log.Fatalf("[backtest] -from: %v", err)
	}
	to, err := parseDate(*toStr, true)
	if err != nil {
		log.Fatalf("[backtest] -to: %v", err)
	}

	symbols := cfg.Universe
	if *symStr != "" {
		symbols = splitSymbols(*symStr)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	if *importCSV {
		if err := importBars(ctx, cfg, symbols, from, to); err != nil {
			log.Fatalf("[backtest] import: %v", err)
		}
		return
	}

	journal, err := store.Open(ctx, cfg.Storage, cfg.Secrets.PostgresDSN)
	if err != nil {
		log.Fatalf("[backtest] journal: %v", err)
	}
	if journal != nil {
		defer journal.Close()
	}

	var bars backtest.BarReader
	if cfg.Bars.Type == "sqlite" {
		if s, ok := journal.(*sqlitestore.Store); ok {
			bars = s
		} else {
			s, err := sqlitestore.Open(cfg.Storage.SQLitePath)
			if err != nil {
				log.Fatalf("[backtest] bars: %v", err)
			}
			defer s.Close()
			bars = s
		}
	}

	open, err := backtest.NewSourceFactory(cfg.Bars, bars, from, to)
	if err != nil {
		log.Fatalf("[backtest] source: %v", err)
	}

	opts := []backtest.Option{
		backtest.WithLogger(slogger),
		backtest.WithRunParams(map[string]any{
			"from":    *fromStr,
			"to":      *toStr,
			"bars":    cfg.Bars.Type,
			"symbols": symbols,
		}),
	}
	if journal != nil {
		opts = append(opts, backtest.WithJournal(journal))
	}

	log.Printf("[backtest] replaying %d symbols from %s bars", len(symbols), cfg.Bars.Type)
	res, err := backtest.Run(ctx, cfg, symbols, open, opts...)
	if err != nil {
		log.Fatalf("[backtest] run: %v", err)
	}

	backtest.SortByRealized(res.Symbols)
	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(res); err != nil {
			log.Fatalf("[backtest] encode: %v", err)
		}
	} else {
		fmt.Print(report.Backtest(res))
	}

	if failed := res.Failed(); len(failed) > 0 {
		log.Printf("[backtest] %d symbols failed", len(failed))
		os.Exit(1)
	}
}

func importBars(ctx context.Context, cfg *config.Config, symbols []string, from, to time.Time) error {
	s, err := sqlitestore.Open(cfg.Storage.SQLitePath)
	if err != nil {
		return err
	}
	defer s.Close()

	for _, sym := range symbols {
		src, err := replay.LoadCSV(cfg.Bars.DataDir, sym, cfg.Bars.Column, from, to)
		if err != nil {
			return fmt.Errorf("%s: %w", sym, err)
		}
		ticks, err := replay.Collect(src)
		if err != nil {
			return fmt.Errorf("%s: %w", sym, err)
		}
		if err := s.InsertBars(ctx, ticks); err != nil {
			return fmt.Errorf("%s: %w", sym, err)
		}
		log.Printf("[backtest] imported %d bars for %s", len(ticks), sym)
	}
	return nil
}

// parseDate accepts YYYY-MM-DD or RFC3339. A date-only end bound covers the
// whole day.
func parseDate(s string, end bool) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, err
	}
	if end {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return t, nil
}

func splitSymbols(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.ToUpper(strings.TrimSpace(p)); p != "" {
			out = append(out, p)
		}
	}
	return out
}
