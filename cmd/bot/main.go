// cmd/bot runs the live trader: prices from the websocket feed (or a paced
// historical replay with -replay) go through one pipeline per symbol, and
// order intents go through the asynchronous executor.
//
// Usage:
//
//	go run ./cmd/bot -config config.yaml
//	go run ./cmd/bot -config config.yaml -replay -speed 50
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"

	"kdtrader/config"
	"kdtrader/internal/backtest"
	"kdtrader/internal/execution"
	"kdtrader/internal/indicator"
	"kdtrader/internal/logger"
	"kdtrader/internal/marketdata/agg"
	"kdtrader/internal/marketdata/bus"
	"kdtrader/internal/marketdata/feed"
	"kdtrader/internal/marketdata/replay"
	"kdtrader/internal/markethours"
	"kdtrader/internal/metrics"
	"kdtrader/internal/model"
	"kdtrader/internal/notification"
	"kdtrader/internal/portfolio"
	"kdtrader/internal/slices"
	"kdtrader/internal/store"
	redisstore "kdtrader/internal/store/redis"
	sqlitestore "kdtrader/internal/store/sqlite"
	"kdtrader/internal/strategy"
	"kdtrader/pkg/broker"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)

	cfgPath := flag.String("config", "config.yaml", "Path to YAML config (empty = defaults)")
	replayMode := flag.Bool("replay", false, "Drive the bot from bars.type history instead of the live feed")
	speed := flag.Float64("speed", -1, "Replay speed multiplier (default: bars.speed, 0 = max)")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("[bot] config: %v", err)
	}
	slogger := logger.Init(cfg.Log.Service, cfg.Log.Index, logger.ParseLevel(cfg.Log.Level), os.Stdout)
	slog.SetDefault(slogger)
	log.Printf("[bot] starting mode=%s router=%s symbols=%v", cfg.Mode, cfg.Execution.Router, cfg.Universe)

	// ---- Contexts: feedCtx stops input, runCtx stops the executor after input drains ----
	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()
	feedCtx, feedCancel := context.WithCancel(runCtx)
	defer feedCancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("[bot] received %s, shutting down", sig)
		feedCancel()
	}()

	// ---- Metrics & health ----
	reg := prometheus.NewRegistry()
	prom := metrics.NewMetrics(reg)
	health := metrics.NewHealthStatus(cfg.Redis.Enabled)
	health.SetSymbols(cfg.Universe)

	// ---- Journal ----
	journal, err := store.Open(runCtx, cfg.Storage, cfg.Secrets.PostgresDSN)
	if err != nil {
		log.Fatalf("[bot] journal: %v", err)
	}
	health.SetJournalOK(journal != nil)
	signals := make(chan model.SignalRecord, 4096)
	var bg sync.WaitGroup
	if journal != nil {
		defer journal.Close()
		bg.Add(1)
		go func() {
			defer bg.Done()
			journal.RunSignals(runCtx, signals)
		}()
	}

	// ---- Redis: order stream + equity ----
	var (
		rstore    *redisstore.Store
		publisher model.IntentPublisher
	)
	if cfg.Redis.Enabled {
		rstore, err = redisstore.New(redisstore.Config{
			Addr:      cfg.Redis.Addr,
			Password:  cfg.Secrets.RedisPassword,
			DB:        cfg.Redis.DB,
			Stream:    cfg.Redis.Stream,
			EquityKey: cfg.Redis.EquityKey,
		})
		if err != nil {
			log.Fatalf("[bot] redis: %v", err)
		}
		defer rstore.Close()

		cb := redisstore.NewCircuitBreaker(5, 10*time.Second)
		cb.OnStateChange = func(from, to redisstore.State) {
			prom.RedisCircuitBreakerState.Set(float64(to))
			if to == redisstore.StateOpen {
				prom.RedisCircuitBreakerTrips.Inc()
			}
			log.Printf("[bot] redis circuit %s -> %s", from, to)
		}
		publisher = redisstore.NewBufferedPublisher(runCtx, rstore, cb, 10000)
	}

	// ---- Broker / router ----
	pf := portfolio.New()
	var (
		router execution.Router
		bc     *broker.Client
	)
	routeTimeout := time.Duration(cfg.Execution.RouteTimeoutSec) * time.Second
	if cfg.Execution.Router == "broker" {
		bc = broker.New(broker.Config{
			BaseURL:    cfg.Broker.BaseURL,
			AppKey:     cfg.Secrets.BrokerAppKey,
			AppSecret:  cfg.Secrets.BrokerAppSecret,
			Account:    cfg.Secrets.BrokerAccount,
			TOTPSecret: cfg.Secrets.BrokerTOTPSecret,
			Timeout:    routeTimeout,
		})
		if err := bc.Login(runCtx); err != nil {
			log.Fatalf("[bot] broker login: %v", err)
		}
		router = bc
	} else {
		router = execution.NewPaperRouter(cfg.Execution.SlippageBps, pf.LastPrice)
	}

	// ---- Equity ----
	var equity *redisstore.EquityCache
	switch {
	case cfg.Risk.EquityFromRedisKey && rstore != nil:
		equity = redisstore.NewEquityCache(rstore, redisstore.NewCircuitBreaker(3, 30*time.Second), cfg.Risk.Equity)
	case bc != nil:
		equity = redisstore.NewEquityCache(bc, nil, cfg.Risk.Equity)
	}
	if equity != nil && cfg.Risk.EquityRefreshSec > 0 {
		if err := equity.Refresh(runCtx); err != nil {
			log.Printf("[bot] initial equity refresh failed, using %.2f: %v", cfg.Risk.Equity, err)
		}
		go equity.Run(runCtx, time.Duration(cfg.Risk.EquityRefreshSec)*time.Second)
	}

	// ---- Notifications ----
	notifiers := notification.Multi{notification.NewLogNotifier()}
	if cfg.Secrets.SlackWebhookURL != "" {
		notifiers = append(notifiers, notification.NewWebhookNotifier(cfg.Secrets.SlackWebhookURL))
	}
	if cfg.Secrets.TelegramBotToken != "" && cfg.Secrets.TelegramChatID != "" {
		notifiers = append(notifiers, notification.NewTelegramNotifier(cfg.Secrets.TelegramBotToken, cfg.Secrets.TelegramChatID))
	}

	// ---- Executor ----
	execOpts := []execution.Option{
		execution.WithNotifier(notifiers),
		execution.WithMetrics(prom),
		execution.WithLogger(slogger.With("component", "executor")),
		execution.WithRouteTimeout(routeTimeout),
	}
	if journal != nil {
		execOpts = append(execOpts, execution.WithJournal(journal))
	}
	if publisher != nil {
		execOpts = append(execOpts, execution.WithPublisher(publisher))
	}
	executor, err := execution.NewExecutor(cfg.Mode, router, cfg.Execution.QueueSize, execOpts...)
	if err != nil {
		log.Fatalf("[bot] executor: %v", err)
	}
	execDone := make(chan struct{})
	go func() {
		executor.Run(runCtx)
		close(execDone)
	}()

	// ---- Strategy engine ----
	engine := strategy.NewEngine(cfg.Feed.InboxSize,
		strategy.WithEngineLogger(slogger.With("component", "engine")),
		strategy.WithDropHook(func(sym string) { prom.DroppedTicks.WithLabelValues(sym).Inc() }),
		strategy.WithLatencyHook(func(d time.Duration) { prom.IndicatorComputeDur.Observe(d.Seconds()) }),
		// Paper MARKET fills read pf.LastPrice, so it must move before the
		// tick's intents reach the executor.
		strategy.WithTickHook(func(t model.Tick) { pf.SetLastPrice(t.Symbol, t.Price) }),
		strategy.WithReadingHook(func(t model.Tick, r indicator.Reading, pos model.Position) {
			prom.TicksTotal.WithLabelValues(t.Symbol).Inc()
			prom.PositionQty.WithLabelValues(t.Symbol).Set(float64(pos.Qty))
			prom.SlicesInUse.WithLabelValues(t.Symbol).Set(float64(pos.SlicesInUse))
			health.SetLastTickTime(t.TS)
			pf.Update(pos)
			if !r.HasKD || journal == nil {
				return
			}
			select {
			case signals <- model.SignalRecord{Symbol: t.Symbol, Side: "TICK", K: r.K, D: r.D, TS: t.TS}:
			default:
			}
		}),
	)
	for _, sym := range cfg.Universe {
		pipe, err := buildPipeline(cfg.ForSymbol(sym), executor, equity, slogger)
		if err != nil {
			log.Fatalf("[bot] %s: %v", sym, err)
		}
		if err := engine.Register(pipe); err != nil {
			log.Fatalf("[bot] %v", err)
		}
	}

	// ---- HTTP ----
	var rdb *goredis.Client
	if rstore != nil {
		rdb = rstore.Client()
	}
	if s, ok := journal.(*sqlitestore.Store); ok {
		health.StartLivenessChecker(runCtx, rdb, s.DB(), 15*time.Second)
	} else {
		health.StartLivenessChecker(runCtx, rdb, nil, 15*time.Second)
	}
	srv := metrics.NewServer(cfg.Metrics.Addr, health, reg)
	srv.Handle("/positions", positionsHandler(pf))
	srv.Start()

	// ---- Position journal + P&L gauge ----
	bg.Add(1)
	go func() {
		defer bg.Done()
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case now := <-ticker.C:
				prom.UnrealizedPnL.Set(pf.TotalUnrealizedPnL())
				if journal == nil {
					continue
				}
				for _, pos := range engine.Positions() {
					if err := journal.UpsertPosition(runCtx, pos, now); err != nil {
						log.Printf("[bot] position %s: %v", pos.Symbol, err)
					}
				}
			}
		}
	}()

	// ---- Price input ----
	tickCh := make(chan model.Tick, 4096)
	var engineIn <-chan model.Tick = tickCh
	if *replayMode {
		if *speed < 0 {
			*speed = cfg.Bars.Speed
		}
		go runReplay(feedCtx, cfg, *speed, tickCh)
	} else {
		fc, err := feed.New(feed.Config{
			URL:               cfg.Feed.URL,
			Symbols:           cfg.Universe,
			ReconnectDelay:    time.Duration(cfg.Feed.ReconnectDelayMs) * time.Millisecond,
			MaxReconnectDelay: time.Duration(cfg.Feed.MaxReconnectDelMs) * time.Millisecond,
		})
		if err != nil {
			log.Fatalf("[bot] feed: %v", err)
		}
		fc.OnConnect = func() { health.SetFeedConnected(true) }
		fc.OnReconnect = func() {
			health.SetFeedConnected(false)
			prom.FeedReconnects.Inc()
		}
		// feed -> [session filter] -> [fan-out to bar recorder] -> engine
		feedCh := tickCh
		if cfg.Bars.RecordSec > 0 {
			fan := bus.New(4096)
			engineIn = fan.Subscribe("engine")
			recordCh := fan.Subscribe("recorder")
			go fan.Run(feedCtx, tickCh)
			startRecorder(cfg, journal, recordCh, &bg)
		}
		if cfg.Feed.SessionOnly {
			log.Printf("[bot] regular session only: %s", markethours.StatusString(time.Now()))
			out := feedCh
			feedCh = make(chan model.Tick, 4096)
			go sessionFilter(feedCtx, feedCh, out)
		}
		go func() {
			if err := fc.Start(feedCtx, feedCh); err != nil {
				log.Printf("[bot] feed stopped: %v", err)
			}
		}()
	}

	engine.Run(feedCtx, engineIn)

	// ---- Shutdown: engine drained, now flush orders and journals ----
	log.Println("[bot] input stopped, draining executor...")
	runCancel()
	<-execDone
	bg.Wait()

	for _, pos := range engine.Positions() {
		log.Printf("[bot] final %s qty=%d avg=%.4f last=%.4f slices=%d", pos.Symbol, pos.Qty, pos.AvgPrice, pos.LastPrice, pos.SlicesInUse)
		if journal != nil {
			if err := journal.UpsertPosition(context.Background(), pos, time.Now()); err != nil {
				log.Printf("[bot] position %s: %v", pos.Symbol, err)
			}
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	srv.Stop(shutdownCtx)
	log.Println("[bot] shutdown complete.")
}

func buildPipeline(sc config.SymbolConfig, sink strategy.OrderSink, equity *redisstore.EquityCache, slogger *slog.Logger) (*strategy.Pipeline, error) {
	ind, err := indicator.NewEngine(sc.Indicator())
	if err != nil {
		return nil, err
	}
	book, err := slices.New(sc.Risk.Equity, sc.Slices.Total)
	if err != nil {
		return nil, err
	}
	gates, err := sc.Gates()
	if err != nil {
		return nil, err
	}
	opts := []strategy.Option{
		strategy.WithEntryGates(gates...),
		strategy.WithLogger(slogger.With("symbol", sc.Symbol)),
	}
	if equity != nil {
		opts = append(opts, strategy.WithEquitySource(equity))
	}
	trader, err := strategy.NewTrader(sc.Symbol, book, sc.Params(), sink, opts...)
	if err != nil {
		return nil, err
	}
	return strategy.NewPipeline(ind, trader), nil
}

// runReplay merges every symbol's history into tickCh and closes it when done.
func runReplay(ctx context.Context, cfg *config.Config, speed float64, tickCh chan<- model.Tick) {
	defer close(tickCh)

	var bars backtest.BarReader
	if cfg.Bars.Type == "sqlite" {
		s, err := sqlitestore.Open(cfg.Storage.SQLitePath)
		if err != nil {
			log.Printf("[bot] replay bars: %v", err)
			return
		}
		defer s.Close()
		bars = s
	}
	open, err := backtest.NewSourceFactory(cfg.Bars, bars, time.Time{}, time.Time{})
	if err != nil {
		log.Printf("[bot] replay: %v", err)
		return
	}
	var sources []replay.Source
	for _, sym := range cfg.Universe {
		src, err := open(ctx, sym)
		if err != nil {
			log.Printf("[bot] replay %s: %v", sym, err)
			continue
		}
		sources = append(sources, src)
	}
	if err := replay.New(speed, sources...).Run(ctx, tickCh); err != nil && ctx.Err() == nil {
		log.Printf("[bot] replay: %v", err)
	}
	log.Println("[bot] replay finished")
}

// startRecorder samples live ticks into bars.record_sec bars and stores them
// in the sqlite bars table for later backtests.
func startRecorder(cfg *config.Config, journal store.Journal, ticks <-chan model.Tick, wg *sync.WaitGroup) {
	bars, ok := journal.(*sqlitestore.Store)
	owned := false
	if !ok {
		var err error
		if bars, err = sqlitestore.Open(cfg.Storage.SQLitePath); err != nil {
			log.Printf("[bot] bar recorder disabled: %v", err)
			go func() {
				for range ticks {
				}
			}()
			return
		}
		owned = true
	}

	barCh := make(chan model.Tick, 1024)
	a := agg.New(time.Duration(cfg.Bars.RecordSec) * time.Second)
	go func() {
		a.Run(context.Background(), ticks, barCh)
		close(barCh)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		bars.RunBars(context.Background(), barCh)
		if owned {
			bars.Close()
		}
	}()
	log.Printf("[bot] recording %ds bars to %s", cfg.Bars.RecordSec, cfg.Storage.SQLitePath)
}

// sessionFilter forwards only ticks stamped inside the regular session.
func sessionFilter(ctx context.Context, in <-chan model.Tick, out chan<- model.Tick) {
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-in:
			if !markethours.IsMarketOpen(t.TS) {
				continue
			}
			select {
			case out <- t:
			case <-ctx.Done():
				return
			}
		}
	}
}

func positionsHandler(pf *portfolio.Portfolio) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"positions":      pf.GetPositions(),
			"unrealized_pnl": pf.TotalUnrealizedPnL(),
			"slices_in_use":  pf.SlicesInUse(),
		})
	})
}
