// Package execution routes order intents produced by the traders.
//
// The Executor is the traders' OrderSink: Submit never blocks the trader
// goroutine. A background loop assigns each intent a client order id, places
// it through a Router (paper or broker), journals it, publishes it and sends a
// chat notification. Failures are logged and counted; trader state is never
// rolled back.
package execution

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"kdtrader/internal/logger"
	"kdtrader/internal/metrics"
	"kdtrader/internal/model"
	"kdtrader/internal/notification"
)

const (
	ModePaper = "paper"
	ModeLive  = "live"

	defaultRouteTimeout = 10 * time.Second
)

// Router places one order with a broker and returns the broker's order id.
type Router interface {
	Place(ctx context.Context, intent model.OrderIntent, clOrdID string) (string, error)
}

// Executor consumes order intents asynchronously.
type Executor struct {
	mode     string
	router   Router
	journal  model.Journal
	pub      model.IntentPublisher
	notifier notification.Notifier
	metrics  *metrics.Metrics
	log      *slog.Logger

	queue   chan model.OrderIntent
	timeout time.Duration
	newID   func() string
}

// Option configures an Executor.
type Option func(*Executor)

func WithJournal(j model.Journal) Option           { return func(e *Executor) { e.journal = j } }
func WithPublisher(p model.IntentPublisher) Option { return func(e *Executor) { e.pub = p } }
func WithNotifier(n notification.Notifier) Option  { return func(e *Executor) { e.notifier = n } }
func WithMetrics(m *metrics.Metrics) Option        { return func(e *Executor) { e.metrics = m } }
func WithLogger(l *slog.Logger) Option             { return func(e *Executor) { e.log = l } }
func WithRouteTimeout(d time.Duration) Option      { return func(e *Executor) { e.timeout = d } }
func withIDGenerator(f func() string) Option       { return func(e *Executor) { e.newID = f } }

// NewExecutor creates an executor with a queue of queueSize intents.
func NewExecutor(mode string, router Router, queueSize int, opts ...Option) (*Executor, error) {
	if mode != ModePaper && mode != ModeLive {
		return nil, fmt.Errorf("executor: unknown mode %q", mode)
	}
	if router == nil {
		return nil, fmt.Errorf("executor: nil router")
	}
	if queueSize <= 0 {
		queueSize = 1024
	}
	e := &Executor{
		mode:    mode,
		router:  router,
		queue:   make(chan model.OrderIntent, queueSize),
		timeout: defaultRouteTimeout,
		newID:   uuid.NewString,
		log:     slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Mode returns "paper" or "live".
func (e *Executor) Mode() string { return e.mode }

// Submit enqueues an intent. It never blocks; a full queue drops the intent.
func (e *Executor) Submit(intent model.OrderIntent) {
	if e.metrics != nil {
		e.metrics.OrderIntents.WithLabelValues(intent.Symbol, string(intent.Side), intent.Type.Short()).Inc()
	}
	select {
	case e.queue <- intent:
	default:
		if e.metrics != nil {
			e.metrics.ExecutorQueueDrops.Inc()
		}
		e.log.Warn("executor queue full, intent dropped", "symbol", intent.Symbol, "intent", intent.String())
	}
}

// Pending returns the number of queued intents.
func (e *Executor) Pending() int { return len(e.queue) }

// Run processes intents until ctx is cancelled, then drains what is queued.
func (e *Executor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			e.drain(context.WithoutCancel(ctx))
			return
		case intent := <-e.queue:
			e.Handle(ctx, intent)
		}
	}
}

func (e *Executor) drain(ctx context.Context) {
	for {
		select {
		case intent := <-e.queue:
			e.Handle(ctx, intent)
		default:
			return
		}
	}
}

// Handle routes one intent synchronously and returns the journaled record.
func (e *Executor) Handle(ctx context.Context, intent model.OrderIntent) model.OrderRecord {
	clOrdID := e.newID()
	ctx = logger.WithTraceID(ctx, clOrdID)

	rec := model.OrderRecord{
		ClOrdID:    clOrdID,
		Symbol:     intent.Symbol,
		Side:       intent.Side,
		Qty:        intent.Qty,
		Type:       intent.Type,
		LimitPrice: intent.LimitPrice,
		Status:     model.StatusSubmitted,
		Mode:       e.mode,
		Reason:     intent.Reason,
		TS:         intent.TS,
	}
	if rec.TS.IsZero() {
		rec.TS = time.Now().UTC()
	}

	routeCtx, cancel := context.WithTimeout(ctx, e.timeout)
	start := time.Now()
	brokerID, err := e.router.Place(routeCtx, intent, clOrdID)
	cancel()
	if e.metrics != nil {
		e.metrics.RouteDur.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		rec.Status = model.StatusRejected
		e.fail(ctx, "route", err)
	}
	rec.BrokerID = brokerID

	if e.journal != nil {
		if err := e.journal.InsertOrder(ctx, rec); err != nil {
			e.fail(ctx, "journal", err)
		}
	}
	if e.pub != nil && rec.Status == model.StatusSubmitted {
		if err := e.pub.PublishIntent(ctx, rec); err != nil {
			e.fail(ctx, "publish", err)
		}
	}

	e.log.Info("order.submit", append(logger.LogWithTrace(ctx),
		"symbol", rec.Symbol, "side", rec.Side, "qty", rec.Qty, "type", rec.Type,
		"px", rec.LimitPrice, "status", rec.Status, "mode", rec.Mode, "reason", rec.Reason)...)

	if e.notifier != nil {
		alert := notification.Alert{
			Level:   notification.AlertInfo,
			Message: fmt.Sprintf("[%s] %s %s %d %s", e.mode, rec.Symbol, rec.Side, rec.Qty, rec.Type.Short()),
		}
		if rec.Status == model.StatusRejected {
			alert.Level = notification.AlertWarning
			alert.Message += " REJECTED"
		}
		if err := e.notifier.Send(ctx, alert); err != nil {
			e.fail(ctx, "notify", err)
		}
	}
	return rec
}

func (e *Executor) fail(ctx context.Context, stage string, err error) {
	if e.metrics != nil {
		e.metrics.ExecutorErrors.WithLabelValues(stage).Inc()
	}
	e.log.Error("executor "+stage+" failed", append(logger.LogWithTrace(ctx), "error", err)...)
}
