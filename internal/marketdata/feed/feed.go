// Package feed is the live price feed client. It connects to a JSON websocket
// tick server (cmd/tickserver or a broker bridge), subscribes to the bot's
// symbols and pushes model.Tick values into the dispatcher.
//
// Messages are JSON objects carrying a symbol and a price. The canonical form
// matches model.Tick:
//
//	{"symbol":"TQQQ","price":61.23,"ts":"2024-05-01T13:30:00Z"}
//
// Broker bridges that send "ltp"/"last" for the price or epoch milliseconds
// for the timestamp are accepted too.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"kdtrader/internal/model"
)

// Config holds configuration for the feed client.
type Config struct {
	// URL of the tick WebSocket server, e.g. "ws://localhost:9001/ws"
	URL string

	// Symbols to subscribe. Ticks for other symbols are discarded.
	Symbols []string

	// ReconnectDelay is the initial delay before reconnection attempts.
	// Defaults to 2 seconds if zero.
	ReconnectDelay time.Duration

	// MaxReconnectDelay caps the exponential backoff. Defaults to 30s.
	MaxReconnectDelay time.Duration
}

func (c *Config) defaults() {
	if c.ReconnectDelay == 0 {
		c.ReconnectDelay = 2 * time.Second
	}
	if c.MaxReconnectDelay == 0 {
		c.MaxReconnectDelay = 30 * time.Second
	}
}

// SubscribeRequest is sent once after every (re)connect.
type SubscribeRequest struct {
	Action  string   `json:"action"`
	Symbols []string `json:"symbols"`
}

// Client streams ticks from a websocket server, reconnecting with
// exponential backoff.
type Client struct {
	cfg    Config
	filter map[string]bool

	// Optional hooks
	OnConnect   func()
	OnReconnect func()
}

// New creates a new Client. Returns an error if the URL is unparseable.
func New(cfg Config) (*Client, error) {
	cfg.defaults()
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("feed: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("feed: unsupported scheme %q", u.Scheme)
	}
	filter := make(map[string]bool, len(cfg.Symbols))
	for _, s := range cfg.Symbols {
		filter[strings.ToUpper(s)] = true
	}
	return &Client{cfg: cfg, filter: filter}, nil
}

// Start connects and streams ticks into tickCh.
// Blocks until ctx is cancelled. Reconnects automatically on disconnect.
func (c *Client) Start(ctx context.Context, tickCh chan<- model.Tick) error {
	delay := c.cfg.ReconnectDelay

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		connected, err := c.runOnce(ctx, tickCh)
		if err == nil {
			// Context cancelled cleanly
			return nil
		}
		if connected {
			delay = c.cfg.ReconnectDelay
		}

		log.Printf("[feed] disconnected (%v), reconnecting in %s...", err, delay)
		if c.OnReconnect != nil {
			c.OnReconnect()
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}

		// Exponential backoff
		delay = min(delay*2, c.cfg.MaxReconnectDelay)
	}
}

// runOnce makes a single connection attempt and reads until disconnect or
// ctx cancel. connected reports whether the dial succeeded.
func (c *Client) runOnce(ctx context.Context, tickCh chan<- model.Tick) (connected bool, err error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		return false, err
	}
	defer conn.Close()

	log.Printf("[feed] connected to %s", c.cfg.URL)
	if c.OnConnect != nil {
		c.OnConnect()
	}

	if len(c.cfg.Symbols) > 0 {
		if err := conn.WriteJSON(SubscribeRequest{Action: "subscribe", Symbols: c.cfg.Symbols}); err != nil {
			return true, fmt.Errorf("subscribe: %w", err)
		}
	}

	// Closes the connection when ctx is cancelled.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutdown"))
			conn.Close()
		case <-stop:
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return true, nil
			}
			return true, err
		}

		tick, err := ParseTick(raw)
		if err != nil {
			log.Printf("[feed] parse error: %v (raw: %s)", err, raw)
			continue
		}
		if len(c.filter) > 0 && !c.filter[tick.Symbol] {
			continue
		}

		select {
		case tickCh <- tick:
		case <-ctx.Done():
			return true, nil
		}
	}
}

var errNoPrice = errors.New("no price")

// ParseTick decodes one feed message. Symbols are upper-cased; a missing
// timestamp is stamped with the receive time.
func ParseTick(raw []byte) (model.Tick, error) {
	var msg map[string]any
	if err := json.Unmarshal(raw, &msg); err != nil {
		return model.Tick{}, err
	}

	sym, _ := msg["symbol"].(string)
	sym = strings.ToUpper(strings.TrimSpace(sym))
	if sym == "" {
		return model.Tick{}, errors.New("missing symbol")
	}

	price := 0.0
	for _, key := range []string{"price", "ltp", "last"} {
		if v, ok := msg[key]; ok {
			price = toFloat(v)
			break
		}
	}
	if price <= 0 {
		return model.Tick{}, fmt.Errorf("%s: %w", sym, errNoPrice)
	}

	return model.Tick{Symbol: sym, Price: price, TS: parseTS(msg["ts"])}, nil
}

func parseTS(v any) time.Time {
	switch t := v.(type) {
	case string:
		if ts, err := time.Parse(time.RFC3339Nano, t); err == nil {
			return ts.UTC()
		}
	case float64:
		if t > 0 {
			// epoch milliseconds
			return time.UnixMilli(int64(t)).UTC()
		}
	}
	return time.Now().UTC()
}

func toFloat(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case string:
		f, _ := strconv.ParseFloat(t, 64)
		return f
	default:
		return 0
	}
}
