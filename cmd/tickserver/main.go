// cmd/tickserver is a demo websocket price server for running the bot
// without a real market data provider.
//
// Tick JSON shape matches what internal/marketdata/feed parses:
//
//	{"symbol":"TQQQ","price":61.37,"ts":"2024-05-01T14:30:00.123Z"}
//
// A client may send {"action":"subscribe","symbols":["TQQQ"]}; until it does
// it receives every symbol.
//
// Config (env vars):
//
//	TICK_SERVER_ADDR  listen address (default ":9001")
//	TICK_SYMBOLS      comma-separated SYMBOL[:START_PRICE] (default "TQQQ:60,SOXL:30")
//	TICK_INTERVAL_MS  broadcast interval in milliseconds (default "250")
package main

import (
	"encoding/json"
	"log"
	"math"
	"math/rand"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"kdtrader/internal/marketdata/feed"
)

type tickMsg struct {
	Symbol string    `json:"symbol"`
	Price  float64   `json:"price"`
	TS     time.Time `json:"ts"`
}

type instrument struct {
	Symbol string
	Price  float64
}

// client is one websocket connection and the symbols it asked for.
type client struct {
	send chan tickMsg

	mu   sync.RWMutex
	subs map[string]bool // nil = everything
}

func (c *client) wants(sym string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.subs == nil || c.subs[sym]
}

func (c *client) subscribe(symbols []string) {
	subs := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		subs[strings.ToUpper(s)] = true
	}
	c.mu.Lock()
	c.subs = subs
	c.mu.Unlock()
}

type hub struct {
	mu      sync.RWMutex
	clients map[*websocket.Conn]*client
}

func newHub() *hub {
	return &hub{clients: make(map[*websocket.Conn]*client)}
}

func (h *hub) register(conn *websocket.Conn) *client {
	c := &client{send: make(chan tickMsg, 256)}
	h.mu.Lock()
	h.clients[conn] = c
	h.mu.Unlock()
	return c
}

func (h *hub) unregister(conn *websocket.Conn) {
	h.mu.Lock()
	if c, ok := h.clients[conn]; ok {
		close(c.send)
		delete(h.clients, conn)
	}
	h.mu.Unlock()
}

func (h *hub) broadcast(msg tickMsg) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		if !c.wants(msg.Symbol) {
			continue
		}
		select {
		case c.send <- msg:
		default: // slow client, drop
		}
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(_ *http.Request) bool { return true },
}

func wsHandler(h *hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("[tickserver] upgrade error: %v", err)
			return
		}
		log.Printf("[tickserver] client connected: %s", r.RemoteAddr)

		c := h.register(conn)
		defer func() {
			h.unregister(conn)
			conn.Close()
			log.Printf("[tickserver] client disconnected: %s", r.RemoteAddr)
		}()

		// Read pump: subscription requests. Ends the write pump on close.
		go func() {
			defer h.unregister(conn)
			for {
				var req feed.SubscribeRequest
				if err := conn.ReadJSON(&req); err != nil {
					return
				}
				if req.Action == "subscribe" {
					c.subscribe(req.Symbols)
					log.Printf("[tickserver] %s subscribed to %v", r.RemoteAddr, req.Symbols)
				}
			}
		}()

		for msg := range c.send {
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		}
	}
}

// walkPrice moves price by up to ±0.1%, rounded to cents.
func walkPrice(rng *rand.Rand, price float64) float64 {
	pct := (rng.Float64()*0.2 - 0.1) / 100.0
	next := math.Round(price*(1+pct)*100) / 100
	if next < 0.01 {
		next = 0.01
	}
	return next
}

func runGenerator(h *hub, instruments []instrument, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	for range ticker.C {
		now := time.Now().UTC()
		for i := range instruments {
			instruments[i].Price = walkPrice(rng, instruments[i].Price)
			h.broadcast(tickMsg{Symbol: instruments[i].Symbol, Price: instruments[i].Price, TS: now})
		}
	}
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)

	addr := envOrDefault("TICK_SERVER_ADDR", ":9001")
	instruments := parseInstruments(envOrDefault("TICK_SYMBOLS", "TQQQ:60,SOXL:30"))
	intervalMs := envIntOrDefault("TICK_INTERVAL_MS", 250)
	if len(instruments) == 0 {
		log.Fatalf("[tickserver] no instruments configured via TICK_SYMBOLS")
	}
	log.Printf("[tickserver] instruments: %+v interval=%dms", instruments, intervalMs)

	h := newHub()
	go runGenerator(h, instruments, time.Duration(intervalMs)*time.Millisecond)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", wsHandler(h))
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ok", "service": "tickserver"})
	})

	log.Printf("[tickserver] listening on %s (ws://localhost%s/ws)", addr, addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Fatalf("[tickserver] server error: %v", err)
	}
}

func parseInstruments(s string) []instrument {
	var out []instrument
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		sym, priceStr, _ := strings.Cut(part, ":")
		price := 100.0
		if priceStr != "" {
			p, err := strconv.ParseFloat(priceStr, 64)
			if err != nil || p <= 0 {
				log.Printf("[tickserver] skipping invalid instrument: %q", part)
				continue
			}
			price = p
		}
		out = append(out, instrument{Symbol: strings.ToUpper(strings.TrimSpace(sym)), Price: price})
	}
	return out
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envIntOrDefault(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}
