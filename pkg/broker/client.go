// Package broker is a small REST client for the overseas-equity order API.
// It logs in with an app key/secret plus a TOTP code, keeps the access token
// fresh, places MARKET and LIMIT_ON_CLOSE orders and reads account equity.
//
// Usage example:
//
//	bc := broker.New(broker.Config{BaseURL: url, AppKey: key, AppSecret: secret, Account: acct, TOTPSecret: seed})
//	if err := bc.Login(ctx); err != nil { log.Fatal(err) }
//	orderID, err := bc.Place(ctx, intent, clOrdID)
package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pquerna/otp/totp"

	"kdtrader/internal/model"
)

// ErrTokenExpired is returned when the API rejects the access token.
var ErrTokenExpired = errors.New("broker: token expired")

// Config holds the broker credentials and endpoint.
type Config struct {
	BaseURL    string
	AppKey     string
	AppSecret  string
	Account    string
	TOTPSecret string        // base32 seed; empty skips the one-time code
	Timeout    time.Duration // default: 7s
	Debug      bool
}

const defaultTimeout = 7 * time.Second

var routes = map[string]string{
	"auth.token":      "/oauth2/token",
	"order.place":     "/v1/trading/order",
	"account.balance": "/v1/trading/balance",
}

// Client is safe for concurrent use.
type Client struct {
	cfg        Config
	httpClient *http.Client
	now        func() time.Time

	mu          sync.Mutex
	accessToken string
	expiresAt   time.Time

	// Optional callback when the API reports an expired token.
	SessionExpiryHook func()
}

// New creates a client. It does not log in.
func New(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		now:        time.Now,
	}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"` // seconds
}

// envelope is the common response shape: {"status":true,"message":"","data":{...}}.
type envelope struct {
	Status    bool            `json:"status"`
	Message   string          `json:"message"`
	ErrorCode string          `json:"error_code"`
	Data      json.RawMessage `json:"data"`
}

// Login exchanges the app credentials and a fresh TOTP code for an access token.
func (c *Client) Login(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loginLocked(ctx)
}

func (c *Client) loginLocked(ctx context.Context) error {
	params := map[string]any{
		"grant_type": "client_credentials",
		"appkey":     c.cfg.AppKey,
		"appsecret":  c.cfg.AppSecret,
	}
	if c.cfg.TOTPSecret != "" {
		code, err := totp.GenerateCode(c.cfg.TOTPSecret, c.now())
		if err != nil {
			return fmt.Errorf("broker: totp: %w", err)
		}
		params["otp"] = code
	}

	raw, status, err := c.do(ctx, http.MethodPost, "auth.token", params, "")
	if err != nil {
		return fmt.Errorf("broker: login: %w", err)
	}
	if status != http.StatusOK {
		return fmt.Errorf("broker: login: http %d: %s", status, raw)
	}
	var tr tokenResponse
	if err := json.Unmarshal(raw, &tr); err != nil {
		return fmt.Errorf("broker: login: %w", err)
	}
	if tr.AccessToken == "" {
		return errors.New("broker: login: empty access token")
	}
	c.accessToken = tr.AccessToken
	c.expiresAt = c.now().Add(time.Duration(tr.ExpiresIn) * time.Second)
	log.Printf("[broker] session established, expires %s", c.expiresAt.Format(time.RFC3339))
	return nil
}

// token returns a valid access token, logging in again within a minute of expiry.
func (c *Client) token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.accessToken == "" || c.now().After(c.expiresAt.Add(-time.Minute)) {
		if err := c.loginLocked(ctx); err != nil {
			return "", err
		}
	}
	return c.accessToken, nil
}

func (c *Client) invalidate() {
	c.mu.Lock()
	c.accessToken = ""
	c.mu.Unlock()
	if c.SessionExpiryHook != nil {
		c.SessionExpiryHook()
	}
}

// Place submits one order and returns the broker order id. An expired token
// triggers one re-login and retry.
func (c *Client) Place(ctx context.Context, intent model.OrderIntent, clOrdID string) (string, error) {
	params := map[string]any{
		"account":         c.cfg.Account,
		"symbol":          intent.Symbol,
		"side":            string(intent.Side),
		"qty":             intent.Qty,
		"order_type":      intent.Type.Short(),
		"client_order_id": clOrdID,
	}
	if intent.HasLimit() {
		params["price"] = strconv.FormatFloat(intent.LimitPrice, 'f', 4, 64)
	}

	var out struct {
		OrderID string `json:"order_id"`
	}
	if err := c.call(ctx, http.MethodPost, "order.place", params, &out); err != nil {
		return "", err
	}
	if out.OrderID == "" {
		return "", errors.New("broker: place: empty order id")
	}
	return out.OrderID, nil
}

// ReadEquity returns the account's total equity.
func (c *Client) ReadEquity(ctx context.Context) (float64, error) {
	var out struct {
		Equity json.Number `json:"equity"`
	}
	if err := c.call(ctx, http.MethodGet, "account.balance", map[string]any{"account": c.cfg.Account}, &out); err != nil {
		return 0, err
	}
	return out.Equity.Float64()
}

func (c *Client) call(ctx context.Context, method, route string, params map[string]any, out any) error {
	for attempt := 0; ; attempt++ {
		tok, err := c.token(ctx)
		if err != nil {
			return err
		}
		raw, status, err := c.do(ctx, method, route, params, tok)
		if err != nil {
			return fmt.Errorf("broker: %s: %w", route, err)
		}
		err = decode(raw, status, out)
		if errors.Is(err, ErrTokenExpired) && attempt == 0 {
			c.invalidate()
			continue
		}
		if err != nil {
			return fmt.Errorf("broker: %s: %w", route, err)
		}
		return nil
	}
}

func decode(raw []byte, status int, out any) error {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("couldn't parse JSON response (http %d): %w", status, err)
	}
	if status == http.StatusUnauthorized || env.ErrorCode == "TokenException" {
		return ErrTokenExpired
	}
	if status != http.StatusOK || !env.Status {
		return fmt.Errorf("http %d %s: %s", status, env.ErrorCode, env.Message)
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	return json.Unmarshal(env.Data, out)
}

func (c *Client) do(ctx context.Context, method, route string, params map[string]any, token string) ([]byte, int, error) {
	uri, ok := routes[route]
	if !ok {
		return nil, 0, fmt.Errorf("unknown route: %s", route)
	}
	reqURL := c.cfg.BaseURL + uri

	var body io.Reader
	if method == http.MethodGet {
		if len(params) > 0 {
			q := url.Values{}
			for k, v := range params {
				q.Set(k, fmt.Sprint(v))
			}
			reqURL += "?" + q.Encode()
		}
	} else {
		b, err := json.Marshal(params)
		if err != nil {
			return nil, 0, err
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, body)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("appkey", c.cfg.AppKey)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	if c.cfg.Debug {
		log.Printf("[broker] request: %s %s", method, reqURL)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	if c.cfg.Debug {
		log.Printf("[broker] response: code=%d body=%s", resp.StatusCode, raw)
	}
	return raw, resp.StatusCode, nil
}
