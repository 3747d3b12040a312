package broker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"

	"kdtrader/internal/model"
)

const testSeed = "JBSWY3DPEHPK3PXP"

type fakeBroker struct {
	logins   atomic.Int32
	orders   atomic.Int32
	expireAt int32 // order call number answered with 401

	mu       sync.Mutex
	lastBody map[string]any
	lastOTP  string
}

func (f *fakeBroker) body() map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastBody
}

func (f *fakeBroker) otp() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastOTP
}

func (f *fakeBroker) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		f.lastOTP = body["otp"]
		f.mu.Unlock()
		n := f.logins.Add(1)
		json.NewEncoder(w).Encode(map[string]any{"access_token": "tok-" + string(rune('0'+n)), "expires_in": 3600})
	})
	mux.HandleFunc("/v1/trading/order", func(w http.ResponseWriter, r *http.Request) {
		n := f.orders.Add(1)
		if n == f.expireAt {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"status":false,"error_code":"TokenException","message":"expired"}`))
			return
		}
		if r.Header.Get("Authorization") == "" {
			t.Errorf("missing bearer token")
		}
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		f.lastBody = body
		f.mu.Unlock()
		w.Write([]byte(`{"status":true,"data":{"order_id":"B-77"}}`))
	})
	mux.HandleFunc("/v1/trading/balance", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("account") != "ACC1" {
			t.Errorf("account query = %q", r.URL.Query().Get("account"))
		}
		w.Write([]byte(`{"status":true,"data":{"equity":"12345.67"}}`))
	})
	return mux
}

func newTestClient(t *testing.T, f *fakeBroker) *Client {
	srv := httptest.NewServer(f.handler(t))
	t.Cleanup(srv.Close)
	return New(Config{BaseURL: srv.URL + "/", AppKey: "k", AppSecret: "s", Account: "ACC1", TOTPSecret: testSeed})
}

func TestClient_LoginSendsTOTP(t *testing.T) {
	f := &fakeBroker{}
	c := newTestClient(t, f)
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return fixed }

	if err := c.Login(context.Background()); err != nil {
		t.Fatalf("Login: %v", err)
	}
	want, _ := totp.GenerateCode(testSeed, fixed)
	if got := f.otp(); got != want {
		t.Fatalf("otp = %q, want %q", got, want)
	}
}

func TestClient_PlaceLogsInLazily(t *testing.T) {
	f := &fakeBroker{}
	c := newTestClient(t, f)

	id, err := c.Place(context.Background(), model.OrderIntent{
		Symbol: "TQQQ", Side: model.SideBuy, Qty: 3, Type: model.OrderLimitOnClose, LimitPrice: 55.5,
	}, "cl-1")
	if err != nil {
		t.Fatalf("Place: %v", err)
	}
	if id != "B-77" {
		t.Errorf("order id = %q", id)
	}
	if f.logins.Load() != 1 {
		t.Errorf("logins = %d, want 1", f.logins.Load())
	}
	if body := f.body(); body["order_type"] != "LOC" || body["price"] != "55.5000" || body["client_order_id"] != "cl-1" {
		t.Errorf("order body = %v", body)
	}

	// Token is reused.
	if _, err := c.Place(context.Background(), model.OrderIntent{Symbol: "TQQQ", Side: model.SideSell, Qty: 3, Type: model.OrderMarket}, "cl-2"); err != nil {
		t.Fatalf("Place market: %v", err)
	}
	if f.logins.Load() != 1 {
		t.Errorf("token not reused, logins = %d", f.logins.Load())
	}
	body := f.body()
	if _, ok := body["price"]; ok {
		t.Error("market order should not carry a price")
	}
	if body["order_type"] != "MKT" || body["client_order_id"] != "cl-2" {
		t.Errorf("market body = %v", body)
	}
}

func TestClient_ReloginOnExpiredToken(t *testing.T) {
	f := &fakeBroker{expireAt: 1}
	c := newTestClient(t, f)
	var expired atomic.Int32
	c.SessionExpiryHook = func() { expired.Add(1) }

	id, err := c.Place(context.Background(), model.OrderIntent{Symbol: "X", Side: model.SideBuy, Qty: 1, Type: model.OrderMarket}, "cl")
	if err != nil {
		t.Fatalf("Place: %v", err)
	}
	if id != "B-77" || f.logins.Load() != 2 || expired.Load() != 1 {
		t.Fatalf("id=%s logins=%d expired=%d", id, f.logins.Load(), expired.Load())
	}
}

func TestClient_ReadEquity(t *testing.T) {
	c := newTestClient(t, &fakeBroker{})
	eq, err := c.ReadEquity(context.Background())
	if err != nil {
		t.Fatalf("ReadEquity: %v", err)
	}
	if eq != 12345.67 {
		t.Errorf("equity = %v", eq)
	}
}

func TestClient_RejectedOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/oauth2/token" {
			w.Write([]byte(`{"access_token":"t","expires_in":3600}`))
			return
		}
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"status":false,"error_code":"EX01","message":"insufficient buying power"}`))
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL})
	_, err := c.Place(context.Background(), model.OrderIntent{Symbol: "X", Side: model.SideBuy, Qty: 1, Type: model.OrderMarket}, "cl")
	if err == nil {
		t.Fatal("expected rejection error")
	}
}
