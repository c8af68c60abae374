package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"equity-terminal/internal/engine"
	"equity-terminal/internal/events"
	"equity-terminal/internal/market"
	"equity-terminal/internal/order"
	"equity-terminal/internal/protocol"
	"equity-terminal/internal/risk"
	"equity-terminal/internal/strategy"
	"equity-terminal/internal/symbols"
	"equity-terminal/pkg/db"
)

const testSecret = "test-secret"

// fakeEngine knows one symbol, AAPL, and records the last call.
type fakeEngine struct {
	lastCall string
	lastStop float64
	lastMode string
	buyErr   error
}

func (f *fakeEngine) known(symbol string) error {
	if strings.ToUpper(symbol) != "AAPL" {
		return fmt.Errorf("%w: %s", engine.ErrUnknownSymbol, symbol)
	}
	return nil
}

func (f *fakeEngine) Connect(context.Context) error { return protocol.ErrAlreadyConnected }
func (f *fakeEngine) Login() error                  { return engine.ErrNoCredentials }
func (f *fakeEngine) Disconnect()                   { f.lastCall = "disconnect" }
func (f *fakeEngine) Subscribe(symbol string) error {
	if strings.TrimSpace(symbol) == "" || symbol == "-" {
		return engine.ErrInvalidSymbol
	}
	f.lastCall = "subscribe " + symbol
	return nil
}
func (f *fakeEngine) Unsubscribe(symbol string) error     { return f.known(symbol) }
func (f *fakeEngine) SetActiveSymbol(symbol string) error { return f.known(symbol) }
func (f *fakeEngine) Quote(symbol string) (engine.QuoteSnapshot, error) {
	if err := f.known(symbol); err != nil {
		return engine.QuoteSnapshot{}, err
	}
	return engine.QuoteSnapshot{Quote: protocol.Quote{Symbol: "AAPL", Bid: 9.99, Ask: 10.01}, AgeMs: 12}, nil
}
func (f *fakeEngine) Bars(symbol string, interval, n int) (engine.BarsSnapshot, error) {
	f.lastCall = fmt.Sprintf("bars %d %d", interval, n)
	return engine.BarsSnapshot{Symbol: "AAPL", Interval: interval, Completed: []market.Bar{}}, f.known(symbol)
}
func (f *fakeEngine) Indicators(symbol string) (symbols.Indicators, error) {
	return symbols.Indicators{VWAP: 10, SessionHigh: 10.5}, f.known(symbol)
}
func (f *fakeEngine) Strategy(symbol string) (symbols.Strategy, error) {
	return symbols.Strategy{Phase: symbols.PhaseArmed, TriggerPrice: 10}, f.known(symbol)
}
func (f *fakeEngine) Agent(symbol string) (symbols.Agent, error) {
	return symbols.Agent{Enabled: true}, f.known(symbol)
}
func (f *fakeEngine) Symbol(symbol string) (engine.SymbolSnapshot, error) {
	return engine.SymbolSnapshot{Symbol: "AAPL"}, f.known(symbol)
}
func (f *fakeEngine) Positions() []protocol.Position {
	return []protocol.Position{{Symbol: "AAPL", Quantity: 200, AvgCost: 10}}
}
func (f *fakeEngine) Orders(openOnly bool) []protocol.Order {
	f.lastCall = fmt.Sprintf("orders %v", openOnly)
	return []protocol.Order{}
}
func (f *fakeEngine) Trades() []protocol.Trade      { return []protocol.Trade{} }
func (f *fakeEngine) Account() protocol.AccountInfo { return protocol.AccountInfo{CurrentEquity: 100000} }
func (f *fakeEngine) BuyOneR(symbol string, stop float64) (order.SentOrder, error) {
	if err := f.known(symbol); err != nil {
		return order.SentOrder{}, err
	}
	f.lastCall, f.lastStop = "buy-1r", stop
	if f.buyErr != nil {
		return order.SentOrder{}, f.buyErr
	}
	return order.SentOrder{Symbol: "AAPL", Side: protocol.SideBuy, Quantity: 200, Price: 10.02, Token: "tok"}, nil
}
func (f *fakeEngine) SellAll(symbol string) (order.SentOrder, error) {
	return order.SentOrder{}, order.ErrNoPosition
}
func (f *fakeEngine) SellHalf(symbol string) (order.SentOrder, error) {
	return order.SentOrder{Symbol: "AAPL", Quantity: 100}, f.known(symbol)
}
func (f *fakeEngine) Sell70(symbol string) (order.SentOrder, error) {
	return order.SentOrder{Symbol: "AAPL", Quantity: 140}, f.known(symbol)
}
func (f *fakeEngine) AddPosition(symbol, mode string, stop float64) (order.SentOrder, error) {
	f.lastCall, f.lastMode, f.lastStop = "add", mode, stop
	return order.SentOrder{Symbol: "AAPL", Quantity: 50}, f.known(symbol)
}
func (f *fakeEngine) MoveStopToBreakeven(symbol string) (order.SentOrder, error) {
	return order.SentOrder{}, f.known(symbol)
}
func (f *fakeEngine) Cancel(id string) error {
	f.lastCall = "cancel " + id
	return nil
}
func (f *fakeEngine) CancelAll() error { return protocol.ErrNotConnected }
func (f *fakeEngine) StartStrategy(symbol, mode string, trigger float64) error {
	if _, _, err := strategy.ParseMode(mode); err != nil {
		return err
	}
	f.lastCall, f.lastMode, f.lastStop = "start", mode, trigger
	return f.known(symbol)
}
func (f *fakeEngine) StopStrategy(symbol string) error {
	f.lastCall = "stop"
	return f.known(symbol)
}
func (f *fakeEngine) SetAgent(symbol string, enabled bool) error {
	f.lastCall = fmt.Sprintf("agent %v", enabled)
	return f.known(symbol)
}
func (f *fakeEngine) StartTrailing(symbol string) error { return strategy.ErrTrailNotReady }
func (f *fakeEngine) StopTrailing(symbol string) error  { return f.known(symbol) }
func (f *fakeEngine) ToggleTrailing(symbol string) (bool, error) {
	return true, f.known(symbol)
}
func (f *fakeEngine) ResetVwap(symbol string, seed *float64) error {
	f.lastCall = "reset-vwap"
	if seed != nil {
		f.lastStop = *seed
	}
	return f.known(symbol)
}
func (f *fakeEngine) ResetSessionHigh(symbol string, seed *float64) error { return f.known(symbol) }
func (f *fakeEngine) Risk() engine.RiskSnapshot {
	return engine.RiskSnapshot{Config: risk.Config{RiskAmount: 100}}
}
func (f *fakeEngine) JournalOrders(context.Context, string, int) ([]db.Order, error) {
	return nil, engine.ErrJournalDisabled
}
func (f *fakeEngine) JournalTrades(_ context.Context, symbol string, limit int) ([]db.Trade, error) {
	f.lastCall = fmt.Sprintf("journal trades %s %d", symbol, limit)
	return []db.Trade{{ID: "T1", Symbol: "AAPL"}}, nil
}
func (f *fakeEngine) JournalCommands(context.Context, int) ([]db.Command, error) {
	return []db.Command{}, nil
}
func (f *fakeEngine) Market() market.SessionStatus { return market.SessionStatus{} }
func (f *fakeEngine) Status() engine.SystemStatus {
	return engine.SystemStatus{DryRun: true, Version: "test", Symbols: []string{"AAPL"}}
}
func (f *fakeEngine) Diagnostics() engine.Diagnostics { return engine.Diagnostics{} }

var _ engine.Service = (*fakeEngine)(nil)

func newTestAPIServer(t *testing.T) (*httptest.Server, *fakeEngine, *events.Bus) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	eng := &fakeEngine{}
	bus := events.NewBus()
	hash, err := HashPassword("StrongPass123!")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	server := NewServer(eng, bus, Options{
		JWTSecret:    testSecret,
		User:         "operator",
		PasswordHash: hash,
		WSBuffer:     16,
		RateLimit:    1000,
		RateBurst:    1000,
	}, nil)

	httpServer := httptest.NewServer(server.Router)
	t.Cleanup(httpServer.Close)
	return httpServer, eng, bus
}

func doJSONRequest(t *testing.T, client *http.Client, method, url, token string, payload any, out any) int {
	t.Helper()

	var buf bytes.Buffer
	if payload != nil {
		if err := json.NewEncoder(&buf).Encode(payload); err != nil {
			t.Fatalf("encode payload: %v", err)
		}
	}

	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode response: %v", err)
		}
	}
	return resp.StatusCode
}

func login(t *testing.T, client *http.Client, baseURL string) string {
	t.Helper()
	var loginResp struct {
		Token string `json:"token"`
	}
	status := doJSONRequest(t, client, http.MethodPost, baseURL+"/api/auth/login", "", map[string]string{
		"username": "operator",
		"password": "StrongPass123!",
	}, &loginResp)
	if status != http.StatusOK || loginResp.Token == "" {
		t.Fatalf("login failed status=%d resp=%+v", status, loginResp)
	}
	return loginResp.Token
}

type errorBody struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}

func TestLoginRejectsBadPassword(t *testing.T) {
	ts, _, _ := newTestAPIServer(t)
	var resp errorBody
	status := doJSONRequest(t, ts.Client(), http.MethodPost, ts.URL+"/api/auth/login", "", map[string]string{
		"username": "operator",
		"password": "wrong",
	}, &resp)
	if status != http.StatusUnauthorized || resp.Code != "INVALID_CREDENTIALS" {
		t.Fatalf("expected 401 INVALID_CREDENTIALS, got %d %+v", status, resp)
	}
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	ts, _, _ := newTestAPIServer(t)
	client := ts.Client()

	var resp errorBody
	if status := doJSONRequest(t, client, http.MethodGet, ts.URL+"/api/positions", "", nil, &resp); status != http.StatusUnauthorized || resp.Code != "MISSING_TOKEN" {
		t.Fatalf("expected MISSING_TOKEN, got %d %+v", status, resp)
	}
	if status := doJSONRequest(t, client, http.MethodGet, ts.URL+"/api/positions", "garbage", nil, &resp); status != http.StatusUnauthorized || resp.Code != "INVALID_TOKEN" {
		t.Fatalf("expected INVALID_TOKEN, got %d %+v", status, resp)
	}

	expired, err := GenerateToken("operator", testSecret, time.Now().Add(-time.Minute))
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	if status := doJSONRequest(t, client, http.MethodGet, ts.URL+"/api/positions", expired, nil, nil); status != http.StatusUnauthorized {
		t.Fatalf("expired token accepted: %d", status)
	}

	var status engine.SystemStatus
	if code := doJSONRequest(t, client, http.MethodGet, ts.URL+"/api/status", "", nil, &status); code != http.StatusOK || !status.DryRun {
		t.Fatalf("public status failed: %d %+v", code, status)
	}
}

func TestOrderEndpoints(t *testing.T) {
	ts, eng, _ := newTestAPIServer(t)
	client := ts.Client()
	token := login(t, client, ts.URL)

	var so order.SentOrder
	status := doJSONRequest(t, client, http.MethodPost, ts.URL+"/api/symbols/aapl/orders/buy-1r", token,
		map[string]any{"stop": 9.5}, &so)
	if status != http.StatusAccepted || so.Quantity != 200 || eng.lastStop != 9.5 {
		t.Fatalf("buy-1r status=%d order=%+v stop=%v", status, so, eng.lastStop)
	}

	// An empty body selects the smart stop.
	status = doJSONRequest(t, client, http.MethodPost, ts.URL+"/api/symbols/AAPL/orders/buy-1r", token, nil, &so)
	if status != http.StatusAccepted || eng.lastStop != 0 {
		t.Fatalf("buy-1r without body status=%d stop=%v", status, eng.lastStop)
	}

	cases := []struct {
		name   string
		method string
		path   string
		body   any
		status int
		code   string
	}{
		{"unknown symbol", http.MethodPost, "/api/symbols/MSFT/orders/buy-1r", nil, http.StatusNotFound, "UNKNOWN_SYMBOL"},
		{"negative stop", http.MethodPost, "/api/symbols/AAPL/orders/buy-1r", map[string]any{"stop": -1}, http.StatusBadRequest, "INVALID_REQUEST"},
		{"no position", http.MethodPost, "/api/symbols/AAPL/orders/sell-all", nil, http.StatusConflict, "PRECONDITION_FAILED"},
		{"bad add mode", http.MethodPost, "/api/symbols/AAPL/orders/add", map[string]any{"mode": "double"}, http.StatusBadRequest, "INVALID_REQUEST"},
		{"cancel all offline", http.MethodDelete, "/api/orders", nil, http.StatusServiceUnavailable, "GATEWAY_UNAVAILABLE"},
		{"trail not ready", http.MethodPost, "/api/symbols/AAPL/trailing/start", nil, http.StatusConflict, "PRECONDITION_FAILED"},
		{"unknown trailing action", http.MethodPost, "/api/symbols/AAPL/trailing/sideways", nil, http.StatusNotFound, "UNKNOWN_ACTION"},
		{"unknown strategy mode", http.MethodPost, "/api/symbols/AAPL/strategy/sideways", nil, http.StatusBadRequest, "INVALID_REQUEST"},
		{"journal disabled", http.MethodGet, "/api/journal/orders", nil, http.StatusServiceUnavailable, "JOURNAL_DISABLED"},
		{"gateway login without credentials", http.MethodPost, "/api/session/login", nil, http.StatusServiceUnavailable, "GATEWAY_UNAVAILABLE"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var resp errorBody
			status := doJSONRequest(t, client, tc.method, ts.URL+tc.path, token, tc.body, &resp)
			if status != tc.status || resp.Code != tc.code {
				t.Fatalf("expected %d %s, got %d %+v", tc.status, tc.code, status, resp)
			}
		})
	}

	status = doJSONRequest(t, client, http.MethodPost, ts.URL+"/api/symbols/AAPL/orders/add", token,
		map[string]any{"mode": "half-profit", "stop": 10.5}, nil)
	if status != http.StatusAccepted || eng.lastMode != "half-profit" || eng.lastStop != 10.5 {
		t.Fatalf("add status=%d mode=%q stop=%v", status, eng.lastMode, eng.lastStop)
	}

	if status := doJSONRequest(t, client, http.MethodDelete, ts.URL+"/api/orders/ORD7", token, nil, nil); status != http.StatusAccepted || eng.lastCall != "cancel ORD7" {
		t.Fatalf("cancel status=%d call=%q", status, eng.lastCall)
	}
}

func TestStrategyAndSymbolEndpoints(t *testing.T) {
	ts, eng, _ := newTestAPIServer(t)
	client := ts.Client()
	token := login(t, client, ts.URL)

	var st struct {
		Phase string `json:"phase"`
	}
	status := doJSONRequest(t, client, http.MethodPost, ts.URL+"/api/symbols/AAPL/strategy/high-breakout", token,
		map[string]any{"trigger": 12.5}, &st)
	if status != http.StatusOK || eng.lastMode != "high-breakout" || eng.lastStop != 12.5 || st.Phase != symbols.PhaseArmed.String() {
		t.Fatalf("start strategy status=%d call=%q mode=%q trigger=%v", status, eng.lastCall, eng.lastMode, eng.lastStop)
	}
	if status := doJSONRequest(t, client, http.MethodPost, ts.URL+"/api/symbols/AAPL/strategy/stop", token, nil, nil); status != http.StatusOK || eng.lastCall != "stop" {
		t.Fatalf("stop strategy status=%d call=%q", status, eng.lastCall)
	}
	if status := doJSONRequest(t, client, http.MethodPost, ts.URL+"/api/symbols/AAPL/agent/disable", token, nil, nil); status != http.StatusOK || eng.lastCall != "agent false" {
		t.Fatalf("agent status=%d call=%q", status, eng.lastCall)
	}

	var ind symbols.Indicators
	status = doJSONRequest(t, client, http.MethodPost, ts.URL+"/api/symbols/AAPL/reset/vwap", token,
		map[string]any{"value": 9.75}, &ind)
	if status != http.StatusOK || eng.lastStop != 9.75 || ind.VWAP != 10 {
		t.Fatalf("reset vwap status=%d seed=%v ind=%+v", status, eng.lastStop, ind)
	}

	if status := doJSONRequest(t, client, http.MethodPost, ts.URL+"/api/symbols/tsla", token, nil, nil); status != http.StatusCreated || eng.lastCall != "subscribe tsla" {
		t.Fatalf("subscribe status=%d call=%q", status, eng.lastCall)
	}
	var resp errorBody
	if status := doJSONRequest(t, client, http.MethodPut, ts.URL+"/api/symbols/active", token, map[string]any{"symbol": "MSFT"}, &resp); status != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown active symbol, got %d %+v", status, resp)
	}

	var bars engine.BarsSnapshot
	if status := doJSONRequest(t, client, http.MethodGet, ts.URL+"/api/symbols/AAPL/bars?interval=300&n=5000", token, nil, &bars); status != http.StatusOK || eng.lastCall != "bars 300 1000" {
		t.Fatalf("bars status=%d call=%q", status, eng.lastCall)
	}

	var q engine.QuoteSnapshot
	if status := doJSONRequest(t, client, http.MethodGet, ts.URL+"/api/symbols/AAPL/quote", token, nil, &q); status != http.StatusOK || q.Ask != 10.01 || q.AgeMs != 12 {
		t.Fatalf("quote status=%d quote=%+v", status, q)
	}

	var trades []db.Trade
	if status := doJSONRequest(t, client, http.MethodGet, ts.URL+"/api/journal/trades?symbol=AAPL&limit=0", token, nil, &trades); status != http.StatusOK || len(trades) != 1 || eng.lastCall != "journal trades AAPL 100" {
		t.Fatalf("journal trades status=%d call=%q", status, eng.lastCall)
	}

	if status := doJSONRequest(t, client, http.MethodGet, ts.URL+"/api/orders?open=true", token, nil, nil); status != http.StatusOK || eng.lastCall != "orders true" {
		t.Fatalf("orders status=%d call=%q", status, eng.lastCall)
	}
}

func TestWebsocketStreamsBusEvents(t *testing.T) {
	ts, _, bus := newTestAPIServer(t)
	token := login(t, ts.Client(), ts.URL)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/ws?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// The subscription is registered after the upgrade; keep publishing until
	// one envelope arrives.
	got := make(chan events.Envelope, 1)
	go func() {
		var env events.Envelope
		if err := conn.ReadJSON(&env); err == nil {
			got <- env
		}
	}()
	deadline := time.After(2 * time.Second)
	for {
		bus.Publish(events.EventActiveChanged, events.SymbolChange{Symbol: "AAPL"})
		select {
		case env := <-got:
			if env.Event != events.EventActiveChanged {
				t.Fatalf("unexpected event %q", env.Event)
			}
			return
		case <-deadline:
			t.Fatal("no event received over websocket")
		case <-time.After(20 * time.Millisecond):
		}
	}
}

func TestHealthFollowsSession(t *testing.T) {
	bus := events.NewBus()
	h := NewHealthServer(bus, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.Follow(ctx)

	check := func(want healthpb.HealthCheckResponse_ServingStatus) {
		t.Helper()
		deadline := time.Now().Add(2 * time.Second)
		for {
			got, err := h.Check(context.Background(), GatewayService)
			if err != nil {
				t.Fatalf("Check: %v", err)
			}
			if got == want {
				return
			}
			if time.Now().After(deadline) {
				t.Fatalf("status=%v, expected %v", got, want)
			}
			time.Sleep(5 * time.Millisecond)
		}
	}

	check(healthpb.HealthCheckResponse_NOT_SERVING)
	bus.Publish(events.EventLoginResult, events.LoginResult{Success: true})
	check(healthpb.HealthCheckResponse_SERVING)
	bus.Publish(events.EventDisconnected, events.Disconnected{Err: "EOF"})
	check(healthpb.HealthCheckResponse_NOT_SERVING)

	if got, err := h.Check(context.Background(), ""); err != nil || got != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("liveness=%v err=%v", got, err)
	}
}
