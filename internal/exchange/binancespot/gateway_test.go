package binancespot

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dca_grid/internal/core"
	apperrors "dca_grid/pkg/errors"
	httpclient "dca_grid/pkg/http"
)

// MockLogger for testing
type MockLogger struct{}

func (m *MockLogger) Debug(msg string, fields ...interface{})               {}
func (m *MockLogger) Info(msg string, fields ...interface{})                {}
func (m *MockLogger) Warn(msg string, fields ...interface{})                {}
func (m *MockLogger) Error(msg string, fields ...interface{})               {}
func (m *MockLogger) Fatal(msg string, fields ...interface{})               {}
func (m *MockLogger) WithField(key string, value interface{}) core.ILogger  { return m }
func (m *MockLogger) WithFields(fields map[string]interface{}) core.ILogger { return m }

func newTestGateway(serverURL string) *Gateway {
	return New(Config{
		APIKey:    "test_key",
		APISecret: "test_secret",
		BaseURL:   serverURL,
		WSBaseURL: "ws://127.0.0.1:0/ws",
		Timeout:   5 * time.Second,
		RateLimit: 1000,
		RateBurst: 1000,
	}, &MockLogger{})
}

// verifySignature recomputes the HMAC over the received query minus the
// signature parameter
func verifySignature(t *testing.T, q url.Values, secret string) {
	t.Helper()
	sig := q.Get("signature")
	require.NotEmpty(t, sig)
	require.NotEmpty(t, q.Get("timestamp"))

	q.Del("signature")
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(q.Encode()))
	assert.Equal(t, hex.EncodeToString(mac.Sum(nil)), sig)
}

func TestGateway_Defaults(t *testing.T) {
	g := New(Config{APIKey: "k", APISecret: "s"}, &MockLogger{})
	assert.Equal(t, "binance", g.Name())
	assert.Equal(t, mainnetURL, g.cfg.BaseURL)
	assert.Equal(t, mainnetWSURL, g.cfg.WSBaseURL)
	assert.Equal(t, 25*time.Minute, g.cfg.ListenKeyInterval)

	tg := New(Config{APIKey: "k", APISecret: "s", Testnet: true}, &MockLogger{})
	assert.Equal(t, testnetURL, tg.cfg.BaseURL)
	assert.Equal(t, testnetWSURL, tg.cfg.WSBaseURL)
}

func TestRequestSigner_SignedPath(t *testing.T) {
	s := &requestSigner{apiKey: "test_key", apiSecret: "test_secret"}
	req, err := http.NewRequest(http.MethodGet, "https://api.binance.com/api/v3/order?symbol=BTCUSDT&orderId=42", nil)
	require.NoError(t, err)

	require.NoError(t, s.SignRequest(req))

	assert.Equal(t, "test_key", req.Header.Get("X-MBX-APIKEY"))
	q := req.URL.Query()
	assert.Equal(t, "BTCUSDT", q.Get("symbol"))
	verifySignature(t, q, "test_secret")
}

func TestRequestSigner_TickerUnsigned(t *testing.T) {
	s := &requestSigner{apiKey: "test_key", apiSecret: "test_secret"}
	req, err := http.NewRequest(http.MethodGet, "https://api.binance.com/api/v3/ticker/price?symbol=BTCUSDT", nil)
	require.NoError(t, err)

	require.NoError(t, s.SignRequest(req))

	assert.Empty(t, req.Header.Get("X-MBX-APIKEY"))
	assert.Empty(t, req.URL.Query().Get("signature"))
	assert.Empty(t, req.URL.Query().Get("timestamp"))
}

func TestRequestSigner_ListenKeyHeaderOnly(t *testing.T) {
	s := &requestSigner{apiKey: "test_key", apiSecret: "test_secret"}
	req, err := http.NewRequest(http.MethodPost, "https://api.binance.com/api/v3/userDataStream", nil)
	require.NoError(t, err)

	require.NoError(t, s.SignRequest(req))

	assert.Equal(t, "test_key", req.Header.Get("X-MBX-APIKEY"))
	assert.Empty(t, req.URL.Query().Get("signature"))
}

func TestTickerPrice(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/ticker/price", r.URL.Path)
		assert.Equal(t, "BTCUSDT", r.URL.Query().Get("symbol"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"symbol":"BTCUSDT","price":"25000.00000000"}`))
	}))
	defer server.Close()

	g := newTestGateway(server.URL)
	price, err := g.TickerPrice(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.True(t, price.Equal(decimal.NewFromInt(25000)), "got %s", price)
}

func TestTickerPrice_RetriesTransportFailure(t *testing.T) {
	attempt := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempt++
		if attempt == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"symbol":"BTCUSDT","price":"25100.5"}`))
	}))
	defer server.Close()

	g := newTestGateway(server.URL)
	price, err := g.TickerPrice(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 2, attempt)
	assert.True(t, price.Equal(decimal.RequireFromString("25100.5")))
}

func TestNewOrder(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v3/order", r.URL.Path)
		assert.Equal(t, "test_key", r.Header.Get("X-MBX-APIKEY"))

		q := r.URL.Query()
		assert.Equal(t, "BTCUSDT", q.Get("symbol"))
		assert.Equal(t, "BUY", q.Get("side"))
		assert.Equal(t, "LIMIT", q.Get("type"))
		assert.Equal(t, "GTC", q.Get("timeInForce"))
		assert.Equal(t, "0.008", q.Get("quantity"))
		assert.Equal(t, "24750", q.Get("price"))
		assert.Equal(t, "RESULT", q.Get("newOrderRespType"))
		assert.Equal(t, "bot1-c1-1", q.Get("newClientOrderId"))
		verifySignature(t, q, "test_secret")

		w.Write([]byte(`{"symbol":"BTCUSDT","orderId":12345,"clientOrderId":"bot1-c1-1",` +
			`"transactTime":1700000000000,"price":"24750.00000000","origQty":"0.00800000",` +
			`"executedQty":"0.00000000","status":"NEW","side":"BUY"}`))
	}))
	defer server.Close()

	g := newTestGateway(server.URL)
	ack, err := g.NewOrder(context.Background(), core.OrderRequest{
		Symbol:        "BTCUSDT",
		Side:          core.SideBuy,
		Type:          core.OrderTypeLimit,
		TimeInForce:   core.TimeInForceGTC,
		Price:         decimal.NewFromInt(24750),
		Quantity:      decimal.RequireFromString("0.008"),
		ClientOrderID: "bot1-c1-1",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(12345), ack.OrderID)
	assert.Equal(t, "bot1-c1-1", ack.ClientOrderID)
	assert.Equal(t, core.OrderStatusNew, ack.Status)
	assert.Equal(t, core.SideBuy, ack.Side)
	assert.True(t, ack.Price.Equal(decimal.NewFromInt(24750)))
	assert.True(t, ack.OrigQty.Equal(decimal.RequireFromString("0.008")))
	assert.Equal(t, int64(1700000000000), ack.TransactTime)
	assert.NotEmpty(t, ack.Raw)
}

func TestNewOrder_InsufficientFunds(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"code":-2010,"msg":"Account has insufficient balance for requested action."}`))
	}))
	defer server.Close()

	g := newTestGateway(server.URL)
	_, err := g.NewOrder(context.Background(), core.OrderRequest{Symbol: "BTCUSDT", Side: core.SideBuy})
	assert.ErrorIs(t, err, apperrors.ErrInsufficientFunds)
	assert.True(t, apperrors.IsValidation(err))
}

func TestNewOrder_DuplicateClientID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"code":-2010,"msg":"Duplicate order sent."}`))
	}))
	defer server.Close()

	g := newTestGateway(server.URL)
	_, err := g.NewOrder(context.Background(), core.OrderRequest{Symbol: "BTCUSDT", Side: core.SideBuy})
	assert.ErrorIs(t, err, apperrors.ErrDuplicateOrder)
	assert.True(t, apperrors.IsAlreadyTerminal(err))
}

func TestNewOrder_RejectedParameter(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"code":-1013,"msg":"Filter failure: MIN_NOTIONAL"}`))
	}))
	defer server.Close()

	g := newTestGateway(server.URL)
	_, err := g.NewOrder(context.Background(), core.OrderRequest{Symbol: "BTCUSDT", Side: core.SideBuy})
	assert.ErrorIs(t, err, apperrors.ErrInvalidOrderParameter)
	assert.Contains(t, err.Error(), "MIN_NOTIONAL")
}

func TestCancelOrder(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "42", r.URL.Query().Get("orderId"))
		w.Write([]byte(`{"symbol":"BTCUSDT","orderId":42,"origClientOrderId":"bot1-c1-2",` +
			`"status":"CANCELED","price":"24131.25","origQty":"0.0084","executedQty":"0.0000","side":"BUY"}`))
	}))
	defer server.Close()

	g := newTestGateway(server.URL)
	ack, err := g.CancelOrder(context.Background(), "BTCUSDT", 42)
	require.NoError(t, err)
	assert.Equal(t, core.OrderStatusCanceled, ack.Status)
	assert.Equal(t, "bot1-c1-2", ack.ClientOrderID)
}

func TestCancelOrder_UnknownOrderFoldsToVenueState(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodDelete {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"code":-2011,"msg":"Unknown order sent."}`))
			return
		}
		// Cancel raced a fill: the venue reports the order terminal
		assert.Equal(t, http.MethodGet, r.Method)
		w.Write([]byte(`{"symbol":"BTCUSDT","orderId":42,"clientOrderId":"bot1-c1-2",` +
			`"status":"FILLED","price":"24131.25","origQty":"0.0084","executedQty":"0.0084","side":"BUY","time":1700000000000}`))
	}))
	defer server.Close()

	g := newTestGateway(server.URL)
	ack, err := g.CancelOrder(context.Background(), "BTCUSDT", 42)
	require.NoError(t, err)
	assert.Equal(t, core.OrderStatusFilled, ack.Status)
	assert.True(t, ack.ExecutedQty.Equal(decimal.RequireFromString("0.0084")))
}

func TestCancelOrder_UnknownEverywhereSynthesizesCanceled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"code":-2011,"msg":"Unknown order sent."}`))
	}))
	defer server.Close()

	g := newTestGateway(server.URL)
	ack, err := g.CancelOrder(context.Background(), "BTCUSDT", 42)
	require.NoError(t, err)
	assert.Equal(t, core.OrderStatusCanceled, ack.Status)
	assert.True(t, ack.ExecutedQty.IsZero())
	assert.Equal(t, int64(42), ack.OrderID)
}

func TestGetOrder(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/order", r.URL.Path)
		w.Write([]byte(`{"symbol":"BTCUSDT","orderId":7,"clientOrderId":"bot1-c1-6",` +
			`"status":"PARTIALLY_FILLED","price":"24433.07","origQty":"0.0164","executedQty":"0.0100",` +
			`"side":"SELL","time":1700000000123}`))
	}))
	defer server.Close()

	g := newTestGateway(server.URL)
	ack, err := g.GetOrder(context.Background(), "BTCUSDT", 7)
	require.NoError(t, err)
	assert.Equal(t, core.OrderStatusPartiallyFilled, ack.Status)
	assert.Equal(t, core.SideSell, ack.Side)
	assert.Equal(t, int64(1700000000123), ack.TransactTime)
}

func TestGetOrder_AuthFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"code":-2015,"msg":"Invalid API-key, IP, or permissions for action."}`))
	}))
	defer server.Close()

	g := newTestGateway(server.URL)
	_, err := g.GetOrder(context.Background(), "BTCUSDT", 7)
	assert.ErrorIs(t, err, apperrors.ErrAuthenticationFailed)
	assert.True(t, apperrors.IsFatal(err))
}

func TestGetOpenOrders(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/openOrders", r.URL.Path)
		assert.Equal(t, "BTCUSDT", r.URL.Query().Get("symbol"))
		w.Write([]byte(`[
			{"symbol":"BTCUSDT","orderId":1,"clientOrderId":"bot1-c1-1","status":"NEW","price":"24750","origQty":"0.008","executedQty":"0","side":"BUY"},
			{"symbol":"BTCUSDT","orderId":2,"clientOrderId":"bot1-c1-2","status":"PARTIALLY_FILLED","price":"24131.25","origQty":"0.0084","executedQty":"0.004","side":"BUY"}
		]`))
	}))
	defer server.Close()

	g := newTestGateway(server.URL)
	acks, err := g.GetOpenOrders(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	require.Len(t, acks, 2)
	assert.Equal(t, int64(1), acks[0].OrderID)
	assert.Equal(t, core.OrderStatusPartiallyFilled, acks[1].Status)
	assert.True(t, acks[1].ExecutedQty.Equal(decimal.RequireFromString("0.004")))
}

func TestGetBalances(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/account", r.URL.Path)
		verifySignature(t, r.URL.Query(), "test_secret")
		w.Write([]byte(`{"balances":[
			{"asset":"BTC","free":"0.5","locked":"0.1"},
			{"asset":"USDT","free":"1000.00","locked":"250.00"},
			{"asset":"BNB","free":"0.00000000","locked":"0.00000000"}
		]}`))
	}))
	defer server.Close()

	g := newTestGateway(server.URL)

	all, err := g.GetBalances(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, all, 2, "zero balances are dropped without a filter")

	usdt, err := g.GetBalances(context.Background(), []string{"usdt"})
	require.NoError(t, err)
	require.Len(t, usdt, 1)
	assert.Equal(t, "USDT", usdt[0].Asset)
	assert.True(t, usdt[0].Free.Equal(decimal.NewFromInt(1000)))
	assert.True(t, usdt[0].Locked.Equal(decimal.NewFromInt(250)))
}

func TestListenKeyLifecycle(t *testing.T) {
	var keptAlive bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/userDataStream", r.URL.Path)
		assert.Equal(t, "test_key", r.Header.Get("X-MBX-APIKEY"))
		assert.Empty(t, r.URL.Query().Get("signature"))

		switch r.Method {
		case http.MethodPost:
			w.Write([]byte(`{"listenKey":"abcdef123456"}`))
		case http.MethodPut:
			assert.Equal(t, "abcdef123456", r.URL.Query().Get("listenKey"))
			keptAlive = true
			w.Write([]byte(`{}`))
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}))
	defer server.Close()

	g := newTestGateway(server.URL)

	key, err := g.NewListenKey(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "abcdef123456", key)

	require.NoError(t, g.KeepAliveListenKey(context.Background(), key))
	assert.True(t, keptAlive)
}

func TestMapError_PlainHTTPFailures(t *testing.T) {
	g := newTestGateway("http://127.0.0.1:0")

	assert.NoError(t, g.mapError(nil))

	rateLimited := g.mapError(&httpclient.APIError{StatusCode: http.StatusTooManyRequests, Body: []byte("slow down")})
	assert.ErrorIs(t, rateLimited, apperrors.ErrRateLimitExceeded)

	gatewayDown := g.mapError(&httpclient.APIError{StatusCode: http.StatusBadGateway, Body: []byte("bad gateway")})
	assert.ErrorIs(t, gatewayDown, apperrors.ErrNetwork)

	transport := g.mapError(errors.New("dial tcp: connection refused"))
	assert.ErrorIs(t, transport, apperrors.ErrNetwork)
	assert.True(t, apperrors.IsTransient(transport))
}
