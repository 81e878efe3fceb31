// Package binancespot implements the spot exchange gateway: signed REST for
// orders and balances, the user-data and ticker websocket streams, and the
// listen key lifecycle. One Gateway per credential; bots never share one.
package binancespot

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"dca_grid/internal/core"
	"dca_grid/internal/exchange/base"
	apperrors "dca_grid/pkg/errors"
	httpclient "dca_grid/pkg/http"
	"dca_grid/pkg/retry"
)

const (
	mainnetURL   = "https://api.binance.com"
	mainnetWSURL = "wss://stream.binance.com:9443/ws"
	testnetURL   = "https://testnet.binance.vision"
	testnetWSURL = "wss://stream.testnet.binance.vision/ws"
)

// Config carries one credential's gateway settings
type Config struct {
	APIKey    string
	APISecret string
	Testnet   bool
	// BaseURL / WSBaseURL override the venue defaults when set
	BaseURL   string
	WSBaseURL string

	Timeout           time.Duration
	RateLimit         float64
	RateBurst         int
	ListenKeyInterval time.Duration
}

func (c *Config) applyDefaults() {
	if c.BaseURL == "" {
		if c.Testnet {
			c.BaseURL = testnetURL
		} else {
			c.BaseURL = mainnetURL
		}
	}
	if c.WSBaseURL == "" {
		if c.Testnet {
			c.WSBaseURL = testnetWSURL
		} else {
			c.WSBaseURL = mainnetWSURL
		}
	}
	if c.Timeout == 0 {
		c.Timeout = 10 * time.Second
	}
	if c.RateLimit == 0 {
		c.RateLimit = 10
	}
	if c.RateBurst == 0 {
		c.RateBurst = 20
	}
	if c.ListenKeyInterval == 0 {
		// Venue expires listen keys after 60 minutes; renew well inside that
		c.ListenKeyInterval = 25 * time.Minute
	}
}

// Gateway implements core.IExchangeGateway against the spot REST and
// websocket APIs
type Gateway struct {
	*base.Adapter
	cfg     Config
	rest    *httpclient.Client
	limiter *rate.Limiter
}

// New creates a gateway for one credential
func New(cfg Config, logger core.ILogger) *Gateway {
	cfg.applyDefaults()

	signer := &requestSigner{apiKey: cfg.APIKey, apiSecret: cfg.APISecret}
	return &Gateway{
		Adapter: base.NewAdapter("binance", logger),
		cfg:     cfg,
		rest:    httpclient.NewClient(cfg.BaseURL, cfg.Timeout, signer),
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst),
	}
}

// requestSigner implements httpclient.Signer with the venue's HMAC-SHA256
// scheme. Market data paths stay unsigned; listen key paths authenticate
// with the API key header alone.
type requestSigner struct {
	apiKey    string
	apiSecret string
}

func (s *requestSigner) SignRequest(req *http.Request) error {
	if strings.HasPrefix(req.URL.Path, "/api/v3/ticker") {
		return nil
	}

	req.Header.Set("X-MBX-APIKEY", s.apiKey)
	if strings.HasPrefix(req.URL.Path, "/api/v3/userDataStream") {
		return nil
	}

	q := req.URL.Query()
	if q.Get("timestamp") == "" {
		q.Set("timestamp", fmt.Sprintf("%d", time.Now().UnixMilli()))
	}

	queryString := q.Encode()
	mac := hmac.New(sha256.New, []byte(s.apiSecret))
	mac.Write([]byte(queryString))
	q.Set("signature", hex.EncodeToString(mac.Sum(nil)))
	req.URL.RawQuery = q.Encode()

	return nil
}

// rawOrder is the venue's order payload shape shared by every order endpoint
type rawOrder struct {
	OrderID       int64  `json:"orderId"`
	ClientOrderID string `json:"clientOrderId"`
	OrigClientID  string `json:"origClientOrderId"`
	Symbol        string `json:"symbol"`
	Status        string `json:"status"`
	Price         string `json:"price"`
	OrigQty       string `json:"origQty"`
	ExecutedQty   string `json:"executedQty"`
	Side          string `json:"side"`
	TransactTime  int64  `json:"transactTime"`
	Time          int64  `json:"time"`
}

func (g *Gateway) toAck(raw rawOrder, body []byte) *core.OrderAck {
	clientID := raw.ClientOrderID
	if clientID == "" {
		clientID = raw.OrigClientID
	}
	transact := raw.TransactTime
	if transact == 0 {
		transact = raw.Time
	}
	return &core.OrderAck{
		OrderID:       raw.OrderID,
		ClientOrderID: clientID,
		Symbol:        raw.Symbol,
		Side:          core.Side(raw.Side),
		Status:        core.OrderStatus(raw.Status),
		Price:         g.ParseDecimal(raw.Price),
		OrigQty:       g.ParseDecimal(raw.OrigQty),
		ExecutedQty:   g.ParseDecimal(raw.ExecutedQty),
		TransactTime:  transact,
		Raw:           body,
	}
}

// mapError folds transport failures and venue error codes into the shared
// error taxonomy
func (g *Gateway) mapError(err error) error {
	if err == nil {
		return nil
	}

	var apiErr *httpclient.APIError
	if !errors.As(err, &apiErr) {
		return fmt.Errorf("%w: %v", apperrors.ErrNetwork, err)
	}

	var venue struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	}
	if jsonErr := json.Unmarshal(apiErr.Body, &venue); jsonErr != nil || venue.Code == 0 {
		switch {
		case apiErr.StatusCode == http.StatusTooManyRequests:
			return apperrors.ErrRateLimitExceeded
		case apiErr.StatusCode >= 500:
			return fmt.Errorf("%w: status %d", apperrors.ErrNetwork, apiErr.StatusCode)
		}
		return err
	}

	switch venue.Code {
	case -2014, -2015:
		return apperrors.ErrAuthenticationFailed
	case -1013, -1111:
		return fmt.Errorf("%s: %w", venue.Msg, apperrors.ErrInvalidOrderParameter)
	case -1121:
		return apperrors.ErrInvalidSymbol
	case -2010:
		// The venue reuses -2010 for several rejections; duplicates matter
		// because resubmits carry the same client order id
		if strings.Contains(strings.ToLower(venue.Msg), "duplicate") {
			return apperrors.ErrDuplicateOrder
		}
		return fmt.Errorf("%s: %w", venue.Msg, apperrors.ErrInsufficientFunds)
	case -2011, -2013:
		return apperrors.ErrOrderNotFound
	case -1003:
		return apperrors.ErrRateLimitExceeded
	case -1021:
		return apperrors.ErrTimestampOutOfBounds
	}
	return fmt.Errorf("venue error %d: %s", venue.Code, venue.Msg)
}

// TickerPrice returns the last traded price for symbol
func (g *Gateway) TickerPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	var price decimal.Decimal
	err := retry.Do(ctx, retry.DefaultPolicy, apperrors.IsTransient, func() error {
		if err := g.limiter.Wait(ctx); err != nil {
			return err
		}
		body, err := g.rest.Get(ctx, "/api/v3/ticker/price", map[string]string{"symbol": symbol})
		if err != nil {
			return g.mapError(err)
		}
		var res struct {
			Price string `json:"price"`
		}
		if err := json.Unmarshal(body, &res); err != nil {
			return fmt.Errorf("failed to decode ticker: %w", err)
		}
		price = g.ParseDecimal(res.Price)
		return nil
	})
	return price, err
}

// NewOrder places a limit order. Not retried here: the venue dedupes on the
// client order id, so an ambiguous failure surfaces as ErrDuplicateOrder on
// the caller's resubmit rather than a double fill.
func (g *Gateway) NewOrder(ctx context.Context, req core.OrderRequest) (*core.OrderAck, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	params := map[string]string{
		"symbol":           req.Symbol,
		"side":             string(req.Side),
		"type":             string(req.Type),
		"timeInForce":      string(req.TimeInForce),
		"quantity":         req.Quantity.String(),
		"price":            req.Price.String(),
		"newOrderRespType": "RESULT",
	}
	if req.ClientOrderID != "" {
		params["newClientOrderId"] = req.ClientOrderID
	}

	body, err := g.rest.Request(ctx, http.MethodPost, "/api/v3/order", params)
	if err != nil {
		return nil, g.mapError(err)
	}

	var raw rawOrder
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode order ack: %w", err)
	}
	ack := g.toAck(raw, body)
	if ack.Side == "" {
		ack.Side = req.Side
	}
	return ack, nil
}

// CancelOrder cancels by exchange order id. An unknown order is folded into
// success: the gateway fetches the authoritative terminal state, or reports
// CANCELED with zero executed quantity when the venue no longer knows the
// order at all.
func (g *Gateway) CancelOrder(ctx context.Context, symbol string, orderID int64) (*core.OrderAck, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	params := map[string]string{
		"symbol":  symbol,
		"orderId": fmt.Sprintf("%d", orderID),
	}
	body, err := g.rest.Delete(ctx, "/api/v3/order", params)
	if err != nil {
		mapped := g.mapError(err)
		if !apperrors.IsAlreadyTerminal(mapped) {
			return nil, mapped
		}
		ack, getErr := g.GetOrder(ctx, symbol, orderID)
		if getErr != nil {
			if apperrors.IsAlreadyTerminal(getErr) {
				return &core.OrderAck{
					OrderID:     orderID,
					Symbol:      symbol,
					Status:      core.OrderStatusCanceled,
					ExecutedQty: decimal.Zero,
				}, nil
			}
			return nil, getErr
		}
		return ack, nil
	}

	var raw rawOrder
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode cancel ack: %w", err)
	}
	return g.toAck(raw, body), nil
}

// GetOrder returns the venue's view of one order
func (g *Gateway) GetOrder(ctx context.Context, symbol string, orderID int64) (*core.OrderAck, error) {
	var ack *core.OrderAck
	err := retry.Do(ctx, retry.DefaultPolicy, apperrors.IsTransient, func() error {
		if err := g.limiter.Wait(ctx); err != nil {
			return err
		}
		params := map[string]string{
			"symbol":  symbol,
			"orderId": fmt.Sprintf("%d", orderID),
		}
		body, err := g.rest.Get(ctx, "/api/v3/order", params)
		if err != nil {
			return g.mapError(err)
		}
		var raw rawOrder
		if err := json.Unmarshal(body, &raw); err != nil {
			return fmt.Errorf("failed to decode order: %w", err)
		}
		ack = g.toAck(raw, body)
		return nil
	})
	return ack, err
}

// GetOpenOrders returns every resting order for symbol
func (g *Gateway) GetOpenOrders(ctx context.Context, symbol string) ([]*core.OrderAck, error) {
	var acks []*core.OrderAck
	err := retry.Do(ctx, retry.DefaultPolicy, apperrors.IsTransient, func() error {
		if err := g.limiter.Wait(ctx); err != nil {
			return err
		}
		body, err := g.rest.Get(ctx, "/api/v3/openOrders", map[string]string{"symbol": symbol})
		if err != nil {
			return g.mapError(err)
		}
		var raws []json.RawMessage
		if err := json.Unmarshal(body, &raws); err != nil {
			return fmt.Errorf("failed to decode open orders: %w", err)
		}
		acks = make([]*core.OrderAck, 0, len(raws))
		for _, msg := range raws {
			var raw rawOrder
			if err := json.Unmarshal(msg, &raw); err != nil {
				return fmt.Errorf("failed to decode open order: %w", err)
			}
			acks = append(acks, g.toAck(raw, msg))
		}
		return nil
	})
	return acks, err
}

// GetBalances returns the account balances, filtered to assets when given.
// With no filter only non-zero balances come back.
func (g *Gateway) GetBalances(ctx context.Context, assets []string) ([]core.Balance, error) {
	wanted := make(map[string]bool, len(assets))
	for _, a := range assets {
		wanted[strings.ToUpper(a)] = true
	}

	var balances []core.Balance
	err := retry.Do(ctx, retry.DefaultPolicy, apperrors.IsTransient, func() error {
		if err := g.limiter.Wait(ctx); err != nil {
			return err
		}
		body, err := g.rest.Get(ctx, "/api/v3/account", map[string]string{"omitZeroBalances": "false"})
		if err != nil {
			return g.mapError(err)
		}
		var account struct {
			Balances []struct {
				Asset  string `json:"asset"`
				Free   string `json:"free"`
				Locked string `json:"locked"`
			} `json:"balances"`
		}
		if err := json.Unmarshal(body, &account); err != nil {
			return fmt.Errorf("failed to decode account: %w", err)
		}

		balances = balances[:0]
		for _, b := range account.Balances {
			free := g.ParseDecimal(b.Free)
			locked := g.ParseDecimal(b.Locked)
			if len(wanted) > 0 {
				if !wanted[strings.ToUpper(b.Asset)] {
					continue
				}
			} else if free.Add(locked).IsZero() {
				continue
			}
			balances = append(balances, core.Balance{Asset: b.Asset, Free: free, Locked: locked})
		}
		return nil
	})
	return balances, err
}
