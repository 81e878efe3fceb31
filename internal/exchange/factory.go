// Package exchange provides exchange gateway construction
package exchange

import (
	"fmt"
	"strings"
	"time"

	"dca_grid/internal/config"
	"dca_grid/internal/core"
	"dca_grid/internal/exchange/binancespot"
	"dca_grid/internal/mock"
)

// NewGateway creates the exchange gateway for one bot. Bot credentials take
// precedence; the shared config credentials are the fallback so single-tenant
// deployments can omit per-bot keys.
func NewGateway(bot *core.Bot, cfg *config.Config, logger core.ILogger) (core.IExchangeGateway, error) {
	name := bot.Exchange
	if name == "" {
		name = cfg.Exchange.Name
	}

	apiKey := bot.APIKey
	apiSecret := bot.APISecret
	if apiKey == "" {
		apiKey = string(cfg.Exchange.APIKey)
		apiSecret = string(cfg.Exchange.APISecret)
	}

	switch strings.ToLower(name) {
	case "binance":
		return binancespot.New(binancespot.Config{
			APIKey:            apiKey,
			APISecret:         apiSecret,
			Testnet:           cfg.Exchange.Testnet,
			BaseURL:           cfg.Exchange.BaseURL,
			WSBaseURL:         cfg.Exchange.WSBaseURL,
			Timeout:           time.Duration(cfg.Engine.RequestTimeoutSec) * time.Second,
			RateLimit:         cfg.Engine.RESTRateLimit,
			RateBurst:         cfg.Engine.RESTRateBurst,
			ListenKeyInterval: time.Duration(cfg.Engine.ListenKeyIntervalSec) * time.Second,
		}, logger), nil
	case "mock":
		return mock.NewExchange(), nil
	default:
		return nil, fmt.Errorf("unsupported exchange: %s", name)
	}
}
