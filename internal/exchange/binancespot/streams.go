package binancespot

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	apperrors "dca_grid/pkg/errors"
	"dca_grid/pkg/retry"
)

// NewListenKey opens (or refreshes) the account's user-data listen key
func (g *Gateway) NewListenKey(ctx context.Context) (string, error) {
	var listenKey string
	err := retry.Do(ctx, retry.DefaultPolicy, apperrors.IsTransient, func() error {
		if err := g.limiter.Wait(ctx); err != nil {
			return err
		}
		body, err := g.rest.Request(ctx, http.MethodPost, "/api/v3/userDataStream", nil)
		if err != nil {
			return g.mapError(err)
		}
		var res struct {
			ListenKey string `json:"listenKey"`
		}
		if err := json.Unmarshal(body, &res); err != nil {
			return fmt.Errorf("failed to decode listen key: %w", err)
		}
		if res.ListenKey == "" {
			return fmt.Errorf("venue returned empty listen key")
		}
		listenKey = res.ListenKey
		return nil
	})
	return listenKey, err
}

// KeepAliveListenKey extends the listen key's validity window
func (g *Gateway) KeepAliveListenKey(ctx context.Context, listenKey string) error {
	return retry.Do(ctx, retry.DefaultPolicy, apperrors.IsTransient, func() error {
		if err := g.limiter.Wait(ctx); err != nil {
			return err
		}
		_, err := g.rest.Put(ctx, "/api/v3/userDataStream", map[string]string{"listenKey": listenKey})
		if err != nil {
			return g.mapError(err)
		}
		return nil
	})
}

// UserDataStream connects the account's execution report stream and keeps the
// listen key alive for as long as ctx lives
func (g *Gateway) UserDataStream(ctx context.Context, listenKey string, onMessage func([]byte)) error {
	if err := g.StartStream(g.cfg.WSBaseURL+"/"+listenKey, onMessage, "user-data"); err != nil {
		return err
	}
	go g.keepAliveLoop(ctx, listenKey)
	return nil
}

func (g *Gateway) keepAliveLoop(ctx context.Context, listenKey string) {
	ticker := time.NewTicker(g.cfg.ListenKeyInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := g.KeepAliveListenKey(ctx, listenKey); err != nil {
				g.Logger.Error("listen key keepalive failed", "error", err)
				continue
			}
			g.Logger.Debug("listen key renewed")
		}
	}
}

// TickerStream connects one market ticker stream per symbol
func (g *Gateway) TickerStream(ctx context.Context, symbols []string, onMessage func([]byte)) error {
	for _, symbol := range symbols {
		name := strings.ToLower(symbol) + "@ticker"
		if err := g.StartStream(g.cfg.WSBaseURL+"/"+name, onMessage, name); err != nil {
			return err
		}
	}
	return nil
}
