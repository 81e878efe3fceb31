// Package alert fans operational events out to webhook channels. Delivery
// is fire-and-forget so a slow webhook can never stall the trading path.
package alert

import (
	"context"
	"sync"
	"time"

	"dca_grid/internal/config"
	"dca_grid/internal/core"
)

// sendTimeout bounds one delivery attempt per channel
const sendTimeout = 5 * time.Second

// Payload is one alert as handed to the channels
type Payload struct {
	Level     core.AlertLevel
	Title     string
	Message   string
	Timestamp time.Time
	Fields    map[string]string
}

// Channel delivers a payload to one destination
type Channel interface {
	Send(ctx context.Context, alert Payload) error
	Name() string
}

// Manager fans alerts out to its channels concurrently
type Manager struct {
	channels []Channel
	logger   core.ILogger
	mu       sync.RWMutex
}

var _ core.INotifier = (*Manager)(nil)

// NewManager creates an empty manager. With no channels attached Notify
// is a no-op.
func NewManager(logger core.ILogger) *Manager {
	return &Manager{
		channels: make([]Channel, 0),
		logger:   logger.WithField("component", "alert_manager"),
	}
}

// FromConfig builds a manager with every configured channel attached
func FromConfig(cfg config.AlertConfig, logger core.ILogger) *Manager {
	m := NewManager(logger)
	if !cfg.Enabled {
		return m
	}
	if url := string(cfg.SlackWebhookURL); url != "" {
		m.AddChannel(NewSlackChannel(url))
	}
	if token := string(cfg.TelegramBotToken); token != "" && cfg.TelegramChatID != "" {
		m.AddChannel(NewTelegramChannel(token, cfg.TelegramChatID))
	}
	return m
}

// AddChannel registers a delivery channel
func (m *Manager) AddChannel(ch Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels = append(m.channels, ch)
	m.logger.Info("Alert channel added", "name", ch.Name())
}

// Notify delivers the event to every channel. Sends detach from the
// caller's context; an alert raised just before a shutdown or a cancelled
// operation still gets its delivery window.
func (m *Manager) Notify(ctx context.Context, level core.AlertLevel, title, message string, fields map[string]string) {
	m.mu.RLock()
	channels := make([]Channel, len(m.channels))
	copy(channels, m.channels)
	m.mu.RUnlock()

	if len(channels) == 0 {
		return
	}

	payload := Payload{
		Level:     level,
		Title:     title,
		Message:   message,
		Timestamp: time.Now(),
		Fields:    fields,
	}

	m.logger.Debug("Dispatching alert", "title", title, "level", level, "channels", len(channels))

	for _, ch := range channels {
		go func(c Channel) {
			sendCtx, cancel := context.WithTimeout(context.Background(), sendTimeout)
			defer cancel()

			if err := c.Send(sendCtx, payload); err != nil {
				m.logger.Error("Alert delivery failed",
					"channel", c.Name(), "title", title, "error", err)
			}
		}(ch)
	}
}
