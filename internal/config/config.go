// Package config handles configuration management with validation
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config represents the complete configuration structure
type Config struct {
	System   SystemConfig            `yaml:"system"`
	Server   ServerConfig            `yaml:"server"`
	Database DatabaseConfig          `yaml:"database"`
	Exchange ExchangeConfig          `yaml:"exchange"`
	Engine   EngineConfig            `yaml:"engine"`
	Symbols  map[string]SymbolConfig `yaml:"symbols"`
	Alerts   AlertConfig             `yaml:"alerts"`
}

// SystemConfig contains system settings
type SystemConfig struct {
	Env      string `yaml:"env"`
	LogLevel string `yaml:"log_level"`
}

// ServerConfig contains the admin HTTP server settings
type ServerConfig struct {
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	MaxConnections int      `yaml:"max_connections"`
	RateLimit      float64  `yaml:"rate_limit"`
	RateBurst      int      `yaml:"rate_burst"`
}

// Addr returns the listen address
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DatabaseConfig contains the persistence DSN
type DatabaseConfig struct {
	URL string `yaml:"url"`
}

// ExchangeConfig holds the process-wide exchange settings. Per-bot
// credentials live on the bot record; these are the fallback credentials
// used by the balance and ticker views.
type ExchangeConfig struct {
	Name      string `yaml:"name"`
	APIKey    Secret `yaml:"api_key"`
	APISecret Secret `yaml:"api_secret"`
	Testnet   bool   `yaml:"testnet"`
	// BaseURL / WSBaseURL override the venue defaults when set
	BaseURL   string `yaml:"base_url"`
	WSBaseURL string `yaml:"ws_base_url"`
}

// EngineConfig contains trading engine tunables
type EngineConfig struct {
	// TickerSymbols is the set of symbols whose ticker stream every bot
	// pipeline subscribes to; the bot's own symbol is always included
	TickerSymbols []string `yaml:"ticker_symbols"`
	// ListenKeyIntervalSec is the user-data listen key renewal period.
	// The venue expires keys after 60 minutes; renewal must run at
	// most every 30.
	ListenKeyIntervalSec int `yaml:"listen_key_interval_sec"`
	MailboxSize          int `yaml:"mailbox_size"`
	InstallWorkers       int `yaml:"install_workers"`
	// RESTRateLimit is requests per second allowed per credential
	RESTRateLimit float64 `yaml:"rest_rate_limit"`
	RESTRateBurst int     `yaml:"rest_rate_burst"`
	// RequestTimeoutSec bounds every REST call
	RequestTimeoutSec int `yaml:"request_timeout_sec"`
}

// SymbolConfig carries the venue filters for one symbol
type SymbolConfig struct {
	QtyStep     string `yaml:"qty_step"`
	PriceTick   string `yaml:"price_tick"`
	MinNotional string `yaml:"min_notional"`
}

// AlertConfig contains webhook alerting settings
type AlertConfig struct {
	Enabled          bool   `yaml:"enabled"`
	SlackWebhookURL  Secret `yaml:"slack_webhook_url"`
	TelegramBotToken Secret `yaml:"telegram_bot_token"`
	TelegramChatID   string `yaml:"telegram_chat_id"`
}

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s' (value: %v): %s", e.Field, e.Value, e.Message)
}

// LoadConfig loads configuration from a YAML file with environment variable
// expansion, overlays the environment contract (DATABASE_URL,
// EXCHANGE_API_KEY, EXCHANGE_API_SECRET, EXCHANGE_TESTNET, ENV), applies
// defaults and validates. An empty filename skips the file and configures
// from environment alone.
func LoadConfig(filename string) (*Config, error) {
	var config Config

	if filename != "" {
		data, err := os.ReadFile(filename)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		// Expand environment variables in the YAML content
		expandedData := expandEnvVars(string(data))

		if err := yaml.Unmarshal([]byte(expandedData), &config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	config.applyEnv()
	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// applyEnv overlays the environment contract on top of file values.
// Environment wins so deployments can rotate credentials without editing
// the file.
func (c *Config) applyEnv() {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Database.URL = v
	}
	if v := os.Getenv("EXCHANGE_API_KEY"); v != "" {
		c.Exchange.APIKey = Secret(v)
	}
	if v := os.Getenv("EXCHANGE_API_SECRET"); v != "" {
		c.Exchange.APISecret = Secret(v)
	}
	if v := os.Getenv("EXCHANGE_TESTNET"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Exchange.Testnet = b
		}
	}
	if v := os.Getenv("ENV"); v != "" {
		c.System.Env = v
	}
}

func (c *Config) applyDefaults() {
	if c.System.Env == "" {
		c.System.Env = "production"
	}
	if c.System.LogLevel == "" {
		if c.System.Env == "development" {
			c.System.LogLevel = "DEBUG"
		} else {
			c.System.LogLevel = "INFO"
		}
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8000
	}
	if len(c.Server.AllowedOrigins) == 0 {
		c.Server.AllowedOrigins = []string{"*"}
	}
	if c.Server.MaxConnections == 0 {
		c.Server.MaxConnections = 1000
	}
	if c.Server.RateLimit == 0 {
		c.Server.RateLimit = 10.0
	}
	if c.Server.RateBurst == 0 {
		c.Server.RateBurst = 20
	}
	if c.Database.URL == "" {
		c.Database.URL = "dca_grid.db"
	}
	if c.Exchange.Name == "" {
		c.Exchange.Name = "binance"
	}
	if c.Engine.ListenKeyIntervalSec == 0 {
		c.Engine.ListenKeyIntervalSec = 1500 // 25 minutes
	}
	if c.Engine.MailboxSize == 0 {
		c.Engine.MailboxSize = 100
	}
	if c.Engine.InstallWorkers == 0 {
		c.Engine.InstallWorkers = 10
	}
	if c.Engine.RESTRateLimit == 0 {
		c.Engine.RESTRateLimit = 10.0
	}
	if c.Engine.RESTRateBurst == 0 {
		c.Engine.RESTRateBurst = 20
	}
	if c.Engine.RequestTimeoutSec == 0 {
		c.Engine.RequestTimeoutSec = 10
	}
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	var errors []string

	if err := c.validateSystemConfig(); err != nil {
		errors = append(errors, err.Error())
	}
	if err := c.validateServerConfig(); err != nil {
		errors = append(errors, err.Error())
	}
	if err := c.validateExchangeConfig(); err != nil {
		errors = append(errors, err.Error())
	}
	if err := c.validateEngineConfig(); err != nil {
		errors = append(errors, err.Error())
	}
	if err := c.validateSymbols(); err != nil {
		errors = append(errors, err.Error())
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n%s", strings.Join(errors, "\n"))
	}

	return nil
}

func (c *Config) validateSystemConfig() error {
	validLevels := []string{"DEBUG", "INFO", "WARN", "ERROR", "FATAL"}
	if !contains(validLevels, strings.ToUpper(c.System.LogLevel)) {
		return ValidationError{
			Field:   "system.log_level",
			Value:   c.System.LogLevel,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(validLevels, ", ")),
		}
	}
	return nil
}

func (c *Config) validateServerConfig() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return ValidationError{
			Field:   "server.port",
			Value:   c.Server.Port,
			Message: "must be a valid TCP port",
		}
	}
	return nil
}

func (c *Config) validateExchangeConfig() error {
	validExchanges := []string{"binance", "mock"}
	if !contains(validExchanges, strings.ToLower(c.Exchange.Name)) {
		return ValidationError{
			Field:   "exchange.name",
			Value:   c.Exchange.Name,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(validExchanges, ", ")),
		}
	}
	return nil
}

func (c *Config) validateEngineConfig() error {
	// Venue expires listen keys after 60 minutes; renewing any slower
	// than 30 risks losing the user-data stream.
	if c.Engine.ListenKeyIntervalSec > 1800 {
		return ValidationError{
			Field:   "engine.listen_key_interval_sec",
			Value:   c.Engine.ListenKeyIntervalSec,
			Message: "must be 1800 seconds (30 minutes) or less",
		}
	}
	if c.Engine.RESTRateLimit < 0 {
		return ValidationError{
			Field:   "engine.rest_rate_limit",
			Value:   c.Engine.RESTRateLimit,
			Message: "must not be negative",
		}
	}
	return nil
}

func (c *Config) validateSymbols() error {
	for sym, filters := range c.Symbols {
		for field, value := range map[string]string{
			"qty_step":     filters.QtyStep,
			"price_tick":   filters.PriceTick,
			"min_notional": filters.MinNotional,
		} {
			if value == "" {
				continue
			}
			if _, err := strconv.ParseFloat(value, 64); err != nil {
				return ValidationError{
					Field:   fmt.Sprintf("symbols.%s.%s", sym, field),
					Value:   value,
					Message: "must be a decimal number",
				}
			}
		}
	}
	return nil
}

// IsDevelopment reports whether verbose event logging is enabled
func (c *Config) IsDevelopment() bool {
	return strings.ToLower(c.System.Env) == "development"
}

// String returns a string representation of the configuration (with
// sensitive data masked by the Secret type)
func (c *Config) String() string {
	data, _ := yaml.Marshal(c)
	return string(data)
}

// Helper functions

func expandEnvVars(s string) string {
	return os.Expand(s, os.Getenv)
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

// MaskString masks all but the edge characters of a credential for log output
func MaskString(s string) string {
	if len(s) <= 8 {
		return strings.Repeat("*", len(s))
	}
	return s[:4] + strings.Repeat("*", len(s)-8) + s[len(s)-4:]
}

// DefaultConfig returns a default configuration for testing
func DefaultConfig() *Config {
	cfg := &Config{
		System: SystemConfig{
			Env:      "development",
			LogLevel: "DEBUG",
		},
		Server: ServerConfig{
			Host:           "127.0.0.1",
			Port:           8000,
			AllowedOrigins: []string{"*"},
		},
		Database: DatabaseConfig{
			URL: ":memory:",
		},
		Exchange: ExchangeConfig{
			Name:      "mock",
			APIKey:    "test_api_key",
			APISecret: "test_api_secret",
			Testnet:   true,
		},
		Engine: EngineConfig{
			TickerSymbols: []string{"BTCUSDT"},
		},
		Symbols: map[string]SymbolConfig{
			"BTCUSDT":  {QtyStep: "0.00001", PriceTick: "0.01", MinNotional: "5"},
			"ETHUSDT":  {QtyStep: "0.0001", PriceTick: "0.01", MinNotional: "5"},
			"PEPEUSDT": {QtyStep: "0.00000001", PriceTick: "0.00000001", MinNotional: "1"},
		},
	}
	cfg.applyDefaults()
	return cfg
}
