package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpandEnvVars(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		envVars  map[string]string
		expected string
	}{
		{
			name:  "expand single env var",
			input: "api_key: ${TEST_API_KEY}",
			envVars: map[string]string{
				"TEST_API_KEY": "test_key_123",
			},
			expected: "api_key: test_key_123",
		},
		{
			name:  "expand multiple env vars",
			input: "api_key: ${API_KEY}\nsecret: ${SECRET_KEY}",
			envVars: map[string]string{
				"API_KEY":    "key_value",
				"SECRET_KEY": "secret_value",
			},
			expected: "api_key: key_value\nsecret: secret_value",
		},
		{
			name:     "missing env var returns empty string",
			input:    "api_key: ${MISSING_VAR}",
			envVars:  map[string]string{},
			expected: "api_key: ",
		},
		{
			name:  "mixed static and env vars",
			input: "static_value: 123\napi_key: ${TEST_KEY}",
			envVars: map[string]string{
				"TEST_KEY": "dynamic_key",
			},
			expected: "static_value: 123\napi_key: dynamic_key",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Set up environment variables
			for k, v := range tt.envVars {
				os.Setenv(k, v)
				defer os.Unsetenv(k)
			}

			result := expandEnvVars(tt.input)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestLoadConfigWithEnvVars(t *testing.T) {
	// Create a temporary config file with env var placeholders
	tmpFile, err := os.CreateTemp("", "config-test-*.yaml")
	require.NoError(t, err)
	defer os.Remove(tmpFile.Name())

	configContent := `system:
  env: "development"

server:
  host: "127.0.0.1"
  port: 8000

database:
  url: "${TEST_DATABASE_URL}"

exchange:
  name: "binance"
  api_key: "${TEST_EXCHANGE_API_KEY}"
  api_secret: "${TEST_EXCHANGE_API_SECRET}"
  testnet: true

engine:
  ticker_symbols: ["BTCUSDT", "ETHUSDT"]

symbols:
  BTCUSDT:
    qty_step: "0.00001"
    price_tick: "0.01"
    min_notional: "5"
`

	_, err = tmpFile.Write([]byte(configContent))
	require.NoError(t, err)
	tmpFile.Close()

	// Set environment variables
	os.Setenv("TEST_DATABASE_URL", "grid_test.db")
	os.Setenv("TEST_EXCHANGE_API_KEY", "test_api_key_from_env")
	os.Setenv("TEST_EXCHANGE_API_SECRET", "test_secret_key_from_env")
	defer os.Unsetenv("TEST_DATABASE_URL")
	defer os.Unsetenv("TEST_EXCHANGE_API_KEY")
	defer os.Unsetenv("TEST_EXCHANGE_API_SECRET")

	// Load config
	config, err := LoadConfig(tmpFile.Name())
	require.NoError(t, err, "LoadConfig() error")

	// Verify environment variables were expanded
	assert.Equal(t, "grid_test.db", config.Database.URL)
	assert.Equal(t, Secret("test_api_key_from_env"), config.Exchange.APIKey)
	assert.Equal(t, Secret("test_secret_key_from_env"), config.Exchange.APISecret)
	assert.True(t, config.Exchange.Testnet)
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, config.Engine.TickerSymbols)
	assert.Equal(t, "0.00001", config.Symbols["BTCUSDT"].QtyStep)
}

func TestLoadConfigEnvOnly(t *testing.T) {
	os.Setenv("DATABASE_URL", "env_only.db")
	os.Setenv("EXCHANGE_API_KEY", "env_key")
	os.Setenv("EXCHANGE_API_SECRET", "env_secret")
	os.Setenv("EXCHANGE_TESTNET", "true")
	os.Setenv("ENV", "development")
	defer func() {
		os.Unsetenv("DATABASE_URL")
		os.Unsetenv("EXCHANGE_API_KEY")
		os.Unsetenv("EXCHANGE_API_SECRET")
		os.Unsetenv("EXCHANGE_TESTNET")
		os.Unsetenv("ENV")
	}()

	config, err := LoadConfig("")
	require.NoError(t, err, "LoadConfig() with no file should use environment alone")

	assert.Equal(t, "env_only.db", config.Database.URL)
	assert.Equal(t, Secret("env_key"), config.Exchange.APIKey)
	assert.Equal(t, Secret("env_secret"), config.Exchange.APISecret)
	assert.True(t, config.Exchange.Testnet)
	assert.True(t, config.IsDevelopment())
	assert.Equal(t, "DEBUG", config.System.LogLevel, "development env should default to debug logging")
}

func TestLoadConfigDefaults(t *testing.T) {
	config, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, 8000, config.Server.Port)
	assert.Equal(t, []string{"*"}, config.Server.AllowedOrigins)
	assert.Equal(t, "binance", config.Exchange.Name)
	assert.Equal(t, 1500, config.Engine.ListenKeyIntervalSec)
	assert.Equal(t, 100, config.Engine.MailboxSize)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "valid default config",
			mutate:  func(c *Config) {},
			wantErr: "",
		},
		{
			name:    "invalid log level",
			mutate:  func(c *Config) { c.System.LogLevel = "LOUD" },
			wantErr: "system.log_level",
		},
		{
			name:    "invalid port",
			mutate:  func(c *Config) { c.Server.Port = 70000 },
			wantErr: "server.port",
		},
		{
			name:    "unknown exchange",
			mutate:  func(c *Config) { c.Exchange.Name = "ftx" },
			wantErr: "exchange.name",
		},
		{
			name:    "listen key interval too long",
			mutate:  func(c *Config) { c.Engine.ListenKeyIntervalSec = 3600 },
			wantErr: "engine.listen_key_interval_sec",
		},
		{
			name: "non numeric symbol filter",
			mutate: func(c *Config) {
				c.Symbols = map[string]SymbolConfig{
					"BTCUSDT": {QtyStep: "abc"},
				}
			},
			wantErr: "symbols.BTCUSDT.qty_step",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestConfig_String(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Exchange.APIKey = Secret("my_super_secret_api_key")
	cfg.Exchange.APISecret = Secret("my_super_secret_secret_key")
	cfg.Alerts.SlackWebhookURL = Secret("https://hooks.slack.com/services/T000/B000/XXXX")
	output := cfg.String()

	// Ensure full cleartext is GONE
	assert.Contains(t, output, "[REDACTED]")
	assert.NotContains(t, output, "my_super_secret_api_key", "output should NOT contain full API key")
	assert.NotContains(t, output, "my_super_secret_secret_key", "output should NOT contain full secret key")
	assert.NotContains(t, output, "hooks.slack.com", "output should NOT contain webhook URL")

	// Ensure partial content is NOT leaked
	assert.NotContains(t, output, "my_s", "output should NOT contain partial secret parts")
}

func TestMaskString(t *testing.T) {
	assert.Equal(t, "********", MaskString("12345678"))
	assert.Equal(t, "abcd****************wxyz", MaskString("abcdefghijklmnopqrstwxyz"))
	assert.Equal(t, "", MaskString(""))
}
