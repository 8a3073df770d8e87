package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "coinratio.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "usd", cfg.VsCurrency)
	assert.Equal(t, 30*time.Second, cfg.Interval)
	assert.Equal(t, 50_000_000.0, cfg.Ranking.MinMarketCap)
	assert.Equal(t, 10, cfg.Ranking.TopN)
	assert.Equal(t, "terminal", cfg.Display.Mode)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
vs_currency: eur
interval: 45s
ranking:
  top_n: 5
coingecko:
  pages: 2
  cache_ttl: 10s
  circuit:
    failure_threshold: 5
monitor:
  enabled: true
  port: 9090
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "eur", cfg.VsCurrency)
	assert.Equal(t, 45*time.Second, cfg.Interval)
	assert.Equal(t, 5, cfg.Ranking.TopN)
	assert.Equal(t, 50_000_000.0, cfg.Ranking.MinMarketCap, "unset keys keep defaults")
	assert.Equal(t, 2, cfg.CoinGecko.Pages)
	assert.Equal(t, 10*time.Second, cfg.CoinGecko.CacheTTL)
	assert.Equal(t, uint32(5), cfg.CoinGecko.Circuit.FailureThreshold)
	assert.True(t, cfg.Monitor.Enabled)
	assert.Equal(t, 9090, cfg.Monitor.Port)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read config file")

	_, err = Load(writeConfig(t, "interval: [oops"))
	assert.ErrorContains(t, err, "failed to parse config")

	_, err = Load(writeConfig(t, "interval: 0s\nranking:\n  top_n: -1\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "interval must be positive")
	assert.Contains(t, err.Error(), "ranking.top_n must be positive")
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"COINGECKO_API_KEY": "demo",
		"REDIS_ADDR":        "redis:6379",
		"HTTP_PORT":         "9100",
		"LOG_LEVEL":         "debug",
	}
	lookup := func(k string) (string, bool) { v, ok := env[k]; return v, ok }

	cfg := Default()
	require.NoError(t, cfg.applyEnv(lookup))
	assert.Equal(t, "demo", cfg.CoinGecko.APIKey)
	assert.Equal(t, "redis:6379", cfg.Cache.RedisAddr)
	assert.Equal(t, 9100, cfg.Monitor.Port)
	assert.Equal(t, "debug", cfg.Log.Level)

	env["HTTP_PORT"] = "eighty"
	assert.Error(t, cfg.applyEnv(lookup))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{name: "defaults_valid", mutate: func(*Config) {}},
		{name: "empty_currency", mutate: func(c *Config) { c.VsCurrency = " " }, errMsg: "vs_currency"},
		{name: "zero_market_cap", mutate: func(c *Config) { c.Ranking.MinMarketCap = 0 }, errMsg: "min_market_cap"},
		{name: "per_page_too_large", mutate: func(c *Config) { c.CoinGecko.PerPage = 500 }, errMsg: "per_page"},
		{name: "bad_display", mutate: func(c *Config) { c.Display.Mode = "qt" }, errMsg: "display.mode"},
		{name: "bad_log_format", mutate: func(c *Config) { c.Log.Format = "xml" }, errMsg: "log.format"},
		{name: "cache_ttl_not_below_interval", mutate: func(c *Config) { c.Interval = 5 * time.Second }, errMsg: "cache_ttl"},
		{name: "cache_ttl_equal_interval", mutate: func(c *Config) { c.CoinGecko.CacheTTL = c.Interval }, errMsg: "cache_ttl"},
		{name: "cache_ttl_negative", mutate: func(c *Config) { c.CoinGecko.CacheTTL = -time.Second }, errMsg: "cache_ttl"},
		{name: "cache_disabled", mutate: func(c *Config) { c.Interval = 5 * time.Second; c.CoinGecko.CacheTTL = 0 }},
		{name: "bad_port", mutate: func(c *Config) { c.Monitor.Port = 70000 }, errMsg: "monitor.port"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.errMsg == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.errMsg)
		})
	}
}

func TestApplyFlags_ShortIntervalLowersCacheTTL(t *testing.T) {
	fs := pflag.NewFlagSet("run", pflag.ContinueOnError)
	RegisterFlags(fs)
	require.NoError(t, fs.Parse([]string{"--interval=5s"}))

	cfg := Default()
	require.NoError(t, cfg.ApplyFlags(fs))
	assert.Equal(t, 5*time.Second, cfg.Interval)
	assert.Equal(t, 2500*time.Millisecond, cfg.CoinGecko.CacheTTL)
}

func TestLoad_RejectsCacheTTLAtOrAboveInterval(t *testing.T) {
	_, err := Load(writeConfig(t, "interval: 5s\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "coingecko.cache_ttl 20s must be shorter than interval 5s")
}

func TestApplyFlags(t *testing.T) {
	fs := pflag.NewFlagSet("run", pflag.ContinueOnError)
	RegisterFlags(fs)
	require.NoError(t, fs.Parse([]string{"--interval=1m", "--top-n=3", "--display=log", "--monitor"}))

	cfg := Default()
	cfg.VsCurrency = "eur" // from file; flag not set so it must survive
	require.NoError(t, cfg.ApplyFlags(fs))

	assert.Equal(t, time.Minute, cfg.Interval)
	assert.Equal(t, 3, cfg.Ranking.TopN)
	assert.Equal(t, "log", cfg.Display.Mode)
	assert.True(t, cfg.Monitor.Enabled)
	assert.Equal(t, "eur", cfg.VsCurrency)
}

func TestApplyFlags_Invalid(t *testing.T) {
	fs := pflag.NewFlagSet("run", pflag.ContinueOnError)
	RegisterFlags(fs)
	require.NoError(t, fs.Parse([]string{"--top-n=0"}))

	cfg := Default()
	assert.ErrorContains(t, cfg.ApplyFlags(fs), "top_n")
}

func TestLoad_ShippedConfigMatchesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "config", "coinratio.yaml"))
	require.NoError(t, err)

	d := Default()
	assert.Equal(t, d.Interval, cfg.Interval)
	assert.Equal(t, d.FetchTimeout, cfg.FetchTimeout)
	assert.Equal(t, d.Ranking, cfg.Ranking)
	assert.Equal(t, d.CoinGecko.PerPage, cfg.CoinGecko.PerPage)
	assert.Equal(t, d.CoinGecko.CacheTTL, cfg.CoinGecko.CacheTTL)
	assert.Equal(t, d.CoinGecko.Circuit, cfg.CoinGecko.Circuit)
	assert.Equal(t, d.Display, cfg.Display)
}
