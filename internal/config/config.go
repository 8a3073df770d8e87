package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// Config is the complete runtime configuration, loaded from YAML and then
// overridden by environment variables and command line flags in that order.
type Config struct {
	VsCurrency   string        `yaml:"vs_currency"`
	Interval     time.Duration `yaml:"interval"`
	FetchTimeout time.Duration `yaml:"fetch_timeout"`

	Ranking   RankingConfig   `yaml:"ranking"`
	CoinGecko CoinGeckoConfig `yaml:"coingecko"`
	Cache     CacheConfig     `yaml:"cache"`
	Monitor   MonitorConfig   `yaml:"monitor"`
	Display   DisplayConfig   `yaml:"display"`
	Log       LogConfig       `yaml:"log"`
}

type RankingConfig struct {
	MinMarketCap float64 `yaml:"min_market_cap"`
	TopN         int     `yaml:"top_n"`
}

type CoinGeckoConfig struct {
	BaseURL        string        `yaml:"base_url"`
	APIKey         string        `yaml:"api_key"`
	Pages          int           `yaml:"pages"`
	PerPage        int           `yaml:"per_page"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	MaxRetries     int           `yaml:"max_retries"`
	RPS            float64       `yaml:"rps"`
	Burst          int           `yaml:"burst"`
	CacheTTL       time.Duration `yaml:"cache_ttl"`
	Circuit        CircuitConfig `yaml:"circuit"`
}

type CircuitConfig struct {
	FailureThreshold uint32        `yaml:"failure_threshold"` // consecutive failures to open
	OpenTimeout      time.Duration `yaml:"open_timeout"`
}

type CacheConfig struct {
	RedisAddr string `yaml:"redis_addr"` // empty keeps the cache in-process
	Prefix    string `yaml:"prefix"`
}

type MonitorConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

type DisplayConfig struct {
	Mode  string `yaml:"mode"` // terminal, log or none
	Title string `yaml:"title"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // console or json
}

func Default() Config {
	return Config{
		VsCurrency:   "usd",
		Interval:     30 * time.Second,
		FetchTimeout: 20 * time.Second,
		Ranking: RankingConfig{
			MinMarketCap: 50_000_000,
			TopN:         10,
		},
		CoinGecko: CoinGeckoConfig{
			BaseURL:        "https://api.coingecko.com/api/v3",
			Pages:          1,
			PerPage:        100,
			RequestTimeout: 10 * time.Second,
			RPS:            0.5,
			Burst:          2,
			CacheTTL:       20 * time.Second,
			Circuit: CircuitConfig{
				FailureThreshold: 3,
				OpenTimeout:      90 * time.Second,
			},
		},
		Cache:   CacheConfig{Prefix: "coinratio:"},
		Monitor: MonitorConfig{Host: "127.0.0.1", Port: 8080},
		Display: DisplayConfig{Mode: "terminal", Title: "Top Coins by Volume to Market Cap Ratio"},
		Log:     LogConfig{Level: "info", Format: "console"},
	}
}

// Load reads path on top of the defaults. An empty path yields the defaults.
// Environment overrides are applied before validation.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup("COINGECKO_API_KEY"); ok {
		c.CoinGecko.APIKey = v
	}
	if v, ok := lookup("REDIS_ADDR"); ok {
		c.Cache.RedisAddr = v
	}
	if v, ok := lookup("HTTP_PORT"); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid HTTP_PORT %q: %w", v, err)
		}
		c.Monitor.Port = port
	}
	if v, ok := lookup("LOG_LEVEL"); ok {
		c.Log.Level = v
	}
	return nil
}

func (c Config) Validate() error {
	var problems []string
	if strings.TrimSpace(c.VsCurrency) == "" {
		problems = append(problems, "vs_currency is required")
	}
	if c.Interval <= 0 {
		problems = append(problems, "interval must be positive")
	}
	if c.FetchTimeout < 0 {
		problems = append(problems, "fetch_timeout must not be negative")
	}
	if c.Ranking.MinMarketCap <= 0 {
		problems = append(problems, "ranking.min_market_cap must be positive")
	}
	if c.Ranking.TopN <= 0 {
		problems = append(problems, "ranking.top_n must be positive")
	}
	if c.CoinGecko.Pages <= 0 {
		problems = append(problems, "coingecko.pages must be positive")
	}
	if c.CoinGecko.PerPage <= 0 || c.CoinGecko.PerPage > 250 {
		problems = append(problems, "coingecko.per_page must be within 1..250")
	}
	if c.CoinGecko.CacheTTL < 0 {
		problems = append(problems, "coingecko.cache_ttl must not be negative")
	} else if c.Interval > 0 && c.CoinGecko.CacheTTL >= c.Interval {
		problems = append(problems, fmt.Sprintf("coingecko.cache_ttl %s must be shorter than interval %s", c.CoinGecko.CacheTTL, c.Interval))
	}
	if c.CoinGecko.MaxRetries < 0 {
		problems = append(problems, "coingecko.max_retries must not be negative")
	}
	if c.Monitor.Port <= 0 || c.Monitor.Port > 65535 {
		problems = append(problems, "monitor.port out of range")
	}
	switch c.Display.Mode {
	case "terminal", "log", "none":
	default:
		problems = append(problems, fmt.Sprintf("display.mode %q must be terminal, log or none", c.Display.Mode))
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		problems = append(problems, fmt.Sprintf("log.format %q must be console or json", c.Log.Format))
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// RegisterFlags declares the command line overrides on fs.
func RegisterFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.String("config", "", "Path to YAML config file")
	fs.String("vs-currency", d.VsCurrency, "Quote currency for market data")
	fs.Duration("interval", d.Interval, "Refresh period")
	fs.Int("top-n", d.Ranking.TopN, "Number of coins to display")
	fs.Float64("min-market-cap", d.Ranking.MinMarketCap, "Minimum market cap to qualify")
	fs.String("display", d.Display.Mode, "Display surface (terminal|log|none)")
	fs.Bool("monitor", d.Monitor.Enabled, "Serve /health, /metrics, /snapshot and /ws")
	fs.Int("port", d.Monitor.Port, "Monitor HTTP port")
	fs.String("redis-addr", "", "Redis address for the shared response cache")
	fs.String("log-level", d.Log.Level, "Log level (debug|info|warn|error)")
}

// ApplyFlags copies every flag the user set explicitly onto c.
func (c *Config) ApplyFlags(fs *pflag.FlagSet) error {
	var err error
	set := func(name string, apply func() error) {
		if err == nil && fs.Changed(name) {
			err = apply()
		}
	}

	set("vs-currency", func() (e error) { c.VsCurrency, e = fs.GetString("vs-currency"); return })
	set("interval", func() (e error) {
		if c.Interval, e = fs.GetDuration("interval"); e != nil {
			return e
		}
		// A shorter period on the command line pulls the response cache down with it.
		if c.Interval > 0 && c.CoinGecko.CacheTTL >= c.Interval {
			c.CoinGecko.CacheTTL = c.Interval / 2
		}
		return nil
	})
	set("top-n", func() (e error) { c.Ranking.TopN, e = fs.GetInt("top-n"); return })
	set("min-market-cap", func() (e error) { c.Ranking.MinMarketCap, e = fs.GetFloat64("min-market-cap"); return })
	set("display", func() (e error) { c.Display.Mode, e = fs.GetString("display"); return })
	set("monitor", func() (e error) { c.Monitor.Enabled, e = fs.GetBool("monitor"); return })
	set("port", func() (e error) { c.Monitor.Port, e = fs.GetInt("port"); return })
	set("redis-addr", func() (e error) { c.Cache.RedisAddr, e = fs.GetString("redis-addr"); return })
	set("log-level", func() (e error) { c.Log.Level, e = fs.GetString("log-level"); return })

	if err != nil {
		return fmt.Errorf("apply flags: %w", err)
	}
	return c.Validate()
}
