package main

import (
	"os"

	"github.com/shopspring/decimal"

	"github.com/sawpanic/coinratio/internal/config"
	"github.com/sawpanic/coinratio/internal/display"
	"github.com/sawpanic/coinratio/internal/infrastructure/cache"
	"github.com/sawpanic/coinratio/internal/infrastructure/providers"
	httpiface "github.com/sawpanic/coinratio/internal/interfaces/http"
	"github.com/sawpanic/coinratio/internal/ranking"
)

func newProvider(cfg config.Config, metrics *httpiface.MetricsRegistry) *providers.CoinGeckoProvider {
	pc := providers.DefaultCoinGeckoConfig()
	pc.BaseURL = cfg.CoinGecko.BaseURL
	pc.APIKey = cfg.CoinGecko.APIKey
	pc.Pages = cfg.CoinGecko.Pages
	pc.PerPage = cfg.CoinGecko.PerPage
	pc.RequestTimeout = cfg.CoinGecko.RequestTimeout
	pc.MaxRetries = cfg.CoinGecko.MaxRetries
	pc.RPS = cfg.CoinGecko.RPS
	pc.Burst = cfg.CoinGecko.Burst
	pc.CacheTTL = cfg.CoinGecko.CacheTTL
	pc.UserAgent = appName + "/" + version
	if cfg.CoinGecko.Circuit.FailureThreshold > 0 {
		pc.Breaker.ConsecutiveFailures = cfg.CoinGecko.Circuit.FailureThreshold
	}
	if cfg.CoinGecko.Circuit.OpenTimeout > 0 {
		pc.Breaker.Timeout = cfg.CoinGecko.Circuit.OpenTimeout
	}

	var c cache.Cache
	if pc.CacheTTL > 0 {
		c = cache.NewAuto(cfg.Cache.RedisAddr, cfg.Cache.Prefix)
	}

	p := providers.NewCoinGeckoProvider(pc, c)
	if metrics != nil {
		p.SetCacheObserver(metrics)
	}
	return p
}

func newEngine(cfg config.Config, source ranking.Source) *ranking.Engine {
	return ranking.NewEngine(source, cfg.VsCurrency, ranking.Options{
		MinMarketCap: decimal.NewFromFloat(cfg.Ranking.MinMarketCap),
		TopN:         cfg.Ranking.TopN,
	})
}

func newSurfaces(cfg config.Config) display.Multi {
	switch cfg.Display.Mode {
	case "terminal":
		return display.Multi{display.NewTerminal(os.Stdout, cfg.Display.Title)}
	case "log":
		return display.Multi{display.Log{}}
	default:
		return display.Multi{}
	}
}
