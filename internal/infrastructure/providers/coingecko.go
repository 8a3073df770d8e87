package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"

	"github.com/sawpanic/coinratio/internal/infrastructure/cache"
	"github.com/sawpanic/coinratio/internal/infrastructure/httpclient"
	"github.com/sawpanic/coinratio/internal/market"
)

const (
	coinGeckoName    = "coingecko"
	DefaultBaseURL   = "https://api.coingecko.com/api/v3"
	DefaultPerPage   = 100
	maxPerPage       = 250
	maxResponseBytes = 8 << 20
)

var errRateLimited = errors.New("rate limited by CoinGecko")

type CoinGeckoConfig struct {
	BaseURL        string
	APIKey         string // sent as x-cg-demo-api-key when set
	Pages          int
	PerPage        int
	RequestTimeout time.Duration
	MaxRetries     int
	RPS            float64
	Burst          int
	CacheTTL       time.Duration
	UserAgent      string
	Breaker        CircuitBreakerConfig
}

func DefaultCoinGeckoConfig() CoinGeckoConfig {
	return CoinGeckoConfig{
		BaseURL:        DefaultBaseURL,
		Pages:          1,
		PerPage:        DefaultPerPage,
		RequestTimeout: 10 * time.Second,
		RPS:            0.5,
		Burst:          2,
		CacheTTL:       20 * time.Second,
		UserAgent:      "coinratio/1.0",
		Breaker:        DefaultCircuitBreakerConfig("CoinGecko"),
	}
}

// CoinGeckoProvider reads /coins/markets and maps each row to a market.Record.
// Every failure it returns is a *market.DataSourceError.
type CoinGeckoProvider struct {
	config        CoinGeckoConfig
	client        *httpclient.ClientPool
	limiter       *RateLimiter
	breaker       *gobreaker.CircuitBreaker
	cache         cache.Cache
	cacheObserver CacheObserver

	mu             sync.RWMutex
	degraded       bool
	degradedReason string
	lastSuccess    time.Time
}

// NewCoinGeckoProvider builds a provider. c may be nil to disable response caching.
func NewCoinGeckoProvider(config CoinGeckoConfig, c cache.Cache) *CoinGeckoProvider {
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	if config.Pages <= 0 {
		config.Pages = 1
	}
	if config.PerPage <= 0 || config.PerPage > maxPerPage {
		config.PerPage = DefaultPerPage
	}
	if config.Breaker.Name == "" {
		config.Breaker = DefaultCircuitBreakerConfig("CoinGecko")
	}

	headers := map[string]string{"Accept": "application/json"}
	if config.APIKey != "" {
		headers["x-cg-demo-api-key"] = config.APIKey
	}

	return &CoinGeckoProvider{
		config: config,
		client: httpclient.NewClientPool(httpclient.ClientConfig{
			MaxConcurrency: 1,
			RequestTimeout: config.RequestTimeout,
			MaxRetries:     config.MaxRetries,
			UserAgent:      config.UserAgent,
			Headers:        headers,
		}),
		limiter: NewRateLimiter(coinGeckoName, config.RPS, config.Burst),
		breaker: NewCircuitBreaker(config.Breaker),
		cache:   c,
	}
}

// CacheObserver is told whether each page came from the response cache.
type CacheObserver interface {
	CacheHit()
	CacheMiss()
}

func (p *CoinGeckoProvider) SetCacheObserver(o CacheObserver) { p.cacheObserver = o }

func (p *CoinGeckoProvider) Name() string { return coinGeckoName }

// FetchMarkets returns all rows for vsCurrency across the configured pages.
// Rows missing a required field are dropped with a warning and counted in
// Batch.Skipped.
func (p *CoinGeckoProvider) FetchMarkets(ctx context.Context, vsCurrency string) (market.Batch, error) {
	vsCurrency = strings.ToLower(strings.TrimSpace(vsCurrency))
	if vsCurrency == "" {
		return market.Batch{}, p.degrade("bad_request", errors.New("vs_currency is required"))
	}

	var batch market.Batch
	seen := 0
	for page := 1; page <= p.config.Pages; page++ {
		body, err := p.fetchPage(ctx, vsCurrency, page)
		if err != nil {
			return market.Batch{}, err
		}

		rows, err := decodeMarkets(body)
		if err != nil {
			return market.Batch{}, p.degrade("decode_error", err)
		}

		for _, row := range rows {
			rec, err := row.record(seen)
			seen++
			if err != nil {
				batch.Skipped++
				log.Warn().Err(err).Str("id", row.ID).Msg("Skipping malformed CoinGecko market row")
				continue
			}
			batch.Records = append(batch.Records, rec)
		}

		if len(rows) < p.config.PerPage {
			break
		}
	}

	p.mu.Lock()
	p.degraded = false
	p.degradedReason = ""
	p.lastSuccess = time.Now()
	p.mu.Unlock()

	return batch, nil
}

func (p *CoinGeckoProvider) fetchPage(ctx context.Context, vsCurrency string, page int) ([]byte, error) {
	key := fmt.Sprintf("coingecko:markets:%s:%d:%d", vsCurrency, p.config.PerPage, page)
	if p.cache != nil {
		if body, found, err := p.cache.Get(ctx, key); err != nil {
			log.Debug().Err(err).Str("key", key).Msg("Market cache read failed")
		} else if found {
			if p.cacheObserver != nil {
				p.cacheObserver.CacheHit()
			}
			return body, nil
		}
		if p.cacheObserver != nil {
			p.cacheObserver.CacheMiss()
		}
	}

	if err := p.limiter.Wait(ctx); err != nil {
		return nil, p.degrade("rate_limited", err)
	}

	result, err := p.breaker.Execute(func() (interface{}, error) {
		return p.get(ctx, vsCurrency, page)
	})
	if err != nil {
		switch {
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			return nil, p.degrade("circuit_open", err)
		case errors.Is(err, errRateLimited):
			return nil, p.degrade("rate_limited", err)
		case errors.Is(err, context.DeadlineExceeded):
			return nil, p.degrade("timeout", err)
		default:
			return nil, p.degrade("api_error", err)
		}
	}

	body := result.([]byte)
	if p.cache != nil && p.config.CacheTTL > 0 {
		if err := p.cache.Set(ctx, key, body, p.config.CacheTTL); err != nil {
			log.Debug().Err(err).Str("key", key).Msg("Market cache write failed")
		}
	}
	return body, nil
}

func (p *CoinGeckoProvider) get(ctx context.Context, vsCurrency string, page int) ([]byte, error) {
	q := url.Values{}
	q.Set("vs_currency", vsCurrency)
	q.Set("order", "market_cap_desc")
	q.Set("per_page", fmt.Sprint(p.config.PerPage))
	q.Set("page", fmt.Sprint(page))
	q.Set("sparkline", "false")
	endpoint := p.config.BaseURL + "/coins/markets?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := p.client.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		p.limiter.HandleRetryAfter(resp.Header.Get("Retry-After"), time.Minute)
		return nil, errRateLimited
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	log.Debug().
		Int("page", page).
		Int("bytes", len(body)).
		Str("vs_currency", vsCurrency).
		Dur("duration", time.Since(start)).
		Msg("CoinGecko markets data retrieved")

	return body, nil
}

func (p *CoinGeckoProvider) degrade(reason string, err error) error {
	p.mu.Lock()
	p.degraded = true
	p.degradedReason = reason
	p.mu.Unlock()

	log.Warn().
		Err(err).
		Str("reason", reason).
		Msg("CoinGecko provider degraded")

	return market.NewDataSourceError(coinGeckoName, reason, err)
}

type ProviderStatus struct {
	Name           string    `json:"name"`
	Healthy        bool      `json:"healthy"`
	DegradedReason string    `json:"degraded_reason,omitempty"`
	BreakerState   string    `json:"breaker_state"`
	LastSuccess    time.Time `json:"last_success,omitempty"`
	ThrottledUntil time.Time `json:"throttled_until,omitempty"`
	Requests       int64     `json:"requests"`
	Failures       int64     `json:"failures"`
}

func (p *CoinGeckoProvider) Status() ProviderStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()

	stats := p.client.GetStats()
	state := p.breaker.State()
	return ProviderStatus{
		Name:           coinGeckoName,
		Healthy:        !p.degraded && state != gobreaker.StateOpen,
		DegradedReason: p.degradedReason,
		BreakerState:   state.String(),
		LastSuccess:    p.lastSuccess,
		ThrottledUntil: p.limiter.ThrottledUntil(),
		Requests:       stats.TotalRequests,
		Failures:       stats.FailedRequests,
	}
}

// marketRow is the subset of a /coins/markets row we read. Other fields are ignored.
type marketRow struct {
	ID          string              `json:"id"`
	Symbol      *string             `json:"symbol"`
	Name        *string             `json:"name"`
	MarketCap   decimal.NullDecimal `json:"market_cap"`
	TotalVolume decimal.NullDecimal `json:"total_volume"`
}

func (r marketRow) record(index int) (market.Record, error) {
	switch {
	case r.Name == nil || *r.Name == "":
		return market.Record{}, &market.FormatError{Index: index, Field: "name"}
	case r.Symbol == nil || *r.Symbol == "":
		return market.Record{}, &market.FormatError{Index: index, Field: "symbol"}
	case !r.MarketCap.Valid:
		return market.Record{}, &market.FormatError{Index: index, Field: "market_cap"}
	case !r.TotalVolume.Valid:
		return market.Record{}, &market.FormatError{Index: index, Field: "total_volume"}
	}
	return market.Record{
		Name:        *r.Name,
		Symbol:      *r.Symbol,
		MarketCap:   r.MarketCap.Decimal,
		TotalVolume: r.TotalVolume.Decimal,
	}, nil
}

func decodeMarkets(body []byte) ([]marketRow, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 || body[0] != '[' {
		return nil, fmt.Errorf("unexpected markets payload: %.64q", body)
	}
	var rows []marketRow
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("decode markets: %w", err)
	}
	return rows, nil
}
