package ranking

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/sawpanic/coinratio/internal/market"
)

const (
	DefaultTopN     = 10
	DefaultCurrency = "usd"
)

// DefaultMinMarketCap is the inclusive market cap floor. Being positive it also
// keeps zero caps out of the ratio division.
var DefaultMinMarketCap = decimal.NewFromInt(50_000_000)

// Source is the external market data collaborator.
type Source interface {
	FetchMarkets(ctx context.Context, vsCurrency string) (market.Batch, error)
}

// Options tunes the filter and cut-off of a ranking pass.
type Options struct {
	MinMarketCap decimal.Decimal
	TopN         int
}

func DefaultOptions() Options {
	return Options{MinMarketCap: DefaultMinMarketCap, TopN: DefaultTopN}
}

func (o Options) normalized() Options {
	if !o.MinMarketCap.IsPositive() {
		o.MinMarketCap = DefaultMinMarketCap
	}
	if o.TopN <= 0 {
		o.TopN = DefaultTopN
	}
	return o
}

// Engine fetches market records and ranks them by volume to market cap ratio.
// It holds no state between refreshes.
type Engine struct {
	source   Source
	currency string
	opts     Options
	now      func() time.Time
}

func NewEngine(source Source, currency string, opts Options) *Engine {
	if currency == "" {
		currency = DefaultCurrency
	}
	return &Engine{
		source:   source,
		currency: strings.ToLower(currency),
		opts:     opts.normalized(),
		now:      time.Now,
	}
}

// Refresh pulls the current records and returns a fresh snapshot. A failed
// fetch is returned as a *market.DataSourceError.
func (e *Engine) Refresh(ctx context.Context) (market.Snapshot, error) {
	batch, err := e.source.FetchMarkets(ctx, e.currency)
	if err != nil {
		return market.Snapshot{}, market.NewDataSourceError("ranking", "fetch", err)
	}

	records := batch.Records
	valid := make([]market.Record, 0, len(records))
	skipped := batch.Skipped
	for i, r := range records {
		if err := Validate(i, r); err != nil {
			skipped++
			log.Warn().Err(err).Str("symbol", r.Symbol).Msg("Skipping malformed market record")
			continue
		}
		valid = append(valid, r)
	}

	entries := Rank(valid, e.opts)

	log.Debug().
		Int("records", len(records)+batch.Skipped).
		Int("skipped", skipped).
		Int("ranked", len(entries)).
		Str("vs_currency", e.currency).
		Msg("Ranking refreshed")

	return market.Snapshot{Entries: entries, FetchedAt: e.now(), Skipped: skipped}, nil
}

// Validate returns a *market.FormatError for a record that cannot be ranked.
func Validate(index int, r market.Record) error {
	switch {
	case r.Name == "":
		return &market.FormatError{Index: index, Field: "name"}
	case r.Symbol == "":
		return &market.FormatError{Index: index, Field: "symbol"}
	case r.MarketCap.IsNegative():
		return &market.FormatError{Index: index, Field: "market_cap", Msg: "is negative"}
	case r.TotalVolume.IsNegative():
		return &market.FormatError{Index: index, Field: "total_volume", Msg: "is negative"}
	}
	return nil
}

// Rank filters records below the market cap floor, orders the rest by ratio
// descending (ties keep input order) and keeps the first TopN.
func Rank(records []market.Record, opts Options) []market.Entry {
	opts = opts.normalized()

	entries := make([]market.Entry, 0, len(records))
	for _, r := range records {
		if r.MarketCap.LessThan(opts.MinMarketCap) {
			continue
		}
		symbol := strings.ToUpper(r.Symbol)
		ratio := r.TotalVolume.Div(r.MarketCap)
		entries = append(entries, market.Entry{
			Name:   r.Name,
			Symbol: symbol,
			Ratio:  ratio,
			Line:   FormatLine(r.Name, symbol, ratio),
		})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Ratio.GreaterThan(entries[j].Ratio)
	})

	if len(entries) > opts.TopN {
		entries = entries[:opts.TopN]
	}
	return entries
}
