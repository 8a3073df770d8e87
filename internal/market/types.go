package market

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Record is one asset row as returned by the market data source.
type Record struct {
	Name        string
	Symbol      string
	MarketCap   decimal.Decimal
	TotalVolume decimal.Decimal
}

// Batch is one fetch from a data source. Skipped counts rows the source
// dropped because a required field was missing or malformed.
type Batch struct {
	Records []Record
	Skipped int
}

// Entry is a ranked record. Symbol is upper-cased and Ratio is TotalVolume/MarketCap.
type Entry struct {
	Name   string          `json:"name"`
	Symbol string          `json:"symbol"`
	Ratio  decimal.Decimal `json:"ratio"`
	Line   string          `json:"line"`
}

// Snapshot is the result of one ranking pass. It is replaced wholesale on every
// refresh and never merged with a previous one.
type Snapshot struct {
	Entries   []Entry   `json:"entries"`
	FetchedAt time.Time `json:"fetched_at"`
	Skipped   int       `json:"skipped"`
}

// Lines returns the formatted display line of each entry in rank order.
func (s Snapshot) Lines() []string {
	lines := make([]string, len(s.Entries))
	for i, e := range s.Entries {
		lines[i] = e.Line
	}
	return lines
}

// Text joins the display lines with newlines. An empty snapshot yields "".
func (s Snapshot) Text() string {
	return strings.Join(s.Lines(), "\n")
}

func (s Snapshot) Len() int { return len(s.Entries) }
