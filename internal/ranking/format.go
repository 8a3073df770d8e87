package ranking

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// FormatLine renders one ranked entry, ratio fixed to six decimals.
func FormatLine(name, symbol string, ratio decimal.Decimal) string {
	return fmt.Sprintf("%s (%s, Volume to Market Cap Ratio: %s)", name, symbol, ratio.StringFixed(6))
}
