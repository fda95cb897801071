package symbols

import "strings"

// Normalize converts a configured symbol to the exchange's canonical form:
// uppercase, without separators. Common alternate spellings such as
// "eth-btc", "ETH/BTC" or "eth_btc" all map to "ETHBTC".
func Normalize(sym string) string {
	sym = strings.TrimSpace(sym)
	sym = strings.NewReplacer("-", "", "/", "", "_", "", " ", "").Replace(sym)
	return strings.ToUpper(sym)
}

// StreamName converts a symbol to the lowercase form used in stream paths.
func StreamName(sym string) string {
	return strings.ToLower(Normalize(sym))
}
