package symbols

import (
	"sort"
	"strings"
)

// quoteAssets are the quote currencies recognised when splitting a spot pair.
// Longer codes come first so FDUSD wins over USD.
var quoteAssets = []string{
	"FDUSD", "USDT", "USDC", "TUSD", "BUSD", "USDP",
	"EUR", "TRY", "BRL", "GBP", "JPY", "AUD",
	"BTC", "ETH", "BNB", "DAI",
}

// Normalize converts user supplied pairs such as "pha/usdt" or "PHA-USDT"
// to Binance spot style.
func Normalize(sym string) string {
	sym = strings.ToUpper(strings.TrimSpace(sym))
	return strings.NewReplacer("-", "", "/", "", "_", "", " ", "").Replace(sym)
}

// Split separates a Binance spot pair into base and quote assets.
func Split(pair string) (base, quote string, ok bool) {
	pair = Normalize(pair)
	for _, q := range quoteAssets {
		if len(pair) > len(q) && strings.HasSuffix(pair, q) {
			return strings.TrimSuffix(pair, q), q, true
		}
	}
	return "", "", false
}

// IsUSD reports whether an asset code denotes a USD stablecoin or USD itself.
func IsUSD(asset string) bool {
	return strings.Contains(strings.ToUpper(asset), "USD")
}

// USDTPair returns the USDT-quoted spot pair for asset.
func USDTPair(asset string) string {
	return Normalize(asset) + "USDT"
}

// ForAssets builds every asset/quote pair for the held assets, skipping
// pairs of an asset with itself. The result is sorted and free of duplicates.
func ForAssets(assets, quotes []string) []string {
	seen := make(map[string]struct{})
	for _, a := range assets {
		a = Normalize(a)
		if a == "" {
			continue
		}
		for _, q := range quotes {
			q = Normalize(q)
			if q == "" || a == q {
				continue
			}
			seen[a+q] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
