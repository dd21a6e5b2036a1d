package store

import (
	"strings"
)

// Stablecoin quote aliases, all settled as USD.
var stablecoinAliases = map[string]string{
	"USDT": "USD",
	"USDC": "USD",
	"BUSD": "USD",
	"DAI":  "USD",
	"TUSD": "USD",
	"USDP": "USD",
}

// Wrapped base assets settle against their underlying.
var baseAssetAliases = map[string]string{
	"WBTC":  "BTC",
	"WETH":  "ETH",
	"STETH": "ETH",
}

// CanonicalAsset maps an asset identifier to the key it is stored under.
// Pair identifiers are upper-cased and aliases collapsed:
//   - eth/usdt -> ETH/USD
//   - WBTC/USDC -> BTC/USD
//   - LUNC/EUR -> LUNC/EUR
//
// Identifiers without a single "/" are only trimmed and upper-cased.
func CanonicalAsset(asset string) string {
	asset = strings.ToUpper(strings.TrimSpace(asset))
	parts := strings.Split(asset, "/")
	if len(parts) != 2 {
		return asset
	}

	base, quote := parts[0], parts[1]
	if normalized, ok := baseAssetAliases[base]; ok {
		base = normalized
	}
	if normalized, ok := stablecoinAliases[quote]; ok {
		quote = normalized
	}

	return base + "/" + quote
}
