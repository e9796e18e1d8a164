package domain

// TokenPrice is a resolved USD price for one token. UsdPrice == 0 is a
// valid "no source reported a usable price" sentinel, distinct from an
// absent cache entry.
type TokenPrice struct {
	TokenAddress string  `json:"tokenAddress"` // lowercased
	ChainID      int64   `json:"chainId"`
	UsdPrice     float64 `json:"usdPrice"`
}

// PriceObservation is one resolved price point recorded to the history
// store. Source names which upstream supplied the winning value;
// "none" records a zero sentinel.
type PriceObservation struct {
	TokenAddress string  // lowercased
	ChainID      int64   //
	UsdPrice     float64 //
	Source       string  // lifi | oneinch | dexscreener | geckoterminal | fallback | none
	ObservedAtMs int64   // Unix timestamp in milliseconds
}
