package domain

import "strings"

// NativeTokenAddress is the conventional placeholder address used by
// token lists for a chain's native asset.
const NativeTokenAddress = "0xEeeeeEeeeEeEeeEeEeEeeEEEeeeeEeeeeeeeEEeE"

// ZeroAddress is the null address placeholder.
const ZeroAddress = "0x0000000000000000000000000000000000000000"

// Supported mainnet chain ids.
const (
	ChainBase        int64 = 8453
	ChainLisk        int64 = 1135
	ChainBaseSepolia int64 = 84532
	ChainLiskSepolia int64 = 4202
)

// excludedAddresses lists per-chain token addresses that must never
// appear as ordinary catalog entries: the native-token sentinel and the
// null address. Native assets are represented by NativeTokens instead.
var excludedAddresses = map[int64][]string{
	ChainBase:        {ZeroAddress, NativeTokenAddress},
	ChainLisk:        {ZeroAddress, NativeTokenAddress},
	ChainBaseSepolia: {ZeroAddress, NativeTokenAddress},
	ChainLiskSepolia: {ZeroAddress, NativeTokenAddress},
}

// IsExcludedAddress reports whether a token address is a placeholder
// that must be filtered out of the aggregated catalog for its chain.
func IsExcludedAddress(address string, chainID int64) bool {
	normalized := strings.ToLower(address)
	for _, excluded := range excludedAddresses[chainID] {
		if strings.ToLower(excluded) == normalized {
			return true
		}
	}
	return false
}

// nativeTokens holds synthetic native-asset entries per chain.
var nativeTokens = map[int64]RawToken{
	ChainBase: {
		ChainID:  ChainBase,
		Address:  NativeTokenAddress,
		Name:     "Ether",
		Symbol:   "ETH",
		Decimals: 18,
	},
	ChainLisk: {
		ChainID:  ChainLisk,
		Address:  NativeTokenAddress,
		Name:     "Ether",
		Symbol:   "ETH",
		Decimals: 18,
	},
	ChainBaseSepolia: {
		ChainID:  ChainBaseSepolia,
		Address:  NativeTokenAddress,
		Name:     "Sepolia Ether",
		Symbol:   "ETH",
		Decimals: 18,
	},
	ChainLiskSepolia: {
		ChainID:  ChainLiskSepolia,
		Address:  NativeTokenAddress,
		Name:     "Sepolia Ether",
		Symbol:   "ETH",
		Decimals: 18,
	},
}

// NativeToken returns the synthetic native token for a chain, or false
// if the chain has no native-token configuration.
func NativeToken(chainID int64) (Token, bool) {
	raw, ok := nativeTokens[chainID]
	if !ok {
		return Token{}, false
	}
	return WithID(raw), true
}
