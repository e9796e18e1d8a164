package domain

// ValidationState is the persisted progress record of the validation
// scheduler. Exactly one instance exists per validator; only the
// scheduler mutates it.
type ValidationState struct {
	CurrentPosition int   `json:"currentPosition"`
	TotalTokens     int   `json:"totalTokens"`
	IsProcessing    bool  `json:"isProcessing"`
	StartedAtMs     int64 `json:"startedAt,omitempty"` // Unix timestamp in milliseconds
}

// OnChainMetadata is the result of reading an ERC-20 contract's
// name/symbol/decimals directly from its chain.
type OnChainMetadata struct {
	Name     string
	Symbol   string
	Decimals int
}
