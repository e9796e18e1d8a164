package domain

// TokenBalance is a token the account holds, with the raw on-chain
// amount and a human-readable decimal-shifted form.
type TokenBalance struct {
	Token
	Balance          string `json:"balance"`          // raw integer amount as decimal string
	BalanceFormatted string `json:"balanceFormatted"` // amount / 10^decimals
}
