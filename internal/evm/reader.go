package evm

import (
	"context"
	"log"
	"math/big"
	"os"
	"strings"

	"token-catalog/internal/domain"
)

// Multicall3 is deployed at the same address on every supported chain.
const Multicall3Address = "0xcA11bde05977b3631167028862bE2a173976CA11"

// Reader reads token metadata and balances. It never returns transport
// errors: any failure surfaces as absent data.
type Reader struct {
	client *Client
	logger *log.Logger
}

// NewReader creates a Reader over the given client.
func NewReader(client *Client) *Reader {
	return &Reader{
		client: client,
		logger: log.New(os.Stdout, "[evm] ", log.LstdFlags),
	}
}

// ReadTokenMetadata reads an ERC-20 contract's name, symbol, and
// decimals. Returns ok=false if the contract is missing, reverts, or
// the chain is unreachable.
func (r *Reader) ReadTokenMetadata(ctx context.Context, address string, chainID int64) (domain.OnChainMetadata, bool) {
	name, err := r.callString(ctx, chainID, address, selName)
	if err != nil {
		r.logger.Printf("chain %d %s name(): %v", chainID, address, err)
		return domain.OnChainMetadata{}, false
	}

	symbol, err := r.callString(ctx, chainID, address, selSymbol)
	if err != nil {
		r.logger.Printf("chain %d %s symbol(): %v", chainID, address, err)
		return domain.OnChainMetadata{}, false
	}

	decimalsRaw, err := r.client.ethCall(ctx, chainID, address, "0x"+selDecimals)
	if err != nil {
		r.logger.Printf("chain %d %s decimals(): %v", chainID, address, err)
		return domain.OnChainMetadata{}, false
	}
	decimals, err := decodeUint(decimalsRaw)
	if err != nil {
		r.logger.Printf("chain %d %s decimals decode: %v", chainID, address, err)
		return domain.OnChainMetadata{}, false
	}

	return domain.OnChainMetadata{
		Name:     name,
		Symbol:   symbol,
		Decimals: int(decimals.Int64()),
	}, true
}

func (r *Reader) callString(ctx context.Context, chainID int64, address, selector string) (string, error) {
	raw, err := r.client.ethCall(ctx, chainID, address, "0x"+selector)
	if err != nil {
		return "", err
	}
	return decodeStringReturn(raw)
}

// ReadBalances reads an account's balances for the given tokens in one
// Multicall3 batch. Native-token entries use eth_getBalance. A failed
// individual read yields a zero balance for that token, never an error.
func (r *Reader) ReadBalances(ctx context.Context, account string, chainID int64, tokens []domain.Token) []domain.TokenBalance {
	var (
		native *domain.Token
		erc20  []domain.Token
	)
	for i := range tokens {
		if strings.EqualFold(tokens[i].Address, domain.NativeTokenAddress) {
			native = &tokens[i]
		} else {
			erc20 = append(erc20, tokens[i])
		}
	}

	var balances []domain.TokenBalance

	if native != nil {
		if amount := r.nativeBalance(ctx, account, chainID); amount != nil && amount.Sign() > 0 {
			balances = append(balances, domain.TokenBalance{
				Token:   *native,
				Balance: amount.String(),
			})
		}
	}

	if len(erc20) > 0 {
		balances = append(balances, r.erc20Balances(ctx, account, chainID, erc20)...)
	}

	return balances
}

func (r *Reader) nativeBalance(ctx context.Context, account string, chainID int64) *big.Int {
	var result string
	params := []interface{}{account, "latest"}
	if err := r.client.call(ctx, chainID, "eth_getBalance", params, &result); err != nil {
		r.logger.Printf("chain %d eth_getBalance %s: %v", chainID, account, err)
		return nil
	}
	amount, err := decodeUint(result)
	if err != nil {
		r.logger.Printf("chain %d eth_getBalance decode: %v", chainID, err)
		return nil
	}
	return amount
}

func (r *Reader) erc20Balances(ctx context.Context, account string, chainID int64, tokens []domain.Token) []domain.TokenBalance {
	callData, err := balanceOfCallData(account)
	if err != nil {
		r.logger.Printf("chain %d balanceOf calldata: %v", chainID, err)
		return nil
	}

	calls := make([]multicallCall, len(tokens))
	for i, t := range tokens {
		calls[i] = multicallCall{Target: t.Address, CallData: callData}
	}

	encoded, err := encodeAggregate3(calls)
	if err != nil {
		r.logger.Printf("chain %d aggregate3 encode: %v", chainID, err)
		return nil
	}

	raw, err := r.client.ethCall(ctx, chainID, Multicall3Address, encoded)
	if err != nil {
		r.logger.Printf("chain %d aggregate3: %v", chainID, err)
		return nil
	}

	results, err := decodeAggregate3(raw, len(tokens))
	if err != nil {
		r.logger.Printf("chain %d aggregate3 decode: %v", chainID, err)
		return nil
	}

	var balances []domain.TokenBalance
	for i, res := range results {
		if !res.Success {
			continue
		}
		amount, err := decodeUint(res.ReturnData)
		if err != nil || amount.Sign() <= 0 {
			continue
		}
		balances = append(balances, domain.TokenBalance{
			Token:   tokens[i],
			Balance: amount.String(),
		})
	}
	return balances
}
