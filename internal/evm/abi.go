package evm

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
)

// ERC-20 and Multicall3 function selectors.
const (
	selName       = "06fdde03" // name()
	selSymbol     = "95d89b41" // symbol()
	selDecimals   = "313ce567" // decimals()
	selBalanceOf  = "70a08231" // balanceOf(address)
	selAggregate3 = "82ad56cb" // aggregate3((address,bool,bytes)[])
)

const wordSize = 32

// encodeAddressWord left-pads an address to one 32-byte ABI word.
func encodeAddressWord(address string) (string, error) {
	clean := strings.TrimPrefix(strings.ToLower(address), "0x")
	if len(clean) != 40 {
		return "", fmt.Errorf("invalid address %q", address)
	}
	if _, err := hex.DecodeString(clean); err != nil {
		return "", fmt.Errorf("invalid address %q: %w", address, err)
	}
	return strings.Repeat("0", 24) + clean, nil
}

// encodeUintWord encodes an integer as one ABI word.
func encodeUintWord(v uint64) string {
	return fmt.Sprintf("%064x", v)
}

// balanceOfCallData builds the calldata for balanceOf(account).
func balanceOfCallData(account string) (string, error) {
	word, err := encodeAddressWord(account)
	if err != nil {
		return "", err
	}
	return "0x" + selBalanceOf + word, nil
}

// decodeUint parses a hex return value into a big integer.
func decodeUint(data string) (*big.Int, error) {
	clean := strings.TrimPrefix(data, "0x")
	if clean == "" {
		return big.NewInt(0), nil
	}
	v, ok := new(big.Int).SetString(clean, 16)
	if !ok {
		return nil, fmt.Errorf("invalid uint return data %q", data)
	}
	return v, nil
}

// decodeStringReturn parses an ABI-encoded string return value. Both
// the standard dynamic string encoding and the legacy bytes32 form
// (used by tokens like MKR) are accepted.
func decodeStringReturn(data string) (string, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(data, "0x"))
	if err != nil {
		return "", fmt.Errorf("invalid return data: %w", err)
	}
	if len(raw) == 0 {
		return "", fmt.Errorf("empty return data")
	}

	// Legacy bytes32: exactly one word, right-padded with zeros.
	if len(raw) == wordSize {
		return string(trimRightZeros(raw)), nil
	}

	if len(raw) < 2*wordSize {
		return "", fmt.Errorf("return data too short for string: %d bytes", len(raw))
	}

	size := uint64(len(raw))
	// Subtraction-form bounds checks: offset and length come off the
	// wire and can sit anywhere in the uint64 range, so addition on
	// them can wrap around.
	offset := new(big.Int).SetBytes(raw[:wordSize]).Uint64()
	if offset > size || size-offset < wordSize {
		return "", fmt.Errorf("string offset out of range")
	}
	length := new(big.Int).SetBytes(raw[offset : offset+wordSize]).Uint64()
	start := offset + wordSize
	if length > size-start {
		return "", fmt.Errorf("string length out of range")
	}
	return string(raw[start : start+length]), nil
}

func trimRightZeros(b []byte) []byte {
	end := len(b)
	for end > 0 && b[end-1] == 0 {
		end--
	}
	return b[:end]
}

// multicallCall is one call in an aggregate3 batch.
type multicallCall struct {
	Target   string // contract address
	CallData string // 0x-prefixed calldata
}

// multicallResult is one decoded aggregate3 result.
type multicallResult struct {
	Success    bool
	ReturnData string // 0x-prefixed
}

// encodeAggregate3 builds calldata for Multicall3.aggregate3 with
// allowFailure=true for every call, so one reverting token cannot fail
// the whole batch.
func encodeAggregate3(calls []multicallCall) (string, error) {
	var tuples []string
	for _, call := range calls {
		addrWord, err := encodeAddressWord(call.Target)
		if err != nil {
			return "", err
		}

		data := strings.TrimPrefix(call.CallData, "0x")
		if len(data)%2 != 0 {
			return "", fmt.Errorf("odd calldata length for %s", call.Target)
		}
		dataLen := uint64(len(data) / 2)
		padded := data + strings.Repeat("0", padTo32(dataLen)*2)

		// (address target, bool allowFailure, bytes callData):
		// two static words, then the offset of the dynamic bytes
		// relative to the tuple start, then the bytes themselves.
		tuple := addrWord +
			encodeUintWord(1) +
			encodeUintWord(3*wordSize) +
			encodeUintWord(dataLen) +
			padded
		tuples = append(tuples, tuple)
	}

	// Dynamic array of dynamic tuples: length word, then per-element
	// offsets relative to the start of the element area.
	body := encodeUintWord(uint64(len(calls)))
	elementOffset := uint64(len(calls)) * wordSize
	for _, tuple := range tuples {
		body += encodeUintWord(elementOffset)
		elementOffset += uint64(len(tuple) / 2)
	}
	for _, tuple := range tuples {
		body += tuple
	}

	// Top-level: offset of the array parameter.
	return "0x" + selAggregate3 + encodeUintWord(wordSize) + body, nil
}

// decodeAggregate3 parses the (bool,bytes)[] return of aggregate3.
func decodeAggregate3(data string, expected int) ([]multicallResult, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(data, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid return data: %w", err)
	}
	if len(raw) < 2*wordSize {
		return nil, fmt.Errorf("return data too short: %d bytes", len(raw))
	}

	// All offsets and lengths below come off the wire; checks use the
	// subtraction form so oversized values cannot wrap a uint64 sum
	// past the bounds check.
	size := uint64(len(raw))
	arrayStart := new(big.Int).SetBytes(raw[:wordSize]).Uint64()
	if arrayStart > size || size-arrayStart < wordSize {
		return nil, fmt.Errorf("array offset out of range")
	}
	count := new(big.Int).SetBytes(raw[arrayStart : arrayStart+wordSize]).Uint64()
	if count != uint64(expected) {
		return nil, fmt.Errorf("expected %d results, got %d", expected, count)
	}

	elementArea := arrayStart + wordSize
	results := make([]multicallResult, 0, count)
	for i := uint64(0); i < count; i++ {
		offsetPos := elementArea + i*wordSize
		if offsetPos > size || size-offsetPos < wordSize {
			return nil, fmt.Errorf("element offset out of range")
		}
		tupleOffset := new(big.Int).SetBytes(raw[offsetPos : offsetPos+wordSize]).Uint64()
		if tupleOffset > size-elementArea {
			return nil, fmt.Errorf("tuple offset out of range")
		}
		tupleStart := elementArea + tupleOffset
		if size-tupleStart < 2*wordSize {
			return nil, fmt.Errorf("tuple out of range")
		}

		success := new(big.Int).SetBytes(raw[tupleStart:tupleStart+wordSize]).Sign() != 0

		bytesOffset := new(big.Int).SetBytes(raw[tupleStart+wordSize : tupleStart+2*wordSize]).Uint64()
		if bytesOffset > size-tupleStart {
			return nil, fmt.Errorf("bytes offset out of range")
		}
		bytesLenPos := tupleStart + bytesOffset
		if size-bytesLenPos < wordSize {
			return nil, fmt.Errorf("bytes length out of range")
		}
		bytesLen := new(big.Int).SetBytes(raw[bytesLenPos : bytesLenPos+wordSize]).Uint64()
		dataStart := bytesLenPos + wordSize
		if bytesLen > size-dataStart {
			return nil, fmt.Errorf("bytes data out of range")
		}

		results = append(results, multicallResult{
			Success:    success,
			ReturnData: "0x" + hex.EncodeToString(raw[dataStart:dataStart+bytesLen]),
		})
	}
	return results, nil
}

// padTo32 returns how many zero bytes pad n up to a word boundary.
func padTo32(n uint64) int {
	rem := n % wordSize
	if rem == 0 {
		return 0
	}
	return int(wordSize - rem)
}
