// Package evm reads Uniswap-V2 style cumulative price accumulators from EVM pair contracts.
package evm

import "errors"

var (
	// ErrRPCURLRequired indicates that rpc_url configuration is required.
	ErrRPCURLRequired = errors.New("rpc_url is required")
	// ErrPairAddressRequired indicates that pair_address configuration is required.
	ErrPairAddressRequired = errors.New("pair_address is required")
	// ErrInvalidTokenIndex indicates a token index other than 0 or 1.
	ErrInvalidTokenIndex = errors.New("token_index must be 0 or 1")
	// ErrAccumulatorOverflow indicates that the rescaled accumulator exceeds 256 bits.
	ErrAccumulatorOverflow = errors.New("rescaled accumulator overflows 256 bits")
	// ErrNoLiquidity indicates that a reserve is zero, so no spot price can extend the accumulator.
	ErrNoLiquidity = errors.New("pair has no liquidity")
)
