package evm

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// resolution is the fractional bit count of the UQ112x112 accumulators.
const resolution = 112

// uint256Mask keeps counterfactual sums inside the accumulator's 256-bit wraparound.
var uint256Mask = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// Uniswap V2 Pair ABI (cumulative price and reserve getters only).
const pairABIJSON = `[{
	"constant": true,
	"inputs": [],
	"name": "price0CumulativeLast",
	"outputs": [{"internalType": "uint256", "name": "", "type": "uint256"}],
	"payable": false,
	"stateMutability": "view",
	"type": "function"
}, {
	"constant": true,
	"inputs": [],
	"name": "price1CumulativeLast",
	"outputs": [{"internalType": "uint256", "name": "", "type": "uint256"}],
	"payable": false,
	"stateMutability": "view",
	"type": "function"
}, {
	"constant": true,
	"inputs": [],
	"name": "getReserves",
	"outputs": [
		{"internalType": "uint112", "name": "_reserve0", "type": "uint112"},
		{"internalType": "uint112", "name": "_reserve1", "type": "uint112"},
		{"internalType": "uint32", "name": "_blockTimestampLast", "type": "uint32"}
	],
	"payable": false,
	"stateMutability": "view",
	"type": "function"
}]`

// Backend is the subset of an RPC client the pair reader needs.
type Backend interface {
	ethereum.ContractCaller
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
}

// PairConfig identifies the pair contract and which side's price to read.
type PairConfig struct {
	RPCURL      string
	PairAddress string
	// TokenIndex 0 reads price0CumulativeLast (token1 per token0), 1 the inverse.
	TokenIndex int
	// Decimals is the fixed-point precision of the returned accumulator.
	Decimals uint8
}

// Validate checks the pair configuration.
func (c PairConfig) Validate() error {
	if c.RPCURL == "" {
		return fmt.Errorf("%w", ErrRPCURLRequired)
	}
	if c.PairAddress == "" || !common.IsHexAddress(c.PairAddress) {
		return fmt.Errorf("%w: %q", ErrPairAddressRequired, c.PairAddress)
	}
	if c.TokenIndex != 0 && c.TokenIndex != 1 {
		return fmt.Errorf("%w: %d", ErrInvalidTokenIndex, c.TokenIndex)
	}
	return nil
}

// PairPool reads a pair's cumulative price over JSON-RPC.
type PairPool struct {
	backend    Backend
	closer     func()
	pair       common.Address
	tokenIndex int
	method     string
	scale      *big.Int
	pairABI    abi.ABI
}

// Dial connects to the RPC endpoint and returns a pool for the configured pair.
func Dial(ctx context.Context, cfg PairConfig) (*PairPool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	client, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RPC: %w", err)
	}
	pool, err := NewPairPool(client, cfg)
	if err != nil {
		client.Close()
		return nil, err
	}
	pool.closer = client.Close
	return pool, nil
}

// NewPairPool wraps an existing RPC backend.
func NewPairPool(backend Backend, cfg PairConfig) (*PairPool, error) {
	if cfg.TokenIndex != 0 && cfg.TokenIndex != 1 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidTokenIndex, cfg.TokenIndex)
	}
	pairABI, err := abi.JSON(strings.NewReader(pairABIJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to parse pair ABI: %w", err)
	}

	return &PairPool{
		backend:    backend,
		pair:       common.HexToAddress(cfg.PairAddress),
		tokenIndex: cfg.TokenIndex,
		method:     fmt.Sprintf("price%dCumulativeLast", cfg.TokenIndex),
		scale:      new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(cfg.Decimals)), nil),
		pairABI:    pairABI,
	}, nil
}

// CumulativePrice returns the pair accumulator as a Decimals fixed-point value,
// extended to the latest block's timestamp with the current reserves when the pair
// has not synced in that block. Differences between two reads divided by elapsed
// seconds give the average price.
func (p *PairPool) CumulativePrice(ctx context.Context) (sdkmath.Uint, error) {
	header, err := p.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return sdkmath.Uint{}, fmt.Errorf("failed to fetch latest header: %w", err)
	}

	raw, err := p.currentCumulative(ctx, header)
	if err != nil {
		return sdkmath.Uint{}, err
	}

	// value * 10^decimals >> 112
	scaled := new(big.Int).Mul(raw, p.scale)
	scaled.Rsh(scaled, resolution)
	if err := sdkmath.UintOverflow(scaled); err != nil {
		return sdkmath.Uint{}, fmt.Errorf("%w: %s", ErrAccumulatorOverflow, p.method)
	}
	return sdkmath.NewUintFromBigInt(scaled), nil
}

// currentCumulative reads the stored accumulator and adds spot * (blockTime - blockTimestampLast).
// Both reads are pinned to the header's block so they agree with its timestamp.
func (p *PairPool) currentCumulative(ctx context.Context, header *types.Header) (*big.Int, error) {
	out, err := p.call(ctx, p.method, header.Number)
	if err != nil {
		return nil, err
	}
	if len(out) != 1 {
		return nil, fmt.Errorf("unexpected %s result length %d", p.method, len(out))
	}
	stored, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected %s result type %T", p.method, out[0])
	}

	out, err = p.call(ctx, "getReserves", header.Number)
	if err != nil {
		return nil, err
	}
	if len(out) != 3 {
		return nil, fmt.Errorf("unexpected getReserves result length %d", len(out))
	}
	reserve0, ok0 := out[0].(*big.Int)
	reserve1, ok1 := out[1].(*big.Int)
	last, ok2 := out[2].(uint32)
	if !ok0 || !ok1 || !ok2 {
		return nil, fmt.Errorf("unexpected getReserves result types %T, %T, %T", out[0], out[1], out[2])
	}

	// uint32 arithmetic mirrors the pair's own overflow-tolerant timestamp math.
	elapsed := uint32(header.Time) - last // #nosec G115 -- block timestamps are truncated to 32 bits on-chain
	if elapsed == 0 {
		return stored, nil
	}
	if reserve0.Sign() == 0 || reserve1.Sign() == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoLiquidity, p.pair.Hex())
	}

	num, den := reserve1, reserve0
	if p.tokenIndex == 1 {
		num, den = reserve0, reserve1
	}
	spot := new(big.Int).Lsh(num, resolution)
	spot.Quo(spot, den)
	spot.Mul(spot, new(big.Int).SetUint64(uint64(elapsed)))

	current := new(big.Int).Add(stored, spot)
	return current.And(current, uint256Mask), nil
}

func (p *PairPool) call(ctx context.Context, method string, block *big.Int) ([]interface{}, error) {
	data, err := p.pairABI.Pack(method)
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s call: %w", method, err)
	}

	result, err := p.backend.CallContract(ctx, ethereum.CallMsg{
		To:   &p.pair,
		Data: data,
	}, block)
	if err != nil {
		return nil, fmt.Errorf("failed to call %s: %w", method, err)
	}

	out, err := p.pairABI.Unpack(method, result)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack %s result: %w", method, err)
	}
	return out, nil
}

// Close releases the RPC connection if the pool owns one.
func (p *PairPool) Close() {
	if p.closer != nil {
		p.closer()
	}
}
