// Package twap derives time-weighted average prices from a liquidity pool's
// cumulative price accumulator, sampled in two phases.
package twap

import "errors"

var (
	// ErrTooEarly indicates that the second phase was triggered before the minimum period elapsed.
	ErrTooEarly = errors.New("too early to finalize twap")
	// ErrPreparingPrice indicates that the sampler is accumulating and has no readable price.
	ErrPreparingPrice = errors.New("twap price is being prepared")
	// ErrNoPrice indicates that no sample has ever been finalized.
	ErrNoPrice = errors.New("no twap price published yet")
	// ErrAccumulatorRegressed indicates that the pool accumulator went backwards between samples.
	ErrAccumulatorRegressed = errors.New("pool accumulator regressed")
	// ErrInvalidMinPeriod indicates a minimum period shorter than one second.
	ErrInvalidMinPeriod = errors.New("minimum period must be at least 1s")
)
