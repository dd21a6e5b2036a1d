// Package aggregator combines quotes from independent reporters into one settlement price.
package aggregator

import "errors"

var (
	// ErrPricerDoesNotExist indicates that the asset has no registered sources.
	ErrPricerDoesNotExist = errors.New("pricer does not exist")
	// ErrWeightOutOfBounds indicates that the active source weight cannot be brought within tolerance.
	ErrWeightOutOfBounds = errors.New("weight out of bounds")
	// ErrInvalidTolerance indicates a tolerance outside 0..10000 basis points.
	ErrInvalidTolerance = errors.New("tolerance must be between 0 and 10000 basis points")
	// ErrUnknownEqualizeMode indicates an unsupported equalize mode.
	ErrUnknownEqualizeMode = errors.New("unknown equalize mode")
	// ErrPriceOverflow indicates that scaling a quote exceeded 256 bits.
	ErrPriceOverflow = errors.New("price overflows 256 bits")
)
