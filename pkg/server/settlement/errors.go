// Package settlement forwards aggregated and TWAP prices to the settlement oracle.
package settlement

import "errors"

var (
	// ErrUnknownPool indicates that no TWAP sampler is registered under the name.
	ErrUnknownPool = errors.New("unknown twap pool")
	// ErrPoolExists indicates that a TWAP sampler is already registered under the name.
	ErrPoolExists = errors.New("twap pool already registered")
	// ErrInvalidExpiry indicates a missing expiry timestamp.
	ErrInvalidExpiry = errors.New("expiry must be set")
)
