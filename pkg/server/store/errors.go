// Package store holds the per-asset source registry, the latest quote per (asset, source)
// and the book of settled expiry prices.
package store

import "errors"

var (
	// ErrEmptyAsset indicates that an asset identifier was empty.
	ErrEmptyAsset = errors.New("asset must not be empty")
	// ErrEmptySource indicates that a source identifier was empty.
	ErrEmptySource = errors.New("source must not be empty")
	// ErrInvalidWeight indicates a source weight outside 0..10000 basis points.
	ErrInvalidWeight = errors.New("weight must be between 0 and 10000 basis points")
	// ErrSourceExists indicates that the source is already registered for the asset.
	ErrSourceExists = errors.New("source already registered")
	// ErrSourceNotFound indicates that the source is not registered for the asset.
	ErrSourceNotFound = errors.New("source not registered")
	// ErrExpiryPriceNotFound indicates that no price was settled for the asset and expiry.
	ErrExpiryPriceNotFound = errors.New("expiry price not found")
	// ErrExpiryPriceAlreadySet indicates that the asset and expiry were already settled.
	ErrExpiryPriceAlreadySet = errors.New("expiry price already set")
)
