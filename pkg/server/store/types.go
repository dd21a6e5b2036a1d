package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	sdkmath "cosmossdk.io/math"
)

// MaxWeight is full coverage in basis points.
const MaxWeight = 10000

// Source is a registered price reporter for one asset.
type Source struct {
	ID       string `json:"id"`
	Weight   uint32 `json:"weight"`   // basis points, 0..10000
	Decimals uint8  `json:"decimals"` // precision the reporter scales its values by
}

// Quote is the latest value a source reported for an asset. It refers to its source
// by id only, so it stays readable after the source is removed from the registry.
type Quote struct {
	Asset     string
	Source    string
	Value     sdkmath.Uint // zero means no data
	Timestamp time.Time    // zero means never reported
}

// Missing reports whether the source never reported for the asset.
func (q Quote) Missing() bool {
	return q.Timestamp.IsZero()
}

// Snapshot is the registry and quote state for one asset, read at a single point.
type Snapshot struct {
	Asset   string
	Sources []Source
	Quotes  map[string]Quote // keyed by source id; missing entries are absent
}

// Quote returns the quote for a source, or an empty quote when none was recorded.
func (s Snapshot) Quote(source string) Quote {
	if q, ok := s.Quotes[source]; ok {
		return q
	}
	return emptyQuote(s.Asset, source)
}

// ExpiryPrice is a price forwarded to the settlement oracle for an asset at an expiry.
type ExpiryPrice struct {
	Asset      string       `json:"asset"`
	Expiry     time.Time    `json:"expiry"`
	Price      sdkmath.Uint `json:"price"`
	Decimals   uint8        `json:"decimals"`
	Kind       string       `json:"kind"` // "aggregate" or "twap"
	RecordedAt time.Time    `json:"recorded_at"`
}

// QuoteStore is the ingress for reporter quotes.
type QuoteStore interface {
	RecordQuote(ctx context.Context, asset, source string, value sdkmath.Uint, timestamp time.Time) error
	GetQuote(ctx context.Context, asset, source string) (Quote, error)
}

// SourceRegistry manages the ordered per-asset source list.
type SourceRegistry interface {
	ListSources(ctx context.Context, asset string) ([]Source, error)
	AddSource(ctx context.Context, asset string, src Source) error
	// RemoveSource removes a single source; the rest of the list is untouched.
	RemoveSource(ctx context.Context, asset, source string) error
	Assets(ctx context.Context) ([]string, error)
}

// ExpiryBook persists settled prices, once per (asset, expiry).
type ExpiryBook interface {
	SetExpiryPrice(ctx context.Context, price ExpiryPrice) error
	GetExpiryPrice(ctx context.Context, asset string, expiry time.Time) (ExpiryPrice, error)
}

// Store is the full storage surface used by the pricer.
type Store interface {
	QuoteStore
	SourceRegistry
	ExpiryBook

	// Snapshot reads the source list and all of its quotes in one consistent read.
	Snapshot(ctx context.Context, asset string) (Snapshot, error)
	Close() error
}

func emptyQuote(asset, source string) Quote {
	return Quote{Asset: asset, Source: source, Value: sdkmath.ZeroUint()}
}

func validateSource(asset string, src Source) error {
	if asset == "" {
		return ErrEmptyAsset
	}
	if strings.TrimSpace(src.ID) == "" {
		return ErrEmptySource
	}
	if src.Weight > MaxWeight {
		return fmt.Errorf("%w: %d", ErrInvalidWeight, src.Weight)
	}
	return nil
}

func validateQuote(asset, source string, value sdkmath.Uint) error {
	if asset == "" {
		return ErrEmptyAsset
	}
	if strings.TrimSpace(source) == "" {
		return ErrEmptySource
	}
	if value.IsNil() {
		return fmt.Errorf("quote value for %s/%s is uninitialised", asset, source)
	}
	return nil
}
