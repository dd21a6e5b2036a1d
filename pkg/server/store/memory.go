package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	sdkmath "cosmossdk.io/math"
)

type quoteKey struct {
	asset  string
	source string
}

type expiryKey struct {
	asset  string
	expiry int64
}

// MemoryStore keeps all state in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	sources map[string][]Source
	quotes  map[quoteKey]Quote
	expiry  map[expiryKey]ExpiryPrice
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sources: make(map[string][]Source),
		quotes:  make(map[quoteKey]Quote),
		expiry:  make(map[expiryKey]ExpiryPrice),
	}
}

// RecordQuote overwrites the latest quote for (asset, source).
func (m *MemoryStore) RecordQuote(_ context.Context, asset, source string, value sdkmath.Uint, timestamp time.Time) error {
	asset = CanonicalAsset(asset)
	if err := validateQuote(asset, source, value); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.quotes[quoteKey{asset, source}] = Quote{
		Asset:     asset,
		Source:    source,
		Value:     value,
		Timestamp: timestamp,
	}
	return nil
}

// GetQuote returns the latest quote, or an empty quote if none was recorded.
func (m *MemoryStore) GetQuote(_ context.Context, asset, source string) (Quote, error) {
	asset = CanonicalAsset(asset)

	m.mu.RLock()
	defer m.mu.RUnlock()
	if q, ok := m.quotes[quoteKey{asset, source}]; ok {
		return q, nil
	}
	return emptyQuote(asset, source), nil
}

// ListSources returns a copy of the asset's source list in registration order.
func (m *MemoryStore) ListSources(_ context.Context, asset string) ([]Source, error) {
	asset = CanonicalAsset(asset)

	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Source(nil), m.sources[asset]...), nil
}

// AddSource appends a source to the asset's list.
func (m *MemoryStore) AddSource(_ context.Context, asset string, src Source) error {
	asset = CanonicalAsset(asset)
	if err := validateSource(asset, src); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.sources[asset] {
		if existing.ID == src.ID {
			return fmt.Errorf("%w: %s for %s", ErrSourceExists, src.ID, asset)
		}
	}
	m.sources[asset] = append(m.sources[asset], src)
	return nil
}

// RemoveSource drops one source from the asset's list. Its quote is kept.
func (m *MemoryStore) RemoveSource(_ context.Context, asset, source string) error {
	asset = CanonicalAsset(asset)

	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.sources[asset]
	for i, existing := range list {
		if existing.ID != source {
			continue
		}
		list = append(list[:i:i], list[i+1:]...)
		if len(list) == 0 {
			delete(m.sources, asset)
		} else {
			m.sources[asset] = list
		}
		return nil
	}
	return fmt.Errorf("%w: %s for %s", ErrSourceNotFound, source, asset)
}

// Assets lists assets with at least one registered source.
func (m *MemoryStore) Assets(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	assets := make([]string, 0, len(m.sources))
	for asset := range m.sources {
		assets = append(assets, asset)
	}
	sort.Strings(assets)
	return assets, nil
}

// Snapshot reads sources and quotes under one read lock.
func (m *MemoryStore) Snapshot(_ context.Context, asset string) (Snapshot, error) {
	asset = CanonicalAsset(asset)

	m.mu.RLock()
	defer m.mu.RUnlock()

	snap := Snapshot{
		Asset:   asset,
		Sources: append([]Source(nil), m.sources[asset]...),
		Quotes:  make(map[string]Quote, len(m.sources[asset])),
	}
	for _, src := range snap.Sources {
		if q, ok := m.quotes[quoteKey{asset, src.ID}]; ok && !q.Missing() {
			snap.Quotes[src.ID] = q
		}
	}
	return snap, nil
}

// SetExpiryPrice stores a settled price; an (asset, expiry) pair is written once.
func (m *MemoryStore) SetExpiryPrice(_ context.Context, price ExpiryPrice) error {
	price.Asset = CanonicalAsset(price.Asset)
	if price.Asset == "" {
		return ErrEmptyAsset
	}
	key := expiryKey{price.Asset, price.Expiry.Unix()}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.expiry[key]; ok {
		return fmt.Errorf("%w: %s at %d", ErrExpiryPriceAlreadySet, price.Asset, key.expiry)
	}
	m.expiry[key] = price
	return nil
}

// GetExpiryPrice returns the settled price for an asset and expiry.
func (m *MemoryStore) GetExpiryPrice(_ context.Context, asset string, expiry time.Time) (ExpiryPrice, error) {
	asset = CanonicalAsset(asset)

	m.mu.RLock()
	defer m.mu.RUnlock()
	price, ok := m.expiry[expiryKey{asset, expiry.Unix()}]
	if !ok {
		return ExpiryPrice{}, fmt.Errorf("%w: %s at %d", ErrExpiryPriceNotFound, asset, expiry.Unix())
	}
	return price, nil
}

// Close is a no-op for the memory store.
func (m *MemoryStore) Close() error {
	return nil
}
