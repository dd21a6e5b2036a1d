package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/dgraph-io/badger/v4"
)

const (
	sourcesPrefix = "sources/"
	quotesPrefix  = "quotes/"
	expiryPrefix  = "expiry/"
	keySep        = "\x00"
)

type quoteRecord struct {
	Value     string `json:"value"`
	Timestamp int64  `json:"ts"` // unix nanoseconds, 0 when never reported
}

type expiryRecord struct {
	Price      string `json:"price"`
	Decimals   uint8  `json:"decimals"`
	Kind       string `json:"kind"`
	RecordedAt int64  `json:"recorded_at"`
}

// BadgerStore persists registry, quotes and settled prices in BadgerDB.
// Each source list is one value, so list updates and snapshots are single-key atomic.
type BadgerStore struct {
	db *badger.DB
}

var _ Store = (*BadgerStore)(nil)

// NewBadgerStore opens a store at path. An empty path opens an in-memory database.
func NewBadgerStore(path string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	opts = opts.WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger store: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

func sourcesKey(asset string) []byte {
	return []byte(sourcesPrefix + asset)
}

func quoteKeyBytes(asset, source string) []byte {
	return []byte(quotesPrefix + asset + keySep + source)
}

func expiryKeyBytes(asset string, expiry time.Time) []byte {
	return []byte(fmt.Sprintf("%s%s%s%020d", expiryPrefix, asset, keySep, expiry.Unix()))
}

// RecordQuote overwrites the latest quote for (asset, source).
func (b *BadgerStore) RecordQuote(_ context.Context, asset, source string, value sdkmath.Uint, timestamp time.Time) error {
	asset = CanonicalAsset(asset)
	if err := validateQuote(asset, source, value); err != nil {
		return err
	}

	rec := quoteRecord{Value: value.String()}
	if !timestamp.IsZero() {
		rec.Timestamp = timestamp.UnixNano()
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode quote: %w", err)
	}

	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(quoteKeyBytes(asset, source), data)
	})
}

// GetQuote returns the latest quote, or an empty quote if none was recorded.
func (b *BadgerStore) GetQuote(_ context.Context, asset, source string) (Quote, error) {
	asset = CanonicalAsset(asset)

	var q Quote
	err := b.db.View(func(txn *badger.Txn) error {
		var err error
		q, err = readQuote(txn, asset, source)
		return err
	})
	return q, err
}

// ListSources returns the asset's source list in registration order.
func (b *BadgerStore) ListSources(_ context.Context, asset string) ([]Source, error) {
	asset = CanonicalAsset(asset)

	var list []Source
	err := b.db.View(func(txn *badger.Txn) error {
		var err error
		list, err = readSources(txn, asset)
		return err
	})
	return list, err
}

// AddSource appends a source to the asset's list.
func (b *BadgerStore) AddSource(_ context.Context, asset string, src Source) error {
	asset = CanonicalAsset(asset)
	if err := validateSource(asset, src); err != nil {
		return err
	}

	return b.db.Update(func(txn *badger.Txn) error {
		list, err := readSources(txn, asset)
		if err != nil {
			return err
		}
		for _, existing := range list {
			if existing.ID == src.ID {
				return fmt.Errorf("%w: %s for %s", ErrSourceExists, src.ID, asset)
			}
		}
		return writeSources(txn, asset, append(list, src))
	})
}

// RemoveSource drops one source from the asset's list. Its quote is kept.
func (b *BadgerStore) RemoveSource(_ context.Context, asset, source string) error {
	asset = CanonicalAsset(asset)

	return b.db.Update(func(txn *badger.Txn) error {
		list, err := readSources(txn, asset)
		if err != nil {
			return err
		}
		for i, existing := range list {
			if existing.ID != source {
				continue
			}
			list = append(list[:i:i], list[i+1:]...)
			if len(list) == 0 {
				return txn.Delete(sourcesKey(asset))
			}
			return writeSources(txn, asset, list)
		}
		return fmt.Errorf("%w: %s for %s", ErrSourceNotFound, source, asset)
	})
}

// Assets lists assets with at least one registered source.
func (b *BadgerStore) Assets(_ context.Context) ([]string, error) {
	var assets []string
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(sourcesPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			key := string(it.Item().Key())
			assets = append(assets, strings.TrimPrefix(key, sourcesPrefix))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(assets)
	return assets, nil
}

// Snapshot reads sources and quotes inside a single read transaction.
func (b *BadgerStore) Snapshot(_ context.Context, asset string) (Snapshot, error) {
	asset = CanonicalAsset(asset)
	snap := Snapshot{Asset: asset}

	err := b.db.View(func(txn *badger.Txn) error {
		list, err := readSources(txn, asset)
		if err != nil {
			return err
		}
		snap.Sources = list
		snap.Quotes = make(map[string]Quote, len(list))
		for _, src := range list {
			q, err := readQuote(txn, asset, src.ID)
			if err != nil {
				return err
			}
			if !q.Missing() {
				snap.Quotes[src.ID] = q
			}
		}
		return nil
	})
	return snap, err
}

// SetExpiryPrice stores a settled price; an (asset, expiry) pair is written once.
func (b *BadgerStore) SetExpiryPrice(_ context.Context, price ExpiryPrice) error {
	price.Asset = CanonicalAsset(price.Asset)
	if price.Asset == "" {
		return ErrEmptyAsset
	}
	data, err := json.Marshal(expiryRecord{
		Price:      price.Price.String(),
		Decimals:   price.Decimals,
		Kind:       price.Kind,
		RecordedAt: price.RecordedAt.UnixNano(),
	})
	if err != nil {
		return fmt.Errorf("failed to encode expiry price: %w", err)
	}

	key := expiryKeyBytes(price.Asset, price.Expiry)
	return b.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(key); err == nil {
			return fmt.Errorf("%w: %s at %d", ErrExpiryPriceAlreadySet, price.Asset, price.Expiry.Unix())
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.Set(key, data)
	})
}

// GetExpiryPrice returns the settled price for an asset and expiry.
func (b *BadgerStore) GetExpiryPrice(_ context.Context, asset string, expiry time.Time) (ExpiryPrice, error) {
	asset = CanonicalAsset(asset)

	var rec expiryRecord
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(expiryKeyBytes(asset, expiry))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%w: %s at %d", ErrExpiryPriceNotFound, asset, expiry.Unix())
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
	})
	if err != nil {
		return ExpiryPrice{}, err
	}

	price, err := sdkmath.ParseUint(rec.Price)
	if err != nil {
		return ExpiryPrice{}, fmt.Errorf("corrupt expiry price for %s: %w", asset, err)
	}
	return ExpiryPrice{
		Asset:      asset,
		Expiry:     time.Unix(expiry.Unix(), 0).UTC(),
		Price:      price,
		Decimals:   rec.Decimals,
		Kind:       rec.Kind,
		RecordedAt: time.Unix(0, rec.RecordedAt).UTC(),
	}, nil
}

// Close closes the underlying database.
func (b *BadgerStore) Close() error {
	return b.db.Close()
}

func readSources(txn *badger.Txn, asset string) ([]Source, error) {
	item, err := txn.Get(sourcesKey(asset))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var list []Source
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &list)
	})
	if err != nil {
		return nil, fmt.Errorf("corrupt source list for %s: %w", asset, err)
	}
	return list, nil
}

func writeSources(txn *badger.Txn, asset string, list []Source) error {
	data, err := json.Marshal(list)
	if err != nil {
		return fmt.Errorf("failed to encode source list: %w", err)
	}
	return txn.Set(sourcesKey(asset), data)
}

func readQuote(txn *badger.Txn, asset, source string) (Quote, error) {
	item, err := txn.Get(quoteKeyBytes(asset, source))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return emptyQuote(asset, source), nil
	}
	if err != nil {
		return Quote{}, err
	}

	var rec quoteRecord
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &rec)
	}); err != nil {
		return Quote{}, fmt.Errorf("corrupt quote for %s/%s: %w", asset, source, err)
	}

	value, err := sdkmath.ParseUint(rec.Value)
	if err != nil {
		return Quote{}, fmt.Errorf("corrupt quote value for %s/%s: %w", asset, source, err)
	}
	q := Quote{Asset: asset, Source: source, Value: value}
	if rec.Timestamp != 0 {
		q.Timestamp = time.Unix(0, rec.Timestamp)
	}
	return q, nil
}
