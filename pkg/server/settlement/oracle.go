package settlement

import (
	"context"
	"time"

	sdkmath "cosmossdk.io/math"

	"github.com/StrathCole/settlement-pricer/pkg/server/store"
)

// Kinds of settlement prices.
const (
	KindAggregate = "aggregate"
	KindTWAP      = "twap"
)

// Submission is a price handed to the settlement oracle for an asset at an expiry.
type Submission struct {
	Asset    string       `json:"asset"`
	Expiry   time.Time    `json:"expiry"`
	Price    sdkmath.Uint `json:"price"`
	Decimals uint8        `json:"decimals"`
	Kind     string       `json:"kind"`
	Source   string       `json:"source,omitempty"` // twap pool name
}

// Oracle is the settlement sink.
type Oracle interface {
	SetExpiryPrice(ctx context.Context, sub Submission) error
}

// Listener is notified after a submission was accepted by the oracle.
type Listener interface {
	OnSettlement(sub Submission)
}

// Book is an Oracle that records expiry prices in the store, once per (asset, expiry).
type Book struct {
	book store.ExpiryBook
	now  func() time.Time
}

var _ Oracle = (*Book)(nil)

// NewBook creates a store-backed oracle.
func NewBook(book store.ExpiryBook) *Book {
	return &Book{book: book, now: time.Now}
}

// SetExpiryPrice writes the price. A second write for the same expiry fails.
func (b *Book) SetExpiryPrice(ctx context.Context, sub Submission) error {
	return b.book.SetExpiryPrice(ctx, store.ExpiryPrice{
		Asset:      sub.Asset,
		Expiry:     sub.Expiry,
		Price:      sub.Price,
		Decimals:   sub.Decimals,
		Kind:       sub.Kind,
		RecordedAt: b.now().UTC(),
	})
}

// Get returns the recorded price for an asset and expiry.
func (b *Book) Get(ctx context.Context, asset string, expiry time.Time) (store.ExpiryPrice, error) {
	return b.book.GetExpiryPrice(ctx, asset, expiry)
}
