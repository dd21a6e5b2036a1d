package store

import (
	"context"
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func backends(t *testing.T) map[string]Store {
	t.Helper()

	bs, err := NewBadgerStore("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = bs.Close() })

	return map[string]Store{
		"memory": NewMemoryStore(),
		"badger": bs,
	}
}

func TestStore_SourceRegistry(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			require.NoError(t, s.AddSource(ctx, "ETH/USD", Source{ID: "chainlink", Weight: 6000, Decimals: 8}))
			require.NoError(t, s.AddSource(ctx, "ETH/USD", Source{ID: "pyth", Weight: 4000, Decimals: 18}))

			list, err := s.ListSources(ctx, "ETH/USD")
			require.NoError(t, err)
			require.Len(t, list, 2)
			assert.Equal(t, "chainlink", list[0].ID)
			assert.Equal(t, "pyth", list[1].ID)

			err = s.AddSource(ctx, "ETH/USD", Source{ID: "pyth", Weight: 1})
			assert.ErrorIs(t, err, ErrSourceExists)

			err = s.AddSource(ctx, "ETH/USD", Source{ID: "heavy", Weight: 10001})
			assert.ErrorIs(t, err, ErrInvalidWeight)

			err = s.AddSource(ctx, "", Source{ID: "x", Weight: 1})
			assert.ErrorIs(t, err, ErrEmptyAsset)

			err = s.AddSource(ctx, "ETH/USD", Source{ID: " ", Weight: 1})
			assert.ErrorIs(t, err, ErrEmptySource)

			assets, err := s.Assets(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"ETH/USD"}, assets)
		})
	}
}

// Removal drops exactly one entry; it does not clear the asset's list.
func TestStore_RemoveSourceRemovesOne(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for _, id := range []string{"a", "b", "c"} {
				require.NoError(t, s.AddSource(ctx, "BTC/USD", Source{ID: id, Weight: 3333, Decimals: 8}))
			}

			require.NoError(t, s.RemoveSource(ctx, "BTC/USD", "b"))

			list, err := s.ListSources(ctx, "BTC/USD")
			require.NoError(t, err)
			require.Len(t, list, 2)
			assert.Equal(t, "a", list[0].ID)
			assert.Equal(t, "c", list[1].ID)

			err = s.RemoveSource(ctx, "BTC/USD", "b")
			assert.ErrorIs(t, err, ErrSourceNotFound)

			require.NoError(t, s.RemoveSource(ctx, "BTC/USD", "a"))
			require.NoError(t, s.RemoveSource(ctx, "BTC/USD", "c"))
			assets, err := s.Assets(ctx)
			require.NoError(t, err)
			assert.Empty(t, assets)
		})
	}
}

func TestStore_QuotesOverwriteAndOutliveSource(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			now := time.Unix(1_700_000_000, 0)

			q, err := s.GetQuote(ctx, "ETH/USD", "pyth")
			require.NoError(t, err)
			assert.True(t, q.Missing())
			assert.True(t, q.Value.IsZero())

			require.NoError(t, s.AddSource(ctx, "ETH/USD", Source{ID: "pyth", Weight: 10000, Decimals: 18}))
			require.NoError(t, s.RecordQuote(ctx, "ETH/USD", "pyth", sdkmath.NewUint(100), now))
			require.NoError(t, s.RecordQuote(ctx, "ETH/USD", "pyth", sdkmath.NewUint(200), now.Add(time.Minute)))

			q, err = s.GetQuote(ctx, "ETH/USD", "pyth")
			require.NoError(t, err)
			assert.True(t, q.Value.Equal(sdkmath.NewUint(200)))
			assert.Equal(t, now.Add(time.Minute).Unix(), q.Timestamp.Unix())

			require.NoError(t, s.RemoveSource(ctx, "ETH/USD", "pyth"))
			q, err = s.GetQuote(ctx, "ETH/USD", "pyth")
			require.NoError(t, err)
			assert.True(t, q.Value.Equal(sdkmath.NewUint(200)))
		})
	}
}

func TestStore_Snapshot(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			now := time.Unix(1_700_000_000, 0)

			require.NoError(t, s.AddSource(ctx, "ETH/USD", Source{ID: "a", Weight: 5000, Decimals: 18}))
			require.NoError(t, s.AddSource(ctx, "ETH/USD", Source{ID: "b", Weight: 5000, Decimals: 6}))
			require.NoError(t, s.RecordQuote(ctx, "ETH/USD", "a", sdkmath.NewUint(7), now))
			require.NoError(t, s.RecordQuote(ctx, "ETH/USD", "unregistered", sdkmath.NewUint(9), now))

			snap, err := s.Snapshot(ctx, "eth/usdt")
			require.NoError(t, err)
			assert.Equal(t, "ETH/USD", snap.Asset)
			require.Len(t, snap.Sources, 2)
			require.Len(t, snap.Quotes, 1)
			assert.True(t, snap.Quote("a").Value.Equal(sdkmath.NewUint(7)))
			assert.True(t, snap.Quote("b").Missing())

			empty, err := s.Snapshot(ctx, "DOGE/USD")
			require.NoError(t, err)
			assert.Empty(t, empty.Sources)
		})
	}
}

func TestStore_ExpiryPriceWriteOnce(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			expiry := time.Unix(1_700_006_400, 0)

			_, err := s.GetExpiryPrice(ctx, "ETH/USD", expiry)
			assert.ErrorIs(t, err, ErrExpiryPriceNotFound)

			price := ExpiryPrice{
				Asset:      "ETH/USD",
				Expiry:     expiry,
				Price:      sdkmath.NewUint(1234),
				Decimals:   8,
				Kind:       "aggregate",
				RecordedAt: expiry.Add(time.Second),
			}
			require.NoError(t, s.SetExpiryPrice(ctx, price))

			err = s.SetExpiryPrice(ctx, price)
			assert.ErrorIs(t, err, ErrExpiryPriceAlreadySet)

			got, err := s.GetExpiryPrice(ctx, "ETH/USDC", expiry)
			require.NoError(t, err)
			assert.True(t, got.Price.Equal(sdkmath.NewUint(1234)))
			assert.Equal(t, uint8(8), got.Decimals)
			assert.Equal(t, "aggregate", got.Kind)
			assert.Equal(t, expiry.Unix(), got.Expiry.Unix())
		})
	}
}

func TestCanonicalAsset(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"eth/usdt", "ETH/USD"},
		{"WBTC/USDC", "BTC/USD"},
		{"LUNC/EUR", "LUNC/EUR"},
		{" weth ", "WETH"},
		{"A/B/C", "A/B/C"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, CanonicalAsset(tt.in))
		})
	}
}
