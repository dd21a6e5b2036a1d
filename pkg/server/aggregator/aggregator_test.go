package aggregator

import (
	"context"
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/StrathCole/settlement-pricer/pkg/logging"
	"github.com/StrathCole/settlement-pricer/pkg/server/store"
)

var testNow = time.Unix(1_700_000_000, 0)

type seedQuote struct {
	id       string
	weight   uint32
	decimals uint8
	value    string
	age      time.Duration
	missing  bool
}

func seed(t *testing.T, s store.Store, asset string, quotes ...seedQuote) {
	t.Helper()
	ctx := context.Background()
	for _, q := range quotes {
		require.NoError(t, s.AddSource(ctx, asset, store.Source{ID: q.id, Weight: q.weight, Decimals: q.decimals}))
		if q.missing {
			continue
		}
		require.NoError(t, s.RecordQuote(ctx, asset, q.id, sdkmath.NewUintFromString(q.value), testNow.Add(-q.age)))
	}
}

func newTestAggregator(t *testing.T, s store.Store, cfg Config) *Aggregator {
	t.Helper()
	agg, err := New(s, cfg, logging.NewNoopLogger())
	require.NoError(t, err)
	return agg.WithClock(func() time.Time { return testNow })
}

func e18(n uint64) sdkmath.Uint {
	return sdkmath.NewUint(n).Mul(sdkmath.NewUintFromString("1000000000000000000"))
}

func TestCompute_MixedPrecision(t *testing.T) {
	s := store.NewMemoryStore()
	seed(t, s, "ETH/USD",
		seedQuote{id: "a", weight: 5000, decimals: 18, value: "100000000000000000000"},
		seedQuote{id: "b", weight: 5000, decimals: 6, value: "100000000"},
	)
	agg := newTestAggregator(t, s, Config{})

	price, err := agg.Compute(context.Background(), "ETH/USD", false)
	require.NoError(t, err)
	assert.True(t, price.Equal(e18(100)), "got %s", price)

	report, err := agg.ComputeDetailed(context.Background(), "ETH/USD", false)
	require.NoError(t, err)
	assert.Equal(t, uint8(18), report.Decimals)
	assert.Equal(t, PolicyNone, report.Policy)
	assert.Equal(t, uint64(10000), report.ConsumedWeight)
}

func TestCompute_PricerDoesNotExist(t *testing.T) {
	agg := newTestAggregator(t, store.NewMemoryStore(), Config{})

	_, err := agg.Compute(context.Background(), "ETH/USD", true)
	assert.ErrorIs(t, err, ErrPricerDoesNotExist)
}

func TestCompute_StaleSourceTriggersExcludeAndScale(t *testing.T) {
	s := store.NewMemoryStore()
	seed(t, s, "BTC/USD",
		seedQuote{id: "stale", weight: 1000, decimals: 8, value: "999", age: 16 * time.Minute},
		seedQuote{id: "b", weight: 3000, decimals: 8, value: "6000000000000"},
		seedQuote{id: "c", weight: 6000, decimals: 8, value: "6000000000000"},
	)
	agg := newTestAggregator(t, s, Config{Tolerances: Tolerances{WeightDeviation: 500}})

	report, err := agg.ComputeDetailed(context.Background(), "BTC/USD", false)
	require.NoError(t, err)
	assert.Equal(t, PolicyExcludeAndScale, report.Policy)
	assert.True(t, report.Degraded)
	assert.Equal(t, "stale", report.FirstDegraded)
	assert.Equal(t, StatusStale, report.Sources[0].Status)
	assert.Equal(t, uint32(0), report.Sources[0].EffectiveWeight)

	// 3333 + 6666: truncation may drop up to one bp per kept source.
	assert.LessOrEqual(t, report.ConsumedWeight, uint64(10000))
	assert.GreaterOrEqual(t, report.ConsumedWeight, uint64(10000-2))
	assert.Equal(t, "5999400000000", report.Price.String())
}

func TestCompute_FreshnessBoundaryIsInclusive(t *testing.T) {
	s := store.NewMemoryStore()
	seed(t, s, "ETH/USD",
		seedQuote{id: "edge", weight: 10000, decimals: 0, value: "42", age: 15 * time.Minute},
	)
	agg := newTestAggregator(t, s, Config{})

	price, err := agg.Compute(context.Background(), "ETH/USD", false)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), price.Uint64())
}

// Only the first stale or missing source is reported in the degraded flag; the
// others are classified per source but not enumerated by the flag.
func TestCompute_DegradedFlagIsFirstHitOnly(t *testing.T) {
	s := store.NewMemoryStore()
	seed(t, s, "ETH/USD",
		seedQuote{id: "live", weight: 4000, decimals: 0, value: "10"},
		seedQuote{id: "gone", weight: 3000, decimals: 0, missing: true},
		seedQuote{id: "old", weight: 3000, decimals: 0, value: "11", age: time.Hour},
	)
	agg := newTestAggregator(t, s, Config{})

	report, err := agg.ComputeDetailed(context.Background(), "ETH/USD", false)
	require.NoError(t, err)
	assert.True(t, report.Degraded)
	assert.Equal(t, "gone", report.FirstDegraded)
	assert.Equal(t, StatusMissing, report.Sources[1].Status)
	assert.Equal(t, StatusStale, report.Sources[2].Status)
	assert.Equal(t, uint32(10000), report.Sources[0].EffectiveWeight)
	assert.Equal(t, uint64(10), report.Price.Uint64())
}

// Only over-coverage beyond the tolerance band, or no active weight at all, is
// rejected; everything else is repaired by reweighting.
func TestCompute_WeightOutOfBounds(t *testing.T) {
	s := store.NewMemoryStore()
	seed(t, s, "ETH/USD",
		seedQuote{id: "a", weight: 6000, decimals: 0, value: "100"},
		seedQuote{id: "b", weight: 6000, decimals: 0, value: "100"},
	)
	agg := newTestAggregator(t, s, Config{Tolerances: Tolerances{WeightDeviation: 500}})

	_, err := agg.Compute(context.Background(), "ETH/USD", false)
	assert.ErrorIs(t, err, ErrWeightOutOfBounds)

	report, err := agg.ComputeDetailed(context.Background(), "ETH/USD", true)
	require.NoError(t, err)
	assert.True(t, report.Overridden)
	assert.Equal(t, PolicyNone, report.Policy)
	assert.Equal(t, uint64(12000), report.ConsumedWeight)
	assert.Equal(t, uint64(120), report.Price.Uint64())
}

func TestCompute_OverCoverageWithinBandIsRescaled(t *testing.T) {
	s := store.NewMemoryStore()
	seed(t, s, "ETH/USD",
		seedQuote{id: "a", weight: 5100, decimals: 0, value: "100"},
		seedQuote{id: "b", weight: 5100, decimals: 0, value: "200"},
	)
	agg := newTestAggregator(t, s, Config{Tolerances: Tolerances{WeightDeviation: 500}})

	report, err := agg.ComputeDetailed(context.Background(), "ETH/USD", false)
	require.NoError(t, err)
	assert.Equal(t, PolicyExcludeAndScale, report.Policy)
	assert.Equal(t, uint64(10000), report.ConsumedWeight)
	assert.Equal(t, uint64(150), report.Price.Uint64())
}

func TestCompute_NoActiveWeightFailsEvenWithOverride(t *testing.T) {
	s := store.NewMemoryStore()
	seed(t, s, "ETH/USD",
		seedQuote{id: "a", weight: 5000, decimals: 0, value: "100", age: time.Hour},
		seedQuote{id: "b", weight: 5000, decimals: 0, missing: true},
	)
	agg := newTestAggregator(t, s, Config{})

	_, err := agg.Compute(context.Background(), "ETH/USD", true)
	assert.ErrorIs(t, err, ErrWeightOutOfBounds)
}

func TestCompute_ZeroValueNeverContributes(t *testing.T) {
	s := store.NewMemoryStore()
	seed(t, s, "ETH/USD",
		seedQuote{id: "zero", weight: 5000, decimals: 0, value: "0"},
		seedQuote{id: "b", weight: 5000, decimals: 0, value: "300"},
	)
	agg := newTestAggregator(t, s, Config{Tolerances: Tolerances{WeightDeviation: 1000}})

	report, err := agg.ComputeDetailed(context.Background(), "ETH/USD", false)
	require.NoError(t, err)
	assert.Equal(t, StatusNoData, report.Sources[0].Status)
	assert.Equal(t, uint64(5000), report.ActiveWeight)
	// A zero quote is not a stale/missing source, so Equalize applies.
	assert.Equal(t, PolicyEqualize, report.Policy)
	assert.Equal(t, uint64(300), report.Price.Uint64())
}

func TestCompute_OutlierRemovalEqualizes(t *testing.T) {
	s := store.NewMemoryStore()
	seed(t, s, "ETH/USD",
		seedQuote{id: "a", weight: 2000, decimals: 2, value: "10000"},
		seedQuote{id: "b", weight: 2000, decimals: 2, value: "10100"},
		seedQuote{id: "c", weight: 2000, decimals: 2, value: "9900"},
		seedQuote{id: "d", weight: 2000, decimals: 2, value: "10000"},
		seedQuote{id: "e", weight: 2000, decimals: 2, value: "13000"},
	)
	agg := newTestAggregator(t, s, Config{
		OutlierDetection:  true,
		ReferenceDecimals: 18,
		Tolerances:        Tolerances{WeightDeviation: 500, PriceDeviation: 1000},
	})

	report, err := agg.ComputeDetailed(context.Background(), "ETH/USD", false)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Outliers)
	assert.Equal(t, StatusOutlier, report.Sources[4].Status)
	assert.Equal(t, uint64(2033), report.Sources[4].DeviationBp)
	assert.False(t, report.Degraded)
	assert.Equal(t, PolicyEqualize, report.Policy)
	assert.Equal(t, []uint32{2500, 2500, 2500, 2500, 0}, effective(report.Sources))
	assert.Equal(t, uint64(10000), report.Price.Uint64())
}

func TestCompute_UnderCoverageWithinBandIsRescaled(t *testing.T) {
	tests := []struct {
		name      string
		quotes    []seedQuote
		tolerance uint32
		want      []uint32
	}{
		{
			name: "weights sum just under full coverage",
			quotes: []seedQuote{
				{id: "a", weight: 4990, decimals: 0, value: "1000"},
				{id: "b", weight: 4990, decimals: 0, value: "1000"},
			},
			tolerance: 50,
			want:      []uint32{5000, 5000},
		},
		{
			name: "fresh zero quote drops weight inside the band",
			quotes: []seedQuote{
				{id: "a", weight: 4000, decimals: 0, value: "1000"},
				{id: "b", weight: 4000, decimals: 0, value: "1000"},
				{id: "c", weight: 2000, decimals: 0, value: "0"},
			},
			tolerance: 5000,
			want:      []uint32{5000, 5000, 0},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := store.NewMemoryStore()
			seed(t, s, "ETH/USD", tt.quotes...)
			agg := newTestAggregator(t, s, Config{Tolerances: Tolerances{WeightDeviation: tt.tolerance}})

			report, err := agg.ComputeDetailed(context.Background(), "ETH/USD", false)
			require.NoError(t, err)
			assert.False(t, report.Degraded)
			assert.Equal(t, PolicyExcludeAndScale, report.Policy)
			assert.Equal(t, tt.want, effective(report.Sources))
			assert.Equal(t, uint64(10000), report.ConsumedWeight)
			assert.Equal(t, uint64(1000), report.Price.Uint64())
		})
	}
}

func TestCompute_FullCoverageKeepsWeights(t *testing.T) {
	s := store.NewMemoryStore()
	seed(t, s, "ETH/USD",
		seedQuote{id: "a", weight: 7000, decimals: 0, value: "1000"},
		seedQuote{id: "b", weight: 3000, decimals: 0, value: "2000"},
	)
	agg := newTestAggregator(t, s, Config{Tolerances: Tolerances{WeightDeviation: 50}})

	report, err := agg.ComputeDetailed(context.Background(), "ETH/USD", false)
	require.NoError(t, err)
	assert.Equal(t, PolicyNone, report.Policy)
	assert.Equal(t, []uint32{7000, 3000}, effective(report.Sources))
	assert.Equal(t, uint64(1300), report.Price.Uint64())
}

func TestCompute_DoesNotMutateRegistry(t *testing.T) {
	s := store.NewMemoryStore()
	seed(t, s, "ETH/USD",
		seedQuote{id: "stale", weight: 5000, decimals: 0, value: "1", age: time.Hour},
		seedQuote{id: "b", weight: 5000, decimals: 0, value: "100"},
	)
	agg := newTestAggregator(t, s, Config{})

	_, err := agg.Compute(context.Background(), "ETH/USD", false)
	require.NoError(t, err)

	list, err := s.ListSources(context.Background(), "ETH/USD")
	require.NoError(t, err)
	assert.Equal(t, uint32(5000), list[0].Weight)
	assert.Equal(t, uint32(5000), list[1].Weight)
}

func TestSetTolerances(t *testing.T) {
	agg := newTestAggregator(t, store.NewMemoryStore(), Config{})

	require.NoError(t, agg.SetTolerances(Tolerances{WeightDeviation: 100, PriceDeviation: 200}))
	assert.Equal(t, Tolerances{WeightDeviation: 100, PriceDeviation: 200}, agg.Tolerances())

	err := agg.SetTolerances(Tolerances{WeightDeviation: 10001})
	assert.ErrorIs(t, err, ErrInvalidTolerance)
	assert.Equal(t, uint32(100), agg.Tolerances().WeightDeviation)
}

func TestNew_RejectsBadConfig(t *testing.T) {
	_, err := New(store.NewMemoryStore(), Config{EqualizeMode: "bogus"}, logging.NewNoopLogger())
	assert.ErrorIs(t, err, ErrUnknownEqualizeMode)

	_, err = New(store.NewMemoryStore(), Config{Tolerances: Tolerances{PriceDeviation: 20000}}, logging.NewNoopLogger())
	assert.ErrorIs(t, err, ErrInvalidTolerance)
}

func TestDeviationBp_ZeroGuard(t *testing.T) {
	zero := sdkmath.ZeroUint().BigInt()
	assert.Equal(t, int64(0), deviationBp(zero, zero).Int64())
}
