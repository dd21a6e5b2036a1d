package aggregator

import (
	"strings"
	"testing"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize_IdentityForEveryPrecision(t *testing.T) {
	v := sdkmath.NewUint(123456789)
	for d := 0; d <= 255; d++ {
		got, err := Normalize(v, uint8(d), uint8(d))
		require.NoError(t, err)
		assert.True(t, got.Equal(v), "decimals %d", d)
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name  string
		value sdkmath.Uint
		from  uint8
		to    uint8
		want  sdkmath.Uint
	}{
		{
			name:  "scale up 6 to 18",
			value: sdkmath.NewUint(100),
			from:  6,
			to:    18,
			want:  sdkmath.NewUint(100).Mul(sdkmath.NewUint(1_000_000_000_000)),
		},
		{
			name:  "scale down 18 to 6 round trips",
			value: sdkmath.NewUint(100).Mul(sdkmath.NewUint(1_000_000_000_000)),
			from:  18,
			to:    6,
			want:  sdkmath.NewUint(100),
		},
		{
			name:  "scale down truncates toward zero",
			value: sdkmath.NewUint(199),
			from:  2,
			to:    0,
			want:  sdkmath.NewUint(1),
		},
		{
			name:  "scale down past all digits",
			value: sdkmath.NewUint(999),
			from:  255,
			to:    0,
			want:  sdkmath.ZeroUint(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Normalize(tt.value, tt.from, tt.to)
			require.NoError(t, err)
			assert.True(t, got.Equal(tt.want), "expected %s, got %s", tt.want, got)
		})
	}
}

func TestNormalize_ScaleUpOverflow(t *testing.T) {
	_, err := Normalize(sdkmath.NewUint(1), 0, 78)
	assert.ErrorIs(t, err, ErrPriceOverflow)

	got, err := Normalize(sdkmath.NewUint(1), 0, 77)
	require.NoError(t, err)
	assert.Equal(t, "1"+strings.Repeat("0", 77), got.String())
}

func TestMulDiv(t *testing.T) {
	got, err := mulDiv(sdkmath.NewUint(333), 3333, 10000)
	require.NoError(t, err)
	assert.Equal(t, uint64(110), got.Uint64())

	// The product exceeds 256 bits before the division brings it back.
	huge := sdkmath.NewUintFromString("1" + strings.Repeat("0", 76))
	got, err = mulDiv(huge, 10000, 10000)
	require.NoError(t, err)
	assert.True(t, got.Equal(huge))
}
