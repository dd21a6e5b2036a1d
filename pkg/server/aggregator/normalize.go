package aggregator

import (
	"fmt"
	"math/big"

	sdkmath "cosmossdk.io/math"
)

var (
	bigTen     = big.NewInt(10)
	pow10Cache [256]*big.Int
)

func init() {
	pow10Cache[0] = big.NewInt(1)
	for i := 1; i < len(pow10Cache); i++ {
		pow10Cache[i] = new(big.Int).Mul(pow10Cache[i-1], bigTen)
	}
}

// pow10 returns 10^n. The result is shared and must not be mutated.
func pow10(n uint8) *big.Int {
	return pow10Cache[n]
}

// Normalize rescales value from fromDecimals to toDecimals precision.
// Scaling down truncates toward zero; scaling up fails with ErrPriceOverflow
// when the result does not fit in 256 bits. Intermediates are unbounded big.Ints.
func Normalize(value sdkmath.Uint, fromDecimals, toDecimals uint8) (sdkmath.Uint, error) {
	switch {
	case fromDecimals == toDecimals:
		return value, nil
	case fromDecimals > toDecimals:
		v := value.BigInt()
		return sdkmath.NewUintFromBigInt(v.Quo(v, pow10(fromDecimals-toDecimals))), nil
	default:
		v := value.BigInt()
		v.Mul(v, pow10(toDecimals-fromDecimals))
		if err := sdkmath.UintOverflow(v); err != nil {
			return sdkmath.Uint{}, fmt.Errorf("%w: scaling %s from %d to %d decimals", ErrPriceOverflow, value, fromDecimals, toDecimals)
		}
		return sdkmath.NewUintFromBigInt(v), nil
	}
}

// mulDiv returns value*num/den, truncated, multiplying before dividing.
func mulDiv(value sdkmath.Uint, num, den uint64) (sdkmath.Uint, error) {
	v := value.BigInt()
	v.Mul(v, new(big.Int).SetUint64(num))
	v.Quo(v, new(big.Int).SetUint64(den))
	if err := sdkmath.UintOverflow(v); err != nil {
		return sdkmath.Uint{}, fmt.Errorf("%w: %s*%d/%d", ErrPriceOverflow, value, num, den)
	}
	return sdkmath.NewUintFromBigInt(v), nil
}
