package aggregator

import (
	"fmt"

	"github.com/StrathCole/settlement-pricer/pkg/server/store"
)

// Policy names the weight redistribution applied during a pass.
type Policy string

const (
	// PolicyNone keeps registered weights.
	PolicyNone Policy = "none"
	// PolicyExcludeAndScale drops inactive sources and rescales the rest to 10000 bp.
	PolicyExcludeAndScale Policy = "exclude_and_scale"
	// PolicyEqualize gives every active source the same weight.
	PolicyEqualize Policy = "equalize"
)

// EqualizeMode selects how PolicyEqualize assigns weights.
type EqualizeMode string

const (
	// EqualizeUniform assigns floor(10000/count) to each active source.
	EqualizeUniform EqualizeMode = "uniform"
	// EqualizeLegacyDivide assigns floor(weight/count), the non-normalizing rule
	// earlier deployments used. Weights then sum to roughly active/count.
	EqualizeLegacyDivide EqualizeMode = "legacy_divide"
)

// ParseEqualizeMode validates a configured equalize mode. Empty means uniform.
func ParseEqualizeMode(mode string) (EqualizeMode, error) {
	switch EqualizeMode(mode) {
	case "", EqualizeUniform:
		return EqualizeUniform, nil
	case EqualizeLegacyDivide:
		return EqualizeLegacyDivide, nil
	default:
		return "", fmt.Errorf("%w: %q (supported: uniform, legacy_divide)", ErrUnknownEqualizeMode, mode)
	}
}

// excludeAndScale sets each active source's effective weight to
// weight*10000/activeWeight and zeroes the rest. Each division truncates, so the
// kept weights sum to 10000 minus at most (active count - 1) bp.
func excludeAndScale(results []SourceResult, activeWeight uint64) {
	for i := range results {
		if !results[i].active() || activeWeight == 0 {
			results[i].EffectiveWeight = 0
			continue
		}
		results[i].EffectiveWeight = uint32(uint64(results[i].Weight) * store.MaxWeight / activeWeight)
	}
}

// equalize spreads weight evenly over the active sources.
func equalize(results []SourceResult, mode EqualizeMode) {
	count := uint32(0)
	for _, res := range results {
		if res.active() {
			count++
		}
	}

	for i := range results {
		if !results[i].active() || count == 0 {
			results[i].EffectiveWeight = 0
			continue
		}
		if mode == EqualizeLegacyDivide {
			results[i].EffectiveWeight = results[i].Weight / count
		} else {
			results[i].EffectiveWeight = store.MaxWeight / count
		}
	}
}

// keepWeights uses the registered weight of every active source unchanged.
func keepWeights(results []SourceResult) {
	for i := range results {
		if results[i].active() {
			results[i].EffectiveWeight = results[i].Weight
		} else {
			results[i].EffectiveWeight = 0
		}
	}
}

func consumedWeight(results []SourceResult) uint64 {
	var total uint64
	for _, res := range results {
		total += uint64(res.EffectiveWeight)
	}
	return total
}
