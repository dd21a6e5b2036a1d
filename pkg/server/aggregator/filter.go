package aggregator

import (
	"math/big"
	"time"

	sdkmath "cosmossdk.io/math"

	"github.com/StrathCole/settlement-pricer/pkg/server/store"
)

// DefaultFreshnessWindow is how long a quote stays usable after it was recorded.
const DefaultFreshnessWindow = 15 * time.Minute

// Status classifies one source's quote during an aggregation pass.
type Status string

const (
	// StatusFresh quotes contribute to the price.
	StatusFresh Status = "fresh"
	// StatusStale quotes are older than the freshness window.
	StatusStale Status = "stale"
	// StatusMissing sources never reported.
	StatusMissing Status = "missing"
	// StatusNoData quotes are fresh but carry a zero value.
	StatusNoData Status = "no_data"
	// StatusOutlier quotes deviated too far from the mean and were zeroed.
	StatusOutlier Status = "outlier"
)

// SourceResult is the per-source outcome of one aggregation pass.
type SourceResult struct {
	Source          string        `json:"source"`
	Status          Status        `json:"status"`
	Value           sdkmath.Uint  `json:"value"`
	Decimals        uint8         `json:"decimals"`
	Weight          uint32        `json:"weight"`
	EffectiveWeight uint32        `json:"effective_weight"`
	Age             time.Duration `json:"age"`
	DeviationBp     uint64        `json:"deviation_bp,omitempty"`
}

func (r SourceResult) active() bool {
	return r.Status == StatusFresh
}

// filterResult is what the staleness and outlier pass hands to the reweight step.
type filterResult struct {
	results      []SourceResult
	activeWeight uint64
	maxDecimals  uint8

	// degraded is set by the first stale or missing source only; later ones are not
	// enumerated. firstDegraded names that source.
	degraded      bool
	firstDegraded string
	outliers      int
}

type outlierParams struct {
	enabled           bool
	referenceDecimals uint8
	toleranceBp       uint32
}

// filterQuotes classifies every registered source, optionally zeroes outliers and
// sums the weight of what is left.
func filterQuotes(snap store.Snapshot, now time.Time, window time.Duration, op outlierParams) (filterResult, error) {
	fr := filterResult{results: make([]SourceResult, 0, len(snap.Sources))}

	for _, src := range snap.Sources {
		q := snap.Quote(src.ID)
		res := SourceResult{
			Source:   src.ID,
			Value:    q.Value,
			Decimals: src.Decimals,
			Weight:   src.Weight,
		}

		switch {
		case q.Missing():
			res.Status = StatusMissing
		case now.Sub(q.Timestamp) > window:
			res.Status = StatusStale
			res.Age = now.Sub(q.Timestamp)
		case q.Value.IsZero():
			res.Status = StatusNoData
			res.Age = now.Sub(q.Timestamp)
		default:
			res.Status = StatusFresh
			res.Age = now.Sub(q.Timestamp)
		}

		if (res.Status == StatusMissing || res.Status == StatusStale) && !fr.degraded {
			fr.degraded = true
			fr.firstDegraded = src.ID
		}

		fr.results = append(fr.results, res)
	}

	if op.enabled {
		n, err := rejectOutliers(fr.results, op)
		if err != nil {
			return filterResult{}, err
		}
		fr.outliers = n
	}

	for _, res := range fr.results {
		if !res.active() {
			continue
		}
		fr.activeWeight += uint64(res.Weight)
		if res.Decimals > fr.maxDecimals {
			fr.maxDecimals = res.Decimals
		}
	}

	return fr, nil
}

// rejectOutliers compares every fresh quote, at reference precision, against the
// arithmetic mean and zeroes those deviating by more than the tolerance.
// deviationBp = |v-mean| / ((v+mean)/2) * 10000, computed as |v-mean|*20000/(v+mean).
func rejectOutliers(results []SourceResult, op outlierParams) (int, error) {
	type candidate struct {
		index int
		value *big.Int
	}
	scaled := make([]candidate, 0, len(results))
	sum := new(big.Int)
	for i, res := range results {
		if !res.active() {
			continue
		}
		v, err := Normalize(res.Value, res.Decimals, op.referenceDecimals)
		if err != nil {
			return 0, err
		}
		scaled = append(scaled, candidate{index: i, value: v.BigInt()})
		sum.Add(sum, scaled[len(scaled)-1].value)
	}
	if len(scaled) == 0 {
		return 0, nil
	}

	mean := new(big.Int).Quo(sum, big.NewInt(int64(len(scaled))))
	tolerance := new(big.Int).SetUint64(uint64(op.toleranceBp))

	rejected := 0
	for _, c := range scaled {
		dev := deviationBp(c.value, mean)
		results[c.index].DeviationBp = dev.Uint64()
		if dev.Cmp(tolerance) > 0 {
			results[c.index].Status = StatusOutlier
			results[c.index].Value = sdkmath.ZeroUint()
			rejected++
		}
	}
	return rejected, nil
}

func deviationBp(v, mean *big.Int) *big.Int {
	denom := new(big.Int).Add(v, mean)
	if denom.Sign() == 0 || v.Cmp(mean) == 0 {
		return new(big.Int)
	}
	diff := new(big.Int).Sub(v, mean)
	diff.Abs(diff)
	diff.Mul(diff, big.NewInt(20000))
	return diff.Quo(diff, denom)
}
