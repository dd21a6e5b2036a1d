package aggregator

import (
	"context"
	"fmt"
	"math/big"
	"sync/atomic"
	"time"

	sdkmath "cosmossdk.io/math"

	"github.com/StrathCole/settlement-pricer/pkg/logging"
	"github.com/StrathCole/settlement-pricer/pkg/metrics"
	"github.com/StrathCole/settlement-pricer/pkg/server/store"
)

// Tolerances are the admin-owned bounds applied to each pass, in basis points.
type Tolerances struct {
	WeightDeviation uint32 `json:"weight_deviation_tolerance"`
	PriceDeviation  uint32 `json:"price_deviation_tolerance"`
}

// Validate checks both tolerances are within 0..10000.
func (t Tolerances) Validate() error {
	if t.WeightDeviation > store.MaxWeight {
		return fmt.Errorf("%w: weight deviation %d", ErrInvalidTolerance, t.WeightDeviation)
	}
	if t.PriceDeviation > store.MaxWeight {
		return fmt.Errorf("%w: price deviation %d", ErrInvalidTolerance, t.PriceDeviation)
	}
	return nil
}

// Config holds the fixed aggregation settings.
type Config struct {
	FreshnessWindow   time.Duration
	OutlierDetection  bool
	ReferenceDecimals uint8
	EqualizeMode      EqualizeMode
	Tolerances        Tolerances
}

// Snapshotter reads an asset's sources and quotes in one consistent read.
type Snapshotter interface {
	Snapshot(ctx context.Context, asset string) (store.Snapshot, error)
}

// Report is the full outcome of one aggregation pass.
type Report struct {
	Asset          string         `json:"asset"`
	Price          sdkmath.Uint   `json:"price"`
	Decimals       uint8          `json:"decimals"`
	ActiveWeight   uint64         `json:"active_weight"`
	ConsumedWeight uint64         `json:"consumed_weight"`
	Policy         Policy         `json:"policy"`
	Degraded       bool           `json:"degraded"`
	FirstDegraded  string         `json:"first_degraded,omitempty"`
	Outliers       int            `json:"outliers"`
	Overridden     bool           `json:"overridden"`
	Sources        []SourceResult `json:"sources"`
	ComputedAt     time.Time      `json:"computed_at"`
}

// Aggregator computes weighted settlement prices. It never writes to the store.
type Aggregator struct {
	snapshots  Snapshotter
	cfg        Config
	tolerances atomic.Pointer[Tolerances]
	logger     *logging.Logger
	now        func() time.Time
}

// New creates an aggregator reading from the given store.
func New(snapshots Snapshotter, cfg Config, logger *logging.Logger) (*Aggregator, error) {
	if cfg.FreshnessWindow <= 0 {
		cfg.FreshnessWindow = DefaultFreshnessWindow
	}
	mode, err := ParseEqualizeMode(string(cfg.EqualizeMode))
	if err != nil {
		return nil, err
	}
	cfg.EqualizeMode = mode
	if err := cfg.Tolerances.Validate(); err != nil {
		return nil, err
	}

	a := &Aggregator{
		snapshots: snapshots,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
	tol := cfg.Tolerances
	a.tolerances.Store(&tol)
	return a, nil
}

// WithClock replaces the time source, for tests.
func (a *Aggregator) WithClock(now func() time.Time) *Aggregator {
	a.now = now
	return a
}

// Tolerances returns the tolerances the next pass will use.
func (a *Aggregator) Tolerances() Tolerances {
	return *a.tolerances.Load()
}

// SetTolerances replaces the tolerances. Passes already running keep the old values.
func (a *Aggregator) SetTolerances(t Tolerances) error {
	if err := t.Validate(); err != nil {
		return err
	}
	a.tolerances.Store(&t)
	a.logger.Info("Updated aggregation tolerances",
		"weight_deviation", t.WeightDeviation,
		"price_deviation", t.PriceDeviation)
	return nil
}

// Compute returns the weighted price for asset, scaled to the highest precision
// among the sources that contributed.
func (a *Aggregator) Compute(ctx context.Context, asset string, ignoreOutOfBounds bool) (sdkmath.Uint, error) {
	report, err := a.ComputeDetailed(ctx, asset, ignoreOutOfBounds)
	if err != nil {
		return sdkmath.Uint{}, err
	}
	return report.Price, nil
}

// ComputeDetailed is Compute with the per-source breakdown.
func (a *Aggregator) ComputeDetailed(ctx context.Context, asset string, ignoreOutOfBounds bool) (Report, error) {
	start := time.Now()
	defer func() {
		metrics.RecordAggregation("weighted", time.Since(start))
	}()

	// All reads happen here; nothing below touches the store.
	snap, err := a.snapshots.Snapshot(ctx, asset)
	if err != nil {
		return Report{}, fmt.Errorf("failed to read %s: %w", asset, err)
	}

	return a.evaluate(snap, a.Tolerances(), a.now(), ignoreOutOfBounds)
}

func (a *Aggregator) evaluate(snap store.Snapshot, tol Tolerances, now time.Time, ignoreOutOfBounds bool) (Report, error) {
	if len(snap.Sources) == 0 {
		return Report{}, fmt.Errorf("%w: %s", ErrPricerDoesNotExist, snap.Asset)
	}

	fr, err := filterQuotes(snap, now, a.cfg.FreshnessWindow, outlierParams{
		enabled:           a.cfg.OutlierDetection,
		referenceDecimals: a.cfg.ReferenceDecimals,
		toleranceBp:       tol.PriceDeviation,
	})
	if err != nil {
		return Report{}, err
	}

	for _, res := range fr.results {
		switch res.Status {
		case StatusOutlier:
			metrics.RecordOutlierRejection(snap.Asset)
			a.logger.Debug("Rejecting outlier",
				"asset", snap.Asset,
				"source", res.Source,
				"deviation_bp", res.DeviationBp,
				"tolerance_bp", tol.PriceDeviation)
		case StatusFresh, StatusNoData, StatusStale:
			metrics.RecordQuoteAge(snap.Asset, res.Source, res.Age)
		}
	}
	if fr.degraded {
		a.logger.Debug("Stale or missing source detected",
			"asset", snap.Asset,
			"first_source", fr.firstDegraded)
	}

	report := Report{
		Asset:         snap.Asset,
		Decimals:      fr.maxDecimals,
		ActiveWeight:  fr.activeWeight,
		Policy:        PolicyNone,
		Degraded:      fr.degraded,
		FirstDegraded: fr.firstDegraded,
		Outliers:      fr.outliers,
		Sources:       fr.results,
		ComputedAt:    now,
	}

	full := uint64(store.MaxWeight)
	upper := full + uint64(tol.WeightDeviation)
	lower := full - uint64(tol.WeightDeviation)

	switch {
	case fr.activeWeight == 0:
		// Nothing to reweight, so there is no price to force either.
		metrics.RecordWeightOutOfBounds(snap.Asset, false)
		return Report{}, fmt.Errorf("%w: %s has no active sources", ErrWeightOutOfBounds, snap.Asset)
	case fr.activeWeight > upper:
		if !ignoreOutOfBounds {
			metrics.RecordWeightOutOfBounds(snap.Asset, false)
			return Report{}, fmt.Errorf("%w: %s active weight %d exceeds %d", ErrWeightOutOfBounds, snap.Asset, fr.activeWeight, upper)
		}
		metrics.RecordWeightOutOfBounds(snap.Asset, true)
		a.logger.Warn("Weight out of bounds overridden, using active weights as-is",
			"asset", snap.Asset,
			"active_weight", fr.activeWeight,
			"upper_bound", upper)
		report.Overridden = true
		keepWeights(report.Sources)
	case fr.activeWeight > full:
		report.Policy = PolicyExcludeAndScale
		excludeAndScale(report.Sources, fr.activeWeight)
	case fr.degraded && fr.activeWeight < full:
		report.Policy = PolicyExcludeAndScale
		excludeAndScale(report.Sources, fr.activeWeight)
	case fr.activeWeight < lower:
		report.Policy = PolicyEqualize
		equalize(report.Sources, a.cfg.EqualizeMode)
	case fr.activeWeight < full:
		// Inside the band, rescale proportionally so the active weights still cover 10000 bp.
		report.Policy = PolicyExcludeAndScale
		excludeAndScale(report.Sources, fr.activeWeight)
	default:
		keepWeights(report.Sources)
	}

	if report.Policy != PolicyNone {
		metrics.RecordReweight(snap.Asset, string(report.Policy))
		a.logger.Debug("Redistributed source weights",
			"asset", snap.Asset,
			"policy", report.Policy,
			"active_weight", fr.activeWeight)
	}

	report.ConsumedWeight = consumedWeight(report.Sources)
	if report.ConsumedWeight > full && !report.Overridden {
		return Report{}, fmt.Errorf("%w: %s consumed weight %d", ErrWeightOutOfBounds, snap.Asset, report.ConsumedWeight)
	}

	total := new(big.Int)
	for _, res := range report.Sources {
		if !res.active() || res.Value.IsZero() {
			continue
		}
		normalized, err := Normalize(res.Value, res.Decimals, fr.maxDecimals)
		if err != nil {
			return Report{}, err
		}
		term, err := mulDiv(normalized, uint64(res.EffectiveWeight), full)
		if err != nil {
			return Report{}, err
		}
		total.Add(total, term.BigIntMut())
	}
	if err := sdkmath.UintOverflow(total); err != nil {
		return Report{}, fmt.Errorf("%w: %s weighted sum", ErrPriceOverflow, snap.Asset)
	}
	price := sdkmath.NewUintFromBigInt(total)
	report.Price = price

	a.logger.Debug("Aggregated price",
		"asset", snap.Asset,
		"price", price.String(),
		"decimals", fr.maxDecimals,
		"policy", report.Policy,
		"consumed_weight", report.ConsumedWeight)

	return report, nil
}
