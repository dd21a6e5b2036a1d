package settlement

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/StrathCole/settlement-pricer/pkg/logging"
	"github.com/StrathCole/settlement-pricer/pkg/metrics"
	"github.com/StrathCole/settlement-pricer/pkg/server/aggregator"
	"github.com/StrathCole/settlement-pricer/pkg/server/twap"
)

// Pricer computes aggregated prices.
type Pricer interface {
	ComputeDetailed(ctx context.Context, asset string, ignoreOutOfBounds bool) (aggregator.Report, error)
}

// Service ties the pricers to the settlement oracle.
type Service struct {
	pricer Pricer
	oracle Oracle
	logger *logging.Logger

	mu        sync.RWMutex
	samplers  map[string]*twap.Sampler
	listeners []Listener
}

// NewService creates a settlement service.
func NewService(pricer Pricer, oracle Oracle, logger *logging.Logger) *Service {
	return &Service{
		pricer:   pricer,
		oracle:   oracle,
		logger:   logger,
		samplers: make(map[string]*twap.Sampler),
	}
}

// AddSampler registers a TWAP sampler under its name.
func (s *Service) AddSampler(sampler *twap.Sampler) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.samplers[sampler.Name()]; ok {
		return fmt.Errorf("%w: %s", ErrPoolExists, sampler.Name())
	}
	s.samplers[sampler.Name()] = sampler
	return nil
}

// Sampler returns the sampler registered under name.
func (s *Service) Sampler(name string) (*twap.Sampler, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sampler, ok := s.samplers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPool, name)
	}
	return sampler, nil
}

// Samplers returns all samplers ordered by name.
func (s *Service) Samplers() []*twap.Sampler {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*twap.Sampler, 0, len(s.samplers))
	for _, sampler := range s.samplers {
		out = append(out, sampler)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Subscribe adds a listener for accepted submissions.
func (s *Service) Subscribe(l Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}

// Settle aggregates the asset's price and forwards it for expiry. Nothing is
// forwarded if aggregation fails.
func (s *Service) Settle(ctx context.Context, asset string, expiry time.Time, ignoreOutOfBounds bool) (Submission, aggregator.Report, error) {
	if expiry.IsZero() {
		return Submission{}, aggregator.Report{}, ErrInvalidExpiry
	}

	report, err := s.pricer.ComputeDetailed(ctx, asset, ignoreOutOfBounds)
	if err != nil {
		metrics.RecordSettlement(asset, KindAggregate, "rejected")
		return Submission{}, aggregator.Report{}, err
	}

	if report.Overridden {
		s.logger.Warn("Settling with weight bounds override",
			"asset", report.Asset,
			"expiry", expiry.Unix(),
			"active_weight", report.ActiveWeight,
			"consumed_weight", report.ConsumedWeight,
			"price", report.Price.String())
	}

	sub := Submission{
		Asset:    report.Asset,
		Expiry:   expiry.UTC(),
		Price:    report.Price,
		Decimals: report.Decimals,
		Kind:     KindAggregate,
	}
	if err := s.forward(ctx, sub); err != nil {
		return Submission{}, report, err
	}
	return sub, report, nil
}

// TriggerTwap advances the named sampler. When the trigger finalizes a window the
// new price is forwarded for expiry; a started window forwards nothing.
func (s *Service) TriggerTwap(ctx context.Context, pool string, expiry time.Time) (twap.Result, *Submission, error) {
	sampler, err := s.Sampler(pool)
	if err != nil {
		return twap.Result{}, nil, err
	}

	res, err := sampler.Trigger(ctx)
	if err != nil {
		return twap.Result{}, nil, err
	}
	if res.Status != twap.StatusFinalized || expiry.IsZero() {
		return res, nil, nil
	}

	sub := Submission{
		Asset:    sampler.Asset(),
		Expiry:   expiry.UTC(),
		Price:    res.Price,
		Decimals: sampler.Decimals(),
		Kind:     KindTWAP,
		Source:   sampler.Name(),
	}
	if err := s.forward(ctx, sub); err != nil {
		return res, nil, err
	}
	return res, &sub, nil
}

// forward hands the submission to the oracle. It is the last step of every
// settlement call; listeners only hear about accepted submissions.
func (s *Service) forward(ctx context.Context, sub Submission) error {
	if err := s.oracle.SetExpiryPrice(ctx, sub); err != nil {
		metrics.RecordSettlement(sub.Asset, sub.Kind, "failed")
		s.logger.Error("Failed to forward settlement price",
			"asset", sub.Asset,
			"kind", sub.Kind,
			"expiry", sub.Expiry.Unix(),
			"error", err)
		return fmt.Errorf("failed to set expiry price for %s: %w", sub.Asset, err)
	}

	metrics.RecordSettlement(sub.Asset, sub.Kind, "ok")
	s.logger.Info("Forwarded settlement price",
		"asset", sub.Asset,
		"kind", sub.Kind,
		"expiry", sub.Expiry.Unix(),
		"price", sub.Price.String(),
		"decimals", sub.Decimals)

	s.mu.RLock()
	listeners := append([]Listener(nil), s.listeners...)
	s.mu.RUnlock()
	for _, l := range listeners {
		l.OnSettlement(sub)
	}
	return nil
}
