package twap

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	sdkmath "cosmossdk.io/math"

	"github.com/StrathCole/settlement-pricer/pkg/logging"
	"github.com/StrathCole/settlement-pricer/pkg/metrics"
)

// Pool exposes a monotonically increasing cumulative price accumulator.
type Pool interface {
	CumulativePrice(ctx context.Context) (sdkmath.Uint, error)
}

// Phase is the sampler state.
type Phase string

const (
	// PhaseIdle means the last published price is readable and the next trigger starts a window.
	PhaseIdle Phase = "idle"
	// PhaseAccumulating means a window is open and the next eligible trigger closes it.
	PhaseAccumulating Phase = "accumulating"
)

// Status is the outcome of a successful trigger.
type Status string

const (
	// StatusStarted is returned when a trigger opened a new sampling window.
	StatusStarted Status = "started"
	// StatusFinalized is returned when a trigger closed the window and published a price.
	StatusFinalized Status = "finalized"
)

// Result describes a successful trigger.
type Result struct {
	Status  Status        `json:"status"`
	Price   sdkmath.Uint  `json:"price"`
	Elapsed time.Duration `json:"elapsed,omitempty"`
	At      time.Time     `json:"at"`
}

// Config describes one sampler.
type Config struct {
	Name      string
	Asset     string
	Decimals  uint8
	MinPeriod time.Duration
}

// State is a read-only view of the sampler.
type State struct {
	Name        string       `json:"name"`
	Asset       string       `json:"asset"`
	Phase       Phase        `json:"phase"`
	WindowStart time.Time    `json:"window_start,omitempty"`
	Price       sdkmath.Uint `json:"price"`
	Published   bool         `json:"published"`
	PublishedAt time.Time    `json:"published_at,omitempty"`
}

// Sampler is the two-phase TWAP state machine for one pool. Each Trigger runs
// under the sampler lock, pool read included, so no caller observes a half-open
// transition.
type Sampler struct {
	cfg    Config
	pool   Pool
	logger *logging.Logger
	now    func() time.Time

	mu          sync.Mutex
	phase       Phase
	snapshotAcc sdkmath.Uint
	snapshotAt  time.Time
	price       sdkmath.Uint
	published   bool
	publishedAt time.Time
}

// NewSampler creates an idle sampler.
func NewSampler(cfg Config, pool Pool, logger *logging.Logger) (*Sampler, error) {
	if cfg.MinPeriod < time.Second {
		return nil, fmt.Errorf("%w: %s has %s", ErrInvalidMinPeriod, cfg.Name, cfg.MinPeriod)
	}
	if pool == nil {
		return nil, fmt.Errorf("twap sampler %s has no pool", cfg.Name)
	}
	return &Sampler{
		cfg:    cfg,
		pool:   pool,
		logger: logger.With("pool", cfg.Name),
		now:    time.Now,
		phase:  PhaseIdle,
		price:  sdkmath.ZeroUint(),
	}, nil
}

// WithClock replaces the time source, for tests.
func (s *Sampler) WithClock(now func() time.Time) *Sampler {
	s.now = now
	return s
}

// Name returns the configured pool name.
func (s *Sampler) Name() string { return s.cfg.Name }

// Asset returns the asset the pool prices.
func (s *Sampler) Asset() string { return s.cfg.Asset }

// Decimals returns the precision of published prices.
func (s *Sampler) Decimals() uint8 { return s.cfg.Decimals }

// Trigger advances the state machine. From idle it snapshots the accumulator and
// starts accumulating; once the minimum period has elapsed it publishes
// (current - snapshot) / elapsed seconds and returns to idle. Failures leave the
// state untouched.
func (s *Sampler) Trigger(ctx context.Context) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var (
		res Result
		err error
	)
	if s.phase == PhaseIdle {
		res, err = s.start(ctx, now)
	} else {
		res, err = s.finalize(ctx, now)
	}

	switch {
	case err == nil:
		metrics.RecordTWAPTrigger(s.cfg.Name, string(res.Status))
	case errors.Is(err, ErrTooEarly):
		metrics.RecordTWAPTrigger(s.cfg.Name, "too_early")
	default:
		metrics.RecordTWAPTrigger(s.cfg.Name, "error")
	}
	return res, err
}

func (s *Sampler) start(ctx context.Context, now time.Time) (Result, error) {
	acc, err := s.pool.CumulativePrice(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("failed to read accumulator for %s: %w", s.cfg.Name, err)
	}

	s.snapshotAcc = acc
	s.snapshotAt = now
	s.phase = PhaseAccumulating

	s.logger.Info("Started TWAP window", "accumulator", acc.String())
	return Result{Status: StatusStarted, At: now}, nil
}

func (s *Sampler) finalize(ctx context.Context, now time.Time) (Result, error) {
	elapsed := now.Sub(s.snapshotAt)
	if elapsed < s.cfg.MinPeriod {
		return Result{}, fmt.Errorf("%w: %s elapsed of %s", ErrTooEarly, elapsed.Truncate(time.Second), s.cfg.MinPeriod)
	}

	acc, err := s.pool.CumulativePrice(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("failed to read accumulator for %s: %w", s.cfg.Name, err)
	}
	if acc.LT(s.snapshotAcc) {
		return Result{}, fmt.Errorf("%w: %s < %s", ErrAccumulatorRegressed, acc, s.snapshotAcc)
	}

	seconds := uint64(elapsed / time.Second)
	price := acc.Sub(s.snapshotAcc).QuoUint64(seconds)

	s.price = price
	s.published = true
	s.publishedAt = now
	s.snapshotAt = now
	s.phase = PhaseIdle

	s.logger.Info("Finalized TWAP window",
		"price", price.String(),
		"elapsed_seconds", seconds)
	return Result{Status: StatusFinalized, Price: price, Elapsed: elapsed, At: now}, nil
}

// Price returns the last published price. It fails while a window is open.
func (s *Sampler) Price() (sdkmath.Uint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase == PhaseAccumulating {
		return sdkmath.Uint{}, fmt.Errorf("%w: %s", ErrPreparingPrice, s.cfg.Name)
	}
	if !s.published {
		return sdkmath.Uint{}, fmt.Errorf("%w: %s", ErrNoPrice, s.cfg.Name)
	}
	return s.price, nil
}

// State returns a copy of the sampler state.
func (s *Sampler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := State{
		Name:        s.cfg.Name,
		Asset:       s.cfg.Asset,
		Phase:       s.phase,
		Price:       s.price,
		Published:   s.published,
		PublishedAt: s.publishedAt,
	}
	if s.phase == PhaseAccumulating {
		st.WindowStart = s.snapshotAt
	}
	return st
}
