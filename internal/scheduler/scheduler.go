package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"codeberg.org/mutker/peripheralpm/internal/device"
	"codeberg.org/mutker/peripheralpm/internal/errors"
	"codeberg.org/mutker/peripheralpm/internal/logger"
	"codeberg.org/mutker/peripheralpm/internal/perfstats"
	"codeberg.org/mutker/peripheralpm/internal/store"
	"codeberg.org/mutker/peripheralpm/internal/telemetry"
)

const (
	defaultReadTimeout    = 5 * time.Second
	defaultPublishTimeout = 5 * time.Second
)

// Config holds the cadence of a Scheduler.
type Config struct {
	PollInterval    time.Duration
	PublishInterval time.Duration
	ReadTimeout     time.Duration
	PublishTimeout  time.Duration
}

func (c Config) validate() error {
	errFactory := errors.New()

	if c.PollInterval <= 0 {
		return errFactory.WithMessage(ErrInvalidConfig, "poll interval must be positive")
	}
	if c.PublishInterval <= 0 {
		return errFactory.WithMessage(ErrInvalidConfig, "publish interval must be positive")
	}

	return nil
}

// TickResult summarizes one tick.
type TickResult struct {
	Tracked   int
	Sampled   int
	Failures  int
	Published bool
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock replaces the wall clock used for tick alignment and the final
// publication.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		s.now = now
	}
}

// WithRecorder sets the recorder receiving poll and publish observations.
func WithRecorder(r telemetry.Recorder) Option {
	return func(s *Scheduler) {
		s.recorder = r
	}
}

// WithLogger sets the scheduler's logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Scheduler) {
		s.logger = l
	}
}

// Scheduler drives the poll/aggregate/publish cycle over one registry per
// device category. Ticks run strictly one at a time; publication happens on a
// separate goroutine that only ever sees immutable snapshots.
type Scheduler struct {
	cfg        Config
	registries []*perfstats.Registry
	provider   device.Provider
	store      store.StateStore
	recorder   telemetry.Recorder
	logger     logger.Logger
	now        func() time.Time

	mu    sync.Mutex
	state State

	// tickMu serializes ticks with start and stop.
	tickMu       sync.Mutex
	lastBoundary time.Time
	published    bool

	queue         chan publication
	publisherDone chan struct{}
}

// New creates an idle scheduler.
func New(
	cfg Config, provider device.Provider, st store.StateStore, registries []*perfstats.Registry, opts ...Option,
) (*Scheduler, error) {
	errFactory := errors.New()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if provider == nil || st == nil {
		return nil, errFactory.WithMessage(ErrInvalidConfig, "provider and store are required")
	}
	if len(registries) == 0 {
		return nil, errFactory.WithMessage(ErrInvalidConfig, "no device category configured")
	}

	seen := make(map[device.Category]bool, len(registries))
	for _, reg := range registries {
		if seen[reg.Category()] {
			return nil, errFactory.WithData(ErrInvalidConfig, "duplicate category "+string(reg.Category()))
		}
		seen[reg.Category()] = true
	}

	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = defaultReadTimeout
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = defaultPublishTimeout
	}
	// One publication in flight and one queued never span more than one
	// boundary while a write is bounded by the publish interval.
	if cfg.PublishTimeout >= cfg.PublishInterval {
		return nil, errFactory.WithData(ErrInvalidConfig,
			fmt.Sprintf("publish timeout %s must be below publish interval %s", cfg.PublishTimeout, cfg.PublishInterval))
	}

	s := &Scheduler{
		cfg:        cfg,
		registries: registries,
		provider:   provider,
		store:      st,
		recorder:   telemetry.Discard,
		logger:     logger.New("scheduler"),
		now:        time.Now,
		state:      StateIdle,
	}
	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

// State returns the current lifecycle state.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state
}

func (s *Scheduler) setState(state State) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state = state
}

// Start loads the initial inventory and moves the scheduler to Running. It
// refuses to run with an empty device model.
func (s *Scheduler) Start(ctx context.Context) error {
	errFactory := errors.New()

	s.tickMu.Lock()
	defer s.tickMu.Unlock()

	if state := s.State(); state != StateIdle {
		return errFactory.WithData(ErrInvalidState, state.String())
	}

	tracked, err := s.refresh(ctx)
	if tracked == 0 {
		if err != nil {
			return errFactory.Wrap(ErrEmptyModel, err)
		}
		return errFactory.New(ErrEmptyModel)
	}
	if err != nil {
		s.logger.Warn().Err(err).Msg("Initial inventory incomplete")
	}

	s.queue = make(chan publication, 1)
	s.publisherDone = make(chan struct{})
	go s.publisher()

	s.setState(StateRunning)

	s.logger.Info().
		Int("devices", tracked).
		Dur("poll_interval", s.cfg.PollInterval).
		Dur("publish_interval", s.cfg.PublishInterval).
		Str("store", s.store.Name()).
		Msg("Scheduler started")

	return nil
}

// Run ticks on every poll boundary until ctx is done, then stops the
// scheduler. An in-flight tick always completes.
func (s *Scheduler) Run(ctx context.Context) error {
	if state := s.State(); state != StateRunning {
		return errors.New().WithData(ErrInvalidState, state.String())
	}

	// Ticks never observe the shutdown; their reads are bounded on their own.
	tickCtx := context.WithoutCancel(ctx)

	timer := time.NewTimer(s.untilNextTick())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return s.Stop(tickCtx)
		case <-timer.C:
			if _, err := s.Tick(tickCtx, s.now()); err != nil {
				return err
			}
			timer.Reset(s.untilNextTick())
		}
	}
}

func (s *Scheduler) untilNextTick() time.Duration {
	now := s.now()
	next := perfstats.AlignTo(now, s.cfg.PollInterval).Add(s.cfg.PollInterval)

	return next.Sub(now)
}

// Tick runs one cycle at now: it refreshes membership, polls every device and
// hands a snapshot to the publisher when a publish boundary was crossed. The
// snapshot of a crossed boundary is taken before polling so that it carries
// the final values of the window that just closed. The very first tick
// publishes after polling.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) (TickResult, error) {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()

	var res TickResult

	if state := s.State(); state != StateRunning {
		return res, errors.New().WithData(ErrInvalidState, state.String())
	}

	start := time.Now()

	tracked, err := s.refresh(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Inventory refresh failed")
	}
	res.Tracked = tracked

	boundary := perfstats.AlignTo(now, s.cfg.PublishInterval)
	due := !s.published || boundary.After(s.lastBoundary)

	var pending perfstats.Snapshot
	if due && s.published {
		pending = s.snapshotAll()
	}

	for _, reg := range s.registries {
		pollStart := time.Now()
		report := reg.PollAll(ctx, now)
		s.recorder.ObservePoll(reg.Category(), report, time.Since(pollStart))
		s.logFailures(reg.Category(), report)

		res.Sampled += report.Sampled
		res.Failures += len(report.Failures)
	}

	if due {
		if pending == nil {
			pending = s.snapshotAll()
		}
		s.enqueue(publication{at: now, snapshot: pending})

		s.lastBoundary = boundary
		s.published = true
		res.Published = true
	}

	s.recorder.ObserveTick(time.Since(start))

	s.logger.Debug().
		Int("devices", res.Tracked).
		Int("sampled", res.Sampled).
		Int("failures", res.Failures).
		Bool("published", res.Published).
		Msg("Tick complete")

	return res, nil
}

// Stop waits for the in-flight tick and pending publication, performs a
// final synchronous publication and moves the scheduler to Stopped.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateRunning {
		state := s.state
		s.mu.Unlock()
		return errors.New().WithData(ErrInvalidState, state.String())
	}
	s.state = StateStopping
	s.mu.Unlock()

	s.logger.Info().Msg("Scheduler stopping")

	s.tickMu.Lock()
	defer s.tickMu.Unlock()

	close(s.queue)
	<-s.publisherDone

	err := s.publish(ctx, publication{at: s.now(), snapshot: s.snapshotAll()})

	s.setState(StateStopped)
	s.logger.Info().Msg("Scheduler stopped")

	return err
}

func (s *Scheduler) snapshotAll() perfstats.Snapshot {
	snap := make(perfstats.Snapshot)
	for _, reg := range s.registries {
		snap.Merge(reg.SnapshotAll())
	}

	return snap
}

func (s *Scheduler) logFailures(category device.Category, report perfstats.PollReport) {
	for _, f := range report.Failures {
		ev := s.logger.Warn()
		if device.IsNotPresent(f.Err) {
			ev = s.logger.Debug()
		}

		ev.Err(f.Err).
			Str("device", f.Device).
			Str("attribute", string(f.Attribute)).
			Str("category", string(category)).
			Msg("Skipped attribute read")
	}
}
