package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/coinratio/internal/market"
)

const (
	DefaultInterval = 30 * time.Second
	LoadingText     = "Loading top coins..."
)

var (
	ErrStopped        = errors.New("scheduler stopped")
	ErrAlreadyStarted = errors.New("scheduler already started")
	ErrBusy           = errors.New("refresh already in flight")
)

// Refresher produces a new snapshot on every call.
type Refresher interface {
	Refresh(ctx context.Context) (market.Snapshot, error)
}

// Display receives the full text to show. Render is called with the publish
// lock held and should not block.
type Display interface {
	Render(text string)
}

// Recorder observes refresh outcomes. The monitor metrics registry implements it.
type Recorder interface {
	RefreshSucceeded(d time.Duration, entries int)
	RefreshFailed(d time.Duration, err error)
	TickSkipped()
}

type nopRecorder struct{}

func (nopRecorder) RefreshSucceeded(time.Duration, int) {}
func (nopRecorder) RefreshFailed(time.Duration, error)  {}
func (nopRecorder) TickSkipped()                        {}

type Config struct {
	Interval       time.Duration
	FetchTimeout   time.Duration // 0 means Interval
	RefreshOnStart bool
}

func DefaultConfig() Config {
	return Config{Interval: DefaultInterval, RefreshOnStart: true}
}

type Option func(*Scheduler)

func WithRecorder(r Recorder) Option {
	return func(s *Scheduler) {
		if r != nil {
			s.recorder = r
		}
	}
}

// Status is a point-in-time view of the scheduler for the monitor endpoints.
type Status struct {
	Running     bool            `json:"running"`
	Text        string          `json:"text"`
	Snapshot    market.Snapshot `json:"snapshot"`
	HasSnapshot bool            `json:"has_snapshot"`
	LastSuccess time.Time       `json:"last_success,omitempty"`
	LastError   string          `json:"last_error,omitempty"`
	Refreshes   int64           `json:"refreshes"`
	Failures    int64           `json:"failures"`
	Skipped     int64           `json:"skipped"`
}

// Scheduler refreshes the ranking on a fixed period and publishes the text of
// the latest good snapshot. At most one refresh runs at a time; ticks that
// arrive while one is in flight are skipped.
type Scheduler struct {
	engine   Refresher
	display  Display
	config   Config
	recorder Recorder

	mu          sync.Mutex
	text        string
	snapshot    market.Snapshot
	hasSnapshot bool
	stopped     bool
	started     bool
	lastSuccess time.Time
	lastErr     error

	busy      atomic.Bool
	refreshes atomic.Int64
	failures  atomic.Int64
	skipped   atomic.Int64

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(engine Refresher, display Display, config Config, opts ...Option) *Scheduler {
	if config.Interval <= 0 {
		config.Interval = DefaultInterval
	}
	if config.FetchTimeout <= 0 {
		config.FetchTimeout = config.Interval
	}
	s := &Scheduler{
		engine:   engine,
		display:  display,
		config:   config,
		recorder: nopRecorder{},
		text:     LoadingText,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start renders the placeholder and begins ticking in the background. It
// returns immediately.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	if s.stopped {
		s.mu.Unlock()
		return ErrStopped
	}
	s.started = true
	ctx, s.cancel = context.WithCancel(ctx)
	s.display.Render(s.text)
	s.mu.Unlock()

	log.Info().
		Dur("interval", s.config.Interval).
		Bool("refresh_on_start", s.config.RefreshOnStart).
		Msg("Refresh scheduler starting")

	s.wg.Add(1)
	go s.loop(ctx)
	return nil
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	if s.config.RefreshOnStart {
		s.trigger(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Refresh scheduler stopped")
			return
		case <-ticker.C:
			s.trigger(ctx)
		}
	}
}

// trigger starts a background refresh unless one is already running.
func (s *Scheduler) trigger(ctx context.Context) bool {
	if !s.busy.CompareAndSwap(false, true) {
		s.skipped.Add(1)
		s.recorder.TickSkipped()
		log.Debug().Msg("Refresh still in flight, skipping tick")
		return false
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.busy.Store(false)
		if err := s.refresh(ctx); err != nil && !errors.Is(err, ErrStopped) {
			log.Debug().Err(err).Msg("Refresh cycle ended with error")
		}
	}()
	return true
}

// RunOnce performs one fetch-then-publish cycle. On failure the displayed text
// is left unchanged. Nothing is published once Stop has been called. It returns
// ErrBusy without fetching while a scheduled refresh is in flight.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	if !s.busy.CompareAndSwap(false, true) {
		return ErrBusy
	}
	defer s.busy.Store(false)
	return s.refresh(ctx)
}

// refresh runs one cycle. Callers must hold the busy flag.
func (s *Scheduler) refresh(ctx context.Context) error {
	if s.isStopped() {
		return ErrStopped
	}

	fetchCtx, cancel := context.WithTimeout(ctx, s.config.FetchTimeout)
	defer cancel()

	start := time.Now()
	snap, err := s.engine.Refresh(fetchCtx)
	elapsed := time.Since(start)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		log.Debug().Dur("duration", elapsed).Msg("Discarding refresh that finished after stop")
		return ErrStopped
	}

	if err != nil {
		s.lastErr = err
		s.failures.Add(1)
		s.recorder.RefreshFailed(elapsed, err)
		log.Error().
			Err(err).
			Dur("duration", elapsed).
			Bool("has_snapshot", s.hasSnapshot).
			Msg("Market refresh failed, keeping previous display")
		return err
	}

	s.snapshot = snap
	s.hasSnapshot = true
	s.text = snap.Text()
	s.lastErr = nil
	s.lastSuccess = time.Now()
	s.refreshes.Add(1)
	s.recorder.RefreshSucceeded(elapsed, snap.Len())
	s.display.Render(s.text)

	log.Info().
		Int("entries", snap.Len()).
		Int("skipped_records", snap.Skipped).
		Dur("duration", elapsed).
		Msg("Market ranking published")

	return nil
}

// Stop halts future ticks and cancels any in-flight fetch. After Stop returns
// the displayed text no longer changes. It is safe to call more than once.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// Wait blocks until the tick loop and any in-flight refresh have exited.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// Current returns the published text and the snapshot it came from.
func (s *Scheduler) Current() (string, market.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.text, s.snapshot
}

func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		Running:     s.started && !s.stopped,
		Text:        s.text,
		Snapshot:    s.snapshot,
		HasSnapshot: s.hasSnapshot,
		LastSuccess: s.lastSuccess,
		Refreshes:   s.refreshes.Load(),
		Failures:    s.failures.Load(),
		Skipped:     s.skipped.Load(),
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	return st
}

func (s *Scheduler) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}
