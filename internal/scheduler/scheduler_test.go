package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/coinratio/internal/market"
)

type recordingDisplay struct {
	mu      sync.Mutex
	renders []string
}

func (d *recordingDisplay) Render(text string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.renders = append(d.renders, text)
}

func (d *recordingDisplay) all() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.renders...)
}

type result struct {
	snap market.Snapshot
	err  error
}

// scriptedEngine returns queued results in order, repeating the last one.
type scriptedEngine struct {
	mu      sync.Mutex
	results []result
	calls   int
}

func (e *scriptedEngine) Refresh(context.Context) (market.Snapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	r := e.results[min(e.calls, len(e.results)-1)]
	e.calls++
	return r.snap, r.err
}

// blockingEngine signals when a refresh starts and returns only once released,
// ignoring cancellation so the stop guard is what keeps it from publishing.
type blockingEngine struct {
	started chan struct{}
	release chan struct{}
	snap    market.Snapshot
}

func newBlockingEngine(snap market.Snapshot) *blockingEngine {
	return &blockingEngine{started: make(chan struct{}, 8), release: make(chan struct{}), snap: snap}
}

func (e *blockingEngine) Refresh(context.Context) (market.Snapshot, error) {
	e.started <- struct{}{}
	<-e.release
	return e.snap, nil
}

type countingRecorder struct {
	ok, failed, skipped atomic.Int32
}

func (r *countingRecorder) RefreshSucceeded(time.Duration, int) { r.ok.Add(1) }
func (r *countingRecorder) RefreshFailed(time.Duration, error)  { r.failed.Add(1) }
func (r *countingRecorder) TickSkipped()                        { r.skipped.Add(1) }

func snapshot(lines ...string) market.Snapshot {
	s := market.Snapshot{}
	for _, l := range lines {
		s.Entries = append(s.Entries, market.Entry{Name: l, Symbol: l, Ratio: decimal.NewFromFloat(0.5), Line: l})
	}
	return s
}

func TestScheduler_PlaceholderBeforeFirstRefresh(t *testing.T) {
	display := &recordingDisplay{}
	s := New(&scriptedEngine{results: []result{{snap: snapshot("a")}}}, display, Config{Interval: time.Hour})

	text, _ := s.Current()
	assert.Equal(t, LoadingText, text)
	assert.Empty(t, display.all(), "nothing is rendered before Start")
}

func TestScheduler_FailureKeepsPreviousText(t *testing.T) {
	engine := &scriptedEngine{results: []result{
		{snap: snapshot("Bitcoin (BTC, Volume to Market Cap Ratio: 0.500000)")},
		{err: market.NewDataSourceError("coingecko", "api_error", errors.New("HTTP 500"))},
	}}
	display := &recordingDisplay{}
	rec := &countingRecorder{}
	s := New(engine, display, Config{Interval: time.Hour}, WithRecorder(rec))

	require.NoError(t, s.RunOnce(context.Background()))
	afterFirst, _ := s.Current()

	err := s.RunOnce(context.Background())
	require.Error(t, err)
	assert.True(t, market.IsDataSourceError(err))

	afterSecond, snap := s.Current()
	assert.Equal(t, afterFirst, afterSecond)
	assert.Equal(t, 1, snap.Len())
	assert.Equal(t, []string{afterFirst}, display.all(), "failures must not render")

	st := s.Status()
	assert.Equal(t, int64(1), st.Refreshes)
	assert.Equal(t, int64(1), st.Failures)
	assert.Contains(t, st.LastError, "api_error")
	assert.Equal(t, int32(1), rec.ok.Load())
	assert.Equal(t, int32(1), rec.failed.Load())
}

func TestScheduler_FailureBeforeAnySuccessKeepsPlaceholder(t *testing.T) {
	engine := &scriptedEngine{results: []result{{err: errors.New("timeout")}}}
	s := New(engine, &recordingDisplay{}, Config{Interval: time.Hour})

	require.Error(t, s.RunOnce(context.Background()))
	text, _ := s.Current()
	assert.Equal(t, LoadingText, text)
	assert.False(t, s.Status().HasSnapshot)
}

func TestScheduler_EmptySnapshotRendersEmptyText(t *testing.T) {
	display := &recordingDisplay{}
	s := New(&scriptedEngine{results: []result{{snap: market.Snapshot{}}}}, display, Config{Interval: time.Hour})

	require.NoError(t, s.RunOnce(context.Background()))
	text, _ := s.Current()
	assert.Equal(t, "", text)
	assert.Equal(t, []string{""}, display.all())
}

func TestScheduler_SnapshotReplacedNotMerged(t *testing.T) {
	engine := &scriptedEngine{results: []result{
		{snap: snapshot("a", "b", "c")},
		{snap: snapshot("d")},
	}}
	s := New(engine, &recordingDisplay{}, Config{Interval: time.Hour})

	require.NoError(t, s.RunOnce(context.Background()))
	require.NoError(t, s.RunOnce(context.Background()))

	text, snap := s.Current()
	assert.Equal(t, "d", text)
	assert.Equal(t, 1, snap.Len())
}

func TestScheduler_StopDiscardsInFlightRefresh(t *testing.T) {
	engine := newBlockingEngine(snapshot("late"))
	display := &recordingDisplay{}
	s := New(engine, display, Config{Interval: time.Hour, RefreshOnStart: true})

	require.NoError(t, s.Start(context.Background()))

	select {
	case <-engine.started:
	case <-time.After(2 * time.Second):
		t.Fatal("refresh never started")
	}

	s.Stop()
	before, _ := s.Current()
	close(engine.release)
	s.Wait()

	after, _ := s.Current()
	assert.Equal(t, LoadingText, before)
	assert.Equal(t, before, after)
	assert.Equal(t, []string{LoadingText}, display.all())
	assert.False(t, s.Status().Running)
	assert.ErrorIs(t, s.RunOnce(context.Background()), ErrStopped)
}

func TestScheduler_SkipsTickWhileRefreshInFlight(t *testing.T) {
	engine := newBlockingEngine(snapshot("x"))
	rec := &countingRecorder{}
	s := New(engine, &recordingDisplay{}, Config{Interval: time.Hour}, WithRecorder(rec))

	ctx := context.Background()
	s.wg.Add(1) // stands in for the loop goroutine
	assert.True(t, s.trigger(ctx))
	<-engine.started
	assert.False(t, s.trigger(ctx))
	s.wg.Done()

	close(engine.release)
	s.Wait()

	assert.Equal(t, int64(1), s.Status().Skipped)
	assert.Equal(t, int32(1), rec.skipped.Load())
	text, _ := s.Current()
	assert.Equal(t, "x", text)
}

func TestScheduler_RunOnceRefusesWhileTickInFlight(t *testing.T) {
	engine := newBlockingEngine(snapshot("tick"))
	s := New(engine, &recordingDisplay{}, Config{Interval: time.Hour})

	ctx := context.Background()
	s.wg.Add(1)
	require.True(t, s.trigger(ctx))
	<-engine.started
	assert.ErrorIs(t, s.RunOnce(ctx), ErrBusy)
	s.wg.Done()

	close(engine.release)
	s.Wait()

	assert.Equal(t, int64(1), s.Status().Refreshes)
	assert.Zero(t, s.Status().Skipped, "explicit calls are not tick skips")
	require.NoError(t, s.RunOnce(ctx), "flag is released after the tick completes")
}

func TestScheduler_TicksRepeatedly(t *testing.T) {
	engine := &scriptedEngine{results: []result{{snap: snapshot("tick")}}}
	display := &recordingDisplay{}
	s := New(engine, display, Config{Interval: 10 * time.Millisecond, RefreshOnStart: true})

	require.NoError(t, s.Start(context.Background()))
	assert.ErrorIs(t, s.Start(context.Background()), ErrAlreadyStarted)

	assert.Eventually(t, func() bool {
		return s.Status().Refreshes >= 3
	}, 2*time.Second, 5*time.Millisecond)

	s.Stop()
	s.Wait()

	renders := display.all()
	require.NotEmpty(t, renders)
	assert.Equal(t, LoadingText, renders[0])
	assert.Equal(t, "tick", renders[len(renders)-1])
}

func TestScheduler_ParentContextCancelStopsLoop(t *testing.T) {
	engine := &scriptedEngine{results: []result{{snap: snapshot("a")}}}
	s := New(engine, &recordingDisplay{}, Config{Interval: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Start(ctx))
	cancel()

	done := make(chan struct{})
	go func() { s.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not exit after context cancel")
	}
}

func TestScheduler_StartAfterStop(t *testing.T) {
	s := New(&scriptedEngine{results: []result{{}}}, &recordingDisplay{}, DefaultConfig())
	s.Stop()
	assert.ErrorIs(t, s.Start(context.Background()), ErrStopped)
}
