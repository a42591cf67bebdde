package stopwatch

import (
	"context"
	"os"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/AlexanderYastrebov/noleak"
	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	os.Exit(noleak.CheckMain(m))
}

const (
	waitFor = 2 * time.Second
	tick    = time.Millisecond
)

type recorder struct {
	mu    sync.Mutex
	texts []string
}

func (r *recorder) Publish(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.texts = append(r.texts, text)
}

func (r *recorder) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.texts...)
}

func (r *recorder) last() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.texts) == 0 {
		return ""
	}
	return r.texts[len(r.texts)-1]
}

func (r *recorder) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.texts)
}

// runLoop starts a loop over a mock-clocked state. The loop's own tickers run
// on the real clock so the sampler keeps publishing on its own.
func runLoop(t *testing.T) (*State, *clock.Mock, *Loop, *recorder) {
	t.Helper()
	noleak.Check(t)

	state, mock := newMockState()
	rec := &recorder{}
	loop := NewLoop(state, rec)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
		assert.False(t, loop.Sampling())
	})
	return state, mock, loop, rec
}

func TestLoopPublishesWhileRunning(t *testing.T) {
	state, mock, loop, rec := runLoop(t)

	state.Start()
	require.Eventually(t, loop.Sampling, waitFor, tick)

	mock.Add(1500 * time.Millisecond)
	assert.Eventually(t, func() bool { return rec.last() == "00:00:01.500" }, waitFor, tick)
}

func TestLoopStopPublishesFrozenValue(t *testing.T) {
	state, mock, loop, rec := runLoop(t)

	state.Start()
	require.Eventually(t, loop.Sampling, waitFor, tick)
	mock.Add(2 * time.Second)
	require.Eventually(t, func() bool { return rec.last() == "00:00:02.000" }, waitFor, tick)

	state.Stop()
	require.Eventually(t, func() bool { return !loop.Sampling() }, waitFor, tick)
	assert.Equal(t, "00:00:02.000", rec.last())

	n := rec.len()
	mock.Add(time.Second)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, n, rec.len(), "nothing is published while stopped")
}

func TestLoopResumesFromPausedValue(t *testing.T) {
	state, mock, loop, rec := runLoop(t)

	state.Start()
	require.Eventually(t, loop.Sampling, waitFor, tick)
	mock.Add(1500 * time.Millisecond)
	state.Stop()
	require.Eventually(t, func() bool { return !loop.Sampling() }, waitFor, tick)

	mock.Add(5 * time.Second)
	state.Start()
	require.Eventually(t, loop.Sampling, waitFor, tick)
	assert.Eventually(t, func() bool { return rec.last() == "00:00:01.500" }, waitFor, tick)
}

func TestLoopResetWhileRunning(t *testing.T) {
	state, mock, loop, rec := runLoop(t)

	state.Start()
	require.Eventually(t, loop.Sampling, waitFor, tick)
	mock.Add(3 * time.Second)
	require.Eventually(t, func() bool { return rec.last() == "00:00:03.000" }, waitFor, tick)

	state.Reset()
	require.Eventually(t, func() bool { return rec.last() == Zero }, waitFor, tick)
	require.Eventually(t, func() bool { return !loop.Sampling() }, waitFor, tick)

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, Zero, rec.last(), "no sample may follow the reset")
}

func TestLoopResetWhileStopped(t *testing.T) {
	state, mock, loop, rec := runLoop(t)

	state.Start()
	require.Eventually(t, loop.Sampling, waitFor, tick)
	mock.Add(time.Minute)
	state.Stop()
	require.Eventually(t, func() bool { return rec.last() == "00:01:00.000" }, waitFor, tick)

	state.Reset()
	assert.Eventually(t, func() bool { return rec.last() == Zero }, waitFor, tick)
}

func TestLoopPublicationsAreOrdered(t *testing.T) {
	state, mock, loop, rec := runLoop(t)

	state.Start()
	require.Eventually(t, loop.Sampling, waitFor, tick)
	for i := 0; i < 20; i++ {
		mock.Add(10 * time.Millisecond)
		time.Sleep(time.Millisecond)
	}
	state.Stop()
	require.Eventually(t, func() bool { return !loop.Sampling() }, waitFor, tick)
	require.Eventually(t, func() bool { return rec.last() == "00:00:00.200" }, waitFor, tick)

	texts := rec.all()
	assert.True(t, sort.StringsAreSorted(texts), "publications went backwards: %v", texts)
}

func TestLoopShutdownJoinsSampler(t *testing.T) {
	noleak.Check(t)

	state, _ := newMockState()
	loop := NewLoop(state, &recorder{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()

	state.Start()
	require.Eventually(t, loop.Sampling, waitFor, tick)

	cancel()
	require.NoError(t, <-done)
	assert.False(t, loop.Sampling(), "Run returned with a sampler alive")
}

func TestReconcileMissedSegment(t *testing.T) {
	state, mock := newMockState()
	rec := &recorder{}
	loop := NewLoop(state, rec)

	state.Start()
	mock.Add(time.Second)
	state.Stop()

	s := loop.reconcile(context.Background(), nil)
	assert.Nil(t, s)
	assert.Equal(t, []string{"00:00:01.000"}, rec.all())

	s = loop.reconcile(context.Background(), nil)
	assert.Nil(t, s)
	assert.Len(t, rec.all(), 1, "an unchanged stopped state publishes once")
}

func TestReconcileSpawnsAndJoins(t *testing.T) {
	noleak.Check(t)

	state, mock := newMockState()
	rec := &recorder{}
	loop := NewLoop(state, rec, WithSampleInterval(time.Hour))

	state.Start()
	s := loop.reconcile(context.Background(), nil)
	require.NotNil(t, s)
	assert.True(t, loop.Sampling())

	same := loop.reconcile(context.Background(), s)
	assert.Same(t, s, same, "a running segment keeps its sampler")

	mock.Add(250 * time.Millisecond)
	state.Stop()
	s = loop.reconcile(context.Background(), s)
	assert.Nil(t, s)
	assert.False(t, loop.Sampling())
	assert.Equal(t, []string{"00:00:00.250"}, rec.all())
}

func TestReconcileResetThenRestart(t *testing.T) {
	noleak.Check(t)

	state, mock := newMockState()
	rec := &recorder{}
	loop := NewLoop(state, rec, WithSampleInterval(time.Hour))

	state.Start()
	s := loop.reconcile(context.Background(), nil)
	require.NotNil(t, s)

	mock.Add(time.Second)
	state.Reset()
	state.Start()

	next := loop.reconcile(context.Background(), s)
	require.NotNil(t, next)
	assert.NotSame(t, s, next)
	assert.Equal(t, []string{Zero}, rec.all())

	state.Stop()
	assert.Nil(t, loop.reconcile(context.Background(), next))
	assert.False(t, loop.Sampling())
}

func TestReconcileSettlesStop(t *testing.T) {
	noleak.Check(t)

	state, mock := newMockState()
	rec := &recorder{}
	loop := NewLoop(state, rec, WithSampleInterval(time.Hour))
	assert.False(t, loop.Settled(state.Epoch()), "nothing is settled before the first observation")

	// Started and stopped before the loop has looked: no sampler ever ran,
	// but the stop is not settled until its value is published.
	state.Start()
	mock.Add(3 * time.Second)
	state.Stop()
	assert.False(t, loop.Sampling())
	assert.False(t, loop.Settled(state.Epoch()))

	assert.Nil(t, loop.reconcile(context.Background(), nil))
	assert.True(t, loop.Settled(state.Epoch()))
	assert.Equal(t, []string{"00:00:03.000"}, rec.all())

	state.Start()
	s := loop.reconcile(context.Background(), nil)
	require.NotNil(t, s)
	assert.False(t, loop.Settled(state.Epoch()), "a running segment is never settled")
	assert.False(t, loop.Settled(state.Epoch()-1), "an older stop no longer counts")

	state.Stop()
	assert.Nil(t, loop.reconcile(context.Background(), s))
	assert.True(t, loop.Settled(state.Epoch()))
}
