package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/camuig/autopilot/internal/logger"
	"github.com/camuig/autopilot/internal/metrics"
)

type fakeRunner struct {
	runs    atomic.Int32
	active  atomic.Int32
	maxSeen atomic.Int32
	outcome Outcome
	block   chan struct{} // when set, every run waits for it to close
}

func (f *fakeRunner) Run(ctx context.Context, accountID string) (Outcome, error) {
	f.runs.Add(1)
	n := f.active.Add(1)
	defer f.active.Add(-1)
	for {
		m := f.maxSeen.Load()
		if n <= m || f.maxSeen.CompareAndSwap(m, n) {
			break
		}
	}
	if f.block != nil {
		<-f.block
	}
	return f.outcome, nil
}

func newRegistry(r Runner, interval time.Duration) *Registry {
	return NewRegistry(r, interval, metrics.New(), logger.Discard())
}

func TestStartRunsImmediatelyAndOnlyOnce(t *testing.T) {
	runner := &fakeRunner{}
	reg := newRegistry(runner, time.Hour)
	defer reg.Shutdown()

	require.True(t, reg.Start(context.Background(), "acc"))
	assert.False(t, reg.Start(context.Background(), "acc"))

	assert.Eventually(t, func() bool { return runner.runs.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return reg.State("acc") == StateIdle }, time.Second, 5*time.Millisecond)
}

func TestSingleFlight(t *testing.T) {
	runner := &fakeRunner{block: make(chan struct{})}
	reg := newRegistry(runner, 5*time.Millisecond)

	require.True(t, reg.Start(context.Background(), "acc"))
	assert.Eventually(t, func() bool { return reg.State("acc") == StateRunning }, time.Second, time.Millisecond)

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, int32(1), runner.runs.Load(), "ticks during a running cycle must be dropped")
	assert.Positive(t, reg.Status("acc").Skipped)

	close(runner.block)
	reg.Shutdown()
	assert.Equal(t, int32(1), runner.maxSeen.Load())
}

func TestStopIsIdempotentAndHaltsTicks(t *testing.T) {
	runner := &fakeRunner{}
	reg := newRegistry(runner, 5*time.Millisecond)
	defer reg.Shutdown()

	require.True(t, reg.Start(context.Background(), "acc"))
	assert.Eventually(t, func() bool { return runner.runs.Load() >= 2 }, time.Second, time.Millisecond)

	assert.True(t, reg.Stop("acc"))
	assert.False(t, reg.Stop("acc"))
	assert.Equal(t, StateStopped, reg.State("acc"))

	// let any cycle that started before Stop finish
	time.Sleep(20 * time.Millisecond)
	after := runner.runs.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, after, runner.runs.Load())

	assert.False(t, reg.Stop("never-started"))
}

func TestStopLetsInFlightCycleFinish(t *testing.T) {
	runner := &fakeRunner{block: make(chan struct{})}
	reg := newRegistry(runner, time.Hour)

	require.True(t, reg.Start(context.Background(), "acc"))
	assert.Eventually(t, func() bool { return runner.active.Load() == 1 }, time.Second, time.Millisecond)

	require.True(t, reg.Stop("acc"))
	assert.Equal(t, int32(1), runner.active.Load())

	// a restart while the old cycle is still running must not overlap it
	require.True(t, reg.Start(context.Background(), "acc"))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), runner.runs.Load())

	close(runner.block)
	reg.Shutdown()
	assert.Equal(t, int32(0), runner.active.Load())
	assert.Equal(t, int32(1), runner.maxSeen.Load())
}

func TestHaltOutcomeStopsLoop(t *testing.T) {
	runner := &fakeRunner{outcome: OutcomeHalt}
	reg := newRegistry(runner, 5*time.Millisecond)
	defer reg.Shutdown()

	require.True(t, reg.Start(context.Background(), "acc"))
	assert.Eventually(t, func() bool { return reg.State("acc") == StateStopped }, time.Second, time.Millisecond)

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(1), runner.runs.Load())

	assert.True(t, reg.Start(context.Background(), "acc"), "a halted account can be started again")
}

// staleHaltRunner blocks its first cycle and ends it with Halt; later cycles continue.
type staleHaltRunner struct {
	runs    atomic.Int32
	done    atomic.Int32
	release chan struct{}
}

func (f *staleHaltRunner) Run(ctx context.Context, accountID string) (Outcome, error) {
	if f.runs.Add(1) == 1 {
		<-f.release
		f.done.Add(1)
		return OutcomeHalt, nil
	}
	f.done.Add(1)
	return OutcomeContinue, nil
}

func TestHaltFromStoppedLoopLeavesRestartedLoopArmed(t *testing.T) {
	runner := &staleHaltRunner{release: make(chan struct{})}
	reg := newRegistry(runner, time.Hour)
	defer reg.Shutdown()

	require.True(t, reg.Start(context.Background(), "acc"))
	assert.Eventually(t, func() bool { return runner.runs.Load() == 1 }, time.Second, time.Millisecond)

	require.True(t, reg.Stop("acc"))
	require.True(t, reg.Start(context.Background(), "acc"))
	assert.Eventually(t, func() bool { return reg.Status("acc").Skipped == 1 }, time.Second, time.Millisecond)

	close(runner.release)
	assert.Eventually(t, func() bool { return runner.done.Load() == 1 && reg.State("acc") == StateIdle }, time.Second, time.Millisecond)

	time.Sleep(20 * time.Millisecond)
	assert.NotEqual(t, StateStopped, reg.State("acc"))
	assert.False(t, reg.Start(context.Background(), "acc"), "the restarted loop is still armed")
}

func TestAccountsAreIndependent(t *testing.T) {
	runner := &fakeRunner{block: make(chan struct{})}
	reg := newRegistry(runner, time.Hour)

	var wg sync.WaitGroup
	for _, id := range []string{"a", "b", "c"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			reg.Start(context.Background(), id)
		}(id)
	}
	wg.Wait()

	assert.Eventually(t, func() bool { return runner.active.Load() == 3 }, time.Second, time.Millisecond)
	statuses := reg.Statuses()
	require.Len(t, statuses, 3)
	assert.Equal(t, "a", statuses[0].AccountID)
	assert.Equal(t, "running", statuses[0].State)

	close(runner.block)
	reg.Shutdown()
}
