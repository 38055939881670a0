package monitordog

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/joomcode/errorx"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingRunner struct {
	runs atomic.Int32
	ran  chan struct{}
}

func newCountingRunner() *countingRunner {
	return &countingRunner{ran: make(chan struct{}, 16)}
}

func (r *countingRunner) Run() {
	r.runs.Add(1)
	r.ran <- struct{}{}
}

func (r *countingRunner) wait(t *testing.T) {
	t.Helper()

	select {
	case <-r.ran:
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for run")
	}
}

func TestIntervalMonitorStartIsIdempotent(t *testing.T) {
	clock := clockwork.NewFakeClock()
	runner := newCountingRunner()
	im := newIntervalMonitor(runner, "test", 100*time.Millisecond, clock, nil)

	im.Start()
	im.Start()
	im.Start()
	defer im.Stop()

	clock.BlockUntil(1)
	clock.Advance(100 * time.Millisecond)
	runner.wait(t)

	assert.Never(t, func() bool { return runner.runs.Load() > 1 }, 100*time.Millisecond, 10*time.Millisecond)
	assert.Equal(t, int32(1), runner.runs.Load())
	assert.True(t, im.Running())
}

func TestIntervalMonitorStop(t *testing.T) {
	clock := clockwork.NewFakeClock()
	runner := newCountingRunner()
	im := newIntervalMonitor(runner, "test", 100*time.Millisecond, clock, nil)

	im.Start()
	clock.BlockUntil(1)
	im.Stop()
	im.Stop()

	assert.False(t, im.Running())

	clock.Advance(time.Second)
	assert.Never(t, func() bool { return runner.runs.Load() > 0 }, 100*time.Millisecond, 10*time.Millisecond)
}

func TestIntervalMonitorRestart(t *testing.T) {
	clock := clockwork.NewFakeClock()
	runner := newCountingRunner()
	im := newIntervalMonitor(runner, "test", 100*time.Millisecond, clock, nil)

	im.Start()
	clock.BlockUntil(1)
	clock.Advance(100 * time.Millisecond)
	runner.wait(t)
	im.Stop()

	im.Start()
	defer im.Stop()
	clock.BlockUntil(1)
	clock.Advance(100 * time.Millisecond)
	runner.wait(t)

	assert.Equal(t, int32(2), runner.runs.Load())
}

func TestIntervalMonitorRunsEveryInterval(t *testing.T) {
	clock := clockwork.NewFakeClock()
	runner := newCountingRunner()
	im := newIntervalMonitor(runner, "test", time.Second, clock, nil)

	im.Start()
	defer im.Stop()
	clock.BlockUntil(1)

	for i := 0; i < 3; i++ {
		clock.Advance(time.Second)
		runner.wait(t)
	}

	assert.Equal(t, int32(3), runner.runs.Load())
}

func TestIntervalMonitorAbstractRun(t *testing.T) {
	im := newIntervalMonitor(nil, "test", time.Second, nil, nil)

	err := im.Run()
	require.Error(t, err)
	assert.True(t, errorx.IsOfType(err, errorx.NotImplemented))
}

func TestIntervalMonitorRunnerFunc(t *testing.T) {
	called := false
	im := newIntervalMonitor(RunnerFunc(func() { called = true }), "test", time.Second, nil, nil)

	require.NoError(t, im.Run())
	assert.True(t, called)
}

func TestNewIntervalMonitorDefaults(t *testing.T) {
	m, err := New(Config{Prefix: "app", Interval: 2 * time.Second, Sink: &recordingSink{}})
	require.NoError(t, err)

	im := NewIntervalMonitor(m, newCountingRunner(), "", 0)
	assert.Equal(t, "app", im.Prefix)
	assert.Equal(t, 2*time.Second, im.Interval)

	im = NewIntervalMonitor(m, newCountingRunner(), "custom", 300*time.Millisecond)
	assert.Equal(t, "custom", im.Prefix)
	assert.Equal(t, 300*time.Millisecond, im.Interval)
}
