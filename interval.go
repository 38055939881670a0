package monitordog

import (
	"sync"
	"time"

	"github.com/joomcode/errorx"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// Runner is the periodic action of an IntervalMonitor
type Runner interface {
	Run()
}

// RunnerFunc adapts a plain function to Runner
type RunnerFunc func()

// Run calls f
func (f RunnerFunc) Run() {
	f()
}

// IntervalMonitor invokes a Runner every Interval until stopped. It is the base of
// every specialized monitor that reports periodically.
//
// Start and Stop are idempotent and the monitor may be restarted after a stop.
// Runs of the same monitor never overlap: all of them happen on a single goroutine.
type IntervalMonitor struct {
	Prefix   string
	Interval time.Duration

	runner Runner
	clock  clockwork.Clock
	logger *zap.Logger

	mutex sync.Mutex
	quit  chan struct{}
	done  chan struct{}
}

// NewIntervalMonitor creates an interval monitor reporting through m. An empty
// prefix or a zero interval fall back to the monitor's own settings.
func NewIntervalMonitor(m *Monitor, runner Runner, prefix string, interval time.Duration) *IntervalMonitor {
	if prefix == "" {
		prefix = m.Prefix()
	}
	if interval <= 0 {
		interval = m.Interval()
	}
	return newIntervalMonitor(runner, prefix, interval, m.clock, m.logger)
}

func newIntervalMonitor(runner Runner, prefix string, interval time.Duration, clock clockwork.Clock, logger *zap.Logger) *IntervalMonitor {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IntervalMonitor{
		Prefix:   prefix,
		Interval: interval,
		runner:   runner,
		clock:    clock,
		logger:   logger,
	}
}

// Run performs a single report. An interval monitor without a Runner is abstract
// and fails with errorx.NotImplemented.
func (im *IntervalMonitor) Run() error {
	if im.runner == nil {
		return errorx.NotImplemented.New("interval monitor is abstract; a Runner must be supplied")
	}
	im.runner.Run()
	return nil
}

// Start schedules Run every Interval. It has no effect on a running monitor.
func (im *IntervalMonitor) Start() {
	im.mutex.Lock()
	defer im.mutex.Unlock()

	if im.quit != nil {
		return
	}

	interval := im.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}

	ticker := im.clock.NewTicker(interval)
	im.quit = make(chan struct{})
	im.done = make(chan struct{})

	go im.loop(ticker, im.quit, im.done)

	im.logger.Debug("interval monitor started",
		zap.String("prefix", im.Prefix),
		zap.Duration("interval", interval))
}

// Stop cancels future runs and waits for the loop to exit. It has no effect on a
// stopped monitor and must not be called from within Run.
func (im *IntervalMonitor) Stop() {
	im.mutex.Lock()
	if im.quit == nil {
		im.mutex.Unlock()
		return
	}
	close(im.quit)
	done := im.done
	im.quit = nil
	im.done = nil
	im.mutex.Unlock()

	<-done

	im.logger.Debug("interval monitor stopped", zap.String("prefix", im.Prefix))
}

// Running reports whether the monitor is scheduled
func (im *IntervalMonitor) Running() bool {
	im.mutex.Lock()
	defer im.mutex.Unlock()
	return im.quit != nil
}

func (im *IntervalMonitor) loop(ticker clockwork.Ticker, quit, done chan struct{}) {
	defer close(done)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.Chan():
			if err := im.Run(); err != nil {
				im.logger.Error("interval monitor run failed",
					zap.String("prefix", im.Prefix),
					zap.Error(err))
			}
		case <-quit:
			return
		}
	}
}
