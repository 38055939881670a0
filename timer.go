package monitordog

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Timer measures an elapsed duration and reports it, in milliseconds, to a callback
type Timer struct {
	clock     clockwork.Clock
	callback  func(durationMs float64)
	startedAt time.Time
	started   bool
	mutex     sync.Mutex
}

// NewTimer creates a timer that reports to callback when stopped. The timer is
// started right away when autoStart is true.
func NewTimer(callback func(durationMs float64), autoStart bool) *Timer {
	return newTimer(clockwork.NewRealClock(), callback, autoStart)
}

func newTimer(clock clockwork.Clock, callback func(durationMs float64), autoStart bool) *Timer {
	t := &Timer{
		clock:    clock,
		callback: callback,
	}
	if autoStart {
		t.Start()
	}
	return t
}

// Start records the start instant. Repeated starts keep the first instant.
func (t *Timer) Start() {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if t.started {
		return
	}
	t.startedAt = t.clock.Now()
	t.started = true
}

// Stop reports the time elapsed since Start. It does nothing on a timer that was
// never started. Stop does not reset the timer: every further call reports again,
// measured from the same start instant.
func (t *Timer) Stop() {
	t.mutex.Lock()
	if !t.started {
		t.mutex.Unlock()
		return
	}
	elapsed := t.clock.Since(t.startedAt)
	t.mutex.Unlock()

	if elapsed < 0 {
		elapsed = 0
	}
	t.callback(float64(elapsed) / float64(time.Millisecond))
}
