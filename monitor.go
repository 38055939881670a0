package monitordog

import (
	"io"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// Monitor prefixes metric names, encodes tags and forwards everything to a Sink.
// It is safe for concurrent use.
type Monitor struct {
	config  Config
	prefix  string
	enabled bool
	sink    Sink
	logger  *zap.Logger
	clock   clockwork.Clock

	tracker *ConnTracker
	sockets *SocketsMonitor
	runtime *RuntimeMonitor
}

// CreateMonitor creates an independent monitor from config. Nothing is inherited
// from m.
func (m *Monitor) CreateMonitor(config Config) (*Monitor, error) {
	return New(config)
}

// Prefix returns the name prefix, empty when none is set
func (m *Monitor) Prefix() string {
	return m.prefix
}

// Interval returns the default period of interval monitors
func (m *Monitor) Interval() time.Duration {
	return m.config.Interval
}

// Enabled reports whether the monitor sends anything
func (m *Monitor) Enabled() bool {
	return m.enabled
}

// Sink returns the underlying transport
func (m *Monitor) Sink() Sink {
	return m.sink
}

// ConnTracker returns the tracker sampled by the sockets monitor, nil when the
// configuration supplies its own ConnectionSource or the monitor is disabled.
// Wrap HTTP clients with it to have their connections reported:
//
//	client := &http.Client{Transport: m.ConnTracker().Transport(nil)}
func (m *Monitor) ConnTracker() *ConnTracker {
	return m.tracker
}

// Set records a value in a set
func (m *Monitor) Set(name string, value, sampleRate float64, tags Tags) {
	m.forward("set", Sink.Set, name, value, sampleRate, tags)
}

// Increment increments a counter by value
func (m *Monitor) Increment(name string, value, sampleRate float64, tags Tags) {
	m.forward("increment", Sink.Increment, name, value, sampleRate, tags)
}

// Decrement decrements a counter by value
func (m *Monitor) Decrement(name string, value, sampleRate float64, tags Tags) {
	m.forward("decrement", Sink.Decrement, name, value, sampleRate, tags)
}

// Histogram records a value in a histogram
func (m *Monitor) Histogram(name string, value, sampleRate float64, tags Tags) {
	m.forward("histogram", Sink.Histogram, name, value, sampleRate, tags)
}

// Gauge sets a gauge
func (m *Monitor) Gauge(name string, value, sampleRate float64, tags Tags) {
	m.forward("gauge", Sink.Gauge, name, value, sampleRate, tags)
}

type sinkMethod func(s Sink, name string, value, sampleRate float64, tags []string) error

func (m *Monitor) forward(op string, method sinkMethod, name string, value, sampleRate float64, tags Tags) {
	if !m.enabled {
		return
	}

	if err := method(m.sink, m.metricName(name), value, sampleRate, resolveTags(tags)); err != nil {
		m.logger.Debug("failed to send metric",
			zap.String("op", op),
			zap.String("name", name),
			zap.Error(err))
	}
}

func (m *Monitor) metricName(name string) string {
	if m.prefix == "" {
		return name
	}
	return m.prefix + "." + name
}

// Event sends a custom event. Event names are not prefixed.
//
//	m.Event(&monitordog.EventOptions{
//	  Title: "Docker Build Failure",
//	  Text:  "Failed to build container " + name,
//	})
//
// It fails with ErrValidation when the title or text is missing. A disabled
// monitor returns nil without validating.
func (m *Monitor) Event(opt *EventOptions) error {
	if !m.enabled {
		return nil
	}

	data, err := EncodeEvent(opt)
	if err != nil {
		return err
	}

	return m.sink.SendRaw(data)
}

// Timer creates a timer reporting its duration to the histogram name
//
//	t := m.Timer("function.time", true, nil)
//	doSomething()
//	t.Stop()
func (m *Monitor) Timer(name string, autoStart bool, tags Tags) *Timer {
	return newTimer(m.clock, func(durationMs float64) {
		m.Histogram(name, durationMs, 1, tags)
	}, autoStart)
}

// SocketsMonitor returns the connection and open files sampler, nil when disabled
func (m *Monitor) SocketsMonitor() *SocketsMonitor {
	return m.sockets
}

// StartSocketsMonitor starts sampling connections and open files
func (m *Monitor) StartSocketsMonitor() {
	if m.sockets != nil {
		m.sockets.Start()
	}
}

// StopSocketsMonitor stops sampling connections and open files
func (m *Monitor) StopSocketsMonitor() {
	if m.sockets != nil {
		m.sockets.Stop()
	}
}

// StartRuntimeMonitor starts reporting Go runtime statistics
func (m *Monitor) StartRuntimeMonitor() {
	if m.runtime != nil {
		m.runtime.Start()
	}
}

// StopRuntimeMonitor stops reporting Go runtime statistics
func (m *Monitor) StopRuntimeMonitor() {
	if m.runtime != nil {
		m.runtime.Stop()
	}
}

// CaptureStream wraps stream so that its lifecycle is counted: <name>.open right
// away, <name>.data on every non-empty read, <name>.error on read failures and
// <name>.end once the stream is exhausted. It returns false, and stream
// unchanged, when either argument is empty.
func (m *Monitor) CaptureStream(name string, stream io.ReadCloser) (io.ReadCloser, bool) {
	if name == "" || stream == nil {
		return stream, false
	}

	m.Increment(name+".open", 1, 1, nil)
	return &capturedStream{ReadCloser: stream, monitor: m, name: name}, true
}

// Close stops all interval monitors and closes the sink
func (m *Monitor) Close() error {
	m.StopSocketsMonitor()
	m.StopRuntimeMonitor()
	return m.sink.Close()
}

type capturedStream struct {
	io.ReadCloser

	monitor *Monitor
	name    string
	ended   bool
}

func (s *capturedStream) Read(p []byte) (int, error) {
	n, err := s.ReadCloser.Read(p)

	if n > 0 {
		s.monitor.Increment(s.name+".data", 1, 1, nil)
	}

	switch {
	case err == io.EOF:
		if !s.ended {
			s.ended = true
			s.monitor.Increment(s.name+".end", 1, 1, nil)
		}
	case err != nil:
		s.monitor.Increment(s.name+".error", 1, 1, nil)
	}

	return n, err
}
