package monitordog

import (
	"context"
	"net"
	"net/http"
	"os"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ConnectionSource exposes the live connection collections sampled by a SocketsMonitor.
// Both maps are keyed by destination and hold the number of entries under each key.
type ConnectionSource interface {
	OpenConnections() map[string]int
	PendingRequests() map[string]int
}

// DialContextFunc matches net.Dialer.DialContext and http.Transport.DialContext
type DialContextFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// ConnTracker keeps count of open and in-flight connections per destination. Plug
// it into a client by wrapping the client's dialer.
type ConnTracker struct {
	mutex   sync.Mutex
	open    map[string]int
	pending map[string]int
}

var _ ConnectionSource = (*ConnTracker)(nil)

// NewConnTracker creates an empty tracker
func NewConnTracker() *ConnTracker {
	return &ConnTracker{
		open:    make(map[string]int),
		pending: make(map[string]int),
	}
}

// WrapDialer returns a dialer that records every connection it makes. A dial is
// pending until it completes; a successful dial stays open until the connection is closed.
func (t *ConnTracker) WrapDialer(dial DialContextFunc) DialContextFunc {
	if dial == nil {
		dial = (&net.Dialer{}).DialContext
	}

	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		t.add(t.pending, addr, 1)
		conn, err := dial(ctx, network, addr)
		t.add(t.pending, addr, -1)

		if err != nil {
			return nil, err
		}

		t.add(t.open, addr, 1)
		return &trackedConn{Conn: conn, onClose: func() { t.add(t.open, addr, -1) }}, nil
	}
}

// Transport clones base (http.DefaultTransport when nil) with a tracked dialer
func (t *ConnTracker) Transport(base *http.Transport) *http.Transport {
	if base == nil {
		base = http.DefaultTransport.(*http.Transport)
	}
	tr := base.Clone()
	tr.DialContext = t.WrapDialer(tr.DialContext)
	return tr
}

// OpenConnections implements ConnectionSource
func (t *ConnTracker) OpenConnections() map[string]int {
	return t.snapshot(t.open)
}

// PendingRequests implements ConnectionSource
func (t *ConnTracker) PendingRequests() map[string]int {
	return t.snapshot(t.pending)
}

func (t *ConnTracker) add(m map[string]int, key string, delta int) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	m[key] += delta
	if m[key] <= 0 {
		delete(m, key)
	}
}

func (t *ConnTracker) snapshot(m map[string]int) map[string]int {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	result := make(map[string]int, len(m))
	for k, v := range m {
		result[k] = v
	}
	return result
}

type trackedConn struct {
	net.Conn
	once    sync.Once
	onClose func()
}

func (c *trackedConn) Close() error {
	c.once.Do(c.onClose)
	return c.Conn.Close()
}

// SocketsMonitor reports, on every interval:
//   - the number of open connections per destination, as <prefix>.open
//   - the number of pending connections per destination, as <prefix>.pending
//   - the number of files held open by the process, as <prefix>.openFiles
type SocketsMonitor struct {
	*IntervalMonitor

	monitor      *Monitor
	source       ConnectionSource
	files        FileDescriptorCounter
	queryTimeout time.Duration
}

// NewSocketsMonitor creates a sockets monitor. The prefix defaults to "socket" and
// the interval to the monitor's interval. Either collaborator may be nil, in which
// case the matching gauges are skipped.
func NewSocketsMonitor(m *Monitor, source ConnectionSource, files FileDescriptorCounter, prefix string, interval time.Duration) *SocketsMonitor {
	if prefix == "" {
		prefix = "socket"
	}
	sm := &SocketsMonitor{
		monitor:      m,
		source:       source,
		files:        files,
		queryTimeout: m.config.FDQueryTimeout,
	}
	sm.IntervalMonitor = NewIntervalMonitor(m, sm, prefix, interval)
	return sm
}

// Run implements Runner. Connection gauges are sent synchronously; the open
// files gauge is sent from a separate goroutine once the OS query returns, and a
// failed query sends nothing.
func (sm *SocketsMonitor) Run() {
	pid := pidTag()

	if sm.source != nil {
		sm.reportCollection(sm.Prefix+".open", sm.source.OpenConnections(), pid)
		sm.reportCollection(sm.Prefix+".pending", sm.source.PendingRequests(), pid)
	}

	if sm.files != nil {
		go sm.reportOpenFiles(pid)
	}
}

func (sm *SocketsMonitor) reportCollection(name string, collection map[string]int, pid string) {
	keys := make([]string, 0, len(collection))
	for key := range collection {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		sm.monitor.Gauge(name, float64(collection[key]), 1, TagList{pid, "target:" + key})
	}
}

func (sm *SocketsMonitor) reportOpenFiles(pid string) {
	ctx := context.Background()
	if sm.queryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, sm.queryTimeout)
		defer cancel()
	}

	n, err := sm.files.CountOpenFiles(ctx, os.Getpid())
	if err != nil {
		sm.logger.Debug("open files query failed", zap.Error(err))
		return
	}

	sm.monitor.Gauge(sm.Prefix+".openFiles", float64(n), 1, TagList{pid})
}
