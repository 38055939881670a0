package monitordog

import (
	"errors"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/joomcode/errorx"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMonitorPrefix(t *testing.T) {
	m, sink := newTestMonitor(t, Config{Prefix: "myapp"})
	m.Increment("requests", 1, 1, nil)

	plain, plainSink := newTestMonitor(t, Config{})
	plain.Increment("requests", 1, 1, nil)

	assert.Equal(t, "myapp.requests", sink.Calls()[0].name)
	assert.Equal(t, "requests", plainSink.Calls()[0].name)
	assert.Equal(t, "myapp", m.Prefix())
	assert.Equal(t, "", plain.Prefix())
}

func TestMonitorForwardsEveryOperation(t *testing.T) {
	m, sink := newTestMonitor(t, Config{Prefix: "app"})

	m.Set("users", 11, 1, nil)
	m.Increment("hits", 2, 0.5, TagList{"env:prod"})
	m.Decrement("hits", 1, 1, nil)
	m.Histogram("latency", 12.5, 1, nil)
	m.Gauge("depth", 3, 1, TagMap{"queue": "default", "cached": true})

	assert.Equal(t, []sinkCall{
		{"set", "app.users", 11, 1, nil},
		{"increment", "app.hits", 2, 0.5, []string{"env:prod"}},
		{"decrement", "app.hits", 1, 1, nil},
		{"histogram", "app.latency", 12.5, 1, nil},
		{"gauge", "app.depth", 3, 1, []string{"cached:true", "queue:default"}},
	}, sink.Calls())
}

func TestMonitorSwallowsSinkErrors(t *testing.T) {
	m, sink := newTestMonitor(t, Config{})
	sink.err = errors.New("agent is down")

	assert.NotPanics(t, func() { m.Gauge("depth", 1, 1, nil) })
	assert.Len(t, sink.Calls(), 1)
}

func TestMonitorDisabled(t *testing.T) {
	m, err := New(Config{Prefix: "app"})
	require.NoError(t, err)

	assert.False(t, m.Enabled())
	assert.IsType(t, NoopSink{}, m.Sink())
	assert.Nil(t, m.SocketsMonitor())
	assert.Nil(t, m.ConnTracker())

	m.Increment("hits", 1, 1, nil)
	assert.NoError(t, m.Event(&EventOptions{}))

	m.StartSocketsMonitor()
	m.StopSocketsMonitor()
	m.StartRuntimeMonitor()
	m.StopRuntimeMonitor()
	assert.NoError(t, m.Close())
}

func TestMonitorEvent(t *testing.T) {
	m, sink := newTestMonitor(t, Config{Prefix: "app"})

	require.NoError(t, m.Event(&EventOptions{Title: "Deploy", Text: "v1.2.3", Tags: []string{"env:prod"}}))
	assert.Equal(t, [][]byte{[]byte("_e{6,6}:Deploy|v1.2.3|#env:prod")}, sink.Raw())

	err := m.Event(&EventOptions{Title: "Deploy"})
	assert.True(t, errorx.IsOfType(err, ErrValidation))
	assert.Len(t, sink.Raw(), 1)
}

func TestMonitorTimer(t *testing.T) {
	clock := clockwork.NewFakeClock()
	m, sink := newTestMonitor(t, Config{Prefix: "app", Clock: clock})

	timer := m.Timer("request.time", true, TagMap{"route": "/"})
	clock.Advance(250 * time.Millisecond)
	timer.Stop()

	assert.Equal(t, []sinkCall{
		{"histogram", "app.request.time", 250, 1, []string{"route:/"}},
	}, sink.Calls())

	idle := m.Timer("idle.time", false, nil)
	idle.Stop()
	assert.Len(t, sink.Calls(), 1)
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("connection reset") }

func TestMonitorCaptureStream(t *testing.T) {
	m, sink := newTestMonitor(t, Config{})

	stream, ok := m.CaptureStream("upload", io.NopCloser(strings.NewReader("hello world")))
	require.True(t, ok)

	buf := make([]byte, 5)
	for {
		if _, err := stream.Read(buf); err != nil {
			break
		}
	}
	stream.Read(buf)
	require.NoError(t, stream.Close())

	var names []string
	for _, c := range sink.Calls() {
		names = append(names, c.name)
	}
	assert.Equal(t, []string{"upload.open", "upload.data", "upload.data", "upload.data", "upload.end"}, names)
}

func TestMonitorCaptureStreamError(t *testing.T) {
	m, sink := newTestMonitor(t, Config{})

	stream, ok := m.CaptureStream("download", io.NopCloser(failingReader{}))
	require.True(t, ok)

	_, err := stream.Read(make([]byte, 8))
	assert.Error(t, err)

	calls := sink.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "download.error", calls[1].name)
}

func TestMonitorCaptureStreamInvalid(t *testing.T) {
	m, sink := newTestMonitor(t, Config{})

	_, ok := m.CaptureStream("", io.NopCloser(strings.NewReader("x")))
	assert.False(t, ok)

	_, ok = m.CaptureStream("name", nil)
	assert.False(t, ok)

	assert.Empty(t, sink.Calls())
}

func TestMonitorCreateMonitor(t *testing.T) {
	m, _ := newTestMonitor(t, Config{Prefix: "parent", Interval: time.Second})

	child, err := m.CreateMonitor(Config{Prefix: "child"})
	require.NoError(t, err)

	assert.Equal(t, "child", child.Prefix())
	assert.Equal(t, DefaultInterval, child.Interval())
	assert.False(t, child.Enabled())
}

func TestNewInvalidConfig(t *testing.T) {
	_, err := New(Config{Port: -1})
	assert.Error(t, err)

	_, err = New(Config{Transport: "carrier-pigeon"})
	assert.Error(t, err)
}

func TestNewDogStatsd(t *testing.T) {
	server, received := startServer(t)
	defer server.Close()

	addr := server.LocalAddr().(*net.UDPAddr)

	m, err := New(Config{Prefix: "app", Host: addr.IP.String(), Port: addr.Port})
	require.NoError(t, err)
	defer m.Close()

	require.NotNil(t, m.ConnTracker())
	assert.IsType(t, &DogStatsdSink{}, m.Sink())

	m.Gauge("depth", 3, 1, TagMap{"env": "prod"})
	assert.Equal(t, "app.depth:3|g|#env:prod", receive(t, received))

	require.NoError(t, m.Event(&EventOptions{Title: "t", Text: "x"}))
	assert.Equal(t, "_e{1,1}:t|x", receive(t, received))
}

func TestMonitorRuntimeMonitor(t *testing.T) {
	m, sink := newTestMonitor(t, Config{Prefix: "app"})

	m.runtime.Run()

	calls := sink.Calls()
	require.NotEmpty(t, calls)
	for _, c := range calls {
		assert.Equal(t, "gauge", c.op)
		assert.True(t, strings.HasPrefix(c.name, "app.runtime."), c.name)
		assert.Equal(t, []string{pidTag()}, c.tags)
	}
}
