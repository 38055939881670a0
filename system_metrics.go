package monitordog

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"time"

	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"
)

// FileDescriptorCounter queries the OS for the number of files a process holds open
type FileDescriptorCounter interface {
	CountOpenFiles(ctx context.Context, pid int) (int, error)
}

// ProcessFDCounter counts descriptors through gopsutil
type ProcessFDCounter struct{}

// CountOpenFiles implements FileDescriptorCounter
func (ProcessFDCounter) CountOpenFiles(ctx context.Context, pid int) (int, error) {
	p, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return 0, err
	}
	n, err := p.NumFDsWithContext(ctx)
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// LsofCounter counts descriptors by listing them with lsof
type LsofCounter struct {
	// Path of the lsof binary, "lsof" when empty
	Path string
}

// CountOpenFiles implements FileDescriptorCounter
func (c LsofCounter) CountOpenFiles(ctx context.Context, pid int) (int, error) {
	path := c.Path
	if path == "" {
		path = "lsof"
	}

	out, err := exec.CommandContext(ctx, path, "-p", strconv.Itoa(pid)).Output()
	if err != nil {
		return 0, ErrTransport.Wrap(err, "lsof failed for pid %d", pid)
	}

	// first line is the column header
	lines := bytes.Split(bytes.TrimSpace(out), []byte("\n"))
	if len(lines) <= 1 {
		return 0, nil
	}
	return len(lines) - 1, nil
}

// FallbackCounter tries each counter in order and returns the first success
type FallbackCounter []FileDescriptorCounter

// CountOpenFiles implements FileDescriptorCounter
func (f FallbackCounter) CountOpenFiles(ctx context.Context, pid int) (int, error) {
	var firstErr error
	for _, counter := range f {
		n, err := counter.CountOpenFiles(ctx, pid)
		if err == nil {
			return n, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	if firstErr == nil {
		firstErr = ErrUnsupported.New("no file descriptor counter configured")
	}
	return 0, firstErr
}

// NewFileDescriptorCounter returns the counter selected by name: "gopsutil",
// "lsof", or "auto" (gopsutil with an lsof fallback) for anything else.
func NewFileDescriptorCounter(name string) FileDescriptorCounter {
	switch name {
	case FDQueryGopsutil:
		return ProcessFDCounter{}
	case FDQueryLsof:
		return LsofCounter{}
	}
	return FallbackCounter{ProcessFDCounter{}, LsofCounter{}}
}

// RuntimeMonitor reports Go runtime statistics as gauges on every interval
type RuntimeMonitor struct {
	*IntervalMonitor

	monitor *Monitor
}

// NewRuntimeMonitor creates a runtime monitor. The prefix defaults to "runtime".
func NewRuntimeMonitor(m *Monitor, prefix string, interval time.Duration) *RuntimeMonitor {
	if prefix == "" {
		prefix = "runtime"
	}
	rm := &RuntimeMonitor{monitor: m}
	rm.IntervalMonitor = NewIntervalMonitor(m, rm, prefix, interval)
	return rm
}

// Run implements Runner
func (rm *RuntimeMonitor) Run() {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	tags := TagList{pidTag()}
	gauges := []struct {
		name  string
		value float64
	}{
		{"memory.alloc_bytes", float64(ms.Alloc)},
		{"memory.sys_bytes", float64(ms.Sys)},
		{"memory.heap_alloc_bytes", float64(ms.HeapAlloc)},
		{"memory.heap_inuse_bytes", float64(ms.HeapInuse)},
		{"memory.stack_inuse_bytes", float64(ms.StackInuse)},
		{"goroutines", float64(runtime.NumGoroutine())},
		{"gc.runs", float64(ms.NumGC)},
		{"gc.pause_total_ns", float64(ms.PauseTotalNs)},
	}

	for _, g := range gauges {
		rm.monitor.Gauge(rm.Prefix+"."+g.name, g.value, 1, tags)
	}

	rm.logger.Debug("runtime stats reported", zap.Int("gauges", len(gauges)))
}

func pidTag() string {
	return "pid:" + strconv.Itoa(os.Getpid())
}
