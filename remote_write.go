package monitordog

import (
	"context"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/eryajf/promwrite"
	"go.uber.org/zap"
)

// Metric represents a single aggregated data point
type Metric struct {
	Name       string
	Value      float64
	Labels     map[string]string
	MetricType MetricType
	Timestamp  time.Time
}

// RemoteWriteSink aggregates samples in memory and pushes them to a Prometheus
// remote write endpoint on every interval. Counters and histogram sums are
// cumulative, gauges keep the last value and sets report the number of distinct
// values seen since the previous flush.
type RemoteWriteSink struct {
	*IntervalMonitor

	client       *promwrite.Client
	serviceName  string
	instance     string
	customLabels map[string]string

	mutex  sync.Mutex
	series map[string]*seriesValue
}

type seriesValue struct {
	name       string
	labels     map[string]string
	metricType MetricType
	value      float64
	count      float64
	distinct   map[float64]struct{}
}

var _ Sink = (*RemoteWriteSink)(nil)

// NewRemoteWriteSink creates a sink for the endpoint at url and starts its flush loop
func NewRemoteWriteSink(config Config) *RemoteWriteSink {
	instance, err := os.Hostname()
	if err != nil {
		instance = "unknown"
	}

	s := &RemoteWriteSink{
		client:       promwrite.NewClient(config.RemoteWriteURL),
		serviceName:  config.ServiceName,
		instance:     instance,
		customLabels: config.CustomLabels,
		series:       make(map[string]*seriesValue),
	}

	interval := config.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	s.IntervalMonitor = newIntervalMonitor(RunnerFunc(s.flushOnce), "remote_write", interval, config.Clock, config.Logger)
	s.Start()

	return s
}

// Set implements Sink
func (s *RemoteWriteSink) Set(name string, value, _ float64, tags []string) error {
	s.record(name, tags, Set, func(v *seriesValue) {
		if v.distinct == nil {
			v.distinct = make(map[float64]struct{})
		}
		v.distinct[value] = struct{}{}
		v.value = float64(len(v.distinct))
	})
	return nil
}

// Increment implements Sink
func (s *RemoteWriteSink) Increment(name string, value, sampleRate float64, tags []string) error {
	s.record(name, tags, Counter, func(v *seriesValue) { v.value += scaled(value, sampleRate) })
	return nil
}

// Decrement implements Sink
func (s *RemoteWriteSink) Decrement(name string, value, sampleRate float64, tags []string) error {
	s.record(name, tags, Counter, func(v *seriesValue) { v.value -= scaled(value, sampleRate) })
	return nil
}

// Histogram implements Sink
func (s *RemoteWriteSink) Histogram(name string, value, _ float64, tags []string) error {
	s.record(name, tags, Histogram, func(v *seriesValue) {
		v.value += value
		v.count++
	})
	return nil
}

// Gauge implements Sink
func (s *RemoteWriteSink) Gauge(name string, value, _ float64, tags []string) error {
	s.record(name, tags, Gauge, func(v *seriesValue) { v.value = value })
	return nil
}

// SendRaw implements Sink; remote write has no raw datagrams
func (s *RemoteWriteSink) SendRaw([]byte) error {
	return ErrUnsupported.New("raw datagrams require the dogstatsd transport")
}

// Close stops the flush loop and pushes what is left
func (s *RemoteWriteSink) Close() error {
	s.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return s.Flush(ctx)
}

// Collect returns a snapshot of the aggregated metrics
func (s *RemoteWriteSink) Collect() []Metric {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.snapshotLocked()
}

// Flush pushes the current snapshot to the endpoint
func (s *RemoteWriteSink) Flush(ctx context.Context) error {
	metrics := s.drain()
	if len(metrics) == 0 {
		return nil
	}

	req := &promwrite.WriteRequest{
		TimeSeries: s.convertToTimeSeries(metrics),
	}

	if _, err := s.client.Write(ctx, req); err != nil {
		return ErrTransport.Wrap(err, "writing time series failed")
	}
	return nil
}

// drain takes a snapshot and resets the set series in one critical section, so
// a set sample is either in this snapshot or in the next one
func (s *RemoteWriteSink) drain() []Metric {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	metrics := s.snapshotLocked()
	for key, v := range s.series {
		if v.metricType == Set {
			delete(s.series, key)
		}
	}
	return metrics
}

func (s *RemoteWriteSink) snapshotLocked() []Metric {
	now := s.clock.Now()
	metrics := make([]Metric, 0, len(s.series))

	for _, v := range s.series {
		switch v.metricType {
		case Histogram:
			metrics = append(metrics,
				Metric{Name: v.name + "_sum", Value: v.value, Labels: v.labels, MetricType: Histogram, Timestamp: now},
				Metric{Name: v.name + "_count", Value: v.count, Labels: v.labels, MetricType: Histogram, Timestamp: now},
			)
		default:
			metrics = append(metrics, Metric{Name: v.name, Value: v.value, Labels: v.labels, MetricType: v.metricType, Timestamp: now})
		}
	}

	sort.Slice(metrics, func(i, j int) bool { return metrics[i].Name < metrics[j].Name })
	return metrics
}

func (s *RemoteWriteSink) flushOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := s.Flush(ctx); err != nil {
		s.logger.Error("Failed to write metrics", zap.Error(err))
	}
}

func (s *RemoteWriteSink) record(name string, tags []string, metricType MetricType, update func(v *seriesValue)) {
	name = sanitizeMetricName(name)
	labels := tagsToLabels(tags)
	key := seriesKey(name, metricType, labels)

	s.mutex.Lock()
	defer s.mutex.Unlock()

	v, exists := s.series[key]
	if !exists {
		v = &seriesValue{name: name, labels: labels, metricType: metricType}
		s.series[key] = v
	}
	update(v)
}

// convertToTimeSeries converts aggregated metrics to promwrite time series format
func (s *RemoteWriteSink) convertToTimeSeries(metrics []Metric) []promwrite.TimeSeries {
	result := make([]promwrite.TimeSeries, 0, len(metrics))

	for _, metric := range metrics {
		labels := make([]promwrite.Label, 0, 3+len(s.customLabels)+len(metric.Labels))
		labels = append(labels,
			promwrite.Label{Name: "__name__", Value: metric.Name},
			promwrite.Label{Name: "instance", Value: s.instance},
		)
		if s.serviceName != "" {
			labels = append(labels, promwrite.Label{Name: "service", Value: s.serviceName})
		}

		for k, v := range s.customLabels {
			labels = append(labels, promwrite.Label{Name: k, Value: v})
		}

		for k, v := range metric.Labels {
			labels = append(labels, promwrite.Label{Name: k, Value: v})
		}

		// remote write requires labels sorted by name
		sort.Slice(labels, func(i, j int) bool { return labels[i].Name < labels[j].Name })

		result = append(result, promwrite.TimeSeries{
			Labels: labels,
			Sample: promwrite.Sample{
				Time:  metric.Timestamp,
				Value: metric.Value,
			},
		})
	}

	return result
}

// scaled extrapolates a sampled counter delta
func scaled(value, sampleRate float64) float64 {
	if sampleRate <= 0 || sampleRate >= 1 {
		return value
	}
	return value / sampleRate
}

func sanitizeMetricName(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == ':':
			return r
		}
		return '_'
	}, name)
}

// tagsToLabels maps "key:value" tags to labels; a bare tag becomes key="true"
func tagsToLabels(tags []string) map[string]string {
	labels := make(map[string]string, len(tags))
	for _, tag := range tags {
		key, value, ok := strings.Cut(tag, ":")
		if !ok {
			value = "true"
		}
		labels[sanitizeMetricName(key)] = value
	}
	return labels
}

func seriesKey(name string, metricType MetricType, labels map[string]string) string {
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(name)
	b.WriteByte('|')
	b.WriteString(metricType.statsdType())
	for _, k := range keys {
		b.WriteByte('|')
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(labels[k])
	}
	return b.String()
}
