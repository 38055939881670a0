package monitordog

import (
	"math/rand"
)

// Sink is the statistics transport a Monitor forwards to. Names arrive already
// prefixed and tags already encoded. A sample rate of zero means 1.
type Sink interface {
	Set(name string, value, sampleRate float64, tags []string) error
	Increment(name string, value, sampleRate float64, tags []string) error
	Decrement(name string, value, sampleRate float64, tags []string) error
	Histogram(name string, value, sampleRate float64, tags []string) error
	Gauge(name string, value, sampleRate float64, tags []string) error

	// SendRaw ships a pre-encoded datagram, such as an event
	SendRaw(data []byte) error

	Close() error
}

// MetricType represents the type of a metric
type MetricType int

const (
	Counter MetricType = iota
	Gauge
	Histogram
	Set
)

// statsdType is the DogStatsD type marker
func (t MetricType) statsdType() string {
	switch t {
	case Gauge:
		return "g"
	case Histogram:
		return "h"
	case Set:
		return "s"
	}
	return "c"
}

// NoopSink drops everything
type NoopSink struct{}

var _ Sink = NoopSink{}

func (NoopSink) Set(string, float64, float64, []string) error       { return nil }
func (NoopSink) Increment(string, float64, float64, []string) error { return nil }
func (NoopSink) Decrement(string, float64, float64, []string) error { return nil }
func (NoopSink) Histogram(string, float64, float64, []string) error { return nil }
func (NoopSink) Gauge(string, float64, float64, []string) error     { return nil }
func (NoopSink) SendRaw([]byte) error                               { return nil }
func (NoopSink) Close() error                                       { return nil }

// sampled decides whether a sample with the given rate is sent
func sampled(rate float64, random func() float64) bool {
	if rate <= 0 || rate >= 1 {
		return true
	}
	if random == nil {
		random = rand.Float64
	}
	return random() <= rate
}
