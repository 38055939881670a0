package monitordog

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/smira/go-statsd"
	"go.uber.org/zap"
)

// StatsdSink writes plain statsd through a buffered go-statsd client. It suits
// agents without DogStatsD extensions (Telegraf, Graphite); tags are rendered in
// the configured style and events are not supported.
//
// The client has no notion of sample rates, so every sample is sent.
type StatsdSink struct {
	client *statsd.Client
	logger *zap.Logger
}

var _ Sink = (*StatsdSink)(nil)

// StatsdLogger routes go-statsd diagnostics to zap
type StatsdLogger struct {
	log *zap.Logger
}

// Printf implements statsd.SomeLogger
func (lg *StatsdLogger) Printf(msg string, args ...interface{}) {
	msg = strings.TrimPrefix(msg, "[STATSD] ")
	// Statsd only prints errors and warnings
	if strings.Contains(msg, "Error") {
		lg.log.Error(fmt.Sprintf(msg, args...))
	} else {
		lg.log.Warn(fmt.Sprintf(msg, args...))
	}
}

// NewStatsdSink creates a sink for the agent at addr. tagFormat is one of
// datadog, influxdb or graphite.
func NewStatsdSink(addr string, tagFormat string, maxPacketSize int, logger *zap.Logger) (*StatsdSink, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	style, err := resolveTagsStyle(tagFormat)
	if err != nil {
		return nil, err
	}

	opts := []statsd.Option{
		statsd.TagStyle(style),
		statsd.Logger(&StatsdLogger{logger.With(zap.String("service", "statsd"))}),
	}
	if maxPacketSize > 0 {
		opts = append(opts, statsd.MaxPacketSize(maxPacketSize))
	}

	logger.Info("sending statsd metrics",
		zap.String("addr", addr),
		zap.String("tag_format", tagFormat))

	return &StatsdSink{
		client: statsd.NewClient(addr, opts...),
		logger: logger,
	}, nil
}

// Set implements Sink
func (s *StatsdSink) Set(name string, value, _ float64, tags []string) error {
	s.client.SetAdd(name, strconv.FormatFloat(value, 'f', -1, 64), convertTags(tags)...)
	return nil
}

// Increment implements Sink
func (s *StatsdSink) Increment(name string, value, _ float64, tags []string) error {
	s.client.FIncr(name, value, convertTags(tags)...)
	return nil
}

// Decrement implements Sink
func (s *StatsdSink) Decrement(name string, value, _ float64, tags []string) error {
	s.client.FDecr(name, value, convertTags(tags)...)
	return nil
}

// Histogram implements Sink. Values are taken as milliseconds.
func (s *StatsdSink) Histogram(name string, value, _ float64, tags []string) error {
	s.client.PrecisionTiming(name, time.Duration(value*float64(time.Millisecond)), convertTags(tags)...)
	return nil
}

// Gauge implements Sink
func (s *StatsdSink) Gauge(name string, value, _ float64, tags []string) error {
	s.client.FGauge(name, value, convertTags(tags)...)
	return nil
}

// SendRaw implements Sink; plain statsd has no raw datagrams
func (s *StatsdSink) SendRaw([]byte) error {
	return ErrUnsupported.New("raw datagrams require the dogstatsd transport")
}

// Close flushes buffered metrics and closes the client
func (s *StatsdSink) Close() error {
	return s.client.Close()
}

func resolveTagsStyle(name string) (*statsd.TagFormat, error) {
	switch name {
	case "", "datadog":
		return statsd.TagFormatDatadog, nil
	case "influxdb":
		return statsd.TagFormatInfluxDB, nil
	case "graphite":
		return statsd.TagFormatGraphite, nil
	}

	return nil, fmt.Errorf("unknown StatsD tags format: %s", name)
}

// convertTags splits "key:value" tags into go-statsd tags
func convertTags(tags []string) []statsd.Tag {
	if len(tags) == 0 {
		return nil
	}

	buf := make([]statsd.Tag, len(tags))
	for i, tag := range tags {
		key, value, _ := strings.Cut(tag, ":")
		buf[i] = statsd.StringTag(key, value)
	}

	return buf
}
