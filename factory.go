package monitordog

import (
	"context"
	"net"
	"strconv"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// New creates a monitor from config. A configuration without an agent address
// (or remote write URL) yields a monitor that silently drops everything.
func New(config Config) (*Monitor, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	if config.Clock == nil {
		config.Clock = clockwork.NewRealClock()
	}
	if config.Interval <= 0 {
		config.Interval = DefaultInterval
	}

	m := &Monitor{
		config:  config,
		prefix:  config.Prefix,
		logger:  config.Logger,
		clock:   config.Clock,
		enabled: config.Enabled(),
		sink:    NoopSink{},
	}

	if !m.enabled {
		m.logger.Warn("no statsd agent configured; metrics are disabled")
		return m, nil
	}

	sink, err := newSink(config)
	if err != nil {
		return nil, err
	}
	m.sink = sink

	connections := config.Connections
	if connections == nil {
		m.tracker = NewConnTracker()
		connections = m.tracker
	}

	files := config.FileCounter
	if files == nil {
		files = NewFileDescriptorCounter(config.FDQuery)
	}

	m.sockets = NewSocketsMonitor(m, connections, files, "", 0)
	m.runtime = NewRuntimeMonitor(m, "", 0)

	m.logger.Info("monitor initialized",
		zap.String("prefix", m.prefix),
		zap.String("transport", config.Transport),
		zap.Duration("interval", config.Interval))

	return m, nil
}

// FromEnv creates a monitor configured from the environment, see LoadConfig
func FromEnv() (*Monitor, error) {
	config, err := LoadConfig()
	if err != nil {
		return nil, err
	}
	return New(config)
}

// newSink creates the sink selected by config.Transport
func newSink(config Config) (Sink, error) {
	if config.Sink != nil {
		return config.Sink, nil
	}

	switch config.Transport {
	case TransportStatsD:
		return NewStatsdSink(config.Address(), config.TagFormat, config.MaxPacketSize, config.Logger)
	case TransportRemoteWrite:
		return NewRemoteWriteSink(config), nil
	}

	return newDogStatsdSink(config)
}

// newDogStatsdSink dials the agent, resolving its host through the configured
// DNS servers when enabled
func newDogStatsdSink(config Config) (*DogStatsdSink, error) {
	if !config.DNSEnable || net.ParseIP(config.Host) != nil {
		return NewDogStatsdSink(config.Address(), config.Logger)
	}

	resolver := NewResolver(config)
	port := strconv.Itoa(config.Port)

	ctx, cancel := context.WithTimeout(context.Background(), resolver.cfg.timeout)
	defer cancel()

	addr := config.Address()
	ips, err := resolver.Lookup(ctx, config.Host, false)
	if err == nil && len(ips) > 0 {
		addr = net.JoinHostPort(ips[0], port)
	} else {
		config.Logger.Warn("DNS lookup failed, dialing by name",
			zap.String("host", config.Host), zap.Error(err))
	}

	sink, err := NewDogStatsdSink(addr, config.Logger)
	if err != nil {
		return nil, err
	}

	sink.refresher = newAddressRefresher(sink, resolver, config.Host, port, ips, config.DNSRefreshInterval)
	sink.refresher.Start()

	return sink, nil
}
