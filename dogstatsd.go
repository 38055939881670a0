package monitordog

import (
	"net"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// DogStatsdSink writes DogStatsD datagrams over UDP, one datagram per metric:
//
//	<name>:<value>|<type>|@<sample rate>|#<tag1>,<tag2>
type DogStatsdSink struct {
	addr   string
	conn   net.Conn
	mutex  sync.RWMutex
	random func() float64
	logger *zap.Logger

	refresher *AddressRefresher
}

var _ Sink = (*DogStatsdSink)(nil)

// NewDogStatsdSink dials the agent at addr
func NewDogStatsdSink(addr string, logger *zap.Logger) (*DogStatsdSink, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	conn, err := net.Dial("udp", addr)
	if err != nil {
		return nil, ErrTransport.Wrap(err, "failed to dial statsd agent at %s", addr)
	}

	return &DogStatsdSink{
		addr:   addr,
		conn:   conn,
		logger: logger,
	}, nil
}

// Addr returns the current agent address
func (s *DogStatsdSink) Addr() string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.addr
}

// Redial points the sink at a new agent address. The previous connection is
// closed once the new one is established.
func (s *DogStatsdSink) Redial(addr string) error {
	conn, err := net.Dial("udp", addr)
	if err != nil {
		return ErrTransport.Wrap(err, "failed to dial statsd agent at %s", addr)
	}

	s.mutex.Lock()
	old := s.conn
	s.conn = conn
	s.addr = addr
	s.mutex.Unlock()

	if old != nil {
		old.Close()
	}

	s.logger.Info("statsd agent address changed", zap.String("addr", addr))
	return nil
}

// Set implements Sink
func (s *DogStatsdSink) Set(name string, value, sampleRate float64, tags []string) error {
	return s.send(name, value, Set, sampleRate, tags)
}

// Increment implements Sink
func (s *DogStatsdSink) Increment(name string, value, sampleRate float64, tags []string) error {
	return s.send(name, value, Counter, sampleRate, tags)
}

// Decrement implements Sink
func (s *DogStatsdSink) Decrement(name string, value, sampleRate float64, tags []string) error {
	return s.send(name, -value, Counter, sampleRate, tags)
}

// Histogram implements Sink
func (s *DogStatsdSink) Histogram(name string, value, sampleRate float64, tags []string) error {
	return s.send(name, value, Histogram, sampleRate, tags)
}

// Gauge implements Sink
func (s *DogStatsdSink) Gauge(name string, value, sampleRate float64, tags []string) error {
	return s.send(name, value, Gauge, sampleRate, tags)
}

// SendRaw implements Sink
func (s *DogStatsdSink) SendRaw(data []byte) error {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if s.conn == nil {
		return ErrTransport.New("sink is closed")
	}
	if _, err := s.conn.Write(data); err != nil {
		return ErrTransport.Wrap(err, "failed to write to %s", s.addr)
	}
	return nil
}

// Close stops address refreshes and closes the connection
func (s *DogStatsdSink) Close() error {
	if s.refresher != nil {
		s.refresher.Stop()
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	return err
}

func (s *DogStatsdSink) send(name string, value float64, typ MetricType, sampleRate float64, tags []string) error {
	if !sampled(sampleRate, s.random) {
		return nil
	}
	return s.SendRaw(formatDatagram(name, value, typ, sampleRate, tags))
}

func formatDatagram(name string, value float64, typ MetricType, sampleRate float64, tags []string) []byte {
	var buf strings.Builder
	buf.WriteString(name)
	buf.WriteByte(':')
	buf.WriteString(strconv.FormatFloat(value, 'f', -1, 64))
	buf.WriteByte('|')
	buf.WriteString(typ.statsdType())

	if sampleRate > 0 && sampleRate < 1 {
		buf.WriteString("|@")
		buf.WriteString(strconv.FormatFloat(sampleRate, 'f', -1, 64))
	}

	if len(tags) > 0 {
		buf.WriteString("|#")
		buf.WriteString(strings.Join(tags, ","))
	}

	return []byte(buf.String())
}
