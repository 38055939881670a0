package monitordog

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/miekg/dns"
	"go.uber.org/zap"
)

// Resolver looks up the agent host through the configured DNS servers, the
// fastest answer wins. The system resolver always takes part in the race.
type Resolver struct {
	cfg    dnsConfig
	clock  clockwork.Clock
	logger *zap.Logger

	mutex sync.Mutex
	cache map[string]dnsCacheEntry
}

type dnsConfig struct {
	cacheTTL     time.Duration
	timeout      time.Duration
	udpServers   []string
	tlsServers   []string
	dohEndpoints []string
}

type dnsCacheEntry struct {
	ips []string
	ttl time.Time
}

// NewResolver creates a resolver from the DNS options of config
func NewResolver(config Config) *Resolver {
	clock := config.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Resolver{
		cfg: dnsConfig{
			cacheTTL:     orDefault(config.DNSCacheTTL, 10*time.Minute),
			timeout:      orDefault(config.DNSTimeout, 800*time.Millisecond),
			udpServers:   append([]string(nil), config.DNSUDPServers...),
			tlsServers:   append([]string(nil), config.DNSTLSServers...),
			dohEndpoints: append([]string(nil), config.DNSDoHEndpoints...),
		},
		clock:  clock,
		logger: logger,
		cache:  make(map[string]dnsCacheEntry),
	}
}

func orDefault(v, def time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return def
}

// Lookup returns the sorted IPv4 addresses of host, from cache when fresh
func (r *Resolver) Lookup(ctx context.Context, host string, force bool) ([]string, error) {
	if !force {
		r.mutex.Lock()
		ce, ok := r.cache[host]
		r.mutex.Unlock()
		if ok && r.clock.Now().Before(ce.ttl) {
			return ce.ips, nil
		}
	}

	ips, err := r.resolveFastest(ctx, host)
	if err != nil {
		return nil, err
	}
	sort.Strings(ips)

	r.mutex.Lock()
	r.cache[host] = dnsCacheEntry{ips: ips, ttl: r.clock.Now().Add(r.cfg.cacheTTL)}
	r.mutex.Unlock()

	return ips, nil
}

// resolveFastest queries all configured resolvers concurrently and returns first success
func (r *Resolver) resolveFastest(parent context.Context, host string) ([]string, error) {
	ctx, cancel := context.WithTimeout(parent, r.cfg.timeout)
	defer cancel()

	type result struct {
		ips []string
		err error
	}

	attempts := 1 + len(r.cfg.udpServers) + len(r.cfg.tlsServers) + len(r.cfg.dohEndpoints)
	ch := make(chan result, attempts)

	query := func(resolve func() ([]string, error)) {
		go func() {
			ips, err := resolve()
			ch <- result{ips, err}
		}()
	}

	for _, srv := range r.cfg.udpServers {
		s := srv
		query(func() ([]string, error) { return exchange(ctx, host, s, "udp") })
	}

	// DoT
	for _, srv := range r.cfg.tlsServers {
		s := srv
		query(func() ([]string, error) { return exchange(ctx, host, s, "tcp-tls") })
	}

	for _, ep := range r.cfg.dohEndpoints {
		e := ep
		query(func() ([]string, error) { return resolveDoH(ctx, host, e) })
	}

	// System resolver as fallback
	query(func() ([]string, error) {
		netIPs, err := net.DefaultResolver.LookupIP(ctx, "ip4", host)
		ips := make([]string, 0, len(netIPs))
		for _, ip := range netIPs {
			ips = append(ips, ip.String())
		}
		return ips, err
	})

	var firstErr error
	for i := 0; i < attempts; i++ {
		select {
		case res := <-ch:
			if res.err == nil && len(res.ips) > 0 {
				return res.ips, nil
			}
			if firstErr == nil {
				firstErr = res.err
			}
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if firstErr == nil {
		firstErr = fmt.Errorf("no dns result for %s", host)
	}
	return nil, firstErr
}

func newQuery(host string) *dns.Msg {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(host), dns.TypeA)
	return m
}

// exchange asks server over network ("udp" or "tcp-tls")
func exchange(ctx context.Context, host, server, network string) ([]string, error) {
	c := &dns.Client{Net: network, Timeout: 800 * time.Millisecond}
	resp, _, err := c.ExchangeContext(ctx, newQuery(host), server)
	if err != nil {
		return nil, fmt.Errorf("%s dns failed: %w", network, err)
	}
	return answerIPs(resp, server)
}

// resolveDoH posts a wire-format query to endpoint (RFC 8484)
func resolveDoH(ctx context.Context, host, endpoint string) ([]string, error) {
	payload, err := newQuery(host).Pack()
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", dohMediaType)
	req.Header.Set("Accept", dohMediaType)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("doh %s: unexpected status %d", endpoint, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	msg := new(dns.Msg)
	if err := msg.Unpack(body); err != nil {
		return nil, err
	}
	return answerIPs(msg, endpoint)
}

const dohMediaType = "application/dns-message"

// answerIPs extracts the A records of a successful reply from source
func answerIPs(msg *dns.Msg, source string) ([]string, error) {
	if msg == nil || msg.Rcode != dns.RcodeSuccess {
		return nil, fmt.Errorf("no answer from %s", source)
	}

	ips := make([]string, 0, len(msg.Answer))
	for _, ans := range msg.Answer {
		if a, ok := ans.(*dns.A); ok {
			ips = append(ips, a.A.String())
		}
	}
	return ips, nil
}

// AddressRefresher periodically re-resolves the agent host and redials the sink
// when the address set changes
type AddressRefresher struct {
	*IntervalMonitor

	sink     *DogStatsdSink
	resolver *Resolver
	host     string
	port     string

	mutex sync.Mutex
	ips   []string
}

func newAddressRefresher(sink *DogStatsdSink, resolver *Resolver, host, port string, ips []string, interval time.Duration) *AddressRefresher {
	ar := &AddressRefresher{
		sink:     sink,
		resolver: resolver,
		host:     host,
		port:     port,
		ips:      ips,
	}
	ar.IntervalMonitor = newIntervalMonitor(ar, "dns", orDefault(interval, 5*time.Minute), resolver.clock, resolver.logger)
	return ar
}

// Run implements Runner
func (ar *AddressRefresher) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), ar.resolver.cfg.timeout)
	defer cancel()

	ips, err := ar.resolver.Lookup(ctx, ar.host, true)
	if err != nil || len(ips) == 0 {
		ar.logger.Warn("DNS lookup failed", zap.String("host", ar.host), zap.Error(err))
		return
	}

	ar.mutex.Lock()
	changed := !slices.Equal(ips, ar.ips)
	if changed {
		ar.ips = ips
	}
	ar.mutex.Unlock()

	if !changed {
		return
	}

	if err := ar.sink.Redial(net.JoinHostPort(ips[0], ar.port)); err != nil {
		ar.logger.Warn("failed to redial statsd agent", zap.String("host", ar.host), zap.Error(err))
	}
}
