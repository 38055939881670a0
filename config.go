package monitordog

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Transports
const (
	TransportDogStatsD   = "dogstatsd"
	TransportStatsD      = "statsd"
	TransportRemoteWrite = "remote_write"
)

// File descriptor query strategies
const (
	FDQueryAuto     = "auto"
	FDQueryGopsutil = "gopsutil"
	FDQueryLsof     = "lsof"
)

// DefaultInterval is used when neither the monitor nor the environment sets one
const DefaultInterval = 5 * time.Second

// Config defines the configuration of a Monitor
type Config struct {
	// Prefix prepended, with a dot, to every metric name. Empty means no prefix.
	Prefix string

	// Statsd agent address
	Host string
	Port int

	// Default period of interval monitors
	Interval time.Duration

	// Transport selects the sink: dogstatsd (default), statsd or remote_write
	Transport string

	// Plain statsd options
	TagFormat     string // datadog, influxdb or graphite
	MaxPacketSize int

	// Remote write options
	RemoteWriteURL string
	ServiceName    string
	CustomLabels   map[string]string

	// Open files query
	FDQuery        string
	FDQueryTimeout time.Duration

	// DNS resolver options (optional, refreshes the agent address when it moves)
	DNSEnable          bool
	DNSCacheTTL        time.Duration
	DNSRefreshInterval time.Duration
	DNSTimeout         time.Duration
	DNSUDPServers      []string // e.g. ["1.1.1.1:53", "8.8.8.8:53"]
	DNSTLSServers      []string // e.g. ["1.1.1.1:853", "9.9.9.9:853"]
	DNSDoHEndpoints    []string // e.g. ["https://cloudflare-dns.com/dns-query"]

	// Optional collaborators
	Logger      *zap.Logger
	Clock       clockwork.Clock
	Sink        Sink
	Connections ConnectionSource
	FileCounter FileDescriptorCounter
}

// DefaultConfig returns a default configuration
func DefaultConfig() Config {
	return Config{
		Interval:      DefaultInterval,
		Transport:     TransportDogStatsD,
		TagFormat:     "datadog",
		MaxPacketSize: 1400,
		FDQuery:       FDQueryAuto,
		CustomLabels:  make(map[string]string),
	}
}

// LoadConfig builds a configuration from the process environment:
//
//	MONITOR_PREFIX, DATADOG_HOST, DATADOG_PORT, MONITOR_INTERVAL (milliseconds or a Go duration),
//	MONITOR_TRANSPORT, MONITOR_TAG_FORMAT, MONITOR_REMOTE_WRITE_URL, MONITOR_SERVICE_NAME,
//	MONITOR_FD_QUERY, MONITOR_FD_QUERY_TIMEOUT, MONITOR_DNS_ENABLE,
//	MONITOR_DNS_UDP_SERVERS, MONITOR_DNS_TLS_SERVERS, MONITOR_DNS_DOH_ENDPOINTS (comma separated)
func LoadConfig() (Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	bindings := map[string]string{
		"prefix":            "MONITOR_PREFIX",
		"host":              "DATADOG_HOST",
		"port":              "DATADOG_PORT",
		"interval":          "MONITOR_INTERVAL",
		"transport":         "MONITOR_TRANSPORT",
		"tag-format":        "MONITOR_TAG_FORMAT",
		"remote-write-url":  "MONITOR_REMOTE_WRITE_URL",
		"service-name":      "MONITOR_SERVICE_NAME",
		"fd-query":          "MONITOR_FD_QUERY",
		"fd-query-timeout":  "MONITOR_FD_QUERY_TIMEOUT",
		"dns-enable":        "MONITOR_DNS_ENABLE",
		"dns-udp-servers":   "MONITOR_DNS_UDP_SERVERS",
		"dns-tls-servers":   "MONITOR_DNS_TLS_SERVERS",
		"dns-doh-endpoints": "MONITOR_DNS_DOH_ENDPOINTS",
	}
	for key, env := range bindings {
		if err := v.BindEnv(key, env); err != nil {
			return cfg, fmt.Errorf("binding %s: %w", env, err)
		}
	}

	v.SetDefault("transport", cfg.Transport)
	v.SetDefault("tag-format", cfg.TagFormat)
	v.SetDefault("fd-query", cfg.FDQuery)

	cfg.Prefix = v.GetString("prefix")
	cfg.Host = v.GetString("host")
	cfg.Transport = v.GetString("transport")
	cfg.TagFormat = v.GetString("tag-format")
	cfg.RemoteWriteURL = v.GetString("remote-write-url")
	cfg.ServiceName = v.GetString("service-name")
	cfg.FDQuery = v.GetString("fd-query")
	cfg.DNSEnable = v.GetBool("dns-enable")
	cfg.DNSUDPServers = splitList(v.GetString("dns-udp-servers"))
	cfg.DNSTLSServers = splitList(v.GetString("dns-tls-servers"))
	cfg.DNSDoHEndpoints = splitList(v.GetString("dns-doh-endpoints"))

	if port := v.GetString("port"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return cfg, fmt.Errorf("invalid DATADOG_PORT %q: %w", port, err)
		}
		cfg.Port = p
	}

	if interval := v.GetString("interval"); interval != "" {
		d, err := parseInterval(interval)
		if err != nil {
			return cfg, fmt.Errorf("invalid MONITOR_INTERVAL %q: %w", interval, err)
		}
		cfg.Interval = d
	}

	if timeout := v.GetString("fd-query-timeout"); timeout != "" {
		d, err := parseInterval(timeout)
		if err != nil {
			return cfg, fmt.Errorf("invalid MONITOR_FD_QUERY_TIMEOUT %q: %w", timeout, err)
		}
		cfg.FDQueryTimeout = d
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}

	return cfg, nil
}

// Validate checks the configuration for inconsistent values
func (c *Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if c.Interval < 0 {
		return fmt.Errorf("interval cannot be negative: %v", c.Interval)
	}

	switch c.Transport {
	case "", TransportDogStatsD, TransportStatsD, TransportRemoteWrite:
	default:
		return fmt.Errorf("unknown transport: %s", c.Transport)
	}

	switch c.FDQuery {
	case "", FDQueryAuto, FDQueryGopsutil, FDQueryLsof:
	default:
		return fmt.Errorf("unknown open files query: %s", c.FDQuery)
	}

	return nil
}

// Enabled reports whether the configuration points at a collector. Monitors
// built from a disabled configuration drop everything.
func (c *Config) Enabled() bool {
	if c.Sink != nil {
		return true
	}
	if c.Transport == TransportRemoteWrite {
		return c.RemoteWriteURL != ""
	}
	return c.Host != "" && c.Port != 0
}

// Address returns host:port of the statsd agent
func (c *Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// parseInterval accepts a bare number of milliseconds or a Go duration
func parseInterval(s string) (time.Duration, error) {
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	return time.ParseDuration(s)
}

func splitList(s string) []string {
	var result []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			result = append(result, item)
		}
	}
	return result
}
