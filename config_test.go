package monitordog

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	t.Setenv("MONITOR_PREFIX", "myapp")
	t.Setenv("DATADOG_HOST", "127.0.0.1")
	t.Setenv("DATADOG_PORT", "8125")
	t.Setenv("MONITOR_INTERVAL", "2500")
	t.Setenv("MONITOR_FD_QUERY", "lsof")
	t.Setenv("MONITOR_FD_QUERY_TIMEOUT", "1s")
	t.Setenv("MONITOR_DNS_ENABLE", "true")
	t.Setenv("MONITOR_DNS_UDP_SERVERS", "1.1.1.1:53, 8.8.8.8:53,")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "myapp", cfg.Prefix)
	assert.Equal(t, "127.0.0.1", cfg.Host)
	assert.Equal(t, 8125, cfg.Port)
	assert.Equal(t, 2500*time.Millisecond, cfg.Interval)
	assert.Equal(t, TransportDogStatsD, cfg.Transport)
	assert.Equal(t, FDQueryLsof, cfg.FDQuery)
	assert.Equal(t, time.Second, cfg.FDQueryTimeout)
	assert.True(t, cfg.DNSEnable)
	assert.Equal(t, []string{"1.1.1.1:53", "8.8.8.8:53"}, cfg.DNSUDPServers)
	assert.Equal(t, "127.0.0.1:8125", cfg.Address())
	assert.True(t, cfg.Enabled())
}

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("MONITOR_PREFIX", "")
	t.Setenv("DATADOG_HOST", "")
	t.Setenv("DATADOG_PORT", "")
	t.Setenv("MONITOR_INTERVAL", "")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "", cfg.Prefix)
	assert.Equal(t, DefaultInterval, cfg.Interval)
	assert.Equal(t, FDQueryAuto, cfg.FDQuery)
	assert.False(t, cfg.Enabled())
}

func TestLoadConfigInvalid(t *testing.T) {
	t.Run("port", func(t *testing.T) {
		t.Setenv("DATADOG_PORT", "statsd")
		_, err := LoadConfig()
		assert.Error(t, err)
	})

	t.Run("port range", func(t *testing.T) {
		t.Setenv("DATADOG_PORT", "70000")
		_, err := LoadConfig()
		assert.Error(t, err)
	})

	t.Run("interval", func(t *testing.T) {
		t.Setenv("MONITOR_INTERVAL", "soon")
		_, err := LoadConfig()
		assert.Error(t, err)
	})

	t.Run("transport", func(t *testing.T) {
		t.Setenv("MONITOR_TRANSPORT", "carrier-pigeon")
		_, err := LoadConfig()
		assert.Error(t, err)
	})
}

func TestParseInterval(t *testing.T) {
	d, err := parseInterval("100")
	require.NoError(t, err)
	assert.Equal(t, 100*time.Millisecond, d)

	d, err = parseInterval("3s")
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, d)

	_, err = parseInterval("")
	assert.Error(t, err)
}

func TestConfigEnabled(t *testing.T) {
	assert.False(t, (&Config{}).Enabled())
	assert.False(t, (&Config{Host: "localhost"}).Enabled())
	assert.False(t, (&Config{Port: 8125}).Enabled())
	assert.True(t, (&Config{Host: "localhost", Port: 8125}).Enabled())
	assert.True(t, (&Config{Sink: NoopSink{}}).Enabled())
	assert.False(t, (&Config{Transport: TransportRemoteWrite, Host: "localhost", Port: 8125}).Enabled())
	assert.True(t, (&Config{Transport: TransportRemoteWrite, RemoteWriteURL: "http://prom/write"}).Enabled())
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	cfg.Interval = -time.Second
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.FDQuery = "procfs"
	assert.Error(t, cfg.Validate())
}
