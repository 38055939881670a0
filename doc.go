// Package monitordog provides a small metrics facade over a DogStatsD agent.
// It prefixes metric names, converts structured tags, formats custom events and
// periodically reports process resources (connections, open files) as gauges.
//
// Design goals:
//   - No process-wide singleton: every Monitor is created and owned explicitly
//   - Metrics never fail the caller; transport errors are logged, not returned
//   - Pluggable transports: DogStatsD over UDP, plain statsd, Prometheus remote write
//
// Basic usage:
//
//	m, err := monitordog.New(monitordog.Config{
//	  Prefix:   "myapp",
//	  Host:     "127.0.0.1",
//	  Port:     8125,
//	  Interval: 5 * time.Second,
//	})
//	if err != nil {
//	  log.Fatal(err)
//	}
//	defer m.Close()
//
//	m.Increment("requests", 1, 1, monitordog.TagMap{"env": "prod", "cached": true})
//	m.Gauge("queue.depth", 42, 1, monitordog.TagList{"queue:default"})
//
//	t := m.Timer("request.time", true, nil)
//	handle()
//	t.Stop()
//
//	m.StartSocketsMonitor()
//	defer m.StopSocketsMonitor()
package monitordog
