// Package metrics provides Prometheus metrics for the ftp and sftp servers.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "vfsftpd"

// Collector implements ftp.MetricsCollector on its own registry
type Collector struct {
	registry *prometheus.Registry

	commandsTotal    *prometheus.CounterVec
	commandDuration  *prometheus.HistogramVec
	transfersTotal   *prometheus.CounterVec
	transferBytes    *prometheus.CounterVec
	transferDuration *prometheus.HistogramVec
	sessionsActive   prometheus.Gauge
	sessionsTotal    prometheus.Counter
	authAttempts     *prometheus.CounterVec
}

// New creates a Collector. With runtime set the Go and process collectors are registered too.
func New(runtime bool) *Collector {
	reg := prometheus.NewRegistry()
	if runtime {
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,

		commandsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "commands_total",
				Help:      "Total number of control channel commands",
			},
			[]string{"command", "result"},
		),
		commandDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "command_duration_seconds",
				Help:      "Command handling duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"command"},
		),
		transfersTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "transfers_total",
				Help:      "Total number of data channel transfers",
			},
			[]string{"operation", "result"},
		),
		transferBytes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "transfer_bytes_total",
				Help:      "Total bytes moved over the data channel",
			},
			[]string{"operation"},
		),
		transferDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "transfer_duration_seconds",
				Help:      "Data channel transfer duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		sessionsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "sessions_active",
				Help:      "Number of open ftp sessions",
			},
		),
		sessionsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sessions_total",
				Help:      "Total number of ftp sessions",
			},
		),
		authAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "auth_attempts_total",
				Help:      "Total authentication attempts",
			},
			[]string{"result"},
		),
	}
}

func result(success bool, ok, failed string) string {
	if success {
		return ok
	}
	return failed
}

// RecordCommand records one dispatched command.
func (c *Collector) RecordCommand(cmd string, success bool, duration time.Duration) {
	c.commandsTotal.WithLabelValues(cmd, result(success, "success", "error")).Inc()
	c.commandDuration.WithLabelValues(cmd).Observe(duration.Seconds())
}

// RecordTransfer records a data channel transfer.
func (c *Collector) RecordTransfer(operation string, bytes int64, success bool, duration time.Duration) {
	c.transfersTotal.WithLabelValues(operation, result(success, "success", "error")).Inc()
	c.transferBytes.WithLabelValues(operation).Add(float64(bytes))
	c.transferDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordSession records a session opening or closing.
func (c *Collector) RecordSession(open bool) {
	if open {
		c.sessionsTotal.Inc()
		c.sessionsActive.Inc()
		return
	}
	c.sessionsActive.Dec()
}

// RecordAuthentication records an authentication attempt.
func (c *Collector) RecordAuthentication(success bool) {
	c.authAttempts.WithLabelValues(result(success, "success", "failure")).Inc()
}

// Handler returns the Prometheus metrics HTTP handler.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// Registry returns the registry the metrics are registered on
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}
