package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors, registered via Register.
var (
	regOK atomic.Bool

	processStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "devgate",
			Subsystem: "process",
			Name:      "starts_total",
			Help:      "Number of successful backend starts.",
		}, []string{"domain"},
	)
	processStartFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "devgate",
			Subsystem: "process",
			Name:      "start_failures_total",
			Help:      "Number of failed start attempts (spawn or readiness).",
		}, []string{"domain"},
	)
	processStops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "devgate",
			Subsystem: "process",
			Name:      "stops_total",
			Help:      "Number of stops, graceful or killed.",
		}, []string{"domain"},
	)
	idleEvictions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "devgate",
			Subsystem: "process",
			Name:      "idle_evictions_total",
			Help:      "Backends stopped by the idle reaper.",
		}, []string{"domain"},
	)
	startDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "devgate",
			Subsystem: "process",
			Name:      "start_duration_seconds",
			Help:      "Time from spawn to readiness.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"domain"},
	)
	runningProcesses = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "devgate",
			Subsystem: "process",
			Name:      "running",
			Help:      "Currently live supervised backends.",
		},
	)

	requestsProxied = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "devgate",
			Subsystem: "router",
			Name:      "proxied_total",
			Help:      "Requests forwarded to a backend.",
		}, []string{"domain"},
	)
	requestsRateLimited = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "devgate",
			Subsystem: "router",
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the fixed-window limiter.",
		}, []string{"domain"},
	)
	proxyErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "devgate",
			Subsystem: "router",
			Name:      "proxy_errors_total",
			Help:      "Bad Gateway responses due to unreachable backends.",
		}, []string{"domain"},
	)
)

// Register registers all collectors with r. Safe to call multiple times.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{
		processStarts, processStartFailures, processStops, idleEvictions,
		startDuration, runningProcesses,
		requestsProxied, requestsRateLimited, proxyErrors,
	}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler serves Prometheus metrics for the default gatherer.
func Handler() http.Handler { return promhttp.Handler() }

// Helpers below no-op until Register has been called.

func IncStart(domain string) {
	if regOK.Load() {
		processStarts.WithLabelValues(domain).Inc()
	}
}

func IncStartFailure(domain string) {
	if regOK.Load() {
		processStartFailures.WithLabelValues(domain).Inc()
	}
}

func IncStop(domain string) {
	if regOK.Load() {
		processStops.WithLabelValues(domain).Inc()
	}
}

func IncIdleEviction(domain string) {
	if regOK.Load() {
		idleEvictions.WithLabelValues(domain).Inc()
	}
}

func ObserveStartDuration(domain string, seconds float64) {
	if regOK.Load() {
		startDuration.WithLabelValues(domain).Observe(seconds)
	}
}

func SetRunning(n int) {
	if regOK.Load() {
		runningProcesses.Set(float64(n))
	}
}

func IncProxied(domain string) {
	if regOK.Load() {
		requestsProxied.WithLabelValues(domain).Inc()
	}
}

func IncRateLimited(domain string) {
	if regOK.Load() {
		requestsRateLimited.WithLabelValues(domain).Inc()
	}
}

func IncProxyError(domain string) {
	if regOK.Load() {
		proxyErrors.WithLabelValues(domain).Inc()
	}
}
