package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	serviceStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "svcdeck",
			Subsystem: "service",
			Name:      "starts_total",
			Help:      "Number of successful service starts.",
		}, []string{"name"},
	)
	serviceStops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "svcdeck",
			Subsystem: "service",
			Name:      "stops_total",
			Help:      "Number of stop operations, including no-op stops.",
		}, []string{"name"},
	)
	serviceRestarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "svcdeck",
			Subsystem: "service",
			Name:      "restarts_total",
			Help:      "Number of restart attempts.",
		}, []string{"name"},
	)
	serviceErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "svcdeck",
			Subsystem: "service",
			Name:      "errors_total",
			Help:      "Number of errors recorded in a service's error log.",
		}, []string{"name"},
	)
	serviceKilled = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "svcdeck",
			Subsystem: "service",
			Name:      "killed_total",
			Help:      "Processes force-killed after ignoring the terminate signal.",
		}, []string{"name"},
	)
	serviceRunning = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "svcdeck",
			Subsystem: "service",
			Name:      "running",
			Help:      "1 when the last status probe found matching processes.",
		}, []string{"name"},
	)
	serviceProcesses = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "svcdeck",
			Subsystem: "service",
			Name:      "processes",
			Help:      "Matched processes at the last status probe.",
		}, []string{"name"},
	)
	observers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "svcdeck",
			Name:      "observers",
			Help:      "Currently subscribed broadcast observers.",
		},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{serviceStarts, serviceStops, serviceRestarts, serviceErrors, serviceKilled, serviceRunning, serviceProcesses, observers}
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

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
func Handler() http.Handler { return promhttp.Handler() }

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func IncStart(name string) {
	if regOK.Load() {
		serviceStarts.WithLabelValues(name).Inc()
	}
}
func IncStop(name string) {
	if regOK.Load() {
		serviceStops.WithLabelValues(name).Inc()
	}
}
func IncRestart(name string) {
	if regOK.Load() {
		serviceRestarts.WithLabelValues(name).Inc()
	}
}
func IncError(name string) {
	if regOK.Load() {
		serviceErrors.WithLabelValues(name).Inc()
	}
}
func AddKilled(name string, n int) {
	if regOK.Load() && n > 0 {
		serviceKilled.WithLabelValues(name).Add(float64(n))
	}
}

func SetRunning(name string, running bool, processes int) {
	if !regOK.Load() {
		return
	}
	var v float64
	if running {
		v = 1
	}
	serviceRunning.WithLabelValues(name).Set(v)
	serviceProcesses.WithLabelValues(name).Set(float64(processes))
}

// Forget drops every per-service series for name.
func Forget(name string) {
	if !regOK.Load() {
		return
	}
	for _, v := range []*prometheus.CounterVec{serviceStarts, serviceStops, serviceRestarts, serviceErrors, serviceKilled} {
		v.DeleteLabelValues(name)
	}
	serviceRunning.DeleteLabelValues(name)
	serviceProcesses.DeleteLabelValues(name)
}

func SetObservers(n int) {
	if regOK.Load() {
		observers.Set(float64(n))
	}
}
