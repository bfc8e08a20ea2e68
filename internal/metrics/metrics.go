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

	processStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hashvisr",
			Subsystem: "process",
			Name:      "starts_total",
			Help:      "Number of successful spawns per kind.",
		}, []string{"kind"},
	)
	processStops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hashvisr",
			Subsystem: "process",
			Name:      "stops_total",
			Help:      "Number of stops, requested or not.",
		}, []string{"kind"},
	)
	stateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hashvisr",
			Subsystem: "process",
			Name:      "state_transitions_total",
			Help:      "Number of state transitions between different process states.",
		}, []string{"kind", "from", "to"},
	)
	currentStates = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "hashvisr",
			Subsystem: "process",
			Name:      "current_state",
			Help:      "Current state of each kind (1 = active state, 0 = inactive).",
		}, []string{"kind", "state"},
	)
	hashrate = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "hashvisr",
			Name:      "hashrate_hs",
			Help:      "Reported hashrate in H/s.",
		}, []string{"kind", "window"},
	)
	xvbTarget = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "hashvisr",
			Subsystem: "xvb",
			Name:      "target_donation_hs",
			Help:      "Hashrate the last decision chose to donate.",
		},
	)
	xvbDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hashvisr",
			Subsystem: "xvb",
			Name:      "decisions_total",
			Help:      "Donation decisions per runtime mode.",
		}, []string{"mode"},
	)
	xvbPushes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hashvisr",
			Subsystem: "xvb",
			Name:      "config_push_total",
			Help:      "Miner config pushes by result.",
		}, []string{"result"},
	)
	hostCPU = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "hashvisr",
			Subsystem: "host",
			Name:      "cpu_percent",
			Help:      "Host CPU usage.",
		},
	)
	hostMem = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "hashvisr",
			Subsystem: "host",
			Name:      "memory_used_bytes",
			Help:      "Host memory in use.",
		},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{processStarts, processStops, stateTransitions, currentStates,
		hashrate, xvbTarget, xvbDecisions, xvbPushes, hostCPU, hostMem}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			// If already registered, ignore (allows double Register with default registry)
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

func IncStart(kind string) {
	if regOK.Load() {
		processStarts.WithLabelValues(kind).Inc()
	}
}

func IncStop(kind string) {
	if regOK.Load() {
		processStops.WithLabelValues(kind).Inc()
	}
}

// RecordStateTransition counts from→to and moves the current-state gauge.
func RecordStateTransition(kind, from, to string) {
	if regOK.Load() {
		stateTransitions.WithLabelValues(kind, from, to).Inc()
		currentStates.WithLabelValues(kind, from).Set(0)
		currentStates.WithLabelValues(kind, to).Set(1)
	}
}

func SetHashrate(kind, window string, hs float64) {
	if regOK.Load() {
		hashrate.WithLabelValues(kind, window).Set(hs)
	}
}

func RecordDecision(mode string, target float64) {
	if regOK.Load() {
		xvbDecisions.WithLabelValues(mode).Inc()
		xvbTarget.Set(target)
	}
}

func RecordPush(ok bool) {
	if regOK.Load() {
		result := "ok"
		if !ok {
			result = "error"
		}
		xvbPushes.WithLabelValues(result).Inc()
	}
}

func SetHost(cpuPercent float64, memUsed uint64) {
	if regOK.Load() {
		hostCPU.Set(cpuPercent)
		hostMem.Set(float64(memUsed))
	}
}
