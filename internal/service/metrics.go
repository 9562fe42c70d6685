package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	settlementsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "paycore_settlements_total",
		Help: "Settlement attempts, labeled by outcome",
	}, []string{"outcome"})

	authorizationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "paycore_authorizations_total",
		Help: "Authorize and validate calls, labeled by operation and resulting status",
	}, []string{"op", "status"})

	webhooksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "paycore_webhooks_total",
		Help: "Inbound webhook deliveries, labeled by result",
	}, []string{"result"})

	providerCallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "paycore_provider_call_duration_seconds",
		Help:    "Latency of outbound provider calls",
		Buckets: prometheus.DefBuckets,
	}, []string{"provider", "op"})

	sweepRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "paycore_sweep_runs_total",
		Help: "Completed stale-attempt sweeps",
	})

	sweepAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "paycore_sweep_attempts_total",
		Help: "Attempts re-verified by the sweeper, labeled by outcome",
	}, []string{"outcome"})
)
