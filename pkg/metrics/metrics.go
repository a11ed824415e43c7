package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	RemoteWrites = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "censo", Subsystem: "sync", Name: "remote_writes_total", Help: "Remote record writes by outcome (ok, conflict, error)."},
		[]string{"outcome"},
	)
	RemoteWriteDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{Namespace: "censo", Subsystem: "sync", Name: "remote_write_seconds", Help: "Latency of remote record writes.", Buckets: prometheus.DefBuckets},
	)
	CoalescedWrites = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: "censo", Subsystem: "sync", Name: "coalesced_writes_total", Help: "Queued local mutations folded into a later remote write."},
	)
	RemoteUpdates = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "censo", Subsystem: "sync", Name: "remote_updates_total", Help: "Pushed remote updates by disposition (accepted, echo, guarded, stale)."},
		[]string{"disposition"},
	)
	DeepSyncs = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "censo", Subsystem: "sync", Name: "deep_sync_total", Help: "Deep sync runs by decision."},
		[]string{"decision"},
	)
	CacheFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "censo", Subsystem: "sync", Name: "cache_failures_total", Help: "Local cache failures by operation."},
		[]string{"op"},
	)
	RateLimitAllowed = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "censo", Name: "rate_limit_allowed_total", Help: "Number of allowed requests by limiter type."},
		[]string{"limiter"},
	)
	RateLimitRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "censo", Name: "rate_limit_rejected_total", Help: "Number of rejected requests by limiter type."},
		[]string{"limiter"},
	)
)

func RegisterCollectors(reg prometheus.Registerer) {
	reg.MustRegister(RemoteWrites)
	reg.MustRegister(RemoteWriteDuration)
	reg.MustRegister(CoalescedWrites)
	reg.MustRegister(RemoteUpdates)
	reg.MustRegister(DeepSyncs)
	reg.MustRegister(CacheFailures)
	reg.MustRegister(RateLimitAllowed)
	reg.MustRegister(RateLimitRejected)
}
