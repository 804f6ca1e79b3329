// Package metrics holds the Prometheus collectors shared by the Redis-backed
// layer implementations (layerqueue, layerpubsub). The in-memory layer does
// not use metrics: it has no network or store to observe.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Set bundles the counters one layer instance registers. Each layer
// instance should create its own Set via New so metrics from independently
// configured layers don't collide under concurrent tests.
type Set struct {
	// ChannelFull counts messages refused because the channel was at
	// capacity: Send calls rejected with layer.ErrChannelFull plus group
	// members skipped by GroupSend, labeled by backend ("queue").
	ChannelFull *prometheus.CounterVec
	// BackendErrors counts operations that failed with
	// layer.ErrBackendUnavailable, labeled by backend and operation.
	BackendErrors *prometheus.CounterVec
	// Overflow counts pub/sub local-queue drop-oldest events, labeled by
	// channel.
	Overflow *prometheus.CounterVec
	// Reconnects counts pub/sub subscriber-connection reconnect attempts,
	// labeled by shard.
	Reconnects *prometheus.CounterVec
}

// New creates a Set with the given metric name prefix and registers it with
// reg. Pass prometheus.NewRegistry() in tests to avoid global-registry
// collisions across layer instances.
func New(namespace string, reg prometheus.Registerer) *Set {
	s := &Set{
		ChannelFull: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "channel_full_total",
			Help:      "Messages refused (sends rejected, group members skipped) because the channel was at capacity.",
		}, []string{"backend"}),
		BackendErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_errors_total",
			Help:      "Operations that failed because the backend store was unavailable.",
		}, []string{"backend", "op"}),
		Overflow: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pubsub_overflow_total",
			Help:      "Pub/sub local queue drop-oldest events.",
		}, []string{"channel"}),
		Reconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pubsub_reconnects_total",
			Help:      "Pub/sub subscriber connection reconnect attempts.",
		}, []string{"shard"}),
	}
	reg.MustRegister(s.ChannelFull, s.BackendErrors, s.Overflow, s.Reconnects)
	return s
}
