package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// JoinCounter tracks the number of processed join_form events.
	JoinCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "formloom_joins_total",
		Help: "Total number of processed join_form events",
	})
	// UpdateCounter tracks the number of processed field_update events.
	UpdateCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "formloom_field_updates_total",
		Help: "Total number of processed field_update events",
	})
	// LockCounter tracks the number of granted field locks.
	LockCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "formloom_field_locks_total",
		Help: "Total number of granted field locks",
	})
	// LockConflictCounter tracks lock requests rejected because another
	// user already held the field.
	LockConflictCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "formloom_field_lock_conflicts_total",
		Help: "Total number of rejected field lock requests",
	})
	// ExpireCounter tracks locks released by the expiry timer.
	ExpireCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "formloom_field_lock_expiries_total",
		Help: "Total number of field locks released by expiry",
	})
	// ConnectionGauge reports the number of live websocket connections.
	ConnectionGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "formloom_connections",
		Help: "Current number of live websocket connections",
	})
	// FormGauge reports the number of forms with at least one participant.
	FormGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "formloom_active_forms",
		Help: "Current number of forms with active participants",
	})
	// HeldLockGauge reports the number of currently held field locks.
	HeldLockGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "formloom_held_locks",
		Help: "Current number of held field locks",
	})
)

// NewRegistry creates a new Prometheus registry.
func NewRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

// RegisterCoreMetrics registers the engine metrics on the provided registry.
func RegisterCoreMetrics(reg prometheus.Registerer) {
	reg.MustRegister(
		JoinCounter, UpdateCounter, LockCounter, LockConflictCounter,
		ExpireCounter, ConnectionGauge, FormGauge, HeldLockGauge,
	)
}
