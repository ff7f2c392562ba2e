package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the storefront core's Prometheus collectors. A nil *Metrics is
// valid and records nothing, which keeps tests free of registry setup.
type Metrics struct {
	// Stock ledger
	MovementsApplied  *prometheus.CounterVec
	MovementsRejected *prometheus.CounterVec
	Replenishments    prometheus.Counter
	ConflictRetries   *prometheus.CounterVec

	// Notification fan-out
	NotificationsSent   *prometheus.CounterVec
	NotificationsFailed *prometheus.CounterVec
	PreOrdersExpired    prometheus.Counter

	// Cart and coupons
	CartMutations      *prometheus.CounterVec
	CartMerges         prometheus.Counter
	CouponApplications *prometheus.CounterVec

	// Replenishment events
	EventsPublished *prometheus.CounterVec
	EventsDropped   prometheus.Counter

	HTTPDuration *prometheus.HistogramVec
}

func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	if namespace == "" {
		namespace = "storefront"
	}
	f := promauto.With(reg)

	return &Metrics{
		MovementsApplied: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ledger", Name: "movements_applied_total",
			Help: "Stock movements committed, by movement type",
		}, []string{"type"}),
		MovementsRejected: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ledger", Name: "movements_rejected_total",
			Help: "Stock movements rejected, by error code",
		}, []string{"reason"}),
		Replenishments: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ledger", Name: "replenishments_total",
			Help: "Counters that went from zero to positive stock",
		}),
		ConflictRetries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "conflict_retries_total",
			Help: "Optimistic concurrency retries, by aggregate",
		}, []string{"aggregate"}),
		NotificationsSent: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "notify", Name: "sent_total",
			Help: "Customer notifications delivered, by kind",
		}, []string{"kind"}),
		NotificationsFailed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "notify", Name: "failed_total",
			Help: "Customer notifications that failed, by kind",
		}, []string{"kind"}),
		PreOrdersExpired: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "preorder", Name: "expired_total",
			Help: "Notified pre-orders moved to expired by the sweep",
		}),
		CartMutations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "cart", Name: "mutations_total",
			Help: "Cart mutations, by operation and cart kind",
		}, []string{"op", "kind"}),
		CartMerges: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "cart", Name: "merges_total",
			Help: "Guest carts merged into user carts",
		}),
		CouponApplications: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "coupon", Name: "applications_total",
			Help: "Coupon apply attempts, by outcome",
		}, []string{"outcome"}),
		EventsPublished: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "events", Name: "published_total",
			Help: "Replenishment events handed to a publisher, by transport",
		}, []string{"transport"}),
		EventsDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "events", Name: "dropped_total",
			Help: "Replenishment events dropped because the queue was full",
		}),
		HTTPDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "http", Name: "request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}
}

func (m *Metrics) MovementApplied(typ string) {
	if m != nil {
		m.MovementsApplied.WithLabelValues(typ).Inc()
	}
}

func (m *Metrics) MovementRejected(reason string) {
	if m != nil {
		m.MovementsRejected.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) Replenished() {
	if m != nil {
		m.Replenishments.Inc()
	}
}

func (m *Metrics) Retried(aggregate string) {
	if m != nil {
		m.ConflictRetries.WithLabelValues(aggregate).Inc()
	}
}

func (m *Metrics) Notified(kind string, sent, failed int) {
	if m == nil {
		return
	}
	m.NotificationsSent.WithLabelValues(kind).Add(float64(sent))
	m.NotificationsFailed.WithLabelValues(kind).Add(float64(failed))
}

func (m *Metrics) Expired(n int) {
	if m != nil {
		m.PreOrdersExpired.Add(float64(n))
	}
}

func (m *Metrics) CartMutated(op, kind string) {
	if m != nil {
		m.CartMutations.WithLabelValues(op, kind).Inc()
	}
}

func (m *Metrics) CartMerged() {
	if m != nil {
		m.CartMerges.Inc()
	}
}

func (m *Metrics) CouponApplied(outcome string) {
	if m != nil {
		m.CouponApplications.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) EventPublished(transport string) {
	if m != nil {
		m.EventsPublished.WithLabelValues(transport).Inc()
	}
}

func (m *Metrics) EventDropped() {
	if m != nil {
		m.EventsDropped.Inc()
	}
}

func (m *Metrics) ObserveHTTP(method, route, status string, d time.Duration) {
	if m != nil {
		m.HTTPDuration.WithLabelValues(method, route, status).Observe(d.Seconds())
	}
}
