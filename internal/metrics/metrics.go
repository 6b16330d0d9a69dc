package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	// MirrorRefreshTotal counts full collection refetches by outcome (ok, error, stale).
	MirrorRefreshTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "campus_market",
		Subsystem: "mirror",
		Name:      "refresh_total",
		Help:      "Collection refetches triggered by change events, labeled by collection and result.",
	}, []string{"collection", "result"})

	MirrorSubscriptions = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "campus_market",
		Subsystem: "mirror",
		Name:      "subscriptions",
		Help:      "Open change-feed subscriptions.",
	})

	// GatewayOpsTotal counts mutation operations by outcome (ok, error, partial).
	GatewayOpsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "campus_market",
		Subsystem: "gateway",
		Name:      "ops_total",
		Help:      "Mutation gateway operations, labeled by operation and result.",
	}, []string{"op", "result"})
)

// Register 可重複呼叫
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			MirrorRefreshTotal,
			MirrorSubscriptions,
			GatewayOpsTotal,
		)
	})
}
