package bus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Fabric-wide instrumentation. The reconciliation error counter is the
// observable contract for topology drift: start-up never aborts on a failed
// stream update, it increments here instead.
var (
	topologyReconcileErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "titan_topology_reconcile_errors_total",
		Help: "Stream/consumer/bucket create-or-update failures during reconciliation.",
	})

	publishesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "titan_bus_publishes_total",
		Help: "Messages published, by subject class and transport.",
	}, []string{"class", "transport"})

	publishErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "titan_bus_publish_errors_total",
		Help: "Failed publish attempts.",
	})

	dlqPublishes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "titan_bus_dlq_publishes_total",
		Help: "Dead-letter items published.",
	})

	callbackNaks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "titan_bus_callback_naks_total",
		Help: "Durable deliveries negatively acknowledged after callback errors.",
	})

	requestTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "titan_bus_request_timeouts_total",
		Help: "Request/reply calls that timed out.",
	})
)
