package lifecycle

import "github.com/prometheus/client_golang/prometheus"

var (
	transitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warden_lifecycle_transitions_total",
			Help: "Total number of accepted status transitions.",
		},
		[]string{"kind", "from", "to"},
	)

	rejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warden_lifecycle_rejected_transitions_total",
			Help: "Total number of rejected status transitions.",
		},
		[]string{"kind", "from"},
	)
)

func init() {
	prometheus.MustRegister(transitionsTotal)
	prometheus.MustRegister(rejectedTotal)
}
