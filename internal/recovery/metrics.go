package recovery

import "github.com/prometheus/client_golang/prometheus"

var (
	recoveredEntities = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "warden_recovery_entities",
			Help: "Number of running entities reloaded by the last recovery pass.",
		},
		[]string{"kind"},
	)

	skippedRecords = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warden_recovery_skipped_records_total",
			Help: "Total number of persisted records skipped during recovery.",
		},
		[]string{"kind"},
	)
)

func init() {
	prometheus.MustRegister(recoveredEntities)
	prometheus.MustRegister(skippedRecords)
}
