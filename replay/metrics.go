package replay

import "github.com/prometheus/client_golang/prometheus"

var EntriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "steit",
	Subsystem: "replay",
	Name:      "entries_total",
}, []string{"kind", "outcome"})

var BytesTotal = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: "steit",
	Subsystem: "replay",
	Name:      "bytes_total",
})

// Collectors lists the replay metrics for registration.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{EntriesTotal, BytesTotal}
}
