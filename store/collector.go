package store

import (
	"github.com/cockroachdb/pebble"
	"github.com/prometheus/client_golang/prometheus"
)

type gauge struct {
	desc  *prometheus.Desc
	kind  prometheus.ValueType
	value func(m *pebble.Metrics) float64
}

// Collector exports pebble compaction, memtable and WAL metrics.
type Collector struct {
	db     *pebble.DB
	gauges []gauge
}

func newGauge(name, help string, kind prometheus.ValueType, value func(m *pebble.Metrics) float64) gauge {
	return gauge{
		desc:  prometheus.NewDesc("steit_pebble_"+name, help, nil, nil),
		kind:  kind,
		value: value,
	}
}

func NewCollector(db *pebble.DB) *Collector {
	counter, level := prometheus.CounterValue, prometheus.GaugeValue
	return &Collector{
		db: db,
		gauges: []gauge{
			newGauge("compaction_count_total", "Total number of compactions performed", counter,
				func(m *pebble.Metrics) float64 { return float64(m.Compact.Count) }),
			newGauge("compaction_move_total", "Total number of move compactions performed", counter,
				func(m *pebble.Metrics) float64 { return float64(m.Compact.MoveCount) }),
			newGauge("compaction_estimated_debt_bytes", "Bytes to compact to reach a stable state", level,
				func(m *pebble.Metrics) float64 { return float64(m.Compact.EstimatedDebt) }),
			newGauge("compaction_in_progress_bytes", "Bytes being compacted currently", level,
				func(m *pebble.Metrics) float64 { return float64(m.Compact.InProgressBytes) }),
			newGauge("memtable_size_bytes", "Current size of the memtable in bytes", level,
				func(m *pebble.Metrics) float64 { return float64(m.MemTable.Size) }),
			newGauge("memtable_count", "Current count of memtables", level,
				func(m *pebble.Metrics) float64 { return float64(m.MemTable.Count) }),
			newGauge("wal_files", "Number of live WAL files", level,
				func(m *pebble.Metrics) float64 { return float64(m.WAL.Files) }),
			newGauge("wal_size_bytes", "Size of live WAL data in bytes", level,
				func(m *pebble.Metrics) float64 { return float64(m.WAL.Size) }),
			newGauge("wal_bytes_in_total", "Logical bytes written to the WAL", counter,
				func(m *pebble.Metrics) float64 { return float64(m.WAL.BytesIn) }),
			newGauge("wal_bytes_written_total", "Physical bytes written to the WAL", counter,
				func(m *pebble.Metrics) float64 { return float64(m.WAL.BytesWritten) }),
		},
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, g := range c.gauges {
		ch <- g.desc
	}
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	metrics := c.db.Metrics()
	for _, g := range c.gauges {
		ch <- prometheus.MustNewConstMetric(g.desc, g.kind, g.value(metrics))
	}
}
