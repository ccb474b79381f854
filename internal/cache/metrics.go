package cache

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the Prometheus collectors for cache activity. A nil *Metrics
// disables recording.
type Metrics struct {
	lookups     *prometheus.CounterVec // 命中/未命中，按命名空间
	writeErrors *prometheus.CounterVec // 快照或索引写入失败
	evictions   *prometheus.CounterVec // 清理删除的条目数，按原因
	warmItems   *prometheus.CounterVec // 预热结果
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		lookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "notionfolio",
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Cache lookups by namespace and result",
		}, []string{"namespace", "result"}),

		writeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "notionfolio",
			Subsystem: "cache",
			Name:      "write_errors_total",
			Help:      "Snapshot or index writes that failed",
		}, []string{"namespace", "stage"}),

		evictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "notionfolio",
			Subsystem: "cache",
			Name:      "evictions_total",
			Help:      "Entries removed by maintenance operations",
		}, []string{"namespace", "reason"}),

		warmItems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "notionfolio",
			Subsystem: "cache",
			Name:      "warm_items_total",
			Help:      "Identifiers processed by cache warming",
		}, []string{"result"}),
	}

	for _, c := range []prometheus.Collector{m.lookups, m.writeErrors, m.evictions, m.warmItems} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) lookup(ns Namespace, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.lookups.WithLabelValues(string(ns), result).Inc()
}

func (m *Metrics) writeError(ns Namespace, stage string) {
	if m == nil {
		return
	}
	m.writeErrors.WithLabelValues(string(ns), stage).Inc()
}

func (m *Metrics) evicted(ns Namespace, reason string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.evictions.WithLabelValues(string(ns), reason).Add(float64(n))
}

func (m *Metrics) warmed(ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "failed"
	}
	m.warmItems.WithLabelValues(result).Inc()
}
