package catalog

import "github.com/prometheus/client_golang/prometheus"

// OpMetrics counts catalog mutations. A nil *OpMetrics records nothing.
type OpMetrics struct {
	Created  prometheus.Counter
	Updated  prometheus.Counter
	Deleted  prometheus.Counter
	Imported prometheus.Counter
}

func NewOpMetrics(reg prometheus.Registerer) *OpMetrics {
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "catalog",
			Name:      name,
			Help:      help,
		})
	}

	m := &OpMetrics{
		Created:  counter("products_created_total", "Products added through the form"),
		Updated:  counter("products_updated_total", "Products edited"),
		Deleted:  counter("products_deleted_total", "Products deleted"),
		Imported: counter("products_imported_total", "Products added by bulk import"),
	}
	reg.MustRegister(m.Created, m.Updated, m.Deleted, m.Imported)
	return m
}

func (m *OpMetrics) created() {
	if m != nil {
		m.Created.Inc()
	}
}

func (m *OpMetrics) updated() {
	if m != nil {
		m.Updated.Inc()
	}
}

func (m *OpMetrics) deleted() {
	if m != nil {
		m.Deleted.Inc()
	}
}

func (m *OpMetrics) imported(n int) {
	if m != nil && n > 0 {
		m.Imported.Add(float64(n))
	}
}
