package integrity

import "github.com/prometheus/client_golang/prometheus"

type metrics struct {
	checks *prometheus.CounterVec
	level  *prometheus.GaugeVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		checks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flowguard_integrity_checks_total",
				Help: "Integrity checks by outcome (passed, blocked, warned, skipped).",
			},
			[]string{"outcome"},
		),
		level: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "flowguard_integrity_enforcement_level",
				Help: "1 for the active enforcement level, 0 otherwise.",
			},
			[]string{"level"},
		),
	}
	reg.MustRegister(m.checks, m.level)
	return m
}

// The methods below are nil-safe so a Config without a registerer works.

func (m *metrics) observe(outcome string) {
	if m == nil {
		return
	}
	m.checks.WithLabelValues(outcome).Inc()
}

func (m *metrics) setLevel(active Level) {
	if m == nil {
		return
	}
	for _, l := range Levels {
		v := 0.0
		if l == active {
			v = 1
		}
		m.level.WithLabelValues(string(l)).Set(v)
	}
}
