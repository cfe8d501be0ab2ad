// Package metrics keeps an in-process Prometheus registry for the
// deployment pipeline. There is no HTTP /metrics endpoint — spec.md's
// Non-goals exclude an observability surface, not observability itself —
// so Snapshot renders the registry to text for inclusion in the startup
// log. Grounded on the teacher's use of
// github.com/prometheus/client_golang elsewhere in its monitoring stack.
package metrics

import (
	"bytes"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

// Registry holds the counters and histograms the orchestrator updates as
// tool calls complete.
type Registry struct {
	reg *prometheus.Registry

	DeploymentsTotal    *prometheus.CounterVec
	BuildDuration       prometheus.Histogram
	HealthcheckAttempts prometheus.Counter
}

// New constructs a Registry with all metrics registered.
func New() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		reg: reg,
		DeploymentsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "deployments_total",
			Help: "Total number of deployment attempts, by final status.",
		}, []string{"status"}),
		BuildDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "build_duration_seconds",
			Help:    "Time spent building container images.",
			Buckets: prometheus.DefBuckets,
		}),
		HealthcheckAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "healthcheck_attempts_total",
			Help: "Total number of healthcheck HTTP requests made.",
		}),
	}

	reg.MustRegister(r.DeploymentsTotal, r.BuildDuration, r.HealthcheckAttempts)
	return r
}

// Snapshot renders the current registry in Prometheus text exposition
// format, for inclusion in a log line rather than serving over HTTP.
func (r *Registry) Snapshot() (string, error) {
	families, err := r.reg.Gather()
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	encoder := expfmt.NewEncoder(&buf, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if err := encoder.Encode(mf); err != nil {
			return "", err
		}
	}
	return buf.String(), nil
}
