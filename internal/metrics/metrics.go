// Package metrics exposes engine counters to Prometheus. A nil *Metrics is
// valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "relgit"

type Metrics struct {
	registry *prometheus.Registry

	commits    *prometheus.CounterVec
	merges     *prometheus.CounterVec
	conflicts  prometheus.Counter
	syncRounds *prometheus.CounterVec
	replayed   *prometheus.CounterVec
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		commits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commits_written_total",
			Help:      "Commits written, by operation.",
		}, []string{"op"}),
		merges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "merges_total",
			Help:      "Completed merges, by kind.",
		}, []string{"kind"}),
		conflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "merge_conflicts_total",
			Help:      "Merges rejected because of conflicting edits.",
		}),
		syncRounds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_rounds_total",
			Help:      "Sync rounds, by detected direction.",
		}, []string{"direction"}),
		replayed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "changesets_replayed_total",
			Help:      "Changesets replayed by sync, by outcome.",
		}, []string{"outcome"}),
	}
	m.registry.MustRegister(
		m.commits, m.merges, m.conflicts, m.syncRounds, m.replayed,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) CommitWritten(op string) {
	if m == nil {
		return
	}
	m.commits.WithLabelValues(op).Inc()
}

func (m *Metrics) Merged(kind string) {
	if m == nil {
		return
	}
	m.merges.WithLabelValues(kind).Inc()
}

func (m *Metrics) Conflict() {
	if m == nil {
		return
	}
	m.conflicts.Inc()
}

func (m *Metrics) SyncRound(direction string) {
	if m == nil {
		return
	}
	m.syncRounds.WithLabelValues(direction).Inc()
}

// Replayed counts one changeset replay; ok is false when it was skipped
// after an error.
func (m *Metrics) Replayed(ok bool) {
	if m == nil {
		return
	}
	outcome := "applied"
	if !ok {
		outcome = "skipped"
	}
	m.replayed.WithLabelValues(outcome).Inc()
}

// Registry returns the registry backing m.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
