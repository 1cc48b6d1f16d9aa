package metrics

import (
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
)

const namespace = "medtrack"

// Metrics owns a private Prometheus registry and the collectors registered on it
type Metrics struct {
	startTime time.Time
	registry  *prometheus.Registry

	requests        *prometheus.CounterVec
	requestDuration prometheus.Histogram

	remindersMaterialized prometheus.Counter
	transitions           *prometheus.CounterVec
	transitionConflicts   prometheus.Counter

	sweepRuns     prometheus.Counter
	sweepSkipped  prometheus.Counter
	sweepMissed   prometheus.Counter
	sweepErrors   prometheus.Counter
	sweepDuration prometheus.Histogram

	replenishFailures prometheus.Counter

	dosesRecorded  *prometheus.CounterVec
	conflictChecks *prometheus.CounterVec
	dispatched     *prometheus.CounterVec

	activeConnections prometheus.Gauge
}

var (
	defaultMetrics *Metrics
	once           sync.Once
)

// Default returns the process-wide instance
func Default() *Metrics {
	once.Do(func() {
		defaultMetrics = New()
	})
	return defaultMetrics
}

// New builds a fresh registry so tests never share counters
func New() *Metrics {
	m := &Metrics{
		startTime: time.Now(),
		registry:  prometheus.NewRegistry(),

		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "http_requests_total",
			Help: "HTTP requests by outcome.",
		}, []string{"outcome"}),
		requestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}),

		remindersMaterialized: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "reminders_materialized_total",
			Help: "Reminders inserted by schedule materialization.",
		}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "reminder_transitions_total",
			Help: "Reminder state transitions by target state.",
		}, []string{"to"}),
		transitionConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "reminder_version_conflicts_total",
			Help: "Transitions rejected because the reminder changed underneath.",
		}),

		sweepRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "sweep", Name: "runs_total",
			Help: "Completed missed-reminder sweeps.",
		}),
		sweepSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "sweep", Name: "skipped_total",
			Help: "Sweeps skipped because another holder had the lease.",
		}),
		sweepMissed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "sweep", Name: "missed_total",
			Help: "Reminders marked missed by the sweep.",
		}),
		sweepErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "sweep", Name: "errors_total",
			Help: "Per-reminder sweep failures.",
		}),
		sweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "sweep", Name: "duration_seconds",
			Help:    "Sweep wall time.",
			Buckets: prometheus.DefBuckets,
		}),

		replenishFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "replenish_failures_total",
			Help: "Schedules that failed to extend their horizon.",
		}),

		dosesRecorded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "doses_recorded_total",
			Help: "Dose records written, by whether the dose was taken.",
		}, []string{"taken"}),
		conflictChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "allergy_checks_total",
			Help: "Allergy conflict checks by result.",
		}, []string{"result"}),
		dispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "reminders_dispatched_total",
			Help: "Reminder notifications by delivery result.",
		}, []string{"result"}),

		activeConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "websocket_connections",
			Help: "Open reminder stream connections.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.requests, m.requestDuration,
		m.remindersMaterialized, m.transitions, m.transitionConflicts,
		m.sweepRuns, m.sweepSkipped, m.sweepMissed, m.sweepErrors, m.sweepDuration,
		m.replenishFailures,
		m.dosesRecorded, m.conflictChecks, m.dispatched,
		m.activeConnections,
	)

	return m
}

// Registry exposes the underlying registry for scraping and tests
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) RecordRequest(success bool, d time.Duration) {
	outcome := "success"
	if !success {
		outcome = "failed"
	}
	m.requests.WithLabelValues(outcome).Inc()
	m.requestDuration.Observe(d.Seconds())
}

func (m *Metrics) RecordMaterialized(n int) {
	m.remindersMaterialized.Add(float64(n))
}

func (m *Metrics) RecordTransition(to string) {
	m.transitions.WithLabelValues(to).Inc()
}

func (m *Metrics) RecordVersionConflict() {
	m.transitionConflicts.Inc()
}

// RecordSweep records one finished sweep
func (m *Metrics) RecordSweep(missed, failed int, d time.Duration) {
	m.sweepRuns.Inc()
	m.sweepMissed.Add(float64(missed))
	m.sweepErrors.Add(float64(failed))
	m.sweepDuration.Observe(d.Seconds())
}

func (m *Metrics) RecordSweepSkipped() {
	m.sweepSkipped.Inc()
}

func (m *Metrics) RecordReplenishFailure() {
	m.replenishFailures.Inc()
}

func (m *Metrics) RecordDose(taken bool) {
	label := "false"
	if taken {
		label = "true"
	}
	m.dosesRecorded.WithLabelValues(label).Inc()
}

func (m *Metrics) RecordConflictCheck(conflict bool) {
	result := "clear"
	if conflict {
		result = "conflict"
	}
	m.conflictChecks.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordDispatch(result string) {
	m.dispatched.WithLabelValues(result).Inc()
}

func (m *Metrics) IncrementActiveConnections() {
	m.activeConnections.Inc()
}

func (m *Metrics) DecrementActiveConnections() {
	m.activeConnections.Dec()
}

// Snapshot is the JSON view of the medtrack collectors
type Snapshot struct {
	Uptime        time.Duration      `json:"uptime"`
	UptimeSeconds float64            `json:"uptime_seconds"`
	Values        map[string]float64 `json:"values"`
}

// Snapshot gathers the registry and flattens every medtrack series into
// name{label="value"} keys. Histograms report their sample count and sum.
func (m *Metrics) Snapshot() (*Snapshot, error) {
	families, err := m.registry.Gather()
	if err != nil {
		return nil, err
	}

	uptime := time.Since(m.startTime)
	s := &Snapshot{
		Uptime:        uptime,
		UptimeSeconds: uptime.Seconds(),
		Values:        make(map[string]float64),
	}

	for _, mf := range families {
		name := mf.GetName()
		if !strings.HasPrefix(name, namespace+"_") {
			continue
		}
		for _, metric := range mf.GetMetric() {
			key := name + formatLabels(metric.GetLabel())
			switch mf.GetType() {
			case dto.MetricType_COUNTER:
				s.Values[key] = metric.GetCounter().GetValue()
			case dto.MetricType_GAUGE:
				s.Values[key] = metric.GetGauge().GetValue()
			case dto.MetricType_HISTOGRAM:
				h := metric.GetHistogram()
				s.Values[key+"_count"] = float64(h.GetSampleCount())
				s.Values[key+"_sum"] = h.GetSampleSum()
			}
		}
	}

	return s, nil
}

func formatLabels(labels []*dto.LabelPair) string {
	if len(labels) == 0 {
		return ""
	}
	parts := make([]string, 0, len(labels))
	for _, l := range labels {
		parts = append(parts, l.GetName()+`="`+l.GetValue()+`"`)
	}
	sort.Strings(parts)
	return "{" + strings.Join(parts, ",") + "}"
}
