// Package metrics exposes sync outcomes as Prometheus metrics, either over
// HTTP or as a node_exporter textfile for cron deployments.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rotisserie/eris"

	"github.com/sells-group/event-ingest/internal/model"
)

const namespace = "event_ingest"

// Run outcomes used as the "outcome" label of runs_total.
const (
	OutcomeSynced  = "synced"
	OutcomeSkipped = "skipped"
	OutcomeFailed  = "failed"
)

// Recorder owns a private registry so several recorders (tests, the serve
// command) never collide on the global one.
type Recorder struct {
	registry *prometheus.Registry

	synced       prometheus.Counter
	duplicates   *prometheus.CounterVec
	pruned       prometheus.Counter
	recordErrors *prometheus.CounterVec
	runs         *prometheus.CounterVec
	runDuration  prometheus.Histogram
	lastRun      prometheus.Gauge
	lastSuccess  prometheus.Gauge
	runNumber    prometheus.Gauge
	breakerState prometheus.Gauge
}

// New creates a Recorder with all collectors registered.
func New() *Recorder {
	r := &Recorder{registry: prometheus.NewRegistry()}

	r.synced = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_synced_total",
		Help:      "Events written to the remote store",
	})
	r.duplicates = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "duplicates_total",
		Help:      "Events dropped as duplicates, by kind",
	}, []string{"kind"})
	r.pruned = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tracker_pruned_total",
		Help:      "Tracker entries pruned after their retention window",
	})
	r.recordErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "record_errors_total",
		Help:      "Per-record errors, by kind",
	}, []string{"kind"})
	r.runs = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "runs_total",
		Help:      "Pipeline invocations, by outcome",
	}, []string{"outcome"})
	r.runDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "sync_duration_seconds",
		Help:      "Wall time of executed syncs",
		Buckets:   prometheus.DefBuckets,
	})
	r.lastRun = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "last_run_timestamp_seconds",
		Help:      "Unix time of the last pipeline invocation",
	})
	r.lastSuccess = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "last_success_timestamp_seconds",
		Help:      "Unix time of the last sync that finished without a fatal error",
	})
	r.runNumber = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "run_number",
		Help:      "Current value of the run counter",
	})
	r.breakerState = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "remote_breaker_state",
		Help:      "Remote store circuit breaker state (0 closed, 1 half-open, 2 open)",
	})

	r.registry.MustRegister(
		r.synced, r.duplicates, r.pruned, r.recordErrors, r.runs,
		r.runDuration, r.lastRun, r.lastSuccess, r.runNumber, r.breakerState,
	)
	return r
}

// Registry returns the recorder's registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// ObserveSync records an executed sync.
func (r *Recorder) ObserveSync(res *model.SyncResult) {
	if res == nil {
		return
	}
	r.synced.Add(float64(res.Synced))
	r.duplicates.WithLabelValues("exact").Add(float64(res.ExactDuplicates))
	r.duplicates.WithLabelValues("fuzzy").Add(float64(res.FuzzyDuplicates))
	r.pruned.Add(float64(res.PastEventsPruned))
	r.recordErrors.WithLabelValues(string(model.ErrorKindValidation)).Add(float64(res.ValidationErrors()))
	r.recordErrors.WithLabelValues(string(model.ErrorKindTransient)).Add(float64(res.TransientErrors()))
	r.runs.WithLabelValues(OutcomeSynced).Inc()

	if !res.StartedAt.IsZero() && !res.FinishedAt.IsZero() {
		r.runDuration.Observe(res.FinishedAt.Sub(res.StartedAt).Seconds())
	}
	end := res.FinishedAt
	if end.IsZero() {
		end = time.Now()
	}
	r.lastRun.Set(float64(end.Unix()))
	r.lastSuccess.Set(float64(end.Unix()))
}

// ObserveSkipped records an invocation the scheduler decided not to sync.
func (r *Recorder) ObserveSkipped(now time.Time) {
	r.runs.WithLabelValues(OutcomeSkipped).Inc()
	r.lastRun.Set(float64(now.Unix()))
}

// ObserveFailure records a sync that aborted with a fatal error.
func (r *Recorder) ObserveFailure(now time.Time) {
	r.runs.WithLabelValues(OutcomeFailed).Inc()
	r.lastRun.Set(float64(now.Unix()))
}

// SetRunNumber publishes the run counter.
func (r *Recorder) SetRunNumber(n int64) {
	r.runNumber.Set(float64(n))
}

// SetBreakerState publishes the remote store breaker state.
func (r *Recorder) SetBreakerState(state int) {
	r.breakerState.Set(float64(state))
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// WriteTextfile atomically writes the registry to path for the
// node_exporter textfile collector. An empty path is a no-op.
func (r *Recorder) WriteTextfile(path string) error {
	if path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return eris.Wrapf(err, "metrics: write textfile %s", path)
	}
	return nil
}
