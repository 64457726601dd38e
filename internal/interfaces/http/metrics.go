package http

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/changecast/internal/backtest"
	"github.com/sawpanic/changecast/internal/evaluation"
	"github.com/sawpanic/changecast/internal/filter"
)

// MetricsRegistry holds the Prometheus metrics of a changecast process
type MetricsRegistry struct {
	registry *prometheus.Registry

	StepDuration  *prometheus.HistogramVec
	PipelineSteps *prometheus.CounterVec

	KeysCompleted prometheus.Gauge
	KeysTotal     prometheus.Gauge
	Estimates     prometheus.Counter

	HorizonPrecision *prometheus.GaugeVec
	HorizonRecall    *prometheus.GaugeVec
	HorizonSupport   *prometheus.GaugeVec

	FilterRemoved *prometheus.GaugeVec
}

// NewMetricsRegistry creates the metrics on a private registry that also
// carries the Go and process collectors.
func NewMetricsRegistry() *MetricsRegistry {
	m := &MetricsRegistry{
		registry: prometheus.NewRegistry(),

		StepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "changecast_step_duration_seconds",
				Help:    "Duration of each run step in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300, 900},
			},
			[]string{"step", "result"},
		),

		PipelineSteps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "changecast_steps_total",
				Help: "Total number of run steps executed",
			},
			[]string{"step", "result"},
		),

		KeysCompleted: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "changecast_replay_keys_completed",
			Help: "Keys whose test window has been replayed",
		}),

		KeysTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "changecast_replay_keys_total",
			Help: "Keys selected for replay",
		}),

		Estimates: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "changecast_running_estimates_total",
			Help: "Running estimates published during replay",
		}),

		HorizonPrecision: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "changecast_horizon_precision",
				Help: "Latest precision of the change class per horizon",
			},
			[]string{"horizon"},
		),

		HorizonRecall: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "changecast_horizon_recall",
				Help: "Latest recall of the change class per horizon",
			},
			[]string{"horizon"},
		),

		HorizonSupport: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "changecast_horizon_support",
				Help: "Buckets with a real change per horizon",
			},
			[]string{"horizon"},
		),

		FilterRemoved: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "changecast_filter_removed_events",
				Help: "Events removed by each filter of the last chain",
			},
			[]string{"filter"},
		),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.StepDuration,
		m.PipelineSteps,
		m.KeysCompleted,
		m.KeysTotal,
		m.Estimates,
		m.HorizonPrecision,
		m.HorizonRecall,
		m.HorizonSupport,
		m.FilterRemoved,
	)

	return m
}

// Registry exposes the underlying registry for gathering.
func (m *MetricsRegistry) Registry() *prometheus.Registry {
	return m.registry
}

// StepTimer tracks execution time for run steps
type StepTimer struct {
	metrics *MetricsRegistry
	step    string
	start   time.Time
}

// StartStepTimer begins timing a run step
func (m *MetricsRegistry) StartStepTimer(step string) *StepTimer {
	return &StepTimer{
		metrics: m,
		step:    step,
		start:   time.Now(),
	}
}

// Stop records the elapsed time under result.
func (st *StepTimer) Stop(result string) {
	st.metrics.recordStep(st.step, result, time.Since(st.start))
}

// ObserveStep matches log.StepObserver so engine steps land in the same
// histogram as command-level timers.
func (m *MetricsRegistry) ObserveStep(step string, d time.Duration, ok bool) {
	result := ResultSuccess
	if !ok {
		result = ResultError
	}
	m.recordStep(step, result, d)
}

func (m *MetricsRegistry) recordStep(step, result string, d time.Duration) {
	m.StepDuration.WithLabelValues(step, result).Observe(d.Seconds())
	m.PipelineSteps.WithLabelValues(step, result).Inc()
	log.Debug().Str("step", step).Str("result", result).Dur("duration", d).Msg("Step recorded")
}

// Publish records a running estimate.
func (m *MetricsRegistry) Publish(est backtest.Estimate) {
	m.KeysCompleted.Set(float64(est.Completed))
	m.KeysTotal.Set(float64(est.Total))
	m.Estimates.Inc()
	m.observeHorizons(est.Horizons)
}

// ObserveResults records the final evaluation of a run.
func (m *MetricsRegistry) ObserveResults(res *backtest.Results) {
	m.KeysCompleted.Set(float64(res.ReplayedKeys))
	m.KeysTotal.Set(float64(res.ReplayedKeys))
	m.observeHorizons(res.Horizons)
}

func (m *MetricsRegistry) observeHorizons(horizons []evaluation.HorizonStats) {
	for _, h := range horizons {
		m.HorizonPrecision.WithLabelValues(h.Horizon.Label).Set(h.Positive.Precision)
		m.HorizonRecall.WithLabelValues(h.Horizon.Label).Set(h.Positive.Recall)
		m.HorizonSupport.WithLabelValues(h.Horizon.Label).Set(float64(h.Positive.Support))
	}
}

// ObserveFilterChain records how many events each filter removed.
func (m *MetricsRegistry) ObserveFilterChain(chain filter.Chain) {
	for _, f := range chain {
		m.FilterRemoved.WithLabelValues(f.Name()).Set(float64(f.Stats().Removed()))
	}
}

// Progress reads the key gauges back.
func (m *MetricsRegistry) Progress() (completed, total int) {
	return int(gaugeValue(m.KeysCompleted)), int(gaugeValue(m.KeysTotal))
}

func gaugeValue(g prometheus.Gauge) float64 {
	var metric dto.Metric
	if err := g.Write(&metric); err != nil {
		return 0
	}
	return metric.GetGauge().GetValue()
}

// MetricsHandler returns an HTTP handler for Prometheus metrics
func (m *MetricsRegistry) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Step results.
const (
	ResultSuccess = "success"
	ResultError   = "error"
)
