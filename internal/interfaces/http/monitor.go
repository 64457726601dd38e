package http

import (
	"sync"
	"time"

	"github.com/sawpanic/changecast/internal/backtest"
)

// Monitor holds the live state of a run for the monitoring endpoints. It
// implements backtest.ProgressSink.
type Monitor struct {
	metrics *MetricsRegistry
	hub     *Hub

	mu       sync.RWMutex
	latest   *backtest.Estimate
	summary  *backtest.Summary
	runID    string
	started  time.Time
	finished bool
}

// NewMonitor creates a monitor feeding the given metrics and hub.
func NewMonitor(metrics *MetricsRegistry, hub *Hub) *Monitor {
	return &Monitor{metrics: metrics, hub: hub, started: time.Now()}
}

// Metrics returns the metrics registry.
func (m *Monitor) Metrics() *MetricsRegistry { return m.metrics }

// Hub returns the websocket hub.
func (m *Monitor) Hub() *Hub { return m.hub }

// Begin marks the start of a run.
func (m *Monitor) Begin(runID string, totalKeys int) {
	m.mu.Lock()
	m.runID = runID
	m.latest = nil
	m.finished = false
	m.started = time.Now()
	m.mu.Unlock()

	m.metrics.KeysCompleted.Set(0)
	m.metrics.KeysTotal.Set(float64(totalKeys))
}

// Publish records a running estimate and forwards it to subscribers.
func (m *Monitor) Publish(est backtest.Estimate) {
	m.mu.Lock()
	m.latest = &est
	m.mu.Unlock()

	m.metrics.Publish(est)
	m.hub.Publish(est)
}

// Finish stores the final summary and notifies subscribers.
func (m *Monitor) Finish(results *backtest.Results, summary *backtest.Summary) {
	m.mu.Lock()
	m.summary = summary
	m.finished = true
	if summary != nil {
		m.runID = summary.RunID
	}
	m.mu.Unlock()

	if results != nil {
		m.metrics.ObserveResults(results)
	}
	m.hub.Broadcast(ProgressMessage{Type: "finished", Summary: summary})
}

// SetSummary serves a summary loaded from disk.
func (m *Monitor) SetSummary(summary *backtest.Summary) {
	m.Finish(nil, summary)
}

// ProgressView is the body of GET /progress.
type ProgressView struct {
	RunID     string             `json:"run_id,omitempty"`
	Completed int                `json:"completed"`
	Total     int                `json:"total"`
	Fraction  float64            `json:"fraction"`
	Finished  bool               `json:"finished"`
	Elapsed   string             `json:"elapsed"`
	Latest    *backtest.Estimate `json:"latest_estimate,omitempty"`
}

// Progress returns the current progress view.
func (m *Monitor) Progress() ProgressView {
	completed, total := m.metrics.Progress()

	m.mu.RLock()
	defer m.mu.RUnlock()

	v := ProgressView{
		RunID:     m.runID,
		Completed: completed,
		Total:     total,
		Finished:  m.finished,
		Elapsed:   time.Since(m.started).Round(time.Second).String(),
		Latest:    m.latest,
	}
	if total > 0 {
		v.Fraction = float64(completed) / float64(total)
	}
	return v
}

// Summary returns the final summary, if any.
func (m *Monitor) Summary() (*backtest.Summary, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.summary, m.summary != nil
}
