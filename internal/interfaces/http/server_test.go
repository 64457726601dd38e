package http

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/changecast/internal/backtest"
	"github.com/sawpanic/changecast/internal/evaluation"
	"github.com/sawpanic/changecast/internal/filter"
	"github.com/sawpanic/changecast/internal/persistence"
)

type fakeHealth struct{ healthy bool }

func (f fakeHealth) Health(context.Context) persistence.HealthCheck {
	hc := persistence.HealthCheck{Healthy: f.healthy, LastCheck: time.Now()}
	if !f.healthy {
		hc.Errors = []string{"ping failed: connection refused"}
	}
	return hc
}

func (f fakeHealth) Ping(context.Context) error {
	if !f.healthy {
		return errors.New("connection refused")
	}
	return nil
}

func newTestServer(db persistence.RepositoryHealth) (*Server, *Monitor) {
	monitor := NewMonitor(NewMetricsRegistry(), NewHub())
	return NewServer(DefaultServerConfig(), monitor, db, "test"), monitor
}

func sampleEstimate(completed, total int) backtest.Estimate {
	return backtest.Estimate{
		Completed: completed,
		Total:     total,
		Timestamp: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Horizons: []evaluation.HorizonStats{{
			Horizon: evaluation.Horizon{Days: 1, Label: "day"},
			Scores: evaluation.Scores{
				Positive: evaluation.ClassStats{Precision: 0.5, Recall: 0.25, Support: 4},
			},
		}},
	}
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(nil)
	rr := get(t, s.Handler(), "/health")

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	assert.Len(t, rr.Header().Get("X-Request-ID"), 8)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, "test", resp.Version)
	assert.NotEmpty(t, resp.System.GoVersion)
	assert.Nil(t, resp.Database)
}

func TestHealth_DegradedDatabase(t *testing.T) {
	s, _ := newTestServer(fakeHealth{healthy: false})
	rr := get(t, s.Handler(), "/health")

	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "degraded", resp.Status)
	require.NotNil(t, resp.Database)
	assert.False(t, resp.Database.Healthy)
}

func TestProgress(t *testing.T) {
	s, monitor := newTestServer(nil)
	monitor.Begin("run-1", 10)
	monitor.Publish(sampleEstimate(4, 10))

	rr := get(t, s.Handler(), "/progress")
	require.Equal(t, http.StatusOK, rr.Code)

	var view ProgressView
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &view))
	assert.Equal(t, "run-1", view.RunID)
	assert.Equal(t, 4, view.Completed)
	assert.Equal(t, 10, view.Total)
	assert.InDelta(t, 0.4, view.Fraction, 1e-9)
	assert.False(t, view.Finished)
	require.NotNil(t, view.Latest)
	assert.Equal(t, 0.5, view.Latest.Horizons[0].Positive.Precision)
}

func TestResults(t *testing.T) {
	s, monitor := newTestServer(nil)

	rr := get(t, s.Handler(), "/results")
	assert.Equal(t, http.StatusNotFound, rr.Code)

	monitor.SetSummary(&backtest.Summary{RunID: "run-2", Predictor: "zero", Keys: 3})
	rr = get(t, s.Handler(), "/results")
	require.Equal(t, http.StatusOK, rr.Code)

	var summary backtest.Summary
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &summary))
	assert.Equal(t, "run-2", summary.RunID)
	assert.True(t, monitor.Progress().Finished)
}

func TestNotFound(t *testing.T) {
	s, _ := newTestServer(nil)
	rr := get(t, s.Handler(), "/nope")
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Contains(t, rr.Body.String(), `"path":"/nope"`)
}

func TestMetricsEndpoint(t *testing.T) {
	s, monitor := newTestServer(nil)
	monitor.Begin("run-3", 20)
	monitor.Publish(sampleEstimate(2, 20))

	chain := filter.DefaultChain()
	filter.Apply(nil, chain)
	monitor.Metrics().ObserveFilterChain(chain)

	timer := monitor.Metrics().StartStepTimer("replay")
	timer.Stop(ResultSuccess)

	rr := get(t, s.Handler(), "/metrics")
	require.Equal(t, http.StatusOK, rr.Code)
	body := rr.Body.String()

	for _, want := range []string{
		"go_goroutines",
		"changecast_replay_keys_completed 2",
		"changecast_replay_keys_total 20",
		"changecast_running_estimates_total 1",
		`changecast_horizon_precision{horizon="day"} 0.5`,
		`changecast_horizon_support{horizon="day"} 4`,
		`changecast_filter_removed_events{filter="BotRevertFilter"} 0`,
		`changecast_steps_total{result="success",step="replay"} 1`,
	} {
		assert.Contains(t, body, want)
	}
}

func TestMetrics_ObserveStep(t *testing.T) {
	s, monitor := newTestServer(nil)
	monitor.Metrics().ObserveStep("fit", 2*time.Second, true)
	monitor.Metrics().ObserveStep("replay", time.Second, false)

	body := get(t, s.Handler(), "/metrics").Body.String()
	assert.Contains(t, body, `changecast_steps_total{result="success",step="fit"} 1`)
	assert.Contains(t, body, `changecast_steps_total{result="error",step="replay"} 1`)
}

func TestMetrics_ProgressReadback(t *testing.T) {
	m := NewMetricsRegistry()
	completed, total := m.Progress()
	assert.Zero(t, completed)
	assert.Zero(t, total)

	m.ObserveResults(&backtest.Results{ReplayedKeys: 7})
	completed, total = m.Progress()
	assert.Equal(t, 7, completed)
	assert.Equal(t, 7, total)
}

func TestWebsocketProgress(t *testing.T) {
	s, monitor := newTestServer(nil)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/progress"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return monitor.Hub().Clients() == 1 }, time.Second, 10*time.Millisecond)

	monitor.Publish(sampleEstimate(5, 10))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg ProgressMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "estimate", msg.Type)
	require.NotNil(t, msg.Estimate)
	assert.Equal(t, 5, msg.Estimate.Completed)

	monitor.Finish(nil, &backtest.Summary{RunID: "run-4"})
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "finished", msg.Type)
	require.NotNil(t, msg.Summary)
	assert.Equal(t, "run-4", msg.Summary.RunID)

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	require.Eventually(t, func() bool { return monitor.Hub().Clients() == 0 }, time.Second, 10*time.Millisecond)
}

func TestServe_ShutsDownOnCancel(t *testing.T) {
	s, _ := newTestServer(nil)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
