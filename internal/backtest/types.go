package backtest

import (
	"time"

	"github.com/sawpanic/changecast/internal/evaluation"
)

// Results represents the complete results of a backtest run
type Results struct {
	RunID        string                    `json:"run_id"`
	Predictor    string                    `json:"predictor"`
	Config       *Config                   `json:"config"`
	StartTime    time.Time                 `json:"start_time"`
	EndTime      time.Time                 `json:"end_time"`
	TotalKeys    int                       `json:"total_keys"`
	ReplayedKeys int                       `json:"replayed_keys"`
	TrainEvents  int                       `json:"train_events"`
	TestEvents   int                       `json:"test_events"`
	Horizons     []evaluation.HorizonStats `json:"horizons"`
	Buckets      []evaluation.BucketStats  `json:"buckets"`
	OverTime     []evaluation.Series       `json:"over_time"`
	Estimates    []Estimate                `json:"estimates,omitempty"`
}

// Duration returns the wall clock time of the run.
func (r *Results) Duration() time.Duration {
	return r.EndTime.Sub(r.StartTime)
}

// Estimate is a running evaluation over the keys completed so far.
type Estimate struct {
	Completed int                       `json:"completed"`
	Total     int                       `json:"total"`
	Timestamp time.Time                 `json:"timestamp"`
	Horizons  []evaluation.HorizonStats `json:"horizons"`
}

// Fraction returns the completed share of keys.
func (e Estimate) Fraction() float64 {
	if e.Total == 0 {
		return 0
	}
	return float64(e.Completed) / float64(e.Total)
}

// ProgressSink receives running estimates while a replay is in progress.
// Publish is called from worker goroutines.
type ProgressSink interface {
	Publish(Estimate)
}

// ArtifactPaths represents file paths for generated artifacts
type ArtifactPaths struct {
	ResultsJSONL string `json:"results_jsonl"`
	ReportMD     string `json:"report_md"`
	SummaryJSON  string `json:"summary_json"`
	Workbook     string `json:"workbook"`
	OutputDir    string `json:"output_dir"`
}
