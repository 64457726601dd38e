package evaluation

import (
	"fmt"

	"github.com/sawpanic/changecast/internal/changes"
)

// Horizon is a forward looking prediction window.
type Horizon struct {
	Days  int    `json:"days" yaml:"days"`
	Label string `json:"label" yaml:"label"`
}

// DefaultHorizons are day, week, month and year.
func DefaultHorizons() []Horizon {
	return []Horizon{
		{Days: 1, Label: "day"},
		{Days: 7, Label: "week"},
		{Days: 30, Label: "month"},
		{Days: 365, Label: "year"},
	}
}

// Buckets returns the number of h-day buckets covering a window of length days.
func Buckets(length, h int) int {
	if h <= 0 || length <= 0 {
		return 0
	}
	return (length + h - 1) / h
}

// RollUp ORs consecutive h-day buckets of a daily label vector. The final
// partial bucket is padded with "no change".
func RollUp(days []bool, h int) []bool {
	if h <= 1 {
		out := make([]bool, len(days))
		copy(out, days)
		return out
	}
	out := make([]bool, Buckets(len(days), h))
	for i, changed := range days {
		if changed {
			out[i/h] = true
		}
	}
	return out
}

// KeyResult holds the replay outcome of one group key.
type KeyResult struct {
	Key changes.GroupKey `json:"key"`
	// Labels has one entry per test day.
	Labels []bool `json:"labels"`
	// Predictions is indexed like Input.Horizons; entry i holds one value
	// per bucket of horizon i.
	Predictions [][]bool `json:"predictions"`
}

// Input is everything the aggregator scores.
type Input struct {
	Horizons []Horizon
	Keys     []KeyResult
}

// HorizonStats is the scored outcome of one horizon.
type HorizonStats struct {
	Horizon             Horizon `json:"horizon"`
	Scores                      `json:"scores"`
	Samples             int     `json:"samples"`
	PositivePredictions int     `json:"positive_predictions"`
	PercentChanges      float64 `json:"percent_changes"`
	PercentPredicted    float64 `json:"percent_predicted"`
}

func (s HorizonStats) String() string {
	return fmt.Sprintf("%s: precision=%.4f recall=%.4f f1=%.4f support=%d",
		s.Horizon.Label, s.Positive.Precision, s.Positive.Recall, s.Positive.F1, s.Positive.Support)
}

func prediction(preds [][]bool, horizon, bucket int) bool {
	if horizon >= len(preds) || bucket >= len(preds[horizon]) {
		return false
	}
	return preds[horizon][bucket]
}

// EvaluateHorizon scores horizon index hi over all keys × buckets.
func EvaluateHorizon(in Input, hi int) HorizonStats {
	h := in.Horizons[hi]
	var labels, predicted []bool
	positives := 0
	for _, k := range in.Keys {
		rolled := RollUp(k.Labels, h.Days)
		for b, label := range rolled {
			p := prediction(k.Predictions, hi, b)
			if p {
				positives++
			}
			labels = append(labels, label)
			predicted = append(predicted, p)
		}
	}
	scores := Score(labels, predicted)
	samples := len(labels)
	return HorizonStats{
		Horizon:             h,
		Scores:              scores,
		Samples:             samples,
		PositivePredictions: positives,
		PercentChanges:      ratio(scores.Positive.Support, samples),
		PercentPredicted:    ratio(positives, samples),
	}
}

// Evaluate scores every horizon. An input without any positive label yields
// zero scores, never an error.
func Evaluate(in Input) []HorizonStats {
	out := make([]HorizonStats, len(in.Horizons))
	for i := range in.Horizons {
		out[i] = EvaluateHorizon(in, i)
	}
	return out
}

// DefaultActivityLimits returns the activity bin edges for a maximum training activity.
func DefaultActivityLimits(maxActivity int) []int {
	upper := maxActivity + 1
	if upper <= 100 {
		upper = 101
	}
	return []int{0, 5, 15, 50, 100, upper}
}

// BucketStats is the per-horizon evaluation of keys whose training activity
// lies in [Low, High).
type BucketStats struct {
	Low      int            `json:"low"`
	High     int            `json:"high"`
	Keys     int            `json:"keys"`
	Horizons []HorizonStats `json:"horizons"`
}

// Bucketed evaluates keys grouped by their pre-test activity. Keys missing from
// activity count as zero. Nil limits use DefaultActivityLimits.
func Bucketed(in Input, activity map[changes.GroupKey]int, limits []int) []BucketStats {
	if limits == nil {
		maxActivity := 0
		for _, n := range activity {
			if n > maxActivity {
				maxActivity = n
			}
		}
		limits = DefaultActivityLimits(maxActivity)
	}
	out := make([]BucketStats, 0, len(limits))
	for i := 0; i+1 < len(limits); i++ {
		low, high := limits[i], limits[i+1]
		sub := Input{Horizons: in.Horizons}
		for _, k := range in.Keys {
			n := activity[k.Key]
			if n >= low && n < high {
				sub.Keys = append(sub.Keys, k)
			}
		}
		out = append(out, BucketStats{
			Low:      low,
			High:     high,
			Keys:     len(sub.Keys),
			Horizons: Evaluate(sub),
		})
	}
	return out
}

// Series is the positive class precision and recall per bucket index.
// For the one-day horizon the series is also averaged over windows of
// DayAverageWindow days, since single days are too noisy to read.
type Series struct {
	Horizon   Horizon   `json:"horizon"`
	Precision []float64 `json:"precision"`
	Recall    []float64 `json:"recall"`

	Window            int       `json:"window,omitempty"`
	AveragedPrecision []float64 `json:"averaged_precision,omitempty"`
	AveragedRecall    []float64 `json:"averaged_recall,omitempty"`
}

// DayAverageWindow is the window, in days, of the averaged one-day series.
const DayAverageWindow = 5

// WindowMean averages consecutive windows of w values. A shorter trailing
// window is averaged over its own length.
func WindowMean(values []float64, w int) []float64 {
	if w <= 1 {
		return append([]float64(nil), values...)
	}
	out := make([]float64, 0, Buckets(len(values), w))
	for start := 0; start < len(values); start += w {
		end := start + w
		if end > len(values) {
			end = len(values)
		}
		sum := 0.0
		for _, v := range values[start:end] {
			sum += v
		}
		out = append(out, sum/float64(end-start))
	}
	return out
}

// OverTime scores every bucket index across keys, for every horizon except
// the longest one, which typically has a single bucket.
func OverTime(in Input) []Series {
	if len(in.Horizons) < 2 {
		return nil
	}
	longest := 0
	for i, h := range in.Horizons {
		if h.Days > in.Horizons[longest].Days {
			longest = i
		}
	}

	var out []Series
	for hi, h := range in.Horizons {
		if hi == longest {
			continue
		}
		var perBucket []confusion
		for _, k := range in.Keys {
			rolled := RollUp(k.Labels, h.Days)
			if len(rolled) > len(perBucket) {
				perBucket = append(perBucket, make([]confusion, len(rolled)-len(perBucket))...)
			}
			for b, label := range rolled {
				perBucket[b].add(label, prediction(k.Predictions, hi, b))
			}
		}
		s := Series{Horizon: h, Precision: make([]float64, len(perBucket)), Recall: make([]float64, len(perBucket))}
		for b, c := range perBucket {
			scores := c.scores()
			s.Precision[b] = scores.Positive.Precision
			s.Recall[b] = scores.Positive.Recall
		}
		if h.Days == 1 {
			s.Window = DayAverageWindow
			s.AveragedPrecision = WindowMean(s.Precision, DayAverageWindow)
			s.AveragedRecall = WindowMean(s.Recall, DayAverageWindow)
		}
		out = append(out, s)
	}
	return out
}

// Activity counts training events per key.
func Activity(train []changes.ChangeEvent, keyColumns []string) map[changes.GroupKey]int {
	out := make(map[changes.GroupKey]int)
	for _, e := range train {
		out[changes.KeyOf(e, keyColumns)]++
	}
	return out
}
