package evaluation

import (
	"fmt"
	"io"
	"strings"
)

// Render writes one text block per horizon with the changes / no changes columns.
func Render(w io.Writer, stats []HorizonStats) error {
	var b strings.Builder
	for _, s := range stats {
		fmt.Fprintf(&b, "%-12s\t\tchanges\t\tno changes\n", s.Horizon.Label)
		fmt.Fprintf(&b, "Precision:\t\t%.4f\t\t%.4f\n", s.Positive.Precision, s.Negative.Precision)
		fmt.Fprintf(&b, "Recall:\t\t\t%.4f\t\t%.4f\n", s.Positive.Recall, s.Negative.Recall)
		fmt.Fprintf(&b, "F1score:\t\t%.4f\t\t%.4f\n", s.Positive.F1, s.Negative.F1)
		fmt.Fprintf(&b, "Changes of Data:\t%.4f%%,\tTotal: %d\n", s.PercentChanges*100, s.Positive.Support)
		fmt.Fprintf(&b, "Changes of Pred:\t%.4f%%,\tTotal: %d\n\n", s.PercentPredicted*100, s.PositivePredictions)
	}
	_, err := io.WriteString(w, b.String())
	return err
}

// RenderBuckets writes the positive class precision and recall per activity bin.
func RenderBuckets(w io.Writer, buckets []BucketStats) error {
	var b strings.Builder
	for _, bucket := range buckets {
		fmt.Fprintf(&b, "activity [%d, %d) keys=%d\n", bucket.Low, bucket.High, bucket.Keys)
		for _, s := range bucket.Horizons {
			fmt.Fprintf(&b, "  %-8s precision=%.4f recall=%.4f\n",
				s.Horizon.Label, s.Positive.Precision, s.Positive.Recall)
		}
	}
	_, err := io.WriteString(w, b.String())
	return err
}
