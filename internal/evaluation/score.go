// Package evaluation rolls daily change labels up to prediction horizons and
// scores predictions against them.
package evaluation

// ClassStats holds precision, recall and F1 of one class.
type ClassStats struct {
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1"`
	Support   int     `json:"support"`
}

// Scores holds the per-class statistics of a binary prediction.
type Scores struct {
	Negative ClassStats `json:"no_changes"`
	Positive ClassStats `json:"changes"`
}

// confusion counts a binary prediction outcome.
type confusion struct {
	tp, fp, fn, tn int
}

func (c *confusion) add(label, predicted bool) {
	switch {
	case label && predicted:
		c.tp++
	case !label && predicted:
		c.fp++
	case label && !predicted:
		c.fn++
	default:
		c.tn++
	}
}

func (c confusion) scores() Scores {
	return Scores{
		Positive: classStats(c.tp, c.fp, c.fn),
		// the negative class swaps the roles of the outcomes
		Negative: classStats(c.tn, c.fn, c.fp),
	}
}

func classStats(tp, fp, fn int) ClassStats {
	s := ClassStats{
		Precision: ratio(tp, tp+fp),
		Recall:    ratio(tp, tp+fn),
		Support:   tp + fn,
	}
	if s.Precision+s.Recall > 0 {
		s.F1 = 2 * s.Precision * s.Recall / (s.Precision + s.Recall)
	}
	return s
}

// ratio divides with zero-division mapped to 0.
func ratio(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}

// Score computes per-class statistics of predictions against labels. Only the
// common prefix is scored when the lengths differ.
func Score(labels, predictions []bool) Scores {
	var c confusion
	n := len(labels)
	if len(predictions) < n {
		n = len(predictions)
	}
	for i := 0; i < n; i++ {
		c.add(labels[i], predictions[i])
	}
	return c.scores()
}
