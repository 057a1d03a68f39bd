package detector

import "sort"

// Postprocessor defines a function that filters/modifies a slice of Detections.
type Postprocessor func([]Detection) []Detection

// NewScoreFilter returns a function that filters out detections below a certain confidence.
func NewScoreFilter(conf float64) Postprocessor {
	return func(in []Detection) []Detection {
		out := make([]Detection, 0, len(in))
		for _, d := range in {
			if d.Confidence >= conf {
				out = append(out, d)
			}
		}
		return out
	}
}

// NewLabelFilter returns a function that drops detections outside the label set.
func NewLabelFilter() Postprocessor {
	return func(in []Detection) []Detection {
		out := make([]Detection, 0, len(in))
		for _, d := range in {
			if d.Label.Valid() {
				out = append(out, d)
			}
		}
		return out
	}
}

// Apply runs the postprocessors in order and sorts the result.
func Apply(dets []Detection, post ...Postprocessor) []Detection {
	for _, p := range post {
		dets = p(dets)
	}
	Sort(dets)
	return dets
}

// Sort orders detections best first. Ties break on class id, then position,
// so identical inputs always produce identical order.
func Sort(dets []Detection) {
	sort.SliceStable(dets, func(i, j int) bool {
		a, b := dets[i], dets[j]
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		if a.ClassID != b.ClassID {
			return a.ClassID < b.ClassID
		}
		if a.Box.X != b.Box.X {
			return a.Box.X < b.Box.X
		}
		return a.Box.Y < b.Box.Y
	})
}
