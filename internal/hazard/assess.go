package hazard

import (
	"math"

	"github.com/samber/lo"

	"github.com/ayusman/kitchensafe/internal/detector"
)

// Verdict is the safety classification of a frame. Higher is worse.
type Verdict int

const (
	Safe Verdict = iota
	Warning
	Danger
)

// String returns the verdict name.
func (v Verdict) String() string {
	switch v {
	case Safe:
		return "SAFE"
	case Warning:
		return "WARNING"
	case Danger:
		return "DANGER"
	default:
		return "UNKNOWN"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (v Verdict) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

// Verdicts lists every verdict from best to worst.
func Verdicts() []Verdict {
	return []Verdict{Safe, Warning, Danger}
}

// Finding is one hazard considered for a frame.
type Finding struct {
	Detection detector.Detection `json:"detection"`
	Distance  float64            `json:"distance"`
	Attended  bool               `json:"attended"`
	Implicit  bool               `json:"implicit,omitempty"`
}

// Assessment is the raw verdict for a single frame.
type Assessment struct {
	Verdict      Verdict          `json:"verdict"`
	Contributing []detector.Label `json:"contributing"`
	Findings     []Finding        `json:"findings"`
}

// Distance returns the distance between the centers of a and b in a
// width x height frame, divided by the frame diagonal. It is symmetric and
// lies in [0,1] for boxes inside the frame.
func Distance(a, b detector.BBox, width, height int) float64 {
	w, h := float64(width), float64(height)
	if width <= 0 || height <= 0 {
		w, h = 1, 1
	}

	ax, ay := a.Center()
	bx, by := b.Center()
	return math.Hypot((ax-bx)*w, (ay-by)*h) / math.Hypot(w, h)
}

// Assess computes the raw verdict for one frame. Stove readings reported ON
// add an implicit flame hazard at the stove box. A hazard is attended when
// its nearest guardian is strictly closer than the rule's proximity; any
// unattended hazard makes the frame DANGER, otherwise any attended hazard
// makes it WARNING.
func Assess(dets []detector.Detection, stoves []detector.StoveReading, rules RuleSet, width, height int) Assessment {
	hazards := lo.Filter(dets, func(d detector.Detection, _ int) bool { return IsHazard(d.Label) })

	implicit := lo.FilterMap(stoves, func(s detector.StoveReading, _ int) (detector.Detection, bool) {
		return detector.Detection{ClassID: -1, Label: detector.Flame, Box: s.Box, Confidence: s.Confidence}, s.State == detector.StoveOn
	})

	findings := make([]Finding, 0, len(hazards)+len(implicit))
	for i, h := range append(hazards, implicit...) {
		rule, ok := rules.For(h.Label)
		if !ok {
			continue
		}

		dist := math.Inf(1)
		for _, g := range dets {
			if g.Label != rule.Guardian {
				continue
			}
			dist = math.Min(dist, Distance(h.Box, g.Box, width, height))
		}

		findings = append(findings, Finding{
			Detection: h,
			Distance:  dist,
			Attended:  dist < rule.Proximity,
			Implicit:  i >= len(hazards),
		})
	}

	a := Assessment{Verdict: Safe, Findings: findings}

	unattended := lo.Filter(findings, func(f Finding, _ int) bool { return !f.Attended })
	switch {
	case len(unattended) > 0:
		a.Verdict = Danger
		a.Contributing = labelsOf(unattended)
	case len(findings) > 0:
		a.Verdict = Warning
		a.Contributing = labelsOf(findings)
	}

	return a
}

// labelsOf returns the distinct labels of fs in HazardLabels order.
func labelsOf(fs []Finding) []detector.Label {
	present := lo.Uniq(lo.Map(fs, func(f Finding, _ int) detector.Label { return f.Detection.Label }))
	return lo.Filter(HazardLabels, func(l detector.Label, _ int) bool { return lo.Contains(present, l) })
}
