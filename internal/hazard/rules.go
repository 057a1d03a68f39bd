// Package hazard fuses per-frame detections into a debounced safety verdict.
package hazard

import (
	"errors"
	"fmt"
	"math"

	"github.com/samber/lo"

	"github.com/ayusman/kitchensafe/internal/detector"
)

// ErrInvalidRule is returned when a rule set cannot be used for fusion.
var ErrInvalidRule = errors.New("invalid hazard rule")

// HazardLabels are the classes that can contribute to a verdict.
var HazardLabels = []detector.Label{detector.Knife, detector.Scissors, detector.Pan, detector.Flame}

// IsHazard reports whether l is one of HazardLabels.
func IsHazard(l detector.Label) bool {
	return lo.Contains(HazardLabels, l)
}

// Rule says which guardian has to be within Proximity of a Hazard for it to
// count as attended. Proximity is a normalized center distance (see Distance).
type Rule struct {
	Hazard    detector.Label `yaml:"hazard" json:"hazard"`
	Guardian  detector.Label `yaml:"guardian" json:"guardian"`
	Proximity float64        `yaml:"proximity" json:"proximity"`
}

// RuleSet holds at most one rule per hazard label.
type RuleSet []Rule

// UniformRules returns a rule for every hazard label with a person guardian
// and the same proximity.
func UniformRules(proximity float64) RuleSet {
	return lo.Map(HazardLabels, func(l detector.Label, _ int) Rule {
		return Rule{Hazard: l, Guardian: detector.Person, Proximity: proximity}
	})
}

// With returns a copy of rs where r replaces the rule for r.Hazard.
func (rs RuleSet) With(r Rule) RuleSet {
	out := lo.Filter(rs, func(existing Rule, _ int) bool { return existing.Hazard != r.Hazard })
	return append(out, r)
}

// For returns the rule that applies to hazard.
func (rs RuleSet) For(hazard detector.Label) (Rule, bool) {
	return lo.Find(rs, func(r Rule) bool { return r.Hazard == hazard })
}

// Guardians returns the distinct guardian labels used by the rule set.
func (rs RuleSet) Guardians() []detector.Label {
	return lo.Uniq(lo.Map(rs, func(r Rule, _ int) detector.Label { return r.Guardian }))
}

// Validate checks labels and thresholds.
func (rs RuleSet) Validate() error {
	if len(rs) == 0 {
		return fmt.Errorf("no rules: %w", ErrInvalidRule)
	}

	seen := make(map[detector.Label]bool, len(rs))
	for _, r := range rs {
		if !IsHazard(r.Hazard) {
			return fmt.Errorf("%q is not a hazard class: %w", r.Hazard, ErrInvalidRule)
		}
		if seen[r.Hazard] {
			return fmt.Errorf("duplicate rule for %q: %w", r.Hazard, ErrInvalidRule)
		}
		seen[r.Hazard] = true

		if !r.Guardian.Valid() || IsHazard(r.Guardian) {
			return fmt.Errorf("rule %q: guardian %q: %w", r.Hazard, r.Guardian, ErrInvalidRule)
		}
		if r.Proximity <= 0 || r.Proximity > 1 || math.IsNaN(r.Proximity) {
			return fmt.Errorf("rule %q: proximity %v outside (0,1]: %w", r.Hazard, r.Proximity, ErrInvalidRule)
		}
	}
	return nil
}
