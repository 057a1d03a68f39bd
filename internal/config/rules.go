package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ayusman/kitchensafe/internal/detector"
	"github.com/ayusman/kitchensafe/internal/hazard"
)

// RulesFile is the YAML rules document:
//
//	hysteresis_frames: 3
//	proximity: 0.25
//	rules:
//	  - hazard: flame
//	    guardian: person
//	    proximity: 0.35
type RulesFile struct {
	HysteresisFrames int         `yaml:"hysteresis_frames"`
	Proximity        float64     `yaml:"proximity"`
	Rules            []RuleEntry `yaml:"rules"`
}

// RuleEntry overrides the rule for one hazard class. Guardian defaults to person.
type RuleEntry struct {
	Hazard    string  `yaml:"hazard"`
	Guardian  string  `yaml:"guardian"`
	Proximity float64 `yaml:"proximity"`
}

// LoadRules reads a rules file.
func LoadRules(path string) (RulesFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return RulesFile{}, fmt.Errorf("read rules %s: %w: %v", path, ErrInvalidConfiguration, err)
	}

	var f RulesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return RulesFile{}, fmt.Errorf("parse rules %s: %w: %v", path, ErrInvalidConfiguration, err)
	}
	return f, nil
}

// ruleSet builds the rule set: every hazard class gets proximity (when
// positive), then the file's entries override individual classes.
func (f RulesFile) ruleSet(proximity float64) (hazard.RuleSet, error) {
	var rules hazard.RuleSet
	if proximity != 0 {
		rules = hazard.UniformRules(proximity)
	}

	for _, e := range f.Rules {
		h, err := detector.ParseLabel(e.Hazard)
		if err != nil {
			return nil, fmt.Errorf("rules: hazard: %w: %v", ErrInvalidConfiguration, err)
		}

		g := detector.Person
		if e.Guardian != "" {
			if g, err = detector.ParseLabel(e.Guardian); err != nil {
				return nil, fmt.Errorf("rules: guardian: %w: %v", ErrInvalidConfiguration, err)
			}
		}

		p := e.Proximity
		if p == 0 {
			p = proximity
		}
		rules = rules.With(hazard.Rule{Hazard: h, Guardian: g, Proximity: p})
	}

	return rules, nil
}
