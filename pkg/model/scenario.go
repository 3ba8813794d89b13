package model

import "github.com/aarondl/opt/null"

// Replacement sets one aggregate feature either to a fixed value or to a
// percentile of the session field. Exactly one of Value and Percentile is set.
type Replacement struct {
	Feature    string            `json:"feature" toml:"feature"`
	Value      null.Val[float64] `json:"value" toml:"-"`
	Percentile null.Val[float64] `json:"percentile" toml:"-"` // 0..1
}

type InterventionScenario struct {
	Name         string        `json:"name"`
	Replacements []Replacement `json:"replacements"`
	// Exact replaces unconditionally. Otherwise a replacement never makes a
	// feature worse than the driver's actual value.
	Exact bool `json:"exact"`
}

func (s InterventionScenario) Features() []string {
	ret := make([]string, 0, len(s.Replacements))
	for _, r := range s.Replacements {
		ret = append(ret, r.Feature)
	}
	return ret
}

type ScenarioOutcome struct {
	Session           string             `json:"session"`
	Driver            string             `json:"driver"`
	Scenario          string             `json:"scenario"`
	Applied           map[string]float64 `json:"applied"`
	BaselinePosition  int                `json:"baselinePosition"`
	PredictedPosition int                `json:"predictedPosition"`
	BaselineScore     float64            `json:"baselineScore"`
	PredictedScore    float64            `json:"predictedScore"`
	PositionGain      float64            `json:"positionGain"` // baseline score - predicted score
	TimeDelta         float64            `json:"timeDelta"`    // seconds, negative is faster
	Validity          Validity           `json:"validity"`
	Reasons           []string           `json:"reasons,omitempty"`
}
