package model

import (
	"fmt"
	"slices"
)

// Aggregate feature names used by the final position model. The order is the
// order of the feature vector; changing it invalidates trained models.
const (
	FeaturePaceEarly   = "pace_early"
	FeaturePaceMid     = "pace_mid"
	FeaturePaceLate    = "pace_late"
	FeatureDegradation = "degradation"
	FeatureConsistency = "consistency"
	FeatureTrafficLaps = "traffic_laps"
	FeatureTrafficCost = "traffic_cost"

	// derived values, reported but never used as model input
	FeaturePaceOverall       = "pace_overall"
	FeatureTotalRelativeTime = "total_relative_time"
)

var AggregateFeatures = []string{
	FeaturePaceEarly,
	FeaturePaceMid,
	FeaturePaceLate,
	FeatureDegradation,
	FeatureConsistency,
	FeatureTrafficLaps,
	FeatureTrafficCost,
}

var DerivedFeatures = []string{FeaturePaceOverall, FeatureTotalRelativeTime}

// RaceAggregates summarizes one driver's race. All model features are
// lower-is-better.
type RaceAggregates struct {
	Session           string   `json:"session"`
	Driver            string   `json:"driver"`
	Laps              int      `json:"laps"`
	PaceEarly         float64  `json:"paceEarly"`
	PaceMid           float64  `json:"paceMid"`
	PaceLate          float64  `json:"paceLate"`
	Degradation       float64  `json:"degradation"` // seconds per lap
	Consistency       float64  `json:"consistency"` // sd of relative performance
	TrafficLaps       float64  `json:"trafficLaps"`
	TrafficCost       float64  `json:"trafficCost"` // seconds
	PaceOverall       float64  `json:"paceOverall"`
	TotalRelativeTime float64  `json:"totalRelativeTime"`
	Validity          Validity `json:"validity"`
	Reasons           []string `json:"reasons,omitempty"`
}

// Vector returns the model features in AggregateFeatures order.
func (a RaceAggregates) Vector() []float64 {
	return []float64{
		a.PaceEarly, a.PaceMid, a.PaceLate,
		a.Degradation, a.Consistency, a.TrafficLaps, a.TrafficCost,
	}
}

func (a RaceAggregates) Value(feature string) (float64, error) {
	idx := slices.Index(AggregateFeatures, feature)
	if idx < 0 {
		return 0, fmt.Errorf("unknown aggregate feature %q: %w", feature, ErrInvalidInput)
	}
	return a.Vector()[idx], nil
}

// With returns a copy with feature replaced by v.
func (a RaceAggregates) With(feature string, v float64) (RaceAggregates, error) {
	switch feature {
	case FeaturePaceEarly:
		a.PaceEarly = v
	case FeaturePaceMid:
		a.PaceMid = v
	case FeaturePaceLate:
		a.PaceLate = v
	case FeatureDegradation:
		a.Degradation = v
	case FeatureConsistency:
		a.Consistency = v
	case FeatureTrafficLaps:
		a.TrafficLaps = v
	case FeatureTrafficCost:
		a.TrafficCost = v
	default:
		return a, fmt.Errorf("feature %q cannot be replaced: %w", feature, ErrInvalidInput)
	}
	return a, nil
}
