package model

import (
	"slices"

	"github.com/aarondl/opt/null"
)

type Validity int

const (
	Valid Validity = iota
	LowConfidence
)

func (v Validity) String() string {
	if v == Valid {
		return "valid"
	}
	return "low-confidence"
}

func (v Validity) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

// Reasons attached to rows and results.
const (
	ReasonCaution          = "caution"
	ReasonPitStop          = "pit-stop"
	ReasonFieldCoverage    = "field-coverage"
	ReasonMissingSignal    = "missing-signal"
	ReasonInsufficientData = "insufficient-data"
	ReasonSegmentImputed   = "segment-imputed"
	ReasonUnvalidated      = "unvalidated-metric"
	ReasonBaselineFallback = "field-baseline"
	ReasonPrevLapUnknown   = "prev-lap-unknown"
)

type Segment string

const (
	SegmentEarly Segment = "early"
	SegmentMid   Segment = "mid"
	SegmentLate  Segment = "late"
)

// LagFeatures only ever depend on laps before the lap they belong to.
type LagFeatures struct {
	PrevRelPerf        null.Val[float64] `json:"prevRelPerf"`
	RollingRelPerf     null.Val[float64] `json:"rollingRelPerf"`
	SessionMeanRelPerf null.Val[float64] `json:"sessionMeanRelPerf"`
	KnownLaps          int               `json:"knownLaps"` // prior laps with known rel perf
	SourceLap          int               `json:"sourceLap"` // highest lap index used, 0 if none
}

type RaceFeatureRow struct {
	Session       string            `json:"session"`
	Driver        string            `json:"driver"`
	Lap           int               `json:"lap"`
	LapTime       float64           `json:"lapTime"`
	FieldMedian   null.Val[float64] `json:"fieldMedian"`
	RelPerf       null.Val[float64] `json:"relPerf"`
	Position      int               `json:"position"`
	GapAhead      null.Val[float64] `json:"gapAhead"`
	GapBehind     null.Val[float64] `json:"gapBehind"`
	Lag           LagFeatures       `json:"lag"`
	StintLap      int               `json:"stintLap"`
	Segment       Segment           `json:"segment"`
	LapsRemaining int               `json:"lapsRemaining"`
	Traffic       bool              `json:"traffic"`
	PitStop       bool              `json:"pitStop"`
	Disrupted     bool              `json:"disrupted"` // session-wide disruption (caution)
	LowConfidence bool              `json:"lowConfidence"`
	Reasons       []string          `json:"reasons,omitempty"`
	Metrics       MetricSet         `json:"metrics"`
}

// Prediction is a next-lap relative performance estimate. Value is a signed
// delta in seconds versus the field median of that lap.
type Prediction struct {
	Session  string   `json:"session"`
	Driver   string   `json:"driver"`
	Lap      int      `json:"lap"`
	Horizon  int      `json:"horizon"`
	Value    float64  `json:"value"`
	Lower    float64  `json:"lower"`
	Upper    float64  `json:"upper"`
	Model    string   `json:"model"`
	Validity Validity `json:"validity"`
	Reasons  []string `json:"reasons,omitempty"`
}

func (r *RaceFeatureRow) HasReason(reason string) bool {
	return slices.Contains(r.Reasons, reason)
}

// PaceUsable reports whether the row's relative performance reflects the
// driver's pace: known, green flag, no pit stop and a representative field.
func (r *RaceFeatureRow) PaceUsable() bool {
	return r.RelPerf.IsValue() && !r.Disrupted && !r.PitStop &&
		!r.HasReason(ReasonFieldCoverage)
}
