package model

import "github.com/shopspring/decimal"

const (
	ComponentPaceEarly   = "pace_early"
	ComponentPaceMid     = "pace_mid"
	ComponentPaceLate    = "pace_late"
	ComponentDegradation = "degradation"
	ComponentTraffic     = "traffic"
)

type GapComponent struct {
	Name    string          `json:"name"`
	Seconds decimal.Decimal `json:"seconds"`
}

// ComparisonResult attributes the gap to the reference competitor.
// The attribution is a heuristic, not a causal decomposition (Approximation).
// Invariant: sum(Components) + Residual == TotalGap within ComparisonTolerance.
type ComparisonResult struct {
	Session           string          `json:"session"`
	Driver            string          `json:"driver"`
	Position          int             `json:"position"`
	Reference         string          `json:"reference"`
	ReferencePosition int             `json:"referencePosition"`
	MarginOfVictory   bool            `json:"marginOfVictory"`
	TotalGap          decimal.Decimal `json:"totalGap"` // driver minus reference, seconds
	PositionGap       int             `json:"positionGap"`
	Components        []GapComponent  `json:"components"`
	Residual          decimal.Decimal `json:"residual"`
	Approximation     bool            `json:"approximation"`
	Validity          Validity        `json:"validity"`
	Reasons           []string        `json:"reasons,omitempty"`
}

var ComparisonTolerance = decimal.RequireFromString("0.05")

func (c ComparisonResult) ComponentSum() decimal.Decimal {
	sum := decimal.Zero
	for _, comp := range c.Components {
		sum = sum.Add(comp.Seconds)
	}
	return sum
}
