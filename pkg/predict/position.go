package predict

import (
	"fmt"
	"slices"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/mpapenbr/iracelog-racemodel/pkg/model"
)

// PositionSample is one finisher of a training session.
type PositionSample struct {
	Aggregates model.RaceAggregates
	Position   int     // finishing position
	TimeDelta  float64 // total race time minus the field median, seconds
}

// PositionSamples joins aggregates with the race results. Low confidence
// aggregates and drivers who did not complete the full distance are left out.
func PositionSamples(aggs []model.RaceAggregates, results []model.RaceResult) []PositionSample {
	full := make(map[string]model.RaceResult)
	totals := make([]float64, 0, len(results))
	for _, r := range results {
		if r.GapToLeader.IsValue() {
			full[r.Driver] = r
			totals = append(totals, r.TotalTime)
		}
	}
	if len(totals) == 0 {
		return nil
	}
	slices.Sort(totals)
	med := stat.Quantile(0.5, stat.Empirical, totals, nil)
	ret := make([]PositionSample, 0, len(aggs))
	for _, a := range aggs {
		r, ok := full[a.Driver]
		if !ok || a.Validity != model.Valid {
			continue
		}
		ret = append(ret, PositionSample{Aggregates: a, Position: r.Position, TimeDelta: r.TotalTime - med})
	}
	return ret
}

type PositionConfig struct {
	Lambda     float64
	MinSamples int
}

func DefaultPositionConfig() PositionConfig {
	return PositionConfig{Lambda: 1.0, MinSamples: len(model.AggregateFeatures) + 2}
}

// PositionModel predicts a finishing position score and a time delta from
// race aggregates. All coefficients are non-negative: improving a feature
// never makes the prediction worse. Frozen after fitting.
type PositionModel struct {
	Features  []string `json:"features"`
	ScoreHead *Linear  `json:"score"`
	TimeHead  *Linear  `json:"time"`
	Samples   int      `json:"samples"`
	Sessions  int      `json:"sessions"`
}

func FitPosition(samples []PositionSample, cfg PositionConfig) (*PositionModel, error) {
	if len(samples) < cfg.MinSamples {
		return nil, fmt.Errorf("position model: %d samples, need %d: %w",
			len(samples), cfg.MinSamples, model.ErrInsufficientData)
	}
	x := make([][]float64, len(samples))
	pos := make([]float64, len(samples))
	dt := make([]float64, len(samples))
	sessions := make(map[string]struct{})
	for i, s := range samples {
		x[i] = s.Aggregates.Vector()
		pos[i] = float64(s.Position)
		dt[i] = s.TimeDelta
		sessions[s.Aggregates.Session] = struct{}{}
	}
	score, err := fitRidge(x, pos, cfg.Lambda, true)
	if err != nil {
		return nil, err
	}
	tm, err := fitRidge(x, dt, cfg.Lambda, true)
	if err != nil {
		return nil, err
	}
	return &PositionModel{
		Features:  slices.Clone(model.AggregateFeatures),
		ScoreHead: score,
		TimeHead:  tm,
		Samples:   len(samples),
		Sessions:  len(sessions),
	}, nil
}

func (m *PositionModel) check() error {
	if m == nil || m.ScoreHead == nil || m.TimeHead == nil {
		return model.ErrModelNotTrained
	}
	if !slices.Equal(m.Features, model.AggregateFeatures) {
		return fmt.Errorf("model features %v differ from %v: %w",
			m.Features, model.AggregateFeatures, model.ErrInvalidInput)
	}
	return nil
}

// Score returns the continuous position estimate. Lower is better.
func (m *PositionModel) Score(a model.RaceAggregates) (float64, error) {
	if err := m.check(); err != nil {
		return 0, err
	}
	return m.ScoreHead.Eval(a.Vector()), nil
}

// TimeDelta returns the estimated total time versus the field median.
func (m *PositionModel) TimeDelta(a model.RaceAggregates) (float64, error) {
	if err := m.check(); err != nil {
		return 0, err
	}
	return m.TimeHead.Eval(a.Vector()), nil
}

type PositionPrediction struct {
	Driver    string         `json:"driver"`
	Score     float64        `json:"score"`
	Position  int            `json:"position"`
	TimeDelta float64        `json:"timeDelta"`
	Validity  model.Validity `json:"validity"`
	Reasons   []string       `json:"reasons,omitempty"`
}

// PredictOrder predicts the finishing order of a field.
func (m *PositionModel) PredictOrder(aggs []model.RaceAggregates) ([]PositionPrediction, error) {
	if err := m.check(); err != nil {
		return nil, err
	}
	ret := make([]PositionPrediction, len(aggs))
	scores := make([]float64, len(aggs))
	for i, a := range aggs {
		scores[i] = m.ScoreHead.Eval(a.Vector())
		ret[i] = PositionPrediction{
			Driver:    a.Driver,
			Score:     scores[i],
			TimeDelta: m.TimeHead.Eval(a.Vector()),
			Validity:  a.Validity,
			Reasons:   a.Reasons,
		}
	}
	for i := range ret {
		ret[i].Position = PositionWithin(scores[i], append(slices.Clone(scores[:i]), scores[i+1:]...))
	}
	sort.SliceStable(ret, func(i, j int) bool { return ret[i].Score < ret[j].Score })
	return ret, nil
}

// PositionWithin is 1 + the number of other scores that are strictly lower.
func PositionWithin(score float64, others []float64) int {
	ret := 1
	for _, o := range others {
		if o < score {
			ret++
		}
	}
	return ret
}
