package predict

import (
	"errors"
	"fmt"
	"math"
	"slices"

	"github.com/samber/lo"

	"github.com/mpapenbr/iracelog-racemodel/pkg/model"
)

type CVReport struct {
	Folds   []FoldError `json:"folds"`
	MeanMAE float64     `json:"meanMae"` // mean absolute position error over all folds
}

// LeaveOneSessionOut fits the position model once per session on all other
// sessions and measures the position error on the held-out session. The
// actual position is ranked within the held-out samples so that it is
// comparable to the predicted rank.
func LeaveOneSessionOut(samples []PositionSample, cfg PositionConfig) (*CVReport, error) {
	sessions := lo.Uniq(lo.Map(samples, func(s PositionSample, _ int) string {
		return s.Aggregates.Session
	}))
	slices.Sort(sessions)
	if len(sessions) < 2 {
		return nil, fmt.Errorf("cross validation needs 2 sessions, got %d: %w",
			len(sessions), model.ErrInsufficientData)
	}
	ret := &CVReport{}
	sum, n := 0.0, 0
	for _, s := range sessions {
		train := lo.Filter(samples, func(x PositionSample, _ int) bool { return x.Aggregates.Session != s })
		test := lo.Filter(samples, func(x PositionSample, _ int) bool { return x.Aggregates.Session == s })
		m, err := FitPosition(train, cfg)
		if err != nil {
			if errors.Is(err, model.ErrInsufficientData) {
				continue
			}
			return nil, err
		}
		pred, err := m.PredictOrder(lo.Map(test, func(x PositionSample, _ int) model.RaceAggregates {
			return x.Aggregates
		}))
		if err != nil {
			return nil, err
		}
		actual := make([]float64, len(test))
		for i := range test {
			actual[i] = float64(test[i].Position)
		}
		foldSum := 0.0
		for i := range test {
			p, _ := lo.Find(pred, func(x PositionPrediction) bool {
				return x.Driver == test[i].Aggregates.Driver
			})
			others := append(slices.Clone(actual[:i]), actual[i+1:]...)
			foldSum += math.Abs(float64(p.Position - PositionWithin(actual[i], others)))
		}
		ret.Folds = append(ret.Folds, FoldError{Session: s, N: len(test), MAE: foldSum / float64(len(test))})
		sum += foldSum
		n += len(test)
	}
	if n == 0 {
		return nil, fmt.Errorf("no fold could be evaluated: %w", model.ErrInsufficientData)
	}
	ret.MeanMAE = sum / float64(n)
	return ret, nil
}
