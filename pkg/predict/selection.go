package predict

import (
	"errors"
	"fmt"
	"slices"

	"github.com/samber/lo"

	"github.com/mpapenbr/iracelog-racemodel/log"
	"github.com/mpapenbr/iracelog-racemodel/pkg/model"
)

type FoldError struct {
	Session string  `json:"session"`
	N       int     `json:"n"`
	MAE     float64 `json:"mae"`
}

type Selection struct {
	Selected     Kind        `json:"selected"`
	BaselineMAE  float64     `json:"baselineMae"`
	CandidateMAE float64     `json:"candidateMae"` // 0 if the candidate could not be fitted
	Baseline     []FoldError `json:"baseline"`
	Candidate    []FoldError `json:"candidate"`
}

func sessionsOf(rows []model.RaceFeatureRow) []string {
	ret := lo.Uniq(lo.Map(rows, func(r model.RaceFeatureRow, _ int) string { return r.Session }))
	slices.Sort(ret)
	return ret
}

func splitSession(rows []model.RaceFeatureRow, session string) (train, test []model.RaceFeatureRow) {
	for i := range rows {
		if rows[i].Session == session {
			test = append(test, rows[i])
		} else {
			train = append(train, rows[i])
		}
	}
	return train, test
}

// SelectNextLap compares the baseline and the ridge candidate with
// leave-one-session-out validation. The candidate is only selected if its
// held-out error is strictly below the baseline's. The selected kind is
// refitted on all rows.
//
//nolint:funlen // ok
func SelectNextLap(rows []model.RaceFeatureRow, cfg NextLapConfig) (
	*NextLapModel, *Selection, error,
) {
	l := log.Default().Named("predict")
	sessions := sessionsOf(rows)
	if len(sessions) < 2 {
		return nil, nil, fmt.Errorf("model selection needs 2 sessions, got %d: %w",
			len(sessions), model.ErrInsufficientData)
	}
	sel := &Selection{Selected: KindBaseline}
	var bSum, cSum float64
	var bN, cN int
	candidateOK := true
	for _, s := range sessions {
		train, test := splitSession(rows, s)
		b, err := FitNextLap(train, cfg)
		if err != nil {
			if errors.Is(err, model.ErrInsufficientData) {
				l.Debug("skipping fold", log.String("session", s), log.ErrorField(err))
				continue
			}
			return nil, nil, err
		}
		mae, n := b.Evaluate(test)
		sel.Baseline = append(sel.Baseline, FoldError{Session: s, N: n, MAE: mae})
		bSum += mae * float64(n)
		bN += n

		if !candidateOK {
			continue
		}
		c, err := FitCandidate(train, cfg)
		if err != nil {
			// a candidate that cannot be fitted on every fold is rejected
			l.Debug("candidate rejected", log.String("session", s), log.ErrorField(err))
			if errors.Is(err, model.ErrUnvalidatedMetric) {
				return nil, nil, err
			}
			candidateOK = false
			continue
		}
		mae, n = c.Evaluate(test)
		sel.Candidate = append(sel.Candidate, FoldError{Session: s, N: n, MAE: mae})
		cSum += mae * float64(n)
		cN += n
	}
	if bN == 0 {
		return nil, nil, fmt.Errorf("no held-out predictions: %w", model.ErrInsufficientData)
	}
	sel.BaselineMAE = bSum / float64(bN)
	if candidateOK && cN == bN {
		sel.CandidateMAE = cSum / float64(cN)
		if sel.CandidateMAE < sel.BaselineMAE {
			sel.Selected = KindRidge
		}
	}
	l.Info("next lap model selected",
		log.String("kind", string(sel.Selected)),
		log.Float64("baselineMAE", sel.BaselineMAE),
		log.Float64("candidateMAE", sel.CandidateMAE))

	var m *NextLapModel
	var err error
	if sel.Selected == KindRidge {
		m, err = FitCandidate(rows, cfg)
	} else {
		m, err = FitNextLap(rows, cfg)
	}
	if err != nil {
		return nil, nil, err
	}
	return m, sel, nil
}
