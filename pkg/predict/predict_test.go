//nolint:funlen // ok for tests
package predict

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpapenbr/iracelog-racemodel/pkg/features"
	"github.com/mpapenbr/iracelog-racemodel/pkg/metrics"
	"github.com/mpapenbr/iracelog-racemodel/pkg/model"
	"github.com/mpapenbr/iracelog-racemodel/testsupport/basedata"
)

func sessionRows(t *testing.T, sessions ...*model.Session) []model.RaceFeatureRow {
	t.Helper()
	b := features.NewBuilder(features.DefaultConfig())
	ret := []model.RaceFeatureRow{}
	for _, s := range sessions {
		rows, err := b.Build(context.Background(), s)
		require.NoError(t, err)
		ret = append(ret, rows...)
	}
	return ret
}

func positionSamples(t *testing.T, sessions ...*model.Session) []PositionSample {
	t.Helper()
	ret := []PositionSample{}
	for _, s := range sessions {
		aggs := features.AggregateSession(sessionRows(t, s), features.DefaultConfig())
		ret = append(ret, PositionSamples(aggs, s.Results)...)
	}
	return ret
}

func TestRelativeBeatsAbsolute(t *testing.T) {
	train := sessionRows(t, basedata.TrainingCorpus(6)...)
	holdout := sessionRows(t, basedata.RandomSession("holdout", 999, 10, 25))

	rel, err := FitNextLap(train, DefaultNextLapConfig())
	require.NoError(t, err)
	abs, err := FitAbsolute(train, DefaultNextLapConfig())
	require.NoError(t, err)

	relMAE, relN := rel.Evaluate(holdout)
	absMAE, absN := abs.Evaluate(holdout)
	require.Positive(t, relN)
	assert.Equal(t, relN, absN)
	t.Logf("relative MAE %.3f, absolute MAE %.3f", relMAE, absMAE)
	// documented margin: at least a 2x reduction
	assert.Less(t, relMAE, 0.5*absMAE)
}

func TestPredict_IntervalWidens(t *testing.T) {
	train := sessionRows(t, basedata.TrainingCorpus(3)...)
	m, err := FitNextLap(train, DefaultNextLapConfig())
	require.NoError(t, err)
	require.Positive(t, m.Sigma)

	history := features.ByDriver(train)["train00-d03"][:8]
	prev := 0.0
	for h := 1; h <= 5; h++ {
		p, err := m.Predict(history, h)
		require.NoError(t, err)
		width := p.Upper - p.Lower
		assert.Greater(t, width, prev, "horizon %d", h)
		assert.Equal(t, history[7].Lap+h, p.Lap)
		assert.Equal(t, string(KindBaseline), p.Model)
		assert.InDelta(t, p.Value, (p.Upper+p.Lower)/2, 1e-9)
		prev = width
	}
	_, err = m.Predict(history, 0)
	assert.ErrorIs(t, err, model.ErrInvalidInput)
}

func TestPredict_InsufficientHistory(t *testing.T) {
	train := sessionRows(t, basedata.TrainingCorpus(2)...)
	m, err := FitNextLap(train, DefaultNextLapConfig())
	require.NoError(t, err)

	history := features.ByDriver(train)["train00-d01"][:2]
	_, err = m.Predict(history, 1)
	assert.ErrorIs(t, err, model.ErrInsufficientHistory)
	assert.ErrorIs(t, err, model.ErrInsufficientData)

	_, err = m.Predict(nil, 1)
	assert.ErrorIs(t, err, model.ErrInsufficientHistory)
}

func TestModelNotTrained(t *testing.T) {
	var nl *NextLapModel
	_, err := nl.Predict(nil, 1)
	assert.ErrorIs(t, err, model.ErrModelNotTrained)

	var pm *PositionModel
	_, err = pm.Score(model.RaceAggregates{})
	assert.ErrorIs(t, err, model.ErrModelNotTrained)
	_, err = pm.PredictOrder(nil)
	assert.ErrorIs(t, err, model.ErrModelNotTrained)
}

func TestFitNextLap_InsufficientData(t *testing.T) {
	rows := sessionRows(t, basedata.RandomSession("tiny", 1, 2, 4))
	_, err := FitNextLap(rows, DefaultNextLapConfig())
	assert.ErrorIs(t, err, model.ErrInsufficientData)
}

func TestSelectNextLap(t *testing.T) {
	rows := sessionRows(t, basedata.TrainingCorpus(4)...)
	m, sel, err := SelectNextLap(rows, DefaultNextLapConfig())
	require.NoError(t, err)
	assert.Len(t, sel.Baseline, 4)
	assert.Positive(t, sel.BaselineMAE)
	assert.Equal(t, sel.Selected, m.Kind)
	if sel.Selected == KindRidge {
		assert.Less(t, sel.CandidateMAE, sel.BaselineMAE)
	} else {
		assert.Equal(t, KindBaseline, m.Kind)
	}

	_, _, err = SelectNextLap(sessionRows(t, basedata.RandomSession("one", 1, 5, 20)),
		DefaultNextLapConfig())
	assert.ErrorIs(t, err, model.ErrInsufficientData)
}

func TestFitCandidate_Metrics(t *testing.T) {
	rows := sessionRows(t, basedata.TrainingCorpus(2)...)
	cfg := DefaultNextLapConfig()
	cfg.Metrics = []string{metrics.MetricBrakePeakCV}

	_, err := FitCandidate(rows, cfg)
	assert.ErrorIs(t, err, model.ErrUnvalidatedMetric)

	report := &metrics.ValidationReport{
		SchemaVersion: metrics.SchemaVersion,
		Metrics: []metrics.MetricValidation{
			{Metric: metrics.MetricBrakePeakCV, Status: metrics.StatusValidated},
		},
	}
	cfg.Registry = metrics.NewRegistry(metrics.CurrentSchema(), report)
	m, err := FitCandidate(rows, cfg)
	require.NoError(t, err)
	assert.Equal(t, KindRidge, m.Kind)
	assert.Len(t, m.Linear.Coef, 8)

	history := features.ByDriver(rows)["train01-d02"][:10]
	p, err := m.Predict(history, 2)
	require.NoError(t, err)
	assert.Equal(t, string(KindRidge), p.Model)

	cfg.Metrics = []string{metrics.MetricSteeringRate}
	_, _, err = SelectNextLap(rows, cfg)
	var uv *model.UnvalidatedMetricError
	assert.True(t, errors.As(err, &uv))
}

func TestFitRidge_NonNegative(t *testing.T) {
	// y = x0 - 0.5*x1
	x := [][]float64{{1, 1}, {2, -1}, {3, 1}, {4, -1}, {5, 1}, {6, -1}}
	y := []float64{0.5, 2.5, 2.5, 4.5, 4.5, 6.5}
	free, err := fitRidge(x, y, 0.1, false)
	require.NoError(t, err)
	assert.Positive(t, free.Coef[0])
	assert.Negative(t, free.Coef[1])

	nn, err := fitRidge(x, y, 0.1, true)
	require.NoError(t, err)
	assert.Positive(t, nn.Coef[0])
	assert.Equal(t, 0.0, nn.Coef[1])
	assert.InDelta(t, 3.5, nn.Intercept, 1e-9)
}

func TestPositionModel(t *testing.T) {
	samples := positionSamples(t, basedata.TrainingCorpus(6)...)
	m, err := FitPosition(samples, DefaultPositionConfig())
	require.NoError(t, err)
	assert.Equal(t, 6, m.Sessions)
	for i, c := range m.ScoreHead.Coef {
		assert.GreaterOrEqual(t, c, 0.0, model.AggregateFeatures[i])
	}
	for i, c := range m.TimeHead.Coef {
		assert.GreaterOrEqual(t, c, 0.0, model.AggregateFeatures[i])
	}

	holdout := basedata.RandomSession("holdout", 999, 10, 25)
	aggs := features.AggregateSession(sessionRows(t, holdout), features.DefaultConfig())
	order, err := m.PredictOrder(aggs)
	require.NoError(t, err)
	require.Len(t, order, 10)
	for i := 1; i < len(order); i++ {
		assert.LessOrEqual(t, order[i-1].Score, order[i].Score)
		assert.LessOrEqual(t, order[i-1].Position, order[i].Position)
	}
	assert.Equal(t, 1, order[0].Position)
}

func TestLeaveOneSessionOut(t *testing.T) {
	samples := positionSamples(t, basedata.TrainingCorpus(5)...)
	report, err := LeaveOneSessionOut(samples, DefaultPositionConfig())
	require.NoError(t, err)
	assert.Len(t, report.Folds, 5)
	for _, f := range report.Folds {
		assert.Positive(t, f.N)
	}
	t.Logf("LOSO position MAE %.3f", report.MeanMAE)
	// random ordering of 10 cars is off by about 3.3 positions
	assert.Less(t, report.MeanMAE, 2.0)

	_, err = LeaveOneSessionOut(samples[:5], DefaultPositionConfig())
	assert.ErrorIs(t, err, model.ErrInsufficientData)
}
