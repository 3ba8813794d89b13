//nolint:funlen // ok for tests
package counterfactual

import (
	"context"
	"sync"
	"testing"

	"github.com/aarondl/opt/null"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpapenbr/iracelog-racemodel/pkg/counterfactual/policy"
	"github.com/mpapenbr/iracelog-racemodel/pkg/features"
	"github.com/mpapenbr/iracelog-racemodel/pkg/model"
	"github.com/mpapenbr/iracelog-racemodel/pkg/predict"
	"github.com/mpapenbr/iracelog-racemodel/testsupport/basedata"
)

func aggregates(t *testing.T, s *model.Session) []model.RaceAggregates {
	t.Helper()
	rows, err := features.NewBuilder(features.DefaultConfig()).Build(context.Background(), s)
	require.NoError(t, err)
	return features.AggregateSession(rows, features.DefaultConfig())
}

var trainOnce = sync.OnceValues(func() (*predict.PositionModel, error) {
	b := features.NewBuilder(features.DefaultConfig())
	samples := []predict.PositionSample{}
	for _, s := range basedata.TrainingCorpus(6) {
		rows, err := b.Build(context.Background(), s)
		if err != nil {
			return nil, err
		}
		aggs := features.AggregateSession(rows, features.DefaultConfig())
		samples = append(samples, predict.PositionSamples(aggs, s.Results)...)
	}
	return predict.FitPosition(samples, predict.DefaultPositionConfig())
})

func trainedModel(t *testing.T) *predict.PositionModel {
	t.Helper()
	m, err := trainOnce()
	require.NoError(t, err)
	return m
}

func TestSimulate_ConcreteScenario(t *testing.T) {
	sim, err := NewSimulator(trainedModel(t), aggregates(t, basedata.ConcreteScenario()))
	require.NoError(t, err)

	sc := percentile("match-median-degradation", model.FeatureDegradation, 0.5)
	o, err := sim.Simulate(context.Background(), "A", sc)
	require.NoError(t, err)

	assert.Equal(t, "concrete", o.Session)
	assert.InDelta(t, 0.0, o.Applied[model.FeatureDegradation], 1e-9)
	assert.Positive(t, o.PositionGain)
	assert.Less(t, o.PredictedScore, o.BaselineScore)
	assert.LessOrEqual(t, o.PredictedPosition, o.BaselinePosition)
	assert.Negative(t, o.TimeDelta)
	assert.Equal(t, model.Valid, o.Validity)
}

func TestSimulate_Monotonicity(t *testing.T) {
	field := aggregates(t, basedata.RandomSession("mono", 77, 10, 25))
	sim, err := NewSimulator(trainedModel(t), field)
	require.NoError(t, err)

	for _, a := range field {
		for _, f := range model.AggregateFeatures {
			improve := []model.InterventionScenario{
				percentile("p10", f, 0.1),
				percentile("p90", f, 0.9), // improve-to keeps the actual value
				{
					Name:         "exact-lower",
					Exact:        true,
					Replacements: []model.Replacement{{Feature: f, Value: null.From(mustValue(t, a, f) - 0.5)}},
				},
			}
			for _, sc := range improve {
				o, err := sim.Simulate(context.Background(), a.Driver, sc)
				require.NoError(t, err)
				assert.GreaterOrEqual(t, o.PositionGain, 0.0, "%s %s %s", a.Driver, f, sc.Name)
				assert.LessOrEqual(t, o.PredictedPosition, o.BaselinePosition,
					"%s %s %s", a.Driver, f, sc.Name)
				assert.LessOrEqual(t, o.TimeDelta, 1e-9)
			}
		}
	}
}

func mustValue(t *testing.T, a model.RaceAggregates, f string) float64 {
	t.Helper()
	v, err := a.Value(f)
	require.NoError(t, err)
	return v
}

func TestSimulate_ExactAllowsWorse(t *testing.T) {
	field := aggregates(t, basedata.RandomSession("worse", 78, 10, 25))
	sim, err := NewSimulator(trainedModel(t), field)
	require.NoError(t, err)

	a := field[0]
	sc := model.InterventionScenario{
		Name:  "worse",
		Exact: true,
		Replacements: []model.Replacement{
			{Feature: model.FeaturePaceLate, Value: null.From(a.PaceLate + 2)},
		},
	}
	o, err := sim.Simulate(context.Background(), a.Driver, sc)
	require.NoError(t, err)
	assert.LessOrEqual(t, o.PositionGain, 0.0)
	assert.GreaterOrEqual(t, o.PredictedPosition, o.BaselinePosition)
}

func TestSimulate_Errors(t *testing.T) {
	_, err := NewSimulator(nil, nil)
	assert.ErrorIs(t, err, model.ErrModelNotTrained)

	sim, err := NewSimulator(trainedModel(t), aggregates(t, basedata.ConcreteScenario()))
	require.NoError(t, err)

	_, err = sim.Simulate(context.Background(), "nobody", percentile("x", model.FeatureDegradation, 0.5))
	assert.ErrorIs(t, err, model.ErrInvalidInput)

	_, err = sim.Simulate(context.Background(), "A",
		percentile("derived", model.FeatureTotalRelativeTime, 0.5))
	assert.ErrorIs(t, err, policy.ErrScenarioRejected)
}

func TestRank(t *testing.T) {
	sim, err := NewSimulator(trainedModel(t), aggregates(t, basedata.ConcreteScenario()))
	require.NoError(t, err)

	scenarios := append(BuiltinScenarios(), percentile("derived", model.FeaturePaceOverall, 0.5))
	ranked, err := sim.Rank(context.Background(), "A", scenarios)
	require.NoError(t, err)
	assert.Len(t, ranked, len(BuiltinScenarios()))
	for i := 1; i < len(ranked); i++ {
		assert.GreaterOrEqual(t, ranked[i-1].PositionGain, ranked[i].PositionGain)
	}
	for _, o := range ranked {
		assert.NotEqual(t, "derived", o.Scenario)
	}
}

func TestBuiltinScenariosPassPolicy(t *testing.T) {
	e, err := policy.Default()
	require.NoError(t, err)
	for _, sc := range BuiltinScenarios() {
		assert.NoError(t, e.Check(context.Background(), sc), sc.Name)
	}
}

func TestParseCatalog(t *testing.T) {
	data := `
[[scenario]]
name = "match-p10-degradation"
  [[scenario.replace]]
  feature = "degradation"
  percentile = 0.10

[[scenario]]
name = "no-traffic"
exact = true
  [[scenario.replace]]
  feature = "traffic_laps"
  value = 0.0
`
	got, err := ParseCatalog(data)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "match-p10-degradation", got[0].Name)
	assert.InDelta(t, 0.1, got[0].Replacements[0].Percentile.MustGet(), 1e-12)
	assert.True(t, got[0].Replacements[0].Value.IsNull())
	assert.True(t, got[1].Exact)
	assert.Equal(t, 0.0, got[1].Replacements[0].Value.MustGet())

	_, err = ParseCatalog("[[scenario]]\nname = \"x\"\nfoo = 1\n")
	assert.ErrorIs(t, err, model.ErrInvalidInput)
	_, err = ParseCatalog("[[scenario]]\nexact = true\n")
	assert.ErrorIs(t, err, model.ErrInvalidInput)
}
