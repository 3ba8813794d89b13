package compare

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpapenbr/iracelog-racemodel/pkg/features"
	"github.com/mpapenbr/iracelog-racemodel/pkg/model"
	"github.com/mpapenbr/iracelog-racemodel/testsupport/basedata"
)

func analyze(t *testing.T, s *model.Session) []model.ComparisonResult {
	t.Helper()
	rows, err := features.NewBuilder(features.DefaultConfig()).Build(context.Background(), s)
	require.NoError(t, err)
	ret, err := Analyze(s.Results, rows, features.DefaultConfig())
	require.NoError(t, err)
	return ret
}

func assertConsistent(t *testing.T, res []model.ComparisonResult) {
	t.Helper()
	for _, c := range res {
		diff := c.ComponentSum().Add(c.Residual).Sub(c.TotalGap).Abs()
		assert.True(t, diff.LessThanOrEqual(model.ComparisonTolerance),
			"%s: components %s + residual %s != total %s",
			c.Driver, c.ComponentSum(), c.Residual, c.TotalGap)
		assert.True(t, c.Approximation)
		assert.Len(t, c.Components, 5)
	}
}

func byDriver(res []model.ComparisonResult, driver string) model.ComparisonResult {
	for _, c := range res {
		if c.Driver == driver {
			return c
		}
	}
	return model.ComparisonResult{}
}

func component(c model.ComparisonResult, name string) decimal.Decimal {
	for _, comp := range c.Components {
		if comp.Name == name {
			return comp.Seconds
		}
	}
	return decimal.Zero
}

func TestAnalyze_ConcreteScenario(t *testing.T) {
	res := analyze(t, basedata.ConcreteScenario())
	require.Len(t, res, 7)
	assertConsistent(t, res)

	leader := res[0]
	assert.Equal(t, "fast1", leader.Driver)
	assert.Equal(t, "fast2", leader.Reference)
	assert.True(t, leader.MarginOfVictory)
	assert.Equal(t, -1, leader.PositionGap)
	assert.True(t, leader.TotalGap.Equal(decimal.RequireFromString("-4")), leader.TotalGap.String())

	a := byDriver(res, "A")
	assert.Equal(t, "concrete", a.Session)
	assert.Equal(t, 5, a.Position)
	assert.Equal(t, "median", a.Reference)
	assert.Equal(t, 4, a.ReferencePosition)
	assert.False(t, a.MarginOfVictory)
	assert.True(t, a.TotalGap.Equal(decimal.RequireFromString("2.5")), a.TotalGap.String())
	assert.True(t, component(a, model.ComponentDegradation).IsPositive())
	// all laps are usable and common, nothing left for the residual
	assert.True(t, a.Residual.Abs().LessThanOrEqual(decimal.RequireFromString("0.005")),
		a.Residual.String())
}

func TestAnalyze_RandomSessions(t *testing.T) {
	for _, s := range basedata.TrainingCorpus(4) {
		t.Run(s.ID, func(t *testing.T) {
			res := analyze(t, s)
			assert.Len(t, res, len(s.Results))
			assertConsistent(t, res)
		})
	}
}

func TestAnalyze_Lapped(t *testing.T) {
	spec := basedata.SessionSpec{
		ID:          "lapped",
		Laps:        12,
		BaseLapTime: 90,
		Seed:        3,
		Drivers: []basedata.DriverSpec{
			{ID: "a"},
			{ID: "b", Offset: 0.3},
			{ID: "c", Offset: 0.5, RetiredAfter: 8},
		},
	}
	res := analyze(t, basedata.NewSession(spec))
	assertConsistent(t, res)
	c := byDriver(res, "c")
	assert.Equal(t, "b", c.Reference)
	assert.Equal(t, model.LowConfidence, c.Validity)
	assert.Contains(t, c.Reasons, ReasonLapped)
}

func TestAnalyze_Errors(t *testing.T) {
	_, err := Analyze([]model.RaceResult{{Driver: "a", Position: 1}}, nil, features.DefaultConfig())
	assert.ErrorIs(t, err, model.ErrInsufficientData)

	_, err = Analyze([]model.RaceResult{
		{Driver: "a", Position: 1},
		{Driver: "b", Position: 1},
	}, nil, features.DefaultConfig())
	assert.ErrorIs(t, err, model.ErrInvalidInput)
}

func TestAnalyze_NoRows(t *testing.T) {
	res, err := Analyze([]model.RaceResult{
		{Driver: "a", Position: 1, TotalTime: 100},
		{Driver: "b", Position: 2, TotalTime: 101.25},
	}, nil, features.DefaultConfig())
	require.NoError(t, err)
	assertConsistent(t, res)
	assert.True(t, res[1].Residual.Equal(decimal.RequireFromString("1.25")))
	assert.Equal(t, model.LowConfidence, res[1].Validity)
}
