// Package artifacttest holds the behavior tests every artifact.Store
// implementation has to pass.
//
//nolint:funlen // test suite
package artifacttest

import (
	"context"
	"testing"
	"time"

	"github.com/aarondl/opt/null"
	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpapenbr/iracelog-racemodel/pkg/metrics"
	"github.com/mpapenbr/iracelog-racemodel/pkg/model"
	"github.com/mpapenbr/iracelog-racemodel/pkg/predict"
	"github.com/mpapenbr/iracelog-racemodel/pkg/repository/artifact"
)

func SampleClassification(corpus, schemaVersion string) *model.Classification {
	return &model.Classification{
		SchemaVersion: schemaVersion,
		Corpus:        corpus,
		Thresholds:    model.DefaultThresholds(),
		Entries: []model.ClassEntry{
			{
				Metric: metrics.MetricBrakePeakCV, Class: model.ClassProfile,
				Ratio: null.From(2.4), CrossSD: 0.12, WithinSD: 0.05, Groups: 12, Sufficient: true,
			},
			{
				Metric: metrics.MetricSteeringRate, Class: model.ClassState,
				Ratio: null.From(0.4), CrossSD: 2, WithinSD: 5, Groups: 12, Sufficient: true,
			},
		},
	}
}

func SampleNextLap() *predict.NextLapModel {
	return &predict.NextLapModel{
		Kind: predict.KindBaseline, Weight: 0.65, Sigma: 0.21,
		WarmupLaps: 3, Window: 3, Z: 1.645, Samples: 480,
	}
}

func SamplePosition() *predict.PositionModel {
	n := len(model.AggregateFeatures)
	lin := func(c float64) *predict.Linear {
		ret := &predict.Linear{
			Mean: make([]float64, n), Scale: make([]float64, n),
			Coef: make([]float64, n), Intercept: c,
		}
		for i := range n {
			ret.Scale[i] = 1
			ret.Coef[i] = 0.1 * float64(i)
		}
		return ret
	}
	return &predict.PositionModel{
		Features:  model.AggregateFeatures,
		ScoreHead: lin(5.5),
		TimeHead:  lin(0),
		Samples:   60,
		Sessions:  6,
	}
}

// Run exercises st. The store has to be empty.
func Run(t *testing.T, st artifact.Store) {
	t.Helper()
	ctx := context.Background()
	version := metrics.CurrentSchema().Version
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("not found", func(t *testing.T) {
		_, err := st.LatestModel(ctx, artifact.KindNextLap, "none")
		require.ErrorIs(t, err, artifact.ErrNotFound)
		_, err = st.LoadModel(ctx, uuid.Must(uuid.NewV4()))
		require.ErrorIs(t, err, artifact.ErrNotFound)
		_, err = st.LatestClassification(ctx, "none")
		require.ErrorIs(t, err, artifact.ErrNotFound)
	})

	t.Run("models", func(t *testing.T) {
		older, err := artifact.NewNextLap("c1", version, SampleNextLap())
		require.NoError(t, err)
		older.Created = base
		require.NoError(t, st.SaveModel(ctx, older))
		assert.False(t, older.ID.IsNil())

		m := SampleNextLap()
		m.Weight = 0.7
		newer, err := artifact.NewNextLap("c1", version, m)
		require.NoError(t, err)
		newer.Created = base.Add(time.Hour)
		require.NoError(t, st.SaveModel(ctx, newer))

		pos, err := artifact.NewPosition("c1", version, SamplePosition())
		require.NoError(t, err)
		pos.Created = base
		require.NoError(t, st.SaveModel(ctx, pos))

		latest, err := st.LatestModel(ctx, artifact.KindNextLap, "c1")
		require.NoError(t, err)
		assert.Equal(t, newer.ID, latest.ID)
		assert.True(t, newer.Created.Equal(latest.Created))
		got, err := latest.NextLap()
		require.NoError(t, err)
		assert.InDelta(t, 0.7, got.Weight, 1e-12)

		loaded, err := st.LoadModel(ctx, older.ID)
		require.NoError(t, err)
		assert.Equal(t, artifact.KindNextLap, loaded.Kind)
		assert.Equal(t, "c1", loaded.Corpus)

		list, err := st.ListModels(ctx, artifact.KindNextLap)
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, newer.ID, list[0].ID)

		next, position, err := artifact.LoadModels(ctx, st, "c1", metrics.CurrentSchema())
		require.NoError(t, err)
		assert.InDelta(t, 0.7, next.Weight, 1e-12)
		assert.Equal(t, model.AggregateFeatures, position.Features)
	})

	t.Run("classification", func(t *testing.T) {
		older := artifact.NewClassification(SampleClassification("c2", version))
		older.Created = base
		require.NoError(t, st.SaveClassification(ctx, older))
		newer := artifact.NewClassification(SampleClassification("c2", version))
		newer.Classification.Entries = newer.Classification.Entries[:1]
		newer.Created = base.Add(time.Minute)
		require.NoError(t, st.SaveClassification(ctx, newer))

		c, err := artifact.LoadClassification(ctx, st, "c2", metrics.CurrentSchema())
		require.NoError(t, err)
		require.Len(t, c.Entries, 1)
		assert.Equal(t, model.ClassProfile, c.Entries[0].Class)
		assert.InDelta(t, 2.4, c.Entries[0].Ratio.MustGet(), 1e-12)
	})

	t.Run("incompatible schema", func(t *testing.T) {
		a := artifact.NewClassification(SampleClassification("c3", "v0.9.0"))
		require.NoError(t, st.SaveClassification(ctx, a))
		_, err := artifact.LoadClassification(ctx, st, "c3", metrics.CurrentSchema())
		require.ErrorIs(t, err, artifact.ErrIncompatible)
		require.ErrorIs(t, err, model.ErrInvalidInput)

		m, err := artifact.NewNextLap("c3", "v0.9.0", SampleNextLap())
		require.NoError(t, err)
		require.NoError(t, st.SaveModel(ctx, m))
		_, _, err = artifact.LoadModels(ctx, st, "c3", metrics.CurrentSchema())
		require.ErrorIs(t, err, artifact.ErrIncompatible)
	})
}
