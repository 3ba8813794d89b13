package artifact_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpapenbr/iracelog-racemodel/pkg/metrics"
	"github.com/mpapenbr/iracelog-racemodel/pkg/model"
	"github.com/mpapenbr/iracelog-racemodel/pkg/repository/artifact"
	"github.com/mpapenbr/iracelog-racemodel/pkg/repository/artifact/artifacttest"
)

func TestModelArtifact(t *testing.T) {
	a, err := artifact.NewPosition("corpus", metrics.SchemaVersion, artifacttest.SamplePosition())
	require.NoError(t, err)
	assert.Equal(t, artifact.KindPosition, a.Kind)

	m, err := a.Position()
	require.NoError(t, err)
	assert.Equal(t, artifacttest.SamplePosition(), m)

	_, err = a.NextLap()
	assert.ErrorIs(t, err, model.ErrInvalidInput)
}

func TestCheckSchema(t *testing.T) {
	s := metrics.CurrentSchema()
	tests := []struct {
		version string
		wantErr bool
	}{
		{s.Version, false},
		{"v1.1.7", false},
		{"v1.0.0", true},
		{"v2.1.0", true},
		{"garbage", true},
	}
	for _, tt := range tests {
		t.Run(tt.version, func(t *testing.T) {
			m := &artifact.ModelArtifact{SchemaVersion: tt.version}
			c := artifact.NewClassification(artifacttest.SampleClassification("c", tt.version))
			if tt.wantErr {
				assert.ErrorIs(t, m.CheckSchema(s), artifact.ErrIncompatible)
				assert.ErrorIs(t, c.CheckSchema(s), artifact.ErrIncompatible)
			} else {
				assert.NoError(t, m.CheckSchema(s))
				assert.NoError(t, c.CheckSchema(s))
			}
		})
	}
}
