package metrics

import (
	"fmt"
	"testing"

	"github.com/aarondl/opt/null"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpapenbr/iracelog-racemodel/pkg/model"
)

// calibrationRows creates rows for 4 drivers with 6 laps each.
// brake_peak_cv rises with lap time within each driver (validated),
// full_throttle_fraction rises with lap time although expected to fall (unvalidated).
// All other metrics stay unknown.
func calibrationRows() []model.RaceFeatureRow {
	names := CurrentSchema().Names()
	ret := []model.RaceFeatureRow{}
	for d := 0; d < 4; d++ {
		for lap := 1; lap <= 6; lap++ {
			lapTime := 90.0 + float64(d) + 0.1*float64(lap)
			ms := model.NewMetricSet(SchemaVersion, names)
			_ = ms.Set(MetricBrakePeakCV, 0.1+0.01*float64(lap)+0.05*float64(d))
			_ = ms.Set(MetricFullThrottleFraction, 0.5+0.01*float64(lap)+0.02*float64(d))
			ret = append(ret, model.RaceFeatureRow{
				Session: "s1",
				Driver:  fmt.Sprintf("d%d", d),
				Lap:     lap,
				LapTime: lapTime,
				RelPerf: null.From(float64(d) - 1.5),
				Metrics: ms,
			})
		}
	}
	return ret
}

func TestValidate(t *testing.T) {
	rows := calibrationRows()
	// disrupted laps are ignored even if they contradict
	rows = append(rows, model.RaceFeatureRow{
		Session: "s1", Driver: "d0", Lap: 7, LapTime: 200, Disrupted: true,
		Metrics: model.NewMetricSet(SchemaVersion, CurrentSchema().Names()),
	})
	report, err := Validate(CurrentSchema(), rows, DefaultValidationConfig())
	require.NoError(t, err)
	require.Len(t, report.Metrics, len(CurrentSchema().Definitions))

	byName := map[string]MetricValidation{}
	for _, mv := range report.Metrics {
		byName[mv.Metric] = mv
	}
	cv := byName[MetricBrakePeakCV]
	assert.Equal(t, StatusValidated, cv.Status)
	assert.InDelta(t, 1.0, cv.WithinR.GetOrZero(), 1e-9)
	assert.InDelta(t, 1.0, cv.CrossRho.GetOrZero(), 1e-9)

	ft := byName[MetricFullThrottleFraction]
	assert.Equal(t, StatusUnvalidated, ft.Status)
	assert.NotEmpty(t, ft.Reason)

	steer := byName[MetricSteeringRate]
	assert.Equal(t, StatusUnvalidated, steer.Status)
	assert.True(t, steer.WithinR.IsNull())
	assert.True(t, steer.CrossRho.IsNull())
}

func TestValidate_NoUsableRows(t *testing.T) {
	rows := calibrationRows()
	for i := range rows {
		rows[i].LowConfidence = true
	}
	_, err := Validate(CurrentSchema(), rows, DefaultValidationConfig())
	assert.ErrorIs(t, err, model.ErrInsufficientData)
}

func TestRegistry(t *testing.T) {
	report, err := Validate(CurrentSchema(), calibrationRows(), DefaultValidationConfig())
	require.NoError(t, err)
	reg := NewRegistry(CurrentSchema(), report)

	assert.Equal(t, []string{MetricBrakePeakCV}, reg.Validated())
	assert.NoError(t, reg.RequirePredictive(MetricBrakePeakCV))

	err = reg.RequirePredictive(MetricBrakePeakCV, MetricFullThrottleFraction)
	require.ErrorIs(t, err, model.ErrUnvalidatedMetric)
	var uv *model.UnvalidatedMetricError
	require.ErrorAs(t, err, &uv)
	assert.Equal(t, []string{MetricFullThrottleFraction}, uv.Metrics)

	// report of another schema generation is ignored
	report.SchemaVersion = "v1.0.0"
	old := NewRegistry(CurrentSchema(), report)
	assert.Empty(t, old.Validated())
	assert.Equal(t, StatusPending, old.Status(MetricBrakePeakCV))
}

func TestRanks(t *testing.T) {
	assert.Equal(t, []float64{1, 2.5, 2.5, 4}, ranks([]float64{1, 5, 5, 9}))
	assert.Equal(t, []float64{3, 1, 2}, ranks([]float64{0.3, 0.1, 0.2}))
}
