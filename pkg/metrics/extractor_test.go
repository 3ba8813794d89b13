//nolint:funlen,lll // ok for tests
package metrics

import (
	"math"
	"testing"

	"github.com/aarondl/opt/null"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpapenbr/iracelog-racemodel/pkg/model"
)

// builds a lap with n samples at 10Hz. Channels not returned by fill are missing.
func buildLap(n int, fill func(i int) map[model.Channel]float64) *model.LapSignals {
	ret := &model.LapSignals{
		Driver:   "d1",
		Lap:      1,
		Time:     make([]float64, n),
		Channels: make(map[model.Channel][]null.Val[float64]),
	}
	all := []model.Channel{
		model.ChannelSpeed, model.ChannelThrottle, model.ChannelBrakeFront,
		model.ChannelBrakeRear, model.ChannelSteering, model.ChannelAccelLong,
		model.ChannelAccelLat,
	}
	for _, ch := range all {
		ret.Channels[ch] = make([]null.Val[float64], n)
	}
	for i := 0; i < n; i++ {
		ret.Time[i] = float64(i) * 0.1
		for ch, v := range fill(i) {
			ret.Channels[ch][i] = null.From(v)
		}
	}
	return ret
}

// two braking events (samples 10-19 peak 50 bar, 40-49 peak 70 bar),
// full throttle otherwise
func standardLap(i int) map[model.Channel]float64 {
	m := map[model.Channel]float64{
		model.ChannelSpeed:      50,
		model.ChannelThrottle:   1.0,
		model.ChannelBrakeFront: 0,
		model.ChannelBrakeRear:  0,
		model.ChannelSteering:   0,
		model.ChannelAccelLong:  0.3,
		model.ChannelAccelLat:   0.4,
	}
	brake := func(peak float64) {
		m[model.ChannelThrottle] = 0
		m[model.ChannelBrakeFront] = peak * 0.6
		m[model.ChannelBrakeRear] = peak * 0.4
		m[model.ChannelAccelLong] = -1.0
	}
	switch {
	case i >= 10 && i < 20:
		brake(50)
	case i >= 40 && i < 50:
		brake(70)
	}
	if i >= 15 && i < 20 {
		m[model.ChannelSteering] = 20
	}
	return m
}

func TestExtractor_Extract(t *testing.T) {
	e := NewExtractor(DefaultConfig())
	got := e.Extract(buildLap(100, standardLap))

	assert.Equal(t, SchemaVersion, got.Schema)
	assert.Empty(t, got.Missing)

	cv, ok := got.Get(MetricBrakePeakCV).Get()
	require.True(t, ok)
	// peaks 50 and 70: sd = 14.142..., mean 60
	assert.InDelta(t, math.Sqrt(200)/60, cv, 1e-9)

	balance, ok := got.Get(MetricBrakeBalance).Get()
	require.True(t, ok)
	assert.InDelta(t, 0.6, balance, 1e-9)

	trail, ok := got.Get(MetricTrailBrakeFraction).Get()
	require.True(t, ok)
	assert.InDelta(t, 5.0/20.0, trail, 1e-9)

	full, ok := got.Get(MetricFullThrottleFraction).Get()
	require.True(t, ok)
	assert.InDelta(t, 0.8, full, 1e-9)

	coast, ok := got.Get(MetricCoastingFraction).Get()
	require.True(t, ok)
	assert.InDelta(t, 0.0, coast, 1e-9)

	lifts, ok := got.Get(MetricThrottleLiftCount).Get()
	require.True(t, ok)
	// throttle drops 1->0 at the start of each braking event, but accel is negative there
	assert.Equal(t, 0.0, lifts)

	grip, ok := got.Get(MetricGripUtilization).Get()
	require.True(t, ok)
	assert.Greater(t, grip, 0.0)
	assert.LessOrEqual(t, grip, 1.0)

	rate, ok := got.Get(MetricSteeringRate).Get()
	require.True(t, ok)
	// two steps of 20 deg within 0.1s over 99 intervals
	assert.InDelta(t, 2*200.0/99.0, rate, 1e-9)
}

func TestExtractor_ThrottleLifts(t *testing.T) {
	e := NewExtractor(DefaultConfig())
	lap := buildLap(60, func(i int) map[model.Channel]float64 {
		m := standardLap(i)
		// wheelspin management: short lifts while still accelerating
		if i == 25 || i == 30 || i == 35 {
			m[model.ChannelThrottle] = 0.8
		}
		return m
	})
	got := e.Extract(lap)
	lifts, ok := got.Get(MetricThrottleLiftCount).Get()
	require.True(t, ok)
	assert.Equal(t, 3.0, lifts)
}

func TestExtractor_MissingBrakeSignal(t *testing.T) {
	e := NewExtractor(DefaultConfig())
	lap := buildLap(100, func(i int) map[model.Channel]float64 {
		m := standardLap(i)
		delete(m, model.ChannelBrakeFront)
		delete(m, model.ChannelBrakeRear)
		return m
	})
	got := e.Extract(lap)

	brakeDerived := []string{
		MetricBrakePeakCV, MetricBrakeBalance, MetricTrailBrakeFraction, MetricCoastingFraction,
	}
	for _, name := range brakeDerived {
		assert.True(t, got.Get(name).IsNull(), name)
		assert.True(t, got.IsMissing(name), name)
	}
	assert.ElementsMatch(t, brakeDerived, got.Missing)
	assert.True(t, got.Get(MetricFullThrottleFraction).IsValue())
	assert.True(t, got.Get(MetricSteeringRate).IsValue())
}

func TestExtractor_Undersampled(t *testing.T) {
	e := NewExtractor(DefaultConfig())
	lap := buildLap(100, func(i int) map[model.Channel]float64 {
		m := standardLap(i)
		if i%10 != 0 {
			delete(m, model.ChannelSteering)
		}
		return m
	})
	got := e.Extract(lap)
	// 10 valid steering samples < 20 required
	assert.True(t, got.IsMissing(MetricSteeringRate))
	assert.True(t, got.IsMissing(MetricTrailBrakeFraction))
	assert.False(t, got.IsMissing(MetricBrakePeakCV))
}

func TestExtractor_NoBrakingEvent(t *testing.T) {
	e := NewExtractor(DefaultConfig())
	lap := buildLap(50, func(i int) map[model.Channel]float64 {
		m := standardLap(i)
		m[model.ChannelBrakeFront] = 0
		m[model.ChannelBrakeRear] = 0
		m[model.ChannelThrottle] = 1
		return m
	})
	got := e.Extract(lap)
	// signal present but no event: unknown, not missing
	assert.True(t, got.Get(MetricBrakePeakCV).IsNull())
	assert.False(t, got.IsMissing(MetricBrakePeakCV))
}

func TestExtractor_Apply(t *testing.T) {
	e := NewExtractor(DefaultConfig())
	s := &model.Session{
		ID: "s1",
		Laps: []model.LapRecord{
			{Driver: "d1", Lap: 1, LapTime: 90},
			{Driver: "d1", Lap: 2, LapTime: 91},
		},
		Signals: []model.LapSignals{*buildLap(100, standardLap)},
	}
	require.NoError(t, e.Apply(s))
	assert.True(t, s.Laps[0].Metrics.Get(MetricBrakePeakCV).IsValue())
	assert.False(t, s.Laps[0].Metrics.IsMissing(MetricBrakePeakCV))
	// lap without signals: schema present, all unknown and missing
	assert.Equal(t, SchemaVersion, s.Laps[1].Metrics.Schema)
	for _, name := range CurrentSchema().Names() {
		assert.True(t, s.Laps[1].Metrics.Get(name).IsNull(), name)
		assert.True(t, s.Laps[1].Metrics.IsMissing(name), name)
	}
	assert.Len(t, s.Laps[1].Metrics.Missing, len(CurrentSchema().Names()))

	s.Signals[0].Lap = 7
	assert.ErrorIs(t, e.Apply(s), model.ErrInvalidInput)
}

func TestCompatibleVersions(t *testing.T) {
	tests := []struct {
		a, b string
		want bool
	}{
		{"v1.1.0", "v1.1.3", true},
		{"v1.1.0", "1.1.0", true},
		{"v1.1.0", "v1.2.0", false},
		{"v1.1.0", "v2.1.0", false},
		{"v1.1.0", "garbage", false},
	}
	for _, tt := range tests {
		t.Run(tt.a+"-"+tt.b, func(t *testing.T) {
			assert.Equal(t, tt.want, CompatibleVersions(tt.a, tt.b))
		})
	}
}

func TestSchema_CheckClassification(t *testing.T) {
	s := CurrentSchema()
	assert.NoError(t, s.CheckClassification(&model.Classification{SchemaVersion: "v1.1.4"}))
	assert.ErrorIs(t, s.CheckClassification(&model.Classification{SchemaVersion: "v1.0.0"}),
		model.ErrInvalidInput)
	assert.ErrorIs(t, s.CheckClassification(nil), model.ErrInvalidInput)
}
