//nolint:funlen // ok for tests
package features

import (
	"context"
	"errors"
	"testing"

	"github.com/aarondl/opt/null"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpapenbr/iracelog-racemodel/pkg/model"
	"github.com/mpapenbr/iracelog-racemodel/testsupport/basedata"
)

var cmpOpts = cmp.AllowUnexported(null.Val[float64]{})

func build(t *testing.T, s *model.Session) []model.RaceFeatureRow {
	t.Helper()
	rows, err := NewBuilder(DefaultConfig()).Build(context.Background(), s)
	require.NoError(t, err)
	return rows
}

func truncate(s *model.Session, keep func(lap int) bool) *model.Session {
	ret := *s
	ret.Laps = nil
	for _, l := range s.Laps {
		if keep(l.Lap) {
			ret.Laps = append(ret.Laps, l)
		}
	}
	return &ret
}

func TestBuild_ConcreteScenario(t *testing.T) {
	s := basedata.ConcreteScenario()
	rows := ByDriver(build(t, s))

	a := rows["A"]
	require.Len(t, a, 20)
	for _, r := range a {
		want := 0.0
		if r.Lap >= 16 {
			want = 0.5
		}
		assert.InDelta(t, want, r.RelPerf.MustGet(), 1e-9, "lap %d", r.Lap)
		assert.InDelta(t, 90.0, r.FieldMedian.MustGet(), 1e-9)
	}

	aggA := Aggregate(a, DefaultConfig())
	aggMedian := Aggregate(rows["median"], DefaultConfig())
	assert.Greater(t, aggA.Degradation, aggMedian.Degradation)
	assert.InDelta(t, 0.0, aggMedian.Degradation, 1e-9)
	assert.InDelta(t, 0.5, aggA.PaceLate, 1e-9)
	assert.InDelta(t, 0.0, aggA.PaceEarly, 1e-9)
	assert.InDelta(t, 2.5, aggA.TotalRelativeTime, 1e-9)
	assert.Equal(t, model.Valid, aggA.Validity)
}

func TestBuild_FirstLapLagUnknown(t *testing.T) {
	rows := build(t, basedata.RandomSession("s", 1, 5, 12))
	for _, r := range rows {
		if r.Lap != 1 {
			continue
		}
		assert.True(t, r.Lag.PrevRelPerf.IsNull())
		assert.True(t, r.Lag.RollingRelPerf.IsNull())
		assert.True(t, r.Lag.SessionMeanRelPerf.IsNull())
		assert.Equal(t, 0, r.Lag.KnownLaps)
		assert.Equal(t, 0, r.Lag.SourceLap)
		// the lap's own value is known but never used as its lag
		assert.True(t, r.RelPerf.IsValue())
	}
}

func TestBuild_NoLeakage(t *testing.T) {
	s := basedata.RandomSession("leak", 5, 6, 18)
	orig := build(t, s)
	for k := 1; k <= s.TotalLaps; k++ {
		// rows of lap k do not change if the future is removed
		upTo := ByDriver(build(t, truncate(s, func(lap int) bool { return lap <= k })))
		// lag features of lap k only need laps before k
		before := ByDriver(build(t, truncate(s, func(lap int) bool { return lap < k })))
		for _, r := range orig {
			if r.Lap != k {
				continue
			}
			got := upTo[r.Driver][k-1]
			if diff := cmp.Diff(r, got, cmpOpts); diff != "" {
				t.Errorf("driver %s lap %d mismatch (-want +got):\n%s", r.Driver, k, diff)
			}
			lag := NextLag(k, HistoryOf(before[r.Driver]), DefaultConfig().RollingWindow)
			if diff := cmp.Diff(r.Lag, lag, cmpOpts); diff != "" {
				t.Errorf("driver %s lap %d lag mismatch (-want +got):\n%s", r.Driver, k, diff)
			}
			assert.Less(t, r.Lag.SourceLap, r.Lap)
		}
	}
}

func TestNextLag(t *testing.T) {
	h := []HistoryEntry{
		{Lap: 1, Value: null.From(1.0), Usable: true},
		{Lap: 2, Value: null.From(2.0), Usable: true},
		{Lap: 3, Value: null.From(30.0), Usable: false}, // caution
		{Lap: 4, Value: null.From(3.0), Usable: true},
		{Lap: 5, Value: null.From(5.0), Usable: true},
	}
	tests := []struct {
		name    string
		lap     int
		history []HistoryEntry
		window  int
		want    model.LagFeatures
	}{
		{
			name:    "empty",
			lap:     1,
			history: nil,
			window:  3,
			want:    model.LagFeatures{},
		},
		{
			name:    "previous lap under caution",
			lap:     4,
			history: h[:3],
			window:  3,
			want: model.LagFeatures{
				PrevRelPerf:        null.From(30.0),
				RollingRelPerf:     null.From(1.5),
				SessionMeanRelPerf: null.From(1.5),
				KnownLaps:          2,
				SourceLap:          3,
			},
		},
		{
			name:    "means skip unusable",
			lap:     5,
			history: h[:4],
			window:  3,
			want: model.LagFeatures{
				PrevRelPerf:        null.From(3.0),
				RollingRelPerf:     null.From(2.0),
				SessionMeanRelPerf: null.From(2.0),
				KnownLaps:          3,
				SourceLap:          4,
			},
		},
		{
			name:    "window",
			lap:     6,
			history: h,
			window:  2,
			want: model.LagFeatures{
				PrevRelPerf:        null.From(5.0),
				RollingRelPerf:     null.From(4.0),
				SessionMeanRelPerf: null.From(2.75),
				KnownLaps:          4,
				SourceLap:          5,
			},
		},
		{
			name:    "previous lap not in history",
			lap:     7,
			history: h,
			window:  2,
			want: model.LagFeatures{
				RollingRelPerf:     null.From(4.0),
				SessionMeanRelPerf: null.From(2.75),
				KnownLaps:          4,
				SourceLap:          5,
			},
		},
		{
			name: "previous lap without value",
			lap:  3,
			history: []HistoryEntry{
				{Lap: 1, Value: null.From(1.0), Usable: true},
				{Lap: 2, Usable: true},
			},
			window: 3,
			want: model.LagFeatures{
				RollingRelPerf:     null.From(1.0),
				SessionMeanRelPerf: null.From(1.0),
				KnownLaps:          1,
				SourceLap:          1,
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NextLag(tt.lap, tt.history, tt.window)
			if diff := cmp.Diff(tt.want, got, cmpOpts); diff != "" {
				t.Errorf("NextLag() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestBuild_PrevLapUnderCaution(t *testing.T) {
	s := basedata.NewSession(basedata.SessionSpec{
		ID: "caution", Laps: 6, BaseLapTime: 90, CautionLaps: []int{4}, CautionDelta: 30,
		Drivers: []basedata.DriverSpec{
			{ID: "a", Extra: map[int]float64{4: 0.6}},
			{ID: "b", Offset: -2.0},
			{ID: "c", Offset: -1.0},
		},
	})
	a := ByDriver(build(t, s))["a"]
	require.Len(t, a, 6)
	// the field median removes the caution delta, lap 4 still counts
	assert.InDelta(t, 1.6, a[3].RelPerf.MustGet(), 1e-9)
	assert.InDelta(t, 1.6, a[4].Lag.PrevRelPerf.MustGet(), 1e-9)
	assert.Equal(t, 4, a[4].Lag.SourceLap)
	assert.False(t, a[4].HasReason(model.ReasonPrevLapUnknown))
	// the means only cover usable laps
	assert.Equal(t, 3, a[4].Lag.KnownLaps)
	assert.InDelta(t, 1.0, a[4].Lag.RollingRelPerf.MustGet(), 1e-9)
	assert.InDelta(t, 1.0, a[5].Lag.PrevRelPerf.MustGet(), 1e-9)
}

func TestBuild_PrevLapUnknown(t *testing.T) {
	s := basedata.NewSession(basedata.SessionSpec{
		ID: "gap", Laps: 5, BaseLapTime: 90,
		Drivers: []basedata.DriverSpec{
			{ID: "a"}, {ID: "b", Offset: 1.0}, {ID: "c", Offset: 2.0},
		},
	})
	// driver a has no record of lap 3
	s = truncate(s, func(int) bool { return true })
	laps := s.Laps[:0]
	for _, l := range s.Laps {
		if l.Lap == 3 && l.Driver == "a" {
			continue
		}
		laps = append(laps, l)
	}
	s.Laps = laps

	a := ByDriver(build(t, s))["a"]
	require.Len(t, a, 4)
	assert.Equal(t, 4, a[2].Lap)
	assert.True(t, a[2].Lag.PrevRelPerf.IsNull())
	assert.True(t, a[2].LowConfidence)
	assert.True(t, a[2].HasReason(model.ReasonPrevLapUnknown))
	// no older lap is substituted, the means still use laps 1 and 2
	assert.Equal(t, 2, a[2].Lag.KnownLaps)
	assert.False(t, a[3].HasReason(model.ReasonPrevLapUnknown))
	assert.False(t, a[1].LowConfidence)
}

func TestCheckLeakage(t *testing.T) {
	row := &model.RaceFeatureRow{Driver: "d", Lap: 4, Lag: model.LagFeatures{SourceLap: 4}}
	err := CheckLeakage(row)
	require.ErrorIs(t, err, model.ErrLeakageGuardViolation)
	var le *model.LeakageError
	require.True(t, errors.As(err, &le))
	assert.Equal(t, 4, le.SourceLap)

	row.Lag.SourceLap = 3
	assert.NoError(t, CheckLeakage(row))
}

func TestBuild_Flags(t *testing.T) {
	s := basedata.NewSession(basedata.SessionSpec{
		ID: "flags", Laps: 8, BaseLapTime: 90, CautionLaps: []int{4}, CautionDelta: 30,
		PitDelta: 20,
		Drivers: []basedata.DriverSpec{
			{ID: "a", PitLaps: []int{5}},
			{ID: "b", Offset: 2.0, MissingBrakeLaps: []int{2}},
			{ID: "c", Offset: 4.0},
			{ID: "d", Offset: 6.0},
		},
	})
	// lap 7 was only completed by driver a
	s = truncate(s, func(int) bool { return true })
	laps := s.Laps[:0]
	for _, l := range s.Laps {
		if l.Lap == 7 && l.Driver != "a" {
			continue
		}
		laps = append(laps, l)
	}
	s.Laps = laps

	rows := ByDriver(build(t, s))
	a := rows["a"]
	assert.True(t, a[3].Disrupted)
	assert.True(t, a[3].HasReason(model.ReasonCaution))
	assert.True(t, a[4].PitStop)
	assert.Equal(t, []int{1, 2, 3, 4, 5, 1, 2, 3}, []int{
		a[0].StintLap, a[1].StintLap, a[2].StintLap, a[3].StintLap,
		a[4].StintLap, a[5].StintLap, a[6].StintLap, a[7].StintLap,
	})
	// lap 6 takes pit lap 5 as previous lap, the means skip laps 4 and 5
	assert.Equal(t, 5, a[5].Lag.SourceLap)
	assert.Equal(t, a[4].RelPerf, a[5].Lag.PrevRelPerf)
	assert.Equal(t, 3, a[5].Lag.KnownLaps)
	assert.True(t, a[6].LowConfidence)
	assert.True(t, a[6].HasReason(model.ReasonFieldCoverage))
	assert.False(t, a[6].PaceUsable())
	assert.Equal(t, 7, a[0].LapsRemaining)
	assert.Equal(t, 0, a[7].LapsRemaining)
	assert.Equal(t, model.SegmentEarly, a[4].Segment)
	assert.Equal(t, model.SegmentMid, a[5].Segment)

	b := rows["b"]
	assert.True(t, b[1].LowConfidence)
	assert.True(t, b[1].HasReason(model.ReasonMissingSignal))
	// a missing metric does not make the pace unusable
	assert.True(t, b[1].PaceUsable())
	// gap to a is 2s per lap: traffic only when closer than 1s
	assert.False(t, b[0].Traffic)
}

func TestBuild_InvalidInput(t *testing.T) {
	s := basedata.RandomSession("dup", 2, 3, 5)
	s.Laps = append(s.Laps, s.Laps[0])
	_, err := NewBuilder(DefaultConfig()).Build(context.Background(), s)
	assert.ErrorIs(t, err, model.ErrInvalidInput)

	s = basedata.RandomSession("neg", 2, 3, 5)
	s.Laps[3].GapAhead = null.From(-1.0)
	_, err = NewBuilder(DefaultConfig()).Build(context.Background(), s)
	assert.ErrorIs(t, err, model.ErrInvalidInput)
}

func TestAggregate(t *testing.T) {
	mk := func(lap int, rel float64, traffic bool) model.RaceFeatureRow {
		return model.RaceFeatureRow{
			Session: "s", Driver: "d", Lap: lap, RelPerf: null.From(rel), Traffic: traffic,
		}
	}
	rows := []model.RaceFeatureRow{
		mk(1, 0.2, true),
		mk(2, 0.4, true),
		mk(3, 0.0, false),
		mk(4, 0.0, false),
		{Session: "s", Driver: "d", Lap: 5, RelPerf: null.From(20.0), Disrupted: true},
	}
	agg := Aggregate(rows, DefaultConfig())
	assert.Equal(t, 5, agg.Laps)
	assert.InDelta(t, 0.15, agg.PaceEarly, 1e-9)
	assert.InDelta(t, 2.0, agg.TrafficLaps, 1e-9)
	assert.InDelta(t, 0.6, agg.TrafficCost, 1e-9)
	assert.InDelta(t, 0.6, agg.TotalRelativeTime, 1e-9)
	assert.Less(t, agg.Degradation, 0.0)
	// no mid and late laps
	assert.Equal(t, model.LowConfidence, agg.Validity)
	assert.Contains(t, agg.Reasons, model.ReasonSegmentImputed)
	assert.InDelta(t, agg.PaceOverall, agg.PaceMid, 1e-12)
	assert.InDelta(t, agg.PaceOverall, agg.PaceLate, 1e-12)

	empty := Aggregate(rows[4:], DefaultConfig())
	assert.Equal(t, model.LowConfidence, empty.Validity)
	assert.Contains(t, empty.Reasons, model.ReasonInsufficientData)
}

func TestFieldMedians(t *testing.T) {
	laps := []model.LapRecord{
		{Driver: "a", Lap: 1, LapTime: 91},
		{Driver: "b", Lap: 1, LapTime: 90},
		{Driver: "c", Lap: 1, LapTime: 95},
		{Driver: "d", Lap: 1, LapTime: 92},
		{Driver: "a", Lap: 2, LapTime: 90},
	}
	m := FieldMedians(laps, 0.5)
	assert.InDelta(t, 91.5, m[1].Median, 1e-12)
	assert.Equal(t, 4, m[1].Completed)
	assert.True(t, m[1].Confident)
	assert.False(t, m[2].Confident)
}
