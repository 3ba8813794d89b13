// Package basedata provides synthetic sessions for tests.
package basedata

import (
	"fmt"
	"math/rand/v2"
	"slices"
	"sort"

	"github.com/aarondl/opt/null"

	"github.com/mpapenbr/iracelog-racemodel/pkg/metrics"
	"github.com/mpapenbr/iracelog-racemodel/pkg/model"
)

type DriverSpec struct {
	ID          string
	Offset      float64 // constant delta to the field pace per lap
	Degradation float64 // seconds per lap added from DegradeFrom on
	DegradeFrom int     // first degrading lap, 0 means lap 1
	Extra       map[int]float64
	Noise       float64 // sd of lap time noise
	PitLaps     []int
	// laps without brake signal; brake metrics are missing there
	MissingBrakeLaps []int
	// last lap driven, 0 means all laps
	RetiredAfter int
}

type SessionSpec struct {
	ID           string
	Laps         int
	BaseLapTime  float64
	CautionLaps  []int
	CautionDelta float64 // added to every driver on caution laps
	PitDelta     float64
	// shared by all drivers on a lap: random shock plus trend per lap
	CommonNoise float64
	Trend       float64
	Seed        uint64
	Drivers     []DriverSpec
}

var profileMetrics = []string{
	metrics.MetricBrakePeakCV, metrics.MetricBrakeBalance,
	metrics.MetricTrailBrakeFraction, metrics.MetricSteeringRate,
}

var brakeMetrics = []string{
	metrics.MetricBrakePeakCV, metrics.MetricBrakeBalance,
	metrics.MetricTrailBrakeFraction, metrics.MetricCoastingFraction,
}

// NewSession creates a session from its description. Positions, gaps and results are
// derived from cumulative race time. Metric sets follow the current schema:
// brake_peak_cv, brake_balance, trail_brake_fraction and steering_rate are
// driver specific, the others vary per lap only.
//
//nolint:funlen // test data
func NewSession(spec SessionSpec) *model.Session {
	rng := rand.New(rand.NewPCG(spec.Seed, 7))
	schema := metrics.CurrentSchema()
	s := &model.Session{ID: spec.ID, TotalLaps: spec.Laps}
	cum := make(map[string]float64)
	for lap := 1; lap <= spec.Laps; lap++ {
		caution := slices.Contains(spec.CautionLaps, lap)
		common := spec.Trend * float64(lap-1)
		if spec.CommonNoise > 0 {
			common += spec.CommonNoise * rng.NormFloat64()
		}
		recs := make([]model.LapRecord, 0, len(spec.Drivers))
		for di, d := range spec.Drivers {
			if d.RetiredAfter > 0 && lap > d.RetiredAfter {
				continue
			}
			lt := spec.BaseLapTime + common + d.Offset + d.Extra[lap]
			from := max(d.DegradeFrom, 1)
			if lap >= from {
				lt += d.Degradation * float64(lap-from+1)
			}
			if d.Noise > 0 {
				lt += d.Noise * rng.NormFloat64()
			}
			if caution {
				lt += spec.CautionDelta
			}
			pit := slices.Contains(d.PitLaps, lap)
			if pit {
				lt += spec.PitDelta
			}
			cum[d.ID] += lt
			flag := model.FlagGreen
			if caution {
				flag = model.FlagCaution
			}
			recs = append(recs, model.LapRecord{
				Driver:  d.ID,
				Lap:     lap,
				LapTime: lt,
				Flag:    flag,
				PitStop: pit,
				Metrics: lapMetrics(schema, rng, di, slices.Contains(d.MissingBrakeLaps, lap)),
			})
		}
		order := slices.Clone(recs)
		sort.SliceStable(order, func(i, j int) bool {
			return cum[order[i].Driver] < cum[order[j].Driver]
		})
		for pos, r := range order {
			idx := slices.IndexFunc(recs, func(x model.LapRecord) bool { return x.Driver == r.Driver })
			recs[idx].Position = pos + 1
			if pos > 0 {
				recs[idx].GapAhead = null.From(cum[r.Driver] - cum[order[pos-1].Driver])
			}
			if pos < len(order)-1 {
				recs[idx].GapBehind = null.From(cum[order[pos+1].Driver] - cum[r.Driver])
			}
		}
		s.Laps = append(s.Laps, recs...)
	}
	s.Results = results(spec, cum)
	return s
}

func results(spec SessionSpec, cum map[string]float64) []model.RaceResult {
	laps := make(map[string]int)
	for _, d := range spec.Drivers {
		laps[d.ID] = spec.Laps
		if d.RetiredAfter > 0 {
			laps[d.ID] = d.RetiredAfter
		}
	}
	ids := make([]string, 0, len(spec.Drivers))
	for _, d := range spec.Drivers {
		ids = append(ids, d.ID)
	}
	// more laps first, then less time
	sort.SliceStable(ids, func(i, j int) bool {
		if laps[ids[i]] != laps[ids[j]] {
			return laps[ids[i]] > laps[ids[j]]
		}
		return cum[ids[i]] < cum[ids[j]]
	})
	ret := make([]model.RaceResult, 0, len(ids))
	for i, id := range ids {
		r := model.RaceResult{Driver: id, Position: i + 1, TotalTime: cum[id]}
		if laps[id] == laps[ids[0]] {
			r.GapToLeader = null.From(cum[id] - cum[ids[0]])
		}
		ret = append(ret, r)
	}
	return ret
}

func lapMetrics(schema *metrics.Schema, rng *rand.Rand, driverIdx int, noBrake bool) model.MetricSet {
	ms := model.NewMetricSet(schema.Version, schema.Names())
	for i, name := range schema.Names() {
		if noBrake && slices.Contains(brakeMetrics, name) {
			ms.MarkMissing(name)
			continue
		}
		base := 0.1 * float64(i+1)
		var v float64
		if slices.Contains(profileMetrics, name) {
			v = base + 0.1*float64(driverIdx) + 0.002*rng.NormFloat64()
		} else {
			v = base + 0.05*rng.NormFloat64()
		}
		//nolint:errcheck // name from schema
		ms.Set(name, v)
	}
	return ms
}

// ConcreteScenario has 7 drivers over 20 laps without noise. Driver "A" runs
// exactly at the field median for laps 1-15 and 0.5s slower for laps 16-20.
// Driver "median" runs at the field median for the whole race.
func ConcreteScenario() *model.Session {
	late := map[int]float64{16: 0.5, 17: 0.5, 18: 0.5, 19: 0.5, 20: 0.5}
	return NewSession(SessionSpec{
		ID:          "concrete",
		Laps:        20,
		BaseLapTime: 90,
		Seed:        1,
		Drivers: []DriverSpec{
			{ID: "fast1", Offset: -0.6},
			{ID: "fast2", Offset: -0.4},
			{ID: "fast3", Offset: -0.2},
			{ID: "median"},
			{ID: "A", Extra: late},
			{ID: "slow1", Offset: 0.2},
			{ID: "slow2", Offset: 0.4},
		},
	})
}

// RandomSession creates a session with random driver pace, degradation and
// one caution period. The caution shifts every lap time by 25 seconds; every
// lap also carries a shared shock and a track evolution trend.
func RandomSession(id string, seed uint64, drivers, laps int) *model.Session {
	rng := rand.New(rand.NewPCG(seed, 11))
	spec := SessionSpec{
		ID:           id,
		Laps:         laps,
		BaseLapTime:  85 + 10*rng.Float64(),
		CautionDelta: 25,
		PitDelta:     5,
		CommonNoise:  1.0,
		Trend:        -0.05,
		Seed:         seed,
	}
	cStart := 6 + rng.IntN(max(laps-10, 1))
	spec.CautionLaps = []int{cStart, cStart + 1}
	for i := 0; i < drivers; i++ {
		d := DriverSpec{
			ID:          fmt.Sprintf("%s-d%02d", id, i),
			Offset:      2*rng.Float64() - 1,
			Degradation: 0.06 * rng.Float64(),
			DegradeFrom: 1 + rng.IntN(10),
			Noise:       0.15,
		}
		if rng.Float64() < 0.2 {
			d.PitLaps = []int{laps / 2}
		}
		spec.Drivers = append(spec.Drivers, d)
	}
	return NewSession(spec)
}

// TrainingCorpus returns n random sessions with 10 drivers and 25 laps.
func TrainingCorpus(n int) []*model.Session {
	ret := make([]*model.Session, 0, n)
	for i := 0; i < n; i++ {
		ret = append(ret, RandomSession(fmt.Sprintf("train%02d", i), uint64(100+i), 10, 25))
	}
	return ret
}

// DriverLaps returns the laps of one driver in lap order.
func DriverLaps(s *model.Session, driver string) []model.LapRecord {
	ret := make([]model.LapRecord, 0)
	for i := range s.Laps {
		if s.Laps[i].Driver == driver {
			ret = append(ret, s.Laps[i])
		}
	}
	sort.Slice(ret, func(i, j int) bool { return ret[i].Lap < ret[j].Lap })
	return ret
}
