package baseline

import (
	"fmt"
	"maps"
	"slices"

	"github.com/aarondl/opt/null"
	"github.com/samber/lo"
	"gonum.org/v1/gonum/stat"

	"github.com/mpapenbr/iracelog-racemodel/log"
	"github.com/mpapenbr/iracelog-racemodel/pkg/model"
)

type Config struct {
	Laps    int // laps 1..Laps form the baseline window
	MinLaps int // minimum valid laps within the window
}

func DefaultConfig() Config {
	return Config{Laps: 5, MinLaps: 3}
}

// usable reports whether a lap may enter a baseline at all.
func usable(l *model.LapRecord) bool {
	return l.Flag != model.FlagCaution && !l.PitStop && len(l.Metrics.Names) > 0
}

func window(laps []model.LapRecord, cfg Config) []model.LapRecord {
	return lo.Filter(laps, func(l model.LapRecord, _ int) bool {
		return l.Lap >= 1 && l.Lap <= cfg.Laps && usable(&l)
	})
}

// Build computes the baseline of one driver from the laps 1..N of a session.
// Profile metrics get their mean, all other metrics mean and spread.
// A lap with a missing signal never enters the state statistics.
func Build(
	session, driver string,
	laps []model.LapRecord,
	c *model.Classification,
	cfg Config,
) (*model.DriverBaseline, error) {
	valid := window(laps, cfg)
	if n := stateLaps(valid, c); len(valid) < cfg.MinLaps || n < cfg.MinLaps {
		return nil, fmt.Errorf("driver %s has %d valid baseline laps (%d for state), need %d: %w",
			driver, len(valid), n, cfg.MinLaps, model.ErrInsufficientData)
	}
	ret := summarize(valid, c, cfg)
	ret.Session = session
	ret.Driver = driver
	return ret, nil
}

// BuildField computes a field level default baseline from the baseline
// window of all drivers.
func BuildField(
	session string,
	laps []model.LapRecord,
	c *model.Classification,
	cfg Config,
) (*model.DriverBaseline, error) {
	valid := window(laps, cfg)
	if n := stateLaps(valid, c); len(valid) < cfg.MinLaps || n < cfg.MinLaps {
		return nil, fmt.Errorf("field has %d valid baseline laps (%d for state), need %d: %w",
			len(valid), n, cfg.MinLaps, model.ErrInsufficientData)
	}
	ret := summarize(valid, c, cfg)
	ret.Session = session
	ret.FieldDefault = true
	return ret, nil
}

// BuildOrFallback builds the driver baseline and falls back to a copy of the
// field baseline if the driver has too few laps. The returned bool is true
// if the fallback was used.
func BuildOrFallback(
	session, driver string,
	laps []model.LapRecord,
	field *model.DriverBaseline,
	c *model.Classification,
	cfg Config,
) (*model.DriverBaseline, bool, error) {
	ret, err := Build(session, driver, laps, c, cfg)
	if err == nil {
		return ret, false, nil
	}
	if field == nil {
		return nil, false, err
	}
	log.Default().Named("baseline").Debug("using field baseline",
		log.String("session", session),
		log.String("driver", driver),
		log.ErrorField(err))
	fb := *field
	fb.Driver = driver
	fb.FieldDefault = true
	fb.Laps = slices.Clone(field.Laps)
	fb.Profile = maps.Clone(field.Profile)
	fb.State = maps.Clone(field.State)
	return &fb, true, nil
}

// stateLaps counts the laps that may enter the state statistics. Laps with a
// missing signal only count if no metric is monitored as state.
func stateLaps(valid []model.LapRecord, c *model.Classification) int {
	if len(valid) == 0 {
		return 0
	}
	if !slices.ContainsFunc(valid[0].Metrics.Names, func(name string) bool {
		return !c.IsProfile(name)
	}) {
		return len(valid)
	}
	return lo.CountBy(valid, func(l model.LapRecord) bool { return len(l.Metrics.Missing) == 0 })
}

func summarize(valid []model.LapRecord, c *model.Classification, cfg Config) *model.DriverBaseline {
	ret := &model.DriverBaseline{
		SchemaVersion: valid[0].Metrics.Schema,
		Laps:          lo.Uniq(lo.Map(valid, func(l model.LapRecord, _ int) int { return l.Lap })),
		Profile:       make(map[string]float64),
		State:         make(map[string]model.StateStat),
	}
	slices.Sort(ret.Laps)
	for _, name := range valid[0].Metrics.Names {
		if c.IsProfile(name) {
			values := known(valid, name, false)
			if len(values) > 0 {
				ret.Profile[name] = stat.Mean(values, nil)
			}
			continue
		}
		values := known(valid, name, true)
		if len(values) < cfg.MinLaps {
			continue
		}
		mean, sd := stat.MeanStdDev(values, nil)
		ret.State[name] = model.StateStat{Mean: mean, StdDev: sd, N: len(values)}
	}
	return ret
}

// known returns the known values of a metric. If skipMissingSignal is set,
// laps with any missing signal marker are ignored completely.
func known(laps []model.LapRecord, name string, skipMissingSignal bool) []float64 {
	ret := make([]float64, 0, len(laps))
	for i := range laps {
		if skipMissingSignal && len(laps[i].Metrics.Missing) > 0 {
			continue
		}
		if v, ok := laps[i].Metrics.Get(name).Get(); ok {
			ret = append(ret, v)
		}
	}
	return ret
}

// Deviations compares the known state metrics of lap against the baseline.
// The z-score is unknown if the baseline has no spread.
func Deviations(b *model.DriverBaseline, lap *model.LapRecord) []model.StateDeviation {
	names := slices.Sorted(maps.Keys(b.State))
	ret := make([]model.StateDeviation, 0, len(names))
	for _, name := range names {
		cur, ok := lap.Metrics.Get(name).Get()
		if !ok {
			continue
		}
		st := b.State[name]
		dev := model.StateDeviation{
			Session:    b.Session,
			Driver:     lap.Driver,
			Lap:        lap.Lap,
			Metric:     name,
			Current:    cur,
			BaseMean:   st.Mean,
			BaseStdDev: st.StdDev,
		}
		if st.StdDev > 0 {
			dev.Z = null.From((cur - st.Mean) / st.StdDev)
		}
		ret = append(ret, dev)
	}
	return ret
}
