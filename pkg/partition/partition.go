package partition

import (
	"fmt"
	"math"
	"sort"

	"github.com/aarondl/opt/null"
	"github.com/samber/lo"
	"gonum.org/v1/gonum/stat"

	"github.com/mpapenbr/iracelog-racemodel/log"
	"github.com/mpapenbr/iracelog-racemodel/pkg/model"
)

// Observation is the metric set of one lap of one driver in one session.
type Observation struct {
	Session string
	Driver  string
	Lap     int
	Metrics model.MetricSet
}

type Config struct {
	Thresholds   model.Thresholds
	MinGroupLaps int // laps with a known value a (session, driver) group needs
	MinGroups    int // groups needed for the cross-driver spread
}

func DefaultConfig() Config {
	return Config{Thresholds: model.DefaultThresholds(), MinGroupLaps: 2, MinGroups: 3}
}

// FromSessions collects the observations of all laps that carry a metric set.
// Laps under caution are skipped.
func FromSessions(sessions ...*model.Session) []Observation {
	ret := make([]Observation, 0)
	for _, s := range sessions {
		for i := range s.Laps {
			l := &s.Laps[i]
			if l.Flag == model.FlagCaution || len(l.Metrics.Names) == 0 {
				continue
			}
			ret = append(ret, Observation{
				Session: s.ID, Driver: l.Driver, Lap: l.Lap, Metrics: l.Metrics,
			})
		}
	}
	return ret
}

type groupKey struct {
	session, driver string
}

// Partition classifies each metric by the ratio of cross-driver to pooled
// within-driver standard deviation. Metrics without enough data are
// AMBIGUOUS and marked as not sufficient.
func Partition(schemaVersion string, names []string, obs []Observation, cfg Config) (
	*model.Classification, error,
) {
	l := log.Default().Named("partition")
	groups := lo.GroupBy(obs, func(o Observation) groupKey {
		return groupKey{o.Session, o.Driver}
	})
	keys := lo.Keys(groups)
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].session != keys[j].session {
			return keys[i].session < keys[j].session
		}
		return keys[i].driver < keys[j].driver
	})

	ret := &model.Classification{
		SchemaVersion: schemaVersion,
		Thresholds:    cfg.Thresholds,
		Entries:       make([]model.ClassEntry, 0, len(names)),
	}
	sufficient := 0
	for _, name := range names {
		entry := classify(name, keys, groups, cfg)
		if entry.Sufficient {
			sufficient++
		}
		l.Debug("metric classified",
			log.String("metric", name),
			log.String("class", entry.Class.String()),
			log.Float64("crossSD", entry.CrossSD),
			log.Float64("withinSD", entry.WithinSD),
			log.Int("groups", entry.Groups))
		ret.Entries = append(ret.Entries, entry)
	}
	if sufficient == 0 {
		return ret, fmt.Errorf("no metric has enough groups to classify: %w",
			model.ErrInsufficientData)
	}
	return ret, nil
}

func classify(
	name string,
	keys []groupKey,
	groups map[groupKey][]Observation,
	cfg Config,
) model.ClassEntry {
	entry := model.ClassEntry{Metric: name, Class: model.ClassAmbiguous}
	means := make([]float64, 0, len(keys))
	sumSq, dof := 0.0, 0
	for _, k := range keys {
		values := make([]float64, 0, len(groups[k]))
		for i := range groups[k] {
			if v, ok := groups[k][i].Metrics.Get(name).Get(); ok {
				values = append(values, v)
			}
		}
		if len(values) < cfg.MinGroupLaps {
			continue
		}
		mean := stat.Mean(values, nil)
		for _, v := range values {
			sumSq += (v - mean) * (v - mean)
		}
		dof += len(values) - 1
		means = append(means, mean)
	}
	entry.Groups = len(means)
	if len(means) < cfg.MinGroups || dof == 0 {
		return entry
	}
	entry.Sufficient = true
	entry.WithinSD = math.Sqrt(sumSq / float64(dof))
	entry.CrossSD = stat.StdDev(means, nil)

	switch {
	case entry.WithinSD > 0:
		ratio := entry.CrossSD / entry.WithinSD
		entry.Ratio = null.From(ratio)
		entry.Class = ClassFor(ratio, cfg.Thresholds)
	case entry.CrossSD > 0:
		// constant per driver but different between drivers
		entry.Class = model.ClassProfile
	}
	return entry
}

// ClassFor maps a variance ratio onto the threshold bands.
func ClassFor(ratio float64, t model.Thresholds) model.MetricClass {
	switch {
	case ratio > t.Profile:
		return model.ClassProfile
	case ratio < t.State:
		return model.ClassState
	default:
		return model.ClassAmbiguous
	}
}

// Agreement returns the fraction of metrics of a that got the same class in b.
// Only metrics that are sufficient in both classifications are compared.
func Agreement(a, b *model.Classification) float64 {
	compared, same := 0, 0
	for i := range a.Entries {
		ea := a.Entries[i]
		eb, ok := lo.Find(b.Entries, func(e model.ClassEntry) bool { return e.Metric == ea.Metric })
		if !ok || !ea.Sufficient || !eb.Sufficient {
			continue
		}
		compared++
		if ea.Class == eb.Class {
			same++
		}
	}
	if compared == 0 {
		return 0
	}
	return float64(same) / float64(compared)
}

// Halves splits the observations into two disjoint subsets by alternating
// laps of each (session, driver) group.
func Halves(obs []Observation) (a, b []Observation) {
	sorted := make([]Observation, len(obs))
	copy(sorted, obs)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Session != sorted[j].Session {
			return sorted[i].Session < sorted[j].Session
		}
		if sorted[i].Driver != sorted[j].Driver {
			return sorted[i].Driver < sorted[j].Driver
		}
		return sorted[i].Lap < sorted[j].Lap
	})
	counter := make(map[groupKey]int)
	for _, o := range sorted {
		k := groupKey{o.Session, o.Driver}
		if counter[k]%2 == 0 {
			a = append(a, o)
		} else {
			b = append(b, o)
		}
		counter[k]++
	}
	return a, b
}
