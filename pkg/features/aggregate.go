package features

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/mpapenbr/iracelog-racemodel/pkg/model"
)

// Aggregate summarizes the rows of one driver into race level features.
// Only pace usable rows contribute. A segment without usable laps gets the
// overall pace and the result is marked low confidence.
func Aggregate(rows []model.RaceFeatureRow, cfg Config) model.RaceAggregates {
	ret := model.RaceAggregates{Laps: len(rows)}
	if len(rows) > 0 {
		ret.Session = rows[0].Session
		ret.Driver = rows[0].Driver
	}
	var laps, rel []float64
	segments := map[model.Segment][]float64{}
	var trafficRel, cleanRel []float64
	for i := range rows {
		r := &rows[i]
		if !r.PaceUsable() {
			continue
		}
		v := r.RelPerf.MustGet()
		laps = append(laps, float64(r.Lap))
		rel = append(rel, v)
		seg := cfg.SegmentOf(r.Lap)
		segments[seg] = append(segments[seg], v)
		if r.Traffic {
			trafficRel = append(trafficRel, v)
		} else {
			cleanRel = append(cleanRel, v)
		}
	}
	lowConfidence := func(reason string) {
		ret.Validity = model.LowConfidence
		for _, r := range ret.Reasons {
			if r == reason {
				return
			}
		}
		ret.Reasons = append(ret.Reasons, reason)
	}
	if len(rel) < max(cfg.MinLaps, 1) {
		lowConfidence(model.ReasonInsufficientData)
		if len(rel) == 0 {
			return ret
		}
	}

	ret.PaceOverall = stat.Mean(rel, nil)
	ret.TotalRelativeTime = floats.Sum(rel)
	segMean := func(seg model.Segment) float64 {
		if v := segments[seg]; len(v) > 0 {
			return stat.Mean(v, nil)
		}
		lowConfidence(model.ReasonSegmentImputed)
		return ret.PaceOverall
	}
	ret.PaceEarly = segMean(model.SegmentEarly)
	ret.PaceMid = segMean(model.SegmentMid)
	ret.PaceLate = segMean(model.SegmentLate)

	if len(rel) >= 2 {
		_, slope := stat.LinearRegression(laps, rel, nil, false)
		ret.Degradation = slope
		ret.Consistency = stat.StdDev(rel, nil)
	}

	ret.TrafficLaps = float64(len(trafficRel))
	clean := ret.PaceOverall
	if len(cleanRel) > 0 {
		clean = stat.Mean(cleanRel, nil)
	}
	for _, v := range trafficRel {
		ret.TrafficCost += v - clean
	}
	return ret
}

// AggregateSession aggregates all drivers of the rows in order of first
// appearance.
func AggregateSession(rows []model.RaceFeatureRow, cfg Config) []model.RaceAggregates {
	groups := ByDriver(rows)
	ret := make([]model.RaceAggregates, 0, len(groups))
	seen := make(map[string]bool)
	for i := range rows {
		d := rows[i].Driver
		if seen[d] {
			continue
		}
		seen[d] = true
		ret = append(ret, Aggregate(groups[d], cfg))
	}
	return ret
}
