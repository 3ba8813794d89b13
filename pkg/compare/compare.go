// Package compare attributes the finishing gap of every driver to the
// competitor one position ahead. The leader is compared with the runner-up
// (margin of victory).
//
// The decomposition is a heuristic attribution, not a causal one. Results are
// always marked as Approximation.
package compare

import (
	"fmt"
	"sort"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"gonum.org/v1/gonum/stat"

	"github.com/mpapenbr/iracelog-racemodel/log"
	"github.com/mpapenbr/iracelog-racemodel/pkg/features"
	"github.com/mpapenbr/iracelog-racemodel/pkg/model"
)

// ReasonLapped marks comparisons between drivers with different lap counts.
// The total gap then covers the common laps only.
const ReasonLapped = "lapped"

type (
	Analyzer struct {
		cfg features.Config
		l   *log.Logger
	}
	Option func(*Analyzer)
)

func WithLogger(l *log.Logger) Option {
	return func(a *Analyzer) {
		a.l = l
	}
}

func NewAnalyzer(cfg features.Config, opts ...Option) *Analyzer {
	ret := &Analyzer{cfg: cfg, l: log.Default().Named("compare")}
	for _, opt := range opts {
		opt(ret)
	}
	return ret
}

// Analyze is a shortcut for NewAnalyzer(cfg).Analyze(results, rows).
func Analyze(
	results []model.RaceResult,
	rows []model.RaceFeatureRow,
	cfg features.Config,
) ([]model.ComparisonResult, error) {
	return NewAnalyzer(cfg).Analyze(results, rows)
}

// driverLaps holds a driver's rows by lap and the linear pace trend
// rel = alpha + beta*(lap-1) fitted on the pace usable laps.
type driverLaps struct {
	rows   map[int]*model.RaceFeatureRow
	usable int
	alpha  float64
	beta   float64
}

func (d *driverLaps) trend(lap int) float64 {
	return d.alpha + d.beta*float64(lap-1)
}

// Analyze returns one result per classified driver in classification order.
func (a *Analyzer) Analyze(
	results []model.RaceResult,
	rows []model.RaceFeatureRow,
) ([]model.ComparisonResult, error) {
	if len(results) < 2 {
		return nil, fmt.Errorf("comparison needs at least 2 classified drivers: %w",
			model.ErrInsufficientData)
	}
	order := make([]model.RaceResult, len(results))
	copy(order, results)
	sort.SliceStable(order, func(i, j int) bool { return order[i].Position < order[j].Position })
	for i, r := range order {
		if r.Position < 1 || (i > 0 && r.Position == order[i-1].Position) {
			return nil, fmt.Errorf("invalid classification position %d for %s: %w",
				r.Position, r.Driver, model.ErrInvalidInput)
		}
	}

	byDriver := a.collect(rows)
	ret := make([]model.ComparisonResult, 0, len(order))
	for i := range order {
		refIdx := i - 1
		if i == 0 {
			refIdx = 1
		}
		res := a.compare(order[i], order[refIdx], byDriver)
		res.MarginOfVictory = i == 0
		ret = append(ret, res)
	}
	return ret, nil
}

func (a *Analyzer) collect(rows []model.RaceFeatureRow) map[string]*driverLaps {
	ret := make(map[string]*driverLaps)
	for driver, dRows := range lo.GroupBy(rows, func(r model.RaceFeatureRow) string { return r.Driver }) {
		d := &driverLaps{rows: make(map[int]*model.RaceFeatureRow, len(dRows))}
		var x, y []float64
		for i := range dRows {
			r := &dRows[i]
			d.rows[r.Lap] = r
			if r.PaceUsable() {
				x = append(x, float64(r.Lap-1))
				y = append(y, r.RelPerf.MustGet())
			}
		}
		d.usable = len(y)
		switch {
		case len(y) >= 2:
			d.alpha, d.beta = stat.LinearRegression(x, y, nil, false)
		case len(y) == 1:
			d.alpha = y[0]
		}
		ret[driver] = d
	}
	return ret
}

func ms(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v).Round(3)
}

//nolint:funlen // ok
func (a *Analyzer) compare(
	drv, ref model.RaceResult,
	byDriver map[string]*driverLaps,
) model.ComparisonResult {
	ret := model.ComparisonResult{
		Driver:            drv.Driver,
		Position:          drv.Position,
		Reference:         ref.Driver,
		ReferencePosition: ref.Position,
		PositionGap:       drv.Position - ref.Position,
		Approximation:     true,
	}
	lowConfidence := func(reason string) {
		ret.Validity = model.LowConfidence
		if !lo.Contains(ret.Reasons, reason) {
			ret.Reasons = append(ret.Reasons, reason)
		}
	}
	empty := &driverLaps{rows: map[int]*model.RaceFeatureRow{}}
	d := lo.ValueOr(byDriver, drv.Driver, empty)
	r := lo.ValueOr(byDriver, ref.Driver, empty)
	for _, x := range []*driverLaps{d, r} {
		if x.usable < max(a.cfg.MinLaps, 2) {
			lowConfidence(model.ReasonInsufficientData)
		}
		for _, row := range x.rows {
			ret.Session = row.Session
			break
		}
	}

	common := make([]int, 0, len(d.rows))
	for lap := range d.rows {
		if _, ok := r.rows[lap]; ok {
			common = append(common, lap)
		}
	}
	sort.Ints(common)

	var total float64
	if drv.TotalTime > 0 && ref.TotalTime > 0 && len(d.rows) == len(r.rows) {
		total = drv.TotalTime - ref.TotalTime
	} else {
		if len(d.rows) != len(r.rows) {
			lowConfidence(ReasonLapped)
		}
		for _, lap := range common {
			total += d.rows[lap].LapTime - r.rows[lap].LapTime
		}
	}

	var degradation, traffic float64
	pace := map[model.Segment]float64{}
	for _, lap := range common {
		dr, rr := d.rows[lap], r.rows[lap]
		if !dr.PaceUsable() || !rr.PaceUsable() {
			continue
		}
		diff := dr.RelPerf.MustGet() - rr.RelPerf.MustGet()
		deg := (d.beta - r.beta) * float64(lap-1)
		excess := func(x *driverLaps, row *model.RaceFeatureRow) float64 {
			if !row.Traffic {
				return 0
			}
			return row.RelPerf.MustGet() - x.trend(lap)
		}
		tr := excess(d, dr) - excess(r, rr)
		degradation += deg
		traffic += tr
		pace[a.cfg.SegmentOf(lap)] += diff - deg - tr
	}

	ret.TotalGap = ms(total)
	ret.Components = []model.GapComponent{
		{Name: model.ComponentPaceEarly, Seconds: ms(pace[model.SegmentEarly])},
		{Name: model.ComponentPaceMid, Seconds: ms(pace[model.SegmentMid])},
		{Name: model.ComponentPaceLate, Seconds: ms(pace[model.SegmentLate])},
		{Name: model.ComponentDegradation, Seconds: ms(degradation)},
		{Name: model.ComponentTraffic, Seconds: ms(traffic)},
	}
	ret.Residual = ret.TotalGap.Sub(ret.ComponentSum())

	a.l.Debug("gap attributed",
		log.String("driver", drv.Driver),
		log.String("reference", ref.Driver),
		log.String("total", ret.TotalGap.String()),
		log.String("residual", ret.Residual.String()))
	return ret
}
