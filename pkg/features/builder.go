package features

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/aarondl/opt/null"
	"golang.org/x/sync/errgroup"

	"github.com/mpapenbr/iracelog-racemodel/log"
	"github.com/mpapenbr/iracelog-racemodel/pkg/model"
)

type Config struct {
	RollingWindow    int
	TrafficGap       float64
	MinFieldFraction float64
	EarlyEnd         int
	MidEnd           int
	MinLaps          int // usable laps needed for confident aggregates
}

func DefaultConfig() Config {
	return Config{
		RollingWindow:    3,
		TrafficGap:       1.0,
		MinFieldFraction: 0.5,
		EarlyEnd:         5,
		MidEnd:           15,
		MinLaps:          3,
	}
}

func (c Config) SegmentOf(lap int) model.Segment {
	switch {
	case lap <= c.EarlyEnd:
		return model.SegmentEarly
	case lap <= c.MidEnd:
		return model.SegmentMid
	default:
		return model.SegmentLate
	}
}

type (
	Builder struct {
		cfg Config
		l   *log.Logger
	}
	BuilderOption func(*Builder)
)

func WithLogger(l *log.Logger) BuilderOption {
	return func(b *Builder) {
		b.l = l
	}
}

func NewBuilder(cfg Config, opts ...BuilderOption) *Builder {
	ret := &Builder{cfg: cfg, l: log.Default().Named("features")}
	for _, opt := range opts {
		opt(ret)
	}
	return ret
}

// Build creates one row per (driver, lap). The field medians are computed
// once; drivers are processed concurrently, laps of one driver strictly in
// order. A leakage guard violation aborts the build.
func (b *Builder) Build(ctx context.Context, s *model.Session) ([]model.RaceFeatureRow, error) {
	if err := validateLaps(s); err != nil {
		return nil, err
	}
	medians := FieldMedians(s.Laps, b.cfg.MinFieldFraction)
	byDriver := make(map[string][]model.LapRecord)
	for i := range s.Laps {
		byDriver[s.Laps[i].Driver] = append(byDriver[s.Laps[i].Driver], s.Laps[i])
	}
	drivers := s.Drivers()

	var mu sync.Mutex
	result := make(map[string][]model.RaceFeatureRow, len(drivers))
	g, gctx := errgroup.WithContext(ctx)
	for _, d := range drivers {
		laps := byDriver[d]
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			rows, err := b.driverRows(s, laps, medians)
			if err != nil {
				return err
			}
			mu.Lock()
			result[d] = rows
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		b.l.Error("feature build failed",
			log.String("session", s.ID), log.ErrorField(err))
		return nil, err
	}
	ret := make([]model.RaceFeatureRow, 0, len(s.Laps))
	for _, d := range drivers {
		ret = append(ret, result[d]...)
	}
	b.l.Debug("features built",
		log.String("session", s.ID),
		log.Int("drivers", len(drivers)),
		log.Int("rows", len(ret)))
	return ret, nil
}

func (b *Builder) driverRows(
	s *model.Session,
	laps []model.LapRecord,
	medians map[int]FieldLap,
) ([]model.RaceFeatureRow, error) {
	laps = slices.Clone(laps)
	sort.Slice(laps, func(i, j int) bool { return laps[i].Lap < laps[j].Lap })

	rows := make([]model.RaceFeatureRow, 0, len(laps))
	stintLap := 0
	for i := range laps {
		l := &laps[i]
		if i > 0 && laps[i-1].PitStop {
			stintLap = 0
		}
		stintLap++
		row := model.RaceFeatureRow{
			Session:       s.ID,
			Driver:        l.Driver,
			Lap:           l.Lap,
			LapTime:       l.LapTime,
			Position:      l.Position,
			GapAhead:      l.GapAhead,
			GapBehind:     l.GapBehind,
			StintLap:      stintLap,
			Segment:       b.cfg.SegmentOf(l.Lap),
			LapsRemaining: max(s.TotalLaps-l.Lap, 0),
			PitStop:       l.PitStop,
			Disrupted:     l.Flag == model.FlagCaution,
			Metrics:       l.Metrics,
		}
		if gap, ok := l.GapAhead.Get(); ok && gap < b.cfg.TrafficGap {
			row.Traffic = true
		}
		if fl, ok := medians[l.Lap]; ok {
			row.FieldMedian = null.From(fl.Median)
			row.RelPerf = null.From(l.LapTime - fl.Median)
			if !fl.Confident {
				row.LowConfidence = true
				row.Reasons = append(row.Reasons, model.ReasonFieldCoverage)
			}
		}
		if row.Disrupted {
			row.Reasons = append(row.Reasons, model.ReasonCaution)
		}
		if row.PitStop {
			row.Reasons = append(row.Reasons, model.ReasonPitStop)
		}
		if len(l.Metrics.Missing) > 0 {
			row.LowConfidence = true
			row.Reasons = append(row.Reasons, model.ReasonMissingSignal)
		}
		// only rows of earlier laps are visible here
		row.Lag = NextLag(l.Lap, HistoryOf(rows), b.cfg.RollingWindow)
		if l.Lap > 1 && row.Lag.PrevRelPerf.IsNull() {
			row.LowConfidence = true
			row.Reasons = append(row.Reasons, model.ReasonPrevLapUnknown)
		}
		if err := CheckLeakage(&row); err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func validateLaps(s *model.Session) error {
	seen := make(map[string]struct{}, len(s.Laps))
	for i := range s.Laps {
		l := &s.Laps[i]
		if l.Lap < 1 {
			return fmt.Errorf("driver %s: lap index %d: %w", l.Driver, l.Lap, model.ErrInvalidInput)
		}
		key := fmt.Sprintf("%s/%d", l.Driver, l.Lap)
		if _, ok := seen[key]; ok {
			return fmt.Errorf("driver %s: duplicate lap %d: %w", l.Driver, l.Lap, model.ErrInvalidInput)
		}
		seen[key] = struct{}{}
		if v, ok := l.GapAhead.Get(); ok && v < 0 {
			return fmt.Errorf("driver %s lap %d: negative gap: %w", l.Driver, l.Lap,
				model.ErrInvalidInput)
		}
		if v, ok := l.GapBehind.Get(); ok && v < 0 {
			return fmt.Errorf("driver %s lap %d: negative gap: %w", l.Driver, l.Lap,
				model.ErrInvalidInput)
		}
	}
	return nil
}

// ByDriver groups rows by driver, keeping the lap order.
func ByDriver(rows []model.RaceFeatureRow) map[string][]model.RaceFeatureRow {
	ret := make(map[string][]model.RaceFeatureRow)
	for i := range rows {
		ret[rows[i].Driver] = append(ret[rows[i].Driver], rows[i])
	}
	for _, r := range ret {
		sort.SliceStable(r, func(i, j int) bool { return r[i].Lap < r[j].Lap })
	}
	return ret
}
