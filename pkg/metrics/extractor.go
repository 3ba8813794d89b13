package metrics

import (
	"errors"
	"fmt"

	"github.com/mpapenbr/iracelog-racemodel/log"
	"github.com/mpapenbr/iracelog-racemodel/pkg/model"
)

type Config struct {
	MinSamples    int     // minimum valid samples per required channel
	BrakeOn       float64 // combined brake pressure (bar) that counts as braking
	TrailSteer    float64 // abs steering angle (deg) that counts as trail braking
	CoastThrottle float64 // throttle position below which the throttle is released
	FullThrottle  float64 // throttle position counting as full throttle
	LiftDelta     float64 // minimum throttle decrease counting as a lift
}

func DefaultConfig() Config {
	return Config{
		MinSamples:    20,
		BrakeOn:       2.0,
		TrailSteer:    5.0,
		CoastThrottle: 0.05,
		FullThrottle:  0.98,
		LiftDelta:     0.02,
	}
}

type (
	Extractor struct {
		cfg    Config
		schema *Schema
		l      *log.Logger
	}
	Option func(*Extractor)
)

func WithSchema(s *Schema) Option {
	return func(e *Extractor) {
		e.schema = s
	}
}

func WithLogger(l *log.Logger) Option {
	return func(e *Extractor) {
		e.l = l
	}
}

func NewExtractor(cfg Config, opts ...Option) *Extractor {
	ret := &Extractor{
		cfg:    cfg,
		schema: CurrentSchema(),
		l:      log.Default().Named("metrics"),
	}
	for _, opt := range opts {
		opt(ret)
	}
	return ret
}

func (e *Extractor) Schema() *Schema {
	return e.schema
}

// Extract computes all metrics of the schema for one lap. It is a pure
// function of the lap's signals. Metrics whose channels are undersampled are
// unknown and listed as missing; they are never computed from partial data.
func (e *Extractor) Extract(signals *model.LapSignals) model.MetricSet {
	ret := model.NewMetricSet(e.schema.Version, e.schema.Names())
	view := &lapView{signals: signals, cfg: e.cfg}
	for _, def := range e.schema.Definitions {
		if err := e.checkChannels(signals, def.Channels); err != nil {
			e.l.Debug("metric unknown",
				log.String("driver", signals.Driver),
				log.Int("lap", signals.Lap),
				log.String("metric", def.Name),
				log.ErrorField(err))
			ret.MarkMissing(def.Name)
			continue
		}
		val, err := def.compute(view)
		if err != nil {
			if !errors.Is(err, errUndefined) {
				e.l.Warn("metric computation failed",
					log.String("metric", def.Name), log.ErrorField(err))
			}
			continue
		}
		//nolint:errcheck // name comes from the schema
		ret.Set(def.Name, val)
	}
	return ret
}

// Apply extracts metrics for all laps of the session and stores them in the
// corresponding lap records. Every metric of a lap without signals is missing.
func (e *Extractor) Apply(session *model.Session) error {
	idx := make(map[string]int, len(session.Laps))
	key := func(driver string, lap int) string { return fmt.Sprintf("%s/%d", driver, lap) }
	for i := range session.Laps {
		idx[key(session.Laps[i].Driver, session.Laps[i].Lap)] = i
		ms := model.NewMetricSet(e.schema.Version, e.schema.Names())
		for _, name := range ms.Names {
			ms.MarkMissing(name)
		}
		session.Laps[i].Metrics = ms
	}
	for i := range session.Signals {
		s := &session.Signals[i]
		li, ok := idx[key(s.Driver, s.Lap)]
		if !ok {
			return fmt.Errorf("signals for unknown lap %s: %w",
				key(s.Driver, s.Lap), model.ErrInvalidInput)
		}
		session.Laps[li].Metrics = e.Extract(s)
	}
	return nil
}

func (e *Extractor) checkChannels(s *model.LapSignals, channels []model.Channel) error {
	for _, ch := range channels {
		_, values := s.Valid(ch)
		if len(values) < e.cfg.MinSamples {
			return &model.MissingSignalError{Channel: ch, Valid: len(values), Need: e.cfg.MinSamples}
		}
	}
	return nil
}

type lapView struct {
	signals *model.LapSignals
	cfg     Config
}

// aligned returns the values of the given channels at the timestamps where
// all of them are present. Returns nil if there is no such timestamp.
func (v *lapView) aligned(channels ...model.Channel) [][]float64 {
	cols := make([][]float64, len(channels))
	for i := range v.signals.Time {
		row := make([]float64, len(channels))
		complete := true
		for c, ch := range channels {
			raw := v.signals.Channels[ch]
			if i >= len(raw) {
				complete = false
				break
			}
			val, ok := raw[i].Get()
			if !ok {
				complete = false
				break
			}
			row[c] = val
		}
		if !complete {
			continue
		}
		for c := range channels {
			cols[c] = append(cols[c], row[c])
		}
	}
	if len(cols[0]) == 0 {
		return nil
	}
	return cols
}
