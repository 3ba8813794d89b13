package counterfactual

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/mpapenbr/iracelog-racemodel/log"
	"github.com/mpapenbr/iracelog-racemodel/pkg/counterfactual/policy"
	"github.com/mpapenbr/iracelog-racemodel/pkg/model"
	"github.com/mpapenbr/iracelog-racemodel/pkg/predict"
)

type Config struct {
	EarlyEnd int
	MidEnd   int
}

func DefaultConfig() Config {
	return Config{EarlyEnd: 5, MidEnd: 15}
}

type (
	// Simulator evaluates scenarios for the drivers of one session with a
	// trained position model. It is read-only after construction.
	Simulator struct {
		model  *predict.PositionModel
		field  []model.RaceAggregates
		scores []float64
		policy *policy.Evaluator
		cfg    Config
		l      *log.Logger
	}
	Option func(*Simulator)
)

func WithPolicy(e *policy.Evaluator) Option {
	return func(s *Simulator) {
		s.policy = e
	}
}

func WithConfig(cfg Config) Option {
	return func(s *Simulator) {
		s.cfg = cfg
	}
}

func WithLogger(l *log.Logger) Option {
	return func(s *Simulator) {
		s.l = l
	}
}

// NewSimulator binds the model to the actual aggregates of a session field.
func NewSimulator(m *predict.PositionModel, field []model.RaceAggregates, opts ...Option) (
	*Simulator, error,
) {
	if m == nil {
		return nil, model.ErrModelNotTrained
	}
	ret := &Simulator{
		model: m,
		field: field,
		cfg:   DefaultConfig(),
		l:     log.Default().Named("counterfactual"),
	}
	for _, opt := range opts {
		opt(ret)
	}
	if ret.policy == nil {
		p, err := policy.Default()
		if err != nil {
			return nil, err
		}
		ret.policy = p
	}
	ret.scores = make([]float64, len(field))
	for i := range field {
		score, err := m.Score(field[i])
		if err != nil {
			return nil, err
		}
		ret.scores[i] = score
	}
	return ret, nil
}

// Simulate applies the scenario to the driver's actual aggregates and
// re-evaluates the position model. All other drivers keep their actual
// aggregates.
//
//nolint:funlen // ok
func (s *Simulator) Simulate(ctx context.Context, driver string, sc model.InterventionScenario) (
	model.ScenarioOutcome, error,
) {
	idx := slices.IndexFunc(s.field, func(a model.RaceAggregates) bool { return a.Driver == driver })
	if idx < 0 {
		return model.ScenarioOutcome{}, fmt.Errorf("driver %s not in field: %w",
			driver, model.ErrInvalidInput)
	}
	if err := s.policy.Check(ctx, sc); err != nil {
		return model.ScenarioOutcome{}, err
	}
	actual := s.field[idx]
	modified, applied, err := s.apply(actual, sc)
	if err != nil {
		return model.ScenarioOutcome{}, err
	}
	predicted, err := s.model.Score(modified)
	if err != nil {
		return model.ScenarioOutcome{}, err
	}
	baseTime, err := s.model.TimeDelta(actual)
	if err != nil {
		return model.ScenarioOutcome{}, err
	}
	newTime, err := s.model.TimeDelta(modified)
	if err != nil {
		return model.ScenarioOutcome{}, err
	}
	others := append(slices.Clone(s.scores[:idx]), s.scores[idx+1:]...)
	ret := model.ScenarioOutcome{
		Session:           actual.Session,
		Driver:            driver,
		Scenario:          sc.Name,
		Applied:           applied,
		BaselinePosition:  predict.PositionWithin(s.scores[idx], others),
		PredictedPosition: predict.PositionWithin(predicted, others),
		BaselineScore:     s.scores[idx],
		PredictedScore:    predicted,
		PositionGain:      s.scores[idx] - predicted,
		TimeDelta:         newTime - baseTime,
		Validity:          actual.Validity,
		Reasons:           slices.Clone(actual.Reasons),
	}
	s.l.Debug("scenario simulated",
		log.String("session", actual.Session),
		log.String("driver", driver),
		log.String("scenario", sc.Name),
		log.Float64("gain", ret.PositionGain),
		log.Float64("timeDelta", ret.TimeDelta))
	return ret, nil
}

// apply returns the modified aggregates and the applied target values.
// Lowering degradation also lowers the segment paces by the removed slope,
// pivoting at lap 1. Reducing traffic laps scales a positive traffic cost.
func (s *Simulator) apply(actual model.RaceAggregates, sc model.InterventionScenario) (
	model.RaceAggregates, map[string]float64, error,
) {
	ret := actual
	applied := make(map[string]float64, len(sc.Replacements))
	replaced := sc.Features()
	for _, r := range sc.Replacements {
		cur, err := actual.Value(r.Feature)
		if err != nil {
			return ret, nil, err
		}
		target, err := s.target(r)
		if err != nil {
			return ret, nil, err
		}
		if !sc.Exact {
			target = min(target, cur)
		}
		if ret, err = ret.With(r.Feature, target); err != nil {
			return ret, nil, err
		}
		applied[r.Feature] = target
	}
	if target, ok := applied[model.FeatureDegradation]; ok {
		delta := target - actual.Degradation
		for seg, center := range s.segmentCenters(actual.Laps) {
			f := segmentFeature[seg]
			if slices.Contains(replaced, f) {
				continue
			}
			v, _ := ret.Value(f)
			//nolint:errcheck // f is an aggregate feature
			ret, _ = ret.With(f, v+delta*(center-1))
		}
	}
	if target, ok := applied[model.FeatureTrafficLaps]; ok &&
		!slices.Contains(replaced, model.FeatureTrafficCost) &&
		actual.TrafficLaps > 0 && actual.TrafficCost > 0 {
		ret.TrafficCost = actual.TrafficCost * target / actual.TrafficLaps
	}
	return ret, applied, nil
}

var segmentFeature = map[model.Segment]string{
	model.SegmentEarly: model.FeaturePaceEarly,
	model.SegmentMid:   model.FeaturePaceMid,
	model.SegmentLate:  model.FeaturePaceLate,
}

// segmentCenters returns the mean lap index of each segment that has laps.
func (s *Simulator) segmentCenters(laps int) map[model.Segment]float64 {
	ret := make(map[model.Segment]float64)
	center := func(from, to int) (float64, bool) {
		to = min(to, laps)
		if to < from {
			return 0, false
		}
		return float64(from+to) / 2, true
	}
	if c, ok := center(1, s.cfg.EarlyEnd); ok {
		ret[model.SegmentEarly] = c
	}
	if c, ok := center(s.cfg.EarlyEnd+1, s.cfg.MidEnd); ok {
		ret[model.SegmentMid] = c
	}
	if c, ok := center(s.cfg.MidEnd+1, laps); ok {
		ret[model.SegmentLate] = c
	}
	return ret
}

func (s *Simulator) target(r model.Replacement) (float64, error) {
	if v, ok := r.Value.Get(); ok {
		return v, nil
	}
	p, ok := r.Percentile.Get()
	if !ok {
		return 0, fmt.Errorf("feature %s has no target: %w", r.Feature, model.ErrInvalidInput)
	}
	values := make([]float64, 0, len(s.field))
	for _, a := range s.field {
		if v, err := a.Value(r.Feature); err == nil {
			values = append(values, v)
		}
	}
	if len(values) == 0 {
		return 0, fmt.Errorf("no field values for %s: %w", r.Feature, model.ErrInsufficientData)
	}
	slices.Sort(values)
	return stat.Quantile(p, stat.LinInterp, values, nil), nil
}

// Rank simulates all scenarios for the driver and orders them by position
// gain, then by time gain. Scenarios rejected by the policy are skipped.
func (s *Simulator) Rank(ctx context.Context, driver string, scenarios []model.InterventionScenario) (
	[]model.ScenarioOutcome, error,
) {
	ret := make([]model.ScenarioOutcome, 0, len(scenarios))
	for _, sc := range scenarios {
		o, err := s.Simulate(ctx, driver, sc)
		if err != nil {
			if errors.Is(err, policy.ErrScenarioRejected) {
				s.l.Warn("scenario skipped", log.String("scenario", sc.Name), log.ErrorField(err))
				continue
			}
			return nil, err
		}
		ret = append(ret, o)
	}
	sort.SliceStable(ret, func(i, j int) bool {
		if ret[i].PositionGain != ret[j].PositionGain {
			return ret[i].PositionGain > ret[j].PositionGain
		}
		if ret[i].TimeDelta != ret[j].TimeDelta {
			return ret[i].TimeDelta < ret[j].TimeDelta
		}
		return ret[i].Scenario < ret[j].Scenario
	})
	return ret, nil
}
