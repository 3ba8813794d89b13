package predict

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/mpapenbr/iracelog-racemodel/pkg/features"
	"github.com/mpapenbr/iracelog-racemodel/pkg/metrics"
	"github.com/mpapenbr/iracelog-racemodel/pkg/model"
)

type Kind string

const (
	// KindBaseline combines previous and session mean relative performance.
	KindBaseline Kind = "baseline"
	// KindRidge is a ridge regression over race context features.
	KindRidge Kind = "ridge"
	// KindAbsolute is the baseline formulation on absolute lap times.
	KindAbsolute Kind = "absolute"
)

type NextLapConfig struct {
	WarmupLaps int     // known laps needed before a prediction is issued
	Window     int     // rolling window of the lag features
	Z          float64 // z value of the confidence interval
	Lambda     float64 // ridge penalty of the candidate model
	MinSamples int     // training samples needed for a fit
	// metrics used by the candidate model; all must be validated
	Metrics  []string
	Registry *metrics.Registry
}

func DefaultNextLapConfig() NextLapConfig {
	return NextLapConfig{WarmupLaps: 3, Window: 3, Z: 1.645, Lambda: 1.0, MinSamples: 10}
}

// NextLapModel is frozen after fitting and safe for concurrent use.
type NextLapModel struct {
	Kind       Kind     `json:"kind"`
	Weight     float64  `json:"weight"` // weight of the previous lap (baseline kinds)
	Sigma      float64  `json:"sigma"`  // residual sd on the training data
	Linear     *Linear  `json:"linear,omitempty"`
	Metrics    []string `json:"metrics,omitempty"`
	WarmupLaps int      `json:"warmupLaps"`
	Window     int      `json:"window"`
	Z          float64  `json:"z"`
	Samples    int      `json:"samples"`
}

type sample struct {
	lag    model.LagFeatures
	x      []float64
	target float64
}

// walk calls fn for every usable target row with the rows before it.
// Rows are grouped by session and driver and ordered by lap.
func walk(rows []model.RaceFeatureRow, fn func(history []model.RaceFeatureRow, target *model.RaceFeatureRow)) {
	type key struct{ session, driver string }
	groups := make(map[key][]model.RaceFeatureRow)
	keys := make([]key, 0)
	for i := range rows {
		k := key{rows[i].Session, rows[i].Driver}
		if _, ok := groups[k]; !ok {
			keys = append(keys, k)
		}
		groups[k] = append(groups[k], rows[i])
	}
	for _, k := range keys {
		g := groups[k]
		sort.SliceStable(g, func(i, j int) bool { return g[i].Lap < g[j].Lap })
		for i := 1; i < len(g); i++ {
			if g[i].PaceUsable() {
				fn(g[:i], &g[i])
			}
		}
	}
}

// lag returns the lag features of the lap following history.
func (k Kind) lag(history []model.RaceFeatureRow, window int) model.LagFeatures {
	next := history[len(history)-1].Lap + 1
	if k == KindAbsolute {
		return features.NextLag(next, features.AbsoluteHistoryOf(history), window)
	}
	return features.NextLag(next, features.HistoryOf(history), window)
}

func (k Kind) target(r *model.RaceFeatureRow) float64 {
	if k == KindAbsolute {
		return r.LapTime
	}
	return r.RelPerf.GetOrZero()
}

// contextFeatures is the input vector of the ridge candidate.
func contextFeatures(history []model.RaceFeatureRow, lag model.LagFeatures, ms []string) []float64 {
	last := &history[len(history)-1]
	gap := 5.0
	if v, ok := last.GapAhead.Get(); ok {
		gap = math.Min(v, gap)
	}
	traffic := 0.0
	if last.Traffic {
		traffic = 1
	}
	ret := []float64{
		prev(lag),
		lag.RollingRelPerf.GetOrZero(),
		lag.SessionMeanRelPerf.GetOrZero(),
		float64(last.StintLap + 1),
		float64(max(last.LapsRemaining-1, 0)),
		traffic,
		gap,
	}
	for _, name := range ms {
		// unknown metric values are filled with NaN and imputed later
		ret = append(ret, last.Metrics.Get(name).GetOr(math.NaN()))
	}
	return ret
}

func collect(rows []model.RaceFeatureRow, kind Kind, cfg NextLapConfig) []sample {
	ret := make([]sample, 0)
	walk(rows, func(history []model.RaceFeatureRow, target *model.RaceFeatureRow) {
		lag := kind.lag(history, cfg.Window)
		if lag.KnownLaps < cfg.WarmupLaps {
			return
		}
		s := sample{lag: lag, target: kind.target(target)}
		if kind == KindRidge {
			s.x = contextFeatures(history, lag, cfg.Metrics)
		}
		ret = append(ret, s)
	})
	return ret
}

// FitNextLap fits the baseline model on relative performance.
func FitNextLap(rows []model.RaceFeatureRow, cfg NextLapConfig) (*NextLapModel, error) {
	return fitWeighted(rows, KindBaseline, cfg)
}

// FitAbsolute fits the same formulation on absolute lap times. It exists to
// evaluate the relative formulation against.
func FitAbsolute(rows []model.RaceFeatureRow, cfg NextLapConfig) (*NextLapModel, error) {
	return fitWeighted(rows, KindAbsolute, cfg)
}

func fitWeighted(rows []model.RaceFeatureRow, kind Kind, cfg NextLapConfig) (*NextLapModel, error) {
	samples := collect(rows, kind, cfg)
	if len(samples) < cfg.MinSamples {
		return nil, fmt.Errorf("%s model: %d samples, need %d: %w",
			kind, len(samples), cfg.MinSamples, model.ErrInsufficientData)
	}
	bestW, bestMAE := 0.0, math.Inf(1)
	for step := 0; step <= 20; step++ {
		w := float64(step) / 20
		mae := 0.0
		for _, s := range samples {
			mae += math.Abs(weighted(w, s.lag) - s.target)
		}
		mae /= float64(len(samples))
		if mae < bestMAE {
			bestW, bestMAE = w, mae
		}
	}
	ret := newModel(kind, cfg, len(samples))
	ret.Weight = bestW
	ret.Sigma = rmse(samples, func(s sample) float64 { return weighted(bestW, s.lag) })
	return ret, nil
}

// FitCandidate fits the ridge candidate. Metrics used as inputs must be
// validated.
func FitCandidate(rows []model.RaceFeatureRow, cfg NextLapConfig) (*NextLapModel, error) {
	if len(cfg.Metrics) > 0 {
		if cfg.Registry == nil {
			return nil, &model.UnvalidatedMetricError{Metrics: cfg.Metrics}
		}
		if err := cfg.Registry.RequirePredictive(cfg.Metrics...); err != nil {
			return nil, err
		}
	}
	samples := collect(rows, KindRidge, cfg)
	if len(samples) < cfg.MinSamples {
		return nil, fmt.Errorf("ridge model: %d samples, need %d: %w",
			len(samples), cfg.MinSamples, model.ErrInsufficientData)
	}
	x := make([][]float64, len(samples))
	y := make([]float64, len(samples))
	for i := range samples {
		x[i], y[i] = samples[i].x, samples[i].target
	}
	impute(x)
	lin, err := fitRidge(x, y, cfg.Lambda, false)
	if err != nil {
		return nil, err
	}
	ret := newModel(KindRidge, cfg, len(samples))
	ret.Linear = lin
	ret.Metrics = append([]string(nil), cfg.Metrics...)
	ret.Sigma = rmse(samples, func(s sample) float64 { return lin.Eval(s.x) })
	return ret, nil
}

func newModel(kind Kind, cfg NextLapConfig, n int) *NextLapModel {
	return &NextLapModel{
		Kind:       kind,
		WarmupLaps: cfg.WarmupLaps,
		Window:     cfg.Window,
		Z:          cfg.Z,
		Samples:    n,
	}
}

// impute replaces NaN entries by the column mean of the known values.
func impute(x [][]float64) {
	if len(x) == 0 {
		return
	}
	for j := range x[0] {
		sum, n := 0.0, 0
		for i := range x {
			if !math.IsNaN(x[i][j]) {
				sum += x[i][j]
				n++
			}
		}
		mean := 0.0
		if n > 0 {
			mean = sum / float64(n)
		}
		for i := range x {
			if math.IsNaN(x[i][j]) {
				x[i][j] = mean
			}
		}
	}
}

// prev falls back to the rolling mean if the previous lap has no value.
func prev(lag model.LagFeatures) float64 {
	return lag.PrevRelPerf.Or(lag.RollingRelPerf).GetOrZero()
}

func weighted(w float64, lag model.LagFeatures) float64 {
	return w*prev(lag) + (1-w)*lag.SessionMeanRelPerf.GetOrZero()
}

func rmse(samples []sample, pred func(sample) float64) float64 {
	sq := make([]float64, len(samples))
	for i, s := range samples {
		d := pred(s) - s.target
		sq[i] = d * d
	}
	return math.Sqrt(stat.Mean(sq, nil))
}

// Predict returns the estimate for the lap horizon laps after the last lap of
// history. history holds the rows of one driver up to and including the
// current lap. The interval widens with the square root of the horizon.
func (m *NextLapModel) Predict(history []model.RaceFeatureRow, horizon int) (model.Prediction, error) {
	if m == nil {
		return model.Prediction{}, model.ErrModelNotTrained
	}
	if horizon < 1 {
		return model.Prediction{}, fmt.Errorf("horizon %d: %w", horizon, model.ErrInvalidInput)
	}
	if len(history) == 0 {
		return model.Prediction{}, fmt.Errorf("empty history: %w", model.ErrInsufficientHistory)
	}
	last := &history[len(history)-1]
	lag := m.Kind.lag(history, m.Window)
	if lag.KnownLaps < m.WarmupLaps {
		return model.Prediction{}, fmt.Errorf("driver %s after lap %d: %d known laps, need %d: %w",
			last.Driver, last.Lap, lag.KnownLaps, m.WarmupLaps, model.ErrInsufficientHistory)
	}
	var value float64
	switch m.Kind {
	case KindRidge:
		x := contextFeatures(history, lag, m.Metrics)
		for j := range x {
			if math.IsNaN(x[j]) {
				x[j] = m.Linear.Mean[j]
			}
		}
		value = m.Linear.Eval(x)
	default:
		value = weighted(m.Weight, lag)
	}
	half := m.Z * m.Sigma * math.Sqrt(float64(horizon))
	ret := model.Prediction{
		Session: last.Session,
		Driver:  last.Driver,
		Lap:     last.Lap + horizon,
		Horizon: horizon,
		Value:   value,
		Lower:   value - half,
		Upper:   value + half,
		Model:   string(m.Kind),
	}
	if last.LowConfidence {
		ret.Validity = model.LowConfidence
		ret.Reasons = append(ret.Reasons, last.Reasons...)
	}
	if lag.PrevRelPerf.IsNull() {
		ret.Validity = model.LowConfidence
		ret.Reasons = append(ret.Reasons, model.ReasonPrevLapUnknown)
	}
	return ret, nil
}

// Evaluate returns the mean absolute one-lap-ahead error over all usable
// target rows with enough history.
func (m *NextLapModel) Evaluate(rows []model.RaceFeatureRow) (mae float64, n int) {
	walk(rows, func(history []model.RaceFeatureRow, target *model.RaceFeatureRow) {
		p, err := m.Predict(history, 1)
		if err != nil {
			return
		}
		mae += math.Abs(p.Value - m.Kind.target(target))
		n++
	})
	if n > 0 {
		mae /= float64(n)
	}
	return mae, n
}
