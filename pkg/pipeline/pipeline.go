// Package pipeline runs the complete analysis of race sessions.
//
// Every session is processed with its own Context value; nothing is shared
// between sessions except the frozen models. Sessions run concurrently.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/mpapenbr/iracelog-racemodel/log"
	"github.com/mpapenbr/iracelog-racemodel/pkg/baseline"
	"github.com/mpapenbr/iracelog-racemodel/pkg/compare"
	"github.com/mpapenbr/iracelog-racemodel/pkg/config"
	"github.com/mpapenbr/iracelog-racemodel/pkg/counterfactual"
	"github.com/mpapenbr/iracelog-racemodel/pkg/features"
	"github.com/mpapenbr/iracelog-racemodel/pkg/metrics"
	"github.com/mpapenbr/iracelog-racemodel/pkg/model"
	"github.com/mpapenbr/iracelog-racemodel/pkg/predict"
	"github.com/mpapenbr/iracelog-racemodel/pkg/publish"
)

// Context holds everything the analysis of one session needs.
// Models and classification are read only.
type Context struct {
	Session        *model.Session
	Analysis       config.Analysis
	Classification *model.Classification
	NextLap        *predict.NextLapModel
	Position       *predict.PositionModel
	Scenarios      []model.InterventionScenario // nil: built-in catalog
}

type Result struct {
	RunID       string                             `json:"runId"`
	Session     string                             `json:"session"`
	Rows        []model.RaceFeatureRow             `json:"rows,omitempty"`
	Baselines   []*model.DriverBaseline            `json:"baselines"`
	Deviations  []model.StateDeviation             `json:"deviations,omitempty"`
	Predictions []model.Prediction                 `json:"predictions,omitempty"`
	Withheld    int                                `json:"withheld"` // predictions without enough history
	Aggregates  []model.RaceAggregates             `json:"aggregates"`
	Order       []predict.PositionPrediction       `json:"order,omitempty"`
	Comparisons []model.ComparisonResult           `json:"comparisons,omitempty"`
	Scenarios   map[string][]model.ScenarioOutcome `json:"scenarios,omitempty"`
}

type (
	Runner struct {
		pub      publish.Publisher
		parallel int
		keepRows bool
		l        *log.Logger
		tracer   trace.Tracer
		laps     metric.Int64Counter
		withheld metric.Int64Counter
		lowConf  metric.Int64Counter
	}
	Option func(*Runner)
)

func WithPublisher(p publish.Publisher) Option {
	return func(r *Runner) {
		r.pub = p
	}
}

// WithParallel limits the number of concurrently processed sessions.
func WithParallel(n int) Option {
	return func(r *Runner) {
		r.parallel = n
	}
}

// WithRows keeps the feature rows in the result.
func WithRows(keep bool) Option {
	return func(r *Runner) {
		r.keepRows = keep
	}
}

func WithLogger(l *log.Logger) Option {
	return func(r *Runner) {
		r.l = l
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(r *Runner) {
		r.tracer = tracer
	}
}

func NewRunner(opts ...Option) *Runner {
	ret := &Runner{
		pub:      publish.Nop{},
		parallel: 4,
		l:        log.Default().Named("pipeline"),
	}
	for _, opt := range opts {
		opt(ret)
	}
	if ret.tracer == nil {
		ret.tracer = otel.Tracer("irm")
	}
	ret.setupMetrics()
	return ret
}

func (r *Runner) setupMetrics() {
	meter := otel.GetMeterProvider().Meter("irm.pipeline")
	counter := func(name, desc string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithDescription(desc), metric.WithUnit("{count}"))
		if err != nil {
			r.l.Error("failed to register metric", log.String("metric", name), log.ErrorField(err))
		}
		return c
	}
	r.laps = counter("irm.pipeline.laps", "Number of processed laps")
	r.withheld = counter("irm.pipeline.predictions.withheld",
		"Number of predictions withheld for insufficient history")
	r.lowConf = counter("irm.pipeline.rows.lowconfidence", "Number of low confidence feature rows")
}

func add(ctx context.Context, c metric.Int64Counter, n int, session string) {
	if c != nil && n > 0 {
		c.Add(ctx, int64(n), metric.WithAttributes(attribute.String("session", session)))
	}
}

// Run processes all sessions. The first failing session cancels the others.
// Results are in input order.
func (r *Runner) Run(ctx context.Context, sessions []*Context) ([]*Result, error) {
	runID := uuid.NewString()
	l := r.l.With(log.String("run", runID))
	ret := make([]*Result, len(sessions))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(r.parallel, 1))
	for i, sc := range sessions {
		g.Go(func() error {
			res, err := r.runSession(gctx, runID, sc, l)
			if err != nil {
				return err
			}
			ret[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if errors.Is(err, model.ErrLeakageGuardViolation) {
			l.Error("leakage guard violation, run aborted", log.ErrorField(err))
		}
		return nil, err
	}
	l.Info("run finished", log.Int("sessions", len(sessions)))
	return ret, nil
}

// RunSession processes a single session.
func (r *Runner) RunSession(ctx context.Context, sc *Context) (*Result, error) {
	runID := uuid.NewString()
	return r.runSession(ctx, runID, sc, r.l.With(log.String("run", runID)))
}

//nolint:funlen,cyclop // stages
func (r *Runner) runSession(ctx context.Context, runID string, sc *Context, l *log.Logger) (
	res *Result, err error,
) {
	if sc == nil || sc.Session == nil {
		return nil, fmt.Errorf("no session: %w", model.ErrInvalidInput)
	}
	s := sc.Session
	l = l.With(log.String("session", s.ID))
	ctx, span := r.tracer.Start(ctx, "session",
		trace.WithAttributes(attribute.String("session", s.ID), attribute.String("run", runID)))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()
	stage := func(name string, fn func(ctx context.Context) error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		sctx, sspan := r.tracer.Start(ctx, name)
		defer sspan.End()
		if err := fn(sctx); err != nil {
			sspan.RecordError(err)
			sspan.SetStatus(codes.Error, err.Error())
			return fmt.Errorf("session %s stage %s: %w", s.ID, name, err)
		}
		return nil
	}

	res = &Result{RunID: runID, Session: s.ID}
	schema := metrics.CurrentSchema()
	fcfg := FeaturesConfig(sc.Analysis)

	if err = stage("metrics", func(context.Context) error {
		if sc.Classification != nil {
			if err := schema.CheckClassification(sc.Classification); err != nil {
				return err
			}
		}
		if len(s.Signals) == 0 {
			return nil
		}
		return metrics.NewExtractor(MetricsConfig(sc.Analysis),
			metrics.WithLogger(l.Named("metrics"))).Apply(s)
	}); err != nil {
		return nil, err
	}
	add(ctx, r.laps, len(s.Laps), s.ID)

	var rows []model.RaceFeatureRow
	if err = stage("features", func(ctx context.Context) error {
		var err error
		rows, err = features.NewBuilder(fcfg, features.WithLogger(l.Named("features"))).Build(ctx, s)
		if err != nil {
			return err
		}
		add(ctx, r.lowConf, len(slices.DeleteFunc(slices.Clone(rows),
			func(r model.RaceFeatureRow) bool { return !r.LowConfidence })), s.ID)
		return nil
	}); err != nil {
		return nil, err
	}
	if r.keepRows {
		res.Rows = rows
	}

	if err = stage("baselines", func(ctx context.Context) error {
		return r.baselines(ctx, sc, res, l)
	}); err != nil {
		return nil, err
	}

	if err = stage("predictions", func(ctx context.Context) error {
		return r.predictions(ctx, sc, rows, res)
	}); err != nil {
		return nil, err
	}
	add(ctx, r.withheld, res.Withheld, s.ID)

	res.Aggregates = features.AggregateSession(rows, fcfg)

	if err = stage("comparison", func(context.Context) error {
		if len(s.Results) == 0 {
			return nil
		}
		cmp, err := compare.NewAnalyzer(fcfg, compare.WithLogger(l.Named("compare"))).
			Analyze(s.Results, rows)
		if errors.Is(err, model.ErrInsufficientData) {
			l.Warn("comparison skipped", log.ErrorField(err))
			return nil
		}
		res.Comparisons = cmp
		return err
	}); err != nil {
		return nil, err
	}

	if err = stage("counterfactual", func(ctx context.Context) error {
		return r.counterfactual(ctx, sc, res, l)
	}); err != nil {
		return nil, err
	}

	l.Debug("session processed",
		log.Int("rows", len(rows)),
		log.Int("baselines", len(res.Baselines)),
		log.Int("predictions", len(res.Predictions)),
		log.Int("withheld", res.Withheld))
	return res, nil
}

// baselines builds the driver baselines (falling back to the field baseline)
// and the state deviations of all laps after the baseline window.
func (r *Runner) baselines(ctx context.Context, sc *Context, res *Result, l *log.Logger) error {
	s := sc.Session
	cfg := BaselineConfig(sc.Analysis)
	field, err := baseline.BuildField(s.ID, s.Laps, sc.Classification, cfg)
	if err != nil && !errors.Is(err, model.ErrInsufficientData) {
		return err
	}
	byDriver := make(map[string][]model.LapRecord)
	for i := range s.Laps {
		byDriver[s.Laps[i].Driver] = append(byDriver[s.Laps[i].Driver], s.Laps[i])
	}
	for _, driver := range s.Drivers() {
		laps := byDriver[driver]
		b, fallback, err := baseline.BuildOrFallback(s.ID, driver, laps, field, sc.Classification, cfg)
		if errors.Is(err, model.ErrInsufficientData) {
			l.Warn("no baseline", log.String("driver", driver), log.ErrorField(err))
			continue
		}
		if err != nil {
			return err
		}
		if fallback {
			l.Debug("field baseline used", log.String("driver", driver))
		}
		res.Baselines = append(res.Baselines, b)
		if err := r.pub.PublishBaseline(ctx, b); err != nil {
			return err
		}
		for i := range laps {
			if laps[i].Lap <= cfg.Laps {
				continue
			}
			d := baseline.Deviations(b, &laps[i])
			if err := r.pub.PublishDeviations(ctx, s.ID, d); err != nil {
				return err
			}
			res.Deviations = append(res.Deviations, d...)
		}
	}
	return nil
}

// predictions issues a one-lap-ahead prediction after every lap. Laps
// without enough history are counted, not reported.
func (r *Runner) predictions(ctx context.Context, sc *Context, rows []model.RaceFeatureRow, res *Result) error {
	if sc.NextLap == nil {
		return nil
	}
	byDriver := features.ByDriver(rows)
	for _, driver := range sc.Session.Drivers() {
		dRows := byDriver[driver]
		for i := range dRows {
			p, err := sc.NextLap.Predict(dRows[:i+1], 1)
			if errors.Is(err, model.ErrInsufficientHistory) {
				res.Withheld++
				continue
			}
			if err != nil {
				return err
			}
			res.Predictions = append(res.Predictions, p)
			if err := r.pub.PublishPrediction(ctx, &p); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *Runner) counterfactual(ctx context.Context, sc *Context, res *Result, l *log.Logger) error {
	if sc.Position == nil || len(res.Aggregates) == 0 {
		return nil
	}
	order, err := sc.Position.PredictOrder(res.Aggregates)
	if err != nil {
		return err
	}
	res.Order = order
	sim, err := counterfactual.NewSimulator(sc.Position, res.Aggregates,
		counterfactual.WithConfig(CounterfactualConfig(sc.Analysis)),
		counterfactual.WithLogger(l.Named("counterfactual")))
	if err != nil {
		return err
	}
	scenarios := sc.Scenarios
	if scenarios == nil {
		scenarios = counterfactual.BuiltinScenarios()
	}
	res.Scenarios = make(map[string][]model.ScenarioOutcome, len(res.Aggregates))
	for _, a := range res.Aggregates {
		ranked, err := sim.Rank(ctx, a.Driver, scenarios)
		if err != nil {
			return err
		}
		res.Scenarios[a.Driver] = ranked
	}
	return nil
}
