package pipeline

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/mpapenbr/iracelog-racemodel/log"
	"github.com/mpapenbr/iracelog-racemodel/pkg/config"
	"github.com/mpapenbr/iracelog-racemodel/pkg/features"
	"github.com/mpapenbr/iracelog-racemodel/pkg/metrics"
	"github.com/mpapenbr/iracelog-racemodel/pkg/model"
	"github.com/mpapenbr/iracelog-racemodel/pkg/predict"
)

// Corpus is a set of prepared sessions used for calibration and training.
type Corpus struct {
	Sessions []*model.Session
	Rows     []model.RaceFeatureRow // rows of all sessions, session by session
}

// PrepareCorpus extracts the lap metrics of sessions with signals and builds
// the feature rows of all sessions. Sessions are processed concurrently.
func PrepareCorpus(ctx context.Context, sessions []*model.Session, a config.Analysis, parallel int) (
	*Corpus, error,
) {
	l := log.Default().Named("corpus")
	rows := make([][]model.RaceFeatureRow, len(sessions))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(parallel, 1))
	for i, s := range sessions {
		g.Go(func() error {
			if len(s.Signals) > 0 {
				if err := metrics.NewExtractor(MetricsConfig(a),
					metrics.WithLogger(l.Named("metrics"))).Apply(s); err != nil {
					return err
				}
			}
			r, err := features.NewBuilder(FeaturesConfig(a),
				features.WithLogger(l.Named("features"))).Build(gctx, s)
			if err != nil {
				return err
			}
			rows[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	ret := &Corpus{Sessions: sessions}
	for i := range rows {
		ret.Rows = append(ret.Rows, rows[i]...)
	}
	l.Debug("corpus prepared",
		log.Int("sessions", len(sessions)), log.Int("rows", len(ret.Rows)))
	return ret, nil
}

// PositionSamples pairs the race aggregates of every session with its
// final results.
func (c *Corpus) PositionSamples(a config.Analysis) []predict.PositionSample {
	bySession := make(map[string][]model.RaceFeatureRow, len(c.Sessions))
	for i := range c.Rows {
		bySession[c.Rows[i].Session] = append(bySession[c.Rows[i].Session], c.Rows[i])
	}
	var ret []predict.PositionSample
	for _, s := range c.Sessions {
		aggs := features.AggregateSession(bySession[s.ID], FeaturesConfig(a))
		ret = append(ret, predict.PositionSamples(aggs, s.Results)...)
	}
	return ret
}
