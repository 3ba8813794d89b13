package train

import (
	"context"
	"encoding/json"
	"errors"
	"io"

	"github.com/spf13/cobra"

	"github.com/mpapenbr/iracelog-racemodel/log"
	"github.com/mpapenbr/iracelog-racemodel/pkg/cmd/cmdutil"
	"github.com/mpapenbr/iracelog-racemodel/pkg/config"
	"github.com/mpapenbr/iracelog-racemodel/pkg/input"
	"github.com/mpapenbr/iracelog-racemodel/pkg/metrics"
	"github.com/mpapenbr/iracelog-racemodel/pkg/model"
	"github.com/mpapenbr/iracelog-racemodel/pkg/pipeline"
	"github.com/mpapenbr/iracelog-racemodel/pkg/predict"
	"github.com/mpapenbr/iracelog-racemodel/pkg/repository/artifact"
)

type options struct {
	noStore     bool
	noMetrics   bool
	lambda      float64
	resultsFile string
	resultsPath string
}

// Report is written to stdout after training.
type Report struct {
	Corpus    string             `json:"corpus"`
	Sessions  int                `json:"sessions"`
	Rows      int                `json:"rows"`
	Validated []string           `json:"validated"` // metrics used by the ridge candidate
	NextLap   *predict.Selection `json:"nextLap"`
	Position  *predict.CVReport  `json:"position,omitempty"`
	Artifacts map[string]string  `json:"artifacts,omitempty"` // kind => id
}

func NewTrainCmd() *cobra.Command {
	opts := options{}
	cmd := &cobra.Command{
		Use:   "train <session files>",
		Short: "fits the next-lap and position models on a corpus",
		Long: `Fits the next-lap and the finishing position model with leave-one-session-out
validation and stores both models as artifacts of the corpus.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return train(cmd.Context(), cmd.OutOrStdout(), &opts, args)
		},
	}
	cmd.Flags().BoolVar(&opts.noStore, "no-store", false,
		"do not store the models")
	cmd.Flags().BoolVar(&opts.noMetrics, "no-metrics", false,
		"do not use validated lap metrics in the next-lap candidate model")
	cmd.Flags().Float64Var(&opts.lambda, "lambda", predict.DefaultPositionConfig().Lambda,
		"ridge penalty of the position model")
	cmdutil.AddInputFlags(cmd.Flags(), &opts.resultsFile, &opts.resultsPath)
	cmdutil.AddAnalysisFlags(cmd.Flags(), &config.AnalysisFlags)
	return cmd
}

//nolint:funlen,cyclop // by design
func train(ctx context.Context, out io.Writer, opts *options, files []string) error {
	sqlLogger, err := cmdutil.SetupLogging()
	if err != nil {
		return err
	}
	if telemetry := cmdutil.SetupTelemetry(ctx); telemetry != nil {
		defer telemetry.Shutdown()
	}
	l := log.Default().Named("train")
	a := config.AnalysisFlags

	loader := input.NewLoader(input.WithResultsPath(opts.resultsPath))
	sessions, err := cmdutil.LoadSessions(loader, opts.resultsFile, files...)
	if err != nil {
		return err
	}
	corpus, err := pipeline.PrepareCorpus(ctx, sessions, a, config.Parallel)
	if err != nil {
		return err
	}
	schema := metrics.CurrentSchema()
	report := &Report{Corpus: config.Corpus, Sessions: len(sessions), Rows: len(corpus.Rows)}

	nlCfg := pipeline.NextLapConfig(a)
	if !opts.noMetrics {
		validation, err := metrics.Validate(schema, corpus.Rows, metrics.DefaultValidationConfig())
		switch {
		case err == nil:
			nlCfg.Registry = metrics.NewRegistry(schema, validation)
			nlCfg.Metrics = nlCfg.Registry.Validated()
		case errors.Is(err, model.ErrInsufficientData):
			l.Warn("metric validation skipped", log.ErrorField(err))
		default:
			return err
		}
	}
	report.Validated = nlCfg.Metrics

	next, sel, err := predict.SelectNextLap(corpus.Rows, nlCfg)
	if err != nil {
		return err
	}
	report.NextLap = sel
	l.Info("next-lap model selected",
		log.String("kind", string(sel.Selected)),
		log.Float64("baselineMae", sel.BaselineMAE),
		log.Float64("candidateMae", sel.CandidateMAE))

	posCfg := predict.DefaultPositionConfig()
	posCfg.Lambda = opts.lambda
	samples := corpus.PositionSamples(a)
	if report.Position, err = predict.LeaveOneSessionOut(samples, posCfg); err != nil {
		return err
	}
	pos, err := predict.FitPosition(samples, posCfg)
	if err != nil {
		return err
	}
	l.Info("position model fitted",
		log.Int("samples", len(samples)),
		log.Float64("cvMae", report.Position.MeanMAE))

	if !opts.noStore {
		if report.Artifacts, err = store(ctx, sqlLogger, schema, next, pos); err != nil {
			return err
		}
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

//nolint:whitespace // editor/linter issue
func store(
	ctx context.Context,
	sqlLogger *log.Logger,
	schema *metrics.Schema,
	next *predict.NextLapModel,
	pos *predict.PositionModel,
) (map[string]string, error) {
	st, err := cmdutil.OpenStore(ctx, sqlLogger, config.EnableTelemetry)
	if err != nil {
		return nil, err
	}
	defer st.Close()
	nl, err := artifact.NewNextLap(config.Corpus, schema.Version, next)
	if err != nil {
		return nil, err
	}
	pm, err := artifact.NewPosition(config.Corpus, schema.Version, pos)
	if err != nil {
		return nil, err
	}
	ret := make(map[string]string, 2)
	for _, m := range []*artifact.ModelArtifact{nl, pm} {
		if err := st.SaveModel(ctx, m); err != nil {
			return nil, err
		}
		ret[string(m.Kind)] = m.ID.String()
		log.Info("model stored",
			log.String("kind", string(m.Kind)),
			log.String("id", m.ID.String()),
			log.String("corpus", m.Corpus))
	}
	return ret, nil
}
