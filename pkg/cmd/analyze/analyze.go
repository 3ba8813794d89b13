package analyze

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mpapenbr/iracelog-racemodel/log"
	"github.com/mpapenbr/iracelog-racemodel/pkg/cmd/cmdutil"
	"github.com/mpapenbr/iracelog-racemodel/pkg/config"
	"github.com/mpapenbr/iracelog-racemodel/pkg/counterfactual"
	"github.com/mpapenbr/iracelog-racemodel/pkg/input"
	"github.com/mpapenbr/iracelog-racemodel/pkg/metrics"
	"github.com/mpapenbr/iracelog-racemodel/pkg/model"
	"github.com/mpapenbr/iracelog-racemodel/pkg/pipeline"
	"github.com/mpapenbr/iracelog-racemodel/pkg/predict"
	"github.com/mpapenbr/iracelog-racemodel/pkg/publish"
	natspub "github.com/mpapenbr/iracelog-racemodel/pkg/publish/nats"
	"github.com/mpapenbr/iracelog-racemodel/pkg/repository/artifact"
	"github.com/mpapenbr/iracelog-racemodel/pkg/utils/cache/loadercache"
)

type options struct {
	out            string
	rows           bool
	scenarios      string
	watch          string
	noModels       bool
	baselineBucket string
	baselineTTL    time.Duration
	reload         time.Duration
	resultsFile    string
	resultsPath    string
}

// resources are loaded once and shared by all analyzed sessions.
type resources struct {
	classification *model.Classification
	next           *predict.NextLapModel
	position       *predict.PositionModel
	scenarios      []model.InterventionScenario
}

func NewAnalyzeCmd() *cobra.Command {
	opts := options{}
	cmd := &cobra.Command{
		Use:   "analyze [session files]",
		Short: "analyzes sessions with the stored models of the corpus",
		Long: `Runs the full analysis (baselines, deviations, predictions, comparison and
counterfactual scenarios) and writes the results as JSON.
With --watch the given directory is watched and every session file written
to it is analyzed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && opts.watch == "" {
				return errors.New("no session files given")
			}
			return analyze(cmd.Context(), cmd.OutOrStdout(), &opts, args)
		},
	}
	cmd.Flags().StringVarP(&opts.out, "out", "o", "",
		"write the results to this file instead of stdout")
	cmd.Flags().BoolVar(&opts.rows, "rows", false,
		"include the feature rows in the output")
	cmd.Flags().StringVar(&opts.scenarios, "scenarios", "",
		"scenario catalog (toml), default is the built-in catalog")
	cmd.Flags().StringVar(&opts.watch, "watch", "",
		"watch this directory for new session files")
	cmd.Flags().BoolVar(&opts.noModels, "no-models", false,
		"do not load stored artifacts (no predictions and scenarios)")
	cmd.Flags().StringVar(&opts.baselineBucket, "baseline-bucket", natspub.DefaultBucket,
		"nats key value bucket for driver baselines (empty disables)")
	cmd.Flags().DurationVar(&opts.baselineTTL, "baseline-ttl", 24*time.Hour,
		"ttl of the entries in the baseline bucket")
	cmd.Flags().DurationVar(&opts.reload, "reload-artifacts", 5*time.Minute,
		"in watch mode the stored artifacts are reloaded after this duration")
	cmdutil.AddInputFlags(cmd.Flags(), &opts.resultsFile, &opts.resultsPath)
	cmdutil.AddAnalysisFlags(cmd.Flags(), &config.AnalysisFlags)
	return cmd
}

//nolint:funlen // by design
func analyze(ctx context.Context, stdout io.Writer, opts *options, files []string) error {
	sqlLogger, err := cmdutil.SetupLogging()
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	if telemetry := cmdutil.SetupTelemetry(ctx); telemetry != nil {
		defer telemetry.Shutdown()
	}

	artifacts := loadercache.New(
		loadercache.WithLoader[string, resources](func(ctx context.Context, corpus string) (*resources, error) {
			return loadResources(ctx, sqlLogger, corpus, opts)
		}),
		loadercache.WithExpiration[string, resources](opts.reload))
	res, err := artifacts.Get(ctx, config.Corpus)
	if err != nil {
		return err
	}
	pub, err := newPublisher(ctx, opts)
	if err != nil {
		return err
	}
	defer pub.Close()

	out := stdout
	if opts.out != "" {
		f, err := os.Create(opts.out)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}
	runner := pipeline.NewRunner(
		pipeline.WithPublisher(pub),
		pipeline.WithParallel(config.Parallel),
		pipeline.WithRows(opts.rows))
	loader := input.NewLoader(input.WithResultsPath(opts.resultsPath))

	if len(files) > 0 {
		sessions, err := cmdutil.LoadSessions(loader, opts.resultsFile, files...)
		if err != nil {
			return err
		}
		results, err := runner.Run(ctx, contexts(sessions, res))
		if err != nil {
			return err
		}
		if err := write(out, opts.watch == "", results...); err != nil {
			return err
		}
	}
	if opts.watch == "" {
		return nil
	}

	cmdutil.WatchConfig()
	var mu sync.Mutex
	w := newDirWatcher(opts.watch, func(file string) {
		sessions, err := cmdutil.LoadSessions(loader, opts.resultsFile, file)
		if err != nil {
			log.Error("could not load session", log.String("file", file), log.ErrorField(err))
			return
		}
		res, err := artifacts.Get(ctx, config.Corpus)
		if err != nil {
			log.Error("could not load artifacts", log.ErrorField(err))
			return
		}
		result, err := runner.RunSession(ctx, contexts(sessions, res)[0])
		if err != nil {
			log.Error("analysis failed", log.String("file", file), log.ErrorField(err))
			return
		}
		mu.Lock()
		defer mu.Unlock()
		if err := write(out, false, result); err != nil {
			log.Error("could not write result", log.ErrorField(err))
		}
	})
	return w.run(ctx)
}

//nolint:whitespace // editor/linter issue
func loadResources(
	ctx context.Context, sqlLogger *log.Logger, corpus string, opts *options,
) (*resources, error) {
	ret := &resources{}
	if opts.scenarios != "" {
		var err error
		if ret.scenarios, err = counterfactual.LoadCatalog(opts.scenarios); err != nil {
			return nil, err
		}
	}
	if opts.noModels {
		return ret, nil
	}
	st, err := cmdutil.OpenStore(ctx, sqlLogger, config.EnableTelemetry)
	if err != nil {
		return nil, err
	}
	defer st.Close()
	schema := metrics.CurrentSchema()
	ret.classification, err = artifact.LoadClassification(ctx, st, corpus, schema)
	switch {
	case errors.Is(err, artifact.ErrNotFound):
		log.Warn("no classification stored, all metrics are treated as state metrics",
			log.String("corpus", corpus))
	case err != nil:
		return nil, err
	}
	ret.next, ret.position, err = artifact.LoadModels(ctx, st, corpus, schema)
	switch {
	case errors.Is(err, artifact.ErrNotFound):
		log.Warn("no models stored, predictions and scenarios are skipped",
			log.String("corpus", corpus))
	case err != nil:
		return nil, err
	}
	return ret, nil
}

func newPublisher(ctx context.Context, opts *options) (publish.Publisher, error) {
	if config.NatsURL == "" {
		return publish.Nop{}, nil
	}
	if err := cmdutil.WaitForServices(ctx); err != nil {
		return nil, err
	}
	var natsOpts []natspub.Option
	if opts.baselineBucket != "" {
		natsOpts = append(natsOpts, natspub.WithBaselineBucket(opts.baselineBucket, opts.baselineTTL))
	}
	pub, err := natspub.Connect(ctx, config.NatsURL, natsOpts...)
	if err != nil {
		return nil, err
	}
	return pub, nil
}

func contexts(sessions []*model.Session, res *resources) []*pipeline.Context {
	ret := make([]*pipeline.Context, len(sessions))
	for i, s := range sessions {
		ret[i] = &pipeline.Context{
			Session:        s,
			Analysis:       config.AnalysisFlags,
			Classification: res.classification,
			NextLap:        res.next,
			Position:       res.position,
			Scenarios:      res.scenarios,
		}
	}
	return ret
}

// write writes the results as an indented JSON array or, if not pretty, one
// JSON document per line.
func write(out io.Writer, pretty bool, results ...*pipeline.Result) error {
	enc := json.NewEncoder(out)
	if pretty {
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}
	for _, r := range results {
		if err := enc.Encode(r); err != nil {
			return err
		}
	}
	return nil
}
