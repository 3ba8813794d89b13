package calibrate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/mpapenbr/iracelog-racemodel/log"
	"github.com/mpapenbr/iracelog-racemodel/pkg/cmd/cmdutil"
	"github.com/mpapenbr/iracelog-racemodel/pkg/config"
	"github.com/mpapenbr/iracelog-racemodel/pkg/input"
	"github.com/mpapenbr/iracelog-racemodel/pkg/metrics"
	"github.com/mpapenbr/iracelog-racemodel/pkg/model"
	"github.com/mpapenbr/iracelog-racemodel/pkg/partition"
	"github.com/mpapenbr/iracelog-racemodel/pkg/pipeline"
	"github.com/mpapenbr/iracelog-racemodel/pkg/repository/artifact"
)

type options struct {
	export      string
	noStore     bool
	resultsFile string
	resultsPath string
}

// Report is the calibration outcome written by --export.
type Report struct {
	Classification *model.Classification `yaml:"classification"`
	Validation     map[string]string     `yaml:"validation,omitempty"` // metric => status
	// share of metrics classified the same on two disjoint halves of the corpus
	Agreement float64 `yaml:"agreement"`
	Artifact  string  `yaml:"artifact,omitempty"`
}

func NewCalibrateCmd() *cobra.Command {
	opts := options{}
	cmd := &cobra.Command{
		Use:   "calibrate <session files>",
		Short: "classifies the lap metrics of a corpus into profile and state metrics",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return calibrate(cmd.Context(), cmd.OutOrStdout(), &opts, args)
		},
	}
	cmd.Flags().StringVar(&opts.export, "export", "",
		"write the calibration report as yaml to this file (- for stdout)")
	cmd.Flags().BoolVar(&opts.noStore, "no-store", false,
		"do not store the classification")
	cmdutil.AddInputFlags(cmd.Flags(), &opts.resultsFile, &opts.resultsPath)
	cmdutil.AddAnalysisFlags(cmd.Flags(), &config.AnalysisFlags)
	return cmd
}

//nolint:funlen // by design
func calibrate(ctx context.Context, out io.Writer, opts *options, files []string) error {
	sqlLogger, err := cmdutil.SetupLogging()
	if err != nil {
		return err
	}
	if telemetry := cmdutil.SetupTelemetry(ctx); telemetry != nil {
		defer telemetry.Shutdown()
	}
	l := log.Default().Named("calibrate")
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
	report := &Report{}

	validation, err := metrics.Validate(schema, corpus.Rows, metrics.DefaultValidationConfig())
	switch {
	case err == nil:
		report.Validation = make(map[string]string, len(validation.Metrics))
		for _, mv := range validation.Metrics {
			report.Validation[mv.Metric] = mv.Status.String()
		}
	case errors.Is(err, model.ErrInsufficientData):
		l.Warn("metric validation skipped", log.ErrorField(err))
	default:
		return err
	}

	obs := partition.FromSessions(sessions...)
	cfg := pipeline.PartitionConfig(a)
	report.Classification, err = partition.Partition(schema.Version, schema.Names(), obs, cfg)
	if err != nil {
		return err
	}
	report.Classification.Corpus = config.Corpus

	ha, hb := partition.Halves(obs)
	ca, errA := partition.Partition(schema.Version, schema.Names(), ha, cfg)
	cb, errB := partition.Partition(schema.Version, schema.Names(), hb, cfg)
	if errA == nil && errB == nil {
		report.Agreement = partition.Agreement(ca, cb)
		l.Info("classification stability", log.Float64("agreement", report.Agreement))
	} else {
		l.Warn("classification stability not computed", log.ErrorField(errors.Join(errA, errB)))
	}

	for _, e := range report.Classification.Entries {
		l.Info("metric classified",
			log.String("metric", e.Metric),
			log.String("class", e.Class.String()),
			log.Float64("ratio", e.Ratio.GetOr(math.Inf(1))),
			log.Bool("sufficient", e.Sufficient))
	}

	if !opts.noStore {
		st, err := cmdutil.OpenStore(ctx, sqlLogger, config.EnableTelemetry)
		if err != nil {
			return err
		}
		defer st.Close()
		art := artifact.NewClassification(report.Classification)
		if err := st.SaveClassification(ctx, art); err != nil {
			return err
		}
		report.Artifact = art.ID.String()
		l.Info("classification stored",
			log.String("id", report.Artifact), log.String("corpus", art.Corpus))
	}
	return export(out, opts.export, report)
}

func export(out io.Writer, target string, report *Report) error {
	if target == "" {
		return nil
	}
	data, err := yaml.Marshal(report)
	if err != nil {
		return err
	}
	if target == "-" {
		_, err = out.Write(data)
		return err
	}
	if err := os.WriteFile(target, data, 0o600); err != nil {
		return fmt.Errorf("export: %w", err)
	}
	return nil
}
