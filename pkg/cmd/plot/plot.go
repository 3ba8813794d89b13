package plot

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"gonum.org/v1/plot/vg"

	"github.com/mpapenbr/iracelog-racemodel/log"
	"github.com/mpapenbr/iracelog-racemodel/pkg/cmd/cmdutil"
	"github.com/mpapenbr/iracelog-racemodel/pkg/config"
	"github.com/mpapenbr/iracelog-racemodel/pkg/input"
	"github.com/mpapenbr/iracelog-racemodel/pkg/pipeline"
	"github.com/mpapenbr/iracelog-racemodel/pkg/report"
)

type options struct {
	out     string
	drivers []string
	width   float64
	height  float64
}

func NewPlotCmd() *cobra.Command {
	opts := options{}
	cmd := &cobra.Command{
		Use:   "plot <session file>",
		Short: "plots the relative performance of the drivers of a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return plot(cmd.Context(), &opts, args[0])
		},
	}
	cmd.Flags().StringVarP(&opts.out, "out", "o", "relperf.png",
		"output file, the format is taken from the extension (png, svg, pdf)")
	cmd.Flags().StringSliceVar(&opts.drivers, "driver", nil,
		"drivers to plot (default all)")
	cmd.Flags().Float64Var(&opts.width, "width", 14, "width in inch")
	cmd.Flags().Float64Var(&opts.height, "height", 6, "height in inch")
	cmdutil.AddAnalysisFlags(cmd.Flags(), &config.AnalysisFlags)
	return cmd
}

func plot(ctx context.Context, opts *options, file string) error {
	if _, err := cmdutil.SetupLogging(); err != nil {
		return err
	}
	sessions, err := cmdutil.LoadSessions(input.NewLoader(), "", file)
	if err != nil {
		return err
	}
	corpus, err := pipeline.PrepareCorpus(ctx, sessions, config.AnalysisFlags, 1)
	if err != nil {
		return err
	}
	size := report.WithSize(vg.Length(opts.width)*vg.Inch, vg.Length(opts.height)*vg.Inch)
	p, err := report.RelativePerformance(corpus.Rows,
		report.WithDrivers(opts.drivers...),
		report.WithTitle(fmt.Sprintf("Relative performance %s", sessions[0].ID)))
	if err != nil {
		return err
	}
	if err := report.Save(p, opts.out, size); err != nil {
		return err
	}
	log.Info("plot written", log.String("file", opts.out))
	return nil
}
