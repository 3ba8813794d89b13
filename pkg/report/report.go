// Package report renders session analysis results as charts.
package report

import (
	"fmt"
	"io"
	"path/filepath"
	"slices"
	"strings"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"

	"github.com/mpapenbr/iracelog-racemodel/pkg/features"
	"github.com/mpapenbr/iracelog-racemodel/pkg/model"
)

type Option func(*config)

type config struct {
	width   vg.Length
	height  vg.Length
	title   string
	drivers []string
}

func WithSize(width, height vg.Length) Option {
	return func(c *config) {
		c.width = width
		c.height = height
	}
}

func WithTitle(title string) Option {
	return func(c *config) {
		c.title = title
	}
}

// WithDrivers restricts the chart to the given drivers.
func WithDrivers(drivers ...string) Option {
	return func(c *config) {
		c.drivers = drivers
	}
}

func newConfig(opts []Option) *config {
	c := &config{width: 14 * vg.Inch, height: 6 * vg.Inch}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RelativePerformance plots the relative performance per lap, one line per
// driver. Laps that do not reflect the driver's pace are left out.
func RelativePerformance(rows []model.RaceFeatureRow, opts ...Option) (*plot.Plot, error) {
	c := newConfig(opts)
	byDriver := features.ByDriver(rows)
	drivers := c.drivers
	if len(drivers) == 0 {
		for d := range byDriver {
			drivers = append(drivers, d)
		}
		slices.Sort(drivers)
	}

	p := plot.New()
	p.Title.Text = c.title
	if p.Title.Text == "" {
		p.Title.Text = "Relative performance"
	}
	p.X.Label.Text = "Lap"
	p.Y.Label.Text = "Lap time - field median (s)"
	p.Add(plotter.NewGrid())

	lines := 0
	for i, driver := range drivers {
		pts := make(plotter.XYs, 0, len(byDriver[driver]))
		for j := range byDriver[driver] {
			r := &byDriver[driver][j]
			if !r.PaceUsable() {
				continue
			}
			v, _ := r.RelPerf.Get()
			pts = append(pts, plotter.XY{X: float64(r.Lap), Y: v})
		}
		if len(pts) == 0 {
			continue
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return nil, fmt.Errorf("driver %s: %w", driver, err)
		}
		line.Color = plotutil.Color(i)
		line.Width = vg.Points(1)
		p.Add(line)
		p.Legend.Add(driver, line)
		lines++
	}
	if lines == 0 {
		return nil, fmt.Errorf("no usable laps to plot: %w", model.ErrInsufficientData)
	}
	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10
	return p, nil
}

// ScenarioGains plots the position gain of each ranked scenario of one
// driver as a bar chart.
func ScenarioGains(outcomes []model.ScenarioOutcome, opts ...Option) (*plot.Plot, error) {
	if len(outcomes) == 0 {
		return nil, fmt.Errorf("no scenarios to plot: %w", model.ErrInsufficientData)
	}
	c := newConfig(opts)
	values := make(plotter.Values, len(outcomes))
	names := make([]string, len(outcomes))
	for i := range outcomes {
		values[i] = outcomes[i].PositionGain
		names[i] = outcomes[i].Scenario
	}

	p := plot.New()
	p.Title.Text = c.title
	if p.Title.Text == "" {
		p.Title.Text = fmt.Sprintf("Scenario gains %s", outcomes[0].Driver)
	}
	p.Y.Label.Text = "Position score gain"
	bars, err := plotter.NewBarChart(values, vg.Points(20))
	if err != nil {
		return nil, err
	}
	bars.Color = plotutil.Color(0)
	p.Add(bars)
	p.NominalX(names...)
	return p, nil
}

// Save writes the plot to file. The format is taken from the extension
// (png, svg, pdf, ...).
func Save(p *plot.Plot, file string, opts ...Option) error {
	c := newConfig(opts)
	if err := p.Save(c.width, c.height, file); err != nil {
		return fmt.Errorf("save %s: %w", filepath.Base(file), err)
	}
	return nil
}

// Write renders the plot in the given format to w.
func Write(p *plot.Plot, w io.Writer, format string, opts ...Option) error {
	c := newConfig(opts)
	wt, err := p.WriterTo(c.width, c.height, strings.ToLower(format))
	if err != nil {
		return err
	}
	_, err = wt.WriteTo(w)
	return err
}
