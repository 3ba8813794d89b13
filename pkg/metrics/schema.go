package metrics

import (
	"fmt"
	"slices"
	"strings"

	"golang.org/x/mod/semver"

	"github.com/mpapenbr/iracelog-racemodel/pkg/model"
)

// SchemaVersion identifies the metric set. Bump the minor version when a
// metric is added or removed; this invalidates stored classifications and
// trained models. Patch bumps are for definition fixes that keep the set.
const SchemaVersion = "v1.1.0"

type computeFunc func(v *lapView) (float64, error)

type Definition struct {
	Name        string
	Description string
	Channels    []model.Channel
	// ExpectedSign is the theoretically expected sign of the relation between
	// metric and lap time: +1 means a higher value goes along with slower laps.
	ExpectedSign int
	compute      computeFunc
}

type Schema struct {
	Version     string
	Definitions []Definition
}

// Names returns the metric names in schema order.
func (s *Schema) Names() []string {
	ret := make([]string, len(s.Definitions))
	for i := range s.Definitions {
		ret[i] = s.Definitions[i].Name
	}
	return ret
}

func (s *Schema) Definition(name string) (Definition, bool) {
	idx := slices.IndexFunc(s.Definitions, func(d Definition) bool { return d.Name == name })
	if idx < 0 {
		return Definition{}, false
	}
	return s.Definitions[idx], true
}

// Compatible reports whether artifacts produced with version other can be
// used with this schema (same major and minor version).
func (s *Schema) Compatible(other string) bool {
	return CompatibleVersions(s.Version, other)
}

func CompatibleVersions(a, b string) bool {
	if !strings.HasPrefix(a, "v") {
		a = "v" + a
	}
	if !strings.HasPrefix(b, "v") {
		b = "v" + b
	}
	if !semver.IsValid(a) || !semver.IsValid(b) {
		return false
	}
	return semver.MajorMinor(a) == semver.MajorMinor(b)
}

// CheckClassification fails if c was computed for an incompatible metric set.
func (s *Schema) CheckClassification(c *model.Classification) error {
	if c == nil {
		return fmt.Errorf("no classification: %w", model.ErrInvalidInput)
	}
	if !s.Compatible(c.SchemaVersion) {
		return fmt.Errorf("classification schema %s incompatible with %s: %w",
			c.SchemaVersion, s.Version, model.ErrInvalidInput)
	}
	return nil
}

func CurrentSchema() *Schema {
	return &Schema{
		Version: SchemaVersion,
		Definitions: []Definition{
			{
				Name:         MetricBrakePeakCV,
				Description:  "coefficient of variation of peak brake pressure across braking events",
				Channels:     brakeChannels,
				ExpectedSign: 1,
				compute:      brakePeakCV,
			},
			{
				Name:         MetricBrakeBalance,
				Description:  "mean front share of total brake pressure while braking",
				Channels:     brakeChannels,
				ExpectedSign: 1,
				compute:      brakeBalance,
			},
			{
				Name:         MetricTrailBrakeFraction,
				Description:  "fraction of braking samples with steering applied",
				Channels:     append(slices.Clone(brakeChannels), model.ChannelSteering),
				ExpectedSign: -1,
				compute:      trailBrakeFraction,
			},
			{
				Name:         MetricThrottleLiftCount,
				Description:  "count of throttle decreases while longitudinal acceleration stays positive",
				Channels:     []model.Channel{model.ChannelThrottle, model.ChannelAccelLong},
				ExpectedSign: 1,
				compute:      throttleLiftCount,
			},
			{
				Name:        MetricCoastingFraction,
				Description: "fraction of samples with neither throttle nor brake applied",
				Channels: append([]model.Channel{model.ChannelThrottle},
					brakeChannels...),
				ExpectedSign: 1,
				compute:      coastingFraction,
			},
			{
				Name:         MetricFullThrottleFraction,
				Description:  "fraction of samples at full throttle",
				Channels:     []model.Channel{model.ChannelThrottle},
				ExpectedSign: -1,
				compute:      fullThrottleFraction,
			},
			{
				Name:         MetricGripUtilization,
				Description:  "mean combined acceleration relative to the lap's 95th percentile",
				Channels:     []model.Channel{model.ChannelAccelLong, model.ChannelAccelLat},
				ExpectedSign: -1,
				compute:      gripUtilization,
			},
			{
				Name:         MetricSteeringRate,
				Description:  "mean absolute steering rate in deg/s",
				Channels:     []model.Channel{model.ChannelSteering},
				ExpectedSign: 1,
				compute:      steeringRate,
			},
		},
	}
}
