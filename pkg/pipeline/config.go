package pipeline

import (
	"github.com/mpapenbr/iracelog-racemodel/pkg/baseline"
	"github.com/mpapenbr/iracelog-racemodel/pkg/config"
	"github.com/mpapenbr/iracelog-racemodel/pkg/counterfactual"
	"github.com/mpapenbr/iracelog-racemodel/pkg/features"
	"github.com/mpapenbr/iracelog-racemodel/pkg/metrics"
	"github.com/mpapenbr/iracelog-racemodel/pkg/model"
	"github.com/mpapenbr/iracelog-racemodel/pkg/partition"
	"github.com/mpapenbr/iracelog-racemodel/pkg/predict"
)

// The analysis parameters mapped to the component configurations.

func MetricsConfig(a config.Analysis) metrics.Config {
	ret := metrics.DefaultConfig()
	ret.MinSamples = a.MinSamples
	return ret
}

func FeaturesConfig(a config.Analysis) features.Config {
	ret := features.DefaultConfig()
	ret.RollingWindow = a.RollingWindow
	ret.TrafficGap = a.TrafficGap
	ret.MinFieldFraction = a.MinFieldFraction
	ret.EarlyEnd = a.EarlyEnd
	ret.MidEnd = a.MidEnd
	return ret
}

func BaselineConfig(a config.Analysis) baseline.Config {
	return baseline.Config{Laps: a.BaselineLaps, MinLaps: a.MinBaselineLaps}
}

func PartitionConfig(a config.Analysis) partition.Config {
	ret := partition.DefaultConfig()
	ret.Thresholds = model.Thresholds{Profile: a.ProfileThreshold, State: a.StateThreshold}
	return ret
}

func NextLapConfig(a config.Analysis) predict.NextLapConfig {
	ret := predict.DefaultNextLapConfig()
	ret.WarmupLaps = a.WarmupLaps
	ret.Window = a.RollingWindow
	return ret
}

func CounterfactualConfig(a config.Analysis) counterfactual.Config {
	return counterfactual.Config{EarlyEnd: a.EarlyEnd, MidEnd: a.MidEnd}
}
