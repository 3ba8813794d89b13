package counterfactual

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/aarondl/opt/null"

	"github.com/mpapenbr/iracelog-racemodel/pkg/model"
)

func percentile(name, feature string, p float64) model.InterventionScenario {
	return model.InterventionScenario{
		Name:         name,
		Replacements: []model.Replacement{{Feature: feature, Percentile: null.From(p)}},
	}
}

// BuiltinScenarios is the default catalog. Targets are field percentiles;
// all features are lower-is-better, so P25 is better than the median.
func BuiltinScenarios() []model.InterventionScenario {
	return []model.InterventionScenario{
		percentile("match-p25-degradation", model.FeatureDegradation, 0.25),
		percentile("match-median-degradation", model.FeatureDegradation, 0.5),
		percentile("match-p25-consistency", model.FeatureConsistency, 0.25),
		percentile("match-p25-early-pace", model.FeaturePaceEarly, 0.25),
		percentile("match-p25-mid-pace", model.FeaturePaceMid, 0.25),
		percentile("match-p25-late-pace", model.FeaturePaceLate, 0.25),
		{
			Name: "clear-air",
			Replacements: []model.Replacement{
				{Feature: model.FeatureTrafficLaps, Value: null.From(0.0)},
				{Feature: model.FeatureTrafficCost, Value: null.From(0.0)},
			},
		},
	}
}

type catalogFile struct {
	Scenario []struct {
		Name    string `toml:"name"`
		Exact   bool   `toml:"exact"`
		Replace []struct {
			Feature    string   `toml:"feature"`
			Value      *float64 `toml:"value"`
			Percentile *float64 `toml:"percentile"`
		} `toml:"replace"`
	} `toml:"scenario"`
}

// ParseCatalog reads scenarios from TOML:
//
//	[[scenario]]
//	name = "match-p10-degradation"
//	  [[scenario.replace]]
//	  feature = "degradation"
//	  percentile = 0.10
func ParseCatalog(data string) ([]model.InterventionScenario, error) {
	var f catalogFile
	md, err := toml.Decode(data, &f)
	if err != nil {
		return nil, fmt.Errorf("scenario catalog: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("scenario catalog: unknown keys %v: %w", undecoded, model.ErrInvalidInput)
	}
	ret := make([]model.InterventionScenario, 0, len(f.Scenario))
	for _, s := range f.Scenario {
		if s.Name == "" {
			return nil, fmt.Errorf("scenario catalog: scenario without name: %w", model.ErrInvalidInput)
		}
		sc := model.InterventionScenario{Name: s.Name, Exact: s.Exact}
		for _, r := range s.Replace {
			sc.Replacements = append(sc.Replacements, model.Replacement{
				Feature:    r.Feature,
				Value:      null.FromPtr(r.Value),
				Percentile: null.FromPtr(r.Percentile),
			})
		}
		ret = append(ret, sc)
	}
	return ret, nil
}

func LoadCatalog(path string) ([]model.InterventionScenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseCatalog(string(data))
}
