package model

import (
	"fmt"
	"slices"

	"github.com/aarondl/opt/null"
)

// MetricSet is the keyed container of technique metrics of one lap.
// Values are aligned with Names, which come from the metric schema identified
// by Schema. An unset value is unknown and must never be read as zero.
type MetricSet struct {
	Schema  string              `json:"schema"`
	Names   []string            `json:"names"`
	Values  []null.Val[float64] `json:"values"`
	Missing []string            `json:"missing,omitempty"` // unknown due to missing signal
}

func NewMetricSet(schema string, names []string) MetricSet {
	return MetricSet{
		Schema: schema,
		Names:  names,
		Values: make([]null.Val[float64], len(names)),
	}
}

func (m MetricSet) index(name string) int {
	return slices.Index(m.Names, name)
}

func (m MetricSet) Get(name string) null.Val[float64] {
	if i := m.index(name); i >= 0 && i < len(m.Values) {
		return m.Values[i]
	}
	return null.Val[float64]{}
}

func (m *MetricSet) Set(name string, v float64) error {
	i := m.index(name)
	if i < 0 {
		return fmt.Errorf("metric %s not part of schema %s: %w", name, m.Schema, ErrInvalidInput)
	}
	m.Values[i] = null.From(v)
	return nil
}

func (m *MetricSet) MarkMissing(name string) {
	if i := m.index(name); i >= 0 {
		m.Values[i] = null.Val[float64]{}
		if !slices.Contains(m.Missing, name) {
			m.Missing = append(m.Missing, name)
		}
	}
}

func (m MetricSet) IsMissing(name string) bool {
	return slices.Contains(m.Missing, name)
}

type MetricClass int

const (
	ClassAmbiguous MetricClass = iota
	ClassProfile
	ClassState
)

func (c MetricClass) String() string {
	switch c {
	case ClassProfile:
		return "PROFILE"
	case ClassState:
		return "STATE"
	default:
		return "AMBIGUOUS"
	}
}

func (c MetricClass) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *MetricClass) UnmarshalText(text []byte) error {
	switch string(text) {
	case "PROFILE":
		*c = ClassProfile
	case "STATE":
		*c = ClassState
	case "AMBIGUOUS":
		*c = ClassAmbiguous
	default:
		return fmt.Errorf("unknown metric class %q: %w", text, ErrInvalidInput)
	}
	return nil
}

type ClassEntry struct {
	Metric     string            `json:"metric" yaml:"metric"`
	Class      MetricClass       `json:"class" yaml:"class"`
	Ratio      null.Val[float64] `json:"ratio" yaml:"-"` // unset if within SD is zero
	CrossSD    float64           `json:"crossSd" yaml:"crossSd"`
	WithinSD   float64           `json:"withinSd" yaml:"withinSd"`
	Groups     int               `json:"groups" yaml:"groups"`
	Sufficient bool              `json:"sufficient" yaml:"sufficient"`
}

type Thresholds struct {
	Profile float64 `json:"profile" yaml:"profile"` // ratio above => PROFILE
	State   float64 `json:"state" yaml:"state"`     // ratio below => STATE
}

func DefaultThresholds() Thresholds {
	return Thresholds{Profile: 1.5, State: 0.7}
}

// Classification is immutable once computed and bound to a metric schema version.
type Classification struct {
	SchemaVersion string       `json:"schemaVersion" yaml:"schemaVersion"`
	Corpus        string       `json:"corpus" yaml:"corpus"`
	Thresholds    Thresholds   `json:"thresholds" yaml:"thresholds"`
	Entries       []ClassEntry `json:"entries" yaml:"entries"`
}

// ClassOf returns the stored class, AMBIGUOUS for unknown metrics.
func (c *Classification) ClassOf(metric string) MetricClass {
	if c == nil {
		return ClassAmbiguous
	}
	for i := range c.Entries {
		if c.Entries[i].Metric == metric {
			return c.Entries[i].Class
		}
	}
	return ClassAmbiguous
}

// IsProfile reports whether metric belongs to the profile tier.
// Everything else (STATE and AMBIGUOUS) is monitored as state.
func (c *Classification) IsProfile(metric string) bool {
	return c.ClassOf(metric) == ClassProfile
}
