package metrics

import (
	"fmt"
	"math"
	"slices"
	"sort"

	"github.com/aarondl/opt/null"
	"github.com/samber/lo"
	"gonum.org/v1/gonum/stat"

	"github.com/mpapenbr/iracelog-racemodel/pkg/model"
)

type Status int

const (
	StatusPending Status = iota
	StatusValidated
	StatusUnvalidated
)

func (s Status) String() string {
	switch s {
	case StatusValidated:
		return "validated"
	case StatusUnvalidated:
		return "unvalidated"
	default:
		return "pending"
	}
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

type MetricValidation struct {
	Metric   string            `json:"metric"`
	WithinR  null.Val[float64] `json:"withinR"`  // pooled within-driver correlation with lap time
	CrossRho null.Val[float64] `json:"crossRho"` // cross-driver rank correlation with pace
	Status   Status            `json:"status"`
	Reason   string            `json:"reason,omitempty"`
}

type ValidationReport struct {
	SchemaVersion string             `json:"schemaVersion"`
	Metrics       []MetricValidation `json:"metrics"`
}

type ValidationConfig struct {
	MinGroupLaps int     // laps per driver needed for the within-driver check
	MinDrivers   int     // drivers needed for the cross-driver check
	MinAbsCorr   float64 // correlations closer to zero count as no evidence
}

func DefaultValidationConfig() ValidationConfig {
	return ValidationConfig{MinGroupLaps: 3, MinDrivers: 3, MinAbsCorr: 0.05}
}

type groupKey struct {
	session, driver string
}

// Validate checks every metric of the schema against the calibration rows.
// A metric is validated if its pooled within-driver correlation with lap time
// or its cross-driver rank correlation with pace has the expected sign.
// Disrupted and low confidence rows are ignored.
//
//nolint:funlen // by design
func Validate(schema *Schema, rows []model.RaceFeatureRow, cfg ValidationConfig) (
	*ValidationReport, error,
) {
	usable := lo.Filter(rows, func(r model.RaceFeatureRow, _ int) bool {
		return !r.Disrupted && !r.LowConfidence
	})
	if len(usable) == 0 {
		return nil, fmt.Errorf("no usable calibration laps: %w", model.ErrInsufficientData)
	}
	groups := lo.GroupBy(usable, func(r model.RaceFeatureRow) groupKey {
		return groupKey{r.Session, r.Driver}
	})
	keys := lo.Keys(groups)
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].session != keys[j].session {
			return keys[i].session < keys[j].session
		}
		return keys[i].driver < keys[j].driver
	})

	report := &ValidationReport{SchemaVersion: schema.Version}
	evaluated := 0
	for _, def := range schema.Definitions {
		mv := MetricValidation{Metric: def.Name, Status: StatusUnvalidated}
		// within-driver: demean per group, pool
		var xs, ys []float64
		// cross-driver: group means
		var meanMetric, meanPace []float64
		for _, k := range keys {
			var gx, gy, gp []float64
			for _, r := range groups[k] {
				v, ok := r.Metrics.Get(def.Name).Get()
				if !ok {
					continue
				}
				gx = append(gx, v)
				gy = append(gy, r.LapTime)
				if rp, ok := r.RelPerf.Get(); ok {
					gp = append(gp, rp)
				}
			}
			if len(gx) >= cfg.MinGroupLaps {
				mx, my := stat.Mean(gx, nil), stat.Mean(gy, nil)
				for i := range gx {
					xs = append(xs, gx[i]-mx)
					ys = append(ys, gy[i]-my)
				}
			}
			if len(gx) > 0 && len(gp) > 0 {
				meanMetric = append(meanMetric, stat.Mean(gx, nil))
				meanPace = append(meanPace, stat.Mean(gp, nil))
			}
		}
		withinOK, crossOK := false, false
		if len(xs) >= cfg.MinGroupLaps {
			if r := stat.Correlation(xs, ys, nil); !math.IsNaN(r) {
				mv.WithinR = null.From(r)
				withinOK = signMatches(r, def.ExpectedSign, cfg.MinAbsCorr)
			}
		}
		if len(meanMetric) >= cfg.MinDrivers {
			if rho := spearman(meanMetric, meanPace); !math.IsNaN(rho) {
				mv.CrossRho = null.From(rho)
				crossOK = signMatches(rho, def.ExpectedSign, cfg.MinAbsCorr)
			}
		}
		switch {
		case withinOK || crossOK:
			mv.Status = StatusValidated
		case mv.WithinR.IsNull() && mv.CrossRho.IsNull():
			mv.Reason = model.ErrInsufficientData.Error()
		default:
			mv.Reason = "correlation sign does not match expectation"
		}
		if mv.WithinR.IsValue() || mv.CrossRho.IsValue() {
			evaluated++
		}
		report.Metrics = append(report.Metrics, mv)
	}
	if evaluated == 0 {
		return report, fmt.Errorf("no metric could be evaluated: %w", model.ErrInsufficientData)
	}
	return report, nil
}

func signMatches(r float64, expected int, minAbs float64) bool {
	if math.Abs(r) < minAbs {
		return false
	}
	return (r > 0 && expected > 0) || (r < 0 && expected < 0)
}

// spearman computes the rank correlation (average ranks for ties).
func spearman(x, y []float64) float64 {
	return stat.Correlation(ranks(x), ranks(y), nil)
}

func ranks(x []float64) []float64 {
	idx := make([]int, len(x))
	for i := range idx {
		idx[i] = i
	}
	slices.SortStableFunc(idx, func(a, b int) int {
		switch {
		case x[a] < x[b]:
			return -1
		case x[a] > x[b]:
			return 1
		}
		return 0
	})
	ret := make([]float64, len(x))
	for i := 0; i < len(idx); {
		j := i
		for j+1 < len(idx) && x[idx[j+1]] == x[idx[i]] {
			j++
		}
		avg := float64(i+j)/2 + 1
		for k := i; k <= j; k++ {
			ret[idx[k]] = avg
		}
		i = j + 1
	}
	return ret
}

// Registry binds the validation status to the schema. It is immutable.
type Registry struct {
	schema *Schema
	status map[string]Status
}

func NewRegistry(schema *Schema, report *ValidationReport) *Registry {
	ret := &Registry{schema: schema, status: make(map[string]Status)}
	if report != nil && schema.Compatible(report.SchemaVersion) {
		for _, mv := range report.Metrics {
			ret.status[mv.Metric] = mv.Status
		}
	}
	return ret
}

func (r *Registry) Schema() *Schema {
	return r.schema
}

func (r *Registry) Status(metric string) Status {
	return r.status[metric]
}

// Validated returns the validated metrics in schema order.
func (r *Registry) Validated() []string {
	return lo.Filter(r.schema.Names(), func(n string, _ int) bool {
		return r.status[n] == StatusValidated
	})
}

// RequirePredictive fails with ErrUnvalidatedMetric if any of the metrics is
// not validated. Unvalidated metrics may only be used descriptively.
func (r *Registry) RequirePredictive(metrics ...string) error {
	bad := lo.Filter(metrics, func(m string, _ int) bool {
		return r.status[m] != StatusValidated
	})
	if len(bad) > 0 {
		return &model.UnvalidatedMetricError{Metrics: bad}
	}
	return nil
}
