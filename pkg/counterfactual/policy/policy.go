package policy

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/open-policy-agent/opa/v1/rego"
	"github.com/open-policy-agent/opa/v1/storage/inmem"

	"github.com/mpapenbr/iracelog-racemodel/log"
	"github.com/mpapenbr/iracelog-racemodel/pkg/model"
)

var ErrScenarioRejected = errors.New("scenario rejected")

//go:embed policy.rego
var policy []byte

//go:embed data.json
var data []byte

// Evaluator checks intervention scenarios against the embedded policy.
// Only controllable, non-derived aggregate features may be varied.
type Evaluator struct {
	query rego.PreparedEvalQuery
	l     *log.Logger
}

type replacementInput struct {
	Feature       string  `json:"feature"`
	HasValue      bool    `json:"hasValue"`
	HasPercentile bool    `json:"hasPercentile"`
	Percentile    float64 `json:"percentile"`
}

type scenarioInput struct {
	Name         string             `json:"name"`
	Replacements []replacementInput `json:"replacements"`
}

func NewEvaluator(ctx context.Context) (*Evaluator, error) {
	l := log.Default().Named("counterfactual").Named("opa")
	store := inmem.NewFromReader(bytes.NewReader(data))
	r := rego.New(
		rego.Query("violations := data.racemodel.scenario.violations"),
		rego.Module("racemodel.scenario", string(policy)),
		rego.Store(store),
	)
	query, err := r.PrepareForEval(ctx)
	if err != nil {
		l.Error("failed to prepare query", log.ErrorField(err))
		return nil, err
	}
	return &Evaluator{query: query, l: l}, nil
}

var defaultEvaluator = sync.OnceValues(func() (*Evaluator, error) {
	return NewEvaluator(context.Background())
})

// Default returns a shared evaluator. A prepared query is safe for
// concurrent use.
func Default() (*Evaluator, error) {
	return defaultEvaluator()
}

// Violations returns the sorted policy violations of the scenario.
func (e *Evaluator) Violations(ctx context.Context, s model.InterventionScenario) ([]string, error) {
	in := scenarioInput{Name: s.Name, Replacements: make([]replacementInput, 0, len(s.Replacements))}
	for _, r := range s.Replacements {
		ri := replacementInput{
			Feature:       r.Feature,
			HasValue:      r.Value.IsValue(),
			HasPercentile: r.Percentile.IsValue(),
		}
		if p, ok := r.Percentile.Get(); ok {
			ri.Percentile = p
		}
		in.Replacements = append(in.Replacements, ri)
	}
	rs, err := e.query.Eval(ctx, rego.EvalInput(in))
	if err != nil {
		e.l.Error("policy evaluation failed", log.ErrorField(err))
		return nil, err
	}
	ret := make([]string, 0)
	if len(rs) == 0 {
		return ret, nil
	}
	raw, ok := rs[0].Bindings["violations"].([]any)
	if !ok {
		return ret, nil
	}
	for _, v := range raw {
		if msg, ok := v.(string); ok {
			ret = append(ret, msg)
		}
	}
	slices.Sort(ret)
	e.l.Debug("scenario checked", log.String("scenario", s.Name), log.Strings("violations", ret))
	return ret, nil
}

// Check fails with ErrScenarioRejected if the scenario violates the policy.
func (e *Evaluator) Check(ctx context.Context, s model.InterventionScenario) error {
	v, err := e.Violations(ctx, s)
	if err != nil {
		return err
	}
	if len(v) > 0 {
		return fmt.Errorf("scenario %s: %s: %w", s.Name, strings.Join(v, "; "), ErrScenarioRejected)
	}
	return nil
}

// Controllable returns the features the policy allows to vary.
func Controllable() ([]string, error) {
	var doc struct {
		Features struct {
			Controllable []string `json:"controllable"`
		} `json:"features"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return doc.Features.Controllable, nil
}
