// Package publish delivers baselines, deviations and next-lap predictions
// to the real-time monitoring layer.
package publish

import (
	"context"
	"strings"

	"github.com/mpapenbr/iracelog-racemodel/pkg/model"
)

const (
	KindBaseline   = "baseline"
	KindDeviation  = "deviation"
	KindPrediction = "prediction"
)

type Publisher interface {
	PublishBaseline(ctx context.Context, b *model.DriverBaseline) error
	PublishDeviations(ctx context.Context, session string, d []model.StateDeviation) error
	PublishPrediction(ctx context.Context, p *model.Prediction) error
	Close()
}

// Subject returns irm.<session>.<kind>. Characters with a special meaning
// in subjects are replaced in the session id.
func Subject(session, kind string) string {
	return "irm." + Token(session) + "." + kind
}

var tokenReplacer = strings.NewReplacer(".", "_", " ", "_", "*", "_", ">", "_", "\t", "_")

func Token(s string) string {
	if s == "" {
		return "_"
	}
	return tokenReplacer.Replace(s)
}

// Nop discards everything.
type Nop struct{}

func (Nop) PublishBaseline(context.Context, *model.DriverBaseline) error            { return nil }
func (Nop) PublishDeviations(context.Context, string, []model.StateDeviation) error { return nil }
func (Nop) PublishPrediction(context.Context, *model.Prediction) error              { return nil }
func (Nop) Close()                                                                  {}
