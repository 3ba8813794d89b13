// Package artifact persists trained models and metric classifications.
// Artifacts are immutable: every save creates a new entry and readers pick
// the latest one of a corpus.
package artifact

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/mpapenbr/iracelog-racemodel/pkg/metrics"
	"github.com/mpapenbr/iracelog-racemodel/pkg/model"
	"github.com/mpapenbr/iracelog-racemodel/pkg/predict"
)

var (
	ErrNotFound = errors.New("artifact not found")
	// ErrIncompatible is returned for artifacts built with another metric
	// schema major.minor version.
	ErrIncompatible = fmt.Errorf("incompatible artifact: %w", model.ErrInvalidInput)
)

type Kind string

const (
	KindNextLap  Kind = "nextlap"
	KindPosition Kind = "position"
)

type ModelArtifact struct {
	ID            uuid.UUID       `json:"id"`
	Kind          Kind            `json:"kind"`
	Corpus        string          `json:"corpus"`
	SchemaVersion string          `json:"schemaVersion"`
	Created       time.Time       `json:"created"`
	Params        json.RawMessage `json:"params"`
}

type ClassificationArtifact struct {
	ID             uuid.UUID             `json:"id"`
	Corpus         string                `json:"corpus"`
	SchemaVersion  string                `json:"schemaVersion"`
	Created        time.Time             `json:"created"`
	Classification *model.Classification `json:"classification"`
}

type Store interface {
	SaveModel(ctx context.Context, a *ModelArtifact) error
	LoadModel(ctx context.Context, id uuid.UUID) (*ModelArtifact, error)
	LatestModel(ctx context.Context, kind Kind, corpus string) (*ModelArtifact, error)
	ListModels(ctx context.Context, kind Kind) ([]*ModelArtifact, error)
	SaveClassification(ctx context.Context, a *ClassificationArtifact) error
	LatestClassification(ctx context.Context, corpus string) (*ClassificationArtifact, error)
	Close() error
}

// Prepare assigns id and creation time if they are not set yet.
func Prepare(id *uuid.UUID, created *time.Time) error {
	if id.IsNil() {
		v, err := uuid.NewV7()
		if err != nil {
			return err
		}
		*id = v
	}
	if created.IsZero() {
		*created = time.Now().UTC()
	}
	return nil
}

func NewNextLap(corpus, schemaVersion string, m *predict.NextLapModel) (*ModelArtifact, error) {
	return newModel(KindNextLap, corpus, schemaVersion, m)
}

func NewPosition(corpus, schemaVersion string, m *predict.PositionModel) (*ModelArtifact, error) {
	return newModel(KindPosition, corpus, schemaVersion, m)
}

func newModel(kind Kind, corpus, schemaVersion string, m any) (*ModelArtifact, error) {
	params, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return &ModelArtifact{
		Kind:          kind,
		Corpus:        corpus,
		SchemaVersion: schemaVersion,
		Params:        params,
	}, nil
}

// CheckSchema fails with ErrIncompatible if the artifact was built with a
// metric schema that is not compatible to s.
func (a *ModelArtifact) CheckSchema(s *metrics.Schema) error {
	if !s.Compatible(a.SchemaVersion) {
		return fmt.Errorf("model %s built with schema %s, current %s: %w",
			a.ID, a.SchemaVersion, s.Version, ErrIncompatible)
	}
	return nil
}

func (a *ModelArtifact) NextLap() (*predict.NextLapModel, error) {
	if a.Kind != KindNextLap {
		return nil, fmt.Errorf("artifact %s is a %s model: %w", a.ID, a.Kind, model.ErrInvalidInput)
	}
	var ret predict.NextLapModel
	if err := json.Unmarshal(a.Params, &ret); err != nil {
		return nil, err
	}
	return &ret, nil
}

func (a *ModelArtifact) Position() (*predict.PositionModel, error) {
	if a.Kind != KindPosition {
		return nil, fmt.Errorf("artifact %s is a %s model: %w", a.ID, a.Kind, model.ErrInvalidInput)
	}
	var ret predict.PositionModel
	if err := json.Unmarshal(a.Params, &ret); err != nil {
		return nil, err
	}
	return &ret, nil
}

func NewClassification(c *model.Classification) *ClassificationArtifact {
	return &ClassificationArtifact{
		Corpus:         c.Corpus,
		SchemaVersion:  c.SchemaVersion,
		Classification: c,
	}
}

// CheckSchema fails with ErrIncompatible if the classification was computed
// for another metric set.
func (a *ClassificationArtifact) CheckSchema(s *metrics.Schema) error {
	if err := s.CheckClassification(a.Classification); err != nil {
		return fmt.Errorf("classification %s: %v: %w", a.ID, err, ErrIncompatible)
	}
	return nil
}

// LoadModels returns the latest next-lap and position models of a corpus,
// checked against the schema.
func LoadModels(ctx context.Context, st Store, corpus string, s *metrics.Schema) (
	*predict.NextLapModel, *predict.PositionModel, error,
) {
	load := func(kind Kind) (*ModelArtifact, error) {
		a, err := st.LatestModel(ctx, kind, corpus)
		if err != nil {
			return nil, err
		}
		return a, a.CheckSchema(s)
	}
	nl, err := load(KindNextLap)
	if err != nil {
		return nil, nil, err
	}
	pos, err := load(KindPosition)
	if err != nil {
		return nil, nil, err
	}
	next, err := nl.NextLap()
	if err != nil {
		return nil, nil, err
	}
	position, err := pos.Position()
	if err != nil {
		return nil, nil, err
	}
	return next, position, nil
}

// LoadClassification returns the latest classification of a corpus,
// checked against the schema.
func LoadClassification(ctx context.Context, st Store, corpus string, s *metrics.Schema) (
	*model.Classification, error,
) {
	a, err := st.LatestClassification(ctx, corpus)
	if err != nil {
		return nil, err
	}
	if err := a.CheckSchema(s); err != nil {
		return nil, err
	}
	return a.Classification, nil
}
