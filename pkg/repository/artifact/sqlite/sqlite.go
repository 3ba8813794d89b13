// Package sqlite keeps artifacts in a local SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"

	dbsqlite "github.com/mpapenbr/iracelog-racemodel/pkg/db/sqlite"
	"github.com/mpapenbr/iracelog-racemodel/pkg/repository/artifact"
)

type Store struct {
	db *sql.DB
}

var _ artifact.Store = (*Store)(nil)

// Open opens the database file at path and migrates it.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := dbsqlite.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) SaveModel(ctx context.Context, a *artifact.ModelArtifact) error {
	if err := artifact.Prepare(&a.ID, &a.Created); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
	INSERT INTO model_artifact (id, kind, corpus, schema_version, created_ns, params)
	VALUES (?, ?, ?, ?, ?, ?)
	`, a.ID.String(), string(a.Kind), a.Corpus, a.SchemaVersion, a.Created.UnixNano(),
		string(a.Params))
	return err
}

func (s *Store) LoadModel(ctx context.Context, id uuid.UUID) (*artifact.ModelArtifact, error) {
	row := s.db.QueryRowContext(ctx, modelSelector+" WHERE id = ?", id.String())
	return scanModel(row)
}

func (s *Store) LatestModel(ctx context.Context, kind artifact.Kind, corpus string) (
	*artifact.ModelArtifact, error,
) {
	row := s.db.QueryRowContext(ctx,
		modelSelector+" WHERE kind = ? AND corpus = ? ORDER BY created_ns DESC LIMIT 1",
		string(kind), corpus)
	return scanModel(row)
}

func (s *Store) ListModels(ctx context.Context, kind artifact.Kind) ([]*artifact.ModelArtifact, error) {
	rows, err := s.db.QueryContext(ctx,
		modelSelector+" WHERE kind = ? ORDER BY created_ns DESC", string(kind))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	ret := make([]*artifact.ModelArtifact, 0)
	for rows.Next() {
		item, err := scanModel(rows)
		if err != nil {
			return nil, err
		}
		ret = append(ret, item)
	}
	return ret, rows.Err()
}

func (s *Store) SaveClassification(ctx context.Context, a *artifact.ClassificationArtifact) error {
	if err := artifact.Prepare(&a.ID, &a.Created); err != nil {
		return err
	}
	data, err := json.Marshal(a.Classification)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
	INSERT INTO classification_artifact (id, corpus, schema_version, created_ns, data)
	VALUES (?, ?, ?, ?, ?)
	`, a.ID.String(), a.Corpus, a.SchemaVersion, a.Created.UnixNano(), string(data))
	return err
}

func (s *Store) LatestClassification(ctx context.Context, corpus string) (
	*artifact.ClassificationArtifact, error,
) {
	row := s.db.QueryRowContext(ctx, `
	SELECT id, corpus, schema_version, created_ns, data FROM classification_artifact
	WHERE corpus = ? ORDER BY created_ns DESC LIMIT 1
	`, corpus)
	var ret artifact.ClassificationArtifact
	var id, data string
	var created int64
	if err := row.Scan(&id, &ret.Corpus, &ret.SchemaVersion, &created, &data); err != nil {
		return nil, notFound(err)
	}
	var err error
	if ret.ID, err = uuid.FromString(id); err != nil {
		return nil, err
	}
	ret.Created = time.Unix(0, created).UTC()
	if err := json.Unmarshal([]byte(data), &ret.Classification); err != nil {
		return nil, err
	}
	return &ret, nil
}

const modelSelector = `SELECT id, kind, corpus, schema_version, created_ns, params FROM model_artifact`

type scanner interface {
	Scan(dest ...any) error
}

func scanModel(row scanner) (*artifact.ModelArtifact, error) {
	var ret artifact.ModelArtifact
	var id, kind, params string
	var created int64
	if err := row.Scan(&id, &kind, &ret.Corpus, &ret.SchemaVersion, &created, &params); err != nil {
		return nil, notFound(err)
	}
	var err error
	if ret.ID, err = uuid.FromString(id); err != nil {
		return nil, err
	}
	ret.Kind = artifact.Kind(kind)
	ret.Created = time.Unix(0, created).UTC()
	ret.Params = json.RawMessage(params)
	return &ret, nil
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %w", artifact.ErrNotFound, err)
	}
	return err
}
