//nolint:whitespace //can't make both the linter and editor happy :(
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mpapenbr/iracelog-racemodel/pkg/repository"
	"github.com/mpapenbr/iracelog-racemodel/pkg/repository/artifact"
)

// Store keeps artifacts in postgres. The pool is owned by the caller.
type Store struct {
	pool *pgxpool.Pool
}

var _ artifact.Store = (*Store)(nil)

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) Close() error {
	return nil
}

func (s *Store) SaveModel(ctx context.Context, a *artifact.ModelArtifact) error {
	return CreateModel(ctx, s.pool, a)
}

func (s *Store) LoadModel(ctx context.Context, id uuid.UUID) (*artifact.ModelArtifact, error) {
	return LoadModelByID(ctx, s.pool, id)
}

func (s *Store) LatestModel(ctx context.Context, kind artifact.Kind, corpus string) (
	*artifact.ModelArtifact, error,
) {
	return LatestModel(ctx, s.pool, kind, corpus)
}

func (s *Store) ListModels(ctx context.Context, kind artifact.Kind) ([]*artifact.ModelArtifact, error) {
	return ListModels(ctx, s.pool, kind)
}

func (s *Store) SaveClassification(ctx context.Context, a *artifact.ClassificationArtifact) error {
	return CreateClassification(ctx, s.pool, a)
}

func (s *Store) LatestClassification(ctx context.Context, corpus string) (
	*artifact.ClassificationArtifact, error,
) {
	return LatestClassification(ctx, s.pool, corpus)
}

func CreateModel(ctx context.Context, conn repository.Querier, a *artifact.ModelArtifact) error {
	if err := artifact.Prepare(&a.ID, &a.Created); err != nil {
		return err
	}
	_, err := conn.Exec(ctx, `
	insert into model_artifact (id, kind, corpus, schema_version, created, params)
	values ($1,$2,$3,$4,$5,$6)
	`, a.ID, string(a.Kind), a.Corpus, a.SchemaVersion, a.Created, []byte(a.Params))
	return err
}

func LoadModelByID(ctx context.Context, conn repository.Querier, id uuid.UUID) (
	*artifact.ModelArtifact, error,
) {
	row := conn.QueryRow(ctx, fmt.Sprintf("%s where id=$1", modelSelector), id)
	return scanModel(row)
}

func LatestModel(ctx context.Context, conn repository.Querier, kind artifact.Kind, corpus string) (
	*artifact.ModelArtifact, error,
) {
	row := conn.QueryRow(ctx,
		fmt.Sprintf("%s where kind=$1 and corpus=$2 order by created desc limit 1", modelSelector),
		string(kind), corpus)
	return scanModel(row)
}

func ListModels(ctx context.Context, conn repository.Querier, kind artifact.Kind) (
	[]*artifact.ModelArtifact, error,
) {
	rows, err := conn.Query(ctx,
		fmt.Sprintf("%s where kind=$1 order by created desc", modelSelector), string(kind))
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

// deletes all model artifacts of a corpus
func DeleteModelsByCorpus(ctx context.Context, conn repository.Querier, corpus string) (int, error) {
	cmdTag, err := conn.Exec(ctx, "delete from model_artifact where corpus=$1", corpus)
	if err != nil {
		return 0, err
	}
	return int(cmdTag.RowsAffected()), nil
}

func CreateClassification(
	ctx context.Context,
	conn repository.Querier,
	a *artifact.ClassificationArtifact,
) error {
	if err := artifact.Prepare(&a.ID, &a.Created); err != nil {
		return err
	}
	data, err := json.Marshal(a.Classification)
	if err != nil {
		return err
	}
	_, err = conn.Exec(ctx, `
	insert into classification_artifact (id, corpus, schema_version, created, data)
	values ($1,$2,$3,$4,$5)
	`, a.ID, a.Corpus, a.SchemaVersion, a.Created, data)
	return err
}

func LatestClassification(ctx context.Context, conn repository.Querier, corpus string) (
	*artifact.ClassificationArtifact, error,
) {
	row := conn.QueryRow(ctx, `
	select id, corpus, schema_version, created, data from classification_artifact
	where corpus=$1 order by created desc limit 1
	`, corpus)
	var ret artifact.ClassificationArtifact
	var data []byte
	if err := row.Scan(&ret.ID, &ret.Corpus, &ret.SchemaVersion, &ret.Created, &data); err != nil {
		return nil, notFound(err)
	}
	if err := json.Unmarshal(data, &ret.Classification); err != nil {
		return nil, err
	}
	return &ret, nil
}

// little helper
const modelSelector = `select id, kind, corpus, schema_version, created, params from model_artifact`

func scanModel(row pgx.Row) (*artifact.ModelArtifact, error) {
	var ret artifact.ModelArtifact
	var kind string
	var params []byte
	if err := row.Scan(&ret.ID, &kind, &ret.Corpus, &ret.SchemaVersion,
		&ret.Created, &params); err != nil {
		return nil, notFound(err)
	}
	ret.Kind = artifact.Kind(kind)
	ret.Params = params
	return &ret, nil
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %w", artifact.ErrNotFound, err)
	}
	return err
}
