package postgres

import (
	"context"
	"fmt"
	"os"

	"github.com/exaring/otelpgx"
	pgxuuid "github.com/jackc/pgx-gofrs-uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgx-contrib/pgxtrace"

	"github.com/mpapenbr/iracelog-racemodel/log"
)

type PoolConfigOption func(cfg *pgxpool.Config)

func WithTracer(tracer pgx.QueryTracer) PoolConfigOption {
	return func(cfg *pgxpool.Config) {
		cfg.ConnConfig.Tracer = tracer
	}
}

// DefaultTracer logs queries and, if enabled, adds otel spans.
func DefaultTracer(l *log.Logger, telemetry bool) pgx.QueryTracer {
	ret := pgxtrace.CompositeQueryTracer{NewMyTracer(l, log.DebugLevel)}
	if telemetry {
		ret = append(ret, NewOtlpTracer())
	}
	return ret
}

func InitDB(ctx context.Context, opts ...PoolConfigOption) (*pgxpool.Pool, error) {
	return InitWithURL(ctx, os.Getenv("DATABASE_URL"), opts...)
}

func InitWithURL(ctx context.Context, url string, opts ...PoolConfigOption) (*pgxpool.Pool, error) {
	dbConfig, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	dbConfig.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		pgxuuid.Register(conn.TypeMap())
		return nil
	}
	for _, opt := range opts {
		opt(dbConfig)
	}

	pool, err := pgxpool.NewWithConfig(ctx, dbConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create the database pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to get a valid database connection: %w", err)
	}
	return pool, nil
}

type myQueryTracer struct {
	log   *log.Logger
	level log.Level
}

func NewMyTracer(l *log.Logger, level log.Level) pgx.QueryTracer {
	return &myQueryTracer{log: l, level: level}
}

func NewOtlpTracer() pgx.QueryTracer {
	return otelpgx.NewTracer()
}

func (tracer *myQueryTracer) TraceQueryStart(
	ctx context.Context,
	_ *pgx.Conn,
	data pgx.TraceQueryStartData,
) context.Context {
	if tracer.log.Enabled(tracer.level) {
		tracer.log.Debugw("Executing", "sql", data.SQL, "args", data.Args)
	}
	return ctx
}

func (tracer *myQueryTracer) TraceQueryEnd(
	_ context.Context,
	_ *pgx.Conn,
	data pgx.TraceQueryEndData,
) {
	if data.Err != nil {
		tracer.log.Warn("query failed", log.ErrorField(data.Err))
	}
}
