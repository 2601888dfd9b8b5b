package database

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/irfndi/sts/internal/telemetry"
)

// TracedDB wraps a DatabasePool and records a span per statement.
type TracedDB struct {
	Pool   DatabasePool
	tracer trace.Tracer
}

// NewTracedDB creates a new traced database connection
func NewTracedDB(pool DatabasePool) *TracedDB {
	return &TracedDB{
		Pool:   pool,
		tracer: telemetry.GetDatabaseTracer(),
	}
}

func (db *TracedDB) start(ctx context.Context, op, sql string) (context.Context, trace.Span) {
	return startDBSpan(ctx, db.tracer, op, sql)
}

func startDBSpan(ctx context.Context, tracer trace.Tracer, op, sql string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "db."+op, trace.WithSpanKind(trace.SpanKindClient), trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", statementVerb(sql)),
	))
}

// statementVerb returns the leading SQL keyword, e.g. INSERT.
func statementVerb(sql string) string {
	fields := strings.Fields(sql)
	if len(fields) == 0 {
		return ""
	}
	return strings.ToUpper(fields[0])
}

func (db *TracedDB) Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error) {
	ctx, span := db.start(ctx, "query", sql)
	defer span.End()

	rows, err := db.Pool.Query(ctx, sql, args...)
	telemetry.RecordError(span, err)
	return rows, err
}

func (db *TracedDB) QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row {
	ctx, span := db.start(ctx, "query_row", sql)
	defer span.End()

	return db.Pool.QueryRow(ctx, sql, args...)
}

func (db *TracedDB) Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error) {
	ctx, span := db.start(ctx, "exec", sql)
	defer span.End()

	tag, err := db.Pool.Exec(ctx, sql, args...)
	telemetry.RecordError(span, err)
	span.SetAttributes(attribute.Int64("db.rows_affected", tag.RowsAffected()))
	return tag, err
}

// Begin starts a transaction whose statements are traced as well.
func (db *TracedDB) Begin(ctx context.Context) (pgx.Tx, error) {
	ctx, span := db.start(ctx, "begin", "BEGIN")
	defer span.End()

	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	return &TracedTx{Tx: tx, tracer: db.tracer}, nil
}

// TracedTx wraps a transaction; only the statements used by repositories are traced.
type TracedTx struct {
	pgx.Tx
	tracer trace.Tracer
}

func (tx *TracedTx) Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error) {
	ctx, span := startDBSpan(ctx, tx.tracer, "tx.exec", sql)
	defer span.End()

	tag, err := tx.Tx.Exec(ctx, sql, args...)
	telemetry.RecordError(span, err)
	span.SetAttributes(attribute.Int64("db.rows_affected", tag.RowsAffected()))
	return tag, err
}

func (tx *TracedTx) Commit(ctx context.Context) error {
	ctx, span := startDBSpan(ctx, tx.tracer, "tx.commit", "COMMIT")
	defer span.End()

	err := tx.Tx.Commit(ctx)
	telemetry.RecordError(span, err)
	return err
}

func (tx *TracedTx) Rollback(ctx context.Context) error {
	ctx, span := startDBSpan(ctx, tx.tracer, "tx.rollback", "ROLLBACK")
	defer span.End()

	return tx.Tx.Rollback(ctx)
}
