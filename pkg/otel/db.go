package otel

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// 数据库类型
const (
	DBSystemPostgres = "postgresql"
	DBSystemSQLite   = "sqlite"
)

// DBSpan 为数据库操作创建 span
func DBSpan(ctx context.Context, system, operation, query string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "db."+operation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", system),
			attribute.String("db.operation", operation),
			attribute.String("db.statement", query),
		),
	)
}

// WrapDBError 记录数据库错误到 span
func WrapDBError(span trace.Span, err error) {
	switch {
	case err == nil:
		span.SetStatus(codes.Ok, "")
	case errors.Is(err, sql.ErrNoRows), errors.Is(err, pgx.ErrNoRows):
		span.SetStatus(codes.Ok, "no rows")
	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// Exec 包装写操作，自动添加追踪
func Exec(ctx context.Context, system, operation, query string, fn func(context.Context) error) error {
	ctx, span := DBSpan(ctx, system, operation, query)
	defer span.End()

	err := fn(ctx)
	WrapDBError(span, err)
	return err
}

// Query 包装读操作，自动添加追踪
func Query(ctx context.Context, system, operation, query string, fn func(context.Context) error) error {
	ctx, span := DBSpan(ctx, system, operation, query)
	defer span.End()

	err := fn(ctx)
	WrapDBError(span, err)
	return err
}
