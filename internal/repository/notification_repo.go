package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"notifyhub/internal/model"
	"notifyhub/pkg/metrics"
	"notifyhub/pkg/otel"
)

const pgUniqueViolation = "23505"

// NotificationRepository PostgreSQL 实现
type NotificationRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
	now    Clock
}

func NewNotificationRepository(db *pgxpool.Pool, logger *zap.Logger) *NotificationRepository {
	return &NotificationRepository{
		db:     db,
		logger: logger,
		now:    time.Now,
	}
}

// EnsureSchema 建表和索引，可重复执行
func (r *NotificationRepository) EnsureSchema(ctx context.Context) error {
	for _, stmt := range postgresSchema {
		if _, err := r.db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	r.logger.Info("Notification schema ensured", zap.String("driver", "postgres"))
	return nil
}

func (r *NotificationRepository) Ping(ctx context.Context) error {
	return r.db.Ping(ctx)
}

func (r *NotificationRepository) Insert(ctx context.Context, n *model.Notification) error {
	if err := n.Validate(); err != nil {
		return err
	}

	r.logger.Debug("Inserting notification",
		zap.String("id", n.ID),
		zap.String("user_id", n.UserID),
	)

	var metadata any
	if len(n.Metadata) > 0 {
		metadata = n.Metadata
	}

	query := rebindPostgres(insertNotificationSQL)
	start := time.Now()
	err := otel.Exec(ctx, otel.DBSystemPostgres, "insert", query, func(ctx context.Context) error {
		_, err := r.db.Exec(ctx, query, insertArgs(n, metadata)...)
		return err
	})
	metrics.RecordDBQueryDuration("insert", notificationsTable, time.Since(start))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return &model.ConstraintError{Constraint: "notifications_id_key", Value: n.ID, Err: err}
		}
		r.logger.Error("Failed to insert notification", zap.String("id", n.ID), zap.Error(err))
		return fmt.Errorf("insert notification: %w", err)
	}

	r.logger.Info("Notification inserted successfully",
		zap.String("id", n.ID),
		zap.String("user_id", n.UserID),
	)
	return nil
}

func (r *NotificationRepository) List(ctx context.Context, filter model.ListFilter, page model.Page) ([]model.Notification, error) {
	query, args := buildListQuery(filter, clampPage(page))
	query = rebindPostgres(query)

	var out []model.Notification
	start := time.Now()
	err := otel.Query(ctx, otel.DBSystemPostgres, "list", query, func(ctx context.Context) error {
		rows, err := r.db.Query(ctx, query, args...)
		if err != nil {
			return err
		}
		out, err = pgx.CollectRows(rows, scanNotification)
		return err
	})
	metrics.RecordDBQueryDuration("list", notificationsTable, time.Since(start))
	if err != nil {
		r.logger.Error("Failed to list notifications", zap.Error(err))
		return nil, fmt.Errorf("list notifications: %w", err)
	}

	return out, nil
}

func (r *NotificationRepository) MarkRead(ctx context.Context, criteria model.MarkReadCriteria) (model.MarkReadResult, error) {
	if err := validateCriteria(criteria); err != nil {
		return model.MarkReadResult{}, err
	}

	readAt := normalizeTime(r.now())
	query, args := buildMarkReadQuery(criteria, readAt)
	query = rebindPostgres(query)

	var tag pgconn.CommandTag
	start := time.Now()
	err := otel.Exec(ctx, otel.DBSystemPostgres, "mark_read", query, func(ctx context.Context) error {
		var err error
		tag, err = r.db.Exec(ctx, query, args...)
		return err
	})
	metrics.RecordDBQueryDuration("mark_read", notificationsTable, time.Since(start))
	if err != nil {
		r.logger.Error("Failed to mark notifications read",
			zap.String("user_id", criteria.UserID),
			zap.Error(err),
		)
		return model.MarkReadResult{}, fmt.Errorf("mark notifications read: %w", err)
	}

	r.logger.Info("Notifications marked read",
		zap.String("user_id", criteria.UserID),
		zap.Int64("rows_affected", tag.RowsAffected()),
	)
	return model.MarkReadResult{UpdatedCount: tag.RowsAffected(), ReadAt: readAt}, nil
}

func scanNotification(row pgx.CollectableRow) (model.Notification, error) {
	var (
		n        model.Notification
		metadata []byte
	)
	err := row.Scan(
		&n.ID,
		&n.UserID,
		&n.Title,
		&n.Body,
		&n.Type,
		&n.Severity,
		&n.NavigateTo,
		&metadata,
		&n.IsRead,
		&n.ReadAt,
		&n.CreatedAt,
		&n.UpdatedAt,
	)
	if err != nil {
		return n, err
	}
	if len(metadata) > 0 {
		n.Metadata = json.RawMessage(metadata)
	}
	n.CreatedAt = n.CreatedAt.UTC()
	n.UpdatedAt = n.UpdatedAt.UTC()
	if n.ReadAt != nil {
		t := n.ReadAt.UTC()
		n.ReadAt = &t
	}
	return n, nil
}
