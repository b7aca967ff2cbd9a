package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"notifyhub/internal/model"
	"notifyhub/pkg/metrics"
	"notifyhub/pkg/otel"
)

// SQLiteNotificationRepository 嵌入式实现，单机部署和测试使用
type SQLiteNotificationRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
	now    Clock
}

func NewSQLiteNotificationRepository(db *sqlx.DB, logger *zap.Logger) *SQLiteNotificationRepository {
	return &SQLiteNotificationRepository{
		db:     db,
		logger: logger,
		now:    time.Now,
	}
}

type notificationRow struct {
	ID         string     `db:"id"`
	UserID     string     `db:"user_id"`
	Title      string     `db:"title"`
	Body       *string    `db:"body"`
	Type       *string    `db:"type"`
	Severity   *string    `db:"severity"`
	NavigateTo *string    `db:"navigate_to"`
	Metadata   *string    `db:"metadata"`
	IsRead     bool       `db:"is_read"`
	ReadAt     *time.Time `db:"read_at"`
	CreatedAt  time.Time  `db:"created_at"`
	UpdatedAt  time.Time  `db:"updated_at"`
}

func (row notificationRow) toModel() model.Notification {
	n := model.Notification{
		ID:         row.ID,
		UserID:     row.UserID,
		Title:      row.Title,
		Body:       row.Body,
		Type:       row.Type,
		Severity:   row.Severity,
		NavigateTo: row.NavigateTo,
		IsRead:     row.IsRead,
		CreatedAt:  row.CreatedAt.UTC(),
		UpdatedAt:  row.UpdatedAt.UTC(),
	}
	if row.Metadata != nil {
		n.Metadata = json.RawMessage(*row.Metadata)
	}
	if row.ReadAt != nil {
		t := row.ReadAt.UTC()
		n.ReadAt = &t
	}
	return n
}

func (r *SQLiteNotificationRepository) EnsureSchema(ctx context.Context) error {
	for _, stmt := range sqliteSchema {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	r.logger.Info("Notification schema ensured", zap.String("driver", "sqlite"))
	return nil
}

func (r *SQLiteNotificationRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *SQLiteNotificationRepository) Insert(ctx context.Context, n *model.Notification) error {
	if err := n.Validate(); err != nil {
		return err
	}

	r.logger.Debug("Inserting notification",
		zap.String("id", n.ID),
		zap.String("user_id", n.UserID),
	)

	var metadata any
	if len(n.Metadata) > 0 {
		metadata = string(n.Metadata)
	}

	start := time.Now()
	err := otel.Exec(ctx, otel.DBSystemSQLite, "insert", insertNotificationSQL, func(ctx context.Context) error {
		_, err := r.db.ExecContext(ctx, insertNotificationSQL, insertArgs(n, metadata)...)
		return err
	})
	metrics.RecordDBQueryDuration("insert", notificationsTable, time.Since(start))
	if err != nil {
		if isSQLiteUniqueViolation(err) {
			return &model.ConstraintError{Constraint: "notifications.id", Value: n.ID, Err: err}
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

func (r *SQLiteNotificationRepository) List(ctx context.Context, filter model.ListFilter, page model.Page) ([]model.Notification, error) {
	query, args := buildListQuery(filter, clampPage(page))

	var rows []notificationRow
	start := time.Now()
	err := otel.Query(ctx, otel.DBSystemSQLite, "list", query, func(ctx context.Context) error {
		return r.db.SelectContext(ctx, &rows, query, args...)
	})
	metrics.RecordDBQueryDuration("list", notificationsTable, time.Since(start))
	if err != nil {
		r.logger.Error("Failed to list notifications", zap.Error(err))
		return nil, fmt.Errorf("list notifications: %w", err)
	}

	out := make([]model.Notification, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toModel())
	}
	return out, nil
}

func (r *SQLiteNotificationRepository) MarkRead(ctx context.Context, criteria model.MarkReadCriteria) (model.MarkReadResult, error) {
	if err := validateCriteria(criteria); err != nil {
		return model.MarkReadResult{}, err
	}

	readAt := normalizeTime(r.now())
	query, args := buildMarkReadQuery(criteria, readAt)

	var affected int64
	start := time.Now()
	err := otel.Exec(ctx, otel.DBSystemSQLite, "mark_read", query, func(ctx context.Context) error {
		res, err := r.db.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
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
		zap.Int64("rows_affected", affected),
	)
	return model.MarkReadResult{UpdatedCount: affected, ReadAt: readAt}, nil
}

func isSQLiteUniqueViolation(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	switch code := sqliteErr.Code(); code {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return true
	default:
		// 未开启扩展错误码时只有主错误码
		return code&0xff == sqlite3.SQLITE_CONSTRAINT && strings.Contains(sqliteErr.Error(), "UNIQUE")
	}
}
