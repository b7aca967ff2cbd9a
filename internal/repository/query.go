package repository

import (
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"notifyhub/internal/model"
)

const notificationColumns = `id, user_id, title, body, type, severity, navigate_to, metadata, is_read, read_at, created_at, updated_at`

const insertNotificationSQL = `
        INSERT INTO notifications (` + notificationColumns + `)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
    `

// insertArgs metadata 由各后端按列类型传入（JSONB / TEXT）
func insertArgs(n *model.Notification, metadata any) []any {
	var readAt any
	if n.ReadAt != nil {
		readAt = normalizeTime(*n.ReadAt)
	}
	return []any{
		n.ID,
		n.UserID,
		n.Title,
		nullable(n.Body),
		nullable(n.Type),
		nullable(n.Severity),
		nullable(n.NavigateTo),
		metadata,
		n.IsRead,
		readAt,
		normalizeTime(n.CreatedAt),
		normalizeTime(n.UpdatedAt),
	}
}

func nullable(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

// 查询统一用 ? 书写，Postgres 通过 sqlx.Rebind 转为 $n
func rebindPostgres(query string) string {
	return sqlx.Rebind(sqlx.DOLLAR, query)
}

// buildListQuery 条件之间为 AND；按 created_at 倒序，同一时间按写入顺序 seq 倒序
func buildListQuery(f model.ListFilter, p model.Page) (string, []any) {
	var (
		conds []string
		args  []any
	)
	if f.UserID != nil {
		conds = append(conds, "user_id = ?")
		args = append(args, *f.UserID)
	}
	if f.IsRead != nil {
		conds = append(conds, "is_read = ?")
		args = append(args, *f.IsRead)
	}
	if f.Type != nil {
		conds = append(conds, "type = ?")
		args = append(args, *f.Type)
	}
	if f.Severity != nil {
		conds = append(conds, "severity = ?")
		args = append(args, *f.Severity)
	}

	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(notificationColumns)
	b.WriteString(" FROM notifications")
	if len(conds) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(conds, " AND "))
	}
	b.WriteString(" ORDER BY created_at DESC, seq DESC LIMIT ? OFFSET ?")
	args = append(args, p.Limit, p.Offset())

	return b.String(), args
}

// buildMarkReadQuery 只更新未读记录；latestReadID 未知时子查询为 NULL，不匹配任何行
func buildMarkReadQuery(c model.MarkReadCriteria, readAt time.Time) (string, []any) {
	var b strings.Builder
	b.WriteString("UPDATE notifications SET is_read = ?, read_at = ?, updated_at = ? WHERE user_id = ? AND is_read = ?")
	args := []any{true, readAt, readAt, c.UserID, false}

	if c.LatestReadID != nil {
		b.WriteString(" AND seq <= (SELECT seq FROM notifications WHERE id = ? AND user_id = ?)")
		args = append(args, *c.LatestReadID, c.UserID)
	}
	if c.Type != nil {
		b.WriteString(" AND type = ?")
		args = append(args, *c.Type)
	}
	if c.Severity != nil {
		b.WriteString(" AND severity = ?")
		args = append(args, *c.Severity)
	}

	return b.String(), args
}
