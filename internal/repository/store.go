package repository

import (
	"context"
	"time"

	"notifyhub/internal/model"
)

const (
	notificationsTable = "notifications"

	// MaxListLimit 单页上限
	MaxListLimit = 100
)

// NotificationStore 通知的持久化接口
type NotificationStore interface {
	Insert(ctx context.Context, n *model.Notification) error
	List(ctx context.Context, filter model.ListFilter, page model.Page) ([]model.Notification, error)
	MarkRead(ctx context.Context, criteria model.MarkReadCriteria) (model.MarkReadResult, error)
	Ping(ctx context.Context) error
}

// Clock 可替换的时间源，测试中固定时间
type Clock func() time.Time

// normalizeTime 统一为 UTC 微秒精度，两个后端存取结果一致
func normalizeTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

func clampPage(p model.Page) model.Page {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.Limit <= 0 || p.Limit > MaxListLimit {
		p.Limit = MaxListLimit
	}
	return p
}

func validateCriteria(c model.MarkReadCriteria) error {
	if c.UserID == "" {
		return &model.ValidationError{Field: "userId", Message: "is required"}
	}
	return nil
}
