package model

import (
	"encoding/json"
	"math"
	"time"
)

// Notification 持久化的通知，只有 IsRead/ReadAt/UpdatedAt 会被修改
type Notification struct {
	ID         string          `json:"id"`
	UserID     string          `json:"userId"`
	Title      string          `json:"title"`
	Body       *string         `json:"body,omitempty"`
	Type       *string         `json:"type,omitempty"`
	Severity   *string         `json:"severity,omitempty"`
	NavigateTo *string         `json:"navigateTo,omitempty"`
	Metadata   json.RawMessage `json:"metadata,omitempty"` // 序列化后的 JSON object，读取时再解码
	IsRead     bool            `json:"isRead"`
	ReadAt     *time.Time      `json:"readAt"`
	CreatedAt  time.Time       `json:"createdAt"`
	UpdatedAt  time.Time       `json:"updatedAt"`
}

// Validate 检查写入前必须具备的字段
func (n *Notification) Validate() error {
	if n.ID == "" {
		return &ValidationError{Field: "id", Message: "is required"}
	}
	if n.UserID == "" {
		return &ValidationError{Field: "userId", Message: "is required"}
	}
	if n.IsRead != (n.ReadAt != nil) {
		return &ValidationError{Field: "readAt", Message: "must be set if and only if isRead is true"}
	}
	return nil
}

// Event 生成发布到 broker 的快照
func (n *Notification) Event(metadata map[string]any) NotificationEvent {
	return NotificationEvent{
		ID:         n.ID,
		UserID:     n.UserID,
		Title:      n.Title,
		Body:       n.Body,
		Type:       n.Type,
		Severity:   n.Severity,
		NavigateTo: n.NavigateTo,
		Metadata:   metadata,
		IsRead:     n.IsRead,
		ReadAt:     n.ReadAt,
		CreatedAt:  n.CreatedAt,
		UpdatedAt:  n.UpdatedAt,
	}
}

// NotificationEvent 实时推送的载荷，与 Notification 同形，metadata 已解码
type NotificationEvent struct {
	ID         string         `json:"id"`
	UserID     string         `json:"userId"`
	Title      string         `json:"title"`
	Body       *string        `json:"body,omitempty"`
	Type       *string        `json:"type,omitempty"`
	Severity   *string        `json:"severity,omitempty"`
	NavigateTo *string        `json:"navigateTo,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	IsRead     bool           `json:"isRead"`
	ReadAt     *time.Time     `json:"readAt"`
	CreatedAt  time.Time      `json:"createdAt"`
	UpdatedAt  time.Time      `json:"updatedAt"`
}

// NotificationView List 返回给调用方的视图
type NotificationView = NotificationEvent

// EmitInput 写入请求；Title 为 nil 表示缺失，空字符串是合法值
type EmitInput struct {
	ID         string
	UserID     string
	Title      *string
	Body       *string
	Type       *string
	Severity   *string
	NavigateTo *string
	Metadata   map[string]any
}

// ListFilter 各条件之间为 AND，nil 表示不过滤
type ListFilter struct {
	UserID   *string
	IsRead   *bool
	Type     *string
	Severity *string
}

type Page struct {
	Page  int
	Limit int
}

// Offset 基于 1 的页码换算偏移量，溢出时取 math.MaxInt
func (p Page) Offset() int {
	if p.Page <= 1 || p.Limit <= 0 {
		return 0
	}
	if p.Page-1 > math.MaxInt/p.Limit {
		return math.MaxInt
	}
	return (p.Page - 1) * p.Limit
}

// MarkReadCriteria UserID 必填；LatestReadID 表示标记到该条（含）为止
type MarkReadCriteria struct {
	UserID       string
	LatestReadID *string
	Type         *string
	Severity     *string
}

type MarkReadResult struct {
	UpdatedCount int64     `json:"updatedCount"`
	ReadAt       time.Time `json:"readAt"`
}
