package mq

// RoutingKeyNotificationCreate 上游服务投递站内通知
const RoutingKeyNotificationCreate = "notification.create"

// NotificationCreatePayload notification.create 消息体。
// ID 为空时由服务端生成；传入时同时作为去重键。
type NotificationCreatePayload struct {
	ID         string         `json:"id,omitempty"`
	UserID     string         `json:"user_id"`
	Title      *string        `json:"title"`
	Body       *string        `json:"body,omitempty"`
	Type       *string        `json:"type,omitempty"`
	Severity   *string        `json:"severity,omitempty"`
	NavigateTo *string        `json:"navigate_to,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	TraceID    string         `json:"trace_id,omitempty"`
}
