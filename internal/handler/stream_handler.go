package handler

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/gin-contrib/sse"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"notifyhub/internal/model"
	"notifyhub/internal/service"
	"notifyhub/pkg/logger"
	"notifyhub/pkg/rbac"
)

const (
	defaultHeartbeat = 25 * time.Second
	wsWriteTimeout   = 10 * time.Second
)

type Subscriber interface {
	Subscribe(ctx context.Context, req service.SubscribeRequest) <-chan model.NotificationEvent
}

type StreamHandler struct {
	subscriptions Subscriber
	heartbeat     time.Duration
	upgrader      websocket.Upgrader
	logger        *zap.Logger
}

func NewStreamHandler(subscriptions Subscriber, heartbeat time.Duration, logger *zap.Logger) *StreamHandler {
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeat
	}
	return &StreamHandler{
		subscriptions: subscriptions,
		heartbeat:     heartbeat,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// token 已经校验过，不限制来源
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: logger,
	}
}

// wsFrame WebSocket 文本帧
type wsFrame struct {
	Event string                   `json:"event"`
	Data  *model.NotificationEvent `json:"data,omitempty"`
}

// subscribeRequest 解析 userId / all / lastEventId 并做权限检查
func (h *StreamHandler) subscribeRequest(c *gin.Context) (service.SubscribeRequest, bool) {
	caller, role, err := Caller(c)
	if err != nil {
		AbortWithError(c, err)
		return service.SubscribeRequest{}, false
	}

	req := service.SubscribeRequest{
		LastEventID: c.GetHeader("Last-Event-ID"),
	}
	if req.LastEventID == "" {
		req.LastEventID = c.Query("lastEventId")
	}

	if c.Query("all") == "true" {
		if err := rbac.CheckPermission(caller, role, rbac.PermissionSubscribeAll); err != nil {
			AbortWithError(c, err)
			return service.SubscribeRequest{}, false
		}
		return req, true
	}

	userID := caller
	if requested := c.Query("userId"); requested != "" && requested != caller {
		if err := rbac.CheckPermission(caller, role, rbac.PermissionReadAny); err != nil {
			AbortWithError(c, err)
			return service.SubscribeRequest{}, false
		}
		userID = requested
	}
	req.UserID = &userID
	return req, true
}

// Stream GET /api/v1/notifications/stream (SSE)
func (h *StreamHandler) Stream(c *gin.Context) {
	req, ok := h.subscribeRequest(c)
	if !ok {
		return
	}

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	log := logger.WithTrace(ctx, h.logger)

	// 先注册订阅再发 ready，客户端收到 ready 后发布的事件不会丢
	events := h.subscriptions.Subscribe(ctx, req)

	c.Header("Content-Type", sse.ContentType)
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Render(-1, sse.Event{Event: "ready", Data: gin.H{"userId": subscribedUser(req)}})
	c.Writer.Flush()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	delivered := 0
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case ev, ok := <-events:
			if !ok {
				return false
			}
			c.Render(-1, sse.Event{Id: ev.ID, Event: "notification", Data: ev})
			delivered++
			return true
		case t := <-ticker.C:
			c.Render(-1, sse.Event{Event: "ping", Data: t.UTC().Format(time.RFC3339)})
			return true
		}
	})

	log.Debug("SSE stream finished",
		zap.String("user_id", subscribedUser(req)),
		zap.Int("delivered", delivered),
	)
}

// WebSocket GET /api/v1/notifications/ws
func (h *StreamHandler) WebSocket(c *gin.Context) {
	req, ok := h.subscribeRequest(c)
	if !ok {
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade 已经写回了错误响应
		h.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	log := logger.WithTrace(ctx, h.logger)

	events := h.subscriptions.Subscribe(ctx, req)

	// 客户端只会发 close/pong，读到错误即认为连接断开
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	write := func(frame wsFrame) error {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		return conn.WriteJSON(frame)
	}

	if err := write(wsFrame{Event: "ready"}); err != nil {
		log.Debug("WebSocket write failed", zap.Error(err))
		return
	}

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			return
		case ev, ok := <-events:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "subscription closed"),
					time.Now().Add(time.Second))
				return
			}
			if err := write(wsFrame{Event: "notification", Data: &ev}); err != nil {
				log.Debug("WebSocket write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout)); err != nil {
				return
			}
		}
	}
}

func subscribedUser(req service.SubscribeRequest) string {
	if req.UserID == nil {
		return "*"
	}
	return *req.UserID
}
