package handler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"notifyhub/internal/model"
	"notifyhub/internal/service"
	"notifyhub/pkg/logger"
	"notifyhub/pkg/rbac"
)

type NotificationQuerier interface {
	List(ctx context.Context, caller string, req service.ListRequest) ([]model.NotificationView, model.Page, error)
	MarkRead(ctx context.Context, caller string, req service.MarkReadRequest) (model.MarkReadResult, error)
}

type NotificationEmitter interface {
	Emit(ctx context.Context, in model.EmitInput) (string, error)
}

type NotificationHandler struct {
	query   NotificationQuerier
	emitter NotificationEmitter
	logger  *zap.Logger
}

func NewNotificationHandler(query NotificationQuerier, emitter NotificationEmitter, logger *zap.Logger) *NotificationHandler {
	return &NotificationHandler{
		query:   query,
		emitter: emitter,
		logger:  logger,
	}
}

type listResponse struct {
	Notifications []model.NotificationView `json:"notifications"`
	Page          int                      `json:"page"`
	Limit         int                      `json:"limit"`
}

// List GET /api/v1/notifications?isRead=&type=&severity=&userId=&page=&limit=
func (h *NotificationHandler) List(c *gin.Context) {
	caller, role, err := Caller(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	req := service.ListRequest{
		UserID:   optionalQuery(c, "userId"),
		Type:     optionalQuery(c, "type"),
		Severity: optionalQuery(c, "severity"),
	}
	if raw := c.Query("isRead"); raw != "" {
		isRead, err := strconv.ParseBool(raw)
		if err != nil {
			AbortWithError(c, &model.ValidationError{Field: "isRead", Message: "must be true or false"})
			return
		}
		req.IsRead = &isRead
	}
	if req.Page, err = intQuery(c, "page"); err != nil {
		AbortWithError(c, err)
		return
	}
	if req.Limit, err = intQuery(c, "limit"); err != nil {
		AbortWithError(c, err)
		return
	}

	if req.UserID != nil && *req.UserID != caller {
		if err := rbac.CheckPermission(caller, role, rbac.PermissionReadAny); err != nil {
			AbortWithError(c, err)
			return
		}
	}

	views, page, err := h.query.List(c.Request.Context(), caller, req)
	if err != nil {
		h.logError(c, "Failed to list notifications", err)
		AbortWithError(c, err)
		return
	}
	if views == nil {
		views = []model.NotificationView{}
	}

	c.JSON(http.StatusOK, listResponse{
		Notifications: views,
		Page:          page.Page,
		Limit:         page.Limit,
	})
}

type markReadRequest struct {
	LatestReadID *string `json:"latestReadId"`
	Type         *string `json:"type"`
	Severity     *string `json:"severity"`
}

// MarkRead POST /api/v1/notifications/read，空 body 表示全部标记已读
func (h *NotificationHandler) MarkRead(c *gin.Context) {
	caller, _, err := Caller(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var body markReadRequest
	if err := c.ShouldBindJSON(&body); err != nil && !errors.Is(err, io.EOF) {
		AbortWithError(c, &model.ValidationError{Field: "body", Message: err.Error()})
		return
	}

	result, err := h.query.MarkRead(c.Request.Context(), caller, service.MarkReadRequest{
		LatestReadID: body.LatestReadID,
		Type:         body.Type,
		Severity:     body.Severity,
	})
	if err != nil {
		h.logError(c, "Failed to mark notifications read", err)
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

type emitRequest struct {
	ID         string         `json:"id"`
	UserID     string         `json:"userId"`
	Title      *string        `json:"title"`
	Body       *string        `json:"body"`
	Type       *string        `json:"type"`
	Severity   *string        `json:"severity"`
	NavigateTo *string        `json:"navigateTo"`
	Metadata   map[string]any `json:"metadata"`
}

// Emit POST /api/v1/notifications，需要 notification:emit 权限
func (h *NotificationHandler) Emit(c *gin.Context) {
	var body emitRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		AbortWithError(c, &model.ValidationError{Field: "body", Message: err.Error()})
		return
	}

	id, err := h.emitter.Emit(c.Request.Context(), model.EmitInput{
		ID:         body.ID,
		UserID:     body.UserID,
		Title:      body.Title,
		Body:       body.Body,
		Type:       body.Type,
		Severity:   body.Severity,
		NavigateTo: body.NavigateTo,
		Metadata:   body.Metadata,
	})
	if err != nil {
		h.logError(c, "Failed to emit notification", err)
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"id": id})
}

func (h *NotificationHandler) logError(c *gin.Context, msg string, err error) {
	status, code := ErrorStatus(err)
	log := logger.WithTrace(c.Request.Context(), h.logger)
	fields := []zap.Field{
		zap.String("user_id", c.GetString(ContextUserID)),
		zap.String("code", code),
		zap.Error(err),
	}
	if status >= http.StatusInternalServerError {
		log.Error(msg, fields...)
		return
	}
	log.Warn(msg, fields...)
}

// optionalQuery 参数缺失或为空时返回 nil
func optionalQuery(c *gin.Context, key string) *string {
	v := c.Query(key)
	if v == "" {
		return nil
	}
	return &v
}

func intQuery(c *gin.Context, key string) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, &model.ValidationError{Field: key, Message: "must be an integer"}
	}
	return n, nil
}
