package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"notifyhub/internal/model"
	"notifyhub/pkg/rbac"
)

// gin.Context 中保存调用方身份的 key，由鉴权中间件写入
const (
	ContextUserID = "user_id"
	ContextRole   = "role"
)

// Caller 从 gin.Context 取出调用方身份
func Caller(c *gin.Context) (userID, role string, err error) {
	uid := c.GetString(ContextUserID)
	if uid == "" {
		return "", "", &model.AuthorizationError{Reason: "user not authenticated"}
	}
	return uid, rbac.NormalizeRole(c.GetString(ContextRole)), nil
}

// ErrorStatus 领域错误到 HTTP 状态码和错误码的映射
func ErrorStatus(err error) (int, string) {
	var (
		validationErr *model.ValidationError
		constraintErr *model.ConstraintError
		corruptionErr *model.DataCorruptionError
		deniedErr     *rbac.PermissionDeniedError
	)
	switch {
	case errors.As(err, &validationErr):
		return http.StatusBadRequest, "validation_error"
	case errors.As(err, &constraintErr):
		return http.StatusConflict, "constraint_violation"
	case errors.As(err, &corruptionErr):
		return http.StatusInternalServerError, "data_corruption"
	case errors.Is(err, model.ErrUnauthenticated):
		return http.StatusUnauthorized, "unauthorized"
	case errors.As(err, &deniedErr):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound, "not_found"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// AbortWithError 写入错误响应并终止后续 handler
func AbortWithError(c *gin.Context, err error) {
	status, code := ErrorStatus(err)
	body := gin.H{"error": err.Error(), "code": code}

	var validationErr *model.ValidationError
	if errors.As(err, &validationErr) {
		body["field"] = validationErr.Field
	}
	// 内部错误不向调用方暴露细节
	if code == "internal_error" {
		body["error"] = "internal server error"
	}
	if code == "data_corruption" {
		var corruptionErr *model.DataCorruptionError
		errors.As(err, &corruptionErr)
		body["error"] = "stored notification is corrupted"
		body["notificationId"] = corruptionErr.NotificationID
	}

	_ = c.Error(err)
	c.AbortWithStatusJSON(status, body)
}
