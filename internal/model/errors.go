package model

import (
	"errors"
	"fmt"
)

var (
	// ErrUnauthenticated 调用方身份缺失
	ErrUnauthenticated = errors.New("caller identity is missing")
	ErrNotFound        = errors.New("resource not found")
)

// ValidationError 字段校验失败
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

// ConstraintError 违反唯一约束（重复的 id）
type ConstraintError struct {
	Constraint string
	Value      string
	Err        error
}

func (e *ConstraintError) Error() string {
	return fmt.Sprintf("constraint %s violated by %q", e.Constraint, e.Value)
}

func (e *ConstraintError) Unwrap() error { return e.Err }

// NotFoundError 未注册的路由返回它，批量标记已读不会返回
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Resource, e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// DataCorruptionError 存储的 metadata 无法解码
type DataCorruptionError struct {
	NotificationID string
	Err            error
}

func (e *DataCorruptionError) Error() string {
	return fmt.Sprintf("notification %s: corrupted metadata: %v", e.NotificationID, e.Err)
}

func (e *DataCorruptionError) Unwrap() error { return e.Err }

// AuthorizationError 鉴权失败
type AuthorizationError struct {
	Reason string
}

func (e *AuthorizationError) Error() string {
	return "unauthorized: " + e.Reason
}

func (e *AuthorizationError) Unwrap() error { return ErrUnauthenticated }
