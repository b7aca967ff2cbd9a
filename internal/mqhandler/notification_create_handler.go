package mqhandler

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	mqcontracts "notifyhub/contracts/mq"
	"notifyhub/internal/model"
	"notifyhub/pkg/logger"
	"notifyhub/pkg/metrics"
	"notifyhub/pkg/trace"
	"notifyhub/pkg/util"
)

const handlerName = mqcontracts.RoutingKeyNotificationCreate

const defaultMaxRetries = 3

// Emitter 写入并推送通知，EmissionService 实现
type Emitter interface {
	Emit(ctx context.Context, in model.EmitInput) (string, error)
}

type Deduper interface {
	AcquireOnce(ctx context.Context, handler, key string) bool
	Release(ctx context.Context, handler, key string)
}

type RetryCounter interface {
	IncrementAndGet(ctx context.Context, key string) (int64, error)
	Reset(ctx context.Context, key string) error
}

type DLQPublisher interface {
	PublishToDLQ(ctx context.Context, routingKey string, payload []byte, originalError string) error
}

type NotificationCreateHandler struct {
	emitter      Emitter
	deduper      Deduper
	retryCounter RetryCounter
	dlq          DLQPublisher
	maxRetries   int64
	logger       *zap.Logger
}

// NewNotificationCreateHandler deduper / retryCounter 为 nil 时跳过去重和重试计数（未配置 Redis）
func NewNotificationCreateHandler(
	emitter Emitter,
	deduper Deduper,
	retryCounter RetryCounter,
	dlq DLQPublisher,
	maxRetries int,
	logger *zap.Logger,
) *NotificationCreateHandler {
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	return &NotificationCreateHandler{
		emitter:      emitter,
		deduper:      deduper,
		retryCounter: retryCounter,
		dlq:          dlq,
		maxRetries:   int64(maxRetries),
		logger:       logger,
	}
}

// Handle 返回 nil → ack；返回 error → nack 并重新入队
func (h *NotificationCreateHandler) Handle(ctx context.Context, raw json.RawMessage) error {
	var p mqcontracts.NotificationCreatePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		h.logger.Error("Failed to unmarshal notification.create payload (non-retryable, sending to DLQ)",
			zap.Error(err),
			zap.String("raw_payload", string(raw)),
		)
		return h.deadLetter(ctx, raw, "json_decode_error", err)
	}

	if p.TraceID != "" {
		ctx = trace.WithContext(ctx, p.TraceID)
	}
	log := logger.WithTrace(ctx, h.logger)

	log.Info("Handling notification.create event",
		zap.String("id", p.ID),
		zap.String("user_id", p.UserID),
	)

	// 只有上游指定了 id 才能去重
	if p.ID != "" && h.deduper != nil {
		if !h.deduper.AcquireOnce(ctx, handlerName, p.ID) {
			metrics.IncrementMQHandled(handlerName, "duplicate")
			return nil
		}
	}

	retryKey := util.FormatRetryKey(handlerName, messageKey(p.ID, raw))

	id, err := h.emitter.Emit(ctx, model.EmitInput{
		ID:         p.ID,
		UserID:     p.UserID,
		Title:      p.Title,
		Body:       p.Body,
		Type:       p.Type,
		Severity:   p.Severity,
		NavigateTo: p.NavigateTo,
		Metadata:   p.Metadata,
	})
	if err == nil {
		h.resetRetry(ctx, retryKey)
		metrics.IncrementMQHandled(handlerName, "success")
		log.Info("Notification created from MQ",
			zap.String("id", id),
			zap.String("user_id", p.UserID),
		)
		return nil
	}

	isRetryable, errType := classifyError(err)
	log.Error("Failed to emit notification",
		zap.String("id", p.ID),
		zap.String("user_id", p.UserID),
		zap.String("error_type", errType),
		zap.Bool("retryable", isRetryable),
		zap.Error(err),
	)

	if !isRetryable {
		if errType == "duplicate_key" {
			// 已经写入过，视为成功
			metrics.IncrementMQHandled(handlerName, "duplicate")
			return nil
		}
		return h.deadLetter(ctx, raw, errType, err)
	}

	// 释放去重标记，否则重投的消息会被当作重复跳过
	if p.ID != "" && h.deduper != nil {
		h.deduper.Release(ctx, handlerName, p.ID)
	}

	retryCount := int64(1)
	if h.retryCounter != nil {
		count, cerr := h.retryCounter.IncrementAndGet(ctx, retryKey)
		if cerr != nil {
			// Redis 错误不影响处理
			log.Warn("Failed to get retry count, continuing anyway", zap.Error(cerr))
		} else {
			retryCount = count
		}
	}

	if !util.ShouldRetry(retryCount, h.maxRetries, isRetryable) {
		log.Warn("Max retries exceeded, sending to DLQ",
			zap.String("id", p.ID),
			zap.Int64("retry_count", retryCount),
			zap.Int64("max_retries", h.maxRetries),
		)
		h.resetRetry(ctx, retryKey)
		return h.deadLetter(ctx, raw, "max_retries_exceeded", err)
	}

	metrics.IncrementMQHandled(handlerName, "retry")
	return fmt.Errorf("notification.create attempt %d: %w", retryCount, err)
}

// deadLetter 投递失败时返回 error，让消息重新入队而不是丢失
func (h *NotificationCreateHandler) deadLetter(ctx context.Context, raw []byte, errType string, cause error) error {
	metrics.IncrementMQHandled(handlerName, "dead_lettered")
	if h.dlq == nil {
		h.logger.Warn("DLQ not configured, dropping message",
			zap.String("error_type", errType),
			zap.Error(cause),
		)
		return nil
	}
	if err := h.dlq.PublishToDLQ(ctx, handlerName, raw, errType+": "+cause.Error()); err != nil {
		h.logger.Error("Failed to publish to DLQ",
			zap.String("error_type", errType),
			zap.Error(err),
		)
		return fmt.Errorf("publish to dlq: %w", err)
	}
	return nil
}

func (h *NotificationCreateHandler) resetRetry(ctx context.Context, key string) {
	if h.retryCounter == nil {
		return
	}
	if err := h.retryCounter.Reset(ctx, key); err != nil {
		h.logger.Warn("Failed to reset retry count", zap.String("key", key), zap.Error(err))
	}
}

// classifyError 领域错误优先，其余交给通用分类
func classifyError(err error) (bool, string) {
	var validationErr *model.ValidationError
	var constraintErr *model.ConstraintError
	var corruptionErr *model.DataCorruptionError
	switch {
	case errors.As(err, &validationErr):
		return false, "validation_error"
	case errors.As(err, &constraintErr):
		return false, "duplicate_key"
	case errors.As(err, &corruptionErr):
		return false, "data_corruption"
	}
	return util.IsRetryableError(err)
}

// messageKey 没有 id 的消息用内容摘要计数
func messageKey(id string, raw []byte) string {
	if id != "" {
		return id
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:8])
}
