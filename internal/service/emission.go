package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"notifyhub/internal/model"
	"notifyhub/internal/repository"
	"notifyhub/pkg/logger"
	"notifyhub/pkg/metrics"
)

// EventPublisher 实时推送的出口，broker 实现
type EventPublisher interface {
	Publish(event model.NotificationEvent)
}

// EmissionService 先落库再推送
type EmissionService struct {
	store     repository.NotificationStore
	publisher EventPublisher
	logger    *zap.Logger
	now       func() time.Time
}

func NewEmissionService(store repository.NotificationStore, publisher EventPublisher, logger *zap.Logger) *EmissionService {
	return &EmissionService{
		store:     store,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}
}

// Emit 写入失败时返回原始错误且不推送；推送失败只记录日志
func (s *EmissionService) Emit(ctx context.Context, in model.EmitInput) (string, error) {
	log := logger.WithTrace(ctx, s.logger)

	if strings.TrimSpace(in.UserID) == "" {
		return "", &model.ValidationError{Field: "userId", Message: "is required"}
	}
	if in.Title == nil {
		return "", &model.ValidationError{Field: "title", Message: "is required"}
	}

	id := in.ID
	if id == "" {
		generated, err := uuid.NewV7()
		if err != nil {
			return "", fmt.Errorf("generate notification id: %w", err)
		}
		id = generated.String()
	}

	var (
		raw      json.RawMessage
		snapshot map[string]any
	)
	if in.Metadata != nil {
		b, err := json.Marshal(in.Metadata)
		if err != nil {
			return "", &model.ValidationError{Field: "metadata", Message: err.Error()}
		}
		raw = b
		// 重新解码得到独立副本，与 List 读出的形态一致
		if err := json.Unmarshal(raw, &snapshot); err != nil {
			return "", &model.ValidationError{Field: "metadata", Message: err.Error()}
		}
	}

	now := s.now().UTC().Truncate(time.Microsecond)
	n := &model.Notification{
		ID:         id,
		UserID:     in.UserID,
		Title:      *in.Title,
		Body:       in.Body,
		Type:       in.Type,
		Severity:   in.Severity,
		NavigateTo: in.NavigateTo,
		Metadata:   raw,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := s.store.Insert(ctx, n); err != nil {
		log.Error("Failed to persist notification",
			zap.String("id", id),
			zap.String("user_id", in.UserID),
			zap.Error(err),
		)
		return "", err
	}

	s.publish(log, n.Event(snapshot))

	metrics.IncrementNotificationsEmitted(deref(n.Type))
	log.Info("Notification emitted",
		zap.String("id", id),
		zap.String("user_id", n.UserID),
		zap.String("type", deref(n.Type)),
	)
	return id, nil
}

// publish 尽力而为，已落库的通知不回滚
func (s *EmissionService) publish(log *zap.Logger, event model.NotificationEvent) {
	defer func() {
		if r := recover(); r != nil {
			log.Warn("Failed to publish notification event",
				zap.String("id", event.ID),
				zap.Any("panic", r),
			)
		}
	}()
	s.publisher.Publish(event)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
