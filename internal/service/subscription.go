package service

import (
	"context"

	"go.uber.org/zap"

	"notifyhub/internal/broker"
	"notifyhub/internal/model"
	"notifyhub/pkg/logger"
)

type SubscribeRequest struct {
	// UserID 为 nil 时接收所有用户的事件，仅供管理端使用
	UserID *string
	// LastEventID 只做记录，不回放历史
	LastEventID string
}

type SubscriptionService struct {
	broker *broker.Broker[model.NotificationEvent]
	logger *zap.Logger
}

func NewSubscriptionService(b *broker.Broker[model.NotificationEvent], logger *zap.Logger) *SubscriptionService {
	return &SubscriptionService{broker: b, logger: logger}
}

// Subscribe 返回时订阅已注册，之后发布的匹配事件都会送达。
// ctx 取消、broker 关闭或因溢出被断开时通道关闭。
func (s *SubscriptionService) Subscribe(ctx context.Context, req SubscribeRequest) <-chan model.NotificationEvent {
	log := logger.WithTrace(ctx, s.logger)

	var match func(model.NotificationEvent) bool
	userID := "*"
	if req.UserID != nil {
		uid := *req.UserID
		userID = uid
		match = func(ev model.NotificationEvent) bool { return ev.UserID == uid }
	}

	if req.LastEventID != "" {
		log.Debug("Subscriber resumed with lastEventId, replay is not supported",
			zap.String("user_id", userID),
			zap.String("last_event_id", req.LastEventID),
		)
	}

	sub := s.broker.Subscribe(match)
	log.Info("Subscription opened", zap.String("user_id", userID))

	out := make(chan model.NotificationEvent)
	go func() {
		defer close(out)
		defer sub.Close()
		defer func() {
			log.Info("Subscription closed", zap.String("user_id", userID), zap.Uint64("dropped", sub.Dropped()))
		}()

		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-sub.Events():
				if !ok {
					return
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out
}
