// publish 向 events 交换机投递一条 notification.create 消息，用于联调
package main

import (
	"context"
	"encoding/json"
	"flag"
	"time"

	"go.uber.org/zap"

	mqcontracts "notifyhub/contracts/mq"
	"notifyhub/internal/config"
	"notifyhub/pkg/logger"
	"notifyhub/pkg/mq"
	"notifyhub/pkg/trace"
)

func main() {
	var (
		id       = flag.String("id", "", "notification id (optional, used for dedup)")
		userID   = flag.String("user", "", "recipient user id")
		title    = flag.String("title", "", "notification title")
		body     = flag.String("body", "", "notification body")
		typ      = flag.String("type", "", "notification type")
		severity = flag.String("severity", "", "notification severity")
		metadata = flag.String("metadata", "", "metadata as a JSON object")
	)
	flag.Parse()

	log := logger.NewLogger(true)
	defer log.Sync()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load config", zap.Error(err))
	}
	if *userID == "" {
		log.Fatal("-user is required")
	}

	payload := mqcontracts.NotificationCreatePayload{
		ID:       *id,
		UserID:   *userID,
		Title:    title,
		Body:     optional(*body),
		Type:     optional(*typ),
		Severity: optional(*severity),
	}
	if *metadata != "" {
		if err := json.Unmarshal([]byte(*metadata), &payload.Metadata); err != nil {
			log.Fatal("Invalid -metadata", zap.Error(err))
		}
	}

	ctx, traceID := trace.EnsureContext(context.Background(), "")
	payload.TraceID = traceID
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	publisher, err := mq.NewPublisher(cfg.MQ.URL)
	if err != nil {
		log.Fatal("Failed to init MQ publisher", zap.Error(err))
	}
	defer publisher.Close()

	if err := publisher.Publish(ctx, mqcontracts.RoutingKeyNotificationCreate, payload); err != nil {
		log.Fatal("Failed to publish", zap.Error(err))
	}
	log.Info("Published notification.create",
		zap.String("user_id", *userID),
		zap.String("trace_id", traceID),
	)
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
