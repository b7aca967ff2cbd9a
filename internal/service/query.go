package service

import (
	"context"
	"encoding/json"
	"math"

	"go.uber.org/zap"

	"notifyhub/internal/model"
	"notifyhub/internal/repository"
	"notifyhub/pkg/logger"
	"notifyhub/pkg/metrics"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

type ListRequest struct {
	// UserID 为 nil 时使用调用方身份
	UserID   *string
	IsRead   *bool
	Type     *string
	Severity *string
	Page     int
	Limit    int
}

type MarkReadRequest struct {
	LatestReadID *string
	Type         *string
	Severity     *string
}

type QueryService struct {
	store        repository.NotificationStore
	defaultLimit int
	maxLimit     int
	logger       *zap.Logger
}

func NewQueryService(store repository.NotificationStore, defaultLimit, maxLimit int, logger *zap.Logger) *QueryService {
	if maxLimit <= 0 || maxLimit > repository.MaxListLimit {
		maxLimit = MaxPageSize
	}
	if defaultLimit <= 0 || defaultLimit > maxLimit {
		defaultLimit = DefaultPageSize
	}
	return &QueryService{
		store:        store,
		defaultLimit: defaultLimit,
		maxLimit:     maxLimit,
		logger:       logger,
	}
}

// List 返回按 createdAt 倒序的一页；metadata 无法解码时整个调用失败
func (s *QueryService) List(ctx context.Context, caller string, req ListRequest) ([]model.NotificationView, model.Page, error) {
	userID := req.UserID
	if userID == nil {
		if caller == "" {
			return nil, model.Page{}, &model.AuthorizationError{Reason: "caller identity is required"}
		}
		userID = &caller
	}

	page, err := s.resolvePage(req.Page, req.Limit)
	if err != nil {
		return nil, model.Page{}, err
	}

	rows, err := s.store.List(ctx, model.ListFilter{
		UserID:   userID,
		IsRead:   req.IsRead,
		Type:     req.Type,
		Severity: req.Severity,
	}, page)
	if err != nil {
		return nil, page, err
	}

	views := make([]model.NotificationView, 0, len(rows))
	for i := range rows {
		metadata, err := decodeMetadata(&rows[i])
		if err != nil {
			logger.WithTrace(ctx, s.logger).Error("Stored notification metadata is corrupted",
				zap.String("id", rows[i].ID),
				zap.Error(err),
			)
			return nil, page, err
		}
		views = append(views, rows[i].Event(metadata))
	}
	return views, page, nil
}

// MarkRead 不带任何条件时标记调用方全部未读
func (s *QueryService) MarkRead(ctx context.Context, caller string, req MarkReadRequest) (model.MarkReadResult, error) {
	if caller == "" {
		return model.MarkReadResult{}, &model.AuthorizationError{Reason: "caller identity is required"}
	}

	res, err := s.store.MarkRead(ctx, model.MarkReadCriteria{
		UserID:       caller,
		LatestReadID: req.LatestReadID,
		Type:         req.Type,
		Severity:     req.Severity,
	})
	if err != nil {
		return model.MarkReadResult{}, err
	}

	metrics.AddNotificationsMarkedRead(res.UpdatedCount)
	return res, nil
}

func (s *QueryService) resolvePage(page, limit int) (model.Page, error) {
	switch {
	case page < 0:
		return model.Page{}, &model.ValidationError{Field: "page", Message: "must be positive"}
	case page == 0:
		page = 1
	}
	switch {
	case limit < 0:
		return model.Page{}, &model.ValidationError{Field: "limit", Message: "must be positive"}
	case limit == 0:
		limit = s.defaultLimit
	case limit > s.maxLimit:
		limit = s.maxLimit
	}
	// 偏移量必须能用 int 表示
	if page-1 > math.MaxInt/limit {
		return model.Page{}, &model.ValidationError{Field: "page", Message: "is too large"}
	}
	return model.Page{Page: page, Limit: limit}, nil
}

// decodeMetadata 只接受 JSON object 或 null
func decodeMetadata(n *model.Notification) (map[string]any, error) {
	if len(n.Metadata) == 0 {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal(n.Metadata, &m); err != nil {
		return nil, &model.DataCorruptionError{NotificationID: n.ID, Err: err}
	}
	return m, nil
}
