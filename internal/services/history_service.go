// internal/services/history_service.go
package services

import (
	"context"
	"strings"

	apperrors "github.com/Corphon/Lumina/internal/errors"
	"github.com/Corphon/Lumina/internal/storage"
	"github.com/Corphon/Lumina/internal/utils"
)

// DefaultHistoryLimit 最近主题列表的最大长度
const DefaultHistoryLimit = 8

// PushRecent 把 topic 放到列表最前面：大小写不敏感去重，长度不超过 limit。不修改传入的列表
func PushRecent(list []string, topic string, limit int) []string {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return append([]string(nil), list...)
	}

	next := make([]string, 0, limit)
	next = append(next, topic)
	for _, existing := range list {
		if len(next) >= limit {
			break
		}
		if strings.EqualFold(existing, topic) || containsFold(next, existing) {
			continue
		}
		next = append(next, existing)
	}
	return next
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}

// HistoryService 管理最近使用的主题
type HistoryService struct {
	store  storage.TopicStore
	limit  int
	logger *utils.Logger
}

// NewHistoryService 创建历史服务
func NewHistoryService(store storage.TopicStore, limit int) *HistoryService {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return &HistoryService{
		store:  store,
		limit:  limit,
		logger: utils.GetLogger().With(map[string]interface{}{"component": "history"}),
	}
}

// Record 记录一次新的生成请求
func (s *HistoryService) Record(ctx context.Context, topic string) ([]string, error) {
	if strings.TrimSpace(topic) == "" {
		return nil, apperrors.NewValidationError("topic is required", nil)
	}
	topics, err := s.store.Update(ctx, func(current []string) []string {
		return PushRecent(current, topic, s.limit)
	})
	if err != nil {
		return nil, apperrors.NewProcessingError("could not save history", err)
	}
	return topics, nil
}

// List 读取最近主题，最近的在前
func (s *HistoryService) List(ctx context.Context) ([]string, error) {
	topics, err := s.store.Load(ctx)
	if err != nil {
		return nil, apperrors.NewProcessingError("could not load history", err)
	}
	if len(topics) > s.limit {
		topics = topics[:s.limit]
	}
	return topics, nil
}

// Close 关闭底层存储
func (s *HistoryService) Close() error {
	return s.store.Close()
}
