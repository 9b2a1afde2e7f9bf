// internal/services/config_service.go
package services

import (
	"strings"
	"sync"
	"time"

	"github.com/Corphon/Lumina/internal/config"
	apperrors "github.com/Corphon/Lumina/internal/errors"
)

// ConfigService 提供运行时配置查看和模型切换
type ConfigService struct {
	// 配置变更事件订阅者
	subscribers []ConfigChangeSubscriber

	// 配置历史记录
	changeHistory []ConfigChangeRecord

	// 变更入口，保存到磁盘的函数可替换便于测试
	update func(config.ModelConfig) error
	load   func() *config.AppConfig

	mu sync.RWMutex
}

// ConfigChangeSubscriber 配置变更订阅者接口
type ConfigChangeSubscriber interface {
	OnConfigChanged(oldConfig, newConfig *config.AppConfig)
}

// ConfigChangeRecord 配置变更记录
type ConfigChangeRecord struct {
	Timestamp time.Time          `json:"timestamp"`
	ChangedBy string             `json:"changed_by"`
	Section   string             `json:"section"`
	OldValue  config.ModelConfig `json:"old_value"`
	NewValue  config.ModelConfig `json:"new_value"`
}

// Settings 对外展示的配置，不含密钥
type Settings struct {
	Provider         string             `json:"provider"`
	Models           config.ModelConfig `json:"models"`
	ScenesPerRun     int                `json:"scenes_per_run"`
	ReadyDeadline    string             `json:"ready_deadline"`
	HistoryBackend   string             `json:"history_backend"`
	HistoryLimit     int                `json:"history_limit"`
	MaxAssets        int                `json:"max_assets"`
	APIKeyConfigured bool               `json:"api_key_configured"`
}

const maxChangeHistory = 100

// NewConfigService 创建配置服务实例
func NewConfigService() *ConfigService {
	return &ConfigService{
		changeHistory: make([]ConfigChangeRecord, 0, 16),
		update:        config.UpdateModels,
		load:          config.GetCurrentConfig,
	}
}

// GetCurrentConfig 获取当前配置
func (s *ConfigService) GetCurrentConfig() *config.AppConfig {
	return s.load()
}

// Settings 返回脱敏后的配置
func (s *ConfigService) Settings() Settings {
	cfg := s.load()
	return Settings{
		Provider:         cfg.LLMProvider,
		Models:           cfg.Models,
		ScenesPerRun:     cfg.ScenesPerRun,
		ReadyDeadline:    cfg.ReadyDeadline.String(),
		HistoryBackend:   cfg.HistoryBackend,
		HistoryLimit:     cfg.HistoryLimit,
		MaxAssets:        cfg.MaxAssets,
		APIKeyConfigured: cfg.LLMConfig["api_key"] != "",
	}
}

// UpdateModels 更新模型配置并通知订阅者，空字段保持原值
func (s *ConfigService) UpdateModels(models config.ModelConfig, changedBy string) (Settings, error) {
	models.Script = strings.TrimSpace(models.Script)
	models.Image = strings.TrimSpace(models.Image)
	models.ImageFallback = strings.TrimSpace(models.ImageFallback)
	models.Speech = strings.TrimSpace(models.Speech)
	models.Voice = strings.TrimSpace(models.Voice)
	if models == (config.ModelConfig{}) {
		return Settings{}, apperrors.NewValidationError("at least one model must be provided", nil)
	}

	oldConfig := s.load()
	if err := s.update(models); err != nil {
		return Settings{}, apperrors.NewProcessingError("failed to save settings", err)
	}
	newConfig := s.load()

	s.recordChange("models", oldConfig.Models, newConfig.Models, changedBy)
	s.notifySubscribers(oldConfig, newConfig)
	return s.Settings(), nil
}

// SubscribeToChanges 订阅配置变更事件
func (s *ConfigService) SubscribeToChanges(subscriber ConfigChangeSubscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.subscribers = append(s.subscribers, subscriber)
}

// notifySubscribers 同步通知订阅者，返回时新配置已生效
func (s *ConfigService) notifySubscribers(oldConfig, newConfig *config.AppConfig) {
	s.mu.RLock()
	subscribers := make([]ConfigChangeSubscriber, len(s.subscribers))
	copy(subscribers, s.subscribers)
	s.mu.RUnlock()

	for _, subscriber := range subscribers {
		subscriber.OnConfigChanged(oldConfig, newConfig)
	}
}

// GetChangeHistory 获取配置变更历史
func (s *ConfigService) GetChangeHistory(limit int) []ConfigChangeRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 || limit > len(s.changeHistory) {
		limit = len(s.changeHistory)
	}

	history := make([]ConfigChangeRecord, limit)
	copy(history, s.changeHistory[len(s.changeHistory)-limit:])
	return history
}

// recordChange 记录配置变更
func (s *ConfigService) recordChange(section string, oldValue, newValue config.ModelConfig, changedBy string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.changeHistory) >= maxChangeHistory {
		s.changeHistory = s.changeHistory[1:]
	}

	s.changeHistory = append(s.changeHistory, ConfigChangeRecord{
		Timestamp: time.Now(),
		ChangedBy: changedBy,
		Section:   section,
		OldValue:  oldValue,
		NewValue:  newValue,
	})
}
