// internal/llm/interface.go
package llm

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/Corphon/Lumina/internal/models"
)

// 错误定义
var (
	ErrUnknownProvider = errors.New("未知的AI提供者")
	ErrEmptyResponse   = errors.New("生成后端未返回任何结果")
)

// ScriptGenerator 根据主题生成讲解脚本
type ScriptGenerator interface {
	GenerateScript(ctx context.Context, topic string) (*models.ExplainerScript, error)
}

// ImageGenerator 根据提示词生成图像，返回可直接显示的资源引用（data URI）
type ImageGenerator interface {
	GenerateImage(ctx context.Context, prompt string) (string, error)
}

// SpeechGenerator 根据旁白文本生成语音，返回 base64 编码的原始 PCM（24kHz，单声道，16位）
type SpeechGenerator interface {
	GenerateSpeech(ctx context.Context, text string) (string, error)
}

// Generator 同时提供三种生成能力
type Generator interface {
	ScriptGenerator
	ImageGenerator
	SpeechGenerator
}

// Provider 定义所有生成后端提供者必须实现的接口
type Provider interface {
	Generator

	// 初始化提供者，传入配置
	Initialize(config map[string]string) error

	// 获取提供者名称
	GetName() string
}

// ProviderFactory 提供者工厂
type ProviderFactory func() Provider

var (
	providers   = make(map[string]ProviderFactory)
	providersMu sync.RWMutex
)

// Register 注册提供者工厂
func Register(name string, factory ProviderFactory) {
	providersMu.Lock()
	defer providersMu.Unlock()
	providers[name] = factory
}

// GetProvider 创建并初始化指定名称的提供者实例
func GetProvider(name string, config map[string]string) (Provider, error) {
	providersMu.RLock()
	factory, exists := providers[name]
	providersMu.RUnlock()
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, name)
	}

	provider := factory()
	if err := provider.Initialize(config); err != nil {
		return nil, err
	}
	return provider, nil
}

// ListProviders 返回所有已注册的提供者名称
func ListProviders() []string {
	providersMu.RLock()
	defer providersMu.RUnlock()

	names := make([]string, 0, len(providers))
	for name := range providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
