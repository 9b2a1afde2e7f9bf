// internal/llm/switchable.go
package llm

import (
	"context"
	"sync"

	"github.com/Corphon/Lumina/internal/models"
)

// Switchable 可在运行时替换的生成后端，正在进行的请求继续使用旧实例
type Switchable struct {
	mu      sync.RWMutex
	current Generator
}

// NewSwitchable 包装初始生成后端
func NewSwitchable(initial Generator) *Switchable {
	return &Switchable{current: initial}
}

// Current 当前生效的生成后端
func (s *Switchable) Current() Generator {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Swap 替换生成后端，返回旧实例
func (s *Switchable) Swap(next Generator) Generator {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.current
	s.current = next
	return prev
}

func (s *Switchable) GenerateScript(ctx context.Context, topic string) (*models.ExplainerScript, error) {
	return s.Current().GenerateScript(ctx, topic)
}

func (s *Switchable) GenerateImage(ctx context.Context, prompt string) (string, error) {
	return s.Current().GenerateImage(ctx, prompt)
}

func (s *Switchable) GenerateSpeech(ctx context.Context, text string) (string, error) {
	return s.Current().GenerateSpeech(ctx, text)
}
