package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Corphon/Lumina/internal/api"
	"github.com/Corphon/Lumina/internal/config"
	"github.com/Corphon/Lumina/internal/di"
	"github.com/Corphon/Lumina/internal/llm"
	"github.com/Corphon/Lumina/internal/models"
	"github.com/Corphon/Lumina/internal/services"
)

type nopGenerator struct{}

func (nopGenerator) GenerateScript(ctx context.Context, topic string) (*models.ExplainerScript, error) {
	return &models.ExplainerScript{Title: topic}, nil
}

func (nopGenerator) GenerateImage(ctx context.Context, prompt string) (string, error) {
	return "data:image/png;base64,UE5H", nil
}

func (nopGenerator) GenerateSpeech(ctx context.Context, text string) (string, error) {
	return "AAAA", nil
}

func testConfig(t *testing.T) *config.AppConfig {
	t.Helper()
	return &config.AppConfig{
		DataDir:        t.TempDir(),
		DebugMode:      true,
		LLMProvider:    "google",
		LLMConfig:      map[string]string{},
		HistoryBackend: "file",
		HistoryLimit:   8,
		ReadyDeadline:  time.Second,
		PollInterval:   10 * time.Millisecond,
		MaxAssets:      16,
	}
}

// TestGetApp 测试获取应用实例
func TestGetApp(t *testing.T) {
	app1 := GetApp()
	if app1 == nil || app1.stopChan == nil {
		t.Fatal("GetApp应该返回已初始化的实例")
	}
	if app1 != GetApp() {
		t.Fatal("GetApp应该返回相同的实例")
	}
}

// TestBuildServices 测试服务按依赖顺序注册并能组装路由
func TestBuildServices(t *testing.T) {
	container := di.GetContainer()
	container.Clear()
	t.Cleanup(container.Clear)

	if err := BuildServices(testConfig(t), nopGenerator{}, container); err != nil {
		t.Fatalf("BuildServices: %v", err)
	}
	t.Cleanup(GetApp().Cleanup)

	for _, name := range []string{"metrics", "generator", "config", "assets", "history", "orchestrator", "progress", "websocket", "ratelimiter", "sessions"} {
		if !container.Has(name) {
			t.Fatalf("service %s not registered", name)
		}
	}
	if _, ok := container.Get("generator").(*llm.Switchable); !ok {
		t.Fatal("generator should be switchable")
	}
	if _, ok := container.Get("websocket").(*api.WebSocketManager); !ok {
		t.Fatal("websocket manager missing")
	}

	router, err := api.SetupRouter()
	if err != nil {
		t.Fatalf("SetupRouter: %v", err)
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("health status %d", w.Code)
	}
	if w.Header().Get("X-RateLimit-Limit") != "100" {
		t.Fatalf("registered limiter not applied: %v", w.Header())
	}

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/settings", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("settings status %d", w.Code)
	}

	sessions := container.Get("sessions").(*services.SessionService)
	if sessions.SessionCount() != 0 {
		t.Fatal("expected no sessions")
	}
}

func TestNewTopicStoreBackends(t *testing.T) {
	cfg := testConfig(t)

	store, err := NewTopicStore(cfg)
	if err != nil {
		t.Fatalf("file backend: %v", err)
	}
	store.Close()

	cfg.HistoryBackend = "memcached"
	if _, err := NewTopicStore(cfg); err == nil {
		t.Fatal("expected error for unknown backend")
	}

	cfg.HistoryBackend = "redis"
	cfg.RedisAddr = ""
	if _, err := NewTopicStore(cfg); err == nil {
		t.Fatal("expected error for redis without address")
	}
}

func TestNewGeneratorRequiresKey(t *testing.T) {
	cfg := testConfig(t)
	if _, err := NewGenerator(cfg); err == nil {
		t.Fatal("expected error without api key")
	}

	cfg.LLMConfig["api_key"] = "test-key"
	provider, err := NewGenerator(cfg)
	if err != nil {
		t.Fatalf("NewGenerator: %v", err)
	}
	if provider.GetName() == "" {
		t.Fatal("provider should have a name")
	}

	cfg.LLMProvider = "unknown"
	if _, err := NewGenerator(cfg); err == nil {
		t.Fatal("expected error for unknown provider")
	}
}

func TestGeneratorReloaderSwaps(t *testing.T) {
	target := llm.NewSwitchable(nopGenerator{})
	reloader := &generatorReloader{target: target}

	cfg := testConfig(t)
	reloader.OnConfigChanged(cfg, cfg) // no api key: keeps the old generator
	if _, ok := target.Current().(nopGenerator); !ok {
		t.Fatal("failed reload should keep the previous generator")
	}

	cfg.LLMConfig["api_key"] = "test-key"
	reloader.OnConfigChanged(cfg, cfg)
	if _, ok := target.Current().(llm.Provider); !ok {
		t.Fatal("expected provider after reload")
	}
}
