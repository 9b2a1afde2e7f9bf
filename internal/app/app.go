// internal/app/app.go
package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/Corphon/Lumina/internal/api"
	"github.com/Corphon/Lumina/internal/config"
	"github.com/Corphon/Lumina/internal/di"
	"github.com/Corphon/Lumina/internal/llm"
	"github.com/Corphon/Lumina/internal/services"
	"github.com/Corphon/Lumina/internal/storage"
	"github.com/Corphon/Lumina/internal/utils"

	// 注册生成后端
	_ "github.com/Corphon/Lumina/internal/llm/providers/google"
)

// App 应用实例
type App struct {
	config   *config.AppConfig
	server   *http.Server
	stopChan chan os.Signal
	mu       sync.Mutex
}

var (
	instance *App
	once     sync.Once
)

// GetApp 获取全局应用实例
func GetApp() *App {
	once.Do(func() {
		instance = &App{stopChan: make(chan os.Signal, 1)}
	})
	return instance
}

// GetConfig 当前配置
func (a *App) GetConfig() *config.AppConfig {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.config == nil {
		a.config = config.GetCurrentConfig()
	}
	return a.config
}

// IsDebugMode 是否调试模式
func (a *App) IsDebugMode() bool {
	return a.GetConfig().DebugMode
}

// GetDIContainer 返回全局依赖注入容器
func (a *App) GetDIContainer() *di.Container {
	return di.GetContainer()
}

// InitServices 按当前配置创建生成后端并初始化所有服务
func InitServices() error {
	cfg := config.GetCurrentConfig()

	if err := initLogger(cfg); err != nil {
		log.Printf("⚠️ 日志初始化失败，继续使用标准输出: %v", err)
	}

	generator, err := NewGenerator(cfg)
	if err != nil {
		return err
	}
	log.Printf("✅ 生成后端已就绪: %s", generator.GetName())

	container := di.GetContainer()
	if err := BuildServices(cfg, generator, container); err != nil {
		return err
	}

	// 模型配置变更后重建生成后端
	configService, _ := container.Get("config").(*services.ConfigService)
	switchable, _ := container.Get("generator").(*llm.Switchable)
	if configService != nil && switchable != nil {
		configService.SubscribeToChanges(&generatorReloader{target: switchable})
	}
	return nil
}

// generatorReloader 按新配置重建生成后端并替换
type generatorReloader struct {
	target *llm.Switchable
}

func (r *generatorReloader) OnConfigChanged(oldConfig, newConfig *config.AppConfig) {
	next, err := NewGenerator(newConfig)
	if err != nil {
		log.Printf("⚠️ 重建生成后端失败，继续使用旧配置: %v", err)
		return
	}
	r.target.Swap(next)
	log.Printf("🔄 生成后端已切换: script=%s image=%s speech=%s voice=%s",
		newConfig.Models.Script, newConfig.Models.Image, newConfig.Models.Speech, newConfig.Models.Voice)
}

// NewGenerator 根据配置创建生成后端
func NewGenerator(cfg *config.AppConfig) (llm.Provider, error) {
	providerConfig := make(map[string]string, len(cfg.LLMConfig)+6)
	for k, v := range cfg.LLMConfig {
		providerConfig[k] = v
	}
	providerConfig["script_model"] = cfg.Models.Script
	providerConfig["image_model"] = cfg.Models.Image
	providerConfig["image_fallback_model"] = cfg.Models.ImageFallback
	providerConfig["speech_model"] = cfg.Models.Speech
	providerConfig["voice"] = cfg.Models.Voice
	if cfg.ScenesPerRun > 0 {
		providerConfig["scene_count"] = strconv.Itoa(cfg.ScenesPerRun)
	}

	provider, err := llm.GetProvider(cfg.LLMProvider, providerConfig)
	if err != nil {
		return nil, fmt.Errorf("创建生成后端 %s 失败: %w", cfg.LLMProvider, err)
	}
	return provider, nil
}

// NewTopicStore 根据配置创建最近主题存储
func NewTopicStore(cfg *config.AppConfig) (storage.TopicStore, error) {
	switch cfg.HistoryBackend {
	case "redis":
		return storage.NewRedisTopicStore(storage.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
	case "", "file":
		files, err := storage.NewFileStorage(cfg.DataDir)
		if err != nil {
			return nil, err
		}
		return storage.NewFileTopicStore(files)
	default:
		return nil, fmt.Errorf("不支持的历史存储: %s", cfg.HistoryBackend)
	}
}

// BuildServices 按依赖顺序创建服务并注册到容器
func BuildServices(cfg *config.AppConfig, generator llm.Generator, container *di.Container) error {
	metrics := utils.NewGenerationMetrics()
	container.Register("metrics", metrics)

	switchable, ok := generator.(*llm.Switchable)
	if !ok {
		switchable = llm.NewSwitchable(generator)
	}
	generator = switchable
	container.Register("generator", switchable)
	container.Register("config", services.NewConfigService())

	assets := storage.NewAssetStore(cfg.MaxAssets, storage.DefaultAssetBaseURL)
	container.Register("assets", assets)

	topics, err := NewTopicStore(cfg)
	if err != nil {
		return fmt.Errorf("初始化历史存储失败: %w", err)
	}
	history := services.NewHistoryService(topics, cfg.HistoryLimit)
	container.Register("history", history)

	orchestrator := services.NewOrchestrator(generator, generator, assets, services.OrchestratorConfig{
		ReadyDeadline: cfg.ReadyDeadline,
		PollInterval:  cfg.PollInterval,
	}, metrics)
	container.Register("orchestrator", orchestrator)

	progress := services.NewProgressService()
	container.Register("progress", progress)

	wsManager := api.NewWebSocketManager()
	container.Register("websocket", wsManager)
	container.Register("ratelimiter", api.NewRateLimiter(api.DefaultLimiterSweep))

	sessions := services.NewSessionService(generator, orchestrator, history, progress, wsManager, metrics)
	container.Register("sessions", sessions)

	return nil
}

// initLogger 初始化结构化日志
func initLogger(cfg *config.AppConfig) error {
	utils.GetLogger().SetLogLevel(utils.ParseLogLevel(cfg.LogLevel))
	if cfg.LogDir == "" {
		return nil
	}
	if err := os.MkdirAll(cfg.LogDir, 0755); err != nil {
		return err
	}
	return utils.InitLogger(filepath.Join(cfg.LogDir, "lumina.log"))
}

// Run 启动HTTP服务并阻塞到收到退出信号
func (a *App) Run(handler http.Handler, port string) error {
	a.mu.Lock()
	a.server = &http.Server{
		Addr:              ":" + port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	srv := a.server
	a.mu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	signal.Notify(a.stopChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(a.stopChan)

	select {
	case err := <-errCh:
		return fmt.Errorf("启动服务器失败: %w", err)
	case <-a.stopChan:
	}

	log.Println("🛑 正在关闭服务器...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("服务器强制关闭: %w", err)
	}
	log.Println("✅ 服务器优雅关闭完成")
	return nil
}

// Stop 触发优雅关闭
func (a *App) Stop() {
	select {
	case a.stopChan <- syscall.SIGTERM:
	default:
	}
}

// Cleanup 释放后台资源
func (a *App) Cleanup() {
	container := di.GetContainer()

	if wsManager, ok := container.Get("websocket").(*api.WebSocketManager); ok {
		wsManager.Shutdown()
	}
	if limiter, ok := container.Get("ratelimiter").(*api.RateLimiter); ok {
		limiter.Stop()
	}
	if history, ok := container.Get("history").(*services.HistoryService); ok {
		if err := history.Close(); err != nil {
			log.Printf("⚠️ 关闭历史存储失败: %v", err)
		}
	}
	if progress, ok := container.Get("progress").(*services.ProgressService); ok {
		progress.CleanupCompletedTasks(0)
	}
}
