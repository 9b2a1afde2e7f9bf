// internal/api/router.go
package api

import (
	"fmt"
	"net/http"
	"os"

	"github.com/gin-gonic/gin"

	"github.com/Corphon/Lumina/internal/config"
	"github.com/Corphon/Lumina/internal/di"
	"github.com/Corphon/Lumina/internal/llm"
	"github.com/Corphon/Lumina/internal/services"
	"github.com/Corphon/Lumina/internal/storage"
	"github.com/Corphon/Lumina/internal/utils"
)

// SetupRouter 从依赖注入容器获取服务并配置HTTP路由
func SetupRouter() (*gin.Engine, error) {
	cfg := config.GetCurrentConfig()
	container := di.GetContainer()

	// 只从容器获取服务，不创建新实例
	sessions, err := di.Resolve[*services.SessionService](container, "sessions")
	if err != nil {
		return nil, fmt.Errorf("会话服务未正确初始化: %w", err)
	}
	generator, err := di.Resolve[llm.Generator](container, "generator")
	if err != nil {
		return nil, fmt.Errorf("生成后端未正确初始化: %w", err)
	}
	history, err := di.Resolve[*services.HistoryService](container, "history")
	if err != nil {
		return nil, fmt.Errorf("历史服务未正确初始化: %w", err)
	}
	assets, err := di.Resolve[*storage.AssetStore](container, "assets")
	if err != nil {
		return nil, fmt.Errorf("资源存储未正确初始化: %w", err)
	}
	wsManager, err := di.Resolve[*WebSocketManager](container, "websocket")
	if err != nil {
		return nil, fmt.Errorf("WebSocket 管理器未正确初始化: %w", err)
	}

	metrics, _ := di.Resolve[*utils.GenerationMetrics](container, "metrics")

	handler := NewHandler(sessions, generator, history, assets, metrics, wsManager)
	handler.Config, _ = di.Resolve[*services.ConfigService](container, "config")
	handler.Limiter, _ = di.Resolve[*RateLimiter](container, "ratelimiter")
	return NewRouter(handler, cfg), nil
}

// NewRouter 注册全部路由
func NewRouter(handler *Handler, cfg *config.AppConfig) *gin.Engine {
	if cfg != nil && !cfg.DebugMode {
		gin.SetMode(gin.ReleaseMode)
	}

	if handler.Limiter == nil {
		handler.Limiter = NewRateLimiter(DefaultLimiterSweep)
	}

	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(MetricsMiddleware(handler.Metrics))
	r.Use(corsMiddleware())

	// 方法不匹配时返回 405
	r.HandleMethodNotAllowed = true
	r.NoMethod(func(c *gin.Context) {
		c.String(http.StatusMethodNotAllowed, "Method Not Allowed")
	})

	// 静态页面（可选）
	if cfg != nil && cfg.StaticDir != "" {
		if info, err := os.Stat(cfg.StaticDir); err == nil && info.IsDir() {
			r.Static("/static", cfg.StaticDir)
		}
	}

	// WebSocket 支持
	r.GET("/ws/sessions/:id", handler.SessionWebSocket)

	// ===============================
	// API路由组
	// ===============================
	api := r.Group("/api")
	api.Use(handler.Limiter.Default())
	{
		// ===============================
		// 生成接口
		// ===============================
		generate := api.Group("", handler.Limiter.Generate(30))
		{
			generate.POST("/generate-script", handler.GenerateScript)
			generate.POST("/generate-image", handler.GenerateImage)
			generate.POST("/generate-speech", handler.GenerateSpeech)
		}

		// ===============================
		// 会话相关路由
		// ===============================
		sessionsGroup := api.Group("/sessions")
		{
			sessionsGroup.POST("", handler.CreateSession)
			sessionsGroup.GET("/:id", handler.GetSession)
			sessionsGroup.DELETE("/:id", handler.DeleteSession)
			sessionsGroup.POST("/:id/generate", handler.GenerateInSession)
			sessionsGroup.POST("/:id/reset", handler.ResetSession)
		}

		// 进度
		api.GET("/progress/:taskID", handler.SubscribeProgress)

		// 资源和最近主题
		api.GET("/assets/:id", handler.GetAsset)
		api.GET("/history", handler.GetHistory)

		// ===============================
		// 设置相关路由
		// ===============================
		if handler.Config != nil {
			settingsGroup := api.Group("/settings")
			{
				settingsGroup.GET("", handler.GetSettings)
				settingsGroup.PUT("/models", handler.UpdateModels)
				settingsGroup.GET("/history", handler.GetSettingsHistory)
			}
		}

		// 运维
		api.GET("/health", handler.Health)
		api.GET("/metrics", handler.GetMetrics)

		// WebSocket 管理路由
		wsGroup := api.Group("/ws")
		{
			wsGroup.GET("/status", handler.GetWebSocketStatus)
			wsGroup.POST("/cleanup", handler.CleanupWebSocketConnections)
		}
	}

	return r
}

// corsMiddleware 实现跨域资源共享
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With, X-Request-ID")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
