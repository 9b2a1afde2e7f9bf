// internal/api/handlers.go
package api

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Corphon/Lumina/internal/config"
	"github.com/Corphon/Lumina/internal/llm"
	"github.com/Corphon/Lumina/internal/services"
	"github.com/Corphon/Lumina/internal/storage"
	"github.com/Corphon/Lumina/internal/utils"
)

// Handler 处理API请求
type Handler struct {
	// 核心服务
	Sessions         *services.SessionService  // 会话状态机
	Generator        llm.Generator             // 生成后端
	History          *services.HistoryService  // 最近主题
	ProgressService  *services.ProgressService // 进度跟踪服务
	Assets           *storage.AssetStore       // 资源句柄
	Metrics          *utils.GenerationMetrics  // 指标
	Config           *services.ConfigService   // 运行时配置，可为空
	WebSocketManager *WebSocketManager         // WebSocket 管理器
	WebSocketHandler *WebSocketHandler         // WebSocket 处理器
	Response         *ResponseHelper           // 响应助手
	Limiter          *RateLimiter              // 请求限流，为空时由路由创建
	startedAt        time.Time
}

// NewHandler 创建API处理器
func NewHandler(
	sessions *services.SessionService,
	generator llm.Generator,
	history *services.HistoryService,
	assets *storage.AssetStore,
	metrics *utils.GenerationMetrics,
	wsManager *WebSocketManager,
) *Handler {
	return &Handler{
		Sessions:         sessions,
		Generator:        generator,
		History:          history,
		ProgressService:  sessions.Progress(),
		Assets:           assets,
		Metrics:          metrics,
		WebSocketManager: wsManager,
		WebSocketHandler: NewWebSocketHandler(sessions, wsManager),
		Response:         NewResponseHelper(),
		startedAt:        time.Now(),
	}
}

// internalServerError generate-* 接口统一的失败响应
func internalServerError(c *gin.Context) {
	c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal Server Error"})
}

// readField 读取JSON请求体中的单个字符串字段，空白视为缺失
func readField(c *gin.Context, field string) (string, bool, error) {
	var body map[string]interface{}
	if err := json.NewDecoder(c.Request.Body).Decode(&body); err != nil {
		return "", false, err
	}
	value, _ := body[field].(string)
	if strings.TrimSpace(value) == "" {
		return "", false, nil
	}
	return value, true, nil
}

// ===============================
// 生成接口
// ===============================

// GenerateScript POST /api/generate-script {topic}
func (h *Handler) GenerateScript(c *gin.Context) {
	topic, ok, err := readField(c, "topic")
	if err != nil {
		log.Printf("❌ 解析脚本请求失败: %v", err)
		internalServerError(c)
		return
	}
	if !ok {
		c.String(http.StatusBadRequest, "Missing topic")
		return
	}

	start := time.Now()
	script, err := h.Generator.GenerateScript(c.Request.Context(), topic)
	if err == nil {
		err = script.Validate()
	}
	if h.Metrics != nil {
		h.Metrics.RecordScript(err == nil, time.Since(start))
	}
	if err != nil {
		log.Printf("❌ 脚本生成失败 (%s): %v", topic, err)
		internalServerError(c)
		return
	}

	c.JSON(http.StatusOK, script)
}

// GenerateImage POST /api/generate-image {prompt}
func (h *Handler) GenerateImage(c *gin.Context) {
	prompt, ok, err := readField(c, "prompt")
	if err != nil {
		log.Printf("❌ 解析图像请求失败: %v", err)
		internalServerError(c)
		return
	}
	if !ok {
		c.String(http.StatusBadRequest, "Missing prompt")
		return
	}

	start := time.Now()
	image, err := h.Generator.GenerateImage(c.Request.Context(), prompt)
	if h.Metrics != nil {
		h.Metrics.RecordAsset("image", err == nil, time.Since(start))
	}
	if err != nil {
		log.Printf("❌ 图像生成失败: %v", err)
		internalServerError(c)
		return
	}

	c.JSON(http.StatusOK, gin.H{"image": image})
}

// GenerateSpeech POST /api/generate-speech {text}
func (h *Handler) GenerateSpeech(c *gin.Context) {
	text, ok, err := readField(c, "text")
	if err != nil {
		log.Printf("❌ 解析语音请求失败: %v", err)
		internalServerError(c)
		return
	}
	if !ok {
		c.String(http.StatusBadRequest, "Missing text")
		return
	}

	start := time.Now()
	audio, err := h.Generator.GenerateSpeech(c.Request.Context(), text)
	if h.Metrics != nil {
		h.Metrics.RecordAsset("speech", err == nil, time.Since(start))
	}
	if err != nil {
		log.Printf("❌ 语音生成失败: %v", err)
		internalServerError(c)
		return
	}

	c.JSON(http.StatusOK, gin.H{"audio": audio})
}

// ===============================
// 会话接口
// ===============================

// CreateSession POST /api/sessions
func (h *Handler) CreateSession(c *gin.Context) {
	h.Response.Created(c, h.Sessions.CreateSession())
}

// GetSession GET /api/sessions/:id
func (h *Handler) GetSession(c *gin.Context) {
	view, err := h.Sessions.GetSession(c.Param("id"))
	if err != nil {
		h.Response.FromError(c, err)
		return
	}
	h.Response.Success(c, view)
}

// GenerateInSession POST /api/sessions/:id/generate {topic}
// 立即返回 202，后续状态通过 SSE 或 WebSocket 推送
func (h *Handler) GenerateInSession(c *gin.Context) {
	var req struct {
		Topic string `json:"topic"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "invalid request body", err.Error())
		return
	}

	view, err := h.Sessions.StartGeneration(c.Request.Context(), c.Param("id"), req.Topic)
	if err != nil {
		h.Response.FromError(c, err)
		return
	}
	h.Response.Accepted(c, gin.H{
		"session":      view,
		"progress_url": fmt.Sprintf("/api/progress/%s", view.ID),
		"ws_url":       fmt.Sprintf("/ws/sessions/%s", view.ID),
	}, "generation started")
}

// ResetSession POST /api/sessions/:id/reset
func (h *Handler) ResetSession(c *gin.Context) {
	view, err := h.Sessions.Reset(c.Param("id"))
	if err != nil {
		h.Response.FromError(c, err)
		return
	}
	h.Response.Success(c, view)
}

// DeleteSession DELETE /api/sessions/:id
func (h *Handler) DeleteSession(c *gin.Context) {
	if err := h.Sessions.DeleteSession(c.Param("id")); err != nil {
		h.Response.FromError(c, err)
		return
	}
	h.Response.Success(c, gin.H{"deleted": c.Param("id")})
}

// SubscribeProgress 订阅任务进度的SSE端点
func (h *Handler) SubscribeProgress(c *gin.Context) {
	taskID := c.Param("taskID")

	tracker, exists := h.ProgressService.GetTracker(taskID)
	if !exists {
		h.Response.NotFound(c, "task")
		return
	}

	// 设置SSE响应头
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	clientGone := c.Request.Context().Done()

	updateChan := tracker.Subscribe()
	defer tracker.Unsubscribe(updateChan)

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	// 初始事件带上当前快照，晚到的订阅者也能看到最新进度
	snapshot, _ := json.Marshal(tracker.Snapshot())
	fmt.Fprintf(c.Writer, "event: connected\ndata: %s\n\n", snapshot)
	c.Writer.Flush()

	if status := tracker.Snapshot().Status; status == services.ProgressCompleted || status == services.ProgressFailed {
		return
	}

	for {
		select {
		case <-clientGone:
			return
		case update, ok := <-updateChan:
			if !ok {
				return
			}
			data, _ := json.Marshal(update)
			fmt.Fprintf(c.Writer, "event: progress\ndata: %s\n\n", string(data))
			c.Writer.Flush()

			if update.Status == services.ProgressCompleted || update.Status == services.ProgressFailed {
				return
			}
		case <-ticker.C:
			fmt.Fprintf(c.Writer, "event: heartbeat\ndata: {\"time\":%d}\n\n", time.Now().Unix())
			c.Writer.Flush()
		}
	}
}

// ===============================
// 资源与历史
// ===============================

// GetAsset GET /api/assets/:id
func (h *Handler) GetAsset(c *gin.Context) {
	entry, ok := h.Assets.Get(c.Param("id"))
	if !ok {
		h.Response.NotFound(c, "asset")
		return
	}
	c.Header("Cache-Control", "private, max-age=3600")
	c.Data(http.StatusOK, entry.MediaType, entry.Data)
}

// GetHistory GET /api/history
func (h *Handler) GetHistory(c *gin.Context) {
	topics, err := h.History.List(c.Request.Context())
	if err != nil {
		h.Response.Error(c, http.StatusServiceUnavailable, ErrorHistoryUnavailable, "recent topics unavailable")
		return
	}
	c.JSON(http.StatusOK, gin.H{"topics": topics})
}

// ===============================
// 设置
// ===============================

// GetSettings GET /api/settings
func (h *Handler) GetSettings(c *gin.Context) {
	h.Response.Success(c, h.Config.Settings())
}

// UpdateModels PUT /api/settings/models
func (h *Handler) UpdateModels(c *gin.Context) {
	var models config.ModelConfig
	if err := c.ShouldBindJSON(&models); err != nil {
		h.Response.BadRequest(c, "invalid request body", err.Error())
		return
	}

	settings, err := h.Config.UpdateModels(models, c.ClientIP())
	if err != nil {
		h.Response.FromError(c, err)
		return
	}
	h.Response.Success(c, settings, "settings updated")
}

// GetSettingsHistory GET /api/settings/history
func (h *Handler) GetSettingsHistory(c *gin.Context) {
	h.Response.Success(c, h.Config.GetChangeHistory(20))
}

// ===============================
// 运维
// ===============================

// Health GET /api/health
func (h *Handler) Health(c *gin.Context) {
	h.Response.Success(c, gin.H{
		"status":    "ok",
		"uptime":    time.Since(h.startedAt).Round(time.Second).String(),
		"sessions":  h.Sessions.SessionCount(),
		"assets":    h.Assets.Len(),
		"providers": llm.ListProviders(),
	})
}

// GetMetrics GET /api/metrics
func (h *Handler) GetMetrics(c *gin.Context) {
	if h.Metrics == nil {
		h.Response.Success(c, gin.H{})
		return
	}
	h.Response.Success(c, h.Metrics.Collector().GetMetrics())
}

// GetWebSocketStatus GET /api/ws/status
func (h *Handler) GetWebSocketStatus(c *gin.Context) {
	h.Response.Success(c, h.WebSocketManager.GetStatus())
}

// CleanupWebSocketConnections POST /api/ws/cleanup
func (h *Handler) CleanupWebSocketConnections(c *gin.Context) {
	removed := h.WebSocketManager.cleanupExpiredConnections()
	h.Response.Success(c, gin.H{"removed": removed})
}

// SessionWebSocket GET /ws/sessions/:id
func (h *Handler) SessionWebSocket(c *gin.Context) {
	h.WebSocketHandler.SessionWebSocket(c)
}
