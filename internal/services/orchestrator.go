// internal/services/orchestrator.go
package services

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/Corphon/Lumina/internal/audio"
	apperrors "github.com/Corphon/Lumina/internal/errors"
	"github.com/Corphon/Lumina/internal/llm"
	"github.com/Corphon/Lumina/internal/models"
	"github.com/Corphon/Lumina/internal/storage"
	"github.com/Corphon/Lumina/internal/utils"
)

// 进度条前 20% 留给脚本生成，其余 80% 对应资源完成度
const (
	AssetProgressBase  = 20.0
	AssetProgressRange = 80.0
)

// 默认的就绪判定参数
const (
	DefaultReadyDeadline = 15 * time.Second
	DefaultPollInterval  = 500 * time.Millisecond
)

// ErrRunDiscarded 运行在就绪前被丢弃
var ErrRunDiscarded = errors.New("asset run was discarded")

// ReadyAllSettled 所有请求都已结束但首个场景仍不完整时的就绪原因
const ReadyAllSettled models.ReadyReason = "all_settled"

// OrchestratorConfig 编排器配置
type OrchestratorConfig struct {
	ReadyDeadline time.Duration // 从派发开始计算的就绪上限
	PollInterval  time.Duration // 首个场景完整性的轮询间隔
}

// RunObserver 接收一次资源生成过程中的事件，所有回调都在同一个 goroutine 中按顺序调用
type RunObserver interface {
	OnProgress(progress models.GenerationProgress)
	OnSceneUpdated(index int, scene models.Scene)
	OnReady(reason models.ReadyReason)
	OnComplete(summary models.RunSummary)
}

type noopObserver struct{}

func (noopObserver) OnProgress(models.GenerationProgress) {}
func (noopObserver) OnSceneUpdated(int, models.Scene)     {}
func (noopObserver) OnReady(models.ReadyReason)           {}
func (noopObserver) OnComplete(models.RunSummary)         {}

// Orchestrator 为脚本的每个场景并发请求图像和旁白
type Orchestrator struct {
	images  llm.ImageGenerator
	speech  llm.SpeechGenerator
	assets  *storage.AssetStore
	config  OrchestratorConfig
	metrics *utils.GenerationMetrics
	logger  *utils.Logger
}

// NewOrchestrator 创建编排器
func NewOrchestrator(images llm.ImageGenerator, speech llm.SpeechGenerator, assets *storage.AssetStore,
	config OrchestratorConfig, metrics *utils.GenerationMetrics) *Orchestrator {
	if config.ReadyDeadline <= 0 {
		config.ReadyDeadline = DefaultReadyDeadline
	}
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultPollInterval
	}
	if assets == nil {
		assets = storage.NewAssetStore(0, "")
	}
	if metrics == nil {
		metrics = utils.NewGenerationMetrics()
	}

	return &Orchestrator{
		images:  images,
		speech:  speech,
		assets:  assets,
		config:  config,
		metrics: metrics,
		logger:  utils.GetLogger().With(map[string]interface{}{"component": "orchestrator"}),
	}
}

// Assets 返回资源存储
func (o *Orchestrator) Assets() *storage.AssetStore {
	return o.assets
}

// assetResult 单个请求的结算结果
type assetResult struct {
	index    int
	kind     models.AssetKind
	url      string
	err      error
	duration time.Duration
}

// AssetRun 一次资源生成。脚本和计数器只由 loop goroutine 写入
type AssetRun struct {
	ID string

	orchestrator *Orchestrator
	observer     RunObserver
	results      chan assetResult
	startedAt    time.Time
	total        int
	dispatched   atomic.Int64

	mu          sync.RWMutex
	script      *models.ExplainerScript
	progress    models.GenerationProgress
	summary     models.RunSummary
	readyReason models.ReadyReason
	discarded   bool

	ready     chan struct{}
	done      chan struct{}
	discardCh chan struct{}
}

// Start 派发全部 2N 个请求并返回运行句柄。脚本会被复制，调用方持有的脚本不会被修改
func (o *Orchestrator) Start(ctx context.Context, script *models.ExplainerScript, observer RunObserver) (*AssetRun, error) {
	if err := script.Validate(); err != nil {
		return nil, apperrors.NewValidationError("invalid script", err)
	}
	if observer == nil {
		observer = noopObserver{}
	}

	owned := script.StripAssets()
	total := 2 * len(owned.Scenes)

	run := &AssetRun{
		ID:           uuid.NewString(),
		orchestrator: o,
		observer:     observer,
		results:      make(chan assetResult, total),
		startedAt:    time.Now(),
		total:        total,
		script:       owned,
		progress: models.GenerationProgress{
			Message: "Generating visuals and voice-over...",
			Percent: AssetProgressBase,
		},
		summary: models.RunSummary{Requested: total},
		ready:     make(chan struct{}),
		done:      make(chan struct{}),
		discardCh: make(chan struct{}),
	}

	o.logger.Info("dispatching asset requests", map[string]interface{}{
		"run_id":   run.ID,
		"title":    owned.Title,
		"scenes":   len(owned.Scenes),
		"requests": total,
	})

	observer.OnProgress(run.progress)

	for i, scene := range owned.Scenes {
		go run.request(ctx, i, models.AssetImage, scene.ImagePrompt)
		go run.request(ctx, i, models.AssetAudio, scene.VoiceoverText)
	}

	go run.loop()
	return run, nil
}

// request 执行单个请求并把结果交给 loop，结果通道有足够缓冲，从不阻塞
func (r *AssetRun) request(ctx context.Context, index int, kind models.AssetKind, input string) {
	r.dispatched.Add(1)
	started := time.Now()

	var url string
	var err error
	switch kind {
	case models.AssetImage:
		url, err = r.orchestrator.generateImage(ctx, r.ID, input)
	case models.AssetAudio:
		url, err = r.orchestrator.generateSpeech(ctx, r.ID, input)
	}

	r.results <- assetResult{index: index, kind: kind, url: url, err: err, duration: time.Since(started)}
}

// generateImage 内联图像数据转存为 owner 占用的句柄
func (o *Orchestrator) generateImage(ctx context.Context, owner, prompt string) (string, error) {
	ref, err := o.images.GenerateImage(ctx, prompt)
	if err != nil {
		return "", err
	}
	if ref == "" {
		return "", llm.ErrEmptyResponse
	}

	mediaType, data, ok := parseDataURI(ref)
	if !ok {
		// 已经是可访问的地址
		return ref, nil
	}
	handle, err := o.assets.PutOwned(owner, data, mediaType)
	if err != nil {
		return "", err
	}
	return handle.URL, nil
}

func (o *Orchestrator) generateSpeech(ctx context.Context, owner, text string) (string, error) {
	pcm, err := o.speech.GenerateSpeech(ctx, text)
	if err != nil {
		return "", err
	}
	wav, err := audio.WAVFromBase64(pcm)
	if err != nil {
		return "", fmt.Errorf("encode voice-over: %w", err)
	}
	handle, err := o.assets.PutOwned(owner, wav, audio.MediaType)
	if err != nil {
		return "", err
	}
	return handle.URL, nil
}

// parseDataURI 解析 data:<mime>;base64,<payload>
func parseDataURI(ref string) (string, []byte, bool) {
	rest, ok := strings.CutPrefix(ref, "data:")
	if !ok {
		return "", nil, false
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok || !strings.HasSuffix(meta, ";base64") {
		return "", nil, false
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil || len(data) == 0 {
		return "", nil, false
	}
	mediaType := strings.TrimSuffix(meta, ";base64")
	if mediaType == "" {
		mediaType = "application/octet-stream"
	}
	return mediaType, data, true
}

// loop 是脚本、计数器和就绪信号的唯一写入者
func (r *AssetRun) loop() {
	cfg := r.orchestrator.config
	deadline := time.NewTimer(cfg.ReadyDeadline)
	poll := time.NewTicker(cfg.PollInterval)
	deadlineC, pollC := deadline.C, poll.C

	// 就绪后另一方立即停止，不会再触发
	stopReadyTimers := func() {
		deadline.Stop()
		poll.Stop()
		deadlineC, pollC = nil, nil
	}
	defer stopReadyTimers()

	settled := 0
	for settled < r.total {
		select {
		case res := <-r.results:
			settled++
			r.settle(res, settled)
			if r.firstSceneComplete() && r.markReady(models.ReadyFirstScene) {
				stopReadyTimers()
			}
		case <-pollC:
			if r.firstSceneComplete() && r.markReady(models.ReadyFirstScene) {
				stopReadyTimers()
			}
		case <-deadlineC:
			r.markReady(models.ReadyDeadline)
			stopReadyTimers()
		}
	}

	// 所有请求都已结束，继续等待没有意义
	if deadlineC != nil {
		stopReadyTimers()
		r.markReady(ReadyAllSettled)
	}

	r.mu.RLock()
	summary := r.summary
	discarded := r.discarded
	r.mu.RUnlock()

	r.orchestrator.logger.Info("asset run settled", map[string]interface{}{
		"run_id":    r.ID,
		"requested": summary.Requested,
		"succeeded": summary.Succeeded,
		"failed":    summary.Failed,
		"discarded": discarded,
	})

	if !discarded {
		r.observer.OnComplete(summary)
	}
	close(r.done)
}

// settle 记录一个请求的结果。失败同样计入完成数
func (r *AssetRun) settle(res assetResult, settled int) {
	o := r.orchestrator
	sceneNo := res.index + 1
	o.metrics.RecordAsset(string(res.kind), res.err == nil, res.duration)

	r.mu.Lock()
	if r.discarded {
		r.mu.Unlock()
		if res.err == nil {
			o.assets.ReleaseURL(res.url)
		}
		return
	}

	var message string
	var scene models.Scene
	attached := false
	if res.err == nil {
		if err := r.script.Scenes[res.index].AttachAsset(res.kind, res.url); err != nil {
			res.err = err
			o.assets.ReleaseURL(res.url)
		} else {
			attached = true
			scene = r.script.Scenes[res.index]
		}
	}

	if attached {
		r.summary.Succeeded++
		if res.kind == models.AssetImage {
			message = fmt.Sprintf("Visualizing Scene %d...", sceneNo)
		} else {
			message = fmt.Sprintf("Voicing Scene %d...", sceneNo)
		}
	} else {
		r.summary.Failed++
		if res.kind == models.AssetImage {
			message = fmt.Sprintf("Scene %d image unavailable", sceneNo)
		} else {
			message = fmt.Sprintf("Scene %d voice-over unavailable", sceneNo)
		}
	}

	r.progress = models.GenerationProgress{
		Message: message,
		Percent: AssetProgressBase + float64(settled)/float64(r.total)*AssetProgressRange,
	}
	progress := r.progress
	r.mu.Unlock()

	if !attached {
		o.logger.Warn("asset request failed", map[string]interface{}{
			"run_id": r.ID,
			"scene":  sceneNo,
			"kind":   string(res.kind),
			"error":  res.err.Error(),
		})
	} else {
		r.observer.OnSceneUpdated(res.index, scene)
	}
	r.observer.OnProgress(progress)
}

func (r *AssetRun) firstSceneComplete() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.script.Scenes[0].HasAllAssets()
}

// markReady 关闭就绪通道，只有第一次调用生效
func (r *AssetRun) markReady(reason models.ReadyReason) bool {
	r.mu.Lock()
	if r.readyReason != "" {
		r.mu.Unlock()
		return false
	}
	r.readyReason = reason
	discarded := r.discarded
	r.mu.Unlock()
	// 观察者先于等待方看到就绪
	defer close(r.ready)

	if discarded {
		return true
	}

	latency := time.Since(r.startedAt)
	r.orchestrator.metrics.RecordReady(string(reason), latency)
	r.orchestrator.logger.Info("run ready to play", map[string]interface{}{
		"run_id":     r.ID,
		"reason":     string(reason),
		"latency_ms": latency.Milliseconds(),
	})
	r.observer.OnReady(reason)
	return true
}

// Ready 可以开始播放时关闭，每次运行只关闭一次
func (r *AssetRun) Ready() <-chan struct{} {
	return r.ready
}

// Done 所有请求结束后关闭
func (r *AssetRun) Done() <-chan struct{} {
	return r.done
}

// ReadyReason 就绪原因，未就绪时为空
func (r *AssetRun) ReadyReason() models.ReadyReason {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.readyReason
}

// Progress 最近一次的进度
func (r *AssetRun) Progress() models.GenerationProgress {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.progress
}

// Summary 当前的请求汇总
func (r *AssetRun) Summary() models.RunSummary {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.summary
}

// Dispatched 已经发出的请求数
func (r *AssetRun) Dispatched() int {
	return int(r.dispatched.Load())
}

// Snapshot 返回脚本的只读副本
func (r *AssetRun) Snapshot() *models.ExplainerScript {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.script.Clone()
}

// Discard 丢弃本次运行：释放已挂载的资源，之后到达的结果被忽略并释放。进行中的请求不会被取消
func (r *AssetRun) Discard() {
	r.mu.Lock()
	if r.discarded {
		r.mu.Unlock()
		return
	}
	r.discarded = true
	close(r.discardCh)
	r.mu.Unlock()

	released := r.orchestrator.assets.ReleaseOwner(r.ID)
	r.orchestrator.logger.Debug("asset run discarded", map[string]interface{}{
		"run_id":   r.ID,
		"released": released,
	})
}

// Discarded 是否已丢弃
func (r *AssetRun) Discarded() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.discarded
}

// Wait 等待就绪、丢弃或 ctx 结束。丢弃时返回 ErrRunDiscarded
func (r *AssetRun) Wait(ctx context.Context) (models.ReadyReason, error) {
	select {
	case <-r.discardCh:
		return "", ErrRunDiscarded
	case <-r.ready:
		if r.Discarded() {
			return "", ErrRunDiscarded
		}
		return r.ReadyReason(), nil
	case <-ctx.Done():
		return "", errors.Join(apperrors.NewTimeoutError("waiting for playback readiness", nil), ctx.Err())
	}
}
