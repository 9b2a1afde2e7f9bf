// internal/services/session_service.go
package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/Corphon/Lumina/internal/errors"
	"github.com/Corphon/Lumina/internal/llm"
	"github.com/Corphon/Lumina/internal/models"
	"github.com/Corphon/Lumina/internal/utils"
)

// 会话进度消息
const (
	MessageConsulting = "Consulting the AI Architect..."
	scriptPercent     = 10.0
)

// ErrSessionSuperseded 会话已被重置或开始了新的生成
var ErrSessionSuperseded = errors.New("session was reset or restarted")

// SessionPublisher 向订阅同一会话的客户端推送事件
type SessionPublisher interface {
	BroadcastToSession(sessionID string, message map[string]interface{})
}

// SessionService 管理生成-播放会话的状态机：
// IDLE -> GENERATING_SCRIPT -> LOADING_ASSETS -> PLAYING，脚本失败进入 ERROR，Reset 回到 IDLE
type SessionService struct {
	scripts      llm.ScriptGenerator
	orchestrator *Orchestrator
	history      *HistoryService
	progress     *ProgressService
	publisher    SessionPublisher
	metrics      *utils.GenerationMetrics
	logger       *utils.Logger

	sessions map[string]*session
	mutex    sync.RWMutex
}

type session struct {
	mu         sync.Mutex
	id         string
	topic      string
	state      models.AppState
	progress   models.GenerationProgress
	err        string
	run        *AssetRun
	generation uint64 // 每次生成或重置递增，旧的回调据此被忽略
	createdAt  time.Time
	updatedAt  time.Time
}

// NewSessionService 创建会话服务，history 和 publisher 可以为空
func NewSessionService(scripts llm.ScriptGenerator, orchestrator *Orchestrator, history *HistoryService,
	progress *ProgressService, publisher SessionPublisher, metrics *utils.GenerationMetrics) *SessionService {
	if progress == nil {
		progress = NewProgressService()
	}
	if metrics == nil {
		metrics = utils.NewGenerationMetrics()
	}
	return &SessionService{
		scripts:      scripts,
		orchestrator: orchestrator,
		history:      history,
		progress:     progress,
		publisher:    publisher,
		metrics:      metrics,
		logger:       utils.GetLogger().With(map[string]interface{}{"component": "session"}),
		sessions:     make(map[string]*session),
	}
}

// SetPublisher 设置事件推送目标
func (s *SessionService) SetPublisher(publisher SessionPublisher) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.publisher = publisher
}

// Progress 返回进度服务
func (s *SessionService) Progress() *ProgressService {
	return s.progress
}

// CreateSession 创建一个空闲会话
func (s *SessionService) CreateSession() models.SessionView {
	now := time.Now()
	sess := &session{
		id:        uuid.NewString(),
		state:     models.StateIdle,
		createdAt: now,
		updatedAt: now,
	}

	s.mutex.Lock()
	s.sessions[sess.id] = sess
	s.mutex.Unlock()

	tracker := s.progress.CreateTracker(sess.id)
	tracker.SetState(models.StateIdle)

	s.logger.Info("session created", map[string]interface{}{"session_id": sess.id})
	return sess.view()
}

// GetSession 返回会话快照
func (s *SessionService) GetSession(id string) (models.SessionView, error) {
	sess, err := s.lookup(id)
	if err != nil {
		return models.SessionView{}, err
	}
	return sess.view(), nil
}

// DeleteSession 删除会话并丢弃其资源
func (s *SessionService) DeleteSession(id string) error {
	s.mutex.Lock()
	sess, exists := s.sessions[id]
	delete(s.sessions, id)
	s.mutex.Unlock()
	if !exists {
		return apperrors.NewNotFoundError("session not found", nil)
	}

	sess.mu.Lock()
	sess.generation++
	run := sess.run
	sess.run = nil
	sess.mu.Unlock()

	if run != nil {
		run.Discard()
	}
	s.progress.RemoveTracker(id)
	return nil
}

// SessionCount 当前会话数
func (s *SessionService) SessionCount() int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return len(s.sessions)
}

func (s *SessionService) lookup(id string) (*session, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	sess, exists := s.sessions[id]
	if !exists {
		return nil, apperrors.NewNotFoundError("session not found", nil)
	}
	return sess, nil
}

func (s *SessionService) publish(sessionID, eventType string, payload map[string]interface{}) {
	s.mutex.RLock()
	publisher := s.publisher
	s.mutex.RUnlock()
	if publisher == nil {
		return
	}

	message := map[string]interface{}{
		"type":       eventType,
		"session_id": sessionID,
		"timestamp":  time.Now().Format(time.RFC3339),
	}
	for k, v := range payload {
		message[k] = v
	}
	publisher.BroadcastToSession(sessionID, message)
}

// StartGeneration 在后台开始生成，立即返回进入 GENERATING_SCRIPT 后的快照
func (s *SessionService) StartGeneration(ctx context.Context, id, topic string) (models.SessionView, error) {
	sess, err := s.lookup(id)
	if err != nil {
		return models.SessionView{}, err
	}
	token, err := s.begin(sess, topic)
	if err != nil {
		return models.SessionView{}, err
	}
	view := sess.view()

	go func() {
		if _, err := s.run(context.WithoutCancel(ctx), sess, token); err != nil && !errors.Is(err, ErrSessionSuperseded) {
			s.logger.Warn("generation failed", map[string]interface{}{
				"session_id": id,
				"error":      err.Error(),
			})
		}
	}()
	return view, nil
}

// Generate 生成脚本并派发资源请求，阻塞到可以播放或失败。
// 资源请求在 ctx 结束后仍会继续，直到会话被重置
func (s *SessionService) Generate(ctx context.Context, id, topic string) (models.SessionView, error) {
	sess, err := s.lookup(id)
	if err != nil {
		return models.SessionView{}, err
	}
	token, err := s.begin(sess, topic)
	if err != nil {
		return models.SessionView{}, err
	}
	return s.run(ctx, sess, token)
}

// begin 校验主题、丢弃上一次运行并进入 GENERATING_SCRIPT
func (s *SessionService) begin(sess *session, topic string) (uint64, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return 0, apperrors.NewValidationError("topic is required", nil)
	}

	sess.mu.Lock()
	previous := sess.run
	sess.run = nil
	sess.generation++
	token := sess.generation
	sess.topic = topic
	sess.err = ""
	sess.state = models.StateGeneratingScript
	sess.progress = models.GenerationProgress{Message: MessageConsulting, Percent: scriptPercent}
	sess.updatedAt = time.Now()
	sess.mu.Unlock()

	if previous != nil {
		previous.Discard()
	}

	tracker := s.progress.RestartTracker(sess.id)
	tracker.SetState(models.StateGeneratingScript)
	tracker.UpdateProgress(scriptPercent, MessageConsulting)
	s.publish(sess.id, "state", map[string]interface{}{
		"state":    models.StateGeneratingScript,
		"topic":    topic,
		"progress": models.GenerationProgress{Message: MessageConsulting, Percent: scriptPercent},
	})
	return token, nil
}

func (s *SessionService) run(ctx context.Context, sess *session, token uint64) (models.SessionView, error) {
	sess.mu.Lock()
	topic := sess.topic
	sess.mu.Unlock()
	tracker := s.progress.CreateTracker(sess.id)

	if s.history != nil {
		if _, err := s.history.Record(ctx, topic); err != nil {
			s.logger.Warn("could not save history", map[string]interface{}{"error": err.Error()})
		}
	}

	started := time.Now()
	script, err := s.scripts.GenerateScript(ctx, topic)
	if err == nil {
		err = script.Validate()
	}
	s.metrics.RecordScript(err == nil, time.Since(started))
	if err != nil {
		return s.fail(sess, token, tracker, err)
	}

	sess.mu.Lock()
	if sess.generation != token {
		sess.mu.Unlock()
		return sess.view(), ErrSessionSuperseded
	}
	sess.state = models.StateLoadingAssets
	sess.progress = models.GenerationProgress{Message: "Generating visuals and voice-over...", Percent: AssetProgressBase}
	sess.updatedAt = time.Now()
	sess.mu.Unlock()

	tracker.SetState(models.StateLoadingAssets)
	s.publish(sess.id, "state", map[string]interface{}{
		"state": models.StateLoadingAssets,
		"title": script.Title,
	})

	observer := &sessionObserver{service: s, sess: sess, token: token, tracker: tracker}
	run, err := s.orchestrator.Start(context.WithoutCancel(ctx), script, observer)
	if err != nil {
		return s.fail(sess, token, tracker, err)
	}

	sess.mu.Lock()
	if sess.generation != token {
		sess.mu.Unlock()
		run.Discard()
		return sess.view(), ErrSessionSuperseded
	}
	sess.run = run
	sess.mu.Unlock()

	_, err = run.Wait(ctx)
	sess.mu.Lock()
	superseded := sess.generation != token
	sess.mu.Unlock()
	if superseded || errors.Is(err, ErrRunDiscarded) {
		return sess.view(), ErrSessionSuperseded
	}
	if err != nil {
		return sess.view(), err
	}
	return sess.view(), nil
}

// fail 脚本生成失败是致命的，不会派发任何资源请求
func (s *SessionService) fail(sess *session, token uint64, tracker *ProgressTracker, cause error) (models.SessionView, error) {
	message := "Something went wrong generating the content."
	var appErr *apperrors.AppError
	if errors.As(cause, &appErr) && appErr.Message != "" {
		message = appErr.Message
	}

	sess.mu.Lock()
	if sess.generation != token {
		sess.mu.Unlock()
		return sess.view(), ErrSessionSuperseded
	}
	sess.state = models.StateError
	sess.err = message
	sess.updatedAt = time.Now()
	sess.mu.Unlock()

	s.logger.Error("script generation failed", map[string]interface{}{
		"session_id": sess.id,
		"error":      cause.Error(),
	})
	tracker.SetState(models.StateError)
	tracker.Fail(message)
	s.publish(sess.id, "error", map[string]interface{}{
		"state": models.StateError,
		"error": message,
	})
	return sess.view(), cause
}

// Reset 回到 IDLE，丢弃当前脚本及其资源。进行中的请求结果会被忽略
func (s *SessionService) Reset(id string) (models.SessionView, error) {
	sess, err := s.lookup(id)
	if err != nil {
		return models.SessionView{}, err
	}

	sess.mu.Lock()
	run := sess.run
	sess.run = nil
	sess.generation++
	sess.topic = ""
	sess.err = ""
	sess.state = models.StateIdle
	sess.progress = models.GenerationProgress{}
	sess.updatedAt = time.Now()
	sess.mu.Unlock()

	if run != nil {
		run.Discard()
	}

	tracker := s.progress.RestartTracker(id)
	tracker.SetState(models.StateIdle)
	s.publish(id, "state", map[string]interface{}{"state": models.StateIdle})
	return sess.view(), nil
}

func (sess *session) view() models.SessionView {
	sess.mu.Lock()
	defer sess.mu.Unlock()

	view := models.SessionView{
		ID:        sess.id,
		Topic:     sess.topic,
		State:     sess.state,
		Progress:  sess.progress,
		Error:     sess.err,
		CreatedAt: sess.createdAt,
		UpdatedAt: sess.updatedAt,
	}
	if sess.run != nil {
		view.RunID = sess.run.ID
		view.Script = sess.run.Snapshot()
		view.ReadyReason = sess.run.ReadyReason()
		summary := sess.run.Summary()
		view.Summary = &summary
	}
	return view
}

// sessionObserver 把运行事件写回会话，过期的运行事件被忽略
type sessionObserver struct {
	service *SessionService
	sess    *session
	token   uint64
	tracker *ProgressTracker
}

func (o *sessionObserver) current() bool {
	return o.sess.generation == o.token
}

func (o *sessionObserver) OnProgress(progress models.GenerationProgress) {
	o.sess.mu.Lock()
	if !o.current() {
		o.sess.mu.Unlock()
		return
	}
	if progress.Percent >= o.sess.progress.Percent {
		o.sess.progress = progress
	}
	o.sess.updatedAt = time.Now()
	o.sess.mu.Unlock()

	o.tracker.UpdateProgress(progress.Percent, progress.Message)
	o.service.publish(o.sess.id, "progress", map[string]interface{}{"progress": progress})
}

func (o *sessionObserver) OnSceneUpdated(index int, scene models.Scene) {
	o.sess.mu.Lock()
	ok := o.current()
	o.sess.mu.Unlock()
	if !ok {
		return
	}
	o.service.publish(o.sess.id, "scene", map[string]interface{}{
		"index": index,
		"scene": scene,
	})
}

func (o *sessionObserver) OnReady(reason models.ReadyReason) {
	o.sess.mu.Lock()
	if !o.current() || o.sess.state != models.StateLoadingAssets {
		o.sess.mu.Unlock()
		return
	}
	o.sess.state = models.StatePlaying
	o.sess.updatedAt = time.Now()
	o.sess.mu.Unlock()

	o.tracker.SetState(models.StatePlaying)
	o.service.publish(o.sess.id, "ready", map[string]interface{}{
		"state":  models.StatePlaying,
		"reason": reason,
	})
}

func (o *sessionObserver) OnComplete(summary models.RunSummary) {
	o.sess.mu.Lock()
	ok := o.current()
	o.sess.mu.Unlock()
	if !ok {
		return
	}
	o.tracker.Complete("All assets settled")
	o.service.publish(o.sess.id, "complete", map[string]interface{}{"summary": summary})
}
