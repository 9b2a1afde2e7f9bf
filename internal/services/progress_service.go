// internal/services/progress_service.go
package services

import (
	"sync"
	"time"

	"github.com/Corphon/Lumina/internal/models"
)

// 跟踪器状态
const (
	ProgressRunning   = "running"
	ProgressCompleted = "completed"
	ProgressFailed    = "failed"
)

// ProgressUpdate 表示进度更新
type ProgressUpdate struct {
	TaskID   string          `json:"task_id"`
	Progress float64         `json:"progress"` // 进度百分比 (0-100)
	Message  string          `json:"message"`  // 描述性消息
	Status   string          `json:"status"`   // 状态：running, completed, failed
	State    models.AppState `json:"state,omitempty"`
}

// ProgressTracker 跟踪一次生成会话的进度，进度值只增不减
type ProgressTracker struct {
	TaskID      string
	Progress    float64
	Message     string
	Status      string
	State       models.AppState
	StartTime   time.Time
	UpdateTime  time.Time
	Subscribers map[chan ProgressUpdate]bool
	Done        chan struct{} // 任务结束信号
	mutex       sync.Mutex
	closed      bool
}

// ProgressService 管理所有进度跟踪器
type ProgressService struct {
	trackers map[string]*ProgressTracker
	mutex    sync.RWMutex
}

// NewProgressService 创建进度服务实例
func NewProgressService() *ProgressService {
	return &ProgressService{
		trackers: make(map[string]*ProgressTracker),
	}
}

// CreateTracker 创建新的进度跟踪器，已存在时返回现有追踪器
func (s *ProgressService) CreateTracker(taskID string) *ProgressTracker {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if tracker, exists := s.trackers[taskID]; exists {
		return tracker
	}

	now := time.Now()
	tracker := &ProgressTracker{
		TaskID:      taskID,
		Message:     "Waiting for a topic...",
		Status:      ProgressRunning,
		State:       models.StateIdle,
		StartTime:   now,
		UpdateTime:  now,
		Subscribers: make(map[chan ProgressUpdate]bool),
		Done:        make(chan struct{}),
	}

	s.trackers[taskID] = tracker
	return tracker
}

// RestartTracker 为同一任务ID开始新一轮跟踪，旧订阅者收到结束信号
func (s *ProgressService) RestartTracker(taskID string) *ProgressTracker {
	s.mutex.Lock()
	old := s.trackers[taskID]
	delete(s.trackers, taskID)
	s.mutex.Unlock()

	if old != nil {
		old.finish(ProgressCompleted, "")
	}
	return s.CreateTracker(taskID)
}

// GetTracker 获取进度跟踪器
func (s *ProgressService) GetTracker(taskID string) (*ProgressTracker, bool) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	tracker, exists := s.trackers[taskID]
	return tracker, exists
}

// RemoveTracker 删除跟踪器
func (s *ProgressService) RemoveTracker(taskID string) {
	s.mutex.Lock()
	tracker := s.trackers[taskID]
	delete(s.trackers, taskID)
	s.mutex.Unlock()

	if tracker != nil {
		tracker.finish(ProgressCompleted, "")
	}
}

// UpdateProgress 更新任务进度，低于当前值的进度被忽略
func (t *ProgressTracker) UpdateProgress(progress float64, message string) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if t.closed {
		return
	}
	if progress > t.Progress {
		t.Progress = min(progress, 100)
	}
	if message != "" {
		t.Message = message
	}
	t.UpdateTime = time.Now()
	t.broadcast()
}

// SetState 记录会话状态
func (t *ProgressTracker) SetState(state models.AppState) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if t.closed {
		return
	}
	t.State = state
	t.UpdateTime = time.Now()
	t.broadcast()
}

// Complete 标记任务完成
func (t *ProgressTracker) Complete(message string) {
	if message == "" {
		message = "Ready"
	}
	t.finish(ProgressCompleted, message)
}

// Fail 标记任务失败
func (t *ProgressTracker) Fail(errorMsg string) {
	t.finish(ProgressFailed, errorMsg)
}

func (t *ProgressTracker) finish(status, message string) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if t.closed {
		return
	}
	if status == ProgressCompleted && message != "" {
		t.Progress = 100
	}
	if message != "" {
		t.Message = message
	}
	t.Status = status
	t.UpdateTime = time.Now()
	t.broadcast()

	t.closed = true
	close(t.Done)
}

// Snapshot 返回当前进度
func (t *ProgressTracker) Snapshot() ProgressUpdate {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return t.current()
}

func (t *ProgressTracker) current() ProgressUpdate {
	return ProgressUpdate{
		TaskID:   t.TaskID,
		Progress: t.Progress,
		Message:  t.Message,
		Status:   t.Status,
		State:    t.State,
	}
}

// 调用方需持有锁；通道已满的订阅者跳过本次更新
func (t *ProgressTracker) broadcast() {
	update := t.current()
	for subscriber := range t.Subscribers {
		select {
		case subscriber <- update:
		default:
		}
	}
}

// Subscribe 订阅进度更新，立即收到当前状态
func (t *ProgressTracker) Subscribe() chan ProgressUpdate {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	subscriber := make(chan ProgressUpdate, 10)
	t.Subscribers[subscriber] = true
	subscriber <- t.current()
	return subscriber
}

// Unsubscribe 取消订阅
func (t *ProgressTracker) Unsubscribe(subscriber chan ProgressUpdate) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if _, ok := t.Subscribers[subscriber]; !ok {
		return
	}
	delete(t.Subscribers, subscriber)
	close(subscriber)
}

// CleanupCompletedTasks 清理已结束且超过 maxAge 的任务
func (s *ProgressService) CleanupCompletedTasks(maxAge time.Duration) int {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	removed := 0
	now := time.Now()
	for id, tracker := range s.trackers {
		tracker.mutex.Lock()
		isOld := tracker.closed && now.Sub(tracker.UpdateTime) > maxAge
		tracker.mutex.Unlock()

		if isOld {
			delete(s.trackers, id)
			removed++
		}
	}
	return removed
}
