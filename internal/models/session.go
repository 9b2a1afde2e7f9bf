// internal/models/session.go
package models

import "time"

// SessionView 会话的只读快照
type SessionView struct {
	ID          string             `json:"id"`
	Topic       string             `json:"topic,omitempty"`
	State       AppState           `json:"state"`
	Progress    GenerationProgress `json:"progress"`
	Error       string             `json:"error,omitempty"`
	Script      *ExplainerScript   `json:"script,omitempty"`
	RunID       string             `json:"run_id,omitempty"`
	ReadyReason ReadyReason        `json:"ready_reason,omitempty"`
	Summary     *RunSummary        `json:"summary,omitempty"`
	CreatedAt   time.Time          `json:"created_at"`
	UpdatedAt   time.Time          `json:"updated_at"`
}

// Playable 是否可以开始播放
func (v SessionView) Playable() bool {
	return v.State == StatePlaying && v.Script != nil
}
