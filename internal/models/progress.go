// internal/models/progress.go
package models

// AppState 会话状态
type AppState string

const (
	StateIdle             AppState = "IDLE"
	StateGeneratingScript AppState = "GENERATING_SCRIPT"
	StateLoadingAssets    AppState = "LOADING_ASSETS"
	StatePlaying          AppState = "PLAYING"
	StateError            AppState = "ERROR"
)

// GenerationProgress 某一时刻的生成进度快照
type GenerationProgress struct {
	Message string  `json:"message"`
	Percent float64 `json:"percent"`
}

// ReadyReason 可以开始播放的原因。除这里的两个值外，编排器在所有请求都已结束、
// 而首个场景仍不完整时会提前以 all_settled 就绪，不等到超时
type ReadyReason string

const (
	ReadyFirstScene ReadyReason = "first_scene"
	ReadyDeadline   ReadyReason = "deadline"
)

// RunSummary 一次资源生成的汇总
type RunSummary struct {
	Requested int `json:"requested"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}
