// internal/api/error_codes.go
package api

// API错误代码常量
const (
	// 通用错误
	ErrorBadRequest    = "BAD_REQUEST"
	ErrorNotFound      = "NOT_FOUND"
	ErrorInternalError = "INTERNAL_ERROR"
	ErrorConflict      = "CONFLICT"
	ErrorTimeout       = "TIMEOUT"
	ErrorRateLimited   = "RATE_LIMIT_EXCEEDED"

	// 会话相关错误
	ErrorSessionNotFound = "SESSION_NOT_FOUND"
	ErrorTopicMissing    = "TOPIC_MISSING"

	// 资源相关错误
	ErrorAssetNotFound = "ASSET_NOT_FOUND"

	// 生成后端相关错误
	ErrorGenerationFailed      = "GENERATION_FAILED"
	ErrorLLMServiceUnavailable = "LLM_SERVICE_UNAVAILABLE"

	// 历史记录相关错误
	ErrorHistoryUnavailable = "HISTORY_UNAVAILABLE"
)
