// internal/api/response_helpers.go
package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	apperrors "github.com/Corphon/Lumina/internal/errors"
)

// APIResponse 标准API响应格式
type APIResponse struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Error     *APIError   `json:"error,omitempty"`
	Message   string      `json:"message,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	RequestID string      `json:"request_id,omitempty"`
}

// APIError 标准错误格式
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// ResponseHelper 响应助手类
type ResponseHelper struct{}

// NewResponseHelper 创建响应助手
func NewResponseHelper() *ResponseHelper {
	return &ResponseHelper{}
}

func (rh *ResponseHelper) write(c *gin.Context, status int, data interface{}, message []string) {
	response := &APIResponse{
		Success:   true,
		Data:      data,
		Timestamp: time.Now(),
		RequestID: rh.getRequestID(c),
	}
	if len(message) > 0 {
		response.Message = message[0]
	}
	c.JSON(status, response)
}

// Success 成功响应
func (rh *ResponseHelper) Success(c *gin.Context, data interface{}, message ...string) {
	rh.write(c, http.StatusOK, data, message)
}

// Created 创建成功响应
func (rh *ResponseHelper) Created(c *gin.Context, data interface{}, message ...string) {
	if len(message) == 0 {
		message = []string{"created"}
	}
	rh.write(c, http.StatusCreated, data, message)
}

// Accepted 已接受，后台处理中
func (rh *ResponseHelper) Accepted(c *gin.Context, data interface{}, message ...string) {
	rh.write(c, http.StatusAccepted, data, message)
}

// sanitizeErrorMessage 包含密钥类信息的错误消息整体替换
func sanitizeErrorMessage(message string) string {
	lower := strings.ToLower(message)
	for _, pattern := range []string{"api_key", "apikey", "key=", "secret", "token", "password"} {
		if strings.Contains(lower, pattern) {
			return "An internal error occurred"
		}
	}
	return message
}

// Error 错误响应
func (rh *ResponseHelper) Error(c *gin.Context, statusCode int, errorCode, message string, details ...string) {
	apiError := &APIError{
		Code:    errorCode,
		Message: sanitizeErrorMessage(message),
	}
	if len(details) > 0 {
		apiError.Details = sanitizeErrorMessage(details[0])
	}

	c.JSON(statusCode, &APIResponse{
		Success:   false,
		Error:     apiError,
		Timestamp: time.Now(),
		RequestID: rh.getRequestID(c),
	})
}

// BadRequest 400错误响应
func (rh *ResponseHelper) BadRequest(c *gin.Context, message string, details ...string) {
	rh.Error(c, http.StatusBadRequest, ErrorBadRequest, message, details...)
}

// NotFound 404错误响应
func (rh *ResponseHelper) NotFound(c *gin.Context, resource string, details ...string) {
	rh.Error(c, http.StatusNotFound, rh.getResourceNotFoundCode(resource), resource+" not found", details...)
}

// InternalError 500错误响应
func (rh *ResponseHelper) InternalError(c *gin.Context, message string, details ...string) {
	rh.Error(c, http.StatusInternalServerError, ErrorInternalError, message, details...)
}

// FromError 按应用错误类型选择状态码和错误代码
func (rh *ResponseHelper) FromError(c *gin.Context, err error) {
	status := apperrors.HTTPStatus(err)
	message := err.Error()
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		message = appErr.Message
	}

	code := ErrorInternalError
	switch status {
	case http.StatusBadRequest:
		code = ErrorBadRequest
	case http.StatusNotFound:
		code = ErrorNotFound
	case http.StatusConflict:
		code = ErrorConflict
	case http.StatusGatewayTimeout:
		code = ErrorTimeout
	case http.StatusBadGateway:
		code = ErrorGenerationFailed
	}
	rh.Error(c, status, code, message)
}

// getRequestID 获取请求ID
func (rh *ResponseHelper) getRequestID(c *gin.Context) string {
	return c.GetString(requestIDKey)
}

// getResourceNotFoundCode 根据资源类型生成错误代码
func (rh *ResponseHelper) getResourceNotFoundCode(resource string) string {
	switch resource {
	case "session":
		return ErrorSessionNotFound
	case "asset":
		return ErrorAssetNotFound
	default:
		return ErrorNotFound
	}
}
