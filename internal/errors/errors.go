// internal/errors/errors.go
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorType 定义错误类型
type ErrorType string

const (
	ErrorTypeValidation ErrorType = "validation_error"
	ErrorTypeNotFound   ErrorType = "not_found"
	ErrorTypeError      ErrorType = "processing_error"
	ErrorTypeUpstream   ErrorType = "upstream_error" // 生成后端返回非成功状态或格式错误
	ErrorTypeConflict   ErrorType = "conflict"
	ErrorTypeTimeout    ErrorType = "timeout"
)

// AppError 应用程序错误结构
type AppError struct {
	Type    ErrorType
	Message string
	Err     error
	Code    string // 用户友好的错误代码
}

// Error 实现 error 接口
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap 实现错误链接
func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAppError 创建新的 AppError
func NewAppError(errType ErrorType, message string, originalError error) *AppError {
	return &AppError{
		Type:    errType,
		Message: message,
		Err:     originalError,
		Code:    generateErrorCode(errType),
	}
}

// NewValidationError 创建验证错误
func NewValidationError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeValidation, message, originalError)
}

// NewNotFoundError 创建未找到错误
func NewNotFoundError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeNotFound, message, originalError)
}

// NewProcessingError 创建处理错误
func NewProcessingError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeError, message, originalError)
}

// NewUpstreamError 创建生成后端错误
func NewUpstreamError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeUpstream, message, originalError)
}

// NewConflictError 创建冲突错误
func NewConflictError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeConflict, message, originalError)
}

// NewTimeoutError 创建超时错误
func NewTimeoutError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeTimeout, message, originalError)
}

// TypeOf 返回错误链中第一个 AppError 的类型
func TypeOf(err error) (ErrorType, bool) {
	var appError *AppError
	if errors.As(err, &appError) {
		return appError.Type, true
	}
	return "", false
}

func isType(err error, t ErrorType) bool {
	got, ok := TypeOf(err)
	return ok && got == t
}

// IsValidationError 检查是否为验证错误
func IsValidationError(err error) bool { return isType(err, ErrorTypeValidation) }

// IsNotFoundError 检查是否为未找到错误
func IsNotFoundError(err error) bool { return isType(err, ErrorTypeNotFound) }

// IsUpstreamError 检查是否为生成后端错误
func IsUpstreamError(err error) bool { return isType(err, ErrorTypeUpstream) }

// IsConflictError 检查是否为冲突错误
func IsConflictError(err error) bool { return isType(err, ErrorTypeConflict) }

// HTTPStatus 将错误映射为HTTP状态码
func HTTPStatus(err error) int {
	t, ok := TypeOf(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch t {
	case ErrorTypeValidation:
		return http.StatusBadRequest
	case ErrorTypeNotFound:
		return http.StatusNotFound
	case ErrorTypeConflict:
		return http.StatusConflict
	case ErrorTypeTimeout:
		return http.StatusGatewayTimeout
	case ErrorTypeUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// generateErrorCode 根据错误类型生成错误代码
func generateErrorCode(errType ErrorType) string {
	switch errType {
	case ErrorTypeValidation:
		return "VALIDATION_ERROR"
	case ErrorTypeNotFound:
		return "NOT_FOUND"
	case ErrorTypeError:
		return "PROCESSING_ERROR"
	case ErrorTypeUpstream:
		return "UPSTREAM_ERROR"
	case ErrorTypeConflict:
		return "CONFLICT"
	case ErrorTypeTimeout:
		return "TIMEOUT"
	default:
		return "UNKNOWN_ERROR"
	}
}

// WrapError 包装现有错误
func WrapError(err error, message string, errType ErrorType) error {
	if err == nil {
		return nil
	}

	var appError *AppError
	if errors.As(err, &appError) {
		// 如果已经是 AppError，只更新消息
		return &AppError{
			Type:    appError.Type,
			Message: fmt.Sprintf("%s: %s", message, appError.Message),
			Err:     appError,
			Code:    appError.Code,
		}
	}

	return NewAppError(errType, message, err)
}
