package errs

import (
	"errors"
	"fmt"
	"net/http"
)

// 核心错误类别。所有服务层错误都应当包裹其中之一，
// Handler 层通过 errors.Is 映射为 HTTP 状态码。
var (
	// ErrInvalidTransition 当前状态不允许该操作
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrUnauthorized 操作者缺少所需权限或任务分配
	ErrUnauthorized = errors.New("unauthorized")
	// ErrNotFound 任务或日志记录不存在
	ErrNotFound = errors.New("not found")
	// ErrNotRestorable 日志记录不可用于还原
	ErrNotRestorable = errors.New("not restorable")
	// ErrConflict 乐观并发校验失败，调用方应重新读取后重试
	ErrConflict = errors.New("conflict")
)

// InvalidTransition 构造带上下文的状态机错误。
func InvalidTransition(action, status string) error {
	return fmt.Errorf("%w: 状态 %s 不允许操作 %s", ErrInvalidTransition, status, action)
}

// Unauthorized 构造权限错误。
func Unauthorized(action string) error {
	return fmt.Errorf("%w: 无权执行 %s", ErrUnauthorized, action)
}

// NotFound 构造未找到错误。
func NotFound(entity, id string) error {
	return fmt.Errorf("%w: %s %s 不存在", ErrNotFound, entity, id)
}

// NotRestorable 构造不可还原错误。
func NotRestorable(reason string) error {
	return fmt.Errorf("%w: %s", ErrNotRestorable, reason)
}

// Conflict 构造并发冲突错误。
func Conflict(entity, id string) error {
	return fmt.Errorf("%w: %s %s 已被并发修改", ErrConflict, entity, id)
}

// HTTPStatus 将核心错误映射为 HTTP 状态码，未识别的错误返回 500。
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrNotRestorable):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
