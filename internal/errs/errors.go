package errs

import "errors"

// 报警服务的稳定错误分类
// 调用方通过 errors.Is 判断错误类别，错误文本可能变化但哨兵不变
var (
	// ErrTokenRequired 触发请求缺少设备 token
	ErrTokenRequired = errors.New("token is required")

	// ErrUnknownToken 设备 token 未注册
	ErrUnknownToken = errors.New("unknown token")

	// ErrIncompleteMapping 设备缺少完整的 person/room 映射
	ErrIncompleteMapping = errors.New("device mapping incomplete")

	// ErrRateLimitExceeded 设备触发频率超过限制
	ErrRateLimitExceeded = errors.New("rate limit exceeded")

	// ErrInvalidSeverity 请求携带的严重度不在枚举内
	ErrInvalidSeverity = errors.New("invalid severity")

	// ErrInvalidTransition 请求的状态转换不在允许的边上
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrNotFound 资源不存在
	ErrNotFound = errors.New("not found")

	// ErrActorTooLong / ErrNoteTooLong 自由文本字段超长（防止存储滥用）
	ErrActorTooLong = errors.New("actor too long")
	ErrNoteTooLong  = errors.New("note too long")
)
