package models

import (
	"encoding/json"
	"time"
)

// Status 报警状态（封闭枚举）
// 持久化的字符串值是稳定的存储词汇，不能改名
type Status string

const (
	StatusTriggered    Status = "triggered"
	StatusAcknowledged Status = "acknowledged"
	StatusResolved     Status = "resolved"
	StatusCancelled    Status = "cancelled"
)

// allowedTransitions 显式状态转换表
// triggered -> {acknowledged, resolved, cancelled}
// acknowledged -> {resolved, cancelled}
// resolved / cancelled 是终态
var allowedTransitions = map[Status]map[Status]bool{
	StatusTriggered: {
		StatusAcknowledged: true,
		StatusResolved:     true,
		StatusCancelled:    true,
	},
	StatusAcknowledged: {
		StatusResolved:  true,
		StatusCancelled: true,
	},
	StatusResolved:  {},
	StatusCancelled: {},
}

// ValidStatus 检查字符串是否是合法状态
func ValidStatus(s Status) bool {
	_, ok := allowedTransitions[s]
	return ok
}

// CanTransition 检查 from -> to 是否是允许的边
// 注意：同状态重复请求不是边，由上层作为幂等 no-op 处理
func CanTransition(from, to Status) bool {
	return allowedTransitions[from][to]
}

// IsTerminal 检查状态是否是终态
func (s Status) IsTerminal() bool {
	return len(allowedTransitions[s]) == 0
}

// Alarm 报警记录
// 只由触发路径创建，只由状态机修改状态，永不删除（审计要求）
type Alarm struct {
	ID        string
	Status    Status
	Source    string
	Event     string
	CreatedAt time.Time

	PersonID *string
	RoomID   *string
	SiteID   *string
	DeviceID *string

	Severity string
	Silent   bool
	PolicyID string

	// 外部工单关联（可空）
	ZammadTicketID *int

	// 能力令牌：嵌入 ack 链接里，不需要额外认证
	AckToken string

	AckedAt     *time.Time
	AckedBy     *string
	ResolvedAt  *time.Time
	ResolvedBy  *string
	CancelledAt *time.Time
	CancelledBy *string

	Meta json.RawMessage
}

// MetaMap 解析 Meta 为 map，空值返回空 map
func (a *Alarm) MetaMap() map[string]interface{} {
	meta := make(map[string]interface{})
	if len(a.Meta) > 0 {
		_ = json.Unmarshal(a.Meta, &meta)
	}
	return meta
}
