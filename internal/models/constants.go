package models

// 报警优先级
const (
	PriorityCritical = "P0"
	PriorityHigh     = "P1"
	PriorityMedium   = "P2"
	PriorityLow      = "P3"

	DefaultSeverity = PriorityCritical
)

// AllPriorities 所有合法优先级
var AllPriorities = []string{PriorityCritical, PriorityHigh, PriorityMedium, PriorityLow}

// 通知标签
const (
	TagEmergency = "notfall"
	TagSilent    = "silent"
)

// 通知渠道标识
const (
	ChannelZammad  = "zammad"
	ChannelEmail   = "email"
	ChannelSMS     = "sms"
	ChannelSignal  = "signal"
	ChannelWebhook = "webhook"
)

// 通知结果
const (
	ResultOK    = "ok"
	ResultError = "error"
)

// 事件类型（触发来源 / 状态变更发布用）
const (
	EventAlarmTrigger      = "alarm.trigger"
	EventAlarmCreated      = "alarm.created"
	EventAlarmAcknowledged = "alarm.acknowledged"
	EventAlarmResolved     = "alarm.resolved"
	EventAlarmCancelled    = "alarm.cancelled"
	EventAlarmStateChanged = "alarm.state_changed"
)

// 延迟任务名称（队列派发用）
const (
	JobAlarmCreated = "alarm_created"
	JobEscalate     = "escalate"
	JobAlarmAcked   = "alarm_acked"
)

// 默认升级策略
const DefaultPolicyID = "default"
