package models

// EscalationPolicy 升级策略（有序的步骤序列）
// 策略/步骤/目标是调度器的只读输入，由管理端维护
type EscalationPolicy struct {
	ID   string
	Name string
}

// EscalationStep 升级步骤
// 主键 (policy_id, step_no, target_id)；同一步骤内目标不重复
type EscalationStep struct {
	PolicyID     string
	StepNo       int
	AfterSeconds int
	TargetID     string
}

// EscalationTarget 通知目标
type EscalationTarget struct {
	ID      string
	Label   string
	Channel string // sms|signal|email|webhook
	Address string
	Enabled bool
}
