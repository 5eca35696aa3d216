package models

import (
	"encoding/json"
	"time"
)

// AlarmNotification 通知发送审计记录
// 每次发送尝试一行，只追加，不更新不删除
type AlarmNotification struct {
	ID        string
	AlarmID   string
	CreatedAt time.Time
	Channel   string
	TargetID  *string
	Payload   json.RawMessage
	Result    string // ok|error
	Error     *string
}
