package notify

import (
	"fmt"
	"strings"
	"time"

	"alarm-broker/internal/models"
)

// Payload 通知载荷（发送到各渠道并写入审计记录）
type Payload struct {
	Title    string   `json:"title"`
	Body     string   `json:"body"`
	Tags     []string `json:"tags"`
	Priority int      `json:"priority"`
	StepNo   int      `json:"step_no"`
	AlarmID  string   `json:"alarm_id"`
}

// FormatAlarmMessage 构建报警通知文本
func FormatAlarmMessage(alarmID, person, room, site string, createdAt time.Time, ackURL string, stepNo int) string {
	location := "Ort: " + room
	if site != "" {
		location += " / " + site
	}

	parts := []string{
		"NOTFALLALARM (silent)",
		"Alarm-ID: " + alarmID,
		"Person: " + person,
		location,
		"Zeit: " + createdAt.Format(time.RFC3339),
		fmt.Sprintf("Stufe: %d", stepNo),
		"Quittieren: " + ackURL,
	}
	return strings.Join(parts, "\n")
}

// buildTitle 根据升级级别构建标题
func buildTitle(person, room string, stepNo int) string {
	if stepNo == 0 {
		return fmt.Sprintf("NOTFALLALARM – %s – %s", person, room)
	}
	return fmt.Sprintf("ESKALATION Stufe %d – %s – %s", stepNo, person, room)
}

// buildTags 根据级别和严重度生成标签
func buildTags(stepNo int, severity string) []string {
	tags := []string{}
	if stepNo == 0 {
		tags = append(tags, models.TagEmergency)
	}
	if severity == models.PriorityCritical {
		tags = append(tags, models.TagSilent)
	}
	return tags
}

// priorityForSeverity 将严重度映射为外部系统优先级
func priorityForSeverity(severity string) int {
	switch severity {
	case models.PriorityCritical:
		return 3
	case models.PriorityHigh, models.PriorityMedium:
		return 2
	case models.PriorityLow:
		return 1
	default:
		return 3
	}
}
