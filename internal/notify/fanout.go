package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"alarm-broker/internal/models"
	"alarm-broker/internal/resolver"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// TicketClient 工单系统客户端（Zammad）
type TicketClient interface {
	Enabled() bool
	CreateTicket(ctx context.Context, payload map[string]interface{}) (int, error)
	AddInternalNote(ctx context.Context, ticketID int, subject, body string) error
}

// SMSClient 短信客户端
type SMSClient interface {
	Enabled() bool
	SendSMS(ctx context.Context, to, message string) error
}

// GroupMessageClient 群消息客户端（Signal）
type GroupMessageClient interface {
	Enabled() bool
	SendGroupMessage(ctx context.Context, message, groupID string) error
}

// WebhookPoster Webhook 投递客户端
type WebhookPoster interface {
	Post(ctx context.Context, url string, payload interface{}) error
}

// AuditLog 通知审计写入接口
type AuditLog interface {
	Insert(ctx context.Context, n *models.AlarmNotification) error
}

// TargetSource 升级目标查询接口
type TargetSource interface {
	StepTargets(ctx context.Context, policyID string, stepNo int) ([]models.EscalationTarget, error)
}

// TicketDefaults 建工单时的固定字段
type TicketDefaults struct {
	Group        string
	Customer     string
	PriorityIDP0 int
	StateIDNew   int
}

// Fanout 通知分发器
// 每次发送尝试写一条审计记录；单渠道失败不影响其他渠道
type Fanout struct {
	zammad  TicketClient
	sms     SMSClient
	signal  GroupMessageClient
	webhook WebhookPoster
	targets TargetSource
	audit   AuditLog
	ticket  TicketDefaults
	logger  *zap.Logger
}

// NewFanout 创建通知分发器
func NewFanout(
	zammad TicketClient,
	sms SMSClient,
	signal GroupMessageClient,
	webhook WebhookPoster,
	targets TargetSource,
	audit AuditLog,
	ticket TicketDefaults,
	logger *zap.Logger,
) *Fanout {
	return &Fanout{
		zammad:  zammad,
		sms:     sms,
		signal:  signal,
		webhook: webhook,
		targets: targets,
		audit:   audit,
		ticket:  ticket,
		logger:  logger,
	}
}

// BuildPayload 构建某一升级级别的通知载荷
func (f *Fanout) BuildPayload(alarm *models.Alarm, ec *resolver.AlarmContext, stepNo int, ackURL string) *Payload {
	site := ""
	if ec.SiteName != nil {
		site = *ec.SiteName
	}

	body := FormatAlarmMessage(alarm.ID, ec.PersonName, ec.RoomLabel, site, alarm.CreatedAt, ackURL, stepNo)

	severity := alarm.Severity
	if severity == "" {
		severity = models.DefaultSeverity
	}

	return &Payload{
		Title:    buildTitle(ec.PersonName, ec.RoomLabel, stepNo),
		Body:     body,
		Tags:     buildTags(stepNo, severity),
		Priority: priorityForSeverity(severity),
		StepNo:   stepNo,
		AlarmID:  alarm.ID,
	}
}

// SendStep 向某一升级级别的全部启用目标分发通知
// 目标之间并发发送，各自写审计记录；这里只在查目标失败时返回错误
func (f *Fanout) SendStep(ctx context.Context, alarm *models.Alarm, ec *resolver.AlarmContext, stepNo int, ackURL string) error {
	payload := f.BuildPayload(alarm, ec, stepNo, ackURL)

	targets, err := f.targets.StepTargets(ctx, alarm.PolicyID, stepNo)
	if err != nil {
		return fmt.Errorf("failed to load escalation targets: %w", err)
	}

	if len(targets) == 0 {
		f.logger.Info("No escalation targets for step",
			zap.String("alarm_id", alarm.ID),
			zap.String("policy_id", alarm.PolicyID),
			zap.Int("step_no", stepNo),
		)
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, target := range targets {
		target := target
		g.Go(func() error {
			f.dispatchTarget(gctx, target, payload)
			return nil
		})
	}
	return g.Wait()
}

// dispatchTarget 按目标渠道派发并记录结果
func (f *Fanout) dispatchTarget(ctx context.Context, target models.EscalationTarget, payload *Payload) {
	var err error

	switch target.Channel {
	case models.ChannelEmail:
		err = f.sendEmail(ctx, payload)
	case models.ChannelSMS:
		err = f.sendSMS(ctx, target, payload)
	case models.ChannelSignal:
		err = f.sendSignal(ctx, target, payload)
	case models.ChannelWebhook:
		err = f.sendWebhook(ctx, target, payload)
	default:
		// 配置错误的目标也要留审计痕迹
		err = fmt.Errorf("unknown notification channel: %s", target.Channel)
	}

	if err != nil {
		f.logger.Error("Notification dispatch failed",
			zap.String("alarm_id", payload.AlarmID),
			zap.String("channel", target.Channel),
			zap.String("target_id", target.ID),
			zap.Error(err),
		)
	}

	targetID := target.ID
	f.logAttempt(ctx, payload.AlarmID, target.Channel, &targetID, payload, err)
}

// sendEmail 经 Zammad 建工单发送邮件通知
func (f *Fanout) sendEmail(ctx context.Context, payload *Payload) error {
	if !f.zammad.Enabled() {
		return fmt.Errorf("zammad not enabled")
	}

	ticketPayload := map[string]interface{}{
		"title":       payload.Title,
		"group":       f.ticket.Group,
		"priority_id": payload.Priority,
		"state_id":    f.ticket.StateIDNew,
		"customer_id": f.ticket.Customer,
		"tags":        payload.Tags,
		"article": map[string]interface{}{
			"subject":  "Alarm ausgelöst (silent)",
			"body":     payload.Body,
			"type":     "note",
			"internal": true,
		},
	}

	_, err := f.zammad.CreateTicket(ctx, ticketPayload)
	return err
}

func (f *Fanout) sendSMS(ctx context.Context, target models.EscalationTarget, payload *Payload) error {
	if !f.sms.Enabled() {
		return fmt.Errorf("sms not enabled")
	}
	return f.sms.SendSMS(ctx, target.Address, payload.Body)
}

func (f *Fanout) sendSignal(ctx context.Context, target models.EscalationTarget, payload *Payload) error {
	if !f.signal.Enabled() {
		return fmt.Errorf("signal not enabled")
	}
	return f.signal.SendGroupMessage(ctx, payload.Body, target.Address)
}

func (f *Fanout) sendWebhook(ctx context.Context, target models.EscalationTarget, payload *Payload) error {
	if target.Address == "" {
		return fmt.Errorf("no webhook url configured")
	}
	return f.webhook.Post(ctx, target.Address, payload)
}

// HandleZammadTicket 为新报警建 Zammad 工单
// Zammad 未启用时返回 0；失败只写审计不中断流程
func (f *Fanout) HandleZammadTicket(ctx context.Context, alarm *models.Alarm, ec *resolver.AlarmContext, ackURL string) int {
	if !f.zammad.Enabled() {
		return 0
	}

	site := ""
	if ec.SiteName != nil {
		site = *ec.SiteName
	}

	payload := map[string]interface{}{
		"title":       buildTitle(ec.PersonName, ec.RoomLabel, 0),
		"group":       f.ticket.Group,
		"priority_id": f.ticket.PriorityIDP0,
		"state_id":    f.ticket.StateIDNew,
		"customer_id": f.ticket.Customer,
		"tags":        []string{models.TagEmergency, models.TagSilent},
		"article": map[string]interface{}{
			"subject":  "Alarm ausgelöst (silent)",
			"body":     FormatAlarmMessage(alarm.ID, ec.PersonName, ec.RoomLabel, site, alarm.CreatedAt, ackURL, 0),
			"type":     "note",
			"internal": true,
		},
	}

	ticketID, err := f.zammad.CreateTicket(ctx, payload)
	if err != nil {
		f.logger.Error("Failed to create Zammad ticket",
			zap.String("alarm_id", alarm.ID),
			zap.Error(err),
		)
		f.logAttempt(ctx, alarm.ID, models.ChannelZammad, nil, map[string]interface{}{"action": "create_ticket"}, err)
		return 0
	}

	f.logAttempt(ctx, alarm.ID, models.ChannelZammad, nil, map[string]interface{}{
		"action":    "create_ticket",
		"ticket_id": ticketID,
	}, nil)

	return ticketID
}

// AddAckNote 在 Zammad 工单上追加确认备注
func (f *Fanout) AddAckNote(ctx context.Context, alarmID string, ticketID int, ackedBy *string, ackedAt time.Time, note *string) bool {
	if !f.zammad.Enabled() {
		return false
	}

	by := "-"
	if ackedBy != nil && *ackedBy != "" {
		by = *ackedBy
	}

	body := fmt.Sprintf("ACK durch: %s\nZeit: %s", by, ackedAt.Format(time.RFC3339))
	if note != nil && *note != "" {
		body += "\nNotiz: " + *note
	}

	if err := f.zammad.AddInternalNote(ctx, ticketID, "Alarm quittiert", body); err != nil {
		f.logger.Error("Failed to add Zammad ack note",
			zap.String("alarm_id", alarmID),
			zap.Int("ticket_id", ticketID),
			zap.Error(err),
		)
		return false
	}

	f.logAttempt(ctx, alarmID, models.ChannelZammad, nil, map[string]interface{}{
		"action":    "ack_update",
		"ticket_id": ticketID,
	}, nil)

	return true
}

// logAttempt 写一条发送审计记录
// 审计写入失败只记日志，不影响通知流程
func (f *Fanout) logAttempt(ctx context.Context, alarmID, channel string, targetID *string, payload interface{}, sendErr error) {
	data, err := json.Marshal(payload)
	if err != nil {
		data = json.RawMessage("{}")
	}

	n := &models.AlarmNotification{
		ID:        uuid.New().String(),
		AlarmID:   alarmID,
		CreatedAt: time.Now().UTC(),
		Channel:   channel,
		TargetID:  targetID,
		Payload:   data,
		Result:    models.ResultOK,
	}
	if sendErr != nil {
		n.Result = models.ResultError
		msg := sendErr.Error()
		n.Error = &msg
	}

	if err := f.audit.Insert(ctx, n); err != nil {
		f.logger.Error("Failed to write notification audit record",
			zap.String("alarm_id", alarmID),
			zap.String("channel", channel),
			zap.Error(err),
		)
	}
}
