package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"alarm-broker/internal/errs"
	"alarm-broker/internal/models"
	"alarm-broker/internal/queue"
	"alarm-broker/internal/resolver"

	"go.uber.org/zap"
)

// AlarmStore 报警读取/工单关联接口
type AlarmStore interface {
	GetByID(ctx context.Context, alarmID string) (*models.Alarm, error)
	SetZammadTicketID(ctx context.Context, alarmID string, ticketID int) error
}

// StepSource 升级步骤延迟查询接口
type StepSource interface {
	StepDelay(ctx context.Context, policyID string, stepNo int) (time.Duration, bool, error)
}

// Notifier 通知分发接口
type Notifier interface {
	SendStep(ctx context.Context, alarm *models.Alarm, ec *resolver.AlarmContext, stepNo int, ackURL string) error
	HandleZammadTicket(ctx context.Context, alarm *models.Alarm, ec *resolver.AlarmContext, ackURL string) int
	AddAckNote(ctx context.Context, alarmID string, ticketID int, ackedBy *string, ackedAt time.Time, note *string) bool
}

// Enricher 报警上下文补全接口
type Enricher interface {
	EnrichAlarm(ctx context.Context, alarm *models.Alarm) *resolver.AlarmContext
}

// Enqueuer 延迟任务入队接口
type Enqueuer interface {
	Enqueue(ctx context.Context, name string, payload interface{}, delay time.Duration) error
}

// AlarmCreatedPayload alarm_created 任务载荷
type AlarmCreatedPayload struct {
	AlarmID string `json:"alarm_id"`
}

// EscalatePayload escalate 任务载荷
type EscalatePayload struct {
	AlarmID string `json:"alarm_id"`
	StepNo  int    `json:"step_no"`
}

// AlarmAckedPayload alarm_acked 任务载荷
type AlarmAckedPayload struct {
	AlarmID string  `json:"alarm_id"`
	AckedBy *string `json:"acked_by"`
	Note    *string `json:"note"`
}

// Scheduler 升级调度器（延迟任务处理器集合）
// 每个升级步骤执行前重读报警状态：已不是 triggered 就跳过，
// 步骤 N 执行后才调度 N+1，ack 之后链条自然断开
type Scheduler struct {
	alarms   AlarmStore
	steps    StepSource
	notifier Notifier
	enricher Enricher
	queue    Enqueuer
	baseURL  string
	logger   *zap.Logger
}

// New 创建调度器
func New(alarms AlarmStore, steps StepSource, notifier Notifier, enricher Enricher, q Enqueuer, baseURL string, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		alarms:   alarms,
		steps:    steps,
		notifier: notifier,
		enricher: enricher,
		queue:    q,
		baseURL:  baseURL,
		logger:   logger,
	}
}

// Register 把任务处理器挂到 worker 上
func (s *Scheduler) Register(w *queue.Worker) {
	w.Register(models.JobAlarmCreated, s.HandleAlarmCreated)
	w.Register(models.JobEscalate, s.HandleEscalate)
	w.Register(models.JobAlarmAcked, s.HandleAlarmAcked)
}

// AckURL 构建报警的确认链接
func (s *Scheduler) AckURL(ackToken string) string {
	return fmt.Sprintf("%s/a/%s", s.baseURL, ackToken)
}

// HandleAlarmCreated 处理新建报警任务
// 建工单、发送第 0 级通知、调度第 1 级
func (s *Scheduler) HandleAlarmCreated(ctx context.Context, payload json.RawMessage) error {
	var p AlarmCreatedPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("failed to decode alarm_created payload: %w", err)
	}

	alarm, err := s.alarms.GetByID(ctx, p.AlarmID)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			s.logger.Warn("Alarm not found for created job",
				zap.String("alarm_id", p.AlarmID),
			)
			return nil
		}
		return err
	}

	// 入队到执行之间状态可能已经变了：已处理的报警连第 0 级都不发
	if alarm.Status != models.StatusTriggered {
		s.logger.Info("Initial dispatch skipped",
			zap.String("alarm_id", alarm.ID),
			zap.String("status", string(alarm.Status)),
		)
		return nil
	}

	ec := s.enricher.EnrichAlarm(ctx, alarm)
	ackURL := s.AckURL(alarm.AckToken)

	// 1. 建外部工单（失败不阻塞通知）
	if ticketID := s.notifier.HandleZammadTicket(ctx, alarm, ec, ackURL); ticketID > 0 {
		if err := s.alarms.SetZammadTicketID(ctx, alarm.ID, ticketID); err != nil {
			s.logger.Error("Failed to store ticket id",
				zap.String("alarm_id", alarm.ID),
				zap.Int("ticket_id", ticketID),
				zap.Error(err),
			)
		} else {
			alarm.ZammadTicketID = &ticketID
		}
	}

	// 2. 第 0 级立即通知
	if err := s.notifier.SendStep(ctx, alarm, ec, 0, ackURL); err != nil {
		s.logger.Error("Failed to send initial notifications",
			zap.String("alarm_id", alarm.ID),
			zap.Error(err),
		)
	}

	// 3. 调度第 1 级
	return s.scheduleNext(ctx, alarm, 1)
}

// HandleEscalate 执行一个升级步骤
func (s *Scheduler) HandleEscalate(ctx context.Context, payload json.RawMessage) error {
	var p EscalatePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("failed to decode escalate payload: %w", err)
	}

	alarm, err := s.alarms.GetByID(ctx, p.AlarmID)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			s.logger.Warn("Alarm not found for escalate job",
				zap.String("alarm_id", p.AlarmID),
				zap.Int("step_no", p.StepNo),
			)
			return nil
		}
		return err
	}

	// 执行时重读状态：已确认/已关闭的报警不再升级
	if alarm.Status != models.StatusTriggered {
		s.logger.Info("Escalation skipped",
			zap.String("alarm_id", alarm.ID),
			zap.Int("step_no", p.StepNo),
			zap.String("status", string(alarm.Status)),
		)
		return nil
	}

	ec := s.enricher.EnrichAlarm(ctx, alarm)
	ackURL := s.AckURL(alarm.AckToken)

	if err := s.notifier.SendStep(ctx, alarm, ec, p.StepNo, ackURL); err != nil {
		s.logger.Error("Failed to send escalation notifications",
			zap.String("alarm_id", alarm.ID),
			zap.Int("step_no", p.StepNo),
			zap.Error(err),
		)
	}

	s.logger.Info("Escalation step completed",
		zap.String("alarm_id", alarm.ID),
		zap.Int("step_no", p.StepNo),
	)

	return s.scheduleNext(ctx, alarm, p.StepNo+1)
}

// HandleAlarmAcked 处理报警确认任务（在工单上追加备注）
func (s *Scheduler) HandleAlarmAcked(ctx context.Context, payload json.RawMessage) error {
	var p AlarmAckedPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("failed to decode alarm_acked payload: %w", err)
	}

	alarm, err := s.alarms.GetByID(ctx, p.AlarmID)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			s.logger.Warn("Alarm not found for acked job",
				zap.String("alarm_id", p.AlarmID),
			)
			return nil
		}
		return err
	}

	if alarm.ZammadTicketID == nil {
		s.logger.Info("No ticket to annotate for acked alarm",
			zap.String("alarm_id", alarm.ID),
		)
		return nil
	}

	ackedAt := time.Now().UTC()
	if alarm.AckedAt != nil {
		ackedAt = *alarm.AckedAt
	}

	if ok := s.notifier.AddAckNote(ctx, alarm.ID, *alarm.ZammadTicketID, p.AckedBy, ackedAt, p.Note); !ok {
		s.logger.Warn("Failed to add ack note to ticket",
			zap.String("alarm_id", alarm.ID),
			zap.Int("ticket_id", *alarm.ZammadTicketID),
		)
	}

	return nil
}

// scheduleNext 按策略延迟调度下一个升级步骤
// 策略里没有该步骤时说明链条已走完
func (s *Scheduler) scheduleNext(ctx context.Context, alarm *models.Alarm, stepNo int) error {
	delay, ok, err := s.steps.StepDelay(ctx, alarm.PolicyID, stepNo)
	if err != nil {
		return fmt.Errorf("failed to load escalation step delay: %w", err)
	}
	if !ok {
		s.logger.Info("Escalation chain complete",
			zap.String("alarm_id", alarm.ID),
			zap.String("policy_id", alarm.PolicyID),
			zap.Int("next_step", stepNo),
		)
		return nil
	}

	payload := EscalatePayload{AlarmID: alarm.ID, StepNo: stepNo}
	if err := s.queue.Enqueue(ctx, models.JobEscalate, payload, delay); err != nil {
		return fmt.Errorf("failed to schedule escalation step: %w", err)
	}

	s.logger.Info("Escalation step scheduled",
		zap.String("alarm_id", alarm.ID),
		zap.Int("step_no", stepNo),
		zap.Duration("delay", delay),
	)

	return nil
}
