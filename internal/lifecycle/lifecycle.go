package lifecycle

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"alarm-broker/internal/errs"
	"alarm-broker/internal/models"

	"go.uber.org/zap"
)

// AlarmStore 条件状态更新接口
type AlarmStore interface {
	UpdateStatusCAS(ctx context.Context, alarmID string, expected, target models.Status, updates map[string]interface{}) (bool, error)
}

// Enqueuer 延迟任务入队接口
type Enqueuer interface {
	Enqueue(ctx context.Context, name string, payload interface{}, delay time.Duration) error
}

// Publisher 状态变更事件发布接口
type Publisher interface {
	PublishStateChanged(alarm *models.Alarm, oldState, newState string)
}

// Engine 报警状态机
// 所有状态修改走这里：转换表校验 + 条件更新，并发竞争时先到者生效
type Engine struct {
	alarms      AlarmStore
	queue       Enqueuer
	publisher   Publisher
	logger      *zap.Logger
	actorMaxLen int
	noteMaxLen  int
	now         func() time.Time
}

// NewEngine 创建状态机
func NewEngine(alarms AlarmStore, queue Enqueuer, publisher Publisher, actorMaxLen, noteMaxLen int, logger *zap.Logger) *Engine {
	if actorMaxLen <= 0 {
		actorMaxLen = 120
	}
	if noteMaxLen <= 0 {
		noteMaxLen = 2000
	}
	return &Engine{
		alarms:      alarms,
		queue:       queue,
		publisher:   publisher,
		logger:      logger,
		actorMaxLen: actorMaxLen,
		noteMaxLen:  noteMaxLen,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Transition 把报警转换到目标状态
// 返回值含义：
//   - (true, nil)  转换已生效，alarm 已更新为新状态
//   - (false, nil) 无事发生：同状态重复请求，或并发竞争中前提已失效
//   - (false, err) 非法转换或存储错误
func (e *Engine) Transition(ctx context.Context, alarm *models.Alarm, target models.Status, actor, note *string) (bool, error) {
	if actor != nil && len(*actor) > e.actorMaxLen {
		return false, errs.ErrActorTooLong
	}
	if note != nil && len(*note) > e.noteMaxLen {
		return false, errs.ErrNoteTooLong
	}
	if !models.ValidStatus(target) {
		return false, fmt.Errorf("%w: unknown status %q", errs.ErrInvalidTransition, target)
	}

	// 同状态重复请求是幂等 no-op
	if alarm.Status == target {
		return false, nil
	}

	if !models.CanTransition(alarm.Status, target) {
		return false, fmt.Errorf("%w: %s -> %s", errs.ErrInvalidTransition, alarm.Status, target)
	}

	now := e.now()
	updates := make(map[string]interface{})
	meta := alarm.MetaMap()
	metaChanged := false

	switch target {
	case models.StatusAcknowledged:
		updates["acked_at"] = now
		updates["acked_by"] = actor
		if note != nil && *note != "" {
			meta["ack_note"] = *note
			metaChanged = true
		}
	case models.StatusResolved:
		updates["resolved_at"] = now
		updates["resolved_by"] = actor
		if note != nil && *note != "" {
			meta["resolve_note"] = *note
			metaChanged = true
		}
	case models.StatusCancelled:
		updates["cancelled_at"] = now
		updates["cancelled_by"] = actor
		if note != nil && *note != "" {
			meta["cancel_note"] = *note
			metaChanged = true
		}
	}

	var metaRaw json.RawMessage
	if metaChanged {
		data, err := json.Marshal(meta)
		if err != nil {
			return false, fmt.Errorf("failed to marshal alarm meta: %w", err)
		}
		metaRaw = data
		updates["meta"] = metaRaw
	}

	applied, err := e.alarms.UpdateStatusCAS(ctx, alarm.ID, alarm.Status, target, updates)
	if err != nil {
		return false, fmt.Errorf("failed to apply status transition: %w", err)
	}
	if !applied {
		// 并发竞争：别的请求先改了状态，结果不回滚也不报错
		e.logger.Info("Status transition lost CAS race",
			zap.String("alarm_id", alarm.ID),
			zap.String("expected", string(alarm.Status)),
			zap.String("target", string(target)),
		)
		return false, nil
	}

	oldStatus := alarm.Status
	alarm.Status = target
	switch target {
	case models.StatusAcknowledged:
		alarm.AckedAt = &now
		alarm.AckedBy = actor
	case models.StatusResolved:
		alarm.ResolvedAt = &now
		alarm.ResolvedBy = actor
	case models.StatusCancelled:
		alarm.CancelledAt = &now
		alarm.CancelledBy = actor
	}
	if metaChanged {
		alarm.Meta = metaRaw
	}

	e.logger.Info("Alarm status changed",
		zap.String("alarm_id", alarm.ID),
		zap.String("from", string(oldStatus)),
		zap.String("to", string(target)),
	)

	// ack 边触发后台任务（工单备注等），入队失败不回滚状态
	if target == models.StatusAcknowledged {
		payload := map[string]interface{}{
			"alarm_id": alarm.ID,
			"acked_by": actor,
			"note":     note,
		}
		if err := e.queue.Enqueue(ctx, models.JobAlarmAcked, payload, 0); err != nil {
			e.logger.Error("Failed to enqueue ack follow-up job",
				zap.String("alarm_id", alarm.ID),
				zap.Error(err),
			)
		}
	}

	if e.publisher != nil {
		e.publisher.PublishStateChanged(alarm, string(oldStatus), string(target))
	}

	return true, nil
}
