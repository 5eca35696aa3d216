package trigger

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"alarm-broker/internal/errs"
	"alarm-broker/internal/guard"
	"alarm-broker/internal/models"
	"alarm-broker/internal/resolver"
	"alarm-broker/internal/scheduler"

	"go.uber.org/zap"
)

// 默认触发来源（话机一键报警）
const defaultSource = "yealink"

// Reserver 幂等/限流守卫接口
type Reserver interface {
	CheckDuplicate(ctx context.Context, token string) (string, bool, error)
	Reserve(ctx context.Context, token string) (string, bool, error)
	Release(ctx context.Context, token string) error
	AllowRate(ctx context.Context, token string) error
}

// DeviceResolver 设备解析接口
type DeviceResolver interface {
	Resolve(ctx context.Context, token string) (*resolver.TriggerContext, error)
}

// AlarmStore 报警写入/读取接口
type AlarmStore interface {
	Create(ctx context.Context, alarm *models.Alarm) error
	GetByID(ctx context.Context, alarmID string) (*models.Alarm, error)
}

// Enqueuer 延迟任务入队接口
type Enqueuer interface {
	Enqueue(ctx context.Context, name string, payload interface{}, delay time.Duration) error
}

// Publisher 状态变更事件发布接口
type Publisher interface {
	PublishStateChanged(alarm *models.Alarm, oldState, newState string)
}

// Request 触发请求
type Request struct {
	Token     string
	ClientIP  string
	UserAgent string
	Event     string // 为空时默认 alarm.trigger
	Severity  string // 为空时默认 P0
	Source    string // 为空时默认 yealink
}

// Result 触发结果
type Result struct {
	AlarmID   string
	Status    models.Status
	Duplicate bool
}

// Processor 触发入口处理器
// 顺序固定：幂等检查 -> 预留 -> 限流 -> 设备校验 -> 建报警
// 预留之后任何一步失败都回滚预留，同桶内的合法重试不会被挡住
type Processor struct {
	guard     Reserver
	resolver  DeviceResolver
	alarms    AlarmStore
	queue     Enqueuer
	publisher Publisher
	logger    *zap.Logger
}

// New 创建触发处理器
func New(g Reserver, r DeviceResolver, alarms AlarmStore, q Enqueuer, p Publisher, logger *zap.Logger) *Processor {
	return &Processor{
		guard:     g,
		resolver:  r,
		alarms:    alarms,
		queue:     q,
		publisher: p,
		logger:    logger,
	}
}

// ProcessTrigger 处理一次触发请求
func (p *Processor) ProcessTrigger(ctx context.Context, req Request) (*Result, error) {
	token := strings.TrimSpace(req.Token)

	// 1. 基本校验
	if token == "" {
		return nil, errs.ErrTokenRequired
	}
	if req.Severity != "" && !validSeverity(req.Severity) {
		return nil, fmt.Errorf("%w: %s", errs.ErrInvalidSeverity, req.Severity)
	}

	// 2. 幂等检查：当前桶内已有报警时直接返回它
	if existingID, dup, err := p.guard.CheckDuplicate(ctx, token); err != nil {
		return nil, err
	} else if dup {
		existing, err := p.alarms.GetByID(ctx, existingID)
		if err == nil {
			p.logger.Info("Trigger idempotent",
				zap.String("alarm_id", existingID),
				zap.String("token_hash", guard.HashTokenForLogging(token)),
			)
			return &Result{AlarmID: existing.ID, Status: existing.Status, Duplicate: true}, nil
		}
		if !errors.Is(err, errs.ErrNotFound) {
			return nil, err
		}
		// 预留已写入但报警还没落库（并发写入方还在路上）：
		// 按重复处理，不能清掉对方的预留再抢建第二条报警
		return &Result{AlarmID: existingID, Status: models.StatusTriggered, Duplicate: true}, nil
	}

	// 3. 预留报警 id
	alarmID, winner, err := p.guard.Reserve(ctx, token)
	if err != nil {
		return nil, err
	}
	if !winner {
		// 竞态中别的请求先预留：按重复处理
		existing, err := p.alarms.GetByID(ctx, alarmID)
		if err == nil {
			return &Result{AlarmID: existing.ID, Status: existing.Status, Duplicate: true}, nil
		}
		if !errors.Is(err, errs.ErrNotFound) {
			return nil, err
		}
		// 对方还没写库，状态必然是 triggered
		return &Result{AlarmID: alarmID, Status: models.StatusTriggered, Duplicate: true}, nil
	}

	// 4. 限流（幂等检查在前，重复请求不消耗配额）
	if err := p.guard.AllowRate(ctx, token); err != nil {
		p.rollback(ctx, token)
		if errors.Is(err, errs.ErrRateLimitExceeded) {
			p.logger.Warn("Trigger rate limit exceeded",
				zap.String("token_hash", guard.HashTokenForLogging(token)),
			)
		}
		return nil, err
	}

	// 5. 设备校验 + 上下文解析
	tc, err := p.resolver.Resolve(ctx, token)
	if err != nil {
		p.rollback(ctx, token)
		return nil, err
	}

	// 6. 建报警
	now := time.Now().UTC()
	ackToken, err := newAckToken()
	if err != nil {
		p.rollback(ctx, token)
		return nil, fmt.Errorf("failed to generate ack token: %w", err)
	}

	severity := req.Severity
	if severity == "" {
		severity = models.DefaultSeverity
	}
	event := req.Event
	if event == "" {
		event = models.EventAlarmTrigger
	}
	source := req.Source
	if source == "" {
		source = defaultSource
	}

	meta, err := json.Marshal(map[string]interface{}{
		"received_at": now.Format(time.RFC3339Nano),
		"client_ip":   req.ClientIP,
		"user_agent":  req.UserAgent,
		"token_hash":  guard.HashTokenForLogging(token),
	})
	if err != nil {
		p.rollback(ctx, token)
		return nil, fmt.Errorf("failed to marshal alarm meta: %w", err)
	}

	alarm := &models.Alarm{
		ID:        alarmID,
		Status:    models.StatusTriggered,
		Source:    source,
		Event:     event,
		CreatedAt: now,
		PersonID:  tc.Device.PersonID,
		RoomID:    tc.Device.RoomID,
		SiteID:    tc.SiteID,
		DeviceID:  &tc.Device.ID,
		Severity:  severity,
		Silent:    true,
		PolicyID:  tc.PolicyID,
		AckToken:  ackToken,
		Meta:      meta,
	}

	if err := p.alarms.Create(ctx, alarm); err != nil {
		p.rollback(ctx, token)
		return nil, fmt.Errorf("failed to persist alarm: %w", err)
	}

	// 7. 投递后台任务 + 发布状态事件（都不回滚报警）
	payload := scheduler.AlarmCreatedPayload{AlarmID: alarm.ID}
	if err := p.queue.Enqueue(ctx, models.JobAlarmCreated, payload, 0); err != nil {
		p.logger.Error("Failed to enqueue alarm_created job",
			zap.String("alarm_id", alarm.ID),
			zap.Error(err),
		)
	}
	if p.publisher != nil {
		p.publisher.PublishStateChanged(alarm, "none", string(models.StatusTriggered))
	}

	p.logger.Info("Alarm triggered",
		zap.String("alarm_id", alarm.ID),
		zap.String("device_id", tc.Device.ID),
		zap.Stringp("person_id", alarm.PersonID),
		zap.Stringp("room_id", alarm.RoomID),
	)

	return &Result{AlarmID: alarm.ID, Status: alarm.Status}, nil
}

// rollback 回滚幂等预留
func (p *Processor) rollback(ctx context.Context, token string) {
	if err := p.guard.Release(ctx, token); err != nil {
		p.logger.Warn("Failed to release reservation",
			zap.String("token_hash", guard.HashTokenForLogging(token)),
			zap.Error(err),
		)
	}
}

// newAckToken 生成 URL 安全的能力令牌
func newAckToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func validSeverity(s string) bool {
	for _, p := range models.AllPriorities {
		if s == p {
			return true
		}
	}
	return false
}
