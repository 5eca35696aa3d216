package resolver

import (
	"context"
	"errors"
	"time"

	"alarm-broker/internal/errs"
	"alarm-broker/internal/models"
	"alarm-broker/internal/repository"

	"go.uber.org/zap"
)

// TriggerContext 触发请求解析出的完整上下文
type TriggerContext struct {
	Device     *models.Device
	PersonName string
	RoomLabel  string
	SiteID     *string
	SiteName   *string
	PolicyID   string
}

// AlarmContext 报警的展示上下文（通知文案用）
// 查不到引用时回退为 id，通知永远可以发出去
type AlarmContext struct {
	PersonName string
	RoomLabel  string
	SiteName   *string
}

// Resolver 设备/策略解析器
type Resolver struct {
	devices         *repository.DevicesRepository
	logger          *zap.Logger
	defaultPolicyID string
}

// New 创建解析器
func New(devices *repository.DevicesRepository, defaultPolicyID string, logger *zap.Logger) *Resolver {
	if defaultPolicyID == "" {
		defaultPolicyID = models.DefaultPolicyID
	}
	return &Resolver{
		devices:         devices,
		logger:          logger,
		defaultPolicyID: defaultPolicyID,
	}
}

// Resolve 校验 token 并解析 person/room/site/policy 链
// token 未注册 -> ErrUnknownToken；映射不完整 -> ErrIncompleteMapping
// 成功时顺带更新设备 last_seen_at（尽力而为）
func (r *Resolver) Resolve(ctx context.Context, token string) (*TriggerContext, error) {
	device, err := r.devices.GetByToken(ctx, token)
	if err != nil {
		return nil, err
	}

	if device.PersonID == nil || device.RoomID == nil {
		return nil, errs.ErrIncompleteMapping
	}

	tc := &TriggerContext{
		Device:     device,
		PersonName: *device.PersonID,
		RoomLabel:  *device.RoomID,
		PolicyID:   r.defaultPolicyID,
	}
	if device.PolicyID != nil && *device.PolicyID != "" {
		tc.PolicyID = *device.PolicyID
	}

	if name, err := r.devices.GetPersonName(ctx, *device.PersonID); err == nil && name != "" {
		tc.PersonName = name
	}

	rc, err := r.devices.GetRoomContext(ctx, *device.RoomID)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return nil, errs.ErrIncompleteMapping
		}
		return nil, err
	}
	tc.RoomLabel = rc.RoomLabel
	siteID := rc.SiteID
	siteName := rc.SiteName
	tc.SiteID = &siteID
	tc.SiteName = &siteName

	if err := r.devices.TouchLastSeen(ctx, device.ID, time.Now().UTC()); err != nil {
		r.logger.Warn("Failed to update device last_seen_at",
			zap.String("device_id", device.ID),
			zap.Error(err),
		)
	}

	return tc, nil
}

// EnrichAlarm 在任务执行时补全报警的展示上下文
// 和触发路径不同：这里的查找都是尽力而为，缺失引用回退为 id
func (r *Resolver) EnrichAlarm(ctx context.Context, alarm *models.Alarm) *AlarmContext {
	ec := &AlarmContext{}

	if alarm.PersonID != nil {
		ec.PersonName = *alarm.PersonID
		if name, err := r.devices.GetPersonName(ctx, *alarm.PersonID); err == nil && name != "" {
			ec.PersonName = name
		}
	}

	if alarm.RoomID != nil {
		ec.RoomLabel = *alarm.RoomID
		if rc, err := r.devices.GetRoomContext(ctx, *alarm.RoomID); err == nil {
			ec.RoomLabel = rc.RoomLabel
			siteName := rc.SiteName
			ec.SiteName = &siteName
		}
	}

	return ec
}
