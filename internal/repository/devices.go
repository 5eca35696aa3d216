package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"alarm-broker/internal/errs"
	"alarm-broker/internal/models"

	"go.uber.org/zap"
)

// DevicesRepository 设备仓库（触发路径的只读上下文来源）
type DevicesRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewDevicesRepository 创建设备仓库
func NewDevicesRepository(db *sql.DB, logger *zap.Logger) *DevicesRepository {
	return &DevicesRepository{
		db:     db,
		logger: logger,
	}
}

// GetByToken 根据 device_token 获取设备
func (r *DevicesRepository) GetByToken(ctx context.Context, token string) (*models.Device, error) {
	if token == "" {
		return nil, errs.ErrTokenRequired
	}

	query := `
		SELECT
			id,
			vendor,
			model_family,
			mac,
			account_ext,
			device_token,
			person_id,
			room_id,
			escalation_policy_id,
			last_seen_at
		FROM devices
		WHERE device_token = $1
	`

	var device models.Device
	var mac, accountExt, personID, roomID, policyID sql.NullString
	var lastSeenAt sql.NullTime

	err := r.db.QueryRowContext(ctx, query, token).Scan(
		&device.ID,
		&device.Vendor,
		&device.ModelFamily,
		&mac,
		&accountExt,
		&device.DeviceToken,
		&personID,
		&roomID,
		&policyID,
		&lastSeenAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errs.ErrUnknownToken
		}
		return nil, fmt.Errorf("failed to query device: %w", err)
	}

	if mac.Valid {
		device.MAC = &mac.String
	}
	if accountExt.Valid {
		device.AccountExt = &accountExt.String
	}
	if personID.Valid {
		device.PersonID = &personID.String
	}
	if roomID.Valid {
		device.RoomID = &roomID.String
	}
	if policyID.Valid {
		device.PolicyID = &policyID.String
	}
	if lastSeenAt.Valid {
		device.LastSeenAt = &lastSeenAt.Time
	}

	return &device, nil
}

// TouchLastSeen 更新设备最后上报时间（尽力而为，不要求和报警创建同事务）
func (r *DevicesRepository) TouchLastSeen(ctx context.Context, deviceID string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE devices SET last_seen_at = $1 WHERE id = $2`,
		at, deviceID,
	)
	if err != nil {
		return fmt.Errorf("failed to touch last_seen_at: %w", err)
	}
	return nil
}

// GetPersonName 获取人员显示名（找不到时返回空串，调用方自行回退）
func (r *DevicesRepository) GetPersonName(ctx context.Context, personID string) (string, error) {
	var name string
	err := r.db.QueryRowContext(ctx,
		`SELECT display_name FROM persons WHERE id = $1`,
		personID,
	).Scan(&name)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", nil
		}
		return "", fmt.Errorf("failed to query person: %w", err)
	}
	return name, nil
}

// RoomContext 房间及所属站点信息
type RoomContext struct {
	RoomLabel string
	SiteID    string
	SiteName  string
}

// GetRoomContext 获取房间标签和站点（站点名通过 JOIN 一次取出）
func (r *DevicesRepository) GetRoomContext(ctx context.Context, roomID string) (*RoomContext, error) {
	query := `
		SELECT r.label, r.site_id, s.name
		FROM rooms r
		JOIN sites s ON r.site_id = s.id
		WHERE r.id = $1
	`

	var rc RoomContext
	err := r.db.QueryRowContext(ctx, query, roomID).Scan(&rc.RoomLabel, &rc.SiteID, &rc.SiteName)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("room %s: %w", roomID, errs.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to query room context: %w", err)
	}

	return &rc, nil
}
