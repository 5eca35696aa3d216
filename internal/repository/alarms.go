package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"alarm-broker/internal/errs"
	"alarm-broker/internal/models"

	"go.uber.org/zap"
)

// AlarmsRepository 报警仓库
// 状态更新使用 compare-and-swap：WHERE 带上期望状态，影响行数为 0 表示前提已失效
type AlarmsRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewAlarmsRepository 创建报警仓库
func NewAlarmsRepository(db *sql.DB, logger *zap.Logger) *AlarmsRepository {
	return &AlarmsRepository{
		db:     db,
		logger: logger,
	}
}

const alarmColumns = `
		id,
		status,
		source,
		event,
		created_at,
		person_id,
		room_id,
		site_id,
		device_id,
		severity,
		silent,
		policy_id,
		zammad_ticket_id,
		ack_token,
		acked_at,
		acked_by,
		resolved_at,
		resolved_by,
		cancelled_at,
		cancelled_by,
		meta`

// AlarmFilters 报警列表过滤条件
type AlarmFilters struct {
	Status   *models.Status
	PersonID *string
	RoomID   *string
	SiteID   *string
	DeviceID *string
	Since    *time.Time // created_at >= Since
	Until    *time.Time // created_at <= Until
}

// Create 创建报警（status=triggered 由触发路径预先设置）
func (r *AlarmsRepository) Create(ctx context.Context, alarm *models.Alarm) error {
	if alarm == nil {
		return fmt.Errorf("alarm is required")
	}
	if alarm.ID == "" {
		return fmt.Errorf("alarm id is required")
	}
	if alarm.AckToken == "" {
		return fmt.Errorf("ack_token is required")
	}

	meta := alarm.Meta
	if len(meta) == 0 {
		meta = json.RawMessage("{}")
	}

	query := `
		INSERT INTO alarms (
			id,
			status,
			source,
			event,
			created_at,
			person_id,
			room_id,
			site_id,
			device_id,
			severity,
			silent,
			policy_id,
			zammad_ticket_id,
			ack_token,
			meta
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15
		)
	`

	_, err := r.db.ExecContext(ctx, query,
		alarm.ID,
		alarm.Status,
		alarm.Source,
		alarm.Event,
		alarm.CreatedAt,
		alarm.PersonID,
		alarm.RoomID,
		alarm.SiteID,
		alarm.DeviceID,
		alarm.Severity,
		alarm.Silent,
		alarm.PolicyID,
		alarm.ZammadTicketID,
		alarm.AckToken,
		meta,
	)
	if err != nil {
		return fmt.Errorf("failed to create alarm: %w", err)
	}

	return nil
}

// GetByID 根据 id 获取报警
func (r *AlarmsRepository) GetByID(ctx context.Context, alarmID string) (*models.Alarm, error) {
	if alarmID == "" {
		return nil, fmt.Errorf("alarm id is required")
	}

	query := fmt.Sprintf(`SELECT %s FROM alarms WHERE id = $1`, alarmColumns)
	alarm, err := scanAlarm(r.db.QueryRowContext(ctx, query, alarmID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("alarm %s: %w", alarmID, errs.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get alarm: %w", err)
	}

	return alarm, nil
}

// GetByAckToken 根据能力令牌获取报警（ack 链接路径）
func (r *AlarmsRepository) GetByAckToken(ctx context.Context, ackToken string) (*models.Alarm, error) {
	if ackToken == "" {
		return nil, fmt.Errorf("ack_token is required")
	}

	query := fmt.Sprintf(`SELECT %s FROM alarms WHERE ack_token = $1`, alarmColumns)
	alarm, err := scanAlarm(r.db.QueryRowContext(ctx, query, ackToken))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("ack token: %w", errs.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get alarm by ack token: %w", err)
	}

	return alarm, nil
}

// UpdateStatusCAS 条件状态更新
// 只有当前状态仍等于 expected 时才更新；返回 false 表示前提已失效（不是错误）
func (r *AlarmsRepository) UpdateStatusCAS(
	ctx context.Context,
	alarmID string,
	expected, target models.Status,
	updates map[string]interface{},
) (bool, error) {
	if alarmID == "" {
		return false, fmt.Errorf("alarm id is required")
	}
	if !models.ValidStatus(target) {
		return false, fmt.Errorf("invalid target status: %s", target)
	}

	// 允许随状态一起更新的字段
	allowedFields := map[string]bool{
		"acked_at":     true,
		"acked_by":     true,
		"resolved_at":  true,
		"resolved_by":  true,
		"cancelled_at": true,
		"cancelled_by": true,
		"meta":         true,
	}

	setParts := []string{"status = $1"}
	args := []interface{}{string(target)}
	argN := 2

	for field, value := range updates {
		if !allowedFields[field] {
			return false, fmt.Errorf("field '%s' is not allowed to update", field)
		}
		setParts = append(setParts, fmt.Sprintf("%s = $%d", field, argN))
		args = append(args, value)
		argN++
	}

	args = append(args, alarmID, string(expected))
	query := fmt.Sprintf(`
		UPDATE alarms
		SET %s
		WHERE id = $%d AND status = $%d
	`, strings.Join(setParts, ", "), argN, argN+1)

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to update alarm status: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected > 0, nil
}

// SetZammadTicketID 记录外部工单关联
func (r *AlarmsRepository) SetZammadTicketID(ctx context.Context, alarmID string, ticketID int) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE alarms SET zammad_ticket_id = $1 WHERE id = $2`,
		ticketID, alarmID,
	)
	if err != nil {
		return fmt.Errorf("failed to set zammad ticket id: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("alarm %s: %w", alarmID, errs.ErrNotFound)
	}
	return nil
}

// List 列表查询（游标分页，按 created_at DESC, id DESC 排序）
// cursor 是上一页最后一条报警的 id；返回值第二项表示是否还有更多
func (r *AlarmsRepository) List(
	ctx context.Context,
	filters AlarmFilters,
	limit int,
	cursor *string,
) ([]*models.Alarm, bool, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}

	where := []string{}
	args := []interface{}{}
	argN := 1

	if filters.Status != nil {
		where = append(where, fmt.Sprintf("status = $%d", argN))
		args = append(args, string(*filters.Status))
		argN++
	}
	if filters.PersonID != nil {
		where = append(where, fmt.Sprintf("person_id = $%d", argN))
		args = append(args, *filters.PersonID)
		argN++
	}
	if filters.RoomID != nil {
		where = append(where, fmt.Sprintf("room_id = $%d", argN))
		args = append(args, *filters.RoomID)
		argN++
	}
	if filters.SiteID != nil {
		where = append(where, fmt.Sprintf("site_id = $%d", argN))
		args = append(args, *filters.SiteID)
		argN++
	}
	if filters.DeviceID != nil {
		where = append(where, fmt.Sprintf("device_id = $%d", argN))
		args = append(args, *filters.DeviceID)
		argN++
	}
	if filters.Since != nil {
		where = append(where, fmt.Sprintf("created_at >= $%d", argN))
		args = append(args, *filters.Since)
		argN++
	}
	if filters.Until != nil {
		where = append(where, fmt.Sprintf("created_at <= $%d", argN))
		args = append(args, *filters.Until)
		argN++
	}

	// 游标：取游标行的 (created_at, id)，继续往后翻
	if cursor != nil && *cursor != "" {
		where = append(where, fmt.Sprintf(
			"(created_at, id) < (SELECT created_at, id FROM alarms WHERE id = $%d)", argN))
		args = append(args, *cursor)
		argN++
	}

	whereClause := ""
	if len(where) > 0 {
		whereClause = "WHERE " + strings.Join(where, " AND ")
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM alarms
		%s
		ORDER BY created_at DESC, id DESC
		LIMIT $%d
	`, alarmColumns, whereClause, argN)
	args = append(args, limit+1)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, false, fmt.Errorf("failed to query alarms: %w", err)
	}
	defer rows.Close()

	alarms := []*models.Alarm{}
	for rows.Next() {
		alarm, err := scanAlarm(rows)
		if err != nil {
			return nil, false, fmt.Errorf("failed to scan alarm: %w", err)
		}
		alarms = append(alarms, alarm)
	}
	if err := rows.Err(); err != nil {
		return nil, false, fmt.Errorf("failed to iterate alarms: %w", err)
	}

	hasMore := len(alarms) > limit
	if hasMore {
		alarms = alarms[:limit]
	}

	return alarms, hasMore, nil
}

// rowScanner 同时覆盖 *sql.Row 和 *sql.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanAlarm 扫描一行报警记录，处理可空字段
func scanAlarm(row rowScanner) (*models.Alarm, error) {
	var alarm models.Alarm
	var personID, roomID, siteID, deviceID sql.NullString
	var ticketID sql.NullInt64
	var ackedAt, resolvedAt, cancelledAt sql.NullTime
	var ackedBy, resolvedBy, cancelledBy sql.NullString
	var meta []byte

	err := row.Scan(
		&alarm.ID,
		&alarm.Status,
		&alarm.Source,
		&alarm.Event,
		&alarm.CreatedAt,
		&personID,
		&roomID,
		&siteID,
		&deviceID,
		&alarm.Severity,
		&alarm.Silent,
		&alarm.PolicyID,
		&ticketID,
		&alarm.AckToken,
		&ackedAt,
		&ackedBy,
		&resolvedAt,
		&resolvedBy,
		&cancelledAt,
		&cancelledBy,
		&meta,
	)
	if err != nil {
		return nil, err
	}

	if personID.Valid {
		alarm.PersonID = &personID.String
	}
	if roomID.Valid {
		alarm.RoomID = &roomID.String
	}
	if siteID.Valid {
		alarm.SiteID = &siteID.String
	}
	if deviceID.Valid {
		alarm.DeviceID = &deviceID.String
	}
	if ticketID.Valid {
		id := int(ticketID.Int64)
		alarm.ZammadTicketID = &id
	}
	if ackedAt.Valid {
		alarm.AckedAt = &ackedAt.Time
	}
	if ackedBy.Valid {
		alarm.AckedBy = &ackedBy.String
	}
	if resolvedAt.Valid {
		alarm.ResolvedAt = &resolvedAt.Time
	}
	if resolvedBy.Valid {
		alarm.ResolvedBy = &resolvedBy.String
	}
	if cancelledAt.Valid {
		alarm.CancelledAt = &cancelledAt.Time
	}
	if cancelledBy.Valid {
		alarm.CancelledBy = &cancelledBy.String
	}

	if len(meta) > 0 {
		alarm.Meta = meta
	} else {
		alarm.Meta = json.RawMessage("{}")
	}

	return &alarm, nil
}
