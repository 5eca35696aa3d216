package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"alarm-broker/internal/models"

	"go.uber.org/zap"
)

// NotificationsRepository 通知审计仓库
// 只追加：并发写入永不冲突，行一旦写入不再变化
type NotificationsRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewNotificationsRepository 创建通知审计仓库
func NewNotificationsRepository(db *sql.DB, logger *zap.Logger) *NotificationsRepository {
	return &NotificationsRepository{
		db:     db,
		logger: logger,
	}
}

// Insert 写入一条发送尝试记录
func (r *NotificationsRepository) Insert(ctx context.Context, n *models.AlarmNotification) error {
	if n == nil {
		return fmt.Errorf("notification is required")
	}
	if n.AlarmID == "" {
		return fmt.Errorf("alarm_id is required")
	}

	payload := n.Payload
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}

	query := `
		INSERT INTO alarm_notifications (
			id,
			alarm_id,
			created_at,
			channel,
			target_id,
			payload,
			result,
			error
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8
		)
	`

	_, err := r.db.ExecContext(ctx, query,
		n.ID,
		n.AlarmID,
		n.CreatedAt,
		n.Channel,
		n.TargetID,
		payload,
		n.Result,
		n.Error,
	)
	if err != nil {
		return fmt.Errorf("failed to insert alarm notification: %w", err)
	}

	return nil
}

// ListByAlarm 获取某个报警的全部发送记录（审计视图）
func (r *NotificationsRepository) ListByAlarm(ctx context.Context, alarmID string) ([]models.AlarmNotification, error) {
	if alarmID == "" {
		return nil, fmt.Errorf("alarm_id is required")
	}

	query := `
		SELECT id, alarm_id, created_at, channel, target_id, payload, result, error
		FROM alarm_notifications
		WHERE alarm_id = $1
		ORDER BY created_at ASC, id ASC
	`

	rows, err := r.db.QueryContext(ctx, query, alarmID)
	if err != nil {
		return nil, fmt.Errorf("failed to query alarm notifications: %w", err)
	}
	defer rows.Close()

	notifications := []models.AlarmNotification{}
	for rows.Next() {
		var n models.AlarmNotification
		var targetID, errText sql.NullString
		var payload []byte

		if err := rows.Scan(
			&n.ID,
			&n.AlarmID,
			&n.CreatedAt,
			&n.Channel,
			&targetID,
			&payload,
			&n.Result,
			&errText,
		); err != nil {
			return nil, fmt.Errorf("failed to scan alarm notification: %w", err)
		}

		if targetID.Valid {
			n.TargetID = &targetID.String
		}
		if errText.Valid {
			n.Error = &errText.String
		}
		if len(payload) > 0 {
			n.Payload = payload
		} else {
			n.Payload = json.RawMessage("{}")
		}

		notifications = append(notifications, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate alarm notifications: %w", err)
	}

	return notifications, nil
}
