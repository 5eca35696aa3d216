package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"alarm-broker/internal/models"

	"go.uber.org/zap"
)

// EscalationRepository 升级策略仓库（调度器的只读输入）
type EscalationRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewEscalationRepository 创建升级策略仓库
func NewEscalationRepository(db *sql.DB, logger *zap.Logger) *EscalationRepository {
	return &EscalationRepository{
		db:     db,
		logger: logger,
	}
}

// StepTargets 获取策略某一步的启用目标
func (r *EscalationRepository) StepTargets(
	ctx context.Context,
	policyID string,
	stepNo int,
) ([]models.EscalationTarget, error) {
	if policyID == "" {
		return nil, fmt.Errorf("policy_id is required")
	}

	query := `
		SELECT t.id, t.label, t.channel, t.address, t.enabled
		FROM escalation_steps s
		JOIN escalation_targets t ON s.target_id = t.id
		WHERE s.policy_id = $1
		  AND s.step_no = $2
		  AND t.enabled = true
		ORDER BY t.id
	`

	rows, err := r.db.QueryContext(ctx, query, policyID, stepNo)
	if err != nil {
		return nil, fmt.Errorf("failed to query step targets: %w", err)
	}
	defer rows.Close()

	targets := []models.EscalationTarget{}
	for rows.Next() {
		var t models.EscalationTarget
		if err := rows.Scan(&t.ID, &t.Label, &t.Channel, &t.Address, &t.Enabled); err != nil {
			return nil, fmt.Errorf("failed to scan escalation target: %w", err)
		}
		targets = append(targets, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate escalation targets: %w", err)
	}

	return targets, nil
}

// StepDelay 获取策略某一步的延迟
// 第二个返回值表示该步骤是否存在；不存在意味着升级自然终止
func (r *EscalationRepository) StepDelay(
	ctx context.Context,
	policyID string,
	stepNo int,
) (time.Duration, bool, error) {
	if policyID == "" {
		return 0, false, fmt.Errorf("policy_id is required")
	}

	var afterSeconds int
	err := r.db.QueryRowContext(ctx,
		`SELECT MIN(after_seconds) FROM escalation_steps WHERE policy_id = $1 AND step_no = $2 GROUP BY step_no`,
		policyID, stepNo,
	).Scan(&afterSeconds)
	if err != nil {
		if err == sql.ErrNoRows {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("failed to query step delay: %w", err)
	}

	return time.Duration(afterSeconds) * time.Second, true, nil
}
