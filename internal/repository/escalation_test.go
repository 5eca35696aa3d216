package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupEscalationRepo(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *EscalationRepository) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	repo := NewEscalationRepository(db, zap.NewNop())
	return db, mock, repo
}

func TestStepTargets(t *testing.T) {
	db, mock, repo := setupEscalationRepo(t)
	defer db.Close()

	rows := sqlmock.NewRows([]string{"id", "label", "channel", "address", "enabled"}).
		AddRow("target-1", "Pflege-Gruppe", "signal", "group.abc", true).
		AddRow("target-2", "Bereitschaft", "sms", "+4915100000000", true)

	mock.ExpectQuery(`SELECT t.id`).
		WithArgs("default", 0).
		WillReturnRows(rows)

	targets, err := repo.StepTargets(context.Background(), "default", 0)
	require.NoError(t, err)
	require.Len(t, targets, 2)
	assert.Equal(t, "signal", targets[0].Channel)
	assert.Equal(t, "+4915100000000", targets[1].Address)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStepTargets_Empty(t *testing.T) {
	db, mock, repo := setupEscalationRepo(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT t.id`).
		WithArgs("default", 9).
		WillReturnRows(sqlmock.NewRows([]string{"id", "label", "channel", "address", "enabled"}))

	targets, err := repo.StepTargets(context.Background(), "default", 9)
	require.NoError(t, err)
	assert.Empty(t, targets)
}

func TestStepDelay(t *testing.T) {
	db, mock, repo := setupEscalationRepo(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT MIN\(after_seconds\)`).
		WithArgs("default", 1).
		WillReturnRows(sqlmock.NewRows([]string{"min"}).AddRow(120))

	delay, ok, err := repo.StepDelay(context.Background(), "default", 1)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 2*time.Minute, delay)
}

func TestStepDelay_NoStep(t *testing.T) {
	db, mock, repo := setupEscalationRepo(t)
	defer db.Close()

	// 步骤不存在：升级链自然结束，不是错误
	mock.ExpectQuery(`SELECT MIN\(after_seconds\)`).
		WithArgs("default", 3).
		WillReturnError(sql.ErrNoRows)

	delay, ok, err := repo.StepDelay(context.Background(), "default", 3)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, time.Duration(0), delay)
}
