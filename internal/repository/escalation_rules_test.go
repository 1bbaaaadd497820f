package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/knappy214/naboomcommunity-sub001/internal/models"
)

func setupMockRuleDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *EscalationRuleRepository) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	logger := zap.NewNop()
	repo := NewEscalationRuleRepository(db, logger)

	return db, mock, repo
}

func TestListActiveRules_Success(t *testing.T) {
	db, mock, repo := setupMockRuleDB(t)
	defer db.Close()

	now := time.Now()
	targets := `[{"kind":"sms","address":"+27820000001","template":"{{message}} ({{incident_id}})"}]`

	rows := sqlmock.NewRows([]string{
		"rule_id", "name", "active", "threshold_minutes", "targets", "created_at", "updated_at",
	}).AddRow(uuid.New().String(), "unacknowledged-15m", true, 15, []byte(targets), now, now)

	mock.ExpectQuery(`SELECT`).WillReturnRows(rows)

	rules, err := repo.ListActiveRules(context.Background())

	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, "unacknowledged-15m", rules[0].Name)
	assert.Equal(t, 15*time.Minute, rules[0].Threshold())
	require.Len(t, rules[0].Targets, 1)
	assert.Equal(t, models.TargetKindSMS, rules[0].Targets[0].Kind)
	assert.Equal(t, "+27820000001", rules[0].Targets[0].Address)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListActiveRules_CorruptTargetsSkipped(t *testing.T) {
	db, mock, repo := setupMockRuleDB(t)
	defer db.Close()

	now := time.Now()
	rows := sqlmock.NewRows([]string{
		"rule_id", "name", "active", "threshold_minutes", "targets", "created_at", "updated_at",
	}).
		AddRow(uuid.New().String(), "broken", true, 15, []byte(`not-json`), now, now).
		AddRow(uuid.New().String(), "valid", true, 30, []byte(`[{"kind":"push","address":"tok-1","template":""}]`), now, now)

	mock.ExpectQuery(`SELECT`).WillReturnRows(rows)

	rules, err := repo.ListActiveRules(context.Background())

	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, "valid", rules[0].Name)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListActiveRules_Empty(t *testing.T) {
	db, mock, repo := setupMockRuleDB(t)
	defer db.Close()

	rows := sqlmock.NewRows([]string{
		"rule_id", "name", "active", "threshold_minutes", "targets", "created_at", "updated_at",
	})

	mock.ExpectQuery(`SELECT`).WillReturnRows(rows)

	rules, err := repo.ListActiveRules(context.Background())

	require.NoError(t, err)
	assert.Empty(t, rules)

	require.NoError(t, mock.ExpectationsWereMet())
}
