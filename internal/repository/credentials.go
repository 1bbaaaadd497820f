package repository

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/knappy214/naboomcommunity-sub001/internal/models"
)

// CredentialRepository 设备凭证仓库
// 凭证的创建/轮换由管理端负责，本服务只读
type CredentialRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewCredentialRepository 创建设备凭证仓库
func NewCredentialRepository(db *sql.DB, logger *zap.Logger) *CredentialRepository {
	return &CredentialRepository{
		db:     db,
		logger: logger,
	}
}

const credentialColumns = `
			device_id,
			key_version,
			secret,
			active,
			region_code,
			rotated_at,
			created_at`

// GetActiveCredential 获取设备当前 active 凭证
func (r *CredentialRepository) GetActiveCredential(ctx context.Context, deviceID string) (*models.DeviceCredential, error) {
	if deviceID == "" {
		return nil, fmt.Errorf("device_id is required")
	}

	query := `
		SELECT ` + credentialColumns + `
		FROM device_credentials
		WHERE device_id = $1
		  AND active = TRUE
	`

	return r.scanCredential(r.db.QueryRowContext(ctx, query, deviceID), deviceID)
}

// GetCredentialByVersion 按版本获取设备凭证（用于轮换宽限期内的旧版本验签）
func (r *CredentialRepository) GetCredentialByVersion(ctx context.Context, deviceID string, keyVersion int) (*models.DeviceCredential, error) {
	if deviceID == "" {
		return nil, fmt.Errorf("device_id is required")
	}

	query := `
		SELECT ` + credentialColumns + `
		FROM device_credentials
		WHERE device_id = $1
		  AND key_version = $2
	`

	return r.scanCredential(r.db.QueryRowContext(ctx, query, deviceID, keyVersion), deviceID)
}

func (r *CredentialRepository) scanCredential(row *sql.Row, deviceID string) (*models.DeviceCredential, error) {
	var cred models.DeviceCredential
	var rotatedAt sql.NullTime

	err := row.Scan(
		&cred.DeviceID,
		&cred.KeyVersion,
		&cred.Secret,
		&cred.Active,
		&cred.RegionCode,
		&rotatedAt,
		&cred.CreatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("credential not found for device %s", deviceID)
		}
		return nil, fmt.Errorf("failed to query credential: %w", err)
	}

	if rotatedAt.Valid {
		cred.RotatedAt = &rotatedAt.Time
	}

	return &cred, nil
}
