package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/knappy214/naboomcommunity-sub001/internal/models"
)

// IncidentRepository 告警事件仓库
type IncidentRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewIncidentRepository 创建告警事件仓库
func NewIncidentRepository(db *sql.DB, logger *zap.Logger) *IncidentRepository {
	return &IncidentRepository{
		db:     db,
		logger: logger,
	}
}

// ============================================
// 写入路径
// ============================================

// CreateIncident 创建告警事件，同一事务内追加 ingested 审计记录
// (device_id, nonce) 的唯一索引是 Redis 去重之外的数据库兜底：
// 命中唯一约束时返回 ErrDuplicateIncident，调用方按重复消息处理
func (r *IncidentRepository) CreateIncident(ctx context.Context, incident *models.Incident, rawPayload []byte) error {
	if incident == nil {
		return fmt.Errorf("incident is required")
	}
	if incident.IncidentID == "" {
		return fmt.Errorf("incident_id is required")
	}
	if incident.DeviceID == "" {
		return fmt.Errorf("device_id is required")
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	insertIncident := `
		INSERT INTO incidents (
			incident_id, source_channel, device_id, nonce, message,
			lat, lng, accuracy_meters, region_code, status,
			escalation_count, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	_, err = tx.ExecContext(ctx, insertIncident,
		incident.IncidentID,
		incident.SourceChannel,
		incident.DeviceID,
		incident.Nonce,
		incident.Message,
		incident.Lat,
		incident.Lng,
		incident.AccuracyMeters,
		incident.RegionCode,
		incident.Status,
		incident.EscalationCount,
		incident.CreatedAt,
		incident.UpdatedAt,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return ErrDuplicateIncident
		}
		return fmt.Errorf("failed to insert incident: %w", err)
	}

	insertEvent := `
		INSERT INTO incident_events (
			event_id, incident_id, event_type, payload, occurred_at
		) VALUES ($1, $2, $3, $4, $5)
	`

	payload := rawPayload
	if len(payload) == 0 {
		payload = []byte("{}")
	}

	_, err = tx.ExecContext(ctx, insertEvent,
		uuid.New().String(),
		incident.IncidentID,
		models.EventTypeIngested,
		payload,
		incident.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert ingested event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit incident: %w", err)
	}

	return nil
}

// ============================================
// 状态变更（乐观并发控制）
// ============================================

// AcknowledgeIncident 操作员确认告警
// expectedUpdatedAt 不匹配说明事件已被并发修改，返回 ErrStaleIncident
func (r *IncidentRepository) AcknowledgeIncident(ctx context.Context, incidentID, handler string, expectedUpdatedAt time.Time) error {
	return r.updateStatus(ctx, incidentID, models.IncidentStatusAcknowledged, models.EventTypeAcknowledged, handler, expectedUpdatedAt)
}

// ResolveIncident 操作员关闭告警
func (r *IncidentRepository) ResolveIncident(ctx context.Context, incidentID, handler string, expectedUpdatedAt time.Time) error {
	return r.updateStatus(ctx, incidentID, models.IncidentStatusResolved, models.EventTypeResolved, handler, expectedUpdatedAt)
}

func (r *IncidentRepository) updateStatus(ctx context.Context, incidentID, status, eventType, handler string, expectedUpdatedAt time.Time) error {
	if incidentID == "" {
		return fmt.Errorf("incident_id is required")
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now()

	query := `
		UPDATE incidents
		SET status = $1,
		    updated_at = $2
		WHERE incident_id = $3
		  AND updated_at = $4
	`

	result, err := tx.ExecContext(ctx, query, status, now, incidentID, expectedUpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update incident status: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check affected rows: %w", err)
	}
	if affected == 0 {
		return ErrStaleIncident
	}

	insertEvent := `
		INSERT INTO incident_events (
			event_id, incident_id, event_type, payload, occurred_at
		) VALUES ($1, $2, $3, $4, $5)
	`

	payload := fmt.Sprintf(`{"handler": %q}`, handler)
	_, err = tx.ExecContext(ctx, insertEvent,
		uuid.New().String(),
		incidentID,
		eventType,
		payload,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to insert %s event: %w", eventType, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit status update: %w", err)
	}

	return nil
}

// RecordEscalation 记录一次升级（计数与时间戳），同样走乐观并发检查
// 返回 ErrStaleIncident 表示操作员动作与升级扫描发生竞争，
// 调用方跳过本次记录，下个扫描周期重新评估
func (r *IncidentRepository) RecordEscalation(ctx context.Context, incidentID string, expectedUpdatedAt time.Time) error {
	if incidentID == "" {
		return fmt.Errorf("incident_id is required")
	}

	now := time.Now()

	query := `
		UPDATE incidents
		SET escalation_count = escalation_count + 1,
		    last_escalated_at = $1,
		    updated_at = $2
		WHERE incident_id = $3
		  AND updated_at = $4
		  AND status = 'open'
	`

	result, err := r.db.ExecContext(ctx, query, now, now, incidentID, expectedUpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to record escalation: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check affected rows: %w", err)
	}
	if affected == 0 {
		return ErrStaleIncident
	}

	return nil
}

// ============================================
// 查询路径
// ============================================

const incidentColumns = `
			incident_id,
			source_channel,
			device_id,
			nonce,
			message,
			lat,
			lng,
			accuracy_meters,
			region_code,
			status,
			escalation_count,
			last_escalated_at,
			created_at,
			updated_at`

// GetIncident 根据 incident_id 获取单个告警事件
func (r *IncidentRepository) GetIncident(ctx context.Context, incidentID string) (*models.Incident, error) {
	if incidentID == "" {
		return nil, fmt.Errorf("incident_id is required")
	}

	query := `
		SELECT ` + incidentColumns + `
		FROM incidents
		WHERE incident_id = $1
	`

	row := r.db.QueryRowContext(ctx, query, incidentID)
	incident, err := scanIncident(row.Scan)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("incident not found: %s", incidentID)
		}
		return nil, fmt.Errorf("failed to query incident: %w", err)
	}

	return incident, nil
}

// FindStaleOpenIncidents 查询超过阈值仍未确认的 open 告警，按创建时间升序
func (r *IncidentRepository) FindStaleOpenIncidents(ctx context.Context, olderThan time.Time, limit int) ([]models.Incident, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT ` + incidentColumns + `
		FROM incidents
		WHERE status = 'open'
		  AND created_at <= $1
		ORDER BY created_at ASC
		LIMIT $2
	`

	rows, err := r.db.QueryContext(ctx, query, olderThan, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query stale incidents: %w", err)
	}
	defer rows.Close()

	var incidents []models.Incident
	for rows.Next() {
		incident, err := scanIncident(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan incident: %w", err)
		}
		incidents = append(incidents, *incident)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate incidents: %w", err)
	}

	return incidents, nil
}

func scanIncident(scan func(dest ...interface{}) error) (*models.Incident, error) {
	var incident models.Incident
	var lat, lng, accuracy sql.NullFloat64
	var lastEscalatedAt sql.NullTime

	err := scan(
		&incident.IncidentID,
		&incident.SourceChannel,
		&incident.DeviceID,
		&incident.Nonce,
		&incident.Message,
		&lat,
		&lng,
		&accuracy,
		&incident.RegionCode,
		&incident.Status,
		&incident.EscalationCount,
		&lastEscalatedAt,
		&incident.CreatedAt,
		&incident.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if lat.Valid {
		incident.Lat = &lat.Float64
	}
	if lng.Valid {
		incident.Lng = &lng.Float64
	}
	if accuracy.Valid {
		incident.AccuracyMeters = &accuracy.Float64
	}
	if lastEscalatedAt.Valid {
		incident.LastEscalatedAt = &lastEscalatedAt.Time
	}

	return &incident, nil
}
