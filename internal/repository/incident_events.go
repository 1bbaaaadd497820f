package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/knappy214/naboomcommunity-sub001/internal/models"
)

// IncidentEventRepository 告警审计记录仓库（只追加）
type IncidentEventRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewIncidentEventRepository 创建审计记录仓库
func NewIncidentEventRepository(db *sql.DB, logger *zap.Logger) *IncidentEventRepository {
	return &IncidentEventRepository{
		db:     db,
		logger: logger,
	}
}

// AppendEvent 追加一条审计记录
func (r *IncidentEventRepository) AppendEvent(ctx context.Context, incidentID, eventType, payload string) error {
	if incidentID == "" {
		return fmt.Errorf("incident_id is required")
	}
	if eventType == "" {
		return fmt.Errorf("event_type is required")
	}
	if payload == "" {
		payload = "{}"
	}

	query := `
		INSERT INTO incident_events (
			event_id, incident_id, event_type, payload, occurred_at
		) VALUES ($1, $2, $3, $4, $5)
	`

	_, err := r.db.ExecContext(ctx, query,
		uuid.New().String(),
		incidentID,
		eventType,
		payload,
		time.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to append incident event: %w", err)
	}

	return nil
}

// CountRuleEscalationsSince 统计某告警自 since 以来由指定规则触发的升级次数
// 升级扫描用它判断当前阈值窗口内该规则是否已升级过
// （幂等粒度是 告警×规则：多条规则命中同一告警时互不抑制）
func (r *IncidentEventRepository) CountRuleEscalationsSince(ctx context.Context, incidentID, ruleID string, since time.Time) (int, error) {
	if incidentID == "" {
		return 0, fmt.Errorf("incident_id is required")
	}
	if ruleID == "" {
		return 0, fmt.Errorf("rule_id is required")
	}

	query := `
		SELECT COUNT(*)
		FROM incident_events
		WHERE incident_id = $1
		  AND event_type = $2
		  AND payload->>'rule_id' = $3
		  AND occurred_at >= $4
	`

	var count int
	err := r.db.QueryRowContext(ctx, query, incidentID, models.EventTypeEscalated, ruleID, since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count rule escalations: %w", err)
	}

	return count, nil
}

// ListEvents 按时间升序列出某告警的全部审计记录
func (r *IncidentEventRepository) ListEvents(ctx context.Context, incidentID string) ([]models.IncidentEvent, error) {
	if incidentID == "" {
		return nil, fmt.Errorf("incident_id is required")
	}

	query := `
		SELECT event_id, incident_id, event_type, payload, occurred_at
		FROM incident_events
		WHERE incident_id = $1
		ORDER BY occurred_at ASC
	`

	rows, err := r.db.QueryContext(ctx, query, incidentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query incident events: %w", err)
	}
	defer rows.Close()

	var events []models.IncidentEvent
	for rows.Next() {
		var event models.IncidentEvent
		if err := rows.Scan(
			&event.EventID,
			&event.IncidentID,
			&event.EventType,
			&event.Payload,
			&event.OccurredAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan incident event: %w", err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate incident events: %w", err)
	}

	return events, nil
}
