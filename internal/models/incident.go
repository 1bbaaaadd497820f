package models

import (
	"time"
)

// 事件来源渠道
const (
	SourceChannelDevice = "device"
	SourceChannelOther  = "other"
)

// 事件状态
const (
	IncidentStatusOpen         = "open"
	IncidentStatusAcknowledged = "acknowledged"
	IncidentStatusResolved     = "resolved"
)

// Incident 告警事件（对应 incidents 表）
// UpdatedAt 同时作为乐观并发控制的版本标记：
// 所有状态更新都带 WHERE updated_at = $n 条件，防止操作员确认与
// 升级扫描之间的丢失更新
type Incident struct {
	IncidentID      string     `json:"incident_id" db:"incident_id"`
	SourceChannel   string     `json:"source_channel" db:"source_channel"` // device, other
	DeviceID        string     `json:"device_id" db:"device_id"`
	Nonce           string     `json:"nonce" db:"nonce"`
	Message         string     `json:"message" db:"message"` // ≤280 字符
	Lat             *float64   `json:"lat,omitempty" db:"lat"`
	Lng             *float64   `json:"lng,omitempty" db:"lng"`
	AccuracyMeters  *float64   `json:"accuracy_meters,omitempty" db:"accuracy_meters"`
	RegionCode      string     `json:"region_code" db:"region_code"`
	Status          string     `json:"status" db:"status"` // open, acknowledged, resolved
	EscalationCount int        `json:"escalation_count" db:"escalation_count"`
	LastEscalatedAt *time.Time `json:"last_escalated_at,omitempty" db:"last_escalated_at"`
	CreatedAt       time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at" db:"updated_at"`
}

// 审计事件类型
const (
	EventTypeIngested     = "ingested"
	EventTypeAcknowledged = "acknowledged"
	EventTypeResolved     = "resolved"
	EventTypeEscalated    = "escalated"
	EventTypeNotified     = "notified"
	EventTypeNotifyFailed = "notify_failed"
)

// IncidentEvent 告警事件审计记录（对应 incident_events 表，只追加不修改）
type IncidentEvent struct {
	EventID    string    `json:"event_id" db:"event_id"`
	IncidentID string    `json:"incident_id" db:"incident_id"`
	EventType  string    `json:"event_type" db:"event_type"`
	Payload    string    `json:"payload" db:"payload"` // JSONB
	OccurredAt time.Time `json:"occurred_at" db:"occurred_at"`
}
