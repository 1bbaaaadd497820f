package models

// 广播事件类型
const (
	BroadcastKindCreated   = "created"
	BroadcastKindEscalated = "escalated"
)

// BroadcastEvent 推送给区域订阅者的实时事件
// 不回放历史：迟到的订阅者需要另行查询事件列表
type BroadcastEvent struct {
	IncidentID string   `json:"incidentId"`
	Kind       string   `json:"kind"` // created, escalated
	Message    string   `json:"message"`
	Lat        *float64 `json:"lat,omitempty"`
	Lng        *float64 `json:"lng,omitempty"`
	OccurredAt int64    `json:"occurredAt"` // epoch 秒
}
