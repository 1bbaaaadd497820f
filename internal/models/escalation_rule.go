package models

import (
	"time"
)

// 通知目标类型
const (
	TargetKindSMS  = "sms"
	TargetKindPush = "push"
)

// NotifyTarget 通知目标（按 kind 分发到对应的发送器）
type NotifyTarget struct {
	Kind     string `json:"kind"` // sms, push
	Address  string `json:"address"`
	Template string `json:"template"` // 支持 {{message}} / {{incident_id}} 占位符
}

// EscalationRule 升级规则（对应 escalation_rules 表，本服务只读）
// 谓词固定为"open 且未确认"，阈值和目标由管理端配置
type EscalationRule struct {
	RuleID           string         `json:"rule_id" db:"rule_id"`
	Name             string         `json:"name" db:"name"`
	Active           bool           `json:"active" db:"active"`
	ThresholdMinutes int            `json:"threshold_minutes" db:"threshold_minutes"`
	Targets          []NotifyTarget `json:"targets" db:"targets"` // JSONB
	CreatedAt        time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at" db:"updated_at"`
}

// Threshold 阈值时长
func (r *EscalationRule) Threshold() time.Duration {
	return time.Duration(r.ThresholdMinutes) * time.Minute
}
