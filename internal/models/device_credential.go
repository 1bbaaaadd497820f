package models

import (
	"time"
)

// DeviceCredential 设备凭证（对应 device_credentials 表）
// 每个设备同一时刻最多只有一个 active 凭证；
// 轮换后旧版本行保留（active=false），在宽限期内仍可用于验签
type DeviceCredential struct {
	DeviceID   string     `json:"device_id" db:"device_id"`
	KeyVersion int        `json:"key_version" db:"key_version"`
	Secret     []byte     `json:"-" db:"secret"`
	Active     bool       `json:"active" db:"active"`
	RegionCode string     `json:"region_code" db:"region_code"`
	RotatedAt  *time.Time `json:"rotated_at,omitempty" db:"rotated_at"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
}
