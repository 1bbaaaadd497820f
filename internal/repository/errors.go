package repository

import (
	"errors"
)

// ErrDuplicateIncident (device_id, nonce) 唯一索引兜底命中：
// 同一消息已经生成过事件，调用方按重复消息丢弃，不视为错误
var ErrDuplicateIncident = errors.New("duplicate incident for device/nonce")

// ErrStaleIncident 乐观并发冲突：
// 期望的 updated_at 已经被其他写入者（操作员确认或升级扫描）推进
var ErrStaleIncident = errors.New("incident was modified concurrently")
