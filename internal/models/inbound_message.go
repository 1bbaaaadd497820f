package models

// InboundMessage 设备上报的告警消息（仅存在于验签期间，不落库）
// 签名覆盖的字段集合和顺序是线上协议的一部分，见 auth.CanonicalPayload
type InboundMessage struct {
	DeviceID              string   `json:"deviceId"`
	TimestampEpochSeconds int64    `json:"timestampEpochSeconds"`
	Nonce                 string   `json:"nonce"`
	MessageText           string   `json:"messageText"`
	Lat                   *float64 `json:"lat,omitempty"`
	Lng                   *float64 `json:"lng,omitempty"`
	AccuracyMeters        *float64 `json:"accuracyMeters,omitempty"`
	KeyVersion            int      `json:"keyVersion"`
	Signature             string   `json:"signature"`
}

// DedupKey 构建去重键（device_id + ":" + nonce）
func (m *InboundMessage) DedupKey() string {
	return m.DeviceID + ":" + m.Nonce
}

// MaxMessageLength 消息文本最大长度
const MaxMessageLength = 280
