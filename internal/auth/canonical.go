package auth

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"

	"github.com/knappy214/naboomcommunity-sub001/internal/models"
)

// canonicalForm 签名覆盖的字段子集
// 字段顺序即 key 排序后的顺序（compact separators + sorted keys），
// 是线上协议的一部分，不能改动；可选字段缺失时直接省略
type canonicalForm struct {
	AccuracyMeters        *float64 `json:"accuracyMeters,omitempty"`
	DeviceID              string   `json:"deviceId"`
	KeyVersion            int      `json:"keyVersion"`
	Lat                   *float64 `json:"lat,omitempty"`
	Lng                   *float64 `json:"lng,omitempty"`
	MessageText           string   `json:"messageText"`
	Nonce                 string   `json:"nonce"`
	TimestampEpochSeconds int64    `json:"timestampEpochSeconds"`
}

// CanonicalPayload 计算消息的规范化字节序列（逐字节可复现）
// 消息体中的额外字段不参与签名。
// 必须关闭 HTML 转义：设备端按标准 JSON 编码计算签名，
// & < > 被转义成 \uXXXX 会让双方在不同的字节上做 MAC
func CanonicalPayload(msg *models.InboundMessage) ([]byte, error) {
	form := canonicalForm{
		AccuracyMeters:        msg.AccuracyMeters,
		DeviceID:              msg.DeviceID,
		KeyVersion:            msg.KeyVersion,
		Lat:                   msg.Lat,
		Lng:                   msg.Lng,
		MessageText:           msg.MessageText,
		Nonce:                 msg.Nonce,
		TimestampEpochSeconds: msg.TimestampEpochSeconds,
	}

	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode(form); err != nil {
		return nil, err
	}
	// Encoder 总是追加换行，规范化序列不包含它
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Sign 用设备密钥对消息计算签名（HMAC-SHA256 → base64）
// 参考实现：设备端和配置工具按同样方式生成签名
func Sign(msg *models.InboundMessage, secret []byte) (string, error) {
	payload, err := CanonicalPayload(msg)
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(payload)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil)), nil
}

// verifyMAC 常量时间比较签名
func verifyMAC(payload []byte, secret []byte, signature string) bool {
	supplied, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(payload)
	return hmac.Equal(supplied, mac.Sum(nil))
}
