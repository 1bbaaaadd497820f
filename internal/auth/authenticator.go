package auth

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/knappy214/naboomcommunity-sub001/internal/models"
)

// decoySecret 未知设备/无效凭证时用于占位计算的密钥
// 保证"未知设备"和"签名错误"两种失败路径都恰好计算一次 HMAC，
// 避免通过响应时间区分设备是否存在
var decoySecret = []byte("3f1c9a6e-decoy-credential-material")

// Authenticator 消息验签器
// Verify 是纯函数：不产生任何副作用，失败时调用方直接丢弃消息
type Authenticator struct {
	credentials   *CredentialCache
	rotationGrace time.Duration
	logger        *zap.Logger
}

// NewAuthenticator 创建验签器
// rotationGrace: 密钥轮换宽限期，在此窗口内旧 key_version 仍可验签
func NewAuthenticator(credentials *CredentialCache, rotationGrace time.Duration, logger *zap.Logger) *Authenticator {
	return &Authenticator{
		credentials:   credentials,
		rotationGrace: rotationGrace,
		logger:        logger,
	}
}

// Verify 验证消息签名
// 流程：结构检查 → 查 active 凭证 → 版本匹配或宽限期回退 → 常量时间比较
func (a *Authenticator) Verify(ctx context.Context, msg *models.InboundMessage) bool {
	// deviceId 或 signature 缺失时不做任何查询
	if msg == nil || msg.DeviceID == "" || msg.Signature == "" {
		return false
	}

	payload, err := CanonicalPayload(msg)
	if err != nil {
		return false
	}

	cred, err := a.credentials.GetActiveCredential(ctx, msg.DeviceID)
	if err != nil || cred == nil || !cred.Active {
		// 占位计算，保持与正常路径一致的耗时特征
		verifyMAC(payload, decoySecret, msg.Signature)
		a.logger.Debug("Verification failed: no active credential",
			zap.String("device_id", msg.DeviceID),
		)
		return false
	}

	secret := cred.Secret
	if msg.KeyVersion != cred.KeyVersion {
		// 版本不匹配：仅在轮换宽限期内允许回退到消息声明的旧版本
		if !a.withinRotationGrace(cred) {
			verifyMAC(payload, decoySecret, msg.Signature)
			a.logger.Debug("Verification failed: key version outside rotation grace",
				zap.String("device_id", msg.DeviceID),
				zap.Int("message_key_version", msg.KeyVersion),
				zap.Int("current_key_version", cred.KeyVersion),
			)
			return false
		}

		prev, err := a.credentials.GetCredentialByVersion(ctx, msg.DeviceID, msg.KeyVersion)
		if err != nil || prev == nil {
			verifyMAC(payload, decoySecret, msg.Signature)
			return false
		}
		secret = prev.Secret
	}

	if !verifyMAC(payload, secret, msg.Signature) {
		a.logger.Debug("Verification failed: signature mismatch",
			zap.String("device_id", msg.DeviceID),
		)
		return false
	}

	return true
}

// withinRotationGrace 当前凭证的轮换时间是否在宽限期内
func (a *Authenticator) withinRotationGrace(cred *models.DeviceCredential) bool {
	if cred.RotatedAt == nil {
		return false
	}
	return time.Since(*cred.RotatedAt) <= a.rotationGrace
}
