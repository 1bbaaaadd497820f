package config

import (
	"fmt"
	"os"
	"time"

	common "github.com/knappy214/naboomcommunity-sub001/internal/common/config"
)

// Config 告警接入服务配置
type Config struct {
	Database common.DatabaseConfig
	Redis    common.RedisConfig
	MQTT     common.MQTTConfig

	// 接入管线配置
	Ingest struct {
		Topic          string        // 设备上报主题，如 "ingest/+"
		QoS            byte          // MQTT QoS（至少一次）
		Workers        int           // 并发处理 worker 数
		QueueSize      int           // 接收缓冲队列长度
		AuthTimeout    time.Duration // 验签查询超时
		DedupTimeout   time.Duration // 去重占用超时
		PersistTimeout time.Duration // 单次持久化超时
		PersistRetries int           // 持久化重试次数
		DedupTTL       time.Duration // 去重窗口（策略要求 ≥ 7 天）
	}

	// 验签配置
	Auth struct {
		RotationGrace      time.Duration // 密钥轮换宽限期
		CredentialCacheTTL time.Duration // 凭证缓存 TTL
	}

	// 升级扫描配置
	Escalation struct {
		SweepInterval  time.Duration // 扫描周期
		RuleCacheTTL   time.Duration // 规则缓存 TTL
		BatchLimit     int           // 单次扫描最多处理的告警数
		MaxAttempts    int           // 单个通知目标的重试上限
		RetryBackoff   time.Duration // 重试间隔基数
		SMSGatewayURL  string        // 短信网关地址
		SMSAuthToken   string        // 短信网关令牌
		PushGatewayURL string        // 推送网关地址
	}

	Log struct {
		Level  string
		Format string
	}
}

// Load 加载配置
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.Database.Host = getEnv("DB_HOST", "localhost")
	cfg.Database.Port = getEnvInt("DB_PORT", 5432)
	cfg.Database.User = getEnv("DB_USER", "postgres")
	cfg.Database.Password = getEnv("DB_PASSWORD", "postgres")
	cfg.Database.Database = getEnv("DB_NAME", "naboom")
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", "disable")
	cfg.Database.MaxConns = getEnvInt("DB_MAX_CONNS", 20)
	cfg.Database.MaxIdle = getEnvInt("DB_MAX_IDLE", 5)

	cfg.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = getEnvInt("REDIS_DB", 0)

	cfg.MQTT.Broker = getEnv("MQTT_BROKER", "tcp://localhost:1883")
	cfg.MQTT.ClientID = getEnv("MQTT_CLIENT_ID", "naboom-panic")
	cfg.MQTT.Username = getEnv("MQTT_USERNAME", "")
	cfg.MQTT.Password = getEnv("MQTT_PASSWORD", "")

	cfg.Ingest.Topic = getEnv("INGEST_TOPIC", "ingest/+")
	cfg.Ingest.QoS = 1
	cfg.Ingest.Workers = getEnvInt("INGEST_WORKERS", 8)
	cfg.Ingest.QueueSize = getEnvInt("INGEST_QUEUE_SIZE", 256)
	cfg.Ingest.AuthTimeout = getEnvDuration("INGEST_AUTH_TIMEOUT", 2*time.Second)
	cfg.Ingest.DedupTimeout = getEnvDuration("INGEST_DEDUP_TIMEOUT", 2*time.Second)
	cfg.Ingest.PersistTimeout = getEnvDuration("INGEST_PERSIST_TIMEOUT", 5*time.Second)
	cfg.Ingest.PersistRetries = getEnvInt("INGEST_PERSIST_RETRIES", 3)
	cfg.Ingest.DedupTTL = getEnvDuration("INGEST_DEDUP_TTL", 7*24*time.Hour)

	cfg.Auth.RotationGrace = getEnvDuration("AUTH_ROTATION_GRACE", 24*time.Hour)
	cfg.Auth.CredentialCacheTTL = getEnvDuration("AUTH_CREDENTIAL_CACHE_TTL", 5*time.Minute)

	cfg.Escalation.SweepInterval = getEnvDuration("ESCALATION_SWEEP_INTERVAL", 60*time.Second)
	cfg.Escalation.RuleCacheTTL = getEnvDuration("ESCALATION_RULE_CACHE_TTL", 5*time.Minute)
	cfg.Escalation.BatchLimit = getEnvInt("ESCALATION_BATCH_LIMIT", 100)
	cfg.Escalation.MaxAttempts = getEnvInt("ESCALATION_MAX_ATTEMPTS", 3)
	cfg.Escalation.RetryBackoff = getEnvDuration("ESCALATION_RETRY_BACKOFF", 2*time.Second)
	cfg.Escalation.SMSGatewayURL = getEnv("ESCALATION_SMS_GATEWAY_URL", "")
	cfg.Escalation.SMSAuthToken = getEnv("ESCALATION_SMS_AUTH_TOKEN", "")
	cfg.Escalation.PushGatewayURL = getEnv("ESCALATION_PUSH_GATEWAY_URL", "")

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validate 校验关键约束
func (c *Config) validate() error {
	if c.Ingest.Workers <= 0 {
		return fmt.Errorf("INGEST_WORKERS must be positive")
	}
	// 去重窗口是消息持久性策略的一部分，不允许低于 7 天
	if c.Ingest.DedupTTL < 7*24*time.Hour {
		return fmt.Errorf("INGEST_DEDUP_TTL must be at least 168h, got %s", c.Ingest.DedupTTL)
	}
	if c.Escalation.SweepInterval <= 0 {
		return fmt.Errorf("ESCALATION_SWEEP_INTERVAL must be positive")
	}
	if c.Escalation.MaxAttempts <= 0 {
		return fmt.Errorf("ESCALATION_MAX_ATTEMPTS must be positive")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var parsed int
		if _, err := fmt.Sscanf(value, "%d", &parsed); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
