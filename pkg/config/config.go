package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"
)

// FlexibleStringSlice is a []string that also accepts JSON numbers,
// so allow_from can contain both "5551234" and 5551234.
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}

	var raw []interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	result := make([]string, 0, len(raw))
	for _, v := range raw {
		switch val := v.(type) {
		case string:
			result = append(result, val)
		case float64:
			result = append(result, fmt.Sprintf("%.0f", val))
		default:
			result = append(result, fmt.Sprintf("%v", val))
		}
	}
	*f = result
	return nil
}

type Config struct {
	Gateway      GatewayConfig      `json:"gateway"`
	Registration RegistrationConfig `json:"registration"`
	Channel      ChannelConfig      `json:"channel"`
	Outbox       OutboxConfig       `json:"outbox"`
	Heartbeat    HeartbeatConfig    `json:"heartbeat"`
	Logging      LoggingConfig      `json:"logging"`
}

// GatewayConfig identifies one WPPConnect instance. Token is the per-instance
// API key and may be rewritten by session registration when the gateway
// rejects it; SecretKey is only ever used to mint a fresh token.
type GatewayConfig struct {
	BaseURL     string `json:"base_url" env:"WAPPGATE_GATEWAY_BASE_URL"`
	Instance    string `json:"instance" env:"WAPPGATE_GATEWAY_INSTANCE"`
	Token       string `json:"token" env:"WAPPGATE_GATEWAY_TOKEN"`
	SecretKey   string `json:"secret_key" env:"WAPPGATE_GATEWAY_SECRET_KEY"`
	HTTPTimeout int    `json:"http_timeout" env:"WAPPGATE_GATEWAY_HTTP_TIMEOUT"` // seconds
}

type RegistrationConfig struct {
	WebhookURL        string `json:"webhook_url" env:"WAPPGATE_REGISTRATION_WEBHOOK_URL"`
	WaitQRCode        bool   `json:"wait_qr_code" env:"WAPPGATE_REGISTRATION_WAIT_QR_CODE"`
	MaxAttempts       int    `json:"max_attempts" env:"WAPPGATE_REGISTRATION_MAX_ATTEMPTS"`
	RetryDelaySeconds int    `json:"retry_delay_seconds" env:"WAPPGATE_REGISTRATION_RETRY_DELAY_SECONDS"`
}

type ChannelConfig struct {
	Host             string              `json:"host" env:"WAPPGATE_CHANNEL_HOST"`
	Port             int                 `json:"port" env:"WAPPGATE_CHANNEL_PORT"`
	WebhookPath      string              `json:"webhook_path" env:"WAPPGATE_CHANNEL_WEBHOOK_PATH"`
	AllowFrom        FlexibleStringSlice `json:"allow_from" env:"WAPPGATE_CHANNEL_ALLOW_FROM"`
	DedupeTTLSeconds int                 `json:"dedupe_ttl_seconds" env:"WAPPGATE_CHANNEL_DEDUPE_TTL_SECONDS"`
}

// OutboxConfig points at the agent execution backend that owns the outbox
// store. This process only reads and forwards; it never persists items.
type OutboxConfig struct {
	BaseURL string `json:"base_url" env:"WAPPGATE_OUTBOX_BASE_URL"`
	Token   string `json:"token" env:"WAPPGATE_OUTBOX_TOKEN"`
}

type HeartbeatConfig struct {
	Enabled  bool   `json:"enabled" env:"WAPPGATE_HEARTBEAT_ENABLED"`
	Schedule string `json:"schedule" env:"WAPPGATE_HEARTBEAT_SCHEDULE"` // cron expression
}

type LoggingConfig struct {
	Level           string `json:"level" env:"WAPPGATE_LOGGING_LEVEL"`
	FileEnabled     bool   `json:"file_enabled" env:"WAPPGATE_LOGGING_FILE_ENABLED"`
	FilePath        string `json:"file_path" env:"WAPPGATE_LOGGING_FILE_PATH"`
	RotationEnabled bool   `json:"rotation_enabled" env:"WAPPGATE_LOGGING_ROTATION_ENABLED"`
	MaxSizeMB       int    `json:"max_size_mb" env:"WAPPGATE_LOGGING_MAX_SIZE_MB"`
	MaxAgeDays      int    `json:"max_age_days" env:"WAPPGATE_LOGGING_MAX_AGE_DAYS"`
}

func DefaultConfig() *Config {
	return &Config{
		Gateway: GatewayConfig{
			BaseURL:     "http://localhost:21465",
			Instance:    "default",
			HTTPTimeout: 10,
		},
		Registration: RegistrationConfig{
			WaitQRCode:        true,
			MaxAttempts:       10,
			RetryDelaySeconds: 5,
		},
		Channel: ChannelConfig{
			Host:             "0.0.0.0",
			Port:             18890,
			WebhookPath:      "/webhook/whatsapp",
			AllowFrom:        FlexibleStringSlice{},
			DedupeTTLSeconds: 300,
		},
		Outbox: OutboxConfig{},
		Heartbeat: HeartbeatConfig{
			Enabled:  false,
			Schedule: "*/30 * * * *",
		},
		Logging: LoggingConfig{
			Level:           "INFO",
			FileEnabled:     true,
			FilePath:        "~/.wappgate/wappgate.log",
			RotationEnabled: true,
			MaxSizeMB:       50,
			MaxAgeDays:      7,
		},
	}
}

func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// env-only configuration is fine
			if err := env.Parse(cfg); err != nil {
				return nil, err
			}
			return cfg, nil
		}
		return nil, err
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func SaveConfig(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Validate checks the fields serve mode cannot run without.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Gateway.BaseURL) == "" {
		return fmt.Errorf("gateway.base_url is required")
	}
	if strings.TrimSpace(c.Gateway.Instance) == "" {
		return fmt.Errorf("gateway.instance is required")
	}
	if c.Registration.MaxAttempts <= 0 {
		return fmt.Errorf("registration.max_attempts must be positive")
	}
	return nil
}
