package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const defaultJWTSecret = "change-me-in-production"

type Config struct {
	Port           string
	Environment    string
	AllowedOrigins []string
	JWTSecret      string
	Admin          AdminConfig
	Log            LogConfig
	WebSocket      WebSocketConfig
	Redis          RedisConfig
}

// AdminConfig holds the credentials accepted by the admin login endpoint.
// An empty password disables login.
type AdminConfig struct {
	Username string
	Password string
}

type LogConfig struct {
	Level string
	File  string
}

type WebSocketConfig struct {
	MaxMessageBytes int64
	SendBuffer      int
}

type RedisConfig struct {
	Enabled     bool
	Host        string
	Port        string
	Password    string
	DB          int
	PresenceTTL time.Duration
}

// Addr returns host:port for the Redis client.
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%s", c.Host, c.Port)
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// SetDefaults registers every key with its default and binds it to the
// environment variable of the same name in upper case.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("port", "8080")
	v.SetDefault("environment", "development")
	v.SetDefault("allowed_origins", "http://localhost:3000,http://localhost:5173")
	v.SetDefault("jwt_secret", defaultJWTSecret)
	v.SetDefault("admin_username", "admin")
	v.SetDefault("admin_password", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_file", "")
	v.SetDefault("max_message_bytes", 64*1024)
	v.SetDefault("send_buffer", 256)
	v.SetDefault("redis_enabled", false)
	v.SetDefault("redis_host", "localhost")
	v.SetDefault("redis_port", "6379")
	v.SetDefault("redis_password", "")
	v.SetDefault("redis_db", 0)
	v.SetDefault("presence_ttl", 24*time.Hour)

	v.AutomaticEnv()
}

// Load builds a Config from v. Flags bound to v take precedence over the
// environment, which takes precedence over defaults.
func Load(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		Port:           v.GetString("port"),
		Environment:    v.GetString("environment"),
		AllowedOrigins: splitList(v.GetString("allowed_origins")),
		JWTSecret:      v.GetString("jwt_secret"),
		Admin: AdminConfig{
			Username: v.GetString("admin_username"),
			Password: v.GetString("admin_password"),
		},
		Log: LogConfig{
			Level: v.GetString("log_level"),
			File:  v.GetString("log_file"),
		},
		WebSocket: WebSocketConfig{
			MaxMessageBytes: v.GetInt64("max_message_bytes"),
			SendBuffer:      v.GetInt("send_buffer"),
		},
		Redis: RedisConfig{
			Enabled:     v.GetBool("redis_enabled"),
			Host:        v.GetString("redis_host"),
			Port:        v.GetString("redis_port"),
			Password:    v.GetString("redis_password"),
			DB:          v.GetInt("redis_db"),
			PresenceTTL: v.GetDuration("presence_ttl"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Port == "" {
		return fmt.Errorf("port must not be empty")
	}
	if c.WebSocket.MaxMessageBytes <= 0 {
		return fmt.Errorf("max_message_bytes must be positive, got %d", c.WebSocket.MaxMessageBytes)
	}
	if c.WebSocket.SendBuffer <= 0 {
		return fmt.Errorf("send_buffer must be positive, got %d", c.WebSocket.SendBuffer)
	}
	if c.Redis.Enabled && c.Redis.PresenceTTL <= 0 {
		return fmt.Errorf("presence_ttl must be positive when redis is enabled")
	}
	if c.IsProduction() && c.Admin.Password != "" && c.JWTSecret == defaultJWTSecret {
		return fmt.Errorf("jwt_secret must be set in production when admin login is enabled")
	}
	return nil
}

// splitList parses a comma-separated list, dropping empty entries
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
