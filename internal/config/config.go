package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config 服务端配置
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Redis    RedisConfig    `yaml:"redis"`
	Postgres PostgresConfig `yaml:"postgres"`
	NATS     NATSConfig     `yaml:"nats"`
	Game     GameConfig     `yaml:"game"`
	Security SecurityConfig `yaml:"security"`
	Session  SessionConfig  `yaml:"session"`
	Log      LogConfig      `yaml:"log"`
}

// ServerConfig WebSocket 服务器配置
type ServerConfig struct {
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	MaxConnections int    `yaml:"max_connections"`
	InternalToken  string `yaml:"internal_token"` // 规则服务回调 /internal 接口的令牌，为空时关闭
}

// RedisConfig Redis 配置，Addr 为空时不持久化房间快照
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// PostgresConfig 对局归档数据库，DSN 为空时关闭归档
type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

// NATSConfig 事件总线，URL 为空时关闭
type NATSConfig struct {
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

// GameConfig 房间与阶段配置
type GameConfig struct {
	MaxPlayers      int `yaml:"max_players"`
	MinPlayers      int `yaml:"min_players"`
	MaxRounds       int `yaml:"max_rounds"`
	GracePeriod     int `yaml:"grace_period"`     // 断线保留时长（秒）
	RoundEndDelay   int `yaml:"round_end_delay"`  // 回合结束后自动进入下一回合（秒），负数关闭
	RoomTimeout     int `yaml:"room_timeout"`     // 空闲房间回收（分钟）
	ShutdownTimeout int `yaml:"shutdown_timeout"` // 优雅关闭最长等待（秒）
}

// SecurityConfig 连接安全配置
type SecurityConfig struct {
	AllowedOrigins []string    `yaml:"allowed_origins"`
	RateLimit      LimitConfig `yaml:"rate_limit"`    // 每个 IP 的建连速率
	MessageLimit   LimitConfig `yaml:"message_limit"` // 每个连接的消息速率
}

// LimitConfig 令牌桶参数
type LimitConfig struct {
	MaxPerSecond float64 `yaml:"max_per_second"`
	Burst        int     `yaml:"burst"`
}

// SessionConfig 重连令牌配置
type SessionConfig struct {
	TokenSecret string `yaml:"token_secret"`
	TokenTTL    int    `yaml:"token_ttl"` // 分钟
}

// LogConfig 日志配置
type LogConfig struct {
	Level string `yaml:"level"`
	File  bool   `yaml:"file"`
}

// GracePeriodDuration 返回断线保留时长
func (c *GameConfig) GracePeriodDuration() time.Duration {
	return time.Duration(c.GracePeriod) * time.Second
}

// RoundEndDelayDuration 返回回合结束自动推进时长，0 表示关闭
func (c *GameConfig) RoundEndDelayDuration() time.Duration {
	if c.RoundEndDelay < 0 {
		return 0
	}
	return time.Duration(c.RoundEndDelay) * time.Second
}

// RoomTimeoutDuration 返回空闲房间回收时长
func (c *GameConfig) RoomTimeoutDuration() time.Duration {
	return time.Duration(c.RoomTimeout) * time.Minute
}

// ShutdownTimeoutDuration 返回优雅关闭的最长等待
func (c *GameConfig) ShutdownTimeoutDuration() time.Duration {
	return time.Duration(c.ShutdownTimeout) * time.Second
}

// TokenTTLDuration 返回重连令牌有效期
func (c *SessionConfig) TokenTTLDuration() time.Duration {
	return time.Duration(c.TokenTTL) * time.Minute
}

// Addr 返回监听地址
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Load 加载配置文件
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	return &cfg, nil
}

// LoadOrDefault 配置文件不存在时退回默认配置
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// Default 返回默认配置
func Default() *Config {
	var cfg Config
	cfg.Redis.Addr = "localhost:6379"
	cfg.applyDefaults()
	return &cfg
}

func (c *Config) applyDefaults() {
	d := map[*int]int{
		&c.Server.Port:                 7777,
		&c.Server.MaxConnections:       1000,
		&c.Game.MaxPlayers:             4,
		&c.Game.MinPlayers:             2,
		&c.Game.MaxRounds:              5,
		&c.Game.GracePeriod:            60,
		&c.Game.RoundEndDelay:          10,
		&c.Game.RoomTimeout:            30,
		&c.Game.ShutdownTimeout:        30,
		&c.Session.TokenTTL:            10,
		&c.Security.RateLimit.Burst:    5,
		&c.Security.MessageLimit.Burst: 20,
	}
	for field, def := range d {
		if *field == 0 {
			*field = def
		}
	}

	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.NATS.SubjectPrefix == "" {
		c.NATS.SubjectPrefix = "party.rooms"
	}
	if c.Security.RateLimit.MaxPerSecond == 0 {
		c.Security.RateLimit.MaxPerSecond = 1
	}
	if c.Security.MessageLimit.MaxPerSecond == 0 {
		c.Security.MessageLimit.MaxPerSecond = 10
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// ApplyEnv 读取 .env（可选）并用 PARTY_* 环境变量覆盖配置
func (c *Config) ApplyEnv(envFiles ...string) error {
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load env file: %w", err)
	}

	if v := os.Getenv("PARTY_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PARTY_PORT: %w", err)
		}
		c.Server.Port = port
	}

	overrides := map[string]*string{
		"PARTY_REDIS_ADDR":     &c.Redis.Addr,
		"PARTY_REDIS_PASSWORD": &c.Redis.Password,
		"PARTY_POSTGRES_DSN":   &c.Postgres.DSN,
		"PARTY_NATS_URL":       &c.NATS.URL,
		"PARTY_TOKEN_SECRET":   &c.Session.TokenSecret,
		"PARTY_INTERNAL_TOKEN": &c.Server.InternalToken,
		"PARTY_LOG_LEVEL":      &c.Log.Level,
	}
	for key, field := range overrides {
		if v, ok := os.LookupEnv(key); ok {
			*field = v
		}
	}
	return nil
}
