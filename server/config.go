package server

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"zonerelay/server/anticheat"
)

// Config 服务端总配置（config.yaml），缺省字段使用 DefaultConfig 的值
type Config struct {
	Server    ServerConfig     `yaml:"server"`
	Log       LogConfig        `yaml:"log"`
	AntiCheat anticheat.Config `yaml:"anticheat"`
	Duel      DuelConfig       `yaml:"duel"`
	Chat      ChatConfig       `yaml:"chat"`
	Redis     RedisConfig      `yaml:"redis"`
}

// ServerConfig 监听地址与连接层限制
type ServerConfig struct {
	Addr string `yaml:"addr"`
	// 为空时只允许同源；"*" 允许所有来源
	AllowedOrigins []string `yaml:"allowed_origins"`
	MaxMessageSize int64    `yaml:"max_message_size"`
	// 单连接入站消息令牌桶（超出即按协议违规断开）
	MessagesPerSecond float64 `yaml:"messages_per_second"`
	MessageBurst      int     `yaml:"message_burst"`
	MaxConnsPerIP     int     `yaml:"max_conns_per_ip"`
	MaxConnsTotal     int     `yaml:"max_conns_total"`
	// 位于反向代理之后时从 X-Forwarded-For 取来源 IP
	TrustProxy bool `yaml:"trust_proxy"`
	// 反应器事件队列容量
	EventQueueSize int `yaml:"event_queue_size"`
	// 每连接发送队列容量
	SendQueueSize int `yaml:"send_queue_size"`
}

// LogConfig 日志输出（zap + lumberjack 滚动）
type LogConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"` // console | json
	File       string `yaml:"file"`
	Console    bool   `yaml:"console"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// DuelConfig 决斗挑战的超时
type DuelConfig struct {
	ChallengeTimeout time.Duration `yaml:"challenge_timeout"`
}

// ChatConfig 聊天中继的限制
type ChatConfig struct {
	MaxLength      int    `yaml:"max_length"`
	DefaultChannel string `yaml:"default_channel"`
	SystemSender   string `yaml:"system_sender"`
}

// RedisConfig 可选的共享封禁存储；Addr 为空则只用内存
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	// 封禁集合 key 与审核通知频道
	BanKey  string `yaml:"ban_key"`
	Channel string `yaml:"channel"`
}

// DefaultConfig 返回可直接运行的默认配置
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:              ":3001",
			AllowedOrigins:    []string{"*"},
			MaxMessageSize:    64 * 1024,
			MessagesPerSecond: 60,
			MessageBurst:      120,
			MaxConnsPerIP:     8,
			MaxConnsTotal:     2000,
			EventQueueSize:    4096,
			SendQueueSize:     256,
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "console",
			File:       "logs/relay.log",
			Console:    true,
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 7,
		},
		AntiCheat: anticheat.DefaultConfig(),
		Duel: DuelConfig{
			ChallengeTimeout: 30 * time.Second,
		},
		Chat: ChatConfig{
			MaxLength:      500,
			DefaultChannel: "global",
			SystemSender:   "System",
		},
		Redis: RedisConfig{
			BanKey:  "relay:bans",
			Channel: "relay:moderation",
		},
	}
}

// LoadConfig 读取 YAML 配置；文件不存在时返回默认值，随后应用环境变量覆盖
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return DefaultConfig(), fmt.Errorf("parse %s: %w", path, err)
			}
		case os.IsNotExist(err):
			// 使用默认值
		default:
			return cfg, fmt.Errorf("read %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

// LoadDotEnv 加载 .env（可选，不存在时忽略）
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("RELAY_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("PORT"); v != "" && os.Getenv("RELAY_ADDR") == "" {
		c.Server.Addr = ":" + v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("LOG_FILE"); v != "" {
		c.Log.File = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
}

// IsOriginAllowed 校验 WebSocket Origin
func (c *ServerConfig) IsOriginAllowed(origin, requestHost string) bool {
	if len(c.AllowedOrigins) == 0 {
		return isSameOrigin(origin, requestHost)
	}
	for _, allowed := range c.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

func isSameOrigin(origin, requestHost string) bool {
	if origin == "" {
		return true // 非浏览器客户端不带 Origin
	}
	host := origin
	if idx := strings.Index(origin, "://"); idx != -1 {
		host = origin[idx+3:]
	}
	return strings.TrimSuffix(host, "/") == requestHost
}
