// Package config 服務配置
//
// 載入順序（後者覆蓋前者）：
//  1. Default() 內建預設值
//  2. .env（存在才載入，不覆蓋已設定的環境變數）
//  3. YAML 配置檔
//  4. 環境變數（部署時最常用）
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/koopa0/system-design/14-game-room/internal/coordinator"
	"github.com/koopa0/system-design/14-game-room/internal/game"
	"github.com/koopa0/system-design/14-game-room/pkg/logger"
)

// Config 整個服務的配置
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Room      RoomConfig      `yaml:"room"`
	Reaction  ReactionConfig  `yaml:"reaction"`
	Redis     RedisConfig     `yaml:"redis"`
	NATS      NATSConfig      `yaml:"nats"`
	Log       LogConfig       `yaml:"log"`
	RateLimit RateLimitConfig `yaml:"ratelimit"`
}

// ServerConfig HTTP 服務
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	PublicBaseURL   string        `yaml:"public_base_url"` // 分享連結的前綴
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	CORSAllow       []string      `yaml:"cors_allow"`
}

// RoomConfig 房間生命週期
type RoomConfig struct {
	WaitingTimeout    time.Duration            `yaml:"waiting_timeout"`
	DisconnectGrace   time.Duration            `yaml:"disconnect_grace"`
	TerminalGrace     time.Duration            `yaml:"terminal_grace"`
	DefaultClock      time.Duration            `yaml:"default_clock"`
	Clocks            map[string]time.Duration `yaml:"clocks"` // 遊戲 ID -> 思考時間
	MatchmakingWindow int                      `yaml:"matchmaking_window"`
	ObserverBuffer    int                      `yaml:"observer_buffer"`
}

// ReactionConfig 表情廣播
type ReactionConfig struct {
	Retention        time.Duration `yaml:"retention"`
	SweepInterval    time.Duration `yaml:"sweep_interval"`
	SubscriberBuffer int           `yaml:"subscriber_buffer"`
}

// RedisConfig 跨實例快照轉發
type RedisConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Addr          string `yaml:"addr"`
	Password      string `yaml:"password"`
	DB            int    `yaml:"db"`
	ChannelPrefix string `yaml:"channel_prefix"`
}

// NATSConfig 生命週期事件
type NATSConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

// LogConfig 日誌
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// RateLimitConfig 限流
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"` // 每個 IP 的 HTTP 請求
	Burst             int     `yaml:"burst"`
	FramesPerSecond   float64 `yaml:"frames_per_second"` // 每條 WebSocket 連線的訊框
	FrameBurst        int     `yaml:"frame_burst"`
}

// Default 預設配置
func Default() *Config {
	room := coordinator.DefaultConfig()
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			PublicBaseURL:   "http://localhost:8080/",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			CORSAllow:       []string{"http://localhost:5173"},
		},
		Room: RoomConfig{
			WaitingTimeout:    room.WaitingTimeout,
			DisconnectGrace:   room.DisconnectGrace,
			TerminalGrace:     room.TerminalGrace,
			DefaultClock:      room.DefaultClock,
			MatchmakingWindow: room.MatchmakingWindow,
			ObserverBuffer:    room.ObserverBuffer,
		},
		Reaction: ReactionConfig{
			Retention:        room.ReactionRetention,
			SweepInterval:    room.SweepInterval,
			SubscriberBuffer: room.SubscriberBuffer,
		},
		Redis: RedisConfig{
			Addr:          "localhost:6379",
			ChannelPrefix: "room",
		},
		NATS: NATSConfig{
			URL:           "nats://localhost:4222",
			SubjectPrefix: "rooms",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 20,
			Burst:             40,
			FramesPerSecond:   10,
			FrameBurst:        20,
		},
	}
}

// Load 依序套用預設值、.env、配置檔與環境變數
//
// path 為空時不讀配置檔。
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := Default()
	if path != "" {
		// #nosec G304 - path 來自命令列參數或部署環境
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv 環境變數覆蓋
func (c *Config) applyEnv() error {
	c.Server.Addr = getEnv("HTTP_ADDR", c.Server.Addr)
	c.Server.PublicBaseURL = getEnv("PUBLIC_BASE_URL", c.Server.PublicBaseURL)
	if v := os.Getenv("CORS_ALLOW"); v != "" {
		c.Server.CORSAllow = splitCSV(v)
	}

	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv("LOG_FORMAT", c.Log.Format)

	// 設定了位址即代表啟用
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
		c.Redis.Enabled = true
	}
	c.Redis.Password = getEnv("REDIS_PASSWORD", c.Redis.Password)

	if v := os.Getenv("NATS_URL"); v != "" {
		c.NATS.URL = v
		c.NATS.Enabled = true
	}

	var err error
	if c.Room.WaitingTimeout, err = getEnvDuration("ROOM_WAITING_TIMEOUT", c.Room.WaitingTimeout); err != nil {
		return err
	}
	if c.Room.DisconnectGrace, err = getEnvDuration("ROOM_DISCONNECT_GRACE", c.Room.DisconnectGrace); err != nil {
		return err
	}
	if c.Room.DefaultClock, err = getEnvDuration("ROOM_DEFAULT_CLOCK", c.Room.DefaultClock); err != nil {
		return err
	}
	return nil
}

// Validate 驗證配置
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}
	durations := map[string]time.Duration{
		"room.waiting_timeout":   c.Room.WaitingTimeout,
		"room.disconnect_grace":  c.Room.DisconnectGrace,
		"room.terminal_grace":    c.Room.TerminalGrace,
		"room.default_clock":     c.Room.DefaultClock,
		"reaction.retention":     c.Reaction.Retention,
		"reaction.sweep_interval": c.Reaction.SweepInterval,
	}
	for name, d := range durations {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", name, d))
		}
	}
	if c.Reaction.SweepInterval > c.Reaction.Retention {
		errs = append(errs, fmt.Errorf("reaction.sweep_interval %s exceeds retention %s",
			c.Reaction.SweepInterval, c.Reaction.Retention))
	}
	for id, d := range c.Room.Clocks {
		if _, ok := game.ParseKind(id); !ok {
			errs = append(errs, fmt.Errorf("room.clocks: unknown game %q", id))
		}
		if d <= 0 {
			errs = append(errs, fmt.Errorf("room.clocks.%s must be positive", id))
		}
	}
	if c.Room.MatchmakingWindow < 0 {
		errs = append(errs, errors.New("room.matchmaking_window must not be negative"))
	}
	if !logger.ValidLevel(c.Log.Level) {
		errs = append(errs, fmt.Errorf("log.level %q is not one of debug, info, warn, error", c.Log.Level))
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		errs = append(errs, fmt.Errorf("log.format %q is not text or json", c.Log.Format))
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		errs = append(errs, errors.New("redis.addr is required when redis is enabled"))
	}
	if c.NATS.Enabled && c.NATS.URL == "" {
		errs = append(errs, errors.New("nats.url is required when nats is enabled"))
	}
	if c.RateLimit.RequestsPerSecond < 0 || c.RateLimit.FramesPerSecond < 0 {
		errs = append(errs, errors.New("ratelimit rates must not be negative"))
	}

	return errors.Join(errs...)
}

// Coordinator 轉換為協調器配置
func (c *Config) Coordinator() coordinator.Config {
	clocks := make(map[game.Kind]time.Duration, len(c.Room.Clocks))
	for id, d := range c.Room.Clocks {
		if kind, ok := game.ParseKind(id); ok {
			clocks[kind] = d
		}
	}
	return coordinator.Config{
		WaitingTimeout:    c.Room.WaitingTimeout,
		DisconnectGrace:   c.Room.DisconnectGrace,
		TerminalGrace:     c.Room.TerminalGrace,
		DefaultClock:      c.Room.DefaultClock,
		Clocks:            clocks,
		ReactionRetention: c.Reaction.Retention,
		SweepInterval:     c.Reaction.SweepInterval,
		SubscriberBuffer:  c.Reaction.SubscriberBuffer,
		ObserverBuffer:    c.Room.ObserverBuffer,
		MatchmakingWindow: c.Room.MatchmakingWindow,
	}
}

// getEnv 讀取環境變數，未設定時使用預設值
func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// getEnvDuration 讀取時間長度環境變數
func getEnvDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		// 也接受純數字秒數
		secs, convErr := strconv.Atoi(v)
		if convErr != nil {
			return 0, fmt.Errorf("%s: %w", key, err)
		}
		d = time.Duration(secs) * time.Second
	}
	return d, nil
}

// splitCSV 切開逗號分隔的清單
func splitCSV(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
