package coordinator

import (
	"time"

	"github.com/koopa0/system-design/14-game-room/internal/game"
	"github.com/koopa0/system-design/14-game-room/internal/reaction"
)

// Config 協調器配置
type Config struct {
	// WaitingTimeout 等待第二位玩家的上限，逾時房間銷毀
	WaitingTimeout time.Duration

	// DisconnectGrace 斷線後等待重連的時間
	DisconnectGrace time.Duration

	// TerminalGrace 終局後等待雙方確認的上限
	TerminalGrace time.Duration

	// DefaultClock 每位玩家的思考時間
	DefaultClock time.Duration

	// Clocks 依遊戲覆寫思考時間
	Clocks map[game.Kind]time.Duration

	// ReactionRetention 表情保留時間
	ReactionRetention time.Duration

	// SweepInterval 掃描過期表情的間隔
	SweepInterval time.Duration

	// SubscriberBuffer 表情訂閱者緩衝
	SubscriberBuffer int

	// ObserverBuffer 快照觀察者緩衝（滿了只保留最新）
	ObserverBuffer int

	// MatchmakingWindow 配對允許的積分差
	MatchmakingWindow int
}

// DefaultConfig 預設配置
func DefaultConfig() Config {
	return Config{
		WaitingTimeout:    10 * time.Minute,
		DisconnectGrace:   30 * time.Second,
		TerminalGrace:     30 * time.Second,
		DefaultClock:      game.DefaultClock,
		ReactionRetention: reaction.DefaultRetention,
		SweepInterval:     250 * time.Millisecond,
		SubscriberBuffer:  32,
		ObserverBuffer:    8,
		MatchmakingWindow: 200,
	}
}

// ClockFor 取得遊戲的思考時間
func (c Config) ClockFor(kind game.Kind) time.Duration {
	if d, ok := c.Clocks[kind]; ok && d > 0 {
		return d
	}
	if c.DefaultClock > 0 {
		return c.DefaultClock
	}
	return game.DefaultClock
}

// withDefaults 補齊未設定的欄位
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.WaitingTimeout <= 0 {
		c.WaitingTimeout = def.WaitingTimeout
	}
	if c.DisconnectGrace <= 0 {
		c.DisconnectGrace = def.DisconnectGrace
	}
	if c.TerminalGrace <= 0 {
		c.TerminalGrace = def.TerminalGrace
	}
	if c.DefaultClock <= 0 {
		c.DefaultClock = def.DefaultClock
	}
	if c.ReactionRetention <= 0 {
		c.ReactionRetention = def.ReactionRetention
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = def.SweepInterval
	}
	if c.SubscriberBuffer <= 0 {
		c.SubscriberBuffer = def.SubscriberBuffer
	}
	if c.ObserverBuffer <= 0 {
		c.ObserverBuffer = def.ObserverBuffer
	}
	if c.MatchmakingWindow < 0 {
		c.MatchmakingWindow = def.MatchmakingWindow
	}
	return c
}
