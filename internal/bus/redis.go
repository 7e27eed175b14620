// Package bus 跨實例的房間快照轉發
//
// 系統設計問題：
//
//	房間只存在於建立它的那台實例的記憶體裡。部署多台時，
//	觀戰者的 WebSocket 可能落在另一台，拿不到房間快照。
//
// 設計方案 ✅：
//
//	擁有房間的實例在每次發布新版本時，把快照 PUBLISH 到 room:{code}；
//	其他實例的觀戰連線 SUBSCRIBE 同一個頻道，收到後直接推給客戶端。
//	每台實例有自己的 origin，過濾掉自己發出的訊息；版本號只進不退，
//	過濾掉亂序抵達的舊版本。
//
// Redis pub/sub 不保證送達：漏掉的版本由下一個版本覆蓋，快照本身是完整狀態。
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/koopa0/system-design/14-game-room/internal/coordinator"
)

// DefaultChannelPrefix 頻道前綴
const DefaultChannelPrefix = "room"

// publishTimeout 單次 PUBLISH 的逾時
const publishTimeout = 2 * time.Second

// Message 頻道上的訊息
type Message struct {
	Origin   string               `json:"origin"`
	Code     string               `json:"code"`
	Snapshot coordinator.Snapshot `json:"snapshot"`
}

// RedisBus 以 Redis pub/sub 轉發快照
type RedisBus struct {
	rdb    *redis.Client
	origin string
	prefix string
	logger *slog.Logger
}

var _ coordinator.Relay = (*RedisBus)(nil)

// NewRedisBus 連線並確認 Redis 可用
func NewRedisBus(ctx context.Context, opts *redis.Options, prefix string, logger *slog.Logger) (*RedisBus, error) {
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewRedisBusWithClient(rdb, prefix, logger), nil
}

// NewRedisBusWithClient 使用既有的客戶端
func NewRedisBusWithClient(rdb *redis.Client, prefix string, logger *slog.Logger) *RedisBus {
	if prefix == "" {
		prefix = DefaultChannelPrefix
	}
	return &RedisBus{
		rdb:    rdb,
		origin: uuid.NewString(),
		prefix: prefix,
		logger: logger,
	}
}

// Origin 本實例的識別碼
func (b *RedisBus) Origin() string {
	return b.origin
}

// Channel 房間頻道名稱
func Channel(prefix, code string) string {
	return prefix + ":" + code
}

// Relay 發布快照（實作 coordinator.Relay）
//
// 失敗只記錄，不影響房間本身。
func (b *RedisBus) Relay(s coordinator.Snapshot) {
	raw, err := json.Marshal(Message{Origin: b.origin, Code: s.Code, Snapshot: s})
	if err != nil {
		b.logger.Error("序列化快照失敗", "code", s.Code, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	if err := b.rdb.Publish(ctx, Channel(b.prefix, s.Code), raw).Err(); err != nil {
		b.logger.Warn("轉發快照失敗", "code", s.Code, "version", s.Version, "error", err)
	}
}

// Subscribe 訂閱其他實例轉發的房間快照
//
// 訂閱確認後才返回。ctx 結束時通道關閉；
// 消費者跟不上時只保留最新的快照。
func (b *RedisBus) Subscribe(ctx context.Context, code string) (<-chan coordinator.Snapshot, error) {
	pubsub := b.rdb.Subscribe(ctx, Channel(b.prefix, code))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", code, err)
	}

	out := make(chan coordinator.Snapshot, 1)
	f := &filter{origin: b.origin, code: code}

	go func() {
		defer close(out)
		defer pubsub.Close()

		msgs := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var m Message
				if err := json.Unmarshal([]byte(msg.Payload), &m); err != nil {
					b.logger.Warn("無法解析轉發訊息", "channel", msg.Channel, "error", err)
					continue
				}
				if !f.accept(m) {
					continue
				}
				latest(out, m.Snapshot)
			}
		}
	}()

	return out, nil
}

// Close 關閉 Redis 連線
func (b *RedisBus) Close() error {
	return b.rdb.Close()
}

// filter 丟掉自己發的、別的房間的、以及舊版本的訊息
type filter struct {
	origin string
	code   string
	last   uint64
}

func (f *filter) accept(m Message) bool {
	if m.Origin == f.origin || m.Code != f.code {
		return false
	}
	if m.Snapshot.Version <= f.last {
		return false
	}
	f.last = m.Snapshot.Version
	return true
}

// latest 非阻塞投遞，滿了就換成最新的
func latest(ch chan coordinator.Snapshot, s coordinator.Snapshot) {
	select {
	case ch <- s:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- s:
	default:
	}
}
