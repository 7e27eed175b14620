package bus

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"

	"github.com/koopa0/system-design/14-game-room/internal/coordinator"
	"github.com/koopa0/system-design/14-game-room/internal/session"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestChannel(t *testing.T) {
	assert.Equal(t, "room:AB12CD", Channel(DefaultChannelPrefix, "AB12CD"))
}

// TestFilter 測試來源、房間與版本過濾
func TestFilter(t *testing.T) {
	f := &filter{origin: "self", code: "AB12CD"}
	msg := func(origin, code string, version uint64) Message {
		return Message{Origin: origin, Code: code, Snapshot: coordinator.Snapshot{Code: code, Version: version}}
	}

	tests := []struct {
		name string
		m    Message
		want bool
	}{
		{name: "own message", m: msg("self", "AB12CD", 1), want: false},
		{name: "first remote version", m: msg("peer", "AB12CD", 2), want: true},
		{name: "older version", m: msg("peer", "AB12CD", 1), want: false},
		{name: "same version", m: msg("peer", "AB12CD", 2), want: false},
		{name: "other room", m: msg("peer", "ZZZZZZ", 9), want: false},
		{name: "newer version", m: msg("peer", "AB12CD", 5), want: true},
	}

	// 依序執行，後面的案例依賴前面累積的版本
	for _, tt := range tests {
		assert.Equal(t, tt.want, f.accept(tt.m), tt.name)
	}
	assert.Equal(t, uint64(5), f.last)
}

// TestLatest 測試緩衝滿時保留最新快照
func TestLatest(t *testing.T) {
	ch := make(chan coordinator.Snapshot, 1)
	latest(ch, coordinator.Snapshot{Version: 1})
	latest(ch, coordinator.Snapshot{Version: 2})
	latest(ch, coordinator.Snapshot{Version: 3})

	require.Len(t, ch, 1)
	assert.Equal(t, uint64(3), (<-ch).Version)
}

// TestRedisBus_Relay 兩個實例透過真實 Redis 轉發快照
func TestRedisBus_Relay(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	container, err := tcredis.Run(ctx, "redis:7-alpine")
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	endpoint, err := container.Endpoint(ctx, "")
	require.NoError(t, err)

	owner, err := NewRedisBus(ctx, &redis.Options{Addr: endpoint}, "", discard())
	require.NoError(t, err)
	defer owner.Close()

	peer, err := NewRedisBus(ctx, &redis.Options{Addr: endpoint}, "", discard())
	require.NoError(t, err)
	defer peer.Close()

	require.NotEqual(t, owner.Origin(), peer.Origin())

	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	remote, err := peer.Subscribe(subCtx, "AB12CD")
	require.NoError(t, err)
	self, err := owner.Subscribe(subCtx, "AB12CD")
	require.NoError(t, err)

	owner.Relay(coordinator.Snapshot{Code: "AB12CD", Version: 1, State: session.StateWaiting})
	owner.Relay(coordinator.Snapshot{Code: "QQQQQQ", Version: 7, State: session.StateWaiting})
	owner.Relay(coordinator.Snapshot{Code: "AB12CD", Version: 2, State: session.StateActive})

	require.Eventually(t, func() bool {
		select {
		case s := <-remote:
			return s.Version == 2 && s.State == session.StateActive
		default:
			return false
		}
	}, 5*time.Second, 20*time.Millisecond)

	select {
	case s := <-self:
		t.Fatalf("received own snapshot %d", s.Version)
	case <-time.After(100 * time.Millisecond):
	}

	cancel()
	require.Eventually(t, func() bool {
		_, ok := <-remote
		return !ok
	}, 2*time.Second, 10*time.Millisecond)
}

// TestNewRedisBus_Unreachable 測試連不上時回傳錯誤
func TestNewRedisBus_Unreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := NewRedisBus(ctx, &redis.Options{Addr: "127.0.0.1:1", DialTimeout: 100 * time.Millisecond, MaxRetries: -1}, "", discard())
	assert.Error(t, err)
}
