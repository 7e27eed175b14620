package coordinator_test

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koopa0/system-design/14-game-room/internal/coordinator"
	"github.com/koopa0/system-design/14-game-room/internal/game"
	"github.com/koopa0/system-design/14-game-room/internal/presence"
	"github.com/koopa0/system-design/14-game-room/internal/session"
)

// TestStress_ConcurrentRoomCreation 測試併發創建房間，代碼不重複
func TestStress_ConcurrentRoomCreation(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping stress test in short mode")
	}

	c := newTestCoordinator(t, nil)

	const (
		numGoroutines     = 100
		roomsPerGoroutine = 10
	)

	var (
		wg         sync.WaitGroup
		errorCount atomic.Int32
		codes      sync.Map
		duplicates atomic.Int32
	)
	kinds := game.Catalog()

	start := time.Now()
	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func(goroutineID int) {
			defer wg.Done()
			for j := 0; j < roomsPerGoroutine; j++ {
				kind := kinds[(goroutineID+j)%len(kinds)].Kind
				ref, err := c.CreateRoom(kind, presence.Profile{ID: fmt.Sprintf("host_%d_%d", goroutineID, j)})
				if err != nil {
					errorCount.Add(1)
					continue
				}
				if _, loaded := codes.LoadOrStore(ref.Code, struct{}{}); loaded {
					duplicates.Add(1)
				}
			}
		}(i)
	}
	wg.Wait()
	duration := time.Since(start)

	t.Logf("創建房間壓力測試：%d 間，耗時 %v，%.0f rooms/sec",
		numGoroutines*roomsPerGoroutine, duration,
		float64(numGoroutines*roomsPerGoroutine)/duration.Seconds())

	assert.Equal(t, int32(0), errorCount.Load())
	assert.Equal(t, int32(0), duplicates.Load())

	stats := c.Stats()
	assert.Equal(t, numGoroutines*roomsPerGoroutine, stats.TotalRooms)
	assert.Equal(t, numGoroutines*roomsPerGoroutine, stats.ByState[session.StateWaiting])
	assert.Equal(t, int64(numGoroutines*roomsPerGoroutine), stats.Timers, "one waiting timer per room")
}

// TestStress_RoomLifecycle 反覆建房、加入、離開，最後不留任何房間或計時器
func TestStress_RoomLifecycle(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping stress test in short mode")
	}

	c := newTestCoordinator(t, func(cfg *coordinator.Config) {
		cfg.TerminalGrace = 20 * time.Millisecond
	})

	const (
		numPlayers = 50
		rounds     = 20
	)

	var (
		wg         sync.WaitGroup
		errorCount atomic.Int32
	)

	for i := 0; i < numPlayers; i++ {
		wg.Add(1)
		go func(playerID int) {
			defer wg.Done()
			host := presence.Profile{ID: fmt.Sprintf("host_%d", playerID)}
			guest := presence.Profile{ID: fmt.Sprintf("guest_%d", playerID)}

			for j := 0; j < rounds; j++ {
				ref, err := c.CreateRoom(game.Connect4, host)
				if err != nil {
					errorCount.Add(1)
					continue
				}

				// 偶數回合：建立者直接離開；奇數回合：對局中離開
				if j%2 == 0 {
					if err := c.LeaveRoom(ref.Code, 0); err != nil {
						errorCount.Add(1)
					}
					continue
				}
				if _, err := c.JoinRoom(ref.Code, guest); err != nil {
					errorCount.Add(1)
					continue
				}
				if _, err := c.AdvanceTurn(ref.Code, 0); err != nil {
					errorCount.Add(1)
				}
				if err := c.LeaveRoom(ref.Code, 1); err != nil {
					errorCount.Add(1)
				}
				if err := c.LeaveRoom(ref.Code, 0); err != nil {
					errorCount.Add(1)
				}
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(0), errorCount.Load())
	require.Eventually(t, func() bool {
		return c.RoomCount() == 0 && c.ActiveTimers() == 0
	}, 2*time.Second, 10*time.Millisecond)
}
