package reaction_test

import (
	"sync"
	"testing"
	"time"

	"github.com/koopa0/system-design/14-game-room/internal/reaction"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock 可手動推進的時鐘
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1700000000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// TestChannel_Retention 測試 3 秒保留視窗
func TestChannel_Retention(t *testing.T) {
	clock := newFakeClock()
	ch := reaction.New(reaction.DefaultRetention, reaction.WithClock(clock.Now))

	ev, ok := ch.Publish(0, "🔥")
	require.True(t, ok)
	assert.Equal(t, uint64(1), ev.Seq)

	clock.Advance(3000 * time.Millisecond)
	live := ch.Live()
	require.Len(t, live, 1)
	assert.Equal(t, reaction.Symbol("🔥"), live[0].Symbol)

	clock.Advance(100 * time.Millisecond)
	assert.Empty(t, ch.Live())
	assert.Equal(t, 0, ch.Len(), "expired events must be evicted, not just hidden")
}

// TestChannel_LiveWindowProperty 測試所有返回事件都在保留視窗內
func TestChannel_LiveWindowProperty(t *testing.T) {
	clock := newFakeClock()
	ch := reaction.New(reaction.DefaultRetention, reaction.WithClock(clock.Now))

	for i := 0; i < 100; i++ {
		ch.Publish(i%2, reaction.Alphabet[i%len(reaction.Alphabet)])
		clock.Advance(137 * time.Millisecond)

		now := clock.Now()
		for _, ev := range ch.Live() {
			assert.LessOrEqual(t, now.Sub(ev.At), 3000*time.Millisecond)
		}
	}
	// 100 * 137ms 之後，視窗內最多 22 個事件
	assert.LessOrEqual(t, ch.Len(), 22)
}

// TestChannel_Evict 測試掃描淘汰
func TestChannel_Evict(t *testing.T) {
	clock := newFakeClock()
	ch := reaction.New(time.Second, reaction.WithClock(clock.Now))

	ch.Publish(0, "😊")
	clock.Advance(500 * time.Millisecond)
	ch.Publish(1, "😎")

	clock.Advance(600 * time.Millisecond)
	assert.Equal(t, 1, ch.Evict())
	assert.Equal(t, 1, ch.Len())

	clock.Advance(time.Second)
	assert.Equal(t, 1, ch.Evict())
	assert.Equal(t, 0, ch.Evict())
}

// TestChannel_SubscribeNoReplay 測試晚到的訂閱者不會收到歷史事件
func TestChannel_SubscribeNoReplay(t *testing.T) {
	ch := reaction.New(reaction.DefaultRetention)

	ch.Publish(0, "👍")
	sub := ch.Subscribe()
	defer sub.Close()

	ch.Publish(1, "🎉")

	select {
	case ev := <-sub.Events():
		assert.Equal(t, reaction.Symbol("🎉"), ev.Symbol)
		assert.Equal(t, 1, ev.Seat)
	case <-time.After(time.Second):
		t.Fatal("subscriber did not receive event")
	}

	select {
	case ev := <-sub.Events():
		t.Fatalf("unexpected extra event %+v", ev)
	default:
	}
}

// TestChannel_EmissionOrder 測試同一房間內依發送順序送達
func TestChannel_EmissionOrder(t *testing.T) {
	ch := reaction.New(reaction.DefaultRetention, reaction.WithSubscriberBuffer(64))
	sub := ch.Subscribe()
	defer sub.Close()

	for i := 0; i < 50; i++ {
		ch.Publish(i%2, "✨")
	}

	var last uint64
	for i := 0; i < 50; i++ {
		ev := <-sub.Events()
		assert.Greater(t, ev.Seq, last)
		last = ev.Seq
	}
}

// TestChannel_PublishNeverBlocks 測試慢訂閱者不會阻塞發送
func TestChannel_PublishNeverBlocks(t *testing.T) {
	ch := reaction.New(reaction.DefaultRetention, reaction.WithSubscriberBuffer(2))
	slow := ch.Subscribe()
	defer slow.Close()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			ch.Publish(0, "😂")
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
	assert.Equal(t, uint64(98), slow.Dropped())
}

// TestChannel_MaxEvents 測試突發量上限
func TestChannel_MaxEvents(t *testing.T) {
	ch := reaction.New(reaction.DefaultRetention, reaction.WithMaxEvents(10))
	for i := 0; i < 25; i++ {
		ch.Publish(0, "💪")
	}

	live := ch.Live()
	require.Len(t, live, 10)
	assert.Equal(t, uint64(16), live[0].Seq)
}

// TestChannel_Close 測試關閉通道
func TestChannel_Close(t *testing.T) {
	ch := reaction.New(reaction.DefaultRetention)
	sub := ch.Subscribe()
	ch.Publish(0, "🤔")

	ch.Close()
	ch.Close()

	// 先收到已投遞的事件，再收到關閉
	_, ok := <-sub.Events()
	assert.True(t, ok)
	_, ok = <-sub.Events()
	assert.False(t, ok)

	_, ok = ch.Publish(0, "🤔")
	assert.False(t, ok)
	assert.Equal(t, 0, ch.Subscribers())

	late := ch.Subscribe()
	_, ok = <-late.Events()
	assert.False(t, ok)

	for _, s := range []*reaction.Subscription{sub, late} {
		select {
		case <-s.Done():
		default:
			t.Fatal("subscription not marked done after close")
		}
	}

	// 重複取消訂閱不會 panic
	sub.Close()
	sub.Close()
}

// TestValidSymbol 測試表情字母表
func TestValidSymbol(t *testing.T) {
	assert.True(t, reaction.ValidSymbol("🔥"))
	assert.True(t, reaction.ValidSymbol("❤️"))
	assert.False(t, reaction.ValidSymbol("💩"))
	assert.False(t, reaction.ValidSymbol(""))
	assert.Len(t, reaction.Alphabet, 12)
}
