// Package reaction 實現房間內的短暫表情廣播
//
// 系統設計問題：
//
//	表情反應量大、價值低、只需存活 3 秒，如何廣播又不讓記憶體無限成長？
//
// 設計方案：
//
//	✅ 時間索引佇列：事件依發送順序追加，過期事件一定在佇列前端
//	✅ 懶淘汰 + 定期掃描：Publish / Live 時順手淘汰，協調器另有掃描
//	✅ 不為每個事件開計時器：事件量再大也只有一個掃描迴圈
//	✅ 非阻塞扇出：訂閱者緩衝滿就丟棄（表情只是裝飾，不影響對局）
//	✅ 訂閱不重播：晚到的訂閱者只看到訂閱之後的事件
package reaction

import (
	"sync"
	"sync/atomic"
	"time"
)

// DefaultRetention 事件保留時間
const DefaultRetention = 3 * time.Second

// Symbol 表情符號
type Symbol string

// Alphabet 可用的表情符號
var Alphabet = []Symbol{"😊", "😎", "🔥", "👍", "❤️", "🎉", "😂", "💪", "🤔", "👏", "🙌", "✨"}

// ValidSymbol 檢查表情是否在字母表內
func ValidSymbol(s Symbol) bool {
	for _, a := range Alphabet {
		if a == s {
			return true
		}
	}
	return false
}

// Event 一次表情反應
type Event struct {
	Seq    uint64    `json:"seq"`
	Seat   int       `json:"seat"`
	Symbol Symbol    `json:"symbol"`
	At     time.Time `json:"at"`
}

// Channel 單一房間的表情廣播通道（並發安全）
type Channel struct {
	mu        sync.Mutex
	retention time.Duration
	maxEvents int
	buffer    int
	now       func() time.Time

	events []Event
	seq    uint64
	subs   map[uint64]*Subscription
	nextID uint64
	closed bool
}

// Option 通道選項
type Option func(*Channel)

// WithClock 指定時鐘（測試用）
func WithClock(now func() time.Time) Option {
	return func(c *Channel) { c.now = now }
}

// WithSubscriberBuffer 指定訂閱者緩衝大小
func WithSubscriberBuffer(n int) Option {
	return func(c *Channel) {
		if n > 0 {
			c.buffer = n
		}
	}
}

// WithMaxEvents 限制保留視窗內的事件數（超過時淘汰最舊的）
func WithMaxEvents(n int) Option {
	return func(c *Channel) {
		if n > 0 {
			c.maxEvents = n
		}
	}
}

// New 創建表情通道
func New(retention time.Duration, opts ...Option) *Channel {
	if retention <= 0 {
		retention = DefaultRetention
	}
	c := &Channel{
		retention: retention,
		maxEvents: 256,
		buffer:    32,
		now:       time.Now,
		subs:      make(map[uint64]*Subscription),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Retention 保留時間
func (c *Channel) Retention() time.Duration { return c.retention }

// Publish 發送表情，永不阻塞
//
// 通道已關閉時返回 false（房間已銷毀）。
func (c *Channel) Publish(seat int, symbol Symbol) (Event, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return Event{}, false
	}

	now := c.now()
	c.evictLocked(now)

	c.seq++
	ev := Event{Seq: c.seq, Seat: seat, Symbol: symbol, At: now}
	c.events = append(c.events, ev)
	if over := len(c.events) - c.maxEvents; over > 0 {
		c.events = c.events[over:]
	}

	for _, sub := range c.subs {
		sub.deliver(ev)
	}
	return ev, true
}

// Live 返回仍在保留視窗內的事件（副本）
func (c *Channel) Live() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.evictLocked(c.now())
	out := make([]Event, len(c.events))
	copy(out, c.events)
	return out
}

// Evict 淘汰過期事件，返回淘汰數量
func (c *Channel) Evict() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.evictLocked(c.now())
}

// Len 目前保留的事件數（不觸發淘汰）
func (c *Channel) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

// evictLocked 從佇列前端移除 now - At > retention 的事件
func (c *Channel) evictLocked(now time.Time) int {
	n := 0
	for n < len(c.events) && now.Sub(c.events[n].At) > c.retention {
		n++
	}
	if n == 0 {
		return 0
	}
	// 複製剩餘事件，讓舊底層陣列可被回收
	remaining := make([]Event, len(c.events)-n)
	copy(remaining, c.events[n:])
	c.events = remaining
	return n
}

// Subscribe 訂閱之後發送的事件
//
// 通道已關閉時返回的訂閱會立刻結束。
func (c *Channel) Subscribe() *Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()

	sub := &Subscription{
		ch:      make(chan Event, c.buffer),
		done:    make(chan struct{}),
		channel: c,
	}
	if c.closed {
		sub.finish()
		return sub
	}

	c.nextID++
	sub.id = c.nextID
	c.subs[sub.id] = sub
	return sub
}

// Subscribers 目前訂閱者數量
func (c *Channel) Subscribers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subs)
}

// Close 關閉通道：結束所有訂閱並丟棄保留的事件
func (c *Channel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	for id, sub := range c.subs {
		sub.finish()
		delete(c.subs, id)
	}
	c.events = nil
}

func (c *Channel) unsubscribe(sub *Subscription) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.subs[sub.id]; ok {
		delete(c.subs, sub.id)
		sub.finish()
	}
}

// Subscription 一個訂閱者
type Subscription struct {
	id      uint64
	ch      chan Event
	done    chan struct{}
	channel *Channel
	once    sync.Once
	dropped atomic.Uint64
}

// Events 事件串流；訂閱結束時關閉
func (s *Subscription) Events() <-chan Event {
	return s.ch
}

// Done 訂閱結束（取消或通道關閉）時關閉
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Dropped 因緩衝滿而丟棄的事件數
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// Close 取消訂閱（可重複呼叫）
func (s *Subscription) Close() {
	s.channel.unsubscribe(s)
}

// finish 結束訂閱（需持有通道鎖）
func (s *Subscription) finish() {
	s.once.Do(func() {
		close(s.ch)
		close(s.done)
	})
}

// deliver 非阻塞投遞（需持有通道鎖）
func (s *Subscription) deliver(ev Event) {
	select {
	case s.ch <- ev:
	default:
		s.dropped.Add(1)
	}
}
