package coordinator

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/koopa0/system-design/14-game-room/internal/events"
	"github.com/koopa0/system-design/14-game-room/internal/game"
	"github.com/koopa0/system-design/14-game-room/internal/metrics"
	"github.com/koopa0/system-design/14-game-room/internal/roomcode"
	"github.com/koopa0/system-design/14-game-room/internal/session"
	apperrors "github.com/koopa0/system-design/14-game-room/pkg/errors"
)

// Relay 接收每個新版本的快照（在房間鎖外呼叫，可做網路 I/O）
type Relay interface {
	Relay(s Snapshot)
}

// Coordinator 房間協調器
type Coordinator struct {
	cfg     Config
	logger  *slog.Logger
	codes   *roomcode.Generator
	sink    events.Sink
	relay   Relay
	metrics *metrics.Metrics

	mu      sync.RWMutex
	rooms   map[string]*room // code -> room
	stopped bool

	timers   atomic.Int64
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// Option 協調器選項
type Option func(*Coordinator)

// WithGenerator 指定房間代碼產生器
func WithGenerator(g *roomcode.Generator) Option {
	return func(c *Coordinator) { c.codes = g }
}

// WithEventSink 指定生命週期事件接收端
func WithEventSink(s events.Sink) Option {
	return func(c *Coordinator) { c.sink = s }
}

// WithRelay 指定快照轉發（跨實例觀戰）
func WithRelay(r Relay) Option {
	return func(c *Coordinator) { c.relay = r }
}

// WithMetrics 指定指標
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// New 創建協調器並啟動掃描迴圈
func New(cfg Config, logger *slog.Logger, opts ...Option) *Coordinator {
	c := &Coordinator{
		cfg:    cfg.withDefaults(),
		logger: logger,
		codes:  roomcode.NewGenerator(),
		sink:   events.Nop{},
		rooms:  make(map[string]*room),
		stopCh: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.wg.Add(1)
	go c.sweepLoop()

	return c
}

// Config 目前配置
func (c *Coordinator) Config() Config {
	return c.cfg
}

// lookup 依代碼找房間
func (c *Coordinator) lookup(code string) (*room, error) {
	code = roomcode.Normalize(code)

	c.mu.RLock()
	r, ok := c.rooms[code]
	c.mu.RUnlock()

	if !ok {
		return nil, apperrors.ErrRoomNotFound
	}
	return r, nil
}

// unregister 從註冊表移除已銷毀的房間
func (c *Coordinator) unregister(r *room) {
	c.mu.Lock()
	if cur, ok := c.rooms[r.code]; ok && cur == r {
		delete(c.rooms, r.code)
	}
	c.mu.Unlock()
}

// liveRooms 目前所有房間（副本）
func (c *Coordinator) liveRooms() []*room {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]*room, 0, len(c.rooms))
	for _, r := range c.rooms {
		out = append(out, r)
	}
	return out
}

// op 在房間鎖內執行的變更
type op func(r *room, now time.Time) error

// withRoom 找到房間並在房間鎖內執行 fn
func (c *Coordinator) withRoom(code string, fn op) error {
	r, err := c.lookup(code)
	if err != nil {
		return err
	}
	return c.apply(r, fn)
}

// apply 序列化執行一次房間變更
//
// 順序：fn → 不變量檢查 → 狀態轉換的副作用（計時器、指標）→ 發布快照 → 送出事件。
// 事件在房間鎖內送出，同一房間的事件順序與狀態轉換一致；
// 快照轉發與註冊表移除在解鎖之後進行。
func (c *Coordinator) apply(r *room, fn op) error {
	snap, destroyed, err := c.applyLocked(r, fn)

	if snap != nil && c.relay != nil {
		c.relay.Relay(*snap)
	}
	if destroyed {
		c.unregister(r)
	}
	return err
}

func (c *Coordinator) applyLocked(r *room, fn op) (snap *Snapshot, destroyed bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.destroyed {
		return nil, false, apperrors.ErrRoomNotFound
	}

	now := time.Now()
	err = c.run(r, fn, now)
	if !r.destroyed {
		c.syncState(r, now)
		if r.dirty {
			r.publish(now)
		}
	}
	return c.flushLocked(r), r.destroyed, err
}

// flushLocked 送出排隊的事件，返回待轉發的快照（需持有房間鎖）
func (c *Coordinator) flushLocked(r *room) *Snapshot {
	pending, snap := r.takePending()
	for _, ev := range pending {
		c.sink.Emit(ev)
	}
	return snap
}

// run 執行 fn 並把不變量 panic 轉為房間銷毀
func (c *Coordinator) run(r *room, fn op, now time.Time) (err error) {
	defer func() {
		v := recover()
		if v == nil {
			return
		}
		iv, ok := v.(invariantViolation)
		if !ok {
			panic(v)
		}
		c.logger.Error("房間不變量被破壞，銷毀房間",
			"code", r.code,
			"violation", iv.detail,
			"state", r.session.State())
		c.metrics.InvariantViolated()
		c.destroyLocked(r, now, "invariant_violation")
		err = apperrors.ErrInternal
	}()

	err = fn(r, now)
	if !r.destroyed {
		r.assertInvariants()
	}
	return err
}

// syncState 處理狀態轉換的副作用（需持有房間鎖）
func (c *Coordinator) syncState(r *room, now time.Time) {
	state := r.session.State()
	if state == r.reported {
		return
	}
	c.metrics.StateChanged(string(r.reported), string(state))
	r.reported = state
	r.touch()

	if !state.Terminal() {
		return
	}

	c.disarm(&r.clock)
	c.disarm(&r.waiting)
	for i := range r.grace {
		c.disarm(&r.grace[i])
	}
	for i, s := range r.seats.Snapshot() {
		if !s.Filled() {
			r.acked[i] = true
		}
	}
	c.arm(r, &r.terminal, c.cfg.TerminalGrace, func(r *room, now time.Time) error {
		c.logger.Info("終局確認逾時，銷毀房間", "code", r.code)
		c.destroyLocked(r, now, "terminal_grace")
		return nil
	})

	out := r.session.Outcome()
	typ := events.TypeFinished
	if state == session.StateAbandoned {
		typ = events.TypeAbandoned
	}
	data := map[string]any{}
	var seat *int
	if out != nil {
		c.metrics.Outcome(string(out.Reason))
		data["reason"] = out.Reason
		if out.WinnerSeat != nil {
			data["winner_seat"] = *out.WinnerSeat
		}
		seat = out.LoserSeat
	}
	r.emit(now, typ, seat, data)

	c.logger.Info("對局結束",
		"code", r.code,
		"state", state,
		"moves", r.session.MoveCount(),
		"outcome", out)
}

// destroyLocked 銷毀房間：停止所有計時器、關閉觀察者與表情通道（需持有房間鎖）
func (c *Coordinator) destroyLocked(r *room, now time.Time, reason string) {
	if r.destroyed {
		return
	}
	c.syncState(r, now)

	c.disarm(&r.clock)
	c.disarm(&r.waiting)
	c.disarm(&r.terminal)
	for i := range r.grace {
		c.disarm(&r.grace[i])
	}

	// 觀察者先拿到最後的狀態，再看到通道關閉
	r.publish(now)
	r.closeObservers()
	r.reactions.Close()

	r.destroyed = true
	c.metrics.RoomDestroyed(string(r.reported))
	r.emit(now, events.TypeDestroyed, nil, map[string]any{"reason": reason})

	c.logger.Info("房間已銷毀", "code", r.code, "reason", reason, "state", r.reported)
}

// arm 在房間上設定計時器，取代同一個位置上的舊計時器（需持有房間鎖）
//
// 回呼會重新取得房間鎖，並檢查世代號：被 disarm 或重新 arm 過的回呼什麼都不做。
func (c *Coordinator) arm(r *room, slot *timerSlot, d time.Duration, fire op) {
	c.disarm(slot)

	r.timerGen++
	gen := r.timerGen
	slot.gen = gen

	c.timers.Add(1)
	slot.t = time.AfterFunc(d, func() {
		c.timers.Add(-1)
		_ = c.apply(r, func(r *room, now time.Time) error {
			if slot.t == nil || slot.gen != gen {
				return nil
			}
			slot.t = nil
			return fire(r, now)
		})
	})
}

// disarm 停止計時器（需持有房間鎖）
func (c *Coordinator) disarm(slot *timerSlot) {
	if slot.t == nil {
		return
	}
	if slot.t.Stop() {
		c.timers.Add(-1)
	}
	slot.t = nil
}

// armClock 依行動方剩餘時間設定棋鐘計時器
func (c *Coordinator) armClock(r *room, now time.Time) {
	d, ok := r.session.UntilDepletion(now)
	if !ok {
		c.disarm(&r.clock)
		return
	}
	c.arm(r, &r.clock, d, func(r *room, now time.Time) error {
		if r.session.Tick(now) {
			c.logger.Info("棋鐘耗盡", "code", r.code, "seat", r.session.ToMove())
			return nil
		}
		// 提早觸發：補上剩餘時間
		c.armClock(r, now)
		return nil
	})
}

// ActiveTimers 尚未觸發也未停止的計時器數量
func (c *Coordinator) ActiveTimers() int64 {
	return c.timers.Load()
}

// RoomCount 存活房間數
func (c *Coordinator) RoomCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.rooms)
}

// sweepLoop 定期淘汰過期表情並補檢棋鐘
func (c *Coordinator) sweepLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.Sweep()
		case <-c.stopCh:
			return
		}
	}
}

// Sweep 執行一次掃描（公開方法供測試使用）
//
// 表情：淘汰過期事件；已發布快照若仍含過期表情，發布新版本讓觀察者看到移除。
// 棋鐘：計時器是主要機制，掃描只是保險，推算已耗盡才取房間鎖。
func (c *Coordinator) Sweep() {
	now := time.Now()
	retention := c.cfg.ReactionRetention

	for _, r := range c.liveRooms() {
		r.reactions.Evict()
		stale := r.staleReactions(now, retention)
		depleted := r.depleted(now)
		if !stale && !depleted {
			continue
		}
		_ = c.apply(r, func(r *room, now time.Time) error {
			if r.session.Tick(now) {
				c.logger.Info("棋鐘耗盡（掃描）", "code", r.code, "seat", r.session.ToMove())
			}
			if r.staleReactions(now, retention) {
				r.touch()
			}
			return nil
		})
	}
}

// Stop 停止協調器並銷毀所有房間
func (c *Coordinator) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
		c.wg.Wait()

		c.mu.Lock()
		c.stopped = true
		c.mu.Unlock()

		for _, r := range c.liveRooms() {
			_ = c.apply(r, func(r *room, now time.Time) error {
				c.destroyLocked(r, now, "server_shutdown")
				return nil
			})
		}

		c.logger.Info("房間協調器已停止")
	})
}

// Stats 統計資訊
type Stats struct {
	TotalRooms   int                   `json:"total_rooms"`
	TotalPlayers int                   `json:"total_players"`
	ByState      map[session.State]int `json:"by_state"`
	ByGame       map[game.Kind]int     `json:"by_game"`
	OpenRooms    int                   `json:"open_rooms"`
	Timers       int64                 `json:"timers"`
}

// Stats 依已發布的快照彙總（不取房間鎖）
func (c *Coordinator) Stats() Stats {
	st := Stats{
		ByState: make(map[session.State]int),
		ByGame:  make(map[game.Kind]int),
		Timers:  c.ActiveTimers(),
	}
	for _, r := range c.liveRooms() {
		s := r.snap.Load()
		if s == nil {
			continue
		}
		st.TotalRooms++
		st.TotalPlayers += s.Filled()
		st.ByState[s.State]++
		st.ByGame[s.Game]++
		if s.Open && s.State == session.StateWaiting {
			st.OpenRooms++
		}
	}
	return st
}
