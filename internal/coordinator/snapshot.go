package coordinator

import (
	"context"
	"encoding/json"
	"time"

	"github.com/koopa0/system-design/14-game-room/internal/game"
	"github.com/koopa0/system-design/14-game-room/internal/presence"
	"github.com/koopa0/system-design/14-game-room/internal/reaction"
	"github.com/koopa0/system-design/14-game-room/internal/session"
	apperrors "github.com/koopa0/system-design/14-game-room/pkg/errors"
)

// Snapshot 房間在某個時間點的唯讀視圖
//
// 同一個 Version 的快照內容一致（座位、狀態、回合來自同一次變更）；
// 棋鐘與表情在讀取時依 AsOf 重新推算。
type Snapshot struct {
	Code      string                            `json:"code"`
	Game      game.Kind                         `json:"game"`
	Version   uint64                            `json:"version"`
	State     session.State                     `json:"state"`
	Seats     [presence.SeatCount]presence.Seat `json:"seats"`
	Turn      TurnView                          `json:"turn"`
	Outcome   *session.Outcome                  `json:"outcome,omitempty"`
	Reactions []reaction.Event                  `json:"reactions"`
	Open      bool                              `json:"open"`
	CreatedAt time.Time                         `json:"created_at"`
	AsOf      time.Time                         `json:"as_of"`
}

// TurnView 回合與棋鐘（毫秒）
type TurnView struct {
	ToMove      int                         `json:"to_move"`
	MoveCount   int                         `json:"move_count"`
	RemainingMs [presence.SeatCount]int64   `json:"remaining_ms"`
	Running     bool                        `json:"running"`
	remaining   [presence.SeatCount]time.Duration
}

// Remaining 座位剩餘時間
func (t TurnView) Remaining(seat int) time.Duration {
	if !presence.ValidSeat(seat) {
		return 0
	}
	return t.remaining[seat]
}

// UnmarshalJSON 從毫秒欄位還原剩餘時間（跨實例轉發的快照）
func (t *TurnView) UnmarshalJSON(data []byte) error {
	type plain TurnView
	var v plain
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*t = TurnView(v)
	for i, ms := range t.RemainingMs {
		t.remaining[i] = time.Duration(ms) * time.Millisecond
	}
	return nil
}

func newTurnView(t session.Turn) TurnView {
	v := TurnView{
		ToMove:    t.ToMove,
		MoveCount: t.MoveCount,
		Running:   t.Running,
		remaining: t.Remaining,
	}
	for i, d := range t.Remaining {
		v.RemainingMs[i] = d.Milliseconds()
	}
	return v
}

// Filled 已入座人數
func (s Snapshot) Filled() int {
	n := 0
	for _, seat := range s.Seats {
		if seat.Filled() {
			n++
		}
	}
	return n
}

// Occupant 座位上的玩家
func (s Snapshot) Occupant(seat int) (presence.Profile, bool) {
	if !presence.ValidSeat(seat) || s.Seats[seat].Occupant == nil {
		return presence.Profile{}, false
	}
	return *s.Seats[seat].Occupant, true
}

// at 把快照推算到 now：扣掉行動方自 AsOf 起經過的時間，換上目前的表情
func (s Snapshot) at(now time.Time, live []reaction.Event) Snapshot {
	out := s
	if s.Turn.Running && presence.ValidSeat(s.Turn.ToMove) {
		d := now.Sub(s.AsOf)
		if d < 0 {
			d = 0
		}
		r := s.Turn.remaining[s.Turn.ToMove] - d
		if r < 0 {
			r = 0
		}
		out.Turn.remaining[s.Turn.ToMove] = r
		out.Turn.RemainingMs[s.Turn.ToMove] = r.Milliseconds()
	}
	if live != nil {
		out.Reactions = live
	}
	if now.After(s.AsOf) {
		out.AsOf = now
	}
	return out
}

// Snapshot 取得房間目前的快照（不取房間鎖）
func (c *Coordinator) Snapshot(code string) (Snapshot, error) {
	r, err := c.lookup(code)
	if err != nil {
		return Snapshot{}, err
	}
	base := r.snap.Load()
	if base == nil {
		return Snapshot{}, apperrors.ErrRoomNotFound
	}
	return base.at(time.Now(), r.reactions.Live()), nil
}

// Authorize 確認玩家坐在指定座位
func (c *Coordinator) Authorize(code, playerID string, seat int) error {
	if !presence.ValidSeat(seat) {
		return apperrors.ErrInvalidInput.WithDetails("seat out of range")
	}
	snap, err := c.Snapshot(code)
	if err != nil {
		return err
	}
	p, ok := snap.Occupant(seat)
	if !ok || p.ID != playerID {
		return apperrors.ErrForbidden
	}
	return nil
}

// Observe 訂閱房間快照
//
// 立刻送出目前快照，之後每次變更送出新版本。觀察者跟不上時只保留最新版本，
// 因此 Version 嚴格遞增但可能跳號。ctx 結束或房間銷毀時通道關閉。
func (c *Coordinator) Observe(ctx context.Context, code string) (<-chan Snapshot, error) {
	r, err := c.lookup(code)
	if err != nil {
		return nil, err
	}

	obs := &observer{
		ch:   make(chan Snapshot, c.cfg.ObserverBuffer),
		done: make(chan struct{}),
	}

	r.obsMu.Lock()
	if r.obsClosed {
		r.obsMu.Unlock()
		return nil, apperrors.ErrRoomNotFound
	}
	r.nextObserver++
	id := r.nextObserver
	r.observers[id] = obs
	if base := r.snap.Load(); base != nil {
		obs.offer(base.at(time.Now(), r.reactions.Live()))
	}
	r.obsMu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			r.removeObserver(id)
		case <-obs.done:
		}
	}()

	return obs.ch, nil
}

// SubscribeReactions 訂閱房間之後發送的表情
//
// 不重播歷史；緩衝滿時丟棄（表情只是裝飾）。ctx 結束或房間銷毀時通道關閉。
func (c *Coordinator) SubscribeReactions(ctx context.Context, code string) (<-chan reaction.Event, error) {
	r, err := c.lookup(code)
	if err != nil {
		return nil, err
	}

	// 銷毀會在房間鎖內關閉表情通道，這裡持鎖訂閱就不會拿到已結束的訂閱
	r.mu.Lock()
	if r.destroyed {
		r.mu.Unlock()
		return nil, apperrors.ErrRoomNotFound
	}
	sub := r.reactions.Subscribe()
	r.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			sub.Close()
		case <-sub.Done():
		}
		if n := sub.Dropped(); n > 0 {
			c.logger.Debug("表情訂閱者跟不上，已丟棄", "code", r.code, "dropped", n)
		}
	}()

	return sub.Events(), nil
}

// observer 一個快照觀察者
type observer struct {
	ch   chan Snapshot
	done chan struct{}
}

// offer 非阻塞投遞；緩衝滿時丟掉最舊的一個（需持有 obsMu）
func (o *observer) offer(s Snapshot) {
	select {
	case o.ch <- s:
		return
	default:
	}
	select {
	case <-o.ch:
	default:
	}
	select {
	case o.ch <- s:
	default:
	}
}

func (o *observer) close() {
	close(o.ch)
	close(o.done)
}
