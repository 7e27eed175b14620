package coordinator

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/koopa0/system-design/14-game-room/internal/events"
	"github.com/koopa0/system-design/14-game-room/internal/game"
	"github.com/koopa0/system-design/14-game-room/internal/presence"
	"github.com/koopa0/system-design/14-game-room/internal/reaction"
	"github.com/koopa0/system-design/14-game-room/internal/session"
)

// room 一個房間綁定的所有元件
//
// 除了 snap、reactions 與觀察者集合，所有欄位只在持有 mu 時存取。
type room struct {
	code      string
	kind      game.Kind
	open      bool
	createdAt time.Time

	mu        sync.Mutex
	seats     *presence.Tracker
	session   *session.Session
	reactions *reaction.Channel

	// reported 最後一次回報給指標與事件的狀態
	reported  session.State
	lastMoves int
	acked     [presence.SeatCount]bool
	conns     [presence.SeatCount]int

	clock    timerSlot
	waiting  timerSlot
	terminal timerSlot
	grace    [presence.SeatCount]timerSlot
	timerGen uint64

	version   uint64
	dirty     bool
	destroyed bool
	pending   []events.Event
	relay     *Snapshot

	snap         atomic.Pointer[Snapshot]
	obsMu        sync.Mutex
	observers    map[uint64]*observer
	nextObserver uint64
	obsClosed    bool
}

// timerSlot 房間上的一個計時器；gen 用來讓過期回呼失效
type timerSlot struct {
	t   *time.Timer
	gen uint64
}

func newRoom(code string, kind game.Kind, open bool, budget time.Duration, reactions *reaction.Channel, now time.Time) *room {
	return &room{
		code:      code,
		kind:      kind,
		open:      open,
		createdAt: now,
		seats:     presence.NewTracker(),
		session:   session.New(budget, now),
		reactions: reactions,
		reported:  session.StateWaiting,
		observers: make(map[uint64]*observer),
	}
}

// touch 標記需要發布新快照
func (r *room) touch() {
	r.dirty = true
}

// emit 排入生命週期事件，本次變更結束前在房間鎖內送出
func (r *room) emit(now time.Time, t events.Type, seat *int, data map[string]any) {
	r.pending = append(r.pending, events.Event{
		Type:  t,
		Code:  r.code,
		Game:  string(r.kind),
		Seat:  seat,
		State: string(r.session.State()),
		At:    now,
		Data:  data,
	})
}

// takePending 取出待送事件與待轉發快照
func (r *room) takePending() ([]events.Event, *Snapshot) {
	evs, snap := r.pending, r.relay
	r.pending, r.relay = nil, nil
	return evs, snap
}

// publish 建立新版本快照並通知觀察者
func (r *room) publish(now time.Time) {
	r.version++
	s := &Snapshot{
		Code:      r.code,
		Game:      r.kind,
		Version:   r.version,
		State:     r.session.State(),
		Seats:     r.seats.Snapshot(),
		Turn:      newTurnView(r.session.Turn(now)),
		Outcome:   r.session.Outcome(),
		Reactions: r.reactions.Live(),
		Open:      r.open,
		CreatedAt: r.createdAt,
		AsOf:      now,
	}

	r.obsMu.Lock()
	r.snap.Store(s)
	for _, o := range r.observers {
		o.offer(*s)
	}
	r.obsMu.Unlock()

	r.relay = s
	r.dirty = false
}

// staleReactions 已發布的快照是否含有過期表情
func (r *room) staleReactions(now time.Time, retention time.Duration) bool {
	s := r.snap.Load()
	if s == nil || len(s.Reactions) == 0 {
		return false
	}
	return now.Sub(s.Reactions[0].At) > retention
}

// depleted 已發布的快照推算到 now 時，行動方棋鐘是否已耗盡
func (r *room) depleted(now time.Time) bool {
	s := r.snap.Load()
	if s == nil || !s.Turn.Running {
		return false
	}
	return s.at(now, nil).Turn.Remaining(s.Turn.ToMove) <= 0
}

func (r *room) removeObserver(id uint64) {
	r.obsMu.Lock()
	defer r.obsMu.Unlock()

	if o, ok := r.observers[id]; ok {
		delete(r.observers, id)
		o.close()
	}
}

func (r *room) closeObservers() {
	r.obsMu.Lock()
	defer r.obsMu.Unlock()

	for id, o := range r.observers {
		delete(r.observers, id)
		o.close()
	}
	r.obsClosed = true
}

// invariantViolation 房間不變量被破壞（程式錯誤）
type invariantViolation struct {
	detail string
}

func (v invariantViolation) String() string {
	return "invariant violated: " + v.detail
}

func violate(format string, args ...any) {
	panic(invariantViolation{detail: fmt.Sprintf(format, args...)})
}

// assertInvariants 檢查座位與回合不變量，失敗時 panic
func (r *room) assertInvariants() {
	filled := r.seats.Filled()
	state := r.session.State()

	if filled < 0 || filled > presence.SeatCount {
		violate("%d occupants in %d seats", filled, presence.SeatCount)
	}
	if !state.Valid() {
		violate("unknown state %q", state)
	}
	if state == session.StateWaiting && filled != 1 {
		violate("waiting room with %d occupants", filled)
	}
	if state == session.StateActive && filled != presence.SeatCount {
		violate("active room with %d occupants", filled)
	}
	if moves := r.session.MoveCount(); moves < r.lastMoves {
		violate("move counter went from %d to %d", r.lastMoves, moves)
	} else {
		r.lastMoves = moves
	}
	for seat := 0; seat < presence.SeatCount; seat++ {
		if r.session.Remaining(seat, time.Now()) < 0 {
			violate("seat %d clock below zero", seat)
		}
	}
}

func seatRef(seat int) *int {
	return &seat
}
