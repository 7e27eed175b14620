// Package session 實現單一房間的對局狀態機
//
// 系統設計問題：
//
//	兩位玩家輪流行動、各自有棋鐘，如何保證回合與計時永遠一致？
//
// 核心挑戰：
//  1. 狀態轉換：waiting → active → finished / abandoned，終態不可再變
//  2. 回合仲裁：任何時刻只有一個座位「輪到」
//  3. 棋鐘：只有輪到的座位在扣時間，永不為負，除了建立時不會重置
//  4. 超時判定：由背景計時器觸發，但必須冪等（不可重複觸發終態轉換）
//
// 設計方案：
//
//	✅ 純狀態機：所有方法都接收 now，不自己讀時鐘，方便測試
//	✅ 懶結算：只記錄「本回合開始時間 + 剩餘時間」，讀取時才計算
//	✅ 不做並發控制：由協調器的房間鎖序列化
package session

import (
	"time"

	"github.com/koopa0/system-design/14-game-room/internal/presence"
	apperrors "github.com/koopa0/system-design/14-game-room/pkg/errors"
)

// State 房間生命週期狀態
//
// 有限狀態機：
//
//	waiting ──join──▶ active ──clock/resign/engine──▶ finished
//	   │                 │
//	   └──timeout        └──leave/disconnect──▶ abandoned
//	         ▼
//	     abandoned
type State string

const (
	StateWaiting   State = "waiting"   // 只有一個座位有人
	StateActive    State = "active"    // 對局進行中
	StateFinished  State = "finished"  // 對局正常結束
	StateAbandoned State = "abandoned" // 有人離開或等待逾時
)

// Terminal 是否為終態
func (s State) Terminal() bool {
	return s == StateFinished || s == StateAbandoned
}

// Valid 是否為四種合法狀態之一
func (s State) Valid() bool {
	switch s {
	case StateWaiting, StateActive, StateFinished, StateAbandoned:
		return true
	}
	return false
}

// Reason 結束原因
type Reason string

const (
	ReasonTimeForfeit    Reason = "time_forfeit"    // 棋鐘耗盡
	ReasonResignation    Reason = "resignation"     // 認輸
	ReasonAbandoned      Reason = "abandoned"       // 對局中離開
	ReasonWaitingTimeout Reason = "waiting_timeout" // 無人加入
	ReasonEngine         Reason = "engine"          // 遊戲引擎判定
)

// Outcome 對局結果
//
// LoserSeat / WinnerSeat 為 nil 代表不適用（例如和局、等待逾時）。
type Outcome struct {
	Reason     Reason `json:"reason"`
	LoserSeat  *int   `json:"loser_seat,omitempty"`
	WinnerSeat *int   `json:"winner_seat,omitempty"`
}

// seatOutcome 以輸家座位組出結果
func seatOutcome(reason Reason, loser int) *Outcome {
	l, w := loser, other(loser)
	return &Outcome{Reason: reason, LoserSeat: &l, WinnerSeat: &w}
}

// Move 一次成功行動的結果
type Move struct {
	MoveCount  int `json:"move_count"`
	NextToMove int `json:"next_to_move"`
}

// Turn 回合與棋鐘快照
type Turn struct {
	ToMove    int                             `json:"to_move"`
	MoveCount int                             `json:"move_count"`
	Remaining [presence.SeatCount]time.Duration `json:"-"`
	Running   bool                            `json:"running"`
}

// Session 單一房間的對局狀態
type Session struct {
	state       State
	toMove      int
	moves       int
	budget      time.Duration
	remaining   [presence.SeatCount]time.Duration
	turnStarted time.Time
	createdAt   time.Time
	startedAt   time.Time
	endedAt     time.Time
	outcome     *Outcome
}

// New 創建等待中的對局，兩個座位各有 budget 的思考時間
func New(budget time.Duration, now time.Time) *Session {
	s := &Session{
		state:     StateWaiting,
		budget:    budget,
		createdAt: now,
	}
	for i := range s.remaining {
		s.remaining[i] = budget
	}
	return s
}

// State 目前狀態
func (s *Session) State() State { return s.state }

// Outcome 對局結果（未結束為 nil）
func (s *Session) Outcome() *Outcome {
	if s.outcome == nil {
		return nil
	}
	cp := *s.outcome
	return &cp
}

// Budget 每個座位的初始時間
func (s *Session) Budget() time.Duration { return s.budget }

// CreatedAt 建立時間
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// EndedAt 進入終態的時間（未結束為零值）
func (s *Session) EndedAt() time.Time { return s.endedAt }

// Activate waiting → active，開始座位 0 的棋鐘
func (s *Session) Activate(now time.Time) error {
	switch {
	case s.state.Terminal():
		return apperrors.ErrRoomTerminal
	case s.state == StateActive:
		return apperrors.ErrRoomFull
	}

	s.state = StateActive
	s.toMove = 0
	s.startedAt = now
	s.turnStarted = now
	return nil
}

// Advance 完成一次行動，換對方走
//
// 先結算棋鐘：若行動方在 now 之前已經耗盡時間，
// 對局以超時判負結束，這次行動失敗（ErrRoomNotActive）。
func (s *Session) Advance(seat int, now time.Time) (Move, error) {
	s.Tick(now)

	if s.state != StateActive {
		return Move{}, apperrors.ErrRoomNotActive
	}
	if seat != s.toMove {
		return Move{}, apperrors.ErrNotYourTurn
	}

	s.settle(now)
	s.moves++
	s.toMove = other(seat)
	s.turnStarted = now

	return Move{MoveCount: s.moves, NextToMove: s.toMove}, nil
}

// Tick 檢查行動方棋鐘是否耗盡
//
// 冪等：只有在這次呼叫造成終態轉換時返回 true。
func (s *Session) Tick(now time.Time) bool {
	if s.state != StateActive {
		return false
	}
	if s.Remaining(s.toMove, now) > 0 {
		return false
	}

	s.remaining[s.toMove] = 0
	s.terminate(StateFinished, seatOutcome(ReasonTimeForfeit, s.toMove), now)
	return true
}

// UntilDepletion 行動方距離耗盡還有多久（非 active 返回 false）
func (s *Session) UntilDepletion(now time.Time) (time.Duration, bool) {
	if s.state != StateActive {
		return 0, false
	}
	return s.Remaining(s.toMove, now), true
}

// Resign 認輸：active → finished
func (s *Session) Resign(seat int, now time.Time) error {
	if !presence.ValidSeat(seat) {
		return apperrors.ErrInvalidInput.WithDetails("seat out of range")
	}
	if s.Tick(now) || s.state.Terminal() {
		return apperrors.ErrRoomTerminal
	}
	if s.state != StateActive {
		return apperrors.ErrRoomNotActive
	}

	s.settle(now)
	s.terminate(StateFinished, seatOutcome(ReasonResignation, seat), now)
	return nil
}

// Finish 由遊戲引擎回報終局：active → finished
//
// winner 為 nil 代表和局。
func (s *Session) Finish(winner *int, now time.Time) error {
	if winner != nil && !presence.ValidSeat(*winner) {
		return apperrors.ErrInvalidInput.WithDetails("seat out of range")
	}
	if s.Tick(now) || s.state.Terminal() {
		return apperrors.ErrRoomTerminal
	}
	if s.state != StateActive {
		return apperrors.ErrRoomNotActive
	}

	s.settle(now)
	out := &Outcome{Reason: ReasonEngine}
	if winner != nil {
		out = seatOutcome(ReasonEngine, other(*winner))
	}
	s.terminate(StateFinished, out, now)
	return nil
}

// Abandon 進入 abandoned
//
//   - active：by 是離開（或斷線逾時）的座位，判負
//   - waiting：等待逾時，無輸贏
func (s *Session) Abandon(by int, now time.Time) error {
	if s.state.Terminal() {
		return apperrors.ErrRoomTerminal
	}

	if s.state == StateWaiting {
		s.terminate(StateAbandoned, &Outcome{Reason: ReasonWaitingTimeout}, now)
		return nil
	}

	if !presence.ValidSeat(by) {
		return apperrors.ErrInvalidInput.WithDetails("seat out of range")
	}
	// 棋鐘若已先耗盡，以超時結果為準
	if s.Tick(now) {
		return apperrors.ErrRoomTerminal
	}
	s.settle(now)
	s.terminate(StateAbandoned, seatOutcome(ReasonAbandoned, by), now)
	return nil
}

// Remaining 座位在 now 的剩餘時間（不小於 0）
func (s *Session) Remaining(seat int, now time.Time) time.Duration {
	if !presence.ValidSeat(seat) {
		return 0
	}
	r := s.remaining[seat]
	if s.state == StateActive && seat == s.toMove {
		r -= elapsed(s.turnStarted, now)
	}
	if r < 0 {
		return 0
	}
	return r
}

// Turn 回合快照
func (s *Session) Turn(now time.Time) Turn {
	t := Turn{
		ToMove:    s.toMove,
		MoveCount: s.moves,
		Running:   s.state == StateActive,
	}
	for i := range t.Remaining {
		t.Remaining[i] = s.Remaining(i, now)
	}
	return t
}

// MoveCount 已完成的行動數
func (s *Session) MoveCount() int { return s.moves }

// ToMove 目前輪到的座位
func (s *Session) ToMove() int { return s.toMove }

// settle 把行動方本回合已用時間扣掉（暫停棋鐘）
func (s *Session) settle(now time.Time) {
	if s.state != StateActive {
		return
	}
	s.remaining[s.toMove] = s.Remaining(s.toMove, now)
	s.turnStarted = now
}

func (s *Session) terminate(state State, out *Outcome, now time.Time) {
	s.state = state
	s.outcome = out
	s.endedAt = now
}

func other(seat int) int {
	return 1 - seat
}

func elapsed(from, to time.Time) time.Duration {
	d := to.Sub(from)
	if d < 0 {
		return 0
	}
	return d
}
