// Package presence 追蹤房間座位的佔用情況
//
// Tracker 只回報「誰坐在哪個座位、何時入座、是否在線」這些事實，
// 不持有任何生命週期狀態；狀態轉換由 session 根據這些事實驅動。
//
// Tracker 不是並發安全的：呼叫方（協調器）必須在房間鎖內使用。
package presence

import (
	"time"

	apperrors "github.com/koopa0/system-design/14-game-room/pkg/errors"
)

// SeatCount 每個房間的座位數（先手 / 後手）
const SeatCount = 2

// DefaultRating 未提供積分時的預設值
const DefaultRating = 1200

// Profile 玩家資料
type Profile struct {
	ID     string `json:"player_id"`
	Name   string `json:"player_name"`
	Rating int    `json:"rating"`
}

// Seat 座位快照
type Seat struct {
	Index     int        `json:"seat"`
	Occupant  *Profile   `json:"occupant"`
	JoinedAt  *time.Time `json:"joined_at,omitempty"`
	Connected bool       `json:"connected"`
}

// Filled 座位是否有人
func (s Seat) Filled() bool {
	return s.Occupant != nil
}

type seat struct {
	occupant  *Profile
	joinedAt  time.Time
	connected bool
}

// Tracker 單一房間的座位表
type Tracker struct {
	seats [SeatCount]seat
}

// NewTracker 創建空座位表
func NewTracker() *Tracker {
	return &Tracker{}
}

// ValidSeat 檢查座位索引
func ValidSeat(index int) bool {
	return index >= 0 && index < SeatCount
}

// Occupy 讓玩家坐到第一個空位，返回座位索引
//
// 錯誤：
//   - ErrSeatAlreadyOccupied：同一玩家已在座
//   - ErrRoomFull：沒有空位
func (t *Tracker) Occupy(p Profile, now time.Time) (int, error) {
	if _, seated := t.SeatOf(p.ID); seated {
		return -1, apperrors.ErrSeatAlreadyOccupied.WithDetails("player already seated")
	}

	for i := range t.seats {
		if t.seats[i].occupant == nil {
			t.fill(i, p, now)
			return i, nil
		}
	}
	return -1, apperrors.ErrRoomFull
}

// OccupyAt 讓玩家坐到指定座位
func (t *Tracker) OccupyAt(index int, p Profile, now time.Time) error {
	if !ValidSeat(index) {
		return apperrors.ErrInvalidInput.WithDetails("seat out of range")
	}
	if t.seats[index].occupant != nil {
		return apperrors.ErrSeatAlreadyOccupied
	}
	if _, seated := t.SeatOf(p.ID); seated {
		return apperrors.ErrSeatAlreadyOccupied.WithDetails("player already seated")
	}
	t.fill(index, p, now)
	return nil
}

func (t *Tracker) fill(index int, p Profile, now time.Time) {
	cp := p
	t.seats[index] = seat{
		occupant:  &cp,
		joinedAt:  now,
		connected: true,
	}
}

// Vacate 清空座位，返回原本的玩家
func (t *Tracker) Vacate(index int) (Profile, error) {
	if !ValidSeat(index) {
		return Profile{}, apperrors.ErrInvalidInput.WithDetails("seat out of range")
	}
	s := t.seats[index]
	if s.occupant == nil {
		return Profile{}, apperrors.ErrInvalidInput.WithDetails("seat is empty")
	}
	t.seats[index] = seat{}
	return *s.occupant, nil
}

// SetConnected 更新在線狀態
func (t *Tracker) SetConnected(index int, connected bool) error {
	if !ValidSeat(index) {
		return apperrors.ErrInvalidInput.WithDetails("seat out of range")
	}
	if t.seats[index].occupant == nil {
		return apperrors.ErrInvalidInput.WithDetails("seat is empty")
	}
	t.seats[index].connected = connected
	return nil
}

// Occupant 返回座位上的玩家
func (t *Tracker) Occupant(index int) (Profile, bool) {
	if !ValidSeat(index) || t.seats[index].occupant == nil {
		return Profile{}, false
	}
	return *t.seats[index].occupant, true
}

// Connected 座位上的玩家是否在線
func (t *Tracker) Connected(index int) bool {
	return ValidSeat(index) && t.seats[index].occupant != nil && t.seats[index].connected
}

// SeatOf 查詢玩家所在座位
func (t *Tracker) SeatOf(playerID string) (int, bool) {
	if playerID == "" {
		return -1, false
	}
	for i := range t.seats {
		if o := t.seats[i].occupant; o != nil && o.ID == playerID {
			return i, true
		}
	}
	return -1, false
}

// Filled 已入座人數
func (t *Tracker) Filled() int {
	n := 0
	for i := range t.seats {
		if t.seats[i].occupant != nil {
			n++
		}
	}
	return n
}

// Snapshot 返回座位表的不可變副本
func (t *Tracker) Snapshot() [SeatCount]Seat {
	var out [SeatCount]Seat
	for i, s := range t.seats {
		out[i] = Seat{Index: i}
		if s.occupant == nil {
			continue
		}
		p := *s.occupant
		joined := s.joinedAt
		out[i].Occupant = &p
		out[i].JoinedAt = &joined
		out[i].Connected = s.connected
	}
	return out
}
