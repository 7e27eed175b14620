package coordinator

import (
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/koopa0/system-design/14-game-room/internal/events"
	"github.com/koopa0/system-design/14-game-room/internal/game"
	"github.com/koopa0/system-design/14-game-room/internal/presence"
	"github.com/koopa0/system-design/14-game-room/internal/reaction"
	"github.com/koopa0/system-design/14-game-room/internal/session"
	apperrors "github.com/koopa0/system-design/14-game-room/pkg/errors"
)

// MaxNameLength 顯示名稱上限（字元數）
const MaxNameLength = 32

// DefaultName 未提供名稱時的顯示名稱
const DefaultName = "Player"

// RoomRef 玩家在房間中的位置
type RoomRef struct {
	Code     string    `json:"code"`
	Game     game.Kind `json:"game"`
	Seat     int       `json:"seat"`
	PlayerID string    `json:"player_id"`
	// Created 配對時是否新開了房間
	Created bool `json:"created"`
}

// NormalizeProfile 補齊並驗證玩家資料
func NormalizeProfile(p presence.Profile) (presence.Profile, error) {
	p.ID = strings.TrimSpace(p.ID)
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" {
		p.Name = DefaultName
	}
	if utf8.RuneCountInString(p.Name) > MaxNameLength {
		return presence.Profile{}, apperrors.ErrInvalidInput.WithDetails("player name too long")
	}
	switch {
	case p.Rating < 0:
		return presence.Profile{}, apperrors.ErrInvalidInput.WithDetails("rating must not be negative")
	case p.Rating == 0:
		p.Rating = presence.DefaultRating
	}
	return p, nil
}

func validSeat(seat int) error {
	if !presence.ValidSeat(seat) {
		return apperrors.ErrInvalidInput.WithDetails("seat out of range")
	}
	return nil
}

// CreateRoom 創建私人房間，建立者坐 0 號座位
func (c *Coordinator) CreateRoom(kind game.Kind, p presence.Profile) (RoomRef, error) {
	return c.create(kind, p, false)
}

func (c *Coordinator) create(kind game.Kind, p presence.Profile, open bool) (RoomRef, error) {
	if !kind.Valid() {
		return RoomRef{}, apperrors.ErrInvalidInput.WithDetails("unknown game kind")
	}
	p, err := NormalizeProfile(p)
	if err != nil {
		return RoomRef{}, err
	}

	now := time.Now()

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return RoomRef{}, apperrors.ErrInternal.WithDetails("coordinator stopped")
	}
	code, err := c.codes.Generate(func(code string) bool {
		_, taken := c.rooms[code]
		return taken
	})
	if err != nil {
		c.mu.Unlock()
		return RoomRef{}, apperrors.Wrap(err, apperrors.ErrCodeInternal, "allocate room code")
	}

	reactions := reaction.New(c.cfg.ReactionRetention, reaction.WithSubscriberBuffer(c.cfg.SubscriberBuffer))
	r := newRoom(code, kind, open, c.cfg.ClockFor(kind), reactions, now)
	if err := r.seats.OccupyAt(0, p, now); err != nil {
		c.mu.Unlock()
		return RoomRef{}, err
	}

	// 先鎖房間再放進註冊表，其他操作一定看到完整初始化的房間
	r.mu.Lock()
	c.rooms[code] = r
	c.mu.Unlock()

	c.arm(r, &r.waiting, c.cfg.WaitingTimeout, func(r *room, now time.Time) error {
		if r.session.State() != session.StateWaiting {
			return nil
		}
		c.logger.Info("等待逾時，無人加入", "code", r.code)
		if err := r.session.Abandon(0, now); err != nil {
			return err
		}
		c.destroyLocked(r, now, "waiting_timeout")
		return nil
	})
	r.emit(now, events.TypeCreated, seatRef(0), map[string]any{
		"player_id": p.ID,
		"rating":    p.Rating,
		"open":      open,
	})
	r.publish(now)
	snap := c.flushLocked(r)
	r.mu.Unlock()

	if snap != nil && c.relay != nil {
		c.relay.Relay(*snap)
	}
	c.metrics.RoomCreated(string(kind), string(session.StateWaiting))

	c.logger.Info("房間已創建",
		"code", code,
		"game", kind,
		"player_id", p.ID,
		"open", open)

	return RoomRef{Code: code, Game: kind, Seat: 0, PlayerID: p.ID, Created: true}, nil
}

// JoinRoom 加入房間，成功時坐 1 號座位並開始 0 號座位的棋鐘
func (c *Coordinator) JoinRoom(code string, p presence.Profile) (RoomRef, error) {
	p, err := NormalizeProfile(p)
	if err != nil {
		return RoomRef{}, err
	}

	ref := RoomRef{PlayerID: p.ID}
	err = c.withRoom(code, func(r *room, now time.Time) error {
		if r.session.State().Terminal() {
			return apperrors.ErrRoomTerminal
		}

		seat, err := r.seats.Occupy(p, now)
		if err != nil {
			return err
		}
		if err := r.session.Activate(now); err != nil {
			_, _ = r.seats.Vacate(seat)
			return err
		}

		c.disarm(&r.waiting)
		c.armClock(r, now)
		r.emit(now, events.TypeJoined, seatRef(seat), map[string]any{
			"player_id": p.ID,
			"rating":    p.Rating,
		})
		r.touch()

		ref.Code, ref.Game, ref.Seat = r.code, r.kind, seat
		return nil
	})
	if err != nil {
		return RoomRef{}, err
	}

	c.metrics.Joined()
	c.logger.Info("玩家加入房間", "code", ref.Code, "seat", ref.Seat, "player_id", p.ID)
	return ref, nil
}

// LeaveRoom 離開房間
//
//   - waiting：房間立即銷毀
//   - active：房間進入 abandoned，離開的一方判負且不能再加入
//   - 終局：視為確認結果
func (c *Coordinator) LeaveRoom(code string, seat int) error {
	if err := validSeat(seat); err != nil {
		return err
	}

	return c.withRoom(code, func(r *room, now time.Time) error {
		state := r.session.State()
		if state.Terminal() {
			return c.acknowledgeLocked(r, seat, now)
		}

		p, ok := r.seats.Occupant(seat)
		if !ok {
			return apperrors.ErrInvalidInput.WithDetails("seat is empty")
		}

		switch state {
		case session.StateWaiting:
			c.logger.Info("建立者離開等待中的房間", "code", r.code, "player_id", p.ID)
			c.destroyLocked(r, now, "creator_left")
			return nil

		case session.StateActive:
			// 棋鐘若已先耗盡，結果以超時判負為準，離開仍然生效
			if err := r.session.Abandon(seat, now); err != nil && !errors.Is(err, apperrors.ErrRoomTerminal) {
				return err
			}
			if _, err := r.seats.Vacate(seat); err != nil {
				return err
			}
			r.acked[seat] = true
			r.touch()
			c.logger.Info("玩家在對局中離開", "code", r.code, "seat", seat, "player_id", p.ID)
		}
		return nil
	})
}

// AdvanceTurn 行動方完成一步，換對方走
func (c *Coordinator) AdvanceTurn(code string, seat int) (session.Move, error) {
	if err := validSeat(seat); err != nil {
		return session.Move{}, err
	}

	var move session.Move
	err := c.withRoom(code, func(r *room, now time.Time) error {
		mv, err := r.session.Advance(seat, now)
		if err != nil {
			return err
		}

		c.armClock(r, now)
		r.emit(now, events.TypeTurn, seatRef(seat), map[string]any{
			"move_count":   mv.MoveCount,
			"next_to_move": mv.NextToMove,
		})
		r.touch()
		move = mv
		return nil
	})
	if err != nil {
		return session.Move{}, err
	}

	c.metrics.TurnAdvanced()
	return move, nil
}

// SendReaction 在房間內廣播表情
func (c *Coordinator) SendReaction(code string, seat int, symbol reaction.Symbol) error {
	if err := validSeat(seat); err != nil {
		return err
	}
	if !reaction.ValidSymbol(symbol) {
		return apperrors.ErrInvalidInput.WithDetails("unknown reaction symbol")
	}

	err := c.withRoom(code, func(r *room, now time.Time) error {
		if _, ok := r.seats.Occupant(seat); !ok {
			return apperrors.ErrInvalidInput.WithDetails("seat is empty")
		}
		if _, ok := r.reactions.Publish(seat, symbol); !ok {
			return apperrors.ErrRoomNotFound
		}
		r.touch()
		return nil
	})
	if err != nil {
		return err
	}

	c.metrics.ReactionPublished()
	return nil
}

// Resign 認輸
func (c *Coordinator) Resign(code string, seat int) error {
	if err := validSeat(seat); err != nil {
		return err
	}
	return c.withRoom(code, func(r *room, now time.Time) error {
		if err := r.session.Resign(seat, now); err != nil {
			return err
		}
		c.logger.Info("玩家認輸", "code", r.code, "seat", seat)
		return nil
	})
}

// ReportResult 遊戲引擎回報終局（winner 為 nil 代表和局）
func (c *Coordinator) ReportResult(code string, winner *int) error {
	return c.withRoom(code, func(r *room, now time.Time) error {
		return r.session.Finish(winner, now)
	})
}

// Acknowledge 確認已看到終局；雙方都確認後房間銷毀
func (c *Coordinator) Acknowledge(code string, seat int) error {
	if err := validSeat(seat); err != nil {
		return err
	}
	return c.withRoom(code, func(r *room, now time.Time) error {
		return c.acknowledgeLocked(r, seat, now)
	})
}

func (c *Coordinator) acknowledgeLocked(r *room, seat int, now time.Time) error {
	if !r.session.State().Terminal() {
		return apperrors.ErrInvalidInput.WithDetails("room has not ended")
	}
	if r.acked[seat] {
		return nil
	}
	r.acked[seat] = true
	r.touch()

	for _, ok := range r.acked {
		if !ok {
			return nil
		}
	}
	c.destroyLocked(r, now, "acknowledged")
	return nil
}

// Disconnect 座位的最後一條連線中斷，開始重連寬限
//
// 寬限期內沒有 Reconnect：waiting 房間銷毀，active 房間進入 abandoned。
func (c *Coordinator) Disconnect(code string, seat int) error {
	if err := validSeat(seat); err != nil {
		return err
	}

	return c.withRoom(code, func(r *room, now time.Time) error {
		if r.conns[seat] > 0 {
			r.conns[seat]--
		}
		if r.conns[seat] > 0 {
			return nil
		}
		if _, ok := r.seats.Occupant(seat); !ok {
			return nil
		}
		if err := r.seats.SetConnected(seat, false); err != nil {
			return err
		}
		r.touch()

		if r.session.State().Terminal() {
			return nil
		}
		c.arm(r, &r.grace[seat], c.cfg.DisconnectGrace, func(r *room, now time.Time) error {
			return c.expireGrace(r, seat, now)
		})
		c.logger.Debug("玩家斷線，等待重連", "code", r.code, "seat", seat, "grace", c.cfg.DisconnectGrace)
		return nil
	})
}

func (c *Coordinator) expireGrace(r *room, seat int, now time.Time) error {
	if r.seats.Connected(seat) {
		return nil
	}

	switch r.session.State() {
	case session.StateWaiting:
		c.logger.Info("建立者斷線逾時", "code", r.code)
		if err := r.session.Abandon(seat, now); err != nil {
			return err
		}
		c.destroyLocked(r, now, "creator_disconnected")

	case session.StateActive:
		c.logger.Info("玩家斷線逾時，對局放棄", "code", r.code, "seat", seat)
		if err := r.session.Abandon(seat, now); err != nil && !errors.Is(err, apperrors.ErrRoomTerminal) {
			return err
		}
		r.acked[seat] = true
	}
	return nil
}

// Reconnect 座位建立新連線，取消重連寬限
func (c *Coordinator) Reconnect(code string, seat int) error {
	if err := validSeat(seat); err != nil {
		return err
	}

	return c.withRoom(code, func(r *room, now time.Time) error {
		if _, ok := r.seats.Occupant(seat); !ok {
			return apperrors.ErrInvalidInput.WithDetails("seat is empty")
		}
		r.conns[seat]++
		c.disarm(&r.grace[seat])
		if !r.seats.Connected(seat) {
			if err := r.seats.SetConnected(seat, true); err != nil {
				return err
			}
			r.touch()
		}
		return nil
	})
}
