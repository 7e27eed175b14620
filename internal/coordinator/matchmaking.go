package coordinator

import (
	"cmp"
	"context"
	"errors"
	"slices"
	"time"

	"github.com/koopa0/system-design/14-game-room/internal/game"
	"github.com/koopa0/system-design/14-game-room/internal/presence"
	"github.com/koopa0/system-design/14-game-room/internal/session"
	apperrors "github.com/koopa0/system-design/14-game-room/pkg/errors"
)

// Matchmaker 依積分配對
type Matchmaker interface {
	FindOpponent(ctx context.Context, kind game.Kind, p presence.Profile) (RoomRef, error)
}

var _ Matchmaker = (*Coordinator)(nil)

// candidate 可加入的公開房間
type candidate struct {
	code      string
	distance  int
	createdAt time.Time
}

// FindOpponent 找積分最接近的公開等待房間加入；找不到就開一個公開房間等人
//
// 只考慮積分差在 MatchmakingWindow 之內的房間；距離相同時先到先配。
// 候選房間可能在讀取快照後被別人搶先，加入失敗就換下一個。
func (c *Coordinator) FindOpponent(ctx context.Context, kind game.Kind, p presence.Profile) (RoomRef, error) {
	if !kind.Valid() {
		return RoomRef{}, apperrors.ErrInvalidInput.WithDetails("unknown game kind")
	}
	p, err := NormalizeProfile(p)
	if err != nil {
		return RoomRef{}, err
	}

	for _, cand := range c.candidates(kind, p) {
		if err := ctx.Err(); err != nil {
			return RoomRef{}, err
		}

		ref, err := c.JoinRoom(cand.code, p)
		if err == nil {
			c.logger.Info("配對成功", "code", ref.Code, "player_id", p.ID, "distance", cand.distance)
			return ref, nil
		}
		if errors.Is(err, apperrors.ErrRoomFull) ||
			errors.Is(err, apperrors.ErrRoomTerminal) ||
			errors.Is(err, apperrors.ErrRoomNotFound) ||
			errors.Is(err, apperrors.ErrSeatAlreadyOccupied) {
			continue
		}
		return RoomRef{}, err
	}

	if err := ctx.Err(); err != nil {
		return RoomRef{}, err
	}
	return c.create(kind, p, true)
}

// candidates 依積分差排序的公開等待房間（讀快照，不取房間鎖）
func (c *Coordinator) candidates(kind game.Kind, p presence.Profile) []candidate {
	var out []candidate
	for _, r := range c.liveRooms() {
		s := r.snap.Load()
		if s == nil || !s.Open || s.Game != kind || s.State != session.StateWaiting {
			continue
		}
		host, ok := s.Occupant(0)
		if !ok || host.ID == p.ID {
			continue
		}
		d := host.Rating - p.Rating
		if d < 0 {
			d = -d
		}
		if d > c.cfg.MatchmakingWindow {
			continue
		}
		out = append(out, candidate{code: s.Code, distance: d, createdAt: s.CreatedAt})
	}

	slices.SortFunc(out, func(a, b candidate) int {
		if n := cmp.Compare(a.distance, b.distance); n != 0 {
			return n
		}
		return a.createdAt.Compare(b.createdAt)
	})
	return out
}
