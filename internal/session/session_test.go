package session_test

import (
	"testing"
	"time"

	"github.com/koopa0/system-design/14-game-room/internal/session"
	apperrors "github.com/koopa0/system-design/14-game-room/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Unix(1700000000, 0)

func at(d time.Duration) time.Time { return t0.Add(d) }

func active(t *testing.T, budget time.Duration) *session.Session {
	t.Helper()
	s := session.New(budget, t0)
	require.NoError(t, s.Activate(t0))
	return s
}

// TestSession_Lifecycle 測試狀態轉換
func TestSession_Lifecycle(t *testing.T) {
	s := session.New(time.Minute, t0)
	assert.Equal(t, session.StateWaiting, s.State())
	assert.False(t, s.State().Terminal())

	_, err := s.Advance(0, t0)
	assert.ErrorIs(t, err, apperrors.ErrRoomNotActive)

	require.NoError(t, s.Activate(t0))
	assert.Equal(t, session.StateActive, s.State())
	assert.ErrorIs(t, s.Activate(t0), apperrors.ErrRoomFull)

	require.NoError(t, s.Resign(1, at(time.Second)))
	assert.Equal(t, session.StateFinished, s.State())
	assert.True(t, s.State().Terminal())
	assert.Equal(t, at(time.Second), s.EndedAt())

	// 終態不接受任何變更
	assert.ErrorIs(t, s.Activate(at(2*time.Second)), apperrors.ErrRoomTerminal)
	assert.ErrorIs(t, s.Abandon(0, at(2*time.Second)), apperrors.ErrRoomTerminal)
	assert.ErrorIs(t, s.Resign(0, at(2*time.Second)), apperrors.ErrRoomTerminal)
	_, err = s.Advance(0, at(2*time.Second))
	assert.ErrorIs(t, err, apperrors.ErrRoomNotActive)
}

// TestSession_Advance 測試回合仲裁
func TestSession_Advance(t *testing.T) {
	s := active(t, time.Minute)

	move, err := s.Advance(0, at(time.Second))
	require.NoError(t, err)
	assert.Equal(t, session.Move{MoveCount: 1, NextToMove: 1}, move)

	_, err = s.Advance(0, at(2*time.Second))
	assert.ErrorIs(t, err, apperrors.ErrNotYourTurn)
	assert.Equal(t, 1, s.MoveCount())

	move, err = s.Advance(1, at(3*time.Second))
	require.NoError(t, err)
	assert.Equal(t, session.Move{MoveCount: 2, NextToMove: 0}, move)
}

// TestSession_MoveCounterStrictlyIncreases 測試計數器單調遞增
func TestSession_MoveCounterStrictlyIncreases(t *testing.T) {
	s := active(t, time.Hour)

	last := 0
	for i := 0; i < 50; i++ {
		mover := s.ToMove()

		_, err := s.Advance(1-mover, at(time.Duration(i)*time.Second))
		assert.ErrorIs(t, err, apperrors.ErrNotYourTurn)

		move, err := s.Advance(mover, at(time.Duration(i)*time.Second))
		require.NoError(t, err)
		assert.Greater(t, move.MoveCount, last)
		last = move.MoveCount
	}
}

// TestSession_Clock 測試棋鐘只在行動方扣時間
func TestSession_Clock(t *testing.T) {
	s := active(t, time.Minute)

	// 座位 0 思考 10 秒
	assert.Equal(t, 50*time.Second, s.Remaining(0, at(10*time.Second)))
	assert.Equal(t, time.Minute, s.Remaining(1, at(10*time.Second)))

	_, err := s.Advance(0, at(10*time.Second))
	require.NoError(t, err)

	// 換座位 1 思考 20 秒，座位 0 暫停
	turn := s.Turn(at(30 * time.Second))
	assert.Equal(t, 1, turn.ToMove)
	assert.Equal(t, 50*time.Second, turn.Remaining[0])
	assert.Equal(t, 40*time.Second, turn.Remaining[1])
	assert.True(t, turn.Running)

	// 時間倒流不會加時
	assert.Equal(t, time.Minute, s.Remaining(1, at(5*time.Second)))
}

// TestSession_TimeForfeit 測試棋鐘耗盡判負
func TestSession_TimeForfeit(t *testing.T) {
	tests := []struct {
		name      string
		play      func(t *testing.T, s *session.Session)
		checkAt   time.Time
		wantLoser int
	}{
		{
			name:      "seat 0 never moves",
			play:      func(t *testing.T, s *session.Session) {},
			checkAt:   at(61 * time.Second),
			wantLoser: 0,
		},
		{
			name: "seat 1 runs out after one move each",
			play: func(t *testing.T, s *session.Session) {
				_, err := s.Advance(0, at(10*time.Second))
				require.NoError(t, err)
			},
			checkAt:   at(70 * time.Second),
			wantLoser: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := active(t, time.Minute)
			tt.play(t, s)

			assert.True(t, s.Tick(tt.checkAt))
			assert.False(t, s.Tick(tt.checkAt.Add(time.Second)), "terminal transition must not fire twice")

			assert.Equal(t, session.StateFinished, s.State())
			out := s.Outcome()
			require.NotNil(t, out)
			assert.Equal(t, session.ReasonTimeForfeit, out.Reason)
			require.NotNil(t, out.LoserSeat)
			assert.Equal(t, tt.wantLoser, *out.LoserSeat)
			assert.Equal(t, 1-tt.wantLoser, *out.WinnerSeat)

			// 永不為負
			assert.Equal(t, time.Duration(0), s.Remaining(tt.wantLoser, tt.checkAt.Add(time.Hour)))
		})
	}
}

// TestSession_AdvanceAfterDepletion 測試超時後的行動被拒絕
func TestSession_AdvanceAfterDepletion(t *testing.T) {
	s := active(t, time.Second)

	_, err := s.Advance(0, at(2*time.Second))
	assert.ErrorIs(t, err, apperrors.ErrRoomNotActive)
	assert.Equal(t, session.StateFinished, s.State())
	assert.Equal(t, 0, s.MoveCount())
}

// TestSession_UntilDepletion 測試計時器排程所需的剩餘時間
func TestSession_UntilDepletion(t *testing.T) {
	s := session.New(time.Minute, t0)
	_, ok := s.UntilDepletion(t0)
	assert.False(t, ok)

	require.NoError(t, s.Activate(t0))
	d, ok := s.UntilDepletion(at(15 * time.Second))
	assert.True(t, ok)
	assert.Equal(t, 45*time.Second, d)
}

// TestSession_Abandon 測試放棄
func TestSession_Abandon(t *testing.T) {
	t.Run("waiting timeout", func(t *testing.T) {
		s := session.New(time.Minute, t0)
		require.NoError(t, s.Abandon(-1, at(time.Minute)))
		assert.Equal(t, session.StateAbandoned, s.State())
		assert.Equal(t, session.ReasonWaitingTimeout, s.Outcome().Reason)
		assert.Nil(t, s.Outcome().LoserSeat)
	})

	t.Run("leaving active room", func(t *testing.T) {
		s := active(t, time.Minute)
		require.NoError(t, s.Abandon(1, at(5*time.Second)))
		assert.Equal(t, session.StateAbandoned, s.State())

		out := s.Outcome()
		assert.Equal(t, session.ReasonAbandoned, out.Reason)
		assert.Equal(t, 1, *out.LoserSeat)
		assert.Equal(t, 0, *out.WinnerSeat)

		// 棋鐘凍結
		assert.Equal(t, 55*time.Second, s.Remaining(0, at(time.Hour)))
	})

	t.Run("clock already depleted wins", func(t *testing.T) {
		s := active(t, time.Second)
		assert.ErrorIs(t, s.Abandon(1, at(5*time.Second)), apperrors.ErrRoomTerminal)
		assert.Equal(t, session.ReasonTimeForfeit, s.Outcome().Reason)
	})
}

// TestSession_Finish 測試引擎回報終局
func TestSession_Finish(t *testing.T) {
	s := active(t, time.Minute)
	winner := 1
	require.NoError(t, s.Finish(&winner, at(time.Second)))

	out := s.Outcome()
	assert.Equal(t, session.ReasonEngine, out.Reason)
	assert.Equal(t, 0, *out.LoserSeat)

	draw := active(t, time.Minute)
	require.NoError(t, draw.Finish(nil, at(time.Second)))
	assert.Nil(t, draw.Outcome().WinnerSeat)

	bad := 5
	assert.ErrorIs(t, active(t, time.Minute).Finish(&bad, t0), apperrors.ErrInvalidInput)
}

// TestState_Valid 測試狀態集合
func TestState_Valid(t *testing.T) {
	for _, s := range []session.State{session.StateWaiting, session.StateActive, session.StateFinished, session.StateAbandoned} {
		assert.True(t, s.Valid())
	}
	assert.False(t, session.State("closed").Valid())
}
