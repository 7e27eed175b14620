package errors_test

import (
	"errors"
	"fmt"
	"testing"

	apperrors "github.com/koopa0/system-design/14-game-room/pkg/errors"
	"github.com/stretchr/testify/assert"
)

// TestAppError_Is 測試錯誤碼比對
func TestAppError_Is(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		target error
		want   bool
	}{
		{
			name:   "same predefined error",
			err:    apperrors.ErrRoomFull,
			target: apperrors.ErrRoomFull,
			want:   true,
		},
		{
			name:   "wrapped with fmt",
			err:    fmt.Errorf("join AB12CD: %w", apperrors.ErrRoomNotFound),
			target: apperrors.ErrRoomNotFound,
			want:   true,
		},
		{
			name:   "details copy keeps code",
			err:    apperrors.ErrNotYourTurn.WithDetails("seat 0"),
			target: apperrors.ErrNotYourTurn,
			want:   true,
		},
		{
			name:   "different code",
			err:    apperrors.ErrRoomFull,
			target: apperrors.ErrRoomTerminal,
			want:   false,
		},
		{
			name:   "plain error",
			err:    errors.New("boom"),
			target: apperrors.ErrInternal,
			want:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, errors.Is(tt.err, tt.target))
		})
	}
}

// TestWithDetails_DoesNotMutateShared 測試 WithDetails 不修改預定義錯誤
func TestWithDetails_DoesNotMutateShared(t *testing.T) {
	detailed := apperrors.ErrRoomFull.WithDetails("code AB12CD")

	assert.Equal(t, "code AB12CD", detailed.Details)
	assert.Empty(t, apperrors.ErrRoomFull.Details)
}

// TestCodeOf 測試錯誤碼提取
func TestCodeOf(t *testing.T) {
	assert.Equal(t, apperrors.ErrCodeRoomTerminal, apperrors.CodeOf(fmt.Errorf("x: %w", apperrors.ErrRoomTerminal)))
	assert.Equal(t, apperrors.ErrCodeInternal, apperrors.CodeOf(errors.New("boom")))

	assert.True(t, apperrors.IsNotFound(apperrors.ErrRoomNotFound))
	assert.True(t, apperrors.IsUserError(apperrors.ErrSeatAlreadyOccupied))
	assert.False(t, apperrors.IsUserError(apperrors.ErrInternal))
	assert.False(t, apperrors.IsUserError(nil))
}

// TestAppError_Error 測試錯誤訊息格式
func TestAppError_Error(t *testing.T) {
	assert.Equal(t, "[ROOM_FULL] room is full", apperrors.ErrRoomFull.Error())

	wrapped := apperrors.Wrap(errors.New("disk"), apperrors.ErrCodeInternal, "snapshot failed")
	assert.Equal(t, "[INTERNAL_ERROR] snapshot failed: disk", wrapped.Error())
	assert.EqualError(t, errors.Unwrap(wrapped), "disk")
}
