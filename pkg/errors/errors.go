// Package errors 提供房間協調器的錯誤類型
//
// 所有使用者可恢復的錯誤都是 *AppError，以 Code 區分種類；
// errors.Is 只比較 Code，因此包裝過的錯誤仍可與預定義錯誤比對。
package errors

import (
	"errors"
	"fmt"
)

// 錯誤碼
const (
	ErrCodeRoomNotFound        = "ROOM_NOT_FOUND"
	ErrCodeRoomFull            = "ROOM_FULL"
	ErrCodeRoomTerminal        = "ROOM_TERMINAL"
	ErrCodeNotYourTurn         = "NOT_YOUR_TURN"
	ErrCodeRoomNotActive       = "ROOM_NOT_ACTIVE"
	ErrCodeSeatAlreadyOccupied = "SEAT_ALREADY_OCCUPIED"
	ErrCodeInvalidInput        = "INVALID_INPUT"
	ErrCodeForbidden           = "FORBIDDEN"
	ErrCodeInternal            = "INTERNAL_ERROR"
)

// AppError 應用程式錯誤
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
	Err     error  `json:"-"`
}

// Error 實現 error 介面
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap 實現 errors.Unwrap
func (e *AppError) Unwrap() error {
	return e.Err
}

// Is 實現 errors.Is（只比較錯誤碼）
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// New 創建新的應用程式錯誤
func New(code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap 包裝錯誤
func Wrap(err error, code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// WithDetails 返回帶有詳細資訊的副本
//
// 預定義錯誤是共享的，不能原地修改。
func (e *AppError) WithDetails(details string) *AppError {
	cp := *e
	cp.Details = details
	return &cp
}

// 預定義錯誤
var (
	// ErrRoomNotFound 房間不存在（或已銷毀）
	ErrRoomNotFound = New(ErrCodeRoomNotFound, "room not found")

	// ErrRoomFull 兩個座位都已有人
	ErrRoomFull = New(ErrCodeRoomFull, "room is full")

	// ErrRoomTerminal 房間已結束或已放棄
	ErrRoomTerminal = New(ErrCodeRoomTerminal, "room is finished or abandoned")

	// ErrNotYourTurn 不是該座位的回合
	ErrNotYourTurn = New(ErrCodeNotYourTurn, "not your turn")

	// ErrRoomNotActive 房間不在對局中
	ErrRoomNotActive = New(ErrCodeRoomNotActive, "room is not active")

	// ErrSeatAlreadyOccupied 座位已被佔用
	ErrSeatAlreadyOccupied = New(ErrCodeSeatAlreadyOccupied, "seat already occupied")

	// ErrInvalidInput 無效輸入
	ErrInvalidInput = New(ErrCodeInvalidInput, "invalid input")

	// ErrForbidden 玩家不在該座位
	ErrForbidden = New(ErrCodeForbidden, "player does not occupy this seat")

	// ErrInternal 內部錯誤（不變量被破壞等程式錯誤）
	ErrInternal = New(ErrCodeInternal, "internal error")
)

// CodeOf 取出錯誤碼，非 AppError 視為內部錯誤
func CodeOf(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrCodeInternal
}

// IsNotFound 檢查是否為房間不存在錯誤
func IsNotFound(err error) bool {
	return CodeOf(err) == ErrCodeRoomNotFound
}

// IsUserError 檢查是否為使用者可恢復的錯誤
func IsUserError(err error) bool {
	if err == nil {
		return false
	}
	code := CodeOf(err)
	return code != ErrCodeInternal
}
