package roomcode

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/koopa0/system-design/14-game-room/internal/game"
)

// 分享連結的查詢參數
const (
	ParamRoom = "room"
	ParamGame = "game"
)

// Ref 從分享連結解析出的房間參照
type Ref struct {
	Code string    `json:"code"`
	Game game.Kind `json:"game"`
}

// Link 產生分享連結：{base}?room=CODE&game=KIND
//
// base 中既有的查詢參數會保留。
func Link(base, code string, kind game.Kind) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("roomcode: parse base url: %w", err)
	}
	q := u.Query()
	q.Set(ParamRoom, code)
	q.Set(ParamGame, string(kind))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ParseLink 解析分享連結
//
// 接受完整 URL 或只有查詢字串（"?room=...&game=..."）。
func ParseLink(raw string) (Ref, error) {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil {
		return Ref{}, fmt.Errorf("roomcode: parse link: %w", err)
	}

	q := u.Query()
	code := Normalize(q.Get(ParamRoom))
	if !Valid(code) {
		return Ref{}, fmt.Errorf("roomcode: invalid room code %q", q.Get(ParamRoom))
	}

	kind, ok := game.ParseKind(q.Get(ParamGame))
	if !ok {
		return Ref{}, fmt.Errorf("roomcode: unsupported game %q", q.Get(ParamGame))
	}

	return Ref{Code: code, Game: kind}, nil
}
