// Package game 定義大廳支援的遊戲種類
//
// 遊戲規則引擎不在本專案範圍內，這裡只描述房間層需要知道的資訊：
// 種類識別碼、顯示名稱、圖示與預設棋鐘。
package game

import (
	"strings"
	"time"
)

// Kind 遊戲種類（封閉集合）
type Kind string

const (
	Chess      Kind = "chess"
	Checkers   Kind = "checkers"
	Battleship Kind = "battleship"
	Connect4   Kind = "connect4"
	TicTacToe  Kind = "tictactoe"
)

// DefaultClock 每個座位的預設思考時間
const DefaultClock = 10 * time.Minute

// Info 遊戲資訊
type Info struct {
	Kind        Kind   `json:"id"`
	Name        string `json:"name"`
	Emoji       string `json:"emoji"`
	Description string `json:"description"`
}

var catalog = []Info{
	{Kind: Chess, Name: "Chess", Emoji: "♟️", Description: "The classic game of kings"},
	{Kind: Checkers, Name: "Checkers", Emoji: "⚫", Description: "Simple and gripping"},
	{Kind: Battleship, Name: "Battleship", Emoji: "🚢", Description: "Sink the enemy fleet"},
	{Kind: Connect4, Name: "Connect Four", Emoji: "🔴", Description: "Line up four discs"},
	{Kind: TicTacToe, Name: "Tic-Tac-Toe", Emoji: "❌", Description: "A quick match"},
}

// Catalog 返回所有支援的遊戲（副本）
func Catalog() []Info {
	out := make([]Info, len(catalog))
	copy(out, catalog)
	return out
}

// Lookup 查詢遊戲資訊
func Lookup(k Kind) (Info, bool) {
	for _, info := range catalog {
		if info.Kind == k {
			return info, true
		}
	}
	return Info{}, false
}

// Valid 檢查是否為支援的遊戲種類
func (k Kind) Valid() bool {
	_, ok := Lookup(k)
	return ok
}

// ParseKind 解析遊戲種類
//
// 接受 "tic-tac-toe"、"Connect_4" 等寫法：忽略大小寫、連字號、底線與空白。
func ParseKind(s string) (Kind, bool) {
	norm := strings.Map(func(r rune) rune {
		switch r {
		case '-', '_', ' ':
			return -1
		}
		return r
	}, strings.ToLower(strings.TrimSpace(s)))

	k := Kind(norm)
	if !k.Valid() {
		return "", false
	}
	return k, true
}
