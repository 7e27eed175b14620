package game_test

import (
	"testing"

	"github.com/koopa0/system-design/14-game-room/internal/game"
	"github.com/stretchr/testify/assert"
)

// TestParseKind 測試遊戲種類解析
func TestParseKind(t *testing.T) {
	tests := []struct {
		input  string
		want   game.Kind
		wantOK bool
	}{
		{"chess", game.Chess, true},
		{"tic-tac-toe", game.TicTacToe, true},
		{"TicTacToe", game.TicTacToe, true},
		{"connect_4", game.Connect4, true},
		{" Battleship ", game.Battleship, true},
		{"go", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, ok := game.ParseKind(tt.input)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

// TestCatalog 測試目錄不可被外部修改
func TestCatalog(t *testing.T) {
	list := game.Catalog()
	assert.Len(t, list, 5)

	list[0].Name = "changed"
	info, ok := game.Lookup(list[0].Kind)
	assert.True(t, ok)
	assert.NotEqual(t, "changed", info.Name)
}
