package logger_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/koopa0/system-design/14-game-room/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestParseLevel 測試日誌級別解析
func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"unknown", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, logger.ParseLevel(tt.input))
		})
	}

	assert.True(t, logger.ValidLevel("warn"))
	assert.False(t, logger.ValidLevel("verbose"))
}

// TestContextHandler 測試上下文屬性注入
func TestContextHandler(t *testing.T) {
	var buf bytes.Buffer
	log := logger.NewWithWriter(&buf, "info", "json")

	ctx := logger.WithRequestID(context.Background(), "req-1")
	ctx = logger.WithRoomCode(ctx, "AB12CD")
	log.With("component", "test").InfoContext(ctx, "玩家加入房間", "seat", 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "req-1", entry["request_id"])
	assert.Equal(t, "AB12CD", entry["room_code"])
	assert.Equal(t, "test", entry["component"])
	assert.EqualValues(t, 1, entry["seat"])
}

// TestLevelFiltering 測試級別過濾
func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := logger.NewWithWriter(&buf, "warn", "text")

	log.Info("不應輸出")
	assert.Empty(t, buf.String())

	log.Warn("應輸出")
	assert.Contains(t, buf.String(), "應輸出")
}
