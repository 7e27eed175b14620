package events_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/koopa0/system-design/14-game-room/internal/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestSubject 測試 Subject 命名
func TestSubject(t *testing.T) {
	assert.Equal(t, "rooms.AB12CD.joined", events.Subject("rooms", "AB12CD", events.TypeJoined))
	assert.Equal(t, "rooms.*.*", events.SubjectWildcard(events.DefaultSubjectPrefix))
}

// TestMemoryAndMulti 測試記憶體接收端與多路轉發
func TestMemoryAndMulti(t *testing.T) {
	a, b := events.NewMemory(), events.NewMemory()
	sink := events.Multi{a, b, events.Nop{}}

	sink.Emit(events.Event{Type: events.TypeCreated, Code: "AB12CD"})
	sink.Emit(events.Event{Type: events.TypeJoined, Code: "AB12CD"})
	sink.Emit(events.Event{Type: events.TypeCreated, Code: "ZZ0000"})

	assert.Equal(t, []events.Type{events.TypeCreated, events.TypeJoined}, a.Types("AB12CD"))
	assert.Len(t, b.Events(), 3)
}

// TestEvent_JSON 測試事件格式
func TestEvent_JSON(t *testing.T) {
	seat := 1
	ev := events.Event{
		Type:  events.TypeTurn,
		Code:  "AB12CD",
		Game:  "chess",
		Seat:  &seat,
		State: "active",
		At:    time.Unix(1700000000, 0).UTC(),
		Data:  map[string]any{"move_count": 3},
	}

	raw, err := json.Marshal(ev)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"type": "turn",
		"code": "AB12CD",
		"game": "chess",
		"seat": 1,
		"state": "active",
		"at": "2023-11-14T22:13:20Z",
		"data": {"move_count": 3}
	}`, string(raw))
}
