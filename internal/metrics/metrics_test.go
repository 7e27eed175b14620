package metrics_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/koopa0/system-design/14-game-room/internal/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestMetrics_RoomGauge 測試房間狀態量表
func TestMetrics_RoomGauge(t *testing.T) {
	m := metrics.New()

	m.RoomCreated("chess", "waiting")
	m.RoomCreated("chess", "waiting")
	m.StateChanged("waiting", "active")
	m.StateChanged("active", "finished")
	m.Outcome("time_forfeit")
	m.RoomDestroyed("waiting")

	body := scrape(t, m)
	assert.Contains(t, body, `gameroom_rooms_created_total{game="chess"} 2`)
	assert.Contains(t, body, `gameroom_rooms{state="waiting"} 0`)
	assert.Contains(t, body, `gameroom_rooms{state="active"} 0`)
	assert.Contains(t, body, `gameroom_rooms{state="finished"} 1`)
	assert.Contains(t, body, `gameroom_outcomes_total{reason="time_forfeit"} 1`)
	assert.Contains(t, body, `gameroom_rooms_destroyed_total 1`)
}

// TestMetrics_Counters 測試計數器
func TestMetrics_Counters(t *testing.T) {
	m := metrics.New()
	m.Joined()
	m.TurnAdvanced()
	m.TurnAdvanced()
	m.ReactionPublished()
	m.ConnectionOpened()
	m.ConnectionOpened()
	m.ConnectionClosed()
	m.InvariantViolated()

	count, err := testutil.GatherAndCount(m.Registry(),
		"gameroom_joins_total", "gameroom_turns_total", "gameroom_websocket_connections")
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	body := scrape(t, m)
	assert.Contains(t, body, "gameroom_turns_total 2")
	assert.Contains(t, body, "gameroom_websocket_connections 1")
	assert.Contains(t, body, "gameroom_invariant_violations_total 1")
}

// TestMetrics_NilSafe 測試 nil 接收者
func TestMetrics_NilSafe(t *testing.T) {
	var m *metrics.Metrics
	assert.NotPanics(t, func() {
		m.RoomCreated("chess", "waiting")
		m.StateChanged("waiting", "active")
		m.RoomDestroyed("active")
		m.Outcome("resignation")
		m.Joined()
		m.TurnAdvanced()
		m.ReactionPublished()
		m.ConnectionOpened()
		m.ConnectionClosed()
		m.InvariantViolated()
	})
	assert.NotNil(t, m.Handler())
}

func scrape(t *testing.T, m *metrics.Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}
