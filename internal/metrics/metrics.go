// Package metrics 房間協調器的 Prometheus 指標
//
// 使用獨立的 Registry 而不是全域預設值，測試可以各自建立實例互不干擾。
// 所有方法對 nil 接收者安全：沒有配置指標時呼叫方不需要判斷。
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "gameroom"

// Metrics 協調器指標
type Metrics struct {
	registry *prometheus.Registry

	roomsCreated *prometheus.CounterVec
	rooms        *prometheus.GaugeVec
	outcomes     *prometheus.CounterVec
	joins        prometheus.Counter
	turns        prometheus.Counter
	reactions    prometheus.Counter
	destroyed    prometheus.Counter
	connections  prometheus.Gauge
	invariants   prometheus.Counter
}

// New 創建並註冊所有指標
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		roomsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rooms_created_total",
			Help:      "Rooms created, by game kind.",
		}, []string{"game"}),
		rooms: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rooms",
			Help:      "Live rooms, by lifecycle state.",
		}, []string{"state"}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outcomes_total",
			Help:      "Rooms that reached a terminal state, by reason.",
		}, []string{"reason"}),
		joins: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "joins_total",
			Help:      "Successful room joins.",
		}),
		turns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Accepted turn advances.",
		}),
		reactions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reactions_total",
			Help:      "Reactions published.",
		}),
		destroyed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rooms_destroyed_total",
			Help:      "Rooms removed from the registry.",
		}),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "websocket_connections",
			Help:      "Open WebSocket connections.",
		}),
		invariants: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invariant_violations_total",
			Help:      "Rooms torn down after an invariant violation.",
		}),
	}

	reg.MustRegister(
		m.roomsCreated, m.rooms, m.outcomes, m.joins, m.turns,
		m.reactions, m.destroyed, m.connections, m.invariants,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry 底層 Registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler 暴露 /metrics
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RoomCreated 記錄新房間（初始狀態 waiting）
func (m *Metrics) RoomCreated(game, state string) {
	if m == nil {
		return
	}
	m.roomsCreated.WithLabelValues(game).Inc()
	m.rooms.WithLabelValues(state).Inc()
}

// StateChanged 記錄狀態轉換
func (m *Metrics) StateChanged(from, to string) {
	if m == nil || from == to {
		return
	}
	m.rooms.WithLabelValues(from).Dec()
	m.rooms.WithLabelValues(to).Inc()
}

// RoomDestroyed 記錄房間銷毀
func (m *Metrics) RoomDestroyed(state string) {
	if m == nil {
		return
	}
	m.rooms.WithLabelValues(state).Dec()
	m.destroyed.Inc()
}

// Outcome 記錄對局結果
func (m *Metrics) Outcome(reason string) {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues(reason).Inc()
}

// Joined 記錄加入
func (m *Metrics) Joined() {
	if m == nil {
		return
	}
	m.joins.Inc()
}

// TurnAdvanced 記錄換手
func (m *Metrics) TurnAdvanced() {
	if m == nil {
		return
	}
	m.turns.Inc()
}

// ReactionPublished 記錄表情
func (m *Metrics) ReactionPublished() {
	if m == nil {
		return
	}
	m.reactions.Inc()
}

// ConnectionOpened WebSocket 連線建立
func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.connections.Inc()
}

// ConnectionClosed WebSocket 連線關閉
func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.connections.Dec()
}

// InvariantViolated 記錄不變量違反
func (m *Metrics) InvariantViolated() {
	if m == nil {
		return
	}
	m.invariants.Inc()
}
