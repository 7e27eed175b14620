package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/koopa0/system-design/14-game-room/internal/coordinator"
	"github.com/koopa0/system-design/14-game-room/internal/metrics"
	"github.com/koopa0/system-design/14-game-room/internal/reaction"
	"github.com/koopa0/system-design/14-game-room/internal/roomcode"
	apperrors "github.com/koopa0/system-design/14-game-room/pkg/errors"
)

// 系統設計問題：
//   如何讓兩位玩家與觀戰者即時看到同一個房間？
//
// 核心挑戰：
//   1. 推送：每次變更都要送到所有連線，慢的連線不能拖累房間
//   2. 在線狀態：連線斷了要通知協調器，開始重連寬限
//   3. 心跳：偵測死連線（54s Ping / 60s 讀取逾時）
//   4. 濫用：每條連線的訊框都要限流
//
// 設計方案：
//   ✅ 每條連線訂閱協調器的快照（Observe），協調器端只保留最新版本
//   ✅ 連線開啟 → Reconnect，最後一條連線關閉 → Disconnect
//   ✅ 表情另外訂閱，一送出就推給所有連線，不等下一個快照
//   ✅ 房間不在本機時，觀戰者改訂閱 Redis 轉發的快照
//   ✅ rate.Limiter 限制客戶端訊框

const (
	// writeWait 單次寫入期限
	writeWait = 10 * time.Second
	// pongWait 讀取逾時（收到 Pong 會延長）
	pongWait = 60 * time.Second
	// pingPeriod Ping 間隔，必須小於 pongWait
	pingPeriod = 54 * time.Second
	// maxFrameBytes 客戶端訊框上限
	maxFrameBytes = 4 << 10
	// sendBuffer 每條連線的發送緩衝
	sendBuffer = 16
)

// spectator 觀戰連線的座位值
const spectator = -1

// RemoteFeed 其他實例轉發的房間快照
type RemoteFeed interface {
	Subscribe(ctx context.Context, code string) (<-chan coordinator.Snapshot, error)
}

// Frame 伺服器推送的訊框
type Frame struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// 伺服器訊框事件
const (
	EventSnapshot   = "snapshot"
	EventMoved      = "moved"
	EventPong       = "pong"
	EventError      = "error"
	EventRoomClosed = "room_closed"
	EventReaction   = "reaction"
)

// clientFrame 客戶端訊框
type clientFrame struct {
	Type   string `json:"type"`
	Symbol string `json:"symbol,omitempty"`
}

// WebSocketHub WebSocket 連接中心
type WebSocketHub struct {
	coord    *coordinator.Coordinator
	remote   RemoteFeed
	logger   *slog.Logger
	metrics  *metrics.Metrics
	upgrader websocket.Upgrader
	opts     Options

	mu          sync.Mutex
	connections map[*Connection]struct{}
	stopped     bool
}

// Connection 一條 WebSocket 連線
type Connection struct {
	Code     string
	Seat     int // spectator 代表觀戰
	PlayerID string
	Remote   bool // 訂閱的是其他實例的快照

	hub     *WebSocketHub
	conn    *websocket.Conn
	send    chan []byte
	limiter *rate.Limiter
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewWebSocketHub 創建 WebSocket Hub；remote 可為 nil
func NewWebSocketHub(coord *coordinator.Coordinator, remote RemoteFeed, logger *slog.Logger, m *metrics.Metrics, opts Options) *WebSocketHub {
	allowed := make(map[string]bool, len(opts.CORSAllow))
	for _, origin := range opts.CORSAllow {
		allowed[origin] = true
	}

	return &WebSocketHub{
		coord:   coord,
		remote:  remote,
		logger:  logger,
		metrics: m,
		opts:    opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				// 非瀏覽器客戶端沒有 Origin
				if origin == "" || len(allowed) == 0 || allowed["*"] {
					return true
				}
				return allowed[origin]
			},
		},
		connections: make(map[*Connection]struct{}),
	}
}

// ServeWS 處理 WebSocket 連接：/ws/rooms/{code}?player_id=&seat=
//
// 沒有 seat 的連線是觀戰者，只收快照。
func (hub *WebSocketHub) ServeWS(w http.ResponseWriter, r *http.Request) {
	code := roomcode.Normalize(r.PathValue("code"))
	if !roomcode.Valid(code) {
		writeError(w, hub.logger, apperrors.ErrInvalidInput.WithDetails("invalid room code"))
		return
	}

	seat := spectator
	playerID := r.URL.Query().Get("player_id")
	if raw := r.URL.Query().Get("seat"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, hub.logger, apperrors.ErrInvalidInput.WithDetails("seat must be a number"))
			return
		}
		if err := hub.coord.Authorize(code, playerID, n); err != nil {
			writeError(w, hub.logger, err)
			return
		}
		seat = n
	}

	// 連線的生命週期比這個請求長，不能用 r.Context()
	ctx, cancel := context.WithCancel(context.Background())

	feed, remote, err := hub.subscribe(ctx, code, seat)
	if err != nil {
		cancel()
		writeError(w, hub.logger, err)
		return
	}

	// 轉發的房間沒有本機表情通道，表情只隨快照到達
	var reactions <-chan reaction.Event
	if !remote {
		reactions, err = hub.coord.SubscribeReactions(ctx, code)
		if err != nil {
			cancel()
			writeError(w, hub.logger, err)
			return
		}
	}

	conn, err := hub.upgrader.Upgrade(w, r, nil)
	if err != nil {
		cancel()
		hub.logger.Error("升級 WebSocket 失敗", "code", code, "error", err)
		return
	}
	conn.SetReadLimit(maxFrameBytes)

	c := &Connection{
		Code:     code,
		Seat:     seat,
		PlayerID: playerID,
		Remote:   remote,
		hub:      hub,
		conn:     conn,
		send:     make(chan []byte, sendBuffer),
		ctx:      ctx,
		cancel:   cancel,
	}
	if hub.opts.FramesPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(hub.opts.FramesPerSecond), max(hub.opts.FrameBurst, 1))
	}

	if !hub.register(c) {
		cancel()
		_ = conn.Close()
		return
	}

	if seat != spectator {
		if err := hub.coord.Reconnect(code, seat); err != nil {
			hub.logger.Warn("登記連線失敗", "code", code, "seat", seat, "error", err)
		}
	}
	hub.metrics.ConnectionOpened()

	go c.writePump()
	go c.forward(feed, reactions)
	go c.readPump()

	hub.logger.Info("WebSocket 連接建立",
		"code", code,
		"seat", seat,
		"player_id", playerID,
		"remote", remote)
}

// subscribe 訂閱本機房間；不在本機時觀戰者改用轉發
func (hub *WebSocketHub) subscribe(ctx context.Context, code string, seat int) (<-chan coordinator.Snapshot, bool, error) {
	feed, err := hub.coord.Observe(ctx, code)
	if err == nil {
		return feed, false, nil
	}
	if !errors.Is(err, apperrors.ErrRoomNotFound) || hub.remote == nil || seat != spectator {
		return nil, false, err
	}

	feed, err = hub.remote.Subscribe(ctx, code)
	if err != nil {
		hub.logger.Warn("訂閱轉發失敗", "code", code, "error", err)
		return nil, false, apperrors.ErrRoomNotFound
	}
	return feed, true, nil
}

// register 註冊連接
func (hub *WebSocketHub) register(c *Connection) bool {
	hub.mu.Lock()
	defer hub.mu.Unlock()

	if hub.stopped {
		return false
	}
	hub.connections[c] = struct{}{}
	return true
}

// unregister 取消註冊並通知協調器
func (hub *WebSocketHub) unregister(c *Connection) {
	hub.mu.Lock()
	_, ok := hub.connections[c]
	delete(hub.connections, c)
	hub.mu.Unlock()

	c.cancel()
	if !ok {
		return
	}

	if c.Seat != spectator {
		err := hub.coord.Disconnect(c.Code, c.Seat)
		if err != nil && !errors.Is(err, apperrors.ErrRoomNotFound) {
			hub.logger.Warn("登記斷線失敗", "code", c.Code, "seat", c.Seat, "error", err)
		}
	}
	hub.metrics.ConnectionClosed()
}

// ConnectionCount 目前的連線數
func (hub *WebSocketHub) ConnectionCount() int {
	hub.mu.Lock()
	defer hub.mu.Unlock()
	return len(hub.connections)
}

// Stop 關閉所有連線
func (hub *WebSocketHub) Stop() {
	hub.mu.Lock()
	hub.stopped = true
	conns := make([]*Connection, 0, len(hub.connections))
	for c := range hub.connections {
		conns = append(conns, c)
	}
	hub.mu.Unlock()

	for _, c := range conns {
		c.cancel()
	}

	hub.logger.Info("WebSocket Hub 已停止", "connections", len(conns))
}

// forward 把快照與表情送進發送佇列
//
// 協調器端的訂閱不會阻塞房間（快照只保留最新版本，表情滿了就丟），這裡阻塞等待不會讓房間變慢。
func (c *Connection) forward(feed <-chan coordinator.Snapshot, reactions <-chan reaction.Event) {
	for {
		select {
		case ev, ok := <-reactions:
			if !ok {
				// 快照通道會接著關閉
				reactions = nil
				continue
			}
			c.push(Frame{Event: EventReaction, Data: ev})
		case snap, ok := <-feed:
			if !ok {
				// 房間已銷毀
				c.push(Frame{Event: EventRoomClosed, Data: map[string]string{"code": c.Code}})
				c.cancel()
				return
			}
			c.push(Frame{Event: EventSnapshot, Data: snap})
		case <-c.ctx.Done():
			return
		}
	}
}

// push 序列化並排入發送佇列；連線關閉時放棄
func (c *Connection) push(f Frame) {
	msg, err := json.Marshal(f)
	if err != nil {
		c.hub.logger.Error("序列化訊框失敗", "event", f.Event, "error", err)
		return
	}
	select {
	case c.send <- msg:
	case <-c.ctx.Done():
	}
}

// readPump 讀取客戶端訊框
//
// 60 秒內沒有任何訊息（包括 Pong）就視為死連線。
func (c *Connection) readPump() {
	defer func() {
		c.hub.unregister(c)
		_ = c.conn.Close()
	}()

	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.hub.logger.Error("設置讀取期限失敗", "error", err)
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.hub.logger.Warn("WebSocket 讀取錯誤",
					"error", err,
					"code", c.Code,
					"seat", c.Seat)
			}
			return
		}
		if messageType == websocket.TextMessage {
			c.handleMessage(message)
		}
	}
}

// writePump 寫入訊框到客戶端，定時送 Ping
//
// ctx 結束時先送完佇列中的訊框，再送 Close。
func (c *Connection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	write := func(messageType int, data []byte) error {
		if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
			return err
		}
		return c.conn.WriteMessage(messageType, data)
	}

	for {
		select {
		case message := <-c.send:
			if err := write(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			if err := write(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.ctx.Done():
			for {
				select {
				case message := <-c.send:
					if err := write(websocket.TextMessage, message); err != nil {
						return
					}
				default:
					_ = write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
					return
				}
			}
		}
	}
}

// handleMessage 處理客戶端訊框
func (c *Connection) handleMessage(message []byte) {
	var frame clientFrame
	if err := json.Unmarshal(message, &frame); err != nil {
		c.reply(frame.Type, apperrors.ErrInvalidInput.WithDetails("malformed frame"))
		return
	}

	if c.limiter != nil && !c.limiter.Allow() {
		c.push(Frame{Event: EventError, Data: map[string]any{
			"type":    frame.Type,
			"code":    errCodeRateLimited,
			"message": "too many frames",
		}})
		return
	}

	if frame.Type == "ping" {
		c.push(Frame{Event: EventPong})
		return
	}

	if c.Seat == spectator || c.Remote {
		c.reply(frame.Type, apperrors.ErrForbidden.WithDetails("spectators cannot act"))
		return
	}

	coord := c.hub.coord
	switch frame.Type {
	case "reaction":
		c.reply(frame.Type, coord.SendReaction(c.Code, c.Seat, reaction.Symbol(frame.Symbol)))
	case "turn":
		move, err := coord.AdvanceTurn(c.Code, c.Seat)
		if err != nil {
			c.reply(frame.Type, err)
			return
		}
		c.push(Frame{Event: EventMoved, Data: move})
	case "resign":
		c.reply(frame.Type, coord.Resign(c.Code, c.Seat))
	case "ack":
		c.reply(frame.Type, coord.Acknowledge(c.Code, c.Seat))
	default:
		c.reply(frame.Type, apperrors.ErrInvalidInput.WithDetails("unknown frame type"))
	}
}

// reply 失敗時送出錯誤訊框；成功不回覆（快照會反映結果）
func (c *Connection) reply(frameType string, err error) {
	if err == nil {
		return
	}
	body := errorBody(c.hub.logger, err)
	body["type"] = frameType
	c.push(Frame{Event: EventError, Data: body})
}
