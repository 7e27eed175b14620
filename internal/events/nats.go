package events

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// DefaultSubjectPrefix 預設 Subject 前綴
const DefaultSubjectPrefix = "rooms"

// NATSSink 透過 Core NATS 發布事件
//
// 為什麼用 Core NATS 而非 JetStream？
//   - 房間事件是通知，消費方需要的是即時性，不是重播
//   - Publish 只寫入客戶端緩衝，不會阻塞房間鎖
//   - 需要持久化的消費方可以自行用 JetStream 訂閱相同 Subject
type NATSSink struct {
	conn   *nats.Conn
	prefix string
	logger *slog.Logger
}

// NewNATSSink 連接 NATS 並創建事件接收端
func NewNATSSink(url, prefix string, logger *slog.Logger) (*NATSSink, error) {
	conn, err := nats.Connect(url,
		nats.Name("game-room-coordinator"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS 連線中斷", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("NATS 已重新連線", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("連接 NATS 失敗: %w", err)
	}
	return NewNATSSinkWithConn(conn, prefix, logger), nil
}

// NewNATSSinkWithConn 使用既有連線創建事件接收端
func NewNATSSinkWithConn(conn *nats.Conn, prefix string, logger *slog.Logger) *NATSSink {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &NATSSink{conn: conn, prefix: prefix, logger: logger}
}

// Emit 實現 Sink
func (s *NATSSink) Emit(ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		s.logger.Error("序列化事件失敗", "error", err, "type", ev.Type, "code", ev.Code)
		return
	}

	if err := s.conn.Publish(Subject(s.prefix, ev.Code, ev.Type), data); err != nil {
		s.logger.Warn("發布事件失敗", "error", err, "type", ev.Type, "code", ev.Code)
	}
}

// Close 送出緩衝中的事件後關閉連線
func (s *NATSSink) Close() error {
	return s.conn.Drain()
}

// Subject 事件 Subject：{prefix}.{code}.{type}
func Subject(prefix, code string, t Type) string {
	return prefix + "." + code + "." + string(t)
}

// SubjectWildcard 訂閱所有房間事件的 Subject
func SubjectWildcard(prefix string) string {
	return prefix + ".*.*"
}
