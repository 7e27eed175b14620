// Package events 發布房間生命週期事件
//
// 協調器在每次狀態轉換後送出事件，供房間層以外的服務（戰績、積分、稽核）消費。
// 事件是「通知」而非狀態來源：送出失敗只記錄日誌，不影響房間操作。
//
// Subject 命名：{prefix}.{code}.{type}
// 範例：rooms.AB12CD.joined
// 保證：同一房間的事件在房間鎖內依序送出
package events

import (
	"sync"
	"time"
)

// Type 事件類型
type Type string

const (
	TypeCreated   Type = "created"
	TypeJoined    Type = "joined"
	TypeTurn      Type = "turn"
	TypeFinished  Type = "finished"
	TypeAbandoned Type = "abandoned"
	TypeDestroyed Type = "destroyed"
)

// Event 生命週期事件
type Event struct {
	Type  Type           `json:"type"`
	Code  string         `json:"code"`
	Game  string         `json:"game"`
	Seat  *int           `json:"seat,omitempty"`
	State string         `json:"state"`
	At    time.Time      `json:"at"`
	Data  map[string]any `json:"data,omitempty"`
}

// Sink 事件接收端
//
// Emit 在房間鎖內呼叫，阻塞會卡住整個房間；實作應自行處理錯誤。
type Sink interface {
	Emit(ev Event)
}

// Nop 丟棄所有事件
type Nop struct{}

// Emit 實現 Sink
func (Nop) Emit(Event) {}

// Memory 把事件保存在記憶體（測試與除錯用）
type Memory struct {
	mu     sync.Mutex
	events []Event
}

// NewMemory 創建記憶體接收端
func NewMemory() *Memory {
	return &Memory{}
}

// Emit 實現 Sink
func (m *Memory) Emit(ev Event) {
	m.mu.Lock()
	m.events = append(m.events, ev)
	m.mu.Unlock()
}

// Events 返回已收到的事件（副本）
func (m *Memory) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, len(m.events))
	copy(out, m.events)
	return out
}

// Types 返回指定房間收到的事件類型序列
func (m *Memory) Types(code string) []Type {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Type
	for _, ev := range m.events {
		if ev.Code == code {
			out = append(out, ev.Type)
		}
	}
	return out
}

// Multi 把事件送往多個接收端
type Multi []Sink

// Emit 實現 Sink
func (ms Multi) Emit(ev Event) {
	for _, s := range ms {
		s.Emit(ev)
	}
}
