// Package roomcode 產生可分享的房間代碼
//
// 系統設計問題：
//
//	如何產生短、好唸、又不會和現存房間撞號的代碼？
//
// 設計方案：
//   - 字母表：大寫字母 + 數字（36 個字元）
//   - 長度：6 個字元 → 36^6 ≈ 21 億種組合
//   - 碰撞處理：與目前存活的房間比對，撞號就重抽（絕不覆蓋現有房間）
//   - 不需持久化：代碼只在房間存活期間有意義
package roomcode

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"strings"
)

const (
	// Alphabet 代碼字母表
	Alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	// Length 代碼長度
	Length = 6

	// DefaultMaxAttempts 撞號時最多重抽次數
	DefaultMaxAttempts = 16
)

// ErrExhausted 重抽次數用盡
var ErrExhausted = errors.New("roomcode: no free code available")

// Generator 房間代碼產生器
//
// 可安全並發使用（內部無可變狀態，隨機來源由 crypto/rand 提供）。
type Generator struct {
	source      io.Reader
	maxAttempts int
}

// Option 產生器選項
type Option func(*Generator)

// WithSource 指定隨機來源（測試用）
func WithSource(r io.Reader) Option {
	return func(g *Generator) { g.source = r }
}

// WithMaxAttempts 指定最多重抽次數
func WithMaxAttempts(n int) Option {
	return func(g *Generator) {
		if n > 0 {
			g.maxAttempts = n
		}
	}
}

// NewGenerator 創建代碼產生器
func NewGenerator(opts ...Option) *Generator {
	g := &Generator{
		source:      rand.Reader,
		maxAttempts: DefaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate 產生一個不在 inUse 中的代碼
//
// inUse 由呼叫方提供（通常是協調器持有註冊表鎖時的查詢），
// 回傳 true 代表代碼已被存活房間使用，需要重抽。
func (g *Generator) Generate(inUse func(code string) bool) (string, error) {
	for attempt := 0; attempt < g.maxAttempts; attempt++ {
		code, err := g.next()
		if err != nil {
			return "", fmt.Errorf("roomcode: read random: %w", err)
		}
		if inUse == nil || !inUse(code) {
			return code, nil
		}
	}
	return "", ErrExhausted
}

// next 抽一個代碼
//
// 使用拒絕取樣避免取模偏差：只接受 < 252（36 的 7 倍）的位元組。
func (g *Generator) next() (string, error) {
	const limit = 256 - 256%len(Alphabet)

	out := make([]byte, 0, Length)
	buf := make([]byte, Length*2)
	for len(out) < Length {
		if _, err := io.ReadFull(g.source, buf); err != nil {
			return "", err
		}
		for _, b := range buf {
			if int(b) >= limit {
				continue
			}
			out = append(out, Alphabet[int(b)%len(Alphabet)])
			if len(out) == Length {
				break
			}
		}
	}
	return string(out), nil
}

// Normalize 正規化使用者輸入的代碼（去空白、轉大寫）
func Normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Valid 檢查代碼格式
func Valid(code string) bool {
	if len(code) != Length {
		return false
	}
	for i := 0; i < len(code); i++ {
		if strings.IndexByte(Alphabet, code[i]) < 0 {
			return false
		}
	}
	return true
}
