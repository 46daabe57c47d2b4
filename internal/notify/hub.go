// Package notify は通知・表示更新・接続状態の変化を購読者へ配信する
package notify

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// EventType はイベントの種類
type EventType string

const (
	EventNotification EventType = "notification" // 歓迎メッセージ
	EventUpdate       EventType = "update"       // 表示の静かな更新
	EventState        EventType = "state"        // チャンネルの接続状態
	EventEnroll       EventType = "enroll"       // 登録撮影の進み具合
)

// Event は購読者へ配信する1件
type Event struct {
	Type EventType `json:"type"`
	At   time.Time `json:"at"`
	Data any       `json:"data"`
}

// Hub はイベントを全購読者へ配信する
// 受信が追いつかない購読者へのイベントは破棄し、送信側をブロックしない
type Hub struct {
	buffer int

	mu          sync.RWMutex
	subscribers map[string]chan Event
	closed      bool

	published atomic.Uint64
	dropped   atomic.Uint64
}

// NewHub は新しいHubを作成する
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 16
	}
	return &Hub{
		buffer:      buffer,
		subscribers: make(map[string]chan Event),
	}
}

// Subscribe は購読を開始し、IDと受信チャンネルを返す
func (h *Hub) Subscribe() (string, <-chan Event) {
	id := uuid.New().String()
	ch := make(chan Event, h.buffer)

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return id, ch
	}
	h.subscribers[id] = ch
	return id, ch
}

// Unsubscribe は購読を終了し、受信チャンネルを閉じる
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.subscribers[id]; ok {
		close(ch)
		delete(h.subscribers, id)
	}
}

// Publish はイベントを配信する
func (h *Hub) Publish(eventType EventType, data any) {
	ev := Event{Type: eventType, At: time.Now(), Data: data}

	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return
	}
	h.published.Add(1)
	for _, ch := range h.subscribers {
		select {
		case ch <- ev:
		default:
			h.dropped.Add(1)
		}
	}
}

// Subscribers は購読者数を返す
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// Dropped は破棄したイベント数を返す
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

// Published は配信したイベント数を返す
func (h *Hub) Published() uint64 {
	return h.published.Load()
}

// Close は全購読を終了する
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, ch := range h.subscribers {
		close(ch)
		delete(h.subscribers, id)
	}
}
