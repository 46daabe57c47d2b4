package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"presensi/internal/protocol"
)

// Config はチャンネルの設定
type Config struct {
	URL              string
	Header           http.Header
	Reconnect        ReconnectConfig
	WriteTimeout     time.Duration
	HandshakeTimeout time.Duration
}

// Handler は受信したペイロードを処理する
type Handler func(payload json.RawMessage)

// StateHandler は状態変化を受け取る
type StateHandler func(state State)

type subscription struct {
	id      string
	msgType string
	fn      Handler
}

type stateSubscription struct {
	id string
	fn StateHandler
}

// Status はチャンネルの状態のスナップショット
type Status struct {
	State       State     `json:"state"`
	URL         string    `json:"url"`
	ConnectedAt time.Time `json:"connected_at,omitempty"`
	Reconnects  uint32    `json:"reconnects"`
	LastError   string    `json:"last_error,omitempty"`
}

// Manager は1本の永続チャンネルを管理する
type Manager struct {
	cfg    Config
	dialer *websocket.Dialer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu          sync.Mutex
	state       State
	conn        *websocket.Conn
	connectedAt time.Time
	lastErr     error
	closed      bool

	writeMu sync.Mutex

	subsMu     sync.RWMutex
	subs       []subscription
	stateSubs  []stateSubscription
	reconnects atomic.Uint32
}

// NewManager は新しいManagerを作成する。接続はConnectで開始する
func NewManager(cfg Config) *Manager {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		cfg: cfg,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
		ctx:    ctx,
		cancel: cancel,
		state:  StateDisconnected,
	}
}

// Connect は接続を開始する。Disconnected以外では何もしない
func (m *Manager) Connect() {
	m.mu.Lock()
	if m.closed || m.state != StateDisconnected {
		m.mu.Unlock()
		return
	}
	m.state = StateConnecting
	m.wg.Add(1)
	m.mu.Unlock()

	m.notifyState(StateConnecting)
	go m.run()
}

// State は現在の接続状態を返す
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Status は状態のスナップショットを返す
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := Status{
		State:       m.state,
		URL:         m.cfg.URL,
		ConnectedAt: m.connectedAt,
		Reconnects:  m.reconnects.Load(),
	}
	if m.lastErr != nil {
		st.LastError = m.lastErr.Error()
	}
	return st
}

// Send はメッセージを1通送る。接続中でなければ何もせずfalseを返す
// 書き込みに失敗した場合は接続を閉じ、再接続に任せる
func (m *Manager) Send(msgType string, payload any) bool {
	m.mu.Lock()
	conn, state := m.conn, m.state
	m.mu.Unlock()

	if state != StateConnected || conn == nil {
		return false
	}

	env, err := protocol.NewEnvelope(msgType, payload)
	if err != nil {
		log.Printf("送信メッセージの作成に失敗: %v", err)
		return false
	}
	data, err := json.Marshal(env)
	if err != nil {
		log.Printf("送信メッセージのエンコードに失敗: %v", err)
		return false
	}

	m.writeMu.Lock()
	_ = conn.SetWriteDeadline(time.Now().Add(m.cfg.WriteTimeout))
	err = conn.WriteMessage(websocket.TextMessage, data)
	m.writeMu.Unlock()

	if err != nil {
		log.Printf("送信に失敗したため接続を閉じます: %v", err)
		m.setError(err)
		_ = conn.Close()
		return false
	}
	return true
}

// Subscribe はメッセージタイプごとのハンドラを登録し、登録IDを返す
// ハンドラは受信ゴルーチンから到着順に呼ばれる
func (m *Manager) Subscribe(msgType string, fn Handler) string {
	id := uuid.New().String()
	m.subsMu.Lock()
	m.subs = append(m.subs, subscription{id: id, msgType: msgType, fn: fn})
	m.subsMu.Unlock()
	return id
}

// OnStateChange は状態変化のハンドラを登録し、登録IDを返す
func (m *Manager) OnStateChange(fn StateHandler) string {
	id := uuid.New().String()
	m.subsMu.Lock()
	m.stateSubs = append(m.stateSubs, stateSubscription{id: id, fn: fn})
	m.subsMu.Unlock()
	return id
}

// Unsubscribe は登録を解除する。チャンネル自体は閉じない
func (m *Manager) Unsubscribe(id string) bool {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()

	for i, s := range m.subs {
		if s.id == id {
			m.subs = append(m.subs[:i:i], m.subs[i+1:]...)
			return true
		}
	}
	for i, s := range m.stateSubs {
		if s.id == id {
			m.stateSubs = append(m.stateSubs[:i:i], m.stateSubs[i+1:]...)
			return true
		}
	}
	return false
}

// Close はチャンネルを完全に停止する。プロセス終了時にのみ呼ぶ
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	conn := m.conn
	m.mu.Unlock()

	m.cancel()
	if conn != nil {
		m.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		m.writeMu.Unlock()
		_ = conn.Close()
	}
	m.wg.Wait()
	m.setState(StateDisconnected)
	return nil
}

// run は接続・受信・再接続のループ
func (m *Manager) run() {
	defer m.wg.Done()

	attempt := 0
	for {
		conn, err := m.dial()
		if err != nil {
			if m.ctx.Err() != nil {
				m.setState(StateDisconnected)
				return
			}
			m.setError(err)
			attempt++
			if attempt > m.cfg.Reconnect.MaxAttempts {
				log.Printf("再接続の上限(%d回)に達しました: %s", m.cfg.Reconnect.MaxAttempts, m.cfg.URL)
				m.setState(StateDisconnected)
				return
			}
			m.setState(StateReconnecting)
			m.reconnects.Add(1)

			delay := m.cfg.Reconnect.delay(attempt)
			log.Printf("接続に失敗しました (%d/%d回目, %v後に再試行): %v", attempt, m.cfg.Reconnect.MaxAttempts, delay, err)

			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
				continue
			case <-m.ctx.Done():
				timer.Stop()
				m.setState(StateDisconnected)
				return
			}
		}

		attempt = 0
		if !m.attach(conn) {
			_ = conn.Close()
			m.setState(StateDisconnected)
			return
		}
		log.Printf("チャンネルに接続しました: %s", m.cfg.URL)

		m.readLoop(conn)
		m.detach(conn)

		if m.ctx.Err() != nil {
			m.setState(StateDisconnected)
			return
		}
		log.Printf("チャンネルが切断されました。再接続します: %s", m.cfg.URL)
		m.setState(StateReconnecting)
	}
}

func (m *Manager) dial() (*websocket.Conn, error) {
	conn, resp, err := m.dialer.DialContext(m.ctx, m.cfg.URL, m.cfg.Header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("チャンネルへの接続に失敗: %w", err)
	}
	return conn, nil
}

// attach は接続を登録してConnectedにする。Close済みならfalse
func (m *Manager) attach(conn *websocket.Conn) bool {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false
	}
	m.conn = conn
	m.connectedAt = time.Now()
	m.lastErr = nil
	m.mu.Unlock()

	m.setState(StateConnected)
	return true
}

func (m *Manager) detach(conn *websocket.Conn) {
	m.mu.Lock()
	if m.conn == conn {
		m.conn = nil
	}
	m.mu.Unlock()
	_ = conn.Close()
}

// readLoop は受信メッセージを到着順にハンドラへ配る
func (m *Manager) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if m.ctx.Err() == nil {
				m.setError(err)
			}
			return
		}

		var env protocol.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			log.Printf("受信メッセージのデコードに失敗: %v", err)
			continue
		}
		m.dispatch(env)
	}
}

func (m *Manager) dispatch(env protocol.Envelope) {
	m.subsMu.RLock()
	var handlers []Handler
	for _, s := range m.subs {
		if s.msgType == env.Type {
			handlers = append(handlers, s.fn)
		}
	}
	m.subsMu.RUnlock()

	for _, fn := range handlers {
		fn(env.Payload)
	}
}

func (m *Manager) setError(err error) {
	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()
}

func (m *Manager) setState(state State) {
	m.mu.Lock()
	if m.state == state {
		m.mu.Unlock()
		return
	}
	m.state = state
	m.mu.Unlock()

	m.notifyState(state)
}

func (m *Manager) notifyState(state State) {
	m.subsMu.RLock()
	handlers := make([]StateHandler, 0, len(m.stateSubs))
	for _, s := range m.stateSubs {
		handlers = append(handlers, s.fn)
	}
	m.subsMu.RUnlock()

	for _, fn := range handlers {
		fn(state)
	}
}
