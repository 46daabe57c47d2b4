// Package timeutil は時刻処理をテスト可能にするための抽象化を提供する
package timeutil

import (
	"sync"
	"time"
)

// Clock は現在時刻とティッカーを提供するインターフェース
type Clock interface {
	// Now は現在時刻を返す
	Now() time.Time

	// Since は t からの経過時間を返す
	Since(t time.Time) time.Duration

	// NewTicker は指定間隔で時刻を送るティッカーを作成する
	NewTicker(d time.Duration) Ticker
}

// Ticker は一定間隔のティックを配信する
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// RealClock は標準のtimeパッケージを使うClock実装
type RealClock struct{}

// Now は現在時刻を返す
func (RealClock) Now() time.Time {
	return time.Now()
}

// Since は t からの経過時間を返す
func (RealClock) Since(t time.Time) time.Duration {
	return time.Since(t)
}

// NewTicker は新しいティッカーを作成する
func (RealClock) NewTicker(d time.Duration) Ticker {
	return &realTicker{ticker: time.NewTicker(d)}
}

type realTicker struct {
	ticker *time.Ticker
}

func (t *realTicker) C() <-chan time.Time { return t.ticker.C }
func (t *realTicker) Stop()               { t.ticker.Stop() }

// MockClock はテスト用に手動で進めるClock実装
type MockClock struct {
	mu      sync.Mutex
	now     time.Time
	tickers []*MockTicker
}

// NewMockClock は指定時刻で初期化したMockClockを作成する
func NewMockClock(t time.Time) *MockClock {
	return &MockClock{now: t}
}

// Now は模擬的な現在時刻を返す
func (c *MockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Since は t からの経過時間を返す
func (c *MockClock) Since(t time.Time) time.Duration {
	return c.Now().Sub(t)
}

// Set は時刻を指定値に設定する
func (c *MockClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// Advance は時刻を進め、期限を迎えたティッカーを発火させる
func (c *MockClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	now := c.now
	tickers := append([]*MockTicker(nil), c.tickers...)
	c.mu.Unlock()

	for _, t := range tickers {
		t.checkAndFire(now)
	}
}

// NewTicker はMockTickerを作成する
func (c *MockClock) NewTicker(d time.Duration) Ticker {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := &MockTicker{
		ch:       make(chan time.Time, 1),
		interval: d,
		nextTick: c.now.Add(d),
	}
	c.tickers = append(c.tickers, t)
	return t
}

// Tickers は作成済みのティッカー一覧を返す
func (c *MockClock) Tickers() []*MockTicker {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*MockTicker(nil), c.tickers...)
}

// MockTicker は手動で発火させるティッカー
type MockTicker struct {
	mu       sync.Mutex
	ch       chan time.Time
	interval time.Duration
	nextTick time.Time
	stopped  bool
}

// C はティックチャンネルを返す
func (t *MockTicker) C() <-chan time.Time {
	return t.ch
}

// Stop はティッカーを停止する
func (t *MockTicker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
}

// Stopped は停止済みかどうかを返す
func (t *MockTicker) Stopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

// Trigger は指定時刻のティックを手動で送る
// 受信側が前のティックを消費していない場合は破棄される
func (t *MockTicker) Trigger(now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return false
	}
	select {
	case t.ch <- now:
		return true
	default:
		return false
	}
}

func (t *MockTicker) checkAndFire(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stopped {
		return
	}

	if !now.Before(t.nextTick) {
		select {
		case t.ch <- now:
		default:
		}
		t.nextTick = now.Add(t.interval)
	}
}
