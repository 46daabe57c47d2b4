// Package stream はカメラのフレームを一定間隔で認識サービスへ送る
package stream

import (
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"presensi/internal/camera"
	"presensi/internal/channel"
	"presensi/internal/protocol"
	"presensi/internal/timeutil"
)

// Snapshotter はフレームの取得元
type Snapshotter interface {
	Active() bool
	Snapshot(quality float64) (camera.Frame, error)
}

// Sender はフレームの送信先
type Sender interface {
	State() channel.State
	Send(msgType string, payload any) bool
}

// Config はProducerの設定
type Config struct {
	Interval time.Duration `yaml:"interval"` // 送信間隔
	Quality  float64       `yaml:"quality"`  // JPEG品質 (0.0-1.0)
}

// DefaultConfig はデフォルト設定を返す
func DefaultConfig() Config {
	return Config{
		Interval: 500 * time.Millisecond,
		Quality:  0.7,
	}
}

// Stats はProducerの統計
type Stats struct {
	Ticks           uint64 `json:"ticks"`
	Sent            uint64 `json:"sent"`
	SkippedNotReady uint64 `json:"skipped_not_ready"`
	SkippedBusy     uint64 `json:"skipped_busy"`
	SkippedNoFrame  uint64 `json:"skipped_no_frame"`
	Dropped         uint64 `json:"dropped"`
	Errors          uint64 `json:"errors"`
}

// Producer は一定間隔でスナップショットを撮って送信する
// 前回の処理が終わっていないティックは飛ばす
type Producer struct {
	source Snapshotter
	sender Sender
	clock  timeutil.Clock
	config Config

	inFlight atomic.Bool

	// 制御用
	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
	work    sync.WaitGroup

	ticks           atomic.Uint64
	sent            atomic.Uint64
	skippedNotReady atomic.Uint64
	skippedBusy     atomic.Uint64
	skippedNoFrame  atomic.Uint64
	dropped         atomic.Uint64
	errors          atomic.Uint64
}

// NewProducer は新しいProducerを作成する
func NewProducer(source Snapshotter, sender Sender, clock timeutil.Clock, config Config) *Producer {
	if config.Interval <= 0 {
		config.Interval = DefaultConfig().Interval
	}
	if config.Quality <= 0 || config.Quality > 1 {
		config.Quality = DefaultConfig().Quality
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Producer{
		source: source,
		sender: sender,
		clock:  clock,
		config: config,
	}
}

// Start は送信ループを開始する。既に動作中なら何もしない
func (p *Producer) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return
	}
	p.running = true
	p.stopCh = make(chan struct{})

	ticker := p.clock.NewTicker(p.config.Interval)
	p.wg.Add(1)
	go p.loop(ctx, ticker, p.stopCh)

	log.Printf("フレーム送信を開始 (間隔: %v, 品質: %.2f)", p.config.Interval, p.config.Quality)
}

// Stop はティッカーを止め、送信中の1フレームの完了を待つ
// Stopが戻った後にティックは処理されない
func (p *Producer) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return
	}
	p.running = false
	close(p.stopCh)
	p.wg.Wait()
	// ループが止まった後はworkへのAddは起きない
	p.work.Wait()

	log.Println("フレーム送信を停止")
}

// Running は送信ループが動作中かどうかを返す
func (p *Producer) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Stats は統計を返す
func (p *Producer) Stats() Stats {
	return Stats{
		Ticks:           p.ticks.Load(),
		Sent:            p.sent.Load(),
		SkippedNotReady: p.skippedNotReady.Load(),
		SkippedBusy:     p.skippedBusy.Load(),
		SkippedNoFrame:  p.skippedNoFrame.Load(),
		Dropped:         p.dropped.Load(),
		Errors:          p.errors.Load(),
	}
}

func (p *Producer) loop(ctx context.Context, ticker timeutil.Ticker, stopCh <-chan struct{}) {
	defer p.wg.Done()
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C():
			// Stopと同時に届いたティックは処理しない
			select {
			case <-stopCh:
				return
			default:
			}
			p.tick()
		}
	}
}

func (p *Producer) tick() {
	p.ticks.Add(1)

	if !p.source.Active() || p.sender.State() != channel.StateConnected {
		p.skippedNotReady.Add(1)
		return
	}

	if !p.inFlight.CompareAndSwap(false, true) {
		p.skippedBusy.Add(1)
		return
	}

	p.work.Add(1)
	go func() {
		defer p.work.Done()
		defer p.inFlight.Store(false)
		p.sendFrame()
	}()
}

func (p *Producer) sendFrame() {
	frame, err := p.source.Snapshot(p.config.Quality)
	if err != nil {
		if errors.Is(err, camera.ErrNoFrame) || errors.Is(err, camera.ErrNotActive) {
			p.skippedNoFrame.Add(1)
			return
		}
		p.errors.Add(1)
		log.Printf("フレームの取得に失敗: %v", err)
		return
	}

	if p.sender.Send(protocol.TypeProcessFrame, protocol.NewProcessFrame(frame.Data)) {
		p.sent.Add(1)
	} else {
		p.dropped.Add(1)
	}
}
