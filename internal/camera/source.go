package camera

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Source は1台のカメラの取得・解放と最新フレームの保持を担う
// 同時に1つの取得のみを許可する
type Source struct {
	device Device
	detail *DeviceInfo

	mu      sync.RWMutex
	status  Status
	stream  Stream
	surface *Surface
	stopCh  chan struct{}
	doneCh  chan struct{}
	lastErr error

	// 取得処理中のキャンセル用
	acquireCancel context.CancelFunc

	// 最新フレーム保持用
	latestMu    sync.RWMutex
	latestFrame []byte
	latestAt    time.Time
	frameCount  uint64
}

// NewSource は新しいSourceを作成する
func NewSource(device Device) *Source {
	return &Source{
		device: device,
		status: StatusInactive,
	}
}

// Describe はデバイスの名前とドライバをDiscoveryから取得して保持する
func (s *Source) Describe(ctx context.Context, discovery Discovery) error {
	detail, err := discovery.GetDeviceInfo(ctx, s.device.Path())
	if err != nil {
		return fmt.Errorf("デバイス情報の取得に失敗: %w", err)
	}

	s.mu.Lock()
	s.detail = detail
	s.mu.Unlock()
	return nil
}

// Acquire はカメラを開いてライブ映像を開始する
// デバイスが最初のフレームを返すまでブロックするが、その間も他の操作は妨げない
func (s *Source) Acquire(ctx context.Context) (Surface, error) {
	s.mu.Lock()
	if s.stream != nil || s.acquireCancel != nil {
		s.mu.Unlock()
		return Surface{}, ErrAlreadyAcquired
	}
	openCtx, cancel := context.WithCancel(ctx)
	s.acquireCancel = cancel
	s.mu.Unlock()

	stream, err := s.device.Open(openCtx)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.acquireCancel = nil
	cancelled := openCtx.Err() != nil
	cancel()

	if err == nil && cancelled {
		// 取得中にReleaseされた
		_ = stream.Close()
		err = context.Canceled
	}
	if err != nil {
		if cancelled {
			s.status = StatusInactive
			return Surface{}, fmt.Errorf("カメラの取得が中断されました: %w", err)
		}
		s.status = StatusError
		s.lastErr = err
		log.Printf("カメラの取得に失敗: %s: %v", s.device.Path(), err)
		return Surface{}, fmt.Errorf("カメラの取得に失敗: %w", err)
	}

	surface := &Surface{
		ID:         uuid.New().String(),
		Device:     s.device.Path(),
		AcquiredAt: time.Now(),
	}

	s.stream = stream
	s.surface = surface
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.status = StatusActive
	s.lastErr = nil

	go s.forwardFrames(stream, s.stopCh, s.doneCh)

	log.Printf("カメラを取得しました: %s (surface=%s)", surface.Device, surface.ID)
	return *surface, nil
}

// Release はカメラを停止する。取得していない場合は何もしない
// 進行中のSnapshotがあってもデバイスは必ず停止する
func (s *Source) Release(_ context.Context) error {
	s.mu.Lock()
	if s.stream == nil {
		if s.acquireCancel != nil {
			s.acquireCancel()
		}
		s.status = StatusInactive
		s.mu.Unlock()
		return nil
	}
	stream, stopCh, doneCh := s.stream, s.stopCh, s.doneCh
	s.stream = nil
	s.surface = nil
	s.stopCh = nil
	s.doneCh = nil
	s.status = StatusInactive
	s.mu.Unlock()

	close(stopCh)
	err := stream.Close()
	<-doneCh

	s.latestMu.Lock()
	s.latestFrame = nil
	s.latestAt = time.Time{}
	s.latestMu.Unlock()

	if err != nil {
		return fmt.Errorf("カメラの停止に失敗: %w", err)
	}
	log.Printf("カメラを解放しました: %s", s.device.Path())
	return nil
}

// Active はライブ映像が動作中かどうかを返す
func (s *Source) Active() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status == StatusActive
}

// Status は現在の状態を返す
func (s *Source) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// LastError は直近の取得エラーを返す
func (s *Source) LastError() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastErr
}

// Info は現在の状態をまとめて返す
func (s *Source) Info() Info {
	s.mu.RLock()
	info := Info{
		Device: s.device.Path(),
		Status: s.status,
	}
	if s.detail != nil {
		info.Name = s.detail.Name
		info.Driver = s.detail.Driver
	}
	if s.surface != nil {
		info.SurfaceID = s.surface.ID
		info.AcquiredAt = s.surface.AcquiredAt
	}
	if s.lastErr != nil {
		info.LastError = s.lastErr.Error()
	}
	s.mu.RUnlock()

	s.latestMu.RLock()
	info.FrameCount = s.frameCount
	info.LastFrameAt = s.latestAt
	s.latestMu.RUnlock()
	return info
}

// Latest はプレビュー用に最新の生フレームを返す
// 返したスライスは変更してはならない
func (s *Source) Latest() ([]byte, bool) {
	if !s.Active() {
		return nil, false
	}
	s.latestMu.RLock()
	defer s.latestMu.RUnlock()
	if s.latestFrame == nil {
		return nil, false
	}
	return s.latestFrame, true
}

// Snapshot は最新フレームを指定品質で再エンコードして返す
func (s *Source) Snapshot(quality float64) (Frame, error) {
	if !s.Active() {
		return Frame{}, ErrNotActive
	}

	s.latestMu.RLock()
	raw, capturedAt := s.latestFrame, s.latestAt
	s.latestMu.RUnlock()

	if raw == nil {
		return Frame{}, ErrNoFrame
	}

	data, err := Reencode(raw, quality)
	if err != nil {
		return Frame{}, fmt.Errorf("スナップショットの作成に失敗: %w", err)
	}

	return Frame{Data: data, CapturedAt: capturedAt, Quality: quality}, nil
}

// forwardFrames はストリームから最新フレームを取り込む
func (s *Source) forwardFrames(stream Stream, stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)

	frames := stream.Frames()
	for {
		select {
		case <-stopCh:
			return

		case frame, ok := <-frames:
			if !ok {
				s.markLost(stopCh)
				return
			}

			s.latestMu.Lock()
			s.latestFrame = frame
			s.latestAt = time.Now()
			s.frameCount++
			s.latestMu.Unlock()
		}
	}
}

// markLost はストリームが予期せず終了したときにエラー状態へ移す
func (s *Source) markLost(stopCh <-chan struct{}) {
	select {
	case <-stopCh:
		return
	default:
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stream != nil && s.status == StatusActive {
		s.status = StatusError
		s.lastErr = errors.Join(ErrDeviceUnavailable, fmt.Errorf("ストリームが終了しました: %s", s.device.Path()))
		log.Printf("カメラのストリームが終了しました: %s", s.device.Path())
	}
}
