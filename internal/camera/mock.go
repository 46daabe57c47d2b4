package camera

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"sync"
)

// MockDevice はテスト用のDevice実装
// Pushで任意のフレームを流し込める
type MockDevice struct {
	path string

	mu      sync.Mutex
	openErr error
	opens   int
	stream  *MockStream
}

// NewMockDevice は新しいMockDeviceを作成する
func NewMockDevice(path string) *MockDevice {
	return &MockDevice{path: path}
}

// Path はデバイスパスを返す
func (d *MockDevice) Path() string {
	return d.path
}

// SetOpenError は次回以降のOpenが返すエラーを設定する
func (d *MockDevice) SetOpenError(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.openErr = err
}

// Open はモックストリームを開く
func (d *MockDevice) Open(ctx context.Context) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.openErr != nil {
		return nil, d.openErr
	}
	d.opens++
	d.stream = &MockStream{frames: make(chan []byte, 1), closed: make(chan struct{})}
	return d.stream, nil
}

// Opens はOpenが成功した回数を返す
func (d *MockDevice) Opens() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opens
}

// Current は直近に開いたストリームを返す
func (d *MockDevice) Current() *MockStream {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stream
}

// Push は開いているストリームへフレームを送る
func (d *MockDevice) Push(frame []byte) bool {
	stream := d.Current()
	if stream == nil {
		return false
	}
	return stream.Push(frame)
}

// MockStream はテスト用のStream実装
type MockStream struct {
	mu     sync.Mutex
	frames chan []byte
	closed chan struct{}
	ended  bool
}

// Frames はフレームチャンネルを返す
func (s *MockStream) Frames() <-chan []byte {
	return s.frames
}

// Push はフレームを1枚送る。終了済みならfalse
func (s *MockStream) Push(frame []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return false
	}
	select {
	case s.frames <- frame:
	default:
		select {
		case <-s.frames:
		default:
		}
		s.frames <- frame
	}
	return true
}

// End はデバイス側の切断を模擬する
func (s *MockStream) End() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ended {
		s.ended = true
		close(s.frames)
	}
}

// Close はストリームを停止する
func (s *MockStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ended {
		s.ended = true
		close(s.frames)
	}
	select {
	case <-s.closed:
	default:
		close(s.closed)
	}
	return nil
}

// Closed はCloseが呼ばれたかどうかを返す
func (s *MockStream) Closed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

// SampleJPEG はテスト用の単色JPEGを生成する
func SampleJPEG(width, height int) []byte {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	_ = jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90})
	return buf.Bytes()
}
