package camera

import (
	"context"
	"errors"
	"time"
)

// Status はカメラの動作状態を表す
type Status string

const (
	StatusInactive Status = "inactive" // カメラは停止中
	StatusActive   Status = "active"   // カメラは動作中
	StatusError    Status = "error"    // カメラでエラーが発生
)

var (
	// ErrPermissionDenied はデバイスへのアクセス権限がない
	ErrPermissionDenied = errors.New("カメラへのアクセスが拒否されました")
	// ErrDeviceUnavailable はデバイスが存在しないか使用中
	ErrDeviceUnavailable = errors.New("カメラデバイスが利用できません")
	// ErrAlreadyAcquired は取得済みのソースを再度取得しようとした
	ErrAlreadyAcquired = errors.New("カメラは既に取得されています")
	// ErrNotActive はソースが停止中
	ErrNotActive = errors.New("カメラが停止しています")
	// ErrNoFrame はまだフレームが届いていない
	ErrNoFrame = errors.New("フレームがまだありません")
)

// ErrorCode はHTTPレスポンス等で使う機械可読なエラーコードを返す
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrPermissionDenied):
		return "permission_denied"
	case errors.Is(err, ErrDeviceUnavailable):
		return "device_unavailable"
	case errors.Is(err, ErrAlreadyAcquired):
		return "already_acquired"
	case errors.Is(err, ErrNotActive):
		return "not_active"
	case errors.Is(err, ErrNoFrame):
		return "no_frame"
	default:
		return "camera_error"
	}
}

// Frame はエンコード済みの1フレーム
type Frame struct {
	Data       []byte    // JPEGデータ
	CapturedAt time.Time // 元フレームの取得時刻
	Quality    float64   // 0.0-1.0
}

// Surface は取得中のライブ映像を表す
type Surface struct {
	ID         string
	Device     string
	AcquiredAt time.Time
}

// Info はソースの状態のスナップショット
type Info struct {
	Device      string    `json:"device"`
	Name        string    `json:"name,omitempty"`
	Driver      string    `json:"driver,omitempty"`
	Status      Status    `json:"status"`
	SurfaceID   string    `json:"surface_id,omitempty"`
	AcquiredAt  time.Time `json:"acquired_at,omitempty"`
	FrameCount  uint64    `json:"frame_count"`
	LastFrameAt time.Time `json:"last_frame_at,omitempty"`
	LastError   string    `json:"last_error,omitempty"`
}

// Device は映像を開くことのできる入力デバイス
type Device interface {
	// Path はデバイスパスまたはファイルパスを返す
	Path() string

	// Open は映像ストリームを開始する
	// 最初のフレームが届くかctxが終了するまでブロックする
	Open(ctx context.Context) (Stream, error)
}

// Stream は開かれた映像ストリーム
type Stream interface {
	// Frames は生のJPEGフレームを配信する。ストリーム終了時にクローズされる
	Frames() <-chan []byte

	// Close はストリームを停止する。複数回呼んでもよい
	Close() error
}

// Discovery はカメラデバイスの検出機能を提供する
type Discovery interface {
	// ScanDevices はシステム内の利用可能なカメラデバイスをスキャンする
	ScanDevices(ctx context.Context) ([]string, error)

	// IsDeviceAvailable は指定されたデバイスが利用可能かチェックする
	IsDeviceAvailable(ctx context.Context, device string) bool

	// GetDeviceInfo はデバイスの詳細情報を取得する
	GetDeviceInfo(ctx context.Context, device string) (*DeviceInfo, error)
}

// DeviceInfo はカメラデバイスの詳細情報を表す
type DeviceInfo struct {
	Device  string   `json:"device"`
	Name    string   `json:"name"`
	Driver  string   `json:"driver"`
	Formats []string `json:"formats,omitempty"`
}
