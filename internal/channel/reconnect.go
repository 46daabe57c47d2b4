package channel

import "time"

// ReconnectConfig は再接続の設定
type ReconnectConfig struct {
	MaxAttempts   int           // 再接続の最大試行回数
	RetryDelay    time.Duration // 初回の待機時間
	MaxRetryDelay time.Duration // 待機時間の上限
	Backoff       bool          // trueなら指数バックオフ、falseなら固定間隔
}

// DefaultReconnectConfig はデフォルトの再接続設定を返す
func DefaultReconnectConfig() ReconnectConfig {
	return ReconnectConfig{
		MaxAttempts:   5,
		RetryDelay:    1 * time.Second,
		MaxRetryDelay: 30 * time.Second,
		Backoff:       true,
	}
}

// delay はattempt回目(1始まり)の再接続前の待機時間を返す
// 指数バックオフ: RetryDelay * 2^(attempt-1)、MaxRetryDelayで頭打ち
func (c ReconnectConfig) delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := c.RetryDelay
	if c.Backoff {
		shift := attempt - 1
		if shift > 30 {
			shift = 30
		}
		d = c.RetryDelay * time.Duration(1<<uint(shift))
	}
	if c.MaxRetryDelay > 0 && d > c.MaxRetryDelay {
		d = c.MaxRetryDelay
	}
	return d
}
