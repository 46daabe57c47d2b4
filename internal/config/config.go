package config

import (
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"presensi/internal/reconcile"
	"presensi/internal/stream"
)

// Config はアプリケーション全体の設定を保持する構造体
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Camera     CameraConfig     `yaml:"camera"`
	Channel    ChannelConfig    `yaml:"channel"`
	Stream     stream.Config    `yaml:"stream"`
	Reconcile  reconcile.Config `yaml:"reconcile"`
	Enrollment EnrollmentConfig `yaml:"enrollment"`
	Notify     NotifyConfig     `yaml:"notify"`
}

// ServerConfig はHTTPサーバーの設定
type ServerConfig struct {
	Host string `yaml:"host"` // リッスンするホスト
	Port int    `yaml:"port"` // リッスンするポート番号

	// タイムアウト設定
	ReadTimeout  time.Duration `yaml:"read_timeout"`  // 読み込みタイムアウト
	WriteTimeout time.Duration `yaml:"write_timeout"` // 書き込みタイムアウト
}

// CameraConfig はカメラ関連の設定
type CameraConfig struct {
	Type   string `yaml:"type"`   // v4l2 または file
	Device string `yaml:"device"` // デバイスパス（空なら自動検出）またはファイルパス

	FPS    int `yaml:"fps"`    // フレームレート (fps)
	Width  int `yaml:"width"`  // 画像幅
	Height int `yaml:"height"` // 画像高さ

	StartTimeout time.Duration `yaml:"start_timeout"` // 最初のフレームを待つ時間
	AutoStart    bool          `yaml:"auto_start"`    // 起動時にカメラを開始する
}

// ChannelConfig は認識サービスとのチャンネルの設定
type ChannelConfig struct {
	URL              string        `yaml:"url"`
	MaxAttempts      int           `yaml:"max_attempts"`
	RetryDelay       time.Duration `yaml:"retry_delay"`
	MaxRetryDelay    time.Duration `yaml:"max_retry_delay"`
	Backoff          bool          `yaml:"backoff"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	Headers          Headers       `yaml:"headers"` // ハンドシェイクに付けるヘッダー
}

// EnrollmentConfig は新規登録の設定
type EnrollmentConfig struct {
	RegisterURL string        `yaml:"register_url"` // {register_url}/register へ送信する
	Quality     float64       `yaml:"quality"`      // 登録写真のJPEG品質
	Timeout     time.Duration `yaml:"timeout"`      // 登録リクエストのタイムアウト
	Headers     Headers       `yaml:"headers"`      // 登録リクエストに付けるヘッダー
}

// Headers は追加のHTTPヘッダー
// トンネル経由の接続でngrok-skip-browser-warningなどを付けるのに使う
type Headers map[string]string

// HTTP はnet/httpのヘッダーに変換する。空ならnilを返す
func (h Headers) HTTP() http.Header {
	if len(h) == 0 {
		return nil
	}
	header := make(http.Header, len(h))
	for key, value := range h {
		header.Set(key, value)
	}
	return header
}

// NotifyConfig は通知配信の設定
type NotifyConfig struct {
	Buffer     int           `yaml:"buffer"`      // 購読者ごとのイベントバッファ
	GatewayURL string        `yaml:"gateway_url"` // WhatsAppゲートウェイ（空なら無効）
	Recipient  string        `yaml:"recipient"`   // WhatsAppの通知先
	Timeout    time.Duration `yaml:"timeout"`
}

// Default はデフォルト設定を返す
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 0, // ストリーミング用にタイムアウト無効化
		},
		Camera: CameraConfig{
			Type:         "v4l2",
			FPS:          15,
			Width:        640,
			Height:       480,
			StartTimeout: 10 * time.Second,
		},
		Channel: ChannelConfig{
			URL:              "ws://localhost:5001/ws",
			MaxAttempts:      5,
			RetryDelay:       time.Second,
			MaxRetryDelay:    30 * time.Second,
			Backoff:          true,
			WriteTimeout:     5 * time.Second,
			HandshakeTimeout: 10 * time.Second,
		},
		Stream:    stream.DefaultConfig(),
		Reconcile: reconcile.DefaultConfig(),
		Enrollment: EnrollmentConfig{
			RegisterURL: "http://localhost:5001",
			Quality:     0.9,
			Timeout:     30 * time.Second,
		},
		Notify: NotifyConfig{
			Buffer:  16,
			Timeout: 10 * time.Second,
		},
	}
}

// Load は設定を読み込む
// PRESENSI_CONFIG にYAMLファイルが指定されていればそれを読み込む
func Load() (*Config, error) {
	return LoadFile(os.Getenv("PRESENSI_CONFIG"))
}

// LoadFile はデフォルト値、YAMLファイル、環境変数の順に設定を重ねて読み込む
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("設定ファイルの読み込みに失敗: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("設定ファイルの解析に失敗: %w", err)
		}
	}

	cfg.applyEnv()

	// 設定の検証
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("設定の検証に失敗: %w", err)
	}

	return cfg, nil
}

// applyEnv は環境変数で設定を上書きする
func (c *Config) applyEnv() {
	c.Server.Host = getEnvOrDefault("SERVER_HOST", c.Server.Host)
	c.Server.Port = getEnvAsIntOrDefault("PORT", c.Server.Port)

	c.Camera.Type = getEnvOrDefault("CAMERA_TYPE", c.Camera.Type)
	c.Camera.Device = getEnvOrDefault("CAMERA_DEVICE", c.Camera.Device)
	c.Camera.AutoStart = getEnvAsBoolOrDefault("CAMERA_AUTO_START", c.Camera.AutoStart)

	c.Channel.URL = getEnvOrDefault("RECOGNITION_URL", c.Channel.URL)
	c.Channel.MaxAttempts = getEnvAsIntOrDefault("RECONNECT_ATTEMPTS", c.Channel.MaxAttempts)

	c.Stream.Interval = getEnvAsDurationOrDefault("STREAM_INTERVAL", c.Stream.Interval)
	c.Stream.Quality = getEnvAsFloatOrDefault("STREAM_QUALITY", c.Stream.Quality)

	c.Reconcile.Suppress = getEnvAsDurationOrDefault("DEBOUNCE_SUPPRESS", c.Reconcile.Suppress)
	c.Reconcile.Refresh = getEnvAsDurationOrDefault("DEBOUNCE_REFRESH", c.Reconcile.Refresh)

	c.Enrollment.RegisterURL = getEnvOrDefault("REGISTER_URL", c.Enrollment.RegisterURL)

	c.Notify.GatewayURL = getEnvOrDefault("WA_GATEWAY_URL", c.Notify.GatewayURL)
	c.Notify.Recipient = getEnvOrDefault("WA_RECIPIENT", c.Notify.Recipient)
}

// Validate は設定の妥当性を検証する
func (c *Config) Validate() error {
	// サーバー設定の検証
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("無効なポート番号: %d", c.Server.Port)
	}

	// カメラ設定の検証
	switch c.Camera.Type {
	case "v4l2":
	case "file":
		if c.Camera.Device == "" {
			return fmt.Errorf("ファイル入力には camera.device が必要です")
		}
	default:
		return fmt.Errorf("無効なカメラタイプ: %q", c.Camera.Type)
	}

	// チャンネル設定の検証
	u, err := url.Parse(c.Channel.URL)
	if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
		return fmt.Errorf("無効な認識サービスURL: %q", c.Channel.URL)
	}
	if c.Channel.MaxAttempts < 0 {
		return fmt.Errorf("再接続回数は0以上である必要があります: %d", c.Channel.MaxAttempts)
	}
	if c.Channel.RetryDelay <= 0 {
		return fmt.Errorf("再接続間隔は正の値である必要があります: %v", c.Channel.RetryDelay)
	}

	// 送信設定の検証
	if c.Stream.Interval <= 0 {
		return fmt.Errorf("送信間隔は正の値である必要があります: %v", c.Stream.Interval)
	}
	if c.Stream.Quality <= 0 || c.Stream.Quality > 1 {
		return fmt.Errorf("無効な送信品質: %v", c.Stream.Quality)
	}
	if c.Enrollment.Quality <= 0 || c.Enrollment.Quality > 1 {
		return fmt.Errorf("無効な登録写真の品質: %v", c.Enrollment.Quality)
	}

	if err := c.Reconcile.Validate(); err != nil {
		return err
	}

	if c.Notify.GatewayURL != "" && c.Notify.Recipient == "" {
		return fmt.Errorf("WhatsApp通知には notify.recipient が必要です")
	}

	return nil
}

// ServerAddress はサーバーのリッスンアドレスを返す
func (c *Config) ServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// getEnvOrDefault は環境変数を取得し、設定されていない場合はデフォルト値を返す
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsIntOrDefault は環境変数を整数として取得し、設定されていない場合はデフォルト値を返す
func getEnvAsIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var intVal int
		if _, err := fmt.Sscanf(value, "%d", &intVal); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvAsFloatOrDefault は環境変数を小数として取得する
func getEnvAsFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvAsDurationOrDefault は環境変数を "500ms" のような時間として取得する
func getEnvAsDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// getEnvAsBoolOrDefault は環境変数を真偽値として取得する
func getEnvAsBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
