package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// TestConfigLoad は設定の読み込みをテストする
func TestConfigLoad(t *testing.T) {
	t.Setenv("PRESENSI_CONFIG", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("設定の読み込みに失敗しました: %v", err)
	}

	if cfg.Server.Host == "" {
		t.Error("サーバーホストが設定されていません")
	}
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		t.Errorf("無効なポート番号: %d", cfg.Server.Port)
	}
	// WriteTimeout は 0（無効）でも正常
	if cfg.Server.WriteTimeout < 0 {
		t.Error("書き込みタイムアウトが負の値です")
	}

	// 送信・間引きのデフォルト値
	if cfg.Stream.Interval != 500*time.Millisecond {
		t.Errorf("送信間隔: got %v, want 500ms", cfg.Stream.Interval)
	}
	if cfg.Stream.Quality != 0.7 {
		t.Errorf("送信品質: got %v, want 0.7", cfg.Stream.Quality)
	}
	if cfg.Reconcile.Suppress != 5*time.Second || cfg.Reconcile.Refresh != 20*time.Second {
		t.Errorf("間引き設定: got %v/%v, want 5s/20s", cfg.Reconcile.Suppress, cfg.Reconcile.Refresh)
	}
	if cfg.Enrollment.Quality != 0.9 {
		t.Errorf("登録写真の品質: got %v, want 0.9", cfg.Enrollment.Quality)
	}
	if cfg.Channel.MaxAttempts != 5 {
		t.Errorf("再接続回数: got %d, want 5", cfg.Channel.MaxAttempts)
	}
}

// TestConfigValidation は設定の検証をテストする
func TestConfigValidation(t *testing.T) {
	testCases := []struct {
		name      string
		modify    func(c *Config)
		expectErr bool
	}{
		{
			name:      "正常な設定",
			modify:    func(c *Config) {},
			expectErr: false,
		},
		{
			name:      "無効なポート番号",
			modify:    func(c *Config) { c.Server.Port = 99999 },
			expectErr: true,
		},
		{
			name:      "無効なカメラタイプ",
			modify:    func(c *Config) { c.Camera.Type = "rtsp" },
			expectErr: true,
		},
		{
			name:      "ファイル入力でパスなし",
			modify:    func(c *Config) { c.Camera.Type = "file"; c.Camera.Device = "" },
			expectErr: true,
		},
		{
			name:      "httpの認識サービスURL",
			modify:    func(c *Config) { c.Channel.URL = "http://localhost:5001" },
			expectErr: true,
		},
		{
			name:      "送信間隔が0",
			modify:    func(c *Config) { c.Stream.Interval = 0 },
			expectErr: true,
		},
		{
			name:      "品質が範囲外",
			modify:    func(c *Config) { c.Stream.Quality = 1.5 },
			expectErr: true,
		},
		{
			name:      "refreshがsuppressより短い",
			modify:    func(c *Config) { c.Reconcile.Refresh = time.Second },
			expectErr: true,
		},
		{
			name:      "通知先なしのWhatsApp",
			modify:    func(c *Config) { c.Notify.GatewayURL = "http://localhost:3002" },
			expectErr: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.modify(cfg)
			err := cfg.Validate()
			if tc.expectErr && err == nil {
				t.Error("エラーが期待されましたが、エラーが発生しませんでした")
			}
			if !tc.expectErr && err != nil {
				t.Errorf("予期しないエラーが発生しました: %v", err)
			}
		})
	}
}

// TestServerAddress はサーバーアドレスの生成をテストする
func TestServerAddress(t *testing.T) {
	cfg := &Config{
		Server: ServerConfig{
			Host: "192.168.1.100",
			Port: 9090,
		},
	}

	expected := "192.168.1.100:9090"
	if actual := cfg.ServerAddress(); actual != expected {
		t.Errorf("サーバーアドレスが一致しません: got %s, want %s", actual, expected)
	}
}

// TestLoadFile はYAMLファイルの読み込みをテストする
func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "presensi.yaml")
	content := `
server:
  port: 9000
camera:
  type: file
  device: /srv/demo.mp4
channel:
  url: wss://recognizer.example.com/ws
  max_attempts: 3
  retry_delay: 2s
  headers:
    ngrok-skip-browser-warning: "true"
enrollment:
  headers:
    X-Kiosk-Id: lobby
stream:
  interval: 250ms
  quality: 0.6
reconcile:
  suppress: 3s
  refresh: 15s
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("設定の読み込みに失敗しました: %v", err)
	}

	if cfg.Server.Port != 9000 {
		t.Errorf("ポート: got %d, want 9000", cfg.Server.Port)
	}
	if cfg.Camera.Type != "file" || cfg.Camera.Device != "/srv/demo.mp4" {
		t.Errorf("カメラ: got %s %s", cfg.Camera.Type, cfg.Camera.Device)
	}
	if cfg.Channel.RetryDelay != 2*time.Second || cfg.Channel.MaxAttempts != 3 {
		t.Errorf("再接続: got %v %d", cfg.Channel.RetryDelay, cfg.Channel.MaxAttempts)
	}
	if cfg.Stream.Interval != 250*time.Millisecond || cfg.Stream.Quality != 0.6 {
		t.Errorf("送信: got %v %v", cfg.Stream.Interval, cfg.Stream.Quality)
	}
	if cfg.Reconcile.Suppress != 3*time.Second || cfg.Reconcile.Refresh != 15*time.Second {
		t.Errorf("間引き: got %v %v", cfg.Reconcile.Suppress, cfg.Reconcile.Refresh)
	}
	if got := cfg.Channel.Headers.HTTP().Get("Ngrok-Skip-Browser-Warning"); got != "true" {
		t.Errorf("接続ヘッダー: got %q, want true", got)
	}
	if got := cfg.Enrollment.Headers.HTTP().Get("X-Kiosk-Id"); got != "lobby" {
		t.Errorf("登録ヘッダー: got %q, want lobby", got)
	}
	// ファイルに無い項目はデフォルトのまま
	if cfg.Enrollment.Quality != 0.9 {
		t.Errorf("登録写真の品質: got %v, want 0.9", cfg.Enrollment.Quality)
	}
}

func TestLoadFile_Missing(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "none.yaml")); err == nil {
		t.Error("存在しないファイルでエラーになりませんでした")
	}
}

// TestEnvironmentVariables は環境変数の処理をテストする
// 注意: このテストは環境変数を変更するため、parallelは使わない
func TestEnvironmentVariables(t *testing.T) {
	t.Setenv("PRESENSI_CONFIG", "")
	t.Setenv("SERVER_HOST", "test.example.com")
	t.Setenv("PORT", "9999")
	t.Setenv("RECOGNITION_URL", "ws://10.0.0.5:5001/ws")
	t.Setenv("STREAM_INTERVAL", "1s")
	t.Setenv("STREAM_QUALITY", "0.5")
	t.Setenv("CAMERA_AUTO_START", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("設定の読み込みに失敗しました: %v", err)
	}

	if cfg.Server.Host != "test.example.com" {
		t.Errorf("環境変数のホストが反映されていません: got %s, want test.example.com", cfg.Server.Host)
	}
	if cfg.Server.Port != 9999 {
		t.Errorf("環境変数のポートが反映されていません: got %d, want 9999", cfg.Server.Port)
	}
	if cfg.Channel.URL != "ws://10.0.0.5:5001/ws" {
		t.Errorf("認識サービスURL: got %s", cfg.Channel.URL)
	}
	if cfg.Stream.Interval != time.Second || cfg.Stream.Quality != 0.5 {
		t.Errorf("送信設定: got %v %v", cfg.Stream.Interval, cfg.Stream.Quality)
	}
	if !cfg.Camera.AutoStart {
		t.Error("CAMERA_AUTO_STARTが反映されていません")
	}
}

// TestEnvironmentOverridesFile は環境変数がファイルより優先されることをテストする
func TestEnvironmentOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "presensi.yaml")
	if err := os.WriteFile(path, []byte("server:\n  port: 9000\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PORT", "7000")

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("設定の読み込みに失敗しました: %v", err)
	}
	if cfg.Server.Port != 7000 {
		t.Errorf("ポート: got %d, want 7000", cfg.Server.Port)
	}
}

func TestHeaders_HTTP(t *testing.T) {
	if h := Default().Channel.Headers.HTTP(); h != nil {
		t.Errorf("デフォルトでは追加ヘッダー無し: got %v", h)
	}

	h := Headers{"ngrok-skip-browser-warning": "true"}.HTTP()
	if got := h.Get("Ngrok-Skip-Browser-Warning"); got != "true" {
		t.Errorf("ヘッダー: got %q, want true", got)
	}
}
