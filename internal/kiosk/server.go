package kiosk

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"presensi/internal/camera"
	"presensi/internal/channel"
	"presensi/internal/config"
	"presensi/internal/enroll"
	"presensi/internal/notify"
	"presensi/internal/reconcile"
	"presensi/internal/stream"
)

// Camera はサーバーが操作するカメラ
type Camera interface {
	Acquire(ctx context.Context) (camera.Surface, error)
	Release(ctx context.Context) error
	Status() camera.Status
	Info() camera.Info
	Latest() ([]byte, bool)
}

// ChannelStatus は認識サービスとの接続状態を返す
type ChannelStatus interface {
	Status() channel.Status
}

// ProducerStats はフレーム送信の統計を返す
type ProducerStats interface {
	Stats() stream.Stats
}

// Recognition は認識結果の表示状態を返す
type Recognition interface {
	Display() (reconcile.Display, bool)
	FaceVisible() bool
	Window() reconcile.DebounceWindow
}

// Enrollment は登録用の撮影を進める
type Enrollment interface {
	CaptureNext(ctx context.Context) (enroll.Progress, error)
	Reset()
	Progress() enroll.Progress
	Ready() bool
	Submit(ctx context.Context, identity enroll.Identity) error
}

// Deps はサーバーが参照するコンポーネント
type Deps struct {
	Camera      Camera
	Channel     ChannelStatus
	Producer    ProducerStats
	Recognition Recognition
	Enrollment  Enrollment
	Hub         *notify.Hub
}

// Server は受付端末のHTTPサーバー
type Server struct {
	config     *config.Config
	deps       Deps
	engine     *gin.Engine
	httpServer *http.Server

	// 長時間の接続（SSE・MJPEG）へ終了を知らせる
	closing   chan struct{}
	closeOnce sync.Once

	// MJPEG配信でフレームを確認する間隔
	pollInterval time.Duration
	// SSEの接続維持コメントを送る間隔
	keepAlive time.Duration
}

// New は新しいServerを作成する
func New(cfg *config.Config, deps Deps) *Server {
	engine := gin.New()
	engine.Use(gin.Logger(), gin.Recovery())

	fps := cfg.Camera.FPS
	if fps <= 0 {
		fps = 15
	}

	s := &Server{
		config:       cfg,
		deps:         deps,
		engine:       engine,
		pollInterval: time.Second / time.Duration(fps),
		keepAlive:    15 * time.Second,
		closing:      make(chan struct{}),
		httpServer: &http.Server{
			Addr:         cfg.ServerAddress(),
			Handler:      engine,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		},
	}
	s.setupRoutes()
	return s
}

// setupRoutes はHTTPルートを設定する
func (s *Server) setupRoutes() {
	// ヘルスチェックエンドポイント
	s.engine.GET("/health", s.handleHealth)

	api := s.engine.Group("/api")
	api.GET("/status", s.handleStatus)
	api.GET("/events", s.handleEvents)

	cam := api.Group("/camera")
	cam.POST("/start", s.handleCameraStart)
	cam.POST("/stop", s.handleCameraStop)
	cam.GET("/stream", s.handleCameraStream)

	enr := api.Group("/enroll")
	enr.GET("", s.handleEnrollProgress)
	enr.POST("/capture", s.handleEnrollCapture)
	enr.POST("/reset", s.handleEnrollReset)
	enr.POST("/submit", s.handleEnrollSubmit)

	// 受付画面
	s.engine.GET("/", s.handleRoot)
}

// Handler はルーティング済みのハンドラを返す
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start はサーバーを起動し、ctxがキャンセルされるまで待つ
func (s *Server) Start(ctx context.Context) error {
	// シャットダウン用のチャンネル
	shutdownCh := make(chan error, 1)

	// サーバーを別ゴルーチンで起動
	go func() {
		log.Printf("HTTPサーバーを起動しています: %s", s.config.ServerAddress())
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			shutdownCh <- fmt.Errorf("サーバーの起動に失敗: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		log.Println("コンテキストがキャンセルされました")
	case err := <-shutdownCh:
		return err
	}

	// グレースフルシャットダウン
	return s.Shutdown()
}

// Shutdown はサーバーをグレースフルにシャットダウンする
func (s *Server) Shutdown() error {
	log.Println("サーバーをシャットダウンしています...")

	// 5秒のタイムアウトを設定
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s.closeOnce.Do(func() { close(s.closing) })
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("サーバーのシャットダウンに失敗: %w", err)
	}

	log.Println("サーバーが正常にシャットダウンされました")
	return nil
}
