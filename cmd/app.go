package cmd

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"presensi/internal/camera"
	"presensi/internal/channel"
	"presensi/internal/config"
	"presensi/internal/enroll"
	"presensi/internal/notify"
	"presensi/internal/protocol"
	"presensi/internal/reconcile"
	"presensi/internal/stream"
	"presensi/internal/timeutil"
)

// app は設定から組み立てたコンポーネント一式
type app struct {
	cfg        *config.Config
	source     *camera.Source
	provider   *channel.Provider
	channel    *channel.Manager
	reconciler *reconcile.Reconciler
	hub        *notify.Hub
	producer   *stream.Producer
	sequencer  *enroll.Sequencer

	// 購読の解除用
	subscriptions []string
}

// newApp はコンポーネントを組み立て、認識サービスへの接続を開始する
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	device, err := newDevice(ctx, cfg)
	if err != nil {
		return nil, err
	}

	source := camera.NewSource(device)
	if camera.DeviceType(cfg.Camera.Type) == camera.DeviceTypeV4L2 {
		if err := source.Describe(ctx, camera.NewLinuxDiscovery()); err != nil {
			log.Printf("カメラ情報を取得できません: %v", err)
		} else {
			info := source.Info()
			log.Printf("カメラ: %s (%s, %s)", info.Name, info.Driver, info.Device)
		}
	}

	clock := timeutil.RealClock{}
	a := &app{
		cfg:        cfg,
		source:     source,
		reconciler: reconcile.New(cfg.Reconcile, clock),
		hub:        notify.NewHub(cfg.Notify.Buffer),
	}

	a.provider = channel.NewProvider(channel.Config{
		URL:    cfg.Channel.URL,
		Header: cfg.Channel.Headers.HTTP(),
		Reconnect: channel.ReconnectConfig{
			MaxAttempts:   cfg.Channel.MaxAttempts,
			RetryDelay:    cfg.Channel.RetryDelay,
			MaxRetryDelay: cfg.Channel.MaxRetryDelay,
			Backoff:       cfg.Channel.Backoff,
		},
		WriteTimeout:     cfg.Channel.WriteTimeout,
		HandshakeTimeout: cfg.Channel.HandshakeTimeout,
	})

	// 認識結果 → 間引き → Hub
	a.reconciler.OnNotify(func(n reconcile.Notification) {
		a.hub.Publish(notify.EventNotification, n)
	})
	a.reconciler.OnUpdate(func(d reconcile.Display) {
		a.hub.Publish(notify.EventUpdate, d)
	})

	a.channel = a.provider.Get()
	a.subscriptions = append(a.subscriptions,
		a.channel.Subscribe(protocol.TypeAttendanceResult, a.reconciler.HandlePayload),
		a.channel.OnStateChange(func(state channel.State) {
			log.Printf("認識サービスとの接続状態: %s", state)
			a.hub.Publish(notify.EventState, state)
		}),
	)

	a.producer = stream.NewProducer(a.source, a.channel, clock, cfg.Stream)

	client := &http.Client{Timeout: cfg.Enrollment.Timeout}
	a.sequencer = enroll.NewSequencer(
		a.source,
		a.reconciler,
		enroll.NewHTTPSubmitter(cfg.Enrollment.RegisterURL, client, cfg.Enrollment.Headers.HTTP()),
		enroll.Config{Quality: cfg.Enrollment.Quality},
	)

	return a, nil
}

// newDevice は設定からカメラデバイスを作成する
// V4L2でデバイスが未指定なら /dev/video* から選ぶ
func newDevice(ctx context.Context, cfg *config.Config) (camera.Device, error) {
	path := cfg.Camera.Device
	deviceType := camera.DeviceType(cfg.Camera.Type)

	if path == "" && deviceType == camera.DeviceTypeV4L2 {
		found, err := camera.DefaultDevice(ctx, camera.NewLinuxDiscovery())
		if err != nil {
			return nil, fmt.Errorf("カメラの検出に失敗: %w", err)
		}
		log.Printf("カメラを検出しました: %s", found)
		path = found
	}

	device, err := camera.NewDeviceFactory().Create(camera.DeviceConfig{
		Type:         deviceType,
		Path:         path,
		Width:        cfg.Camera.Width,
		Height:       cfg.Camera.Height,
		FPS:          cfg.Camera.FPS,
		StartTimeout: cfg.Camera.StartTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("カメラデバイスの作成に失敗: %w", err)
	}
	return device, nil
}

// detach は購読だけを解除する。共有チャンネルは閉じない
func (a *app) detach() {
	for _, id := range a.subscriptions {
		a.channel.Unsubscribe(id)
	}
	a.subscriptions = nil
}

// close はプロセス終了時に全てを停止する
func (a *app) close() {
	a.producer.Stop()
	a.detach()
	if err := a.source.Release(context.Background()); err != nil {
		log.Printf("カメラの解放に失敗: %v", err)
	}
	if err := a.provider.Close(); err != nil {
		log.Printf("チャンネルの切断に失敗: %v", err)
	}
	a.hub.Close()
}
