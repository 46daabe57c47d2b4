package cmd

import (
	"fmt"
	"log"
	"net/http"

	"github.com/spf13/cobra"

	"presensi/internal/kiosk"
	"presensi/internal/notify"
)

var (
	serveHost string
	servePort int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "受付端末のHTTPサーバーを起動する",
	RunE: func(cmd *cobra.Command, args []string) error {
		// 設定を読み込む
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("設定の読み込みに失敗しました: %w", err)
		}

		// コマンドラインオプションで設定を上書き
		if serveHost != "" {
			cfg.Server.Host = serveHost
		}
		if servePort != 0 {
			cfg.Server.Port = servePort
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		ctx := cmd.Context()
		a, err := newApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.close()

		if cfg.Notify.GatewayURL != "" {
			gateway := notify.NewGateway(notify.GatewayConfig{
				URL:       cfg.Notify.GatewayURL,
				Recipient: cfg.Notify.Recipient,
				Timeout:   cfg.Notify.Timeout,
			}, &http.Client{Timeout: cfg.Notify.Timeout})
			go gateway.Run(ctx, a.hub)
		}

		if cfg.Camera.AutoStart {
			if _, err := a.source.Acquire(ctx); err != nil {
				// 画面の再試行ボタンから取り直せる
				log.Printf("起動時のカメラ開始に失敗しました: %v", err)
			}
		}

		a.producer.Start(ctx)

		srv := kiosk.New(cfg, kiosk.Deps{
			Camera:      a.source,
			Channel:     a.channel,
			Producer:    a.producer,
			Recognition: a.reconciler,
			Enrollment:  a.sequencer,
			Hub:         a.hub,
		})

		log.Printf("presensi サーバーを起動します: %s", cfg.ServerAddress())
		return srv.Start(ctx)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "", "サーバーのホスト (デフォルト: 0.0.0.0)")
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "サーバーのポート (デフォルト: 8080)")
	rootCmd.AddCommand(serveCmd)
}
