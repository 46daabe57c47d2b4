// Package cmd は presensi のコマンドを定義する
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"presensi/internal/config"
)

// Version はアプリケーションのバージョン
const Version = "0.1.0"

// configPath は --config で指定された設定ファイル
var configPath string

var rootCmd = &cobra.Command{
	Use:     "presensi",
	Short:   "顔認識による出欠受付端末",
	Version: Version,
}

// Execute はルートコマンドを実行する
// Ctrl+C (SIGINT) と SIGTERM でコンテキストがキャンセルされる
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "設定ファイル (YAML)。未指定なら PRESENSI_CONFIG を使う")
}

// loadConfig は --config か PRESENSI_CONFIG の設定を読み込む
func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.LoadFile(configPath)
	}
	return config.Load()
}
