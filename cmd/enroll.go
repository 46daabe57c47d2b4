package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"presensi/internal/enroll"
)

var (
	enrollName     string
	enrollID       string
	enrollInterval time.Duration
	enrollTimeout  time.Duration
)

var enrollCmd = &cobra.Command{
	Use:   "enroll",
	Short: "カメラの前の人物を新規登録する",
	Long:  "顔が認識サービスに検出されるたびにポーズを1枚ずつ撮影し、全て揃ったら登録サービスへ送信します。",
	RunE: func(cmd *cobra.Command, args []string) error {
		identity := enroll.Identity{Name: enrollName, ID: enrollID}
		if err := identity.Validate(); err != nil {
			return err
		}

		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("設定の読み込みに失敗しました: %w", err)
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), enrollTimeout)
		defer cancel()

		a, err := newApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.close()

		if _, err := a.source.Acquire(ctx); err != nil {
			return fmt.Errorf("カメラを開始できません: %w", err)
		}
		a.producer.Start(ctx)

		progress := a.sequencer.Progress()
		bar := progressbar.NewOptions(progress.Total,
			progressbar.OptionSetDescription(describe(progress)),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionShowCount(),
		)

		if err := captureAll(ctx, a.sequencer, bar); err != nil {
			return err
		}
		_ = bar.Finish()
		fmt.Fprintln(os.Stderr)

		if err := a.sequencer.Submit(ctx, identity); err != nil {
			return fmt.Errorf("登録に失敗しました: %w", err)
		}
		fmt.Printf("登録しました: %s (%s)\n", identity.Name, identity.ID)
		return nil
	},
}

// captureAll は顔が検出されている間にポーズを順に撮影する
func captureAll(ctx context.Context, seq *enroll.Sequencer, bar *progressbar.ProgressBar) error {
	ticker := time.NewTicker(enrollInterval)
	defer ticker.Stop()

	for !seq.Complete() {
		select {
		case <-ctx.Done():
			return fmt.Errorf("撮影が完了しませんでした: %w", ctx.Err())
		case <-ticker.C:
		}

		progress, err := seq.CaptureNext(ctx)
		if err != nil {
			if errors.Is(err, enroll.ErrNotReady) || errors.Is(err, enroll.ErrComplete) {
				continue
			}
			// フレームがまだ無い等は次の機会に撮り直す
			bar.Describe(fmt.Sprintf("待機中: %v", err))
			continue
		}
		_ = bar.Set(progress.Captured)
		bar.Describe(describe(progress))
	}
	return nil
}

// describe は次のポーズの案内を返す
func describe(p enroll.Progress) string {
	if p.Next == nil {
		return "撮影完了"
	}
	return p.Next.Prompt
}

func init() {
	enrollCmd.Flags().StringVarP(&enrollName, "name", "n", "", "氏名")
	enrollCmd.Flags().StringVar(&enrollID, "id", "", "社員番号などのID")
	enrollCmd.Flags().DurationVar(&enrollInterval, "interval", time.Second, "ポーズを撮影する間隔")
	enrollCmd.Flags().DurationVar(&enrollTimeout, "timeout", 2*time.Minute, "撮影と登録の制限時間")
	_ = enrollCmd.MarkFlagRequired("name")
	_ = enrollCmd.MarkFlagRequired("id")
	rootCmd.AddCommand(enrollCmd)
}
