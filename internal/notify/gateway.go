package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"presensi/internal/protocol"
	"presensi/internal/reconcile"
)

// HTTPClient はHTTPリクエストを送る
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// GatewayConfig はWhatsAppゲートウェイの設定
type GatewayConfig struct {
	URL       string        // 例: http://localhost:3002
	Recipient string        // 通知先の電話番号
	Timeout   time.Duration // 1通あたりのタイムアウト
}

// Gateway は歓迎メッセージをWhatsAppゲートウェイへ転送する
type Gateway struct {
	baseURL   string
	recipient string
	timeout   time.Duration
	client    HTTPClient
}

// NewGateway は新しいGatewayを作成する
func NewGateway(config GatewayConfig, client HTTPClient) *Gateway {
	if client == nil {
		client = http.DefaultClient
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	return &Gateway{
		baseURL:   strings.TrimRight(config.URL, "/"),
		recipient: config.Recipient,
		timeout:   config.Timeout,
		client:    client,
	}
}

type sendRequest struct {
	Number  string `json:"number"`
	Message string `json:"message"`
}

type sendResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// Send はメッセージを1通送る
func (g *Gateway) Send(ctx context.Context, message string) error {
	body, err := json.Marshal(sendRequest{Number: g.recipient, Message: message})
	if err != nil {
		return fmt.Errorf("メッセージのエンコードに失敗: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/send", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("リクエストの作成に失敗: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("ゲートウェイへの送信に失敗: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	var result sendResponse
	_ = json.Unmarshal(raw, &result)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 || !result.Success {
		msg := result.Error
		if msg == "" {
			msg = strings.TrimSpace(string(raw))
		}
		return fmt.Errorf("ゲートウェイがエラーを返しました (HTTP %d): %s", resp.StatusCode, msg)
	}
	return nil
}

// FormatNotification は通知をWhatsAppのメッセージ本文にする
// 初回がクールダウン応答だった等でステータスが不明なら付けない
func FormatNotification(n reconcile.Notification) string {
	if n.Status == "" || n.Status == protocol.StatusCooldown {
		return fmt.Sprintf("%s\n%s", n.Title, n.Message)
	}
	return fmt.Sprintf("%s\n%s (%s)", n.Title, n.Message, n.Status)
}

// Run はHubの通知イベントを購読してゲートウェイへ転送する
// ctxが終了するまでブロックする
func (g *Gateway) Run(ctx context.Context, hub *Hub) {
	id, events := hub.Subscribe()
	defer hub.Unsubscribe(id)

	log.Printf("WhatsAppゲートウェイへの転送を開始: %s", g.baseURL)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Type != EventNotification {
				continue
			}
			n, ok := ev.Data.(reconcile.Notification)
			if !ok {
				continue
			}
			if err := g.Send(ctx, FormatNotification(n)); err != nil {
				log.Printf("WhatsApp通知の送信に失敗: %v", err)
			}
		}
	}
}
