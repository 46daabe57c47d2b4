package enroll

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"

	"presensi/internal/camera"
)

// HTTPClient はHTTPリクエストを送る
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// SubmitError は登録サービスが登録を拒否した
type SubmitError struct {
	StatusCode int
	Message    string
}

func (e *SubmitError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("登録に失敗しました (HTTP %d)", e.StatusCode)
	}
	return fmt.Sprintf("登録に失敗しました (HTTP %d): %s", e.StatusCode, e.Message)
}

type registerResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

// HTTPSubmitter は {base}/register へmultipartで写真を送る
// headerは全てのリクエストに付ける
type HTTPSubmitter struct {
	baseURL string
	client  HTTPClient
	header  http.Header
}

// NewHTTPSubmitter は新しいHTTPSubmitterを作成する
func NewHTTPSubmitter(baseURL string, client HTTPClient, header http.Header) *HTTPSubmitter {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPSubmitter{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		header:  header.Clone(),
	}
}

// Submit は氏名・IDと写真 photo0..photoN-1 を送信する
func (h *HTTPSubmitter) Submit(ctx context.Context, identity Identity, frames []camera.Frame) error {
	body, contentType, err := encodeRegistration(identity, frames)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+"/register", body)
	if err != nil {
		return fmt.Errorf("リクエストの作成に失敗: %w", err)
	}
	for key, values := range h.header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("登録サービスへの送信に失敗: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("レスポンスの読み取りに失敗: %w", err)
	}

	var result registerResponse
	decodeErr := json.Unmarshal(raw, &result)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := result.Error
		if msg == "" {
			msg = result.Message
		}
		if decodeErr != nil {
			msg = strings.TrimSpace(string(raw))
		}
		return &SubmitError{StatusCode: resp.StatusCode, Message: msg}
	}
	if decodeErr != nil {
		return fmt.Errorf("レスポンスのデコードに失敗: %w", decodeErr)
	}
	if !result.Success {
		return &SubmitError{StatusCode: resp.StatusCode, Message: result.Error}
	}
	return nil
}

func encodeRegistration(identity Identity, frames []camera.Frame) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	if err := w.WriteField("name", strings.TrimSpace(identity.Name)); err != nil {
		return nil, "", fmt.Errorf("フォームの作成に失敗: %w", err)
	}
	if err := w.WriteField("id", strings.TrimSpace(identity.ID)); err != nil {
		return nil, "", fmt.Errorf("フォームの作成に失敗: %w", err)
	}

	for i, frame := range frames {
		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="photo%d"; filename="capture.jpg"`, i))
		header.Set("Content-Type", "image/jpeg")

		part, err := w.CreatePart(header)
		if err != nil {
			return nil, "", fmt.Errorf("写真%dの追加に失敗: %w", i, err)
		}
		if _, err := part.Write(frame.Data); err != nil {
			return nil, "", fmt.Errorf("写真%dの書き込みに失敗: %w", i, err)
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("フォームの作成に失敗: %w", err)
	}
	return &buf, w.FormDataContentType(), nil
}
