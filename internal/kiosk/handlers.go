package kiosk

import (
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"presensi/internal/camera"
	"presensi/internal/channel"
	"presensi/internal/enroll"
	"presensi/internal/notify"
	"presensi/internal/reconcile"
	"presensi/internal/stream"
)

// ErrorResponse はエラー時のレスポンス
type ErrorResponse struct {
	Error     string    `json:"error"`
	Message   string    `json:"message"`
	Details   *string   `json:"details,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// HealthResponse はヘルスチェックのレスポンス
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// ServerInfo はサーバーのリッスン情報
type ServerInfo struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// RecognitionInfo は認識結果の表示状態
type RecognitionInfo struct {
	FaceVisible bool                     `json:"face_visible"`
	Display     *reconcile.Display       `json:"display,omitempty"`
	Window      reconcile.DebounceWindow `json:"window"`
}

// StatusResponse はシステム状態のレスポンス
type StatusResponse struct {
	Status      string          `json:"status"`
	Server      ServerInfo      `json:"server"`
	Camera      camera.Info     `json:"camera"`
	Channel     channel.Status  `json:"channel"`
	Stream      stream.Stats    `json:"stream"`
	Recognition RecognitionInfo `json:"recognition"`
	Enrollment  enroll.Progress `json:"enrollment"`
	Subscribers int             `json:"subscribers"`
	Timestamp   time.Time       `json:"timestamp"`
}

// EnrollResponse は登録撮影の進み具合
type EnrollResponse struct {
	enroll.Progress
	Ready bool `json:"ready"`
}

// handleHealth はヘルスチェックエンドポイント
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
	})
}

// handleStatus はシステム状態取得エンドポイント
func (s *Server) handleStatus(c *gin.Context) {
	recognition := RecognitionInfo{
		FaceVisible: s.deps.Recognition.FaceVisible(),
		Window:      s.deps.Recognition.Window(),
	}
	if d, ok := s.deps.Recognition.Display(); ok {
		recognition.Display = &d
	}

	c.JSON(http.StatusOK, StatusResponse{
		Status: "running",
		Server: ServerInfo{
			Host: s.config.Server.Host,
			Port: s.config.Server.Port,
		},
		Camera:      s.deps.Camera.Info(),
		Channel:     s.deps.Channel.Status(),
		Stream:      s.deps.Producer.Stats(),
		Recognition: recognition,
		Enrollment:  s.deps.Enrollment.Progress(),
		Subscribers: s.deps.Hub.Subscribers(),
		Timestamp:   time.Now(),
	})
}

// handleCameraStart はカメラを開始する
// エラー状態のカメラは一度解放してから取り直す
func (s *Server) handleCameraStart(c *gin.Context) {
	cam := s.deps.Camera

	switch cam.Status() {
	case camera.StatusActive:
		c.JSON(http.StatusOK, cam.Info())
		return
	case camera.StatusError:
		if err := cam.Release(c.Request.Context()); err != nil {
			log.Printf("エラー状態のカメラの解放に失敗: %v", err)
		}
	}

	if _, err := cam.Acquire(c.Request.Context()); err != nil {
		if errors.Is(err, camera.ErrAlreadyAcquired) {
			// 別のリクエストが先に開始した
			c.JSON(http.StatusOK, cam.Info())
			return
		}
		log.Printf("カメラの開始に失敗: %v", err)
		s.respondCameraError(c, err)
		return
	}

	c.JSON(http.StatusOK, cam.Info())
}

// handleCameraStop はカメラを停止する
func (s *Server) handleCameraStop(c *gin.Context) {
	if err := s.deps.Camera.Release(c.Request.Context()); err != nil {
		s.respondError(c, http.StatusInternalServerError, "camera_error", "カメラの停止に失敗しました", err)
		return
	}
	c.JSON(http.StatusOK, s.deps.Camera.Info())
}

// handleCameraStream はMJPEGストリーミングエンドポイント
func (s *Server) handleCameraStream(c *gin.Context) {
	// カメラがアクティブか確認
	if s.deps.Camera.Status() != camera.StatusActive {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{
			Error:     "camera_not_active",
			Message:   "カメラがアクティブではありません",
			Timestamp: time.Now(),
		})
		return
	}

	s.streamMJPEG(c)
}

// streamMJPEG は最新フレームをMJPEGとして配信する
func (s *Server) streamMJPEG(c *gin.Context) {
	// レスポンスヘッダーを設定
	c.Header("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)

	writer := c.Writer
	writer.WriteHeaderNow()
	writer.Flush()
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	// クライアント切断を検知するためのコンテキスト
	clientGone := c.Request.Context().Done()

	var last []byte
	for {
		select {
		case <-clientGone:
			return
		case <-s.closing:
			return
		case <-ticker.C:
		}

		frame, ok := s.deps.Camera.Latest()
		if !ok {
			if s.deps.Camera.Status() != camera.StatusActive {
				// カメラが停止した
				return
			}
			continue
		}
		if sameFrame(frame, last) {
			continue
		}
		last = frame

		if err := writeMJPEGPart(writer, frame); err != nil {
			return
		}
		writer.Flush()
	}
}

// writeMJPEGPart はMJPEGの1パートを書き込む
func writeMJPEGPart(w gin.ResponseWriter, frame []byte) error {
	if _, err := w.Write([]byte("--frame\r\nContent-Type: image/jpeg\r\n\r\n")); err != nil {
		return err
	}
	if _, err := w.Write(frame); err != nil {
		return err
	}
	_, err := w.Write([]byte("\r\n"))
	return err
}

// sameFrame はソースが同じフレームを返し続けているかを判定する
// フレームは毎回新しいスライスで届くため先頭アドレスで比較できる
func sameFrame(a, b []byte) bool {
	return len(a) > 0 && len(a) == len(b) && &a[0] == &b[0]
}

// handleEvents は通知をServer-Sent Eventsで配信する
func (s *Server) handleEvents(c *gin.Context) {
	id, events := s.deps.Hub.Subscribe()
	defer s.deps.Hub.Unsubscribe(id)

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Header("Content-Type", "text/event-stream")

	// 接続直後に現在の状態を送る
	c.SSEvent(string(notify.EventState), notify.Event{
		Type: notify.EventState,
		At:   time.Now(),
		Data: s.deps.Channel.Status().State,
	})
	if d, ok := s.deps.Recognition.Display(); ok {
		c.SSEvent(string(notify.EventUpdate), notify.Event{Type: notify.EventUpdate, At: time.Now(), Data: d})
	}
	c.Writer.Flush()

	keepAlive := time.NewTicker(s.keepAlive)
	defer keepAlive.Stop()

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.closing:
			return
		case <-keepAlive.C:
			if _, err := c.Writer.Write([]byte(": keep-alive\n\n")); err != nil {
				return
			}
		case ev, ok := <-events:
			if !ok {
				return
			}
			c.SSEvent(string(ev.Type), ev)
		}
		c.Writer.Flush()
	}
}

// handleEnrollProgress は登録撮影の進み具合を返す
func (s *Server) handleEnrollProgress(c *gin.Context) {
	c.JSON(http.StatusOK, EnrollResponse{
		Progress: s.deps.Enrollment.Progress(),
		Ready:    s.deps.Enrollment.Ready(),
	})
}

// handleEnrollCapture は次のポーズを撮影する
func (s *Server) handleEnrollCapture(c *gin.Context) {
	progress, err := s.deps.Enrollment.CaptureNext(c.Request.Context())
	if err != nil {
		switch {
		case errors.Is(err, enroll.ErrNotReady):
			s.respondError(c, http.StatusConflict, "face_not_visible", "顔が検出されていません", nil)
		case errors.Is(err, enroll.ErrComplete):
			s.respondError(c, http.StatusConflict, "capture_complete", "全てのポーズを撮影済みです", nil)
		default:
			s.respondCameraError(c, err)
		}
		return
	}

	s.deps.Hub.Publish(notify.EventEnroll, progress)
	c.JSON(http.StatusOK, EnrollResponse{Progress: progress, Ready: s.deps.Enrollment.Ready()})
}

// handleEnrollReset は撮影をやり直す
func (s *Server) handleEnrollReset(c *gin.Context) {
	s.deps.Enrollment.Reset()
	progress := s.deps.Enrollment.Progress()
	s.deps.Hub.Publish(notify.EventEnroll, progress)
	c.JSON(http.StatusOK, EnrollResponse{Progress: progress, Ready: s.deps.Enrollment.Ready()})
}

// handleEnrollSubmit は撮影した写真を登録する
func (s *Server) handleEnrollSubmit(c *gin.Context) {
	var identity enroll.Identity
	if err := c.ShouldBindJSON(&identity); err != nil {
		s.respondError(c, http.StatusBadRequest, "invalid_request", "リクエストが不正です", err)
		return
	}

	err := s.deps.Enrollment.Submit(c.Request.Context(), identity)
	if err != nil {
		var submitErr *enroll.SubmitError
		switch {
		case errors.Is(err, enroll.ErrInvalidIdentity):
			s.respondError(c, http.StatusBadRequest, "invalid_identity", "氏名またはIDが不正です", err)
		case errors.Is(err, enroll.ErrIncomplete):
			s.respondError(c, http.StatusConflict, "capture_incomplete", "撮影が完了していません", nil)
		case errors.As(err, &submitErr):
			s.respondError(c, http.StatusBadGateway, "register_failed", submitErr.Message, err)
		default:
			log.Printf("登録に失敗: %v", err)
			s.respondError(c, http.StatusInternalServerError, "register_error", "登録に失敗しました", err)
		}
		return
	}

	log.Printf("登録しました: %s (%s)", identity.Name, identity.ID)
	progress := s.deps.Enrollment.Progress()
	s.deps.Hub.Publish(notify.EventEnroll, progress)
	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"name":    identity.Name,
		"id":      identity.ID,
	})
}

// handleRoot は受付画面を返す
func (s *Server) handleRoot(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(kioskPage))
}

// ヘルパー関数

// respondCameraError はカメラのエラーを状態コードとエラーコードに変換する
func (s *Server) respondCameraError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	message := "カメラでエラーが発生しました"

	switch {
	case errors.Is(err, camera.ErrPermissionDenied):
		status = http.StatusForbidden
		message = "カメラへのアクセスが拒否されました"
	case errors.Is(err, camera.ErrDeviceUnavailable):
		status = http.StatusServiceUnavailable
		message = "カメラを利用できません"
	case errors.Is(err, camera.ErrNotActive):
		status = http.StatusServiceUnavailable
		message = "カメラがアクティブではありません"
	case errors.Is(err, camera.ErrNoFrame):
		status = http.StatusServiceUnavailable
		message = "フレームがまだありません"
	}

	s.respondError(c, status, camera.ErrorCode(err), message, err)
}

// respondError はErrorResponseを返す
func (s *Server) respondError(c *gin.Context, status int, code, message string, err error) {
	resp := ErrorResponse{
		Error:     code,
		Message:   message,
		Timestamp: time.Now(),
	}
	if err != nil {
		resp.Details = stringPtr(err.Error())
	}
	c.JSON(status, resp)
}

// stringPtr は文字列のポインタを返すヘルパー関数
func stringPtr(s string) *string {
	return &s
}
