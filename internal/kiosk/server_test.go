package kiosk

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

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

func init() {
	gin.SetMode(gin.TestMode)
}

type stubSubmitter struct {
	err error
}

func (s *stubSubmitter) Submit(_ context.Context, _ enroll.Identity, _ []camera.Frame) error {
	return s.err
}

type fixture struct {
	server     *Server
	device     *camera.MockDevice
	source     *camera.Source
	reconciler *reconcile.Reconciler
	sequencer  *enroll.Sequencer
	hub        *notify.Hub
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	cfg := config.Default()
	cfg.Server.Host = "127.0.0.1"

	device := camera.NewMockDevice("/dev/video0")
	source := camera.NewSource(device)
	manager := channel.NewManager(channel.Config{URL: "ws://127.0.0.1:1/ws"})
	producer := stream.NewProducer(source, manager, timeutil.RealClock{}, stream.DefaultConfig())
	reconciler := reconcile.New(reconcile.DefaultConfig(), timeutil.RealClock{})
	sequencer := enroll.NewSequencer(source, reconciler, &stubSubmitter{}, enroll.DefaultConfig())
	hub := notify.NewHub(8)

	t.Cleanup(func() {
		_ = source.Release(context.Background())
		hub.Close()
	})

	srv := New(cfg, Deps{
		Camera:      source,
		Channel:     manager,
		Producer:    producer,
		Recognition: reconciler,
		Enrollment:  sequencer,
		Hub:         hub,
	})
	srv.pollInterval = 5 * time.Millisecond

	return &fixture{
		server:     srv,
		device:     device,
		source:     source,
		reconciler: reconciler,
		sequencer:  sequencer,
		hub:        hub,
	}
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodGet, "/health", "")

	assert.Equal(t, http.StatusOK, w.Code)
	var resp HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
}

func TestStatus(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.source.Describe(context.Background(), camera.NewMockDiscovery([]string{"/dev/video0"})))
	w := f.do(t, http.MethodGet, "/api/status", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Status string `json:"status"`
		Camera struct {
			Status string `json:"status"`
			Device string `json:"device"`
			Name   string `json:"name"`
			Driver string `json:"driver"`
		} `json:"camera"`
		Channel struct {
			State string `json:"state"`
		} `json:"channel"`
		Recognition struct {
			FaceVisible bool `json:"face_visible"`
		} `json:"recognition"`
		Enrollment struct {
			Total int `json:"total"`
		} `json:"enrollment"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "running", resp.Status)
	assert.Equal(t, "inactive", resp.Camera.Status)
	assert.Equal(t, "/dev/video0", resp.Camera.Device)
	assert.Equal(t, "テストカメラ 0", resp.Camera.Name)
	assert.Equal(t, "mock", resp.Camera.Driver)
	assert.Equal(t, "disconnected", resp.Channel.State)
	assert.False(t, resp.Recognition.FaceVisible)
	assert.Equal(t, 3, resp.Enrollment.Total)
}

func TestCameraStartStop(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/api/camera/start", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, f.source.Active())

	// 2回目は開き直さない
	w = f.do(t, http.MethodPost, "/api/camera/start", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, f.device.Opens())

	w = f.do(t, http.MethodPost, "/api/camera/stop", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, f.source.Active())
}

func TestCameraStartErrors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"permission denied", camera.ErrPermissionDenied, http.StatusForbidden, "permission_denied"},
		{"device unavailable", camera.ErrDeviceUnavailable, http.StatusServiceUnavailable, "device_unavailable"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.device.SetOpenError(tt.err)

			w := f.do(t, http.MethodPost, "/api/camera/start", "")
			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.wantCode, decodeError(t, w).Error)
			assert.Equal(t, camera.StatusError, f.source.Status())

			// 再試行で回復する
			f.device.SetOpenError(nil)
			w = f.do(t, http.MethodPost, "/api/camera/start", "")
			assert.Equal(t, http.StatusOK, w.Code)
			assert.True(t, f.source.Active())
		})
	}
}

func TestCameraStream_NotActive(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodGet, "/api/camera/stream", "")

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "camera_not_active", decodeError(t, w).Error)
}

func TestCameraStream_MJPEG(t *testing.T) {
	f := newFixture(t)
	_, err := f.source.Acquire(context.Background())
	require.NoError(t, err)

	server := httptest.NewServer(f.server.Handler())
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL+"/api/camera/stream", nil)
	require.NoError(t, err)

	resp, err := server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "multipart/x-mixed-replace; boundary=frame", resp.Header.Get("Content-Type"))

	f.device.Push(camera.SampleJPEG(32, 24))

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "--frame\r\n", line)
	line, err = reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "Content-Type: image/jpeg\r\n", line)
}

// readEvent はSSEの1イベントを読み、イベント名とdataを返す
func readEvent(t *testing.T, reader *bufio.Reader) (string, string) {
	t.Helper()
	var name, data string
	for {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		switch {
		case line == "":
			if name != "" {
				return name, data
			}
		case strings.HasPrefix(line, "event:"):
			name = line[len("event:"):]
		case strings.HasPrefix(line, "data:"):
			data = line[len("data:"):]
		}
	}
}

func TestEvents_SSE(t *testing.T) {
	f := newFixture(t)
	server := httptest.NewServer(f.server.Handler())
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL+"/api/events", nil)
	require.NoError(t, err)

	resp, err := server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")

	reader := bufio.NewReader(resp.Body)
	name, data := readEvent(t, reader)
	assert.Equal(t, "state", name)
	assert.Contains(t, data, "disconnected")

	require.Eventually(t, func() bool { return f.hub.Subscribers() == 1 }, time.Second, time.Millisecond)
	f.hub.Publish(notify.EventNotification, reconcile.Notification{Name: "Andi", Title: "Selamat Datang, Andi!"})

	name, data = readEvent(t, reader)
	assert.Equal(t, "notification", name)
	assert.Contains(t, data, "Selamat Datang, Andi!")
}

func TestEnrollCapture(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/api/enroll/capture", "")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "face_not_visible", decodeError(t, w).Error)

	// 顔が見えているがカメラが止まっている
	f.reconciler.Handle(protocol.AttendanceResult{Success: false, Error: protocol.ErrCodeUnknownFace})
	w = f.do(t, http.MethodPost, "/api/enroll/capture", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "not_active", decodeError(t, w).Error)

	_, err := f.source.Acquire(context.Background())
	require.NoError(t, err)
	f.device.Push(camera.SampleJPEG(32, 24))
	require.Eventually(t, func() bool {
		_, ok := f.source.Latest()
		return ok
	}, time.Second, time.Millisecond)

	w = f.do(t, http.MethodPost, "/api/enroll/capture", "")
	require.Equal(t, http.StatusOK, w.Code)
	var resp EnrollResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Captured)
	assert.True(t, resp.Ready)
	require.NotNil(t, resp.Next)
	assert.Equal(t, "Serong Kiri Sedikit", resp.Next.Prompt)

	w = f.do(t, http.MethodPost, "/api/enroll/reset", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0, f.sequencer.Progress().Captured)
}

func TestEnrollProgress_Ready(t *testing.T) {
	f := newFixture(t)

	var resp EnrollResponse
	w := f.do(t, http.MethodGet, "/api/enroll", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.Ready)
	assert.Equal(t, 3, resp.Total)

	f.reconciler.Handle(protocol.AttendanceResult{Success: false, Error: protocol.ErrCodeUnknownFace})

	w = f.do(t, http.MethodGet, "/api/enroll", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Ready)
	assert.Equal(t, f.sequencer.Ready(), resp.Ready)
}

func TestEnrollSubmit_Errors(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/api/enroll/submit", "{")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_request", decodeError(t, w).Error)

	w = f.do(t, http.MethodPost, "/api/enroll/submit", `{"name":"Dewi","id":"EMP001"}`)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "capture_incomplete", decodeError(t, w).Error)
}

func TestRoot(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodGet, "/", "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, w.Body.String(), "/api/events")
}

func TestServerStartAndShutdown(t *testing.T) {
	f := newFixture(t)
	f.server.httpServer.Addr = "127.0.0.1:0"

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- f.server.Start(ctx)
	}()

	// サーバーが起動するまで少し待つ
	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("サーバーの停止がタイムアウトしました")
	}
}
