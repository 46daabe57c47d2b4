package camera

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"
)

var (
	jpegSOI = []byte{0xFF, 0xD8}
	jpegEOI = []byte{0xFF, 0xD9}
)

// SplitJPEG はMJPEGパイプをJPEGフレーム単位に分割するbufio.SplitFunc
func SplitJPEG(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	start := bytes.Index(data, jpegSOI)
	if start == -1 {
		if atEOF {
			return len(data), nil, nil
		}
		// 末尾の0xFFはSOIの前半かもしれないので残す
		return max(len(data)-1, 0), nil, nil
	}
	end := bytes.Index(data[start+len(jpegSOI):], jpegEOI)
	if end == -1 {
		if atEOF {
			return len(data), nil, nil
		}
		return start, nil, nil
	}
	end += start + len(jpegSOI) + len(jpegEOI)
	return end, data[start:end], nil
}

// V4L2Device はffmpeg経由でV4L2デバイスからMJPEGを取得する
type V4L2Device struct {
	devicePath   string
	width        int
	height       int
	fps          int
	startTimeout time.Duration
}

// NewV4L2Device は新しいV4L2Deviceを作成する
func NewV4L2Device(devicePath string, width, height, fps int, startTimeout time.Duration) *V4L2Device {
	return &V4L2Device{
		devicePath:   devicePath,
		width:        width,
		height:       height,
		fps:          fps,
		startTimeout: startTimeout,
	}
}

// Path はデバイスパスを返す
func (d *V4L2Device) Path() string {
	return d.devicePath
}

// Open はffmpegを起動してストリームを開始する
func (d *V4L2Device) Open(ctx context.Context) (Stream, error) {
	if err := CheckAccess(d.devicePath); err != nil {
		return nil, err
	}

	args := []string{
		"-hide_banner", "-loglevel", "error",
		"-f", "v4l2",
		"-video_size", fmt.Sprintf("%dx%d", d.width, d.height),
		"-r", strconv.Itoa(d.fps),
		"-i", d.devicePath,
		"-f", "image2pipe",
		"-c:v", "mjpeg",
		"-q:v", "3",
		"-",
	}
	return startFFmpeg(ctx, d.devicePath, args, d.startTimeout)
}

// FileDevice は動画ファイルをループ再生してカメラの代わりに使う
type FileDevice struct {
	filePath     string
	fps          int
	startTimeout time.Duration
}

// NewFileDevice は新しいFileDeviceを作成する
func NewFileDevice(filePath string, fps int, startTimeout time.Duration) *FileDevice {
	return &FileDevice{filePath: filePath, fps: fps, startTimeout: startTimeout}
}

// Path はファイルパスを返す
func (d *FileDevice) Path() string {
	return d.filePath
}

// Open はffmpegでファイルを実時間再生する
func (d *FileDevice) Open(ctx context.Context) (Stream, error) {
	if _, err := os.Stat(d.filePath); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrDeviceUnavailable, d.filePath, err)
	}

	args := []string{
		"-hide_banner", "-loglevel", "error",
		"-re",
		"-stream_loop", "-1",
		"-i", d.filePath,
		"-vf", fmt.Sprintf("fps=%d", d.fps),
		"-f", "image2pipe",
		"-c:v", "mjpeg",
		"-q:v", "3",
		"-",
	}
	return startFFmpeg(ctx, d.filePath, args, d.startTimeout)
}

// ffmpegStream はffmpegプロセスの標準出力から読み取るStream
type ffmpegStream struct {
	cmd    *exec.Cmd
	cancel context.CancelFunc
	stderr bytes.Buffer

	frames chan []byte
	ready  chan struct{}
	exited chan struct{}

	closeOnce sync.Once
	waitErr   error
}

func startFFmpeg(ctx context.Context, path string, args []string, startTimeout time.Duration) (*ffmpegStream, error) {
	// プロセスの寿命は呼び出し元のctxではなくCloseで管理する
	procCtx, cancel := context.WithCancel(context.Background())
	s := &ffmpegStream{
		cmd:    exec.CommandContext(procCtx, "ffmpeg", args...),
		cancel: cancel,
		frames: make(chan []byte, 1),
		ready:  make(chan struct{}),
		exited: make(chan struct{}),
	}
	s.cmd.Stderr = &s.stderr

	stdout, err := s.cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("stdoutパイプの作成に失敗: %w", err)
	}

	if err := s.cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("%w: ffmpegの起動に失敗: %v", ErrDeviceUnavailable, err)
	}

	go s.readFrames(bufio.NewReaderSize(stdout, 1024*1024))

	if startTimeout <= 0 {
		startTimeout = 10 * time.Second
	}
	waitCtx, waitCancel := context.WithTimeout(ctx, startTimeout)
	defer waitCancel()

	select {
	case <-s.ready:
		return s, nil
	case <-s.exited:
		return nil, classifyFFmpegFailure(path, s.stderr.String(), s.waitErr)
	case <-waitCtx.Done():
		_ = s.Close()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %s から %v 以内にフレームが届きません", ErrDeviceUnavailable, path, startTimeout)
	}
}

func (s *ffmpegStream) readFrames(r *bufio.Reader) {
	defer close(s.exited)
	defer close(s.frames)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 1024*1024), 16*1024*1024)
	scanner.Split(SplitJPEG)

	var readyOnce sync.Once
	for scanner.Scan() {
		frame := make([]byte, len(scanner.Bytes()))
		copy(frame, scanner.Bytes())

		// 受信側が追いつかない場合は古いフレームを破棄する
		select {
		case s.frames <- frame:
		default:
			select {
			case <-s.frames:
			default:
			}
			select {
			case s.frames <- frame:
			default:
			}
		}
		readyOnce.Do(func() { close(s.ready) })
	}

	s.waitErr = s.cmd.Wait()
}

// Frames はフレームチャンネルを返す
func (s *ffmpegStream) Frames() <-chan []byte {
	return s.frames
}

// Close はffmpegを停止して終了を待つ
func (s *ffmpegStream) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		<-s.exited
	})
	return nil
}

func classifyFFmpegFailure(path, stderr string, waitErr error) error {
	msg := strings.TrimSpace(stderr)
	switch {
	case strings.Contains(msg, "Permission denied"):
		return fmt.Errorf("%w: %s: %s", ErrPermissionDenied, path, msg)
	case msg != "":
		return fmt.Errorf("%w: %s: %s", ErrDeviceUnavailable, path, msg)
	default:
		return fmt.Errorf("%w: %s: ffmpegが終了しました: %v", ErrDeviceUnavailable, path, waitErr)
	}
}
