package camera

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestLinuxDiscovery_ScanDevices(t *testing.T) {
	ctx := context.Background()
	discovery := NewLinuxDiscovery()

	devices, err := discovery.ScanDevices(ctx)
	if err != nil {
		t.Fatalf("ScanDevices failed: %v", err)
	}

	// デバイスが見つからない場合もあるため、エラーがないことを確認
	t.Logf("Found %d video devices", len(devices))
}

func TestLinuxDiscovery_IsDeviceAvailable(t *testing.T) {
	ctx := context.Background()
	discovery := NewLinuxDiscovery()

	if discovery.IsDeviceAvailable(ctx, "/dev/video999") {
		t.Error("Expected non-existent device to be unavailable")
	}

	if discovery.IsDeviceAvailable(ctx, "/invalid/path") {
		t.Error("Expected invalid path to be unavailable")
	}
}

func TestCheckAccess(t *testing.T) {
	dir := t.TempDir()

	readable := filepath.Join(dir, "video0")
	if err := os.WriteFile(readable, []byte{}, 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		device  string
		wantErr error
	}{
		{"存在するファイル", readable, nil},
		{"存在しないファイル", filepath.Join(dir, "video9"), ErrDeviceUnavailable},
	}

	if os.Geteuid() != 0 {
		locked := filepath.Join(dir, "video1")
		if err := os.WriteFile(locked, []byte{}, 0o000); err != nil {
			t.Fatal(err)
		}
		tests = append(tests, struct {
			name    string
			device  string
			wantErr error
		}{"権限のないファイル", locked, ErrPermissionDenied})
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckAccess(tt.device)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("CheckAccess() error = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("CheckAccess() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestDefaultDevice(t *testing.T) {
	ctx := context.Background()

	device, err := DefaultDevice(ctx, NewMockDiscovery([]string{"/dev/video2", "/dev/video4"}))
	if err != nil {
		t.Fatalf("DefaultDevice failed: %v", err)
	}
	if device != "/dev/video2" {
		t.Errorf("Expected /dev/video2, got %s", device)
	}

	_, err = DefaultDevice(ctx, NewMockDiscovery(nil))
	if !errors.Is(err, ErrDeviceUnavailable) {
		t.Errorf("Expected ErrDeviceUnavailable, got %v", err)
	}
}

func TestMockDiscovery(t *testing.T) {
	ctx := context.Background()
	discovery := NewMockDiscovery([]string{"/dev/video0", "/dev/video1"})

	if !discovery.IsDeviceAvailable(ctx, "/dev/video0") {
		t.Error("Expected /dev/video0 to be available")
	}
	if discovery.IsDeviceAvailable(ctx, "/dev/video2") {
		t.Error("Expected /dev/video2 to be unavailable")
	}

	info, err := discovery.GetDeviceInfo(ctx, "/dev/video1")
	if err != nil {
		t.Fatalf("GetDeviceInfo failed: %v", err)
	}
	if info.Name != "テストカメラ 1" {
		t.Errorf("Expected name テストカメラ 1, got %s", info.Name)
	}

	if _, err := discovery.GetDeviceInfo(ctx, "/dev/video99"); !errors.Is(err, ErrDeviceUnavailable) {
		t.Errorf("Expected ErrDeviceUnavailable, got %v", err)
	}
}

func TestExtractDeviceNumber(t *testing.T) {
	tests := []struct {
		device string
		want   int
	}{
		{"/dev/video0", 0},
		{"/dev/video12", 12},
		{"/dev/null", 0},
	}
	for _, tt := range tests {
		if got := extractDeviceNumber(tt.device); got != tt.want {
			t.Errorf("extractDeviceNumber(%q) = %d, want %d", tt.device, got, tt.want)
		}
	}
}
