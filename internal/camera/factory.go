package camera

import (
	"fmt"
	"sort"
	"time"
)

// DeviceType は入力デバイスの種類
type DeviceType string

const (
	// DeviceTypeV4L2 はUSBカメラ等のV4L2デバイス
	DeviceTypeV4L2 DeviceType = "v4l2"
	// DeviceTypeFile はデモ用の動画ファイル
	DeviceTypeFile DeviceType = "file"
)

// DeviceConfig はデバイス作成設定
type DeviceConfig struct {
	Type         DeviceType
	Path         string // デバイスパスまたはファイルパス
	Width        int
	Height       int
	FPS          int
	StartTimeout time.Duration
}

// DeviceCreator はデバイス作成関数の型
type DeviceCreator func(config DeviceConfig) (Device, error)

// DeviceFactory は種類ごとにデバイスを作成する
type DeviceFactory struct {
	creators map[DeviceType]DeviceCreator
}

// NewDeviceFactory は標準のデバイスを登録したファクトリーを作成する
func NewDeviceFactory() *DeviceFactory {
	factory := &DeviceFactory{
		creators: make(map[DeviceType]DeviceCreator),
	}

	factory.Register(DeviceTypeV4L2, NewV4L2DeviceFromConfig)
	factory.Register(DeviceTypeFile, NewFileDeviceFromConfig)

	return factory
}

// Register はデバイス作成関数を登録する
func (f *DeviceFactory) Register(deviceType DeviceType, creator DeviceCreator) {
	f.creators[deviceType] = creator
}

// Create はデバイスを作成する
func (f *DeviceFactory) Create(config DeviceConfig) (Device, error) {
	creator, exists := f.creators[config.Type]
	if !exists {
		return nil, fmt.Errorf("サポートされていないデバイスタイプ: %s", config.Type)
	}

	return creator(config)
}

// SupportedTypes はサポートされているデバイスタイプを返す
func (f *DeviceFactory) SupportedTypes() []DeviceType {
	types := make([]DeviceType, 0, len(f.creators))
	for deviceType := range f.creators {
		types = append(types, deviceType)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// NewV4L2DeviceFromConfig は設定からV4L2Deviceを作成する
func NewV4L2DeviceFromConfig(config DeviceConfig) (Device, error) {
	if config.Path == "" {
		return nil, fmt.Errorf("V4L2デバイスの作成にはデバイスパスが必要です")
	}

	// デフォルト設定
	width := 640
	height := 480
	fps := 15

	if config.Width > 0 {
		width = config.Width
	}
	if config.Height > 0 {
		height = config.Height
	}
	if config.FPS > 0 {
		fps = config.FPS
	}

	return NewV4L2Device(config.Path, width, height, fps, config.StartTimeout), nil
}

// NewFileDeviceFromConfig は設定からFileDeviceを作成する
func NewFileDeviceFromConfig(config DeviceConfig) (Device, error) {
	if config.Path == "" {
		return nil, fmt.Errorf("ファイルデバイスの作成にはファイルパスが必要です")
	}

	fps := 15
	if config.FPS > 0 {
		fps = config.FPS
	}

	return NewFileDevice(config.Path, fps, config.StartTimeout), nil
}
