// Package enroll は新規登録用の顔写真を複数ポーズで撮影し、登録サービスへ送る
package enroll

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"unicode/utf8"

	"presensi/internal/camera"
)

var (
	// ErrNotReady は顔が映っていないため撮影できない
	ErrNotReady = errors.New("顔が検出されていません")
	// ErrComplete は全てのポーズを撮影済み
	ErrComplete = errors.New("全てのポーズを撮影済みです")
	// ErrIncomplete は撮影が終わっていないため送信できない
	ErrIncomplete = errors.New("撮影が完了していません")
	// ErrInvalidIdentity は氏名またはIDが不正
	ErrInvalidIdentity = errors.New("登録情報が不正です")
)

// Slot は撮影する1ポーズ
type Slot struct {
	Key    string `json:"key"`
	Prompt string `json:"prompt"`
}

// DefaultSlots は正面・やや左・やや右の3ポーズ
var DefaultSlots = []Slot{
	{Key: "front", Prompt: "Hadap Depan"},
	{Key: "left", Prompt: "Serong Kiri Sedikit"},
	{Key: "right", Prompt: "Serong Kanan Sedikit"},
}

// FrameSource は撮影元のカメラ
type FrameSource interface {
	Snapshot(quality float64) (camera.Frame, error)
}

// VisibilityGate は顔が映っているかを知っている
type VisibilityGate interface {
	FaceVisible() bool
}

// Submitter は撮影済みの写真を登録する
type Submitter interface {
	Submit(ctx context.Context, identity Identity, frames []camera.Frame) error
}

// Identity は登録する人物
type Identity struct {
	Name string `json:"name"`
	ID   string `json:"id"`
}

// Validate は氏名2文字以上、ID3文字以上であることを確認する
func (i Identity) Validate() error {
	if utf8.RuneCountInString(strings.TrimSpace(i.Name)) < 2 {
		return fmt.Errorf("%w: 氏名は2文字以上で入力してください", ErrInvalidIdentity)
	}
	if utf8.RuneCountInString(strings.TrimSpace(i.ID)) < 3 {
		return fmt.Errorf("%w: IDは3文字以上で入力してください", ErrInvalidIdentity)
	}
	return nil
}

// Config はSequencerの設定
type Config struct {
	Quality float64 // JPEG品質 (0.0-1.0)
	Slots   []Slot
}

// DefaultConfig はデフォルト設定を返す
func DefaultConfig() Config {
	return Config{
		Quality: 0.9,
		Slots:   DefaultSlots,
	}
}

// Progress は撮影の進み具合
type Progress struct {
	Captured int    `json:"captured"`
	Total    int    `json:"total"`
	Next     *Slot  `json:"next,omitempty"`
	Complete bool   `json:"complete"`
	Slots    []Slot `json:"slots"`
}

// Sequencer はポーズ順に撮影を進める
type Sequencer struct {
	source    FrameSource
	gate      VisibilityGate
	submitter Submitter
	config    Config

	mu     sync.Mutex
	frames []camera.Frame
}

// NewSequencer は新しいSequencerを作成する
func NewSequencer(source FrameSource, gate VisibilityGate, submitter Submitter, config Config) *Sequencer {
	if len(config.Slots) == 0 {
		config.Slots = DefaultSlots
	}
	if config.Quality <= 0 || config.Quality > 1 {
		config.Quality = DefaultConfig().Quality
	}
	return &Sequencer{
		source:    source,
		gate:      gate,
		submitter: submitter,
		config:    config,
		frames:    make([]camera.Frame, 0, len(config.Slots)),
	}
}

// CaptureNext は次のポーズを撮影する
// 失敗した場合は撮影済みの写真は変わらない
func (s *Sequencer) CaptureNext(ctx context.Context) (Progress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return s.progressLocked(), err
	}
	if len(s.frames) >= len(s.config.Slots) {
		return s.progressLocked(), ErrComplete
	}
	if !s.gate.FaceVisible() {
		return s.progressLocked(), ErrNotReady
	}

	frame, err := s.source.Snapshot(s.config.Quality)
	if err != nil {
		return s.progressLocked(), fmt.Errorf("撮影に失敗: %w", err)
	}

	slot := s.config.Slots[len(s.frames)]
	s.frames = append(s.frames, frame)
	log.Printf("登録用の写真を撮影: %s (%d/%d)", slot.Prompt, len(s.frames), len(s.config.Slots))

	return s.progressLocked(), nil
}

// Reset は撮影済みの写真を破棄する
func (s *Sequencer) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = s.frames[:0]
}

// Progress は撮影の進み具合を返す
func (s *Sequencer) Progress() Progress {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.progressLocked()
}

// Complete は全ポーズを撮影済みかどうかを返す
func (s *Sequencer) Complete() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames) == len(s.config.Slots)
}

// Frames は撮影済みの写真のコピーを返す
func (s *Sequencer) Frames() []camera.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]camera.Frame(nil), s.frames...)
}

// Ready は今撮影できるかどうかを返す
func (s *Sequencer) Ready() bool {
	return s.gate.FaceVisible()
}

// Submit は撮影済みの写真を登録し、成功したらリセットする
func (s *Sequencer) Submit(ctx context.Context, identity Identity) error {
	if err := identity.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	if len(s.frames) < len(s.config.Slots) {
		s.mu.Unlock()
		return ErrIncomplete
	}
	frames := append([]camera.Frame(nil), s.frames...)
	s.mu.Unlock()

	if err := s.submitter.Submit(ctx, identity, frames); err != nil {
		return err
	}

	log.Printf("登録が完了しました: %s (%s)", identity.Name, identity.ID)
	s.Reset()
	return nil
}

func (s *Sequencer) progressLocked() Progress {
	p := Progress{
		Captured: len(s.frames),
		Total:    len(s.config.Slots),
		Complete: len(s.frames) >= len(s.config.Slots),
		Slots:    s.config.Slots,
	}
	if !p.Complete {
		next := s.config.Slots[len(s.frames)]
		p.Next = &next
	}
	return p
}
