// Package protocol は認識サービスとの双方向チャンネルで交換するメッセージを定義する
package protocol

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// メッセージタイプ
const (
	TypeProcessFrame     = "process_frame"
	TypeAttendanceResult = "attendance_result"
)

// 認識サービスが返すエラーコード
const (
	ErrCodeNoFace      = "No face detected"
	ErrCodeUnknownFace = "Unknown face"
	ErrCodeProcessing  = "Processing error"
)

// 出欠ステータス
const (
	StatusCheckIn      = "Masuk"
	StatusLate         = "Terlambat"
	StatusCheckOut     = "Pulang"
	StatusNotYetOut    = "Belum Waktu Pulang"
	StatusAlreadyOut   = "Sudah Pulang"
	StatusCooldown     = "Cooldown"
	StatusServiceError = "Error"
)

// Envelope はチャンネル上を流れる1メッセージ
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewEnvelope はペイロードをJSON化してEnvelopeを作成する
func NewEnvelope(msgType string, payload any) (Envelope, error) {
	if msgType == "" {
		return Envelope{}, fmt.Errorf("メッセージタイプが空です")
	}
	env := Envelope{Type: msgType}
	if payload == nil {
		return env, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("ペイロードのエンコードに失敗: %w", err)
	}
	env.Payload = raw
	return env, nil
}

// ProcessFrame は認識対象のフレーム
type ProcessFrame struct {
	Image string `json:"image"` // data:image/jpeg;base64,...
}

const jpegDataURLPrefix = "data:image/jpeg;base64,"

// JPEGDataURL はJPEGバイト列をdata URLへ変換する
func JPEGDataURL(data []byte) string {
	buf := make([]byte, len(jpegDataURLPrefix)+base64.StdEncoding.EncodedLen(len(data)))
	copy(buf, jpegDataURLPrefix)
	base64.StdEncoding.Encode(buf[len(jpegDataURLPrefix):], data)
	return string(buf)
}

// NewProcessFrame はJPEGフレームから送信用ペイロードを作成する
func NewProcessFrame(jpegData []byte) ProcessFrame {
	return ProcessFrame{Image: JPEGDataURL(jpegData)}
}

// AttendanceResult は1フレームに対する認識結果
type AttendanceResult struct {
	Success bool     `json:"success"`
	Subject *Subject `json:"user,omitempty"`
	Error   string   `json:"error,omitempty"`
}

// Subject は認識された人物と出欠記録
type Subject struct {
	ID         SubjectID `json:"id"`
	Name       string    `json:"name"`
	ObservedAt Timestamp `json:"time"`
	Status     string    `json:"status"`
}

// IsUnknownFace は顔は映っているが未登録の人物であることを示す
func (r AttendanceResult) IsUnknownFace() bool {
	return r.Error == ErrCodeUnknownFace
}

// Recognized は人物が特定できた結果かどうかを返す
func (r AttendanceResult) Recognized() bool {
	return r.Success && r.Subject != nil && r.Subject.ID != ""
}

// DecodeAttendanceResult はペイロードを認識結果として解釈する
func DecodeAttendanceResult(raw json.RawMessage) (AttendanceResult, error) {
	var res AttendanceResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return AttendanceResult{}, fmt.Errorf("認識結果のデコードに失敗: %w", err)
	}
	return res, nil
}
