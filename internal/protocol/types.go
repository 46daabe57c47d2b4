package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SubjectID は人物ID
// 認識サービスは数値・文字列のどちらでも送ってくるため両方を受け付ける
type SubjectID string

// UnmarshalJSON はJSON数値またはJSON文字列を受け付ける
func (id *SubjectID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("IDの解析に失敗: %w", err)
		}
		*id = SubjectID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("IDの解析に失敗: %w", err)
	}
	*id = SubjectID(n.String())
	return nil
}

// String はIDの文字列表現を返す
func (id SubjectID) String() string {
	return string(id)
}

// 認識サービスはタイムゾーン無しのISO-8601を返すことがある
var naiveLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// Timestamp は認識サービスの記録時刻
type Timestamp struct {
	time.Time
}

// UnmarshalJSON はRFC3339とタイムゾーン無しの形式を受け付ける
// タイムゾーン無しの場合はローカル時刻として解釈する
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
			t.Time = time.Time{}
			return nil
		}
		return fmt.Errorf("時刻の解析に失敗: %w", err)
	}
	parsed, err := ParseTimestamp(s)
	if err != nil {
		return err
	}
	t.Time = parsed
	return nil
}

// MarshalJSON はRFC3339Nano形式で出力する
func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte(`""`), nil
	}
	return []byte(strconv.Quote(t.Format(time.RFC3339Nano))), nil
}

// ParseTimestamp は時刻文字列を解析する
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	if parsed, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return parsed, nil
	}
	for _, layout := range naiveLayouts {
		if parsed, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return parsed, nil
		}
	}
	return time.Time{}, fmt.Errorf("未対応の時刻形式: %q", s)
}
