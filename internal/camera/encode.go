package camera

import (
	"bytes"
	"fmt"
	"image/jpeg"
)

// Reencode はJPEGフレームを指定品質(0.0-1.0)で再エンコードする
func Reencode(raw []byte, quality float64) ([]byte, error) {
	img, err := jpeg.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("JPEG画像のデコードに失敗: %w", err)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality(quality)}); err != nil {
		return nil, fmt.Errorf("JPEGエンコードに失敗: %w", err)
	}
	return buf.Bytes(), nil
}

// jpegQuality は0.0-1.0の品質をimage/jpegの1-100へ変換する
func jpegQuality(quality float64) int {
	q := int(quality * 100)
	if q < 1 {
		return 1
	}
	if q > 100 {
		return 100
	}
	return q
}
