// Package camera 勤怠端末のカメラ入力を担う
//
// # 責務
// - カメラデバイスの取得・解放（同時に1つの取得のみ）
// - 最新フレームの保持とプレビュー用の生フレーム提供
// - 指定品質でのスナップショット作成
// - 既定カメラの検出とアクセスエラーの分類
//
// # 仕様
// - Source: 取得・解放・スナップショット。解放は進行中の処理があっても必ずデバイスを止める
// - Device: V4L2デバイス（ffmpeg経由）と、デモ用の動画ファイルのループ再生
// - DeviceFactory: 設定のタイプからDeviceを作成する
// - Discovery: /dev/video* の検出
// - MJPEGパイプはSOI/EOIマーカーでフレームに分割する
//
// # 前提要件
//   - ffmpeg: 映像の取得に使用
//     Ubuntu/Debian: sudo apt install ffmpeg
//   - v4l-utils: カメラ名とフォーマットの取得に使用（任意）
//     Ubuntu/Debian: sudo apt install v4l-utils
//   - videoグループへの参加: デバイスアクセス権限
//     sudo usermod -a -G video $USER
package camera
