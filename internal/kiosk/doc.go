// Package kiosk は、受付端末向けのHTTPサーバーを提供します。
//
// このパッケージは、カメラの開始・停止、MJPEGプレビュー、
// 認識結果のServer-Sent Events配信、新規登録の撮影操作を担当します。
//
// 責務:
//   - HTTPサーバーの起動とグレースフルシャットダウン
//   - カメラの開始・停止と再試行（エラーコード付きで応答）
//   - ライブ映像のMJPEG配信
//   - 歓迎メッセージ・表示更新・接続状態のSSE配信
//   - 登録用写真の撮影と送信
//
// 仕様:
//   - ルーティングはgin
//   - エラーは ErrorResponse 形式のJSONで返す
//   - 受付画面のHTMLは埋め込み
package kiosk
