// Package channel 認識サービスとの永続的な双方向チャンネルを管理する
//
// # 責務
// - プロセスにつき1本のWebSocket接続の確立と維持
// - 切断時の再接続（回数・間隔は設定で指定）
// - 接続状態の公開と状態変化の通知
// - メッセージタイプごとの受信ハンドラ登録と到着順での呼び出し
//
// # 仕様
// - 状態遷移: Disconnected -> Connecting -> Connected -> Reconnecting -> Connected
// - 再接続を使い切った場合は Disconnected に戻る。初回接続の失敗も Reconnecting として扱う
// - Send は接続中のときだけ送信し、キューには溜めない
// - 利用側は Unsubscribe で離脱する。Close はプロセス終了時のみ
//
// WebSocketはgorilla/websocketを使用する。
package channel
