package channel

// State はチャンネルの接続状態
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

// String は状態名を返す
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// MarshalText はJSON等で状態名として出力する
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
