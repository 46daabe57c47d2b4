package channel

import "sync"

// Provider はプロセス内で共有する唯一のManagerを保持する
// 組み立て側が1つ作成し、各コンポーネントへ渡す
type Provider struct {
	cfg Config

	mu      sync.Mutex
	manager *Manager
}

// NewProvider は新しいProviderを作成する
func NewProvider(cfg Config) *Provider {
	return &Provider{cfg: cfg}
}

// Get は共有Managerを返し、未接続なら接続を開始する
// 何度呼んでも同じManagerを返し、開いている接続を作り直すことはない
func (p *Provider) Get() *Manager {
	p.mu.Lock()
	if p.manager == nil {
		p.manager = NewManager(p.cfg)
	}
	m := p.manager
	p.mu.Unlock()

	m.Connect()
	return m
}

// Close は共有Managerを停止する。プロセス終了時にのみ呼ぶ
func (p *Provider) Close() error {
	p.mu.Lock()
	m := p.manager
	p.mu.Unlock()

	if m == nil {
		return nil
	}
	return m.Close()
}
