package outbox

import (
	"context"
	"net/http"
	"sync"
	"time"
)

// ConnectivityProbe reports whether the collector is currently reachable.
// Keeping it an explicit input makes the dispatcher testable without a
// network.
type ConnectivityProbe interface {
	Online(ctx context.Context) bool
}

// HTTPProbe considers the network online when a HEAD request to the target
// succeeds with any status. An empty URL means "always online" (no collector
// configured to probe against).
type HTTPProbe struct {
	URL    string
	Client *http.Client
}

func NewHTTPProbe(url string) *HTTPProbe {
	return &HTTPProbe{
		URL:    url,
		Client: &http.Client{Timeout: 3 * time.Second},
	}
}

func (p *HTTPProbe) Online(ctx context.Context) bool {
	if p.URL == "" {
		return true
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.URL, nil)
	if err != nil {
		return false
	}
	resp, err := p.Client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return true
}

// StaticProbe is a manually toggled probe, used in tests and for deployments
// that receive connectivity signals from elsewhere.
type StaticProbe struct {
	mu     sync.RWMutex
	online bool
}

func NewStaticProbe(online bool) *StaticProbe {
	return &StaticProbe{online: online}
}

func (p *StaticProbe) Online(ctx context.Context) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.online
}

func (p *StaticProbe) SetOnline(online bool) {
	p.mu.Lock()
	p.online = online
	p.mu.Unlock()
}
