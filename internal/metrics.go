package internal

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

type Metrics struct {
	uploads       atomic.Uint64
	refreshes     atomic.Uint64
	skipped       atomic.Uint64
	lastRefreshNs atomic.Int64

	mu       sync.Mutex
	failures map[string]uint64

	hub *Hub
}

func NewMetrics(hub *Hub) *Metrics {
	return &Metrics{
		failures: make(map[string]uint64),
		hub:      hub,
	}
}

func (m *Metrics) IncUpload() {
	m.uploads.Add(1)
}

func (m *Metrics) IncUploadFailure(kind ErrorKind) {
	m.mu.Lock()
	m.failures[kind.String()]++
	m.mu.Unlock()
}

// one broadcaster firing, same shape as WithFireHook
func (m *Metrics) ObserveRefresh(published bool) {
	if published {
		m.refreshes.Add(1)
	} else {
		m.skipped.Add(1)
	}
	m.lastRefreshNs.Store(time.Now().UnixNano())
}

func (m *Metrics) snapshot() map[string]any {
	m.mu.Lock()
	failures := make(map[string]uint64, len(m.failures))
	for kind, count := range m.failures {
		failures[kind] = count
	}
	m.mu.Unlock()

	payload := map[string]any{
		"uploads_total":         m.uploads.Load(),
		"upload_failures_total": failures,
		"refreshes_total":       m.refreshes.Load(),
		"refreshes_skipped":     m.skipped.Load(),
	}
	if ns := m.lastRefreshNs.Load(); ns > 0 {
		payload["last_refresh"] = time.Unix(0, ns).UTC().Format(time.RFC3339)
	}
	if m.hub != nil {
		payload["live"] = m.hub.Stats()
	}
	return payload
}

func (m *Metrics) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(m.snapshot())
}
