package internal

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"slideshow/internal/storage"
	"slideshow/internal/storage/memory"
)

const testImageBase = "http://wedding.local:8000/images/"

func testImageURL(name string) string {
	return testImageBase + name
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func seededStore(t *testing.T, n int) *memory.Store {
	t.Helper()
	store := memory.New()
	base := time.Date(2024, 6, 1, 18, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		item := &storage.Item{
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			Comment:   fmt.Sprintf("comment %d", i),
			Name:      fmt.Sprintf("photo-%d.jpg", i),
		}
		if err := store.Insert(context.Background(), item); err != nil {
			t.Fatalf("seed insert: %v", err)
		}
	}
	return store
}

type publishedEvent struct {
	event string
	data  any
}

// recordingPublisher captures events instead of fanning them out.
type recordingPublisher struct {
	mu     sync.Mutex
	events []publishedEvent
}

func (p *recordingPublisher) Publish(event string, data any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, publishedEvent{event: event, data: data})
}

func (p *recordingPublisher) snapshot() []publishedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]publishedEvent, len(p.events))
	copy(out, p.events)
	return out
}

func decodeEnvelope(t *testing.T, raw []byte) (Envelope, map[string]string) {
	t.Helper()
	var envelope Envelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		t.Fatalf("decode envelope %s: %v", raw, err)
	}
	data := map[string]string{}
	if err := json.Unmarshal(envelope.Data, &data); err != nil {
		t.Fatalf("decode data %s: %v", envelope.Data, err)
	}
	return envelope, data
}

func startHub(t *testing.T, mirrors ...Mirror) *Hub {
	t.Helper()
	hub := NewHub(quietLogger(), mirrors...)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-hub.done
	})
	return hub
}
