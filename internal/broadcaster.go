package internal

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"slideshow/internal/storage"
)

// SlotCount is the number of corner tiles a display shows.
const SlotCount = 4

// Slot identifies a position in the display layout. The ordering matters:
// sample position i goes to Slots[i].
type Slot string

const (
	SlotTopLeft     Slot = "img_tl"
	SlotBottomLeft  Slot = "img_bl"
	SlotTopRight    Slot = "img_tr"
	SlotBottomRight Slot = "img_br"
)

// Slots lists the layout positions in sample order.
var Slots = [SlotCount]Slot{SlotTopLeft, SlotBottomLeft, SlotTopRight, SlotBottomRight}

// RefreshFrame assigns a sample to layout slots. Slots beyond the sample
// length stay empty.
func RefreshFrame(items []storage.Item, imageURL func(name string) string) UpdatePayload {
	var urls [SlotCount]string
	for i := 0; i < SlotCount && i < len(items); i++ {
		urls[i] = imageURL(items[i].Name)
	}
	return UpdatePayload{
		TopLeft:     urls[0],
		BottomLeft:  urls[1],
		TopRight:    urls[2],
		BottomRight: urls[3],
	}
}

// Broadcaster periodically samples the collection and publishes an update
// frame to every viewer.
type Broadcaster struct {
	sampler   *Sampler
	publisher Publisher
	interval  time.Duration
	imageURL  func(name string) string
	logger    *slog.Logger
	onFire    func(published bool)

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	firings atomic.Uint64
}

type BroadcasterOption func(*Broadcaster)

// WithFireHook calls fn after each firing with whether a frame was published.
func WithFireHook(fn func(published bool)) BroadcasterOption {
	return func(b *Broadcaster) {
		b.onFire = fn
	}
}

func WithBroadcasterLogger(logger *slog.Logger) BroadcasterOption {
	return func(b *Broadcaster) {
		if logger != nil {
			b.logger = logger
		}
	}
}

func NewBroadcaster(sampler *Sampler, publisher Publisher, interval time.Duration, imageURL func(string) string, opts ...BroadcasterOption) *Broadcaster {
	b := &Broadcaster{
		sampler:   sampler,
		publisher: publisher,
		interval:  interval,
		imageURL:  imageURL,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.With("component", "broadcaster")
	return b
}

// Start launches the refresh loop. It fires once immediately and then every
// interval until Stop is called or ctx ends. Calling Start on a running
// broadcaster is a no-op.
func (b *Broadcaster) Start(ctx context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.done != nil {
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	b.done = make(chan struct{})
	go b.loop(loopCtx, b.done)
}

// Run starts the loop and blocks until it exits.
func (b *Broadcaster) Run(ctx context.Context) error {
	b.Start(ctx)
	<-b.Done()
	return nil
}

// Stop halts the loop and waits for an in-flight firing to finish. No
// firing happens after Stop returns.
func (b *Broadcaster) Stop() {
	b.mu.Lock()
	cancel, done := b.cancel, b.done
	b.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Done is closed once the loop has exited. It is nil before Start.
func (b *Broadcaster) Done() <-chan struct{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.done
}

// Firings counts completed refresh attempts, published or not.
func (b *Broadcaster) Firings() uint64 {
	return b.firings.Load()
}

func (b *Broadcaster) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	b.fire(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if ctx.Err() != nil {
				return
			}
			b.fire(ctx)
		}
	}
}

func (b *Broadcaster) fire(ctx context.Context) {
	published := b.refresh(ctx)
	b.firings.Add(1)
	if b.onFire != nil {
		b.onFire(published)
	}
}

func (b *Broadcaster) refresh(ctx context.Context) bool {
	items, err := b.sampler.Sample(ctx, SlotCount)
	if err != nil {
		b.logger.Warn("refresh skipped", "error", err)
		return false
	}
	if len(items) == 0 {
		b.logger.Debug("refresh skipped, collection is empty")
		return false
	}
	b.publisher.Publish(EventUpdate, RefreshFrame(items, b.imageURL))
	return true
}
