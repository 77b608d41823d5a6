package internal

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slideshow/internal/storage"
	"slideshow/internal/storage/memory"
)

const testInterval = 25 * time.Millisecond

func newTestBroadcaster(store ItemReader, publisher Publisher, opts ...BroadcasterOption) *Broadcaster {
	opts = append([]BroadcasterOption{WithBroadcasterLogger(quietLogger())}, opts...)
	return NewBroadcaster(NewSampler(store, FillRepeat), publisher, testInterval, testImageURL, opts...)
}

func TestRefreshFrameSlotOrder(t *testing.T) {
	items := []storage.Item{{Name: "a.jpg"}, {Name: "b.jpg"}, {Name: "c.jpg"}, {Name: "d.jpg"}}

	frame := RefreshFrame(items, testImageURL)
	assert.Equal(t, testImageURL("a.jpg"), frame.TopLeft)
	assert.Equal(t, testImageURL("b.jpg"), frame.BottomLeft)
	assert.Equal(t, testImageURL("c.jpg"), frame.TopRight)
	assert.Equal(t, testImageURL("d.jpg"), frame.BottomRight)

	partial := RefreshFrame(items[:2], testImageURL)
	assert.Empty(t, partial.TopRight)
	assert.Empty(t, partial.BottomRight)
	assert.Equal(t, UpdatePayload{}, RefreshFrame(nil, testImageURL))
}

func TestBroadcasterPublishesFullFramesOnSchedule(t *testing.T) {
	store := seededStore(t, 4)
	publisher := &recordingPublisher{}

	var mu sync.Mutex
	var fired []time.Time
	broadcaster := newTestBroadcaster(store, publisher, WithFireHook(func(bool) {
		mu.Lock()
		fired = append(fired, time.Now())
		mu.Unlock()
	}))
	broadcaster.Start(context.Background())
	defer broadcaster.Stop()

	require.Eventually(t, func() bool {
		return len(publisher.snapshot()) >= 4
	}, 2*time.Second, 5*time.Millisecond)
	broadcaster.Stop()

	existing := map[string]bool{}
	items, err := store.All(context.Background())
	require.NoError(t, err)
	for _, item := range items {
		existing[testImageURL(item.Name)] = true
	}

	for _, event := range publisher.snapshot() {
		require.Equal(t, EventUpdate, event.event)
		frame, ok := event.data.(UpdatePayload)
		require.True(t, ok)
		for _, url := range []string{frame.TopLeft, frame.BottomLeft, frame.TopRight, frame.BottomRight} {
			assert.True(t, existing[url], "slot url %q does not reference a stored item", url)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	require.GreaterOrEqual(t, len(fired), 4)
	// ticks never arrive early, so n firings span at least n-1 intervals.
	span := fired[len(fired)-1].Sub(fired[0])
	minSpan := time.Duration(len(fired)-1) * testInterval * 8 / 10
	assert.GreaterOrEqual(t, span, minSpan)
}

func TestBroadcasterStopHaltsFirings(t *testing.T) {
	publisher := &recordingPublisher{}
	broadcaster := newTestBroadcaster(seededStore(t, 4), publisher)
	broadcaster.Start(context.Background())

	require.Eventually(t, func() bool { return broadcaster.Firings() >= 2 }, time.Second, 5*time.Millisecond)

	stopped := make(chan struct{})
	go func() {
		broadcaster.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return")
	}

	after := broadcaster.Firings()
	published := len(publisher.snapshot())
	time.Sleep(5 * testInterval)
	assert.Equal(t, after, broadcaster.Firings())
	assert.Len(t, publisher.snapshot(), published)

	select {
	case <-broadcaster.Done():
	default:
		t.Fatal("Done not closed after Stop")
	}
}

func TestBroadcasterSurvivesStoreErrors(t *testing.T) {
	store := seededStore(t, 4)
	store.SetErr(errors.New("database is locked"))
	publisher := &recordingPublisher{}

	var skipped, published int
	var mu sync.Mutex
	broadcaster := newTestBroadcaster(store, publisher, WithFireHook(func(ok bool) {
		mu.Lock()
		defer mu.Unlock()
		if ok {
			published++
		} else {
			skipped++
		}
	}))
	broadcaster.Start(context.Background())
	defer broadcaster.Stop()

	require.Eventually(t, func() bool { return broadcaster.Firings() >= 3 }, time.Second, 5*time.Millisecond)
	assert.Empty(t, publisher.snapshot())

	store.SetErr(nil)
	require.Eventually(t, func() bool { return len(publisher.snapshot()) >= 1 }, time.Second, 5*time.Millisecond)

	broadcaster.Stop()
	mu.Lock()
	defer mu.Unlock()
	assert.GreaterOrEqual(t, skipped, 3)
	assert.GreaterOrEqual(t, published, 1)
}

func TestBroadcasterEmptyCollectionPublishesNothing(t *testing.T) {
	publisher := &recordingPublisher{}
	broadcaster := newTestBroadcaster(memory.New(), publisher)
	broadcaster.Start(context.Background())

	require.Eventually(t, func() bool { return broadcaster.Firings() >= 2 }, time.Second, 5*time.Millisecond)
	broadcaster.Stop()
	assert.Empty(t, publisher.snapshot())
}

func TestBroadcasterRunEndsWithContext(t *testing.T) {
	broadcaster := newTestBroadcaster(seededStore(t, 1), &recordingPublisher{})
	ctx, cancel := context.WithCancel(context.Background())

	result := make(chan error, 1)
	go func() { result <- broadcaster.Run(ctx) }()
	require.Eventually(t, func() bool { return broadcaster.Firings() >= 1 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-result:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestBroadcasterThroughHub(t *testing.T) {
	hub := startHub(t)
	sub := hub.Subscribe()
	defer sub.Close()

	broadcaster := newTestBroadcaster(seededStore(t, 4), hub)
	broadcaster.Start(context.Background())
	defer broadcaster.Stop()

	envelope, data := decodeEnvelope(t, receive(t, sub.C()))
	assert.Equal(t, EventUpdate, envelope.Event)
	for _, slot := range Slots {
		assert.True(t, strings.HasPrefix(data[string(slot)], testImageBase), "slot %s: %q", slot, data[string(slot)])
	}
}
