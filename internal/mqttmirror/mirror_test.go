package mqttmirror

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeToken struct {
	err  error
	done chan struct{}
}

func newFakeToken(err error) *fakeToken {
	done := make(chan struct{})
	close(done)
	return &fakeToken{err: err, done: done}
}

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{}          { return t.done }
func (t *fakeToken) Error() error                   { return t.err }

type published struct {
	topic   string
	qos     byte
	payload []byte
}

type fakeClient struct {
	mqtt.Client

	mu           sync.Mutex
	open         bool
	publishErr   error
	messages     []published
	disconnected bool

	// release, when set, holds every Publish until it is closed.
	release chan struct{}
}

func (c *fakeClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

func (c *fakeClient) IsConnectionOpen() bool {
	return c.IsConnected()
}

func (c *fakeClient) Publish(topic string, qos byte, _ bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	c.messages = append(c.messages, published{topic: topic, qos: qos, payload: payload.([]byte)})
	release, err := c.release, c.publishErr
	c.mu.Unlock()
	if release != nil {
		<-release
	}
	return newFakeToken(err)
}

func (c *fakeClient) sent() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.messages)
}

func (c *fakeClient) Disconnect(uint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.open = false
	c.disconnected = true
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestMirrorPublishesToEventTopic(t *testing.T) {
	client := &fakeClient{open: true}
	mirror := New(client, "wedding/", 1, quietLogger())

	mirror.Mirror("update", []byte(`{"event":"update"}`))
	mirror.Mirror("new_image", []byte(`{"event":"new_image"}`))
	mirror.Close()

	require.Len(t, client.messages, 2)
	byTopic := map[string]published{}
	for _, message := range client.messages {
		byTopic[message.topic] = message
	}
	require.Contains(t, byTopic, "wedding/update")
	require.Contains(t, byTopic, "wedding/new_image")
	assert.Equal(t, byte(1), byTopic["wedding/update"].qos)
	assert.JSONEq(t, `{"event":"new_image"}`, string(byTopic["wedding/new_image"].payload))

	stats := mirror.Stats()
	assert.Equal(t, uint64(1), stats.Published["wedding/update"])
	assert.Equal(t, uint64(0), stats.Errors)
	assert.True(t, client.disconnected)
}

func TestMirrorCountsFailuresWithoutReturningThem(t *testing.T) {
	client := &fakeClient{open: false}
	mirror := New(client, "", 0, quietLogger())

	mirror.Mirror("update", []byte("{}"))
	assert.Empty(t, client.messages)
	assert.Equal(t, uint64(1), mirror.Stats().Errors)

	client.open = true
	client.publishErr = errors.New("broker said no")
	mirror.Mirror("update", []byte("{}"))
	mirror.Close()

	assert.Equal(t, "slideshow/update", client.messages[0].topic)
	assert.Equal(t, uint64(2), mirror.Stats().Errors)
}

func TestMirrorDoesNotBlockOnStalledBroker(t *testing.T) {
	client := &fakeClient{open: true, release: make(chan struct{})}
	mirror := New(client, "wedding", 0, quietLogger())

	returned := make(chan struct{})
	go func() {
		for i := 0; i < maxPending+3; i++ {
			mirror.Mirror("update", []byte("{}"))
		}
		close(returned)
	}()
	select {
	case <-returned:
	case <-time.After(time.Second):
		t.Fatal("Mirror blocked while the broker was stalled")
	}

	assert.Eventually(t, func() bool { return client.sent() == maxPending }, time.Second, 5*time.Millisecond)
	assert.Equal(t, uint64(3), mirror.Stats().Errors, "events beyond the backlog are dropped")

	close(client.release)
	mirror.Close()
	assert.Equal(t, uint64(maxPending), mirror.Stats().Published["wedding/update"])
}

func TestMirrorAfterCloseIsDropped(t *testing.T) {
	client := &fakeClient{open: true}
	mirror := New(client, "wedding", 0, quietLogger())
	mirror.Close()
	client.mu.Lock()
	client.open = true
	client.mu.Unlock()

	mirror.Mirror("update", []byte("{}"))
	mirror.Close()

	assert.Zero(t, client.sent())
	assert.Equal(t, uint64(1), mirror.Stats().Errors)
}
