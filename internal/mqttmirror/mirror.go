// Package mqttmirror republishes live slideshow events to an MQTT broker so
// other devices (LED strips, a second venue screen) can follow along.
package mqttmirror

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const (
	connectTimeout = 5 * time.Second
	publishTimeout = 2 * time.Second
	disconnectMs   = 250
	maxPending     = 32
)

// Config selects the broker and topic layout.
type Config struct {
	Broker   string
	ClientID string
	Prefix   string
	QoS      byte
}

// Stats reports mirror counters.
type Stats struct {
	Connected bool              `json:"connected"`
	Published map[string]uint64 `json:"published"`
	Errors    uint64            `json:"errors"`
}

// Mirror forwards encoded events to <prefix>/<event>. Publishing is fire and
// forget: broker trouble is logged and counted, never returned.
type Mirror struct {
	client mqtt.Client
	prefix string
	qos    byte
	logger *slog.Logger

	mu        sync.Mutex
	published map[string]uint64
	pending   int
	closed    bool
	errors    atomic.Uint64
	inflight  sync.WaitGroup
}

// Connect dials the broker with automatic reconnection enabled and wraps the
// client in a Mirror.
func Connect(ctx context.Context, cfg Config, logger *slog.Logger) (*Mirror, error) {
	if logger == nil {
		logger = slog.Default()
	}
	broker := cfg.Broker
	if !strings.Contains(broker, "://") {
		broker = "tcp://" + broker
	}
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "slideshow"
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.OnConnect = func(mqtt.Client) {
		logger.Info("mqtt connection established", "broker", broker, "client_id", clientID)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		logger.Warn("mqtt connection lost, will auto-reconnect", "broker", broker, "error", err)
	}

	client := mqtt.NewClient(opts)
	logger.Info("connecting to mqtt broker", "broker", broker)
	token := client.Connect()

	timeout := connectTimeout
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < timeout {
		timeout = time.Until(deadline)
	}
	if !token.WaitTimeout(timeout) {
		client.Disconnect(disconnectMs)
		return nil, fmt.Errorf("mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connection failed: %w", err)
	}
	return New(client, cfg.Prefix, cfg.QoS, logger), nil
}

// New wraps an already configured client.
func New(client mqtt.Client, prefix string, qos byte, logger *slog.Logger) *Mirror {
	if logger == nil {
		logger = slog.Default()
	}
	prefix = strings.TrimSuffix(prefix, "/")
	if prefix == "" {
		prefix = "slideshow"
	}
	return &Mirror{
		client:    client,
		prefix:    prefix,
		qos:       qos,
		logger:    logger.With("component", "mqtt"),
		published: make(map[string]uint64),
	}
}

// Topic returns the topic an event is mirrored to.
func (m *Mirror) Topic(event string) string {
	return m.prefix + "/" + event
}

// Mirror hands payload to the client on its own goroutine; paho's Publish
// blocks while the broker link is stalled. At most maxPending publishes are
// outstanding, further events are dropped and counted.
func (m *Mirror) Mirror(event string, payload []byte) {
	if !m.client.IsConnectionOpen() {
		m.errors.Add(1)
		m.logger.Debug("mqtt not connected, event not mirrored", "event", event)
		return
	}
	m.mu.Lock()
	if m.closed || m.pending >= maxPending {
		closed := m.closed
		m.mu.Unlock()
		m.errors.Add(1)
		if !closed {
			m.logger.Warn("mqtt backlog full, event not mirrored", "event", event)
		}
		return
	}
	m.pending++
	m.inflight.Add(1)
	m.mu.Unlock()

	topic := m.Topic(event)
	go func() {
		defer m.finish()
		token := m.client.Publish(topic, m.qos, false, payload)
		if !token.WaitTimeout(publishTimeout) {
			m.errors.Add(1)
			m.logger.Warn("mqtt publish timeout", "topic", topic)
			return
		}
		if err := token.Error(); err != nil {
			m.errors.Add(1)
			m.logger.Warn("mqtt publish failed", "topic", topic, "error", err)
			return
		}
		m.mu.Lock()
		m.published[topic]++
		m.mu.Unlock()
	}()
}

func (m *Mirror) finish() {
	m.mu.Lock()
	m.pending--
	m.mu.Unlock()
	m.inflight.Done()
}

// Stats returns a copy of the mirror counters.
func (m *Mirror) Stats() Stats {
	m.mu.Lock()
	published := make(map[string]uint64, len(m.published))
	for topic, count := range m.published {
		published[topic] = count
	}
	m.mu.Unlock()
	return Stats{
		Connected: m.client.IsConnected(),
		Published: published,
		Errors:    m.errors.Load(),
	}
}

// Close stops accepting events, waits for in-flight publishes and
// disconnects.
func (m *Mirror) Close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.inflight.Wait()
	if m.client.IsConnected() {
		m.client.Disconnect(disconnectMs)
		m.logger.Info("mqtt disconnected")
	}
}
