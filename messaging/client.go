package messaging

import (
	"fmt"
	"sync"

	"tellolink/config"
)

// Publisher is the outbound half of a messaging client.
type Publisher interface {
	Publish(topic string, payload []byte) error
	IsConnected() bool
}

// backend is one broker binding. Calls are serialized by Client.
type backend interface {
	connect() error
	publish(topic string, payload []byte) error
	subscribe(topic string, handler func([]byte)) error
	connected() bool
	close()
}

// Client carries the link's request and event topics over MQTT or Kafka.
type Client struct {
	mu      sync.RWMutex
	name    string
	b       backend
	started bool
}

// NewClient picks the backend named by cfg. clientID names the MQTT session
// and keys Kafka messages, so one drone's events stay in one partition.
func NewClient(cfg *config.MessagingConfig, clientID string) *Client {
	c := &Client{name: cfg.Backend}
	switch cfg.Backend {
	case "mqtt":
		c.b = newMQTTBackend(cfg.MQTT, clientID)
	case "kafka":
		c.b = newKafkaBackend(cfg.Kafka, clientID)
	}
	return c
}

// SetLastWill registers a message the MQTT broker publishes for us if the
// link drops without a clean disconnect. It must be called before Connect.
// Kafka has no equivalent and ignores it.
func (c *Client) SetLastWill(topic string, payload []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if m, ok := c.b.(*mqttBackend); ok {
		m.willTopic, m.willPayload = topic, payload
	}
}

// Connect establishes the messaging connection.
func (c *Client) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.b == nil {
		return fmt.Errorf("unknown messaging backend: %s", c.name)
	}
	if err := c.b.connect(); err != nil {
		return err
	}
	c.started = true
	return nil
}

// Publish sends a message to topic.
func (c *Client) Publish(topic string, payload []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.started {
		return fmt.Errorf("%s not connected", c.name)
	}
	return c.b.publish(topic, payload)
}

// PublishEnvelope encodes and publishes a protocol envelope to the given topic.
func (c *Client) PublishEnvelope(topic string, env interface{ Encode() ([]byte, error) }) error {
	data, err := env.Encode()
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	return c.Publish(topic, data)
}

// Subscribe registers a handler for messages on topic.
func (c *Client) Subscribe(topic string, handler func(payload []byte)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started {
		return fmt.Errorf("%s not connected", c.name)
	}
	return c.b.subscribe(topic, handler)
}

// IsConnected returns whether the messaging client is connected.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.started && c.b.connected()
}

// Close shuts down the messaging connection.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		c.b.close()
		c.started = false
	}
}
