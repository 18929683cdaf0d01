package messaging

import (
	"fmt"
	"log"
	"time"

	"tellolink/config"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// At-least-once for requests and results alike.
const mqttQoS = 1

type mqttBackend struct {
	cfg      config.MQTTConfig
	clientID string
	conn     mqtt.Client

	willTopic   string
	willPayload []byte
}

func newMQTTBackend(cfg config.MQTTConfig, clientID string) *mqttBackend {
	return &mqttBackend{cfg: cfg, clientID: clientID}
}

func (m *mqttBackend) connect() error {
	broker := fmt.Sprintf("tcp://%s:%d", m.cfg.Broker, m.cfg.Port)
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(m.clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			log.Printf("messaging: mqtt connection lost: %v", err)
		})
	if m.willTopic != "" {
		opts.SetBinaryWill(m.willTopic, m.willPayload, mqttQoS, false)
	}

	m.conn = mqtt.NewClient(opts)
	token := m.conn.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		// Connect keeps retrying in the background.
		log.Printf("messaging: mqtt broker %s not reachable yet, retrying", broker)
		return nil
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect %s: %w", broker, err)
	}
	return nil
}

func (m *mqttBackend) publish(topic string, payload []byte) error {
	if !m.conn.IsConnected() {
		return fmt.Errorf("mqtt not connected")
	}
	token := m.conn.Publish(topic, mqttQoS, false, payload)
	token.Wait()
	return token.Error()
}

func (m *mqttBackend) subscribe(topic string, handler func([]byte)) error {
	token := m.conn.Subscribe(topic, mqttQoS, func(_ mqtt.Client, msg mqtt.Message) {
		handler(msg.Payload())
	})
	token.Wait()
	return token.Error()
}

func (m *mqttBackend) connected() bool {
	return m.conn != nil && m.conn.IsConnected()
}

func (m *mqttBackend) close() {
	// A clean disconnect suppresses the will; the heartbeater has already
	// announced the link as not ready.
	m.conn.Disconnect(1000)
	m.conn = nil
}
