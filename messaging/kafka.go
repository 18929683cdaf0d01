package messaging

import (
	"context"
	"fmt"
	"log"
	"time"

	"tellolink/config"

	kafkago "github.com/segmentio/kafka-go"
)

type kafkaBackend struct {
	cfg     config.KafkaConfig
	nodeKey []byte
	writer  *kafkago.Writer
	readers []*kafkago.Reader
	ctx     context.Context
	cancel  context.CancelFunc
}

func newKafkaBackend(cfg config.KafkaConfig, clientID string) *kafkaBackend {
	return &kafkaBackend{cfg: cfg, nodeKey: []byte(clientID)}
}

func (k *kafkaBackend) connect() error {
	if len(k.cfg.Brokers) == 0 {
		return fmt.Errorf("kafka: no brokers configured")
	}
	k.writer = &kafkago.Writer{
		Addr: kafkago.TCP(k.cfg.Brokers...),
		// Hash on the node key so a controller sees one drone's events in order.
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireOne,
		WriteTimeout: 10 * time.Second,
	}
	k.ctx, k.cancel = context.WithCancel(context.Background())
	return nil
}

func (k *kafkaBackend) publish(topic string, payload []byte) error {
	ctx, cancel := context.WithTimeout(k.ctx, 15*time.Second)
	defer cancel()
	return k.writer.WriteMessages(ctx, kafkago.Message{Topic: topic, Key: k.nodeKey, Value: payload})
}

func (k *kafkaBackend) subscribe(topic string, handler func([]byte)) error {
	groupID := k.cfg.GroupID
	if groupID == "" {
		groupID = string(k.nodeKey)
	}
	r := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers: k.cfg.Brokers,
		Topic:   topic,
		GroupID: groupID,
	})
	k.readers = append(k.readers, r)
	go func() {
		for {
			msg, err := r.ReadMessage(k.ctx)
			if err != nil {
				if k.ctx.Err() == nil {
					log.Printf("messaging: kafka read %s: %v", topic, err)
				}
				return
			}
			handler(msg.Value)
		}
	}()
	return nil
}

func (k *kafkaBackend) connected() bool {
	return k.writer != nil
}

func (k *kafkaBackend) close() {
	k.cancel()
	for _, r := range k.readers {
		r.Close()
	}
	k.readers = nil
	k.writer.Close()
	k.writer = nil
}
