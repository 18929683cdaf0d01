package messaging

import (
	"fmt"
	"log"
	"sync"
	"time"

	"tellolink/protocol"
)

// StatusSource reports the link's current health.
type StatusSource interface {
	Ready() bool
	Pending() int
	Uptime() time.Duration
}

// Heartbeater publishes drone.status on startup, periodically, and once more
// on shutdown with ready cleared.
type Heartbeater struct {
	client   Publisher
	src      StatusSource
	nodeID   string
	topic    string
	interval time.Duration

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewHeartbeater creates a heartbeater. interval <= 0 means 30s.
func NewHeartbeater(client Publisher, src StatusSource, nodeID, topic string, interval time.Duration) *Heartbeater {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Heartbeater{
		client:   client,
		src:      src,
		nodeID:   nodeID,
		topic:    topic,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start sends an initial status and begins the heartbeat loop.
func (h *Heartbeater) Start() {
	h.send(h.src.Ready())
	h.wg.Add(1)
	go h.loop()
}

// Stop halts the heartbeat loop and announces the link as not ready.
func (h *Heartbeater) Stop() {
	h.stopOnce.Do(func() {
		close(h.stopCh)
		h.wg.Wait()
		h.send(false)
	})
}

func (h *Heartbeater) send(ready bool) {
	data, err := encodeStatus(h.nodeID, &protocol.DroneStatus{
		NodeID:  h.nodeID,
		Ready:   ready,
		Pending: h.src.Pending(),
		Uptime:  int64(h.src.Uptime().Seconds()),
	})
	if err != nil {
		log.Printf("heartbeater: %v", err)
		return
	}
	if err := h.client.Publish(h.topic, data); err != nil {
		log.Printf("heartbeater: send status: %v", err)
	}
}

// OfflineStatus is the drone.status a broker announces on the link's behalf
// when it vanishes; see Client.SetLastWill.
func OfflineStatus(nodeID string) ([]byte, error) {
	return encodeStatus(nodeID, &protocol.DroneStatus{NodeID: nodeID})
}

func encodeStatus(nodeID string, st *protocol.DroneStatus) ([]byte, error) {
	env, err := protocol.NewEnvelope(
		protocol.TypeDroneStatus,
		protocol.Address{Role: protocol.RoleLink, Node: nodeID},
		protocol.Address{Role: protocol.RoleController},
		st,
	)
	if err != nil {
		return nil, fmt.Errorf("build status: %w", err)
	}
	data, err := env.Encode()
	if err != nil {
		return nil, fmt.Errorf("encode status: %w", err)
	}
	return data, nil
}

func (h *Heartbeater) loop() {
	defer h.wg.Done()
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		select {
		case <-h.stopCh:
			return
		case <-ticker.C:
			h.send(h.src.Ready())
		}
	}
}
