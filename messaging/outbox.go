package messaging

import (
	"log"
	"sync"
	"time"

	"tellolink/store"
)

const (
	outboxBatchSize  = 50
	outboxMaxRetries = 10
	outboxRetention  = 24 * time.Hour
)

// OutboxDrainer periodically publishes pending outbox messages.
type OutboxDrainer struct {
	db       *store.DB
	client   Publisher
	interval time.Duration
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewOutboxDrainer creates a new outbox drainer. interval <= 0 means 5s.
func NewOutboxDrainer(db *store.DB, client Publisher, interval time.Duration) *OutboxDrainer {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &OutboxDrainer{
		db:       db,
		client:   client,
		interval: interval,
		stopChan: make(chan struct{}),
	}
}

// Start begins the outbox drain loop.
func (d *OutboxDrainer) Start() {
	d.wg.Add(1)
	go d.drainLoop()
}

// Stop stops the outbox drain loop.
func (d *OutboxDrainer) Stop() {
	select {
	case <-d.stopChan:
	default:
		close(d.stopChan)
	}
	d.wg.Wait()
}

func (d *OutboxDrainer) drainLoop() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	purge := time.NewTicker(time.Hour)
	defer purge.Stop()

	for {
		select {
		case <-d.stopChan:
			return
		case <-ticker.C:
			d.drain()
		case <-purge.C:
			if n, err := d.db.PurgeSentOutbox(outboxRetention); err != nil {
				log.Printf("messaging: purge outbox: %v", err)
			} else if n > 0 {
				log.Printf("messaging: purged %d sent outbox messages", n)
			}
		}
	}
}

// drain publishes one batch and reports how many messages were sent.
func (d *OutboxDrainer) drain() int {
	if !d.client.IsConnected() {
		return 0
	}

	msgs, err := d.db.ListPendingOutbox(outboxBatchSize, outboxMaxRetries)
	if err != nil {
		log.Printf("messaging: list pending outbox: %v", err)
		return 0
	}

	sent := 0
	for _, msg := range msgs {
		if err := d.client.Publish(msg.Topic, msg.Payload); err != nil {
			log.Printf("messaging: publish outbox msg %d: %v", msg.ID, err)
			d.db.IncrementOutboxRetries(msg.ID)
			continue
		}
		if err := d.db.AckOutbox(msg.ID); err != nil {
			log.Printf("messaging: ack outbox msg %d: %v", msg.ID, err)
			continue
		}
		sent++
	}
	return sent
}
