package messaging

import (
	"log"
	"sync"
	"time"

	"tellolink/engine"
	"tellolink/protocol"
	"tellolink/store"
)

// EventReporter turns engine events into outbound envelopes in the outbox.
// Command results are queued as they happen. Telemetry arrives far faster
// than anyone needs it, so only the latest record is queued each interval.
type EventReporter struct {
	db       *store.DB
	bus      *engine.EventBus
	nodeID   string
	topic    string
	interval time.Duration

	mu     sync.Mutex
	latest protocol.State

	sub      engine.SubscriberID
	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewEventReporter creates a reporter that queues envelopes for topic.
func NewEventReporter(db *store.DB, bus *engine.EventBus, nodeID, topic string) *EventReporter {
	return &EventReporter{
		db:       db,
		bus:      bus,
		nodeID:   nodeID,
		topic:    topic,
		interval: time.Second,
		stopCh:   make(chan struct{}),
	}
}

// Start subscribes to the engine and begins the state flush loop.
func (r *EventReporter) Start() error {
	id, err := r.bus.SubscribeTypes(r.handleEvent, engine.EventCommandDone, engine.EventStateUpdated)
	if err != nil {
		return err
	}
	r.sub = id
	r.wg.Add(1)
	go r.loop()
	return nil
}

// Stop unsubscribes, flushes the pending state record and halts the loop.
func (r *EventReporter) Stop() {
	r.stopOnce.Do(func() {
		r.bus.Unsubscribe(r.sub)
		close(r.stopCh)
		r.wg.Wait()
		r.flush()
	})
}

func (r *EventReporter) handleEvent(evt engine.Event) {
	switch p := evt.Payload.(type) {
	case engine.CommandDoneEvent:
		r.reportCommand(p)
	case engine.StateUpdatedEvent:
		r.mu.Lock()
		r.latest = p.State
		r.mu.Unlock()
	}
}

func (r *EventReporter) reportCommand(done engine.CommandDoneEvent) {
	status := store.StatusDone
	if done.Failed() {
		status = store.StatusFailed
	}
	r.enqueue(protocol.TypeCommandResult, &protocol.CommandResult{
		CommandID: done.ID,
		Command:   done.Command,
		Kind:      done.Kind,
		Status:    status,
		Result:    done.Result,
		Error:     done.Error,
		ElapsedMS: done.Elapsed.Milliseconds(),
	})
}

func (r *EventReporter) loop() {
	defer r.wg.Done()
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.flush()
		}
	}
}

func (r *EventReporter) flush() {
	r.mu.Lock()
	s := r.latest
	r.latest = nil
	r.mu.Unlock()
	if s == nil {
		return
	}
	r.enqueue(protocol.TypeDroneState, &protocol.DroneState{Fields: s})
}

func (r *EventReporter) enqueue(msgType string, payload any) {
	env, err := protocol.NewEnvelope(
		msgType,
		protocol.Address{Role: protocol.RoleLink, Node: r.nodeID},
		protocol.Address{Role: protocol.RoleController},
		payload,
	)
	if err != nil {
		log.Printf("event_reporter: build %s: %v", msgType, err)
		return
	}
	data, err := env.Encode()
	if err != nil {
		log.Printf("event_reporter: encode %s: %v", msgType, err)
		return
	}
	if _, err := r.db.EnqueueOutbox(r.topic, data, msgType); err != nil {
		log.Printf("event_reporter: enqueue %s: %v", msgType, err)
	}
}
