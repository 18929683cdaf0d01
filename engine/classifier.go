package engine

import (
	"sync/atomic"

	"tellolink/protocol"
)

// Classifier sorts inbound command-port payloads into acknowledgments and
// everything else. It also latches readiness on the first acknowledgment.
type Classifier struct {
	bus     *EventBus
	ready   atomic.Bool
	logFn   LogFunc
	debugFn LogFunc
}

// NewClassifier creates a classifier that emits on bus.
func NewClassifier(bus *EventBus, logFn, debugFn LogFunc) *Classifier {
	return &Classifier{bus: bus, logFn: orNop(logFn), debugFn: orNop(debugFn)}
}

// HandleMessage classifies one inbound payload. Only an exact "ok" counts as
// an acknowledgment; garbled or partial replies are informational.
func (c *Classifier) HandleMessage(msg string) {
	if !protocol.IsAck(msg) {
		c.logFn(">> from drone: %s", msg)
		c.bus.Emit(Event{Type: EventUnclassified, Payload: UnclassifiedEvent{Message: msg}})
		return
	}

	c.debugFn(">> from drone: %s", msg)
	c.bus.Emit(Event{Type: EventAck})
	if c.ready.CompareAndSwap(false, true) {
		c.logFn("engine: drone connected and ready")
		c.bus.Emit(Event{Type: EventConnected})
	}
}

// Ready reports whether any acknowledgment has been seen.
func (c *Classifier) Ready() bool {
	return c.ready.Load()
}
