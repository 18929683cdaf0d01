package engine

import (
	"fmt"
	"time"

	"tellolink/protocol"
)

// EventType identifies the kind of event emitted on the EventBus.
// The set is closed: anything outside it is rejected with UnknownEventError.
type EventType int

const (
	// EventAck fires once per "ok" received from the drone.
	EventAck EventType = iota + 1
	// EventConnected fires once, on the first acknowledgment.
	EventConnected
	// EventUnclassified fires for every inbound payload that is not an ack.
	EventUnclassified

	// Command lifecycle
	EventCommandSent
	EventCommandDone

	// Telemetry
	EventStateUpdated

	eventTypeEnd
)

var eventNames = map[EventType]string{
	EventAck:          "ack",
	EventConnected:    "connected",
	EventUnclassified: "unclassified",
	EventCommandSent:  "command-sent",
	EventCommandDone:  "command-done",
	EventStateUpdated: "state-updated",
}

// Valid reports whether t belongs to the declared set.
func (t EventType) Valid() bool {
	return t >= EventAck && t < eventTypeEnd
}

func (t EventType) String() string {
	if name, ok := eventNames[t]; ok {
		return name
	}
	return fmt.Sprintf("EventType(%d)", int(t))
}

// Event is the envelope emitted by the EventBus.
type Event struct {
	Type      EventType
	Timestamp time.Time
	Payload   interface{}
}

// CommandSentEvent is emitted just before a command is handed to the transport.
type CommandSentEvent struct {
	ID      string `json:"id"`
	Command string `json:"command"`
	Kind    string `json:"kind"`
}

// CommandDoneEvent is emitted when a command's future resolves.
type CommandDoneEvent struct {
	ID      string        `json:"id"`
	Command string        `json:"command"`
	Kind    string        `json:"kind"`
	Result  string        `json:"result,omitempty"`
	Error   string        `json:"error,omitempty"`
	Elapsed time.Duration `json:"elapsed"`
}

// Failed reports whether the command resolved with an error.
func (e CommandDoneEvent) Failed() bool { return e.Error != "" }

// UnclassifiedEvent carries an inbound payload that was not an acknowledgment.
type UnclassifiedEvent struct {
	Message string `json:"message"`
}

// StateUpdatedEvent carries a parsed telemetry record.
type StateUpdatedEvent struct {
	State protocol.State `json:"state"`
}
