// Package protocol holds the drone's text wire rules and the envelope format
// used to bridge commands and events over MQTT or Kafka.
package protocol

import "strings"

// Drone SDK constants.
const (
	DefaultHost = "192.168.10.1"
	CommandPort = 8889
	StatePort   = 8890

	// AckToken is the only inbound payload that acknowledges an action command.
	AckToken = "ok"

	// InitCommand puts the drone into SDK mode. It must be the first command sent.
	InitCommand = "command"
)

// Kind distinguishes commands that wait for an acknowledgment from those that don't.
type Kind int

const (
	// KindAction commands complete when the drone replies "ok".
	KindAction Kind = iota
	// KindQuery commands complete as soon as they are transmitted.
	KindQuery
)

func (k Kind) String() string {
	switch k {
	case KindAction:
		return "action"
	case KindQuery:
		return "query"
	default:
		return "unknown"
	}
}

// Classify returns KindQuery when the first '?' in cmd sits after position 0.
// A leading '?' does not make a query, even if another '?' follows.
func Classify(cmd string) Kind {
	if strings.IndexByte(cmd, '?') > 0 {
		return KindQuery
	}
	return KindAction
}

// IsAck reports whether an inbound payload is exactly the acknowledgment token.
func IsAck(payload string) bool {
	return payload == AckToken
}
