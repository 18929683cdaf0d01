package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
)

// Reasons Ingest drops a message.
var (
	ErrExpired     = errors.New("message expired")
	ErrFiltered    = errors.New("message not for this link")
	ErrUnknownType = errors.New("unknown message type")
)

// FilterFunc returns true if the message should be processed.
type FilterFunc func(hdr *RawHeader) bool

// MessageHandler receives the requests a controller can send a link.
// Embed NoOpHandler and override only the methods you need.
type MessageHandler interface {
	HandleCommandRequest(env *Envelope, p *CommandRequest)
	HandleSequenceRequest(env *Envelope, p *SequenceRequest)
}

// route decodes one payload type and passes it to its handler method.
type route func(h MessageHandler, env *Envelope) error

// inbound lists every type a link accepts on its command topic.
var inbound = map[string]route{
	TypeCommandRequest:  bind(MessageHandler.HandleCommandRequest),
	TypeSequenceRequest: bind(MessageHandler.HandleSequenceRequest),
}

func bind[T any](method func(MessageHandler, *Envelope, *T)) route {
	return func(h MessageHandler, env *Envelope) error {
		var p T
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return fmt.Errorf("%s payload: %w", env.Type, err)
		}
		method(h, env, &p)
		return nil
	}
}

// Ingestor checks the routing header of each inbound message before paying
// for the full decode, then hands the payload to a MessageHandler.
type Ingestor struct {
	handler MessageHandler
	filter  FilterFunc
}

// NewIngestor creates an ingestor with the given handler and filter.
func NewIngestor(handler MessageHandler, filter FilterFunc) *Ingestor {
	return &Ingestor{handler: handler, filter: filter}
}

// Ingest decodes data and dispatches it, or reports why it was dropped.
func (ing *Ingestor) Ingest(data []byte) error {
	var hdr RawHeader
	if err := json.Unmarshal(data, &hdr); err != nil {
		return fmt.Errorf("header: %w", err)
	}
	if IsExpiredHeader(&hdr) {
		return fmt.Errorf("%w: %s (type=%s)", ErrExpired, hdr.ID, hdr.Type)
	}
	if ing.filter != nil && !ing.filter(&hdr) {
		return ErrFiltered
	}
	rt, ok := inbound[hdr.Type]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownType, hdr.Type)
	}

	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("envelope: %w", err)
	}
	return rt(ing.handler, &env)
}

// HandleRaw is the subscription callback. Messages addressed elsewhere are
// dropped silently; other drops are logged.
func (ing *Ingestor) HandleRaw(data []byte) {
	if err := ing.Ingest(data); err != nil && !errors.Is(err, ErrFiltered) {
		log.Printf("protocol: drop inbound message: %v", err)
	}
}
