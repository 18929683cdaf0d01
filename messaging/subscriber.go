package messaging

import "tellolink/protocol"

// Subscriber listens on the command topic and routes requests addressed to
// this node into a handler.
type Subscriber struct {
	client   *Client
	topic    string
	ingestor *protocol.Ingestor
}

// NewSubscriber creates a new inbound message subscriber.
func NewSubscriber(client *Client, topic, nodeID string, handler protocol.MessageHandler) *Subscriber {
	return &Subscriber{
		client:   client,
		topic:    topic,
		ingestor: protocol.NewIngestor(handler, LinkFilter(nodeID)),
	}
}

// Start subscribes to the command topic.
func (s *Subscriber) Start() error {
	return s.client.Subscribe(s.topic, s.ingestor.HandleRaw)
}

// LinkFilter accepts messages addressed to the link role, either broadcast
// (no node) or to nodeID.
func LinkFilter(nodeID string) protocol.FilterFunc {
	return func(hdr *protocol.RawHeader) bool {
		if hdr.Dst.Role != protocol.RoleLink {
			return false
		}
		return hdr.Dst.Node == "" || hdr.Dst.Node == nodeID
	}
}
