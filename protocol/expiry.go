package protocol

import "time"

// Default TTLs by message type.
var defaultTTLs = map[string]time.Duration{
	// A stale flight command is dangerous; drop it quickly.
	TypeCommandRequest:  10 * time.Second,
	TypeSequenceRequest: 10 * time.Second,

	TypeDroneState:  5 * time.Second,
	TypeDroneStatus: 90 * time.Second,

	TypeCommandResult: 10 * time.Minute,
}

// FallbackTTL is used when no specific TTL is configured.
const FallbackTTL = 10 * time.Minute

// DefaultTTLFor returns the default TTL for a message type.
func DefaultTTLFor(msgType string) time.Duration {
	if ttl, ok := defaultTTLs[msgType]; ok {
		return ttl
	}
	return FallbackTTL
}

// IsExpired returns true if the envelope has passed its expiry time.
func IsExpired(env *Envelope) bool {
	if env.ExpiresAt.IsZero() {
		return false
	}
	return time.Now().UTC().After(env.ExpiresAt)
}

// IsExpiredHeader checks expiry using only the raw header.
func IsExpiredHeader(hdr *RawHeader) bool {
	if hdr.ExpiresAt.IsZero() {
		return false
	}
	return time.Now().UTC().After(hdr.ExpiresAt)
}
