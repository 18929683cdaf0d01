package protocol

import "encoding/json"

// --- Controller -> Link payloads ---

// CommandRequest asks the link to send a single command.
type CommandRequest struct {
	Command string `json:"command"`
}

// SequenceRequest asks the link to run commands strictly one at a time.
// Commands is kept raw so that a non-array is rejected by DecodeSequence
// rather than silently coerced.
type SequenceRequest struct {
	Commands json.RawMessage `json:"commands"`
}

// --- Link -> Controller payloads ---

// CommandResult reports how a command resolved.
type CommandResult struct {
	CommandID string `json:"command_id"`
	Command   string `json:"command"`
	Kind      string `json:"kind"`
	Status    string `json:"status"` // done, failed
	Result    string `json:"result,omitempty"`
	Error     string `json:"error,omitempty"`
	ElapsedMS int64  `json:"elapsed_ms"`
}

// DroneState carries one telemetry record.
type DroneState struct {
	Fields State `json:"fields"`
}

// DroneStatus is the link's periodic heartbeat.
type DroneStatus struct {
	NodeID  string `json:"node_id"`
	Ready   bool   `json:"ready"`
	Pending int    `json:"pending"`
	Uptime  int64  `json:"uptime_s"`
}
