package protocol

// Message type constants for the bridge protocol.
const (
	// Controller -> Drone link (published on the command topic)
	TypeCommandRequest  = "command.request"
	TypeSequenceRequest = "sequence.request"

	// Drone link -> Controller (published on the event topic)
	TypeCommandResult = "command.result"
	TypeDroneState    = "drone.state"
	TypeDroneStatus   = "drone.status"
)

// Roles for Address.Role.
const (
	RoleLink       = "link"
	RoleController = "controller"
)

// Protocol version.
const Version = 1
