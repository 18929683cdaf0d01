package protocol

// NoOpHandler implements MessageHandler with no-op methods.
// Embed this and override only the methods you need.
type NoOpHandler struct{}

func (NoOpHandler) HandleCommandRequest(*Envelope, *CommandRequest)   {}
func (NoOpHandler) HandleSequenceRequest(*Envelope, *SequenceRequest) {}

// Compile-time check that NoOpHandler implements MessageHandler.
var _ MessageHandler = NoOpHandler{}
