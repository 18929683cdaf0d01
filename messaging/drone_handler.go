package messaging

import (
	"context"
	"errors"
	"log"
	"sync"

	"tellolink/protocol"
)

// Controller is the part of the engine remote requests drive.
type Controller interface {
	Context() context.Context
	Exec(ctx context.Context, cmd string) (string, error)
	RunSequenceJSON(ctx context.Context, raw []byte) error
}

// DroneHandler handles inbound requests on the command topic. Requests are
// queued and run in arrival order on a single worker so that a slow sequence
// never blocks the messaging callback.
type DroneHandler struct {
	protocol.NoOpHandler

	ctrl   Controller
	queue  chan func()
	ctx    context.Context
	cancel context.CancelFunc

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

const requestQueueSize = 64

// NewDroneHandler creates a handler for remote drone requests.
func NewDroneHandler(ctrl Controller) *DroneHandler {
	ctx, cancel := context.WithCancel(ctrl.Context())
	return &DroneHandler{
		ctrl:   ctrl,
		ctx:    ctx,
		cancel: cancel,
		queue:  make(chan func(), requestQueueSize),
		stopCh: make(chan struct{}),
	}
}

// Start launches the request worker.
func (h *DroneHandler) Start() {
	h.wg.Add(1)
	go h.worker()
}

// Stop halts the worker. The running request is cancelled and queued ones
// are discarded.
func (h *DroneHandler) Stop() {
	h.stopOnce.Do(func() {
		h.cancel()
		close(h.stopCh)
	})
	h.wg.Wait()
}

func (h *DroneHandler) HandleCommandRequest(env *protocol.Envelope, p *protocol.CommandRequest) {
	if p.Command == "" {
		log.Printf("drone_handler: empty command in %s", env.ID)
		return
	}
	log.Printf("drone_handler: command request %s: %s", env.ID, p.Command)
	h.enqueue(env.ID, func() {
		if _, err := h.ctrl.Exec(h.ctx, p.Command); err != nil {
			log.Printf("drone_handler: command %s (%s): %v", env.ID, p.Command, err)
		}
	})
}

func (h *DroneHandler) HandleSequenceRequest(env *protocol.Envelope, p *protocol.SequenceRequest) {
	// Reject malformed input up front so nothing is queued for it.
	if _, err := protocol.DecodeSequence(p.Commands); err != nil {
		log.Printf("drone_handler: sequence request %s rejected: %v", env.ID, err)
		return
	}
	log.Printf("drone_handler: sequence request %s", env.ID)
	raw := p.Commands
	h.enqueue(env.ID, func() {
		err := h.ctrl.RunSequenceJSON(h.ctx, raw)
		var invalid *protocol.InvalidInputError
		switch {
		case err == nil:
			log.Printf("drone_handler: sequence %s complete", env.ID)
		case errors.As(err, &invalid):
			log.Printf("drone_handler: sequence %s rejected: %v", env.ID, err)
		default:
			log.Printf("drone_handler: sequence %s: %v", env.ID, err)
		}
	})
}

func (h *DroneHandler) enqueue(id string, job func()) {
	select {
	case h.queue <- job:
	default:
		log.Printf("drone_handler: queue full, dropping request %s", id)
	}
}

func (h *DroneHandler) worker() {
	defer h.wg.Done()
	for {
		select {
		case <-h.stopCh:
			return
		case job := <-h.queue:
			job()
		}
	}
}
