package engine

import (
	"context"
	"sync"
	"time"

	"tellolink/config"
	"tellolink/protocol"
	"tellolink/store"
)

// LogFunc is the logging callback signature.
type LogFunc func(format string, args ...interface{})

// StateCache mirrors telemetry and readiness somewhere other processes can read it.
type StateCache interface {
	SetState(ctx context.Context, nodeID string, s protocol.State) error
	SetReady(ctx context.Context, nodeID string, ready bool) error
}

// Engine owns the command pipeline for one drone and wires its events to
// the command log and state cache.
type Engine struct {
	cfg     *config.Config
	db      *store.DB
	cache   StateCache
	logFn   LogFunc
	debugFn LogFunc

	dispatcher *Dispatcher
	sequencer  *Sequencer
	classifier *Classifier

	Events *EventBus

	ctx       context.Context
	cancel    context.CancelFunc
	startTime time.Time

	initDone chan struct{}
	initErr  error

	stateMu     sync.RWMutex
	lastState   protocol.State
	lastStateAt time.Time
}

// Config holds the parameters needed to create an Engine.
type Config struct {
	AppConfig *config.Config
	Transport Transport
	DB        *store.DB  // optional
	Cache     StateCache // optional
	LogFunc   LogFunc
	Debug     bool
}

// New creates a new Engine. Call Start() to wire subsystems and put the drone
// into SDK mode.
func New(c Config) *Engine {
	logFn := orNop(c.LogFunc)
	debugFn := LogFunc(func(string, ...interface{}) {})
	if c.Debug {
		debugFn = logFn
	}

	bus := NewEventBus()
	d := NewDispatcher(c.Transport, bus, DispatcherOptions{
		AckTimeout: c.AppConfig.Drone.AckTimeout,
		LogFunc:    logFn,
		DebugFunc:  debugFn,
	})
	ctx, cancel := context.WithCancel(context.Background())

	return &Engine{
		cfg:        c.AppConfig,
		db:         c.DB,
		cache:      c.Cache,
		logFn:      logFn,
		debugFn:    debugFn,
		dispatcher: d,
		sequencer:  NewSequencer(d, debugFn),
		classifier: NewClassifier(bus, logFn, debugFn),
		Events:     bus,
		ctx:        ctx,
		cancel:     cancel,
		initDone:   make(chan struct{}),
	}
}

// Start wires event handlers and issues the init command. The init command
// holds the pipeline, so no caller command is transmitted before it resolves.
func (e *Engine) Start() error {
	e.startTime = time.Now()
	e.wireEventHandlers()

	initCmd := e.cfg.Drone.InitCommand
	if initCmd == "" {
		initCmd = protocol.InitCommand
	}
	e.debugFn("engine: init SDK mode (%s)", initCmd)
	done, err := e.sequencer.Go(e.ctx, []string{initCmd})
	if err != nil {
		return err
	}
	go func() {
		e.initErr = <-done
		if e.initErr != nil {
			e.logFn("engine: init command failed: %v", e.initErr)
		}
		close(e.initDone)
	}()

	e.logFn("Engine started: node=%s drone=%s", e.cfg.NodeID, e.cfg.CommandAddr())
	return nil
}

// Stop fails pending commands and cancels running sequences.
func (e *Engine) Stop() {
	e.cancel()
	e.dispatcher.Close()
	e.logFn("Engine stopped")
}

// HandleMessage is the command-port inbound handler.
func (e *Engine) HandleMessage(msg string) {
	e.classifier.HandleMessage(msg)
}

// HandleState is the state-port inbound handler.
func (e *Engine) HandleState(raw string) {
	s, err := protocol.ParseState(raw)
	if err != nil {
		e.debugFn("engine: drop state record: %v", err)
		return
	}
	e.stateMu.Lock()
	e.lastState = s
	e.lastStateAt = time.Now()
	e.stateMu.Unlock()
	e.Events.Emit(Event{Type: EventStateUpdated, Payload: StateUpdatedEvent{State: s}})
}

// Dispatch sends one command immediately, bypassing the pipeline. Callers
// that dispatch concurrently share acknowledgments in submission order.
func (e *Engine) Dispatch(cmd string) *Future {
	return e.dispatcher.Send(cmd)
}

// Exec sends one command through the pipeline and waits for it.
func (e *Engine) Exec(ctx context.Context, cmd string) (string, error) {
	return e.sequencer.Exec(ctx, cmd)
}

// RunSequence sends commands through the pipeline one at a time.
func (e *Engine) RunSequence(ctx context.Context, cmds []string) error {
	return e.sequencer.Run(ctx, cmds)
}

// RunSequenceJSON validates and runs a JSON array of commands.
func (e *Engine) RunSequenceJSON(ctx context.Context, raw []byte) error {
	return e.sequencer.RunJSON(ctx, raw)
}

// Ready reports whether the drone has acknowledged anything yet.
func (e *Engine) Ready() bool {
	return e.classifier.Ready()
}

// WaitReady blocks until the first acknowledgment or ctx ends.
func (e *Engine) WaitReady(ctx context.Context) error {
	if e.Ready() {
		return nil
	}
	ch := make(chan struct{})
	id, err := e.Events.SubscribeOnce(EventConnected, func(Event) { close(ch) })
	if err != nil {
		return err
	}
	if e.Ready() {
		e.Events.Unsubscribe(id)
		return nil
	}
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		e.Events.Unsubscribe(id)
		return ctx.Err()
	}
}

// InitDone is closed once the init command resolved; InitErr is valid after that.
func (e *Engine) InitDone() <-chan struct{} { return e.initDone }

// InitErr returns the init command's outcome. Only valid after InitDone closes.
func (e *Engine) InitErr() error { return e.initErr }

// Pending returns the number of unacknowledged action commands.
func (e *Engine) Pending() int { return e.dispatcher.Pending() }

// Busy reports whether a sequence holds the pipeline.
func (e *Engine) Busy() bool { return e.sequencer.Busy() }

// LastState returns the latest telemetry record and when it arrived.
func (e *Engine) LastState() (protocol.State, time.Time) {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	return e.lastState, e.lastStateAt
}

// Uptime returns the time since Start.
func (e *Engine) Uptime() time.Duration {
	if e.startTime.IsZero() {
		return 0
	}
	return time.Since(e.startTime)
}

// Context is cancelled when the engine stops.
func (e *Engine) Context() context.Context { return e.ctx }

// DB returns the database handle.
func (e *Engine) DB() *store.DB { return e.db }

// AppConfig returns the app config.
func (e *Engine) AppConfig() *config.Config { return e.cfg }
