package engine

import (
	"fmt"
	"sync"
	"time"

	"tellolink/protocol"
)

// Transport is the outbound half of the drone link.
type Transport interface {
	Send(payload string) error
}

// DispatcherOptions tunes a Dispatcher.
type DispatcherOptions struct {
	// AckTimeout fails action commands not acknowledged in time. Zero waits forever.
	AckTimeout time.Duration
	LogFunc    LogFunc
	DebugFunc  LogFunc
}

// Dispatcher sends single commands and resolves them. Queries resolve on
// transmission; actions resolve on the next acknowledgment. Acknowledgments
// carry no identifier, so pending actions are matched in submission order.
type Dispatcher struct {
	tx         Transport
	bus        *EventBus
	ackTimeout time.Duration
	logFn      LogFunc
	debugFn    LogFunc

	mu      sync.Mutex
	waiters []*Future
	closed  bool
	ackSub  SubscriberID
}

// NewDispatcher creates a dispatcher that listens for EventAck on bus.
func NewDispatcher(tx Transport, bus *EventBus, opts DispatcherOptions) *Dispatcher {
	d := &Dispatcher{
		tx:         tx,
		bus:        bus,
		ackTimeout: opts.AckTimeout,
		logFn:      orNop(opts.LogFunc),
		debugFn:    orNop(opts.DebugFunc),
	}
	d.ackSub, _ = bus.Subscribe(EventAck, func(Event) { d.handleAck() })
	return d
}

// Send transmits cmd and returns its future.
func (d *Dispatcher) Send(cmd string) *Future {
	f := newFuture(cmd)

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		// Never announced as sent, so no CommandDone either.
		f.resolve("", ErrDispatcherClosed)
		return f
	}
	// Register before transmitting so an immediate reply cannot be missed.
	if f.Kind == protocol.KindAction {
		if d.ackTimeout > 0 {
			f.timer = time.AfterFunc(d.ackTimeout, func() { d.expire(f) })
		}
		d.waiters = append(d.waiters, f)
	}
	d.mu.Unlock()

	// Emitted ahead of the write so listeners always see Sent before Done.
	d.bus.Emit(Event{Type: EventCommandSent, Payload: CommandSentEvent{
		ID: f.ID, Command: cmd, Kind: f.Kind.String(),
	}})
	d.debugFn("engine: sending command -> %s", cmd)
	if err := d.tx.Send(cmd); err != nil {
		d.remove(f)
		d.finish(f, "", fmt.Errorf("send %q: %w", cmd, err))
		return f
	}

	if f.Kind == protocol.KindQuery {
		d.finish(f, fmt.Sprintf("command %q resolved instantly", cmd), nil)
	}
	return f
}

// Pending returns the number of action commands awaiting acknowledgment.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.waiters)
}

// Close fails every pending command and stops listening for acknowledgments.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	pending := d.waiters
	d.waiters = nil
	d.mu.Unlock()

	d.bus.Unsubscribe(d.ackSub)
	for _, f := range pending {
		d.finish(f, "", ErrDispatcherClosed)
	}
}

func (d *Dispatcher) handleAck() {
	d.mu.Lock()
	if len(d.waiters) == 0 {
		d.mu.Unlock()
		d.debugFn("engine: acknowledgment with no pending command")
		return
	}
	f := d.waiters[0]
	d.waiters[0] = nil
	d.waiters = d.waiters[1:]
	d.mu.Unlock()

	d.finish(f, fmt.Sprintf("command %q done", f.Command), nil)
}

func (d *Dispatcher) expire(f *Future) {
	if !d.remove(f) {
		return
	}
	d.logFn("engine: no acknowledgment for %q after %v", f.Command, d.ackTimeout)
	d.finish(f, "", fmt.Errorf("command %q: %w", f.Command, ErrAckTimeout))
}

// remove drops f from the waiter queue and reports whether it was there.
func (d *Dispatcher) remove(f *Future) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, w := range d.waiters {
		if w == f {
			d.waiters = append(d.waiters[:i], d.waiters[i+1:]...)
			return true
		}
	}
	return false
}

func (d *Dispatcher) finish(f *Future, result string, err error) {
	if !f.resolve(result, err) {
		return
	}
	done := CommandDoneEvent{
		ID:      f.ID,
		Command: f.Command,
		Kind:    f.Kind.String(),
		Result:  result,
		Elapsed: time.Since(f.SentAt),
	}
	if err != nil {
		done.Error = err.Error()
		d.logFn("engine: command %q failed: %v", f.Command, err)
	} else {
		d.debugFn("engine: %s", result)
	}
	d.bus.Emit(Event{Type: EventCommandDone, Payload: done})
}

func orNop(fn LogFunc) LogFunc {
	if fn == nil {
		return func(string, ...interface{}) {}
	}
	return fn
}
