package engine

import (
	"context"
	"time"

	"tellolink/store"
)

// wireEventHandlers sets up the event chain:
// CommandSent → command log insert
// CommandDone → command log completion
// StateUpdated / Connected → state cache
func (e *Engine) wireEventHandlers() {
	if e.db != nil {
		e.Events.SubscribeTypes(func(evt Event) {
			e.handleCommandSent(evt.Payload.(CommandSentEvent))
		}, EventCommandSent)

		e.Events.SubscribeTypes(func(evt Event) {
			e.handleCommandDone(evt.Payload.(CommandDoneEvent))
		}, EventCommandDone)
	}

	if e.cache != nil {
		e.Events.SubscribeTypes(func(evt Event) {
			e.handleStateUpdated(evt.Payload.(StateUpdatedEvent))
		}, EventStateUpdated)

		e.Events.SubscribeTypes(func(Event) {
			e.handleConnected()
		}, EventConnected)
	}
}

func (e *Engine) handleCommandSent(sent CommandSentEvent) {
	if _, err := e.db.InsertCommand(sent.ID, sent.Command, sent.Kind); err != nil {
		e.logFn("engine: log command %q: %v", sent.Command, err)
	}
}

func (e *Engine) handleCommandDone(done CommandDoneEvent) {
	status := store.StatusDone
	if done.Failed() {
		status = store.StatusFailed
	}
	if err := e.db.CompleteCommand(done.ID, status, done.Result, done.Error, done.Elapsed); err != nil {
		e.logFn("engine: complete command %s: %v", done.ID, err)
	}
}

func (e *Engine) handleStateUpdated(s StateUpdatedEvent) {
	ctx, cancel := context.WithTimeout(e.ctx, 2*time.Second)
	defer cancel()
	if err := e.cache.SetState(ctx, e.cfg.NodeID, s.State); err != nil {
		e.debugFn("engine: cache state: %v", err)
	}
}

func (e *Engine) handleConnected() {
	ctx, cancel := context.WithTimeout(e.ctx, 2*time.Second)
	defer cancel()
	if err := e.cache.SetReady(ctx, e.cfg.NodeID, true); err != nil {
		e.logFn("engine: cache ready flag: %v", err)
	}
}
