package engine

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"tellolink/protocol"
)

// Future is the pending completion of one command.
type Future struct {
	ID      string
	Command string
	Kind    protocol.Kind
	SentAt  time.Time

	once   sync.Once
	done   chan struct{}
	result string
	err    error
	timer  *time.Timer
}

func newFuture(cmd string) *Future {
	return &Future{
		ID:      uuid.New().String(),
		Command: cmd,
		Kind:    protocol.Classify(cmd),
		SentAt:  time.Now(),
		done:    make(chan struct{}),
	}
}

// Done is closed once the command has resolved or failed.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Resolved reports whether the future has completed.
func (f *Future) Resolved() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Result returns the outcome. It is only meaningful after Done is closed.
func (f *Future) Result() (string, error) {
	return f.result, f.err
}

// Wait blocks until the command resolves or ctx ends. Abandoning a wait does
// not withdraw the command; a later acknowledgment still resolves it.
func (f *Future) Wait(ctx context.Context) (string, error) {
	select {
	case <-f.done:
		return f.result, f.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// resolve completes the future; later calls are ignored. It reports whether
// this call was the one that completed it.
func (f *Future) resolve(result string, err error) bool {
	resolved := false
	f.once.Do(func() {
		if f.timer != nil {
			f.timer.Stop()
		}
		f.result, f.err = result, err
		close(f.done)
		resolved = true
	})
	return resolved
}
