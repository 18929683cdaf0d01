package engine

import (
	"errors"
	"sync"
	"testing"
	"time"
)

// --- Fake transport ---

type fakeTransport struct {
	mu   sync.Mutex
	sent []string
	err  error
	ch   chan string
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{ch: make(chan string, 1024)}
}

func (f *fakeTransport) Send(payload string) error {
	f.mu.Lock()
	err := f.err
	if err == nil {
		f.sent = append(f.sent, payload)
	}
	f.mu.Unlock()
	if err != nil {
		return err
	}
	f.ch <- payload
	return nil
}

func (f *fakeTransport) failWith(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

// next returns the next transmitted payload.
func (f *fakeTransport) next(t *testing.T) string {
	t.Helper()
	select {
	case p := <-f.ch:
		return p
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a transmission")
		return ""
	}
}

// quiet asserts nothing is transmitted for d.
func (f *fakeTransport) quiet(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case p := <-f.ch:
		t.Fatalf("unexpected transmission %q", p)
	case <-time.After(d):
	}
}

var errLinkDown = errors.New("link down")

// eventually polls cond until it holds or the deadline passes.
func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// recorder collects emitted events.
type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) record(evt Event) {
	r.mu.Lock()
	r.events = append(r.events, evt)
	r.mu.Unlock()
}

func (r *recorder) types() []EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventType, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

func (r *recorder) count(t EventType) int {
	n := 0
	for _, et := range r.types() {
		if et == t {
			n++
		}
	}
	return n
}
