package engine

import (
	"context"
	"fmt"

	"tellolink/protocol"
)

// Sequencer runs command lists through a Dispatcher strictly one at a time:
// each command is sent only after the previous one resolved. Only one list
// runs at a time; later callers wait their turn.
type Sequencer struct {
	d     *Dispatcher
	slot  chan struct{}
	logFn LogFunc
}

// NewSequencer creates a sequencer over d.
func NewSequencer(d *Dispatcher, logFn LogFunc) *Sequencer {
	return &Sequencer{d: d, slot: make(chan struct{}, 1), logFn: orNop(logFn)}
}

// Run sends commands in order. The first failure aborts the rest.
func (s *Sequencer) Run(ctx context.Context, commands []string) error {
	if err := s.acquire(ctx); err != nil {
		return err
	}
	f, err := s.run(ctx, commands)
	s.releaseAfter(f)
	return err
}

// Exec sends a single command once the pipeline is free and waits for it.
func (s *Sequencer) Exec(ctx context.Context, cmd string) (string, error) {
	if err := s.acquire(ctx); err != nil {
		return "", err
	}
	f := s.d.Send(cmd)
	res, err := f.Wait(ctx)
	s.releaseAfter(f)
	return res, err
}

// RunJSON decodes a JSON array of commands and runs it. Input that is not an
// array of strings fails with *protocol.InvalidInputError and sends nothing.
func (s *Sequencer) RunJSON(ctx context.Context, raw []byte) error {
	cmds, err := protocol.DecodeSequence(raw)
	if err != nil {
		return err
	}
	return s.Run(ctx, cmds)
}

// Go claims the pipeline before returning, then runs commands in the
// background. The returned channel receives the outcome.
func (s *Sequencer) Go(ctx context.Context, commands []string) (<-chan error, error) {
	if err := s.acquire(ctx); err != nil {
		return nil, err
	}
	done := make(chan error, 1)
	go func() {
		f, err := s.run(ctx, commands)
		s.releaseAfter(f)
		done <- err
	}()
	return done, nil
}

// Busy reports whether a sequence currently holds the pipeline.
func (s *Sequencer) Busy() bool {
	return len(s.slot) > 0
}

func (s *Sequencer) acquire(ctx context.Context) error {
	select {
	case s.slot <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Sequencer) release() {
	<-s.slot
}

// releaseAfter frees the pipeline once f has resolved. A caller that gave up
// waiting leaves f in the acknowledgment queue, and the next command must not
// go out until that acknowledgment is consumed.
func (s *Sequencer) releaseAfter(f *Future) {
	if f == nil {
		s.release()
		return
	}
	select {
	case <-f.Done():
		s.release()
	default:
		s.logFn("engine: holding pipeline until %q resolves", f.Command)
		go func() {
			<-f.Done()
			s.release()
		}()
	}
}

// run returns the last future it sent, which may still be unresolved when
// ctx ended first.
func (s *Sequencer) run(ctx context.Context, commands []string) (*Future, error) {
	var last *Future
	for i, cmd := range commands {
		if err := ctx.Err(); err != nil {
			return last, fmt.Errorf("sequence step %d (%q): %w", i+1, cmd, err)
		}
		last = s.d.Send(cmd)
		res, err := last.Wait(ctx)
		if err != nil {
			return last, fmt.Errorf("sequence step %d (%q): %w", i+1, cmd, err)
		}
		s.logFn("engine: %s", res)
	}
	return last, nil
}
