// Package sequencer serializes every engine request through one goroutine.
//
// The matching core is a pure state-transition function with no internal
// locking: it assumes requests arrive one at a time in a total order, each
// applied fully before the next begins. Outside a host that provides that
// guarantee natively, this package reintroduces it: a single global writer
// consuming a request queue, so that even a routed swap touching two pools
// is observed all-or-nothing.
package sequencer

import (
	"context"
	"errors"
	"sync/atomic"

	"go.uber.org/zap"
)

// ErrStopped is returned for requests submitted after the sequencer shut
// down.
var ErrStopped = errors.New("sequencer stopped")

type task struct {
	fn    func() error
	reply chan error
}

// Sequencer owns the engine's single-writer loop.
type Sequencer struct {
	inbox   chan task
	done    chan struct{}
	applied atomic.Uint64
	log     *zap.Logger
}

// New creates a sequencer with the given inbox depth.
func New(inboxSize int, log *zap.Logger) *Sequencer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Sequencer{
		inbox: make(chan task, inboxSize),
		done:  make(chan struct{}),
		log:   log,
	}
}

// Run consumes the inbox until ctx is cancelled. It must be the only
// goroutine ever touching the engine state.
func (s *Sequencer) Run(ctx context.Context) {
	defer close(s.done)
	s.log.Info("sequencer started")
	for {
		select {
		case <-ctx.Done():
			s.drain()
			s.log.Info("sequencer stopped", zap.Uint64("applied", s.applied.Load()))
			return
		case t := <-s.inbox:
			t.reply <- t.fn()
			s.applied.Add(1)
		}
	}
}

// drain fails any requests still queued at shutdown.
func (s *Sequencer) drain() {
	for {
		select {
		case t := <-s.inbox:
			t.reply <- ErrStopped
		default:
			return
		}
	}
}

// Do submits a request and waits for it to be applied. The closure runs on
// the sequencer goroutine; both mutations and consistent reads go through
// here.
func (s *Sequencer) Do(ctx context.Context, fn func() error) error {
	t := task{fn: fn, reply: make(chan error, 1)}
	select {
	case s.inbox <- t:
	case <-s.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-t.reply:
		return err
	case <-s.done:
		return ErrStopped
	}
}

// Applied returns the number of requests processed. Test and metrics hook.
func (s *Sequencer) Applied() uint64 { return s.applied.Load() }
