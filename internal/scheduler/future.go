package scheduler

import (
	"context"
	"sync"

	"github.com/helixir/paper-harvester/internal/domain"
)

// Future is the pending result of a submitted task.
type Future struct {
	paper *domain.Paper
	done  chan struct{}
	once  sync.Once
	err   error
}

func newFuture(p *domain.Paper) *Future {
	return &Future{paper: p, done: make(chan struct{})}
}

// Paper returns the submitted paper. Read it only after Done is closed.
func (f *Future) Paper() *domain.Paper {
	return f.paper
}

// Done is closed when the task has finished or was cancelled.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the task finishes or ctx is done.
func (f *Future) Wait(ctx context.Context) error {
	select {
	case <-f.done:
		return f.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Err returns the task error. It is nil until Done is closed.
func (f *Future) Err() error {
	select {
	case <-f.done:
		return f.err
	default:
		return nil
	}
}

func (f *Future) complete(err error) {
	f.once.Do(func() {
		f.err = err
		close(f.done)
	})
}
