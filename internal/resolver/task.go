package resolver

import (
	"github.com/cenkalti/backoff/v4"

	"github.com/helixir/paper-harvester/internal/domain"
	"github.com/helixir/paper-harvester/internal/sources"
)

// state is the position of a task in the fallback chain.
type state int

const (
	statePending state = iota
	stateTryingSource
	stateSucceeded
	stateExhausted
)

// String returns the state name.
func (s state) String() string {
	switch s {
	case statePending:
		return "pending"
	case stateTryingSource:
		return "trying_source"
	case stateSucceeded:
		return "succeeded"
	case stateExhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

func (s state) terminal() bool {
	return s == stateSucceeded || s == stateExhausted
}

// task is the resolution state of one paper. It is owned by a single
// goroutine and never shared.
type task struct {
	paper      *domain.Paper
	candidates []sources.Adapter
	state      state

	// index is the current candidate; attempt counts fetches against it.
	index   int
	attempt int
	backoff *backoff.ExponentialBackOff

	// fetches counts every adapter call across candidates.
	fetches int

	text   string
	source domain.SourceID
}

func (r *Resolver) newTask(p *domain.Paper) *task {
	return &task{
		paper:      p,
		candidates: r.Candidates(p),
		state:      statePending,
	}
}

// advance moves to the next candidate, or to Exhausted after the last one.
func (t *task) advance() {
	t.index++
	t.attempt = 0
	if t.backoff != nil {
		t.backoff.Reset()
	}
	if t.index >= len(t.candidates) {
		t.state = stateExhausted
	}
}
