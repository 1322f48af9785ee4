// Package lifecycle provides an explicit initialization state machine for
// components that used to be lazily-initialized singletons.
package lifecycle

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"
)

// State of an Initializer.
type State int

const (
	Uninitialized State = iota
	Initializing
	Ready
	Failed
)

func (s State) String() string {
	switch s {
	case Initializing:
		return "initializing"
	case Ready:
		return "ready"
	case Failed:
		return "failed"
	default:
		return "uninitialized"
	}
}

// Initializer runs an init function at most once successfully. Concurrent
// Init calls share the same in-flight attempt. A failed attempt may be
// retried by a later Init call.
type Initializer struct {
	fn    func(ctx context.Context) error
	group singleflight.Group

	mu    sync.Mutex
	state State
	err   error
}

// New returns an Initializer wrapping fn.
func New(fn func(ctx context.Context) error) *Initializer {
	return &Initializer{fn: fn}
}

// Init runs the init function unless it already succeeded.
func (i *Initializer) Init(ctx context.Context) error {
	i.mu.Lock()
	if i.state == Ready {
		i.mu.Unlock()
		return nil
	}
	i.state = Initializing
	i.mu.Unlock()

	_, err, _ := i.group.Do("init", func() (any, error) {
		i.mu.Lock()
		ready := i.state == Ready
		i.mu.Unlock()
		if ready {
			return nil, nil
		}

		err := i.fn(ctx)
		i.mu.Lock()
		if err != nil {
			i.state, i.err = Failed, err
		} else {
			i.state, i.err = Ready, nil
		}
		i.mu.Unlock()
		return nil, err
	})
	return err
}

// State returns the current state.
func (i *Initializer) State() State {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.state
}

// Err returns the error of the last failed attempt.
func (i *Initializer) Err() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.err
}
