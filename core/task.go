package core

import (
	"context"
	"sync"
)

// startTask is a launch outcome shared by every observer. Callbacks
// registered before resolution run in registration order on the resolving
// goroutine; later callbacks run on their own goroutine.
type startTask struct {
	mu        sync.Mutex
	done      chan struct{}
	resolved  bool
	err       error
	callbacks []func(error)
	// exited is set, under the session lock, when the kernel went away
	// before the launch resolved.
	exited string
}

func newStartTask() *startTask {
	return &startTask{done: make(chan struct{})}
}

func (t *startTask) Then(fn func(error)) {
	t.mu.Lock()
	if t.resolved {
		err := t.err
		t.mu.Unlock()
		go fn(err)
		return
	}
	t.callbacks = append(t.callbacks, fn)
	t.mu.Unlock()
}

func (t *startTask) resolve(err error) {
	t.mu.Lock()
	if t.resolved {
		t.mu.Unlock()
		return
	}
	t.resolved = true
	t.err = err
	callbacks := t.callbacks
	t.callbacks = nil
	close(t.done)
	t.mu.Unlock()
	for _, fn := range callbacks {
		fn(err)
	}
}

// Wait blocks until the launch resolves and returns its error.
func (t *startTask) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		t.mu.Lock()
		defer t.mu.Unlock()
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}
