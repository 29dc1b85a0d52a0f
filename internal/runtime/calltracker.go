package runtime

import (
	"context"
	"sync"
)

// CallState is the progress of the latest call made through a CallTracker.
type CallState struct {
	Pending bool
	Data    any
	Err     error
}

// CallTracker calls the service bound to one widget attribute and keeps the
// pending, data and error state a widget renders.
type CallTracker struct {
	rt         *Runtime
	instanceID string
	attrName   string
	onChange   func(CallState)

	mu    sync.Mutex
	state CallState
	gen   uint64
}

// NewCallTracker returns a tracker for the service slot. onChange, if set,
// receives every state transition.
func (rt *Runtime) NewCallTracker(instanceID, attrName string, onChange func(CallState)) *CallTracker {
	return &CallTracker{rt: rt, instanceID: instanceID, attrName: attrName, onChange: onChange}
}

// Call issues the request. Data from the previous call is kept while the new
// one is pending. When calls overlap only the latest one updates the state.
func (t *CallTracker) Call(ctx context.Context, req any, opts CallOptions) (any, error) {
	t.mu.Lock()
	t.gen++
	gen := t.gen
	t.state.Pending = true
	t.state.Err = nil
	pending := t.state
	t.mu.Unlock()
	t.notify(pending)

	resp, err := t.rt.InvokeService(ctx, t.instanceID, t.attrName, req, opts)

	t.mu.Lock()
	if gen != t.gen {
		t.mu.Unlock()
		return resp, err
	}
	t.state.Pending = false
	if err != nil {
		t.state.Err = err
	} else {
		t.state.Data = resp
	}
	done := t.state
	t.mu.Unlock()
	t.notify(done)

	return resp, err
}

// State returns the current state.
func (t *CallTracker) State() CallState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *CallTracker) notify(s CallState) {
	if t.onChange != nil {
		t.onChange(s)
	}
}
