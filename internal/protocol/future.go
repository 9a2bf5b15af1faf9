package protocol

import (
	"context"
	"encoding/json"
	"sync"
)

// Future is the pending result of a request. It settles exactly once: with
// the response result, the response error, or ErrConnectionClosed on session
// teardown.
type Future struct {
	once   sync.Once
	done   chan struct{}
	result json.RawMessage
	err    error
}

// NewFuture returns an unsettled Future. The codec settles futures it issues;
// callers only construct one directly to queue a request for a later flush.
func NewFuture() *Future {
	return &Future{done: make(chan struct{})}
}

func (f *Future) settle(result json.RawMessage, err error) {
	f.once.Do(func() {
		f.result = result
		f.err = err
		close(f.done)
	})
}

// Reject settles the future with err if it has not settled yet. The
// transport uses this to cancel requests that were queued while disconnected
// and will never be sent.
func (f *Future) Reject(err error) {
	f.settle(nil, err)
}

// Done is closed once the future settles.
func (f *Future) Done() <-chan struct{} { return f.done }

// Await blocks until the future settles or ctx is done.
func (f *Future) Await(ctx context.Context) (json.RawMessage, error) {
	select {
	case <-f.done:
		return f.result, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
