package protocol

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// captureWriter records every frame the codec writes.
type captureWriter struct {
	mu     sync.Mutex
	frames []Envelope
	err    error
}

func (w *captureWriter) write(data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	w.frames = append(w.frames, env)
	return nil
}

func (w *captureWriter) last(t *testing.T) Envelope {
	t.Helper()
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.frames) == 0 {
		t.Fatal("nothing written")
	}
	return w.frames[len(w.frames)-1]
}

func awaitNow(t *testing.T, f *Future) (json.RawMessage, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	return f.Await(ctx)
}

// TestRequest_ResolvesOnMatchingResponse covers the happy correlation path.
func TestRequest_ResolvesOnMatchingResponse(t *testing.T) {
	w := &captureWriter{}
	c := NewCodec()
	c.Bind(w.write)

	f, err := c.Request(MethodAgentMessage, AgentMessageParams{Content: "hi"})
	require.NoError(t, err)
	require.Equal(t, 1, c.PendingCount())

	sent := w.last(t)
	require.NotEmpty(t, sent.ID)
	require.Equal(t, Version, sent.Version)

	resp, _ := json.Marshal(Envelope{Version: Version, ID: sent.ID, Result: json.RawMessage(`{"content":"ok"}`)})
	c.HandleIncoming(resp)

	result, err := awaitNow(t, f)
	require.NoError(t, err)
	require.JSONEq(t, `{"content":"ok"}`, string(result))
	require.Zero(t, c.PendingCount())
}

// TestRequest_RejectsOnErrorResponse verifies error payloads reject the future.
func TestRequest_RejectsOnErrorResponse(t *testing.T) {
	w := &captureWriter{}
	c := NewCodec()
	c.Bind(w.write)

	f, err := c.Request(MethodAuth, AuthParams{Credential: "bad"})
	require.NoError(t, err)

	resp, _ := json.Marshal(Envelope{ID: w.last(t).ID, Error: &WireError{Code: 401, Message: "denied"}})
	c.HandleIncoming(resp)

	_, err = awaitNow(t, f)
	var wireErr *WireError
	require.ErrorAs(t, err, &wireErr)
	require.Equal(t, 401, wireErr.Code)
}

// TestResponse_UnknownIDDiscarded: an out-of-band response is dropped without
// touching other pending requests.
func TestResponse_UnknownIDDiscarded(t *testing.T) {
	w := &captureWriter{}
	c := NewCodec()
	c.Bind(w.write)

	f, err := c.Request(MethodAgentMessage, nil)
	require.NoError(t, err)

	stray, _ := json.Marshal(Envelope{ID: "never-sent", Result: json.RawMessage(`{}`)})
	c.HandleIncoming(stray)

	require.Equal(t, 1, c.PendingCount())
	select {
	case <-f.Done():
		t.Fatal("future settled by a stray response")
	default:
	}
}

// TestNotification_Dispatch routes by method name; unknown methods are
// ignored without error.
func TestNotification_Dispatch(t *testing.T) {
	c := NewCodec()
	var got json.RawMessage
	c.Handle(MethodSceneCommand, func(params json.RawMessage) { got = params })

	note, _ := json.Marshal(Envelope{Method: MethodSceneCommand, Params: json.RawMessage(`{"type":"pulse"}`)})
	c.HandleIncoming(note)
	require.JSONEq(t, `{"type":"pulse"}`, string(got))

	unknown, _ := json.Marshal(Envelope{Method: "agent/unknown", Params: json.RawMessage(`{}`)})
	require.NotPanics(t, func() { c.HandleIncoming(unknown) })
}

// TestPing_AnswersWithPongEchoingID covers the server heartbeat.
func TestPing_AnswersWithPongEchoingID(t *testing.T) {
	w := &captureWriter{}
	c := NewCodec()
	c.Bind(w.write)

	ping, _ := json.Marshal(Envelope{ID: "hb-7", Method: MethodPing})
	c.HandleIncoming(ping)

	pong := w.last(t)
	require.Equal(t, MethodPong, pong.Method)
	require.Equal(t, "hb-7", pong.ID)
}

// TestFailAll_RejectsEveryPending: teardown settles every in-flight request
// exactly once with ErrConnectionClosed.
func TestFailAll_RejectsEveryPending(t *testing.T) {
	w := &captureWriter{}
	c := NewCodec()
	c.Bind(w.write)

	var futures []*Future
	for i := 0; i < 5; i++ {
		f, err := c.Request(MethodAgentMessage, AgentMessageParams{Content: fmt.Sprintf("m%d", i)})
		require.NoError(t, err)
		futures = append(futures, f)
	}

	c.FailAll(nil)

	for _, f := range futures {
		_, err := awaitNow(t, f)
		require.ErrorIs(t, err, ErrConnectionClosed)
	}
	require.Zero(t, c.PendingCount())

	// A late response for a torn-down request is discarded quietly.
	late, _ := json.Marshal(Envelope{ID: "stale", Result: json.RawMessage(`{}`)})
	require.NotPanics(t, func() { c.HandleIncoming(late) })
}

// TestRequest_WriteFailureSettlesFuture: a failed transmit settles the future
// immediately rather than leaving it pending forever.
func TestRequest_WriteFailureSettlesFuture(t *testing.T) {
	w := &captureWriter{err: errors.New("broken pipe")}
	c := NewCodec()
	c.Bind(w.write)

	f := NewFuture()
	err := c.RequestInto(f, MethodAgentMessage, nil)
	require.Error(t, err)
	_, err = awaitNow(t, f)
	require.Error(t, err)
	require.Zero(t, c.PendingCount())
}

// TestRequest_NotConnected is the unbound-writer guard.
func TestRequest_NotConnected(t *testing.T) {
	c := NewCodec()
	_, err := c.Request(MethodAgentMessage, nil)
	require.ErrorIs(t, err, ErrNotConnected)
}

// TestRequestInto_NotConnectedSettlesFuture: when the writer is already
// unbound, the caller-supplied future settles with the error instead of
// staying pending forever — a caller that only holds the future (the offline
// flush, a send racing a connection loss) would otherwise hang.
func TestRequestInto_NotConnectedSettlesFuture(t *testing.T) {
	c := NewCodec()
	f := NewFuture()
	err := c.RequestInto(f, MethodAgentMessage, nil)
	require.ErrorIs(t, err, ErrNotConnected)

	_, err = awaitNow(t, f)
	require.ErrorIs(t, err, ErrNotConnected)
	require.Zero(t, c.PendingCount())
}

// TestResponse_MissingResultStillSettles: a malformed response carrying only
// the id (no result, no error) still settles its pending request.
func TestResponse_MissingResultStillSettles(t *testing.T) {
	w := &captureWriter{}
	c := NewCodec()
	c.Bind(w.write)

	f, err := c.Request(MethodAgentMessage, nil)
	require.NoError(t, err)

	resp, _ := json.Marshal(Envelope{ID: w.last(t).ID})
	c.HandleIncoming(resp)

	result, err := awaitNow(t, f)
	require.NoError(t, err)
	require.Nil(t, result)
	require.Zero(t, c.PendingCount())
}

// TestUnparseableFrameIgnored covers defensive decoding.
func TestUnparseableFrameIgnored(t *testing.T) {
	c := NewCodec()
	require.NotPanics(t, func() { c.HandleIncoming([]byte("{not json")) })
	require.NotPanics(t, func() { c.HandleIncoming([]byte(`{}`)) })
}

// TestNewID_Unique is a light sanity check on correlation id generation.
func TestNewID_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := NewID()
		if seen[id] {
			t.Fatalf("duplicate id %s", id)
		}
		seen[id] = true
	}
}
