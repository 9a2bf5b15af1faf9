// Package protocol implements the JSON envelope spoken with the remote
// endpoint: request/response correlation, notification dispatch, and the
// server-initiated ping echo.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/organix/organix-go/internal/logger"
)

// ErrConnectionClosed rejects every pending request when the session is torn
// down. Callers must treat it as a normal cancellation.
var ErrConnectionClosed = errors.New("connection closed")

// ErrNotConnected is returned when a send is attempted with no writer bound.
var ErrNotConnected = errors.New("not connected")

// WriteFunc transmits one serialized envelope.
type WriteFunc func(data []byte) error

// NotificationHandler receives a notification's params.
type NotificationHandler func(params json.RawMessage)

type pendingRequest struct {
	method   string
	issuedAt time.Time
	future   *Future
}

// Codec correlates requests to responses and dispatches notifications. It is
// bound to at most one writer at a time; the transport rebinds it on every
// (re)connect.
type Codec struct {
	mu       sync.Mutex
	write    WriteFunc
	pending  map[string]pendingRequest
	handlers map[string]NotificationHandler
}

// NewCodec creates a Codec with no writer bound.
func NewCodec() *Codec {
	return &Codec{
		pending:  make(map[string]pendingRequest),
		handlers: make(map[string]NotificationHandler),
	}
}

// Bind attaches the writer for the current connection. Passing nil detaches.
func (c *Codec) Bind(write WriteFunc) {
	c.mu.Lock()
	c.write = write
	c.mu.Unlock()
}

// Handle registers fn for notifications with the given method. Later
// registrations replace earlier ones.
func (c *Codec) Handle(method string, fn NotificationHandler) {
	c.mu.Lock()
	c.handlers[method] = fn
	c.mu.Unlock()
}

// NewID returns a correlation id unique for the session: millisecond
// timestamp plus a random suffix.
func NewID() string {
	return fmt.Sprintf("%d-%s", time.Now().UnixMilli(), uuid.NewString()[:8])
}

// Request sends a request envelope and returns the future for its response.
func (c *Codec) Request(method string, params any) (*Future, error) {
	f := NewFuture()
	if err := c.RequestInto(f, method, params); err != nil {
		return nil, err
	}
	return f, nil
}

// RequestInto sends a request envelope settling the caller-supplied future.
// The transport uses this to flush requests that were queued while
// disconnected without swapping the future their caller already holds.
// Every failure path settles f too, so a caller awaiting the future never
// hangs on a request that was not sent — a send can race the loss of the
// connection, in which case the writer is already unbound here while the
// caller still believes it is connected.
func (c *Codec) RequestInto(f *Future, method string, params any) error {
	raw, err := marshalParams(params)
	if err != nil {
		err = fmt.Errorf("marshal params for %s: %w", method, err)
		f.settle(nil, err)
		return err
	}

	id := NewID()
	env := Envelope{Version: Version, ID: id, Method: method, Params: raw}
	data, err := json.Marshal(env)
	if err != nil {
		err = fmt.Errorf("marshal envelope for %s: %w", method, err)
		f.settle(nil, err)
		return err
	}

	c.mu.Lock()
	write := c.write
	if write == nil {
		c.mu.Unlock()
		f.settle(nil, ErrNotConnected)
		return ErrNotConnected
	}
	c.pending[id] = pendingRequest{method: method, issuedAt: time.Now(), future: f}
	c.mu.Unlock()

	if err := write(data); err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		f.settle(nil, err)
		return err
	}
	return nil
}

// Notify sends a fire-and-forget notification (no id, no response expected).
func (c *Codec) Notify(method string, params any) error {
	raw, err := marshalParams(params)
	if err != nil {
		return fmt.Errorf("marshal params for %s: %w", method, err)
	}
	env := Envelope{Version: Version, Method: method, Params: raw}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope for %s: %w", method, err)
	}

	c.mu.Lock()
	write := c.write
	c.mu.Unlock()
	if write == nil {
		return ErrNotConnected
	}
	return write(data)
}

// HandleIncoming decodes one wire frame and routes it. Protocol noise
// (unparseable frames, responses for unknown ids, unknown notification
// methods) is logged and dropped, never propagated.
func (c *Codec) HandleIncoming(data []byte) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		logger.L.Warn("discarding unparseable envelope", "error", err)
		return
	}

	switch {
	case env.isResponse():
		c.settleResponse(&env)
	case env.ID != "" && env.Method != "":
		c.handleServerRequest(&env)
	case env.Method != "":
		c.dispatchNotification(&env)
	default:
		logger.L.Warn("discarding envelope with neither id nor method")
	}
}

func (c *Codec) settleResponse(env *Envelope) {
	c.mu.Lock()
	req, ok := c.pending[env.ID]
	if ok {
		delete(c.pending, env.ID)
	}
	c.mu.Unlock()

	if !ok {
		// Out-of-band or duplicate response; server bug or version skew.
		logger.L.Warn("response for unknown request id", "id", env.ID)
		return
	}
	if env.Error != nil {
		req.future.settle(nil, env.Error)
		return
	}
	req.future.settle(env.Result, nil)
}

// handleServerRequest answers the server-initiated requests we understand.
// Only ping gets an answer; anything else is logged and ignored.
func (c *Codec) handleServerRequest(env *Envelope) {
	if env.Method != MethodPing {
		logger.L.Warn("unhandled server request", "method", env.Method, "id", env.ID)
		return
	}
	pong := Envelope{Version: Version, ID: env.ID, Method: MethodPong}
	data, err := json.Marshal(pong)
	if err != nil {
		logger.L.Warn("marshal pong", "error", err)
		return
	}
	c.mu.Lock()
	write := c.write
	c.mu.Unlock()
	if write == nil {
		return
	}
	if err := write(data); err != nil {
		// Not fatal; the connection-lost path handles a dead socket.
		logger.L.Warn("pong write failed", "error", err)
	}
}

func (c *Codec) dispatchNotification(env *Envelope) {
	c.mu.Lock()
	fn, ok := c.handlers[env.Method]
	c.mu.Unlock()
	if !ok {
		logger.L.Warn("unrecognized notification method", "method", env.Method)
		return
	}
	fn(env.Params)
}

// FailAll rejects every pending request with err (ErrConnectionClosed when
// nil) and empties the pending set.
func (c *Codec) FailAll(err error) {
	if err == nil {
		err = ErrConnectionClosed
	}
	c.mu.Lock()
	remaining := c.pending
	c.pending = make(map[string]pendingRequest)
	c.mu.Unlock()

	for id, req := range remaining {
		logger.L.Debug("rejecting pending request", "id", id, "method", req.method)
		req.future.settle(nil, err)
	}
}

// PendingCount reports how many requests are awaiting a response.
func (c *Codec) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func marshalParams(params any) (json.RawMessage, error) {
	if params == nil {
		return nil, nil
	}
	if raw, ok := params.(json.RawMessage); ok {
		return raw, nil
	}
	return json.Marshal(params)
}
