// Package transport owns the lifecycle of the single connection to the
// remote endpoint: dialing, authentication, bounded reconnection with
// exponential backoff, the offline send queue, and graceful teardown.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/qmuntal/stateless"

	"github.com/organix/organix-go/internal/bus"
	"github.com/organix/organix-go/internal/clock"
	"github.com/organix/organix-go/internal/logger"
	"github.com/organix/organix-go/internal/protocol"
)

// ErrInvalidConfiguration rejects a connect with no endpoint.
var ErrInvalidConfiguration = errors.New("invalid configuration: endpoint is empty")

// FSMState names a connection lifecycle state; string-backed so status
// events can carry it verbatim.
type FSMState string

var (
	StateDisconnected   FSMState = "Disconnected"
	StateConnecting     FSMState = "Connecting"
	StateAuthenticating FSMState = "Authenticating"
	StateConnected      FSMState = "Connected"
	StateReconnecting   FSMState = "Reconnecting"
)

// FSMTrigger names a state machine trigger.
type FSMTrigger string

var (
	triggerDial         FSMTrigger = "Dial"
	triggerAuthenticate FSMTrigger = "Authenticate"
	triggerEstablished  FSMTrigger = "Established"
	triggerAuthFailed   FSMTrigger = "AuthFailed"
	triggerDialFailed   FSMTrigger = "DialFailed"
	triggerConnLost     FSMTrigger = "ConnLost"
	triggerRetry        FSMTrigger = "Retry"
	triggerGiveUp       FSMTrigger = "GiveUp"
	triggerClose        FSMTrigger = "Close"
)

// Session is one logical conversation with the remote endpoint. It is owned
// exclusively by the Transport; other components only ever see derived
// status events.
type Session struct {
	Endpoint       string
	Credential     string
	SessionID      string
	ConversationID string
}

// StatusEvent is published on mcp:statusChange at every state transition.
type StatusEvent struct {
	State     string `json:"state"`
	SessionID string `json:"sessionId,omitempty"`
	Attempt   int    `json:"attempt,omitempty"`
}

// ErrorEvent is published on mcp:error for user-visible failures.
type ErrorEvent struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Error kinds carried by ErrorEvent.
const (
	ErrorKindConfiguration      = "configuration"
	ErrorKindAuthentication     = "authentication"
	ErrorKindConnection         = "connection"
	ErrorKindReconnectExhausted = "reconnect_exhausted"
)

type outboxEntry struct {
	content string
	future  *protocol.Future
}

// closeGrace is the pause between the graceful close notification and the
// forced socket close.
const closeGrace = 100 * time.Millisecond

// Transport drives the connection state machine. All state is guarded by mu;
// socket I/O happens outside it.
type Transport struct {
	mu  sync.Mutex
	fsm *stateless.StateMachine

	bus    *bus.Bus
	codec  *protocol.Codec
	clock  clock.Clock
	dial   Dialer
	policy ReconnectPolicy
	log    *slog.Logger

	clientID string
	session  *Session
	conn     Conn
	// gen marks the live connection; read loops of older generations must
	// not report their close as unexpected.
	gen        int
	attempts   int
	retryTimer clock.Timer
	outbox     []outboxEntry
	// bus events queued while mu is held; delivered by flushEvents once the
	// lock is released, so subscribers may re-enter the transport.
	pendingEvents []func()
}

// New creates a disconnected Transport. A nil dial uses the WebSocket dialer,
// a nil clk the wall clock.
func New(b *bus.Bus, codec *protocol.Codec, dial Dialer, clk clock.Clock, policy ReconnectPolicy, clientID string) *Transport {
	if dial == nil {
		dial = DialWebSocket
	}
	if clk == nil {
		clk = clock.Real{}
	}
	t := &Transport{
		bus:      b,
		codec:    codec,
		clock:    clk,
		dial:     dial,
		policy:   policy,
		clientID: clientID,
		log:      logger.Component("transport"),
	}
	t.fsm = t.buildFSM()
	return t
}

func (t *Transport) buildFSM() *stateless.StateMachine {
	fsm := stateless.NewStateMachine(StateDisconnected)

	fsm.Configure(StateDisconnected).
		Permit(triggerDial, StateConnecting)

	fsm.Configure(StateConnecting).
		Permit(triggerAuthenticate, StateAuthenticating).
		Permit(triggerEstablished, StateConnected).
		Permit(triggerDialFailed, StateDisconnected).
		Permit(triggerClose, StateDisconnected)

	fsm.Configure(StateAuthenticating).
		Permit(triggerEstablished, StateConnected).
		Permit(triggerAuthFailed, StateDisconnected).
		Permit(triggerClose, StateDisconnected)

	fsm.Configure(StateConnected).
		Permit(triggerConnLost, StateReconnecting).
		Permit(triggerClose, StateDisconnected)

	// Reconnecting re-dials in place; a failed attempt re-enters the state
	// rather than bouncing through Connecting.
	fsm.Configure(StateReconnecting).
		PermitReentry(triggerRetry).
		Permit(triggerAuthenticate, StateAuthenticating).
		Permit(triggerEstablished, StateConnected).
		Permit(triggerGiveUp, StateDisconnected).
		Permit(triggerClose, StateDisconnected)

	fsm.OnTransitioned(func(_ context.Context, tr stateless.Transition) {
		t.publishStatus(tr.Destination)
	})
	return fsm
}

// fire logs FSM misfires instead of propagating them; a trigger invalid for
// the current state indicates a race already resolved by someone else.
func (t *Transport) fire(trigger FSMTrigger) {
	if err := t.fsm.Fire(trigger); err != nil {
		t.log.Warn("FSM fire error", "trigger", string(trigger), "error", err)
	}
}

func (t *Transport) stateLocked() FSMState {
	return t.fsm.MustState().(FSMState)
}

// State returns the current lifecycle state.
func (t *Transport) State() FSMState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stateLocked()
}

// publishStatus queues the status event for delivery after mu is released.
// Every fire runs with mu held and the bus dispatches synchronously, so
// publishing here directly would deadlock any subscriber that reads
// transport state.
func (t *Transport) publishStatus(dest stateless.State) {
	if t.bus == nil {
		return
	}
	ev := StatusEvent{State: string(dest.(FSMState)), Attempt: t.attempts}
	if t.session != nil {
		ev.SessionID = t.session.SessionID
	}
	t.pendingEvents = append(t.pendingEvents, func() {
		t.bus.Publish(bus.TopicMCPStatusChange, ev)
	})
}

// queueErrorLocked queues an error event. Caller holds mu.
func (t *Transport) queueErrorLocked(kind, msg string) {
	if t.bus == nil {
		return
	}
	ev := ErrorEvent{Kind: kind, Message: msg}
	t.pendingEvents = append(t.pendingEvents, func() {
		t.bus.Publish(bus.TopicMCPError, ev)
	})
}

// flushEvents delivers queued events in order. Must be called without mu.
func (t *Transport) flushEvents() {
	t.mu.Lock()
	events := t.pendingEvents
	t.pendingEvents = nil
	t.mu.Unlock()
	for _, publish := range events {
		publish()
	}
}

// publishError publishes immediately; only for paths that do not hold mu.
func (t *Transport) publishError(kind, msg string) {
	if t.bus == nil {
		return
	}
	t.bus.Publish(bus.TopicMCPError, ErrorEvent{Kind: kind, Message: msg})
}

// Connect opens the connection and, when a credential is present, runs the
// auth handshake. Calling it while already connecting or connected is a
// no-op. Fails fast with ErrInvalidConfiguration on an empty endpoint.
func (t *Transport) Connect(ctx context.Context, endpoint, credential string) error {
	if endpoint == "" {
		t.publishError(ErrorKindConfiguration, "endpoint is empty")
		return ErrInvalidConfiguration
	}

	t.mu.Lock()
	switch t.stateLocked() {
	case StateConnecting, StateAuthenticating, StateConnected, StateReconnecting:
		t.mu.Unlock()
		t.log.Debug("connect ignored; already active")
		return nil
	}
	t.session = &Session{Endpoint: endpoint, Credential: credential}
	t.attempts = 0
	t.fire(triggerDial)
	t.mu.Unlock()
	t.flushEvents()

	return t.establish(ctx)
}

// establish dials the current session's endpoint and completes the handshake.
// Called for the initial connect and for every reconnect attempt.
func (t *Transport) establish(ctx context.Context) error {
	t.mu.Lock()
	if t.session == nil {
		t.mu.Unlock()
		return ErrInvalidConfiguration
	}
	endpoint := t.session.Endpoint
	credential := t.session.Credential
	reconnecting := t.stateLocked() == StateReconnecting
	t.mu.Unlock()

	conn, err := t.dial(ctx, endpoint)
	if err != nil {
		t.log.Warn("dial failed", "endpoint", endpoint, "error", err)
		t.mu.Lock()
		if reconnecting {
			t.fire(triggerRetry)
			t.scheduleRetryLocked()
		} else {
			t.fire(triggerDialFailed)
			t.queueErrorLocked(ErrorKindConnection, err.Error())
		}
		t.mu.Unlock()
		t.flushEvents()
		return err
	}

	t.mu.Lock()
	t.conn = conn
	t.gen++
	gen := t.gen
	t.codec.Bind(conn.WriteMessage)
	t.mu.Unlock()

	go t.readLoop(gen, conn)

	if credential == "" {
		t.completeEstablish()
		return nil
	}

	t.mu.Lock()
	t.fire(triggerAuthenticate)
	t.mu.Unlock()
	t.flushEvents()
	go t.authenticate(ctx, credential)
	return nil
}

// authenticate runs the auth request and finishes or tears down the session
// depending on the outcome. Credential errors are terminal: no retry.
func (t *Transport) authenticate(ctx context.Context, credential string) {
	future, err := t.codec.Request(protocol.MethodAuth, protocol.AuthParams{
		Credential: credential,
		ClientID:   t.clientID,
	})
	if err == nil {
		var result json.RawMessage
		result, err = future.Await(ctx)
		if err == nil {
			var auth protocol.AuthResult
			if jsonErr := json.Unmarshal(result, &auth); jsonErr != nil {
				err = jsonErr
			} else {
				t.mu.Lock()
				if t.session != nil {
					t.session.SessionID = auth.SessionID
					t.session.ConversationID = auth.ConversationID
				}
				t.mu.Unlock()
				t.log.Info("authenticated", "sessionId", auth.SessionID)
				t.completeEstablish()
				return
			}
		}
	}

	// A conn drop during auth surfaces here as ErrConnectionClosed; either
	// way the attempt is over and we do not retry with the same credential.
	t.log.Error("authentication failed", "error", err)
	t.publishError(ErrorKindAuthentication, err.Error())

	t.mu.Lock()
	conn := t.conn
	t.conn = nil
	t.gen++
	t.codec.Bind(nil)
	t.fire(triggerAuthFailed)
	t.mu.Unlock()
	t.flushEvents()

	if conn != nil {
		_ = conn.Close()
	}
	t.codec.FailAll(protocol.ErrConnectionClosed)
}

// completeEstablish transitions to Connected, resets the retry budget, and
// flushes messages queued while disconnected in FIFO order, ahead of any
// newly issued sends.
func (t *Transport) completeEstablish() {
	t.mu.Lock()
	t.fire(triggerEstablished)
	t.attempts = 0
	queued := t.outbox
	t.outbox = nil
	sessionID := ""
	if t.session != nil {
		sessionID = t.session.SessionID
	}
	t.mu.Unlock()

	for _, e := range queued {
		if err := t.codec.RequestInto(e.future, protocol.MethodAgentMessage, protocol.AgentMessageParams{
			SessionID: sessionID,
			Content:   e.content,
		}); err != nil {
			t.log.Warn("flush of queued message failed", "error", err)
		}
	}

	if err := t.codec.Notify(protocol.MethodSceneState, map[string]string{"status": "ready"}); err != nil {
		t.log.Debug("scene/state sync skipped", "error", err)
	}

	// Subscribers learn of Connected only after the queued messages are out,
	// so a reaction to the status event cannot jump the flush.
	t.flushEvents()
}

func (t *Transport) readLoop(gen int, conn Conn) {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			t.handleConnLost(gen, err)
			return
		}
		t.codec.HandleIncoming(data)
	}
}

// handleConnLost reacts to an unexpected close of the live connection.
// Pending requests die with the socket; queued outbox messages survive for
// the flush after a successful reconnect.
func (t *Transport) handleConnLost(gen int, err error) {
	t.mu.Lock()
	if gen != t.gen {
		// Intentional close or an already-replaced connection.
		t.mu.Unlock()
		return
	}
	t.conn = nil
	t.gen++
	t.codec.Bind(nil)
	state := t.stateLocked()
	t.mu.Unlock()

	t.codec.FailAll(protocol.ErrConnectionClosed)
	t.log.Warn("connection lost", "state", string(state), "error", err)

	t.mu.Lock()
	switch state {
	case StateConnected:
		t.fire(triggerConnLost)
		t.scheduleRetryLocked()
	case StateAuthenticating:
		// The auth future just failed; authenticate() finishes teardown.
	case StateConnecting:
		t.fire(triggerDialFailed)
		t.queueErrorLocked(ErrorKindConnection, err.Error())
	}
	t.mu.Unlock()
	t.flushEvents()
}

// scheduleRetryLocked books the next reconnect attempt or gives up once the
// budget is spent. Caller holds mu; state is Reconnecting.
func (t *Transport) scheduleRetryLocked() {
	t.attempts++
	if t.attempts > t.policy.MaxAttempts {
		t.log.Error("reconnect attempts exhausted", "attempts", t.policy.MaxAttempts)
		t.fire(triggerGiveUp)
		t.queueErrorLocked(ErrorKindReconnectExhausted, "reconnect attempts exhausted")
		t.session = nil
		t.attempts = 0
		return
	}
	delay := t.policy.NextDelay(t.attempts)
	t.log.Info("scheduling reconnect", "attempt", t.attempts, "delay", delay)
	t.retryTimer = t.clock.AfterFunc(delay, t.redial)
}

func (t *Transport) redial() {
	t.mu.Lock()
	if t.stateLocked() != StateReconnecting {
		t.mu.Unlock()
		return
	}
	t.mu.Unlock()
	// establish re-schedules on failure, so the error is already handled.
	_ = t.establish(context.Background())
}

// Disconnect tears the session down: sends the graceful close hint, rejects
// every pending and queued request with a connection-closed error, clears the
// session, and resets the retry budget. Always safe to call.
func (t *Transport) Disconnect() {
	t.mu.Lock()
	conn := t.conn
	t.conn = nil
	t.gen++
	if t.retryTimer != nil {
		t.retryTimer.Stop()
		t.retryTimer = nil
	}
	queued := t.outbox
	t.outbox = nil
	t.session = nil
	t.attempts = 0
	if t.stateLocked() != StateDisconnected {
		t.fire(triggerClose)
	}
	t.mu.Unlock()
	t.flushEvents()

	if conn != nil {
		_ = t.codec.Notify(protocol.MethodClose, nil)
	}
	t.codec.Bind(nil)
	t.codec.FailAll(protocol.ErrConnectionClosed)
	for _, e := range queued {
		e.future.Reject(protocol.ErrConnectionClosed)
	}
	if conn != nil {
		// Give the peer a moment to act on the close hint.
		grace := t.clock.After(closeGrace)
		go func() {
			<-grace
			_ = conn.Close()
		}()
	}
}

// SendAgentMessage sends one chat turn. While connected it goes out
// immediately; otherwise it is queued and flushed FIFO on the next successful
// connect. Delivery is at-least-once: a message the server processed right
// before a socket drop is sent again on reconnect.
func (t *Transport) SendAgentMessage(content string) *protocol.Future {
	future := protocol.NewFuture()

	t.mu.Lock()
	if t.stateLocked() != StateConnected {
		t.outbox = append(t.outbox, outboxEntry{content: content, future: future})
		queued := len(t.outbox)
		t.mu.Unlock()
		t.log.Info("message queued while disconnected", "queued", queued)
		return future
	}
	sessionID := ""
	if t.session != nil {
		sessionID = t.session.SessionID
	}
	t.mu.Unlock()

	if err := t.codec.RequestInto(future, protocol.MethodAgentMessage, protocol.AgentMessageParams{
		SessionID: sessionID,
		Content:   content,
	}); err != nil {
		t.log.Warn("send failed", "error", err)
	}
	return future
}

// Notify forwards a fire-and-forget notification when connected; while
// disconnected it is dropped (state sync and interaction pings are not worth
// queueing).
func (t *Transport) Notify(method string, params any) error {
	return t.codec.Notify(method, params)
}

// Status is a point-in-time snapshot for the control surface.
type Status struct {
	State     string `json:"state"`
	SessionID string `json:"sessionId,omitempty"`
	Endpoint  string `json:"endpoint,omitempty"`
	Attempts  int    `json:"reconnectAttempts"`
	Queued    int    `json:"queuedMessages"`
}

// Snapshot returns the current status.
func (t *Transport) Snapshot() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := Status{
		State:    string(t.stateLocked()),
		Attempts: t.attempts,
		Queued:   len(t.outbox),
	}
	if t.session != nil {
		s.SessionID = t.session.SessionID
		s.Endpoint = t.session.Endpoint
	}
	return s
}
