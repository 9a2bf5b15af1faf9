package protocol

import (
	"encoding/json"
	"fmt"
)

// Version is the envelope version marker sent on every message.
const Version = "1"

// Methods spoken on the wire.
const (
	MethodAuth             = "auth"
	MethodAgentMessage     = "agent/message"
	MethodAgentTyping      = "agent/typing"
	MethodSceneCommand     = "scene/command"
	MethodSceneState       = "scene/state"
	MethodSceneInteraction = "scene/interaction"
	MethodStatusUpdate     = "status/update"
	MethodPing             = "ping"
	MethodPong             = "pong"
	MethodClose            = "close"
)

// Envelope is the single wire frame: requests carry an id and a method,
// responses carry an id and result or error, notifications carry a method
// and no id.
type Envelope struct {
	Version string          `json:"v,omitempty"`
	ID      string          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *WireError      `json:"error,omitempty"`
}

// WireError is the error payload of a failed response.
type WireError struct {
	Code    int             `json:"code,omitempty"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *WireError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("remote error %d: %s", e.Code, e.Message)
	}
	return "remote error: " + e.Message
}

// isResponse reports whether the envelope correlates to a sent request. A
// malformed response carrying neither result nor error still counts: it must
// settle its pending request rather than leave it hanging until teardown.
func (e *Envelope) isResponse() bool {
	return e.ID != "" && e.Method == ""
}

// AuthParams is the auth request payload.
type AuthParams struct {
	Credential string `json:"credential"`
	ClientID   string `json:"clientId"`
}

// AuthResult is the auth success payload.
type AuthResult struct {
	SessionID      string `json:"sessionId"`
	ConversationID string `json:"conversationId,omitempty"`
}

// AgentMessageParams is the agent/message request payload.
type AgentMessageParams struct {
	SessionID string          `json:"sessionId,omitempty"`
	Content   string          `json:"content"`
	Context   json.RawMessage `json:"context,omitempty"`
}
