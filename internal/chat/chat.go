// Package chat maintains the conversation state: ordered message history,
// typing indication, and assistant responses from whichever backend is
// configured (local simulator, the remote endpoint, or a direct LLM call).
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/sashabaranov/go-openai"

	"github.com/organix/organix-go/internal/bus"
	"github.com/organix/organix-go/internal/clock"
	"github.com/organix/organix-go/internal/command"
	"github.com/organix/organix-go/internal/config"
	"github.com/organix/organix-go/internal/history"
	"github.com/organix/organix-go/internal/llm"
	"github.com/organix/organix-go/internal/logger"
	"github.com/organix/organix-go/internal/protocol"
)

// ErrEmptyMessage rejects user input that trims to nothing.
var ErrEmptyMessage = errors.New("message is empty")

// DefaultHistoryLimit caps the in-memory history.
const DefaultHistoryLimit = 100

const defaultSystemPrompt = "You are the voice of ORGANIX, a 3D neural network visualization. " +
	"Answer questions about the network's input, processing, memory and output nodes. " +
	"When a scene action would help, embed it as a fenced json block containing a list of " +
	`commands shaped like {"type":"highlight","target":"memory","params":{"duration":2000}}.`

// Sender is the slice of the transport the chat needs.
type Sender interface {
	SendAgentMessage(content string) *protocol.Future
}

// Options wires a Chat at composition time.
type Options struct {
	Bus      *bus.Bus
	Executor *command.Executor
	Clock    clock.Clock
	Mode     config.Mode

	Simulator *Simulator
	Transport Sender

	LLM          llm.Client
	LLMModel     string
	SystemPrompt string

	HistoryLimit int
	Store        *history.Store
	StoreSession string
}

// Chat is the session state. All mutation goes through its mutex; messages
// are append-only and only removed by Clear.
type Chat struct {
	mu       sync.Mutex
	messages []Message
	typing   bool

	bus      *bus.Bus
	exec     *command.Executor
	clock    clock.Clock
	mode     config.Mode
	sim      *Simulator
	remote   Sender
	llm      llm.Client
	llmModel string
	prompt   string
	limit    int
	store    *history.Store
	storeKey string
	log      *slog.Logger
}

// New creates a Chat. Zero-value options fall back to sane defaults; the
// backend for the configured mode must be present.
func New(opts Options) *Chat {
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = DefaultHistoryLimit
	}
	if opts.SystemPrompt == "" {
		opts.SystemPrompt = defaultSystemPrompt
	}
	if opts.StoreSession == "" {
		opts.StoreSession = "local"
	}
	return &Chat{
		bus:      opts.Bus,
		exec:     opts.Executor,
		clock:    opts.Clock,
		mode:     opts.Mode,
		sim:      opts.Simulator,
		remote:   opts.Transport,
		llm:      opts.LLM,
		llmModel: opts.LLMModel,
		prompt:   opts.SystemPrompt,
		limit:    opts.HistoryLimit,
		store:    opts.Store,
		storeKey: opts.StoreSession,
		log:      logger.Component("chat"),
	}
}

// SendUserMessage appends a user turn and kicks off response generation. The
// returned channel yields the assistant message when it arrives and is closed
// without a value if the backend fails.
func (c *Chat) SendUserMessage(ctx context.Context, text string) (<-chan Message, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		c.publishError("empty_message", "message is empty")
		return nil, ErrEmptyMessage
	}

	c.append(RoleUser, trimmed, nil)
	c.setTyping(true)

	out := make(chan Message, 1)
	switch c.mode {
	case config.ModeMCP:
		go c.respondRemote(ctx, trimmed, out)
	case config.ModeLLM:
		go c.respondLLM(ctx, trimmed, out)
	default:
		go c.respondSimulated(ctx, trimmed, out)
	}
	return out, nil
}

func (c *Chat) respondSimulated(ctx context.Context, text string, out chan<- Message) {
	select {
	case <-c.clock.After(c.sim.Latency(text)):
	case <-ctx.Done():
		c.setTyping(false)
		close(out)
		return
	}
	reply, cmds := c.sim.Respond(text)
	c.deliverAssistant(reply, cmds, out)
}

// agentReply is the payload of both the agent/message response and the
// agent/message server notification.
type agentReply struct {
	Content        string          `json:"content"`
	Commands       json.RawMessage `json:"commands,omitempty"`
	ConversationID string          `json:"conversationId,omitempty"`
}

func (c *Chat) respondRemote(ctx context.Context, text string, out chan<- Message) {
	future := c.remote.SendAgentMessage(text)
	result, err := future.Await(ctx)
	if err != nil {
		// ErrConnectionClosed is a normal cancellation, not a protocol
		// violation; either way the turn produced no reply.
		c.log.Warn("remote response failed", "error", err)
		c.setTyping(false)
		if !errors.Is(err, protocol.ErrConnectionClosed) {
			c.publishError("response", err.Error())
		}
		close(out)
		return
	}

	var reply agentReply
	if err := json.Unmarshal(result, &reply); err != nil {
		c.log.Warn("unparseable agent reply", "error", err)
		c.setTyping(false)
		close(out)
		return
	}
	c.deliverAssistant(reply.Content, decodeReplyCommands(reply), out)
}

func (c *Chat) respondLLM(ctx context.Context, text string, out chan<- Message) {
	req := openai.ChatCompletionRequest{
		Model:    c.llmModel,
		Messages: c.completionMessages(text),
	}
	resp, err := c.llm.CreateChatCompletion(ctx, req)
	if err != nil || len(resp.Choices) == 0 {
		if err == nil {
			err = errors.New("empty completion")
		}
		c.log.Error("LLM call failed", "error", err)
		c.setTyping(false)
		c.publishError("response", err.Error())
		close(out)
		return
	}
	c.deliverAssistant(resp.Choices[0].Message.Content, nil, out)
}

// completionMessages builds the prompt: system prompt, then the recent
// history (the just-appended user turn included).
func (c *Chat) completionMessages(_ string) []openai.ChatCompletionMessage {
	c.mu.Lock()
	recent := c.messages
	if len(recent) > 20 {
		recent = recent[len(recent)-20:]
	}
	msgs := make([]openai.ChatCompletionMessage, 0, len(recent)+1)
	msgs = append(msgs, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: c.prompt,
	})
	for _, m := range recent {
		msgs = append(msgs, openai.ChatCompletionMessage{
			Role:    string(m.Role),
			Content: m.Content,
		})
	}
	c.mu.Unlock()
	return msgs
}

// deliverAssistant records the assistant turn, emits the typing-end and
// message events, and hands any commands to the executor.
func (c *Chat) deliverAssistant(content string, cmds []command.Command, out chan<- Message) {
	if len(cmds) == 0 {
		cmds = ExtractCommands(content)
	}
	c.setTyping(false)
	msg := c.append(RoleAssistant, content, cmds)
	if c.bus != nil {
		c.bus.Publish(bus.TopicMCPMessage, msg)
	}
	if c.exec != nil && len(cmds) > 0 {
		c.exec.Enqueue(cmds...)
	}
	if out != nil {
		out <- msg
	}
}

// HandleAgentMessage consumes an unsolicited agent/message notification.
func (c *Chat) HandleAgentMessage(params json.RawMessage) {
	var reply agentReply
	if err := json.Unmarshal(params, &reply); err != nil {
		c.log.Warn("unparseable agent/message notification", "error", err)
		return
	}
	c.deliverAssistant(reply.Content, decodeReplyCommands(reply), nil)
}

// HandleTyping consumes an agent/typing notification; the payload is either
// a bare boolean or {"typing": bool}.
func (c *Chat) HandleTyping(params json.RawMessage) {
	var flag bool
	if err := json.Unmarshal(params, &flag); err != nil {
		var wrapped struct {
			Typing bool `json:"typing"`
		}
		if err := json.Unmarshal(params, &wrapped); err != nil {
			c.log.Warn("unparseable agent/typing notification", "error", err)
			return
		}
		flag = wrapped.Typing
	}
	c.setTyping(flag)
}

func decodeReplyCommands(reply agentReply) []command.Command {
	if reply.Commands == nil {
		return nil
	}
	cmds, err := command.DecodeList(reply.Commands)
	if err != nil {
		logger.L.Warn("unparseable commands in agent reply", "error", err)
		return nil
	}
	return cmds
}

// append records a message, truncates the in-memory window drop-oldest, and
// mirrors the turn into the persisted store when one is attached.
func (c *Chat) append(role Role, content string, cmds []command.Command) Message {
	msg := newMessage(role, content, c.clock.Now(), cmds)

	c.mu.Lock()
	c.messages = append(c.messages, msg)
	if len(c.messages) > c.limit {
		c.messages = c.messages[len(c.messages)-c.limit:]
	}
	c.mu.Unlock()

	if c.store != nil {
		if err := c.store.Save(history.Entry{
			SessionID: c.storeKey,
			Role:      string(role),
			Content:   content,
			CreatedAt: msg.Timestamp,
		}); err != nil {
			c.log.Warn("history persist failed", "error", err)
		}
	}
	return msg
}

func (c *Chat) setTyping(on bool) {
	c.mu.Lock()
	changed := c.typing != on
	c.typing = on
	c.mu.Unlock()
	if !changed || c.bus == nil {
		return
	}
	if on {
		c.bus.Publish(bus.TopicMCPTypingStart, nil)
	} else {
		c.bus.Publish(bus.TopicMCPTypingEnd, nil)
	}
}

func (c *Chat) publishError(kind, msg string) {
	if c.bus == nil {
		return
	}
	c.bus.Publish(bus.TopicMCPError, map[string]string{"kind": kind, "message": msg})
}

// Typing reports whether an assistant response is being produced.
func (c *Chat) Typing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.typing
}

// History returns a copy of the in-memory message window in arrival order.
func (c *Chat) History() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// Clear wipes both the in-memory window and the persisted copy.
func (c *Chat) Clear() error {
	c.mu.Lock()
	c.messages = nil
	c.mu.Unlock()
	if c.store != nil {
		return c.store.Clear(c.storeKey)
	}
	return nil
}
