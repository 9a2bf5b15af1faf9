// Package bus provides the in-process publish/subscribe hub every other
// component communicates through. Dispatch is synchronous and in subscription
// order; a panicking subscriber is caught and logged without interrupting the
// publisher or the remaining subscribers.
package bus

import (
	"sync"

	"github.com/organix/organix-go/internal/logger"
)

// Topic identifies an event stream on the bus.
type Topic string

// Topics consumed and produced by the protocol/command subsystem.
const (
	TopicUISendMessage Topic = "ui:sendMessage"

	TopicMCPConnect      Topic = "mcp:connect"
	TopicMCPDisconnect   Topic = "mcp:disconnect"
	TopicMCPMessage      Topic = "mcp:message"
	TopicMCPTypingStart  Topic = "mcp:typingStart"
	TopicMCPTypingEnd    Topic = "mcp:typingEnd"
	TopicMCPStatusChange Topic = "mcp:statusChange"
	TopicMCPError        Topic = "mcp:error"

	TopicSceneHighlight    Topic = "scene:highlightObject"
	TopicScenePulse        Topic = "scene:pulseObject"
	TopicSceneMoveCamera   Topic = "scene:moveCameraTo"
	TopicSceneCreateObject Topic = "scene:createObject"
	TopicSceneInteraction  Topic = "scene:interaction"
)

// Handler receives every payload published on a subscribed topic.
type Handler func(payload any)

type subscription struct {
	id int
	fn Handler
}

// Bus is a synchronous pub/sub hub. The zero value is not usable; construct
// with New and pass by reference to every component at composition time.
type Bus struct {
	mu     sync.Mutex
	nextID int
	subs   map[Topic][]subscription
}

// New creates an empty Bus.
func New() *Bus {
	return &Bus{subs: make(map[Topic][]subscription)}
}

// Subscribe registers fn for topic and returns a function that removes the
// subscription. Both are safe to call from within a handler.
func (b *Bus) Subscribe(topic Topic, fn Handler) (unsubscribe func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs[topic] = append(b.subs[topic], subscription{id: id, fn: fn})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		list := b.subs[topic]
		for i, s := range list {
			if s.id == id {
				b.subs[topic] = append(append([]subscription{}, list[:i]...), list[i+1:]...)
				return
			}
		}
	}
}

// Publish delivers payload to every current subscriber of topic, in
// subscription order. The subscriber list is snapshotted first, so handlers
// may subscribe or unsubscribe during dispatch without affecting this
// delivery round.
func (b *Bus) Publish(topic Topic, payload any) {
	b.mu.Lock()
	snapshot := make([]subscription, len(b.subs[topic]))
	copy(snapshot, b.subs[topic])
	b.mu.Unlock()

	for _, s := range snapshot {
		b.dispatch(topic, s, payload)
	}
}

func (b *Bus) dispatch(topic Topic, s subscription, payload any) {
	defer func() {
		if r := recover(); r != nil {
			logger.L.Error("bus subscriber panicked", "topic", string(topic), "panic", r)
		}
	}()
	s.fn(payload)
}
