package chat

import (
	"time"

	"github.com/google/uuid"

	"github.com/organix/organix-go/internal/command"
)

// Role identifies who produced a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is one chat turn. Messages are never mutated after creation and
// only leave the history through a full clear.
type Message struct {
	ID        string            `json:"id"`
	Role      Role              `json:"role"`
	Content   string            `json:"content"`
	Timestamp time.Time         `json:"timestamp"`
	Commands  []command.Command `json:"commands,omitempty"`
}

func newMessage(role Role, content string, at time.Time, cmds []command.Command) Message {
	return Message{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		Timestamp: at,
		Commands:  cmds,
	}
}
