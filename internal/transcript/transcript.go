// Package transcript persists the text record of tutoring conversations.
//
// The gateway is a write-only client of this store: it creates one
// Conversation per live session and appends Messages as turns complete. The
// read path (history screens, analytics) belongs to other LearnSphere
// services and is not exposed here.
package transcript

import (
	"context"
	"errors"
	"time"
)

// ErrConversationNotFound is returned by AppendMessage when the conversation
// id does not resolve to a stored conversation.
var ErrConversationNotFound = errors.New("transcript: conversation not found")

// Role identifies the author of a message.
type Role string

const (
	// RoleUser marks a message authored by the learner.
	RoleUser Role = "user"

	// RoleModel marks a message authored by the tutor model.
	RoleModel Role = "model"
)

// Conversation groups the messages of one user/course tutoring session.
type Conversation struct {
	ID        string
	UserID    string
	CourseID  string
	Label     string
	CreatedAt time.Time
}

// Message is one persisted turn of text. Messages are append-only: the
// gateway never mutates or deletes them.
type Message struct {
	ID             string
	ConversationID string
	Role           Role
	Content        string
	CreatedAt      time.Time
}

// Store durably appends conversations and messages.
//
// Implementations must be safe for concurrent use; appends for a single
// conversation arrive from one goroutine and must be stored in call order.
type Store interface {
	// CreateConversation records a new conversation for the user/course pair
	// and returns it with a generated id.
	CreateConversation(ctx context.Context, userID, courseID, label string) (Conversation, error)

	// AppendMessage appends one message to the conversation.
	AppendMessage(ctx context.Context, conversationID string, role Role, content string) (Message, error)
}
