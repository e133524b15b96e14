// Package mock provides an in-memory transcript store for tests.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bad-Al-code/learnsphere-voice-gateway/internal/transcript"
)

// Store records conversations and messages in memory. Error fields let tests
// force failures on specific operations.
type Store struct {
	mu sync.Mutex

	// CreateErr is returned by CreateConversation when set.
	CreateErr error

	// AppendErr is returned by AppendMessage when set.
	AppendErr error

	conversations []transcript.Conversation
	messages      []transcript.Message
}

// NewStore returns an empty mock store.
func NewStore() *Store {
	return &Store{}
}

// CreateConversation implements transcript.Store.
func (s *Store) CreateConversation(_ context.Context, userID, courseID, label string) (transcript.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.CreateErr != nil {
		return transcript.Conversation{}, s.CreateErr
	}
	conv := transcript.Conversation{
		ID:        uuid.NewString(),
		UserID:    userID,
		CourseID:  courseID,
		Label:     label,
		CreatedAt: time.Now(),
	}
	s.conversations = append(s.conversations, conv)
	return conv, nil
}

// AppendMessage implements transcript.Store.
func (s *Store) AppendMessage(_ context.Context, conversationID string, role transcript.Role, content string) (transcript.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.AppendErr != nil {
		return transcript.Message{}, s.AppendErr
	}
	found := false
	for _, c := range s.conversations {
		if c.ID == conversationID {
			found = true
			break
		}
	}
	if !found {
		return transcript.Message{}, transcript.ErrConversationNotFound
	}
	msg := transcript.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		CreatedAt:      time.Now(),
	}
	s.messages = append(s.messages, msg)
	return msg, nil
}

// Conversations returns a copy of all recorded conversations.
func (s *Store) Conversations() []transcript.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]transcript.Conversation, len(s.conversations))
	copy(out, s.conversations)
	return out
}

// Messages returns a copy of all recorded messages in append order.
func (s *Store) Messages() []transcript.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]transcript.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

var _ transcript.Store = (*Store)(nil)
