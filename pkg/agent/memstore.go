package agent

import "sync"

// MemoryConversationStore keeps conversation history in memory. Turn
// history is working state, not durable state; a restart starts
// conversations fresh.
type MemoryConversationStore struct {
	mu       sync.RWMutex
	messages map[string][]Message
	titles   map[string]string
}

// NewMemoryConversationStore creates an empty store.
func NewMemoryConversationStore() *MemoryConversationStore {
	return &MemoryConversationStore{
		messages: make(map[string][]Message),
		titles:   make(map[string]string),
	}
}

// AppendMessage adds a message to a conversation.
func (s *MemoryConversationStore) AppendMessage(conversationID string, msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[conversationID] = append(s.messages[conversationID], msg)
	return nil
}

// History returns a copy of the conversation's messages.
func (s *MemoryConversationStore) History(conversationID string) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Message{}, s.messages[conversationID]...), nil
}

// HasTitle reports whether the conversation was named.
func (s *MemoryConversationStore) HasTitle(conversationID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.titles[conversationID] != ""
}

// SetTitle names a conversation.
func (s *MemoryConversationStore) SetTitle(conversationID, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.titles[conversationID] = title
	return nil
}

// Title returns the conversation's name, if set.
func (s *MemoryConversationStore) Title(conversationID string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.titles[conversationID]
}
