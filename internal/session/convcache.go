package session

import (
	"sync"
	"time"
)

// ConversationSession liga uma conversa a uma sessão do Typebot.
type ConversationSession struct {
	BackendSessionID string
	LastActivity     time.Time
}

// ConversationCache expira conversas inativas há mais que o timeout.
type ConversationCache struct {
	mu      sync.Mutex
	entries map[string]ConversationSession
	now     func() time.Time
}

func NewConversationCache(now func() time.Time) *ConversationCache {
	if now == nil {
		now = time.Now
	}
	return &ConversationCache{
		entries: make(map[string]ConversationSession),
		now:     now,
	}
}

// Get devolve a sessão se ela ainda estiver dentro do timeout.
func (c *ConversationCache) Get(conversationID string, timeout time.Duration) (ConversationSession, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.entries[conversationID]
	if !ok {
		return ConversationSession{}, false
	}
	if c.now().Sub(s.LastActivity) > timeout {
		delete(c.entries, conversationID)
		return ConversationSession{}, false
	}
	return s, true
}

func (c *ConversationCache) Put(conversationID, backendSessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[conversationID] = ConversationSession{
		BackendSessionID: backendSessionID,
		LastActivity:     c.now(),
	}
}

// Touch renova a atividade de uma sessão existente.
func (c *ConversationCache) Touch(conversationID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.entries[conversationID]; ok {
		s.LastActivity = c.now()
		c.entries[conversationID] = s
	}
}

func (c *ConversationCache) Delete(conversationID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, conversationID)
}

// Purge remove as sessões expiradas e devolve quantas foram removidas.
func (c *ConversationCache) Purge(timeout time.Duration) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for id, s := range c.entries {
		if now.Sub(s.LastActivity) > timeout {
			delete(c.entries, id)
			removed++
		}
	}
	return removed
}

func (c *ConversationCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
