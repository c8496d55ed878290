// ABOUTME: Client-side ordered message set for the open conversation
// ABOUTME: Deduplicates by message id and merges fetched history with live pushes

package client

import (
	"sort"
	"sync"

	"github.com/marv1n-le/marvify/internal/chat"
)

// LocalMessageSet holds the messages shown for the current conversation.
// Messages with an id appear at most once; messages without one are always kept.
type LocalMessageSet struct {
	mu    sync.Mutex
	msgs  []chat.ChatMessage
	index map[string]int // id -> position in msgs
}

// NewLocalMessageSet creates an empty set.
func NewLocalMessageSet() *LocalMessageSet {
	return &LocalMessageSet{index: make(map[string]int)}
}

// Insert adds msg unless a message with the same id is already present.
// Returns true if the message was added.
func (s *LocalMessageSet) Insert(msg chat.ChatMessage) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if msg.ID != "" {
		if _, ok := s.index[msg.ID]; ok {
			return false
		}
		s.index[msg.ID] = len(s.msgs)
	}
	s.msgs = append(s.msgs, msg)
	return true
}

// Merge folds fetched messages into the set. For ids present on both sides
// the fetched copy replaces the local one; local-only messages are kept.
func (s *LocalMessageSet) Merge(fetched []chat.ChatMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, msg := range fetched {
		if msg.ID == "" {
			s.msgs = append(s.msgs, msg)
			continue
		}
		if i, ok := s.index[msg.ID]; ok {
			s.msgs[i] = msg
			continue
		}
		s.index[msg.ID] = len(s.msgs)
		s.msgs = append(s.msgs, msg)
	}
}

// Messages returns a copy ordered by creation time, oldest first. Equal
// timestamps are ordered by id, then by insertion.
func (s *LocalMessageSet) Messages() []chat.ChatMessage {
	s.mu.Lock()
	out := make([]chat.ChatMessage, len(s.msgs))
	copy(out, s.msgs)
	s.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Len returns the number of messages held.
func (s *LocalMessageSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.msgs)
}

// Reset empties the set, typically when switching conversations.
func (s *LocalMessageSet) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = nil
	s.index = make(map[string]int)
}
