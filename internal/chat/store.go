package chat

import (
	"errors"
	"sync"

	"github.com/mdcat/companion/internal/domain"
)

var (
	// ErrPendingExists is returned when a second tentative entry is added
	// before the first one is confirmed or rolled back.
	ErrPendingExists = errors.New("an unconfirmed message is already pending")
	// ErrStaleEntry is returned when confirming or rolling back an entry the
	// store no longer holds (for example after Reset).
	ErrStaleEntry = errors.New("pending entry no longer in store")
)

// Tentative identifies an unconfirmed entry of a MessageStore.
type Tentative struct {
	seq uint64
}

// MessageStore is the ordered, append-only message list of one chat. It holds
// at most one unconfirmed entry at a time.
type MessageStore struct {
	mu       sync.RWMutex
	messages []domain.Message
	pending  int // index of the unconfirmed entry, -1 if none
	seq      uint64
	version  uint64
}

// NewMessageStore creates an empty store.
func NewMessageStore() *MessageStore {
	return &MessageStore{pending: -1}
}

// Len returns the number of messages, including a pending one.
func (s *MessageStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

// Messages returns a copy of the current sequence.
func (s *MessageStore) Messages() []domain.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// HasPending reports whether an unconfirmed entry exists.
func (s *MessageStore) HasPending() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pending >= 0
}

// Recent returns up to n confirmed messages from the end of the store.
func (s *MessageStore) Recent(n int) []domain.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	confirmed := make([]domain.Message, 0, len(s.messages))
	for i, m := range s.messages {
		if i != s.pending {
			confirmed = append(confirmed, m)
		}
	}
	if n >= len(confirmed) {
		return confirmed
	}
	return confirmed[len(confirmed)-n:]
}

// Append adds a confirmed message.
func (s *MessageStore) Append(m domain.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.version++
	m.Pending = false
	s.messages = append(s.messages, m)
}

// AddTentative appends m marked as pending.
func (s *MessageStore) AddTentative(m domain.Message) (Tentative, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.version++
	if s.pending >= 0 {
		return Tentative{}, ErrPendingExists
	}
	m.Pending = true
	s.messages = append(s.messages, m)
	s.pending = len(s.messages) - 1
	s.seq++
	return Tentative{seq: s.seq}, nil
}

// Confirm replaces the tentative entry with the server copy. If a history
// reload already brought in a message with the same ID, the tentative entry is
// dropped instead.
func (s *MessageStore) Confirm(t Tentative, confirmed domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending < 0 || t.seq != s.seq {
		return ErrStaleEntry
	}
	s.version++
	i := s.pending
	if confirmed.ID != "" {
		for j, m := range s.messages {
			if j != i && m.ID == confirmed.ID {
				s.messages = append(s.messages[:i], s.messages[i+1:]...)
				s.pending = -1
				return nil
			}
		}
	}
	confirmed.Pending = false
	if confirmed.Timestamp.IsZero() {
		confirmed.Timestamp = s.messages[i].Timestamp
	}
	if i > 0 {
		// Keep timestamps non-decreasing even if the server clock lags ours.
		if prev := s.messages[i-1].Timestamp; confirmed.Timestamp.Before(prev) {
			confirmed.Timestamp = prev
		}
	}
	s.messages[i] = confirmed
	s.pending = -1
	return nil
}

// Rollback removes the tentative entry.
func (s *MessageStore) Rollback(t Tentative) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending < 0 || t.seq != s.seq {
		return ErrStaleEntry
	}
	s.version++
	s.messages = append(s.messages[:s.pending], s.messages[s.pending+1:]...)
	s.pending = -1
	return nil
}

// Reset drops every message and invalidates outstanding tentative entries.
func (s *MessageStore) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.version++
	s.messages = nil
	s.pending = -1
}

// Version changes on every mutation.
func (s *MessageStore) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// Replace swaps the confirmed contents for msgs, keeping a pending entry at
// the end if one exists.
func (s *MessageStore) Replace(msgs []domain.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replaceLocked(msgs)
}

// ReplaceIf is Replace guarded by the version observed before msgs were
// loaded. It reports whether the swap happened.
func (s *MessageStore) ReplaceIf(version uint64, msgs []domain.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.version != version {
		return false
	}
	s.replaceLocked(msgs)
	return true
}

func (s *MessageStore) replaceLocked(msgs []domain.Message) {
	s.version++
	var pending *domain.Message
	if s.pending >= 0 {
		p := s.messages[s.pending]
		pending = &p
	}
	s.messages = make([]domain.Message, 0, len(msgs)+1)
	for _, m := range msgs {
		m.Pending = false
		s.messages = append(s.messages, m)
	}
	if pending != nil {
		s.messages = append(s.messages, *pending)
		s.pending = len(s.messages) - 1
		return
	}
	s.pending = -1
}
