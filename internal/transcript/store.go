// Package transcript holds the ordered message sequence of one chat
// session. The sequence is append-only except for guarded mutations of the
// in-flight tail message.
package transcript

import (
	"sync"

	"github.com/set-night/flowchat/internal/domain"
)

// Ref is a stable handle to one appended message. Holding the handle from
// the moment a turn starts removes any ambiguity about which entry the
// turn's events target.
type Ref int

// Store is the transcript of one session. All mutations copy the affected
// message before altering it, so snapshots handed out earlier stay stable.
type Store struct {
	mu       sync.RWMutex
	messages []domain.Message
}

// New returns a store seeded with the greeting so the transcript is never
// empty.
func New(greeting string) *Store {
	return &Store{
		messages: []domain.Message{{Role: domain.RoleAssistant, Text: greeting}},
	}
}

func (s *Store) Append(msg domain.Message) Ref {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, msg.Clone())
	return Ref(len(s.messages) - 1)
}

// Mutate applies transform to a copy of the referenced message and swaps it
// in. It is a no-op returning false when the reference is out of range or
// the target was authored by the user: user messages are never altered by
// turn events.
func (s *Store) Mutate(ref Ref, transform func(*domain.Message)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mutateLocked(int(ref), transform)
}

// MutateTail applies transform to the most recent message under the same
// guard as Mutate.
func (s *Store) MutateTail(transform func(*domain.Message)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mutateLocked(len(s.messages)-1, transform)
}

func (s *Store) mutateLocked(i int, transform func(*domain.Message)) bool {
	if i < 0 || i >= len(s.messages) {
		return false
	}
	if s.messages[i].Role == domain.RoleUser {
		return false
	}
	msg := s.messages[i].Clone()
	transform(&msg)
	s.messages[i] = msg
	return true
}

// Rewrite replaces the referenced message unconditionally. It exists for
// the metadata backfill of an audio-derived user question, which targets
// the turn's own user message on purpose.
func (s *Store) Rewrite(ref Ref, transform func(*domain.Message)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := int(ref)
	if i < 0 || i >= len(s.messages) {
		return false
	}
	msg := s.messages[i].Clone()
	transform(&msg)
	s.messages[i] = msg
	return true
}

// MutateByID applies transform to the most recent message carrying the
// given server id, under the same guard as Mutate. Feedback annotation
// lands here after the turn that produced the message has finished.
func (s *Store) MutateByID(id string, transform func(*domain.Message)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.messages) - 1; i >= 0; i-- {
		if s.messages[i].ID == id {
			return s.mutateLocked(i, transform)
		}
	}
	return false
}

func (s *Store) Tail() domain.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.messages[len(s.messages)-1].Clone()
}

func (s *Store) Get(ref Ref) (domain.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if int(ref) < 0 || int(ref) >= len(s.messages) {
		return domain.Message{}, false
	}
	return s.messages[ref].Clone(), true
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

// Snapshot returns an independent ordered copy of the whole transcript.
func (s *Store) Snapshot() []domain.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Message, len(s.messages))
	for i, m := range s.messages {
		out[i] = m.Clone()
	}
	return out
}
