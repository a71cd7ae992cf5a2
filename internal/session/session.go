package session

import (
	"sync"
	"time"

	"robomind/internal/models"
)

// Session is the append-only transcript of one conversation. Past turns are
// never reordered or mutated; Clear discards everything irreversibly.
//
// Exactly one dispatcher appends to a session at a time, but the API layer
// may read it concurrently, so access is guarded.
type Session struct {
	mu    sync.RWMutex
	turns []models.Turn
}

func New() *Session {
	return &Session{}
}

// Append adds a turn to the end of the transcript. The turn is copied in, so
// callers cannot mutate it afterwards. A zero CreatedAt is stamped with the
// current time.
func (s *Session) Append(turn models.Turn) {
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now().UTC()
	}
	s.mu.Lock()
	s.turns = append(s.turns, turn)
	s.mu.Unlock()
}

// History returns a copy of all turns in insertion order.
func (s *Session) History() []models.Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Turn, len(s.turns))
	copy(out, s.turns)
	return out
}

// ContextWindow returns at most maxTurns of the most recent turns, oldest
// first, preserving chronological order. This is the slice of memory the
// generative backend sees.
func (s *Session) ContextWindow(maxTurns int) []models.Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if maxTurns <= 0 || len(s.turns) == 0 {
		return nil
	}
	start := len(s.turns) - maxTurns
	if start < 0 {
		start = 0
	}
	out := make([]models.Turn, len(s.turns)-start)
	copy(out, s.turns[start:])
	return out
}

// Len reports the number of turns.
func (s *Session) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.turns)
}

// Clear discards all turns. There is no undo.
func (s *Session) Clear() {
	s.mu.Lock()
	s.turns = nil
	s.mu.Unlock()
}
