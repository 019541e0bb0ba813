package memory

import (
	"sort"

	"kestrel/internal/domain"
)

const defaultMaxTurns = 50

// Session holds the conversation state for one run or one interactive
// session: an ordered, append-only turn log bounded by maxTurns, and an
// unbounded scratch context map that tools can read and write across
// turns. When the turn bound is exceeded the oldest turns are evicted
// first, so prompts always see the most recent window. A Session belongs
// to exactly one loop and is not safe for concurrent use.
type Session struct {
	maxTurns int
	turns    []domain.Message
	scratch  map[string]any
}

func NewSession(maxTurns int) *Session {
	if maxTurns <= 0 {
		maxTurns = defaultMaxTurns
	}
	return &Session{
		maxTurns: maxTurns,
		scratch:  make(map[string]any),
	}
}

// Append adds turns in order, evicting from the front when the bound is
// exceeded.
func (s *Session) Append(msgs ...domain.Message) {
	s.turns = append(s.turns, msgs...)
	if over := len(s.turns) - s.maxTurns; over > 0 {
		s.turns = append([]domain.Message(nil), s.turns[over:]...)
	}
}

// Recent returns up to n of the newest turns in chronological order.
func (s *Session) Recent(n int) []domain.Message {
	if n <= 0 || n > len(s.turns) {
		n = len(s.turns)
	}
	out := make([]domain.Message, n)
	copy(out, s.turns[len(s.turns)-n:])
	return out
}

// All returns a copy of every retained turn in chronological order.
func (s *Session) All() []domain.Message {
	return s.Recent(len(s.turns))
}

func (s *Session) Len() int { return len(s.turns) }

// MaxTurns returns the configured retention bound.
func (s *Session) MaxTurns() int { return s.maxTurns }

// Clear drops all turns and the scratch context.
func (s *Session) Clear() {
	s.turns = nil
	s.scratch = make(map[string]any)
}

// SetContext stores a scratch value shared across turns. Scratch entries
// survive turn eviction and are removed only by Clear.
func (s *Session) SetContext(key string, val any) {
	s.scratch[key] = val
}

// Context looks up a scratch value.
func (s *Session) Context(key string) (any, bool) {
	v, ok := s.scratch[key]
	return v, ok
}

// ContextKeys returns the scratch keys, sorted.
func (s *Session) ContextKeys() []string {
	keys := make([]string, 0, len(s.scratch))
	for k := range s.scratch {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ContextSnapshot returns a copy of the scratch map.
func (s *Session) ContextSnapshot() map[string]any {
	out := make(map[string]any, len(s.scratch))
	for k, v := range s.scratch {
		out[k] = v
	}
	return out
}
