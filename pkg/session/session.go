package session

import (
	"fmt"
	"regexp"
	"time"
)

type SessionID string

var validID = regexp.MustCompile(`^[A-Za-z0-9_.-]{1,64}$`)

// Validate rejects ids that cannot name a file in the store.
func (id SessionID) Validate() error {
	if !validID.MatchString(string(id)) || id == "." || id == ".." {
		return fmt.Errorf("invalid session id %q", id)
	}
	return nil
}

// Session is a saved interactive session: the variables left bound by the
// last successful input plus a log of what was entered.
type Session struct {
	ID        SessionID      `json:"id"`
	Policy    string         `json:"policy_fingerprint,omitempty"`
	Bindings  map[string]any `json:"bindings"`
	Entries   []Entry        `json:"entries,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Entry records one evaluated input.
type Entry struct {
	Input     string    `json:"input"`
	Result    string    `json:"result,omitempty"`
	Kind      string    `json:"kind,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// maxEntries bounds the log kept per session.
const maxEntries = 500

// Record appends an entry, dropping the oldest past the limit.
func (s *Session) Record(e Entry) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	s.Entries = append(s.Entries, e)
	if n := len(s.Entries) - maxEntries; n > 0 {
		s.Entries = append([]Entry(nil), s.Entries[n:]...)
	}
}

// SetBindings stores the values that survive a round trip through JSON.
// Functions and other host values are dropped and their names returned.
func (s *Session) SetBindings(bindings map[string]any) []string {
	s.Bindings = make(map[string]any, len(bindings))
	var dropped []string
	for k, v := range bindings {
		if !persistable(v) {
			dropped = append(dropped, k)
			continue
		}
		s.Bindings[k] = v
	}
	return dropped
}

func persistable(v any) bool {
	switch v := v.(type) {
	case nil, string, bool, int64, int, float64:
		return true
	case []any:
		for _, item := range v {
			if !persistable(item) {
				return false
			}
		}
		return true
	}
	return false
}
