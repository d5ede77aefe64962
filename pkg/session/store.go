package session

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Store keeps sessions as JSON files under baseDir/sessions.
type Store struct {
	baseDir string
}

func NewStore(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

func (s *Store) path(id SessionID) string {
	return filepath.Join(s.baseDir, "sessions", string(id)+".json")
}

// Load returns the saved session, or a fresh one when none exists.
func (s *Store) Load(id SessionID) (*Session, error) {
	if err := id.Validate(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path(id))
	if errors.Is(err, fs.ErrNotExist) {
		now := time.Now()
		return &Session{ID: id, Bindings: map[string]any{}, CreatedAt: now, UpdatedAt: now}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read session: %w", err)
	}

	var sess Session
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&sess); err != nil {
		return nil, fmt.Errorf("parse session %s: %w", id, err)
	}
	for k, v := range sess.Bindings {
		sess.Bindings[k] = fromJSON(v)
	}
	if sess.Bindings == nil {
		sess.Bindings = map[string]any{}
	}
	return &sess, nil
}

func (s *Store) Save(sess *Session) error {
	if err := sess.ID.Validate(); err != nil {
		return err
	}
	sess.UpdatedAt = time.Now()
	path := s.path(sess.ID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// List returns the ids of saved sessions.
func (s *Store) List() ([]SessionID, error) {
	matches, err := filepath.Glob(filepath.Join(s.baseDir, "sessions", "*.json"))
	if err != nil {
		return nil, err
	}
	ids := make([]SessionID, 0, len(matches))
	for _, m := range matches {
		ids = append(ids, SessionID(strings.TrimSuffix(filepath.Base(m), ".json")))
	}
	return ids, nil
}

// fromJSON restores engine value types: whole numbers become int64.
func fromJSON(v any) any {
	switch v := v.(type) {
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return n
		}
		f, _ := v.Float64()
		return f
	case []any:
		for i := range v {
			v[i] = fromJSON(v[i])
		}
		return v
	}
	return v
}
