// Package state persists judge session cookies between runs when the user opts in.
// Credentials are never written.
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"ojkit/internal/judge/session"
)

const version = 1

// CookieState stores the exported cookies of every judge.
type CookieState struct {
	Version int                         `json:"version"`
	SavedAt time.Time                   `json:"saved_at"`
	Judges  map[string][]session.Cookie `json:"judges"`
}

func Load(path string) (CookieState, error) {
	st := CookieState{Version: version, Judges: map[string][]session.Cookie{}}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return st, nil
		}
		return st, fmt.Errorf("read cookie state failed: %w", err)
	}
	if len(data) == 0 {
		return st, nil
	}
	if err := json.Unmarshal(data, &st); err != nil {
		return st, fmt.Errorf("parse cookie state failed: %w", err)
	}
	if st.Judges == nil {
		st.Judges = map[string][]session.Cookie{}
	}
	return st, nil
}

// Save writes st readable by the owner only.
func Save(path string, st CookieState) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create cookie state dir failed: %w", err)
	}
	st.Version = version
	st.SavedAt = time.Now().UTC()
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal cookie state failed: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write cookie state failed: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("write cookie state failed: %w", err)
	}
	return nil
}

func Clear(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove cookie state failed: %w", err)
	}
	return nil
}
