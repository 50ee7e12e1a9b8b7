package dotdir

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

const sessionFile = "session.json"

// Session is the active chat scope the CLI resumes from. Commands that take
// --agent/--session flags fall back to this state when the flags are omitted.
type Session struct {
	AgentID   string `json:"agent_id"`
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id,omitempty"`
}

// SaveSession persists the active session state into the target directory.
func (m *Manager) SaveSession(overrideDir string, s *Session) error {
	if s == nil {
		return errors.New("cannot save nil session")
	}

	target, err := m.Target(overrideDir)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding session state: %w", err)
	}

	path := filepath.Join(target, sessionFile)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing session state: %w", err)
	}

	return nil
}

// LoadSession reads the active session state. Returns nil with no error when
// no state has been saved yet.
func (m *Manager) LoadSession(overrideDir string) (*Session, error) {
	target, err := m.Target(overrideDir)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filepath.Join(target, sessionFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading session state: %w", err)
	}

	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parsing session state: %w", err)
	}

	return &s, nil
}

// ClearSession removes the persisted session state if present.
func (m *Manager) ClearSession(overrideDir string) error {
	target, err := m.Target(overrideDir)
	if err != nil {
		return err
	}

	err = os.Remove(filepath.Join(target, sessionFile))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("clearing session state: %w", err)
	}

	return nil
}
