package dotdir

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const (
	transcriptFile = "chat.json"
)

// Transcript is the conversation of the last "relay chat" session, saved so
// the next session can resume it.
type Transcript struct {
	Model     string              `json:"model,omitempty"`
	UpdatedAt time.Time           `json:"updated_at"`
	Messages  []TranscriptMessage `json:"messages"`
}

// TranscriptMessage is a single message of a saved conversation.
type TranscriptMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// LoadTranscript loads the saved conversation from .relay/chat.json.
// Returns nil, nil if none has been saved.
func (m *Manager) LoadTranscript(overrideDir string) (*Transcript, error) {
	dir, err := m.Target(overrideDir)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filepath.Join(dir, transcriptFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading chat transcript: %w", err)
	}

	t := &Transcript{}
	if err := json.Unmarshal(data, t); err != nil {
		return nil, fmt.Errorf("parsing chat transcript: %w", err)
	}

	return t, nil
}

// SaveTranscript persists t to .relay/chat.json, replacing any earlier one.
func (m *Manager) SaveTranscript(t *Transcript, overrideDir string) error {
	if t == nil {
		return errors.New("cannot save nil chat transcript")
	}

	dir, err := m.Target(overrideDir)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling chat transcript: %w", err)
	}

	if err := os.WriteFile(filepath.Join(dir, transcriptFile), data, 0o600); err != nil {
		return fmt.Errorf("writing chat transcript: %w", err)
	}

	return nil
}

// ClearTranscript removes the saved conversation. Returns nil if there is
// none.
func (m *Manager) ClearTranscript(overrideDir string) error {
	dir, err := m.Target(overrideDir)
	if err != nil {
		return err
	}

	if err := os.Remove(filepath.Join(dir, transcriptFile)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("removing chat transcript: %w", err)
	}

	return nil
}
