// Package store is the client's "local storage": a small file-backed
// key/value map scoped to one agent profile. It holds the session state
// that must survive a process restart so a meeting can be resumed without
// re-calling the join service.
package store

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"
)

// Fixed key set. Everything written here is cleared on leave.
const (
	KeyClassMode     = "class_mode"
	KeyMeetingConfig = "meeting_config"
	KeyMeetingID     = "meeting_id"
	KeyAttendeeID    = "attendee_id"
	KeyRecorderID    = "recorder_id"
	KeyInvitedURL    = "invited_url"
	KeySharePermit   = "share_permit"
)

var ErrEmptyPath = errors.New("store path empty")

type Local struct {
	mu   sync.RWMutex
	path string
	data map[string]string
}

// Open loads the store file at path, creating parent directories as needed.
// A missing file is not an error; it means a fresh profile.
func Open(path string) (*Local, error) {
	if path == "" {
		return nil, ErrEmptyPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	l := &Local{path: path, data: make(map[string]string)}
	raw, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
		return l, nil
	}
	if err := json.Unmarshal(raw, &l.data); err != nil {
		// Corrupt state file: start clean rather than refuse to boot.
		log.Warn().Err(err).Str("module", "store").Str("path", path).Msg("discarding unreadable store file")
		l.data = make(map[string]string)
	}
	return l, nil
}

func (l *Local) Get(key string) (string, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	v, ok := l.data[key]
	return v, ok
}

func (l *Local) Set(key, value string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.data[key] = value
	return l.flushLocked()
}

func (l *Local) Delete(key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.data, key)
	return l.flushLocked()
}

// Clear wipes every key and the backing file. Called on leave.
func (l *Local) Clear() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.data = make(map[string]string)
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Len reports the number of stored keys.
func (l *Local) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.data)
}

func (l *Local) flushLocked() error {
	raw, err := json.MarshalIndent(l.data, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(l.path, raw, 0o600)
}
