// Package fs stores saved connection state in a single JSON file on disk,
// optionally sealed with a passphrase.
package fs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	bc "github.com/panyam/boxconn"
)

// StateStore implements boxconn.StateStore on top of one file. Every Store
// and Remove rewrites the file atomically, so a crash never leaves a
// half-written state behind.
type StateStore struct {
	mu         sync.RWMutex
	path       string
	passphrase []byte
	states     map[string]string
}

// stateFile is the JSON structure stored on disk
type stateFile struct {
	States map[string]string `json:"states"`
}

// Option configures a StateStore.
type Option func(*StateStore)

// WithPassphrase seals the file with a key derived from passphrase. A file
// written with a passphrase can only be opened with the same one.
func WithPassphrase(passphrase string) Option {
	return func(s *StateStore) {
		if passphrase != "" {
			s.passphrase = []byte(passphrase)
		}
	}
}

// DefaultPath returns ~/.config/<appName>/state.json.
func DefaultPath(appName string) (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("could not determine config directory: %w", err)
		}
		configDir = filepath.Join(home, ".config")
	}
	if appName == "" {
		appName = "boxconn"
	}
	return filepath.Join(configDir, appName, "state.json"), nil
}

// NewStateStore opens the store at path, loading it if the file exists.
// If path is empty, DefaultPath("boxconn") is used.
func NewStateStore(path string, opts ...Option) (*StateStore, error) {
	if path == "" {
		p, err := DefaultPath("")
		if err != nil {
			return nil, err
		}
		path = p
	}

	s := &StateStore{path: path, states: make(map[string]string)}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	return s, nil
}

// load reads states from disk
func (s *StateStore) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return err
	}

	if isSealed(data) {
		if s.passphrase == nil {
			return ErrPassphraseRequired
		}
		if data, err = open(data, s.passphrase); err != nil {
			return err
		}
	}

	var file stateFile
	if err := json.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse state file: %w", err)
	}
	if file.States != nil {
		s.states = file.States
	}
	return nil
}

// save writes states to disk; callers hold s.mu
func (s *StateStore) save() error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	data, err := json.MarshalIndent(stateFile{States: s.states}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize state: %w", err)
	}
	if s.passphrase != nil {
		if data, err = seal(data, s.passphrase); err != nil {
			return err
		}
	}
	return writeAtomicFile(s.path, data)
}

func (s *StateStore) Load(_ context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.states[key]
	if !ok {
		return "", bc.ErrStateNotFound
	}
	return state, nil
}

func (s *StateStore) Store(_ context.Context, key, state string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, had := s.states[key]
	s.states[key] = state
	if err := s.save(); err != nil {
		if had {
			s.states[key] = prev
		} else {
			delete(s.states, key)
		}
		return err
	}
	return nil
}

func (s *StateStore) Remove(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, had := s.states[key]
	if !had {
		return nil
	}
	delete(s.states, key)
	if err := s.save(); err != nil {
		s.states[key] = prev
		return err
	}
	return nil
}

func (s *StateStore) Keys(context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.states))
	for k := range s.states {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// Path returns the path to the state file
func (s *StateStore) Path() string {
	return s.path
}

// Sealed reports whether the store writes a sealed file.
func (s *StateStore) Sealed() bool {
	return s.passphrase != nil
}

var _ bc.StateStore = (*StateStore)(nil)
