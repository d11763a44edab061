// Package session persists the logged in session and user settings on disk.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cockroachdb/pebble/v2"

	"github.com/johndosdos/chatter-sync/internal/model"
)

var (
	keySession  = []byte("session")
	keySettings = []byte("settings")
)

// ErrNoSession is returned by Load when nobody is logged in.
var ErrNoSession = errors.New("internal/session: no stored session")

// Session is what a restart needs to resume without logging in again.
type Session struct {
	Token string     `json:"token"`
	User  model.User `json:"user"`
}

// Settings is stored as an opaque blob; the sync engine never reads it.
type Settings struct {
	Theme         string `json:"theme"`
	Language      string `json:"language"`
	Notifications bool   `json:"notifications"`
}

// DefaultSettings is returned when nothing has been saved yet.
func DefaultSettings() Settings {
	return Settings{Theme: "system", Language: "en", Notifications: true}
}

type Store struct {
	db *pebble.DB
}

// Open opens (creating if needed) the store under dir.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("internal/session: open: %w", err)
	}
	db, err := pebble.Open(filepath.Clean(dir), &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("internal/session: open %s: %w", dir, err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Save(sess Session) error {
	if err := s.put(keySession, sess); err != nil {
		return fmt.Errorf("internal/session: save session: %w", err)
	}
	return nil
}

// Load returns the stored session or ErrNoSession.
func (s *Store) Load() (Session, error) {
	var sess Session
	found, err := s.get(keySession, &sess)
	if err != nil {
		return Session{}, fmt.Errorf("internal/session: load session: %w", err)
	}
	if !found || sess.Token == "" {
		return Session{}, ErrNoSession
	}
	return sess, nil
}

// Clear forgets the session. Settings are kept.
func (s *Store) Clear() error {
	if err := s.db.Delete(keySession, pebble.Sync); err != nil {
		return fmt.Errorf("internal/session: clear session: %w", err)
	}
	return nil
}

func (s *Store) SaveSettings(st Settings) error {
	if err := s.put(keySettings, st); err != nil {
		return fmt.Errorf("internal/session: save settings: %w", err)
	}
	return nil
}

func (s *Store) LoadSettings() (Settings, error) {
	st := DefaultSettings()
	if _, err := s.get(keySettings, &st); err != nil {
		return DefaultSettings(), fmt.Errorf("internal/session: load settings: %w", err)
	}
	return st, nil
}

func (s *Store) put(key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.db.Set(key, data, pebble.Sync)
}

func (s *Store) get(key []byte, v any) (bool, error) {
	data, closer, err := s.db.Get(key)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	defer closer.Close()

	if err := json.Unmarshal(data, v); err != nil {
		return false, err
	}
	return true, nil
}
