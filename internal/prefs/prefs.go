// Package prefs persists local client preferences (alarm sound, mute flag,
// default lead time) in a small SQLite key-value store. Values are validated
// on read and fall back to safe defaults, so a corrupted store can never
// disable the engine.
package prefs

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	_ "modernc.org/sqlite"

	"github.com/marcus/napwatch/internal/audio"
)

// Defaults applied when a key is missing or invalid.
const (
	DefaultLeadSec      = 600
	defaultSoundEnabled = true
)

const (
	keySoundEnabled = "sound_enabled"
	keySoundID      = "sound_id"
	keyLeadTimeSec  = "lead_time_sec"
)

// Store is the persisted preference store.
type Store struct {
	db   *sql.DB
	path string
}

// DefaultPath returns the default preferences database path.
func DefaultPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share", "napwatch", "prefs.db")
}

// Open opens or creates the preference store, applying pragmas and the
// schema.
func Open(path string) (*Store, error) {
	if path == "" {
		path = DefaultPath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating prefs dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening prefs db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping prefs db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("setting pragma %q: %w", pragma, err)
		}
	}

	schema := `CREATE TABLE IF NOT EXISTS prefs (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating prefs schema: %w", err)
	}

	return &Store{db: db, path: path}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// SoundEnabled reports whether the alarm sound preference is on.
func (s *Store) SoundEnabled() bool {
	v, err := s.get(keySoundEnabled)
	if err != nil {
		return defaultSoundEnabled
	}
	enabled, err := strconv.ParseBool(v)
	if err != nil {
		return defaultSoundEnabled
	}
	return enabled
}

// SetSoundEnabled stores the sound preference.
func (s *Store) SetSoundEnabled(enabled bool) error {
	return s.set(keySoundEnabled, strconv.FormatBool(enabled))
}

// SoundID returns the selected alarm sound, normalized to the catalog.
func (s *Store) SoundID() audio.SoundID {
	v, err := s.get(keySoundID)
	if err != nil {
		return audio.DefaultSound
	}
	return audio.NormalizeSound(audio.SoundID(v))
}

// SetSoundID stores the selected sound after validating it.
func (s *Store) SetSoundID(id audio.SoundID) error {
	if !audio.ValidSound(id) {
		return fmt.Errorf("prefs: unknown sound id %q", id)
	}
	return s.set(keySoundID, string(id))
}

// LeadTimeSec returns the client-side default reminder lead in seconds.
func (s *Store) LeadTimeSec() int {
	v, err := s.get(keyLeadTimeSec)
	if err != nil {
		return DefaultLeadSec
	}
	sec, err := strconv.Atoi(v)
	if err != nil || sec < 0 {
		return DefaultLeadSec
	}
	return sec
}

// SetLeadTimeSec stores the default lead.
func (s *Store) SetLeadTimeSec(sec int) error {
	if sec < 0 {
		return errors.New("prefs: lead time must be non-negative")
	}
	return s.set(keyLeadTimeSec, strconv.Itoa(sec))
}

func (s *Store) get(key string) (string, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM prefs WHERE key = ?", key).Scan(&value)
	if err != nil {
		return "", err
	}
	return value, nil
}

func (s *Store) set(key, value string) error {
	_, err := s.db.Exec(
		"INSERT INTO prefs (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		key, value,
	)
	if err != nil {
		return fmt.Errorf("writing pref %s: %w", key, err)
	}
	return nil
}
