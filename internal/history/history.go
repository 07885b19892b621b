// Package history records fired reminders and completed naps so past days
// can be summarized. It is bookkeeping only: the engine never reads history
// to make scheduling decisions.
package history

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/marcus/napwatch/internal/reminder"
)

// Outcome is the user's response to a fired reminder.
type Outcome string

const (
	OutcomeFired     Outcome = "fired"
	OutcomeSnoozed   Outcome = "snoozed"
	OutcomeDismissed Outcome = "dismissed"
)

// Store persists reminder and nap history.
type Store struct {
	db   *sql.DB
	path string
}

// Summary aggregates one day's activity.
type Summary struct {
	Date           string
	Naps           int
	TotalSleepSec  int
	RemindersFired int
	Snoozed        int
	Dismissed      int
}

// DefaultPath returns the default history database path.
func DefaultPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share", "napwatch", "history.db")
}

// Open opens or creates the history store.
func Open(path string) (*Store, error) {
	if path == "" {
		path = DefaultPath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating history dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening history db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping history db: %w", err)
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

	schema := `
	CREATE TABLE IF NOT EXISTS reminders (
		id           TEXT PRIMARY KEY,
		day          TEXT NOT NULL,
		context      TEXT NOT NULL,
		nap_index    INTEGER NOT NULL,
		fired_at     TEXT NOT NULL,
		lead_sec     INTEGER NOT NULL,
		outcome      TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_reminders_day ON reminders(day);
	CREATE TABLE IF NOT EXISTS nap_log (
		day          TEXT NOT NULL,
		nap_index    INTEGER NOT NULL,
		started_at   TEXT NOT NULL,
		ended_at     TEXT NOT NULL,
		duration_sec INTEGER NOT NULL,
		PRIMARY KEY (day, nap_index)
	);`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating history schema: %w", err)
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

// RecordFire logs a fired reminder with its initial outcome.
func (s *Store) RecordFire(f reminder.Fire) error {
	day := f.FireTime.Format("2006-01-02")
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO reminders (id, day, context, nap_index, fired_at, lead_sec, outcome)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		f.ID.String(), day, string(f.Context), f.NapIndex,
		f.FireTime.Format(time.RFC3339), f.AchievedLeadSec, string(OutcomeFired),
	)
	if err != nil {
		return fmt.Errorf("recording fire: %w", err)
	}
	return nil
}

// RecordOutcome updates a fired reminder with the user's response.
func (s *Store) RecordOutcome(id uuid.UUID, outcome Outcome) error {
	_, err := s.db.Exec("UPDATE reminders SET outcome = ? WHERE id = ?", string(outcome), id.String())
	if err != nil {
		return fmt.Errorf("recording outcome: %w", err)
	}
	return nil
}

// RecordNap logs (or re-logs) a finished nap for the day.
func (s *Store) RecordNap(day string, napIndex int, start, end time.Time) error {
	dur := int(end.Sub(start).Seconds())
	if dur < 0 {
		dur = 0
	}
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO nap_log (day, nap_index, started_at, ended_at, duration_sec)
		 VALUES (?, ?, ?, ?, ?)`,
		day, napIndex, start.Format(time.RFC3339), end.Format(time.RFC3339), dur,
	)
	if err != nil {
		return fmt.Errorf("recording nap: %w", err)
	}
	return nil
}

// DaySummary aggregates a single day.
func (s *Store) DaySummary(day string) (Summary, error) {
	sum := Summary{Date: day}

	err := s.db.QueryRow(
		"SELECT COUNT(*), COALESCE(SUM(duration_sec), 0) FROM nap_log WHERE day = ?", day,
	).Scan(&sum.Naps, &sum.TotalSleepSec)
	if err != nil {
		return sum, fmt.Errorf("summarizing naps: %w", err)
	}

	rows, err := s.db.Query("SELECT outcome, COUNT(*) FROM reminders WHERE day = ? GROUP BY outcome", day)
	if err != nil {
		return sum, fmt.Errorf("summarizing reminders: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var outcome string
		var count int
		if err := rows.Scan(&outcome, &count); err != nil {
			return sum, err
		}
		sum.RemindersFired += count
		switch Outcome(outcome) {
		case OutcomeSnoozed:
			sum.Snoozed = count
		case OutcomeDismissed:
			sum.Dismissed = count
		}
	}
	return sum, rows.Err()
}

// Prune deletes history older than keepDays.
func (s *Store) Prune(keepDays int) error {
	cutoff := time.Now().AddDate(0, 0, -keepDays).Format("2006-01-02")
	if _, err := s.db.Exec("DELETE FROM reminders WHERE day < ?", cutoff); err != nil {
		return fmt.Errorf("pruning reminders: %w", err)
	}
	if _, err := s.db.Exec("DELETE FROM nap_log WHERE day < ?", cutoff); err != nil {
		return fmt.Errorf("pruning nap log: %w", err)
	}
	return nil
}
