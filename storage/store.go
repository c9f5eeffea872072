package storage

import (
	"database/sql"
	"time"

	"github.com/LdDl/mot-counter/counting"
	"github.com/LdDl/mot-counter/mot"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

// ErrSessionNotFound is returned when session does not exist
var ErrSessionNotFound = errors.New("session not found")

// Store persists counting sessions and their counted events in SQLite.
// Track history is not persisted.
type Store struct {
	db  *sql.DB
	log *logrus.Entry
}

// Session is a single pipeline run
type Session struct {
	ID          uuid.UUID
	Source      string
	StartedAt   time.Time
	FinishedAt  time.Time
	Finished    bool
	Total       int
	Frames      int
	Interrupted bool
}

// Option configures Store
type Option func(*Store)

// WithLogger sets logger. Default is logrus standard logger.
func WithLogger(entry *logrus.Entry) Option {
	return func(s *Store) {
		s.log = entry
	}
}

// Open opens (or creates) database file and applies migrations
func Open(path string, options ...Option) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrapf(err, "Can't open database %s", path)
	}
	// SQLite handles one writer; a single connection keeps it simple
	db.SetMaxOpenConns(1)
	store := &Store{db: db}
	for _, option := range options {
		option(store)
	}
	if store.log == nil {
		store.log = logrus.NewEntry(logrus.StandardLogger())
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "Can't enable foreign keys")
	}
	if err := store.MigrateUp(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "Can't migrate database")
	}
	return store, nil
}

// Close closes database
func (s *Store) Close() error {
	return s.db.Close()
}

// BeginSession inserts new session row
func (s *Store) BeginSession(id uuid.UUID, source string, startedAt time.Time) error {
	_, err := s.db.Exec(
		`INSERT INTO sessions (session_id, source, started_at) VALUES (?, ?, ?)`,
		id.String(), source, startedAt.UnixNano(),
	)
	if err != nil {
		return errors.Wrapf(err, "Can't begin session %s", id)
	}
	return nil
}

// RecordEvent stores counted event of session
func (s *Store) RecordEvent(id uuid.UUID, event counting.Event) error {
	_, err := s.db.Exec(
		`INSERT INTO count_events (session_id, track_id, total, frame, centroid_x, centroid_y) VALUES (?, ?, ?, ?, ?, ?)`,
		id.String(), event.TrackID, event.Total, event.Frame, event.Centroid.X, event.Centroid.Y,
	)
	if err != nil {
		return errors.Wrapf(err, "Can't record event of track %d", event.TrackID)
	}
	return nil
}

// FinishSession stores final totals of session
func (s *Store) FinishSession(id uuid.UUID, total, frames int, finishedAt time.Time) error {
	res, err := s.db.Exec(
		`UPDATE sessions SET total = ?, frames = ?, finished_at = ? WHERE session_id = ?`,
		total, frames, finishedAt.UnixNano(), id.String(),
	)
	if err != nil {
		return errors.Wrapf(err, "Can't finish session %s", id)
	}
	return expectOneRow(res, id)
}

// MarkInterrupted flags session as stopped before its source was exhausted
func (s *Store) MarkInterrupted(id uuid.UUID) error {
	res, err := s.db.Exec(`UPDATE sessions SET interrupted = 1 WHERE session_id = ?`, id.String())
	if err != nil {
		return errors.Wrapf(err, "Can't mark session %s", id)
	}
	return expectOneRow(res, id)
}

func expectOneRow(res sql.Result, id uuid.UUID) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "Can't get affected rows")
	}
	if affected == 0 {
		return errors.Wrapf(ErrSessionNotFound, "session %s", id)
	}
	return nil
}

// Session returns session by its ID
func (s *Store) Session(id uuid.UUID) (Session, error) {
	var (
		rawID       string
		startedAt   int64
		finishedAt  sql.NullInt64
		interrupted int
	)
	session := Session{}
	err := s.db.QueryRow(
		`SELECT session_id, source, started_at, finished_at, total, frames, interrupted FROM sessions WHERE session_id = ?`,
		id.String(),
	).Scan(&rawID, &session.Source, &startedAt, &finishedAt, &session.Total, &session.Frames, &interrupted)
	if err == sql.ErrNoRows {
		return Session{}, errors.Wrapf(ErrSessionNotFound, "session %s", id)
	}
	if err != nil {
		return Session{}, errors.Wrapf(err, "Can't read session %s", id)
	}
	session.ID, err = uuid.Parse(rawID)
	if err != nil {
		return Session{}, errors.Wrapf(err, "Bad session id %q", rawID)
	}
	session.StartedAt = time.Unix(0, startedAt)
	if finishedAt.Valid {
		session.Finished = true
		session.FinishedAt = time.Unix(0, finishedAt.Int64)
	}
	session.Interrupted = interrupted != 0
	return session, nil
}

// Events returns counted events of session ordered by running total
func (s *Store) Events(id uuid.UUID) ([]counting.Event, error) {
	rows, err := s.db.Query(
		`SELECT track_id, total, frame, centroid_x, centroid_y FROM count_events WHERE session_id = ? ORDER BY total`,
		id.String(),
	)
	if err != nil {
		return nil, errors.Wrapf(err, "Can't query events of session %s", id)
	}
	defer rows.Close()

	events := make([]counting.Event, 0)
	for rows.Next() {
		event := counting.Event{Centroid: mot.Point{}}
		if err := rows.Scan(&event.TrackID, &event.Total, &event.Frame, &event.Centroid.X, &event.Centroid.Y); err != nil {
			return nil, errors.Wrap(err, "Can't scan event")
		}
		events = append(events, event)
	}
	return events, errors.Wrap(rows.Err(), "Can't iterate events")
}
