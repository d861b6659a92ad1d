// Package store persists the widget's client-side state (visitor
// identity, profile, session snapshot, last-seen cursor, survey draft)
// in SQLite, namespaced by widget identifier.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"chatwidget/internal/domain"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// schemaVersion is stamped on every stored value. A value written by
// an unknown schema reads as absent instead of corrupting the flow.
const schemaVersion = 1

// Well-known state keys, one durable value each.
const (
	keyVisitorID = "visitor_id"
	keyProfile   = "profile"
	keySession   = "session"
	keyLastSeen  = "last_seen"
	keySurvey    = "survey"
	keyOpened    = "opened"
)

// SQLiteStore implements domain.ClientStore for one widget.
type SQLiteStore struct {
	db       *sql.DB
	widgetID string
	logger   *slog.Logger
}

func NewSQLiteStore(dbPath, widgetID string, logger *slog.Logger) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Set connection pool (single connection for SQLite)
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db, widgetID: widgetID, logger: logger}

	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS client_state (
		widget_id   TEXT NOT NULL,
		key         TEXT NOT NULL,
		version     INTEGER NOT NULL,
		value       TEXT NOT NULL,
		updated_at  DATETIME DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (widget_id, key)
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// get unmarshals the value for key into out. Returns false when the
// key is absent, version-mismatched, or unparseable.
func (s *SQLiteStore) get(ctx context.Context, key string, out any) (bool, error) {
	var version int
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT version, value FROM client_state WHERE widget_id = ? AND key = ?`,
		s.widgetID, key,
	).Scan(&version, &value)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read %s: %w", key, err)
	}

	if version != schemaVersion {
		s.logger.Warn("stored value has unknown schema version, ignoring",
			"key", key, "version", version)
		return false, nil
	}
	if err := json.Unmarshal([]byte(value), out); err != nil {
		s.logger.Warn("stored value unparseable, ignoring", "key", key, "err", err)
		return false, nil
	}
	return true, nil
}

func (s *SQLiteStore) put(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO client_state (widget_id, key, version, value, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(widget_id, key) DO UPDATE SET
		   version = excluded.version, value = excluded.value, updated_at = excluded.updated_at`,
		s.widgetID, key, schemaVersion, string(data), time.Now(),
	)
	if err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}

func (s *SQLiteStore) delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM client_state WHERE widget_id = ? AND key = ?`, s.widgetID, key)
	if err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// EnsureVisitorID returns the persisted visitor identifier, creating
// one on first call. An existing identifier is never overwritten.
func (s *SQLiteStore) EnsureVisitorID(ctx context.Context) (string, error) {
	var id string
	found, err := s.get(ctx, keyVisitorID, &id)
	if err != nil {
		return "", err
	}
	if found && id != "" {
		return id, nil
	}

	id = uuid.NewString()
	data, err := json.Marshal(id)
	if err != nil {
		return "", err
	}
	// INSERT OR IGNORE keeps a concurrently written identifier.
	_, err = s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO client_state (widget_id, key, version, value, updated_at)
		 VALUES (?, ?, ?, ?, ?)`,
		s.widgetID, keyVisitorID, schemaVersion, string(data), time.Now(),
	)
	if err != nil {
		return "", fmt.Errorf("write %s: %w", keyVisitorID, err)
	}

	var stored string
	if found, err := s.get(ctx, keyVisitorID, &stored); err == nil && found && stored != "" {
		return stored, nil
	}
	return id, nil
}

func (s *SQLiteStore) Profile(ctx context.Context) (*domain.VisitorProfile, error) {
	var p domain.VisitorProfile
	found, err := s.get(ctx, keyProfile, &p)
	if err != nil || !found {
		return nil, err
	}
	return &p, nil
}

func (s *SQLiteStore) SaveProfile(ctx context.Context, p domain.VisitorProfile) error {
	return s.put(ctx, keyProfile, p)
}

func (s *SQLiteStore) Session(ctx context.Context) (*domain.ChatSession, error) {
	var sess domain.ChatSession
	found, err := s.get(ctx, keySession, &sess)
	if err != nil || !found {
		return nil, err
	}
	return &sess, nil
}

func (s *SQLiteStore) SaveSession(ctx context.Context, sess domain.ChatSession) error {
	return s.put(ctx, keySession, sess)
}

func (s *SQLiteStore) ClearSession(ctx context.Context) error {
	return s.delete(ctx, keySession)
}

func (s *SQLiteStore) LastSeen(ctx context.Context) (time.Time, error) {
	var t time.Time
	found, err := s.get(ctx, keyLastSeen, &t)
	if err != nil || !found {
		return time.Time{}, err
	}
	return t, nil
}

func (s *SQLiteStore) SetLastSeen(ctx context.Context, t time.Time) error {
	return s.put(ctx, keyLastSeen, t)
}

func (s *SQLiteStore) SurveyDraft(ctx context.Context) (*domain.SurveyDraft, error) {
	var d domain.SurveyDraft
	found, err := s.get(ctx, keySurvey, &d)
	if err != nil || !found {
		return nil, err
	}
	return &d, nil
}

func (s *SQLiteStore) SaveSurveyDraft(ctx context.Context, d domain.SurveyDraft) error {
	return s.put(ctx, keySurvey, d)
}

func (s *SQLiteStore) ClearSurveyDraft(ctx context.Context) error {
	return s.delete(ctx, keySurvey)
}

func (s *SQLiteStore) Opened(ctx context.Context) (bool, error) {
	var opened bool
	found, err := s.get(ctx, keyOpened, &opened)
	if err != nil || !found {
		return false, err
	}
	return opened, nil
}

func (s *SQLiteStore) SetOpened(ctx context.Context) error {
	return s.put(ctx, keyOpened, true)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
