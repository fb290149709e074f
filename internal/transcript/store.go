package transcript

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SettingLastModel is the settings key holding the last loaded model path
const SettingLastModel = "last_model_path"

// Store persists transcripts and service settings in SQLite
type Store struct {
	db    *sql.DB
	log   *slog.Logger
	clock func() time.Time
}

// Open creates or opens the database at path
func Open(ctx context.Context, path string, log *slog.Logger) (*Store, error) {
	if path == "" {
		return nil, errors.New("store path cannot be empty")
	}

	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// sqlite serialises writers
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, log: log, clock: time.Now}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	log.Info("Transcript store opened", slog.String("path", path))
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS utterances (
    id TEXT PRIMARY KEY,
    session_id TEXT NOT NULL,
    text TEXT NOT NULL,
    reason TEXT,
    duration_ms INTEGER NOT NULL DEFAULT 0,
    sample_rate INTEGER NOT NULL DEFAULT 0,
    truncated INTEGER NOT NULL DEFAULT 0,
    audio_path TEXT,
    created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_utterances_session_created ON utterances(session_id, created_at);
CREATE TABLE IF NOT EXISTS settings (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL,
    updated_at INTEGER NOT NULL
);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

// Close releases underlying resources
func (s *Store) Close() error {
	return s.db.Close()
}

// Save writes a transcript, replacing any row with the same id
func (s *Store) Save(ctx context.Context, t Transcript) error {
	if t.ID == "" {
		return errors.New("transcript id cannot be empty")
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = s.clock()
	}
	truncated := 0
	if t.Truncated {
		truncated = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO utterances(id, session_id, text, reason, duration_ms, sample_rate, truncated, audio_path, created_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET text=excluded.text, reason=excluded.reason,
		   duration_ms=excluded.duration_ms, audio_path=excluded.audio_path`,
		t.ID, t.SessionID, t.Text, t.Reason, t.Duration.Milliseconds(), t.SampleRate, truncated,
		t.AudioPath, t.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("insert transcript: %w", err)
	}
	return nil
}

// List returns up to limit transcripts, newest first. An empty sessionID
// lists every session.
func (s *Store) List(ctx context.Context, sessionID string, limit int) ([]Transcript, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT id, session_id, text, reason, duration_ms, sample_rate, truncated, audio_path, created_at
		 FROM utterances`
	args := []any{}
	if sessionID != "" {
		query += ` WHERE session_id = ?`
		args = append(args, sessionID)
	}
	query += ` ORDER BY created_at DESC, rowid DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query transcripts: %w", err)
	}
	defer rows.Close()

	var out []Transcript
	for rows.Next() {
		var (
			t          Transcript
			reason     sql.NullString
			audioPath  sql.NullString
			durationMs int64
			truncated  int
			created    int64
		)
		if err := rows.Scan(&t.ID, &t.SessionID, &t.Text, &reason, &durationMs, &t.SampleRate,
			&truncated, &audioPath, &created); err != nil {
			return nil, fmt.Errorf("scan transcript: %w", err)
		}
		t.Reason = reason.String
		t.AudioPath = audioPath.String
		t.Duration = time.Duration(durationMs) * time.Millisecond
		t.Truncated = truncated != 0
		t.CreatedAt = time.UnixMilli(created)
		out = append(out, t)
	}
	return out, rows.Err()
}

// Count returns the number of stored transcripts
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM utterances`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count transcripts: %w", err)
	}
	return n, nil
}

// SetSetting stores a key/value pair
func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO settings(key, value, updated_at) VALUES(?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at`,
		key, value, s.clock().UnixMilli())
	if err != nil {
		return fmt.Errorf("store setting %s: %w", key, err)
	}
	return nil
}

// Setting returns the value for key; ok is false when it was never set
func (s *Store) Setting(ctx context.Context, key string) (value string, ok bool, err error) {
	err = s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read setting %s: %w", key, err)
	}
	return value, true, nil
}

// LastModelPath returns the most recently loaded model path
func (s *Store) LastModelPath(ctx context.Context) (string, bool, error) {
	return s.Setting(ctx, SettingLastModel)
}

// SetLastModelPath remembers path for the next start
func (s *Store) SetLastModelPath(ctx context.Context, path string) error {
	return s.SetSetting(ctx, SettingLastModel, path)
}
