// Package store keeps a log of finished submissions and the user profiles in
// SQLite. Only the kind, language, outcome and time of each submission are
// kept; extracted text and transcriptions are never written.
package store

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

	"github.com/scribblesense/scribblesense/internal/capture"
	"github.com/scribblesense/scribblesense/internal/language"
	"github.com/scribblesense/scribblesense/internal/profile"
)

// Kinds of recorded activity besides the capture kinds.
const (
	KindUpload  = "upload"
	KindGrammar = "grammar"
)

// Activity is one finished submission.
type Activity struct {
	ID       int64             `json:"id"`
	Kind     string            `json:"kind"`
	Language language.Language `json:"language"`
	Success  bool              `json:"success"`
	At       time.Time         `json:"at"`
}

// Summary aggregates activity.
type Summary struct {
	Total      int                       `json:"total"`
	Succeeded  int                       `json:"succeeded"`
	ByLanguage map[language.Language]int `json:"byLanguage"`
	ByKind     map[string]int            `json:"byKind"`
}

var _ profile.Store = (*ActivityStore)(nil)

// ActivityStore is the SQLite-backed activity log.
type ActivityStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens or creates the store at path. ":memory:" keeps it in memory.
func Open(path string, logger *slog.Logger) (*ActivityStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open activity database: %w", err)
	}
	// A single connection serialises writers and keeps ":memory:" one database.
	db.SetMaxOpenConns(1)

	s := &ActivityStore{db: db, logger: logger}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ensure schema: %w", err)
	}

	logger.Info("Activity store opened", slog.String("path", path))
	return s, nil
}

func (s *ActivityStore) ensureSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS activity (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		kind TEXT NOT NULL,
		language TEXT NOT NULL,
		success INTEGER NOT NULL,
		at_ms INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_activity_at ON activity(at_ms DESC);

	CREATE TABLE IF NOT EXISTS profiles (
		user_id TEXT PRIMARY KEY,
		first_name TEXT NOT NULL,
		last_name TEXT NOT NULL,
		email TEXT NOT NULL,
		join_date TEXT NOT NULL,
		language TEXT NOT NULL,
		theme TEXT NOT NULL,
		notifications INTEGER NOT NULL,
		auto_correct INTEGER NOT NULL,
		learning_goal TEXT NOT NULL,
		preferred_voice TEXT NOT NULL,
		updated_ms INTEGER NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Record appends an activity. A zero At means now.
func (s *ActivityStore) Record(ctx context.Context, a Activity) error {
	if a.Kind == "" {
		return fmt.Errorf("activity kind is required")
	}
	if !a.Language.Valid() {
		return fmt.Errorf("%w: %q", language.ErrUnsupported, a.Language)
	}
	if a.At.IsZero() {
		a.At = time.Now()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO activity (kind, language, success, at_ms) VALUES (?, ?, ?, ?)`,
		a.Kind, string(a.Language), boolToInt(a.Success), a.At.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to record activity: %w", err)
	}
	return nil
}

// Recent returns up to limit activities, newest first.
func (s *ActivityStore) Recent(ctx context.Context, limit int) ([]Activity, error) {
	if limit <= 0 {
		limit = 10
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, kind, language, success, at_ms FROM activity ORDER BY at_ms DESC, id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query activity: %w", err)
	}
	defer rows.Close()

	var out []Activity
	for rows.Next() {
		var (
			a       Activity
			lang    string
			success int
			atMS    int64
		)
		if err := rows.Scan(&a.ID, &a.Kind, &lang, &success, &atMS); err != nil {
			return nil, fmt.Errorf("failed to scan activity: %w", err)
		}
		a.Language = language.Language(lang)
		a.Success = success != 0
		a.At = time.UnixMilli(atMS)
		out = append(out, a)
	}
	return out, rows.Err()
}

// Summarize aggregates activity at or after since. A zero since covers
// everything.
func (s *ActivityStore) Summarize(ctx context.Context, since time.Time) (Summary, error) {
	summary := Summary{
		ByLanguage: make(map[language.Language]int),
		ByKind:     make(map[string]int),
	}

	var sinceMS int64
	if !since.IsZero() {
		sinceMS = since.UnixMilli()
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT kind, language, success, COUNT(*) FROM activity WHERE at_ms >= ? GROUP BY kind, language, success`,
		sinceMS,
	)
	if err != nil {
		return summary, fmt.Errorf("failed to summarize activity: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			kind, lang string
			success    int
			count      int
		)
		if err := rows.Scan(&kind, &lang, &success, &count); err != nil {
			return summary, fmt.Errorf("failed to scan summary: %w", err)
		}
		summary.Total += count
		if success != 0 {
			summary.Succeeded += count
		}
		summary.ByKind[kind] += count
		summary.ByLanguage[language.Language(lang)] += count
	}
	return summary, rows.Err()
}

// SessionChanged records capture sessions as they finish processing.
func (s *ActivityStore) SessionChanged(prev capture.Status, info capture.SessionInfo) {
	if prev != capture.StatusProcessing || !info.Status.Terminal() {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := s.Record(ctx, Activity{
		Kind:     string(info.Kind),
		Language: info.Language,
		Success:  info.Status == capture.StatusSaved,
		At:       info.UpdatedAt,
	})
	if err != nil {
		s.logger.Error("Failed to record session activity",
			slog.String("session_id", info.ID),
			slog.String("error", err.Error()),
		)
	}
}

// Profile returns the saved profile of userID, or profile.ErrNotFound.
func (s *ActivityStore) Profile(ctx context.Context, userID string) (profile.Profile, error) {
	var (
		p             profile.Profile
		lang          string
		notifications int
		autoCorrect   int
		updatedMS     int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, first_name, last_name, email, join_date, language, theme,
			notifications, auto_correct, learning_goal, preferred_voice, updated_ms
		FROM profiles WHERE user_id = ?`,
		userID,
	).Scan(&p.UserID, &p.FirstName, &p.LastName, &p.Email, &p.JoinDate, &lang, &p.Preferences.Theme,
		&notifications, &autoCorrect, &p.Preferences.LearningGoal, &p.Preferences.PreferredVoice, &updatedMS)
	if errors.Is(err, sql.ErrNoRows) {
		return profile.Profile{}, profile.ErrNotFound
	}
	if err != nil {
		return profile.Profile{}, fmt.Errorf("failed to load profile: %w", err)
	}

	p.Preferences.Language = language.Language(lang)
	p.Preferences.Notifications = notifications != 0
	p.Preferences.AutoCorrect = autoCorrect != 0
	p.UpdatedAt = time.UnixMilli(updatedMS)
	return p, nil
}

// SaveProfile inserts or replaces the profile of p.UserID. A zero UpdatedAt
// means now.
func (s *ActivityStore) SaveProfile(ctx context.Context, p profile.Profile) error {
	if p.UserID == "" {
		return fmt.Errorf("%w: missing user id", profile.ErrInvalid)
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now()
	}

	prefs := p.Preferences
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO profiles (user_id, first_name, last_name, email, join_date, language, theme,
			notifications, auto_correct, learning_goal, preferred_voice, updated_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			first_name = excluded.first_name,
			last_name = excluded.last_name,
			email = excluded.email,
			join_date = excluded.join_date,
			language = excluded.language,
			theme = excluded.theme,
			notifications = excluded.notifications,
			auto_correct = excluded.auto_correct,
			learning_goal = excluded.learning_goal,
			preferred_voice = excluded.preferred_voice,
			updated_ms = excluded.updated_ms`,
		p.UserID, p.FirstName, p.LastName, p.Email, p.JoinDate, string(prefs.Language), prefs.Theme,
		boolToInt(prefs.Notifications), boolToInt(prefs.AutoCorrect), prefs.LearningGoal, prefs.PreferredVoice,
		p.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to save profile: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *ActivityStore) Close() error {
	return s.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
