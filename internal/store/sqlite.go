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

	"github.com/ashureev/voice-assistant/internal/domain"
	"github.com/ashureev/voice-assistant/internal/shared"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db    *sql.DB
	retry shared.RetryPolicy
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db, retry: shared.DefaultRetryPolicy}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	PRAGMA foreign_keys = ON;
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		assistant_name TEXT NOT NULL DEFAULT '',
		assistant_image TEXT NOT NULL DEFAULT '',
		assistant_language TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		command TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_history_user ON history(user_id, id);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// CreateUser inserts a new user.
func (s *SQLiteStore) CreateUser(ctx context.Context, user *domain.User) error {
	now := time.Now()
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	if user.UpdatedAt.IsZero() {
		user.UpdatedAt = now
	}
	user.Email = domain.NormalizeEmail(user.Email)

	query := `
	INSERT INTO users (id, name, email, password_hash, assistant_name, assistant_image,
		assistant_language, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	err := shared.RetryOnConflict(ctx, "create user", s.retry, func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, query,
			user.ID, user.Name, user.Email, user.PasswordHash,
			user.AssistantName, user.AssistantImage, user.AssistantLanguage,
			user.CreatedAt.Unix(), user.UpdatedAt.Unix(),
		)
		return err
	})
	if shared.IsSQLiteUniqueError(err) {
		return ErrEmailTaken
	}
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

const userColumns = `id, name, email, password_hash, assistant_name, assistant_image,
	assistant_language, created_at, updated_at`

func scanUser(row *sql.Row) (*domain.User, error) {
	var user domain.User
	var createdAt, updatedAt int64

	err := row.Scan(
		&user.ID, &user.Name, &user.Email, &user.PasswordHash,
		&user.AssistantName, &user.AssistantImage, &user.AssistantLanguage,
		&createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan user row: %w", err)
	}

	user.CreatedAt = time.Unix(createdAt, 0)
	user.UpdatedAt = time.Unix(updatedAt, 0)
	return &user, nil
}

// GetUser retrieves a user and their history by ID.
func (s *SQLiteStore) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, userID)
	user, err := scanUser(row)
	if err != nil || user == nil {
		return nil, err
	}

	history, err := s.History(ctx, userID)
	if err != nil {
		return nil, err
	}
	user.History = history
	return user, nil
}

// GetUserByEmail retrieves a user by email address.
func (s *SQLiteStore) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = ?`, domain.NormalizeEmail(email))
	return scanUser(row)
}

// UpdateAssistant updates the assistant profile of a user.
func (s *SQLiteStore) UpdateAssistant(ctx context.Context, userID string, upd AssistantUpdate) (*domain.User, error) {
	query := `
	UPDATE users SET
		assistant_name = COALESCE(?, assistant_name),
		assistant_image = COALESCE(?, assistant_image),
		assistant_language = COALESCE(?, assistant_language),
		updated_at = ?
	WHERE id = ?`

	var rows int64
	err := shared.RetryOnConflict(ctx, "update assistant", s.retry, func(ctx context.Context) error {
		result, err := s.db.ExecContext(ctx, query,
			nullable(upd.AssistantName), nullable(upd.AssistantImage), nullable(upd.AssistantLanguage),
			time.Now().Unix(), userID,
		)
		if err != nil {
			return err
		}
		rows, err = result.RowsAffected()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("update assistant: %w", err)
	}
	if rows == 0 {
		slog.Warn("UpdateAssistant affected 0 rows", "user_id", userID)
		return nil, ErrUserNotFound
	}

	return s.GetUser(ctx, userID)
}

func nullable(v *string) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

// AppendHistory adds a command to the user's history.
func (s *SQLiteStore) AppendHistory(ctx context.Context, userID, command string) error {
	query := `INSERT INTO history (user_id, command, created_at) VALUES (?, ?, ?)`
	err := shared.RetryOnConflict(ctx, "append history", s.retry, func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, query, userID, command, time.Now().Unix())
		return err
	})
	if err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	return nil
}

// History returns the user's commands in insertion order.
func (s *SQLiteStore) History(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT command FROM history WHERE user_id = ? ORDER BY id`, userID)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close history rows", "error", closeErr)
		}
	}()

	history := []string{}
	for rows.Next() {
		var command string
		if err := rows.Scan(&command); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		history = append(history, command)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	return history, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}
