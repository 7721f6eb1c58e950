// Package archive provides durable message storage for bizarchive.
//
// This file implements the SQLite-backed store.
package archive

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "embed"

	"github.com/eg-rek/bizarchive/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// DefaultDirPermissions defines the default permissions for database directories.
const DefaultDirPermissions = 0755

//go:embed migrations_sqlite.sql
var sqliteMigrations string

type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	if dsn != ":memory:" {
		dir := filepath.Dir(dsn)
		if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
			slog.Error("Failed to create database directory", "error", err, "dir", dir)
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	slog.Debug("Running SQLite migrations")
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) InsertMessage(rec models.MessageRecord) error {
	_, err := s.db.Exec(`INSERT INTO messages
		(message_id, chat_id, business_id, user_id, username, text, original_text, date,
		 media_type, media_path, original_media_type, original_media_path,
		 forward_from, forward_from_chat, forward_from_message_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.MessageID, rec.ChatID, rec.BusinessID, rec.UserID, nilIfEmpty(rec.Username),
		rec.Text, rec.OriginalText, rec.Date,
		nilIfEmpty(string(rec.Media.Kind)), nilIfEmpty(rec.Media.Path),
		nilIfEmpty(string(rec.OriginalMedia.Kind)), nilIfEmpty(rec.OriginalMedia.Path),
		nilIfEmpty(rec.ForwardFrom), rec.ForwardFromChat, rec.ForwardFromMessageID)
	if err != nil {
		slog.Error("SQLiteStore InsertMessage failed", "error", err, "message_id", rec.MessageID, "chat_id", rec.ChatID)
		return fmt.Errorf("failed to insert message %d: %w", rec.MessageID, err)
	}
	slog.Debug("SQLiteStore InsertMessage succeeded", "message_id", rec.MessageID, "chat_id", rec.ChatID)
	return nil
}

func (s *SQLiteStore) GetMessage(messageID, chatID int64, businessID string) (*models.MessageRecord, error) {
	row := s.db.QueryRow(`SELECT `+messageColumns+` FROM messages
		WHERE message_id = ? AND chat_id = ? AND business_id = ?`,
		messageID, chatID, businessID)
	rec, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetMessage failed", "error", err, "message_id", messageID)
		return nil, fmt.Errorf("failed to get message %d: %w", messageID, err)
	}
	return rec, nil
}

// ApplyEdit relies on UPDATE right-hand sides seeing pre-update column
// values, so the COALESCE backfill reads the text/media being replaced.
func (s *SQLiteStore) ApplyEdit(messageID, chatID int64, businessID, text string, media models.Media) error {
	_, err := s.db.Exec(`UPDATE messages SET
		is_edited = 1,
		text = ?,
		original_text = COALESCE(original_text, text),
		media_type = ?,
		media_path = ?,
		original_media_type = COALESCE(original_media_type, media_type),
		original_media_path = COALESCE(original_media_path, media_path)
		WHERE message_id = ? AND chat_id = ? AND business_id = ?`,
		text, nilIfEmpty(string(media.Kind)), nilIfEmpty(media.Path),
		messageID, chatID, businessID)
	if err != nil {
		slog.Error("SQLiteStore ApplyEdit failed", "error", err, "message_id", messageID)
		return fmt.Errorf("failed to apply edit to message %d: %w", messageID, err)
	}
	return nil
}

func (s *SQLiteStore) MarkDeleted(messageID, chatID int64, businessID string) error {
	_, err := s.db.Exec(`UPDATE messages SET is_deleted = 1
		WHERE message_id = ? AND chat_id = ? AND business_id = ?`,
		messageID, chatID, businessID)
	if err != nil {
		slog.Error("SQLiteStore MarkDeleted failed", "error", err, "message_id", messageID)
		return fmt.Errorf("failed to mark message %d deleted: %w", messageID, err)
	}
	return nil
}

func (s *SQLiteStore) MediaPathsOlderThan(cutoff int64) ([]string, error) {
	rows, err := s.db.Query(`SELECT media_path, original_media_path FROM messages
		WHERE date < ? AND (media_path IS NOT NULL OR original_media_path IS NOT NULL)`, cutoff)
	if err != nil {
		slog.Error("SQLiteStore MediaPathsOlderThan query failed", "error", err)
		return nil, fmt.Errorf("failed to query old media paths: %w", err)
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var current, original sql.NullString
		if err := rows.Scan(&current, &original); err != nil {
			slog.Error("SQLiteStore MediaPathsOlderThan scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan media path row: %w", err)
		}
		if current.String != "" {
			paths = append(paths, current.String)
		}
		if original.String != "" {
			paths = append(paths, original.String)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate media path rows: %w", err)
	}
	return paths, nil
}

func (s *SQLiteStore) DeleteOlderThan(cutoff int64) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM messages WHERE date < ?`, cutoff)
	if err != nil {
		slog.Error("SQLiteStore DeleteOlderThan failed", "error", err)
		return 0, fmt.Errorf("failed to delete old messages: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	slog.Debug("SQLiteStore DeleteOlderThan succeeded", "rows", n, "cutoff", cutoff)
	return n, nil
}

func (s *SQLiteStore) Stats() (models.ArchiveStats, error) {
	var st models.ArchiveStats
	err := s.db.QueryRow(`SELECT COUNT(*),
		COALESCE(SUM(is_deleted), 0),
		COALESCE(SUM(is_edited), 0),
		COALESCE(SUM(CASE WHEN media_type IS NOT NULL THEN 1 ELSE 0 END), 0)
		FROM messages`).Scan(&st.Total, &st.Deleted, &st.Edited, &st.WithMedia)
	if err != nil {
		slog.Error("SQLiteStore Stats failed", "error", err)
		return st, fmt.Errorf("failed to read stats: %w", err)
	}
	return st, nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	return s.db.Close()
}
