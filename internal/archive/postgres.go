// Package archive provides durable message storage for bizarchive.
//
// This file implements the PostgreSQL-backed store.
package archive

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/eg-rek/bizarchive/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewPostgresStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}

	slog.Debug("Running Postgres migrations")
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) InsertMessage(rec models.MessageRecord) error {
	_, err := s.db.Exec(`INSERT INTO messages
		(message_id, chat_id, business_id, user_id, username, text, original_text, date,
		 media_type, media_path, original_media_type, original_media_path,
		 forward_from, forward_from_chat, forward_from_message_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		rec.MessageID, rec.ChatID, rec.BusinessID, rec.UserID, nilIfEmpty(rec.Username),
		rec.Text, rec.OriginalText, rec.Date,
		nilIfEmpty(string(rec.Media.Kind)), nilIfEmpty(rec.Media.Path),
		nilIfEmpty(string(rec.OriginalMedia.Kind)), nilIfEmpty(rec.OriginalMedia.Path),
		nilIfEmpty(rec.ForwardFrom), rec.ForwardFromChat, rec.ForwardFromMessageID)
	if err != nil {
		slog.Error("PostgresStore InsertMessage failed", "error", err, "message_id", rec.MessageID, "chat_id", rec.ChatID)
		return fmt.Errorf("failed to insert message %d: %w", rec.MessageID, err)
	}
	return nil
}

func (s *PostgresStore) GetMessage(messageID, chatID int64, businessID string) (*models.MessageRecord, error) {
	row := s.db.QueryRow(`SELECT `+messageColumns+` FROM messages
		WHERE message_id = $1 AND chat_id = $2 AND business_id = $3`,
		messageID, chatID, businessID)
	rec, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetMessage failed", "error", err, "message_id", messageID)
		return nil, fmt.Errorf("failed to get message %d: %w", messageID, err)
	}
	return rec, nil
}

func (s *PostgresStore) ApplyEdit(messageID, chatID int64, businessID, text string, media models.Media) error {
	_, err := s.db.Exec(`UPDATE messages SET
		is_edited = TRUE,
		text = $1,
		original_text = COALESCE(original_text, text),
		media_type = $2,
		media_path = $3,
		original_media_type = COALESCE(original_media_type, media_type),
		original_media_path = COALESCE(original_media_path, media_path)
		WHERE message_id = $4 AND chat_id = $5 AND business_id = $6`,
		text, nilIfEmpty(string(media.Kind)), nilIfEmpty(media.Path),
		messageID, chatID, businessID)
	if err != nil {
		slog.Error("PostgresStore ApplyEdit failed", "error", err, "message_id", messageID)
		return fmt.Errorf("failed to apply edit to message %d: %w", messageID, err)
	}
	return nil
}

func (s *PostgresStore) MarkDeleted(messageID, chatID int64, businessID string) error {
	_, err := s.db.Exec(`UPDATE messages SET is_deleted = TRUE
		WHERE message_id = $1 AND chat_id = $2 AND business_id = $3`,
		messageID, chatID, businessID)
	if err != nil {
		slog.Error("PostgresStore MarkDeleted failed", "error", err, "message_id", messageID)
		return fmt.Errorf("failed to mark message %d deleted: %w", messageID, err)
	}
	return nil
}

func (s *PostgresStore) MediaPathsOlderThan(cutoff int64) ([]string, error) {
	rows, err := s.db.Query(`SELECT media_path, original_media_path FROM messages
		WHERE date < $1 AND (media_path IS NOT NULL OR original_media_path IS NOT NULL)`, cutoff)
	if err != nil {
		slog.Error("PostgresStore MediaPathsOlderThan query failed", "error", err)
		return nil, fmt.Errorf("failed to query old media paths: %w", err)
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var current, original sql.NullString
		if err := rows.Scan(&current, &original); err != nil {
			slog.Error("PostgresStore MediaPathsOlderThan scan failed", "error", err)
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

func (s *PostgresStore) DeleteOlderThan(cutoff int64) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM messages WHERE date < $1`, cutoff)
	if err != nil {
		slog.Error("PostgresStore DeleteOlderThan failed", "error", err)
		return 0, fmt.Errorf("failed to delete old messages: %w", err)
	}
	return res.RowsAffected()
}

func (s *PostgresStore) Stats() (models.ArchiveStats, error) {
	var st models.ArchiveStats
	err := s.db.QueryRow(`SELECT COUNT(*),
		COALESCE(SUM(CASE WHEN is_deleted THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN is_edited THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN media_type IS NOT NULL THEN 1 ELSE 0 END), 0)
		FROM messages`).Scan(&st.Total, &st.Deleted, &st.Edited, &st.WithMedia)
	if err != nil {
		slog.Error("PostgresStore Stats failed", "error", err)
		return st, fmt.Errorf("failed to read stats: %w", err)
	}
	return st, nil
}

// Close closes the Postgres database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing Postgres database connection")
	return s.db.Close()
}
