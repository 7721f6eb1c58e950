// Package archive provides durable message storage for bizarchive.
//
// A Store holds archived message rows in SQLite or PostgreSQL; the
// Archiver on top of it applies the business rules for new, edited and
// deleted messages, media handling, and retention.
package archive

import "github.com/eg-rek/bizarchive/internal/models"

// Store is the row-level persistence contract for archived messages.
type Store interface {
	// InsertMessage writes a new record. Text and media are expected to
	// be duplicated into the original_* slots by the caller.
	InsertMessage(rec models.MessageRecord) error
	// GetMessage returns the record for the identity tuple, or nil if
	// no such record exists.
	GetMessage(messageID, chatID int64, businessID string) (*models.MessageRecord, error)
	// ApplyEdit marks the record edited, overwrites current text/media
	// and backfills original_* fields only where they are still unset.
	// Matching zero rows is not an error.
	ApplyEdit(messageID, chatID int64, businessID, text string, media models.Media) error
	// MarkDeleted sets the deletion flag on the record.
	MarkDeleted(messageID, chatID int64, businessID string) error
	// MediaPathsOlderThan returns every stored media path (current and
	// original) belonging to records older than cutoff.
	MediaPathsOlderThan(cutoff int64) ([]string, error)
	// DeleteOlderThan removes records older than cutoff and returns the
	// number of rows deleted.
	DeleteOlderThan(cutoff int64) (int64, error)
	// Stats reports archive counters for the /stats command.
	Stats() (models.ArchiveStats, error)
	// Close releases the underlying database handle.
	Close() error
}

// Opts holds configuration options for store backends.
type Opts struct {
	DSN string
}

// Option defines a configuration option for store backends.
type Option func(*Opts)

// WithDSN sets the database connection string (file path for SQLite).
func WithDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}
