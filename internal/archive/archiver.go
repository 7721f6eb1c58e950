package archive

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/eg-rek/bizarchive/internal/models"
)

// MediaStore fetches attachments to disk and removes them again.
// Implemented by media.Store.
type MediaStore interface {
	Fetch(ctx context.Context, fileID string, kind models.MediaKind) (string, error)
	Remove(path string) (bool, error)
}

// Policy decides whether a message's media must be suppressed.
// Implemented by spam.Tracker.
type Policy interface {
	ShouldSuppressMedia(userID int64, username, displayName string, kind models.MediaKind, date int64) bool
}

// Archiver applies the archiving rules on top of a Store: business
// connection gating, echo suppression, spam policy, media download,
// edit/delete lineage and retention.
type Archiver struct {
	store      Store
	media      MediaStore
	policy     Policy
	businessID string
	selfSender string
}

// NewArchiver creates an archiver bound to the single allowed business
// connection. selfSender is the bot owner's username whose outgoing
// messages are not archived.
func NewArchiver(store Store, media MediaStore, policy Policy, businessID, selfSender string) *Archiver {
	return &Archiver{
		store:      store,
		media:      media,
		policy:     policy,
		businessID: businessID,
		selfSender: strings.ToLower(selfSender),
	}
}

// fetchMedia downloads the message's single tracked attachment, if
// any. Download failures and oversized files are logged and reported
// as "no media" so the message itself is still archived.
func (a *Archiver) fetchMedia(ctx context.Context, msg *models.Message) models.Media {
	kind, fileID, ok := msg.MediaRef()
	if !ok {
		return models.Media{}
	}
	path, err := a.media.Fetch(ctx, fileID, kind)
	if err != nil {
		slog.Error("Media download failed, archiving without media", "error", err, "kind", kind, "message_id", msg.MessageID)
		return models.Media{}
	}
	return models.Media{Kind: kind, Path: path}
}

// RecordNew archives a newly observed message. Messages outside the
// allowed business connection, echoes of the configured self sender,
// and messages suppressed by the spam policy are dropped entirely.
func (a *Archiver) RecordNew(ctx context.Context, msg *models.Message, businessID string) error {
	if businessID != a.businessID {
		return nil
	}
	if msg.From.Username != "" && strings.ToLower(msg.From.Username) == a.selfSender {
		return nil
	}

	var mediaDesc models.Media
	if kind, _, ok := msg.MediaRef(); ok {
		if a.policy.ShouldSuppressMedia(msg.From.ID, msg.From.Username, msg.From.DisplayName(), kind, msg.Date) {
			// The whole message is treated as spam, not just its media.
			return nil
		}
		mediaDesc = a.fetchMedia(ctx, msg)
	}

	rec := models.MessageRecord{
		MessageID:  msg.MessageID,
		ChatID:     msg.Chat.ID,
		BusinessID: businessID,
		UserID:     msg.From.ID,
		Username:   msg.From.Username,
		Text:       msg.Text,
		// Originals are populated exactly once, here.
		OriginalText:  msg.Text,
		Date:          msg.Date,
		Media:         mediaDesc,
		OriginalMedia: mediaDesc,
	}
	if msg.ForwardFrom != nil {
		rec.ForwardFrom = msg.ForwardFrom.Username
		if rec.ForwardFrom == "" {
			rec.ForwardFrom = msg.ForwardFrom.FirstName
		}
	} else if msg.ForwardFromChat != nil {
		rec.ForwardFromChat = msg.ForwardFromChat.ID
		rec.ForwardFromMessageID = msg.ForwardFromMessageID
	}

	if err := a.store.InsertMessage(rec); err != nil {
		return fmt.Errorf("record new message: %w", err)
	}
	slog.Info("Archived message", "username", msg.From.Username, "name", msg.From.DisplayName(), "media", mediaDesc.Kind)
	return nil
}

// RecordEdit applies an edit and returns the diff to report, or nil if
// no archived record exists for the edited message. New media is
// downloaded unconditionally; edits are not spam-checked.
func (a *Archiver) RecordEdit(ctx context.Context, businessID string, chatID, messageID int64, newMsg *models.Message) (*models.Diff, error) {
	if businessID != a.businessID {
		return nil, nil
	}

	mediaDesc := a.fetchMedia(ctx, newMsg)

	if err := a.store.ApplyEdit(messageID, chatID, businessID, newMsg.Text, mediaDesc); err != nil {
		return nil, fmt.Errorf("record edit: %w", err)
	}

	rec, err := a.store.GetMessage(messageID, chatID, businessID)
	if err != nil {
		return nil, fmt.Errorf("read back edited message: %w", err)
	}
	if rec == nil {
		// Edit for a message that was never archived. The blind update
		// above matched zero rows; nothing to report.
		slog.Debug("Edit for unknown message", "message_id", messageID, "chat_id", chatID)
		return nil, nil
	}
	return &models.Diff{
		Username:      rec.Username,
		Date:          rec.Date,
		Text:          rec.Text,
		OriginalText:  rec.OriginalText,
		Media:         rec.Media,
		OriginalMedia: rec.OriginalMedia,
	}, nil
}

// RecordDeletions marks each listed message deleted and returns the
// pre-deletion snapshots, in input order. Ids with no archived record
// are silently skipped.
func (a *Archiver) RecordDeletions(businessID string, chatID int64, messageIDs []int64) ([]models.Diff, error) {
	if businessID != a.businessID {
		return nil, nil
	}

	var diffs []models.Diff
	for _, id := range messageIDs {
		rec, err := a.store.GetMessage(id, chatID, businessID)
		if err != nil {
			slog.Error("Lookup failed during deletion handling", "error", err, "message_id", id)
			continue
		}
		if rec == nil {
			continue
		}
		if err := a.store.MarkDeleted(id, chatID, businessID); err != nil {
			slog.Error("Failed to mark message deleted", "error", err, "message_id", id)
			continue
		}
		diffs = append(diffs, models.Diff{
			Username: rec.Username,
			Date:     rec.Date,
			Text:     rec.Text,
			Media:    rec.Media,
		})
	}
	return diffs, nil
}

// PurgeOlderThan removes records older than cutoff together with their
// media files, de-duplicating paths shared between current and
// original slots. Missing files are skipped without error.
func (a *Archiver) PurgeOlderThan(cutoff int64) (rows int64, files int, err error) {
	paths, err := a.store.MediaPathsOlderThan(cutoff)
	if err != nil {
		return 0, 0, fmt.Errorf("collect old media paths: %w", err)
	}

	seen := make(map[string]bool, len(paths))
	for _, path := range paths {
		if seen[path] {
			continue
		}
		seen[path] = true
		removed, err := a.media.Remove(path)
		if err != nil {
			slog.Error("Failed to remove media file", "error", err, "path", path)
			continue
		}
		if removed {
			files++
		}
	}

	rows, err = a.store.DeleteOlderThan(cutoff)
	if err != nil {
		return 0, files, fmt.Errorf("delete old messages: %w", err)
	}
	slog.Info("Retention sweep completed", "rows", rows, "files", files)
	return rows, files, nil
}

// Stats reports archive counters.
func (a *Archiver) Stats() (models.ArchiveStats, error) {
	return a.store.Stats()
}
