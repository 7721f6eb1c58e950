package archive

import (
	"database/sql"

	"github.com/eg-rek/bizarchive/internal/models"
)

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns so COALESCE backfill works.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// messageColumns is the select list matching scanMessage.
const messageColumns = `message_id, chat_id, business_id, user_id, username,
	text, original_text, date,
	media_type, media_path, original_media_type, original_media_path,
	is_deleted, is_edited,
	forward_from, forward_from_chat, forward_from_message_id`

// scanMessage scans a MessageRecord from a single row.
func scanMessage(row *sql.Row) (*models.MessageRecord, error) {
	var rec models.MessageRecord
	var username, text, originalText sql.NullString
	var mediaType, mediaPath, origMediaType, origMediaPath sql.NullString
	var forwardFrom sql.NullString
	var userID, date, forwardFromChat, forwardFromMessageID sql.NullInt64
	err := row.Scan(
		&rec.MessageID, &rec.ChatID, &rec.BusinessID, &userID, &username,
		&text, &originalText, &date,
		&mediaType, &mediaPath, &origMediaType, &origMediaPath,
		&rec.IsDeleted, &rec.IsEdited,
		&forwardFrom, &forwardFromChat, &forwardFromMessageID,
	)
	if err != nil {
		return nil, err
	}
	rec.UserID = userID.Int64
	rec.Username = username.String
	rec.Text = text.String
	rec.OriginalText = originalText.String
	rec.Date = date.Int64
	rec.Media = models.Media{Kind: models.MediaKind(mediaType.String), Path: mediaPath.String}
	rec.OriginalMedia = models.Media{Kind: models.MediaKind(origMediaType.String), Path: origMediaPath.String}
	rec.ForwardFrom = forwardFrom.String
	rec.ForwardFromChat = forwardFromChat.Int64
	rec.ForwardFromMessageID = forwardFromMessageID.Int64
	return &rec, nil
}
