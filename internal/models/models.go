// Package models defines the core data structures for bizarchive.
//
// It includes the Telegram update envelope, archived message records,
// media descriptors, and the diff payloads shared across modules.
package models

import (
	"errors"
	"strings"
)

// Limits applied when building administrator notifications.
const (
	// MaxAlertFieldLength caps any free-text field embedded in an alert.
	MaxAlertFieldLength = 300
	// MaxCaptionLength is the transport limit for document captions.
	MaxCaptionLength = 1024
)

// Error variables for better error handling and testability
var (
	ErrMissingToken   = errors.New("bot token must be provided")
	ErrOversizedMedia = errors.New("media exceeds configured size limit")
	ErrMediaNotFound  = errors.New("file reference could not be resolved")
)

// User identifies a Telegram account.
type User struct {
	ID        int64  `json:"id"`
	Username  string `json:"username,omitempty"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
}

// DisplayName returns "First Last", trimmed when the last name is absent.
func (u User) DisplayName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// Chat identifies a Telegram conversation.
type Chat struct {
	ID   int64  `json:"id"`
	Type string `json:"type,omitempty"`
}

// PhotoSize is one rendition of a photo attachment. Telegram sends
// several per photo, ordered smallest to largest.
type PhotoSize struct {
	FileID   string `json:"file_id"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	FileSize int64  `json:"file_size,omitempty"`
}

// FileRef is a downloadable attachment reference (video, document,
// voice or audio).
type FileRef struct {
	FileID   string `json:"file_id"`
	FileName string `json:"file_name,omitempty"`
	FileSize int64  `json:"file_size,omitempty"`
}

// Message is a new or edited message envelope from the Bot API.
type Message struct {
	MessageID            int64       `json:"message_id"`
	BusinessConnectionID string      `json:"business_connection_id,omitempty"`
	From                 User        `json:"from"`
	Chat                 Chat        `json:"chat"`
	Date                 int64       `json:"date"`
	Text                 string      `json:"text,omitempty"`
	Photo                []PhotoSize `json:"photo,omitempty"`
	Video                *FileRef    `json:"video,omitempty"`
	Document             *FileRef    `json:"document,omitempty"`
	Voice                *FileRef    `json:"voice,omitempty"`
	Audio                *FileRef    `json:"audio,omitempty"`
	ForwardFrom          *User       `json:"forward_from,omitempty"`
	ForwardFromChat      *Chat       `json:"forward_from_chat,omitempty"`
	ForwardFromMessageID int64       `json:"forward_from_message_id,omitempty"`
}

// DeletedBusinessMessages is the batch deletion notice for a business chat.
type DeletedBusinessMessages struct {
	BusinessConnectionID string  `json:"business_connection_id"`
	Chat                 Chat    `json:"chat"`
	MessageIDs           []int64 `json:"message_ids"`
}

// BusinessConnection is the lifecycle event for a business link.
type BusinessConnection struct {
	ID        string `json:"id"`
	User      User   `json:"user"`
	IsEnabled bool   `json:"is_enabled"`
}

// Update is one polled event. Exactly one of the payload fields is set.
type Update struct {
	UpdateID                int64                    `json:"update_id"`
	Message                 *Message                 `json:"message,omitempty"`
	BusinessMessage         *Message                 `json:"business_message,omitempty"`
	EditedBusinessMessage   *Message                 `json:"edited_business_message,omitempty"`
	DeletedBusinessMessages *DeletedBusinessMessages `json:"deleted_business_messages,omitempty"`
	BusinessConnection      *BusinessConnection      `json:"business_connection,omitempty"`
}

// MediaKind tags the attachment type of a message.
type MediaKind string

const (
	MediaPhoto    MediaKind = "photo"
	MediaVideo    MediaKind = "video"
	MediaDocument MediaKind = "document"
	MediaVoice    MediaKind = "voice"
	MediaAudio    MediaKind = "audio"
)

// mediaExtractor pairs a kind with the function that pulls its file id
// out of a message.
type mediaExtractor struct {
	kind    MediaKind
	extract func(*Message) (string, bool)
}

// mediaExtractors is evaluated in fixed priority order; the first match
// wins and any further attachments on the same message are ignored.
var mediaExtractors = []mediaExtractor{
	{MediaPhoto, func(m *Message) (string, bool) {
		if len(m.Photo) == 0 {
			return "", false
		}
		// Last rendition is the largest.
		return m.Photo[len(m.Photo)-1].FileID, true
	}},
	{MediaVideo, func(m *Message) (string, bool) { return fileRefID(m.Video) }},
	{MediaDocument, func(m *Message) (string, bool) { return fileRefID(m.Document) }},
	{MediaVoice, func(m *Message) (string, bool) { return fileRefID(m.Voice) }},
	{MediaAudio, func(m *Message) (string, bool) { return fileRefID(m.Audio) }},
}

func fileRefID(ref *FileRef) (string, bool) {
	if ref == nil {
		return "", false
	}
	return ref.FileID, true
}

// MediaRef returns the kind and file id of the message's single tracked
// attachment, if any, honoring the extraction priority order.
func (m *Message) MediaRef() (MediaKind, string, bool) {
	for _, e := range mediaExtractors {
		if id, ok := e.extract(m); ok {
			return e.kind, id, true
		}
	}
	return "", "", false
}

// Media is a descriptor for a downloaded attachment. The zero value
// means "no media".
type Media struct {
	Kind MediaKind `json:"kind,omitempty"`
	Path string    `json:"path,omitempty"`
}

// IsZero reports whether the descriptor describes no media.
func (m Media) IsZero() bool {
	return m.Kind == "" && m.Path == ""
}

// MessageRecord is one archived message row. Identity is the
// (message_id, chat_id, business_id) tuple.
type MessageRecord struct {
	MessageID            int64
	ChatID               int64
	BusinessID           string
	UserID               int64
	Username             string
	Text                 string
	OriginalText         string
	Date                 int64
	Media                Media
	OriginalMedia        Media
	IsDeleted            bool
	IsEdited             bool
	ForwardFrom          string
	ForwardFromChat      int64
	ForwardFromMessageID int64
}

// EventKind classifies an administrator notification.
type EventKind string

const (
	EventDeleted EventKind = "deleted"
	EventEdited  EventKind = "edited"
	EventSpam    EventKind = "spam"
)

// Diff is a before/after summary of a message, used to build an alert.
// For spam events only Username, Date and PhotoCount are meaningful.
type Diff struct {
	Username      string
	Date          int64
	Text          string
	OriginalText  string
	Media         Media
	OriginalMedia Media
	PhotoCount    int
}

// ArchiveStats summarizes the archive for the /stats command.
type ArchiveStats struct {
	Total     int64
	Deleted   int64
	Edited    int64
	WithMedia int64
}
