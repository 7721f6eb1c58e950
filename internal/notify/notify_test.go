package notify

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/eg-rek/bizarchive/internal/models"
)

type sentDoc struct {
	path    string
	caption string
}

type fakeSender struct {
	messages []string
	docs     []sentDoc
}

func (f *fakeSender) SendMessage(ctx context.Context, chatID int64, text string) error {
	f.messages = append(f.messages, text)
	return nil
}

func (f *fakeSender) SendDocument(ctx context.Context, chatID int64, path, caption string) error {
	f.docs = append(f.docs, sentDoc{path: path, caption: caption})
	return nil
}

func mediaFile(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte("data"), 0644); err != nil {
		t.Fatalf("failed to write media fixture: %v", err)
	}
	return path
}

func TestDeletedAlertText(t *testing.T) {
	sender := &fakeSender{}
	n := NewNotifier(sender, 500)

	diffs := []models.Diff{{
		Username: "ann",
		Date:     1_700_000_000,
		Text:     "see you",
	}}
	if err := n.Notify(context.Background(), diffs, models.EventDeleted); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sender.messages) != 1 {
		t.Fatalf("expected one plain-text alert, got %d", len(sender.messages))
	}
	alert := sender.messages[0]
	for _, want := range []string{"🚨 Message deleted in business chat!", "From: @ann", "Text: see you"} {
		if !strings.Contains(alert, want) {
			t.Errorf("alert missing %q:\n%s", want, alert)
		}
	}
}

func TestAlertFieldTruncation(t *testing.T) {
	sender := &fakeSender{}
	n := NewNotifier(sender, 500)

	long := strings.Repeat("x", 2*models.MaxAlertFieldLength)
	diffs := []models.Diff{{Username: "ann", Text: long}}
	if err := n.Notify(context.Background(), diffs, models.EventDeleted); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	alert := sender.messages[0]
	if strings.Contains(alert, long) {
		t.Error("long field was not truncated")
	}
	if !strings.Contains(alert, strings.Repeat("x", models.MaxAlertFieldLength)) {
		t.Error("truncated field should keep the leading characters")
	}
}

func TestTruncationCountsCharactersNotBytes(t *testing.T) {
	sender := &fakeSender{}
	n := NewNotifier(sender, 500)

	// An ASCII prefix pushes the cut point into the Cyrillic tail, where
	// a byte-based slice would split a rune.
	mixed := strings.Repeat("a", models.MaxAlertFieldLength-1) + strings.Repeat("щи", models.MaxAlertFieldLength)
	diffs := []models.Diff{{Username: "ann", Text: mixed}}
	if err := n.Notify(context.Background(), diffs, models.EventDeleted); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	alert := sender.messages[0]
	if !utf8.ValidString(alert) {
		t.Fatalf("alert contains invalid UTF-8 after truncation: %q", alert)
	}
	if !strings.Contains(alert, strings.Repeat("a", models.MaxAlertFieldLength-1)+"щ") {
		t.Errorf("field should keep exactly %d characters:\n%s", models.MaxAlertFieldLength, alert)
	}

	// All-Cyrillic text keeps the full character budget.
	sender.messages = nil
	long := strings.Repeat("ж", 2*models.MaxAlertFieldLength)
	if err := n.Notify(context.Background(), []models.Diff{{Username: "ann", Text: long}}, models.EventDeleted); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	alert = sender.messages[0]
	if !strings.Contains(alert, strings.Repeat("ж", models.MaxAlertFieldLength)) {
		t.Error("truncation must count characters, not bytes")
	}
	if strings.Contains(alert, strings.Repeat("ж", models.MaxAlertFieldLength+1)) {
		t.Error("field exceeds the character budget")
	}
}

func TestAttachmentShortCircuitsPlainText(t *testing.T) {
	sender := &fakeSender{}
	n := NewNotifier(sender, 500)

	path := mediaFile(t, "photo.jpg")
	diffs := []models.Diff{{
		Username: "ann",
		Text:     "gone",
		Media:    models.Media{Kind: models.MediaPhoto, Path: path},
	}}
	if err := n.Notify(context.Background(), diffs, models.EventDeleted); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sender.docs) != 1 || sender.docs[0].path != path {
		t.Fatalf("expected the archived media as attachment, got %+v", sender.docs)
	}
	if len(sender.messages) != 0 {
		t.Error("plain-text send must be skipped when the attachment carries the alert")
	}
	if !strings.Contains(sender.docs[0].caption, "🚨 Message deleted") {
		t.Errorf("attachment caption should carry the alert text:\n%s", sender.docs[0].caption)
	}
}

func TestMissingMediaFallsBackToPlainText(t *testing.T) {
	sender := &fakeSender{}
	n := NewNotifier(sender, 500)

	diffs := []models.Diff{{
		Username: "ann",
		Media:    models.Media{Kind: models.MediaPhoto, Path: "/nonexistent/photo.jpg"},
	}}
	if err := n.Notify(context.Background(), diffs, models.EventDeleted); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sender.docs) != 0 {
		t.Error("missing media file must not be attached")
	}
	if len(sender.messages) != 1 {
		t.Errorf("expected plain-text fallback, got %d messages", len(sender.messages))
	}
}

func TestEditedSendsOldThenNewAttachment(t *testing.T) {
	sender := &fakeSender{}
	n := NewNotifier(sender, 500)

	oldPath := mediaFile(t, "old.jpg")
	newPath := mediaFile(t, "new.mp4")
	diffs := []models.Diff{{
		Username:      "ann",
		Text:          "after",
		OriginalText:  "before",
		Media:         models.Media{Kind: models.MediaVideo, Path: newPath},
		OriginalMedia: models.Media{Kind: models.MediaPhoto, Path: oldPath},
	}}
	if err := n.Notify(context.Background(), diffs, models.EventEdited); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sender.docs) != 2 {
		t.Fatalf("expected old and new attachments, got %d", len(sender.docs))
	}
	if sender.docs[0].path != oldPath || sender.docs[1].path != newPath {
		t.Errorf("attachments out of order: %+v", sender.docs)
	}
	if !strings.HasSuffix(sender.docs[0].caption, "Old media:") {
		t.Errorf("first caption should end with the old-media marker:\n%s", sender.docs[0].caption)
	}
	if !strings.HasSuffix(sender.docs[1].caption, "New media:") {
		t.Errorf("second caption should end with the new-media marker:\n%s", sender.docs[1].caption)
	}
	if len(sender.messages) != 0 {
		t.Error("plain-text send must be skipped when attachments go out")
	}
	if !strings.Contains(sender.docs[1].caption, "Old text: before") || !strings.Contains(sender.docs[1].caption, "New text: after") {
		t.Errorf("edited alert should show both text versions:\n%s", sender.docs[1].caption)
	}
}

func TestCaptionCappedAtLimit(t *testing.T) {
	sender := &fakeSender{}
	n := NewNotifier(sender, 500)

	path := mediaFile(t, "photo.jpg")
	diffs := []models.Diff{{
		Username:     "ann",
		Text:         strings.Repeat("a", models.MaxAlertFieldLength),
		OriginalText: strings.Repeat("b", models.MaxAlertFieldLength),
		Media:        models.Media{Kind: models.MediaPhoto, Path: path},
		OriginalMedia: models.Media{
			Kind: models.MediaPhoto,
			Path: path,
		},
	}}
	if err := n.Notify(context.Background(), diffs, models.EventEdited); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, doc := range sender.docs {
		if len(doc.caption) > models.MaxCaptionLength {
			t.Errorf("caption exceeds the transport limit: %d bytes", len(doc.caption))
		}
	}
}

func TestSpamAlertNeverAttaches(t *testing.T) {
	sender := &fakeSender{}
	n := NewNotifier(sender, 500, WithSpamWindow(time.Minute), WithBlockDuration(2*time.Hour))

	path := mediaFile(t, "photo.jpg")
	diffs := []models.Diff{{
		Username:   "ann",
		Date:       1_700_000_000,
		PhotoCount: 6,
		Media:      models.Media{Kind: models.MediaPhoto, Path: path},
	}}
	if err := n.Notify(context.Background(), diffs, models.EventSpam); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sender.docs) != 0 {
		t.Error("spam alerts are text-only")
	}
	if len(sender.messages) != 1 {
		t.Fatalf("expected one spam alert, got %d", len(sender.messages))
	}
	alert := sender.messages[0]
	for _, want := range []string{"🚨 Spam detected in business chat!", "Sent 6 photos in the last 1 minute", "ignored for 2 hours"} {
		if !strings.Contains(alert, want) {
			t.Errorf("spam alert missing %q:\n%s", want, alert)
		}
	}
}

func TestOneAlertPerDiff(t *testing.T) {
	sender := &fakeSender{}
	n := NewNotifier(sender, 500)

	diffs := []models.Diff{{Username: "a"}, {Username: "b"}, {Username: "c"}}
	if err := n.Notify(context.Background(), diffs, models.EventDeleted); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sender.messages) != 3 {
		t.Errorf("expected one alert per diff, got %d", len(sender.messages))
	}
}
