// Package notify formats and delivers administrator alerts for
// deleted, edited and spam events, attaching archived media when it is
// still present on disk.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/eg-rek/bizarchive/internal/models"
)

// Sender delivers outbound messages to the administrator chat.
// Implemented by telegram.Client.
type Sender interface {
	SendMessage(ctx context.Context, chatID int64, text string) error
	SendDocument(ctx context.Context, chatID int64, path, caption string) error
}

// Opts holds configuration options for the notifier.
type Opts struct {
	SpamWindow    time.Duration
	BlockDuration time.Duration
}

// Option defines a configuration option for the notifier.
type Option func(*Opts)

// WithSpamWindow sets the window length quoted in spam alerts.
func WithSpamWindow(d time.Duration) Option {
	return func(o *Opts) { o.SpamWindow = d }
}

// WithBlockDuration sets the block length quoted in spam alerts.
func WithBlockDuration(d time.Duration) Option {
	return func(o *Opts) { o.BlockDuration = d }
}

// Notifier builds one alert per diff and sends it to the admin chat.
type Notifier struct {
	sender        Sender
	adminID       int64
	spamWindow    time.Duration
	blockDuration time.Duration
}

// NewNotifier creates a notifier delivering to the given admin chat id.
func NewNotifier(sender Sender, adminID int64, opts ...Option) *Notifier {
	cfg := Opts{SpamWindow: time.Minute, BlockDuration: time.Hour}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Notifier{sender: sender, adminID: adminID, spamWindow: cfg.SpamWindow, blockDuration: cfg.BlockDuration}
}

// truncate caps a free-text field for embedding in an alert. The limit
// counts characters, not bytes, so multi-byte text is never cut
// mid-rune.
func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	return string([]rune(s)[:max])
}

// cap1024 enforces the transport caption limit.
func cap1024(s string) string {
	return truncate(s, models.MaxCaptionLength)
}

func formatDate(ts int64) string {
	return time.Unix(ts, 0).Format("2006-01-02 15:04:05")
}

// humanDuration renders durations the way a person would say them
// ("1 minute", "2 hours").
func humanDuration(d time.Duration) string {
	switch {
	case d >= time.Hour && d%time.Hour == 0:
		n := int(d / time.Hour)
		if n == 1 {
			return "1 hour"
		}
		return fmt.Sprintf("%d hours", n)
	case d >= time.Minute && d%time.Minute == 0:
		n := int(d / time.Minute)
		if n == 1 {
			return "1 minute"
		}
		return fmt.Sprintf("%d minutes", n)
	default:
		return d.String()
	}
}

// formatAlert builds the kind-specific alert body for one diff.
func (n *Notifier) formatAlert(diff models.Diff, kind models.EventKind) string {
	var b strings.Builder
	switch kind {
	case models.EventEdited:
		b.WriteString("✏️ Message edited in business chat!\n\n")
		fmt.Fprintf(&b, "From: @%s\n", diff.Username)
		fmt.Fprintf(&b, "Date: %s\n", formatDate(diff.Date))
		if diff.OriginalText != "" {
			fmt.Fprintf(&b, "Old text: %s\n", truncate(diff.OriginalText, models.MaxAlertFieldLength))
		}
		if diff.Text != "" {
			fmt.Fprintf(&b, "New text: %s\n", truncate(diff.Text, models.MaxAlertFieldLength))
		}
		if diff.OriginalMedia.Kind != "" {
			fmt.Fprintf(&b, "Old media: %s\n", diff.OriginalMedia.Kind)
		}
		if diff.Media.Kind != "" {
			fmt.Fprintf(&b, "New media: %s\n", diff.Media.Kind)
		}
	case models.EventSpam:
		b.WriteString("🚨 Spam detected in business chat!\n\n")
		fmt.Fprintf(&b, "From: @%s\n", diff.Username)
		fmt.Fprintf(&b, "Date: %s\n", formatDate(diff.Date))
		fmt.Fprintf(&b, "Sent %d photos in the last %s\n", diff.PhotoCount, humanDuration(n.spamWindow))
		fmt.Fprintf(&b, "Media from this user will be ignored for %s", humanDuration(n.blockDuration))
	default: // deleted
		b.WriteString("🚨 Message deleted in business chat!\n\n")
		fmt.Fprintf(&b, "From: @%s\n", diff.Username)
		fmt.Fprintf(&b, "Date: %s\n", formatDate(diff.Date))
		if diff.Text != "" {
			fmt.Fprintf(&b, "Text: %s\n", truncate(diff.Text, models.MaxAlertFieldLength))
		}
		if diff.Media.Kind != "" {
			fmt.Fprintf(&b, "Media: %s\n", diff.Media.Kind)
		}
	}
	return b.String()
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// Notify sends one alert per diff. When archived media is still on
// disk it is attached as a document and the plain-text send is
// skipped; an edited diff with both media versions produces two
// attachment sends (old first, then new).
func (n *Notifier) Notify(ctx context.Context, diffs []models.Diff, kind models.EventKind) error {
	var errs []error
	for _, diff := range diffs {
		alert := n.formatAlert(diff, kind)

		if kind == models.EventEdited && fileExists(diff.OriginalMedia.Path) {
			if err := n.sender.SendDocument(ctx, n.adminID, diff.OriginalMedia.Path, cap1024(alert+"Old media:")); err != nil {
				slog.Error("Failed to send old-media alert attachment", "error", err)
				errs = append(errs, err)
			}
		}

		if kind != models.EventSpam && fileExists(diff.Media.Path) {
			caption := alert
			if kind == models.EventEdited {
				caption = alert + "New media:"
			}
			if err := n.sender.SendDocument(ctx, n.adminID, diff.Media.Path, cap1024(caption)); err != nil {
				slog.Error("Failed to send alert attachment", "error", err)
				errs = append(errs, err)
			}
			// The attachment carries the alert text as its caption;
			// sending the plain-text copy too would duplicate it.
			continue
		}

		if err := n.sender.SendMessage(ctx, n.adminID, alert); err != nil {
			slog.Error("Failed to send alert", "error", err, "kind", kind)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
