// Package dispatch implements the polling loop of bizarchive.
//
// The dispatcher pulls update batches from the Bot API, classifies
// each update and routes it to the archive, spam policy and notifier.
// It owns the polling offset and the retry/backoff behavior, plus the
// two daily maintenance jobs.
package dispatch

import (
	"context"
	"log/slog"
	"time"

	"github.com/eg-rek/bizarchive/internal/events"
	"github.com/eg-rek/bizarchive/internal/models"
	"github.com/eg-rek/bizarchive/internal/scheduler"
)

// Default loop timing constants.
const (
	// DefaultPollTimeout is the long-poll window passed to getUpdates.
	DefaultPollTimeout = 30 * time.Second
	// DefaultRetryDelay is the fixed backoff after a failed poll cycle.
	DefaultRetryDelay = 5 * time.Second
	// DefaultCycleDelay bounds the request rate between successful cycles.
	DefaultCycleDelay = 1 * time.Second
	// DefaultBackupAt and DefaultSweepAt are the daily job trigger times.
	DefaultBackupAt = "00:00"
	DefaultSweepAt  = "00:03"
	// DefaultRetention is the record/media retention window.
	DefaultRetention = 30 * 24 * time.Hour
)

// BotAPI is the outbound transport the dispatcher needs.
// Implemented by telegram.Client.
type BotAPI interface {
	GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]models.Update, error)
	SendMessage(ctx context.Context, chatID int64, text string) error
	SendDocument(ctx context.Context, chatID int64, path, caption string) error
}

// Archive is the message persistence contract.
// Implemented by archive.Archiver.
type Archive interface {
	RecordNew(ctx context.Context, msg *models.Message, businessID string) error
	RecordEdit(ctx context.Context, businessID string, chatID, messageID int64, newMsg *models.Message) (*models.Diff, error)
	RecordDeletions(businessID string, chatID int64, messageIDs []int64) ([]models.Diff, error)
	PurgeOlderThan(cutoff int64) (int64, int, error)
	Stats() (models.ArchiveStats, error)
}

// Notifier delivers administrator alerts.
// Implemented by notify.Notifier.
type Notifier interface {
	Notify(ctx context.Context, diffs []models.Diff, kind models.EventKind) error
}

// Opts holds configuration options for the dispatcher.
type Opts struct {
	AdminID     int64
	BusinessID  string
	StateDir    string
	DBPath      string
	PollTimeout time.Duration
	RetryDelay  time.Duration
	CycleDelay  time.Duration
	Retention     time.Duration
	BackupAt      string
	SweepAt       string
	BackupEnabled bool
	Now           func() time.Time
}

// Option defines a configuration option for the dispatcher.
type Option func(*Opts)

// WithAdminID sets the administrator chat/user id.
func WithAdminID(id int64) Option {
	return func(o *Opts) { o.AdminID = id }
}

// WithBusinessID sets the single allowed business-connection id.
func WithBusinessID(id string) Option {
	return func(o *Opts) { o.BusinessID = id }
}

// WithStateDir sets the directory measured by the /size command.
func WithStateDir(dir string) Option {
	return func(o *Opts) { o.StateDir = dir }
}

// WithDBPath sets the SQLite file the daily backup job copies.
// Leave empty for non-file-backed databases.
func WithDBPath(path string) Option {
	return func(o *Opts) { o.DBPath = path }
}

// WithPollTimeout sets the long-poll window.
func WithPollTimeout(d time.Duration) Option {
	return func(o *Opts) { o.PollTimeout = d }
}

// WithRetryDelay sets the backoff after a failed cycle.
func WithRetryDelay(d time.Duration) Option {
	return func(o *Opts) { o.RetryDelay = d }
}

// WithCycleDelay sets the pause between successful cycles.
func WithCycleDelay(d time.Duration) Option {
	return func(o *Opts) { o.CycleDelay = d }
}

// WithRetention sets the record/media retention window.
func WithRetention(d time.Duration) Option {
	return func(o *Opts) { o.Retention = d }
}

// WithBackupEnabled toggles the daily database backup job.
func WithBackupEnabled(enabled bool) Option {
	return func(o *Opts) { o.BackupEnabled = enabled }
}

// WithClock injects a time source (used in tests).
func WithClock(now func() time.Time) Option {
	return func(o *Opts) { o.Now = now }
}

// Dispatcher routes polled updates to the archiver and notifier.
type Dispatcher struct {
	api       BotAPI
	archive   Archive
	notifier  Notifier
	publisher *events.Publisher

	adminID       int64
	businessID    string
	stateDir      string
	dbPath        string
	pollTimeout   time.Duration
	retryDelay    time.Duration
	cycleDelay    time.Duration
	retention     time.Duration
	backupAt      string
	sweepAt       string
	backupEnabled bool
	now           func() time.Time
}

// NewDispatcher creates a dispatcher. The publisher may be nil to
// disable event publishing.
func NewDispatcher(api BotAPI, arch Archive, notifier Notifier, publisher *events.Publisher, opts ...Option) *Dispatcher {
	cfg := Opts{
		PollTimeout:   DefaultPollTimeout,
		RetryDelay:    DefaultRetryDelay,
		CycleDelay:    DefaultCycleDelay,
		Retention:     DefaultRetention,
		BackupAt:      DefaultBackupAt,
		SweepAt:       DefaultSweepAt,
		BackupEnabled: true,
		Now:           time.Now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Dispatcher{
		api:           api,
		archive:       arch,
		notifier:      notifier,
		publisher:     publisher,
		adminID:       cfg.AdminID,
		businessID:    cfg.BusinessID,
		stateDir:      cfg.StateDir,
		dbPath:        cfg.DBPath,
		pollTimeout:   cfg.PollTimeout,
		retryDelay:    cfg.RetryDelay,
		cycleDelay:    cfg.CycleDelay,
		retention:     cfg.Retention,
		backupAt:      cfg.BackupAt,
		sweepAt:       cfg.SweepAt,
		backupEnabled: cfg.BackupEnabled,
		now:           cfg.Now,
	}
}

// updateKind classifies one polled update.
type updateKind int

const (
	kindUnknown updateKind = iota
	kindCommand
	kindNewMessage
	kindEditedMessage
	kindDeletedMessages
	kindConnectionEvent
)

// classify maps an update envelope to exactly one kind. Unrecognized
// shapes come back as kindUnknown and are skipped by the caller.
func classify(u models.Update) updateKind {
	switch {
	case u.BusinessMessage != nil:
		return kindNewMessage
	case u.EditedBusinessMessage != nil:
		return kindEditedMessage
	case u.DeletedBusinessMessages != nil:
		return kindDeletedMessages
	case u.BusinessConnection != nil:
		return kindConnectionEvent
	case u.Message != nil && u.Message.Text != "":
		return kindCommand
	default:
		return kindUnknown
	}
}

// PollAndDispatch fetches one batch of updates starting after offset,
// processes them in order, and returns the next offset. The offset
// advances past every update in the batch even when individual updates
// fail to process; it never regresses. On a fetch error the input
// offset is returned unchanged.
func (d *Dispatcher) PollAndDispatch(ctx context.Context, offset int64) (int64, error) {
	updates, err := d.api.GetUpdates(ctx, offset, d.pollTimeout)
	if err != nil {
		return offset, err
	}

	next := offset
	for _, u := range updates {
		if u.UpdateID+1 > next {
			next = u.UpdateID + 1
		}
		d.processUpdate(ctx, u)
	}
	return next, nil
}

// processUpdate routes one update. Processing errors are logged and
// swallowed so a poison update cannot stall the loop.
func (d *Dispatcher) processUpdate(ctx context.Context, u models.Update) {
	switch classify(u) {
	case kindCommand:
		d.handleCommand(ctx, u.Message)

	case kindNewMessage:
		msg := u.BusinessMessage
		if msg.BusinessConnectionID != d.businessID {
			return
		}
		if err := d.archive.RecordNew(ctx, msg, msg.BusinessConnectionID); err != nil {
			slog.Error("Failed to archive new message", "error", err, "message_id", msg.MessageID)
			return
		}
		d.publisher.Publish(events.Event{
			Kind:       events.KindNew,
			BusinessID: msg.BusinessConnectionID,
			ChatID:     msg.Chat.ID,
			MessageIDs: []int64{msg.MessageID},
			Username:   msg.From.Username,
			Date:       msg.Date,
		})

	case kindEditedMessage:
		edited := u.EditedBusinessMessage
		if edited.BusinessConnectionID != d.businessID {
			return
		}
		diff, err := d.archive.RecordEdit(ctx, edited.BusinessConnectionID, edited.Chat.ID, edited.MessageID, edited)
		if err != nil {
			slog.Error("Failed to record edit", "error", err, "message_id", edited.MessageID)
			return
		}
		if diff == nil {
			return
		}
		if err := d.notifier.Notify(ctx, []models.Diff{*diff}, models.EventEdited); err != nil {
			slog.Error("Failed to notify about edit", "error", err, "message_id", edited.MessageID)
		}
		slog.Info("Recorded message edit", "username", diff.Username, "name", edited.From.DisplayName())
		d.publisher.Publish(events.Event{
			Kind:       events.KindEdited,
			BusinessID: edited.BusinessConnectionID,
			ChatID:     edited.Chat.ID,
			MessageIDs: []int64{edited.MessageID},
			Username:   diff.Username,
			Date:       diff.Date,
		})

	case kindDeletedMessages:
		deleted := u.DeletedBusinessMessages
		if deleted.BusinessConnectionID != d.businessID {
			return
		}
		diffs, err := d.archive.RecordDeletions(deleted.BusinessConnectionID, deleted.Chat.ID, deleted.MessageIDs)
		if err != nil {
			slog.Error("Failed to record deletions", "error", err, "chat_id", deleted.Chat.ID)
			return
		}
		if len(diffs) == 0 {
			return
		}
		if err := d.notifier.Notify(ctx, diffs, models.EventDeleted); err != nil {
			slog.Error("Failed to notify about deletions", "error", err, "chat_id", deleted.Chat.ID)
		}
		slog.Info("Recorded message deletions", "count", len(diffs), "chat_id", deleted.Chat.ID)
		d.publisher.Publish(events.Event{
			Kind:       events.KindDeleted,
			BusinessID: deleted.BusinessConnectionID,
			ChatID:     deleted.Chat.ID,
			MessageIDs: deleted.MessageIDs,
		})

	case kindConnectionEvent:
		conn := u.BusinessConnection
		slog.Info("Business connection event", "connection_id", conn.ID, "enabled", conn.IsEnabled, "user", conn.User.Username)

	default:
		slog.Debug("Skipping unrecognized update", "update_id", u.UpdateID)
	}
}

// Run executes the polling loop until the context is canceled. Network
// failures are retried with a fixed delay and never terminate the
// loop. Due maintenance jobs run synchronously at the top of each
// iteration, so they never overlap update processing or catch the
// database mid-write; their failures only log.
func (d *Dispatcher) Run(ctx context.Context) error {
	sched := scheduler.NewScheduler(scheduler.WithClock(d.now))
	if d.backupEnabled {
		if err := sched.AddDailyJob(d.backupAt, func() { d.Backup(ctx) }); err != nil {
			return err
		}
	}
	if err := sched.AddDailyJob(d.sweepAt, func() { d.RetentionSweep() }); err != nil {
		return err
	}

	slog.Info("Archive bot started. Tracking messages, media, edits, and deletions...")

	var offset int64
	for {
		sched.RunPending()

		next, err := d.PollAndDispatch(ctx, offset)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			slog.Error("Failed to fetch updates, retrying", "error", err, "delay", d.retryDelay)
			if !sleepCtx(ctx, d.retryDelay) {
				return ctx.Err()
			}
			continue
		}
		offset = next

		if !sleepCtx(ctx, d.cycleDelay) {
			return ctx.Err()
		}
	}
}

// sleepCtx sleeps for d unless the context ends first. It reports
// whether the full delay elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
