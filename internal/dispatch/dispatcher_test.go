package dispatch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/eg-rek/bizarchive/internal/models"
)

type fakeBotAPI struct {
	updates []models.Update
	err     error
	sent    []string
}

func (f *fakeBotAPI) GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]models.Update, error) {
	return f.updates, f.err
}

func (f *fakeBotAPI) SendMessage(ctx context.Context, chatID int64, text string) error {
	f.sent = append(f.sent, text)
	return nil
}

func (f *fakeBotAPI) SendDocument(ctx context.Context, chatID int64, path, caption string) error {
	return nil
}

type fakeArchive struct {
	newErr     error
	editDiff   *models.Diff
	delDiffs   []models.Diff
	stats      models.ArchiveStats
	newIDs     []int64
	editIDs    []int64
	deletedIDs []int64
	purgeCalls int
}

func (f *fakeArchive) RecordNew(ctx context.Context, msg *models.Message, businessID string) error {
	f.newIDs = append(f.newIDs, msg.MessageID)
	return f.newErr
}

func (f *fakeArchive) RecordEdit(ctx context.Context, businessID string, chatID, messageID int64, newMsg *models.Message) (*models.Diff, error) {
	f.editIDs = append(f.editIDs, messageID)
	return f.editDiff, nil
}

func (f *fakeArchive) RecordDeletions(businessID string, chatID int64, messageIDs []int64) ([]models.Diff, error) {
	f.deletedIDs = append(f.deletedIDs, messageIDs...)
	return f.delDiffs, nil
}

func (f *fakeArchive) PurgeOlderThan(cutoff int64) (int64, int, error) {
	f.purgeCalls++
	return 0, 0, nil
}

func (f *fakeArchive) Stats() (models.ArchiveStats, error) {
	return f.stats, nil
}

type fakeNotifier struct {
	calls []models.EventKind
	diffs [][]models.Diff
}

func (f *fakeNotifier) Notify(ctx context.Context, diffs []models.Diff, kind models.EventKind) error {
	f.calls = append(f.calls, kind)
	f.diffs = append(f.diffs, diffs)
	return nil
}

const connID = "conn-1"

func newTestDispatcher(api *fakeBotAPI, arch *fakeArchive, n *fakeNotifier, opts ...Option) *Dispatcher {
	base := []Option{WithAdminID(500), WithBusinessID(connID)}
	return NewDispatcher(api, arch, n, nil, append(base, opts...)...)
}

func bizMessage(id int64, text string) *models.Message {
	return &models.Message{
		MessageID:            id,
		BusinessConnectionID: connID,
		From:                 models.User{ID: 11, Username: "ann"},
		Chat:                 models.Chat{ID: 100},
		Date:                 1_700_000_000,
		Text:                 text,
	}
}

func TestPollAdvancesOffsetPastFailures(t *testing.T) {
	api := &fakeBotAPI{updates: []models.Update{
		{UpdateID: 10, BusinessMessage: bizMessage(1, "a")},
		{UpdateID: 11, BusinessMessage: bizMessage(2, "b")},
		{UpdateID: 12, BusinessMessage: bizMessage(3, "c")},
	}}
	arch := &fakeArchive{newErr: errors.New("disk full")}
	d := newTestDispatcher(api, arch, &fakeNotifier{})

	next, err := d.PollAndDispatch(context.Background(), 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if next != 13 {
		t.Errorf("offset = %d, want 13 despite per-update failures", next)
	}
	if len(arch.newIDs) != 3 {
		t.Errorf("all updates should be attempted, got %d", len(arch.newIDs))
	}
}

func TestPollErrorKeepsOffset(t *testing.T) {
	api := &fakeBotAPI{err: errors.New("connection refused")}
	d := newTestDispatcher(api, &fakeArchive{}, &fakeNotifier{})

	next, err := d.PollAndDispatch(context.Background(), 42)
	if err == nil {
		t.Fatal("expected the fetch error to propagate")
	}
	if next != 42 {
		t.Errorf("offset = %d, must stay 42 on a fetch error", next)
	}
}

func TestOffsetNeverRegresses(t *testing.T) {
	api := &fakeBotAPI{updates: []models.Update{
		{UpdateID: 5, BusinessMessage: bizMessage(1, "late")},
	}}
	d := newTestDispatcher(api, &fakeArchive{}, &fakeNotifier{})

	next, err := d.PollAndDispatch(context.Background(), 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if next != 10 {
		t.Errorf("offset = %d, must not regress below 10", next)
	}
}

func TestNewMessageBusinessGating(t *testing.T) {
	other := bizMessage(2, "other")
	other.BusinessConnectionID = "other-conn"
	api := &fakeBotAPI{updates: []models.Update{
		{UpdateID: 1, BusinessMessage: bizMessage(1, "ours")},
		{UpdateID: 2, BusinessMessage: other},
	}}
	arch := &fakeArchive{}
	d := newTestDispatcher(api, arch, &fakeNotifier{})

	if _, err := d.PollAndDispatch(context.Background(), 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(arch.newIDs) != 1 || arch.newIDs[0] != 1 {
		t.Errorf("only the configured connection's messages should be archived, got %v", arch.newIDs)
	}
}

func TestEditNotifiesOnlyWhenArchived(t *testing.T) {
	api := &fakeBotAPI{updates: []models.Update{
		{UpdateID: 1, EditedBusinessMessage: bizMessage(7, "edited")},
	}}
	arch := &fakeArchive{editDiff: &models.Diff{Username: "ann", Text: "edited", OriginalText: "orig"}}
	n := &fakeNotifier{}
	d := newTestDispatcher(api, arch, n)

	if _, err := d.PollAndDispatch(context.Background(), 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(n.calls) != 1 || n.calls[0] != models.EventEdited {
		t.Fatalf("expected one edited notification, got %v", n.calls)
	}

	// An edit with no archived record produces no notification.
	arch.editDiff = nil
	n.calls = nil
	if _, err := d.PollAndDispatch(context.Background(), 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(n.calls) != 0 {
		t.Errorf("edit of an unknown message must not notify, got %v", n.calls)
	}
}

func TestDeletionsNotifyWithSnapshots(t *testing.T) {
	api := &fakeBotAPI{updates: []models.Update{
		{UpdateID: 1, DeletedBusinessMessages: &models.DeletedBusinessMessages{
			BusinessConnectionID: connID,
			Chat:                 models.Chat{ID: 100},
			MessageIDs:           []int64{4, 5, 6},
		}},
	}}
	arch := &fakeArchive{delDiffs: []models.Diff{{Text: "one"}, {Text: "two"}}}
	n := &fakeNotifier{}
	d := newTestDispatcher(api, arch, n)

	if _, err := d.PollAndDispatch(context.Background(), 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(arch.deletedIDs) != 3 {
		t.Errorf("all reported ids should be passed through, got %v", arch.deletedIDs)
	}
	if len(n.calls) != 1 || n.calls[0] != models.EventDeleted {
		t.Fatalf("expected one deleted notification, got %v", n.calls)
	}
	if len(n.diffs[0]) != 2 {
		t.Errorf("notification should carry the archived snapshots, got %d", len(n.diffs[0]))
	}

	// No archived records, no notification.
	arch.delDiffs = nil
	n.calls = nil
	if _, err := d.PollAndDispatch(context.Background(), 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(n.calls) != 0 {
		t.Errorf("deletions with no archived records must not notify, got %v", n.calls)
	}
}

func TestCommandAdminGate(t *testing.T) {
	stats := models.ArchiveStats{Total: 9, Deleted: 2, Edited: 1, WithMedia: 3}
	fromStranger := &models.Message{From: models.User{ID: 999}, Chat: models.Chat{ID: 999}, Text: "/stats"}
	fromAdmin := &models.Message{From: models.User{ID: 500}, Chat: models.Chat{ID: 500}, Text: "/stats"}
	api := &fakeBotAPI{updates: []models.Update{
		{UpdateID: 1, Message: fromStranger},
		{UpdateID: 2, Message: fromAdmin},
	}}
	d := newTestDispatcher(api, &fakeArchive{stats: stats}, &fakeNotifier{})

	if _, err := d.PollAndDispatch(context.Background(), 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(api.sent) != 1 {
		t.Fatalf("only the admin's command should be answered, got %d replies", len(api.sent))
	}
	reply := api.sent[0]
	for _, want := range []string{"📊 Statistics:", "Total messages: 9", "Deleted: 2", "Edited: 1", "With media: 3"} {
		if !strings.Contains(reply, want) {
			t.Errorf("stats reply missing %q:\n%s", want, reply)
		}
	}
}

// steppingAPI advances a fake clock one day per poll and cancels the
// run context once the call budget is spent.
type steppingAPI struct {
	calls  int
	limit  int
	now    *time.Time
	cancel context.CancelFunc
	sent   []string
	docs   []string
}

func (s *steppingAPI) GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]models.Update, error) {
	s.calls++
	*s.now = s.now.Add(24 * time.Hour)
	if s.calls >= s.limit {
		s.cancel()
		return nil, ctx.Err()
	}
	return nil, nil
}

func (s *steppingAPI) SendMessage(ctx context.Context, chatID int64, text string) error {
	s.sent = append(s.sent, text)
	return nil
}

func (s *steppingAPI) SendDocument(ctx context.Context, chatID int64, path, caption string) error {
	s.docs = append(s.docs, path)
	return nil
}

func TestRunExecutesDailyJobsBetweenCycles(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	api := &steppingAPI{limit: 3, now: &now, cancel: cancel}
	arch := &fakeArchive{}
	d := NewDispatcher(api, arch, &fakeNotifier{}, nil,
		WithAdminID(500), WithBusinessID(connID),
		WithClock(func() time.Time { return now }),
		WithCycleDelay(time.Millisecond), WithRetryDelay(time.Millisecond))

	if err := d.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation to end the loop, got %v", err)
	}
	// Each crossed midnight triggers one sweep, run from the loop
	// itself rather than a background goroutine.
	if arch.purgeCalls != 2 {
		t.Errorf("retention sweeps = %d, want 2", arch.purgeCalls)
	}
}

func TestBackupJobHonorsDisableFlag(t *testing.T) {
	runOnce := func(enabled bool) *steppingAPI {
		stateDir := t.TempDir()
		dbPath := filepath.Join(stateDir, "messages.db")
		if err := os.WriteFile(dbPath, []byte("sqlite bytes"), 0644); err != nil {
			t.Fatalf("failed to write fixture: %v", err)
		}

		now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		api := &steppingAPI{limit: 2, now: &now, cancel: cancel}
		d := NewDispatcher(api, &fakeArchive{}, &fakeNotifier{}, nil,
			WithAdminID(500), WithBusinessID(connID),
			WithStateDir(stateDir), WithDBPath(dbPath),
			WithBackupEnabled(enabled),
			WithClock(func() time.Time { return now }),
			WithCycleDelay(time.Millisecond), WithRetryDelay(time.Millisecond))
		if err := d.Run(ctx); !errors.Is(err, context.Canceled) {
			t.Fatalf("expected cancellation to end the loop, got %v", err)
		}
		return api
	}

	if api := runOnce(true); len(api.docs) != 1 {
		t.Errorf("enabled backup should send one database copy, sent %d", len(api.docs))
	}
	if api := runOnce(false); len(api.docs) != 0 {
		t.Errorf("disabled backup must not send anything, sent %d", len(api.docs))
	}
}

func TestUnknownUpdatesAreSkipped(t *testing.T) {
	api := &fakeBotAPI{updates: []models.Update{
		{UpdateID: 30}, // empty envelope
		{UpdateID: 31, Message: &models.Message{From: models.User{ID: 500}}}, // no text
	}}
	arch := &fakeArchive{}
	d := newTestDispatcher(api, arch, &fakeNotifier{})

	next, err := d.PollAndDispatch(context.Background(), 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if next != 32 {
		t.Errorf("offset = %d, want 32; unknown updates still advance it", next)
	}
	if len(arch.newIDs) != 0 || len(api.sent) != 0 {
		t.Error("unknown updates must not reach the archive or transport")
	}
}
