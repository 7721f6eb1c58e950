// Package spam implements media-flood detection for bizarchive.
//
// A per-user sliding window counts photos; crossing the threshold
// blocks all media from that user for a fixed duration and raises a
// single administrator alert per block episode. State is persisted to
// a JSON side file so blocks survive restarts.
package spam

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/eg-rek/bizarchive/internal/models"
)

// Default policy parameters.
const (
	DefaultWindow        = time.Minute
	DefaultThreshold     = 5
	DefaultBlockDuration = time.Hour
	// DefaultStateFile is the side file holding tracker state.
	DefaultStateFile = "spam_tracker.json"
)

// sample is one (timestamp, count) observation inside the window.
// It serializes as a two-element array to stay compatible with
// previously written tracker files.
type sample struct {
	Time  float64
	Count int
}

func (s sample) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]float64{s.Time, float64(s.Count)})
}

func (s *sample) UnmarshalJSON(data []byte) error {
	var pair [2]float64
	if err := json.Unmarshal(data, &pair); err != nil {
		return err
	}
	s.Time = pair[0]
	s.Count = int(pair[1])
	return nil
}

// entry is the tracked state for one user.
type entry struct {
	Photos     []sample `json:"photos"`
	BlockUntil float64  `json:"block_until"`
	Notified   bool     `json:"notified"`
}

// AlertFunc receives the spam diff when a new block episode starts.
type AlertFunc func(diff models.Diff)

// Opts holds configuration options for the tracker.
type Opts struct {
	Path          string
	Window        time.Duration
	Threshold     int
	BlockDuration time.Duration
	Now           func() time.Time
	Alert         AlertFunc
}

// Option defines a configuration option for the tracker.
type Option func(*Opts)

// WithPath sets the side-file location.
func WithPath(path string) Option {
	return func(o *Opts) { o.Path = path }
}

// WithWindow sets the sliding-window length.
func WithWindow(d time.Duration) Option {
	return func(o *Opts) { o.Window = d }
}

// WithThreshold sets the photo count above which a block starts.
func WithThreshold(n int) Option {
	return func(o *Opts) { o.Threshold = n }
}

// WithBlockDuration sets how long media stays suppressed after a block.
func WithBlockDuration(d time.Duration) Option {
	return func(o *Opts) { o.BlockDuration = d }
}

// WithClock injects a time source (used in tests).
func WithClock(now func() time.Time) Option {
	return func(o *Opts) { o.Now = now }
}

// WithAlertFunc sets the callback fired once per block episode.
func WithAlertFunc(fn AlertFunc) Option {
	return func(o *Opts) { o.Alert = fn }
}

// Tracker holds per-user flood state. It is not safe for concurrent
// use; the dispatcher owns it from a single loop.
type Tracker struct {
	path          string
	window        time.Duration
	threshold     int
	blockDuration time.Duration
	now           func() time.Time
	alert         AlertFunc
	entries       map[int64]*entry
}

// NewTracker creates a tracker with the given options applied over the
// defaults. Call Load before first use to pick up persisted state.
func NewTracker(opts ...Option) *Tracker {
	cfg := Opts{
		Path:          DefaultStateFile,
		Window:        DefaultWindow,
		Threshold:     DefaultThreshold,
		BlockDuration: DefaultBlockDuration,
		Now:           time.Now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Tracker{
		path:          cfg.Path,
		window:        cfg.Window,
		threshold:     cfg.Threshold,
		blockDuration: cfg.BlockDuration,
		now:           cfg.Now,
		alert:         cfg.Alert,
		entries:       make(map[int64]*entry),
	}
}

// Load reads tracker state from the side file. A missing file is not
// an error; any other failure leaves the tracker empty.
func (t *Tracker) Load() error {
	data, err := os.ReadFile(t.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read spam tracker %s: %w", t.path, err)
	}
	entries := make(map[int64]*entry)
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("decode spam tracker %s: %w", t.path, err)
	}
	t.entries = entries
	slog.Debug("Spam tracker loaded", "path", t.path, "users", len(entries))
	return nil
}

// Save writes tracker state to the side file.
func (t *Tracker) Save() error {
	data, err := json.MarshalIndent(t.entries, "", "  ")
	if err != nil {
		return fmt.Errorf("encode spam tracker: %w", err)
	}
	if err := os.WriteFile(t.path, data, 0644); err != nil {
		return fmt.Errorf("write spam tracker %s: %w", t.path, err)
	}
	return nil
}

// persist saves after a mutation; failures are logged, never returned,
// so a full disk cannot stall update processing.
func (t *Tracker) persist() {
	if err := t.Save(); err != nil {
		slog.Error("Failed to persist spam tracker", "error", err)
	}
}

// trackedMedia lists the kinds an active block suppresses.
func trackedMedia(kind models.MediaKind) bool {
	switch kind {
	case models.MediaPhoto, models.MediaVideo, models.MediaDocument, models.MediaVoice, models.MediaAudio:
		return true
	}
	return false
}

// ShouldSuppressMedia evaluates one observation and reports whether its
// media must be dropped. Only photos feed the counter; other kinds are
// gated by an existing block but never start one. Crossing the
// threshold raises the alert callback at most once per tracker entry.
func (t *Tracker) ShouldSuppressMedia(userID int64, username, displayName string, kind models.MediaKind, date int64) bool {
	now := t.now()
	nowUnix := float64(now.UnixNano()) / float64(time.Second)

	e, ok := t.entries[userID]
	if !ok {
		e = &entry{}
		t.entries[userID] = e
	}

	if nowUnix < e.BlockUntil {
		if trackedMedia(kind) {
			slog.Info("Ignored media from blocked user", "kind", kind, "username", username, "name", displayName)
			return true
		}
		return false
	}

	if kind == models.MediaPhoto {
		// Drop samples that fell out of the window.
		kept := e.Photos[:0]
		for _, s := range e.Photos {
			if nowUnix-s.Time < t.window.Seconds() {
				kept = append(kept, s)
			}
		}
		e.Photos = append(kept, sample{Time: nowUnix, Count: 1})

		count := 0
		for _, s := range e.Photos {
			count += s.Count
		}

		if count > t.threshold {
			e.BlockUntil = nowUnix + t.blockDuration.Seconds()
			if !e.Notified {
				slog.Warn("Spam detected, blocking media", "username", username, "name", displayName, "photos", count, "block_for", t.blockDuration)
				if t.alert != nil {
					t.alert(models.Diff{Username: username, Date: date, PhotoCount: count})
				}
				e.Notified = true
			}
			t.persist()
			return true
		}
	}

	t.persist()
	return false
}

// Reset forgets all state for a user, clearing any block and the
// notified flag.
func (t *Tracker) Reset(userID int64) {
	if _, ok := t.entries[userID]; !ok {
		return
	}
	delete(t.entries, userID)
	t.persist()
}
