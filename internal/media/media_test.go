package media

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/eg-rek/bizarchive/internal/models"
	"github.com/eg-rek/bizarchive/internal/telegram"
)

type fakeResolver struct {
	files     map[string]telegram.File
	content   string
	downloads int
}

func (f *fakeResolver) GetFile(ctx context.Context, fileID string) (telegram.File, error) {
	info, ok := f.files[fileID]
	if !ok {
		return telegram.File{}, models.ErrMediaNotFound
	}
	return info, nil
}

func (f *fakeResolver) Download(ctx context.Context, filePath string) (io.ReadCloser, error) {
	f.downloads++
	return io.NopCloser(strings.NewReader(f.content)), nil
}

func newTestStore(t *testing.T, resolver *fakeResolver, opts ...Option) (*Store, string) {
	t.Helper()
	dir := t.TempDir()
	store, err := NewStore(resolver, append([]Option{WithDir(dir)}, opts...)...)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	return store, dir
}

func TestFetchWritesFile(t *testing.T) {
	resolver := &fakeResolver{
		files:   map[string]telegram.File{"p1": {FileID: "p1", FileSize: 100, FilePath: "photos/p.jpg"}},
		content: "jpeg bytes",
	}
	store, dir := newTestStore(t, resolver)

	path, err := store.Fetch(context.Background(), "p1", models.MediaPhoto)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if filepath.Dir(path) != dir {
		t.Errorf("file written outside the media dir: %s", path)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("stored file unreadable: %v", err)
	}
	if string(content) != "jpeg bytes" {
		t.Errorf("stored content = %q", content)
	}

	// photo_YYYYMMDD_HHMMSS_<uuid>.jpg
	namePattern := regexp.MustCompile(`^photo_\d{8}_\d{6}_[0-9a-f-]{36}\.jpg$`)
	if base := filepath.Base(path); !namePattern.MatchString(base) {
		t.Errorf("file name %q does not match the expected pattern", base)
	}
}

func TestFetchRejectsOversizedBeforeDownload(t *testing.T) {
	resolver := &fakeResolver{
		files: map[string]telegram.File{"big": {FileID: "big", FileSize: 1000, FilePath: "videos/v.mp4"}},
	}
	store, _ := newTestStore(t, resolver, WithMaxBytes(999))

	_, err := store.Fetch(context.Background(), "big", models.MediaVideo)
	if !errors.Is(err, models.ErrOversizedMedia) {
		t.Fatalf("expected ErrOversizedMedia, got %v", err)
	}
	if resolver.downloads != 0 {
		t.Error("oversized file must be rejected before any download")
	}
}

func TestFetchUnknownFile(t *testing.T) {
	store, _ := newTestStore(t, &fakeResolver{})
	if _, err := store.Fetch(context.Background(), "ghost", models.MediaPhoto); !errors.Is(err, models.ErrMediaNotFound) {
		t.Errorf("expected ErrMediaNotFound, got %v", err)
	}
}

func TestUniqueNamesForSameReference(t *testing.T) {
	resolver := &fakeResolver{
		files:   map[string]telegram.File{"p1": {FileID: "p1", FileSize: 10, FilePath: "photos/p.jpg"}},
		content: "x",
	}
	store, _ := newTestStore(t, resolver)

	first, err := store.Fetch(context.Background(), "p1", models.MediaPhoto)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := store.Fetch(context.Background(), "p1", models.MediaPhoto)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first == second {
		t.Errorf("repeated fetches must not collide: %s", first)
	}
}

func TestRemove(t *testing.T) {
	store, dir := newTestStore(t, &fakeResolver{})

	path := filepath.Join(dir, "doomed.bin")
	if err := os.WriteFile(path, []byte("x"), 0644); err != nil {
		t.Fatalf("failed to write fixture: %v", err)
	}

	removed, err := store.Remove(path)
	if err != nil || !removed {
		t.Fatalf("expected removal, got removed=%v err=%v", removed, err)
	}

	// Missing and empty paths are not errors.
	removed, err = store.Remove(path)
	if err != nil || removed {
		t.Errorf("second removal should be a no-op, got removed=%v err=%v", removed, err)
	}
	removed, err = store.Remove("")
	if err != nil || removed {
		t.Errorf("empty path should be a no-op, got removed=%v err=%v", removed, err)
	}
}
