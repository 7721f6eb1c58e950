package dispatch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/eg-rek/bizarchive/internal/util"
)

// Backup copies the database file to a timestamped name, sends it to
// the administrator captioned with the state directory size, and
// removes the temporary copy. Failures are logged, never fatal.
func (d *Dispatcher) Backup(ctx context.Context) {
	if d.dbPath == "" {
		slog.Info("Skipping backup: database is not file-backed")
		return
	}

	backupPath := fmt.Sprintf("%s_backup_%s.db", d.dbPath, d.now().Format("20060102_150405"))
	if err := copyFile(d.dbPath, backupPath); err != nil {
		slog.Error("Backup copy failed", "error", err, "db", d.dbPath)
		return
	}
	defer os.Remove(backupPath)

	caption := "Daily database backup"
	if size, err := util.DirSize(d.stateDir); err == nil {
		caption = fmt.Sprintf("Daily database backup\n\nProject directory size: %s", util.HumanBytes(size))
	}

	if err := d.api.SendDocument(ctx, d.adminID, backupPath, caption); err != nil {
		slog.Error("Failed to send backup", "error", err, "path", backupPath)
		return
	}
	slog.Info("Backup sent", "path", backupPath)
}

// RetentionSweep purges records and media older than the retention
// window. Failures are logged, never fatal.
func (d *Dispatcher) RetentionSweep() {
	cutoff := d.now().Add(-d.retention).Unix()
	rows, files, err := d.archive.PurgeOlderThan(cutoff)
	if err != nil {
		slog.Error("Retention sweep failed", "error", err)
		return
	}
	slog.Info("Cleared old messages", "rows", rows, "media_files", files)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	return out.Close()
}
