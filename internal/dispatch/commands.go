package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/eg-rek/bizarchive/internal/models"
	"github.com/eg-rek/bizarchive/internal/util"
)

// handleCommand runs an administrative command. Commands from anyone
// but the configured administrator are ignored.
func (d *Dispatcher) handleCommand(ctx context.Context, msg *models.Message) {
	if msg.From.ID != d.adminID {
		return
	}

	fields := strings.Fields(msg.Text)
	if len(fields) == 0 {
		return
	}
	switch fields[0] {
	case "/stats":
		stats, err := d.archive.Stats()
		if err != nil {
			slog.Error("Failed to read stats", "error", err)
			return
		}
		text := fmt.Sprintf(
			"📊 Statistics:\nTotal messages: %d\nDeleted: %d\nEdited: %d\nWith media: %d",
			stats.Total, stats.Deleted, stats.Edited, stats.WithMedia)
		if err := d.api.SendMessage(ctx, d.adminID, text); err != nil {
			slog.Error("Failed to send stats", "error", err)
		}

	case "/size":
		size, err := util.DirSize(d.stateDir)
		if err != nil {
			slog.Error("Failed to measure state directory", "error", err, "dir", d.stateDir)
			return
		}
		text := fmt.Sprintf("📁 Project directory size: %s", util.HumanBytes(size))
		if err := d.api.SendMessage(ctx, d.adminID, text); err != nil {
			slog.Error("Failed to send size", "error", err)
		}
	}
}
