package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/eg-rek/bizarchive/internal/archive"
	"github.com/eg-rek/bizarchive/internal/dispatch"
	"github.com/eg-rek/bizarchive/internal/events"
	"github.com/eg-rek/bizarchive/internal/lockfile"
	"github.com/eg-rek/bizarchive/internal/media"
	"github.com/eg-rek/bizarchive/internal/models"
	"github.com/eg-rek/bizarchive/internal/notify"
	"github.com/eg-rek/bizarchive/internal/spam"
	"github.com/eg-rek/bizarchive/internal/telegram"
	"github.com/eg-rek/bizarchive/internal/util"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for bizarchive state data
	DefaultStateDir = "/var/lib/bizarchive"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "messages.db"
	// DefaultMediaDirName is the default media subdirectory name
	DefaultMediaDirName = "media"
	// DefaultSpamStateFileName is the spam tracker side file name
	DefaultSpamStateFileName = "spam_tracker.json"
)

// Config holds environment configuration
type Config struct {
	BotToken      string
	AdminID       int64
	BusinessID    string
	SelfSender    string
	StateDir      string
	DBDriver      string
	DBDSN         string
	MediaDir      string
	MaxFileBytes  int64
	SpamWindow    time.Duration
	SpamThreshold int64
	BlockDuration time.Duration
	RetentionDays int64
	PollTimeout   time.Duration
	BackupEnabled bool
	NATSURL       string
}

// Flags holds command line flag values
type Flags struct {
	stateDir   *string
	dbDriver   *string
	dbDSN      *string
	mediaDir   *string
	adminID    *int64
	businessID *string
	natsURL    *string
}

func main() {
	initializeLogger()

	config := loadEnvironmentConfig()
	flags := parseCommandLineFlags(config)
	applyFlagOverrides(&config, flags)

	if config.BotToken == "" {
		slog.Error("BOT_TOKEN is required")
		os.Exit(1)
	}
	if config.AdminID == 0 {
		slog.Error("ADMIN_ID is required")
		os.Exit(1)
	}

	lock, err := lockfile.AcquireLock(config.StateDir)
	if err != nil {
		slog.Error("Failed to acquire state directory lock", "error", err)
		os.Exit(1)
	}
	defer lock.Release()

	slog.Info("Bootstrapping bizarchive with configured modules")
	slog.Debug("Final configuration",
		"state_dir", config.StateDir, "db_driver", config.DBDriver,
		"business_id_set", config.BusinessID != "", "nats_enabled", config.NATSURL != "")

	if err := run(config); err != nil {
		slog.Error("bizarchive failed to run", "error", err)
		lock.Release()
		os.Exit(1)
	}
	slog.Info("bizarchive exited successfully")
}

// run wires the components together and drives the polling loop until
// the process receives an interrupt.
func run(config Config) error {
	client, err := telegram.NewClient(telegram.WithToken(config.BotToken))
	if err != nil {
		return err
	}

	store, dbPath, err := openStore(config)
	if err != nil {
		return err
	}
	defer store.Close()

	mediaStore, err := media.NewStore(client,
		media.WithDir(config.MediaDir),
		media.WithMaxBytes(config.MaxFileBytes))
	if err != nil {
		return err
	}

	publisher, err := events.Connect(config.NATSURL)
	if err != nil {
		// Event publishing is auxiliary; run without it.
		slog.Error("NATS connection failed, continuing without event publishing", "error", err)
	}
	defer publisher.Close()

	notifier := notify.NewNotifier(client, config.AdminID,
		notify.WithSpamWindow(config.SpamWindow),
		notify.WithBlockDuration(config.BlockDuration))

	tracker := spam.NewTracker(
		spam.WithPath(filepath.Join(config.StateDir, DefaultSpamStateFileName)),
		spam.WithWindow(config.SpamWindow),
		spam.WithThreshold(int(config.SpamThreshold)),
		spam.WithBlockDuration(config.BlockDuration),
		spam.WithAlertFunc(func(diff models.Diff) {
			if err := notifier.Notify(context.Background(), []models.Diff{diff}, models.EventSpam); err != nil {
				slog.Error("Failed to deliver spam alert", "error", err)
			}
			publisher.Publish(events.Event{
				Kind:     events.KindSpam,
				Username: diff.Username,
				Date:     diff.Date,
			})
		}))
	if err := tracker.Load(); err != nil {
		// Start empty rather than refuse to run.
		slog.Error("Failed to load spam tracker, starting empty", "error", err)
	}
	defer func() {
		if err := tracker.Save(); err != nil {
			slog.Error("Failed to save spam tracker on shutdown", "error", err)
		}
	}()

	archiver := archive.NewArchiver(store, mediaStore, tracker, config.BusinessID, config.SelfSender)

	dispatcher := dispatch.NewDispatcher(client, archiver, notifier, publisher,
		dispatch.WithAdminID(config.AdminID),
		dispatch.WithBusinessID(config.BusinessID),
		dispatch.WithStateDir(config.StateDir),
		dispatch.WithDBPath(dbPath),
		dispatch.WithPollTimeout(config.PollTimeout),
		dispatch.WithBackupEnabled(config.BackupEnabled),
		dispatch.WithRetention(time.Duration(config.RetentionDays)*24*time.Hour))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = dispatcher.Run(ctx)
	if errors.Is(err, context.Canceled) {
		slog.Info("Shutting down on operator interrupt")
		return nil
	}
	return err
}

// openStore builds the configured archive backend. The second return
// value is the database file path for the backup job, empty when the
// backend is not file-backed.
func openStore(config Config) (archive.Store, string, error) {
	switch config.DBDriver {
	case "postgres":
		store, err := archive.NewPostgresStore(archive.WithDSN(config.DBDSN))
		return store, "", err
	default:
		store, err := archive.NewSQLiteStore(archive.WithDSN(config.DBDSN))
		return store, config.DBDSN, err
	}
}

// initializeLogger sets up structured logging with the configured level
func initializeLogger() {
	level := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		BotToken:      os.Getenv("BOT_TOKEN"),
		AdminID:       util.ParseIntEnv("ADMIN_ID", 0),
		BusinessID:    os.Getenv("ALLOWED_BUSINESS_ID"),
		SelfSender:    os.Getenv("SENDER_USERNAME"),
		StateDir:      os.Getenv("STATE_DIR"),
		DBDriver:      os.Getenv("DB_DRIVER"),
		DBDSN:         os.Getenv("DB_DSN"),
		MediaDir:      os.Getenv("MEDIA_DIR"),
		MaxFileBytes:  util.ParseIntEnv("MAX_FILE_BYTES", media.DefaultMaxFileBytes),
		SpamWindow:    util.ParseDurationEnv("SPAM_WINDOW", spam.DefaultWindow),
		SpamThreshold: util.ParseIntEnv("SPAM_THRESHOLD", spam.DefaultThreshold),
		BlockDuration: util.ParseDurationEnv("SPAM_BLOCK_DURATION", spam.DefaultBlockDuration),
		RetentionDays: util.ParseIntEnv("RETENTION_DAYS", 30),
		PollTimeout:   util.ParseDurationEnv("POLL_TIMEOUT", dispatch.DefaultPollTimeout),
		BackupEnabled: util.ParseBoolEnv("BACKUP_ENABLED", true),
		NATSURL:       os.Getenv("NATS_URL"),
	}

	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No STATE_DIR set, using default", "default_state_dir", config.StateDir)
	}
	if config.DBDriver == "" {
		config.DBDriver = "sqlite3"
	}
	if config.DBDSN == "" && config.DBDriver == "sqlite3" {
		config.DBDSN = filepath.Join(config.StateDir, DefaultDBFileName)
	}
	if config.MediaDir == "" {
		config.MediaDir = filepath.Join(config.StateDir, DefaultMediaDirName)
	}
	return config
}

// parseCommandLineFlags parses command line flags with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		stateDir:   flag.String("state-dir", config.StateDir, "Directory for state data (database, media, spam tracker)"),
		dbDriver:   flag.String("db-driver", config.DBDriver, "Database driver (sqlite3 or postgres)"),
		dbDSN:      flag.String("db-dsn", config.DBDSN, "Database DSN (file path for sqlite3)"),
		mediaDir:   flag.String("media-dir", config.MediaDir, "Directory for downloaded media"),
		adminID:    flag.Int64("admin-id", config.AdminID, "Administrator chat/user id"),
		businessID: flag.String("business-id", config.BusinessID, "Allowed business connection id"),
		natsURL:    flag.String("nats-url", config.NATSURL, "NATS server URL for event publishing (optional)"),
	}
	flag.Parse()
	return flags
}

// applyFlagOverrides folds parsed flag values back into the config
func applyFlagOverrides(config *Config, flags Flags) {
	config.StateDir = *flags.stateDir
	config.DBDriver = *flags.dbDriver
	config.DBDSN = *flags.dbDSN
	config.MediaDir = *flags.mediaDir
	config.AdminID = *flags.adminID
	config.BusinessID = *flags.businessID
	config.NATSURL = *flags.natsURL
	if config.DBDSN == "" && config.DBDriver == "sqlite3" {
		config.DBDSN = filepath.Join(config.StateDir, DefaultDBFileName)
	}
}
