// Package config provides functions for reading config settings from ENV.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

const (
	defaultBatchSize = 10000
	defaultSMTPPort  = 587
)

var (
	// ErrDirectoryEmpty is returned when a required directory setting is an empty string.
	ErrDirectoryEmpty = errors.New("directory cannot be empty")
	// ErrBatchSizeInvalid is returned when the batch size is not a positive integer.
	ErrBatchSizeInvalid = errors.New("batch size must be positive")
)

// Config holds the loader configuration assembled from environment
// variables. Database connection settings live in the storage package.
type Config struct {
	IntakeDir     string
	ArchiveDir    string
	DuplicatesDir string

	BatchSize   int
	LogLevel    slog.Level
	WorkerCount int // 0 means use hardware parallelism

	SourcesFile string // optional YAML catalog merged over the built-in sources

	// Owner notification transport (email). Empty FromEmail disables the sink.
	SMTPHost       string
	SMTPPort       int
	SMTPUsername   string
	SMTPPassword   string
	FromEmail      string
	DataTeamEmails []string // always CC'd on owner notifications

	// NotifyOnDuplicate controls the best-effort owner notification when a
	// duplicate file is moved aside.
	NotifyOnDuplicate bool

	// Operator notification transport (webhook). Empty disables the sink.
	SlackWebhookURL string
}

// Load reads all recognized environment variables into a Config.
func Load() *Config {
	return &Config{
		IntakeDir:         GetEnvStr("INTAKE_DIR", ""),
		ArchiveDir:        GetEnvStr("ARCHIVE_DIR", ""),
		DuplicatesDir:     GetEnvStr("DUPLICATES_DIR", ""),
		BatchSize:         GetEnvInt("BATCH_SIZE", defaultBatchSize),
		LogLevel:          GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
		WorkerCount:       GetEnvInt("WORKER_COUNT", 0),
		SourcesFile:       GetEnvStr("SOURCES_FILE", ""),
		SMTPHost:          GetEnvStr("SMTP_HOST", ""),
		SMTPPort:          GetEnvInt("SMTP_PORT", defaultSMTPPort),
		SMTPUsername:      GetEnvStr("SMTP_USERNAME", ""),
		SMTPPassword:      GetEnvStr("SMTP_PASSWORD", ""),
		FromEmail:         GetEnvStr("FROM_EMAIL", ""),
		DataTeamEmails:    ParseCommaSeparatedList(GetEnvStr("DATA_TEAM_EMAIL", "")),
		NotifyOnDuplicate: GetEnvBool("NOTIFY_ON_DUPLICATE", false),
		SlackWebhookURL:   GetEnvStr("SLACK_WEBHOOK_URL", ""),
	}
}

// Validate checks that every required setting is present and sensible.
func (c *Config) Validate() error {
	for name, dir := range map[string]string{
		"INTAKE_DIR":     c.IntakeDir,
		"ARCHIVE_DIR":    c.ArchiveDir,
		"DUPLICATES_DIR": c.DuplicatesDir,
	} {
		if strings.TrimSpace(dir) == "" {
			return fmt.Errorf("%w: %s", ErrDirectoryEmpty, name)
		}
	}

	if c.BatchSize <= 0 {
		return fmt.Errorf("%w: got %d", ErrBatchSizeInvalid, c.BatchSize)
	}

	return nil
}
