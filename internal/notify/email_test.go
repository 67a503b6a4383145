package notify

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fileloader-io/fileloader/internal/config"
	"github.com/fileloader-io/fileloader/internal/retry"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNotifyOwner_SkipsWhenSinkDisabled(t *testing.T) {
	cfg := &config.Config{} // no FROM_EMAIL, no SMTP_HOST
	n := NewEmailNotifier(cfg, retry.New(discardLogger()))
	n.logger = discardLogger()

	err := n.NotifyOwner(context.Background(), OwnerNotification{
		FileName:   "sales_2024.csv",
		ErrorKind:  "Missing Header",
		Recipients: []string{"owner@example.com"},
	})

	require.NoError(t, err)
}

func TestNotifyOwner_SkipsWhenNoRecipients(t *testing.T) {
	cfg := &config.Config{
		SMTPHost:  "smtp.example.com",
		SMTPPort:  587,
		FromEmail: "loader@example.com",
	}
	n := NewEmailNotifier(cfg, retry.New(discardLogger()))
	n.logger = discardLogger()

	err := n.NotifyOwner(context.Background(), OwnerNotification{
		FileName:  "sales_2024.csv",
		ErrorKind: "Audit Failed",
	})

	require.NoError(t, err)
}

func TestBuildOwnerEmail(t *testing.T) {
	msg := string(buildOwnerEmail(
		"loader@example.com",
		[]string{"owner@example.com", "backup@example.com"},
		[]string{"data-team@example.com"},
		OwnerNotification{
			FileName:     "sales_2024.csv",
			ErrorKind:    "Validation Threshold Exceeded",
			ErrorMessage: "error rate 25.00% exceeds threshold 0.00%",
			LogID:        42,
		},
	))

	assert.Contains(t, msg, "From: loader@example.com\n")
	assert.Contains(t, msg, "To: owner@example.com, backup@example.com\n")
	assert.Contains(t, msg, "Cc: data-team@example.com\n")
	assert.Contains(t, msg, "Subject: FileLoader Failed: sales_2024.csv - Validation Threshold Exceeded\n")
	assert.Contains(t, msg, "File: sales_2024.csv\n")
	assert.Contains(t, msg, "Error Type: Validation Threshold Exceeded\n")
	assert.Contains(t, msg, "Log ID: 42\n")
	assert.Contains(t, msg, "Error Details:\nerror rate 25.00% exceeds threshold 0.00%\n")
}

func TestBuildOwnerEmail_NoLogID(t *testing.T) {
	msg := string(buildOwnerEmail(
		"loader@example.com",
		[]string{"owner@example.com"},
		nil,
		OwnerNotification{
			FileName:     "inventory_jan.xlsx",
			ErrorKind:    "Code Defect",
			ErrorMessage: "boom",
		},
	))

	assert.Contains(t, msg, "Log ID: N/A\n")
	assert.NotContains(t, msg, "Cc:")
}
