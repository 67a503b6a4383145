package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/slack-go/slack"

	"github.com/fileloader-io/fileloader/internal/retry"
)

// ErrWebhookNotConfigured is returned when an operator notification is
// requested but no webhook URL is set. Callers treat this as an
// unreachable operations channel.
var ErrWebhookNotConfigured = errors.New("slack webhook URL not configured")

// SlackNotifier posts operator alerts to an incoming webhook.
type SlackNotifier struct {
	webhookURL string
	retry      *retry.Policy
	logger     *slog.Logger
	now        func() time.Time
}

var _ OperatorNotifier = (*SlackNotifier)(nil)

// NewSlackNotifier creates a SlackNotifier. An empty webhookURL is
// allowed; sends will then fail with ErrWebhookNotConfigured.
func NewSlackNotifier(webhookURL string, policy *retry.Policy, level slog.Level) *SlackNotifier {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	})).With(slog.String("component", "notify"))

	return &SlackNotifier{
		webhookURL: webhookURL,
		retry:      policy,
		logger:     logger,
		now:        time.Now,
	}
}

// NotifyOperator posts the message to the operations channel. Details are
// rendered as a bullet list in key order.
func (n *SlackNotifier) NotifyOperator(ctx context.Context, message string, details map[string]string) error {
	if n.webhookURL == "" {
		return ErrWebhookNotConfigured
	}

	text := formatOperatorAlert(message, details, n.now().UTC())

	err := n.retry.Do(ctx, "post operator webhook", func() error {
		return slack.PostWebhookContext(ctx, n.webhookURL, &slack.WebhookMessage{Text: text})
	})
	if err != nil {
		return fmt.Errorf("post operator webhook: %w", err)
	}

	n.logger.Info("Operator notification sent")

	return nil
}

func formatOperatorAlert(message string, details map[string]string, at time.Time) string {
	lines := []string{
		"❌ *ERROR*",
		"*FileLoader - Internal Processing Error*",
		"*Timestamp:* " + at.Format("2006-01-02 15:04:05 MST"),
		"*Message:* " + message,
	}

	if len(details) > 0 {
		keys := make([]string, 0, len(details))
		for key := range details {
			keys = append(keys, key)
		}

		sort.Strings(keys)

		lines = append(lines, "", "*Details:*")
		for _, key := range keys {
			lines = append(lines, fmt.Sprintf("• *%s:* %s", key, details[key]))
		}
	}

	return strings.Join(lines, "\n")
}
