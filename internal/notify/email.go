package notify

import (
	"context"
	"fmt"
	"log/slog"
	"mime"
	"net"
	"net/smtp"
	"os"
	"strconv"
	"strings"

	"github.com/fileloader-io/fileloader/internal/config"
	"github.com/fileloader-io/fileloader/internal/retry"
)

// EmailNotifier delivers owner notifications over SMTP. The data team
// addresses are CC'd on every message so failures stay visible even when
// a source's owners ignore them. An empty FROM_EMAIL or SMTP_HOST leaves
// the sink disabled: sends are logged and skipped.
type EmailNotifier struct {
	host     string
	port     int
	username string
	password string
	from     string
	cc       []string
	retry    *retry.Policy
	logger   *slog.Logger
}

var _ OwnerNotifier = (*EmailNotifier)(nil)

// NewEmailNotifier creates an EmailNotifier from the loader configuration.
func NewEmailNotifier(cfg *config.Config, policy *retry.Policy) *EmailNotifier {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	})).With(slog.String("component", "notify"))

	return &EmailNotifier{
		host:     cfg.SMTPHost,
		port:     cfg.SMTPPort,
		username: cfg.SMTPUsername,
		password: cfg.SMTPPassword,
		from:     cfg.FromEmail,
		cc:       cfg.DataTeamEmails,
		retry:    policy,
		logger:   logger,
	}
}

// NotifyOwner emails the failure report to the source's recipients. A
// disabled sink or an empty recipient list is not an error; only a send
// that fails after retries is.
func (n *EmailNotifier) NotifyOwner(ctx context.Context, note OwnerNotification) error {
	logger := n.logger.With(
		slog.String("file", note.FileName),
		slog.String("error_type", note.ErrorKind),
	)

	if n.from == "" || n.host == "" {
		logger.Warn("Email sink not configured, skipping owner notification")
		return nil
	}

	if len(note.Recipients) == 0 {
		logger.Warn("Source has no notification recipients, skipping owner notification")
		return nil
	}

	msg := buildOwnerEmail(n.from, note.Recipients, n.cc, note)
	addr := net.JoinHostPort(n.host, strconv.Itoa(n.port))

	var auth smtp.Auth
	if n.username != "" && n.password != "" {
		auth = smtp.PlainAuth("", n.username, n.password, n.host)
	}

	recipients := make([]string, 0, len(note.Recipients)+len(n.cc))
	recipients = append(recipients, note.Recipients...)
	recipients = append(recipients, n.cc...)

	err := n.retry.Do(ctx, "send owner email", func() error {
		return smtp.SendMail(addr, auth, n.from, recipients, msg)
	})
	if err != nil {
		return fmt.Errorf("send owner email for %s: %w", note.FileName, err)
	}

	logger.Info("Owner notification sent",
		slog.Int("recipients", len(note.Recipients)),
		slog.Int("cc", len(n.cc)),
	)

	return nil
}

// buildOwnerEmail renders the full RFC 5322 message. net/smtp writes the
// body through a dot-encoder, so plain \n line endings are fine here.
func buildOwnerEmail(from string, to, cc []string, note OwnerNotification) []byte {
	subject := fmt.Sprintf("FileLoader Failed: %s - %s", note.FileName, note.ErrorKind)

	logID := "N/A"
	if note.LogID > 0 {
		logID = strconv.FormatInt(note.LogID, 10)
	}

	var b strings.Builder

	fmt.Fprintf(&b, "From: %s\n", from)
	fmt.Fprintf(&b, "To: %s\n", strings.Join(to, ", "))

	if len(cc) > 0 {
		fmt.Fprintf(&b, "Cc: %s\n", strings.Join(cc, ", "))
	}

	fmt.Fprintf(&b, "Subject: %s\n", mime.QEncoding.Encode("utf-8", subject))
	b.WriteString("MIME-Version: 1.0\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\n")
	b.WriteString("\n")

	b.WriteString("File processing failed.\n\n")
	fmt.Fprintf(&b, "File: %s\n", note.FileName)
	fmt.Fprintf(&b, "Error Type: %s\n", note.ErrorKind)
	fmt.Fprintf(&b, "Log ID: %s\n\n", logID)
	b.WriteString("Error Details:\n")
	b.WriteString(note.ErrorMessage)
	b.WriteString("\n")

	return []byte(b.String())
}
