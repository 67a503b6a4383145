// Package notify delivers failure reports to the two audiences the
// loader serves: file owners, reached by email per source configuration,
// and the operations team, reached over a Slack webhook.
//
// Notification delivery is best effort for owners: a failed send is
// logged and never fails the file, because the run log already holds the
// authoritative record. Operator delivery matters more, so its errors
// are returned and the caller decides the exit code.
package notify

import "context"

// OwnerNotification describes a single file failure for the people who
// produce the file.
type OwnerNotification struct {
	FileName     string
	ErrorKind    string
	ErrorMessage string
	LogID        int64
	Recipients   []string
}

// OwnerNotifier sends per-file failure reports to the owners of a source.
type OwnerNotifier interface {
	NotifyOwner(ctx context.Context, n OwnerNotification) error
}

// OperatorNotifier sends run-level reports to the operations channel.
type OperatorNotifier interface {
	NotifyOperator(ctx context.Context, message string, details map[string]string) error
}
