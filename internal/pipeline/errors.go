package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"

	"github.com/fileloader-io/fileloader/internal/reader"
	"github.com/fileloader-io/fileloader/internal/storage"
)

// ErrValidationThreshold is returned when a file's validation error rate
// exceeds the threshold its source configuration allows.
var ErrValidationThreshold = errors.New("validation threshold exceeded")

// Kind buckets a file failure by the audience that can act on it. Owner
// kinds describe problems with the file's content and go to the source's
// recipients; the rest describe problems with the loader or its
// environment and go to the operations channel.
type Kind int

const (
	// KindNone is the zero value for outcomes without a failure.
	KindNone Kind = iota

	// KindMissingHeader means the file has no usable header row.
	KindMissingHeader
	// KindMissingColumns means the header lacks required columns.
	KindMissingColumns
	// KindValidationThreshold means too many rows failed validation.
	KindValidationThreshold
	// KindGrainValidation means staged rows duplicate the declared grain.
	KindGrainValidation
	// KindAuditFailed means a declarative audit check evaluated false.
	KindAuditFailed
	// KindDuplicateFile means the file was already merged in a prior run.
	KindDuplicateFile

	// KindTransientIO means a filesystem or network operation timed out.
	KindTransientIO
	// KindTransientDB means the database was temporarily unavailable.
	KindTransientDB
	// KindCodeDefect is the catch-all for unexpected failures.
	KindCodeDefect
)

// String returns the error_type label recorded in the run log and shown
// in notifications.
func (k Kind) String() string {
	switch k {
	case KindNone:
		return ""
	case KindMissingHeader:
		return "Missing Header"
	case KindMissingColumns:
		return "Missing Columns"
	case KindValidationThreshold:
		return "Validation Threshold Exceeded"
	case KindGrainValidation:
		return "Grain Validation Error"
	case KindAuditFailed:
		return "Audit Failed"
	case KindDuplicateFile:
		return "Duplicate File Detected"
	case KindTransientIO:
		return "Transient IO Error"
	case KindTransientDB:
		return "Transient Database Error"
	case KindCodeDefect:
		return "Code Defect"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// OwnerActionable reports whether the failure is about the file's content
// rather than the loader's environment.
func (k Kind) OwnerActionable() bool {
	switch k {
	case KindMissingHeader, KindMissingColumns, KindValidationThreshold,
		KindGrainValidation, KindAuditFailed, KindDuplicateFile:
		return true
	default:
		return false
	}
}

// Classify maps an error onto the failure taxonomy. File-content
// sentinels are checked first so a wrapped transient cause inside, say,
// an audit message cannot reroute an owner failure to the operator lane.
func Classify(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, reader.ErrMissingHeader):
		return KindMissingHeader
	case errors.Is(err, reader.ErrMissingColumns):
		return KindMissingColumns
	case errors.Is(err, ErrValidationThreshold):
		return KindValidationThreshold
	case errors.Is(err, storage.ErrGrainValidation):
		return KindGrainValidation
	case errors.Is(err, storage.ErrAuditFailed):
		return KindAuditFailed
	case storage.IsTransient(err):
		return KindTransientDB
	case isIOTimeout(err):
		return KindTransientIO
	default:
		return KindCodeDefect
	}
}

// NonRetryable lists the sentinels the retry policy must fail fast on:
// retrying cannot fix what is wrong with the file itself.
func NonRetryable() []error {
	return []error{
		reader.ErrMissingHeader,
		reader.ErrMissingColumns,
		ErrValidationThreshold,
		storage.ErrGrainValidation,
		storage.ErrAuditFailed,
	}
}

func isIOTimeout(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	return errors.Is(err, os.ErrDeadlineExceeded) || errors.Is(err, context.DeadlineExceeded)
}
