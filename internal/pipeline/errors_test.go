package pipeline

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"

	"github.com/fileloader-io/fileloader/internal/reader"
	"github.com/fileloader-io/fileloader/internal/storage"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, KindNone},
		{"missing header", fmt.Errorf("%w: no header row", reader.ErrMissingHeader), KindMissingHeader},
		{"missing columns", fmt.Errorf("%w: total_amount", reader.ErrMissingColumns), KindMissingColumns},
		{"threshold", fmt.Errorf("%w: rate 25.00%%", ErrValidationThreshold), KindValidationThreshold},
		{"grain", fmt.Errorf("%w: duplicates", storage.ErrGrainValidation), KindGrainValidation},
		{"audit", fmt.Errorf("%w: check failed", storage.ErrAuditFailed), KindAuditFailed},
		{"pq connection", &pq.Error{Code: "08006"}, KindTransientDB},
		{"pq deadlock", &pq.Error{Code: "40P01"}, KindTransientDB},
		{"conn done", sql.ErrConnDone, KindTransientDB},
		{"io timeout", context.DeadlineExceeded, KindTransientIO},
		{"anything else", errors.New("nil pointer dereference"), KindCodeDefect},
		{"pq constraint violation", &pq.Error{Code: "23505"}, KindCodeDefect},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestClassify_SentinelWinsOverTransientCause(t *testing.T) {
	// An audit failure whose message chain happens to wrap a transient
	// error still belongs to the owner lane.
	err := fmt.Errorf("%w: %w", storage.ErrAuditFailed, sql.ErrConnDone)

	assert.Equal(t, KindAuditFailed, Classify(err))
}

func TestKind_String(t *testing.T) {
	assert.Equal(t, "Missing Header", KindMissingHeader.String())
	assert.Equal(t, "Missing Columns", KindMissingColumns.String())
	assert.Equal(t, "Validation Threshold Exceeded", KindValidationThreshold.String())
	assert.Equal(t, "Grain Validation Error", KindGrainValidation.String())
	assert.Equal(t, "Audit Failed", KindAuditFailed.String())
	assert.Equal(t, "Duplicate File Detected", KindDuplicateFile.String())
	assert.Equal(t, "Transient IO Error", KindTransientIO.String())
	assert.Equal(t, "Transient Database Error", KindTransientDB.String())
	assert.Equal(t, "Code Defect", KindCodeDefect.String())
	assert.Equal(t, "", KindNone.String())
}

func TestKind_OwnerActionable(t *testing.T) {
	owner := []Kind{
		KindMissingHeader, KindMissingColumns, KindValidationThreshold,
		KindGrainValidation, KindAuditFailed, KindDuplicateFile,
	}
	for _, k := range owner {
		assert.True(t, k.OwnerActionable(), k.String())
	}

	operator := []Kind{KindNone, KindTransientIO, KindTransientDB, KindCodeDefect}
	for _, k := range operator {
		assert.False(t, k.OwnerActionable(), k.String())
	}
}

func TestNonRetryable_CoversFileErrors(t *testing.T) {
	set := NonRetryable()

	for _, sentinel := range []error{
		reader.ErrMissingHeader,
		reader.ErrMissingColumns,
		ErrValidationThreshold,
		storage.ErrGrainValidation,
		storage.ErrAuditFailed,
	} {
		found := false
		for _, err := range set {
			if errors.Is(err, sentinel) {
				found = true
			}
		}

		assert.True(t, found, sentinel.Error())
	}
}
