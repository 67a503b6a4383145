package storage

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Phase names one timed section of a file's pipeline run. Each phase owns
// a started_at/ended_at/success column triple on file_load_log.
type Phase int

const (
	// PhaseArchiveCopy covers copying the source file into the archive.
	PhaseArchiveCopy Phase = iota + 1
	// PhaseProcessing covers the read-validate-stage streaming pass.
	PhaseProcessing
	// PhaseStageLoad covers stage batch loading within the streaming pass.
	PhaseStageLoad
	// PhaseAudit covers grain validation and declarative audits.
	PhaseAudit
	// PhaseMerge covers the stage-to-target merge.
	PhaseMerge
)

// String returns the column prefix of the phase.
func (p Phase) String() string {
	switch p {
	case PhaseArchiveCopy:
		return "archive_copy"
	case PhaseProcessing:
		return "processing"
	case PhaseStageLoad:
		return "stage_load"
	case PhaseAudit:
		return "audit"
	case PhaseMerge:
		return "merge"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

// RunLog mirrors one file_load_log row. It is created by Start, mutated
// by the pipeline as phases begin and end, and persisted with Save on
// every phase boundary. Pointer fields are NULL until set.
type RunLog struct {
	ID        int64
	FileName  string
	StartedAt time.Time

	DuplicateSkipped *bool

	ArchiveCopyStartedAt *time.Time
	ArchiveCopyEndedAt   *time.Time
	ArchiveCopySuccess   *bool

	ProcessingStartedAt *time.Time
	ProcessingEndedAt   *time.Time
	ProcessingSuccess   *bool

	StageLoadStartedAt *time.Time
	StageLoadEndedAt   *time.Time
	StageLoadSuccess   *bool

	AuditStartedAt *time.Time
	AuditEndedAt   *time.Time
	AuditSuccess   *bool

	MergeStartedAt *time.Time
	MergeEndedAt   *time.Time
	MergeSuccess   *bool

	EndedAt            *time.Time
	RecordsProcessed   *int64
	ValidationErrors   *int64
	RecordsStageLoaded *int64
	TargetInserts      *int64
	TargetUpdates      *int64
	Success            *bool
	ErrorType          *string
}

// BeginPhase stamps the phase's started_at with the current time.
func (l *RunLog) BeginPhase(p Phase) {
	now := time.Now().UTC()

	switch p {
	case PhaseArchiveCopy:
		l.ArchiveCopyStartedAt = &now
	case PhaseProcessing:
		l.ProcessingStartedAt = &now
	case PhaseStageLoad:
		l.StageLoadStartedAt = &now
	case PhaseAudit:
		l.AuditStartedAt = &now
	case PhaseMerge:
		l.MergeStartedAt = &now
	}
}

// EndPhase stamps the phase's ended_at and success columns.
func (l *RunLog) EndPhase(p Phase, ok bool) {
	now := time.Now().UTC()

	switch p {
	case PhaseArchiveCopy:
		l.ArchiveCopyEndedAt = &now
		l.ArchiveCopySuccess = &ok
	case PhaseProcessing:
		l.ProcessingEndedAt = &now
		l.ProcessingSuccess = &ok
	case PhaseStageLoad:
		l.StageLoadEndedAt = &now
		l.StageLoadSuccess = &ok
	case PhaseAudit:
		l.AuditEndedAt = &now
		l.AuditSuccess = &ok
	case PhaseMerge:
		l.MergeEndedAt = &now
		l.MergeSuccess = &ok
	}
}

// Finish stamps the terminal outcome. errorType is empty on success.
func (l *RunLog) Finish(success bool, errorType string) {
	now := time.Now().UTC()
	l.EndedAt = &now
	l.Success = &success

	if errorType != "" {
		l.ErrorType = &errorType
	}
}

// runLogColumns lists every mutable file_load_log column in the order
// Save writes them. file_name and started_at are immutable after Start.
var runLogColumns = []string{
	"duplicate_skipped",
	"archive_copy_started_at", "archive_copy_ended_at", "archive_copy_success",
	"processing_started_at", "processing_ended_at", "processing_success",
	"stage_load_started_at", "stage_load_ended_at", "stage_load_success",
	"audit_started_at", "audit_ended_at", "audit_success",
	"merge_started_at", "merge_ended_at", "merge_success",
	"ended_at",
	"records_processed", "validation_errors", "records_stage_loaded",
	"target_inserts", "target_updates",
	"success", "error_type",
}

// mutableValues returns the current values of runLogColumns, in order.
func (l *RunLog) mutableValues() []any {
	return []any{
		l.DuplicateSkipped,
		l.ArchiveCopyStartedAt, l.ArchiveCopyEndedAt, l.ArchiveCopySuccess,
		l.ProcessingStartedAt, l.ProcessingEndedAt, l.ProcessingSuccess,
		l.StageLoadStartedAt, l.StageLoadEndedAt, l.StageLoadSuccess,
		l.AuditStartedAt, l.AuditEndedAt, l.AuditSuccess,
		l.MergeStartedAt, l.MergeEndedAt, l.MergeSuccess,
		l.EndedAt,
		l.RecordsProcessed, l.ValidationErrors, l.RecordsStageLoaded,
		l.TargetInserts, l.TargetUpdates,
		l.Success, l.ErrorType,
	}
}

// StartRunLog inserts the initial file_load_log row and returns it with
// the generated id populated.
func (s *Store) StartRunLog(ctx context.Context, fileName string, startedAt time.Time) (*RunLog, error) {
	log := &RunLog{FileName: fileName, StartedAt: startedAt}

	id, err := s.insertRunLogRow(ctx, fileName, startedAt)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRunLogFailed, err)
	}

	log.ID = id

	return log, nil
}

// insertRunLogRow performs the dialect-specific id-returning insert.
// Postgres and SQL Server hand the id back on the insert itself; MySQL
// and SQLite report it through LastInsertId.
func (s *Store) insertRunLogRow(ctx context.Context, fileName string, startedAt time.Time) (int64, error) {
	d := s.Dialect()

	switch d {
	case DialectPostgres:
		var id int64

		query := "INSERT INTO file_load_log (file_name, started_at) VALUES ($1, $2) RETURNING id"
		if err := s.conn.QueryRowContext(ctx, query, fileName, startedAt).Scan(&id); err != nil {
			return 0, err
		}

		return id, nil

	case DialectSQLServer:
		var id int64

		query := "INSERT INTO file_load_log (file_name, started_at) OUTPUT INSERTED.id VALUES (@p1, @p2)"
		if err := s.conn.QueryRowContext(ctx, query, fileName, startedAt).Scan(&id); err != nil {
			return 0, err
		}

		return id, nil

	default:
		result, err := s.conn.ExecContext(ctx,
			"INSERT INTO file_load_log (file_name, started_at) VALUES (?, ?)", fileName, startedAt)
		if err != nil {
			return 0, err
		}

		return result.LastInsertId()
	}
}

// SaveRunLog writes every mutable column of the row. The RunLog value
// accumulates state across phases, so rewriting the full column set is a
// patch in effect: anything set earlier is carried forward unchanged.
func (s *Store) SaveRunLog(ctx context.Context, log *RunLog) error {
	d := s.Dialect()

	assignments := make([]string, len(runLogColumns))
	for i, col := range runLogColumns {
		assignments[i] = col + " = " + d.Placeholder(i+1)
	}

	query := fmt.Sprintf("UPDATE file_load_log SET %s WHERE id = %s",
		strings.Join(assignments, ", "),
		d.Placeholder(len(runLogColumns)+1),
	)

	args := append(log.mutableValues(), log.ID)

	if _, err := s.conn.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("%w: failed to update row %d: %w", ErrRunLogFailed, log.ID, err)
	}

	return nil
}
