// Package pipeline drives each intake file through the load sequence:
// duplicate gate, archive copy, a streaming read-validate-stage pass,
// grain and audit checks, the merge into the target table, and cleanup.
//
// A file either ends merged, parked in the duplicates directory, or
// failed with a classified error in the run log. Failures never stop the
// batch; they surface in the per-file Outcome and in notifications.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fileloader-io/fileloader/internal/config"
	"github.com/fileloader-io/fileloader/internal/notify"
	"github.com/fileloader-io/fileloader/internal/reader"
	"github.com/fileloader-io/fileloader/internal/retry"
	"github.com/fileloader-io/fileloader/internal/source"
	"github.com/fileloader-io/fileloader/internal/storage"
	"github.com/fileloader-io/fileloader/internal/validate"
)

// validationSampleLimit caps the per-file validation error examples kept
// for the threshold failure message.
const validationSampleLimit = 5

// Store is the storage surface the pipeline drives. *storage.Store
// implements it; tests substitute fakes.
type Store interface {
	HasFileLoaded(ctx context.Context, spec *source.Spec, filename string) (bool, error)
	StartRunLog(ctx context.Context, fileName string, startedAt time.Time) (*storage.RunLog, error)
	SaveRunLog(ctx context.Context, log *storage.RunLog) error
	CreateStageTable(ctx context.Context, spec *source.Spec, sourceFilename string, logID int64) (string, error)
	DropStageTable(ctx context.Context, stageName string) error
	StageBatchCap(spec *source.Spec, configured int) int
	DLQBatchCap(configured int) int
	InsertValidRows(ctx context.Context, stageName string, spec *source.Spec, rows []*validate.ValidRow) error
	InsertFailedRows(ctx context.Context, spec *source.Spec, filename string, logID int64, failedAt time.Time, rows []*validate.FailedRow) error
	Audit(ctx context.Context, spec *source.Spec, stageName, filename string) error
	Merge(ctx context.Context, spec *source.Spec, stageName string, stagedCount int64, logID int64) (storage.MergeResult, error)
	HasPriorDeadLetters(ctx context.Context, filename string, currentLogID int64) (bool, error)
	DeletePriorDeadLetters(ctx context.Context, filename string, currentLogID int64) (int64, error)
}

var _ Store = (*storage.Store)(nil)

// Pipeline loads intake files. It is safe for concurrent use: all
// per-file state is local to Run.
type Pipeline struct {
	registry *source.Registry
	store    Store
	owners   notify.OwnerNotifier
	retry    *retry.Policy
	cfg      *config.Config
	logger   *slog.Logger
}

var _ Runner = (*Pipeline)(nil)

// New creates a Pipeline.
func New(cfg *config.Config, registry *source.Registry, store Store, owners notify.OwnerNotifier) *Pipeline {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	})).With(slog.String("component", "pipeline"))

	return &Pipeline{
		registry: registry,
		store:    store,
		owners:   owners,
		retry:    retry.New(logger, NonRetryable()...),
		cfg:      cfg,
		logger:   logger,
	}
}

// Run processes one intake file end to end and reports its outcome. The
// returned Outcome carries the failure instead of an error return so the
// worker pool can keep going.
func (p *Pipeline) Run(ctx context.Context, path string) Outcome {
	fileName := filepath.Base(path)

	spec, err := p.registry.Match(path)
	if errors.Is(err, source.ErrNoMatch) {
		p.logger.Warn("No source configuration matches file, skipping",
			slog.String("file", fileName))

		return Outcome{FileName: fileName, Skipped: true}
	}

	if err != nil {
		p.logger.Error("Failed to resolve source configuration",
			slog.String("file", fileName),
			slog.String("error", err.Error()))

		return Outcome{FileName: fileName, Kind: Classify(err), Err: err}
	}

	started := time.Now().UTC()

	var log *storage.RunLog

	err = p.retry.Do(ctx, "start run log", func() error {
		var startErr error
		log, startErr = p.store.StartRunLog(ctx, fileName, started)

		return startErr
	})
	if err != nil {
		p.logger.Error("Failed to start run log",
			slog.String("file", fileName),
			slog.String("error", err.Error()))

		return Outcome{FileName: fileName, Kind: Classify(err), Err: err}
	}

	logger := p.logger.With(
		slog.String("file", fileName),
		slog.Int64("log_id", log.ID),
		slog.String("target_table", spec.TargetTable),
	)

	logger.Info("Processing file")

	duplicate, runErr := p.process(ctx, logger, spec, path, log)

	switch {
	case duplicate:
		log.Finish(true, "")
		p.trySave(ctx, logger, log)

		logger.Info("Duplicate file moved aside", slog.String("duplicates_dir", p.cfg.DuplicatesDir))

		return Outcome{FileName: fileName, LogID: log.ID, Duplicate: true}

	case runErr != nil:
		kind := Classify(runErr)

		log.Finish(false, kind.String())
		p.trySave(ctx, logger, log)

		logger.Error("File processing failed",
			slog.String("error_type", kind.String()),
			slog.String("error", runErr.Error()))

		if kind.OwnerActionable() {
			p.notifyOwners(ctx, logger, spec, fileName, kind, runErr.Error(), log.ID)
		}

		return Outcome{FileName: fileName, LogID: log.ID, Kind: kind, Err: runErr}

	default:
		log.Finish(true, "")
		p.trySave(ctx, logger, log)

		logger.Info("File processed successfully",
			slog.Int64("records_processed", orZero(log.RecordsProcessed)),
			slog.Int64("validation_errors", orZero(log.ValidationErrors)),
			slog.Int64("records_stage_loaded", orZero(log.RecordsStageLoaded)),
			slog.Int64("target_inserts", orZero(log.TargetInserts)),
			slog.Int64("target_updates", orZero(log.TargetUpdates)),
		)

		return Outcome{FileName: fileName, LogID: log.ID}
	}
}

// process drives the file through the phases. It reports duplicate=true
// when the duplicate gate diverted the file, which is not a failure.
func (p *Pipeline) process(ctx context.Context, logger *slog.Logger, spec *source.Spec, path string, log *storage.RunLog) (bool, error) {
	fileName := filepath.Base(path)

	if p.isDuplicate(ctx, logger, spec, fileName) {
		if err := p.moveToDuplicates(logger, path); err != nil {
			return false, err
		}

		skipped := true
		log.DuplicateSkipped = &skipped

		if p.cfg.NotifyOnDuplicate {
			p.notifyOwners(ctx, logger, spec, fileName, KindDuplicateFile,
				duplicateMessage(fileName, spec.TargetTable), log.ID)
		}

		return true, nil
	}

	log.BeginPhase(storage.PhaseArchiveCopy)

	if err := copyFile(path, filepath.Join(p.cfg.ArchiveDir, fileName)); err != nil {
		log.EndPhase(storage.PhaseArchiveCopy, false)
		p.trySave(ctx, logger, log)

		return false, fmt.Errorf("archive copy of %s: %w", fileName, err)
	}

	log.EndPhase(storage.PhaseArchiveCopy, true)

	if err := p.saveLog(ctx, log); err != nil {
		return false, err
	}

	stageName, stageErr := p.stageFile(ctx, logger, spec, path, log)

	if stageName != "" {
		// The stage table exists and rows may be written: from here on the
		// source file is consumed and the stage is dropped no matter how
		// the rest of the run ends.
		defer p.cleanFile(context.WithoutCancel(ctx), logger, path, stageName)
	}

	if stageErr != nil {
		return false, stageErr
	}

	log.BeginPhase(storage.PhaseAudit)

	if err := p.saveLog(ctx, log); err != nil {
		return false, err
	}

	err := p.retry.Do(ctx, "audit stage table", func() error {
		return p.store.Audit(ctx, spec, stageName, fileName)
	})
	if err != nil {
		log.EndPhase(storage.PhaseAudit, false)
		p.trySave(ctx, logger, log)

		return false, err
	}

	log.EndPhase(storage.PhaseAudit, true)
	log.BeginPhase(storage.PhaseMerge)

	if err := p.saveLog(ctx, log); err != nil {
		return false, err
	}

	var result storage.MergeResult

	err = p.retry.Do(ctx, "merge stage into target", func() error {
		var mergeErr error
		result, mergeErr = p.store.Merge(ctx, spec, stageName, orZero(log.RecordsStageLoaded), log.ID)

		return mergeErr
	})
	if err != nil {
		log.EndPhase(storage.PhaseMerge, false)
		p.trySave(ctx, logger, log)

		return false, err
	}

	log.TargetInserts = &result.Inserts
	log.TargetUpdates = &result.Updates
	log.EndPhase(storage.PhaseMerge, true)

	if err := p.saveLog(ctx, log); err != nil {
		return false, err
	}

	if err := p.cleanupPriorDeadLetters(ctx, logger, fileName, log.ID); err != nil {
		return false, err
	}

	return false, nil
}

// stageFile streams the file through validation into the stage table and
// the dead-letter queue in a single pass. The stage table name is
// returned as soon as the table exists, alongside any error, so the
// caller can guarantee the drop.
func (p *Pipeline) stageFile(ctx context.Context, logger *slog.Logger, spec *source.Spec, path string, log *storage.RunLog) (string, error) {
	fileName := filepath.Base(path)

	log.BeginPhase(storage.PhaseProcessing)

	if err := p.saveLog(ctx, log); err != nil {
		return "", err
	}

	src, err := reader.Open(path, spec)
	if err != nil {
		log.EndPhase(storage.PhaseProcessing, false)
		p.trySave(ctx, logger, log)

		return "", err
	}

	defer func() {
		if closeErr := src.Close(); closeErr != nil {
			logger.Debug("Failed to close reader", slog.String("error", closeErr.Error()))
		}
	}()

	var stageName string

	err = p.retry.Do(ctx, "create stage table", func() error {
		var createErr error
		stageName, createErr = p.store.CreateStageTable(ctx, spec, fileName, log.ID)

		return createErr
	})
	if err != nil {
		log.EndPhase(storage.PhaseProcessing, false)
		p.trySave(ctx, logger, log)

		return "", err
	}

	log.BeginPhase(storage.PhaseStageLoad)

	if err := p.saveLog(ctx, log); err != nil {
		return stageName, err
	}

	loader := newBatchLoader(p, logger, spec, stageName, fileName, log.ID)
	validator := validate.New(spec, fileName, log.ID)

	var (
		processed int64
		failed    int64
		samples   []string
	)

	streamErr := func() error {
		for {
			record, readErr := src.Read()
			if errors.Is(readErr, io.EOF) {
				return nil
			}

			if readErr != nil {
				return fmt.Errorf("read record %d of %s: %w", processed+1, fileName, readErr)
			}

			processed++

			validRow, failedRow := validator.Validate(int(processed), record)
			if failedRow != nil {
				failed++

				if len(samples) < validationSampleLimit {
					samples = append(samples, describeFailure(failedRow))
				}

				if err := loader.addFailed(ctx, failedRow); err != nil {
					return err
				}

				continue
			}

			if err := loader.addValid(ctx, validRow); err != nil {
				return err
			}
		}
	}()

	// Flush remainders even when the stream failed partway so everything
	// already validated is persisted before the failure is reported.
	flushErr := loader.flush(ctx)

	log.RecordsProcessed = &processed
	log.ValidationErrors = &failed

	if streamErr != nil {
		log.EndPhase(storage.PhaseStageLoad, false)
		log.EndPhase(storage.PhaseProcessing, false)
		p.trySave(ctx, logger, log)

		return stageName, streamErr
	}

	if flushErr != nil {
		log.EndPhase(storage.PhaseStageLoad, false)
		log.EndPhase(storage.PhaseProcessing, false)
		p.trySave(ctx, logger, log)

		return stageName, flushErr
	}

	log.RecordsStageLoaded = &loader.staged
	log.EndPhase(storage.PhaseStageLoad, true)

	if processed > 0 && float64(failed)/float64(processed) > spec.ValidationErrorThreshold {
		log.EndPhase(storage.PhaseProcessing, false)
		p.trySave(ctx, logger, log)

		return stageName, thresholdError(spec, processed, failed, samples)
	}

	log.EndPhase(storage.PhaseProcessing, true)

	if err := p.saveLog(ctx, log); err != nil {
		return stageName, err
	}

	logger.Info("Stage load complete",
		slog.Int64("records_processed", processed),
		slog.Int64("records_staged", loader.staged),
		slog.Int64("validation_errors", failed),
	)

	return stageName, nil
}

// isDuplicate asks whether the file was merged by an earlier run. A
// check that keeps failing is logged and treated as "not a duplicate":
// wrongly reprocessing is caught later by the merge being idempotent,
// while wrongly skipping would silently drop data.
func (p *Pipeline) isDuplicate(ctx context.Context, logger *slog.Logger, spec *source.Spec, fileName string) bool {
	var loaded bool

	err := p.retry.Do(ctx, "duplicate file check", func() error {
		var checkErr error
		loaded, checkErr = p.store.HasFileLoaded(ctx, spec, fileName)

		return checkErr
	})
	if err != nil {
		logger.Warn("Duplicate check failed, treating file as new",
			slog.String("error", err.Error()))

		return false
	}

	return loaded
}

// moveToDuplicates parks the file in the duplicates directory. A name
// collision gets a timestamp suffix instead of overwriting the earlier
// duplicate.
func (p *Pipeline) moveToDuplicates(logger *slog.Logger, path string) error {
	name := filepath.Base(path)
	dest := filepath.Join(p.cfg.DuplicatesDir, name)

	if _, err := os.Stat(dest); err == nil {
		ext := reader.Extension(name)
		stem := strings.TrimSuffix(name, ext)
		stamp := time.Now().UTC().Format("20060102_150405")
		dest = filepath.Join(p.cfg.DuplicatesDir, stem+"_"+stamp+ext)
	}

	if err := moveFile(path, dest); err != nil {
		return fmt.Errorf("move duplicate %s: %w", name, err)
	}

	logger.Info("Moved duplicate file", slog.String("destination", dest))

	return nil
}

// cleanupPriorDeadLetters removes dead letters left by earlier runs of
// the same file name once this run has merged. Rows from the current run
// are kept.
func (p *Pipeline) cleanupPriorDeadLetters(ctx context.Context, logger *slog.Logger, fileName string, logID int64) error {
	var prior bool

	err := p.retry.Do(ctx, "check prior dead letters", func() error {
		var checkErr error
		prior, checkErr = p.store.HasPriorDeadLetters(ctx, fileName, logID)

		return checkErr
	})
	if err != nil {
		return err
	}

	if !prior {
		return nil
	}

	var deleted int64

	err = p.retry.Do(ctx, "delete prior dead letters", func() error {
		var deleteErr error
		deleted, deleteErr = p.store.DeletePriorDeadLetters(ctx, fileName, logID)

		return deleteErr
	})
	if err != nil {
		return err
	}

	logger.Info("Removed dead letters from prior runs", slog.Int64("deleted", deleted))

	return nil
}

// cleanFile consumes the now-ingested source file and drops the stage
// table. Both are best effort: the archive copy preserves the data and a
// leftover stage table is recreated (dropped first) on the next run.
func (p *Pipeline) cleanFile(ctx context.Context, logger *slog.Logger, path, stageName string) {
	if err := os.Remove(path); err != nil {
		logger.Warn("Failed to remove source file from intake", slog.String("error", err.Error()))
	}

	err := p.retry.Do(ctx, "drop stage table", func() error {
		return p.store.DropStageTable(ctx, stageName)
	})
	if err != nil {
		logger.Warn("Failed to drop stage table",
			slog.String("stage_table", stageName),
			slog.String("error", err.Error()))
	}
}

// saveLog persists the run log and fails the file when the write keeps
// failing; a pipeline that cannot record progress must not continue.
func (p *Pipeline) saveLog(ctx context.Context, log *storage.RunLog) error {
	return p.retry.Do(ctx, "save run log", func() error {
		return p.store.SaveRunLog(ctx, log)
	})
}

// trySave persists the run log on a path that is already failing, where
// a save error must not mask the original one.
func (p *Pipeline) trySave(ctx context.Context, logger *slog.Logger, log *storage.RunLog) {
	if err := p.saveLog(ctx, log); err != nil {
		logger.Warn("Failed to save run log", slog.String("error", err.Error()))
	}
}

func (p *Pipeline) notifyOwners(ctx context.Context, logger *slog.Logger, spec *source.Spec, fileName string, kind Kind, message string, logID int64) {
	err := p.owners.NotifyOwner(ctx, notify.OwnerNotification{
		FileName:     fileName,
		ErrorKind:    kind.String(),
		ErrorMessage: message,
		LogID:        logID,
		Recipients:   spec.NotificationRecipients,
	})
	if err != nil {
		logger.Error("Failed to notify file owners", slog.String("error", err.Error()))
	}
}

func duplicateMessage(fileName, targetTable string) string {
	return fmt.Sprintf("The file %s has already been processed and has been moved to the duplicates directory.\n\n"+
		"To reprocess this file:\n"+
		"1. Remove the existing records from %s where source_filename = '%s'\n"+
		"2. Move the file from the duplicates directory back to the intake directory",
		fileName, targetTable, fileName)
}

func thresholdError(spec *source.Spec, processed, failed int64, samples []string) error {
	rate := float64(failed) / float64(processed) * 100

	return fmt.Errorf("%w: error rate %.2f%% exceeds threshold %.2f%% (records processed: %d, failed records: %d)\nSample validation errors:\n%s",
		ErrValidationThreshold, rate, spec.ValidationErrorThreshold*100, processed, failed,
		strings.Join(samples, "\n"))
}

// describeFailure renders one failed row for the threshold message.
func describeFailure(row *validate.FailedRow) string {
	parts := make([]string, 0, len(row.Errors))
	for _, e := range row.Errors {
		parts = append(parts, fmt.Sprintf("%s: %s (value: %v)", e.ColumnName, e.ErrorMessage, e.ColumnValue))
	}

	return fmt.Sprintf("row %d: %s", row.RowNumber, strings.Join(parts, "; "))
}

// copyFile writes an archive copy of src at dest, replacing any earlier
// copy of the same name.
func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	out, err := os.Create(dest)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}

	return out.Close()
}

// moveFile renames src to dest, falling back to copy-and-remove when the
// two sit on different filesystems.
func moveFile(src, dest string) error {
	if err := os.Rename(src, dest); err == nil {
		return nil
	}

	if err := copyFile(src, dest); err != nil {
		return err
	}

	return os.Remove(src)
}

func orZero(v *int64) int64 {
	if v == nil {
		return 0
	}

	return *v
}
