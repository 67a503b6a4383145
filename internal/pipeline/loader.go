package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/fileloader-io/fileloader/internal/retry"
	"github.com/fileloader-io/fileloader/internal/source"
	"github.com/fileloader-io/fileloader/internal/validate"
)

// progressInterval is how many rows go between stage-load progress lines.
const progressInterval = 100_000

// batchLoader buffers the streaming pass's output and flushes it in
// dialect-capped batches: valid rows to the stage table, failed rows to
// the dead-letter queue. Buffers never outgrow one batch, which keeps
// memory flat no matter how large the file is.
type batchLoader struct {
	store     Store
	retry     *retry.Policy
	logger    *slog.Logger
	spec      *source.Spec
	stageName string
	fileName  string
	logID     int64

	stageCap int
	dlqCap   int

	valid  []*validate.ValidRow
	failed []*validate.FailedRow

	staged       int64
	deadLettered int64
}

func newBatchLoader(p *Pipeline, logger *slog.Logger, spec *source.Spec, stageName, fileName string, logID int64) *batchLoader {
	return &batchLoader{
		store:     p.store,
		retry:     p.retry,
		logger:    logger,
		spec:      spec,
		stageName: stageName,
		fileName:  fileName,
		logID:     logID,
		stageCap:  p.store.StageBatchCap(spec, p.cfg.BatchSize),
		dlqCap:    p.store.DLQBatchCap(p.cfg.BatchSize),
	}
}

func (b *batchLoader) addValid(ctx context.Context, row *validate.ValidRow) error {
	b.valid = append(b.valid, row)

	if len(b.valid) >= b.stageCap {
		return b.flushValid(ctx)
	}

	return nil
}

func (b *batchLoader) addFailed(ctx context.Context, row *validate.FailedRow) error {
	b.failed = append(b.failed, row)

	if len(b.failed) >= b.dlqCap {
		return b.flushFailed(ctx)
	}

	return nil
}

// flush drains both buffers. It is called once at end of stream, also
// after a mid-stream failure, so partial batches are never lost.
func (b *batchLoader) flush(ctx context.Context) error {
	if err := b.flushValid(ctx); err != nil {
		return err
	}

	return b.flushFailed(ctx)
}

func (b *batchLoader) flushValid(ctx context.Context) error {
	if len(b.valid) == 0 {
		return nil
	}

	batch := b.valid

	err := b.retry.Do(ctx, "insert stage batch", func() error {
		return b.store.InsertValidRows(ctx, b.stageName, b.spec, batch)
	})
	if err != nil {
		return err
	}

	crossed := crossesInterval(b.staged, int64(len(batch)))
	b.staged += int64(len(batch))
	b.valid = b.valid[:0]

	if crossed {
		b.logger.Info("Stage load progress", slog.Int64("records_staged", b.staged))
	}

	return nil
}

func (b *batchLoader) flushFailed(ctx context.Context) error {
	if len(b.failed) == 0 {
		return nil
	}

	batch := b.failed
	failedAt := time.Now().UTC()

	err := b.retry.Do(ctx, "insert dead letter batch", func() error {
		return b.store.InsertFailedRows(ctx, b.spec, b.fileName, b.logID, failedAt, batch)
	})
	if err != nil {
		return err
	}

	crossed := crossesInterval(b.deadLettered, int64(len(batch)))
	b.deadLettered += int64(len(batch))
	b.failed = b.failed[:0]

	if crossed {
		b.logger.Info("Dead letter progress", slog.Int64("records_dead_lettered", b.deadLettered))
	}

	return nil
}

// crossesInterval reports whether count+delta passes a progress interval
// boundary that count itself had not reached.
func crossesInterval(count, delta int64) bool {
	return (count+delta)/progressInterval > count/progressInterval
}
