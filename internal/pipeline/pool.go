package pipeline

import (
	"context"
	"log/slog"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// Runner processes a single intake file.
type Runner interface {
	Run(ctx context.Context, path string) Outcome
}

// Pool fans a batch of intake files out across a fixed set of workers.
// Each worker owns a contiguous slice of the batch and processes its
// files sequentially, so two workers never touch the same file and the
// per-file outcomes land at stable positions.
type Pool struct {
	runner  Runner
	workers int
	logger  *slog.Logger
}

// NewPool creates a Pool. A non-positive workers value means one worker
// per CPU.
func NewPool(runner Runner, workers int, logger *slog.Logger) *Pool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	return &Pool{runner: runner, workers: workers, logger: logger}
}

// Process runs every file through the runner and returns the outcomes in
// input order. A failed file never stops the batch; its outcome carries
// the error instead.
func (p *Pool) Process(ctx context.Context, paths []string) []Outcome {
	batches := partition(paths, p.workers)

	p.logger.Info("Processing intake files",
		slog.Int("files", len(paths)),
		slog.Int("workers", len(batches)),
	)

	outcomes := make([]Outcome, len(paths))

	g, gctx := errgroup.WithContext(ctx)

	offset := 0
	for i, batch := range batches {
		worker := i
		files := batch
		start := offset
		offset += len(batch)

		g.Go(func() error {
			logger := p.logger.With(slog.Int("worker", worker))
			logger.Debug("Worker started", slog.Int("files", len(files)))

			for j, path := range files {
				outcomes[start+j] = p.runner.Run(gctx, path)
			}

			logger.Debug("Worker finished")

			return nil
		})
	}

	// Workers report failures through outcomes, never as errors.
	_ = g.Wait()

	return outcomes
}

// partition splits paths into at most n contiguous batches. The first
// len(paths) mod n batches take one extra file; batches that would be
// empty are dropped.
func partition(paths []string, n int) [][]string {
	if n < 1 {
		n = 1
	}

	per := len(paths) / n
	remainder := len(paths) % n

	var batches [][]string

	start := 0

	for i := 0; i < n; i++ {
		size := per
		if i < remainder {
			size++
		}

		if size == 0 {
			continue
		}

		batches = append(batches, paths[start:start+size])
		start += size
	}

	return batches
}
