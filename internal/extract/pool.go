package extract

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/feichai0017/pdf-image-extractor/pkg/logger"
)

// PageTask processes one 0-based page. A returned error is recorded for that
// page only; siblings keep running.
type PageTask func(ctx context.Context, page int) error

// PageDone is told how every page ended, including dropped and panicked ones.
type PageDone func(page int, err error)

// WorkerPool runs one task per page, sequentially or on a bounded errgroup.
type WorkerPool struct {
	workers int
	grace   time.Duration
	logger  logger.Logger
}

func NewWorkerPool(workers int, grace time.Duration, log logger.Logger) *WorkerPool {
	if workers < 1 {
		workers = 1
	}
	return &WorkerPool{workers: workers, grace: grace, logger: log}
}

// Run blocks until every page has been handled. It only fails when ctx is
// cancelled: queued pages are dropped and in-flight ones get the grace period.
func (p *WorkerPool) Run(ctx context.Context, pages int, parallel bool, task PageTask, done PageDone) error {
	if !parallel || p.workers == 1 {
		return p.runSequential(ctx, pages, task, done)
	}
	return p.runParallel(ctx, pages, task, done)
}

func (p *WorkerPool) runSequential(ctx context.Context, pages int, task PageTask, done PageDone) error {
	for page := 0; page < pages; page++ {
		if ctx.Err() != nil {
			for ; page < pages; page++ {
				done(page, errDropped)
			}
			return interrupted(ctx)
		}
		done(page, p.safeRun(ctx, page, task))
	}
	return nil
}

func (p *WorkerPool) runParallel(ctx context.Context, pages int, task PageTask, done PageDone) error {
	var g errgroup.Group
	g.SetLimit(p.workers)

	finished := make(chan struct{})
	go func() {
		defer close(finished)
		for page := 0; page < pages; page++ {
			// Go blocks while the pool is full, so cancellation is checked again
			// once the task actually starts.
			g.Go(func() error {
				if ctx.Err() != nil {
					done(page, errDropped)
					return nil
				}
				done(page, p.safeRun(ctx, page, task))
				return nil
			})
		}
		_ = g.Wait()
	}()

	select {
	case <-finished:
		if ctx.Err() != nil {
			return interrupted(ctx)
		}
		return nil
	case <-ctx.Done():
	}

	p.logger.Warn("Extraction interrupted, waiting for in-flight pages",
		logger.Duration("grace", p.grace))
	timer := time.NewTimer(p.grace)
	defer timer.Stop()
	select {
	case <-finished:
	case <-timer.C:
		p.logger.Error("In-flight pages did not stop within the grace period, abandoning them",
			logger.Duration("grace", p.grace))
	}
	return interrupted(ctx)
}

func (p *WorkerPool) safeRun(ctx context.Context, page int, task PageTask) (err error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Page task panicked",
				logger.Int("page", page+1),
				logger.Any("panic", r),
				logger.String("stack", string(debug.Stack())))
			err = fmt.Errorf("%w: %v", errPagePanic, r)
		}
	}()
	return task(ctx, page)
}

func interrupted(ctx context.Context) error {
	return fmt.Errorf("%w: %w", ErrInterrupted, context.Cause(ctx))
}
