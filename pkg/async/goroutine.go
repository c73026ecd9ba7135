package async

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/platinummonkey/lectern/pkg/observability"
)

// SafeGo runs fn in a goroutine with panic recovery. A zero timeout means no
// deadline beyond parentCtx. Errors are logged, not returned.
//
//	SafeGo(ctx, logger, 0, "catalog watcher", watcher.Watch)
func SafeGo(parentCtx context.Context, logger *observability.Logger, timeout time.Duration, taskName string, fn func(context.Context) error) {
	go func() {
		ctx := parentCtx
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(parentCtx, timeout)
			defer cancel()
		}

		defer observability.RecoverPanic(logger, taskName)

		if err := fn(ctx); err != nil {
			logger.WithError(err).WithField("task", taskName).Error("background task failed")
		}
	}()
}

// Batch processes items concurrently on at most workers goroutines, giving each
// item its own timeout. It returns every error, including recovered panics.
func Batch[T any](ctx context.Context, items []T, workers int, taskName string, timeout time.Duration,
	fn func(context.Context, T) error) []error {

	if workers <= 0 {
		workers = 1
	}

	work := make(chan T)
	var (
		mu   sync.Mutex
		errs []error
		wg   sync.WaitGroup
	)
	record := func(err error) {
		mu.Lock()
		errs = append(errs, err)
		mu.Unlock()
	}

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for item := range work {
				if err := runOne(ctx, timeout, taskName, item, fn); err != nil {
					record(err)
				}
			}
		}()
	}

feed:
	for _, item := range items {
		select {
		case work <- item:
		case <-ctx.Done():
			record(fmt.Errorf("%s: %w", taskName, ctx.Err()))
			break feed
		}
	}
	close(work)
	wg.Wait()

	return errs
}

func runOne[T any](ctx context.Context, timeout time.Duration, taskName string, item T, fn func(context.Context, T) error) (err error) {
	taskCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s: %w", taskName, observability.MustRecover(r))
		}
	}()

	return fn(taskCtx, item)
}
