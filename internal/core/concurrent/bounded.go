// Package concurrent provides the semaphore-bounded fan-out primitive the
// Archive Backfiller and Guards Reconciler use (spec §5: per-page/per-batch
// concurrency bounded by a default of 20 and 50 respectively). Adapted
// from goodnatureofminers-blockinsight7000-backend/pkg/workerpool.Process,
// simplified from its channel+WaitGroup+onCancel shape onto
// golang.org/x/sync/errgroup, which the teacher itself already depends on
// for bounded parallel enrichment.
package concurrent

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Each runs fn(item) for every item in items, at most limit at a time.
// The first error cancels the group's context and is returned once all
// in-flight calls have completed; the caller decides whether that means
// "fail the whole page" (Archive Backfiller, spec §4.2) or "abort this
// batch" (Guards Reconciler, spec §4.6).
func Each[T any](ctx context.Context, limit int, items []T, fn func(ctx context.Context, item T) error) error {
	if limit <= 0 {
		limit = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	for _, item := range items {
		item := item
		g.Go(func() error {
			return fn(gctx, item)
		})
	}
	return g.Wait()
}
