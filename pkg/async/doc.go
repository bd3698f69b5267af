// Package async runs bounded groups of goroutines that report every error.
//
// Each is built on errgroup but never stops at the first failure: every task runs
// and its error is kept at the task's index. A panicking task is recovered
// and reported as an error.
//
//	errs := async.Each(ctx, len(sinks), 4, func(ctx context.Context, i int) error {
//	    return sinks[i].Deliver(ctx, entries)
//	})
//	return errors.Join(errs...)
package async
