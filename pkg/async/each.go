package async

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/chronicle/pkg/observability"
)

// Each calls fn for every index in [0, n) using at most workers goroutines
// and returns the errors by index. A workers value below 1 runs all n at once.
// Tasks not yet started when ctx is done get ctx.Err().
func Each(ctx context.Context, n, workers int, fn func(context.Context, int) error) []error {
	errs := make([]error, n)

	var g errgroup.Group
	if workers > 0 {
		g.SetLimit(workers)
	}
	for i := range n {
		g.Go(func() error {
			errs[i] = run(ctx, i, fn)
			return nil
		})
	}
	_ = g.Wait()

	return errs
}

func run(ctx context.Context, i int, fn func(context.Context, int) error) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}
	defer func() {
		if p := observability.MustRecover(recover()); p != nil {
			err = p
		}
	}()
	return fn(ctx, i)
}
