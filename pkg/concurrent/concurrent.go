package concurrent

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Bounded runs action for each item on at most limit goroutines (no limit when
// limit <= 0). It stops starting new items once ctx is done or an action
// fails, waits for the started ones and returns the first error.
func Bounded[T any](ctx context.Context, items []T, limit int, action func(context.Context, T) error) error {
	errGroup, gctx := errgroup.WithContext(ctx)
	if limit > 0 {
		errGroup.SetLimit(limit)
	}

	for _, item := range items {
		if gctx.Err() != nil {
			break
		}
		errGroup.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			return action(gctx, item)
		})
	}

	if err := errGroup.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// Each runs action for every item in its own goroutine and waits for all of them.
func Each[T any](items []T, action func(T)) {
	errGroup := errgroup.Group{}
	for _, item := range items {
		errGroup.Go(func() error {
			action(item)
			return nil
		})
	}
	_ = errGroup.Wait()
}
