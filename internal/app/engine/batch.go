package engine

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"excheck/internal/domain/verify"
)

// RunAll verifies every exercise with bounded parallelism. onReport is
// invoked once per exercise, serialized, in completion order. The error
// return is nil unless the context was cancelled before all runs finished.
func (s *Service) RunAll(
	ctx context.Context,
	exercises []verify.Exercise,
	maxParallel int,
	onReport func(verify.ExerciseRunReport),
) error {
	if maxParallel <= 0 {
		maxParallel = 1
	}

	group, ctx := errgroup.WithContext(ctx)
	group.SetLimit(maxParallel)

	var mu sync.Mutex
	for _, exercise := range exercises {
		group.Go(func() error {
			rep, err := s.RunWithToken(ctx, exercise, 0)
			if err != nil {
				return err
			}
			if onReport != nil {
				mu.Lock()
				onReport(rep)
				mu.Unlock()
			}
			return nil
		})
	}

	return group.Wait()
}
