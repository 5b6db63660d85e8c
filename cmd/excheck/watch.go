package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"excheck/internal/domain/verify"
	"excheck/internal/infra/console"
	"excheck/internal/watch"
)

func newWatchCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "watch [exercise-id...]",
		Short: "Re-verify exercises live as their files change",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			rt, cleanup, err := buildRuntime(opts)
			if err != nil {
				return err
			}
			defer cleanup()

			exercises, err := selectExercises(rt, args)
			if err != nil {
				return err
			}

			presenter := console.NewPresenter(cmd.OutOrStdout())
			coordinator := watch.NewCoordinator(rt.service, watch.Config{
				Debounce: opts.debounce,
				Logger:   rt.logger,
			})

			onChange := func(rep verify.ExerciseRunReport) {
				presenter.Present(rep)
				if rt.publisher != nil && rep.Status != verify.StatusInProgress {
					if perr := rt.publisher.PublishReport(ctx, rep); perr != nil {
						rt.logger.Warn("publish report",
							zap.String("exercise", rep.ExerciseID),
							zap.Error(perr))
					}
				}
			}

			for _, exercise := range exercises {
				if _, err := coordinator.WatchExercise(exercise, onChange); err != nil {
					return fmt.Errorf("watch %s: %w", exercise.ID, err)
				}
			}

			if err := coordinator.Start(ctx); err != nil {
				return err
			}
			defer coordinator.Stop()

			fmt.Fprintf(cmd.OutOrStdout(), "watching %d exercise(s), press Ctrl-C to stop\n", len(exercises))
			<-ctx.Done()
			return nil
		},
	}
}
