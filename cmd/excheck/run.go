package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"excheck/internal/domain/verify"
	"excheck/internal/infra/console"
)

func newRunCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run [exercise-id...]",
		Short: "Verify exercises once and report the outcome",
		Long: "Run verifies the named exercises (or every exercise in the catalog) " +
			"once and prints a report per exercise. The exit code is non-zero when " +
			"any exercise failed.",
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
			anyFailed := false

			err = rt.service.RunAll(ctx, exercises, opts.maxParallel, func(rep verify.ExerciseRunReport) {
				presenter.Present(rep)
				if rep.Status == verify.StatusFailed {
					anyFailed = true
				}
				if rt.publisher != nil {
					if perr := rt.publisher.PublishReport(ctx, rep); perr != nil {
						rt.logger.Warn("publish report",
							zap.String("exercise", rep.ExerciseID),
							zap.Error(perr))
					}
				}
			})
			if err != nil {
				return fmt.Errorf("run exercises: %w", err)
			}

			if anyFailed {
				return fmt.Errorf("one or more exercises failed")
			}
			return nil
		},
	}
}

func selectExercises(rt *appRuntime, ids []string) ([]verify.Exercise, error) {
	if len(ids) == 0 {
		return rt.catalog.Exercises, nil
	}

	exercises := make([]verify.Exercise, 0, len(ids))
	for _, id := range ids {
		exercise, ok := rt.catalog.Exercise(id)
		if !ok {
			return nil, fmt.Errorf("unknown exercise %q", id)
		}
		exercises = append(exercises, exercise)
	}
	return exercises, nil
}
