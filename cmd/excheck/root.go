package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"excheck/internal/app/engine"
	"excheck/internal/catalog"
	"excheck/internal/infra/docker"
	"excheck/internal/infra/kafka"
	"excheck/internal/logging"
	"excheck/internal/ports"
)

type rootOptions struct {
	catalogPath string
	debug       bool
	maxParallel int
	debounce    time.Duration
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "excheck",
		Short:         "Verify learner exercise files against declarative rules",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.catalogPath, "catalog", "c",
		envOrDefault("EXCHECK_CATALOG", defaultCatalogPath), "path to the exercise catalog")
	cmd.PersistentFlags().BoolVar(&opts.debug, "debug", false, "enable debug logging")
	cmd.PersistentFlags().IntVarP(&opts.maxParallel, "parallel", "p",
		parseMaxParallel(os.Getenv("EXCHECK_MAX_PARALLEL")), "max concurrent verification runs")
	cmd.PersistentFlags().DurationVar(&opts.debounce, "debounce",
		parseDuration(os.Getenv("EXCHECK_DEBOUNCE"), 300*time.Millisecond), "file change debounce window")

	cmd.AddCommand(newRunCommand(opts))
	cmd.AddCommand(newWatchCommand(opts))
	cmd.AddCommand(newCatalogCommand(opts))

	return cmd
}

// appRuntime bundles the wired collaborators a command needs.
type appRuntime struct {
	catalog   *catalog.Catalog
	service   *engine.Service
	publisher ports.ReportPublisher
	logger    *zap.Logger
}

func buildRuntime(opts *rootOptions) (*appRuntime, func(), error) {
	logger, err := logging.New(opts.debug)
	if err != nil {
		return nil, nil, fmt.Errorf("initialize logger: %w", err)
	}

	cat, err := catalog.Load(opts.catalogPath)
	if err != nil {
		_ = logger.Sync()
		return nil, nil, err
	}

	transpiler, err := docker.New(transpilerConfigFromEnv())
	if err != nil {
		_ = logger.Sync()
		return nil, nil, err
	}

	service := engine.NewService(transpiler, logger)

	var publisher ports.ReportPublisher
	if kafkaCfg := kafkaConfigFromEnv(); len(kafkaCfg.Brokers) > 0 {
		publisher, err = kafka.NewPublisher(kafkaCfg)
		if err != nil {
			_ = service.Close()
			_ = logger.Sync()
			return nil, nil, fmt.Errorf("initialize kafka publisher: %w", err)
		}
		logger.Info("publishing reports to kafka",
			zap.Strings("brokers", kafkaCfg.Brokers),
			zap.String("topic", kafkaCfg.Topic))
	}

	rt := &appRuntime{
		catalog:   cat,
		service:   service,
		publisher: publisher,
		logger:    logger,
	}

	cleanup := func() {
		var errs []error
		if rt.publisher != nil {
			errs = append(errs, rt.publisher.Close())
		}
		errs = append(errs, rt.service.Close())
		if err := errors.Join(errs...); err != nil {
			logger.Warn("cleanup", zap.Error(err))
		}
		_ = logger.Sync()
	}

	return rt, cleanup, nil
}
