package main

import (
	"os"
	"strconv"
	"strings"
	"time"

	"excheck/internal/infra/docker"
	"excheck/internal/infra/kafka"
)

const (
	defaultCatalogPath = "excheck.yaml"
	defaultKafkaTopic  = "excheck.reports"
)

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func parseBrokerList(raw string) []string {
	fields := strings.Split(raw, ",")
	brokers := make([]string, 0, len(fields))
	for _, field := range fields {
		if trimmed := strings.TrimSpace(field); trimmed != "" {
			brokers = append(brokers, trimmed)
		}
	}
	return brokers
}

func parseMaxParallel(raw string) int {
	if raw == "" {
		return 1
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		return 1
	}
	return value
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}
	return d
}

func parseBytes(raw string) int64 {
	if raw == "" {
		return 0
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || value < 0 {
		return 0
	}
	return value
}

func transpilerConfigFromEnv() docker.Config {
	cfg := docker.Config{
		Image:            os.Getenv("EXCHECK_TRANSPILER_IMAGE"),
		Workdir:          os.Getenv("EXCHECK_TRANSPILER_WORKDIR"),
		SourceFile:       os.Getenv("EXCHECK_TRANSPILER_SOURCE_FILE"),
		OutputFile:       os.Getenv("EXCHECK_TRANSPILER_OUTPUT_FILE"),
		TimeLimit:        parseDuration(os.Getenv("EXCHECK_TRANSPILER_TIME_LIMIT"), 0),
		MemoryLimitBytes: parseBytes(os.Getenv("EXCHECK_TRANSPILER_MEMORY_LIMIT")),
	}
	if raw := os.Getenv("EXCHECK_TRANSPILER_COMMAND"); raw != "" {
		cfg.Command = strings.Fields(raw)
	}
	return cfg
}

func kafkaConfigFromEnv() kafka.Config {
	return kafka.Config{
		Brokers: parseBrokerList(os.Getenv("EXCHECK_KAFKA_BROKERS")),
		Topic:   envOrDefault("EXCHECK_KAFKA_TOPIC", defaultKafkaTopic),
	}
}
