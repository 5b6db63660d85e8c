package ports

import (
	"context"

	"excheck/internal/domain/verify"
)

// ReportPublisher publishes exercise run reports to an external system.
type ReportPublisher interface {
	PublishReport(ctx context.Context, report verify.ExerciseRunReport) error
	Close() error
}
