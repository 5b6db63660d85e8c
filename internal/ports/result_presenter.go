package ports

import "excheck/internal/domain/verify"

// ResultPresenter consumes finished run reports for display. Presenters must
// tolerate being called from multiple goroutines.
type ResultPresenter interface {
	Present(report verify.ExerciseRunReport)
}
