package pipeline

import (
	"context"
	"errors"
	"fmt"

	"mend/internal/backend"
)

// Unit-level failure sentinels. These never propagate beyond one stage run;
// they are recorded on the unit outcome and drive downstream exclusion.
var (
	// ErrMissingDependency marks a unit whose required upstream artifact is
	// absent. The unit fails rather than silently substituting anything.
	ErrMissingDependency = errors.New("missing upstream artifact")
	// ErrParse marks malformed model output; the sample counts as zero
	// viable candidates.
	ErrParse = errors.New("unparseable model output")
	// ErrExecution marks a test-sandbox failure; the verdict is
	// inconclusive and excluded from scoring.
	ErrExecution = errors.New("test execution failed")
)

// FailureReason classifies a unit failure for reports.
type FailureReason string

const (
	ReasonMissingDependency FailureReason = "missing_dependency"
	ReasonParseError        FailureReason = "parse_error"
	ReasonBackendError      FailureReason = "backend_error"
	ReasonExecutionError    FailureReason = "execution_error"
	ReasonCanceled          FailureReason = "canceled"
	ReasonInternal          FailureReason = "internal"
)

// ClassifyFailure maps a unit error to its report reason.
func ClassifyFailure(err error) FailureReason {
	switch {
	case errors.Is(err, ErrMissingDependency):
		return ReasonMissingDependency
	case errors.Is(err, ErrParse):
		return ReasonParseError
	case errors.Is(err, ErrExecution):
		return ReasonExecutionError
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ReasonCanceled
	default:
		var be *backend.Error
		if errors.As(err, &be) {
			return ReasonBackendError
		}
		return ReasonInternal
	}
}

// FatalError halts the entire run: bad configuration or backend auth that
// would deterministically fail every subsequent unit.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string { return fmt.Sprintf("fatal: %v", e.Err) }
func (e *FatalError) Unwrap() error { return e.Err }

// IsFatal reports whether err must halt the run.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe) || backend.IsFatal(err)
}
