package usecase

import (
	"context"
	"errors"
	"fmt"

	"sampurr/internal/domain"
	"sampurr/internal/storage/disk"
)

var (
	ErrStageTimeout = errors.New("timed out")
	ErrClientGone   = errors.New("client connection closed")
)

func wrapStageTimeout(stage string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s %w: %v", stage, ErrStageTimeout, err)
}

func wrapClient(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrClientGone, err)
}

// failureFor maps a stage error to the failure reported to the client. It
// returns false when nothing should be written: the request was cancelled or
// the client is already gone.
func failureFor(err error) (domain.Failure, bool) {
	var toolErr *domain.ToolError
	switch {
	case err == nil:
		return domain.Failure{}, false
	case errors.Is(err, ErrClientGone), errors.Is(err, context.Canceled):
		return domain.Failure{}, false
	case errors.Is(err, domain.ErrInvalidURL):
		return domain.Failure{Kind: domain.ErrorValidation, Detail: "The URL is not valid."}, true
	case errors.Is(err, domain.ErrTooLong):
		return domain.Failure{Kind: domain.ErrorTooLong, Detail: err.Error()}, true
	case errors.Is(err, ErrStageTimeout), errors.Is(err, context.DeadlineExceeded):
		return domain.Failure{Kind: domain.ErrorToolFailure, Detail: "timed out"}, true
	case errors.As(err, &toolErr):
		return domain.Failure{Kind: domain.ErrorToolFailure, Detail: toolErr.Diagnostic()}, true
	case errors.Is(err, disk.ErrStorageUnavailable):
		return domain.Failure{Kind: domain.ErrorInternal, Detail: "cache storage unavailable"}, true
	default:
		return domain.Failure{Kind: domain.ErrorInternal, Detail: err.Error()}, true
	}
}

// outcomeOf labels a finished request for metrics.
func outcomeOf(err error) string {
	if err == nil {
		return "success"
	}
	if errors.Is(err, ErrClientGone) || errors.Is(err, context.Canceled) {
		return "cancelled"
	}
	failure, _ := failureFor(err)
	return string(failure.Kind)
}
