package usecase

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"sampurr/internal/domain"
	"sampurr/internal/storage/disk"
)

func TestFailureFor(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantReport bool
		wantKind   domain.ErrorKind
		wantDetail string
	}{
		{"cancelled", context.Canceled, false, "", ""},
		{"client gone", wrapClient(errors.New("broken pipe")), false, "", ""},
		{"invalid url", domain.ErrInvalidURL, true, domain.ErrorValidation, "The URL is not valid."},
		{"too long", fmt.Errorf("%w: duration 12:00", domain.ErrTooLong), true, domain.ErrorTooLong, "media too long: duration 12:00"},
		{"stage timeout", wrapStageTimeout("download", context.DeadlineExceeded), true, domain.ErrorToolFailure, "timed out"},
		{"deadline", context.DeadlineExceeded, true, domain.ErrorToolFailure, "timed out"},
		{"tool", domain.NewToolError("yt-dlp", errors.New("exit status 1"), "ERROR: private video"), true, domain.ErrorToolFailure, "ERROR: private video"},
		{"storage", fmt.Errorf("publish: %w", disk.ErrStorageUnavailable), true, domain.ErrorInternal, "cache storage unavailable"},
		{"other", errors.New("boom"), true, domain.ErrorInternal, "boom"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			failure, report := failureFor(tc.err)
			if report != tc.wantReport {
				t.Fatalf("report = %v, want %v", report, tc.wantReport)
			}
			if !report {
				return
			}
			if failure.Kind != tc.wantKind || failure.Detail != tc.wantDetail {
				t.Fatalf("failure = %+v", failure)
			}
		})
	}
}

func TestOutcomeOf(t *testing.T) {
	tests := map[string]error{
		"success":      nil,
		"cancelled":    context.Canceled,
		"validation":   domain.ErrInvalidURL,
		"tool_failure": wrapStageTimeout("metadata", context.DeadlineExceeded),
		"internal":     errors.New("boom"),
	}
	for want, err := range tests {
		if got := outcomeOf(err); got != want {
			t.Errorf("outcomeOf(%v) = %q, want %q", err, got, want)
		}
	}
}
