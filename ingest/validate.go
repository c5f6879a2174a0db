// Package ingest validates scraped batches, computes newly appeared listings,
// and runs the periodic scan loop that feeds the alert dispatcher.
package ingest

import (
	"errors"
	"fmt"

	"steam-sales-notifier/pkg/sales"
)

// DefaultToleranceFraction is the minimum acceptable ratio of scraped count
// to the externally reported expected count before a batch is trusted.
const DefaultToleranceFraction = 0.90

// RejectError indicates a scanned batch must not overwrite the current
// snapshot. Rejections are soft failures: the caller schedules a short-delay
// retry instead of the full scan period.
type RejectError struct {
	Reason   string
	Got      int
	Expected int
	Err      error
}

func (e *RejectError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("batch rejected: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("batch rejected: %s (got %d, expected %d)", e.Reason, e.Got, e.Expected)
}

func (e *RejectError) Unwrap() error {
	return e.Err
}

// IsReject reports whether err (or anything it wraps) is a batch rejection.
func IsReject(err error) bool {
	var rej *RejectError
	return errors.As(err, &rej)
}

// Validate decides whether a scanned batch is trustworthy enough to replace
// the current snapshot. A nil return means accept.
//
// A batch is rejected when the source reported an expected count and the
// batch is smaller than tolerance*expected (a partially loaded page must not
// wipe good data), or when the batch is empty. expectedCount < 0 means the
// source did not report one.
func Validate(batch []sales.Listing, expectedCount int, havePrior bool, tolerance float64) error {
	if tolerance <= 0 {
		tolerance = DefaultToleranceFraction
	}

	if len(batch) == 0 {
		reason := "empty batch"
		if havePrior {
			reason = "empty batch against non-empty snapshot"
		}
		return &RejectError{Reason: reason, Got: 0, Expected: expectedCount}
	}

	if expectedCount >= 0 && float64(len(batch)) < tolerance*float64(expectedCount) {
		return &RejectError{Reason: "batch below tolerance", Got: len(batch), Expected: expectedCount}
	}

	return nil
}
