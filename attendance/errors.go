/*
errors.go - Centralized error types for the attendance engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Stores and the HTTP layer wrap or map these; nothing else invents errors.

ERROR CATEGORIES:
  1. Data-missing      - no shift, no schedule: never an error, the engine
                         degrades to fallback behaviour instead
  2. Config-missing    - no tenant settings: never an error, defaults apply
  3. Transient         - send failure, store contention: returned so the
                         caller (usually the sweep) can retry later
  4. Invariant         - e.g. OUT before IN: the punch is stored REJECTED and
                         the caller gets an *InvariantError

USAGE:
    if errors.Is(err, attendance.ErrDuplicateOvertime) {
        // another writer already credited this employee-day, not a failure
    }

SEE ALSO:
  - store.go: repositories return these
  - api/handlers.go: maps them to HTTP status codes
*/
package attendance

import (
	"errors"
	"fmt"
	"time"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrDuplicatePunch is returned when a punch ID is already stored.
	ErrDuplicatePunch = errors.New("duplicate punch")

	// ErrDuplicateOvertime is returned when an overtime record already exists
	// for the employee-day. Callers treat it as a no-op.
	ErrDuplicateOvertime = errors.New("overtime already recorded for employee and date")

	// ErrNotFound is returned when a referenced entity doesn't exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidPunch is returned when a punch fails basic validation.
	ErrInvalidPunch = errors.New("invalid punch")

	// ErrOutBeforeIn is the invariant violation of an OUT older than the IN
	// of the session it would close.
	ErrOutBeforeIn = errors.New("out punch precedes open in punch")

	// ErrSendFailed is returned when the notification sender fails.
	ErrSendFailed = errors.New("notification send failed")

	// ErrTenantRequired is returned when an operation is called without a tenant.
	ErrTenantRequired = errors.New("tenant id required")

	// ErrInvalidSettings is returned when tenant settings fail validation.
	ErrInvalidSettings = errors.New("invalid tenant settings")

	// ErrAnomalyCorrected is returned when correcting an anomaly twice.
	ErrAnomalyCorrected = errors.New("anomaly already corrected")

	// ErrInvalidStatus is returned for an unknown overtime status transition.
	ErrInvalidStatus = errors.New("invalid overtime status")

	// ErrOutOfScope is returned when the visibility scope hides the target.
	ErrOutOfScope = errors.New("employee outside visibility scope")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InvariantError describes a punch that was stored as REJECTED.
type InvariantError struct {
	PunchID PunchID
	Reason  string
	Err     error
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("punch %s rejected: %s", e.PunchID, e.Reason)
}

func (e *InvariantError) Unwrap() error {
	return e.Err
}

// CapExceededError explains why an overtime record was not created under a
// hard cap. It is reported in results, not returned from ingestion.
type CapExceededError struct {
	EmployeeID EmployeeID
	Date       Date
	Period     string // "week" or "month"
	Used       string
	Cap        string
	Requested  string
}

func (e *CapExceededError) Error() string {
	return fmt.Sprintf("overtime cap exceeded for %s on %s: %s used %s + requested %s > cap %s",
		e.EmployeeID, e.Date, e.Period, e.Used, e.Requested, e.Cap)
}

// SendError carries the failed recipient so the retry can be logged.
type SendError struct {
	Key       OccurrenceKey
	ManagerID string
	At        time.Time
	Err       error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send %s to manager %s: %v", e.Key, e.ManagerID, e.Err)
}

func (e *SendError) Unwrap() []error {
	return []error{ErrSendFailed, e.Err}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrSendFailed)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidPunch) ||
		errors.Is(err, ErrDuplicatePunch) ||
		errors.Is(err, ErrOutBeforeIn) ||
		errors.Is(err, ErrTenantRequired) ||
		errors.Is(err, ErrInvalidSettings) ||
		errors.Is(err, ErrAnomalyCorrected) ||
		errors.Is(err, ErrInvalidStatus)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrOutOfScope)
}

// IsInvariant reports whether err is a rejected punch.
func IsInvariant(err error) bool {
	var ie *InvariantError
	return errors.As(err, &ie)
}
