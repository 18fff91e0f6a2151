package homegraph

import (
	"errors"
	"fmt"
)

// Common sentinel errors for the homegraph package.
var (
	// ErrNotConnected is returned when a sync is attempted with no remote
	// endpoint or transport configured.
	ErrNotConnected = errors.New("no remote endpoint configured")

	// ErrAuthRequired is returned when the remote rejects a request for a
	// missing or expired credential.
	ErrAuthRequired = errors.New("authentication required")

	// ErrAuthFailed is returned when the remote explicitly rejects the
	// provided credential.
	ErrAuthFailed = errors.New("authentication failed")

	// ErrSyncInProgress is returned when a sync is started while another is
	// already in flight on the same engine.
	ErrSyncInProgress = errors.New("sync already in progress")

	// ErrSyncFailed is the generic sync failure.
	ErrSyncFailed = errors.New("sync failed")

	// ErrInvalidData is returned for malformed payloads or unknown enum
	// values encountered while reconstructing wire data.
	ErrInvalidData = errors.New("invalid sync data")

	// ErrConflictResolution is returned when conflict resolution cannot
	// complete.
	ErrConflictResolution = errors.New("conflict resolution failed")

	// ErrStopped is returned when a sync is requested on a stopped engine.
	ErrStopped = errors.New("sync engine is stopped")
)

// ErrorKind categorizes sync errors so callers can decide retry policy.
type ErrorKind int

const (
	// ErrorKindUnknown is an unclassified error.
	ErrorKindUnknown ErrorKind = iota
	// ErrorKindNotConnected indicates no remote endpoint/session.
	ErrorKindNotConnected
	// ErrorKindAuthRequired indicates a missing or expired credential.
	ErrorKindAuthRequired
	// ErrorKindAuthFailed indicates an explicit credential rejection.
	ErrorKindAuthFailed
	// ErrorKindSyncFailed is a generic sync failure (unexpected status,
	// already in progress).
	ErrorKindSyncFailed
	// ErrorKindConflictResolution indicates conflict resolution failed.
	ErrorKindConflictResolution
	// ErrorKindStorage wraps an underlying persistence failure.
	ErrorKindStorage
	// ErrorKindNetwork wraps a transport failure or timeout.
	ErrorKindNetwork
	// ErrorKindInvalidData indicates a malformed payload or unknown enum.
	ErrorKindInvalidData
	// ErrorKindServer indicates a 5xx response from the remote.
	ErrorKindServer
)

// String returns the kind name.
func (k ErrorKind) String() string {
	switch k {
	case ErrorKindNotConnected:
		return "not_connected"
	case ErrorKindAuthRequired:
		return "auth_required"
	case ErrorKindAuthFailed:
		return "auth_failed"
	case ErrorKindSyncFailed:
		return "sync_failed"
	case ErrorKindConflictResolution:
		return "conflict_resolution_failed"
	case ErrorKindStorage:
		return "storage_error"
	case ErrorKindNetwork:
		return "network_error"
	case ErrorKindInvalidData:
		return "invalid_data"
	case ErrorKindServer:
		return "server_error"
	default:
		return "unknown"
	}
}

// SyncError carries a classified sync failure.
type SyncError struct {
	Kind       ErrorKind
	Message    string
	StatusCode int
	Cause      error
}

func (e *SyncError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

func (e *SyncError) Unwrap() error {
	return e.Cause
}

// Is implements error matching against the package sentinels.
func (e *SyncError) Is(target error) bool {
	switch e.Kind {
	case ErrorKindNotConnected:
		return target == ErrNotConnected
	case ErrorKindAuthRequired:
		return target == ErrAuthRequired
	case ErrorKindAuthFailed:
		return target == ErrAuthFailed
	case ErrorKindSyncFailed:
		return target == ErrSyncFailed
	case ErrorKindConflictResolution:
		return target == ErrConflictResolution
	case ErrorKindInvalidData:
		return target == ErrInvalidData
	}
	return false
}

// newSyncError creates a classified SyncError.
func newSyncError(kind ErrorKind, message string, cause error) *SyncError {
	return &SyncError{Kind: kind, Message: message, Cause: cause}
}

// newServerError creates a SyncError for a 5xx response.
func newServerError(status int, message string) *SyncError {
	return &SyncError{Kind: ErrorKindServer, Message: message, StatusCode: status}
}

// storageErr wraps an underlying persistence failure.
func storageErr(op string, cause error) *SyncError {
	return &SyncError{Kind: ErrorKindStorage, Message: "storage: " + op, Cause: cause}
}

// networkErr wraps a transport failure or timeout.
func networkErr(op string, cause error) *SyncError {
	return &SyncError{Kind: ErrorKindNetwork, Message: "network: " + op, Cause: cause}
}

// ErrorKindOf extracts the classification from an error chain.
func ErrorKindOf(err error) ErrorKind {
	var se *SyncError
	if errors.As(err, &se) {
		return se.Kind
	}
	return ErrorKindUnknown
}

// IsRetryable reports whether an error is transient: network failures and
// server-side 5xx errors are worth retrying, authentication and invalid-data
// failures are not. The engine never retries on its own; this classification
// exists for the calling layer's retry policy.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	switch ErrorKindOf(err) {
	case ErrorKindNetwork, ErrorKindServer:
		return true
	}
	return false
}
