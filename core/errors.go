package core

import "errors"

var (
	// ErrAccessDenied means the caller lacks permission on the project.
	// Never retried; shown to the user as a permissions problem.
	ErrAccessDenied = errors.New("access denied")

	// ErrStoreUnavailable is a transient store or network failure. The
	// next change event or an explicit force-save retries.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrNotFound means the requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrChannelUnavailable means the broadcast connection failed or
	// dropped. Collaboration degrades to solo editing; saves are not
	// affected.
	ErrChannelUnavailable = errors.New("channel unavailable")
)
