package registry

import "errors"

// Sentinel errors returned by Registry operations. Callers match them with
// errors.Is; the returned errors wrap the underlying cause as well.
var (
	// ErrInvalidUser is returned for an empty user identifier or one that is
	// not valid UTF-8, which the record could not store losslessly.
	ErrInvalidUser = errors.New("invalid user identifier")

	// ErrPersistence means the record could not be written. No port was
	// reserved and the on-disk record is unchanged.
	ErrPersistence = errors.New("registry record could not be written")

	// ErrLockTimeout means the registry lock was not granted within the
	// configured timeout, e.g. because a holder crashed or hung.
	ErrLockTimeout = errors.New("timed out waiting for registry lock")

	// ErrRangeExhausted means the next port would exceed 65535.
	ErrRangeExhausted = errors.New("registry port range exhausted")

	// ErrUnknownRegistry is returned by Set lookups for unconfigured names.
	ErrUnknownRegistry = errors.New("unknown registry")
)
