package memory

import "errors"

var (
	// ErrNoDestination is returned when none of a write's destinations is available.
	ErrNoDestination = errors.New("no available destination")

	// ErrWriteRejected marks a destination that declined the payload.
	ErrWriteRejected = errors.New("write rejected")

	// ErrNotWritable marks a destination without the Writer capability.
	ErrNotWritable = errors.New("adapter is read-only")

	// ErrUnavailable marks an adapter that failed to initialize.
	ErrUnavailable = errors.New("adapter unavailable")
)
