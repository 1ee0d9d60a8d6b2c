package journal

import "errors"

var (
	// ErrEmptyAtomicWrite indicates that an atomic write contains no
	// messages.
	ErrEmptyAtomicWrite = errors.New("atomic write contains no messages")

	// ErrMixedPersistenceIDs indicates that the batches passed to a single
	// WriteAtomicBatches() call do not share one persistence ID.
	ErrMixedPersistenceIDs = errors.New("atomic writes within a single call must share one persistence ID")

	// ErrAtomicWriteSpansPartitions indicates that an atomic write would span
	// more than two adjacent partitions, which the replay reader cannot
	// tolerate.
	ErrAtomicWriteSpansPartitions = errors.New("atomic write spans more than two partitions")

	// ErrDeletesDisabled is returned by DeleteTo() when the journal is
	// configured without delete support.
	ErrDeletesDisabled = errors.New("deletes are disabled")

	// ErrTooManyDeletes is returned by DeleteTo() when the persistence ID
	// already has the maximum number of deletes outstanding.
	ErrTooManyDeletes = errors.New("too many outstanding deletes for this persistence ID")

	// ErrShuttingDown is returned by requests that are not serviced because
	// the journal has stopped.
	ErrShuttingDown = errors.New("journal is shutting down")
)
