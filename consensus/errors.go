package consensus

import "github.com/pkg/errors"

var (
	// ErrNoParents is returned for a non-genesis header with no parent
	// hashes.
	ErrNoParents = errors.New("consensus: non-genesis header has no parents")
	// ErrTooManyParents is returned when a header names more parents
	// than MaxParents.
	ErrTooManyParents = errors.New("consensus: header has too many parents")
	// ErrParentUnknown is returned when a header names a parent this
	// store has never processed.
	ErrParentUnknown = errors.New("consensus: parent not found")
	// ErrTimestampTooOld is returned when a header's timestamp does not
	// exceed its parents' past median time.
	ErrTimestampTooOld = errors.New("consensus: timestamp at or before past median time")
	// ErrDuplicateBlock is returned when a block's header is already
	// stored.
	ErrDuplicateBlock = errors.New("consensus: block already processed")
)
