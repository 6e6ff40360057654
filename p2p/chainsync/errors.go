package chainsync

import "github.com/pkg/errors"

var (
	// ErrInvalidChainResponseSize is returned when a peer's ChainResponse
	// carries more blocks than we asked for.
	ErrInvalidChainResponseSize = errors.New("chainsync: chain response exceeds requested size")
	// ErrNoCommonPoint is returned when a peer sends blocks without
	// identifying a common point, which no honest peer should do.
	ErrNoCommonPoint = errors.New("chainsync: peer sent blocks but reported no common point")
	// ErrBlockHashMismatch is returned when a fetched block's computed
	// hash does not match the hash we requested it by.
	ErrBlockHashMismatch = errors.New("chainsync: fetched block hash does not match the requested hash")
	// ErrSyncMaxRetriesExceeded is returned when deferred blocks still
	// have unresolved parents after deferredMaxRetries rounds.
	ErrSyncMaxRetriesExceeded = errors.New("chainsync: deferred blocks did not resolve their parents in time")
)
