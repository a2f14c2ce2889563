// Package backfserr defines the sentinel error kinds shared by the cache
// engine's layers, so callers can branch on errors.Is rather than parsing
// messages.
package backfserr

import "errors"

var (
	// NotPresent means the thing asked for (an mtime witness, a mapped
	// block) simply isn't there yet. Expected; callers treat it as empty.
	NotPresent = errors.New("backfs: not present")

	// Stale means a mtime witness no longer matches the backing file.
	// Expected; triggers invalidation of the whole path.
	Stale = errors.New("backfs: stale")

	// StorageFull means the cache ran out of space (ENOSPC) underneath
	// the engine. ENOSPC is recovered locally by eviction and retried;
	// nothing returns this sentinel, and when eviction cannot free enough
	// room the eviction error is returned instead.
	StorageFull = errors.New("backfs: storage full")

	// CorruptState means an on-disk invariant was violated: a block-size
	// mismatch, an unparsable integer file, or a map/store inconsistency
	// discovered mid-operation. Never auto-repaired; surfaced as an I/O
	// error per the engine's policy of not silently fixing what it finds
	// inconsistent mid-fetch.
	CorruptState = errors.New("backfs: corrupt cache state")
)
