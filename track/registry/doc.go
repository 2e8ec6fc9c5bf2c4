// Package registry records every live tracked block.
//
// # Layout
//
// Records live in a chunked arena owned by the Registry and are addressed by
// generational Handles. Chunks are never moved once allocated, so a *Block
// obtained from a Handle stays valid until that record is removed. Freed slots
// are recycled through a free list and their generation is bumped, so a stale
// Handle resolves to nothing instead of to a newer record.
//
// The records form one doubly linked chain in insertion order, rooted after a
// sentinel head stored at arena index 0:
//
//	head(sentinel) <-> first <-> ... <-> last
//
// First and last are the physical bounds; both name the sentinel when the
// registry is empty.
//
// # Thread Safety
//
// Every exported method takes the shared lockx.Mutex for its duration. The same
// mutex is handed to the allocation manager so that cache and chain mutations
// are atomic together. Callers that already hold the mutex may call in freely.
//
// A *Block returned by Block or passed to a ForEach visitor may only be read or
// written while the caller holds the mutex.
package registry
