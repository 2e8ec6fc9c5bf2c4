// Package manager owns the fast cache and the global usage accounting that sit
// beside the block registry.
//
// # Fast Cache
//
// The cache is a fixed array of CacheSlots slots, each pairing a block address
// with a registry Handle. Lookups scan the slots before falling back to the
// registry's linear walk. A record is referenced by at most one slot and its
// Cached flag is true exactly while a slot references it.
//
// The cache is populated two ways: explicitly through TryCachePut, and by
// RunMaintenance, which walks the registry and places every record whose
// weight is at or below LowActivityWeight. Placement takes an empty slot when
// one exists and otherwise replaces the first occupant whose own weight is
// below LowActivityWeight. Low-activity records are therefore the ones
// promoted; hit counting raises a record's weight and makes it a candidate for
// replacement.
//
// Locking the cache stops insertions but not lookups. Disabling it turns every
// lookup into a miss and stops insertions; invalidation always works.
//
// # Usage Accounting
//
// The manager keeps the sum of live tracked sizes and an optional allocation
// ceiling (NoLimit disables it). CanAllocate must be checked and the usage
// charged within one critical section of the shared mutex.
//
// # Thread Safety
//
// The manager shares the registry's mutex; every exported method takes it.
package manager
