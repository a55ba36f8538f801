/*
Package store implements the session-scoped two-tier data cache.

Values belong to sessions; a session is the unit of expiry and of
pressure eviction. The package provides three pieces:

  - MemoryTier: a sliding-TTL in-memory store with a byte budget,
    session and per-session item caps, and whole-session LRU eviction.
  - DiskTier: a sliding-TTL durable store over an object backend, one
    namespace per session with a JSON metadata sidecar, records encoded
    by the codec package.
  - HybridCache: the orchestrator. Writes go to both tiers, memory
    first; reads come from memory and fall back to disk, copying the
    value back into memory when room allows. A call fails only when
    both tiers fail it. A background sweep expires idle sessions from
    each tier on its own schedule.

The per-(session, key) lifecycle runs Absent -> MemoryAndDisk ->
DiskOnly -> Expired; memory-only is a transient state between the
memory write succeeding and the durable write completing, or after a
durable write failure (degraded mode). Removal from the durable tier
is permanent.
*/
package store
