package store

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/dscache/dscache/internal/backend"
	"github.com/dscache/dscache/internal/codec"
	"github.com/dscache/dscache/internal/metrics"
	"github.com/dscache/dscache/pkg/errors"
	"github.com/dscache/dscache/pkg/types"
)

// evictionHeadroom is how far below the pressure threshold eviction
// frees, as a fraction of the byte budget. Freeing only barely under
// the threshold would make every subsequent store evict again, so the
// target is a comfortable low watermark. Policy choice, not tuning.
const evictionHeadroom = 0.10

// HybridConfig configures the orchestrator.
type HybridConfig struct {
	Memory MemoryConfig
	Disk   DiskConfig

	// SweepInterval is the cadence of the background expiry sweep.
	SweepInterval time.Duration

	// LazyLoadEviction permits the lazy-load path to evict resident
	// sessions to make room for a value restored from disk. When false
	// the value is served directly from disk instead.
	LazyLoadEviction bool
}

// DefaultHybridConfig returns the documented defaults.
func DefaultHybridConfig() HybridConfig {
	return HybridConfig{
		Memory:           DefaultMemoryConfig(),
		Disk:             DefaultDiskConfig(),
		SweepInterval:    5 * time.Minute,
		LazyLoadEviction: true,
	}
}

// HybridCache composes the memory and disk tiers behind a write-both /
// read-memory-first policy. A store call fails only when both tiers
// reject it; a single-tier failure degrades the call and is absorbed.
//
// The cache's own mutex spans only the admission decision on the store
// path, so an eviction triggered by a store completes before that same
// store's memory write. Serialization always happens outside any lock.
type HybridCache struct {
	mu     sync.Mutex
	memory *MemoryTier
	disk   *DiskTier

	cfg      HybridConfig
	recorder *metrics.Recorder
	logger   zerolog.Logger
	clock    func() time.Time

	stopCh   chan struct{}
	stopOnce sync.Once
	done     sync.WaitGroup
}

// NewHybridCache builds both tiers over the given backend and starts
// the background sweep. Close stops the sweep.
func NewHybridCache(ctx context.Context, cfg HybridConfig, be backend.ObjectBackend, recorder *metrics.Recorder, logger zerolog.Logger) (*HybridCache, error) {
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 5 * time.Minute
	}

	disk, err := NewDiskTier(ctx, cfg.Disk, be, logger)
	if err != nil {
		return nil, err
	}

	h := &HybridCache{
		memory:   NewMemoryTier(cfg.Memory, logger),
		disk:     disk,
		cfg:      cfg,
		recorder: recorder,
		logger:   logger.With().Str("component", "hybrid-cache").Logger(),
		clock:    time.Now,
		stopCh:   make(chan struct{}),
	}

	h.done.Add(1)
	go h.sweepLoop()
	return h, nil
}

// Store writes the value to both tiers, memory first. Memory pressure
// is relieved before the write; a tier that still rejects degrades the
// call rather than failing it. Only an encode failure or a rejection by
// both tiers is returned to the caller.
func (h *HybridCache) Store(ctx context.Context, sessionID, key string, value types.Value) error {
	record, err := codec.Encode(value)
	if err != nil {
		h.recorder.RecordStore(metrics.StoreFailed)
		return err
	}
	size := int64(len(record))

	h.mu.Lock()
	if !h.memory.CanAdmit(sessionID, key, size) {
		evicted := h.memory.EvictForAdmission(sessionID, size, h.lowWaterBytes())
		h.recorder.RecordEvictions(len(evicted))
	}
	memErr := h.memory.Put(sessionID, key, value, size)
	h.mu.Unlock()

	diskErr := h.disk.Put(ctx, sessionID, key, record)

	switch {
	case memErr != nil && diskErr != nil:
		h.recorder.RecordStore(metrics.StoreFailed)
		return errors.Combine("store", memErr, diskErr)
	case memErr != nil:
		h.logger.Warn().Str("session", sessionID).Str("key", key).Err(memErr).
			Msg("memory write rejected, continuing disk-only")
		h.recorder.RecordStore(metrics.StoreDegradedDisk)
	case diskErr != nil:
		h.logger.Warn().Str("session", sessionID).Str("key", key).Err(diskErr).
			Msg("disk write failed, continuing memory-only")
		h.recorder.RecordStore(metrics.StoreDegradedMemory)
	default:
		h.recorder.RecordStore(metrics.StoreOK)
	}

	h.publishUsage()
	return nil
}

// Load reads memory first and falls back to the durable tier. A durable
// hit is copied back into memory when capacity allows; concurrent loads
// may race to do so, which is harmless since the copies are identical
// and the last write wins. A value absent from both tiers is a plain
// miss, not an error.
func (h *HybridCache) Load(ctx context.Context, sessionID, key string) (types.Value, bool, error) {
	if value, ok := h.memory.Get(sessionID, key); ok {
		h.recorder.RecordLoad(metrics.LoadMemoryHit)
		return value, true, nil
	}

	record, ok, err := h.disk.Get(ctx, sessionID, key)
	if err != nil {
		// A read failure on the durable tier is absorbed: the caller
		// sees not-found, the cause lands in the log.
		h.logger.Warn().Str("session", sessionID).Str("key", key).Err(err).
			Msg("disk read failed, reporting miss")
		h.recorder.RecordLoad(metrics.LoadMiss)
		return nil, false, nil
	}
	if !ok {
		h.recorder.RecordLoad(metrics.LoadMiss)
		return nil, false, nil
	}

	value, err := codec.Decode(record)
	if err != nil {
		// Corrupted record: heal it away so the next write starts clean.
		h.logger.Warn().Str("session", sessionID).Str("key", key).Err(err).
			Msg("corrupted record dropped")
		h.disk.RemoveItem(ctx, sessionID, key)
		h.recorder.RecordLoad(metrics.LoadMiss)
		return nil, false, nil
	}

	h.lazyLoad(sessionID, key, value, int64(len(record)))
	h.recorder.RecordLoad(metrics.LoadDiskHit)
	h.publishUsage()
	return value, true, nil
}

// lowWaterBytes is the byte usage eviction frees down to, one headroom
// fraction below the pressure threshold.
func (h *HybridCache) lowWaterBytes() int64 {
	return int64((h.memory.cfg.PressureThreshold - evictionHeadroom) * float64(h.memory.BudgetBytes()))
}

// lazyLoad copies a durable hit back into memory when room allows. The
// copy is best effort; when it cannot be admitted the value is simply
// served from disk this time.
func (h *HybridCache) lazyLoad(sessionID, key string, value types.Value, size int64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.memory.CanAdmit(sessionID, key, size) {
		if !h.cfg.LazyLoadEviction {
			return
		}
		evicted := h.memory.EvictForAdmission(sessionID, size, h.lowWaterBytes())
		h.recorder.RecordEvictions(len(evicted))
	}
	if err := h.memory.Put(sessionID, key, value, size); err != nil {
		h.logger.Debug().Str("session", sessionID).Str("key", key).Err(err).
			Msg("lazy-load skipped, serving from disk")
	}
}

// EvictSession removes a session from the memory tier only; the durable
// copy is retained and the session stays loadable.
func (h *HybridCache) EvictSession(sessionID string) {
	if h.memory.RemoveSession(sessionID) {
		h.logger.Debug().Str("session", sessionID).Msg("session evicted from memory")
	}
	h.publishUsage()
}

// Touch keeps an actively used session warm in both tiers without
// reading data.
func (h *HybridCache) Touch(ctx context.Context, sessionID string) {
	h.memory.Touch(sessionID)
	h.disk.Touch(ctx, sessionID)
}

// DescribeSession reports a session's bookkeeping. The memory snapshot
// wins while the session is resident; otherwise the durable index is
// consulted.
func (h *HybridCache) DescribeSession(sessionID string) (types.SessionInfo, bool) {
	if info, ok := h.memory.SessionInfo(sessionID); ok {
		return info, true
	}
	return h.disk.SessionInfo(sessionID)
}

// Stats aggregates both tiers into an immutable snapshot.
func (h *HybridCache) Stats() types.StorageStats {
	memUsed, memFrac := h.memory.Usage()
	diskUsed, diskFrac := h.disk.Usage()
	memSessions, memItems := h.memory.Counts()
	diskSessions, diskItems := h.disk.Counts()

	distinct := make(map[string]struct{}, memSessions+diskSessions)
	for _, id := range h.memory.SessionIDs() {
		distinct[id] = struct{}{}
	}
	for _, id := range h.disk.SessionIDs() {
		distinct[id] = struct{}{}
	}

	return types.StorageStats{
		MemoryUsedBytes:    memUsed,
		MemoryBudgetBytes:  h.memory.BudgetBytes(),
		MemoryUsedFraction: memFrac,
		DiskUsedBytes:      diskUsed,
		DiskBudgetBytes:    h.disk.BudgetBytes(),
		DiskUsedFraction:   diskFrac,
		SessionCount:       len(distinct),
		MemorySessions:     memSessions,
		DiskSessions:       diskSessions,
		MemoryItems:        memItems,
		DiskItems:          diskItems,
	}
}

// Sweep runs one expiry pass over both tiers and returns the number of
// sessions each tier expired. The background loop calls this on its
// own cadence; it is exposed so operators can trigger a pass directly.
func (h *HybridCache) Sweep(ctx context.Context) (memoryExpired, diskExpired int) {
	now := h.clock()

	memIDs := h.memory.SweepExpired(now)
	diskIDs := h.disk.SweepExpired(ctx, now)

	h.recorder.RecordSweep(metrics.TierMemory, len(memIDs))
	h.recorder.RecordSweep(metrics.TierDisk, len(diskIDs))
	if len(memIDs) > 0 || len(diskIDs) > 0 {
		h.logger.Info().Int("memory", len(memIDs)).Int("disk", len(diskIDs)).
			Msg("sweep expired sessions")
	}

	h.publishUsage()
	return len(memIDs), len(diskIDs)
}

func (h *HybridCache) sweepLoop() {
	defer h.done.Done()

	ticker := time.NewTicker(h.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-h.stopCh:
			return
		case <-ticker.C:
			h.Sweep(context.Background())
		}
	}
}

func (h *HybridCache) publishUsage() {
	if h.recorder == nil {
		return
	}
	memUsed, _ := h.memory.Usage()
	diskUsed, _ := h.disk.Usage()
	memSessions, _ := h.memory.Counts()
	diskSessions, _ := h.disk.Counts()
	h.recorder.SetUsage(metrics.TierMemory, memUsed, memSessions)
	h.recorder.SetUsage(metrics.TierDisk, diskUsed, diskSessions)
}

// Memory exposes the fast tier for monitoring and tests.
func (h *HybridCache) Memory() *MemoryTier { return h.memory }

// Disk exposes the durable tier for monitoring and tests.
func (h *HybridCache) Disk() *DiskTier { return h.disk }

// Close stops the background sweep. It is safe to call more than once.
func (h *HybridCache) Close() error {
	h.stopOnce.Do(func() { close(h.stopCh) })
	h.done.Wait()
	return nil
}
