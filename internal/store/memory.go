package store

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/dscache/dscache/pkg/errors"
	"github.com/dscache/dscache/pkg/types"
)

// MemoryConfig configures the fast in-memory tier.
type MemoryConfig struct {
	// BudgetBytes is the total byte budget for resident values.
	BudgetBytes int64
	// PressureThreshold is the admissible fraction of BudgetBytes.
	PressureThreshold float64
	// MaxSessions caps the number of resident sessions.
	MaxSessions int
	// MaxItemsPerSession caps items within one session.
	MaxItemsPerSession int
	// TTL is the sliding idle window; a session untouched for longer
	// is removed by the sweep.
	TTL time.Duration
}

// DefaultMemoryConfig returns the documented defaults.
func DefaultMemoryConfig() MemoryConfig {
	return MemoryConfig{
		BudgetBytes:        512 * 1024 * 1024,
		PressureThreshold:  0.90,
		MaxSessions:        100,
		MaxItemsPerSession: 50,
		TTL:                5 * time.Hour,
	}
}

type memoryItem struct {
	value      types.Value
	size       int64
	lastAccess time.Time
}

type memorySession struct {
	id         string
	createdAt  time.Time
	lastAccess time.Time
	seq        uint64
	size       int64
	items      map[string]*memoryItem
}

// MemoryTier is the sliding-TTL in-memory store. Sessions are evicted
// only as whole units; the tier never drops individual items of a
// resident session under pressure.
type MemoryTier struct {
	mu        sync.Mutex
	cfg       MemoryConfig
	sessions  map[string]*memorySession
	usedBytes int64
	nextSeq   uint64
	itemCount int

	clock  func() time.Time
	logger zerolog.Logger
}

// NewMemoryTier creates the memory tier. Zero config fields fall back
// to the defaults.
func NewMemoryTier(cfg MemoryConfig, logger zerolog.Logger) *MemoryTier {
	def := DefaultMemoryConfig()
	if cfg.BudgetBytes <= 0 {
		cfg.BudgetBytes = def.BudgetBytes
	}
	if cfg.PressureThreshold <= 0 || cfg.PressureThreshold > 1 {
		cfg.PressureThreshold = def.PressureThreshold
	}
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = def.MaxSessions
	}
	if cfg.MaxItemsPerSession <= 0 {
		cfg.MaxItemsPerSession = def.MaxItemsPerSession
	}
	if cfg.TTL <= 0 {
		cfg.TTL = def.TTL
	}

	return &MemoryTier{
		cfg:      cfg,
		sessions: make(map[string]*memorySession),
		clock:    time.Now,
		logger:   logger.With().Str("component", "memory-tier").Logger(),
	}
}

func (m *MemoryTier) thresholdBytes() int64 {
	return int64(m.cfg.PressureThreshold * float64(m.cfg.BudgetBytes))
}

// Put admits a value into the tier. It returns a CACHE_FULL error when
// the byte threshold, the session cap, or the per-session item cap would
// be exceeded; the caller is expected to evict first and retry, or
// degrade to disk-only.
func (m *MemoryTier) Put(sessionID, key string, value types.Value, size int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.admitLocked(sessionID, key, size); err != nil {
		return err
	}

	now := m.clock()
	sess, ok := m.sessions[sessionID]
	if !ok {
		sess = &memorySession{
			id:        sessionID,
			createdAt: now,
			seq:       m.nextSeq,
			items:     make(map[string]*memoryItem),
		}
		m.nextSeq++
		m.sessions[sessionID] = sess
	}

	if old, exists := sess.items[key]; exists {
		sess.size -= old.size
		m.usedBytes -= old.size
		m.itemCount--
	}
	sess.items[key] = &memoryItem{value: value, size: size, lastAccess: now}
	sess.size += size
	sess.lastAccess = now
	m.usedBytes += size
	m.itemCount++
	return nil
}

// CanAdmit reports whether Put would succeed for the given item without
// any prior eviction.
func (m *MemoryTier) CanAdmit(sessionID, key string, size int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.admitLocked(sessionID, key, size) == nil
}

func (m *MemoryTier) admitLocked(sessionID, key string, size int64) error {
	var replaced int64
	sess, resident := m.sessions[sessionID]
	if resident {
		if old, exists := sess.items[key]; exists {
			replaced = old.size
		}
	}

	if m.usedBytes-replaced+size > m.thresholdBytes() {
		return errors.Newf(errors.ErrCodeCacheFull,
			"item of %d bytes would push usage over the %d byte threshold", size, m.thresholdBytes()).
			WithComponent("memory-tier").WithOperation("put").WithSession(sessionID, key)
	}
	if !resident && len(m.sessions) >= m.cfg.MaxSessions {
		return errors.Newf(errors.ErrCodeCacheFull,
			"session cap of %d reached", m.cfg.MaxSessions).
			WithComponent("memory-tier").WithOperation("put").WithSession(sessionID, key)
	}
	if resident && replaced == 0 && len(sess.items) >= m.cfg.MaxItemsPerSession {
		return errors.Newf(errors.ErrCodeCacheFull,
			"item cap of %d reached for session", m.cfg.MaxItemsPerSession).
			WithComponent("memory-tier").WithOperation("put").WithSession(sessionID, key)
	}
	return nil
}

// Get returns the value for (sessionID, key) and refreshes the session's
// sliding window. It never consults the durable tier. A session idle
// past its TTL is dropped on access and reported as a miss.
func (m *MemoryTier) Get(sessionID, key string) (types.Value, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[sessionID]
	if !ok {
		return nil, false
	}

	now := m.clock()
	if now.Sub(sess.lastAccess) > m.cfg.TTL {
		m.removeSessionLocked(sessionID)
		return nil, false
	}

	item, ok := sess.items[key]
	if !ok {
		return nil, false
	}
	sess.lastAccess = now
	item.lastAccess = now
	return item.value, true
}

// Touch refreshes a session's last-access without reading data.
func (m *MemoryTier) Touch(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sess, ok := m.sessions[sessionID]; ok {
		sess.lastAccess = m.clock()
	}
}

// EvictOldestSessions removes whole sessions, oldest last-access first,
// until at least targetFreeBytes have been freed or no sessions remain.
// Ties on last-access break on creation order, earlier created first,
// so the eviction order is deterministic. The evicted ids are returned
// for reporting.
func (m *MemoryTier) EvictOldestSessions(targetFreeBytes int64) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.evictOldestLocked(targetFreeBytes, 0)
}

// evictOldestLocked frees targetFreeBytes and, when extraSessions > 0,
// additionally removes that many sessions to relieve the session cap.
func (m *MemoryTier) evictOldestLocked(targetFreeBytes int64, extraSessions int) []string {
	ranked := make([]*memorySession, 0, len(m.sessions))
	for _, sess := range m.sessions {
		ranked = append(ranked, sess)
	}
	sort.Slice(ranked, func(i, j int) bool {
		if !ranked[i].lastAccess.Equal(ranked[j].lastAccess) {
			return ranked[i].lastAccess.Before(ranked[j].lastAccess)
		}
		return ranked[i].seq < ranked[j].seq
	})

	var evicted []string
	var freed int64
	for _, sess := range ranked {
		if freed >= targetFreeBytes && extraSessions <= 0 {
			break
		}
		freed += sess.size
		extraSessions--
		m.removeSessionLocked(sess.id)
		evicted = append(evicted, sess.id)
	}

	if len(evicted) > 0 {
		m.logger.Debug().Strs("sessions", evicted).Int64("freed_bytes", freed).
			Msg("evicted sessions under pressure")
	}
	return evicted
}

// EvictForAdmission frees room so that an item of the given size can be
// admitted for sessionID: bytes are freed down to lowWaterBytes and the
// session cap is relieved when the write would create a new session.
func (m *MemoryTier) EvictForAdmission(sessionID string, size, lowWaterBytes int64) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var target int64
	if over := m.usedBytes + size - lowWaterBytes; over > 0 {
		target = over
	}
	extra := 0
	if _, resident := m.sessions[sessionID]; !resident && len(m.sessions) >= m.cfg.MaxSessions {
		extra = len(m.sessions) - m.cfg.MaxSessions + 1
	}
	if target == 0 && extra == 0 {
		return nil
	}
	return m.evictOldestLocked(target, extra)
}

// SweepExpired removes every session idle past the TTL at the given
// instant and returns the removed ids.
func (m *MemoryTier) SweepExpired(now time.Time) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var expired []string
	for id, sess := range m.sessions {
		if now.Sub(sess.lastAccess) > m.cfg.TTL {
			expired = append(expired, id)
		}
	}
	for _, id := range expired {
		m.removeSessionLocked(id)
	}
	return expired
}

// RemoveSession drops a session and all its items. It reports whether
// the session was resident.
func (m *MemoryTier) RemoveSession(sessionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sessions[sessionID]
	m.removeSessionLocked(sessionID)
	return ok
}

func (m *MemoryTier) removeSessionLocked(sessionID string) {
	sess, ok := m.sessions[sessionID]
	if !ok {
		return
	}
	m.usedBytes -= sess.size
	m.itemCount -= len(sess.items)
	delete(m.sessions, sessionID)
}

// HasSession reports residency without refreshing the sliding window.
func (m *MemoryTier) HasSession(sessionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sessions[sessionID]
	return ok
}

// SessionSize returns the aggregate byte size of a resident session.
func (m *MemoryTier) SessionSize(sessionID string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sess, ok := m.sessions[sessionID]; ok {
		return sess.size
	}
	return 0
}

// SessionInfo returns a snapshot of a resident session's bookkeeping.
func (m *MemoryTier) SessionInfo(sessionID string) (types.SessionInfo, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[sessionID]
	if !ok {
		return types.SessionInfo{}, false
	}
	return types.SessionInfo{
		ID:         sess.id,
		CreatedAt:  sess.createdAt,
		LastAccess: sess.lastAccess,
		SizeBytes:  sess.size,
		ItemCount:  len(sess.items),
	}, true
}

// SessionIDs returns the ids of all resident sessions.
func (m *MemoryTier) SessionIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	return ids
}

// Usage returns the used bytes and the used fraction of the byte budget.
func (m *MemoryTier) Usage() (int64, float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.usedBytes, float64(m.usedBytes) / float64(m.cfg.BudgetBytes)
}

// Counts returns the resident session and item counts.
func (m *MemoryTier) Counts() (sessions, items int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions), m.itemCount
}

// BudgetBytes returns the configured byte budget.
func (m *MemoryTier) BudgetBytes() int64 { return m.cfg.BudgetBytes }
