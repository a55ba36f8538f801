package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/dscache/dscache/internal/backend"
	"github.com/dscache/dscache/pkg/errors"
	"github.com/dscache/dscache/pkg/types"
)

// DiskConfig configures the durable tier.
type DiskConfig struct {
	// BudgetBytes is the byte budget usage is reported against.
	BudgetBytes int64
	// PressureThreshold is the fraction of BudgetBytes above which the
	// orchestrator considers the tier under pressure.
	PressureThreshold float64
	// TTL is the sliding idle window; a session untouched for longer is
	// permanently deleted by the sweep.
	TTL time.Duration
}

// DefaultDiskConfig returns the documented defaults.
func DefaultDiskConfig() DiskConfig {
	return DiskConfig{
		BudgetBytes:       10 * 1024 * 1024 * 1024,
		PressureThreshold: 0.90,
		TTL:               7 * 24 * time.Hour,
	}
}

const (
	sessionPrefix = "sessions/"
	metaObject    = "meta.json"
	recordSuffix  = ".rec"
)

// sessionMeta is the per-session sidecar record. It is authoritative for
// the session's timestamps and sizes and is rewritten on every touch.
type sessionMeta struct {
	ID         string           `json:"id"`
	CreatedAt  time.Time        `json:"created_at"`
	LastAccess time.Time        `json:"last_access"`
	TotalBytes int64            `json:"total_bytes"`
	Items      map[string]int64 `json:"items"`
}

// DiskTier is the sliding-TTL durable store. Each session owns one
// namespace under the backend; items are self-describing records named
// by a digest of their key, next to a JSON sidecar with the session's
// metadata. Removal from this tier is permanent.
type DiskTier struct {
	mu        sync.Mutex
	cfg       DiskConfig
	be        backend.ObjectBackend
	sessions  map[string]*sessionMeta
	usedBytes int64

	clock  func() time.Time
	logger zerolog.Logger
}

// NewDiskTier creates the durable tier and rebuilds its index from the
// sidecar records already present in the backend. Sidecars that cannot
// be read or parsed are discarded together with their namespace so the
// next write starts clean.
func NewDiskTier(ctx context.Context, cfg DiskConfig, be backend.ObjectBackend, logger zerolog.Logger) (*DiskTier, error) {
	def := DefaultDiskConfig()
	if cfg.BudgetBytes <= 0 {
		cfg.BudgetBytes = def.BudgetBytes
	}
	if cfg.PressureThreshold <= 0 || cfg.PressureThreshold > 1 {
		cfg.PressureThreshold = def.PressureThreshold
	}
	if cfg.TTL <= 0 {
		cfg.TTL = def.TTL
	}

	t := &DiskTier{
		cfg:      cfg,
		be:       be,
		sessions: make(map[string]*sessionMeta),
		clock:    time.Now,
		logger:   logger.With().Str("component", "disk-tier").Str("backend", be.Name()).Logger(),
	}
	if err := t.loadIndex(ctx); err != nil {
		return nil, err
	}
	return t, nil
}

func digest(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:8])
}

func namespaceFor(sessionID string) string {
	return sessionPrefix + digest(sessionID) + "/"
}

func itemKeyFor(sessionID, key string) string {
	return namespaceFor(sessionID) + digest(key) + recordSuffix
}

func metaKeyFor(sessionID string) string {
	return namespaceFor(sessionID) + metaObject
}

func (t *DiskTier) loadIndex(ctx context.Context) error {
	keys, err := t.be.List(ctx, sessionPrefix)
	if err != nil {
		return errors.New(errors.ErrCodeStorageRead, "listing session namespaces failed").
			WithComponent("disk-tier").WithOperation("load-index").WithCause(err)
	}

	for _, key := range keys {
		if len(key) < len(metaObject) || key[len(key)-len(metaObject):] != metaObject {
			continue
		}
		data, err := t.be.Get(ctx, key)
		if err != nil {
			t.logger.Warn().Str("key", key).Err(err).Msg("unreadable sidecar, dropping namespace")
			_ = t.be.DeletePrefix(ctx, key[:len(key)-len(metaObject)])
			continue
		}
		var meta sessionMeta
		if err := json.Unmarshal(data, &meta); err != nil || meta.ID == "" {
			t.logger.Warn().Str("key", key).Msg("corrupted sidecar, dropping namespace")
			_ = t.be.DeletePrefix(ctx, key[:len(key)-len(metaObject)])
			continue
		}
		t.sessions[meta.ID] = &meta
		t.usedBytes += meta.TotalBytes
	}

	t.logger.Info().Int("sessions", len(t.sessions)).Int64("used_bytes", t.usedBytes).
		Msg("durable index loaded")
	return nil
}

// marshalMetaLocked snapshots the sidecar under the lock. The caller
// releases the lock before persisting the snapshot with writeMeta so
// backend round trips never serialize behind the tier mutex. Concurrent
// snapshots may race to the backend; last write wins, and the
// timestamps only ever move forward.
func (t *DiskTier) marshalMetaLocked(meta *sessionMeta) []byte {
	data, err := json.Marshal(meta)
	if err != nil {
		t.logger.Warn().Str("session", meta.ID).Err(err).Msg("sidecar marshal failed")
		return nil
	}
	return data
}

// writeMeta persists a sidecar snapshot. Failure is logged and absorbed:
// the in-memory index stays authoritative until the next touch retries.
func (t *DiskTier) writeMeta(ctx context.Context, sessionID string, data []byte) {
	if data == nil {
		return
	}
	if err := t.be.Put(ctx, metaKeyFor(sessionID), data); err != nil {
		t.logger.Warn().Str("session", sessionID).Err(err).Msg("sidecar write failed")
	}
}

// Put serializes nothing: the record has already been encoded by the
// caller, so only the backend write and the index update run here.
func (t *DiskTier) Put(ctx context.Context, sessionID, key string, record []byte) error {
	if err := t.be.Put(ctx, itemKeyFor(sessionID, key), record); err != nil {
		return errors.New(errors.ErrCodeStorageWrite, "record write failed").
			WithComponent("disk-tier").WithOperation("put").
			WithSession(sessionID, key).WithCause(err)
	}

	t.mu.Lock()
	now := t.clock()
	meta, ok := t.sessions[sessionID]
	if !ok {
		meta = &sessionMeta{
			ID:        sessionID,
			CreatedAt: now,
			Items:     make(map[string]int64),
		}
		t.sessions[sessionID] = meta
	}

	size := int64(len(record))
	if old, exists := meta.Items[key]; exists {
		meta.TotalBytes -= old
		t.usedBytes -= old
	}
	meta.Items[key] = size
	meta.TotalBytes += size
	meta.LastAccess = now
	t.usedBytes += size
	data := t.marshalMetaLocked(meta)
	t.mu.Unlock()

	t.writeMeta(ctx, sessionID, data)
	return nil
}

// Get returns the raw record for (sessionID, key). A hit refreshes the
// session's sliding window. A record that vanished from the backend is
// healed out of the sidecar and reported as a miss; an expired session
// is deleted and reported as a miss.
func (t *DiskTier) Get(ctx context.Context, sessionID, key string) ([]byte, bool, error) {
	t.mu.Lock()
	meta, ok := t.sessions[sessionID]
	if !ok {
		t.mu.Unlock()
		return nil, false, nil
	}
	now := t.clock()
	if now.Sub(meta.LastAccess) > t.cfg.TTL {
		t.removeSessionLocked(ctx, sessionID)
		t.mu.Unlock()
		return nil, false, nil
	}
	if _, ok := meta.Items[key]; !ok {
		t.mu.Unlock()
		return nil, false, nil
	}
	t.mu.Unlock()

	record, err := t.be.Get(ctx, itemKeyFor(sessionID, key))
	if err != nil {
		if err == backend.ErrNotExist {
			t.RemoveItem(ctx, sessionID, key)
			return nil, false, nil
		}
		return nil, false, errors.New(errors.ErrCodeStorageRead, "record read failed").
			WithComponent("disk-tier").WithOperation("get").
			WithSession(sessionID, key).WithCause(err)
	}

	t.mu.Lock()
	var data []byte
	if meta, ok := t.sessions[sessionID]; ok {
		meta.LastAccess = t.clock()
		data = t.marshalMetaLocked(meta)
	}
	t.mu.Unlock()
	t.writeMeta(ctx, sessionID, data)

	return record, true, nil
}

// Touch refreshes a session's sliding window without reading data.
func (t *DiskTier) Touch(ctx context.Context, sessionID string) {
	t.mu.Lock()
	var data []byte
	if meta, ok := t.sessions[sessionID]; ok {
		meta.LastAccess = t.clock()
		data = t.marshalMetaLocked(meta)
	}
	t.mu.Unlock()
	t.writeMeta(ctx, sessionID, data)
}

// RemoveItem drops a single record and its sidecar entry. Used to heal
// corrupted or orphaned records; callers treat the item as absent.
func (t *DiskTier) RemoveItem(ctx context.Context, sessionID, key string) {
	_ = t.be.Delete(ctx, itemKeyFor(sessionID, key))

	t.mu.Lock()
	var data []byte
	if meta, ok := t.sessions[sessionID]; ok {
		if size, exists := meta.Items[key]; exists {
			delete(meta.Items, key)
			meta.TotalBytes -= size
			t.usedBytes -= size
			data = t.marshalMetaLocked(meta)
		}
	}
	t.mu.Unlock()
	t.writeMeta(ctx, sessionID, data)
}

// SweepExpired permanently deletes every session idle past the TTL at
// the given instant and returns the removed ids.
func (t *DiskTier) SweepExpired(ctx context.Context, now time.Time) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var expired []string
	for id, meta := range t.sessions {
		if now.Sub(meta.LastAccess) > t.cfg.TTL {
			expired = append(expired, id)
		}
	}
	for _, id := range expired {
		t.removeSessionLocked(ctx, id)
	}
	return expired
}

// RemoveSession permanently deletes a session's namespace.
func (t *DiskTier) RemoveSession(ctx context.Context, sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.removeSessionLocked(ctx, sessionID)
}

func (t *DiskTier) removeSessionLocked(ctx context.Context, sessionID string) {
	meta, ok := t.sessions[sessionID]
	if !ok {
		return
	}
	if err := t.be.DeletePrefix(ctx, namespaceFor(sessionID)); err != nil {
		t.logger.Warn().Str("session", sessionID).Err(err).Msg("namespace delete failed")
	}
	t.usedBytes -= meta.TotalBytes
	delete(t.sessions, sessionID)
}

// HasSession reports whether a session is present and unexpired.
func (t *DiskTier) HasSession(sessionID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	meta, ok := t.sessions[sessionID]
	if !ok {
		return false
	}
	return t.clock().Sub(meta.LastAccess) <= t.cfg.TTL
}

// SessionSize returns the aggregate record size of a session.
func (t *DiskTier) SessionSize(sessionID string) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if meta, ok := t.sessions[sessionID]; ok {
		return meta.TotalBytes
	}
	return 0
}

// SessionInfo returns a snapshot of an indexed session's sidecar
// bookkeeping.
func (t *DiskTier) SessionInfo(sessionID string) (types.SessionInfo, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	meta, ok := t.sessions[sessionID]
	if !ok {
		return types.SessionInfo{}, false
	}
	return types.SessionInfo{
		ID:         meta.ID,
		CreatedAt:  meta.CreatedAt,
		LastAccess: meta.LastAccess,
		SizeBytes:  meta.TotalBytes,
		ItemCount:  len(meta.Items),
	}, true
}

// SessionIDs returns the ids of all indexed sessions.
func (t *DiskTier) SessionIDs() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	ids := make([]string, 0, len(t.sessions))
	for id := range t.sessions {
		ids = append(ids, id)
	}
	return ids
}

// Usage returns the used bytes and the used fraction of the byte budget.
// The orchestrator consults this before lazy-loading to decide whether
// the durable copy can still be trusted to hold the data long term.
func (t *DiskTier) Usage() (int64, float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.usedBytes, float64(t.usedBytes) / float64(t.cfg.BudgetBytes)
}

// Counts returns the indexed session and item counts.
func (t *DiskTier) Counts() (sessions, items int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, meta := range t.sessions {
		items += len(meta.Items)
	}
	return len(t.sessions), items
}

// BudgetBytes returns the configured byte budget.
func (t *DiskTier) BudgetBytes() int64 { return t.cfg.BudgetBytes }

// PressureThreshold returns the configured pressure fraction.
func (t *DiskTier) PressureThreshold() float64 { return t.cfg.PressureThreshold }
