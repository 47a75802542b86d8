package session

import (
	"sync"

	"github.com/google/uuid"
)

// Entity is one tracked remote entity: a mob, object, or other player
// visible to this session's client.
type Entity struct {
	ServerEID int32
	UUID      *uuid.UUID // nil for non-player entities
	Kind      int32      // object type or mob type id, meaning depends on IsObject
	IsObject  bool

	X, Y, Z      float64
	Yaw, Pitch   float32
	HeadPitch    float32
	HasHeadPitch bool
}

// EntityTable tracks every entity the backend server has spawned into this
// session's view, keyed by the server's entity id. The client half never
// writes to this table; only the server half's SPAWN_*/DESTROY_ENTITIES/
// ENTITY_*_MOVE handlers do.
type EntityTable struct {
	mu      sync.RWMutex
	entries map[int32]*Entity
}

// NewEntityTable returns an empty table.
func NewEntityTable() *EntityTable {
	return &EntityTable{entries: make(map[int32]*Entity)}
}

// Put records or replaces an entity.
func (t *EntityTable) Put(e *Entity) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[e.ServerEID] = e
}

// Get returns the entity for eid, or nil if untracked.
func (t *EntityTable) Get(eid int32) *Entity {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.entries[eid]
}

// Remove drops one entity, used on DESTROY_ENTITIES.
func (t *EntityTable) Remove(eid int32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, eid)
}

// UpdatePosition applies a relative or absolute move to a tracked entity.
// Unknown eids are ignored — a move packet for an entity this table never
// saw SPAWN_* for is not an error, since spawn packets can in principle be
// dropped by a plugin upstream of this table.
func (t *EntityTable) UpdatePosition(eid int32, x, y, z float64, yaw, pitch float32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[eid]
	if !ok {
		return
	}
	e.X, e.Y, e.Z = x, y, z
	e.Yaw, e.Pitch = yaw, pitch
}

// ByUUID finds the entity tracked for a given player uuid, or nil if none
// is tracked.
func (t *EntityTable) ByUUID(id uuid.UUID) *Entity {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, e := range t.entries {
		if e.UUID != nil && *e.UUID == id {
			return e
		}
	}
	return nil
}

// Clear empties the table, used on rebind.
func (t *EntityTable) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = make(map[int32]*Entity)
}

// Len reports how many entities are currently tracked.
func (t *EntityTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}
