// Package session implements the per-player Session record and the
// roster/coordinator that owns it. A Session is
// created when a client completes handshake and destroyed when either half
// closes; both connection actors hold a reference to it but must route
// mutations through the single-writer-per-field/coordinator discipline.
package session

import (
	"sync"

	"github.com/google/uuid"

	"github.com/blockproxy/blockproxy/internal/protocol"
)

// Slot mirrors codec.Slot without importing the codec package, keeping
// session free of wire-format concerns; the proxy package converts between
// the two at the boundary.
type Slot struct {
	Present bool
	ItemID  int16
	Count   uint8
	Damage  int16
	NBT     []byte
}

// Position is a player or entity's world coordinates.
type Position struct {
	X, Y, Z float64
}

// BlockPos is an integer block coordinate, used for bed positions.
type BlockPos struct {
	X, Y, Z int32
}

// Session is the logical per-player connection spanning both halves.
// Exactly one Session exists per connected player; the
// Coordinator owns it, and each half only mutates the fields it is the
// documented single writer for.
type Session struct {
	mu sync.RWMutex

	ID string // opaque handle, the authenticated uuid string

	Version protocol.Version

	AuthenticatedUUID uuid.UUID
	OfflineUUID       uuid.UUID
	Username          string

	state protocol.State

	ClientEntityID int32
	Gamemode       uint8
	Dimension      int32

	position    Position
	bedPosition *BlockPos
	ridingEID   *int32

	Inventory map[int16]Slot

	CompressionThreshold int

	Entities *EntityTable
	History  *PacketRing

	closeOnce sync.Once
	closed    chan struct{}

	coordinator *Coordinator
}

// New constructs a Session in the Handshake state, not yet registered with
// any coordinator.
func New(id string, version protocol.Version, username string, authUUID, offlineUUID uuid.UUID) *Session {
	return &Session{
		ID:                   id,
		Version:              version,
		Username:             username,
		AuthenticatedUUID:    authUUID,
		OfflineUUID:          offlineUUID,
		state:                protocol.StateHandshake,
		CompressionThreshold: -1,
		Inventory:            make(map[int16]Slot),
		Entities:             NewEntityTable(),
		History:              NewPacketRing(),
		closed:               make(chan struct{}),
	}
}

// State returns the session's current phase.
func (s *Session) State() protocol.State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// SetState transitions the session to a new phase. Both halves call this as
// they individually progress; the last half to reach Play does not block
// on the other, since each half tracks its own local phase in its
// connection actor — Session.state is the externally-visible session-level
// phase used for coordinator bookkeeping (see proxy.ConnActor for the
// per-half state machine proper).
func (s *Session) SetState(state protocol.State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
}

// Position returns the player's last known position. SetPosition is called
// by the server half's PLAYER_POSLOOK handler and by the client half's
// PLAYER_POSITION/PLAYER_POSLOOK handler.
func (s *Session) Position() Position {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.position
}

// SetPosition updates the player's position.
func (s *Session) SetPosition(p Position) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.position = p
}

// BedPosition returns the player's bed position, or nil if none is set.
func (s *Session) BedPosition() *BlockPos {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.bedPosition
}

// SetBedPosition records the player's bed position (server half only).
func (s *Session) SetBedPosition(p BlockPos) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bedPosition = &p
}

// RidingEntityID returns the entity id the player is currently mounted on,
// or nil if not riding anything.
func (s *Session) RidingEntityID() *int32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ridingEID
}

// SetRidingEntityID records (or clears, with nil) the mount state.
func (s *Session) SetRidingEntityID(eid *int32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ridingEID = eid
}

// SetInventorySlot updates one inventory slot (server half's SET_SLOT
// handler only).
func (s *Session) SetInventorySlot(slot int16, item Slot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Inventory[slot] = item
}

// InventorySlot reads one inventory slot.
func (s *Session) InventorySlot(slot int16) (Slot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.Inventory[slot]
	return item, ok
}

// Closed returns a channel that is closed once the session is torn down.
func (s *Session) Closed() <-chan struct{} { return s.closed }

// IsClosed reports whether the session has already been torn down.
func (s *Session) IsClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

// markClosed closes the done channel exactly once. Session close is
// idempotent.
func (s *Session) markClosed() {
	s.closeOnce.Do(func() { close(s.closed) })
}

// ResetForRebind clears per-backend state ahead of a cross-server
// reconnect: inventory, bed, riding, and entity state do not survive the
// switch to a new backend.
func (s *Session) ResetForRebind() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Inventory = make(map[int16]Slot)
	s.bedPosition = nil
	s.ridingEID = nil
	s.ClientEntityID = 0
	s.Entities.Clear()
}
