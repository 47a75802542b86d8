package session

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/blockproxy/blockproxy/internal/protocol"
)

func TestSessionStateTransitions(t *testing.T) {
	s := New("sess-1", protocol.V1_8, "Notch", uuid.New(), uuid.New())
	require.Equal(t, protocol.StateHandshake, s.State())

	s.SetState(protocol.StatePlay)
	require.Equal(t, protocol.StatePlay, s.State())
}

func TestSessionInventorySetAndGet(t *testing.T) {
	s := New("sess-1", protocol.V1_8, "Notch", uuid.New(), uuid.New())

	s.SetInventorySlot(36, Slot{Present: true, ItemID: 1, Count: 64})
	slot, ok := s.InventorySlot(36)
	require.True(t, ok)
	require.Equal(t, int16(1), slot.ItemID)

	_, ok = s.InventorySlot(37)
	require.False(t, ok)
}

func TestSessionResetForRebindClearsBackendState(t *testing.T) {
	s := New("sess-1", protocol.V1_8, "Notch", uuid.New(), uuid.New())
	s.SetInventorySlot(36, Slot{Present: true, ItemID: 1})
	s.SetBedPosition(BlockPos{X: 1, Y: 2, Z: 3})
	eid := int32(42)
	s.SetRidingEntityID(&eid)
	s.ClientEntityID = 7
	s.Entities.Put(&Entity{ServerEID: 99})

	s.ResetForRebind()

	require.Empty(t, s.Inventory)
	require.Nil(t, s.BedPosition())
	require.Nil(t, s.RidingEntityID())
	require.Equal(t, int32(0), s.ClientEntityID)
	require.Equal(t, 0, s.Entities.Len())
}

func TestSessionCloseIsIdempotent(t *testing.T) {
	s := New("sess-1", protocol.V1_8, "Notch", uuid.New(), uuid.New())
	require.False(t, s.IsClosed())

	s.markClosed()
	s.markClosed()
	require.True(t, s.IsClosed())
}

type fakeRebinder struct {
	target Backend
	calls  int
}

func (f *fakeRebinder) Disconnect(reason string) {}

func (f *fakeRebinder) RebindTo(backend Backend) error {
	f.target = backend
	f.calls++
	return nil
}

func TestCoordinatorRegisterAndLookup(t *testing.T) {
	c := NewCoordinator(true)
	authID := uuid.New()
	offlineID := uuid.New()
	s := New("sess-1", protocol.V1_8, "Notch", authID, offlineID)
	half := &fakeRebinder{}

	c.Register(s, half)
	c.SetClientEntityID(s, 10)

	require.Same(t, s, c.LookupByAuthUUID(authID))
	require.Same(t, s, c.LookupByOfflineUUID(offlineID))
	require.Same(t, s, c.LookupByServerEID(10))

	c.OnClose(s)
	require.Nil(t, c.LookupByAuthUUID(authID))
	require.True(t, s.IsClosed())
}

func TestCoordinatorRebindDisabledByConfig(t *testing.T) {
	c := NewCoordinator(false)
	s := New("sess-1", protocol.V1_8, "Notch", uuid.New(), uuid.New())
	half := &fakeRebinder{}
	c.Register(s, half)

	err := c.Rebind(s, Backend{Name: "lobby", Addr: "127.0.0.1:25566"})
	require.ErrorIs(t, err, ErrCrossServerDisabled)
	require.Equal(t, 0, half.calls)
}

func TestCoordinatorRebindResetsSessionAndCallsHalf(t *testing.T) {
	c := NewCoordinator(true)
	s := New("sess-1", protocol.V1_8, "Notch", uuid.New(), uuid.New())
	s.SetInventorySlot(36, Slot{Present: true, ItemID: 5})
	half := &fakeRebinder{}
	c.Register(s, half)

	backend := Backend{Name: "lobby", Addr: "127.0.0.1:25566"}
	err := c.Rebind(s, backend)
	require.NoError(t, err)
	require.Equal(t, 1, half.calls)
	require.Equal(t, backend, half.target)
	require.Empty(t, s.Inventory)
}
