package proxy

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/blockproxy/blockproxy/internal/codec"
	"github.com/blockproxy/blockproxy/internal/eventbus"
	"github.com/blockproxy/blockproxy/internal/identity"
	"github.com/blockproxy/blockproxy/internal/protocol"
)

var (
	aliceAuth = uuid.MustParse("11111111-2222-3333-4444-555555555555")
	bobAuth   = uuid.MustParse("aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee")
)

func TestKeepAliveEchoedToBackendNotClient(t *testing.T) {
	th := newTestHalves(protocol.V1_8, "alice", aliceAuth)
	kaID := th.server.clientBound.Play.ID(protocol.NameKeepAlive)

	frame := rawFrame(kaID, codec.NewWriter().VarInt(123))
	require.NoError(t, th.server.dispatch(frame))

	requireQueueEmpty(t, th.client.ConnActor)

	echo := dequeue(t, th.server.ConnActor)
	require.Equal(t, th.server.serverBound.Play.ID(protocol.NameKeepAlive), echo.ID)
	r := codec.NewReader(echo.Body())
	require.Equal(t, int32(123), r.VarInt())
	require.NoError(t, r.Err())
}

func TestServerChatReplacementReachesClientOnce(t *testing.T) {
	th := newTestHalves(protocol.V1_8, "alice", aliceAuth)
	id := th.server.clientBound.Play.ID(protocol.NameChatMessage)

	seen := collect(th.bus, EventPlayerChatbox)
	th.bus.Subscribe(EventPlayerChatbox, func(_ context.Context, _ map[string]interface{}) eventbus.Decision {
		return eventbus.Decision{Kind: eventbus.Replace, Payload: map[string]interface{}{"text": "hi"}}
	})

	body := codec.NewWriter().Chat(map[string]interface{}{"text": "welcome"}).UByte(0)
	require.NoError(t, th.server.dispatch(rawFrame(id, body)))

	out := dequeue(t, th.client.ConnActor)
	require.Equal(t, id, out.ID)
	r := codec.NewReader(out.Body())
	chat := r.Chat()
	require.Equal(t, "hi", chat["text"])
	require.Equal(t, uint8(0), r.UByte())
	require.NoError(t, r.Err())
	requireQueueEmpty(t, th.client.ConnActor)

	require.Len(t, *seen, 1)
	parsed, ok := (*seen)[0]["json"].(map[string]interface{})
	require.True(t, ok)
	require.Equal(t, "welcome", parsed["text"])
}

func TestServerChatDropNeverReachesClient(t *testing.T) {
	th := newTestHalves(protocol.V1_8, "alice", aliceAuth)
	id := th.server.clientBound.Play.ID(protocol.NameChatMessage)

	th.bus.Subscribe(EventPlayerChatbox, func(_ context.Context, _ map[string]interface{}) eventbus.Decision {
		return eventbus.Decision{Kind: eventbus.Drop}
	})

	body := codec.NewWriter().Chat(map[string]interface{}{"text": "spam"}).UByte(0)
	require.NoError(t, th.server.dispatch(rawFrame(id, body)))
	requireQueueEmpty(t, th.client.ConnActor)
}

func TestServerChatPassThroughForwardsOriginalBytes(t *testing.T) {
	th := newTestHalves(protocol.V1_8, "alice", aliceAuth)
	id := th.server.clientBound.Play.ID(protocol.NameChatMessage)

	body := codec.NewWriter().Chat(map[string]interface{}{"text": "welcome"}).UByte(1)
	frame := rawFrame(id, body)
	require.NoError(t, th.server.dispatch(frame))

	out := dequeue(t, th.client.ConnActor)
	require.Equal(t, frame.Payload, out.Payload)
}

func TestJoinGameRecordsIdentityAndNudgesGameState(t *testing.T) {
	th := newTestHalves(protocol.V1_8, "alice", aliceAuth)
	id := th.server.clientBound.Play.ID(protocol.NameJoinGame)

	body := codec.NewWriter().
		Int(42).   // entity id
		UByte(1).  // gamemode
		Byte(0).   // dimension (byte before 1.9.1-pre)
		UByte(2).  // difficulty
		UByte(20). // max players
		String("default")
	frame := rawFrame(id, body)
	require.NoError(t, th.server.dispatch(frame))

	require.Equal(t, int32(42), th.sess.ClientEntityID)
	require.Equal(t, uint8(1), th.sess.Gamemode)
	require.Equal(t, th.sess, th.coord.LookupByServerEID(42))

	forwarded := dequeue(t, th.client.ConnActor)
	require.Equal(t, frame.Payload, forwarded.Payload)

	nudge := dequeue(t, th.client.ConnActor)
	require.Equal(t, th.server.clientBound.Play.ID(protocol.NameChangeGameState), nudge.ID)
	r := codec.NewReader(nudge.Body())
	require.Equal(t, uint8(3), r.UByte())
	require.Equal(t, float32(1), r.Float())
	require.NoError(t, r.Err())
}

func TestSpawnPlayerRewritesOfflineUUID(t *testing.T) {
	// Scenario: alice's backend avatar spawns in bob's view. Bob's external
	// client must see alice's authenticated uuid, never the offline one.
	th := newTestHalves(protocol.V1_9, "bob", bobAuth)
	th.registerPeer("alice", aliceAuth)

	id := th.server.clientBound.Play.ID(protocol.NameSpawnPlayer)
	body := codec.NewWriter().
		VarInt(7).
		UUID(identity.OfflineUUID("alice")).
		Double(1).Double(2).Double(3).
		Byte(0).Byte(0).
		UByte(0xFF) // metadata terminator
	require.NoError(t, th.server.dispatch(rawFrame(id, body)))

	out := dequeue(t, th.client.ConnActor)
	require.Equal(t, id, out.ID)
	r := codec.NewReader(out.Body())
	require.Equal(t, int32(7), r.VarInt())
	require.Equal(t, aliceAuth, r.UUID())
	require.Equal(t, float64(1), r.Double())
	require.NoError(t, r.Err())

	e := th.sess.Entities.Get(7)
	require.NotNil(t, e)
	require.Equal(t, aliceAuth, *e.UUID)
}

func TestSpawnPlayerPreservesFixedPointCoords(t *testing.T) {
	th := newTestHalves(protocol.V1_8, "bob", bobAuth)
	th.registerPeer("alice", aliceAuth)

	id := th.server.clientBound.Play.ID(protocol.NameSpawnPlayer)
	body := codec.NewWriter().
		VarInt(7).
		UUID(identity.OfflineUUID("alice")).
		Int(320).Int(2048).Int(-320). // (10, 64, -10) in 32ths
		Byte(0).Byte(0).
		Short(0).   // current item
		UByte(0x7F) // metadata terminator
	require.NoError(t, th.server.dispatch(rawFrame(id, body)))

	out := dequeue(t, th.client.ConnActor)
	r := codec.NewReader(out.Body())
	require.Equal(t, int32(7), r.VarInt())
	require.Equal(t, aliceAuth, r.UUID())
	require.Equal(t, int32(320), r.Int())
	require.Equal(t, int32(2048), r.Int())
	require.Equal(t, int32(-320), r.Int())
	require.NoError(t, r.Err())

	e := th.sess.Entities.Get(7)
	require.NotNil(t, e)
	require.Equal(t, float64(10), e.X)
	require.Equal(t, float64(-10), e.Z)
}

func TestPlayerListItemAddRewritesUUID(t *testing.T) {
	th := newTestHalves(protocol.V1_8, "alice", aliceAuth)
	id := th.server.clientBound.Play.ID(protocol.NamePlayerListItem)

	body := codec.NewWriter().
		VarInt(0). // action: add
		VarInt(1).
		UUID(identity.OfflineUUID("alice")).
		String("alice").
		VarInt(0).  // no properties
		VarInt(1).  // gamemode
		VarInt(30). // latency
		Bool(false)
	require.NoError(t, th.server.dispatch(rawFrame(id, body)))

	out := dequeue(t, th.client.ConnActor)
	require.Equal(t, id, out.ID)
	r := codec.NewReader(out.Body())
	require.Equal(t, int32(0), r.VarInt())
	require.Equal(t, int32(1), r.VarInt())
	require.Equal(t, aliceAuth, r.UUID())
	require.Equal(t, "alice", r.String())
	require.Equal(t, int32(0), r.VarInt())
	require.Equal(t, int32(1), r.VarInt())
	require.Equal(t, int32(30), r.VarInt())
	require.False(t, r.Bool())
	require.NoError(t, r.Err())
}

func TestAttachEntityMountAndUnmount(t *testing.T) {
	th := newTestHalves(protocol.V1_8, "alice", aliceAuth)
	th.coord.SetClientEntityID(th.sess, 5)
	id := th.server.clientBound.Play.ID(protocol.NameAttachEntity)

	mounts := collect(th.bus, EventPlayerMount)
	unmounts := collect(th.bus, EventPlayerUnmount)

	require.NoError(t, th.server.dispatch(rawFrame(id, codec.NewWriter().Int(5).Int(9).Bool(true))))
	require.NotNil(t, th.sess.RidingEntityID())
	require.Equal(t, int32(9), *th.sess.RidingEntityID())
	require.Len(t, *mounts, 1)
	require.Equal(t, int32(9), (*mounts)[0]["vehicle_id"])
	require.Equal(t, true, (*mounts)[0]["leash"])

	require.NoError(t, th.server.dispatch(rawFrame(id, codec.NewWriter().Int(5).Int(-1).Bool(false))))
	require.Nil(t, th.sess.RidingEntityID())
	require.Len(t, *unmounts, 1)
}

func TestUseBedRecordsBedPositionForOwnEntity(t *testing.T) {
	th := newTestHalves(protocol.V1_8, "alice", aliceAuth)
	th.coord.SetClientEntityID(th.sess, 5)
	id := th.server.clientBound.Play.ID(protocol.NameUseBed)

	beds := collect(th.bus, EventPlayerUseBed)

	body := codec.NewWriter().VarInt(5).Position(100, 64, -200)
	require.NoError(t, th.server.dispatch(rawFrame(id, body)))

	bed := th.sess.BedPosition()
	require.NotNil(t, bed)
	require.Equal(t, int32(100), bed.X)
	require.Equal(t, int32(64), bed.Y)
	require.Equal(t, int32(-200), bed.Z)
	require.Len(t, *beds, 1)
}

func TestSpawnPositionEmitsSpawnedOnce(t *testing.T) {
	th := newTestHalves(protocol.V1_8, "alice", aliceAuth)
	id := th.server.clientBound.Play.ID(protocol.NameSpawnPosition)

	spawned := collect(th.bus, EventPlayerSpawned)

	require.NoError(t, th.server.dispatch(rawFrame(id, codec.NewWriter().Position(0, 64, 0))))
	require.NoError(t, th.server.dispatch(rawFrame(id, codec.NewWriter().Position(0, 70, 0))))

	require.Len(t, *spawned, 1)
	dequeue(t, th.client.ConnActor)
	dequeue(t, th.client.ConnActor)
}

func TestChangeGameStateReasonThreeUpdatesGamemode(t *testing.T) {
	th := newTestHalves(protocol.V1_8, "alice", aliceAuth)
	id := th.server.clientBound.Play.ID(protocol.NameChangeGameState)

	require.NoError(t, th.server.dispatch(rawFrame(id, codec.NewWriter().UByte(3).Float(2))))
	require.Equal(t, uint8(2), th.sess.Gamemode)
	dequeue(t, th.client.ConnActor)

	// other reasons leave gamemode alone
	require.NoError(t, th.server.dispatch(rawFrame(id, codec.NewWriter().UByte(1).Float(0))))
	require.Equal(t, uint8(2), th.sess.Gamemode)
}

func TestSetSlotWindowZeroUpdatesInventory(t *testing.T) {
	th := newTestHalves(protocol.V1_8, "alice", aliceAuth)
	id := th.server.clientBound.Play.ID(protocol.NameSetSlot)

	body := codec.NewWriter().Byte(0).Short(3).Bool(true).Short(276).UByte(1).Short(0)
	require.NoError(t, th.server.dispatch(rawFrame(id, body)))

	slot, ok := th.sess.InventorySlot(3)
	require.True(t, ok)
	require.Equal(t, int16(276), slot.ItemID)
	require.Equal(t, uint8(1), slot.Count)

	dequeue(t, th.client.ConnActor)

	// other windows are forwarded but never touch the snapshot
	other := codec.NewWriter().Byte(2).Short(3).Bool(true).Short(1).UByte(1).Short(0)
	require.NoError(t, th.server.dispatch(rawFrame(id, other)))
	slot, ok = th.sess.InventorySlot(3)
	require.True(t, ok)
	require.Equal(t, int16(276), slot.ItemID)
}

func TestEntityTableTracksSpawnMoveTeleportDestroy(t *testing.T) {
	th := newTestHalves(protocol.V1_8, "alice", aliceAuth)
	cb := th.server.clientBound

	spawn := codec.NewWriter().VarInt(7).UByte(50).Int(320).Int(2048).Int(-320)
	require.NoError(t, th.server.dispatch(rawFrame(cb.Play.ID(protocol.NameSpawnMob), spawn)))
	e := th.sess.Entities.Get(7)
	require.NotNil(t, e)
	require.Equal(t, float64(10), e.X)

	move := codec.NewWriter().VarInt(7).Byte(32).Byte(0).Byte(0)
	require.NoError(t, th.server.dispatch(rawFrame(cb.Play.ID(protocol.NameEntityRelativeMove), move)))
	require.Equal(t, float64(11), th.sess.Entities.Get(7).X)

	teleport := codec.NewWriter().VarInt(7).Int(640).Int(2048).Int(640).Byte(0).Byte(0)
	require.NoError(t, th.server.dispatch(rawFrame(cb.Play.ID(protocol.NameEntityTeleport), teleport)))
	require.Equal(t, float64(20), th.sess.Entities.Get(7).X)
	require.Equal(t, float64(20), th.sess.Entities.Get(7).Z)

	destroy := codec.NewWriter().VarInt(1).VarInt(7)
	require.NoError(t, th.server.dispatch(rawFrame(cb.Play.ID(protocol.NameDestroyEntities), destroy)))
	require.Nil(t, th.sess.Entities.Get(7))
}

func TestDisconnectPropagatesReasonAndClosesSession(t *testing.T) {
	th := newTestHalves(protocol.V1_8, "alice", aliceAuth)
	th.client.SetState(protocol.StatePlay)
	id := th.server.clientBound.Play.ID(protocol.NamePlayDisconnect)

	logouts := collect(th.bus, EventPlayerLogout)

	body := codec.NewWriter().Chat(map[string]interface{}{"text": "banned"})
	err := th.server.dispatch(rawFrame(id, body))
	require.Error(t, err)

	out, err := th.clientSock.written().ReadFrame()
	require.NoError(t, err)
	require.Equal(t, th.server.clientBound.Play.ID(protocol.NamePlayDisconnect), out.ID)
	r := codec.NewReader(out.Body())
	reason := r.Chat()
	require.NoError(t, r.Err())
	require.Equal(t, "banned", reason["text"])

	require.Equal(t, 0, th.coord.Len())
	require.Len(t, *logouts, 1)
	require.Equal(t, protocol.StateClosed, th.client.State())
}
