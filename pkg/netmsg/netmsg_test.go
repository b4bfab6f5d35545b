package netmsg

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tankgam/netcode/pkg/entity"
)

func TestCreateDestroyEntityRoundTrip(t *testing.T) {
	s := entity.State{
		Position:  entity.Vec3{X: 1, Y: 2, Z: 3},
		Rotation:  entity.IdentityQuat,
		ModelName: "tank_body",
	}
	id, got, ok := DecodeCreateEntity(EncodeCreateEntity(5, s))
	require.True(t, ok)
	require.Equal(t, 5, id)
	require.True(t, entity.Equal(s, got))

	gotID, ok := DecodeDestroyEntity(EncodeDestroyEntity(5))
	require.True(t, ok)
	require.Equal(t, 5, gotID)
}

func TestEntitySynchronizeRoundTrip(t *testing.T) {
	updates := []EntityUpdate{
		{ID: 0, State: entity.State{ModelName: "tank_body", Rotation: entity.IdentityQuat}},
		{ID: 1, State: entity.State{ModelName: "tank_turret", Rotation: entity.IdentityQuat}},
	}
	got, ok := DecodeEntitySynchronize(EncodeEntitySynchronize(updates))
	require.True(t, ok)
	require.Len(t, got, 2)
	require.Equal(t, "tank_body", got[0].State.ModelName)
}

func TestSynchronizeRequestReplyRoundTrip(t *testing.T) {
	tick, ok := DecodeSynchronizeRequest(EncodeSynchronizeRequest(42))
	require.True(t, ok)
	require.Equal(t, uint64(42), tick)

	reply, ok := DecodeSynchronizeReply(EncodeSynchronizeReply(42, 100, []EntityUpdate{
		{ID: 0, State: entity.State{ModelName: "tank_body", Rotation: entity.IdentityQuat}},
	}))
	require.True(t, ok)
	require.Equal(t, uint64(42), reply.EchoTick)
	require.Equal(t, uint64(100), reply.ServerTick)
	require.Len(t, reply.Entities, 1)
}

func TestPlayerCommandRoundTrip(t *testing.T) {
	v, ok := DecodePlayerCommand(EncodePlayerCommand(-5))
	require.True(t, ok)
	require.InDelta(t, float32(-5), v, 0.0001)
}
