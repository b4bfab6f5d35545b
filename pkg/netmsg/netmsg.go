// Package netmsg encodes and decodes the reliable and unreliable payload
// bodies carried inside channel.Channel frames, in the little-endian,
// explicit success/failure style of pkg/netbuf.
package netmsg

import (
	"github.com/tankgam/netcode/pkg/entity"
	"github.com/tankgam/netcode/pkg/netbuf"
)

func writeEntityState(b *netbuf.Buffer, s entity.State) bool {
	return b.WriteVec3(netbuf.Vec3{X: s.Position.X, Y: s.Position.Y, Z: s.Position.Z}) &&
		b.WriteQuat(netbuf.Quat{X: s.Rotation.X, Y: s.Rotation.Y, Z: s.Rotation.Z, W: s.Rotation.W}) &&
		b.WriteString(s.ModelName)
}

func readEntityState(b *netbuf.Buffer) (entity.State, bool) {
	pos, ok := b.ReadVec3()
	if !ok {
		return entity.State{}, false
	}
	rot, ok := b.ReadQuat()
	if !ok {
		return entity.State{}, false
	}
	model, ok := b.ReadString()
	if !ok {
		return entity.State{}, false
	}
	return entity.State{
		Position:  entity.Vec3{X: pos.X, Y: pos.Y, Z: pos.Z},
		Rotation:  entity.Quat{X: rot.X, Y: rot.Y, Z: rot.Z, W: rot.W},
		ModelName: model,
	}, true
}

// EntityUpdate pairs an entity id with its state, the unit the broadcast
// messages below carry one or many of.
type EntityUpdate struct {
	ID    int
	State entity.State
}

// EncodeCreateEntity builds a CreateEntity reliable payload.
func EncodeCreateEntity(id int, s entity.State) []byte {
	b := netbuf.New()
	b.WriteUint16(uint16(id))
	writeEntityState(b, s)
	return b.Data()
}

// DecodeCreateEntity parses a CreateEntity reliable payload.
func DecodeCreateEntity(payload []byte) (id int, s entity.State, ok bool) {
	b, fits := netbuf.FromBytes(payload)
	if !fits {
		return 0, entity.State{}, false
	}
	b.BeginRead()
	rawID, ok1 := b.ReadUint16()
	if !ok1 {
		return 0, entity.State{}, false
	}
	st, ok2 := readEntityState(b)
	if !ok2 {
		return 0, entity.State{}, false
	}
	return int(rawID), st, true
}

// EncodeDestroyEntity builds a DestroyEntity reliable payload.
func EncodeDestroyEntity(id int) []byte {
	b := netbuf.New()
	b.WriteUint16(uint16(id))
	return b.Data()
}

// DecodeDestroyEntity parses a DestroyEntity reliable payload.
func DecodeDestroyEntity(payload []byte) (id int, ok bool) {
	b, fits := netbuf.FromBytes(payload)
	if !fits {
		return 0, false
	}
	b.BeginRead()
	rawID, readOK := b.ReadUint16()
	return int(rawID), readOK
}

// EncodeEntitySynchronize builds an EntitySynchronize unreliable snapshot
// covering the given entities.
func EncodeEntitySynchronize(updates []EntityUpdate) []byte {
	b := netbuf.New()
	b.WriteUint16(uint16(len(updates)))
	for _, u := range updates {
		b.WriteUint16(uint16(u.ID))
		writeEntityState(b, u.State)
	}
	return b.Data()
}

// DecodeEntitySynchronize parses an EntitySynchronize unreliable snapshot.
func DecodeEntitySynchronize(payload []byte) ([]EntityUpdate, bool) {
	b, fits := netbuf.FromBytes(payload)
	if !fits {
		return nil, false
	}
	b.BeginRead()
	n, ok := b.ReadUint16()
	if !ok {
		return nil, false
	}
	updates := make([]EntityUpdate, 0, n)
	for i := uint16(0); i < n; i++ {
		rawID, ok1 := b.ReadUint16()
		if !ok1 {
			return nil, false
		}
		st, ok2 := readEntityState(b)
		if !ok2 {
			return nil, false
		}
		updates = append(updates, EntityUpdate{ID: int(rawID), State: st})
	}
	return updates, true
}

// EncodeSynchronizeRequest builds the client's Synchronize{client_tick}
// reliable request sent during the AlmostConnected handshake sub-state.
func EncodeSynchronizeRequest(clientTick uint64) []byte {
	b := netbuf.New()
	b.WriteUint64(clientTick)
	return b.Data()
}

// DecodeSynchronizeRequest parses a Synchronize request.
func DecodeSynchronizeRequest(payload []byte) (clientTick uint64, ok bool) {
	b, fits := netbuf.FromBytes(payload)
	if !fits {
		return 0, false
	}
	b.BeginRead()
	return b.ReadUint64()
}

// EncodeSynchronizeReply builds the server's
// Synchronize{client_tick, server_tick, entities...} reliable reply.
func EncodeSynchronizeReply(echoTick, serverTick uint64, updates []EntityUpdate) []byte {
	b := netbuf.New()
	b.WriteUint64(echoTick)
	b.WriteUint64(serverTick)
	b.WriteUint16(uint16(len(updates)))
	for _, u := range updates {
		b.WriteUint16(uint16(u.ID))
		writeEntityState(b, u.State)
	}
	return b.Data()
}

// SynchronizeReply is the decoded form of EncodeSynchronizeReply.
type SynchronizeReply struct {
	EchoTick   uint64
	ServerTick uint64
	Entities   []EntityUpdate
}

// DecodeSynchronizeReply parses a Synchronize reply.
func DecodeSynchronizeReply(payload []byte) (SynchronizeReply, bool) {
	b, fits := netbuf.FromBytes(payload)
	if !fits {
		return SynchronizeReply{}, false
	}
	b.BeginRead()
	echo, ok1 := b.ReadUint64()
	server, ok2 := b.ReadUint64()
	n, ok3 := b.ReadUint16()
	if !ok1 || !ok2 || !ok3 {
		return SynchronizeReply{}, false
	}
	updates := make([]EntityUpdate, 0, n)
	for i := uint16(0); i < n; i++ {
		rawID, ok1 := b.ReadUint16()
		if !ok1 {
			return SynchronizeReply{}, false
		}
		st, ok2 := readEntityState(b)
		if !ok2 {
			return SynchronizeReply{}, false
		}
		updates = append(updates, EntityUpdate{ID: int(rawID), State: st})
	}
	return SynchronizeReply{EchoTick: echo, ServerTick: server, Entities: updates}, true
}

// EncodePlayerCommand builds a PlayerCommand unreliable payload carrying
// a relative rotation delta.
func EncodePlayerCommand(addRotationDegrees float32) []byte {
	b := netbuf.New()
	b.WriteFloat32(addRotationDegrees)
	return b.Data()
}

// DecodePlayerCommand parses a PlayerCommand unreliable payload.
func DecodePlayerCommand(payload []byte) (addRotationDegrees float32, ok bool) {
	b, fits := netbuf.FromBytes(payload)
	if !fits {
		return 0, false
	}
	b.BeginRead()
	return b.ReadFloat32()
}
