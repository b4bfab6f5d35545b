// Package server implements the authoritative server session: a fixed
// table of per-slot peer state machines driving the salted handshake,
// authoritative entity replication, and timeout enforcement.
package server

import (
	"github.com/rs/zerolog"
	"github.com/valyala/fastrand"

	"github.com/tankgam/netcode/internal/netmetrics"
	"github.com/tankgam/netcode/pkg/channel"
	"github.com/tankgam/netcode/pkg/entity"
	"github.com/tankgam/netcode/pkg/netaddr"
	"github.com/tankgam/netcode/pkg/netbuf"
	"github.com/tankgam/netcode/pkg/netmsg"
	"github.com/tankgam/netcode/pkg/tickclock"
	"github.com/tankgam/netcode/pkg/transport"
)

// SlotState is a per-slot connection state.
type SlotState uint8

const (
	Free SlotState = iota
	Challenging
	Connected
	Spawned
)

func (s SlotState) String() string {
	switch s {
	case Challenging:
		return "challenging"
	case Connected:
		return "connected"
	case Spawned:
		return "spawned"
	default:
		return "free"
	}
}

// timeoutTicks is how long a slot may go without inbound traffic before
// the server disconnects it.
const timeoutTicks = tickclock.Rate * 30

// Slot is one server connection slot.
type Slot struct {
	State SlotState

	Channel *channel.Channel

	LastRecvTick uint64
	ClientSalt   uint32
	ServerSalt   uint32
	CombinedSalt uint32
}

func (s *Slot) reset(ep transport.Endpoint) {
	*s = Slot{State: Free, Channel: channel.New(ep, netaddr.Addr{})}
}

// Server is the fixed N-slot peer table driving the per-tick sequence:
// drain inbound datagrams, run commands, broadcast snapshots.
type Server struct {
	endpoint transport.Endpoint
	log      zerolog.Logger
	entities *entity.Store

	slots []*Slot
	tick  uint64
}

// New builds a Server with n connection slots bound to endpoint (the
// server's well-known address, netaddr.ServerAddr).
func New(endpoint transport.Endpoint, n int, log zerolog.Logger) *Server {
	s := &Server{
		endpoint: endpoint,
		log:      log.With().Str("component", "server_session").Logger(),
		entities: entity.New(),
		slots:    make([]*Slot, n),
	}
	for i := range s.slots {
		s.slots[i] = &Slot{}
		s.slots[i].reset(endpoint)
	}
	return s
}

// Entities exposes the replicated entity store, e.g. for the owning
// application to populate the world.
func (s *Server) Entities() *entity.Store { return s.entities }

func nonZeroSalt() uint32 {
	for {
		if v := fastrand.Uint32n(0xFFFFFFFF) + 1; v != 0 {
			return v
		}
	}
}

func (s *Server) findSlotByClientSalt(clientSalt uint32) *Slot {
	for _, slot := range s.slots {
		if slot.State != Free && slot.ClientSalt == clientSalt {
			return slot
		}
	}
	return nil
}

func (s *Server) freeSlot() *Slot {
	for _, slot := range s.slots {
		if slot.State == Free {
			return slot
		}
	}
	return nil
}

func (s *Server) findSlotByCombinedSalt(combined uint32) *Slot {
	for _, slot := range s.slots {
		if slot.State != Free && slot.CombinedSalt == combined {
			return slot
		}
	}
	return nil
}

// Frame runs one tick: drain inbound datagrams, dispatch handshake and
// reliable/unreliable traffic, broadcast snapshots, retransmit, and
// enforce timeouts.
func (s *Server) Frame(tick uint64) {
	s.tick = tick
	s.recvAll()
	s.sendSnapshots()
	for _, slot := range s.slots {
		if slot.State == Free {
			continue
		}
		slot.Channel.TrySendReliable(slot.CombinedSalt)
		if s.tick-slot.LastRecvTick >= timeoutTicks {
			s.disconnectSlot(slot, true)
		}
	}
}

func (s *Server) recvAll() {
	for {
		d, ok := s.endpoint.Recv()
		if !ok {
			return
		}
		s.handleDatagram(d)
	}
}

func (s *Server) handleDatagram(d transport.Datagram) {
	magic, ok := channel.PeekMagic(d.Data)
	if !ok {
		return
	}
	if magic == channel.OOBMagic {
		s.handleOOB(d)
		return
	}

	// Framed: hand the datagram to the first non-Free slot whose channel
	// is bound to this peer address; that channel checks the salt. No
	// other slot is tried, whether or not that channel accepts it.
	for _, slot := range s.slots {
		if slot.State == Free || slot.Channel.PeerAddr() != d.From {
			continue
		}
		isOOB, _, msgType, payload, reliables, ok := slot.Channel.Receive(d.Data)
		if !ok || isOOB {
			return
		}
		slot.LastRecvTick = s.tick
		for _, r := range reliables {
			s.dispatchReliable(slot, r)
		}
		if msgType != channel.SendReliables {
			s.dispatchUnreliable(slot, msgType, payload)
		}
		return
	}
}

func (s *Server) dispatchReliable(slot *Slot, raw []byte) {
	msgType, payload, ok := channel.SplitReliable(raw)
	if !ok {
		return
	}
	switch msgType {
	case channel.Synchronize:
		clientTick, ok := netmsg.DecodeSynchronizeRequest(payload)
		if !ok {
			return
		}
		updates := s.snapshotAll()
		reply := netmsg.EncodeSynchronizeReply(clientTick, s.tick, updates)
		slot.Channel.AddReliable(channel.Synchronize, reply)
	}
}

func (s *Server) dispatchUnreliable(slot *Slot, msgType channel.MsgType, payload []byte) {
	if msgType != channel.PlayerCommand {
		return
	}
	_, _ = netmsg.DecodePlayerCommand(payload)
	// Applying the command to gameplay state is application-level; this
	// session only needs to accept and decode it.
}

func (s *Server) snapshotAll() []netmsg.EntityUpdate {
	ids := s.entities.GlobalIDs()
	updates := make([]netmsg.EntityUpdate, 0, len(ids))
	for _, id := range ids {
		st, _ := s.entities.Get(id)
		updates = append(updates, netmsg.EntityUpdate{ID: id, State: st})
	}
	return updates
}

func (s *Server) sendSnapshots() {
	updates := s.snapshotAll()
	if len(updates) == 0 {
		return
	}
	payload := netmsg.EncodeEntitySynchronize(updates)
	for _, slot := range s.slots {
		if slot.State == Free {
			continue
		}
		slot.Channel.SendUnreliable(slot.CombinedSalt, channel.EntitySynchronize, payload)
	}
}

func (s *Server) handleOOB(d transport.Datagram) {
	cmd, ok := channel.ParseOOBCommand(d.Data[2:])
	if !ok {
		return
	}
	switch cmd.Name {
	case channel.CmdClientConnect:
		s.handleClientConnect(d.From, cmd.Args)
	case channel.CmdClientChallenge:
		s.handleClientChallenge(d.From, cmd.Args)
	case channel.CmdClientDisconnect:
		s.handleClientDisconnect(cmd.Args)
	}
}

func (s *Server) handleClientConnect(from netaddr.Addr, args *netbuf.Buffer) {
	clientSalt, ok := args.ReadUint32()
	if !ok {
		return
	}
	// Duplicate-connect guard: a replayed handshake must not steal an
	// existing session.
	if slot := s.findSlotByClientSalt(clientSalt); slot != nil {
		return
	}

	slot := s.freeSlot()
	if slot == nil {
		netmetrics.ServerSlotsFull.Inc()
		channel.SendOOB(s.endpoint, from, channel.BuildOOBServerNoRoom())
		return
	}

	slot.State = Challenging
	slot.ClientSalt = clientSalt
	slot.ServerSalt = nonZeroSalt()
	slot.CombinedSalt = clientSalt ^ slot.ServerSalt
	slot.LastRecvTick = s.tick
	slot.Channel.SetPeerAddr(from)

	channel.SendOOB(s.endpoint, from, channel.BuildOOBServerChallenge(clientSalt, slot.ServerSalt))
}

func (s *Server) handleClientChallenge(from netaddr.Addr, args *netbuf.Buffer) {
	combined, ok := args.ReadUint32()
	if !ok {
		return
	}
	slot := s.findSlotByCombinedSalt(combined)
	if slot == nil || slot.State != Challenging {
		return
	}

	slot.State = Connected
	slot.LastRecvTick = s.tick
	slot.Channel.SetExpectedSalt(combined)
	netmetrics.ServerConnects.Inc()

	channel.SendOOB(s.endpoint, from, channel.BuildOOBServerConnect(combined))
}

func (s *Server) handleClientDisconnect(args *netbuf.Buffer) {
	combined, ok := args.ReadUint32()
	if !ok {
		return
	}
	slot := s.findSlotByCombinedSalt(combined)
	if slot == nil {
		return
	}
	s.disconnectSlot(slot, false)
}

func (s *Server) disconnectSlot(slot *Slot, announce bool) {
	if announce && (slot.State == Connected || slot.State == Spawned) {
		channel.SendOOB(s.endpoint, slot.Channel.PeerAddr(), channel.BuildOOBServerDisconnect(slot.CombinedSalt))
	}
	netmetrics.ServerDisconnects.Inc()
	if announce {
		netmetrics.ServerSlotTimeouts.Inc()
	}
	slot.reset(s.endpoint)
}

// AllocGlobalEntity allocates a new global entity and queues a reliable
// CreateEntity broadcast to every non-Free slot.
func (s *Server) AllocGlobalEntity(st entity.State) (int, bool) {
	id, ok := s.entities.NextFreeGlobalID()
	if !ok {
		return 0, false
	}
	if !s.entities.AllocGlobal(id, st) {
		return 0, false
	}
	payload := netmsg.EncodeCreateEntity(id, st)
	for _, slot := range s.slots {
		if slot.State != Free {
			slot.Channel.AddReliable(channel.CreateEntity, payload)
		}
	}
	return id, true
}

// FreeGlobalEntity removes a global entity and queues a reliable
// DestroyEntity broadcast to every non-Free slot.
func (s *Server) FreeGlobalEntity(id int) {
	s.entities.FreeGlobal(id)
	payload := netmsg.EncodeDestroyEntity(id)
	for _, slot := range s.slots {
		if slot.State != Free {
			slot.Channel.AddReliable(channel.DestroyEntity, payload)
		}
	}
}

// Slots exposes the connection table for diagnostics/tests.
func (s *Server) Slots() []*Slot { return s.slots }
