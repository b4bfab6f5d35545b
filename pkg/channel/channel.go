// Package channel implements the reliable/unreliable multiplexing layer
// every connection runs on top of a transport.Endpoint: sequence
// numbers, an ack bitfield, reliable retransmission via piggybacking,
// and an out-of-band escape for unauthenticated handshake traffic.
package channel

import (
	"fmt"

	"github.com/tankgam/netcode/internal/netmetrics"
	"github.com/tankgam/netcode/pkg/netaddr"
	"github.com/tankgam/netcode/pkg/netbuf"
	"github.com/tankgam/netcode/pkg/transport"
)

// Wire magic numbers, the first two little-endian bytes of every
// datagram this package sends or receives.
const (
	OOBMagic      uint16 = 15625 // 0x3D09
	ReliableMagic uint16 = 3125  // 0x0C35
)

// MsgType is a message type byte. Bit 7 distinguishes reliable (set)
// from unreliable (clear) classes; SendReliables is a carrier pseudo-type.
type MsgType uint8

const (
	Unknown           MsgType = 0
	EntitySynchronize MsgType = 1
	PlayerCommand     MsgType = 2
	Synchronize       MsgType = 0x81
	CreateEntity      MsgType = 0x82
	DestroyEntity     MsgType = 0x83
	SendReliables     MsgType = 0xFF
)

// IsReliable reports whether msgType belongs to the reliable class (bit
// 7 set), excluding the SendReliables carrier which is sent over the
// unreliable path despite having the high bit set.
func (t MsgType) IsReliable() bool {
	return t != SendReliables && uint8(t)&0x80 != 0
}

// ringSize is the depth of the outgoing and incoming reliable rings.
const ringSize = 128

// retransmitWindow is how far back hasUnackedReliable and
// pendingReliables scan for unacked reliables, and how many older
// incoming sequences ackBits reports.
const retransmitWindow = 64

type outSlot struct {
	present bool
	seq     uint32
	acked   bool
	msgType MsgType
	payload []byte
}

type inSlot struct {
	present bool
	seq     uint32
	acked   bool
}

// Channel is a per-peer reliable/unreliable multiplexer sitting on top
// of a transport.Endpoint.
type Channel struct {
	endpoint transport.Endpoint
	peerAddr netaddr.Addr

	expectedSalt uint32

	outSeq         uint32 // S_out: outgoing unreliable sequence counter
	outReliableSeq uint32 // R_out: outgoing reliable sequence counter
	inSeq          uint32 // S_in: highest accepted incoming unreliable sequence
	inReliableAck  uint32 // R_in: highest reliable sequence received from the peer

	outRing [ringSize]outSlot
	inRing  [ringSize]inSlot

	sentThisTick bool
}

// New creates a channel bound to endpoint, with an optional known peer
// address (netaddr.Addr{} / Unknown before a handshake resolves it).
func New(endpoint transport.Endpoint, peer netaddr.Addr) *Channel {
	return &Channel{endpoint: endpoint, peerAddr: peer}
}

// SetPeerAddr updates the destination address once the handshake
// resolves it.
func (c *Channel) SetPeerAddr(addr netaddr.Addr) { c.peerAddr = addr }

// PeerAddr returns the current destination address.
func (c *Channel) PeerAddr() netaddr.Addr { return c.peerAddr }

// SetExpectedSalt sets the combined salt this channel requires on every
// framed datagram it accepts.
func (c *Channel) SetExpectedSalt(salt uint32) { c.expectedSalt = salt }

// ExpectedSalt returns the combined salt this channel currently requires
// and sends under, e.g. for a session that needs to frame a message
// without threading the salt through separately.
func (c *Channel) ExpectedSalt() uint32 { return c.expectedSalt }

// OutOfBand sends an unframed, unauthenticated datagram — used only
// during handshake and disconnect.
func (c *Channel) OutOfBand(dst netaddr.Addr, payload []byte) bool {
	buf := netbuf.New()
	buf.WriteUint16(OOBMagic)
	buf.WriteBytes(payload)
	return c.endpoint.Send(buf.Data(), dst)
}

// SendUnreliable frames and transmits an unreliable (or SendReliables
// carrier) message. Calling it with a reliable msgType other than
// SendReliables is a programming error and panics.
func (c *Channel) SendUnreliable(salt uint32, msgType MsgType, payload []byte) bool {
	if msgType.IsReliable() {
		panic(fmt.Sprintf("channel: tried to send reliable type %#x through unreliable path", uint8(msgType)))
	}
	return c.sendFramed(salt, msgType, payload)
}

// AddReliable queues a reliable message for piggyback delivery; it does
// not transmit immediately. Calling it with an unreliable msgType is a
// programming error and panics.
//
// The wire's reliable array carries only {seq, len, bytes} per entry, so
// the type byte travels as the first byte of bytes; SplitReliable
// recovers it on the receiving end.
func (c *Channel) AddReliable(msgType MsgType, payload []byte) {
	if !msgType.IsReliable() {
		panic(fmt.Sprintf("channel: tried to send unreliable type %#x through reliable path", uint8(msgType)))
	}

	c.outReliableSeq++
	seq := c.outReliableSeq
	slot := &c.outRing[seq%ringSize]

	cp := make([]byte, 1+len(payload))
	cp[0] = uint8(msgType)
	copy(cp[1:], payload)
	*slot = outSlot{present: true, seq: seq, acked: false, msgType: msgType, payload: cp}
}

// SplitReliable separates a delivered reliable's leading type byte from
// its payload.
func SplitReliable(raw []byte) (MsgType, []byte, bool) {
	if len(raw) == 0 {
		return Unknown, nil, false
	}
	return MsgType(raw[0]), raw[1:], true
}

// TrySendReliable scans the outgoing reliable ring for any unacked entry
// within the retransmission window and, if one exists and no framed
// packet has gone out this tick, emits a SendReliables carrier so
// piggyback retransmission covers it. Call once per tick.
func (c *Channel) TrySendReliable(salt uint32) bool {
	defer func() { c.sentThisTick = false }()

	if !c.hasUnackedReliable() {
		return false
	}
	if c.sentThisTick {
		return false
	}
	return c.sendFramed(salt, SendReliables, nil)
}

func (c *Channel) hasUnackedReliable() bool {
	if c.outReliableSeq == 0 {
		return false
	}
	if slot := &c.outRing[c.outReliableSeq%ringSize]; slot.present && slot.seq == c.outReliableSeq && !slot.acked {
		return true
	}
	seq := c.outReliableSeq - 1
	for i := 0; i < retransmitWindow; i++ {
		slot := &c.outRing[seq%ringSize]
		if slot.present && slot.seq == seq && !slot.acked {
			return true
		}
		seq--
	}
	return false
}

// pendingReliables collects the unacked reliables to piggyback, oldest
// first.
func (c *Channel) pendingReliables() []*outSlot {
	var newestFirst []*outSlot
	if c.outReliableSeq != 0 {
		if slot := &c.outRing[c.outReliableSeq%ringSize]; slot.present && slot.seq == c.outReliableSeq && !slot.acked {
			newestFirst = append(newestFirst, slot)
		}
		seq := c.outReliableSeq - 1
		for i := 0; i < retransmitWindow; i++ {
			slot := &c.outRing[seq%ringSize]
			if slot.present && slot.seq == seq && !slot.acked {
				newestFirst = append(newestFirst, slot)
			}
			seq--
		}
	}
	oldestFirst := make([]*outSlot, len(newestFirst))
	for i, s := range newestFirst {
		oldestFirst[len(newestFirst)-1-i] = s
	}
	return oldestFirst
}

func (c *Channel) ackBits() uint64 {
	var bits uint64
	seq := c.inReliableAck - 1
	for k := uint(0); k < retransmitWindow; k++ {
		if slot := &c.inRing[seq%ringSize]; slot.present && slot.seq == seq && slot.acked {
			bits |= 1 << k
		}
		seq--
	}
	return bits
}

func (c *Channel) sendFramed(salt uint32, msgType MsgType, payload []byte) bool {
	buf := netbuf.New()
	buf.WriteUint16(ReliableMagic)
	buf.WriteUint8(uint8(msgType))
	buf.WriteUint32(salt)

	c.outSeq++
	buf.WriteUint32(c.outSeq)
	buf.WriteUint32(c.inReliableAck)
	buf.WriteUint64(c.ackBits())

	reliables := c.pendingReliables()
	buf.WriteUint8(uint8(len(reliables)))
	for _, r := range reliables {
		buf.WriteUint32(r.seq)
		buf.WriteUint32(uint32(len(r.payload)))
		buf.WriteBytes(r.payload)
	}

	if msgType != SendReliables {
		buf.WriteBytes(payload)
	}

	c.sentThisTick = true
	ok := c.endpoint.Send(buf.Data(), c.peerAddr)
	if ok && len(reliables) > 0 {
		netmetrics.ReliableRetransmitted.Add(len(reliables))
	}
	return ok
}

// ParsedOOB is the result of receiving an out-of-band datagram: the
// payload after the magic number, for the session's unconnected handler.
type ParsedOOB struct {
	Payload []byte
}

// PeekMagic reads the two-byte magic discriminator without requiring a
// bound Channel, for sessions to route an inbound datagram from a peer
// that has no channel yet (handshake's Free/Challenging sub-states).
func PeekMagic(data []byte) (uint16, bool) {
	buf, fits := netbuf.FromBytes(data)
	if !fits {
		return 0, false
	}
	buf.BeginRead()
	return buf.ReadUint16()
}

// Receive parses one inbound datagram. isOOB indicates the caller should
// route payload to the unconnected handshake handler instead of
// dispatching msgType/reliables. ok is false for any malformed, replayed,
// or salt-mismatched datagram, which must be dropped silently.
func (c *Channel) Receive(data []byte) (isOOB bool, oobPayload []byte, msgType MsgType, mainPayload []byte, reliables [][]byte, ok bool) {
	buf, fits := netbuf.FromBytes(data)
	if !fits {
		netmetrics.DroppedMalformed.Inc()
		return false, nil, Unknown, nil, nil, false
	}
	buf.BeginRead()

	magic, readOK := buf.ReadUint16()
	if !readOK {
		netmetrics.DroppedMalformed.Inc()
		return false, nil, Unknown, nil, nil, false
	}

	if magic == OOBMagic {
		rest, _ := buf.ReadBytes(buf.Remaining())
		return true, rest, Unknown, nil, nil, true
	}
	if magic != ReliableMagic {
		netmetrics.DroppedMalformed.Inc()
		return false, nil, Unknown, nil, nil, false
	}

	rawType, readOK := buf.ReadUint8()
	if !readOK {
		netmetrics.DroppedMalformed.Inc()
		return false, nil, Unknown, nil, nil, false
	}
	gotMsgType := MsgType(rawType)
	if gotMsgType == Unknown {
		netmetrics.DroppedMalformed.Inc()
		return false, nil, Unknown, nil, nil, false
	}

	salt, readOK := buf.ReadUint32()
	if !readOK {
		netmetrics.DroppedMalformed.Inc()
		return false, nil, Unknown, nil, nil, false
	}
	if salt != c.expectedSalt {
		netmetrics.DroppedSaltMismatch.Inc()
		return false, nil, Unknown, nil, nil, false
	}

	sequence, readOK := buf.ReadUint32()
	if !readOK {
		netmetrics.DroppedMalformed.Inc()
		return false, nil, Unknown, nil, nil, false
	}
	if sequence < c.inSeq {
		netmetrics.DroppedReplay.Inc()
		return false, nil, Unknown, nil, nil, false
	}

	ack, readOK := buf.ReadUint32()
	if !readOK {
		netmetrics.DroppedMalformed.Inc()
		return false, nil, Unknown, nil, nil, false
	}
	ackBits, readOK := buf.ReadUint64()
	if !readOK {
		netmetrics.DroppedMalformed.Inc()
		return false, nil, Unknown, nil, nil, false
	}
	nReliable, readOK := buf.ReadUint8()
	if !readOK {
		netmetrics.DroppedMalformed.Inc()
		return false, nil, Unknown, nil, nil, false
	}

	type wireReliable struct {
		seq  uint32
		data []byte
	}
	wireReliables := make([]wireReliable, 0, nReliable)
	for i := uint8(0); i < nReliable; i++ {
		seq, ok1 := buf.ReadUint32()
		length, ok2 := buf.ReadUint32()
		if !ok1 || !ok2 {
			netmetrics.DroppedMalformed.Inc()
			return false, nil, Unknown, nil, nil, false
		}
		payload, ok3 := buf.ReadBytes(int(length))
		if !ok3 {
			netmetrics.DroppedMalformed.Inc()
			return false, nil, Unknown, nil, nil, false
		}
		wireReliables = append(wireReliables, wireReliable{seq: seq, data: payload})
	}

	// Whatever remains after the reliable array is the top-level
	// message's own payload (empty for the SendReliables carrier).
	trailingPayload, readOK := buf.ReadBytes(buf.Remaining())
	if !readOK {
		netmetrics.DroppedMalformed.Inc()
		return false, nil, Unknown, nil, nil, false
	}

	// From this point the datagram is accepted: update sequence tracking
	// and ack bookkeeping.
	c.inSeq = sequence

	if slot := &c.outRing[ack%ringSize]; slot.present && slot.seq == ack {
		slot.acked = true
	}
	seq := ack - 1
	for k := uint(0); k < retransmitWindow; k++ {
		if bit := ackBits & (1 << k); bit != 0 {
			if slot := &c.outRing[seq%ringSize]; slot.present && slot.seq == seq {
				slot.acked = true
			}
		}
		seq--
	}

	delivered := make([][]byte, 0, len(wireReliables))
	for _, wr := range wireReliables {
		slot := &c.inRing[wr.seq%ringSize]
		if slot.present && slot.seq == wr.seq {
			netmetrics.DroppedDuplicate.Inc()
			continue
		}
		*slot = inSlot{present: true, seq: wr.seq, acked: true}
		if wr.seq > c.inReliableAck {
			c.inReliableAck = wr.seq
		}
		delivered = append(delivered, wr.data)
		netmetrics.ReliableDelivered.Inc()
	}

	return false, nil, gotMsgType, trailingPayload, delivered, true
}
