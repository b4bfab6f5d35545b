package client

import (
	"github.com/valyala/fastrand"

	"github.com/tankgam/netcode/pkg/channel"
	"github.com/tankgam/netcode/pkg/entity"
	"github.com/tankgam/netcode/pkg/netmsg"
	"github.com/tankgam/netcode/pkg/tickclock"
)

// Resend and give-up intervals, expressed in ticks at tickclock.Rate so
// they advance with the same clock the handshake and replication code
// reads.
const (
	resendTicks = 5 * tickclock.Rate
	giveUpTicks = 30 * tickclock.Rate
)

type connectingSubstate uint8

const (
	subConnecting connectingSubstate = iota
	subChallenging
	subAlmostConnected
)

// connectingState drives the three-way salted handshake. It is pushed by
// the Menu's "Start Game" choice and, once AlmostConnected resolves,
// pushes Connected and marks itself to be dropped the next time it
// would otherwise resume.
type connectingState struct {
	session *Session

	sub       connectingSubstate
	done      bool
	enteredAt uint64
	lastSend  uint64

	clientSalt   uint32
	serverSalt   uint32
	combinedSalt uint32
}

func newConnectingState(s *Session) *connectingState {
	return &connectingState{
		session:    s,
		clientSalt: nonZeroSalt(),
		enteredAt:  s.clock.TotalTicks(),
	}
}

func nonZeroSalt() uint32 {
	for {
		if v := fastrand.Uint32n(0xFFFFFFFF) + 1; v != 0 {
			return v
		}
	}
}

func (c *connectingState) Pause()  {}
func (c *connectingState) Resume() {
	// AlmostConnected already pushed Connected and marked us done; having
	// become top again means Connected was popped (disconnected), so we
	// drop straight back to the Menu instead of resuming the handshake.
	if c.done {
		c.session.Pop()
	}
}
func (c *connectingState) ConsumeEvent(Event) {}

func (c *connectingState) Draw() {}

func (c *connectingState) Update() {
	now := c.session.clock.TotalTicks()
	if now-c.enteredAt >= giveUpTicks {
		c.session.Pop()
		return
	}

	switch c.sub {
	case subConnecting:
		c.updateConnecting(now)
	case subChallenging:
		c.updateChallenging(now)
	case subAlmostConnected:
		c.updateAlmostConnected(now)
	}
}

func (c *connectingState) shouldResend(now uint64) bool {
	if now-c.lastSend < resendTicks {
		return false
	}
	c.lastSend = now
	return true
}

func (c *connectingState) updateConnecting(now uint64) {
	if c.lastSend == 0 || c.shouldResend(now) {
		c.lastSend = now
		channel.SendOOB(c.session.endpoint, c.session.serverAddr, channel.BuildOOBClientConnect(c.clientSalt))
	}

	for {
		d, ok := c.session.endpoint.Recv()
		if !ok {
			return
		}
		magic, ok := channel.PeekMagic(d.Data)
		if !ok || magic != channel.OOBMagic {
			continue
		}
		cmd, ok := channel.ParseOOBCommand(d.Data[2:])
		if !ok || cmd.Name != channel.CmdServerChallenge {
			continue
		}
		gotClientSalt, ok1 := cmd.Args.ReadUint32()
		serverSalt, ok2 := cmd.Args.ReadUint32()
		if !ok1 || !ok2 || gotClientSalt != c.clientSalt {
			continue
		}
		c.serverSalt = serverSalt
		c.combinedSalt = c.clientSalt ^ serverSalt
		c.sub = subChallenging
		c.lastSend = 0
		return
	}
}

func (c *connectingState) updateChallenging(now uint64) {
	if c.lastSend == 0 || c.shouldResend(now) {
		c.lastSend = now
		channel.SendOOB(c.session.endpoint, c.session.serverAddr, channel.BuildOOBClientChallenge(c.combinedSalt))
	}

	for {
		d, ok := c.session.endpoint.Recv()
		if !ok {
			return
		}
		magic, ok := channel.PeekMagic(d.Data)
		if !ok || magic != channel.OOBMagic {
			continue
		}
		cmd, ok := channel.ParseOOBCommand(d.Data[2:])
		if !ok || cmd.Name != channel.CmdServerConnect {
			continue
		}
		combined, ok1 := cmd.Args.ReadUint32()
		if !ok1 || combined != c.combinedSalt {
			continue
		}

		c.session.channel = channel.New(c.session.endpoint, d.From)
		c.session.channel.SetExpectedSalt(c.combinedSalt)
		c.session.entities = entity.New()
		c.sub = subAlmostConnected
		c.lastSend = 0
		return
	}
}

func (c *connectingState) updateAlmostConnected(now uint64) {
	ch := c.session.channel
	if c.lastSend == 0 || c.shouldResend(now) {
		c.lastSend = now
		ch.AddReliable(channel.Synchronize, netmsg.EncodeSynchronizeRequest(now))
	}
	ch.TrySendReliable(c.combinedSalt)

	for {
		d, ok := c.session.endpoint.Recv()
		if !ok {
			return
		}
		isOOB, _, _, _, reliables, ok := ch.Receive(d.Data)
		if !ok || isOOB {
			continue
		}
		for _, raw := range reliables {
			got, payload, ok := channel.SplitReliable(raw)
			if !ok || got != channel.Synchronize {
				continue
			}
			reply, ok := netmsg.DecodeSynchronizeReply(payload)
			if !ok {
				continue
			}
			c.onSynchronizeReply(now, reply)
			return
		}
	}
}

func (c *connectingState) onSynchronizeReply(now uint64, reply netmsg.SynchronizeReply) {
	rtt := now - reply.EchoTick
	target := reply.ServerTick + rtt/2 + 1
	var offset uint64
	if target > now {
		offset = target - now
	}
	c.session.clock.SetTickOffset(offset)

	for _, u := range reply.Entities {
		c.session.entities.AllocGlobal(u.ID, u.State)
	}

	c.done = true
	c.session.Push(newConnectedState(c.session))
}
