package client

import (
	"github.com/tankgam/netcode/pkg/channel"
	"github.com/tankgam/netcode/pkg/netmsg"
)

// rotationStep is the per-keypress rotation delta in degrees.
const rotationStep = 5.0

// connectedState is the active-gameplay state: it drains replication
// traffic into the entity store, uploads queued player commands, and
// drives retransmission.
type connectedState struct {
	session *Session

	pendingCommands []float32
}

func newConnectedState(s *Session) *connectedState {
	return &connectedState{session: s}
}

func (c *connectedState) Pause()  {}
func (c *connectedState) Resume() {}

func (c *connectedState) ConsumeEvent(ev Event) {
	switch ev {
	case EventUp:
		c.pendingCommands = append(c.pendingCommands, -rotationStep)
	case EventDown:
		c.pendingCommands = append(c.pendingCommands, rotationStep)
	case EventEscape:
		c.disconnect()
	}
}

// disconnect sends three belt-and-braces OOB client_disconnect
// datagrams, stops the tick source, and pops back to whatever is
// beneath Connected on the stack.
func (c *connectedState) disconnect() {
	payload := channel.BuildOOBClientDisconnect(c.session.channel.ExpectedSalt())
	for i := 0; i < 3; i++ {
		channel.SendOOB(c.session.endpoint, c.session.channel.PeerAddr(), payload)
	}
	c.session.Shutdown()
	c.session.Pop()
}

func (c *connectedState) Update() {
	ch := c.session.channel
	c.drainTransport(ch)

	for _, delta := range c.pendingCommands {
		ch.SendUnreliable(ch.ExpectedSalt(), channel.PlayerCommand, netmsg.EncodePlayerCommand(delta))
	}
	c.pendingCommands = c.pendingCommands[:0]

	ch.TrySendReliable(ch.ExpectedSalt())
}

func (c *connectedState) drainTransport(ch *channel.Channel) {
	for {
		d, ok := c.session.endpoint.Recv()
		if !ok {
			return
		}
		magic, ok := channel.PeekMagic(d.Data)
		if !ok {
			continue
		}
		if magic == channel.OOBMagic {
			c.session.log.Info().Msg("received out-of-band packet while connected")
			continue
		}

		isOOB, _, msgType, mainPayload, reliables, ok := ch.Receive(d.Data)
		if !ok || isOOB {
			continue
		}
		for _, raw := range reliables {
			c.handleReliable(raw)
		}
		if msgType == channel.EntitySynchronize {
			c.handleSnapshot(mainPayload)
		}
	}
}

func (c *connectedState) handleReliable(raw []byte) {
	msgType, payload, ok := channel.SplitReliable(raw)
	if !ok {
		return
	}
	switch msgType {
	case channel.CreateEntity:
		id, st, ok := netmsg.DecodeCreateEntity(payload)
		if ok {
			c.session.entities.AllocGlobal(id, st)
		}
	case channel.DestroyEntity:
		id, ok := netmsg.DecodeDestroyEntity(payload)
		if ok {
			c.session.entities.FreeGlobal(id)
		}
	}
}

func (c *connectedState) handleSnapshot(payload []byte) {
	updates, ok := netmsg.DecodeEntitySynchronize(payload)
	if !ok {
		return
	}
	for _, u := range updates {
		if c.session.entities.Exists(u.ID) {
			c.session.entities.Set(u.ID, u.State)
		} else {
			c.session.entities.AllocGlobal(u.ID, u.State)
		}
	}
}

func (c *connectedState) Draw() {
	if c.session.renderer == nil {
		return
	}
	for _, id := range c.session.entities.GlobalIDs() {
		if st, ok := c.session.entities.Get(id); ok {
			c.session.renderer.DrawEntity(id, st)
		}
	}
}
