// Package client implements the client session: a LIFO stack of states
// (Menu, Connecting, Connected) where only the top state receives
// events and drives update/draw.
package client

import (
	"github.com/rs/zerolog"

	"github.com/tankgam/netcode/pkg/channel"
	"github.com/tankgam/netcode/pkg/entity"
	"github.com/tankgam/netcode/pkg/netaddr"
	"github.com/tankgam/netcode/pkg/tickclock"
	"github.com/tankgam/netcode/pkg/transport"
)

// Event is a key-style input event a state may consume: Up/Down/Enter
// in the Menu, Up/Down/Escape in Connected.
type Event uint8

const (
	EventUp Event = iota
	EventDown
	EventEnter
	EventEscape
)

// Renderer is the opaque collaborator the Connected state's Draw() calls
// into; the session never inspects it beyond this call.
type Renderer interface {
	DrawEntity(id int, st entity.State)
}

// State is the common operation set every client session state
// implements.
type State interface {
	Pause()
	Resume()
	ConsumeEvent(ev Event)
	Update()
	Draw()
}

// Session owns the state stack plus the collaborators every state needs:
// the transport endpoint, the handshake/replication channel, the
// entity store (created once the handshake resolves), the tick source,
// and an optional renderer.
type Session struct {
	endpoint   transport.Endpoint
	serverAddr netaddr.Addr
	log        zerolog.Logger
	clock      *tickclock.Clock
	renderer   Renderer

	channel  *channel.Channel
	entities *entity.Store

	stack []State
}

// New builds a client session bound to endpoint, dialing serverAddr
// (netaddr.ServerAddr in-process, or the resolved crossprocess server
// port), with Menu as its initial and only state. The tick source
// starts paused, since the menu is showing on startup.
func New(endpoint transport.Endpoint, serverAddr netaddr.Addr, renderer Renderer, log zerolog.Logger) *Session {
	return NewWithClock(endpoint, serverAddr, renderer, tickclock.New(), log)
}

// NewWithClock is New with an injectable tick source, for tests that
// need deterministic control over handshake/timeout timing.
func NewWithClock(endpoint transport.Endpoint, serverAddr netaddr.Addr, renderer Renderer, clock *tickclock.Clock, log zerolog.Logger) *Session {
	s := &Session{
		endpoint:   endpoint,
		serverAddr: serverAddr,
		log:        log.With().Str("component", "client_session").Logger(),
		clock:      clock,
		renderer:   renderer,
	}
	s.clock.Start()
	s.clock.Pause()
	s.stack = []State{newMenuState(s)}
	return s
}

// Clock exposes the tick source, e.g. for a driving loop to decide how
// many frames to run.
func (s *Session) Clock() *tickclock.Clock { return s.clock }

// Top returns the currently active state.
func (s *Session) Top() State { return s.stack[len(s.stack)-1] }

// Push pauses the current top and makes st the new top.
func (s *Session) Push(st State) {
	s.Top().Pause()
	s.stack = append(s.stack, st)
}

// Pop removes the current top and resumes the new top, if any. A no-op
// if only one state remains — the root Menu is never popped.
func (s *Session) Pop() {
	if len(s.stack) <= 1 {
		return
	}
	s.stack = s.stack[:len(s.stack)-1]
	s.Top().Resume()
}

// HandleEvent routes ev to the top state only: at most one state
// receives events or updates per tick.
func (s *Session) HandleEvent(ev Event) {
	s.Top().ConsumeEvent(ev)
}

// Frame runs one tick for the top state: update then draw.
func (s *Session) Frame() {
	s.Top().Update()
	s.Top().Draw()
}

// Shutdown stops the tick source; the owning program is expected to
// exit its run loop after calling this (Menu "Quit" choice).
func (s *Session) Shutdown() {
	s.clock.Stop()
}
