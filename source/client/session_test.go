package client

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/tankgam/netcode/pkg/entity"
	"github.com/tankgam/netcode/pkg/netaddr"
	"github.com/tankgam/netcode/pkg/tickclock"
	"github.com/tankgam/netcode/pkg/transport"
	"github.com/tankgam/netcode/source/server"
)

func TestMenuNavigationAndClockPause(t *testing.T) {
	net := transport.NewLoopbackNetwork(zerolog.Nop())
	clientEP, err := net.NewClientEndpoint()
	require.NoError(t, err)

	sess := New(clientEP, netaddr.ServerAddr, nil, zerolog.Nop())
	require.True(t, sess.clock.Paused(), "clock starts paused while the menu is showing")

	menu := sess.Top().(*menuState)
	require.Equal(t, 0, menu.menu.Selected)
	sess.HandleEvent(EventDown)
	require.Equal(t, 1, menu.menu.Selected)
	sess.HandleEvent(EventDown)
	require.Equal(t, 0, menu.menu.Selected, "selection wraps")
	sess.HandleEvent(EventUp)
	require.Equal(t, 1, menu.menu.Selected)
	sess.HandleEvent(EventUp)
	require.Equal(t, 0, menu.menu.Selected)

	sess.HandleEvent(EventEnter)
	_, isConnecting := sess.Top().(*connectingState)
	require.True(t, isConnecting, "selecting Start Game pushes Connecting")
	require.False(t, sess.clock.Paused(), "leaving the menu unpauses the tick source")
}

// driveFrames runs the client/server pair for up to maxFrames ticks,
// stopping early once reachConnected is satisfied.
func driveFrames(t *testing.T, srv *server.Server, sess *Session, fakeNow *time.Time, maxFrames int) {
	t.Helper()
	for i := 0; i < maxFrames; i++ {
		*fakeNow = fakeNow.Add(time.Second / tickclock.Rate)
		srv.Frame(uint64(i))
		sess.Frame()
		if _, ok := sess.Top().(*connectedState); ok {
			return
		}
	}
}

func TestHandshakeReachesConnectedAndReplicatesEntities(t *testing.T) {
	net := transport.NewLoopbackNetwork(zerolog.Nop())
	serverEP, err := net.NewServerEndpoint()
	require.NoError(t, err)
	clientEP, err := net.NewClientEndpoint()
	require.NoError(t, err)

	srv := server.New(serverEP, 4, zerolog.Nop())

	fakeNow := time.Now()
	clock := tickclock.NewWithSource(func() time.Time { return fakeNow })
	sess := NewWithClock(clientEP, netaddr.ServerAddr, nil, clock, zerolog.Nop())
	sess.HandleEvent(EventEnter) // Start Game

	driveFrames(t, srv, sess, &fakeNow, 400)
	_, connected := sess.Top().(*connectedState)
	require.True(t, connected, "handshake should reach Connected well within the give-up window")

	st := entity.State{ModelName: "tank_body", Rotation: entity.IdentityQuat, Position: entity.Vec3{X: 1, Y: 2, Z: 3}}
	id, ok := srv.AllocGlobalEntity(st)
	require.True(t, ok)

	for i := 0; i < 50; i++ {
		fakeNow = fakeNow.Add(time.Second / tickclock.Rate)
		srv.Frame(uint64(400 + i))
		sess.Frame()
	}

	got, ok := sess.entities.Get(id)
	require.True(t, ok, "CreateEntity broadcast should have replicated to the client")
	require.True(t, entity.Equal(st, got))
}

func TestEscapeDisconnectsAndReturnsToMenu(t *testing.T) {
	net := transport.NewLoopbackNetwork(zerolog.Nop())
	serverEP, err := net.NewServerEndpoint()
	require.NoError(t, err)
	clientEP, err := net.NewClientEndpoint()
	require.NoError(t, err)

	srv := server.New(serverEP, 4, zerolog.Nop())

	fakeNow := time.Now()
	clock := tickclock.NewWithSource(func() time.Time { return fakeNow })
	sess := NewWithClock(clientEP, netaddr.ServerAddr, nil, clock, zerolog.Nop())
	sess.HandleEvent(EventEnter)
	driveFrames(t, srv, sess, &fakeNow, 400)
	_, connected := sess.Top().(*connectedState)
	require.True(t, connected)

	sess.HandleEvent(EventEscape)
	_, isMenu := sess.Top().(*menuState)
	require.True(t, isMenu, "Escape pops straight back through the dropped Connecting state to Menu")

	fakeNow = fakeNow.Add(time.Second / tickclock.Rate)
	srv.Frame(500)
	require.Equal(t, server.Free, srv.Slots()[0].State, "server frees the slot on the first disconnect datagram")
}
