package transport

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/tankgam/netcode/pkg/netaddr"
)

func TestLoopbackSendRecv(t *testing.T) {
	net := NewLoopbackNetwork(zerolog.Nop())
	server, err := net.NewServerEndpoint()
	require.NoError(t, err)
	client, err := net.NewClientEndpoint()
	require.NoError(t, err)

	require.True(t, client.Send([]byte("hello"), server.Addr()))

	d, ok := server.Recv()
	require.True(t, ok)
	require.Equal(t, "hello", string(d.Data))
	require.Equal(t, client.Addr(), d.From)

	_, ok = server.Recv()
	require.False(t, ok)
}

func TestLoopbackSendToMissingPeerFails(t *testing.T) {
	net := NewLoopbackNetwork(zerolog.Nop())
	client, err := net.NewClientEndpoint()
	require.NoError(t, err)

	ok := client.Send([]byte("x"), netaddr.Addr{Type: netaddr.Loopback, Port: 99})
	require.False(t, ok)
}

func TestLoopbackRingOverflowDropsOldest(t *testing.T) {
	net := NewLoopbackNetwork(zerolog.Nop())
	server, err := net.NewServerEndpoint()
	require.NoError(t, err)
	client, err := net.NewClientEndpoint()
	require.NoError(t, err)

	for i := 0; i < ringSize+2; i++ {
		client.Send([]byte{byte(i)}, server.Addr())
	}

	var got []byte
	for {
		d, ok := server.Recv()
		if !ok {
			break
		}
		got = append(got, d.Data[0])
	}
	require.Len(t, got, ringSize)
	// The oldest two (0, 1) were dropped; the last ringSize remain.
	require.Equal(t, byte(2), got[0])
}
