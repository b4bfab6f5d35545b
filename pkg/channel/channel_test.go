package channel

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/tankgam/netcode/pkg/transport"
)

const testSalt = 0xDEADBEEF

func newPair(t *testing.T) (*Channel, *Channel) {
	t.Helper()
	net := transport.NewLoopbackNetwork(zerolog.Nop())
	serverEP, err := net.NewServerEndpoint()
	require.NoError(t, err)
	clientEP, err := net.NewClientEndpoint()
	require.NoError(t, err)

	server := New(serverEP, clientEP.Addr())
	client := New(clientEP, serverEP.Addr())
	server.SetExpectedSalt(testSalt)
	client.SetExpectedSalt(testSalt)
	return client, server
}

// deliver pumps exactly one pending datagram from ep's inbox (the
// receiving side's endpoint) into dst.Receive, returning dst's parsed
// result.
func deliver(t *testing.T, ep transport.Endpoint, dst *Channel) (bool, []byte, MsgType, []byte, [][]byte, bool) {
	t.Helper()
	d, ok := ep.Recv()
	require.True(t, ok, "expected a pending datagram")
	return dst.Receive(d.Data)
}

func TestUnreliableRoundTrip(t *testing.T) {
	client, server := newPair(t)
	serverEP := server.endpoint

	require.True(t, client.SendUnreliable(testSalt, EntitySynchronize, []byte("snapshot")))

	_, _, msgType, mainPayload, reliables, ok := deliver(t, serverEP, server)
	require.True(t, ok)
	require.Equal(t, EntitySynchronize, msgType)
	require.Equal(t, "snapshot", string(mainPayload))
	require.Empty(t, reliables)
}

func TestReliableDeliveredAndAcked(t *testing.T) {
	client, server := newPair(t)
	serverEP := server.endpoint
	clientEP := client.endpoint

	client.AddReliable(CreateEntity, []byte("entity-1"))
	require.True(t, client.TrySendReliable(testSalt))

	_, _, msgType, mainPayload, reliables, ok := deliver(t, serverEP, server)
	require.True(t, ok)
	require.Equal(t, SendReliables, msgType)
	require.Empty(t, mainPayload)
	require.Len(t, reliables, 1)
	gotType, gotPayload, splitOK := SplitReliable(reliables[0])
	require.True(t, splitOK)
	require.Equal(t, CreateEntity, gotType)
	require.Equal(t, "entity-1", string(gotPayload))

	// The server's next outgoing packet carries the ack; once the client
	// processes it, the reliable should be marked acked and stop being a
	// retransmit candidate.
	require.True(t, server.SendUnreliable(testSalt, EntitySynchronize, nil))
	_, _, _, _, _, ok = deliver(t, clientEP, client)
	require.True(t, ok)

	require.False(t, client.hasUnackedReliable())
	require.False(t, client.TrySendReliable(testSalt))
}

func TestReliableRetransmitsUntilAcked(t *testing.T) {
	client, _ := newPair(t)

	client.AddReliable(CreateEntity, []byte("entity-1"))
	require.True(t, client.hasUnackedReliable())

	// No unrelated send happened this tick, so the carrier should fire
	// again on every subsequent tick as long as it stays unacked.
	for i := 0; i < 3; i++ {
		require.True(t, client.TrySendReliable(testSalt))
	}
}

func TestSendUnreliableSuppressesSameTickRetransmit(t *testing.T) {
	client, _ := newPair(t)

	client.AddReliable(CreateEntity, []byte("entity-1"))
	require.True(t, client.SendUnreliable(testSalt, EntitySynchronize, nil))
	// A framed packet (carrying the piggybacked reliable) already went
	// out this tick, so TrySendReliable must not send a second one.
	require.False(t, client.TrySendReliable(testSalt))
}

func TestDuplicateReliableDropped(t *testing.T) {
	client, server := newPair(t)
	serverEP := server.endpoint

	client.AddReliable(CreateEntity, []byte("entity-1"))
	require.True(t, client.TrySendReliable(testSalt))
	_, _, _, _, reliables, ok := deliver(t, serverEP, server)
	require.True(t, ok)
	require.Len(t, reliables, 1)

	// Same datagram's reliable still present in the ring and gets resent
	// (peer hasn't acked yet); the server must not deliver it twice to
	// the application when it arrives with the same sequence again.
	client.outRing[client.outReliableSeq%ringSize].acked = false
	require.True(t, client.TrySendReliable(testSalt))
	_, _, _, _, reliables2, ok := deliver(t, serverEP, server)
	require.True(t, ok)
	require.Empty(t, reliables2)
}

func TestOutOfOrderUnreliableDropped(t *testing.T) {
	client, server := newPair(t)
	serverEP := server.endpoint

	require.True(t, client.SendUnreliable(testSalt, EntitySynchronize, []byte{1}))
	require.True(t, client.SendUnreliable(testSalt, EntitySynchronize, []byte{2}))

	d1, _ := serverEP.Recv()
	d2, _ := serverEP.Recv()

	// Deliver newer packet first, then the older one out of order.
	_, _, _, _, _, ok := server.Receive(d2.Data)
	require.True(t, ok)
	_, _, _, _, _, ok = server.Receive(d1.Data)
	require.False(t, ok)
}

func TestSaltMismatchDropped(t *testing.T) {
	client, server := newPair(t)
	serverEP := server.endpoint

	client.SetExpectedSalt(testSalt) // client sends with its own salt field value
	require.True(t, client.SendUnreliable(0xBADBAD, EntitySynchronize, nil))
	d, ok := serverEP.Recv()
	require.True(t, ok)
	_, _, _, _, _, ok = server.Receive(d.Data)
	require.False(t, ok)
}

func TestUnknownMsgTypeDropped(t *testing.T) {
	client, server := newPair(t)
	serverEP := server.endpoint

	// A correctly-salted framed datagram whose top-level type byte is 0
	// (Unknown) must be dropped outright, not merely ignored by the
	// caller's dispatch: sequence/ack state must not advance and any
	// piggybacked reliables must not be delivered.
	client.AddReliable(CreateEntity, []byte("entity-1"))
	require.True(t, client.SendUnreliable(testSalt, Unknown, nil))

	d, ok := serverEP.Recv()
	require.True(t, ok)
	isOOB, _, msgType, payload, reliables, ok := server.Receive(d.Data)
	require.False(t, ok)
	require.False(t, isOOB)
	require.Equal(t, Unknown, msgType)
	require.Nil(t, payload)
	require.Empty(t, reliables)
	require.Zero(t, server.inSeq, "dropped datagram must not advance S_in")
	require.Zero(t, server.inReliableAck, "piggybacked reliable in a dropped datagram must not be considered delivered")
}

func TestOOBPassthrough(t *testing.T) {
	client, server := newPair(t)
	serverEP := server.endpoint

	require.True(t, client.OutOfBand(client.PeerAddr(), []byte("client_connect 1234")))
	d, ok := serverEP.Recv()
	require.True(t, ok)

	isOOB, payload, _, _, _, ok := server.Receive(d.Data)
	require.True(t, ok)
	require.True(t, isOOB)
	require.Equal(t, "client_connect 1234", string(payload))
}

// TestReliableDeliveryUnderLossAndReorder is spec.md §8 item 3 and
// Scenario C: client queues several reliables while a deterministic
// relay drops every second client->server datagram (p=0.5) and
// reshuffles datagrams within windows of up to 8 before delivering them.
// Every reliable must still arrive exactly once, in ascending sequence
// order, within 60 frames, with the full outgoing ring acked afterward.
func TestReliableDeliveryUnderLossAndReorder(t *testing.T) {
	client, server := newPair(t)
	clientEP := client.endpoint
	serverEP := server.endpoint

	const nReliables = 6
	for i := 0; i < nReliables; i++ {
		client.AddReliable(CreateEntity, []byte(fmt.Sprintf("entity-%d", i)))
	}

	rng := rand.New(rand.NewSource(1))
	var window []transport.Datagram
	var delivered [][]byte
	dropThisOne := false

	flushWindow := func() {
		rng.Shuffle(len(window), func(i, j int) { window[i], window[j] = window[j], window[i] })
		for _, d := range window {
			dropThisOne = !dropThisOne
			if dropThisOne {
				continue
			}
			_, _, _, _, reliables, ok := server.Receive(d.Data)
			if ok {
				delivered = append(delivered, reliables...)
			}
		}
		window = nil
	}

	for frame := 0; frame < 60 && len(delivered) < nReliables; frame++ {
		client.TrySendReliable(testSalt)
		if d, ok := serverEP.Recv(); ok {
			window = append(window, d)
		}
		if len(window) >= 8 {
			flushWindow()
		}

		// A steady stream of unreliable server traffic (as the session
		// layer's periodic entity snapshot would produce) carries the ack
		// fields back every frame, same as any other framed datagram.
		server.SendUnreliable(testSalt, EntitySynchronize, nil)
		if d, ok := clientEP.Recv(); ok {
			client.Receive(d.Data)
		}
	}
	if len(window) > 0 {
		flushWindow()
	}

	require.Len(t, delivered, nReliables, "every queued reliable must eventually be delivered exactly once")
	for i, raw := range delivered {
		require.Equal(t, fmt.Sprintf("entity-%d", i), string(raw), "reliables must be delivered in ascending sequence order")
	}

	for seq := uint32(1); seq <= nReliables; seq++ {
		require.True(t, client.outRing[seq%ringSize].acked, "sequence %d should be acked on the sender's ring", seq)
	}
}

// TestDuplicateTransportStillDeliversOnce is Scenario D: a transport
// that duplicates every datagram once must still deliver each reliable
// exactly once to the receiving side's consumer.
func TestDuplicateTransportStillDeliversOnce(t *testing.T) {
	client, server := newPair(t)
	clientEP := client.endpoint
	serverEP := server.endpoint

	client.AddReliable(CreateEntity, []byte("entity-0"))
	client.AddReliable(CreateEntity, []byte("entity-1"))

	var delivered [][]byte
	for frame := 0; frame < 10 && len(delivered) < 2; frame++ {
		client.TrySendReliable(testSalt)
		if d, ok := serverEP.Recv(); ok {
			for i := 0; i < 2; i++ {
				_, _, _, _, reliables, ok := server.Receive(d.Data)
				if ok {
					delivered = append(delivered, reliables...)
				}
			}
		}

		server.SendUnreliable(testSalt, EntitySynchronize, nil)
		if d, ok := clientEP.Recv(); ok {
			for i := 0; i < 2; i++ {
				client.Receive(d.Data)
			}
		}
	}

	require.Len(t, delivered, 2, "each reliable must be delivered exactly once despite every datagram being duplicated")
	require.Equal(t, "entity-0", string(delivered[0]))
	require.Equal(t, "entity-1", string(delivered[1]))
}
