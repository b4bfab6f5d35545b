// Package transport implements the connectionless datagram layer: a
// pluggable send/receive port addressed by (kind, port), with two
// interchangeable backends — an in-process loopback for tests and a
// cross-process backend for real multi-process runs.
package transport

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/tankgam/netcode/internal/netmetrics"
	"github.com/tankgam/netcode/pkg/netaddr"
)

// Role distinguishes which side of the connection an endpoint plays.
type Role uint8

const (
	RoleClient Role = iota
	RoleServer
)

func (r Role) String() string {
	if r == RoleServer {
		return "server"
	}
	return "client"
}

// Datagram is one received packet plus the address it arrived from.
type Datagram struct {
	Data []byte
	From netaddr.Addr
}

// Endpoint is the send/receive port a Channel is built on top of.
// Send is non-blocking and best-effort: a missing peer is reported as a
// non-fatal failure and the datagram is dropped. Recv is non-blocking
// and dequeues at most one pending datagram.
type Endpoint interface {
	Role() Role
	Addr() netaddr.Addr
	Send(data []byte, dst netaddr.Addr) bool
	Recv() (Datagram, bool)
	Close()
}

// ringSize is the in-process loopback backend's per-endpoint inbox
// depth; overflow drops the oldest unread datagram.
const ringSize = 4

// LoopbackNetwork is the in-process backend: every endpoint's inbox is a
// fixed ring buffer of depth ringSize, and Send looks up the destination
// endpoint directly in memory.
type LoopbackNetwork struct {
	mu        sync.Mutex
	endpoints map[uint16]*loopbackEndpoint
	nextPort  uint16
	log       zerolog.Logger
}

// NewLoopbackNetwork creates an empty in-process network.
func NewLoopbackNetwork(log zerolog.Logger) *LoopbackNetwork {
	return &LoopbackNetwork{
		endpoints: make(map[uint16]*loopbackEndpoint),
		nextPort:  1,
		log:       log.With().Str("transport", "loopback").Logger(),
	}
}

// NewServerEndpoint binds the well-known server address, port 0.
func (n *LoopbackNetwork) NewServerEndpoint() (Endpoint, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	ep := &loopbackEndpoint{
		net:  n,
		role: RoleServer,
		addr: netaddr.Addr{Type: netaddr.Loopback, Port: 0},
	}
	n.endpoints[0] = ep
	return ep, nil
}

// NewClientEndpoint allocates the next free non-zero port for a new
// client.
func (n *LoopbackNetwork) NewClientEndpoint() (Endpoint, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	port := n.nextPort
	n.nextPort++
	ep := &loopbackEndpoint{
		net:  n,
		role: RoleClient,
		addr: netaddr.Addr{Type: netaddr.Loopback, Port: port},
	}
	n.endpoints[port] = ep
	return ep, nil
}

func (n *LoopbackNetwork) remove(port uint16) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.endpoints, port)
}

func (n *LoopbackNetwork) lookup(port uint16) *loopbackEndpoint {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.endpoints[port]
}

type loopbackEndpoint struct {
	net  *LoopbackNetwork
	role Role
	addr netaddr.Addr

	mu    sync.Mutex
	inbox []Datagram
}

func (e *loopbackEndpoint) Role() Role          { return e.role }
func (e *loopbackEndpoint) Addr() netaddr.Addr  { return e.addr }
func (e *loopbackEndpoint) Close()              { e.net.remove(e.addr.Port) }

func (e *loopbackEndpoint) Send(data []byte, dst netaddr.Addr) bool {
	if dst.Type != netaddr.Loopback {
		return false
	}
	peer := e.net.lookup(dst.Port)
	if peer == nil {
		netmetrics.DroppedSendNoPeer.Inc()
		e.net.log.Debug().Uint16("dst_port", dst.Port).Msg("send: no listener")
		return false
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	peer.enqueue(Datagram{Data: cp, From: e.addr})
	netmetrics.DatagramsSent.Inc()
	return true
}

func (e *loopbackEndpoint) enqueue(d Datagram) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.inbox) >= ringSize {
		// Overflow drops the oldest unread.
		e.inbox = e.inbox[1:]
		netmetrics.DroppedRingOverflow.Inc()
	}
	e.inbox = append(e.inbox, d)
}

func (e *loopbackEndpoint) Recv() (Datagram, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.inbox) == 0 {
		return Datagram{}, false
	}
	d := e.inbox[0]
	e.inbox = e.inbox[1:]
	netmetrics.DatagramsReceived.Inc()
	return d, true
}
