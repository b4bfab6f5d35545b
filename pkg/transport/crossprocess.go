package transport

import (
	"encoding/binary"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"

	"github.com/tankgam/netcode/internal/netmetrics"
	"github.com/tankgam/netcode/pkg/netaddr"
)

// ServerUDPPort is the well-known real UDP port the server backend
// binds, representing logical netaddr.Addr{Loopback, 0}.
const ServerUDPPort = 7777

// portTableSlots is the shared table's slot count.
const portTableSlots = 64

// occupiedBit marks a slot in use; the low 16 bits hold the real OS UDP
// port a client endpoint is bound to.
const occupiedBit = uint32(1) << 31

// PortTable is the shared, file-locked table of dynamically allocated
// client ports. Acquisition, read/write, and release form a single
// critical section guarded by an advisory whole-file lock.
type PortTable struct {
	path string
}

// defaultPortTablePath places the table under the OS temp dir, recreated
// on first use; the table holds no state that needs to survive past a
// single run.
func defaultPortTablePath() string {
	return filepath.Join(os.TempDir(), "tankgam-netcode-porttable")
}

// OpenPortTable opens (creating if necessary) the shared port table at
// the given path, truncating it to exactly portTableSlots * 4 bytes.
func OpenPortTable(path string) (*PortTable, error) {
	if path == "" {
		path = defaultPortTablePath()
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open port table: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if info.Size() != portTableSlots*4 {
		if err := f.Truncate(portTableSlots * 4); err != nil {
			return nil, err
		}
	}
	return &PortTable{path: path}, nil
}

func (t *PortTable) withLock(fn func(f *os.File) error) error {
	f, err := os.OpenFile(t.path, os.O_RDWR, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX); err != nil {
		return fmt.Errorf("flock: %w", err)
	}
	defer unix.Flock(int(f.Fd()), unix.LOCK_UN)

	return fn(f)
}

func readSlots(f *os.File) ([portTableSlots]uint32, error) {
	var buf [portTableSlots * 4]byte
	var slots [portTableSlots]uint32
	if _, err := f.ReadAt(buf[:], 0); err != nil {
		return slots, err
	}
	for i := range slots {
		slots[i] = binary.LittleEndian.Uint32(buf[i*4:])
	}
	return slots, nil
}

func writeSlots(f *os.File, slots [portTableSlots]uint32) error {
	var buf [portTableSlots * 4]byte
	for i, v := range slots {
		binary.LittleEndian.PutUint32(buf[i*4:], v)
	}
	_, err := f.WriteAt(buf[:], 0)
	return err
}

// Allocate reserves the lowest free slot and records realPort in it.
// Slot 0 is never allocated — it's reserved so that a logical port
// number always distinguishes "the server" (port 0) from any client.
func (t *PortTable) Allocate(realPort uint16) (slot uint16, err error) {
	err = t.withLock(func(f *os.File) error {
		slots, err := readSlots(f)
		if err != nil {
			return err
		}
		for i := 1; i < portTableSlots; i++ {
			if slots[i]&occupiedBit == 0 {
				slots[i] = occupiedBit | uint32(realPort)
				slot = uint16(i)
				return writeSlots(f, slots)
			}
		}
		return fmt.Errorf("port table full")
	})
	return slot, err
}

// Release frees a previously allocated slot.
func (t *PortTable) Release(slot uint16) error {
	return t.withLock(func(f *os.File) error {
		slots, err := readSlots(f)
		if err != nil {
			return err
		}
		if int(slot) < portTableSlots {
			slots[slot] = 0
		}
		return writeSlots(f, slots)
	})
}

// Resolve returns the real OS UDP port registered for a logical slot.
func (t *PortTable) Resolve(slot uint16) (realPort uint16, ok bool) {
	_ = t.withLock(func(f *os.File) error {
		slots, err := readSlots(f)
		if err != nil {
			return err
		}
		if int(slot) < portTableSlots && slots[slot]&occupiedBit != 0 {
			realPort = uint16(slots[slot])
			ok = true
		}
		return nil
	})
	return realPort, ok
}

// ResolveBySourcePort reverse-resolves a real OS UDP port back to its
// logical slot, used by the server to tag an inbound datagram's From
// address.
func (t *PortTable) ResolveBySourcePort(realPort uint16) (slot uint16, ok bool) {
	_ = t.withLock(func(f *os.File) error {
		slots, err := readSlots(f)
		if err != nil {
			return err
		}
		for i := 1; i < portTableSlots; i++ {
			if slots[i]&occupiedBit != 0 && uint16(slots[i]) == realPort {
				slot = uint16(i)
				ok = true
				return nil
			}
		}
		return nil
	})
	return slot, ok
}

// CrossProcessNetwork is the multi-process backend: the server binds
// ServerUDPPort, each client process binds a dynamically allocated OS
// port and registers it in the shared PortTable to obtain its logical
// slot. Recv polls the OS socket inline with a zero-duration read
// deadline, matching the single-threaded, no-background-thread model
// the loopback backend also follows.
type CrossProcessNetwork struct {
	table *PortTable
	log   zerolog.Logger
}

// NewCrossProcessNetwork opens the shared port table (creating it on
// first use) and returns a backend bound to it.
func NewCrossProcessNetwork(tablePath string, log zerolog.Logger) (*CrossProcessNetwork, error) {
	table, err := OpenPortTable(tablePath)
	if err != nil {
		return nil, err
	}
	return &CrossProcessNetwork{table: table, log: log.With().Str("transport", "crossprocess").Logger()}, nil
}

type crossProcessEndpoint struct {
	net  *CrossProcessNetwork
	role Role
	addr netaddr.Addr
	slot uint16
	conn *net.UDPConn
	buf  []byte
}

func (n *CrossProcessNetwork) NewServerEndpoint() (Endpoint, error) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: ServerUDPPort})
	if err != nil {
		return nil, fmt.Errorf("bind server endpoint: %w", err)
	}
	ep := &crossProcessEndpoint{
		net:  n,
		role: RoleServer,
		addr: netaddr.Addr{Type: netaddr.Loopback, Port: 0},
		conn: conn,
		buf:  make([]byte, 2048),
	}
	return ep, nil
}

func (n *CrossProcessNetwork) NewClientEndpoint() (Endpoint, error) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	if err != nil {
		return nil, fmt.Errorf("bind client endpoint: %w", err)
	}
	realPort := uint16(conn.LocalAddr().(*net.UDPAddr).Port)

	slot, err := n.table.Allocate(realPort)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("allocate port slot: %w", err)
	}

	ep := &crossProcessEndpoint{
		net:  n,
		role: RoleClient,
		addr: netaddr.Addr{Type: netaddr.Loopback, Port: slot},
		slot: slot,
		conn: conn,
		buf:  make([]byte, 2048),
	}
	return ep, nil
}

func (e *crossProcessEndpoint) Role() Role         { return e.role }
func (e *crossProcessEndpoint) Addr() netaddr.Addr { return e.addr }

func (e *crossProcessEndpoint) Send(data []byte, dst netaddr.Addr) bool {
	var realPort int
	if dst.Port == 0 {
		realPort = ServerUDPPort
	} else {
		p, ok := e.net.table.Resolve(dst.Port)
		if !ok {
			netmetrics.DroppedSendNoPeer.Inc()
			return false
		}
		realPort = int(p)
	}
	_, err := e.conn.WriteToUDP(data, &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: realPort})
	if err != nil {
		netmetrics.DroppedSendNoPeer.Inc()
		return false
	}
	netmetrics.DatagramsSent.Inc()
	return true
}

// Recv polls the OS socket for one pending datagram without blocking: a
// zero-duration read deadline makes ReadFromUDP return immediately with
// a timeout error when nothing is waiting, mirroring
// original_source/src/linux/sys/NetLoopback.cpp's inline poll(..., 1)
// call rather than a background reader goroutine.
func (e *crossProcessEndpoint) Recv() (Datagram, bool) {
	if err := e.conn.SetReadDeadline(time.Now()); err != nil {
		return Datagram{}, false
	}
	n, from, err := e.conn.ReadFromUDP(e.buf)
	if err != nil {
		return Datagram{}, false
	}
	data := make([]byte, n)
	copy(data, e.buf[:n])

	fromAddr := netaddr.Addr{Type: netaddr.Loopback}
	if e.role == RoleServer {
		if slot, ok := e.net.table.ResolveBySourcePort(uint16(from.Port)); ok {
			fromAddr.Port = slot
		}
	}
	netmetrics.DatagramsReceived.Inc()
	return Datagram{Data: data, From: fromAddr}, true
}

func (e *crossProcessEndpoint) Close() {
	e.conn.Close()
	if e.role == RoleClient {
		_ = e.net.table.Release(e.slot)
	}
}
