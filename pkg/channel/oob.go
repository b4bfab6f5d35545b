package channel

import (
	"github.com/tankgam/netcode/pkg/netaddr"
	"github.com/tankgam/netcode/pkg/netbuf"
	"github.com/tankgam/netcode/pkg/transport"
)

// SendOOB frames and sends an out-of-band payload directly over a
// transport endpoint, for replies a session needs to make before any
// Channel exists for the peer (server_challenge, server_noroom).
func SendOOB(ep transport.Endpoint, dst netaddr.Addr, payload []byte) bool {
	b := netbuf.New()
	b.WriteUint16(OOBMagic)
	b.WriteBytes(payload)
	return ep.Send(b.Data(), dst)
}

// Out-of-band command names: a NUL-terminated ASCII command followed by
// fixed little-endian arguments.
const (
	CmdClientConnect    = "client_connect"
	CmdClientChallenge  = "client_challenge"
	CmdClientDisconnect = "client_disconnect"

	CmdServerChallenge  = "server_challenge"
	CmdServerConnect    = "server_connect"
	CmdServerDisconnect = "server_disconnect"
	CmdServerNoRoom     = "server_noroom"
)

// BuildOOBClientConnect encodes "client_connect\0<client_salt>".
func BuildOOBClientConnect(clientSalt uint32) []byte {
	b := netbuf.New()
	b.WriteString(CmdClientConnect)
	b.WriteUint32(clientSalt)
	return b.Data()
}

// BuildOOBClientChallenge encodes "client_challenge\0<combined_salt>".
func BuildOOBClientChallenge(combinedSalt uint32) []byte {
	b := netbuf.New()
	b.WriteString(CmdClientChallenge)
	b.WriteUint32(combinedSalt)
	return b.Data()
}

// BuildOOBClientDisconnect encodes "client_disconnect\0<combined_salt>".
func BuildOOBClientDisconnect(combinedSalt uint32) []byte {
	b := netbuf.New()
	b.WriteString(CmdClientDisconnect)
	b.WriteUint32(combinedSalt)
	return b.Data()
}

// BuildOOBServerChallenge encodes "server_challenge\0<client_salt><server_salt>".
func BuildOOBServerChallenge(clientSalt, serverSalt uint32) []byte {
	b := netbuf.New()
	b.WriteString(CmdServerChallenge)
	b.WriteUint32(clientSalt)
	b.WriteUint32(serverSalt)
	return b.Data()
}

// BuildOOBServerConnect encodes "server_connect\0<combined_salt>".
func BuildOOBServerConnect(combinedSalt uint32) []byte {
	b := netbuf.New()
	b.WriteString(CmdServerConnect)
	b.WriteUint32(combinedSalt)
	return b.Data()
}

// BuildOOBServerDisconnect encodes "server_disconnect\0<combined_salt>".
func BuildOOBServerDisconnect(combinedSalt uint32) []byte {
	b := netbuf.New()
	b.WriteString(CmdServerDisconnect)
	b.WriteUint32(combinedSalt)
	return b.Data()
}

// BuildOOBServerNoRoom encodes "server_noroom\0".
func BuildOOBServerNoRoom() []byte {
	b := netbuf.New()
	b.WriteString(CmdServerNoRoom)
	return b.Data()
}

// ParsedOOBCommand is a decoded out-of-band command name with its raw
// argument bytes still positioned for typed reads via Args.
type ParsedOOBCommand struct {
	Name string
	Args *netbuf.Buffer
}

// ParseOOBCommand decodes the leading NUL-terminated command name from an
// out-of-band payload, leaving the returned buffer positioned to read
// whatever fixed arguments follow.
func ParseOOBCommand(payload []byte) (ParsedOOBCommand, bool) {
	buf, ok := netbuf.FromBytes(payload)
	if !ok {
		return ParsedOOBCommand{}, false
	}
	buf.BeginRead()
	name, ok := buf.ReadString()
	if !ok {
		return ParsedOOBCommand{}, false
	}
	return ParsedOOBCommand{Name: name, Args: buf}, true
}
