// Package netbuf implements the fixed-capacity packet buffer every
// datagram in this module is built from: a 1024-byte array with
// independent write/read cursors and little-endian typed accessors.
package netbuf

import (
	"math"
)

// Capacity is the maximum size of a single datagram.
const Capacity = 1024

// sentinel32 is the bytewise-all-ones pattern a failed fixed-width read
// resets its destination to.
const sentinel32 = 0xFFFFFFFF
const sentinel64 = 0xFFFFFFFFFFFFFFFF

// Buffer is a fixed-capacity byte buffer with a typed read/write cursor.
// Invariant: 0 <= read <= write <= Capacity. It is created empty or from
// a borrowed slice (copied on construction), and is moveable but not
// meant to be shared across goroutines without external synchronization.
type Buffer struct {
	data  [Capacity]byte
	write int
	read  int
}

// New returns an empty buffer ready for writing.
func New() *Buffer {
	return &Buffer{}
}

// FromBytes copies b into a new buffer positioned for reading. It fails
// if b is larger than Capacity.
func FromBytes(b []byte) (*Buffer, bool) {
	if len(b) > Capacity {
		return nil, false
	}
	buf := &Buffer{}
	n := copy(buf.data[:], b)
	buf.write = n
	return buf, true
}

// Data returns the written prefix [0, write).
func (b *Buffer) Data() []byte {
	return b.data[:b.write]
}

// BeginWrite resets the write cursor to the start of the buffer.
func (b *Buffer) BeginWrite() {
	b.write = 0
}

// BeginRead resets the read cursor to the start of the buffer.
func (b *Buffer) BeginRead() {
	b.read = 0
}

// Len returns the number of written bytes.
func (b *Buffer) Len() int {
	return b.write
}

// Remaining returns the number of unread bytes.
func (b *Buffer) Remaining() int {
	return b.write - b.read
}

func (b *Buffer) canWrite(n int) bool {
	return b.write+n <= Capacity
}

// WriteBytes appends raw bytes, failing (without partial writes) if they
// would overflow Capacity.
func (b *Buffer) WriteBytes(p []byte) bool {
	if !b.canWrite(len(p)) {
		return false
	}
	copy(b.data[b.write:], p)
	b.write += len(p)
	return true
}

// ReadBytes reads exactly n bytes. On failure the returned slice is nil
// and the read cursor is unchanged.
func (b *Buffer) ReadBytes(n int) ([]byte, bool) {
	if b.read+n > b.write {
		return nil, false
	}
	out := make([]byte, n)
	copy(out, b.data[b.read:b.read+n])
	b.read += n
	return out, true
}

// WriteUint8 writes a single byte.
func (b *Buffer) WriteUint8(v uint8) bool {
	return b.WriteBytes([]byte{v})
}

// ReadUint8 reads a single byte. On failure returns (0xFF, false).
func (b *Buffer) ReadUint8() (uint8, bool) {
	p, ok := b.ReadBytes(1)
	if !ok {
		return 0xFF, false
	}
	return p[0], true
}

// WriteUint16 writes v little-endian.
func (b *Buffer) WriteUint16(v uint16) bool {
	return b.WriteBytes([]byte{byte(v), byte(v >> 8)})
}

// ReadUint16 reads a little-endian uint16. On failure returns (0xFFFF, false).
func (b *Buffer) ReadUint16() (uint16, bool) {
	p, ok := b.ReadBytes(2)
	if !ok {
		return 0xFFFF, false
	}
	return uint16(p[0]) | uint16(p[1])<<8, true
}

// WriteUint32 writes v little-endian.
func (b *Buffer) WriteUint32(v uint32) bool {
	return b.WriteBytes([]byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)})
}

// ReadUint32 reads a little-endian uint32. On failure returns (all-ones, false).
func (b *Buffer) ReadUint32() (uint32, bool) {
	p, ok := b.ReadBytes(4)
	if !ok {
		return sentinel32, false
	}
	return uint32(p[0]) | uint32(p[1])<<8 | uint32(p[2])<<16 | uint32(p[3])<<24, true
}

// WriteUint64 writes v little-endian.
func (b *Buffer) WriteUint64(v uint64) bool {
	buf := make([]byte, 8)
	for i := 0; i < 8; i++ {
		buf[i] = byte(v >> (8 * i))
	}
	return b.WriteBytes(buf)
}

// ReadUint64 reads a little-endian uint64. On failure returns (all-ones, false).
func (b *Buffer) ReadUint64() (uint64, bool) {
	p, ok := b.ReadBytes(8)
	if !ok {
		return sentinel64, false
	}
	var v uint64
	for i := 0; i < 8; i++ {
		v |= uint64(p[i]) << (8 * i)
	}
	return v, true
}

// WriteInt32 writes v little-endian.
func (b *Buffer) WriteInt32(v int32) bool {
	return b.WriteUint32(uint32(v))
}

// ReadInt32 reads a little-endian int32. On failure returns (-1, false).
func (b *Buffer) ReadInt32() (int32, bool) {
	v, ok := b.ReadUint32()
	return int32(v), ok
}

// WriteFloat32 writes v little-endian.
func (b *Buffer) WriteFloat32(v float32) bool {
	return b.WriteUint32(math.Float32bits(v))
}

// ReadFloat32 reads a little-endian float32. On failure returns (NaN, false).
func (b *Buffer) ReadFloat32() (float32, bool) {
	bits, ok := b.ReadUint32()
	if !ok {
		return math.Float32frombits(sentinel32), false
	}
	return math.Float32frombits(bits), true
}

// WriteBool writes v as a single byte, 0 or 1.
func (b *Buffer) WriteBool(v bool) bool {
	if v {
		return b.WriteUint8(1)
	}
	return b.WriteUint8(0)
}

// ReadBool reads a single byte and treats nonzero as true. On failure
// returns (true, false) since the sentinel byte 0xFF is nonzero.
func (b *Buffer) ReadBool() (bool, bool) {
	v, ok := b.ReadUint8()
	if !ok {
		return true, false
	}
	return v != 0, true
}

// WriteString writes each non-NUL byte of s followed by a NUL terminator.
func (b *Buffer) WriteString(s string) bool {
	start := b.write
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == 0 {
			continue
		}
		if !b.WriteUint8(c) {
			b.write = start
			return false
		}
	}
	if !b.WriteUint8(0) {
		b.write = start
		return false
	}
	return true
}

// ReadString accumulates bytes until a NUL terminator or EOF. Reading
// past the end of the written data without encountering a NUL fails and
// leaves the read cursor at its pre-call position.
func (b *Buffer) ReadString() (string, bool) {
	start := b.read
	var out []byte
	for {
		v, ok := b.ReadUint8()
		if !ok {
			b.read = start
			return "", false
		}
		if v == 0 {
			return string(out), true
		}
		out = append(out, v)
	}
}

// Vec3 is three 32-bit floats.
type Vec3 struct {
	X, Y, Z float32
}

// WriteVec3 writes x, y, z in that order.
func (b *Buffer) WriteVec3(v Vec3) bool {
	start := b.write
	if b.WriteFloat32(v.X) && b.WriteFloat32(v.Y) && b.WriteFloat32(v.Z) {
		return true
	}
	b.write = start
	return false
}

// ReadVec3 reads x, y, z in that order. On failure returns an
// all-components-NaN sentinel.
func (b *Buffer) ReadVec3() (Vec3, bool) {
	start := b.read
	x, ok := b.ReadFloat32()
	if ok {
		var y, z float32
		y, ok = b.ReadFloat32()
		if ok {
			z, ok = b.ReadFloat32()
			if ok {
				return Vec3{x, y, z}, true
			}
		}
	}
	b.read = start
	nan := math.Float32frombits(sentinel32)
	return Vec3{nan, nan, nan}, false
}

// Quat is four 32-bit floats (x, y, z, w).
type Quat struct {
	X, Y, Z, W float32
}

// IdentityQuat is the no-rotation quaternion.
var IdentityQuat = Quat{0, 0, 0, 1}

// WriteQuat writes x, y, z, w in that order.
func (b *Buffer) WriteQuat(q Quat) bool {
	start := b.write
	if b.WriteFloat32(q.X) && b.WriteFloat32(q.Y) && b.WriteFloat32(q.Z) && b.WriteFloat32(q.W) {
		return true
	}
	b.write = start
	return false
}

// ReadQuat reads x, y, z, w in that order.
func (b *Buffer) ReadQuat() (Quat, bool) {
	start := b.read
	x, ok := b.ReadFloat32()
	if ok {
		var y, z, w float32
		y, ok = b.ReadFloat32()
		if ok {
			z, ok = b.ReadFloat32()
			if ok {
				w, ok = b.ReadFloat32()
				if ok {
					return Quat{x, y, z, w}, true
				}
			}
		}
	}
	b.read = start
	nan := math.Float32frombits(sentinel32)
	return Quat{nan, nan, nan, nan}, false
}
