package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/vmihailenco/msgpack/v5/msgpcode"
)

// ErrShortBuffer reports that the buffer ends before the value it declares is
// complete. The caller accumulates more bytes and retries; nothing has been
// consumed.
var ErrShortBuffer = errors.New("wire: short buffer")

// CorruptStreamError reports bytes that cannot begin or continue a valid
// MessagePack value. Unlike ErrShortBuffer this cannot be cured by reading
// more: the stream has lost byte alignment with the remote.
type CorruptStreamError struct {
	Offset int
	Code   byte
	Reason string
}

func (e *CorruptStreamError) Error() string {
	return fmt.Sprintf("wire: corrupt stream at offset %d (code 0x%02x): %s", e.Offset, e.Code, e.Reason)
}

const (
	// maxNestingDepth bounds recursion while decoding nested containers.
	// Editor payloads nest a handful of levels; past this the stream is
	// feeding garbage that happens to look like containers.
	maxNestingDepth = 128

	// maxElementBytes caps a single declared string/binary/ext length.
	// Whole-buffer reads of large files stay far under this; a bigger
	// declared length is treated as corruption rather than an allocation.
	maxElementBytes = 1 << 30

	// containerPrealloc caps the capacity hint taken from a declared
	// container length, so a corrupt huge length cannot force a giant
	// allocation before element decoding fails.
	containerPrealloc = 1024
)

// DecodeValue decodes one MessagePack value from the front of buf and
// reports how many bytes it consumed. It returns ErrShortBuffer when buf
// holds only a prefix of the value, and a *CorruptStreamError when the bytes
// are not valid MessagePack at all.
func DecodeValue(buf []byte) (Value, int, error) {
	d := sliceDecoder{buf: buf}
	v, err := d.decodeValue(0)
	if err != nil {
		return nil, 0, err
	}
	return v, d.pos, nil
}

// sliceDecoder walks a byte slice without read-ahead, so the consumed byte
// count is exact. That exactness is what lets the framer hand back an
// unconsumed remainder instead of losing a partially-arrived frame.
type sliceDecoder struct {
	buf []byte
	pos int
}

func (d *sliceDecoder) corrupt(code byte, reason string) error {
	return &CorruptStreamError{Offset: d.pos, Code: code, Reason: reason}
}

func (d *sliceDecoder) readByte() (byte, error) {
	if d.pos >= len(d.buf) {
		return 0, ErrShortBuffer
	}
	b := d.buf[d.pos]
	d.pos++
	return b, nil
}

func (d *sliceDecoder) readN(n int) ([]byte, error) {
	if n > len(d.buf)-d.pos {
		return nil, ErrShortBuffer
	}
	b := d.buf[d.pos : d.pos+n]
	d.pos += n
	return b, nil
}

// readUint reads a big-endian unsigned integer of 1, 2, 4, or 8 bytes.
func (d *sliceDecoder) readUint(width int) (uint64, error) {
	b, err := d.readN(width)
	if err != nil {
		return 0, err
	}
	switch width {
	case 1:
		return uint64(b[0]), nil
	case 2:
		return uint64(binary.BigEndian.Uint16(b)), nil
	case 4:
		return uint64(binary.BigEndian.Uint32(b)), nil
	default:
		return binary.BigEndian.Uint64(b), nil
	}
}

func (d *sliceDecoder) checkLen(code byte, n uint64) (int, error) {
	if n > maxElementBytes {
		return 0, d.corrupt(code, fmt.Sprintf("declared length %d exceeds limit", n))
	}
	return int(n), nil
}

func (d *sliceDecoder) decodeValue(depth int) (Value, error) {
	if depth > maxNestingDepth {
		return nil, d.corrupt(0, "nesting too deep")
	}
	c, err := d.readByte()
	if err != nil {
		return nil, err
	}

	switch {
	case c <= msgpcode.PosFixedNumHigh:
		return Int(c), nil
	case c >= msgpcode.NegFixedNumLow:
		return Int(int8(c)), nil
	case msgpcode.IsFixedString(c):
		return d.str(int(c & msgpcode.FixedStrMask))
	case msgpcode.IsFixedArray(c):
		return d.array(int(c&msgpcode.FixedArrayMask), depth)
	case msgpcode.IsFixedMap(c):
		return d.mapping(int(c&msgpcode.FixedMapMask), depth)
	}

	switch c {
	case msgpcode.Nil:
		return Nil{}, nil
	case msgpcode.False:
		return Bool(false), nil
	case msgpcode.True:
		return Bool(true), nil

	case msgpcode.Uint8, msgpcode.Uint16, msgpcode.Uint32, msgpcode.Uint64:
		u, err := d.readUint(1 << (c - msgpcode.Uint8))
		if err != nil {
			return nil, err
		}
		return Int(int64(u)), nil
	case msgpcode.Int8, msgpcode.Int16, msgpcode.Int32, msgpcode.Int64:
		width := 1 << (c - msgpcode.Int8)
		u, err := d.readUint(width)
		if err != nil {
			return nil, err
		}
		// Sign-extend from the encoded width.
		shift := 64 - uint(width)*8
		return Int(int64(u) << shift >> shift), nil

	case msgpcode.Float:
		u, err := d.readUint(4)
		if err != nil {
			return nil, err
		}
		return Float(math.Float32frombits(uint32(u))), nil
	case msgpcode.Double:
		u, err := d.readUint(8)
		if err != nil {
			return nil, err
		}
		return Float(math.Float64frombits(u)), nil

	case msgpcode.Str8, msgpcode.Str16, msgpcode.Str32:
		n, err := d.lengthFor(c, msgpcode.Str8)
		if err != nil {
			return nil, err
		}
		return d.str(n)
	case msgpcode.Bin8, msgpcode.Bin16, msgpcode.Bin32:
		n, err := d.lengthFor(c, msgpcode.Bin8)
		if err != nil {
			return nil, err
		}
		b, err := d.readN(n)
		if err != nil {
			return nil, err
		}
		return Bin(append([]byte(nil), b...)), nil

	case msgpcode.Array16, msgpcode.Array32:
		n, err := d.lengthFor16(c, msgpcode.Array16)
		if err != nil {
			return nil, err
		}
		return d.array(n, depth)
	case msgpcode.Map16, msgpcode.Map32:
		n, err := d.lengthFor16(c, msgpcode.Map16)
		if err != nil {
			return nil, err
		}
		return d.mapping(n, depth)

	case msgpcode.FixExt1, msgpcode.FixExt2, msgpcode.FixExt4, msgpcode.FixExt8, msgpcode.FixExt16:
		return d.ext(1 << (c - msgpcode.FixExt1))
	case msgpcode.Ext8, msgpcode.Ext16, msgpcode.Ext32:
		n, err := d.lengthFor(c, msgpcode.Ext8)
		if err != nil {
			return nil, err
		}
		return d.ext(n)
	}

	// Only 0xc1 remains unassigned in the format; everything else was
	// handled above.
	return nil, d.corrupt(c, "reserved code")
}

// lengthFor reads the length field of a str/bin/ext code whose width doubles
// starting at 1 byte (8-bit, 16-bit, 32-bit variants).
func (d *sliceDecoder) lengthFor(code, base byte) (int, error) {
	u, err := d.readUint(1 << (code - base))
	if err != nil {
		return 0, err
	}
	return d.checkLen(code, u)
}

// lengthFor16 reads the length field of an array/map code whose width doubles
// starting at 2 bytes (16-bit and 32-bit variants).
func (d *sliceDecoder) lengthFor16(code, base byte) (int, error) {
	u, err := d.readUint(2 << (code - base))
	if err != nil {
		return 0, err
	}
	return d.checkLen(code, u)
}

func (d *sliceDecoder) str(n int) (Value, error) {
	b, err := d.readN(n)
	if err != nil {
		return nil, err
	}
	return Str(b), nil
}

func (d *sliceDecoder) array(n, depth int) (Value, error) {
	out := make(Array, 0, min(n, containerPrealloc))
	for i := 0; i < n; i++ {
		el, err := d.decodeValue(depth + 1)
		if err != nil {
			return nil, err
		}
		out = append(out, el)
	}
	return out, nil
}

func (d *sliceDecoder) mapping(n, depth int) (Value, error) {
	out := make(Map, 0, min(n, containerPrealloc))
	for i := 0; i < n; i++ {
		k, err := d.decodeValue(depth + 1)
		if err != nil {
			return nil, err
		}
		v, err := d.decodeValue(depth + 1)
		if err != nil {
			return nil, err
		}
		out = append(out, MapEntry{Key: k, Val: v})
	}
	return out, nil
}

func (d *sliceDecoder) ext(n int) (Value, error) {
	tag, err := d.readByte()
	if err != nil {
		return nil, err
	}
	b, err := d.readN(n)
	if err != nil {
		return nil, err
	}
	return Ext{Tag: int8(tag), Data: append([]byte(nil), b...)}, nil
}
