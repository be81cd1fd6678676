// Package keyspace implements the deterministic, bit-exact tuple-based
// key layout of spec §4.1: records at [root]/R/<type>/<id>, indexes at
// [root]/I/<subspace_key>/<values...>/<id>, metadata at
// [root]/_metadata/.... Grounded on common/dbutils/bucket.go's
// single-byte-segment convention (the teacher reserves one-byte
// prefixes per logical bucket "to avoid mixing data types").
package keyspace

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/graphene-db/fdbrecord/fdberr"
)

// Tuple is an ordered list of tuple-packable elements. Supported
// element types: nil, []byte, string, int64, uint64, float64, bool,
// and Tuple (nested, for composite index values produced by Nest).
type Tuple []interface{}

const (
	tagNil byte = iota
	tagBytes
	tagString
	tagInt
	tagUint
	tagFloat
	tagBool
	tagNested
)

// Pack serializes the tuple into a totally-ordered-within-type byte
// string. Across mixed types at the same position, ordering is by tag
// byte, matching the "no hidden side effects" determinism the spec
// requires of every persisted key.
func (t Tuple) Pack() []byte {
	var buf bytes.Buffer
	for _, el := range t {
		packElement(&buf, el)
	}
	return buf.Bytes()
}

func packElement(buf *bytes.Buffer, el interface{}) {
	switch v := el.(type) {
	case nil:
		buf.WriteByte(tagNil)
	case []byte:
		buf.WriteByte(tagBytes)
		writeLenPrefixed(buf, v)
	case string:
		buf.WriteByte(tagString)
		writeLenPrefixed(buf, []byte(v))
	case int:
		packElement(buf, int64(v))
	case int64:
		buf.WriteByte(tagInt)
		var b [8]byte
		// XOR the sign bit so two's-complement negative/positive values
		// remain byte-order comparable, matching FDB's tuple-layer trick
		// for signed integers.
		binary.BigEndian.PutUint64(b[:], uint64(v)^(1<<63))
		buf.Write(b[:])
	case uint64:
		buf.WriteByte(tagUint)
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], v)
		buf.Write(b[:])
	case float64:
		buf.WriteByte(tagFloat)
		bits := math.Float64bits(v)
		if v >= 0 {
			bits ^= 1 << 63
		} else {
			bits = ^bits
		}
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], bits)
		buf.Write(b[:])
	case bool:
		buf.WriteByte(tagBool)
		if v {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}
	case Tuple:
		buf.WriteByte(tagNested)
		nested := v.Pack()
		writeLenPrefixed(buf, nested)
	default:
		panic(fmt.Sprintf("keyspace: tuple element of unsupported type %T", el))
	}
}

func writeLenPrefixed(buf *bytes.Buffer, b []byte) {
	var lb [4]byte
	binary.BigEndian.PutUint32(lb[:], uint32(len(b)))
	buf.Write(lb[:])
	buf.Write(b)
}

// Unpack deserializes a byte string produced by Pack back into a Tuple.
func Unpack(data []byte) (Tuple, error) {
	var out Tuple
	r := bytes.NewReader(data)
	for r.Len() > 0 {
		tag, err := r.ReadByte()
		if err != nil {
			return nil, fdberr.Wrap(fdberr.Internal, "", "truncated tuple", err)
		}
		switch tag {
		case tagNil:
			out = append(out, nil)
		case tagBytes:
			b, err := readLenPrefixed(r)
			if err != nil {
				return nil, err
			}
			out = append(out, b)
		case tagString:
			b, err := readLenPrefixed(r)
			if err != nil {
				return nil, err
			}
			out = append(out, string(b))
		case tagInt:
			var b [8]byte
			if _, err := r.Read(b[:]); err != nil {
				return nil, fdberr.Wrap(fdberr.Internal, "", "truncated int", err)
			}
			u := binary.BigEndian.Uint64(b[:]) ^ (1 << 63)
			out = append(out, int64(u))
		case tagUint:
			var b [8]byte
			if _, err := r.Read(b[:]); err != nil {
				return nil, fdberr.Wrap(fdberr.Internal, "", "truncated uint", err)
			}
			out = append(out, binary.BigEndian.Uint64(b[:]))
		case tagFloat:
			var b [8]byte
			if _, err := r.Read(b[:]); err != nil {
				return nil, fdberr.Wrap(fdberr.Internal, "", "truncated float", err)
			}
			bits := binary.BigEndian.Uint64(b[:])
			if bits&(1<<63) != 0 {
				bits ^= 1 << 63
			} else {
				bits = ^bits
			}
			out = append(out, math.Float64frombits(bits))
		case tagBool:
			bb, err := r.ReadByte()
			if err != nil {
				return nil, fdberr.Wrap(fdberr.Internal, "", "truncated bool", err)
			}
			out = append(out, bb != 0)
		case tagNested:
			b, err := readLenPrefixed(r)
			if err != nil {
				return nil, err
			}
			nested, err := Unpack(b)
			if err != nil {
				return nil, err
			}
			out = append(out, nested)
		default:
			return nil, fdberr.New(fdberr.Internal, "", fmt.Sprintf("unknown tuple tag %d", tag))
		}
	}
	return out, nil
}

func readLenPrefixed(r *bytes.Reader) ([]byte, error) {
	var lb [4]byte
	if _, err := r.Read(lb[:]); err != nil {
		return nil, fdberr.Wrap(fdberr.Internal, "", "truncated length prefix", err)
	}
	n := binary.BigEndian.Uint32(lb[:])
	b := make([]byte, n)
	if _, err := r.Read(b); err != nil {
		return nil, fdberr.Wrap(fdberr.Internal, "", "truncated tuple element", err)
	}
	return b, nil
}

// StrInc returns the smallest byte string greater than every string
// prefixed by b, used for building the exclusive end of a prefix
// range scan.
func StrInc(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	for i := len(out) - 1; i >= 0; i-- {
		if out[i] < 0xff {
			out[i]++
			return out[:i+1]
		}
	}
	// All 0xff: no finite successor exists under this prefix; the
	// caller should treat this as "no upper bound".
	return append(out, 0xff)
}
