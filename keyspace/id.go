package keyspace

import (
	"crypto/rand"
	"strings"
	"time"

	"github.com/google/uuid"
)

// IDGenerator produces new record ids. The encoded form must be
// totally ordered and tuple-packable (spec §3 "Record").
type IDGenerator interface {
	NewID() Tuple
}

const crockfordAlphabet = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"

// TimeSortableID is the default id generator: a 26-character
// lexicographically time-sortable identifier built from a 48-bit
// millisecond timestamp and 80 bits of randomness, Crockford
// base-32 encoded (spec §9).
type TimeSortableID struct {
	// Now is overridable for deterministic tests; defaults to time.Now.
	Now func() time.Time
}

func (g TimeSortableID) NewID() Tuple {
	now := time.Now
	if g.Now != nil {
		now = g.Now
	}
	ms := uint64(now().UnixMilli())

	var rnd [10]byte
	_, _ = rand.Read(rnd[:])

	var buf [16]byte // 48 bits ts + 80 bits random = 128 bits = 16 bytes
	buf[0] = byte(ms >> 40)
	buf[1] = byte(ms >> 32)
	buf[2] = byte(ms >> 24)
	buf[3] = byte(ms >> 16)
	buf[4] = byte(ms >> 8)
	buf[5] = byte(ms)
	copy(buf[6:], rnd[:])

	return Tuple{encodeCrockford(buf)}
}

// encodeCrockford base32-encodes 128 bits (16 bytes) into a
// 26-character string, most significant bits first; the last character
// carries the final 3 bits followed by 2 zero padding bits. The accumulator
// never holds more than 12 bits (a byte plus the previous leftover),
// so it fits comfortably in a uint16.
func encodeCrockford(b [16]byte) string {
	var sb strings.Builder
	sb.Grow(26)
	var acc uint16
	var bitCount uint
	for _, byt := range b {
		acc = (acc << 8) | uint16(byt)
		bitCount += 8
		for bitCount >= 5 {
			bitCount -= 5
			sb.WriteByte(crockfordAlphabet[(acc>>bitCount)&0x1f])
		}
	}
	if bitCount > 0 {
		sb.WriteByte(crockfordAlphabet[(acc<<(5-bitCount))&0x1f])
	}
	return sb.String()
}

// UUIDGenerator is an alternative id generator producing tuple-packed
// UUIDs (spec §3 "alternatives include... UUIDs"), grounded on
// google/uuid, carried in from the retrieval pack's cuemby-warren repo.
type UUIDGenerator struct{}

func (UUIDGenerator) NewID() Tuple {
	id := uuid.New()
	b := id[:]
	return Tuple{append([]byte{}, b...)}
}

// Int64Generator is a caller-driven alternative (spec: "64-bit
// integers"); NewID panics if Next is nil, since there is no sane
// application-independent default sequence.
type Int64Generator struct {
	Next func() int64
}

func (g Int64Generator) NewID() Tuple {
	return Tuple{g.Next()}
}
